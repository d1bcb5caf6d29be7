// Package config loads the router configuration from config.yaml and
// GANDALF_* environment variables using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/hpn/gandalf-router/internal/domain"
)

// Configuration holds all application configuration values.
type Configuration struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Failover thresholds and retry budget
	Failover FailoverConfig `json:"failover" mapstructure:"failover"`

	// Discovery configuration for providers with a model listing endpoint
	Discovery DiscoveryConfig `json:"discovery" mapstructure:"discovery"`

	// UseDefaultProviders starts from the built-in provider table.
	UseDefaultProviders bool `json:"use_default_providers" mapstructure:"use_default_providers"`

	// Providers are overrides of built-in providers (matched by name) or additions.
	Providers []ProviderSettings `json:"providers" mapstructure:"providers"`

	// Cache configuration
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// File is the config file that was read, empty when only defaults and
	// environment variables were used.
	File string `json:"-" mapstructure:"-"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeoutSeconds int `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`

	// ShutdownTimeout is the maximum duration to wait for active connections to finish.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`

	// UpstreamTimeoutSeconds bounds a single provider call.
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds" mapstructure:"upstream_timeout_seconds"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FailoverConfig holds the recovery thresholds.
type FailoverConfig struct {
	CycleAfterFailures  int `json:"cycle_after_failures" mapstructure:"cycle_after_failures"`
	SwitchAfterFailures int `json:"switch_after_failures" mapstructure:"switch_after_failures"`
	ProactiveCycleEvery int `json:"proactive_cycle_every" mapstructure:"proactive_cycle_every"`

	// MaxAttempts is the number of upstream calls one request may make.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// PaceRequests throttles each provider to its max_requests_per_minute.
	PaceRequests bool `json:"pace_requests" mapstructure:"pace_requests"`
}

// Policy converts the thresholds into a domain.Policy.
func (f FailoverConfig) Policy() domain.Policy {
	return domain.Policy{
		CycleAfterFailures:  f.CycleAfterFailures,
		SwitchAfterFailures: f.SwitchAfterFailures,
		ProactiveCycleEvery: f.ProactiveCycleEvery,
	}
}

// DiscoveryConfig controls live model discovery at startup.
type DiscoveryConfig struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the discovery timeout as a duration.
func (d DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ProviderSettings is the file/env representation of a provider. Zero
// fields leave the built-in value untouched.
type ProviderSettings struct {
	Name                 string   `json:"name" mapstructure:"name"`
	Driver               string   `json:"driver" mapstructure:"driver"`
	BaseURL              string   `json:"base_url" mapstructure:"base_url"`
	Models               []string `json:"models" mapstructure:"models"`
	CredentialKey        string   `json:"credential_key" mapstructure:"credential_key"`
	RateLimitPatterns    []string `json:"rate_limit_patterns" mapstructure:"rate_limit_patterns"`
	MaxRequestsPerMinute int      `json:"max_requests_per_minute" mapstructure:"max_requests_per_minute"`
	CooldownSeconds      int      `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
	Priority             int      `json:"priority" mapstructure:"priority"`
	DiscoveryURL         string   `json:"discovery_url" mapstructure:"discovery_url"`
	ExcludeModelPatterns []string `json:"exclude_model_patterns" mapstructure:"exclude_model_patterns"`

	// Disabled removes a built-in provider.
	Disabled bool `json:"disabled" mapstructure:"disabled"`
}

func (p ProviderSettings) toProviderConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:                 strings.ToLower(strings.TrimSpace(p.Name)),
		Driver:               domain.Driver(p.Driver),
		BaseURL:              p.BaseURL,
		Models:               p.Models,
		CredentialKey:        p.CredentialKey,
		RateLimitPatterns:    p.RateLimitPatterns,
		MaxRequestsPerMinute: p.MaxRequestsPerMinute,
		Cooldown:             time.Duration(p.CooldownSeconds) * time.Second,
		Priority:             p.Priority,
		DiscoveryURL:         p.DiscoveryURL,
		ExcludeModelPatterns: p.ExcludeModelPatterns,
	}
}

// CacheConfig holds response cache configuration.
type CacheConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled"`
	TTLSeconds int  `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`

	// OutputPath is the file path for log output (empty for stderr).
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// ProviderTemplates returns the provider table handed to the manager: the
// built-in table (unless disabled) with configured providers merged on top
// by name, in configuration order.
func (c *Configuration) ProviderTemplates() ([]domain.ProviderConfig, error) {
	var templates []domain.ProviderConfig
	if c.UseDefaultProviders {
		templates = domain.DefaultProviderConfigs()
	}

	for _, settings := range c.Providers {
		override := settings.toProviderConfig()

		idx := -1
		for i := range templates {
			if templates[i].Name == override.Name {
				idx = i
				break
			}
		}

		switch {
		case settings.Disabled && idx >= 0:
			templates = append(templates[:idx], templates[idx+1:]...)
		case settings.Disabled:
		case idx >= 0:
			if err := mergo.Merge(&templates[idx], override, mergo.WithOverride); err != nil {
				return nil, &ConfigError{
					Op:  "merge",
					Err: fmt.Errorf("failed to merge provider %s: %w", override.Name, err),
				}
			}
		default:
			templates = append(templates, override)
		}
	}

	return templates, nil
}

// Validate validates the configuration and returns an error if required fields are missing.
func (c *Configuration) Validate() error {
	var validationErrors []string

	// Validate server configuration
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	// Validate failover configuration
	if c.Failover.CycleAfterFailures < 1 {
		validationErrors = append(validationErrors, "failover.cycle_after_failures must be at least 1")
	}
	if c.Failover.SwitchAfterFailures < 1 {
		validationErrors = append(validationErrors, "failover.switch_after_failures must be at least 1")
	}
	if c.Failover.ProactiveCycleEvery < 0 {
		validationErrors = append(validationErrors, "failover.proactive_cycle_every cannot be negative")
	}
	if c.Failover.MaxAttempts < 1 {
		validationErrors = append(validationErrors, "failover.max_attempts must be at least 1")
	}

	if c.Discovery.Enabled && c.Discovery.TimeoutSeconds <= 0 {
		validationErrors = append(validationErrors, "discovery.timeout_seconds must be positive")
	}

	if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
		validationErrors = append(validationErrors, "cache.ttl_seconds must be positive when the cache is enabled")
	}

	// Validate providers if specified
	seen := make(map[string]bool)
	for i, provider := range c.Providers {
		name := strings.ToLower(strings.TrimSpace(provider.Name))
		if name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].name is required", i))
			continue
		}
		if seen[name] {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].name '%s' is duplicated", i, name))
		}
		seen[name] = true

		if provider.Driver != "" && !isValidDriver(provider.Driver) {
			validationErrors = append(validationErrors, fmt.Sprintf(
				"providers[%d].driver '%s' is invalid, must be one of: gemini, openai, openai-compatible, anthropic",
				i, provider.Driver,
			))
		}
		if provider.CooldownSeconds < 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].cooldown_seconds cannot be negative", i))
		}
		if provider.Priority < 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].priority cannot be negative", i))
		}
	}

	if !c.UseDefaultProviders && len(c.Providers) == 0 {
		validationErrors = append(validationErrors, "providers cannot be empty when use_default_providers is false")
	}

	// Validate logging configuration
	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.format '%s' is invalid, must be one of: json, text",
			c.Logging.Format,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidDriver checks if the provider driver is known.
func isValidDriver(driver string) bool {
	switch domain.Driver(driver) {
	case domain.DriverGemini, domain.DriverOpenAI, domain.DriverOpenAICompatible, domain.DriverAnthropic:
		return true
	default:
		return false
	}
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// CredentialKeys returns the distinct credential variable names of the
// provider table, in order.
func CredentialKeys(templates []domain.ProviderConfig) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, t := range templates {
		if t.CredentialKey == "" || seen[t.CredentialKey] {
			continue
		}
		seen[t.CredentialKey] = true
		keys = append(keys, t.CredentialKey)
	}
	return keys
}
