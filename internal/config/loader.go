package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "GANDALF"
)

// Load reads the configuration. Priority order (highest to lowest):
// 1. Environment variables (prefixed with GANDALF_)
// 2. The config file at path, or config.yaml in the search paths
// 3. Default values
//
// An explicit path that does not exist is an error; a missing config.yaml
// in the search paths is not.
func Load(path string) (*Configuration, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper
	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	// Add config search paths
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/gandalf-router")
		v.AddConfigPath("$HOME/.gandalf-router")
	}

	// Enable environment variable override
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Configuration {
	v := viper.New()
	setDefaults(v)

	var cfg Configuration
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.upstream_timeout_seconds", 60)

	// Failover defaults
	v.SetDefault("failover.cycle_after_failures", 1)
	v.SetDefault("failover.switch_after_failures", 3)
	v.SetDefault("failover.proactive_cycle_every", 10)
	v.SetDefault("failover.max_attempts", 3)
	v.SetDefault("failover.pace_requests", false)

	// Discovery defaults
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.timeout_seconds", 5)

	// Provider defaults
	v.SetDefault("use_default_providers", true)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl_seconds", 300)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")
}
