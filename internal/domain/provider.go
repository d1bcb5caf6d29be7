// Package domain contains the core business entities and value objects.
// These structs are framework-agnostic and represent the heart of the application.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Driver identifies which client constructor builds clients for a provider.
type Driver string

const (
	DriverGemini           Driver = "gemini"
	DriverOpenAI           Driver = "openai"
	DriverOpenAICompatible Driver = "openai-compatible"
	DriverAnthropic        Driver = "anthropic"
)

const (
	// DefaultCooldown is how long a provider stays unavailable after a rate limit.
	DefaultCooldown = 300 * time.Second

	// DefaultMaxRequestsPerMinute is the informational quota used when none is configured.
	DefaultMaxRequestsPerMinute = 60
)

// ProviderConfig is the static description of one LLM provider.
type ProviderConfig struct {
	// Name is the unique provider identifier (e.g. "gemini", "groq").
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Driver selects the client constructor.
	Driver Driver `json:"driver" yaml:"driver" mapstructure:"driver"`

	// BaseURL overrides the driver's default API endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// Models is the ordered cycling sequence.
	Models []string `json:"models" yaml:"models" mapstructure:"models"`

	// CredentialKey names the environment variable holding the API credential.
	CredentialKey string `json:"credential_key" yaml:"credential_key" mapstructure:"credential_key"`

	// RateLimitPatterns are case-insensitive substrings identifying a rate limit.
	RateLimitPatterns []string `json:"rate_limit_patterns" yaml:"rate_limit_patterns" mapstructure:"rate_limit_patterns"`

	// MaxRequestsPerMinute is the provider's quota.
	MaxRequestsPerMinute int `json:"max_requests_per_minute" yaml:"max_requests_per_minute" mapstructure:"max_requests_per_minute"`

	// Cooldown is how long the provider stays unavailable after a rate limit.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`

	// Priority orders providers; lower is preferred.
	Priority int `json:"priority" yaml:"priority" mapstructure:"priority"`

	// DiscoveryURL is an optional model-listing endpoint queried at startup.
	DiscoveryURL string `json:"discovery_url,omitempty" yaml:"discovery_url,omitempty" mapstructure:"discovery_url"`

	// ExcludeModelPatterns filters discovered model ids.
	ExcludeModelPatterns []string `json:"exclude_model_patterns,omitempty" yaml:"exclude_model_patterns,omitempty" mapstructure:"exclude_model_patterns"`
}

// withDefaults fills the zero fields that have a documented default.
func (p ProviderConfig) withDefaults() ProviderConfig {
	if p.Cooldown <= 0 {
		p.Cooldown = DefaultCooldown
	}
	if p.MaxRequestsPerMinute <= 0 {
		p.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}
	if len(p.RateLimitPatterns) == 0 {
		p.RateLimitPatterns = []string{strings.ToLower(p.Name), "rate limit", "quota", "429", "503"}
	}
	if p.Driver == "" {
		p.Driver = DriverOpenAICompatible
	}
	return p
}

// clone returns a deep copy so runtime state never aliases caller slices.
func (p ProviderConfig) clone() ProviderConfig {
	p.Models = append([]string(nil), p.Models...)
	p.RateLimitPatterns = append([]string(nil), p.RateLimitPatterns...)
	p.ExcludeModelPatterns = append([]string(nil), p.ExcludeModelPatterns...)
	return p
}

// Validate checks the fields that must be set regardless of defaults.
func (p ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p.CredentialKey == "" {
		return fmt.Errorf("provider %s: credential_key is required", p.Name)
	}
	if p.Priority < 0 {
		return fmt.Errorf("provider %s: priority must not be negative", p.Name)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("provider %s: cooldown must not be negative", p.Name)
	}
	switch p.Driver {
	case "", DriverGemini, DriverOpenAI, DriverOpenAICompatible, DriverAnthropic:
	default:
		return fmt.Errorf("provider %s: unknown driver %q", p.Name, p.Driver)
	}
	return nil
}

// legacyAlias describes a provider name kept for old configurations.
type legacyAlias struct {
	canonical      string
	credentialKey  string
	fallbackModels []string
}

// legacyAliases maps retired provider names onto their canonical replacement.
var legacyAliases = map[string]legacyAlias{
	"grok": {
		canonical:      "groq",
		credentialKey:  "GROQ_API_KEY",
		fallbackModels: []string{"llama3-8b-8192", "gemma2-9b-it", "llama-3.1-8b-instant"},
	},
}

// normalizeAlias rewrites a legacy provider name. The bool reports whether
// the template was an alias.
func normalizeAlias(p ProviderConfig) (ProviderConfig, bool) {
	alias, ok := legacyAliases[strings.ToLower(p.Name)]
	if !ok {
		return p, false
	}
	p.Name = alias.canonical
	p.CredentialKey = alias.credentialKey
	p.Models = append([]string(nil), alias.fallbackModels...)
	if p.Driver == "" {
		p.Driver = DriverOpenAICompatible
	}
	if p.DiscoveryURL == "" {
		p.DiscoveryURL = GroqModelsURL
	}
	if len(p.ExcludeModelPatterns) == 0 {
		p.ExcludeModelPatterns = append([]string(nil), GroqExcludedModelPatterns...)
	}
	return p, true
}

const (
	// GroqModelsURL is Groq's OpenAI-style model listing endpoint.
	GroqModelsURL = "https://api.groq.com/openai/v1/models"
)

// GroqExcludedModelPatterns drops audio, moderation and embedding models.
var GroqExcludedModelPatterns = []string{"whisper", "guard", "embedding", "rerank"}

// DefaultProviderConfigs returns the built-in provider table in configuration order.
func DefaultProviderConfigs() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:   "gemini",
			Driver: DriverGemini,
			Models: []string{
				"gemini/gemini-2.0-flash",
				"gemini/gemini-1.5-pro",
				"gemini/gemini-1.5-flash",
				"gemini/gemini-pro",
			},
			CredentialKey:        "GEMINI_API_KEY",
			RateLimitPatterns:    []string{"gemini", "google", "rate limit", "quota exceeded"},
			MaxRequestsPerMinute: 60,
			Cooldown:             DefaultCooldown,
			Priority:             1,
		},
		{
			Name:    "mistral",
			Driver:  DriverOpenAICompatible,
			BaseURL: "https://api.mistral.ai/v1",
			Models: []string{
				"mistral/mistral-large-latest",
				"mistral/mistral-medium-latest",
				"mistral/mistral-small-latest",
				"mistral/pixtral-12b-2409",
			},
			CredentialKey:        "MISTRAL_API_KEY",
			RateLimitPatterns:    []string{"mistral", "rate limit", "quota"},
			MaxRequestsPerMinute: 1000,
			Cooldown:             DefaultCooldown,
			Priority:             2,
		},
		{
			Name:    "groq",
			Driver:  DriverOpenAICompatible,
			BaseURL: "https://api.groq.com/openai/v1",
			Models: []string{
				"llama3-8b-8192",
				"llama3-70b-8192",
				"gemma-7b-it",
				"mixtral-8x7b-32768",
			},
			CredentialKey:        "GROQ_API_KEY",
			RateLimitPatterns:    []string{"groq", "xai", "rate limit", "429", "model_decommissioned"},
			MaxRequestsPerMinute: 200,
			Cooldown:             DefaultCooldown,
			Priority:             3,
			DiscoveryURL:         GroqModelsURL,
			ExcludeModelPatterns: append([]string(nil), GroqExcludedModelPatterns...),
		},
		{
			Name:    "together",
			Driver:  DriverOpenAICompatible,
			BaseURL: "https://api.together.xyz/v1",
			Models: []string{
				"together/meta-llama/Llama-3.2-11B-Vision-Instruct-Turbo",
				"together/meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
				"together/mistralai/Mixtral-8x7B-Instruct-v0.1",
				"together/Qwen/Qwen2.5-7B-Instruct-Turbo",
			},
			CredentialKey:        "TOGETHER_AI_API_KEY",
			RateLimitPatterns:    []string{"together", "rate limit", "quota"},
			MaxRequestsPerMinute: 500,
			Cooldown:             DefaultCooldown,
			Priority:             4,
		},
		{
			Name:                 "openai",
			Driver:               DriverOpenAI,
			Models:               []string{"gpt-4o-mini", "gpt-4o"},
			CredentialKey:        "OPENAI_API_KEY",
			RateLimitPatterns:    []string{"openai", "rate limit", "quota", "insufficient_quota"},
			MaxRequestsPerMinute: 500,
			Cooldown:             DefaultCooldown,
			Priority:             5,
		},
		{
			Name:                 "anthropic",
			Driver:               DriverAnthropic,
			Models:               []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"},
			CredentialKey:        "ANTHROPIC_API_KEY",
			RateLimitPatterns:    []string{"anthropic", "rate limit", "overloaded", "529"},
			MaxRequestsPerMinute: 50,
			Cooldown:             DefaultCooldown,
			Priority:             6,
		},
	}
}
