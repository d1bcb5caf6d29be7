package domain

import "strings"

// Classifier decides whether an error message describes a rate limit.
type Classifier interface {
	// IsRateLimit reports whether errText signals a rate limit for the given
	// provider. A nil provider means the provider is not configured.
	IsRateLimit(errText string, provider *ProviderConfig) bool
}

var (
	// unknownProviderPatterns apply when the provider is not configured.
	unknownProviderPatterns = []string{"rate limit", "429", "quota", "503"}

	// genericRateLimitPatterns are checked after the provider's own patterns.
	genericRateLimitPatterns = []string{
		"rate limit",
		"429",
		"quota exceeded",
		"too many requests",
		"model_decommissioned",
	}
)

// PatternClassifier matches case-insensitive substrings.
type PatternClassifier struct{}

// IsRateLimit implements Classifier. An empty message counts as a rate limit.
func (PatternClassifier) IsRateLimit(errText string, provider *ProviderConfig) bool {
	if errText == "" {
		return true
	}
	lower := strings.ToLower(errText)

	if provider == nil {
		return containsAny(lower, unknownProviderPatterns)
	}
	if containsAny(lower, provider.RateLimitPatterns) {
		return true
	}
	return containsAny(lower, genericRateLimitPatterns)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
