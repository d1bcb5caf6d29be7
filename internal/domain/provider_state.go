package domain

import (
	"time"
)

// Policy holds the failure thresholds of the recovery strategy.
type Policy struct {
	// CycleAfterFailures is the consecutive-failure count at which the
	// current model is rotated.
	CycleAfterFailures int `json:"cycle_after_failures" mapstructure:"cycle_after_failures"`

	// SwitchAfterFailures is the consecutive-failure count at which the
	// provider is put into forced cooldown and a switch is attempted.
	SwitchAfterFailures int `json:"switch_after_failures" mapstructure:"switch_after_failures"`

	// ProactiveCycleEvery rotates the model every N successful requests.
	// Zero disables proactive rotation.
	ProactiveCycleEvery int `json:"proactive_cycle_every" mapstructure:"proactive_cycle_every"`
}

// DefaultPolicy returns the thresholds used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		CycleAfterFailures:  1,
		SwitchAfterFailures: 3,
		ProactiveCycleEvery: 10,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.CycleAfterFailures <= 0 {
		p.CycleAfterFailures = def.CycleAfterFailures
	}
	if p.SwitchAfterFailures <= 0 {
		p.SwitchAfterFailures = def.SwitchAfterFailures
	}
	if p.ProactiveCycleEvery < 0 {
		p.ProactiveCycleEvery = 0
	}
	return p
}

// ProviderState is the mutable runtime record of one initialized provider.
// It is not safe for concurrent use; the Manager serializes access.
type ProviderState struct {
	config ProviderConfig

	modelIndex          int
	requestCount        int
	failureCount        int
	consecutiveFailures int
	lastRequest         time.Time
	lastRateLimit       time.Time
	rateLimited         bool
}

func newProviderState(cfg ProviderConfig) *ProviderState {
	return &ProviderState{config: cfg}
}

// Config returns a copy of the provider's static configuration.
func (s *ProviderState) Config() ProviderConfig {
	return s.config.clone()
}

// CurrentModel returns the model at the current index, or "" when the
// provider has no models.
func (s *ProviderState) CurrentModel() string {
	if len(s.config.Models) == 0 {
		return ""
	}
	return s.config.Models[s.modelIndex%len(s.config.Models)]
}

// cycleModel advances to the next model. It reports whether the model changed.
func (s *ProviderState) cycleModel() bool {
	if len(s.config.Models) <= 1 {
		return false
	}
	s.modelIndex = (s.modelIndex + 1) % len(s.config.Models)
	return true
}

func (s *ProviderState) recordSuccess(now time.Time) {
	s.requestCount++
	s.lastRequest = now
	s.consecutiveFailures = 0
}

func (s *ProviderState) recordFailure() {
	s.failureCount++
	s.consecutiveFailures++
}

func (s *ProviderState) markRateLimited(now time.Time) {
	s.rateLimited = true
	s.lastRateLimit = now
}

func (s *ProviderState) recoversAt() time.Time {
	return s.lastRateLimit.Add(s.config.Cooldown)
}

// peekAvailable reports availability without touching state.
func (s *ProviderState) peekAvailable(now time.Time) bool {
	return !s.rateLimited || !now.Before(s.recoversAt())
}

// checkAvailable is the only place a cooldown expires. Once the cooldown has
// elapsed it clears the rate-limit flag and resets consecutive failures.
func (s *ProviderState) checkAvailable(now time.Time) bool {
	if !s.rateLimited {
		return true
	}
	if now.Before(s.recoversAt()) {
		return false
	}
	s.rateLimited = false
	s.consecutiveFailures = 0
	return true
}

// ShouldCycle reports whether the failure or usage counters call for a
// model rotation under the given policy.
func (s *ProviderState) ShouldCycle(policy Policy) bool {
	policy = policy.normalized()
	if s.consecutiveFailures >= policy.CycleAfterFailures {
		return true
	}
	return policy.ProactiveCycleEvery > 0 &&
		s.requestCount > 0 &&
		s.requestCount%policy.ProactiveCycleEvery == 0
}

func (s *ProviderState) successRate() float64 {
	total := s.requestCount + s.failureCount
	if total == 0 {
		return 0
	}
	return float64(s.requestCount) / float64(total) * 100
}
