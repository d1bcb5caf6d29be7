package domain

import (
	"fmt"
	"log/slog"
	"time"
)

// ActionType categorizes the outcome of failure handling.
type ActionType string

const (
	ActionModelCycle     ActionType = "model_cycle"
	ActionProviderSwitch ActionType = "provider_switch"
	ActionNone           ActionType = "none"
	ActionError          ActionType = "error"
)

// FailureAction reports what HandleFailure decided.
type FailureAction struct {
	Action           ActionType `json:"action" yaml:"action"`
	Switched         bool       `json:"switched" yaml:"switched"`
	Provider         string     `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model            string     `json:"model,omitempty" yaml:"model,omitempty"`
	PreviousProvider string     `json:"previous_provider,omitempty" yaml:"previous_provider,omitempty"`
	RateLimited      bool       `json:"rate_limited" yaml:"rate_limited"`
	// Degraded is set when the provider now selected is itself cooling
	// down, so another attempt would only reach a rate-limited provider.
	Degraded         bool       `json:"degraded" yaml:"degraded"`
	Detail           string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// HandleFailure records a failed request on the current provider and applies
// the recovery policy. explicitRateLimit overrides classification when set.
func (m *Manager) HandleFailure(errText string, explicitRateLimit *bool) FailureAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.handleFailureLocked(errText, explicitRateLimit)
}

// HandleFailureOn is HandleFailure for a request that was sent to provider.
// When the manager has already moved away from provider, typically because a
// concurrent request failed first, the failure is counted against provider
// but the current selection is left alone.
func (m *Manager) HandleFailureOn(provider, errText string, explicitRateLimit *bool) FailureAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.providers[provider]
	if !ok || m.current == "" || m.current == provider {
		return m.handleFailureLocked(errText, explicitRateLimit)
	}

	m.totalFailures++
	state.recordFailure()
	m.logger.Debug("stale provider failure ignored",
		slog.String("provider", provider),
		slog.String("current", m.current),
		slog.String("error", errText),
	)
	current := m.providers[m.current]
	return FailureAction{
		Action:           ActionNone,
		Provider:         m.current,
		Model:            current.CurrentModel(),
		PreviousProvider: provider,
		Degraded:         !current.peekAvailable(m.clock.Now()),
		Detail:           fmt.Sprintf("%s is no longer current", provider),
	}
}

func (m *Manager) handleFailureLocked(errText string, explicitRateLimit *bool) FailureAction {
	now := m.clock.Now()
	m.totalFailures++

	if m.current == "" {
		m.current = m.selectLocked(now)
		if m.current == "" {
			return FailureAction{Action: ActionError, Detail: "no provider available"}
		}
	}

	state := m.providers[m.current]
	var rateLimited bool
	if explicitRateLimit != nil {
		rateLimited = *explicitRateLimit
	} else {
		cfg := state.config
		rateLimited = m.classifier.IsRateLimit(errText, &cfg)
	}

	state.recordFailure()
	m.logger.Warn("provider request failed",
		slog.String("provider", m.current),
		slog.String("model", state.CurrentModel()),
		slog.Bool("rate_limited", rateLimited),
		slog.Int("consecutive_failures", state.consecutiveFailures),
		slog.String("error", errText),
	)

	if rateLimited {
		return m.handleRateLimitLocked(state, now)
	}
	return m.handleGenericFailureLocked(state, now)
}

func (m *Manager) handleRateLimitLocked(state *ProviderState, now time.Time) FailureAction {
	prev := state.config.Name
	state.markRateLimited(now)
	m.observer.CooldownStarted(prev, state.recoversAt())
	m.cycleLocked(state)

	next := m.selectLocked(now)
	switch {
	case next == "":
		m.current = ""
		return FailureAction{
			Action:           ActionError,
			PreviousProvider: prev,
			RateLimited:      true,
			Detail:           "all providers unavailable",
		}
	case next != prev:
		m.switchLocked(prev, next, "rate limit")
		return FailureAction{
			Action:           ActionProviderSwitch,
			Switched:         true,
			Provider:         next,
			Model:            m.providers[next].CurrentModel(),
			PreviousProvider: prev,
			RateLimited:      true,
			Degraded:         !m.providers[next].peekAvailable(now),
			Detail:           fmt.Sprintf("rate limited on %s, switched to %s", prev, next),
		}
	default:
		return FailureAction{
			Action:           ActionNone,
			Provider:         prev,
			Model:            state.CurrentModel(),
			PreviousProvider: prev,
			RateLimited:      true,
			Degraded:         true,
			Detail:           fmt.Sprintf("rate limited, awaiting cooldown until %s", state.recoversAt().Format(time.RFC3339)),
		}
	}
}

func (m *Manager) handleGenericFailureLocked(state *ProviderState, now time.Time) FailureAction {
	prev := state.config.Name

	if state.consecutiveFailures >= m.policy.SwitchAfterFailures {
		lastRateLimit := state.lastRateLimit
		state.markRateLimited(now)

		if next := m.alternativeLocked(prev, now); next != "" {
			m.observer.CooldownStarted(prev, state.recoversAt())
			m.switchLocked(prev, next, "consecutive failures")
			return FailureAction{
				Action:           ActionProviderSwitch,
				Switched:         true,
				Provider:         next,
				Model:            m.providers[next].CurrentModel(),
				PreviousProvider: prev,
				Detail: fmt.Sprintf("%d consecutive failures on %s, switched to %s",
					state.consecutiveFailures, prev, next),
			}
		}

		// Nowhere to go: undo the forced cooldown.
		state.rateLimited = false
		state.lastRateLimit = lastRateLimit
		return FailureAction{
			Action:           ActionNone,
			Provider:         prev,
			Model:            state.CurrentModel(),
			PreviousProvider: prev,
			Detail:           "no alternative provider available",
		}
	}

	if state.ShouldCycle(m.policy) && m.cycleLocked(state) {
		return FailureAction{
			Action:           ActionModelCycle,
			Switched:         true,
			Provider:         prev,
			Model:            state.CurrentModel(),
			PreviousProvider: prev,
			Detail:           "cycled to next model",
		}
	}

	return FailureAction{
		Action:           ActionNone,
		Provider:         prev,
		Model:            state.CurrentModel(),
		PreviousProvider: prev,
	}
}
