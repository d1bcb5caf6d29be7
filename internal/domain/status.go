package domain

import "time"

// StatusReport is a point-in-time snapshot of the manager.
type StatusReport struct {
	CurrentProvider  string           `json:"current_provider" yaml:"current_provider"`
	CurrentModel     string           `json:"current_model" yaml:"current_model"`
	TotalRequests    int              `json:"total_requests" yaml:"total_requests"`
	TotalFailures    int              `json:"total_failures" yaml:"total_failures"`
	ProviderSwitches int              `json:"provider_switches" yaml:"provider_switches"`
	SuccessRate      float64          `json:"success_rate" yaml:"success_rate"`
	Providers        []ProviderStatus `json:"providers" yaml:"providers"`
}

// ProviderStatus is the per-provider part of a StatusReport.
type ProviderStatus struct {
	Name                 string        `json:"name" yaml:"name"`
	CurrentModel         string        `json:"current_model" yaml:"current_model"`
	Models               []string      `json:"models" yaml:"models"`
	Available            bool          `json:"available" yaml:"available"`
	RateLimited          bool          `json:"rate_limited" yaml:"rate_limited"`
	ConsecutiveFailures  int           `json:"consecutive_failures" yaml:"consecutive_failures"`
	RequestCount         int           `json:"request_count" yaml:"request_count"`
	FailureCount         int           `json:"failure_count" yaml:"failure_count"`
	SuccessRate          float64       `json:"success_rate" yaml:"success_rate"`
	MaxRequestsPerMinute int           `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Priority             int           `json:"priority" yaml:"priority"`
	CredentialKey        string        `json:"credential_key" yaml:"credential_key"`
	CooldownRemaining    time.Duration `json:"cooldown_remaining" yaml:"cooldown_remaining"`
}

// Status returns a snapshot without mutating any state. Availability is
// computed as of now, but elapsed cooldowns are not cleared.
func (m *Manager) Status() StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	report := StatusReport{
		CurrentProvider:  m.current,
		TotalRequests:    m.totalRequests,
		TotalFailures:    m.totalFailures,
		ProviderSwitches: m.switchCount,
		Providers:        make([]ProviderStatus, 0, len(m.order)),
	}
	if total := m.totalRequests + m.totalFailures; total > 0 {
		report.SuccessRate = float64(m.totalRequests) / float64(total) * 100
	}
	if state, ok := m.providers[m.current]; ok {
		report.CurrentModel = state.CurrentModel()
	}

	for _, name := range m.order {
		state := m.providers[name]
		ps := ProviderStatus{
			Name:                 name,
			CurrentModel:         state.CurrentModel(),
			Models:               append([]string(nil), state.config.Models...),
			Available:            state.peekAvailable(now),
			RateLimited:          state.rateLimited,
			ConsecutiveFailures:  state.consecutiveFailures,
			RequestCount:         state.requestCount,
			FailureCount:         state.failureCount,
			SuccessRate:          state.successRate(),
			MaxRequestsPerMinute: state.config.MaxRequestsPerMinute,
			Priority:             state.config.Priority,
			CredentialKey:        state.config.CredentialKey,
		}
		if !ps.Available {
			ps.CooldownRemaining = state.recoversAt().Sub(now)
		}
		report.Providers = append(report.Providers, ps)
	}

	return report
}

// Provider returns the status entry for name.
func (r StatusReport) Provider(name string) (ProviderStatus, bool) {
	for _, p := range r.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderStatus{}, false
}
