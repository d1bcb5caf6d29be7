package domain

import "time"

// Observer receives notifications about manager decisions. Calls are made
// while the manager lock is held, so implementations must not call back
// into the Manager.
type Observer interface {
	ProviderSwitched(from, to, model, reason string)
	ModelCycled(provider, from, to string)
	CooldownStarted(provider string, until time.Time)
	ProviderRecovered(provider string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) ProviderSwitched(string, string, string, string) {}
func (NopObserver) ModelCycled(string, string, string)              {}
func (NopObserver) CooldownStarted(string, time.Time)               {}
func (NopObserver) ProviderRecovered(string)                        {}
