package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFailure_GenericFailuresCycleThenSwitch(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1", "a2"),
		testProvider("B", 2, "b1"),
	}, WithObserver(obs))

	provider, model, _ := m.Current()
	require.Equal(t, "A", provider)
	require.Equal(t, "a1", model)

	first := m.HandleFailure("connection reset", nil)
	assert.Equal(t, ActionModelCycle, first.Action)
	assert.Equal(t, "a2", first.Model)

	second := m.HandleFailure("connection reset", nil)
	assert.Equal(t, ActionModelCycle, second.Action)
	assert.Equal(t, "a1", second.Model)

	third := m.HandleFailure("connection reset", nil)
	assert.Equal(t, ActionProviderSwitch, third.Action)
	assert.True(t, third.Switched)
	assert.Equal(t, "B", third.Provider)
	assert.Equal(t, "b1", third.Model)
	assert.Equal(t, "A", third.PreviousProvider)
	assert.False(t, third.RateLimited)

	status := m.Status()
	assert.Equal(t, "B", status.CurrentProvider)
	assert.Equal(t, "b1", status.CurrentModel)
	a, _ := status.Provider("A")
	assert.True(t, a.RateLimited)
	assert.False(t, a.Available)

	assert.Equal(t, []string{
		"cycle A a1->a2",
		"cycle A a2->a1",
		"cooldown A",
		"switch A->B b1",
	}, obs.events)
}

func TestHandleFailure_SingleProviderRevertsForcedCooldown(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{testProvider("solo", 1, "m1")})

	for i := 0; i < 2; i++ {
		action := m.HandleFailure("internal error", nil)
		assert.Equal(t, ActionNone, action.Action)
	}

	third := m.HandleFailure("internal error", nil)
	assert.Equal(t, ActionNone, third.Action)
	assert.False(t, third.Switched)
	assert.Equal(t, "solo", third.Provider)

	status := m.Status()
	assert.Equal(t, "solo", status.CurrentProvider)
	solo, _ := status.Provider("solo")
	assert.True(t, solo.Available)
	assert.False(t, solo.RateLimited)
	assert.Equal(t, 3, solo.ConsecutiveFailures)

	// Further identical failures converge on the same report.
	fourth := m.HandleFailure("internal error", nil)
	fifth := m.HandleFailure("internal error", nil)
	assert.Equal(t, fourth, fifth)
	assert.Equal(t, ActionNone, fifth.Action)
}

func TestHandleFailure_RateLimitSwitches(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1", "a2"),
		testProvider("B", 2, "b1"),
	})

	action := m.HandleFailure("HTTP 429 Too Many Requests", nil)

	assert.Equal(t, ActionProviderSwitch, action.Action)
	assert.True(t, action.RateLimited)
	assert.Equal(t, "B", action.Provider)

	a, _ := m.Status().Provider("A")
	assert.Equal(t, "a2", a.CurrentModel, "rate limit cycles the limited provider's model")
	assert.True(t, a.RateLimited)
	assert.Equal(t, 1, a.ConsecutiveFailures)
}

func TestHandleFailure_ExplicitFlagOverridesClassifier(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1"),
		testProvider("B", 2, "b1"),
	})

	notLimited := false
	action := m.HandleFailure("HTTP 429 Too Many Requests", &notLimited)
	assert.Equal(t, ActionNone, action.Action)
	assert.False(t, action.RateLimited)

	limited := true
	action = m.HandleFailure("socket closed", &limited)
	assert.Equal(t, ActionProviderSwitch, action.Action)
	assert.True(t, action.RateLimited)
}

func TestHandleFailure_RateLimitWithoutAlternativeAwaitsCooldown(t *testing.T) {
	m, mock := newTestManager(t, []ProviderConfig{testProvider("solo", 1, "m1", "m2")})

	action := m.HandleFailure("", nil)

	assert.Equal(t, ActionNone, action.Action)
	assert.True(t, action.RateLimited)
	assert.Equal(t, "solo", action.Provider)
	assert.Equal(t, "m2", action.Model)
	assert.Contains(t, action.Detail, "awaiting cooldown")
	assert.True(t, action.Degraded)

	solo, _ := m.Status().Provider("solo")
	assert.False(t, solo.Available)

	mock.Add(time.Minute)
	name, ok := m.SelectBestAvailable()
	assert.True(t, ok)
	assert.Equal(t, "solo", name)
	solo, _ = m.Status().Provider("solo")
	assert.True(t, solo.Available)
	assert.False(t, solo.RateLimited)
	assert.Equal(t, 0, solo.ConsecutiveFailures)
}

func TestHandleFailure_DegradedFallback(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1"),
		testProvider("B", 2, "b1"),
	})
	limited := true

	first := m.HandleFailure("slow down", &limited)
	assert.Equal(t, ActionProviderSwitch, first.Action)
	assert.Equal(t, "B", first.Provider)
	assert.False(t, first.Degraded)

	second := m.HandleFailure("slow down", &limited)
	assert.Equal(t, ActionProviderSwitch, second.Action)
	assert.Equal(t, "A", second.Provider, "best priority provider is the fallback")
	assert.True(t, second.Degraded)
}

func TestHandleFailure_ForcedCooldownSkipsCoolingProviders(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1"),
		testProvider("B", 2, "b1"),
	})
	limited := true
	require.Equal(t, "B", m.HandleFailure("slow down", &limited).Provider)

	var action FailureAction
	for i := 0; i < 3; i++ {
		action = m.HandleFailure("connection reset", nil)
	}

	assert.Equal(t, ActionNone, action.Action)
	assert.Equal(t, "no alternative provider available", action.Detail)
	provider, _, _ := m.Current()
	assert.Equal(t, "B", provider)
	b, _ := m.Status().Provider("B")
	assert.True(t, b.Available, "forced cooldown is undone")
	assert.False(t, b.RateLimited)
}

func TestHandleFailure_CountsEveryFailure(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{testProvider("solo", 1, "m1")})

	for i := 0; i < 7; i++ {
		m.HandleFailure("boom", nil)
	}

	status := m.Status()
	assert.Equal(t, 7, status.TotalFailures)
	assert.Equal(t, 0, status.ProviderSwitches)
	assert.Equal(t, 0.0, status.SuccessRate)
}

func TestHandleFailure_ConfigurableThresholds(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1", "a2"),
		testProvider("B", 2, "b1"),
	}, WithPolicy(Policy{CycleAfterFailures: 2, SwitchAfterFailures: 5}))

	assert.Equal(t, ActionNone, m.HandleFailure("boom", nil).Action)
	assert.Equal(t, ActionModelCycle, m.HandleFailure("boom", nil).Action)
	assert.Equal(t, ActionModelCycle, m.HandleFailure("boom", nil).Action)
	assert.Equal(t, ActionModelCycle, m.HandleFailure("boom", nil).Action)
	assert.Equal(t, ActionProviderSwitch, m.HandleFailure("boom", nil).Action)
}

func TestHandleFailureOn_StaleProvider(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("A", 1, "a1"),
		testProvider("B", 2, "b1"),
	}, WithObserver(obs))

	limited := true
	first := m.HandleFailureOn("A", "429 too many requests", &limited)
	require.Equal(t, ActionProviderSwitch, first.Action)
	require.Equal(t, "B", first.Provider)

	// A request that was already in flight to A fails after the switch.
	late := m.HandleFailureOn("A", "429 too many requests", &limited)
	assert.Equal(t, ActionNone, late.Action)
	assert.Equal(t, "B", late.Provider)
	assert.Equal(t, "A", late.PreviousProvider)

	status := m.Status()
	assert.Equal(t, "B", status.CurrentProvider)
	assert.Equal(t, 2, status.TotalFailures)
	b, _ := status.Provider("B")
	assert.True(t, b.Available, "a late failure from A must not cool down B")
	a, _ := status.Provider("A")
	assert.Equal(t, 2, a.FailureCount)
	assert.Len(t, obs.events, 2, "no observer events for a stale failure")
}

func TestHandleFailureOn_CurrentProvider(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{testProvider("A", 1, "a1", "a2")})

	action := m.HandleFailureOn("A", "connection reset", nil)
	assert.Equal(t, ActionModelCycle, action.Action)
	assert.Equal(t, "a2", action.Model)

	unknown := m.HandleFailureOn("Z", "connection reset", nil)
	assert.Equal(t, "A", unknown.Provider, "unknown providers fall back to the current one")
}
