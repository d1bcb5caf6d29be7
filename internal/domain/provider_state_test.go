package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderState_CycleWrapsModulo(t *testing.T) {
	cfg := ProviderConfig{Name: "a", Models: []string{"m0", "m1", "m2"}}

	for _, n := range []int{0, 1, 2, 3, 4, 7, 100} {
		s := newProviderState(cfg)
		for i := 0; i < n; i++ {
			s.cycleModel()
		}
		if s.modelIndex != n%3 {
			t.Errorf("after %d cycles modelIndex = %d, want %d", n, s.modelIndex, n%3)
		}
		if got, want := s.CurrentModel(), cfg.Models[n%3]; got != want {
			t.Errorf("after %d cycles CurrentModel() = %q, want %q", n, got, want)
		}
	}
}

func TestProviderState_CycleSingleModelIsNoop(t *testing.T) {
	s := newProviderState(ProviderConfig{Name: "a", Models: []string{"only"}})

	assert.False(t, s.cycleModel())
	assert.Equal(t, 0, s.modelIndex)
	assert.Equal(t, "only", s.CurrentModel())

	empty := newProviderState(ProviderConfig{Name: "b"})
	assert.False(t, empty.cycleModel())
	assert.Equal(t, "", empty.CurrentModel())
}

func TestProviderState_CooldownBoundary(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newProviderState(ProviderConfig{Name: "a", Models: []string{"m"}, Cooldown: time.Minute})
	s.recordFailure()
	s.markRateLimited(start)

	assert.False(t, s.peekAvailable(start))
	assert.False(t, s.checkAvailable(start))
	assert.False(t, s.checkAvailable(start.Add(time.Minute-time.Nanosecond)))
	assert.True(t, s.rateLimited)
	assert.Equal(t, 1, s.consecutiveFailures)

	assert.True(t, s.peekAvailable(start.Add(time.Minute)))
	assert.True(t, s.rateLimited, "peek must not clear the flag")

	assert.True(t, s.checkAvailable(start.Add(time.Minute)))
	assert.False(t, s.rateLimited)
	assert.Equal(t, 0, s.consecutiveFailures)
}

func TestProviderState_SuccessKeepsRateLimitFlag(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newProviderState(ProviderConfig{Name: "a", Models: []string{"m"}, Cooldown: time.Minute})
	s.recordFailure()
	s.markRateLimited(now)

	s.recordSuccess(now)

	assert.Equal(t, 0, s.consecutiveFailures)
	assert.True(t, s.rateLimited)
	assert.Equal(t, 1, s.requestCount)
}

func TestProviderState_ShouldCycle(t *testing.T) {
	policy := Policy{CycleAfterFailures: 2, SwitchAfterFailures: 3, ProactiveCycleEvery: 10}

	tests := []struct {
		name     string
		failures int
		requests int
		want     bool
	}{
		{"fresh", 0, 0, false},
		{"one failure", 1, 0, false},
		{"two failures", 2, 0, true},
		{"tenth request", 0, 10, true},
		{"twentieth request", 0, 20, true},
		{"eleventh request", 0, 11, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newProviderState(ProviderConfig{Name: "a", Models: []string{"m0", "m1"}})
			s.consecutiveFailures = tt.failures
			s.requestCount = tt.requests
			if got := s.ShouldCycle(policy); got != tt.want {
				t.Errorf("ShouldCycle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Normalized(t *testing.T) {
	got := Policy{ProactiveCycleEvery: -1}.normalized()

	assert.Equal(t, 1, got.CycleAfterFailures)
	assert.Equal(t, 3, got.SwitchAfterFailures)
	assert.Equal(t, 0, got.ProactiveCycleEvery)
}
