package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(name string, priority int, models ...string) ProviderConfig {
	return ProviderConfig{
		Name:              name,
		Models:            models,
		RateLimitPatterns: []string{"rate limit"},
		CredentialKey:     strings.ToUpper(name) + "_API_KEY",
		Cooldown:          time.Minute,
		Priority:          priority,
	}
}

func allCredentials(key string) string {
	return "secret-" + strings.ToLower(key)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, templates []ProviderConfig, opts ...ManagerOption) (*Manager, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	base := []ManagerOption{
		WithClock(mock),
		WithCredentials(allCredentials),
		WithLogger(discardLogger()),
	}
	m, err := NewManager(context.Background(), templates, append(base, opts...)...)
	require.NoError(t, err)
	return m, mock
}

type fakeDiscoverer struct {
	models []string
	err    error
	block  bool

	calls      int
	credential string
}

func (f *fakeDiscoverer) DiscoverModels(ctx context.Context, _ ProviderConfig, credential string) ([]string, error) {
	f.calls++
	f.credential = credential
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.models, f.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, s)
}

func (o *recordingObserver) ProviderSwitched(from, to, model, _ string) {
	o.add("switch " + from + "->" + to + " " + model)
}

func (o *recordingObserver) ModelCycled(provider, from, to string) {
	o.add("cycle " + provider + " " + from + "->" + to)
}

func (o *recordingObserver) CooldownStarted(provider string, _ time.Time) {
	o.add("cooldown " + provider)
}

func (o *recordingObserver) ProviderRecovered(provider string) {
	o.add("recovered " + provider)
}

func TestNewManager_NoProvidersIsFatal(t *testing.T) {
	_, err := NewManager(context.Background(),
		[]ProviderConfig{testProvider("a", 1, "a1")},
		WithCredentials(func(string) string { return "" }),
		WithLogger(discardLogger()),
	)

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrNoProviders))
}

func TestNewManager_SkipsMissingCredentialAndEmptyModels(t *testing.T) {
	creds := func(key string) string {
		if key == "B_API_KEY" {
			return ""
		}
		return "x"
	}

	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1"),
		testProvider("b", 0, "b1"),
		testProvider("c", 2),
		testProvider("a", 3, "dup"),
	}, WithCredentials(creds))

	assert.Equal(t, []string{"a"}, m.Providers())
	provider, model, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "a", provider)
	assert.Equal(t, "a1", model)
}

func TestNewManager_AppliesDefaults(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{{
		Name:          "bare",
		Models:        []string{"m"},
		CredentialKey: "BARE_API_KEY",
	}})

	cfg := m.ProviderConfigs()[0]
	assert.Equal(t, DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, DefaultMaxRequestsPerMinute, cfg.MaxRequestsPerMinute)
	assert.Equal(t, DriverOpenAICompatible, cfg.Driver)
	assert.Equal(t, []string{"bare", "rate limit", "quota", "429", "503"}, cfg.RateLimitPatterns)
}

func TestNewManager_LegacyAliasFallsBackToStaticModels(t *testing.T) {
	disc := &fakeDiscoverer{err: errors.New("connection refused")}
	var asked []string
	creds := func(key string) string {
		asked = append(asked, key)
		return "gsk_test"
	}

	m, _ := newTestManager(t,
		[]ProviderConfig{{Name: "grok", Models: []string{"grok-1"}, CredentialKey: "GROK_API_KEY", Priority: 3}},
		WithCredentials(creds),
		WithModelDiscoverer(disc, time.Second),
	)

	require.Equal(t, []string{"groq"}, m.Providers())
	cfg := m.ProviderConfigs()[0]
	assert.Equal(t, "GROQ_API_KEY", cfg.CredentialKey)
	assert.Equal(t, []string{"llama3-8b-8192", "gemma2-9b-it", "llama-3.1-8b-instant"}, cfg.Models)
	assert.Equal(t, []string{"GROQ_API_KEY"}, asked)
	assert.Equal(t, 1, disc.calls)
	assert.Equal(t, "gsk_test", disc.credential)
}

func TestNewManager_DiscoveryFiltersModels(t *testing.T) {
	disc := &fakeDiscoverer{models: []string{
		"llama-3.3-70b-versatile",
		"whisper-large-v3",
		"llama-guard-3-8b",
		"nomic-embedding",
		"",
		"gemma2-9b-it",
	}}

	tmpl := testProvider("groq", 3, "static")
	tmpl.DiscoveryURL = GroqModelsURL
	tmpl.ExcludeModelPatterns = GroqExcludedModelPatterns

	m, _ := newTestManager(t, []ProviderConfig{tmpl}, WithModelDiscoverer(disc, time.Second))

	assert.Equal(t, []string{"llama-3.3-70b-versatile", "gemma2-9b-it"}, m.ProviderConfigs()[0].Models)
}

func TestNewManager_DiscoveryTimeoutKeepsStaticModels(t *testing.T) {
	disc := &fakeDiscoverer{block: true}
	tmpl := testProvider("groq", 3, "static-a", "static-b")
	tmpl.DiscoveryURL = GroqModelsURL

	m, _ := newTestManager(t, []ProviderConfig{tmpl}, WithModelDiscoverer(disc, 10*time.Millisecond))

	assert.Equal(t, []string{"static-a", "static-b"}, m.ProviderConfigs()[0].Models)
}

func TestNewManager_DiscoveryOnlyWithURL(t *testing.T) {
	disc := &fakeDiscoverer{models: []string{"live"}}

	m, _ := newTestManager(t, []ProviderConfig{testProvider("a", 1, "static")}, WithModelDiscoverer(disc, time.Second))

	assert.Equal(t, 0, disc.calls)
	assert.Equal(t, []string{"static"}, m.ProviderConfigs()[0].Models)
}

func TestSelectBestAvailable(t *testing.T) {
	t.Run("lowest priority wins", func(t *testing.T) {
		m, _ := newTestManager(t, []ProviderConfig{
			testProvider("b", 2, "b1"),
			testProvider("a", 1, "a1"),
			testProvider("c", 3, "c1"),
		})
		name, ok := m.SelectBestAvailable()
		assert.True(t, ok)
		assert.Equal(t, "a", name)
	})

	t.Run("ties resolve by configuration order", func(t *testing.T) {
		m, _ := newTestManager(t, []ProviderConfig{
			testProvider("second", 1, "x"),
			testProvider("first", 1, "y"),
		})
		for i := 0; i < 5; i++ {
			name, _ := m.SelectBestAvailable()
			assert.Equal(t, "second", name)
		}
	})

	t.Run("skips rate limited provider", func(t *testing.T) {
		m, _ := newTestManager(t, []ProviderConfig{
			testProvider("a", 1, "a1"),
			testProvider("b", 2, "b1"),
		})
		limited := true
		m.HandleFailure("429", &limited)

		name, _ := m.SelectBestAvailable()
		assert.Equal(t, "b", name)
	})

	t.Run("degraded fallback when all unavailable", func(t *testing.T) {
		m, _ := newTestManager(t, []ProviderConfig{
			testProvider("a", 1, "a1"),
			testProvider("b", 2, "b1"),
		})
		limited := true
		m.HandleFailure("429", &limited)
		m.HandleFailure("429", &limited)

		name, ok := m.SelectBestAvailable()
		assert.True(t, ok)
		assert.Equal(t, "a", name)
		status := m.Status()
		for _, p := range status.Providers {
			assert.False(t, p.Available, p.Name)
		}
	})

	t.Run("cooldown expiry restores preference", func(t *testing.T) {
		m, mock := newTestManager(t, []ProviderConfig{
			testProvider("a", 1, "a1"),
			testProvider("b", 2, "b1"),
		})
		limited := true
		m.HandleFailure("429", &limited)

		mock.Add(time.Minute - time.Second)
		name, _ := m.SelectBestAvailable()
		assert.Equal(t, "b", name)

		mock.Add(time.Second)
		name, _ = m.SelectBestAvailable()
		assert.Equal(t, "a", name)
	})
}

func TestCycleModel(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1", "a2", "a3"),
		testProvider("b", 2, "b1"),
	})

	assert.True(t, m.CycleModel("a"))
	_, model, _ := m.Current()
	assert.Equal(t, "a2", model)

	assert.False(t, m.CycleModel("b"))
	assert.False(t, m.CycleModel("missing"))
}

func TestClassify(t *testing.T) {
	p := testProvider("a", 1, "a1")
	p.RateLimitPatterns = []string{"overloaded"}
	m, _ := newTestManager(t, []ProviderConfig{p})

	assert.True(t, m.Classify("", "anything"))
	assert.True(t, m.Classify("HTTP 429 Too Many Requests", "anyprovider"))
	assert.False(t, m.Classify("Internal server bug, stack trace: ...", "anyprovider"))
	assert.True(t, m.Classify("Server Overloaded", "a"))
	assert.False(t, m.Classify("Server Overloaded", "anyprovider"))
}

func TestRecordSuccess(t *testing.T) {
	m, _ := newTestManager(t,
		[]ProviderConfig{testProvider("a", 1, "a1", "a2")},
		WithPolicy(Policy{CycleAfterFailures: 1, SwitchAfterFailures: 3, ProactiveCycleEvery: 10}),
	)

	m.HandleFailure("boom", nil)
	for i := 0; i < 9; i++ {
		m.RecordSuccess()
	}
	status := m.Status()
	a, _ := status.Provider("a")
	assert.Equal(t, 0, a.ConsecutiveFailures)
	assert.Equal(t, 9, a.RequestCount)
	assert.Equal(t, "a2", a.CurrentModel)

	m.RecordSuccess()
	a, _ = m.Status().Provider("a")
	assert.Equal(t, 10, a.RequestCount)
	assert.Equal(t, "a1", a.CurrentModel, "tenth success rotates proactively")
}

func TestRecordSuccessOn(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1"),
		testProvider("b", 2, "b1"),
	})

	m.RecordSuccessOn("b")
	b, _ := m.Status().Provider("b")
	a, _ := m.Status().Provider("a")
	assert.Equal(t, 1, b.RequestCount)
	assert.Equal(t, 0, a.RequestCount)
	assert.Equal(t, "a", m.Status().CurrentProvider, "success elsewhere leaves the selection alone")

	m.RecordSuccessOn("missing")
	a, _ = m.Status().Provider("a")
	assert.Equal(t, 1, a.RequestCount, "unknown provider falls back to current")
}

func TestForceSwitch(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1"),
		testProvider("b", 2, "b1"),
	})

	switched, err := m.ForceSwitch("b")
	require.NoError(t, err)
	assert.True(t, switched)
	provider, _, _ := m.Current()
	assert.Equal(t, "b", provider)

	switched, err = m.ForceSwitch("b")
	require.NoError(t, err)
	assert.False(t, switched)

	switched, err = m.ForceSwitch("")
	require.NoError(t, err)
	assert.True(t, switched)
	provider, _, _ = m.Current()
	assert.Equal(t, "a", provider)

	switched, err = m.ForceSwitch("unknown")
	require.NoError(t, err)
	assert.False(t, switched)

	assert.Equal(t, 2, m.Status().ProviderSwitches)
}

func TestSuspendProvider(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1"),
		testProvider("b", 2, "b1"),
	})

	next, switched := m.SuspendProvider("a", "driver unavailable")
	assert.True(t, switched)
	assert.Equal(t, "b", next)

	next, switched = m.SuspendProvider("b", "driver unavailable")
	assert.False(t, switched, "a cooling provider is not an alternative")
	assert.Equal(t, "b", next)
	b, _ := m.Status().Provider("b")
	assert.True(t, b.Available, "suspension without alternative is undone")
	assert.False(t, b.RateLimited)

	single, _ := newTestManager(t, []ProviderConfig{testProvider("only", 1, "m")})
	next, switched = single.SuspendProvider("only", "driver unavailable")
	assert.False(t, switched)
	assert.Equal(t, "only", next)
	only, _ := single.Status().Provider("only")
	assert.True(t, only.Available)
}

func TestReconcileCooldownsAndNextRecovery(t *testing.T) {
	obs := &recordingObserver{}
	a := testProvider("a", 1, "a1")
	b := testProvider("b", 2, "b1")
	b.Cooldown = 2 * time.Minute
	m, mock := newTestManager(t, []ProviderConfig{a, b}, WithObserver(obs))
	start := mock.Now()

	_, _, ok := m.NextRecovery()
	assert.False(t, ok)

	limited := true
	m.HandleFailure("429", &limited)
	m.HandleFailure("429", &limited)

	provider, at, ok := m.NextRecovery()
	require.True(t, ok)
	assert.Equal(t, "a", provider)
	assert.Equal(t, start.Add(time.Minute), at)

	assert.Empty(t, m.ReconcileCooldowns())

	mock.Add(time.Minute)
	assert.Equal(t, []string{"a"}, m.ReconcileCooldowns())

	provider, _, ok = m.NextRecovery()
	require.True(t, ok)
	assert.Equal(t, "b", provider)
	assert.Contains(t, obs.events, "recovered a")
}

func TestStatus_IsReadOnly(t *testing.T) {
	m, mock := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1", "a2"),
		testProvider("b", 2, "b1"),
	})
	m.RecordSuccess()
	limited := true
	m.HandleFailure("429", &limited)

	first := m.Status()
	second := m.Status()
	assert.Equal(t, first, second)

	mock.Add(2 * time.Minute)
	afterCooldown := m.Status()
	a, _ := afterCooldown.Provider("a")
	assert.True(t, a.Available)
	assert.True(t, a.RateLimited, "status must not clear stale cooldowns")
	assert.Equal(t, time.Duration(0), a.CooldownRemaining)
	assert.Equal(t, afterCooldown, m.Status())

	m.ReconcileCooldowns()
	a, _ = m.Status().Provider("a")
	assert.False(t, a.RateLimited)
	assert.Equal(t, 0, a.ConsecutiveFailures)
}

func TestStatus_Report(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1", "a2"),
		testProvider("b", 2, "b1"),
	})

	m.RecordSuccess()
	m.RecordSuccess()
	m.RecordSuccess()
	limited := true
	m.HandleFailure("quota exceeded", &limited)

	status := m.Status()
	assert.Equal(t, "b", status.CurrentProvider)
	assert.Equal(t, "b1", status.CurrentModel)
	assert.Equal(t, 3, status.TotalRequests)
	assert.Equal(t, 1, status.TotalFailures)
	assert.Equal(t, 1, status.ProviderSwitches)
	assert.InDelta(t, 75.0, status.SuccessRate, 0.001)

	require.Len(t, status.Providers, 2)
	a := status.Providers[0]
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "a2", a.CurrentModel)
	assert.False(t, a.Available)
	assert.True(t, a.RateLimited)
	assert.Equal(t, 1, a.ConsecutiveFailures)
	assert.Equal(t, 1, a.FailureCount)
	assert.Equal(t, time.Minute, a.CooldownRemaining)
	assert.Equal(t, "A_API_KEY", a.CredentialKey)
	assert.InDelta(t, 75.0, a.SuccessRate, 0.001)
	assert.Equal(t, DefaultMaxRequestsPerMinute, a.MaxRequestsPerMinute)
}

func TestManager_ConcurrentUse(t *testing.T) {
	m, _ := newTestManager(t, []ProviderConfig{
		testProvider("a", 1, "a1", "a2"),
		testProvider("b", 2, "b1"),
	}, WithPolicy(Policy{CycleAfterFailures: 1, SwitchAfterFailures: 1000}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					m.RecordSuccess()
				} else {
					m.HandleFailure("connection reset", nil)
				}
				_ = m.Status()
				_, _ = m.Resolve()
			}
		}(i)
	}
	wg.Wait()

	status := m.Status()
	assert.Equal(t, 500, status.TotalRequests)
	assert.Equal(t, 500, status.TotalFailures)
}
