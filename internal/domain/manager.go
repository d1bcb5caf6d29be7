package domain

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDiscoveryTimeout bounds the startup model listing call.
const DefaultDiscoveryTimeout = 5 * time.Second

// CredentialSource resolves a credential key to its value. An empty result
// means the credential is missing.
type CredentialSource func(key string) string

// ModelDiscoverer lists the models a provider currently serves.
type ModelDiscoverer interface {
	DiscoverModels(ctx context.Context, provider ProviderConfig, credential string) ([]string, error)
}

// Selection is the provider and model the manager currently points at.
type Selection struct {
	Provider   string
	Model      string
	Driver     Driver
	BaseURL    string
	Credential string
}

// Manager tracks every initialized provider and decides which provider and
// model serve the next request. All methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	providers map[string]*ProviderState
	order     []string
	current   string

	totalRequests int
	totalFailures int
	switchCount   int

	clock            clock.Clock
	classifier       Classifier
	policy           Policy
	credentials      CredentialSource
	discoverer       ModelDiscoverer
	discoveryTimeout time.Duration
	observer         Observer
	logger           *slog.Logger
}

// ManagerOption is a functional option for configuring Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithClassifier replaces the rate-limit classifier.
func WithClassifier(c Classifier) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.classifier = c
		}
	}
}

// WithPolicy sets the failure thresholds.
func WithPolicy(p Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p.normalized()
	}
}

// WithCredentials sets how credential keys are resolved.
func WithCredentials(src CredentialSource) ManagerOption {
	return func(m *Manager) {
		if src != nil {
			m.credentials = src
		}
	}
}

// WithModelDiscoverer enables live model discovery for providers that
// declare a discovery URL.
func WithModelDiscoverer(d ModelDiscoverer, timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.discoverer = d
		if timeout > 0 {
			m.discoveryTimeout = timeout
		}
	}
}

// WithObserver sets the decision observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager initializes every template that has a credential and at least
// one model, then selects the initial provider. It returns a *FatalError
// wrapping ErrNoProviders when nothing could be initialized.
func NewManager(ctx context.Context, templates []ProviderConfig, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		providers:        make(map[string]*ProviderState),
		clock:            clock.New(),
		classifier:       PatternClassifier{},
		policy:           DefaultPolicy(),
		credentials:      os.Getenv,
		discoveryTimeout: DefaultDiscoveryTimeout,
		observer:         NopObserver{},
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	for _, tmpl := range templates {
		cfg, aliased := normalizeAlias(tmpl.clone())
		if aliased {
			m.logger.Info("legacy provider name mapped",
				slog.String("from", tmpl.Name),
				slog.String("to", cfg.Name),
			)
		}
		cfg = cfg.withDefaults()

		if err := cfg.Validate(); err != nil {
			m.logger.Warn("skipping invalid provider", slog.String("error", err.Error()))
			continue
		}
		if _, dup := m.providers[cfg.Name]; dup {
			m.logger.Warn("skipping duplicate provider", slog.String("provider", cfg.Name))
			continue
		}

		credential := m.credentials(cfg.CredentialKey)
		if credential == "" {
			m.logger.Warn("skipping provider without credential",
				slog.String("provider", cfg.Name),
				slog.String("env_var", cfg.CredentialKey),
			)
			continue
		}

		if m.discoverer != nil && cfg.DiscoveryURL != "" {
			if models := m.discover(ctx, cfg, credential); len(models) > 0 {
				cfg.Models = models
			}
		}

		if len(cfg.Models) == 0 {
			m.logger.Warn("skipping provider without models", slog.String("provider", cfg.Name))
			continue
		}

		m.providers[cfg.Name] = newProviderState(cfg)
		m.order = append(m.order, cfg.Name)
		m.logger.Info("provider initialized",
			slog.String("provider", cfg.Name),
			slog.Any("models", cfg.Models),
			slog.Int("priority", cfg.Priority),
		)
	}

	if len(m.providers) == 0 {
		return nil, &FatalError{Op: "init", Err: ErrNoProviders}
	}

	m.current = m.selectLocked(m.clock.Now())
	m.logger.Info("initial provider selected",
		slog.String("provider", m.current),
		slog.String("model", m.providers[m.current].CurrentModel()),
	)

	return m, nil
}

// discover queries the provider's model listing and filters out excluded
// model families. Errors fall back to the static list.
func (m *Manager) discover(ctx context.Context, cfg ProviderConfig, credential string) []string {
	ctx, cancel := context.WithTimeout(ctx, m.discoveryTimeout)
	defer cancel()

	ids, err := m.discoverer.DiscoverModels(ctx, cfg, credential)
	if err != nil {
		m.logger.Warn("model discovery failed, using static models",
			slog.String("provider", cfg.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	models := filterModels(ids, cfg.ExcludeModelPatterns)
	if len(models) == 0 {
		m.logger.Warn("model discovery returned no usable models", slog.String("provider", cfg.Name))
		return nil
	}
	m.logger.Info("discovered live models",
		slog.String("provider", cfg.Name),
		slog.Any("models", models),
	)
	return models
}

func filterModels(ids, exclude []string) []string {
	models := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || containsAny(strings.ToLower(id), exclude) {
			continue
		}
		models = append(models, id)
	}
	return models
}

// Providers returns the initialized provider names in configuration order.
func (m *Manager) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// ProviderConfigs returns copies of the initialized providers' configurations.
func (m *Manager) ProviderConfigs() []ProviderConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	configs := make([]ProviderConfig, 0, len(m.order))
	for _, name := range m.order {
		configs = append(configs, m.providers[name].Config())
	}
	return configs
}

// Policy returns the active failure thresholds.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Current returns the current provider and model.
func (m *Manager) Current() (provider, model string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return "", "", false
	}
	return m.current, m.providers[m.current].CurrentModel(), true
}

// Resolve returns the current selection, selecting a provider first if none
// is current.
func (m *Manager) Resolve() (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		m.current = m.selectLocked(m.clock.Now())
		if m.current == "" {
			return Selection{}, &FatalError{Op: "resolve", Err: ErrNoProviderAvailable}
		}
	}

	state := m.providers[m.current]
	return Selection{
		Provider:   m.current,
		Model:      state.CurrentModel(),
		Driver:     state.config.Driver,
		BaseURL:    state.config.BaseURL,
		Credential: m.credentials(state.config.CredentialKey),
	}, nil
}

// SelectBestAvailable returns the preferred provider name without changing
// the current provider. Cooldowns that have elapsed are cleared.
func (m *Manager) SelectBestAvailable() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.selectLocked(m.clock.Now())
	return name, name != ""
}

// selectLocked picks the lowest-priority available provider with models,
// ties broken by configuration order. When nothing is available it falls
// back to the lowest-priority provider overall.
func (m *Manager) selectLocked(now time.Time) string {
	best, fallback := "", ""
	for _, name := range m.order {
		state := m.providers[name]
		if len(state.config.Models) == 0 {
			continue
		}
		if fallback == "" || state.config.Priority < m.providers[fallback].config.Priority {
			fallback = name
		}

		wasLimited := state.rateLimited
		if !state.checkAvailable(now) {
			continue
		}
		if wasLimited {
			m.logger.Info("provider cooldown elapsed", slog.String("provider", name))
			m.observer.ProviderRecovered(name)
		}
		if best == "" || state.config.Priority < m.providers[best].config.Priority {
			best = name
		}
	}

	if best == "" && fallback != "" {
		m.logger.Warn("no provider available, using degraded fallback", slog.String("provider", fallback))
		return fallback
	}
	return best
}

// CycleModel advances the named provider to its next model. It reports
// whether the model changed.
func (m *Manager) CycleModel(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.providers[name]
	if !ok {
		return false
	}
	return m.cycleLocked(state)
}

func (m *Manager) cycleLocked(state *ProviderState) bool {
	from := state.CurrentModel()
	if !state.cycleModel() {
		return false
	}
	to := state.CurrentModel()
	m.logger.Info("model cycled",
		slog.String("provider", state.config.Name),
		slog.String("from", from),
		slog.String("to", to),
	)
	m.observer.ModelCycled(state.config.Name, from, to)
	return true
}

// ShouldCycle reports whether the named provider's counters call for a
// model rotation.
func (m *Manager) ShouldCycle(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.providers[name]
	if !ok {
		return false
	}
	return state.ShouldCycle(m.policy)
}

// Classify reports whether errText is a rate limit for the named provider.
// Unknown names use the generic pattern set.
func (m *Manager) Classify(errText, provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.providers[provider]; ok {
		cfg := state.config
		return m.classifier.IsRateLimit(errText, &cfg)
	}
	return m.classifier.IsRateLimit(errText, nil)
}

// RecordSuccess records a successful request on the current provider and
// proactively rotates its model every Policy.ProactiveCycleEvery successes.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordSuccessLocked(m.current)
}

// RecordSuccessOn is RecordSuccess for a request served by provider, which
// may no longer be current when requests run concurrently.
func (m *Manager) RecordSuccessOn(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[provider]; !ok {
		provider = m.current
	}
	m.recordSuccessLocked(provider)
}

func (m *Manager) recordSuccessLocked(provider string) {
	m.totalRequests++
	state, ok := m.providers[provider]
	if !ok {
		return
	}
	state.recordSuccess(m.clock.Now())

	if every := m.policy.ProactiveCycleEvery; every > 0 && state.requestCount%every == 0 {
		m.cycleLocked(state)
	}
}

// ForceSwitch makes name the current provider when it is available. An
// empty or unavailable name falls back to automatic selection. It reports
// whether the current provider changed.
func (m *Manager) ForceSwitch(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.providers) == 0 {
		return false, ErrNoProviders
	}

	now := m.clock.Now()
	target := ""
	if state, ok := m.providers[name]; ok && state.checkAvailable(now) {
		target = name
	} else {
		if name != "" {
			m.logger.Warn("requested provider not available, auto-selecting", slog.String("provider", name))
		}
		target = m.selectLocked(now)
	}
	if target == "" {
		return false, ErrNoProviderAvailable
	}
	if target == m.current {
		return false, nil
	}

	m.switchLocked(m.current, target, "forced")
	return true, nil
}

// alternativeLocked selects a provider other than name that is actually
// available. It returns "" when only a degraded fallback is left.
func (m *Manager) alternativeLocked(name string, now time.Time) string {
	next := m.selectLocked(now)
	if next == "" || next == name || !m.providers[next].peekAvailable(now) {
		return ""
	}
	return next
}

// SuspendProvider puts a provider into cooldown, typically because no client
// can be built for it, and reselects. When no other provider is available the
// suspension is undone, as with a forced cooldown. It returns the provider
// that is current afterwards and whether it differs from the suspended one.
func (m *Manager) SuspendProvider(name, reason string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.providers[name]
	if !ok {
		return m.current, false
	}

	now := m.clock.Now()
	wasLimited, lastRateLimit := state.rateLimited, state.lastRateLimit
	state.markRateLimited(now)

	next := m.alternativeLocked(name, now)
	if next == "" {
		// Nowhere to go: undo the suspension.
		state.rateLimited, state.lastRateLimit = wasLimited, lastRateLimit
		m.logger.Warn("provider not suspended, no alternative available",
			slog.String("provider", name),
			slog.String("reason", reason),
		)
		return name, false
	}

	m.logger.Warn("provider suspended",
		slog.String("provider", name),
		slog.String("reason", reason),
		slog.Time("until", state.recoversAt()),
	)
	m.observer.CooldownStarted(name, state.recoversAt())
	if next != m.current {
		m.switchLocked(m.current, next, reason)
	}
	return next, true
}

// ReconcileCooldowns clears every cooldown that has elapsed and returns the
// providers that recovered.
func (m *Manager) ReconcileCooldowns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var recovered []string
	for _, name := range m.order {
		state := m.providers[name]
		if state.rateLimited && state.checkAvailable(now) {
			recovered = append(recovered, name)
			m.observer.ProviderRecovered(name)
		}
	}
	return recovered
}

// NextRecovery returns the cooling-down provider that becomes available
// first. ok is false when no provider is cooling down.
func (m *Manager) NextRecovery() (provider string, at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, name := range m.order {
		state := m.providers[name]
		if state.peekAvailable(now) {
			continue
		}
		if !ok || state.recoversAt().Before(at) {
			provider, at, ok = name, state.recoversAt(), true
		}
	}
	return provider, at, ok
}

func (m *Manager) switchLocked(from, to, reason string) {
	m.current = to
	m.switchCount++
	model := m.providers[to].CurrentModel()
	m.logger.Warn("provider switched",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("model", model),
		slog.String("reason", reason),
	)
	m.observer.ProviderSwitched(from, to, model, reason)
}
