package adapter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hpn/gandalf-router/internal/domain"
)

// Factory turns the manager's current selection into a working ChatClient,
// routing construction problems through the manager's recovery policy.
type Factory struct {
	manager  *domain.Manager
	builder  Builder
	logger   *slog.Logger
	maxSteps int
}

// FactoryOption is a functional option for configuring Factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets a custom logger.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMaxSteps caps the number of resolve/build rounds per Client call.
func WithMaxSteps(n int) FactoryOption {
	return func(f *Factory) {
		if n > 0 {
			f.maxSteps = n
		}
	}
}

// NewFactory creates a Factory.
func NewFactory(manager *domain.Manager, builder Builder, opts ...FactoryOption) *Factory {
	f := &Factory{
		manager: manager,
		builder: builder,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.maxSteps == 0 {
		// Enough rounds to exhaust every provider through the switch threshold.
		f.maxSteps = len(manager.Providers())*(manager.Policy().SwitchAfterFailures+1) + 1
	}
	return f
}

// Client returns a client for the current provider and model. It fails with
// a *domain.FatalError when recovery cannot make progress.
func (f *Factory) Client() (ChatClient, error) {
	for step := 0; step < f.maxSteps; step++ {
		sel, err := f.manager.Resolve()
		if err != nil {
			return nil, err
		}

		if sel.Credential == "" {
			f.logger.Warn("credential missing for selected provider", slog.String("provider", sel.Provider))
			notLimited := false
			action := f.manager.HandleFailureOn(sel.Provider, fmt.Sprintf("credential for %s is not set", sel.Provider), &notLimited)
			if err := checkProgress(sel, action, errors.New("missing credential")); err != nil {
				return nil, err
			}
			continue
		}

		client, err := f.builder.Build(sel)
		if err == nil {
			return client, nil
		}

		if errors.Is(err, ErrDriverUnavailable) {
			f.logger.Error("client driver unavailable",
				slog.String("provider", sel.Provider),
				slog.String("error", err.Error()),
			)
			if _, switched := f.manager.SuspendProvider(sel.Provider, "driver unavailable"); !switched {
				return nil, &domain.FatalError{Op: "client", Provider: sel.Provider, Model: sel.Model, Err: err}
			}
			continue
		}

		f.logger.Warn("client construction failed",
			slog.String("provider", sel.Provider),
			slog.String("model", sel.Model),
			slog.String("error", err.Error()),
		)
		notLimited := false
		action := f.manager.HandleFailureOn(sel.Provider, err.Error(), &notLimited)
		if err := checkProgress(sel, action, err); err != nil {
			return nil, err
		}
	}

	return nil, &domain.FatalError{Op: "client", Err: domain.ErrNoProgress}
}

// checkProgress fails when failure handling left the same provider and model
// selected, or could not select anything.
func checkProgress(sel domain.Selection, action domain.FailureAction, cause error) error {
	if action.Action == domain.ActionError {
		return &domain.FatalError{
			Op:       "client",
			Provider: sel.Provider,
			Model:    sel.Model,
			Err:      fmt.Errorf("%w: %v", domain.ErrNoProviderAvailable, cause),
		}
	}
	if action.Provider == sel.Provider && action.Model == sel.Model {
		return &domain.FatalError{
			Op:       "client",
			Provider: sel.Provider,
			Model:    sel.Model,
			Err:      fmt.Errorf("%w: %v", domain.ErrNoProgress, cause),
		}
	}
	return nil
}
