package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpn/gandalf-router/internal/adapter"
	"github.com/hpn/gandalf-router/internal/domain"
)

const (
	// DefaultMaxAttempts is the number of upstream calls per request.
	DefaultMaxAttempts = 3

	// DefaultUpstreamTimeout bounds a single upstream call.
	DefaultUpstreamTimeout = 60 * time.Second
)

// ClientSource hands out a client for the currently selected provider.
type ClientSource interface {
	Client() (adapter.ChatClient, error)
}

// Result is a completed request.
type Result struct {
	Response  adapter.OpenAIResponse
	Provider  string
	Model     string
	Attempts  int
	Estimated bool
}

// DispatchError is returned when every attempt failed.
type DispatchError struct {
	Attempts int
	Provider string
	Model    string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s), last provider %s/%s: %v",
		e.Attempts, e.Provider, e.Model, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher sends completions through the failover manager, retrying on
// the provider and model the manager selects after each failure.
type Dispatcher struct {
	manager         *domain.Manager
	clients         ClientSource
	pacer           *Pacer
	counter         TokenCounter
	maxAttempts     int
	upstreamTimeout time.Duration
	logger          *slog.Logger
}

// DispatcherOption is a functional option for configuring Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPacer paces upstream calls per provider.
func WithPacer(p *Pacer) DispatcherOption {
	return func(d *Dispatcher) {
		d.pacer = p
	}
}

// WithTokenCounter sets the counter used to estimate missing usage.
func WithTokenCounter(c TokenCounter) DispatcherOption {
	return func(d *Dispatcher) {
		d.counter = c
	}
}

// WithMaxAttempts sets the number of upstream calls per request.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithUpstreamTimeout bounds each upstream call.
func WithUpstreamTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.upstreamTimeout = timeout
		}
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(manager *domain.Manager, clients ClientSource, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		manager:         manager,
		clients:         clients,
		counter:         WordCounter{},
		maxAttempts:     DefaultMaxAttempts,
		upstreamTimeout: DefaultUpstreamTimeout,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Manager returns the failover manager.
func (d *Dispatcher) Manager() *domain.Manager {
	return d.manager
}

// Complete runs req against the current provider, applying failure handling
// between attempts. It stops with a fatal error as soon as failure handling
// leaves only cooling providers. Errors from the client source are returned
// unchanged.
func (d *Dispatcher) Complete(ctx context.Context, req adapter.OpenAIRequest) (Result, error) {
	var (
		lastErr  error
		provider string
		model    string
	)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		client, err := d.clients.Client()
		if err != nil {
			return Result{Attempts: attempt - 1}, err
		}
		provider, model = client.Provider(), client.Model()

		if err := d.pacer.Wait(ctx, provider); err != nil {
			return Result{Attempts: attempt - 1}, err
		}

		resp, err := d.call(ctx, client, req)
		if err == nil {
			d.manager.RecordSuccessOn(provider)
			estimated := fillUsage(d.counter, req, &resp)
			if resp.Provider == "" {
				resp.Provider = provider
			}
			return Result{
				Response:  resp,
				Provider:  provider,
				Model:     model,
				Attempts:  attempt,
				Estimated: estimated,
			}, nil
		}

		// A client that went away is not the provider's fault.
		if ctx.Err() != nil {
			return Result{Attempts: attempt}, ctx.Err()
		}

		lastErr = err
		action := d.manager.HandleFailureOn(provider, adapter.FailureText(err), adapter.RateLimitSignal(err))

		d.logger.Warn("upstream request failed",
			slog.Int("attempt", attempt),
			slog.String("provider", provider),
			slog.String("model", model),
			slog.String("action", string(action.Action)),
			slog.String("next_provider", action.Provider),
			slog.String("next_model", action.Model),
			slog.Bool("degraded", action.Degraded),
			slog.String("error", err.Error()),
		)

		// Only cooling providers are left; retrying would hit one of them.
		if action.Action == domain.ActionError || action.Degraded {
			return Result{Attempts: attempt}, &domain.FatalError{
				Op:       "dispatch",
				Provider: provider,
				Model:    model,
				Err:      fmt.Errorf("%w: %v", domain.ErrNoProviderAvailable, err),
			}
		}
	}

	return Result{Attempts: d.maxAttempts}, &DispatchError{
		Attempts: d.maxAttempts,
		Provider: provider,
		Model:    model,
		Err:      lastErr,
	}
}

func (d *Dispatcher) call(ctx context.Context, client adapter.ChatClient, req adapter.OpenAIRequest) (adapter.OpenAIResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.upstreamTimeout)
	defer cancel()

	resp, err := client.ChatCompletion(callCtx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return resp, fmt.Errorf("upstream timeout after %s: %w", d.upstreamTimeout, err)
	}
	return resp, err
}
