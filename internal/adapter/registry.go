package adapter

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/hpn/gandalf-router/internal/domain"
)

// Builder constructs a ChatClient for the manager's current selection.
type Builder interface {
	Build(sel domain.Selection) (ChatClient, error)
}

// Constructor creates a client for one driver.
type Constructor func(apiKey, model string, opts ...Option) ChatClient

// Registry maps drivers to constructors. Adding a provider family means
// registering one constructor.
type Registry struct {
	mu           sync.RWMutex
	constructors map[domain.Driver]Constructor
	httpClient   *http.Client
}

// NewRegistry returns a Registry with every built-in driver registered.
// A nil httpClient uses a client with DefaultTimeout.
func NewRegistry(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	r := &Registry{
		constructors: make(map[domain.Driver]Constructor),
		httpClient:   httpClient,
	}
	r.Register(domain.DriverGemini, func(apiKey, model string, opts ...Option) ChatClient {
		return NewGeminiAdapter(apiKey, model, opts...)
	})
	r.Register(domain.DriverOpenAICompatible, func(apiKey, model string, opts ...Option) ChatClient {
		return NewOpenAICompatAdapter(apiKey, model, opts...)
	})
	r.Register(domain.DriverOpenAI, func(apiKey, model string, opts ...Option) ChatClient {
		return NewOpenAIAdapter(apiKey, model, opts...)
	})
	r.Register(domain.DriverAnthropic, func(apiKey, model string, opts ...Option) ChatClient {
		return NewAnthropicAdapter(apiKey, model, opts...)
	})
	return r
}

// Register adds or replaces the constructor for driver. A nil constructor
// removes it.
func (r *Registry) Register(driver domain.Driver, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctor == nil {
		delete(r.constructors, driver)
		return
	}
	r.constructors[driver] = ctor
}

// Build implements Builder.
func (r *Registry) Build(sel domain.Selection) (ChatClient, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[sel.Driver]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: driver %q for provider %s", ErrDriverUnavailable, sel.Driver, sel.Provider)
	}
	if sel.Model == "" {
		return nil, fmt.Errorf("provider %s has no model selected", sel.Provider)
	}

	opts := []Option{
		WithProviderName(sel.Provider),
		WithHTTPClient(r.httpClient),
	}
	if sel.BaseURL != "" {
		opts = append(opts, WithBaseURL(sel.BaseURL))
	}
	return ctor(sel.Credential, sel.Model, opts...), nil
}
