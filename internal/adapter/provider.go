// Package adapter provides implementations for external AI provider integrations.
// It uses the Adapter pattern to abstract provider-specific APIs behind a common interface.
package adapter

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 60 * time.Second

// ChatClient is a client bound to one provider and one model.
type ChatClient interface {
	// ChatCompletion performs a chat completion request. The request's Model
	// field is ignored; the bound model is used and reported in the response.
	ChatCompletion(ctx context.Context, req OpenAIRequest) (OpenAIResponse, error)

	// Provider returns the provider name the client was built for.
	Provider() string

	// Model returns the model the client sends requests to.
	Model() string
}

// clientOptions is shared by every adapter constructor.
type clientOptions struct {
	provider   string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring adapters.
type Option func(*clientOptions)

// WithProviderName sets the provider name reported by the client.
func WithProviderName(name string) Option {
	return func(o *clientOptions) {
		o.provider = name
	}
}

// WithBaseURL sets a custom base URL for the provider API.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		c := *o.httpClient
		c.Timeout = timeout
		o.httpClient = &c
	}
}

func newClientOptions(defaultProvider string, opts []Option) clientOptions {
	o := clientOptions{
		provider:   defaultProvider,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// upstreamModel strips a "provider/" routing prefix from a configured model id.
func upstreamModel(provider, model string) string {
	return strings.TrimPrefix(model, provider+"/")
}
