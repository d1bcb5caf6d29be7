package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hpn/gandalf-router/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelDiscoverer_DiscoverModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer gsk_live", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"id":"llama-3.1-8b-instant","object":"model"},
			{"id":"whisper-large-v3","object":"model"}
		]}`))
	}))
	defer server.Close()

	d := NewModelDiscoverer(nil)
	ids, err := d.DiscoverModels(context.Background(), domain.ProviderConfig{Name: "groq", DiscoveryURL: server.URL}, "gsk_live")

	require.NoError(t, err)
	assert.Equal(t, []string{"llama-3.1-8b-instant", "whisper-large-v3"}, ids)
}

func TestModelDiscoverer_Errors(t *testing.T) {
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer unauthorized.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer garbage.Close()

	d := NewModelDiscoverer(nil)

	_, err := d.DiscoverModels(context.Background(), domain.ProviderConfig{Name: "groq", DiscoveryURL: unauthorized.URL}, "bad")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.DiscoverModels(ctx, domain.ProviderConfig{Name: "groq", DiscoveryURL: slow.URL}, "k")
	assert.Error(t, err)

	_, err = d.DiscoverModels(context.Background(), domain.ProviderConfig{Name: "groq", DiscoveryURL: garbage.URL}, "k")
	assert.Error(t, err)

	_, err = d.DiscoverModels(context.Background(), domain.ProviderConfig{Name: "groq"}, "k")
	assert.Error(t, err)
}

func TestModelDiscoverer_WithManager(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"llama-guard-4"},{"id":"qwen-qwq-32b"},{"id":"distil-whisper"}]}`))
	}))
	defer server.Close()

	m, err := domain.NewManager(context.Background(),
		[]domain.ProviderConfig{{
			Name:                 "grok",
			CredentialKey:        "GROK_API_KEY",
			DiscoveryURL:         server.URL,
			ExcludeModelPatterns: domain.GroqExcludedModelPatterns,
		}},
		domain.WithCredentials(func(key string) string {
			if key == "GROQ_API_KEY" {
				return "gsk_x"
			}
			return ""
		}),
		domain.WithModelDiscoverer(NewModelDiscoverer(server.Client()), time.Second),
		domain.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	cfg := m.ProviderConfigs()[0]
	assert.Equal(t, "groq", cfg.Name)
	assert.Equal(t, []string{"qwen-qwq-32b"}, cfg.Models)
}
