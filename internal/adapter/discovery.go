package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hpn/gandalf-router/internal/domain"
)

// ModelDiscoverer lists models from an OpenAI-style /models endpoint.
type ModelDiscoverer struct {
	httpClient *http.Client
}

// NewModelDiscoverer creates a ModelDiscoverer. Timeouts come from the
// caller's context.
func NewModelDiscoverer(httpClient *http.Client) *ModelDiscoverer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ModelDiscoverer{httpClient: httpClient}
}

// DiscoverModels implements domain.ModelDiscoverer. It returns every model
// id in listing order; filtering is left to the manager.
func (d *ModelDiscoverer) DiscoverModels(ctx context.Context, provider domain.ProviderConfig, credential string) ([]string, error) {
	if provider.DiscoveryURL == "" {
		return nil, fmt.Errorf("provider %s has no discovery url", provider.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.DiscoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s models: %w", provider.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Provider: provider.Name, StatusCode: resp.StatusCode, Message: string(body)}
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode %s model list: %w", provider.Name, err)
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
