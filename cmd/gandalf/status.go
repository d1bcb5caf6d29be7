package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpn/gandalf-router/internal/domain"
	"github.com/hpn/gandalf-router/internal/ui"
	"gopkg.in/yaml.v3"
)

// StatusCmd prints the failover status of a running gateway, or of a fresh
// manager built from the local configuration.
type StatusCmd struct {
	Output string `help:"Output format." short:"o" enum:"table,json,yaml" default:"table"`
	URL    string `help:"Base URL of a running gateway, e.g. http://localhost:8080." name:"url"`
}

func (c *StatusCmd) Run(g *Globals) error {
	ctx := context.Background()

	var report domain.StatusReport
	if c.URL != "" {
		r, err := fetchStatus(ctx, c.URL)
		if err != nil {
			return err
		}
		report = r
	} else {
		rt, err := newRuntime(ctx, g, false)
		if err != nil {
			return err
		}
		defer rt.Close()
		report = rt.manager.Status()
	}

	return writeStatus(g.stdout, report, c.Output)
}

func writeStatus(w io.Writer, report domain.StatusReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return ui.RenderStatus(w, report)
	}
}

// fetchStatus reads GET /status from a running gateway.
func fetchStatus(ctx context.Context, baseURL string) (domain.StatusReport, error) {
	var report domain.StatusReport

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimSuffix(baseURL, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return report, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return report, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("gateway status returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("failed to decode status: %w", err)
	}
	return report, nil
}
