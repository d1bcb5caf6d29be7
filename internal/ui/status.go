package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hpn/gandalf-router/internal/domain"
)

var statusHeaders = []string{"PROVIDER", "PRI", "MODEL", "STATE", "REQ", "FAIL", "CF", "SUCCESS", "RPM", "KEY"}

// RenderStatus writes a StatusReport as a summary line and a provider table.
func RenderStatus(w io.Writer, report domain.StatusReport) error {
	current := orNone(ServedBy(report.CurrentProvider, report.CurrentModel))

	if _, err := fmt.Fprintf(w, "current: %s | requests: %d | failures: %d | switches: %d | success: %.1f%%\n",
		current, report.TotalRequests, report.TotalFailures, report.ProviderSwitches, report.SuccessRate); err != nil {
		return err
	}

	rows := make([][]string, 0, len(report.Providers))
	for _, p := range report.Providers {
		name := p.Name
		if p.Name == report.CurrentProvider {
			name = "* " + name
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(p.Priority),
			fmt.Sprintf("%s (%d)", p.CurrentModel, len(p.Models)),
			providerState(p),
			strconv.Itoa(p.RequestCount),
			strconv.Itoa(p.FailureCount),
			strconv.Itoa(p.ConsecutiveFailures),
			fmt.Sprintf("%.1f%%", p.SuccessRate),
			strconv.Itoa(p.MaxRequestsPerMinute),
			p.CredentialKey,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(statusHeaders...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.String())
	return err
}

func providerState(p domain.ProviderStatus) string {
	switch {
	case p.Available && p.RateLimited:
		return "recovered"
	case p.Available:
		return "available"
	default:
		return "cooldown " + p.CooldownRemaining.Round(time.Second).String()
	}
}

// FormatModels renders a provider's models with the current one marked.
func FormatModels(p domain.ProviderStatus) string {
	parts := make([]string, len(p.Models))
	for i, m := range p.Models {
		if m == p.CurrentModel {
			m = "[" + m + "]"
		}
		parts[i] = m
	}
	return strings.Join(parts, ", ")
}

var providerHeaders = []string{"PROVIDER", "PRI", "DRIVER", "KEY", "SET", "MODELS"}

// RenderProviders writes the configured provider table. hasCredential
// reports whether a credential variable is set.
func RenderProviders(w io.Writer, templates []domain.ProviderConfig, hasCredential func(key string) bool) error {
	rows := make([][]string, 0, len(templates))
	for _, p := range templates {
		set := "no"
		if hasCredential != nil && hasCredential(p.CredentialKey) {
			set = "yes"
		}
		rows = append(rows, []string{
			p.Name,
			strconv.Itoa(p.Priority),
			string(p.Driver),
			p.CredentialKey,
			set,
			strings.Join(p.Models, "\n"),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(providerHeaders...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.String())
	return err
}
