// Package ui provides the colorized console output of the router: startup
// info, request lines and live failover events.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/hpn/gandalf-router/internal/domain"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Badge colors
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	// Text colors
	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)

	// Special colors
	neonBlue = color.New(color.FgHiCyan, color.Bold)

	// Method colors
	methodPOST = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET  = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
)

// Console writes styled lines to a terminal. It implements domain.Observer
// so failover events show up as they happen.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

var _ domain.Observer = (*Console)(nil)

// NewConsole creates a Console writing to out, or to color.Output when out is nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = color.Output
	}
	return &Console{out: out, now: time.Now}
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILOVER EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// ProviderSwitched logs a provider failover.
// Format: ⚠️ [SWITCHING] from → to (model) reason
func (c *Console) ProviderSwitched(from, to, model, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, "⚠️  ")
	warningBadge.Fprint(c.out, "[SWITCHING]")
	fmt.Fprint(c.out, " ")
	mutedText.Fprint(c.out, orNone(from))
	warningText.Fprint(c.out, " → ")
	accentText.Fprint(c.out, to)
	mutedText.Fprintf(c.out, " (%s) %s\n", model, reason)
}

// ModelCycled logs a model rotation within a provider.
// Format: 🔄 [CYCLE] provider from → to
func (c *Console) ModelCycled(provider, from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, "🔄 ")
	infoBadge.Fprint(c.out, "[CYCLE]")
	fmt.Fprint(c.out, " ")
	accentText.Fprint(c.out, provider)
	fmt.Fprint(c.out, " ")
	mutedText.Fprint(c.out, from)
	infoText.Fprint(c.out, " → ")
	infoText.Fprintln(c.out, to)
}

// CooldownStarted logs a provider entering cooldown.
// Format: 🧊 [COOLDOWN] provider until 15:04:05
func (c *Console) CooldownStarted(provider string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, "🧊 ")
	errorBadge.Fprint(c.out, " COOLDOWN ")
	fmt.Fprint(c.out, " ")
	errorText.Fprint(c.out, provider)
	mutedText.Fprintf(c.out, " until %s\n", until.Format("15:04:05"))
}

// ProviderRecovered logs a provider whose cooldown elapsed.
// Format: [RECOVERED] provider
func (c *Console) ProviderRecovered(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	successBadge.Fprint(c.out, " RECOVERED ")
	fmt.Fprint(c.out, " ")
	successText.Fprintln(c.out, provider)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS BADGES
// ══════════════════════════════════════════════════════════════════════════════

// PrintSuccess logs a successful request with green styling.
// Format: [200 OK] message
func (c *Console) PrintSuccess(status int, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	successBadge.Fprintf(c.out, " %d OK ", status)
	fmt.Fprint(c.out, " ")
	successText.Fprintln(c.out, msg)
}

// PrintRouterInfo logs general router information.
// Format: [ROUTER] message
func (c *Console) PrintRouterInfo(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infoBadge.Fprint(c.out, "[ROUTER]")
	fmt.Fprint(c.out, " ")
	infoText.Fprintln(c.out, msg)
}

// PrintCacheHit logs a reply served from the cache.
// Format: ⚡ CACHE HIT | key:xxxx...xxxx | provider/model | 0ms
func (c *Console) PrintCacheHit(servedBy, digest string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	neonBlue.Fprint(c.out, "⚡ CACHE HIT ")
	fmt.Fprint(c.out, "| key:")
	mutedText.Fprint(c.out, maskKeyShort(digest))
	fmt.Fprint(c.out, " | ")
	accentText.Fprint(c.out, servedBy)
	fmt.Fprint(c.out, " | ")
	successText.Fprintf(c.out, "%dms\n", latency.Milliseconds())
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// PrintRequest logs a request with styled output.
// Color-codes status, method, and latency for quick visual parsing.
func (c *Console) PrintRequest(method, path string, status int, latency time.Duration, served string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mutedText.Fprintf(c.out, "%s ", c.now().Format("15:04:05"))

	c.printMethodBadge(method)
	fmt.Fprint(c.out, " ")

	fmt.Fprintf(c.out, "%-30s ", truncatePath(path, 30))

	c.printStatusBadge(status)
	fmt.Fprint(c.out, " ")

	c.printLatency(latency)

	if served != "" {
		mutedText.Fprintf(c.out, " via:%s", served)
	}

	fmt.Fprintln(c.out)
}

// printMethodBadge prints the HTTP method with appropriate color.
func (c *Console) printMethodBadge(method string) {
	switch method {
	case "POST":
		methodPOST.Fprintf(c.out, " %s ", method)
	case "GET":
		methodGET.Fprintf(c.out, " %s ", method)
	default:
		debugBadge.Fprintf(c.out, " %s ", method)
	}
}

// printStatusBadge prints the status code with appropriate color.
func (c *Console) printStatusBadge(status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Fprintf(c.out, " %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Fprintf(c.out, " %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Fprintf(c.out, " %d ", status)
	default:
		errorBadge.Fprintf(c.out, " %d ", status)
	}
}

// printLatency prints latency with color gradient.
// Green: < 1s, Yellow: < 5s, Red: >= 5s
func (c *Console) printLatency(latency time.Duration) {
	ms := latency.Milliseconds()
	latencyStr := fmt.Sprintf("%5dms", ms)

	switch {
	case ms < 1000:
		successText.Fprint(c.out, latencyStr)
	case ms < 5000:
		warningText.Fprint(c.out, latencyStr)
	default:
		errorText.Fprint(c.out, latencyStr)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// maskKeyShort returns a short masked version of a key.
// Format: xxxx...xxxx
func maskKeyShort(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// truncatePath truncates a path to maxLen characters.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// ServedBy renders provider and model as "provider/model" without repeating
// a provider prefix the model id already carries.
func ServedBy(provider, model string) string {
	switch {
	case model == "":
		return provider
	case provider == "" || strings.HasPrefix(model, provider+"/"):
		return model
	}
	return provider + "/" + model
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// PrintStartupInfo prints styled server startup information.
func (c *Console) PrintStartupInfo(addr string, providers []string, current, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	infoBadge.Fprint(c.out, "[ROUTER]")
	fmt.Fprint(c.out, " Server starting on ")
	neonBlue.Fprintf(c.out, "http://%s\n", addr)

	infoBadge.Fprint(c.out, "[ROUTER]")
	fmt.Fprint(c.out, " Providers: ")
	if len(providers) > 0 {
		successText.Fprintf(c.out, "%d", len(providers))
	} else {
		errorText.Fprint(c.out, "0")
	}
	fmt.Fprint(c.out, " | Active: ")
	accentText.Fprintln(c.out, orNone(ServedBy(current, model)))

	fmt.Fprintln(c.out)
	c.printEndpoints()
}

// printEndpoints prints the available API endpoints.
func (c *Console) printEndpoints() {
	endpoints := []struct{ method, path, desc string }{
		{"POST", "/v1/chat/completions", "Chat completion (OpenAI-compatible)"},
		{"GET", "/v1/models", "List configured models"},
		{"GET", "/health", "Health check"},
		{"GET", "/status", "Failover status report"},
	}

	mutedText.Fprintln(c.out, "  ┌──────────────────────────────────────────────────────────────┐")
	for _, e := range endpoints {
		mutedText.Fprint(c.out, "  │ ")
		c.printMethodBadge(e.method)
		fmt.Fprintf(c.out, "%*s %-22s", 4-len(e.method), "", e.path)
		mutedText.Fprintf(c.out, " %-35s", e.desc)
		mutedText.Fprintln(c.out, "│")
	}
	mutedText.Fprintln(c.out, "  └──────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(c.out)
}

// PrintShutdown prints a styled shutdown message.
func (c *Console) PrintShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	warningBadge.Fprint(c.out, "[SHUTDOWN]")
	warningText.Fprintln(c.out, " Graceful shutdown initiated...")
}

// PrintGoodbye prints a styled goodbye message.
func (c *Console) PrintGoodbye() {
	c.mu.Lock()
	defer c.mu.Unlock()

	successBadge.Fprint(c.out, " OK ")
	fmt.Fprint(c.out, " ")
	successText.Fprintln(c.out, "Server stopped. Goodbye! 👋")
}
