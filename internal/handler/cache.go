package handler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/hpn/gandalf-router/internal/adapter"
	"github.com/hpn/gandalf-router/internal/ui"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLY CACHE
// ══════════════════════════════════════════════════════════════════════════════
//
// Replies are stored under the provider and model that produced them. A
// request is answered from the cache only while the manager still selects
// that provider and model, so a failover never serves a stale provider's reply.
//
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultCacheTTL is how long a reply stays valid.
	DefaultCacheTTL = 5 * time.Minute

	// CleanupInterval is how often expired replies are swept.
	CleanupInterval = time.Minute
)

// SelectionSource reports the provider and model the next request would use.
// *domain.Manager implements it.
type SelectionSource interface {
	Current() (provider, model string, ok bool)
}

// CacheKey identifies a reply.
type CacheKey struct {
	Provider string
	Model    string
	Digest   string
}

// CacheEntry is a stored reply.
type CacheEntry struct {
	Body     []byte
	StoredAt time.Time
	ExpireAt time.Time
}

// IsExpired reports whether the entry has expired at now. An entry is still
// valid at its expiry instant.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpireAt)
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// FlashCache is an in-memory reply cache safe for concurrent use.
type FlashCache struct {
	mu      sync.Mutex
	entries map[CacheKey]*CacheEntry
	hits    int64
	misses  int64

	ttl     time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	console *ui.Console

	stop     chan struct{}
	stopOnce sync.Once
}

// FlashCacheOption is a functional option for configuring FlashCache.
type FlashCacheOption func(*FlashCache)

// WithCacheTTL sets how long replies stay valid.
func WithCacheTTL(ttl time.Duration) FlashCacheOption {
	return func(c *FlashCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheLogger sets a custom logger.
func WithCacheLogger(logger *slog.Logger) FlashCacheOption {
	return func(c *FlashCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheClock sets the clock used for expiry and sweeping.
func WithCacheClock(clk clock.Clock) FlashCacheOption {
	return func(c *FlashCache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithCacheConsole prints cache hits to the console.
func WithCacheConsole(console *ui.Console) FlashCacheOption {
	return func(c *FlashCache) {
		c.console = console
	}
}

// NewFlashCache creates a FlashCache and starts its sweeper. Call Close to
// stop it.
func NewFlashCache(opts ...FlashCacheOption) *FlashCache {
	c := &FlashCache{
		entries: make(map[CacheKey]*CacheEntry),
		ttl:     DefaultCacheTTL,
		clock:   clock.New(),
		logger:  slog.Default(),
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop()
	return c
}

// RequestDigest hashes a chat completion body with the caller's model name
// removed, since the gateway decides which model serves it. Malformed,
// empty and streaming requests are not cacheable.
func RequestDigest(body []byte) (string, bool) {
	var req adapter.OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Stream || len(req.Messages) == 0 {
		return "", false
	}
	req.Model = ""

	normalized, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), true
}

// Get returns the reply stored under key. Expired replies are dropped.
func (c *FlashCache) Get(key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && entry.IsExpired(c.clock.Now()) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	return entry.Body, true
}

// Set stores body under key for the configured TTL.
func (c *FlashCache) Set(key CacheKey, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.entries[key] = &CacheEntry{
		Body:     body,
		StoredAt: now,
		ExpireAt: now.Add(c.ttl),
	}
}

// Stats returns the current counters.
func (c *FlashCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// Close stops the sweeper.
func (c *FlashCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *FlashCache) sweepLoop() {
	ticker := c.clock.Ticker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.sweep(); removed > 0 {
				c.logger.Debug("expired replies swept",
					slog.Int("removed", removed),
					slog.Int("remaining", c.Stats().Entries),
				)
			}
		case <-c.stop:
			return
		}
	}
}

// sweep drops every expired reply and returns how many were removed.
func (c *FlashCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// serve writes a cached reply and stops the handler chain.
func (c *FlashCache) serve(ctx *gin.Context, key CacheKey, body []byte) {
	start := c.clock.Now()

	ctx.Set(ctxCacheHit, true)
	ctx.Set(ctxProvider, key.Provider)
	ctx.Set(ctxModel, key.Model)
	ctx.Header(headerProvider, key.Provider)
	ctx.Header(headerModel, key.Model)
	ctx.Header(headerCache, "hit")
	ctx.Data(http.StatusOK, "application/json", body)
	ctx.Abort()

	latency := c.clock.Since(start)
	c.logger.Info("cache hit",
		slog.String("provider", key.Provider),
		slog.String("model", key.Model),
		slog.String("digest", key.Digest[:12]),
	)
	if c.console != nil {
		c.console.PrintCacheHit(ui.ServedBy(key.Provider, key.Model), key.Digest, latency)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// CacheMiddleware answers a chat completion from the cache when the provider
// and model selection currently reports already served the same request, and
// stores successful replies under the provider and model that served them.
func CacheMiddleware(cache *FlashCache, selection SelectionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || !isCompletionPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			c.Next()
			return
		}

		digest, ok := RequestDigest(body)
		if !ok {
			c.Next()
			return
		}

		if provider, model, ok := selection.Current(); ok {
			key := CacheKey{Provider: provider, Model: model, Digest: digest}
			if reply, found := cache.Get(key); found {
				cache.serve(c, key, reply)
				return
			}
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		key := CacheKey{Provider: c.GetString(ctxProvider), Model: c.GetString(ctxModel), Digest: digest}
		if recorder.Status() != http.StatusOK || key.Provider == "" {
			return
		}
		cache.Set(key, recorder.body.Bytes())
		cache.logger.Debug("reply cached",
			slog.String("provider", key.Provider),
			slog.String("model", key.Model),
			slog.Int("size_bytes", recorder.body.Len()),
		)
	}
}

func isCompletionPath(path string) bool {
	return path == "/v1/chat/completions" || path == "/chat/completions"
}

// bodyRecorder copies the response body while writing it through.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
