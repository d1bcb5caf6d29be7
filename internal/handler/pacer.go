package handler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/ratelimit"
)

// Pacer spaces requests to each provider according to its per-minute quota.
type Pacer struct {
	mu       sync.Mutex
	clock    clock.Clock
	quotas   map[string]int
	limiters map[string]ratelimit.Limiter
}

// NewPacer creates a Pacer from provider quotas. Providers without a positive
// quota are not paced.
func NewPacer(quotas map[string]int, clk clock.Clock) *Pacer {
	if clk == nil {
		clk = clock.New()
	}
	q := make(map[string]int, len(quotas))
	for name, rpm := range quotas {
		if rpm > 0 {
			q[name] = rpm
		}
	}
	return &Pacer{
		clock:    clk,
		quotas:   q,
		limiters: make(map[string]ratelimit.Limiter),
	}
}

func (p *Pacer) limiter(provider string) ratelimit.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[provider]; ok {
		return l
	}
	rpm, ok := p.quotas[provider]
	if !ok {
		return nil
	}
	l := ratelimit.New(rpm,
		ratelimit.Per(time.Minute),
		ratelimit.WithClock(p.clock),
		ratelimit.WithoutSlack,
	)
	p.limiters[provider] = l
	return l
}

// Wait blocks until the next request to provider may be sent, or ctx ends.
func (p *Pacer) Wait(ctx context.Context, provider string) error {
	if p == nil {
		return nil
	}
	l := p.limiter(provider)
	if l == nil {
		return nil
	}

	// Take is not cancellable; an abandoned Take still reserves its slot.
	done := make(chan struct{})
	go func() {
		l.Take()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
