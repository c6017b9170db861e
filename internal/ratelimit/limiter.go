// Package ratelimit implements the per-host admission gate bounding both
// concurrency and sustained request rate.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrapekit/scrapekit/internal/metrics"
)

// HostConfig bounds one host: at most MaxConcurrent in-flight fetches, and
// a sustained rate of one fetch per MinInterval. Tokens refill one per
// MinInterval up to a burst of MaxConcurrent, so short bursts up to the cap
// are allowed while the sustained rate stays bounded (leaky bucket).
type HostConfig struct {
	MaxConcurrent int
	MinInterval   time.Duration
}

// Config holds the global default plus optional per-host overrides keyed by
// lowercase hostname.
type Config struct {
	Default HostConfig
	PerHost map[string]HostConfig
}

// Limiter manages independent per-host buckets. State for a host is created
// lazily on first acquire and kept for the process lifetime, so no host can
// starve another.
type Limiter struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	def       HostConfig
	overrides map[string]HostConfig
}

type hostState struct {
	slots   chan struct{}
	limiter *rate.Limiter
}

// New creates a Limiter. A non-positive default MaxConcurrent is treated
// as 1; a non-positive MinInterval disables the rate bound for that host.
func New(cfg Config) *Limiter {
	overrides := make(map[string]HostConfig, len(cfg.PerHost))
	for host, hc := range cfg.PerHost {
		overrides[strings.ToLower(host)] = hc
	}
	return &Limiter{
		hosts:     make(map[string]*hostState),
		def:       cfg.Default,
		overrides: overrides,
	}
}

// Acquire blocks until host has both a free concurrency slot and a rate
// token, or ctx ends. The returned release function must be called on every
// exit path; it only returns the concurrency slot (rate tokens are consumed,
// not returned).
func (l *Limiter) Acquire(ctx context.Context, host string) (func(), error) {
	state := l.stateFor(host)
	start := time.Now()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire slot for %s: %w", host, ctx.Err())
	case state.slots <- struct{}{}:
	}

	if err := state.limiter.Wait(ctx); err != nil {
		<-state.slots
		return nil, fmt.Errorf("rate wait for %s: %w", host, err)
	}

	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-state.slots })
	}, nil
}

// InFlight reports the number of currently held slots for host. Intended
// for introspection and tests.
func (l *Limiter) InFlight(host string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.hosts[strings.ToLower(host)]
	if !ok {
		return 0
	}
	return len(state.slots)
}

func (l *Limiter) stateFor(host string) *hostState {
	key := strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.hosts[key]; ok {
		return state
	}

	hc := l.def
	if override, ok := l.overrides[key]; ok {
		hc = override
	}
	if hc.MaxConcurrent <= 0 {
		hc.MaxConcurrent = 1
	}
	limit := rate.Inf
	if hc.MinInterval > 0 {
		limit = rate.Every(hc.MinInterval)
	}

	state := &hostState{
		slots:   make(chan struct{}, hc.MaxConcurrent),
		limiter: rate.NewLimiter(limit, hc.MaxConcurrent),
	}
	l.hosts[key] = state
	return state
}
