// Package ratelimit provides in-memory fixed-window rate limiting for the
// HTTP API. Limits are per rule prefix and per caller key; a single
// instance is assumed (no cross-instance coordination).
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Rule describes one rate limit: at most Limit requests per Window,
// counted separately per key under the given prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one Allow check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders renders the standard X-RateLimit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter tracks fixed windows per "prefix:key". A background goroutine
// evicts expired windows every minute. Call Close to stop it.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewLimiter creates a limiter and starts its eviction goroutine.
func NewLimiter() *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow records one request against the rule's window for key and reports
// whether it fits the limit.
func (l *Limiter) Allow(_ context.Context, rule Rule, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	k := rule.Prefix + ":" + key
	w, ok := l.windows[k]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[k] = w
	}

	if w.count >= rule.Limit {
		return Result{Allowed: false, Limit: rule.Limit, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - w.count,
		ResetAt:   w.resetAt,
	}
}

// Close stops the eviction goroutine. Safe to call multiple times.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.done) })
	return nil
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictExpired()
		}
	}
}

func (l *Limiter) evictExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
}
