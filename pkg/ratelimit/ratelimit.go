package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates check-in ingestion per (slug, environment) key.
// Allow reports whether one more event fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is a fixed-quota sliding window counter held in process.
// Used for tests and single-node deployments; multi-node deployments use
// the redis-backed limiter so all ingest nodes share one window.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	quota   int64
	span    time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(quota int64, span time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		quota:   quota,
		span:    span,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.span)}
		return true, nil
	}

	if w.count >= l.quota {
		return false, nil
	}
	w.count++
	return true, nil
}
