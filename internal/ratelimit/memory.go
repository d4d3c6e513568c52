package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// idleTTL is how long a key may go unused before its limiter is dropped.
	idleTTL       = 10 * time.Minute
	sweepInterval = time.Minute
)

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. It is
// the limiter used by a single ZEUS instance; keys are typically
// "company:<id>:principal:<email>" or "ip:<addr>".
type MemoryLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	closeOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// NewMemoryLimiter returns a limiter refilling rps tokens per second up to
// burst. Idle keys are swept in the background until Close.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return newMemoryLimiter(rps, burst, time.Now)
}

func newMemoryLimiter(rps float64, burst int, now func() time.Time) *MemoryLimiter {
	m := &MemoryLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     now,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow reports whether key may make one more request now.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = now
	m.mu.Unlock()

	return e.lim.AllowN(now, 1), nil
}

// RetryAfter is the time one token takes to refill.
func (m *MemoryLimiter) RetryAfter() time.Duration {
	if m.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(m.limit))
}

// Len returns the number of keys currently tracked.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the sweeper and waits for it to exit. Repeated calls are no-ops.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.stopped
	})
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(m.now())
		}
	}
}

// sweep drops limiters idle since before now-idleTTL.
func (m *MemoryLimiter) sweep(now time.Time) {
	cutoff := now.Add(-idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
