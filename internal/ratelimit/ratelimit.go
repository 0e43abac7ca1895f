// Package ratelimit gates voucher generation and redemption attempts with
// per-key fixed-window counters.
//
// The Memory implementation holds counters in-process, which is only
// correct for a single-instance deployment; the Limiter interface is the
// seam for substituting a shared backing store without touching call
// sites.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	ResetAtMS int64 `json:"reset_at_ms"`
}

// Limiter admits or rejects an attempt for a key within a fixed window.
type Limiter interface {
	Allow(key string, max int, window time.Duration) Decision
}

// Memory is an in-process fixed-window limiter. Safe for concurrent use:
// the window-boundary check and counter increment happen under one lock.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window

	// Injectable clock for testing.
	now func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewMemory creates an in-process limiter.
func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one attempt against the key's current window.
func (m *Memory) Allow(key string, max int, windowDur time.Duration) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= windowDur {
		w = &window{start: now}
		m.windows[key] = w
	}
	resetAt := w.start.Add(windowDur).UnixMilli()

	if w.count >= max {
		return Decision{Allowed: false, Remaining: 0, ResetAtMS: resetAt}
	}
	w.count++
	return Decision{
		Allowed:   true,
		Remaining: max - w.count,
		ResetAtMS: resetAt,
	}
}

// Prune drops windows that ended before the cutoff. Callers may run it
// periodically; correctness does not depend on it.
func (m *Memory) Prune(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, w := range m.windows {
		if now.Sub(w.start) >= olderThan {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// KeyCount returns how many keys currently hold a window.
func (m *Memory) KeyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
