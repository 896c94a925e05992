// Package ratelimit implements the per-client login attempt budget.
//
// State is held in process memory and is not shared across replicas; a
// multi-instance deployment would need an external shared counter store,
// which is out of scope for a single-instance deployment.
package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery is the amortization factor for the lazy cleanup of expired
// entries: every sweepEvery-th Check call scans the whole map. Stale
// entries are reset on their next access regardless, so the sweep only
// bounds memory, never correctness.
const sweepEvery = 1000

// Result is the outcome of a single consumed attempt.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

type entry struct {
	attempts int
	resetAt  time.Time
}

// Limiter is a sliding-window attempt counter keyed by client identity.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*entry
	calls   uint64
	now     func() time.Time
}

// New constructs a Limiter allowing max attempts per identity per window.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check consumes one attempt for identity and reports whether it is within
// budget. The read-modify-write on the entry map is atomic with respect to
// concurrent callers for the same identity.
func (l *Limiter) Check(id string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweepLocked(now)
	}

	e, ok := l.entries[id]
	if !ok || e.resetAt.Before(now) {
		// First attempt in a window, or the window expired
		l.entries[id] = &entry{attempts: 1, resetAt: now.Add(l.window)}
		return Result{Allowed: true, Remaining: l.max - 1}
	}

	e.attempts++
	if e.attempts > l.max {
		return Result{Allowed: false, Remaining: 0, RetryAfter: e.resetAt.Sub(now)}
	}
	return Result{Allowed: true, Remaining: l.max - e.attempts}
}

// Reset forgets the entry for identity. Intended for operator use.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}

// Len returns the number of currently tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) sweepLocked(now time.Time) {
	for id, e := range l.entries {
		if e.resetAt.Before(now) {
			delete(l.entries, id)
		}
	}
}
