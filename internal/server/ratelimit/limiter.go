// Package ratelimit tracks failed login attempts per identifier and blocks
// further attempts behind an exponentially growing backoff window.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of failures tolerated inside the base
	// window before attempts are blocked.
	DefaultThreshold = 5

	// DefaultBaseWindow is the initial backoff window. Each failure past
	// the threshold doubles it.
	DefaultBaseWindow = time.Minute

	// DefaultMaxBackoff caps the growth of the backoff window.
	DefaultMaxBackoff = time.Hour
)

// Config configures a Limiter. Zero values fall back to the defaults above.
type Config struct {
	Threshold  int
	BaseWindow time.Duration
	MaxBackoff time.Duration
}

type entry struct {
	failures     int
	firstFailure time.Time
	blockedUntil time.Time
}

// Limiter is a keyed failure counter with atomic check-and-increment.
// It is safe for concurrent use; the counter state for each identifier is
// read and mutated under one lock so parallel login attempts against the
// same identifier cannot slip past the threshold together.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]*entry
	threshold  int
	baseWindow time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.BaseWindow <= 0 {
		cfg.BaseWindow = DefaultBaseWindow
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	return &Limiter{
		entries:    make(map[string]*entry),
		threshold:  cfg.Threshold,
		baseWindow: cfg.BaseWindow,
		maxBackoff: cfg.MaxBackoff,
		now:        time.Now,
	}
}

// Allow reports whether an authentication attempt for identifier may
// proceed. A blocked identifier fails fast here, before any password hash
// is touched.
func (l *Limiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[identifier]
	if !ok {
		return true
	}

	now := l.now()
	if now.Before(e.blockedUntil) {
		return false
	}

	// Failures outside the base window that never hit the threshold age out.
	if e.failures < l.threshold && now.Sub(e.firstFailure) > l.baseWindow {
		delete(l.entries, identifier)
	}

	return true
}

// Fail records a failed attempt. Once the threshold is reached the
// identifier is blocked; every further failure doubles the backoff window
// up to the configured cap.
func (l *Limiter) Fail(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{firstFailure: now}
		l.entries[identifier] = e
	}

	e.failures++
	if e.failures >= l.threshold {
		backoff := l.baseWindow << uint(e.failures-l.threshold)
		if backoff > l.maxBackoff || backoff <= 0 {
			backoff = l.maxBackoff
		}
		e.blockedUntil = now.Add(backoff)
	}
}

// Reset clears the counter for identifier after a successful authentication.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identifier)
}

// PurgeStale drops entries whose backoff has fully lapsed and returns the
// number removed. Invoked from the periodic sweep.
func (l *Limiter) PurgeStale(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		expired := now.After(e.blockedUntil) && now.Sub(e.firstFailure) > l.baseWindow
		if e.failures < l.threshold {
			expired = now.Sub(e.firstFailure) > l.baseWindow
		}
		if expired {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}
