package console

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter for a single key.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter allowing limit events per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

func (r *RateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(now)
	return len(r.events) == 0
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}

// KeyedLimiter keeps one RateLimiter per key (client IP). Idle keys are
// dropped at most once per window.
type KeyedLimiter struct {
	mu        sync.Mutex
	keys      map[string]*RateLimiter
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewKeyedLimiter constructs a KeyedLimiter.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		keys:   make(map[string]*RateLimiter),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether key may perform an event at now.
func (k *KeyedLimiter) Allow(key string, now time.Time) bool {
	k.mu.Lock()
	if now.Sub(k.lastSweep) >= k.window {
		for id, rl := range k.keys {
			if rl.idle(now) {
				delete(k.keys, id)
			}
		}
		k.lastSweep = now
	}
	rl, ok := k.keys[key]
	if !ok {
		rl = NewRateLimiter(k.limit, k.window)
		k.keys[key] = rl
	}
	k.mu.Unlock()

	return rl.Allow(now)
}

// Len is the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
