package engine

import (
	"sync"
	"time"
)

// Default rate limiter settings.
const (
	DefaultRateWindow      = 60 * time.Second
	DefaultRateMaxRequests = 10
)

type windowKey struct {
	caller string
	window int64
}

// RateLimiter is a fixed-window request counter keyed by caller. Each caller
// gets max requests per window; the counter resets when the wall clock
// crosses a window boundary. A caller can burst up to 2x max across a
// boundary, which is the accepted cost of the fixed-window scheme.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	now    func() time.Time
	counts map[windowKey]int
	sweep  int64
}

// NewRateLimiter creates a limiter allowing max requests per caller per
// window. Non-positive arguments fall back to the defaults.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if max <= 0 {
		max = DefaultRateMaxRequests
	}
	return &RateLimiter{
		window: window,
		max:    max,
		now:    time.Now,
		counts: make(map[windowKey]int),
	}
}

// Allow records a request for the caller and reports whether it fits in the
// current window. The increment and the check happen under one lock, so two
// concurrent requests cannot both slip past the limit. A rejected request
// does not increment the counter.
func (r *RateLimiter) Allow(caller string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.now().Unix() / int64(r.window/time.Second)
	if window != r.sweep {
		r.sweepStale(window)
		r.sweep = window
	}

	key := windowKey{caller: caller, window: window}
	if r.counts[key] >= r.max {
		return false
	}
	r.counts[key]++
	return true
}

// RetryAfter reports how long the caller should wait before the current
// window rolls over.
func (r *RateLimiter) RetryAfter() time.Duration {
	windowSeconds := int64(r.window / time.Second)
	elapsed := r.now().Unix() % windowSeconds
	return time.Duration(windowSeconds-elapsed) * time.Second
}

// sweepStale drops counters from past windows. Caller holds the lock.
func (r *RateLimiter) sweepStale(current int64) {
	for key := range r.counts {
		if key.window < current {
			delete(r.counts, key)
		}
	}
}
