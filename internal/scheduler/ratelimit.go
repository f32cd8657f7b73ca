package scheduler

import (
	"sync"
	"time"
)

// rateLimiter admits at most cap events per rolling window. Unlike a
// refill-style bucket, the rolling window guarantees exactly cap admissions
// within any window-sized span under sustained demand; the next event is
// deferred, never dropped.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	cap    int
	stamps []time.Time
}

func newRateLimiter(cap int, window time.Duration) *rateLimiter {
	return &rateLimiter{window: window, cap: cap}
}

// Allow reports whether an event may proceed at now, recording it if so.
func (r *rateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := r.stamps[:0]
	for _, ts := range r.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	r.stamps = keep

	if len(r.stamps) >= r.cap {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
