package roleguard

import (
	"sync"
	"time"
)

const (
	defaultSwitchLimit  = 3
	defaultSwitchWindow = 60 * time.Second
)

// switchRateLimiter applies a sliding-window limit on role switches per
// principal. Both granted and denied attempts below the limit count toward
// the window; a rejected attempt does not.
type switchRateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

func newSwitchRateLimiter(limit int, window time.Duration) *switchRateLimiter {
	if limit <= 0 {
		limit = defaultSwitchLimit
	}
	if window <= 0 {
		window = defaultSwitchWindow
	}
	return &switchRateLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// allow records an attempt when under the limit. On rejection it returns the
// time until the oldest in-window attempt falls out.
func (r *switchRateLimiter) allow(principalID string, now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	recent := r.attempts[principalID][:0]
	for _, t := range r.attempts[principalID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.attempts[principalID] = recent
		return false, recent[0].Sub(cutoff)
	}
	r.attempts[principalID] = append(recent, now)
	return true, 0
}

// reset clears a principal's window (logout).
func (r *switchRateLimiter) reset(principalID string) {
	r.mu.Lock()
	delete(r.attempts, principalID)
	r.mu.Unlock()
}
