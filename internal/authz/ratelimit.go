// internal/authz/ratelimit.go
package authz

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit actions per user in any trailing window.
// State lives in memory and is lost on restart.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[int64][]time.Time
}

type Option func(*RateLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *RateLimiter) { l.now = now }
}

func NewRateLimiter(limit int, window time.Duration, opts ...Option) *RateLimiter {
	l := &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[int64][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an action for userID and reports whether it fits the window.
// A rejected action is not recorded.
func (l *RateLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := trim(l.hits[userID], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[userID] = recent
		return false
	}
	l.hits[userID] = append(recent, now)
	return true
}

// RetryAfter returns how long until userID may act again; zero if it may now.
func (l *RateLimiter) RetryAfter(userID int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return l.window
	}
	now := l.now()
	recent := trim(l.hits[userID], now.Add(-l.window))
	if len(recent) < l.limit {
		return 0
	}
	return recent[len(recent)-l.limit].Add(l.window).Sub(now)
}

// Prune drops users whose window has emptied.
func (l *RateLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for id, hits := range l.hits {
		if recent := trim(hits, cutoff); len(recent) > 0 {
			l.hits[id] = recent
		} else {
			delete(l.hits, id)
		}
	}
}

// trim drops timestamps at or before cutoff. hits is in ascending order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
