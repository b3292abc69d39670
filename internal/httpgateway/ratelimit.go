package httpgateway

import (
	"sync"
	"time"

	"github.com/jademind/statusd/internal/common/constants"
)

// slidingWindowLimiter enforces a per-key request cap over a fixed
// trailing window, grounded on the teacher's token-bucket RateLimit
// middleware but using an explicit timestamp window per §4.10's "sliding
// window of 10s" wording rather than a continuously-refilled bucket.
type slidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func newSlidingWindowLimiter(limit int) *slidingWindowLimiter {
	return &slidingWindowLimiter{limit: limit, window: constants.SendRateLimitWindow, hits: make(map[string][]time.Time)}
}

// Allow records a hit for key at now and reports whether it falls
// within the limit.
func (l *slidingWindowLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
