package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused per-user bucket is kept once the table is large.
const (
	limiterIdle     = 10 * time.Minute
	limiterSweepLen = 10000
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// UserLimiter is a per-user token bucket.
type UserLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewUserLimiter(rps float64, burst int) *UserLimiter {
	if burst < 1 {
		burst = 1
	}
	return &UserLimiter{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*bucket)}
}

// Allow takes one token for userID. When none is available it returns the wait
// until the next token and consumes nothing.
func (l *UserLimiter) Allow(userID string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		if len(l.buckets) >= limiterSweepLen {
			l.sweep(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *UserLimiter) sweep(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdle {
			delete(l.buckets, id)
		}
	}
}
