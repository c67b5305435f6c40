package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// submitLimiter hands out one token bucket per submitter so a single noisy
// client cannot starve the queue for everyone else. Buckets are created on
// first use and kept for the life of the server.
type submitLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newSubmitLimiter(perSecond float64, burst int) *submitLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst < 1 {
		burst = 1
	}
	return &submitLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// allow reports whether the submitter may submit now, consuming one token.
func (l *submitLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim.Allow()
}
