package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// API identifies an upstream with its own request budget.
type API string

const (
	APICoinGecko     API = "coingecko"
	APICoinMarketCap API = "coinmarketcap"
)

// Limiter holds one token bucket per upstream API. Each bucket allows
// requestsPerSecond with a burst of one, so consecutive requests are
// spaced at least 1/requestsPerSecond apart.
type Limiter struct {
	rps      rate.Limit
	limiters map[API]*rate.Limiter
	mu       sync.Mutex
}

// New creates a limiter. A non-positive rate disables limiting.
func New(requestsPerSecond float64) *Limiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		rps:      limit,
		limiters: make(map[API]*rate.Limiter),
	}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return New(0)
}

// get returns the limiter for api, creating it on first use.
func (l *Limiter) get(api API) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[api]
	if !ok {
		lim = rate.NewLimiter(l.rps, 1)
		l.limiters[api] = lim
	}
	return lim
}

// Wait blocks until a request to api is permitted or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, api API) error {
	if l == nil {
		return nil
	}
	return l.get(api).Wait(ctx)
}

// Allow reports whether a request to api may happen now.
func (l *Limiter) Allow(api API) bool {
	if l == nil {
		return true
	}
	return l.get(api).Allow()
}
