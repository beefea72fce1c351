package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter rate limits ingestion per producer
// A zero rate disables limiting.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter giving every producer requestsPerSecond
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until producer may submit another claim
func (l *Limiter) Wait(ctx context.Context, producer string) error {
	return l.getLimiter(producer).Wait(ctx)
}

// Allow reports whether producer may submit now, consuming a token if so
func (l *Limiter) Allow(producer string) bool {
	return l.getLimiter(producer).Allow()
}

func (l *Limiter) getLimiter(producer string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[producer]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[producer]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[producer] = limiter
	return limiter
}

// SetProducerRate overrides the rate of one producer
func (l *Limiter) SetProducerRate(producer string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[producer] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
