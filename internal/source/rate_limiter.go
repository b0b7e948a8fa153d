package source

import (
	"context"
	"log"
	"sync"
	"time"
)

// RateLimiter spaces out calls to one upstream API
type RateLimiter interface {
	Wait(ctx context.Context) error
	UpdateLimit(remaining int, resetTime time.Time)
}

// rateLimiter enforces a minimum delay between requests and backs off
// when the upstream's remaining budget runs low
type rateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	lastCall  time.Time
}

// NewRateLimiter creates a rate limiter with the given minimum delay
// between requests
func NewRateLimiter(minDelay time.Duration) RateLimiter {
	return &rateLimiter{
		remaining: 5000,
		resetTime: time.Now().Add(time.Hour),
		minDelay:  minDelay,
	}
}

// Wait blocks until it is safe to make another API call
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Wait for the budget to reset when nearly exhausted
	if r.remaining <= 10 {
		waitDuration := time.Until(r.resetTime)
		if waitDuration > 0 {
			log.Printf("[source] rate limit low (%d remaining), waiting %v until reset", r.remaining, waitDuration.Round(time.Second))
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				r.mu.Lock()
				return ctx.Err()
			case <-time.After(waitDuration):
				r.mu.Lock()
			}
		}
		r.remaining = 5000
		r.resetTime = time.Now().Add(time.Hour)
	}

	// Ensure minimum delay between requests
	elapsed := time.Since(r.lastCall)
	if elapsed < r.minDelay {
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			r.mu.Lock()
			return ctx.Err()
		case <-time.After(r.minDelay - elapsed):
			r.mu.Lock()
		}
	}

	r.lastCall = time.Now()
	return nil
}

// UpdateLimit updates the remaining budget from API response headers
func (r *rateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
