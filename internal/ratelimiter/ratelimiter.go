// Package ratelimiter paces connection attempts to the name node.
//
// Dial retries and re-dials after a broken connection draw from a shared token
// bucket (golang.org/x/time/rate), so a flapping name node is not hammered with
// back-to-back connection attempts while the first attempt after a quiet period
// still goes out immediately.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every dial attempt of one client.
//
// It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing attemptsPerSecond sustained attempts with
// bursts of up to burst attempts.
//
// A zero or negative rate disables pacing. A burst below 1 is raised to 1 so the
// first attempt never waits.
func New(attemptsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(attemptsPerSecond)
	if attemptsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until an attempt may start or ctx is done.
//
// It fails immediately, without consuming a token, when ctx's deadline would
// pass before a token is available.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
