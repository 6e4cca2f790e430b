package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	limiterIdle       = 5 * time.Minute
	limiterSweepEvery = 3 * time.Minute
	// maxRetryAfter caps the Retry-After hint in seconds, and is used as is
	// when the bucket never refills.
	maxRetryAfter = 3600
)

// clientLimiter is one client's token bucket.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds a token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows r requests per second per IP with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     r,
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[ip]; ok {
		l.lastSeen = time.Now()
		return l.limiter
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = &clientLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

// Sweep forgets clients idle longer than limiterIdle until ctx ends.
func (rl *RateLimiter) Sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > limiterIdle {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.limiterFor(c.RealIP()).Allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// retryAfter is the wait in whole seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.rate <= 0 {
		return maxRetryAfter
	}
	secs := math.Ceil(1 / float64(rl.rate))
	return int(max(min(secs, maxRetryAfter), 1))
}
