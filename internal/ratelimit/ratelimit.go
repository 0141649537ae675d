// Package ratelimit implements a per-IP token-bucket limiter guarding
// session creation, with an optional Redis-shared counter so multiple
// stateless Proxy replicas enforce one combined budget. Grounded on
// internal/middleware/ratelimit.go's RateLimiter/getLimiter/cleanupRoutine
// shape.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Hdpbilly/agent-bridge-platform/internal/apperror"
	"github.com/Hdpbilly/agent-bridge-platform/internal/cache"
)

// RedisCounter is the subset of *cache.Cache the limiter needs for its
// optional shared-budget mode.
type RedisCounter interface {
	IsEnabled() bool
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter is a per-key (normally per-IP) token-bucket rate limiter.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	redis       RedisCounter
	redisWindow time.Duration
	redisMax    int64
}

// New builds a Limiter allowing requestsPerMinute sustained, bursting up to
// burst. redis may be nil; when it is non-nil and enabled, requests also
// consume a shared Redis counter so stateless Proxy replicas share one
// budget per key.
func New(requestsPerMinute, burst int, redis RedisCounter) *Limiter {
	l := &Limiter{
		limiters:    make(map[string]*rate.Limiter),
		rate:        rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:       burst,
		redis:       redis,
		redisWindow: time.Minute,
		redisMax:    int64(requestsPerMinute),
	}
	go l.cleanupRoutine()
	return l
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// cleanupRoutine periodically resets the map once it grows unreasonably
// large, mirroring the teacher's own ratelimit.go safeguard against
// unbounded per-IP growth.
func (l *Limiter) cleanupRoutine() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		if len(l.limiters) > 10000 {
			l.limiters = make(map[string]*rate.Limiter)
		}
		l.mu.Unlock()
	}
}

// Allow reports whether key (typically a client IP) may proceed, consulting
// the in-process bucket and, if configured, the shared Redis counter.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if !l.getLimiter(key).Allow() {
		return false
	}
	if l.redis != nil && l.redis.IsEnabled() {
		count, err := l.redis.Incr(ctx, "ratelimit:"+key, l.redisWindow)
		if err == nil && count > l.redisMax {
			return false
		}
	}
	return true
}

// Middleware returns a gin.HandlerFunc rejecting requests over budget with
// a 429 AppError body.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.ClientIP()) {
			err := apperror.New(apperror.CodeRateLimited, "rate limit exceeded")
			c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
			return
		}
		c.Next()
	}
}
