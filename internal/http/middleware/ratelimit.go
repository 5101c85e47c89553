// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the REST rate limiter: an in-memory token bucket per
// caller, keyed by the authenticated session subject when BearerAuth ran and
// by client IP otherwise (the session endpoints). Idle buckets are evicted
// opportunistically. Replays flagged by IdempotencyValidator are not charged.
//
// The limiter is process-local and covers REST routes only; socket events
// are limited per connection by the gateway.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(*gin.Context) string

// KeyBySubjectOrIP charges authenticated requests to the session subject
// ("visitor:<id>" or "operator:<id>"), so visitors behind one NAT do not
// share a bucket, and everything else to "ip:<addr>".
func KeyBySubjectOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if a, ok := ActorFrom(c); ok {
			return a.Subject()
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key. Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   KeyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter allows rps requests per second per key with the given
// burst. burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// limiterFor returns the bucket for key, creating it if absent. Every 5000
// lookups idle buckets are dropped; the sweep runs before the lookup so a
// stale bucket is replaced rather than refreshed.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.cleanupN = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 {
		return "60"
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// IsRateBypass reports whether IdempotencyValidator found an earlier result
// for this request's key.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Denied requests get 429 with Retry-After and
// the standard error envelope (code "too_many_requests").
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.limiterFor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", rl.retryAfter())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
