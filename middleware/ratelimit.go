package middleware

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Counter is the slice of the cache client the limiter needs.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisRateLimitMiddleware counts requests per client IP in a fixed window
// shared by every gateway replica. When the counter is unreachable the
// request is let through; throttling is protection, not a dependency.
func RedisRateLimitMiddleware(counter Counter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := counter.Increment(c.Request.Context(), "ratelimit:"+c.ClientIP(), window)
		if err != nil {
			log.Printf("Rate limiter unavailable, allowing request: %v", err)
			c.Next()
			return
		}
		if n > int64(limit) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

type IPRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Clean old requests
	requests := rl.requests[ip]
	i := 0
	for ; i < len(requests); i++ {
		if requests[i].After(cutoff) {
			break
		}
	}
	requests = requests[i:]

	// Check if under limit
	if len(requests) >= rl.limit {
		return false
	}

	// Add current request
	rl.requests[ip] = append(requests, now)
	return true
}

var ipLimiter = NewIPRateLimiter(60, time.Minute)

// RateLimitMiddleware is the in-process fallback for single-instance runs
// without Redis.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !ipLimiter.Allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
