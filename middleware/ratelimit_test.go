package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func limitTestRouter(counter Counter, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RedisRateLimitMiddleware(counter, limit, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRedisRateLimitMiddleware(t *testing.T) {
	r := limitTestRouter(&fakeCounter{}, 3)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRedisRateLimitFailsOpen(t *testing.T) {
	r := limitTestRouter(&fakeCounter{err: errors.New("connection refused")}, 1)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(2, 50*time.Millisecond)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Other clients are unaffected.
	assert.True(t, rl.Allow("5.6.7.8"))

	// The window slides.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("1.2.3.4"))
}
