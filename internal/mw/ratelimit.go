package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ClientRateLimiter holds a token bucket per client key. Buckets of idle
// clients expire.
type ClientRateLimiter struct {
	clients *cache.Cache
	mu      sync.Mutex
	r       rate.Limit
	b       int
}

// NewClientRateLimiter creates a ClientRateLimiter allowing r requests per
// second with bursts of b.
func NewClientRateLimiter(r rate.Limit, b int) *ClientRateLimiter {
	return &ClientRateLimiter{
		clients: cache.New(10*time.Minute, 20*time.Minute),
		r:       r,
		b:       b,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (l *ClientRateLimiter) Limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, found := l.clients.Get(key); found {
		l.clients.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.r, l.b)
	l.clients.SetDefault(key, limiter)
	return limiter
}

// ClientKey identifies the caller by the given request header, falling
// back to gin's client IP when the header is empty or unset.
func ClientKey(header string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if header != "" {
			if v := c.GetHeader(header); v != "" {
				return v
			}
		}
		return c.ClientIP()
	}
}

// RateLimiter rejects callers exceeding their rate with 429.
func RateLimiter(r rate.Limit, b int, key func(c *gin.Context) string) gin.HandlerFunc {
	limiter := NewClientRateLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.Limiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
