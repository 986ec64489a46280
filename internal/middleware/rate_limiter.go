package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/bloxon/controlplane/internal/coreerr"
)

// RateLimiter is the token bucket keyed by client address enforced on
// every externally exposed operation: a per-key x/time/rate.Limiter behind
// a mutex-guarded visitor map with periodic idle-entry cleanup.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	r        rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing burst immediate requests
// and refilling at one token per interval thereafter, keyed per client.
func NewRateLimiter(interval time.Duration, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		r:        rate.Every(interval),
		burst:    burst,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from key should proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// cleanup evicts visitors that have been idle for 10 minutes, every 5
// minutes, so the map doesn't grow unboundedly with transient clients.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > 10*time.Minute {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// isExempt reports whether an address bypasses rate limiting: loopback and
// the control plane's own configured public address.
func isExempt(ip string, controlPlaneAddr string) bool {
	return ip == "127.0.0.1" || ip == "::1" || (controlPlaneAddr != "" && ip == controlPlaneAddr)
}

// RateLimitMiddleware wraps rl as Gin middleware, translating a rejection
// into the rate_limit_exceeded wire shape.
func RateLimitMiddleware(rl *RateLimiter, controlPlaneAddr string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if isExempt(ip, controlPlaneAddr) {
			c.Next()
			return
		}

		if !rl.Allow(ip) {
			e := coreerr.New(coreerr.KindRateLimitExceeded, "too many requests")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   gin.H{"code": string(e.Kind), "message": e.Message},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// APIRateLimiter is the shared limiter for ordinary externally exposed
// operations: 60 requests per minute per client address.
var APIRateLimiter = NewRateLimiter(1*time.Second, 60)
