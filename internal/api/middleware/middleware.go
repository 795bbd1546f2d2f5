package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/account-backup-manager/internal/logging"
)

// CORS middleware adds CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if isOriginAllowed(origin, allowedOrigins) {
			if origin != "" {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			} else if containsWildcard(allowedOrigins) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Logger is a custom logging middleware
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if raw != "" {
			path = path + "?" + raw
		}

		c.Writer.Header().Set("X-Response-Time", latency.String())

		if path != "/health" || gin.Mode() == gin.DebugMode {
			logging.L().Info("http_request",
				"method", c.Request.Method,
				"path", path,
				"status", c.Writer.Status(),
				"latency", latency.String(),
				"ip", c.ClientIP(),
			)
		}
	}
}

// SecurityHeaders adds standard hardening headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RateLimit middleware (simple in-memory implementation)
func RateLimit(enabled bool, requestsPerMinute int) gin.HandlerFunc {
	limiter := newRateLimiter(enabled, requestsPerMinute)

	return func(c *gin.Context) {
		if !limiter.enabled {
			c.Next()
			return
		}

		if !limiter.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(429, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == origin {
			return true
		}
	}

	return false
}

func containsWildcard(allowedOrigins []string) bool {
	for _, allowedOrigin := range allowedOrigins {
		if strings.TrimSpace(allowedOrigin) == "*" {
			return true
		}
	}
	return false
}

type rateLimiter struct {
	enabled           bool
	requestsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	entries           map[string]*rateLimitEntry
	lastCleanup       time.Time
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(enabled bool, requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		enabled:           enabled && requestsPerMinute > 0,
		requestsPerMinute: requestsPerMinute,
		window:            time.Minute,
		entries:           make(map[string]*rateLimitEntry),
		lastCleanup:       time.Now(),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanup(now)
	}

	entry, exists := rl.entries[key]
	if !exists || now.Sub(entry.windowStart) >= rl.window {
		rl.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	if entry.count >= rl.requestsPerMinute {
		return false
	}

	entry.count++
	return true
}

func (rl *rateLimiter) cleanup(now time.Time) {
	for key, entry := range rl.entries {
		if now.Sub(entry.windowStart) >= rl.window {
			delete(rl.entries, key)
		}
	}
	rl.lastCleanup = now
}
