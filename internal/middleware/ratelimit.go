package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// RateKeyFunc derives the bucket a request is counted in.
type RateKeyFunc func(c *gin.Context) string

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Store  RateStore
	Limit  int
	Window time.Duration
	Key    RateKeyFunc
}

// KeyByDevice counts requests per gate device, falling back to the user and then the client IP.
func KeyByDevice(c *gin.Context) string {
	if device := c.GetString(CtxDeviceIDKey); device != "" {
		return "device:" + device
	}
	if user := c.GetString(CtxUserIDKey); user != "" {
		return "user:" + user
	}
	return "ip:" + c.ClientIP()
}

// KeyByClientIP counts requests per client address.
func KeyByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit limits requests per key and route within a fixed window. When the backing
// store fails the request is let through.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryRateStore()
	}
	if cfg.Key == nil {
		cfg.Key = KeyByClientIP
	}

	return func(c *gin.Context) {
		if cfg.Limit <= 0 || cfg.Window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + cfg.Key(c) + "|" + c.FullPath()
		count, ttl, err := cfg.Store.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			logger.WithModule("http").Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := cfg.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > cfg.Limit {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
