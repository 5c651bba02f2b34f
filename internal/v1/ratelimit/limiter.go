// Package ratelimit enforces per-IP request limits backed by Redis, with a
// memory fallback for processes running without the shared store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/syncroom-live/syncroom/backend/go/internal/v1/logging"
	"github.com/syncroom-live/syncroom/backend/go/internal/v1/metrics"
)

// RateLimiter applies one formatted rate (e.g. "20-S") across the HTTP
// surface and WebSocket upgrades, keyed by client IP.
type RateLimiter struct {
	limiter *limiter.Limiter
}

// New builds a limiter from a ulule-formatted rate. When redisClient is
// nil the limiter counts in process memory, which is fine for a single
// instance and for tests.
func New(rate string, redisClient *redis.Client) (*RateLimiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	var st limiter.Store
	if redisClient != nil {
		st, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
	} else {
		st = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using in-memory store")
	}

	return &RateLimiter{limiter: limiter.New(st, parsed)}, nil
}

// Middleware enforces the limit on HTTP endpoints. Store failures fail
// open: availability beats strictness here.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lctx, err := rl.limiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.Error(c.Request.Context(), "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}

// CheckWebSocket gates a WebSocket upgrade. It writes the rejection itself
// and reports whether the caller may proceed.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	lctx, err := rl.limiter.Get(c.Request.Context(), c.ClientIP())
	if err != nil {
		logging.Error(c.Request.Context(), "Rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}
