package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/moli-green/relay/internal/v1/logging"
	"github.com/moli-green/relay/internal/v1/metrics"
)

// HTTPLimiter rate limits the JSON API surface per client IP. The WebSocket
// message Window is a separate, per-session contract.
type HTTPLimiter struct {
	api *limiter.Limiter
}

// NewHTTPLimiter creates a limiter from a formatted rate such as "120-M".
func NewHTTPLimiter(formatted string) (*HTTPLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}

	return &HTTPLimiter{
		api: limiter.New(memory.NewStore(), rate),
	}, nil
}

// Middleware returns a Gin middleware enforcing the API rate limit per IP.
// Store failures fail open.
func (rl *HTTPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.api.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
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

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
