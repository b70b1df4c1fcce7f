package middleware

import (
	"context"
	"fmt"
	"time"

	"develevate/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Limiter admits or rejects one hit on key.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RateLimitPolicy bounds request counts per window.
type RateLimitPolicy struct {
	Window     time.Duration `yaml:"window"`
	SessionMax int           `yaml:"sessionMax"`
	IPMax      int           `yaml:"ipMax"`
	RouteMax   int           `yaml:"routeMax"`
}

// RateLimitMiddleware enforces per-route rate limiting.
func RateLimitMiddleware(limiter Limiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("execution:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		if policy.SessionMax > 0 {
			if sessionID, ok := c.Get(sessionIDContextKey); ok {
				key := fmt.Sprintf("execution:rate:session:%v:%s", sessionID, routeKey)
				if err := limiter.Allow(ctx, key, policy.SessionMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}

		if policy.RouteMax > 0 {
			key := fmt.Sprintf("execution:rate:route:%s", routeKey)
			if err := limiter.Allow(ctx, key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		c.Next()
	}
}
