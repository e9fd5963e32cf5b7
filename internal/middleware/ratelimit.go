package middleware

import (
	"context"

	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/ratelimit"
	"github.com/gamassss/edgelink/pkg/response"
	"github.com/gin-gonic/gin"
)

type Limiter interface {
	Allow(ctx context.Context, identity domain.Identity) (ratelimit.Decision, error)
}

// RateLimit counts every request against the caller's plan quota. It must
// run after Identity.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), IdentityFrom(c))
		if err != nil {
			response.FromError(c, err)
			return
		}

		if err := decision.Err(); err != nil {
			response.FromError(c, err)
			return
		}

		response.SetRateLimitHeaders(c, decision.Limit, decision.Remaining, decision.ResetAt)
		c.Next()
	}
}
