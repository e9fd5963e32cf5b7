package middleware

import (
	"log/slog"
	"strings"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/domain"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/pkg/detector"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Identity trusts the user id and plan tier headers set by the upstream
// auth layer. The client address is only kept as a salted hash.
func Identity(edge config.EdgeConfig, salt string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := detector.GetClientIP(
			c.Request.RemoteAddr,
			c.GetHeader("X-Forwarded-For"),
			c.GetHeader("X-Real-IP"),
		)

		identity := domain.Identity{
			UserID: strings.TrimSpace(c.GetHeader(edge.UserIDHeader)),
			Tier:   domain.ParsePlanTier(c.GetHeader(edge.PlanTierHeader)),
			IPHash: detector.HashIP(ip, salt),
		}
		identity.Tier = identity.EffectiveTier()

		c.Set(identityKey, identity)

		if !identity.IsAnonymous() {
			ctx := logger.With(c.Request.Context(), slog.String("user_id", identity.UserID))
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

// IdentityFrom returns the caller set by Identity, or an anonymous
// identity when the middleware did not run.
func IdentityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(domain.Identity); ok {
			return identity
		}
	}
	return domain.Identity{Tier: domain.PlanAnonymous}
}
