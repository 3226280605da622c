package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	"github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// RequireRole admits callers holding one of roles. It must run after Auth.
func RequireRole(roles ...services.Role) gin.HandlerFunc {
	allowed := make(map[services.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[actor.Role]; !ok {
			metrics.RoleChecks.WithLabelValues(string(actor.Role), "deny").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.RoleChecks.WithLabelValues(string(actor.Role), "allow").Inc()
		c.Next()
	}
}
