package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/kodianteach/atlas-platform-sub001/internal/auth"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	"github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

const (
	CtxClaimsKey   = "authClaims"
	CtxActorKey    = "actor"
	CtxUserIDKey   = "userID"
	CtxDeviceIDKey = "deviceID"
)

// Auth enforces JWT authentication and exposes the caller as a services.Actor.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.ValidateAccessToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			// all validation failures are a plain 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		role := services.Role(strings.ToUpper(claims.Role))
		if !role.Valid() {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxActorKey, services.Actor{
			UserID:         claims.UserID,
			OrganizationID: claims.OrganizationID,
			Role:           role,
		})
		if claims.DeviceID != "" {
			c.Set(CtxDeviceIDKey, claims.DeviceID)
		}

		c.Next()
	}
}

// ActorFrom returns the authenticated caller.
func ActorFrom(c *gin.Context) (services.Actor, bool) {
	v, ok := c.Get(CtxActorKey)
	if !ok {
		return services.Actor{}, false
	}
	actor, ok := v.(services.Actor)
	return actor, ok
}
