package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	"github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireActor returns the authenticated caller, writing a 401 when the route was mounted
// without the auth middleware.
func requireActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok || actor.UserID == "" || actor.OrganizationID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return services.Actor{}, false
	}
	return actor, true
}

// deviceID prefers the device bound into the token over one supplied by the client.
func deviceID(c *gin.Context, fallback string) string {
	if v := c.GetString(middleware.CtxDeviceIDKey); v != "" {
		return v
	}
	return fallback
}
