package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kodianteach/atlas-platform-sub001/internal/handlers"
	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
)

func registerAuthorizationRoutes(api *gin.RouterGroup, handler *handlers.AuthorizationHandler) {
	if api == nil || handler == nil {
		return
	}

	authorizations := api.Group("/authorizations")
	{
		authorizations.POST("", middleware.RequireRole(services.RoleResident, services.RoleAdmin), handler.Issue)
		authorizations.GET("", handler.List)
		authorizations.GET("/:id", handler.Get)
		authorizations.GET("/:id/qr", handler.QR)
		authorizations.GET("/:id/document", handler.Document)
		authorizations.POST("/:id/revoke", middleware.RequireRole(services.RoleResident, services.RoleAdmin), handler.Revoke)
	}
}
