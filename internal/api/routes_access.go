package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kodianteach/atlas-platform-sub001/internal/handlers"
	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
)

func registerAccessRoutes(api *gin.RouterGroup, handler *handlers.AccessHandler, validateLimit gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	access := api.Group("/access")
	access.Use(middleware.RequireRole(services.RolePorter, services.RoleAdmin))
	{
		validate := []gin.HandlerFunc{handler.Validate}
		if validateLimit != nil {
			validate = append([]gin.HandlerFunc{validateLimit}, validate...)
		}
		access.POST("/validate", validate...)
		access.GET("/lookup", handler.Lookup)
		access.POST("/document-entries", handler.DocumentEntry)
		access.POST("/events/sync", handler.SyncEvents)
		access.GET("/events", handler.ListEvents)
		access.GET("/keys", handler.Keys)
	}
}
