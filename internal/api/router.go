package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/app"
	iauth "github.com/kodianteach/atlas-platform-sub001/internal/auth"
	"github.com/kodianteach/atlas-platform-sub001/internal/handlers"
	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/monitoring"
	"github.com/kodianteach/atlas-platform-sub001/internal/monitoring/checks"
	"github.com/kodianteach/atlas-platform-sub001/internal/realtime"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
)

// Dependencies are the long-lived collaborators the HTTP surface is built from.
type Dependencies struct {
	DB             *gorm.DB
	JWT            *iauth.JWTService
	Keys           *services.KeyStore
	Authorizations *services.AuthorizationService
	Validation     *services.AccessValidationService
	Events         *services.AccessEventService
	Hub            *realtime.Hub
	RateStore      middleware.RateStore
	// Health defaults to a database-only readiness probe.
	Health *monitoring.Manager
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	if cfg.Monitoring.Health.Enabled {
		health := deps.Health
		if health == nil {
			health = monitoring.NewManager(checks.Database(deps.DB, 0))
		}
		r.GET("/health", handlers.Health(health))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authorizationHandler, err := handlers.NewAuthorizationHandler(deps.Authorizations, cfg.Access.EffectiveQRSize())
	if err != nil {
		return nil, err
	}
	accessHandler, err := handlers.NewAccessHandler(deps.Validation, deps.Events, deps.Keys)
	if err != nil {
		return nil, err
	}
	realtimeHandler, err := handlers.NewRealtimeHandler(deps.Hub, deps.JWT)
	if err != nil {
		return nil, err
	}

	// The feed authenticates itself because browsers cannot send headers on upgrade.
	r.GET("/api/access/feed", realtimeHandler.Feed)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerAuthorizationRoutes(api, authorizationHandler)
	registerAccessRoutes(api, accessHandler, validationRateLimit(cfg.Access.ValidationLimit, deps.RateStore))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func validationRateLimit(cfg app.RateLimitConfig, store middleware.RateStore) gin.HandlerFunc {
	if !cfg.Enabled {
		return nil
	}
	return middleware.RateLimit(middleware.RateLimitConfig{
		Store:  store,
		Limit:  cfg.Limit,
		Window: cfg.Window,
		Key:    middleware.KeyByDevice,
	})
}
