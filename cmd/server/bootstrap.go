package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/api"
	"github.com/kodianteach/atlas-platform-sub001/internal/app"
	"github.com/kodianteach/atlas-platform-sub001/internal/app/maintenance"
	iauth "github.com/kodianteach/atlas-platform-sub001/internal/auth"
	"github.com/kodianteach/atlas-platform-sub001/internal/blobstore"
	"github.com/kodianteach/atlas-platform-sub001/internal/cache"
	"github.com/kodianteach/atlas-platform-sub001/internal/database"
	"github.com/kodianteach/atlas-platform-sub001/internal/directory"
	"github.com/kodianteach/atlas-platform-sub001/internal/ids"
	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/monitoring"
	"github.com/kodianteach/atlas-platform-sub001/internal/monitoring/checks"
	"github.com/kodianteach/atlas-platform-sub001/internal/notifications"
	"github.com/kodianteach/atlas-platform-sub001/internal/realtime"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	"github.com/kodianteach/atlas-platform-sub001/internal/vault"
	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Scheduler *maintenance.Scheduler
	Router    *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generated map[string]bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := ids.ConfigureNode(cfg.IDs.Node); err != nil {
		return nil, fmt.Errorf("configure id node: %w", err)
	}

	location, err := cfg.Access.Location()
	if err != nil {
		return nil, err
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	cfg.Vault.EncryptionKey, err = database.ResolveVaultEncryptionKey(ctx, stack.DB, cfg.Vault.EncryptionKey, generated["vault.encryption_key"])
	if err != nil {
		return nil, err
	}
	masterKey, err := cfg.Vault.VaultKey()
	if err != nil {
		return nil, err
	}
	sealer, err := vault.NewCrypto(masterKey)
	if err != nil {
		return nil, fmt.Errorf("initialise vault crypto: %w", err)
	}

	var (
		store       cache.Store = cache.NewDatabaseStore(stack.DB)
		redisPinger checks.Pinger
	)
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			redisStore := cache.NewRedisStore(stack.Redis)
			store, redisPinger = redisStore, redisStore
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	keys, err := services.NewKeyStore(stack.DB, sealer, services.WithPublicKeyCache(store, cfg.Access.EffectiveKeyCacheTTL()))
	if err != nil {
		return nil, fmt.Errorf("initialise key store: %w", err)
	}

	documents, err := blobstore.New(ctx, cfg.Storage.BlobstoreConfig(), stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise document storage: %w", err)
	}

	units, err := directory.NewUnitDirectory(stack.DB)
	if err != nil {
		return nil, err
	}
	memberships, err := directory.NewMembershipDirectory(stack.DB)
	if err != nil {
		return nil, err
	}

	authOpts := []services.AuthorizationOption{
		services.WithClockSkew(cfg.Access.EffectiveClockSkew()),
		services.WithDocumentStore(documents),
	}
	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise mailer: %w", err)
		}
		notifier, err := notifications.NewMailNotifier(mailer,
			notifications.WithQRSize(cfg.Access.EffectiveQRSize()),
			notifications.WithLocation(location),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise notifier: %w", err)
		}
		authOpts = append(authOpts, services.WithNotifier(notifier))
	}

	authorizations, err := services.NewAuthorizationService(stack.DB, keys, units, memberships, authOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise authorization service: %w", err)
	}

	hub := realtime.NewHub()
	events, err := services.NewAccessEventService(stack.DB, services.WithEventPublisher(hub))
	if err != nil {
		return nil, fmt.Errorf("initialise access event service: %w", err)
	}

	validation, err := services.NewAccessValidationService(stack.DB, keys, events)
	if err != nil {
		return nil, fmt.Errorf("initialise access validation service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Scheduler = maintenance.NewScheduler(authorizations, keys,
			maintenance.WithAuthorizationSchedule(cfg.Maintenance.AuthorizationJob),
			maintenance.WithKeySchedule(cfg.Maintenance.KeyJob),
		)
		if err := stack.Scheduler.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		if err := stack.Scheduler.RunOnce(ctx); err != nil {
			log.Warn("initial gauge refresh failed", zap.Error(err))
		}
	}

	health := monitoring.NewManager(
		checks.Database(stack.DB, 0),
		checks.Redis(redisPinger, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout),
	)

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:             stack.DB,
		JWT:            jwtSvc,
		Keys:           keys,
		Authorizations: authorizations,
		Validation:     validation,
		Events:         events,
		Hub:            hub,
		RateStore:      middleware.NewCacheRateStore(store),
		Health:         health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		<-s.Scheduler.Stop().Done()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		return nil, fmt.Errorf("prepare database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
