package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kodianteach/atlas-platform-sub001/internal/app"
	"github.com/kodianteach/atlas-platform-sub001/internal/database"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	return &app.Config{
		Database: app.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "atlas.sqlite")},
		Storage:  app.StorageConfig{Driver: "database"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Access: app.AccessConfig{
			ClockSkew: time.Minute,
			Timezone:  "UTC",
			ValidationLimit: app.RateLimitConfig{
				Enabled: true,
				Limit:   10,
				Window:  time.Minute,
			},
		},
		Maintenance: app.MaintenanceConfig{
			Enabled:          true,
			AuthorizationJob: "@every 5m",
			KeyJob:           "@every 15m",
		},
		IDs:  app.IDConfig{Node: 3},
		Auth: app.AuthConfig{JWT: app.JWTSettings{Issuer: "atlas", TTL: time.Hour}},
	}
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{Database: app.DatabaseConfig{
		Driver: " PostgreSQL ",
		Postgres: app.DBAuthConfig{
			Host:     " db.internal ",
			Port:     5432,
			Database: "atlas",
			Username: "atlas",
			Password: "secret",
		},
	}}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "atlas", dbCfg.Name)

	require.Equal(t, "sqlite", convertDatabaseConfig(&app.Config{}).Driver)
}

func TestEnsureSecretsPresent(t *testing.T) {
	cfg := &app.Config{}
	require.Error(t, ensureSecretsPresent(cfg))

	cfg.Auth.JWT.Secret = "jwt-secret"
	cfg.Vault.EncryptionKey = "short"
	require.Error(t, ensureSecretsPresent(cfg))

	cfg.Vault.EncryptionKey = "  0123456789abcdef0123456789abcdef  "
	require.NoError(t, ensureSecretsPresent(cfg))
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Vault.EncryptionKey)
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testConfig(t)
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NoError(t, ensureSecretsPresent(cfg))

	stack, err := bootstrapRuntime(context.Background(), cfg, generated, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Scheduler)
	require.Nil(t, stack.Redis)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	persisted, err := database.GetSystemSetting(context.Background(), stack.DB, database.VaultEncryptionKeySetting)
	require.NoError(t, err)
	require.Equal(t, cfg.Vault.EncryptionKey, persisted)
}

func TestBootstrapRuntimeRejectsChangedVaultKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.Enabled = false
	cfg.Auth.JWT.Secret = "jwt-secret-for-bootstrap-tests"
	cfg.Vault.EncryptionKey = "0123456789abcdef0123456789abcdef"

	stack, err := bootstrapRuntime(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	stack.Shutdown(context.Background(), zap.NewNop())

	cfg.Vault.EncryptionKey = "fedcba9876543210fedcba9876543210"
	_, err = bootstrapRuntime(context.Background(), cfg, nil, zap.NewNop())
	require.ErrorIs(t, err, database.ErrVaultKeyMismatch)
}

func TestBootstrapRuntimeRejectsUnknownTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWT.Secret = "jwt-secret-for-bootstrap-tests"
	cfg.Vault.EncryptionKey = "0123456789abcdef0123456789abcdef"
	cfg.Access.Timezone = "Mars/Olympus"

	_, err := bootstrapRuntime(context.Background(), cfg, nil, zap.NewNop())
	require.Error(t, err)
}
