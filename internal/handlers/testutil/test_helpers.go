package testutil

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/api"
	"github.com/kodianteach/atlas-platform-sub001/internal/app"
	iauth "github.com/kodianteach/atlas-platform-sub001/internal/auth"
	"github.com/kodianteach/atlas-platform-sub001/internal/blobstore"
	sharedtestutil "github.com/kodianteach/atlas-platform-sub001/internal/database/testutil"
	"github.com/kodianteach/atlas-platform-sub001/internal/directory"
	"github.com/kodianteach/atlas-platform-sub001/internal/middleware"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/realtime"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
	"github.com/kodianteach/atlas-platform-sub001/internal/vault"
	"github.com/kodianteach/atlas-platform-sub001/pkg/crypto"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

// DefaultOrg is the organization every Env token belongs to unless stated otherwise.
const DefaultOrg = "org-1"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Hub      *realtime.Hub
	Config   *app.Config
	Services api.Dependencies
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithValidationLimit caps POST /api/access/validate per device.
func WithValidationLimit(limit int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Access.ValidationLimit = app.RateLimitConfig{Enabled: true, Limit: limit, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Access: app.AccessConfig{QRSize: 128},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sealer, err := vault.NewCrypto([]byte("0123456789abcdef0123456789abcdef"), vault.WithArgon2Parameters(crypto.Argon2Parameters{
		Time:      1,
		Memory:    8 * 1024,
		Threads:   1,
		KeyLength: 32,
	}))
	require.NoError(t, err)

	keys, err := services.NewKeyStore(db, sealer)
	require.NoError(t, err)

	hub := realtime.NewHub()
	events, err := services.NewAccessEventService(db, services.WithEventPublisher(hub))
	require.NoError(t, err)

	units, err := directory.NewUnitDirectory(db)
	require.NoError(t, err)
	memberships, err := directory.NewMembershipDirectory(db)
	require.NoError(t, err)
	documents, err := blobstore.NewDatabaseStore(db)
	require.NoError(t, err)

	auths, err := services.NewAuthorizationService(db, keys, units, memberships, services.WithDocumentStore(documents))
	require.NoError(t, err)

	validation, err := services.NewAccessValidationService(db, keys, events)
	require.NoError(t, err)

	deps := api.Dependencies{
		DB:             db,
		JWT:            jwtSvc,
		Keys:           keys,
		Authorizations: auths,
		Validation:     validation,
		Events:         events,
		Hub:            hub,
		RateStore:      middleware.NewMemoryRateStore(),
	}

	router, err := api.NewRouter(cfg, deps)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Hub:      hub,
		Config:   cfg,
		Services: deps,
	}
}

// Token issues an access token for a user of DefaultOrg.
func (e *Env) Token(userID string, role services.Role) string {
	e.T.Helper()
	return e.TokenFor(DefaultOrg, userID, role, "")
}

// TokenFor issues an access token for any organization, optionally bound to a gate device.
func (e *Env) TokenFor(organizationID, userID string, role services.Role, deviceID string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           string(role),
		DeviceID:       deviceID,
	})
	require.NoError(e.T, err)
	return token
}

// SeedUnit creates a unit and makes it the primary unit of residentID.
func (e *Env) SeedUnit(organizationID, code, residentID string) *models.Unit {
	e.T.Helper()

	unit := &models.Unit{OrganizationID: organizationID, Code: code}
	require.NoError(e.T, e.DB.Create(unit).Error)
	if residentID != "" {
		require.NoError(e.T, e.DB.Create(&models.UnitMembership{UserID: residentID, UnitID: unit.ID, IsPrimary: true}).Error)
	}
	return unit
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.serve(req, token)
}

// FormFile is a file part of a multipart request.
type FormFile struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart posts a multipart/form-data body built from fields and optional files.
func (e *Env) Multipart(path string, fields map[string]string, token string, files ...FormFile) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(e.T, writer.WriteField(key, value))
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+file.Field+`"; filename="`+file.Filename+`"`)
		if file.ContentType != "" {
			header.Set("Content-Type", file.ContentType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(e.T, err)
		_, err = part.Write(file.Data)
		require.NoError(e.T, err)
	}
	require.NoError(e.T, writer.Close())

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return e.serve(req, token)
}

func (e *Env) serve(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
