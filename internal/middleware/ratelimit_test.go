package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/cache"
	"github.com/kodianteach/atlas-platform-sub001/internal/database/testutil"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{Limit: 2, Window: 100 * time.Millisecond}))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	// First two requests should pass
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		r.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	// Third request within window should be rate-limited
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header to be 0, got %q", w.Header().Get("X-RateLimit-Remaining"))
	}

	time.Sleep(120 * time.Millisecond)

	// After window resets, should pass again
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200 after reset, got %d", w.Code)
	}
}

func TestRateLimitCountsPerDevice(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewCacheRateStore(cache.NewDatabaseStore(db))

	r := gin.New()
	r.POST("/validate", func(c *gin.Context) {
		c.Set(CtxDeviceIDKey, c.GetHeader("X-Device"))
		c.Next()
	}, RateLimit(RateLimitConfig{Store: store, Limit: 1, Window: time.Minute, Key: KeyByDevice}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	send := func(device string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/validate", nil)
		req.Header.Set("X-Device", device)
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusNoContent, send("gate-1"))
	require.Equal(t, http.StatusTooManyRequests, send("gate-1"))
	require.Equal(t, http.StatusNoContent, send("gate-2"))
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{Store: failingRateStore{}, Limit: 1, Window: time.Minute}))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNewCacheRateStoreRequiresStore(t *testing.T) {
	require.Nil(t, NewCacheRateStore(nil))
}
