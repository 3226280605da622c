package handlers_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/handlers/testutil"
	"github.com/kodianteach/atlas-platform-sub001/internal/models"
	"github.com/kodianteach/atlas-platform-sub001/internal/services"
)

type validationPayload struct {
	ScanResult models.ScanResult  `json:"scan_result"`
	Event      models.AccessEvent `json:"event"`
	Pass       *struct {
		AuthorizationID string `json:"authorization_id"`
		UnitCode        string `json:"unit_code"`
		PersonName      string `json:"person_name"`
		KeyID           string `json:"kid"`
		Vehicle         *struct {
			Plate string `json:"plate"`
		} `json:"vehicle"`
	} `json:"pass"`
}

func validate(t *testing.T, env *testutil.Env, token string, body map[string]any) validationPayload {
	t.Helper()

	w := env.Request(http.MethodPost, "/api/access/validate", body, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out validationPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &out)
	return out
}

func TestValidateIssuedPass(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedUnit(testutil.DefaultOrg, "T2-501", "resident-1")
	auth := issuePass(t, env, env.Token("resident-1", services.RoleResident), nil)
	porter := env.TokenFor(testutil.DefaultOrg, "porter-1", services.RolePorter, "gate-north")

	out := validate(t, env, porter, map[string]any{"token": auth.SignedQR, "observed_plate": "ABC 123"})

	require.Equal(t, models.ScanResultValid, out.ScanResult)
	require.Equal(t, "porter-1", out.Event.PorterUserID)
	require.Equal(t, "gate-north", out.Event.DeviceID)
	require.Equal(t, models.AccessActionEntry, out.Event.Action)
	require.NotNil(t, out.Event.VehicleMatch)
	require.True(t, *out.Event.VehicleMatch)
	require.NotNil(t, out.Pass)
	require.Equal(t, auth.ID, out.Pass.AuthorizationID)
	require.Equal(t, "T2-501", out.Pass.UnitCode)
	require.NotEmpty(t, out.Pass.KeyID)
	require.NotNil(t, out.Pass.Vehicle)
	require.Equal(t, "ABC123", out.Pass.Vehicle.Plate)
}

func TestValidateRevokedAndTamperedPasses(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedUnit(testutil.DefaultOrg, "T2-501", "resident-1")
	resident := env.Token("resident-1", services.RoleResident)
	porter := env.Token("porter-1", services.RolePorter)
	auth := issuePass(t, env, resident, nil)

	pos := strings.Index(auth.SignedQR, ".") + 10
	replacement := "A"
	if auth.SignedQR[pos] == 'A' {
		replacement = "B"
	}
	tampered := auth.SignedQR[:pos] + replacement + auth.SignedQR[pos+1:]
	out := validate(t, env, porter, map[string]any{"token": tampered})
	require.Equal(t, models.ScanResultInvalid, out.ScanResult)
	require.Nil(t, out.Pass)

	w := env.Request(http.MethodPost, "/api/authorizations/"+auth.ID+"/revoke", nil, resident)
	require.Equal(t, http.StatusOK, w.Code)

	out = validate(t, env, porter, map[string]any{"token": auth.SignedQR, "action": "EXIT"})
	require.Equal(t, models.ScanResultRevoked, out.ScanResult)
	require.Equal(t, models.AccessActionExit, out.Event.Action)
}

func TestValidateRejectsUnusableTokens(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedUnit(testutil.DefaultOrg, "T2-501", "resident-1")
	auth := issuePass(t, env, env.Token("resident-1", services.RoleResident), nil)
	porter := env.Token("porter-1", services.RolePorter)

	w := env.Request(http.MethodPost, "/api/access/validate", map[string]any{"token": "not-a-pass"}, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "MALFORMAT", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/access/validate", map[string]any{"token": auth.SignedQR}, env.TokenFor("org-2", "porter-9", services.RolePorter, ""))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "KEY_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/access/validate", map[string]any{"token": auth.SignedQR, "action": "LOITER"}, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/access/validate", map[string]any{"token": auth.SignedQR}, env.Token("resident-1", services.RoleResident))
	require.Equal(t, http.StatusForbidden, w.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.AccessEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestLookupAndDocumentEntry(t *testing.T) {
	env := testutil.NewEnv(t)
	env.SeedUnit(testutil.DefaultOrg, "T2-501", "resident-1")
	auth := issuePass(t, env, env.Token("resident-1", services.RoleResident), nil)
	porter := env.TokenFor(testutil.DefaultOrg, "porter-1", services.RolePorter, "gate-south")

	w := env.Request(http.MethodGet, "/api/access/lookup?document=CC-1020", nil, porter)
	require.Equal(t, http.StatusOK, w.Code)
	var found []models.Authorization
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &found)
	require.Len(t, found, 1)
	require.Equal(t, auth.ID, found[0].ID)

	w = env.Request(http.MethodGet, "/api/access/lookup", nil, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/access/document-entries", map[string]any{"authorization_id": auth.ID}, porter)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var event models.AccessEvent
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &event)
	require.Equal(t, models.ScanResultValid, event.ScanResult)
	require.Equal(t, "gate-south", event.DeviceID)
	require.NotNil(t, event.AuthorizationID)
	require.Equal(t, auth.ID, *event.AuthorizationID)

	w = env.Request(http.MethodPost, "/api/access/document-entries", map[string]any{"authorization_id": "missing"}, porter)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "AUTHORIZATION_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}

func TestSyncOfflineEvents(t *testing.T) {
	env := testutil.NewEnv(t)
	porter := env.TokenFor(testutil.DefaultOrg, "porter-1", services.RolePorter, "gate-east")
	scanned := time.Now().UTC().Add(-30 * time.Minute).Truncate(time.Second)

	w := env.Request(http.MethodPost, "/api/access/events/sync", map[string]any{
		"events": []map[string]any{
			{"action": "entry", "scan_result": "valid", "person_name": "Laura", "scanned_at": scanned.Format(time.RFC3339), "metadata": map[string]any{"battery": 41}},
			{"action": "EXIT", "scan_result": "EXPIRED", "device_id": "gate-west", "scanned_at": scanned.Add(time.Minute).Format(time.RFC3339)},
		},
	}, porter)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		Synced int                  `json:"synced"`
		Events []models.AccessEvent `json:"events"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &out)
	require.Equal(t, 2, out.Synced)
	require.Len(t, out.Events, 2)
	for _, event := range out.Events {
		require.True(t, event.OfflineValidated)
		require.NotNil(t, event.SyncedAt)
		require.Equal(t, "porter-1", event.PorterUserID)
		require.Equal(t, testutil.DefaultOrg, event.OrganizationID)
	}
	require.Equal(t, "gate-east", out.Events[0].DeviceID)
	require.Equal(t, "gate-west", out.Events[1].DeviceID)
	require.True(t, scanned.Equal(out.Events[0].ScannedAt))

	w = env.Request(http.MethodGet, "/api/access/events?scan_result=expired", nil, porter)
	require.Equal(t, http.StatusOK, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, 1, resp.Meta.Total)

	w = env.Request(http.MethodGet, "/api/access/events?device_id=gate-east", nil, porter)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, testutil.DecodeResponse(t, w).Meta.Total)
}

func TestSyncRejectsInvalidBatchAtomically(t *testing.T) {
	env := testutil.NewEnv(t)
	porter := env.Token("porter-1", services.RolePorter)
	scanned := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)

	w := env.Request(http.MethodPost, "/api/access/events/sync", map[string]any{
		"events": []map[string]any{
			{"action": "ENTRY", "scan_result": "VALID", "scanned_at": scanned},
			{"action": "ENTRY", "scan_result": "MAYBE", "scanned_at": scanned},
		},
	}, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_EVENT", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/access/events/sync", map[string]any{
		"events": []map[string]any{
			{"action": "ENTRY", "scan_result": "VALID", "scanned_at": "1969-12-31T23:59:59Z"},
		},
	}, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_EVENT", testutil.DecodeResponse(t, w).Error.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.AccessEvent{}).Count(&count).Error)
	require.Zero(t, count)

	w = env.Request(http.MethodPost, "/api/access/events/sync", map[string]any{"events": []any{}}, porter)
	require.Equal(t, http.StatusCreated, w.Code)
	require.True(t, strings.Contains(w.Body.String(), `"events":[]`))
}

func TestListEventsRejectsBadFilters(t *testing.T) {
	env := testutil.NewEnv(t)
	porter := env.Token("porter-1", services.RolePorter)

	w := env.Request(http.MethodGet, "/api/access/events?since=yesterday", nil, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/access/events?scan_result=PERHAPS", nil, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicKeysForOfflineDevices(t *testing.T) {
	env := testutil.NewEnv(t)
	porter := env.Token("porter-1", services.RolePorter)

	w := env.Request(http.MethodGet, "/api/access/keys", nil, porter)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", string(testutil.DecodeResponse(t, w).Data))

	env.SeedUnit(testutil.DefaultOrg, "T2-501", "resident-1")
	auth := issuePass(t, env, env.Token("resident-1", services.RoleResident), nil)
	require.NotEmpty(t, auth.SignedQR)

	w = env.Request(http.MethodGet, "/api/access/keys", nil, porter)
	require.Equal(t, http.StatusOK, w.Code)
	var keys []struct {
		KeyID     string `json:"kid"`
		Algorithm string `json:"algorithm"`
		PublicKey string `json:"public_key"`
		Active    bool   `json:"active"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &keys)
	require.Len(t, keys, 1)
	require.True(t, keys[0].Active)
	require.NotEmpty(t, keys[0].PublicKey)
}

func TestValidateRateLimitedPerDevice(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithValidationLimit(1, time.Minute))
	porter := env.TokenFor(testutil.DefaultOrg, "porter-1", services.RolePorter, "gate-north")
	other := env.TokenFor(testutil.DefaultOrg, "porter-2", services.RolePorter, "gate-south")
	body := map[string]any{"token": "not-a-pass"}

	w := env.Request(http.MethodPost, "/api/access/validate", body, porter)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/access/validate", body, porter)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/access/validate", body, other)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
