package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	appAuth "github.com/roleclock/roleclock/internal/application/auth"
	appReport "github.com/roleclock/roleclock/internal/application/report"
	appRole "github.com/roleclock/roleclock/internal/application/role"
	appSync "github.com/roleclock/roleclock/internal/application/sync"
	appTracker "github.com/roleclock/roleclock/internal/application/tracker"
	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/domain/apikey"
	"github.com/roleclock/roleclock/internal/domain/device"
	"github.com/roleclock/roleclock/internal/domain/peer"
	"github.com/roleclock/roleclock/internal/domain/peer/mocks"
	"github.com/roleclock/roleclock/internal/domain/role"
	"github.com/roleclock/roleclock/internal/store"
)

type apiFixture struct {
	router   http.Handler
	store    *store.Store
	clk      *clock.Fake
	authSvc  *appAuth.Service
	adminKey string
	writeKey string
	readKey  string
	syncKey  *apikey.APIKey
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(&store.MemoryPersister{})
	require.NoError(t, err)
	require.NoError(t, st.Update(func(d *store.Data) error {
		d.Settings = device.Settings{MinSessionSeconds: 300, TransitionSeconds: 30}
		return nil
	}))
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	logger := zerolog.Nop()

	authSvc := appAuth.NewService(st, clk, 5*time.Minute, logger)
	trackerSvc := appTracker.NewService(st, clk, logger)
	roleSvc := appRole.NewService(st, logger)
	reportSvc := appReport.NewService(st, clk, logger)
	transport := mocks.NewMockTransport(gomock.NewController(t))
	syncSvc := appSync.NewService(st, authSvc, transport, clk, "device-1", "laptop", logger)

	f := &apiFixture{
		store:   st,
		clk:     clk,
		authSvc: authSvc,
		router:  NewServer(trackerSvc, roleSvc, reportSvc, authSvc, syncSvc).Router(),
	}

	require.NoError(t, authSvc.ProvisionKey("admin", "rck_admin", "", []apikey.Permission{apikey.PermissionAdmin}))
	require.NoError(t, authSvc.ProvisionKey("writer", "rck_writer", "", []apikey.Permission{apikey.PermissionRead, apikey.PermissionWrite}))
	require.NoError(t, authSvc.ProvisionKey("reader", "rck_reader", "", []apikey.Permission{apikey.PermissionRead}))
	f.adminKey, f.writeKey, f.readKey = "rck_admin", "rck_writer", "rck_reader"
	f.syncKey, err = authSvc.GenerateKey("peer", []apikey.Permission{apikey.PermissionSync})
	require.NoError(t, err)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, key string, body any) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func decodeData(t *testing.T, env Envelope, out any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, "GET", "/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "AUTH_FAILURE", env.Error)
	assert.NotEmpty(t, env.Message)

	rec, env = f.do(t, "GET", "/status", "rck_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_FAILURE", env.Error)
}

func TestPermissionGate(t *testing.T) {
	f := newAPIFixture(t)

	// Read key cannot write or administer.
	rec, _ := f.do(t, "POST", "/roles", f.readKey, roleRequest{Name: "work", ColorHex: "#112233"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = f.do(t, "GET", "/auth/keys", f.readKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Admin satisfies every requirement.
	rec, _ = f.do(t, "GET", "/status", f.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, "POST", "/roles", f.adminKey, roleRequest{Name: "work", ColorHex: "#112233"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRoleCRUD(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "work", ColorHex: "#112233"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created role.Role
	decodeData(t, env, &created)
	assert.Equal(t, "work", created.Name)

	rec, env = f.do(t, "GET", "/roles", f.readKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []role.Role
	decodeData(t, env, &listed)
	assert.Len(t, listed, 1)

	rec, env = f.do(t, "PUT", "/roles/"+created.RoleID.String(), f.writeKey, roleRequest{Name: "deep work", ColorHex: "#445566"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated role.Role
	decodeData(t, env, &updated)
	assert.Equal(t, "deep work", updated.Name)

	rec, env = f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "", ColorHex: "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILURE", env.Error)

	rec, _ = f.do(t, "DELETE", "/roles/"+created.RoleID.String(), f.writeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, "GET", "/roles/"+created.RoleID.String(), f.readKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error)
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	_, env := f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "work", ColorHex: "#112233"})
	var work role.Role
	decodeData(t, env, &work)
	_, env = f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "rest", ColorHex: "#445566"})
	var rest role.Role
	decodeData(t, env, &rest)

	rec, _ := f.do(t, "POST", "/sessions/start", f.writeKey, sessionRoleRequest{RoleID: work.RoleID})
	require.Equal(t, http.StatusOK, rec.Code)

	// Switching inside the lock window reports the remaining seconds.
	f.clk.Advance(100 * time.Second)
	rec, env = f.do(t, "POST", "/sessions/switch", f.writeKey, sessionRoleRequest{RoleID: rest.RoleID})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "LOCK_VIOLATION", env.Error)
	var lockData struct {
		RemainingSeconds int `json:"remainingSeconds"`
	}
	decodeData(t, env, &lockData)
	assert.Equal(t, 200, lockData.RemainingSeconds)

	// After the lock expires the countdown starts and then commits.
	f.clk.Advance(201 * time.Second)
	rec, _ = f.do(t, "POST", "/sessions/switch", f.writeKey, sessionRoleRequest{RoleID: rest.RoleID})
	require.Equal(t, http.StatusOK, rec.Code)
	f.clk.Advance(30 * time.Second)

	rec, env = f.do(t, "GET", "/status", f.readKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status appTracker.Status
	decodeData(t, env, &status)
	assert.True(t, status.IsActive)
	require.NotNil(t, status.CurrentRole)
	assert.Equal(t, rest.RoleID, status.CurrentRole.RoleID)

	// Ending while idle is an invalid state transition.
	f.clk.Advance(301 * time.Second)
	rec, _ = f.do(t, "POST", "/sessions/end", f.writeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = f.do(t, "POST", "/sessions/end", f.writeKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", env.Error)

	rec, env = f.do(t, "GET", "/sessions", f.readKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []map[string]any
	decodeData(t, env, &sessions)
	assert.Len(t, sessions, 2)
}

func TestUnknownFieldRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, "POST", "/roles", f.writeKey, map[string]any{"name": "work", "colour": "#112233"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILURE", env.Error)
}

func TestKeyManagement(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, "POST", "/auth/keys", f.adminKey, keyCreateRequest{
		Name:        "new device",
		Permissions: []apikey.Permission{apikey.PermissionRead},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created apikey.APIKey
	decodeData(t, env, &created)
	// The creation response is the only one carrying the secret.
	assert.NotEmpty(t, created.Secret)

	rec, env = f.do(t, "GET", "/auth/keys", f.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys []apikey.APIKey
	decodeData(t, env, &keys)
	for _, k := range keys {
		assert.Empty(t, k.Secret)
	}

	rec, _ = f.do(t, "DELETE", "/auth/keys/"+created.KeyID.String(), f.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignedSyncPush(t *testing.T) {
	f := newAPIFixture(t)

	remoteRole := *role.New("imported", "#778899", "", "")
	snap := peer.Snapshot{
		DeviceID: "device-2",
		Roles:    []role.Role{remoteRole},
	}
	body, err := json.Marshal(snap)
	require.NoError(t, err)

	ts := appAuth.FormatTimestamp(f.clk.Now())
	req := httptest.NewRequest("POST", "/sync/push", bytes.NewReader(body))
	req.Header.Set("X-API-Key", f.syncKey.Key)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", appAuth.Sign(f.syncKey.Secret, ts, body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var stats appSync.MergeStats
	decodeData(t, env, &stats)
	assert.Equal(t, 1, stats.RolesUpserted)
	assert.Len(t, f.store.Roles(), 1)
}

func TestSignedSyncPush_BadSignature(t *testing.T) {
	f := newAPIFixture(t)

	body := []byte(`{"deviceId":"device-2"}`)
	ts := appAuth.FormatTimestamp(f.clk.Now())
	req := httptest.NewRequest("POST", "/sync/push", bytes.NewReader(body))
	req.Header.Set("X-API-Key", f.syncKey.Key)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", appAuth.Sign("wrong secret", ts, body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncPull(t *testing.T) {
	f := newAPIFixture(t)

	_, env := f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "work", ColorHex: "#112233"})
	var work role.Role
	decodeData(t, env, &work)
	rec, _ := f.do(t, "POST", "/sessions/start", f.writeKey, sessionRoleRequest{RoleID: work.RoleID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, "GET", "/sync/pull?deviceId=device-2", f.syncKey.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap peer.Snapshot
	decodeData(t, env, &snap)
	assert.Equal(t, "device-1", snap.DeviceID)
	assert.Len(t, snap.Events, 1)

	// since excludes everything at or before the cursor.
	since := appAuth.FormatTimestamp(f.clk.Now())
	rec, env = f.do(t, "GET", "/sync/pull?since="+since, f.syncKey.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, env, &snap)
	assert.Empty(t, snap.Events)
}

func TestEndpointAdminCRUD(t *testing.T) {
	f := newAPIFixture(t)

	rec, env := f.do(t, "POST", "/sync/endpoints", f.adminKey, endpointRequest{
		Name:      "peer",
		URL:       "http://peer.local:8080",
		APIKeyID:  f.syncKey.KeyID,
		Direction: peer.DirectionBidirectional,
		IsActive:  true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ep peer.Endpoint
	decodeData(t, env, &ep)

	rec, _ = f.do(t, "POST", "/sync/endpoints", f.syncKey.Key, endpointRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = f.do(t, "GET", "/sync/endpoints", f.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var eps []peer.Endpoint
	decodeData(t, env, &eps)
	assert.Len(t, eps, 1)

	rec, _ = f.do(t, "DELETE", "/sync/endpoints/"+ep.EndpointID.String(), f.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTimeParams(t *testing.T) {
	f := newAPIFixture(t)

	// Day one: a closed session. Day two: an open one.
	_, env := f.do(t, "POST", "/roles", f.writeKey, roleRequest{Name: "work", ColorHex: "#112233"})
	var work role.Role
	decodeData(t, env, &work)
	rec, _ := f.do(t, "POST", "/sessions/start", f.writeKey, sessionRoleRequest{RoleID: work.RoleID})
	require.Equal(t, http.StatusOK, rec.Code)
	f.clk.Advance(301 * time.Second)
	rec, _ = f.do(t, "POST", "/sessions/end", f.writeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f.clk.Advance(24 * time.Hour)
	rec, _ = f.do(t, "POST", "/sessions/start", f.writeKey, sessionRoleRequest{RoleID: work.RoleID})
	require.Equal(t, http.StatusOK, rec.Code)

	// RFC3339 window covering only day one.
	rec, env = f.do(t, "GET", "/sessions?startDate=2025-06-01T00:00:00Z&endDate=2025-06-02T00:00:00Z", f.readKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []map[string]any
	decodeData(t, env, &sessions)
	assert.Len(t, sessions, 1)

	// Unix-millisecond cursor selecting only day two's start event.
	startOfDayTwo := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	rec, env = f.do(t, "GET", "/events?startDate="+strconv.FormatInt(startOfDayTwo, 10), f.readKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []map[string]any
	decodeData(t, env, &events)
	assert.Len(t, events, 1)

	rec, env = f.do(t, "GET", "/analytics?startDate=yesterday", f.readKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILURE", env.Error)

	rec, env = f.do(t, "GET", "/sessions?endDate=last-tuesday", f.readKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILURE", env.Error)
}
