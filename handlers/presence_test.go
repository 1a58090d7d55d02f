package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/presence-engine/config"
	"chorus/presence-engine/middleware"
	"chorus/presence-engine/models"
	"chorus/presence-engine/services"
	"chorus/presence-engine/utils"
)

const testSecret = "test-secret"

type testEnv struct {
	router      *gin.Engine
	store       *services.MemoryPresenceStore
	service     *services.PresenceService
	registry    *services.ConnectionRegistry
	broadcaster services.Broadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:      testSecret,
		AwayThreshold:  60 * time.Second,
		StaleThreshold: 120 * time.Second,
	}
	logger := utils.NewLogger("test")

	store := services.NewMemoryPresenceStore()
	cache := services.NewSnapshotCache()
	registry := services.NewConnectionRegistry()
	service := services.NewPresenceService(store, cache, cfg, logger)
	broadcaster := services.NewLocalBroadcaster(registry, service, logger)
	verifier := services.NewTokenVerifier(cfg.JWTSecret)

	gateway := NewWSGateway(verifier, service, registry, broadcaster, logger)
	presenceHandler := NewPresenceHandler(service, broadcaster, logger)

	router := gin.New()
	router.GET("/health", HealthCheck)
	router.GET("/ws/presence", gateway.Handle)

	api := router.Group("/presence")
	api.Use(middleware.Auth(verifier))
	{
		api.GET("/me", presenceHandler.GetMyPresence)
		api.GET("/user/:id", presenceHandler.GetUserPresence)
		api.GET("/team", presenceHandler.GetTeamPresence)
		api.PATCH("/status", presenceHandler.UpdateStatus)
	}

	return &testEnv{
		router:      router,
		store:       store,
		service:     service,
		registry:    registry,
		broadcaster: broadcaster,
	}
}

func (e *testEnv) createUser(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()

	user := &models.User{
		ID:       uuid.New(),
		TenantID: tenantID,
		Email:    "user@example.com",
		IsActive: true,
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user.ID.String()
}

func makeToken(t *testing.T, userID, tenantID string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      userID,
		"tenantId": tenantID,
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// recordingHandle stands in for a live socket when only delivery matters.
type recordingHandle struct {
	id string

	mu     sync.Mutex
	events []services.Event
}

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Send(event services.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return true
}

func (h *recordingHandle) received() []services.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]services.Event, len(h.events))
	copy(out, h.events)
	return out
}

func TestGetMyPresence(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userID := env.createUser(t, tenantID)

	rec := env.request(t, http.MethodGet, "/presence/me", makeToken(t, userID, tenantID.String()), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, userID, snapshot.UserID)
	assert.Equal(t, models.StatusOffline, snapshot.Status)
	assert.Equal(t, 0, snapshot.ActiveConnections)
}

func TestPresenceRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/presence/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/presence/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUserPresenceNotFound(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userID := env.createUser(t, tenantID)

	rec := env.request(t, http.MethodGet, "/presence/user/"+uuid.NewString(), makeToken(t, userID, tenantID.String()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTeamPresenceCoversWholeTenant(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userA := env.createUser(t, tenantID)
	userB := env.createUser(t, tenantID)
	env.createUser(t, uuid.New()) // other tenant

	rec := env.request(t, http.MethodGet, "/presence/team", makeToken(t, userA, tenantID.String()), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.BulkPresenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	ids := make([]string, 0, len(response.Presences))
	for _, snapshot := range response.Presences {
		ids = append(ids, snapshot.UserID)
	}
	assert.ElementsMatch(t, []string{userA, userB}, ids)
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userID := env.createUser(t, tenantID)

	body := models.UpdateStatusRequest{Status: models.StatusBusy}
	custom := "In review"
	body.CustomStatus = &custom

	rec := env.request(t, http.MethodPatch, "/presence/status", makeToken(t, userID, tenantID.String()), body)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, models.StatusBusy, snapshot.Status)
	require.NotNil(t, snapshot.CustomStatus)
	assert.Equal(t, "In review", *snapshot.CustomStatus)

	// Subsequent read reflects the write
	rec = env.request(t, http.MethodGet, "/presence/me", makeToken(t, userID, tenantID.String()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, models.StatusBusy, snapshot.Status)
}

func TestUpdateStatusRejectsInvalidValues(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userID := env.createUser(t, tenantID)
	token := makeToken(t, userID, tenantID.String())

	rec := env.request(t, http.MethodPatch, "/presence/status", token, map[string]string{"status": "invisible"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPatch, "/presence/status", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := make([]byte, models.MaxCustomStatusLength+1)
	for i := range long {
		long[i] = 'x'
	}
	rec = env.request(t, http.MethodPatch, "/presence/status", token, map[string]string{
		"status":       "busy",
		"customStatus": string(long),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusReachesSocketObservers(t *testing.T) {
	env := newTestEnv(t)
	tenantID := uuid.New()
	userA := env.createUser(t, tenantID)
	userB := env.createUser(t, tenantID)

	// A peer watching over a socket
	peer := &recordingHandle{id: "peer-conn"}
	env.registry.Register(peer, userB, tenantID.String())

	body := models.UpdateStatusRequest{Status: models.StatusAway}
	rec := env.request(t, http.MethodPatch, "/presence/status", makeToken(t, userA, tenantID.String()), body)
	require.Equal(t, http.StatusOK, rec.Code)

	events := peer.received()
	require.Len(t, events, 1)
	assert.Equal(t, services.EventPresenceChanged, events[0].Event)

	snapshot, ok := events[0].Data.(models.Snapshot)
	require.True(t, ok)
	assert.Equal(t, userA, snapshot.UserID)
	assert.Equal(t, models.StatusAway, snapshot.Status)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
