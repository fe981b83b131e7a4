package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacelight/pacelight/internal/api"
	"github.com/pacelight/pacelight/internal/api/models"
	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/auth"
	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/timer"
)

// fakeDeliverer records deliveries and reports success. Monitors deliver
// from their own goroutines, so access is locked.
type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []apns.Delivery
}

func (f *fakeDeliverer) Deliver(_ context.Context, d apns.Delivery) (*apns.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return &apns.Result{
		Environment: apns.EnvironmentProduction,
		Host:        apns.ProductionHost,
		APNSID:      "apns-id-test",
	}, nil
}

func (f *fakeDeliverer) all() []apns.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apns.Delivery, len(f.deliveries))
	copy(out, f.deliveries)
	return out
}

// testJWTService creates a JWT service for generating test tokens.
func testJWTService() *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.pacelight.io",
		Audience:   "pacelight-api",
	})
}

// generateTestToken generates a valid test token for a user.
func generateTestToken(t *testing.T) string {
	t.Helper()
	token, _, err := testJWTService().GenerateAccessToken("usr_testuser123")
	require.NoError(t, err)
	return token
}

type routerFixture struct {
	router    http.Handler
	deliverer *fakeDeliverer
	tokens    *registry.InMemoryRepository
	timers    *timer.InMemoryRepository
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	timers := timer.NewInMemoryRepository()
	tokens := registry.NewInMemoryRepository()

	registryService := registry.NewService(registry.ServiceConfig{
		Repository:      tokens,
		Logger:          logger,
		DefaultBundleID: "com.example.app",
	})
	deliverer := &fakeDeliverer{}
	pushService := push.NewService(push.ServiceConfig{
		Timers:   timers,
		Registry: registryService,
		Client:   deliverer,
		Logger:   logger,
	})
	timerService := timer.NewService(timer.ServiceConfig{
		Repository: timers,
		Logger:     logger,
	})
	monitors := push.NewCoordinator(push.CoordinatorConfig{
		Timers:  timers,
		Service: pushService,
		Logger:  logger,
	})
	t.Cleanup(monitors.StopAll)

	router := api.NewRouter(api.RouterConfig{
		Version:         "test",
		BuildTime:       "2024-01-01T00:00:00Z",
		Logger:          logger,
		JWTService:      testJWTService(),
		PushService:     pushService,
		RegistryService: registryService,
		TimerService:    timerService,
		Monitors:        monitors,
	})

	return &routerFixture{
		router:    router,
		deliverer: deliverer,
		tokens:    tokens,
		timers:    timers,
	}
}

// addAuthHeader adds a valid Bearer token to the request.
func addAuthHeader(t *testing.T, req *http.Request) {
	t.Helper()
	token := generateTestToken(t)
	req.Header.Set("Authorization", "Bearer "+token)
}

func (f *routerFixture) registerToken(activityID string) {
	f.tokens.SetForTest(&registry.TokenRecord{
		ActivityID:  activityID,
		PushToken:   "tok-" + activityID,
		BundleID:    "com.example.app",
		Environment: registry.EnvironmentProduction,
		UpdatedAt:   time.Now(),
	})
}

func TestRouter_HealthCheck(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	err := json.Unmarshal(w.Body.Bytes(), &health)
	require.NoError(t, err)

	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.NotEmpty(t, health.Time)
}

func TestRouter_ReadinessCheck(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	err := json.Unmarshal(w.Body.Bytes(), &health)
	require.NoError(t, err)

	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_SystemStatus_RequiresAuth(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	addAuthHeader(t, req)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	err := json.Unmarshal(w.Body.Bytes(), &status)
	require.NoError(t, err)

	assert.Equal(t, models.HealthStatusOK, status.Status)
}

func TestRouter_UpdateActivity(t *testing.T) {
	f := newTestRouter(t)
	f.registerToken("act-1")

	input := models.ActivityUpdateRequest{
		ActivityID: "act-1",
		ContentState: map[string]interface{}{
			"startedAt":   time.Now().UTC().Format(time.RFC3339),
			"duration":    300.0,
			"sessionType": "countdown",
		},
	}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ActivityUpdateResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "act-1", resp.ActivityID)
	assert.Equal(t, string(apns.EnvironmentProduction), resp.Environment)
	deliveries := f.deliverer.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "tok-act-1", deliveries[0].Token)
}

func TestRouter_UpdateActivity_FrequentPushesDefault(t *testing.T) {
	f := newTestRouter(t)
	f.registerToken("act-1")
	f.registerToken("act-2")

	pauseState := func() map[string]interface{} {
		return map[string]interface{}{
			"startedAt":   time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
			"pausedAt":    time.Now().UTC().Format(time.RFC3339),
			"duration":    300.0,
			"sessionType": "countdown",
		}
	}

	// Flag omitted: frequent pushes are on, so the first pause is deferred.
	body, _ := json.Marshal(models.ActivityUpdateRequest{
		ActivityID:   "act-1",
		ContentState: pauseState(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/activities/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	deliveries := f.deliverer.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "pause", deliveries[0].Payload.APS.Event)
	assert.Equal(t, apns.PriorityLow, deliveries[0].Priority)

	// Explicit opt-out switches to the conservative immediate budget.
	off := false
	body, _ = json.Marshal(models.ActivityUpdateRequest{
		ActivityID:            "act-2",
		ContentState:          pauseState(),
		FrequentPushesEnabled: &off,
	})
	req = httptest.NewRequest(http.MethodPost, "/v1/activities/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	deliveries = f.deliverer.all()
	require.Len(t, deliveries, 2)
	assert.Equal(t, apns.PriorityHigh, deliveries[1].Priority)
}

func TestRouter_UpdateActivity_ValidationError(t *testing.T) {
	f := newTestRouter(t)

	input := models.ActivityUpdateRequest{
		ContentState: map[string]interface{}{"startedAt": "2025-06-15T12:00:00Z"},
	}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem models.Problem
	err := json.Unmarshal(w.Body.Bytes(), &problem)
	require.NoError(t, err)

	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.NotEmpty(t, problem.TraceID)
}

func TestRouter_UpdateActivity_NoToken(t *testing.T) {
	f := newTestRouter(t)

	input := models.ActivityUpdateRequest{
		ActivityID: "act-unknown",
		ContentState: map[string]interface{}{
			"startedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_RegisterToken(t *testing.T) {
	f := newTestRouter(t)

	input := models.TokenRegisterRequest{
		Token:      "80dd0a4bfe8a4b0011223344aabbccdd",
		ActivityID: "act-1",
	}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/tokens", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, w.Header().Get("Location"))

	var resp models.TokenRegisterResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.Equal(t, "act-1", resp.ActivityID)
	assert.Equal(t, "ccdd", resp.TokenLast4)
	assert.Equal(t, "com.example.app", resp.BundleID)
}

func TestRouter_RegisterToken_ValidationError(t *testing.T) {
	f := newTestRouter(t)

	input := models.TokenRegisterRequest{ActivityID: "act-1"}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/tokens", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_TimerAction_RequiresAuth(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/timer/action", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_TimerAction_Start(t *testing.T) {
	f := newTestRouter(t)
	f.registerToken("act-1")

	input := models.TimerActionRequest{
		ActivityID: "act-1",
		Action:     "start",
		ContentState: map[string]interface{}{
			"startedAt":   time.Now().UTC().Format(time.RFC3339),
			"duration":    300.0,
			"sessionType": "countdown",
		},
	}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/timer/action", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(t, req)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.TimerActionResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.Equal(t, "act-1", resp.ActivityID)
	assert.Equal(t, "start", resp.Action)
	assert.True(t, resp.Delivered)

	stored, err := f.timers.Get(req.Context(), "usr_testuser123")
	require.NoError(t, err)
	assert.Equal(t, timer.ActionStart, stored.Action)
}

func TestRouter_TimerAction_UnknownAction(t *testing.T) {
	f := newTestRouter(t)

	input := models.TimerActionRequest{ActivityID: "act-1", Action: "explode"}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/timer/action", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(t, req)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_TimerAction_NoActiveTimer(t *testing.T) {
	f := newTestRouter(t)

	input := models.TimerActionRequest{Action: "pause"}
	body, _ := json.Marshal(input)

	req := httptest.NewRequest(http.MethodPost, "/v1/timer/action", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(t, req)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_MonitorControl(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/act-1/monitor", http.NoBody)
	addAuthHeader(t, req)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp models.MonitorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "act-1", resp.ActivityID)
	assert.Equal(t, 1, resp.Running)

	stop := httptest.NewRequest(http.MethodDelete, "/v1/activities/act-1/monitor", http.NoBody)
	addAuthHeader(t, stop)
	w = httptest.NewRecorder()

	f.router.ServeHTTP(w, stop)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	f := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/nonexistent", http.NoBody)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
