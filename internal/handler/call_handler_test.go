package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/assistly/callcenter-service/internal/config"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/internal/services/call"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSDK struct {
	onReady func()
	onError func(error)
}

func (s *stubSDK) Connect(ctx context.Context) error {
	go s.onReady()
	return nil
}
func (s *stubSDK) OnReady(fn func())      { s.onReady = fn }
func (s *stubSDK) OnError(fn func(error)) { s.onError = fn }
func (s *stubSDK) Answer(string) error    { return nil }
func (s *stubSDK) IsReady() bool          { return true }

type stubCommander struct {
	ended []string
}

func (c *stubCommander) EndCall(_ context.Context, externalCallID string, _ domain.EndReason) error {
	c.ended = append(c.ended, externalCallID)
	return nil
}

func newTestRouter(t *testing.T) (*mux.Router, *call.CallCenterService) {
	t.Helper()
	cfg := &config.CallCenterConfig{
		IncomingCallTTL:   time.Minute,
		PhoneReadyTimeout: time.Second,
	}
	svc := call.NewCallCenterService(cfg, &stubSDK{}, &stubCommander{}, nil, nil, nil, nil)

	router := mux.NewRouter()
	hm := &HandlerManager{config: cfg, service: svc}
	hm.SetupAPIRoutes(router)
	return router, svc
}

func seedCall(svc *call.CallCenterService, id string, status domain.CallStatus) {
	now := time.Now()
	raw, _ := json.Marshal(call.CallEventMessage{Op: "upsert", Call: &domain.Call{
		ID:             id,
		ExternalCallID: "ext-" + id,
		Provider:       "twilio",
		Direction:      domain.CallDirectionInbound,
		Status:         status,
		StartedAt:      now.Add(-time.Minute),
		UpdatedAt:      now,
	}})
	svc.ApplyPushPayload(string(raw))
}

func TestListActiveCalls(t *testing.T) {
	router, svc := newTestRouter(t)
	seedCall(svc, "c1", domain.CallStatusAnswered)
	seedCall(svc, "c2", domain.CallStatusCompleted)

	req := httptest.NewRequest("GET", "/api/calls/active", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ActiveCallsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "c1", resp.Calls[0].ID)
	assert.False(t, resp.Stale)
}

func TestGetCallNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/calls/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndCallEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	seedCall(svc, "c1", domain.CallStatusAnswered)

	body := bytes.NewBufferString(`{"reason":"forced_end"}`)
	req := httptest.NewRequest("POST", "/api/calls/c1/end", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEndCallUnknownIs404(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/calls/missing/end", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIncomingCallEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/calls/incoming", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var idle map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idle))
	assert.Equal(t, false, idle["active"])

	seedCall(svc, "c1", domain.CallStatusRinging)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/calls/incoming", nil))
	var active map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	assert.Equal(t, true, active["active"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/calls/incoming/dismiss", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, ok := svc.IncomingCall()
	assert.False(t, ok)
}

func TestWorkspaceEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/workspace/show", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.WorkspaceSnapshot().Visible)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/workspace/hide", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.WorkspaceSnapshot().Visible)
}

func TestPhoneLifecycleEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/phone/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status call.PhoneStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "uninitialized", status.Phase)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/phone/initialize", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ready", status.Phase)
	assert.True(t, status.Connected)

	// Retry is only valid from degraded or failed.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/phone/retry", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Skip is rejected once ready.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/phone/skip", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestValidationMiddlewareRejectsWrongContentType(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/workspace/show", bytes.NewBufferString("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
