package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/delivery"
	"github.com/zeptac/subtronic-fleet/internal/settings"
)

// fakeSender lets handler tests script the coordinator's outcome.
type fakeSender struct {
	sendResult  delivery.SendResult
	retryResult delivery.SendResult
	retryErr    error
	sentDevice  string
	retriedID   string
}

func (f *fakeSender) Send(ctx context.Context, deviceID string) delivery.SendResult {
	f.sentDevice = deviceID
	return f.sendResult
}

func (f *fakeSender) Retry(ctx context.Context, commandID string) (delivery.SendResult, error) {
	f.retriedID = commandID
	return f.retryResult, f.retryErr
}

func setupRouter(sender Sender) (*gin.Engine, *settings.Store, *ack.Tracker) {
	store := settings.NewStore()
	tracker := ack.NewTracker(time.Hour)
	handler := NewHandler(store, tracker, sender, nil)
	return NewRouter(handler, rate.Limit(1000), 1000), store, tracker
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestStageSetting(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{"Mode": "Survey"})

	w := postJSON(router, "/api/devices/OTSM-0114/settings/stage",
		gin.H{"key": "Mode", "value": "Interrupt"})

	assert.Equal(t, http.StatusOK, w.Code)

	var summary settings.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Count)
	assert.Equal(t, "Interrupt", summary.Changes["Mode"])
	assert.Equal(t, "Interrupt", store.StagedChanges("OTSM-0114")["Mode"])
}

func TestStageSettingUnknownDevice(t *testing.T) {
	router, _, _ := setupRouter(&fakeSender{})

	w := postJSON(router, "/api/devices/ghost/settings/stage",
		gin.H{"key": "Mode", "value": "Interrupt"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"device not tracked"}`, w.Body.String())
}

func TestStageSettingBadBody(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{})

	w := postJSON(router, "/api/devices/OTSM-0114/settings/stage", gin.H{"value": 3})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestStageBatch(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{"Mode": "Survey"})

	w := postJSON(router, "/api/devices/OTSM-0114/settings/batch",
		gin.H{"updates": gin.H{"Mode": "Interrupt", "Output Voltage": 2.5}})

	assert.Equal(t, http.StatusOK, w.Code)

	var summary settings.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Count)
}

func TestGetStagedSummary(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{"Mode": "Survey"})
	store.Stage("OTSM-0114", "Mode", "Interrupt")

	w := get(router, "/api/devices/OTSM-0114/settings/staged")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, true, body["hasPending"])
}

func TestGetComposedPayload(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{"Mode": "Survey", "loggingInterval": 60})
	store.Stage("OTSM-0114", "Mode", "Interrupt")

	w := get(router, "/api/devices/OTSM-0114/settings/payload")

	assert.Equal(t, http.StatusOK, w.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "Interrupt", payload["Mode"])
	// Alias keys never reach the wire.
	assert.NotContains(t, payload, "loggingInterval")
}

func TestSendSettingsSent(t *testing.T) {
	sender := &fakeSender{sendResult: delivery.SendResult{Sent: true, CommandID: "cmd-1"}}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/devices/OTSM-0114/settings/complete", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OTSM-0114", sender.sentDevice)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["sent"])
	assert.Equal(t, "cmd-1", body["commandId"])
}

func TestSendSettingsNoPendingIsOK(t *testing.T) {
	sender := &fakeSender{sendResult: delivery.SendResult{
		Sent:   false,
		Reason: delivery.ReasonNoPendingChanges,
	}}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/devices/OTSM-0114/settings/complete", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["sent"])
	assert.Equal(t, delivery.ReasonNoPendingChanges, body["reason"])
}

func TestSendSettingsInProgressConflicts(t *testing.T) {
	sender := &fakeSender{sendResult: delivery.SendResult{
		Sent:   false,
		Reason: delivery.ReasonDeliveryInProgress,
	}}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/devices/OTSM-0114/settings/complete", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSendSettingsTransportFailure(t *testing.T) {
	sender := &fakeSender{sendResult: delivery.SendResult{
		Sent:       false,
		ErrMessage: "broker unreachable",
	}}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/devices/OTSM-0114/settings/complete", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "broker unreachable", body["error"])
}

func TestDiscardStaged(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{"Mode": "Survey"})
	store.Stage("OTSM-0114", "Mode", "Interrupt")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("DELETE", "/api/devices/OTSM-0114/settings/staged", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, store.HasStaged("OTSM-0114"))
}

func TestListDevices(t *testing.T) {
	router, store, _ := setupRouter(&fakeSender{})
	store.Initialize("OTSM-0114", map[string]any{})
	store.Initialize("OTSM-0277", map[string]any{})

	w := get(router, "/api/devices")

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Devices []string `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"OTSM-0114", "OTSM-0277"}, body.Devices)
}

func TestRetryCommandUnknown(t *testing.T) {
	sender := &fakeSender{retryErr: errors.New("unknown command cmd-9")}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/device-acknowledgment/command/cmd-9/retry", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "cmd-9", sender.retriedID)
}

func TestRetryCommandNotRetryable(t *testing.T) {
	sender := &fakeSender{retryErr: delivery.ErrNotRetryable}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/device-acknowledgment/command/cmd-1/retry", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryCommandSent(t *testing.T) {
	sender := &fakeSender{retryResult: delivery.SendResult{Sent: true, CommandID: "cmd-2"}}
	router, _, _ := setupRouter(sender)

	w := postJSON(router, "/api/device-acknowledgment/command/cmd-1/retry", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cmd-2", body["commandId"])
}
