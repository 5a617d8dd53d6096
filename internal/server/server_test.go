package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhydro/hydrozone/internal/calibration"
	"github.com/openhydro/hydrozone/internal/dosing"
	"github.com/openhydro/hydrozone/internal/driver"
	"github.com/openhydro/hydrozone/internal/history"
	"github.com/openhydro/hydrozone/internal/model"
	"github.com/openhydro/hydrozone/internal/sensor"
	"github.com/openhydro/hydrozone/internal/settings"
	"github.com/openhydro/hydrozone/internal/status"
	"github.com/openhydro/hydrozone/internal/valve"
)

type testEnv struct {
	srv     *httptest.Server
	store   settings.Store
	probe   *driver.MockProbe
	pump    *driver.MockRelay
	board   *driver.MockRelay
	level   *driver.MockLevelSensor
	hub     *status.Hub
	feeding *dosing.Feeding
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	base := model.DefaultSettings()
	base.Dosing.PumpCalibration = model.PumpCalibration{Pump1SecPerML: 10, Pump2SecPerML: 10}
	store := settings.NewMemStore(base)

	probe := driver.NewMockProbe(6.3)
	level := driver.NewMockLevelSensor(false)
	sensors := sensor.NewHub(time.Minute, log)
	sensors.AssignPH(probe)
	sensors.AssignLevels(map[string]sensor.Level{
		"sensor1": {Label: "Full", Sensor: level},
	})
	sensors.Poll(context.Background())

	board := driver.NewMockRelay()
	coord := valve.NewCoordinator(20*time.Millisecond, log)
	coord.Register("Fill", "Fill Valve", 3, board)

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	pump := driver.NewMockRelay()
	feeding := dosing.NewFeeding()
	ctrl := dosing.NewController(store, sensors, pump, feeding, hist, log)

	calib := calibration.NewManager(log)
	calib.Assign(model.ProbePH, probe)
	calib.SetRecorder(hist)

	hub := status.NewHub(store, sensors, coord, feeding, status.NewRegistry(), log)

	s := New("127.0.0.1:0", store, hub, coord, ctrl, feeding, calib, hist, log)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, probe: probe, pump: pump, board: board, level: level, hub: hub, feeding: feeding}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(env.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (env *testEnv) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	var snap model.StatusSnapshot
	resp := env.get(t, "/api/status", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Zone 1", snap.SystemName)
	require.NotNil(t, snap.PH)
	assert.InDelta(t, 6.3, snap.PH.Value, 0.001)
	assert.Contains(t, snap.Valves, "Fill")
}

func TestValveCommandIsAccepted(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/valves/Fill/on", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return env.board.On(3)
	}, time.Second, 5*time.Millisecond)
}

func TestValveCommandUnknownValve(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/valves/Mist/on", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualDoseEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/dose", doseRequest{Type: model.DoseDown, AmountML: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ops := env.pump.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Channel)
	assert.InDelta(t, 20.0, ops[0].Duration.Seconds(), 0.01)

	var events []model.DoseEvent
	env.get(t, "/api/dose/history", &events)
	require.Len(t, events, 1)
	assert.Equal(t, model.TriggerManual, events[0].TriggeredBy)
}

func TestManualDoseValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/dose", doseRequest{Type: model.DoseUp, AmountML: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualDoseBlockedDuringFeeding(t *testing.T) {
	env := newTestEnv(t)

	env.post(t, "/api/feeding/start", nil)
	resp := env.post(t, "/api/dose", doseRequest{Type: model.DoseUp, AmountML: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	env.post(t, "/api/feeding/stop", nil)
	resp = env.post(t, "/api/dose", doseRequest{Type: model.DoseUp, AmountML: 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCalibrationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/calibrate/ph", calibrateRequest{Point: model.PointMid})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var log []model.CalibrationLogEntry
	env.get(t, "/api/calibrate/ph/log", &log)
	require.Len(t, log, 1)
	assert.Equal(t, model.CalibrationSuccess, log[0].Outcome)

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/calibrate/ph", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Contains(t, env.probe.Calls(), "clear")
}

func TestCalibrationRejectsBadPoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/calibrate/ph", calibrateRequest{Point: "boiling"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAutoDosingToggle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/dosing/auto", autoDosingRequest{Enabled: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.store.Get().Dosing.AutoDosingEnabled)

	resp = env.post(t, "/api/dosing/auto", autoDosingRequest{Enabled: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, env.store.Get().Dosing.AutoDosingEnabled)
}

func TestDosingSettingsValidation(t *testing.T) {
	env := newTestEnv(t)

	bad := model.DefaultSettings().Dosing
	bad.PHRange = model.Range{Min: 7, Max: 5}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(bad))
	req, err := http.NewRequest(http.MethodPut, env.srv.URL+"/api/settings/dosing", &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusWebsocketStreamsSnapshots(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/status/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The current snapshot arrives immediately on connect.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first model.StatusSnapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "Zone 1", first.SystemName)

	// A publish after connect is pushed to the session.
	env.probe.SetValue(6.9)
	env.hub.Publish()

	var second model.StatusSnapshot
	require.NoError(t, conn.ReadJSON(&second))
	assert.Greater(t, second.Seq, first.Seq)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hydrozone_")
}
