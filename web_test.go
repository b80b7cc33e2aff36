package electricitymon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/nickcrabtree/electricity-monitoring/events"
	"github.com/nickcrabtree/electricity-monitoring/meters"
	"github.com/stretchr/testify/require"
	"tailscale.com/util/eventbus"
)

func newTestWebServer(t *testing.T) (*WebServer, *events.Bus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := events.New(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	accumulator := energy.NewAccumulator(logger, nil, nil)

	manager, err := meters.NewManager(logger, []meters.Meter{
		{ID: "lamp", Name: "Living Room Lamp", Address: "1", Vendor: "tasmota"},
	}, bus, time.Minute)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	ws, err := NewWebServer(logger, accumulator, manager, bus)
	require.NoError(t, err)
	t.Cleanup(ws.Close)

	return ws, bus
}

func testWebReport() energy.Report {
	return energy.Report{
		Timestamp:   time.Date(2026, 3, 18, 9, 30, 0, 0, time.UTC),
		TotalPowerW: 421.0,
		Home: map[energy.Period]float64{
			energy.PeriodDay:   1.25,
			energy.PeriodWeek:  8.5,
			energy.PeriodMonth: 31.0,
			energy.PeriodYear:  410.0,
		},
		Entities: map[string]map[energy.Period]float64{
			"tasmota.living_room_lamp": {
				energy.PeriodDay:   0.25,
				energy.PeriodWeek:  1.5,
				energy.PeriodMonth: 6.0,
				energy.PeriodYear:  70.0,
			},
		},
	}
}

func TestHandleIndexBeforeFirstCycle(t *testing.T) {
	ws, _ := newTestWebServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ws.HandleIndex(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "Electricity Monitoring")
	require.Contains(t, body, "Waiting for the first accumulation cycle")
	require.Contains(t, body, "Tracking 1 meters")
}

func TestHandleIndexShowsReport(t *testing.T) {
	ws, _ := newTestWebServer(t)

	report := testWebReport()
	ws.mu.Lock()
	ws.lastReport = &report
	ws.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ws.HandleIndex(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, "421 W")
	require.Contains(t, body, "1.25 kWh")
	require.Contains(t, body, "tasmota.living_room_lamp")
	require.NotContains(t, body, "State could not be saved")
}

func TestHandleIndexWarnsOnSaveFailure(t *testing.T) {
	ws, _ := newTestWebServer(t)

	report := testWebReport()
	ws.mu.Lock()
	ws.lastReport = &report
	ws.lastSaveFailed = true
	ws.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ws.HandleIndex(rec, req)

	require.Contains(t, rec.Body.String(), "State could not be saved")
}

func TestProcessReportsCachesLatest(t *testing.T) {
	ws, bus := newTestWebServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.ProcessReports(ctx)

	client, err := bus.Client(events.ClientMain)
	require.NoError(t, err)
	publisher := eventbus.Publish[events.ReportEvent](client)

	report := testWebReport()
	publisher.Publish(events.ReportEvent{
		Timestamp: report.Timestamp,
		Report:    report,
	})

	require.Eventually(t, func() bool {
		cached, _ := ws.latest()
		return cached != nil && cached.TotalPowerW == 421.0
	}, time.Second, 10*time.Millisecond, "expected report to be cached")
}

func TestHandleState(t *testing.T) {
	ws, _ := newTestWebServer(t)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	ws.HandleState(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var state map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Contains(t, state, "day_kwh")
	require.Contains(t, state, "devices")
}

func TestHandleHealth(t *testing.T) {
	ws, _ := newTestWebServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ws.HandleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status["status"])
	require.Equal(t, false, status["save_failed"])
	require.NotContains(t, status, "last_cycle")

	require.False(t, strings.Contains(rec.Header().Get("Content-Type"), "html"))
}
