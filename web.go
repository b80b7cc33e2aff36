package electricitymon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/nickcrabtree/electricity-monitoring/events"
	"github.com/nickcrabtree/electricity-monitoring/meters"
	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"tailscale.com/util/eventbus"
)

// WebServer serves the read-only dashboard and the JSON state endpoint.
type WebServer struct {
	logger       *slog.Logger
	accumulator  *energy.Accumulator
	meterManager *meters.Manager
	reportSub    *eventbus.Subscriber[events.ReportEvent]

	mu             sync.RWMutex
	lastReport     *energy.Report
	lastSaveFailed bool
}

func NewWebServer(logger *slog.Logger, accumulator *energy.Accumulator, meterManager *meters.Manager, bus *events.Bus) (*WebServer, error) {
	busClient, err := bus.Client(events.ClientWeb)
	if err != nil {
		return nil, fmt.Errorf("failed to get web eventbus client: %w", err)
	}

	return &WebServer{
		logger:       logger,
		accumulator:  accumulator,
		meterManager: meterManager,
		reportSub:    eventbus.Subscribe[events.ReportEvent](busClient),
	}, nil
}

// ProcessReports caches the latest cycle report for the dashboard.
func (ws *WebServer) ProcessReports(ctx context.Context) {
	for {
		select {
		case evt := <-ws.reportSub.Events():
			ws.mu.Lock()
			report := evt.Report
			ws.lastReport = &report
			ws.lastSaveFailed = evt.SaveFailed
			ws.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (ws *WebServer) Close() {
	if ws.reportSub != nil {
		ws.reportSub.Close()
	}
}

func (ws *WebServer) latest() (*energy.Report, bool) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.lastReport, ws.lastSaveFailed
}

// renderPage renders a basic HTML page
func (ws *WebServer) renderPage(title string, content elem.Node) string {
	page := elem.Html(nil,
		elem.Head(nil,
			elem.Title(nil, elem.Text(title)),
			elem.Meta(attrs.Props{
				"http-equiv": "refresh",
				attrs.Content: "30",
			}),
			elem.Style(nil, elem.Text(`
				body { font-family: system-ui; max-width: 800px; margin: 40px auto; padding: 0 20px; }
				h1 { color: #333; }
				.figure { border: 1px solid #ddd; padding: 20px; margin: 10px 0; border-radius: 8px; display: inline-block; min-width: 140px; text-align: center; }
				.figure .value { font-size: 1.6em; font-weight: 500; }
				.figure .label { font-size: 0.9em; color: #666; }
				table { border-collapse: collapse; width: 100%; margin-top: 20px; }
				th, td { border-bottom: 1px solid #ddd; padding: 8px 12px; text-align: right; }
				th:first-child, td:first-child { text-align: left; }
				.stale { margin-top: 20px; padding: 12px; background: #ffebee; border-radius: 8px; }
				.meta { color: #666; font-size: 0.9em; }
			`)),
		),
		elem.Body(nil, content),
	)
	return page.Render()
}

func (ws *WebServer) renderFigure(label, value string) elem.Node {
	return elem.Div(attrs.Props{attrs.Class: "figure"},
		elem.Div(attrs.Props{attrs.Class: "value"}, elem.Text(value)),
		elem.Div(attrs.Props{attrs.Class: "label"}, elem.Text(label)),
	)
}

// HandleIndex renders the main dashboard
func (ws *WebServer) HandleIndex(w http.ResponseWriter, r *http.Request) {
	report, saveFailed := ws.latest()

	var body []elem.Node
	body = append(body, elem.H1(nil, elem.Text("Electricity Monitoring")))

	if report == nil {
		body = append(body, elem.P(attrs.Props{attrs.Class: "meta"},
			elem.Text("Waiting for the first accumulation cycle.")))
	} else {
		body = append(body,
			elem.P(attrs.Props{attrs.Class: "meta"},
				elem.Text(fmt.Sprintf("Last cycle: %s", report.Timestamp.Format(time.RFC3339)))),
			elem.Div(nil,
				ws.renderFigure("Power now", fmt.Sprintf("%.0f W", report.TotalPowerW)),
				ws.renderFigure("Today", fmt.Sprintf("%.2f kWh", report.Home[energy.PeriodDay])),
				ws.renderFigure("This week", fmt.Sprintf("%.2f kWh", report.Home[energy.PeriodWeek])),
				ws.renderFigure("This month", fmt.Sprintf("%.1f kWh", report.Home[energy.PeriodMonth])),
				ws.renderFigure("This year", fmt.Sprintf("%.0f kWh", report.Home[energy.PeriodYear])),
			),
			ws.renderEntityTable(report),
		)

		if saveFailed {
			body = append(body, elem.Div(attrs.Props{attrs.Class: "stale"},
				elem.Text("State could not be saved last cycle. Totals shown are in-memory only.")))
		}
	}

	body = append(body, elem.P(attrs.Props{attrs.Class: "meta"},
		elem.Text(fmt.Sprintf("Tracking %d meters", len(ws.meterManager.Snapshot())))))

	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, ws.renderPage("Electricity Monitoring", elem.Div(nil, body...))); err != nil {
		ws.logger.Error("failed to write response", "error", err)
	}
}

func (ws *WebServer) renderEntityTable(report *energy.Report) elem.Node {
	entities := make([]string, 0, len(report.Entities))
	for entity := range report.Entities {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	rows := []elem.Node{
		elem.Tr(nil,
			elem.Th(nil, elem.Text("Device")),
			elem.Th(nil, elem.Text("Day kWh")),
			elem.Th(nil, elem.Text("Week kWh")),
			elem.Th(nil, elem.Text("Month kWh")),
			elem.Th(nil, elem.Text("Year kWh")),
		),
	}
	for _, entity := range entities {
		totals := report.Entities[entity]
		rows = append(rows, elem.Tr(nil,
			elem.Td(nil, elem.Text(entity)),
			elem.Td(nil, elem.Text(fmt.Sprintf("%.2f", totals[energy.PeriodDay]))),
			elem.Td(nil, elem.Text(fmt.Sprintf("%.2f", totals[energy.PeriodWeek]))),
			elem.Td(nil, elem.Text(fmt.Sprintf("%.1f", totals[energy.PeriodMonth]))),
			elem.Td(nil, elem.Text(fmt.Sprintf("%.1f", totals[energy.PeriodYear]))),
		))
	}

	return elem.Table(nil, rows...)
}

// HandleState returns the full accumulator state as JSON.
func (ws *WebServer) HandleState(w http.ResponseWriter, r *http.Request) {
	state := ws.accumulator.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		ws.logger.Error("failed to encode state", "error", err)
	}
}

// HandleHealth reports liveness.
func (ws *WebServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report, saveFailed := ws.latest()

	status := map[string]any{
		"status":      "ok",
		"save_failed": saveFailed,
	}
	if report != nil {
		status["last_cycle"] = report.Timestamp.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		ws.logger.Error("failed to encode health", "error", err)
	}
}
