package meters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kradalby/tasmota-go"
	"github.com/nickcrabtree/electricity-monitoring/events"
	"tailscale.com/util/eventbus"
)

// powerKeys are the status payload keys tried in order when a response
// carries no ENERGY block. Vendors disagree on naming.
var powerKeys = []string{"cur_power", "power", "power_w"}

// Manager owns the configured meters and produces one merged
// entity-key -> watts sample set per cycle. HTTP polling is the default
// path; meters that push telemetry over the embedded MQTT broker are
// read from the telemetry cache instead while it stays fresh.
type Manager struct {
	logger   *slog.Logger
	meters   map[string]*Info
	freshFor time.Duration

	mu     sync.RWMutex
	states map[string]*telemetryState

	telemetrySub *eventbus.Subscriber[events.TelemetryEvent]
}

// Info holds the client and configuration for a meter.
type Info struct {
	Config Meter
	Client client
}

type client interface {
	ExecuteCommand(context.Context, string) ([]byte, error)
}

type tasmotaClient struct {
	*tasmota.Client
}

func (c *tasmotaClient) ExecuteCommand(ctx context.Context, cmd string) ([]byte, error) {
	return c.Client.ExecuteCommand(ctx, cmd)
}

type telemetryState struct {
	PowerW   float64
	LastSeen time.Time
}

// Status is a read-only view of one meter for the dashboard.
type Status struct {
	Meter    Meter
	PowerW   float64
	LastSeen time.Time
}

// NewManager creates a manager for the configured meters. Telemetry
// received up to freshFor ago takes precedence over HTTP polling.
func NewManager(logger *slog.Logger, meterConfigs []Meter, bus *events.Bus, freshFor time.Duration) (*Manager, error) {
	busClient, err := bus.Client(events.ClientMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to get meters eventbus client: %w", err)
	}

	m := &Manager{
		logger:       logger,
		meters:       make(map[string]*Info, len(meterConfigs)),
		states:       make(map[string]*telemetryState, len(meterConfigs)),
		freshFor:     freshFor,
		telemetrySub: eventbus.Subscribe[events.TelemetryEvent](busClient),
	}

	for _, meterConfig := range meterConfigs {
		c, err := tasmota.NewClient(meterConfig.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for %s: %w", meterConfig.ID, err)
		}

		m.meters[meterConfig.ID] = &Info{
			Config: meterConfig,
			Client: &tasmotaClient{Client: c},
		}

		logger.Info("initialized meter client",
			"id", meterConfig.ID,
			"entity", meterConfig.EntityKey(),
			"address", meterConfig.Address,
		)
	}

	return m, nil
}

// ProcessTelemetry consumes pushed meter readings from the event bus.
func (m *Manager) ProcessTelemetry(ctx context.Context) {
	for {
		select {
		case evt := <-m.telemetrySub.Events():
			if _, known := m.meters[evt.MeterID]; !known {
				m.logger.Warn("telemetry for unknown meter", "meter_id", evt.MeterID)
				continue
			}

			m.mu.Lock()
			m.states[evt.MeterID] = &telemetryState{
				PowerW:   evt.PowerW,
				LastSeen: evt.Timestamp,
			}
			m.mu.Unlock()

			m.logger.Debug("telemetry reading",
				"meter_id", evt.MeterID,
				"power_watts", evt.PowerW,
			)
		case <-ctx.Done():
			return
		}
	}
}

// Sample gathers one power reading per reachable meter, fanning out HTTP
// requests concurrently, and returns the merged entity-key -> watts
// mapping. Meters that fail to respond are omitted from the result; the
// accumulator retains their state untouched.
func (m *Manager) Sample(ctx context.Context, now time.Time) map[string]float64 {
	samples := make(map[string]float64, len(m.meters))

	// All fresh-telemetry readings land in the map before any poll
	// goroutine starts, so only the goroutines below touch it
	// concurrently.
	toPoll := make(map[string]*Info, len(m.meters))
	for id, info := range m.meters {
		if power, ok := m.freshTelemetry(id, now); ok {
			samples[info.Config.EntityKey()] = power
			continue
		}
		toPoll[id] = info
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for id, info := range toPoll {
		wg.Add(1)
		go func(id string, info *Info) {
			defer wg.Done()

			power, err := m.poll(ctx, info)
			if err != nil {
				m.logger.Warn("meter poll failed",
					"meter_id", id,
					"error", err,
				)
				return
			}

			mu.Lock()
			samples[info.Config.EntityKey()] = power
			mu.Unlock()
		}(id, info)
	}

	wg.Wait()
	return samples
}

func (m *Manager) freshTelemetry(id string, now time.Time) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[id]
	if !ok {
		return 0, false
	}
	if now.Sub(state.LastSeen) > m.freshFor {
		return 0, false
	}
	return state.PowerW, true
}

func (m *Manager) poll(ctx context.Context, info *Info) (float64, error) {
	response, err := info.Client.ExecuteCommand(ctx, "Status 8")
	if err != nil {
		return 0, fmt.Errorf("failed to get status: %w", err)
	}
	return ParsePower(response)
}

// ParsePower extracts instantaneous watts from a meter status payload.
// The nested Tasmota shape is tried first, then a bare ENERGY block,
// then the flat key variants some vendors report. Readings implausibly
// above 10 kW are deciwatts and get scaled down.
func ParsePower(data []byte) (float64, error) {
	var nested struct {
		StatusSNS struct {
			Energy *struct {
				Power *float64 `json:"Power"`
			} `json:"ENERGY"`
		} `json:"StatusSNS"`
		Energy *struct {
			Power *float64 `json:"Power"`
		} `json:"ENERGY"`
	}
	if err := json.Unmarshal(data, &nested); err == nil {
		if e := nested.StatusSNS.Energy; e != nil && e.Power != nil {
			return normalizePower(*e.Power), nil
		}
		if e := nested.Energy; e != nil && e.Power != nil {
			return normalizePower(*e.Power), nil
		}
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return 0, fmt.Errorf("failed to parse status payload: %w", err)
	}
	for _, key := range powerKeys {
		if power, ok := asFloat(flat[key]); ok {
			return normalizePower(power), nil
		}
	}

	return 0, fmt.Errorf("no power reading in status payload")
}

func normalizePower(w float64) float64 {
	if w > 10000.0 {
		return w / 10.0
	}
	return w
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Snapshot returns a copy of all meter configs with their freshest
// telemetry readings for the dashboard.
func (m *Manager) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.meters))
	for id, info := range m.meters {
		status := Status{Meter: info.Config}
		if state, ok := m.states[id]; ok {
			status.PowerW = state.PowerW
			status.LastSeen = state.LastSeen
		}
		result[id] = status
	}
	return result
}

// Close releases the telemetry subscriber.
func (m *Manager) Close() {
	if m.telemetrySub != nil {
		m.telemetrySub.Close()
	}
}
