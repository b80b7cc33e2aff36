package energy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const wattSecondsPerKWh = 3_600_000.0

// Store persists accumulator state after every cycle.
type Store interface {
	Save(state *State) error
}

// Report carries the totals produced by one accumulation cycle. Entities
// contains only the entities present in that cycle's sample set; retained
// but unreported entities stay in the persisted state.
type Report struct {
	Timestamp   time.Time                     `json:"timestamp"`
	TotalPowerW float64                       `json:"total_power_watts"`
	Home        map[Period]float64            `json:"home_kwh"`
	Entities    map[string]map[Period]float64 `json:"entities_kwh"`
}

// Accumulator converts instantaneous power samples into cumulative kWh
// counters for the four calendar periods. It owns the state exclusively;
// Advance is called once per sampling cycle from a single goroutine, the
// mutex only guards concurrent Snapshot readers.
type Accumulator struct {
	logger *slog.Logger
	store  Store

	mu    sync.RWMutex
	state *State
}

// NewAccumulator wraps previously loaded state. A nil state starts fresh.
func NewAccumulator(logger *slog.Logger, store Store, state *State) *Accumulator {
	if state == nil {
		state = NewState()
	}
	if state.Devices == nil {
		state.Devices = make(map[string]*DeviceState)
	}
	return &Accumulator{
		logger: logger,
		store:  store,
		state:  state,
	}
}

// Advance runs one accumulation cycle: period reset check, whole-home and
// per-entity integration, timestamp commit, persist. An empty sample set
// is valid and contributes zero energy.
//
// A save error is returned after the in-memory state has already
// advanced; the caller decides whether to treat it as fatal (the daemon
// logs and continues, accepting at most one cycle of state loss).
func (a *Accumulator) Advance(now time.Time, samples map[string]float64) (*Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.applyResets(now)

	totalPower := 0.0
	for _, power := range samples {
		totalPower += power
	}

	ts := epochSeconds(now)

	// dt is only defined once a previous cycle exists. Negative deltas
	// from clock adjustments clamp to zero so energy never decreases.
	var dt float64
	havePrev := a.state.LastTS != nil
	if havePrev {
		dt = ts - *a.state.LastTS
		if dt < 0 {
			dt = 0
		}
		// Whole-home integration uses the current total power alone
		// (rectangular). Per-entity integration below averages the two
		// most recent readings (trapezoidal). The asymmetry is kept for
		// compatibility with historical state files.
		a.state.addAll(totalPower * dt / wattSecondsPerKWh)
	}

	for key, power := range samples {
		dev, ok := a.state.Devices[key]
		if !ok {
			dev = &DeviceState{}
			a.state.Devices[key] = dev
			a.logger.Info("tracking new entity", "entity", key)
		}

		if havePrev && dev.LastPowerW != nil {
			avg := (*dev.LastPowerW + power) / 2
			dev.add(avg * dt / wattSecondsPerKWh)
		}

		p := power
		dev.LastPowerW = &p
	}

	a.state.LastTS = &ts

	report := a.buildReport(now, totalPower, samples)

	if err := a.store.Save(a.state); err != nil {
		return report, fmt.Errorf("persisting accumulator state: %w", err)
	}

	return report, nil
}

// applyResets zeroes period totals whose boundary has advanced past the
// last recorded reset. On the very first cycle the reset markers are
// seeded to the current boundaries so that startup never triggers a
// spurious reset; after an offline gap spanning several boundaries of
// the same period exactly one reset occurs and the marker jumps to the
// most recent boundary.
func (a *Accumulator) applyResets(now time.Time) {
	for _, period := range Periods {
		boundary := CurrentBoundary(period, now)
		boundaryTS := epochSeconds(boundary)

		last := a.state.lastReset(period)
		if last == nil {
			a.state.setLastReset(period, boundaryTS)
			continue
		}

		if !now.Before(boundary) && *last < boundaryTS {
			a.state.resetPeriod(period)
			a.state.setLastReset(period, boundaryTS)
			a.logger.Info("period total reset",
				"period", string(period),
				"boundary", boundary,
			)
		}
	}
}

func (a *Accumulator) buildReport(now time.Time, totalPower float64, samples map[string]float64) *Report {
	report := &Report{
		Timestamp:   now,
		TotalPowerW: totalPower,
		Home:        make(map[Period]float64, len(Periods)),
		Entities:    make(map[string]map[Period]float64, len(samples)),
	}
	for _, period := range Periods {
		report.Home[period] = a.state.Total(period)
	}
	for key := range samples {
		dev := a.state.Devices[key]
		totals := make(map[Period]float64, len(Periods))
		for _, period := range Periods {
			totals[period] = dev.Total(period)
		}
		report.Entities[key] = totals
	}
	return report
}

// Snapshot returns a deep copy of the current state for read-only
// consumers such as the web dashboard.
func (a *Accumulator) Snapshot() *State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}
