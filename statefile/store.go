// Package statefile persists accumulator state as a single JSON
// document with atomic-replace semantics.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nickcrabtree/electricity-monitoring/energy"
)

// Store reads and writes the accumulator state document at a fixed path.
type Store struct {
	logger *slog.Logger
	path   string
}

// New creates a store for the given path.
func New(logger *slog.Logger, path string) *Store {
	return &Store{logger: logger, path: path}
}

// document mirrors energy.State but defers device decoding so a single
// malformed entry can be dropped without discarding the whole state.
type document struct {
	LastTS         *float64 `json:"last_ts"`
	DayKWh         float64  `json:"day_kwh"`
	WeekKWh        float64  `json:"week_kwh"`
	MonthKWh       float64  `json:"month_kwh"`
	YearKWh        float64  `json:"year_kwh"`
	LastDayReset   *float64 `json:"last_day_reset"`
	LastWeekReset  *float64 `json:"last_week_reset"`
	LastMonthReset *float64 `json:"last_month_reset"`
	LastYearReset  *float64 `json:"last_year_reset"`

	Devices map[string]json.RawMessage `json:"devices"`
}

// Load returns the persisted state, falling back to a fresh zero state
// on any read or parse failure so the accumulator can always start.
// Individually unparsable device entries are dropped with a warning.
func (s *Store) Load() *energy.State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no state file, starting fresh", "path", s.path)
		} else {
			s.logger.Warn("failed to read state file, starting fresh",
				"path", s.path,
				"error", err,
			)
		}
		return energy.NewState()
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("corrupt state file, starting fresh",
			"path", s.path,
			"error", err,
		)
		return energy.NewState()
	}

	state := &energy.State{
		LastTS:         doc.LastTS,
		DayKWh:         doc.DayKWh,
		WeekKWh:        doc.WeekKWh,
		MonthKWh:       doc.MonthKWh,
		YearKWh:        doc.YearKWh,
		LastDayReset:   doc.LastDayReset,
		LastWeekReset:  doc.LastWeekReset,
		LastMonthReset: doc.LastMonthReset,
		LastYearReset:  doc.LastYearReset,
		Devices:        make(map[string]*energy.DeviceState, len(doc.Devices)),
	}

	for key, raw := range doc.Devices {
		var dev energy.DeviceState
		if err := json.Unmarshal(raw, &dev); err != nil {
			s.logger.Warn("dropping malformed device entry",
				"entity", key,
				"error", err,
			)
			continue
		}
		state.Devices[key] = &dev
	}

	return state
}

// Save writes the state to a temporary file in the same directory and
// renames it over the canonical path, so a concurrent reader never sees
// a partial document.
func (s *Store) Save(state *energy.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temporary state file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}
