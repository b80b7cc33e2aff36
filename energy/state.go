package energy

import "time"

// State is the full persisted accumulator state. The JSON layout matches
// the historical energy_state_enhanced.json document, so existing state
// files load unchanged.
type State struct {
	// LastTS is the epoch-seconds timestamp of the most recent
	// integration step, nil before the first sample.
	LastTS *float64 `json:"last_ts"`

	// Whole-home cumulative totals, kWh.
	DayKWh   float64 `json:"day_kwh"`
	WeekKWh  float64 `json:"week_kwh"`
	MonthKWh float64 `json:"month_kwh"`
	YearKWh  float64 `json:"year_kwh"`

	// Epoch-seconds instants of the last applied reset boundary, nil
	// until seeded on the first cycle.
	LastDayReset   *float64 `json:"last_day_reset"`
	LastWeekReset  *float64 `json:"last_week_reset"`
	LastMonthReset *float64 `json:"last_month_reset"`
	LastYearReset  *float64 `json:"last_year_reset"`

	// Devices holds per-entity sub-state keyed by entity key
	// (e.g. "tasmota.living_room_lamp"). Entities are created on first
	// observation and never removed.
	Devices map[string]*DeviceState `json:"devices"`
}

// DeviceState is the per-entity accumulator sub-state.
type DeviceState struct {
	LastPowerW *float64 `json:"last_power_w"`
	DayKWh     float64  `json:"day_kwh"`
	WeekKWh    float64  `json:"week_kwh"`
	MonthKWh   float64  `json:"month_kwh"`
	YearKWh    float64  `json:"year_kwh"`
}

// NewState returns a fresh zero-valued state.
func NewState() *State {
	return &State{Devices: make(map[string]*DeviceState)}
}

// Total returns the whole-home cumulative total for a period.
func (s *State) Total(period Period) float64 {
	switch period {
	case PeriodDay:
		return s.DayKWh
	case PeriodWeek:
		return s.WeekKWh
	case PeriodMonth:
		return s.MonthKWh
	case PeriodYear:
		return s.YearKWh
	}
	return 0
}

func (s *State) addAll(kwh float64) {
	s.DayKWh += kwh
	s.WeekKWh += kwh
	s.MonthKWh += kwh
	s.YearKWh += kwh
}

func (s *State) resetPeriod(period Period) {
	switch period {
	case PeriodDay:
		s.DayKWh = 0
	case PeriodWeek:
		s.WeekKWh = 0
	case PeriodMonth:
		s.MonthKWh = 0
	case PeriodYear:
		s.YearKWh = 0
	}
	for _, dev := range s.Devices {
		dev.reset(period)
	}
}

func (s *State) lastReset(period Period) *float64 {
	switch period {
	case PeriodDay:
		return s.LastDayReset
	case PeriodWeek:
		return s.LastWeekReset
	case PeriodMonth:
		return s.LastMonthReset
	case PeriodYear:
		return s.LastYearReset
	}
	return nil
}

func (s *State) setLastReset(period Period, ts float64) {
	switch period {
	case PeriodDay:
		s.LastDayReset = &ts
	case PeriodWeek:
		s.LastWeekReset = &ts
	case PeriodMonth:
		s.LastMonthReset = &ts
	case PeriodYear:
		s.LastYearReset = &ts
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.LastTS = clonePtr(s.LastTS)
	out.LastDayReset = clonePtr(s.LastDayReset)
	out.LastWeekReset = clonePtr(s.LastWeekReset)
	out.LastMonthReset = clonePtr(s.LastMonthReset)
	out.LastYearReset = clonePtr(s.LastYearReset)
	out.Devices = make(map[string]*DeviceState, len(s.Devices))
	for key, dev := range s.Devices {
		devCopy := *dev
		devCopy.LastPowerW = clonePtr(dev.LastPowerW)
		out.Devices[key] = &devCopy
	}
	return &out
}

// Total returns the entity's cumulative total for a period.
func (d *DeviceState) Total(period Period) float64 {
	switch period {
	case PeriodDay:
		return d.DayKWh
	case PeriodWeek:
		return d.WeekKWh
	case PeriodMonth:
		return d.MonthKWh
	case PeriodYear:
		return d.YearKWh
	}
	return 0
}

func (d *DeviceState) add(kwh float64) {
	d.DayKWh += kwh
	d.WeekKWh += kwh
	d.MonthKWh += kwh
	d.YearKWh += kwh
}

func (d *DeviceState) reset(period Period) {
	switch period {
	case PeriodDay:
		d.DayKWh = 0
	case PeriodWeek:
		d.WeekKWh = 0
	case PeriodMonth:
		d.MonthKWh = 0
	case PeriodYear:
		d.YearKWh = 0
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
