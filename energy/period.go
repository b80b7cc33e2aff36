package energy

import "time"

// Period identifies one of the rolling calendar accumulation windows.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Periods lists all accumulation windows in reset-check order.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}

// CurrentBoundary returns the most recent reset instant at or before now
// for the given period, computed on now's local civil calendar:
//
//	day   - midnight
//	week  - Monday 01:00
//	month - 1st at 01:00
//	year  - January 1 at 01:00
//
// Boundaries follow the wall clock across DST transitions, so a "day" may
// span 23 or 25 elapsed hours.
func CurrentBoundary(period Period, now time.Time) time.Time {
	loc := now.Location()

	switch period {
	case PeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	case PeriodWeek:
		// Monday == 0
		daysBack := (int(now.Weekday()) + 6) % 7
		ref := now.AddDate(0, 0, -daysBack)
		boundary := time.Date(ref.Year(), ref.Month(), ref.Day(), 1, 0, 0, 0, loc)
		// Early Monday morning the 01:00 truncation lands ahead of now.
		if boundary.After(now) {
			boundary = boundary.AddDate(0, 0, -7)
		}
		return boundary

	case PeriodMonth:
		boundary := time.Date(now.Year(), now.Month(), 1, 1, 0, 0, 0, loc)
		if boundary.After(now) {
			boundary = boundary.AddDate(0, -1, 0)
		}
		return boundary

	case PeriodYear:
		boundary := time.Date(now.Year(), time.January, 1, 1, 0, 0, 0, loc)
		if boundary.After(now) {
			boundary = time.Date(now.Year()-1, time.January, 1, 1, 0, 0, 0, loc)
		}
		return boundary
	}

	panic("unknown period: " + string(period))
}

// NextBoundary returns the first reset instant strictly after now for the
// given period.
func NextBoundary(period Period, now time.Time) time.Time {
	boundary := CurrentBoundary(period, now)

	switch period {
	case PeriodDay:
		return boundary.AddDate(0, 0, 1)
	case PeriodWeek:
		return boundary.AddDate(0, 0, 7)
	case PeriodMonth:
		return boundary.AddDate(0, 1, 0)
	case PeriodYear:
		return boundary.AddDate(1, 0, 0)
	}

	panic("unknown period: " + string(period))
}
