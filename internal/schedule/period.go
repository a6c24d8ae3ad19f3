package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Period is a subscription cadence.
type Period string

const (
	Hourly  Period = "HOURLY"
	Daily   Period = "DAILY"
	Weekly  Period = "WEEKLY"
	Monthly Period = "MONTHLY"
)

// ParsePeriod accepts a period name in any case.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToUpper(strings.TrimSpace(s))); p {
	case Hourly, Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Spec is the cron descriptor firing at each period boundary.
func (p Period) Spec() string {
	switch p {
	case Hourly:
		return "@hourly"
	case Daily:
		return "@daily"
	case Weekly:
		return "@weekly"
	case Monthly:
		return "@monthly"
	default:
		return ""
	}
}

// Boundary is the most recent period boundary at or before t, in t's location.
// Weeks start on Sunday, matching @weekly.
func (p Period) Boundary(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch p {
	case Hourly:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case Daily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Weekly:
		return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Previous steps one period back from t.
func (p Period) Previous(t time.Time) time.Time {
	switch p {
	case Hourly:
		return t.Add(-time.Hour)
	case Daily:
		return t.AddDate(0, 0, -1)
	case Weekly:
		return t.AddDate(0, 0, -7)
	case Monthly:
		return t.AddDate(0, -1, 0)
	default:
		return t
	}
}

// Window is the timeframe covered by the tick firing at or just after now:
// [boundary - period, boundary].
func (p Period) Window(now time.Time) (time.Time, time.Time) {
	end := p.Boundary(now)
	return p.Previous(end), end
}
