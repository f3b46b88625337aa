package timeframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownPeriod is returned for a period name that cannot be resolved.
var ErrUnknownPeriod = errors.New("unknown period")

// DefaultPayPeriodStartDay is the day of month on which pay periods begin.
const DefaultPayPeriodStartDay = 21

// Named period kinds.
const (
	PeriodCurrent  = "current"
	PeriodPrevious = "previous"
)

// PayPeriod is an inclusive [Start, End] range of calendar days.
type PayPeriod struct {
	Start time.Time
	End   time.Time
}

// StartKey returns the YYYY-MM-DD key of the first day.
func (p PayPeriod) StartKey() string {
	return DateKey(p.Start)
}

// EndKey returns the YYYY-MM-DD key of the last day.
func (p PayPeriod) EndKey() string {
	return DateKey(p.End)
}

// TotalDays returns the number of days in the period.
func (p PayPeriod) TotalDays() int {
	return DaysInclusive(p.Start, p.End)
}

// Contains reports whether t's calendar day lies inside the period.
func (p PayPeriod) Contains(t time.Time) bool {
	key := DateKey(t)
	return key >= p.StartKey() && key <= p.EndKey()
}

// Previous returns the period immediately before p.
func (p PayPeriod) Previous() PayPeriod {
	start := p.Start.AddDate(0, -1, 0)
	return PayPeriod{Start: start, End: start.AddDate(0, 1, -1)}
}

// Label renders the period as "YYYY-MM-DD ~ YYYY-MM-DD".
func (p PayPeriod) Label() string {
	return p.StartKey() + " ~ " + p.EndKey()
}

// PayPeriodAt returns the pay period containing now, walked back periodsBack periods.
// A period runs from startDay of one month through startDay-1 of the next.
func PayPeriodAt(now time.Time, startDay, periodsBack int) PayPeriod {
	y, m, d := now.Date()
	start := time.Date(y, m, startDay, 0, 0, 0, 0, now.Location())
	if d < startDay {
		start = start.AddDate(0, -1, 0)
	}
	start = start.AddDate(0, -periodsBack, 0)
	return PayPeriod{Start: start, End: start.AddDate(0, 1, -1)}
}

// PayPeriodStartingIn returns the period that starts in the given calendar month.
func PayPeriodStartingIn(year int, month time.Month, startDay int, loc *time.Location) PayPeriod {
	start := time.Date(year, month, startDay, 0, 0, 0, 0, loc)
	return PayPeriod{Start: start, End: start.AddDate(0, 1, -1)}
}

// ResolvePeriod resolves a period name relative to now.
//
// Accepted names: "current" (or empty), "previous", "back:N" and "YYYY-MM",
// the latter naming the period that starts in that month.
func ResolvePeriod(name string, now time.Time, startDay int) (PayPeriod, error) {
	switch name {
	case "", PeriodCurrent:
		return PayPeriodAt(now, startDay, 0), nil
	case PeriodPrevious:
		return PayPeriodAt(now, startDay, 1), nil
	}

	if rest, ok := strings.CutPrefix(name, "back:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return PayPeriod{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
		}
		return PayPeriodAt(now, startDay, n), nil
	}

	if month, err := time.ParseInLocation("2006-01", name, now.Location()); err == nil {
		return PayPeriodStartingIn(month.Year(), month.Month(), startDay, now.Location()), nil
	}

	return PayPeriod{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, name)
}
