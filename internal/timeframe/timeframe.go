package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the layout of every calendar-date key stored in the database.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned when a date key cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider is the default implementation that uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc.
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns the same instant; used by tests and replays.
type FixedTimeProvider struct {
	At time.Time
}

func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.At.In(loc)
}

// Clock resolves "now" and calendar days in the business timezone.
type Clock struct {
	provider TimeProvider
	loc      *time.Location
}

// NewClock creates a clock for loc. Without a provider the system clock is used.
func NewClock(loc *time.Location, timeProvider ...TimeProvider) *Clock {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{provider: provider, loc: loc}
}

// Now returns the current instant in the clock's timezone.
func (c *Clock) Now() time.Time {
	return c.provider.Now(c.loc)
}

// Today returns midnight of the current calendar day.
func (c *Clock) Today() time.Time {
	return StartOfDay(c.Now())
}

// Location returns the business timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// ParseDate parses a YYYY-MM-DD key as midnight in the clock's timezone.
func (c *Clock) ParseDate(value string) (time.Time, error) {
	return ParseDate(value, c.loc)
}

// DateKey formats t as a YYYY-MM-DD key in t's own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD key as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days, keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// WeekStart returns the Sunday that starts t's week.
func WeekStart(t time.Time) time.Time {
	day := StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// MonthStart returns the first day of t's calendar month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// DaysInclusive counts calendar days in [start, end], ignoring time of day.
// It returns 0 when end is before start.
func DaysInclusive(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	from := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from)/(24*time.Hour)) + 1
}

// EachDay returns every calendar day in [start, end] at midnight.
func EachDay(start, end time.Time) []time.Time {
	n := DaysInclusive(start, end)
	days := make([]time.Time, 0, n)
	first := StartOfDay(start)
	for i := 0; i < n; i++ {
		days = append(days, first.AddDate(0, 0, i))
	}
	return days
}

// MaxTime returns the later of a and b.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinTime returns the earlier of a and b.
func MinTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
