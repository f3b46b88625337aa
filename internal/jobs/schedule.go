package jobs

import (
	"fmt"
	"time"

	"referly/internal/config"
)

// Schedule decides when a job fires next.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every fires at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e Every) String() string {
	return "every " + time.Duration(e).String()
}

// DailyAt fires once a day at a wall-clock time in after's location.
type DailyAt struct {
	Hour   int
	Minute int
}

func (d DailyAt) Next(after time.Time) time.Time {
	y, m, day := after.Date()
	next := time.Date(y, m, day, d.Hour, d.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = time.Date(y, m, day+1, d.Hour, d.Minute, 0, 0, after.Location())
	}
	return next
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.Hour, d.Minute)
}

// MonthlyAt fires once a month on Day (1..28) at a wall-clock time.
type MonthlyAt struct {
	Day    int
	Hour   int
	Minute int
}

func (mo MonthlyAt) Next(after time.Time) time.Time {
	y, m, _ := after.Date()
	next := time.Date(y, m, mo.Day, mo.Hour, mo.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = time.Date(y, m+1, mo.Day, mo.Hour, mo.Minute, 0, 0, after.Location())
	}
	return next
}

func (mo MonthlyAt) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", mo.Day, mo.Hour, mo.Minute)
}

func dailyAt(value string) (DailyAt, error) {
	h, m, err := config.ParseClock(value)
	if err != nil {
		return DailyAt{}, err
	}
	return DailyAt{Hour: h, Minute: m}, nil
}
