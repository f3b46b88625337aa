// Package timeframe_test contains tests for the timeframe package
package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/timeframe"
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("Failed to load time zone location: " + name)
	}
	return loc
}

func TestPayPeriodBoundary(t *testing.T) {
	testCases := []struct {
		name          string
		now           time.Time
		periodsBack   int
		expectedStart string
		expectedEnd   string
	}{
		{
			name:          "20th belongs to the period that started last month",
			now:           time.Date(2025, 3, 20, 23, 59, 0, 0, time.UTC),
			expectedStart: "2025-02-21",
			expectedEnd:   "2025-03-20",
		},
		{
			name:          "21st opens a new period",
			now:           time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC),
			expectedStart: "2025-03-21",
			expectedEnd:   "2025-04-20",
		},
		{
			name:          "January wraps to December of the previous year",
			now:           time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC),
			expectedStart: "2024-12-21",
			expectedEnd:   "2025-01-20",
		},
		{
			name:          "walking back two periods",
			now:           time.Date(2025, 3, 25, 12, 0, 0, 0, time.UTC),
			periodsBack:   2,
			expectedStart: "2025-01-21",
			expectedEnd:   "2025-02-20",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			period := timeframe.PayPeriodAt(tc.now, timeframe.DefaultPayPeriodStartDay, tc.periodsBack)
			assert.Equal(t, tc.expectedStart, period.StartKey())
			assert.Equal(t, tc.expectedEnd, period.EndKey())
		})
	}
}

func TestPayPeriodInTokyo(t *testing.T) {
	tokyo := mustLoadLocation("Asia/Tokyo")
	// 2025-03-20 16:00 UTC is already the 21st in Tokyo.
	now := time.Date(2025, 3, 20, 16, 0, 0, 0, time.UTC).In(tokyo)

	period := timeframe.PayPeriodAt(now, 21, 0)
	assert.Equal(t, "2025-03-21", period.StartKey())
	assert.Equal(t, "2025-04-20", period.EndKey())
	assert.Equal(t, 31, period.TotalDays())
}

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	current, err := timeframe.ResolvePeriod("current", now, 21)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-21", current.StartKey())

	empty, err := timeframe.ResolvePeriod("", now, 21)
	require.NoError(t, err)
	assert.Equal(t, current, empty)

	previous, err := timeframe.ResolvePeriod("previous", now, 21)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-21", previous.StartKey())
	assert.Equal(t, "2025-05-20", previous.EndKey())
	assert.Equal(t, previous, current.Previous())

	back, err := timeframe.ResolvePeriod("back:3", now, 21)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-21", back.StartKey())

	month, err := timeframe.ResolvePeriod("2024-12", now, 21)
	require.NoError(t, err)
	assert.Equal(t, "2024-12-21", month.StartKey())
	assert.Equal(t, "2025-01-20", month.EndKey())

	for _, bad := range []string{"weekly", "back:-1", "back:x", "2024-13"} {
		_, err := timeframe.ResolvePeriod(bad, now, 21)
		assert.ErrorIs(t, err, timeframe.ErrUnknownPeriod, bad)
	}
}

func TestDaysInclusive(t *testing.T) {
	start := time.Date(2025, 1, 21, 18, 30, 0, 0, time.UTC)
	end := time.Date(2025, 2, 20, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 31, timeframe.DaysInclusive(start, end), "time of day must not skew the count")
	assert.Equal(t, 1, timeframe.DaysInclusive(start, start))
	assert.Equal(t, 0, timeframe.DaysInclusive(end, start))

	// DST transition day in New York is 23 hours long.
	ny := mustLoadLocation("America/New_York")
	assert.Equal(t, 3, timeframe.DaysInclusive(
		time.Date(2025, 3, 8, 0, 0, 0, 0, ny),
		time.Date(2025, 3, 10, 0, 0, 0, 0, ny),
	))
}

func TestWeekAndMonthStart(t *testing.T) {
	wednesday := time.Date(2025, 1, 29, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-26", timeframe.DateKey(timeframe.WeekStart(wednesday)))

	sunday := time.Date(2025, 1, 26, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-26", timeframe.DateKey(timeframe.WeekStart(sunday)))

	assert.Equal(t, "2025-01-01", timeframe.DateKey(timeframe.MonthStart(wednesday)))
}

func TestEachDay(t *testing.T) {
	days := timeframe.EachDay(
		time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	)
	require.Len(t, days, 4)
	assert.Equal(t, "2024-02-29", timeframe.DateKey(days[2]))
}

func TestClock(t *testing.T) {
	tokyo := mustLoadLocation("Asia/Tokyo")
	clock := timeframe.NewClock(tokyo, &timeframe.FixedTimeProvider{
		At: time.Date(2025, 1, 27, 20, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "2025-01-28", timeframe.DateKey(clock.Today()))
	assert.Equal(t, tokyo, clock.Location())

	parsed, err := clock.ParseDate("2025-01-28")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(clock.Today()))

	_, err = clock.ParseDate("28/01/2025")
	assert.ErrorIs(t, err, timeframe.ErrInvalidDate)
}
