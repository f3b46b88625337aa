package analytics_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/analytics"
	"referly/internal/models"
	"referly/internal/testsupport"
	"referly/internal/timeframe"
)

func setupService(t *testing.T, now time.Time) (*analytics.Service, *testsupport.MutableTimeProvider) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	clock, provider := testsupport.NewClock(now)
	return analytics.NewService(db, testsupport.GetLogger(), clock, 21), provider
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		current  uint64
		previous uint64
		expected float64
	}{
		{"zero denominator", 120, 0, 0},
		{"both zero", 0, 0, 0},
		{"growth", 150, 100, 50},
		{"drop", 25, 100, -75},
		{"rounded to one decimal", 2, 3, -33.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analytics.PercentChange(tt.current, tt.previous)
			assert.Equal(t, tt.expected, got)
			assert.False(t, math.IsNaN(got) || math.IsInf(got, 0))
		})
	}
}

func TestGetPeriodZeroFillsAndFiltersBySite(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	testsupport.SeedDaily(t, db, "2025-02-20", models.SiteCounts{"a.com": {Views: 99}})
	testsupport.SeedDaily(t, db, "2025-02-21", models.SiteCounts{"a.com": {Views: 1, Clicks: 1}, "b.com": {Views: 2}})
	testsupport.SeedDaily(t, db, "2025-03-01", models.SiteCounts{"b.com": {Views: 5}})

	points, info, err := svc.GetPeriod(ctx, "current", "all")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-21", info.Start)
	assert.Equal(t, "2025-03-20", info.End)
	assert.Equal(t, 28, info.TotalDays)
	require.Len(t, points, 28)
	assert.Equal(t, analytics.DataPoint{Date: "2025-02-21", Views: 3, Clicks: 1}, points[0])
	assert.Equal(t, analytics.DataPoint{Date: "2025-02-22"}, points[1])
	assert.Equal(t, uint64(5), points[8].Views)

	points, _, err = svc.GetPeriod(ctx, "current", "https://www.b.com/")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), points[0].Views)
	assert.Equal(t, uint64(0), points[0].Clicks)

	points, _, err = svc.GetPeriod(ctx, "previous", "a.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), points[len(points)-1].Views)
}

func TestGetPeriodRejectsUnknownKind(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))

	_, _, err := svc.GetPeriod(context.Background(), "fortnight", "all")
	assert.ErrorIs(t, err, timeframe.ErrUnknownPeriod)

	_, err = svc.GetSummary(context.Background(), "fortnight")
	assert.ErrorIs(t, err, timeframe.ErrUnknownPeriod)
}

func TestGetSites(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	sites, err := svc.GetSites(ctx)
	require.NoError(t, err)
	assert.Empty(t, sites)

	testsupport.SeedDaily(t, db, "2025-03-01", models.SiteCounts{"old.com": {Views: 1}})
	testsupport.SeedDaily(t, db, "2025-03-02", models.SiteCounts{"z.com": {Views: 1}, "a.com": {Clicks: 1}})

	sites, err = svc.GetSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "z.com"}, sites)
}

func TestGetSummary(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	testsupport.SeedDaily(t, db, "2025-02-01", models.SiteCounts{"a.com": {Views: 40, Clicks: 4}})
	testsupport.SeedDaily(t, db, "2025-03-04", models.SiteCounts{"a.com": {Views: 20, Clicks: 2}})
	testsupport.SeedDaily(t, db, "2025-03-05", models.SiteCounts{"a.com": {Views: 30, Clicks: 2}})

	summary, err := svc.GetSummary(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Views: 50, Clicks: 4}, summary.Totals)
	assert.Equal(t, models.Counts{Views: 40, Clicks: 4}, summary.PreviousTotals)
	assert.Equal(t, 25.0, summary.Change.Views)
	assert.Equal(t, 0.0, summary.Change.Clicks)
	assert.Equal(t, models.Counts{Views: 30, Clicks: 2}, summary.Today)
	assert.Equal(t, models.Counts{Views: 20, Clicks: 2}, summary.Yesterday)
	assert.Equal(t, 50.0, summary.DailyChange.Views)
}

func TestGetSummaryWithEmptyPreviousPeriod(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	db := testsupport.SetupTestDB(t)

	testsupport.SeedDaily(t, db, "2025-03-05", models.SiteCounts{"a.com": {Views: 7, Clicks: 1}})

	summary, err := svc.GetSummary(context.Background(), "current")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), summary.Totals.Views)
	assert.Equal(t, 0.0, summary.Change.Views)
	assert.Equal(t, 0.0, summary.Change.Clicks)
	assert.Equal(t, 0.0, summary.DailyChange.Views)
	assert.False(t, math.IsNaN(summary.Change.Views) || math.IsInf(summary.Change.Views, 0))
}

func TestRollupsAndSiteTotals(t *testing.T) {
	svc, _ := setupService(t, time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC))
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	testsupport.SeedDaily(t, db, "2025-02-22", models.SiteCounts{"a.com": {Views: 1}, "b.com": {Views: 9}})
	testsupport.SeedDaily(t, db, "2025-02-23", models.SiteCounts{"a.com": {Views: 3}})

	totals, err := svc.SiteTotals(ctx, "current")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "b.com", totals[0].Domain)
	assert.Equal(t, uint64(4), totals[1].Views)

	weeks, err := svc.GetWeekly(ctx, testsupport.Date(t, "2025-02-01"), testsupport.Date(t, "2025-03-01"))
	require.NoError(t, err)
	assert.Empty(t, weeks, "rollups are only read, never derived on the fly")
}
