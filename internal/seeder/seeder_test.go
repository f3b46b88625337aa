package seeder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/aggregates"
	"referly/internal/partners"
	"referly/internal/pipeline"
	"referly/internal/seeder"
	"referly/internal/testsupport"
)

func TestSeederRun(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	clock, _ := testsupport.NewClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	services, err := pipeline.New(db, logger, testsupport.Config(), pipeline.Options{Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()

	s := seeder.NewSeeder(db, services, logger, 14, 42)
	require.NoError(t, s.Run(ctx))

	popups, err := services.Counters.List(ctx)
	require.NoError(t, err)
	assert.Len(t, popups, 3)

	list, err := partners.List(db)
	require.NoError(t, err)
	require.Len(t, list, len(seeder.DefaultSites))
	assert.Equal(t, partners.StatusPending, list[len(list)-1].Status)

	days, err := aggregates.DailyRange(db, "2025-02-15", "2025-02-28")
	require.NoError(t, err)
	assert.Len(t, days, 14)

	var views uint64
	for _, d := range days {
		views += d.Total.Views
	}
	assert.Positive(t, views)

	// Running again adds no popups or partners and rewrites the same history.
	require.NoError(t, seeder.NewSeeder(db, services, logger, 14, 42).Run(ctx))
	popups, err = services.Counters.List(ctx)
	require.NoError(t, err)
	assert.Len(t, popups, 3)
	list, err = partners.List(db)
	require.NoError(t, err)
	assert.Len(t, list, len(seeder.DefaultSites))

	again, err := aggregates.DailyRange(db, "2025-02-15", "2025-02-28")
	require.NoError(t, err)
	var viewsAgain uint64
	for _, d := range again {
		viewsAgain += d.Total.Views
	}
	assert.Equal(t, views, viewsAgain)
}
