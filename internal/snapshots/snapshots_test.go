package snapshots_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/counters"
	"referly/internal/models"
	"referly/internal/snapshots"
	"referly/internal/testsupport"
)

func TestCaptureSumsLiveReferrals(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	clock, provider := testsupport.NewClock(time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC))
	store := counters.NewStore(db, logger, clock, 0)
	builder := snapshots.NewBuilder(db, logger, clock, store)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "stale.com"))
	provider.Advance(25 * time.Hour)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "a.com"))
	require.NoError(t, store.IncrementClick(ctx, int(popup.ID), "a.com"))
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "b.com"))

	snap, err := builder.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-28", snap.Date)
	assert.Equal(t, models.Counts{Views: 2, Clicks: 1}, snap.Total)

	stored, err := snapshots.Get(db, "2025-01-28")
	require.NoError(t, err)
	assert.Equal(t, models.SiteCounts{
		"a.com": {Views: 1, Clicks: 1},
		"b.com": {Views: 1},
	}, stored.SiteCounts())
}

func TestCaptureIsIdempotentWithinADay(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	clock, provider := testsupport.NewClock(time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC))
	store := counters.NewStore(db, logger, clock, 0)
	builder := snapshots.NewBuilder(db, logger, clock, store)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	for _, domain := range []string{"c.com", "a.com", "b.com", "a.com"} {
		require.NoError(t, store.IncrementView(ctx, int(popup.ID), domain))
	}

	_, err = builder.Capture(ctx)
	require.NoError(t, err)
	first, err := snapshots.Get(db, "2025-01-27")
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	// An hour later with no new traffic.
	provider.Advance(time.Hour)
	recaptured, err := builder.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.CapturedAtMillis, recaptured.CapturedAtMillis)
	second, err := snapshots.Get(db, "2025-01-27")
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, string(firstJSON), string(secondJSON))

	var count int64
	require.NoError(t, db.Model(&snapshots.Snapshot{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCaptureReplacesEarlierSnapshotOfTheDay(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()
	clock, provider := testsupport.NewClock(time.Date(2025, 1, 27, 1, 0, 0, 0, time.UTC))
	store := counters.NewStore(db, logger, clock, 0)
	builder := snapshots.NewBuilder(db, logger, clock, store)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "a.com"))
	_, err = builder.Capture(ctx)
	require.NoError(t, err)

	provider.Advance(time.Hour)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "a.com"))
	_, err = builder.Capture(ctx)
	require.NoError(t, err)

	stored, err := snapshots.Get(db, "2025-01-27")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Total.Views)
	assert.Equal(t, time.Date(2025, 1, 27, 2, 0, 0, 0, time.UTC).UnixMilli(), stored.CapturedAtMillis)
}

func TestGetOrZeroAndDeleteBefore(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	zero, err := snapshots.GetOrZero(db, "2025-01-01")
	require.NoError(t, err)
	assert.True(t, zero.Total.IsZero())
	assert.Empty(t, zero.SiteCounts())

	_, err = snapshots.Get(db, "2025-01-01")
	assert.ErrorIs(t, err, snapshots.ErrNotFound)

	testsupport.SeedSnapshot(t, db, "2025-01-01", models.SiteCounts{"a.com": {Views: 1}})
	testsupport.SeedSnapshot(t, db, "2025-01-02", models.SiteCounts{"a.com": {Views: 2}})
	testsupport.SeedSnapshot(t, db, "2025-01-03", models.SiteCounts{"a.com": {Views: 3}})

	deleted, err := snapshots.DeleteBefore(db, "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	kept, err := snapshots.Get(db, "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), kept.Total.Views)
}
