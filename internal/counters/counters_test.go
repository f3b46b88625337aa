package counters_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/counters"
	"referly/internal/models"
	"referly/internal/testsupport"
)

func setupStore(t *testing.T) (*counters.Store, *testsupport.MutableTimeProvider) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	clock, provider := testsupport.NewClock(time.Date(2025, 1, 27, 12, 0, 0, 0, time.UTC))
	return counters.NewStore(db, testsupport.GetLogger(), clock, 0), provider
}

func TestIncrementUpdatesTotalsAndRollingLog(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	popup, err := store.Create(ctx, "spring campaign")
	require.NoError(t, err)
	id := int(popup.ID)

	require.NoError(t, store.IncrementView(ctx, id, "https://www.blog-a.com/"))
	require.NoError(t, store.IncrementView(ctx, id, "blog-a.com"))
	require.NoError(t, store.IncrementClick(ctx, id, "blog-a.com"))
	require.NoError(t, store.IncrementView(ctx, id, "blog-b.com"))
	require.NoError(t, store.IncrementView(ctx, id, ""))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.ViewsTotal)
	assert.Equal(t, uint64(1), got.ClicksTotal)

	require.Len(t, got.Referrals, 3)
	assert.Equal(t, "blog-a.com", got.Referrals[0].Domain)
	assert.Equal(t, uint32(2), got.Referrals[0].Views)
	assert.Equal(t, uint32(1), got.Referrals[0].Clicks)
	assert.Equal(t, "blog-b.com", got.Referrals[1].Domain)
	assert.Equal(t, "direct", got.Referrals[2].Domain)
}

func TestIncrementErrors(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.IncrementView(ctx, 0, "a.com"), counters.ErrInvalidID)
	assert.ErrorIs(t, store.IncrementClick(ctx, -3, "a.com"), counters.ErrInvalidID)
	assert.ErrorIs(t, store.IncrementView(ctx, 999, "a.com"), counters.ErrPopupNotFound)

	_, err := store.Get(ctx, 999)
	assert.ErrorIs(t, err, counters.ErrPopupNotFound)
}

func TestStaleEntriesAreHiddenAndRestart(t *testing.T) {
	store, provider := setupStore(t)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	id := int(popup.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.IncrementView(ctx, id, "old.com"))
	}
	require.NoError(t, store.IncrementView(ctx, id, "fresh.com"))

	provider.Advance(23 * time.Hour)
	require.NoError(t, store.IncrementClick(ctx, id, "fresh.com"))

	provider.Advance(2 * time.Hour)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Referrals, 1, "old.com fell out of the window")
	assert.Equal(t, "fresh.com", got.Referrals[0].Domain)
	assert.Equal(t, uint64(4), got.ViewsTotal, "lifetime totals never shrink")

	// A write to a stale entry restarts its window instead of accumulating.
	require.NoError(t, store.IncrementView(ctx, id, "old.com"))
	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Referrals, 2)
	assert.Equal(t, "old.com", got.Referrals[1].Domain)
	assert.Equal(t, uint32(1), got.Referrals[1].Views)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	id := int(popup.ID)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementView(ctx, id, "busy.com")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(workers), got.ViewsTotal)
	require.Len(t, got.Referrals, 1)
	assert.Equal(t, uint32(workers), got.Referrals[0].Views)
}

func TestLiveTotalsByDomain(t *testing.T) {
	store, provider := setupStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "first")
	require.NoError(t, err)
	second, err := store.Create(ctx, "second")
	require.NoError(t, err)

	require.NoError(t, store.IncrementView(ctx, int(first.ID), "expired.com"))
	provider.Advance(25 * time.Hour)

	require.NoError(t, store.IncrementView(ctx, int(first.ID), "a.com"))
	require.NoError(t, store.IncrementClick(ctx, int(first.ID), "a.com"))
	require.NoError(t, store.IncrementView(ctx, int(second.ID), "a.com"))
	require.NoError(t, store.IncrementView(ctx, int(second.ID), "b.com"))

	sites, err := store.LiveTotalsByDomain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SiteCounts{
		"a.com": {Views: 2, Clicks: 1},
		"b.com": {Views: 1},
	}, sites)
}

func TestPurgeStale(t *testing.T) {
	store, provider := setupStore(t)
	ctx := context.Background()

	popup, err := store.Create(ctx, "popup")
	require.NoError(t, err)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "a.com"))
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "b.com"))

	provider.Advance(12 * time.Hour)
	require.NoError(t, store.IncrementView(ctx, int(popup.ID), "b.com"))
	provider.Advance(13 * time.Hour)

	deleted, err := store.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := store.Get(ctx, int(popup.ID))
	require.NoError(t, err)
	require.Len(t, got.Referrals, 1)
	assert.Equal(t, "b.com", got.Referrals[0].Domain)
}
