package jobs

import (
	"context"
	"log/slog"

	"referly/internal/counters"
)

// ReferralPurgeJob removes rolling-log entries that fell out of the window.
// Reads already ignore them, so this only keeps the table small.
type ReferralPurgeJob struct {
	store  *counters.Store
	logger *slog.Logger
}

func NewReferralPurgeJob(store *counters.Store, logger *slog.Logger) *ReferralPurgeJob {
	return &ReferralPurgeJob{store: store, logger: logger}
}

// Run deletes stale entries in batches.
func (j *ReferralPurgeJob) Run(ctx context.Context) error {
	j.logger.Info("Starting cleanup of stale referral entries",
		slog.Duration("window", j.store.Window()))

	deleted, err := j.store.PurgeStale(ctx)
	if err != nil {
		j.logger.Error("Failed to purge stale referral entries",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No stale referral entries to clean up")
		return nil
	}
	j.logger.Info("Cleaned up stale referral entries", slog.Int64("deleted_count", deleted))
	return nil
}
