package jobs

import (
	"context"
	"log/slog"

	"referly/internal/pipeline"
	"referly/internal/timeframe"
)

// Job names accepted by RunNow.
const (
	JobSnapshot             = "snapshot"
	JobDailyAggregation     = "daily_aggregation"
	JobPartnerRecalculation = "partner_recalculation"
	JobDraftGeneration      = "draft_generation"
	JobReferralPurge        = "referral_purge"
)

// SnapshotJob captures the cumulative snapshot of today.
type SnapshotJob struct {
	services *pipeline.Services
}

func (j *SnapshotJob) Run(ctx context.Context) error {
	_, err := j.services.Builder.Capture(ctx)
	return err
}

// DailyAggregationJob runs the delta pipeline for today and closes yesterday.
type DailyAggregationJob struct {
	services *pipeline.Services
	logger   *slog.Logger
}

func (j *DailyAggregationJob) Run(ctx context.Context) error {
	if _, err := j.services.Aggregator.RunDaily(ctx); err != nil {
		return err
	}

	yesterday := timeframe.DateKey(j.services.Clock.Today().AddDate(0, 0, -1))
	closed, err := j.services.Aggregator.CloseDay(ctx, yesterday)
	if err != nil {
		return err
	}
	if closed {
		j.logger.Info("Closed daily analytics", slog.String("date", yesterday))
	}
	return nil
}

// PartnerRecalculationJob refreshes the cached payment of the current period.
type PartnerRecalculationJob struct {
	services *pipeline.Services
}

func (j *PartnerRecalculationJob) Run(ctx context.Context) error {
	period, err := j.services.Payments.ResolvePeriod(timeframe.PeriodCurrent)
	if err != nil {
		return err
	}
	_, err = j.services.Payments.Recalculate(ctx, period)
	return err
}

// DraftGenerationJob prepares invoice drafts for the period that just ended.
type DraftGenerationJob struct {
	services *pipeline.Services
}

func (j *DraftGenerationJob) Run(ctx context.Context) error {
	period, err := j.services.Payments.ResolvePeriod(timeframe.PeriodPrevious)
	if err != nil {
		return err
	}
	_, err = j.services.Drafts.GenerateDrafts(ctx, period)
	return err
}
