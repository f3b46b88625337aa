// Package pipeline assembles the analytics and payment components on top of
// one database handle.
package pipeline

import (
	"log/slog"

	"gorm.io/gorm"

	"referly/internal/aggregates"
	"referly/internal/analytics"
	"referly/internal/config"
	"referly/internal/counters"
	"referly/internal/mailer"
	"referly/internal/partneremails"
	"referly/internal/partners"
	"referly/internal/snapshots"
	"referly/internal/timeframe"
)

// Services are the components of one referly process.
type Services struct {
	Clock      *timeframe.Clock
	Counters   *counters.Store
	Builder    *snapshots.Builder
	Aggregator *aggregates.Aggregator
	Analytics  *analytics.Service
	Payments   *partners.Calculator
	Drafts     *partneremails.Service
}

// Options override collaborators, mostly for tests.
type Options struct {
	Clock  *timeframe.Clock
	Sender mailer.Sender
}

// New wires every component from cfg.
func New(db *gorm.DB, logger *slog.Logger, cfg *config.Config, opts ...Options) (*Services, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	clock := o.Clock
	if clock == nil {
		clock = timeframe.NewClock(cfg.Location())
	}
	sender := o.Sender
	if sender == nil {
		sender = mailer.New(cfg, logger)
	}

	renderer, err := partneremails.NewRenderer(cfg.InvoiceLocale, cfg.InvoiceCurrencySym)
	if err != nil {
		return nil, err
	}

	store := counters.NewStore(db, logger, clock, cfg.RollingWindow())
	builder := snapshots.NewBuilder(db, logger, clock, store)
	aggregator := aggregates.New(db, logger, clock, builder, aggregates.Options{
		DailyRetentionDays:    cfg.DailyRetentionDays,
		WeeklyRetentionDays:   cfg.WeeklyRetentionDays,
		MonthlyRetentionDays:  cfg.MonthlyRetentionDays,
		SnapshotRetentionDays: cfg.SnapshotRetentionDays,
	})
	calculator := partners.NewCalculator(db, logger, clock, cfg.PayPeriodStartDay)

	return &Services{
		Clock:      clock,
		Counters:   store,
		Builder:    builder,
		Aggregator: aggregator,
		Analytics:  analytics.NewService(db, logger, clock, cfg.PayPeriodStartDay),
		Payments:   calculator,
		Drafts: partneremails.NewService(db, logger, calculator, renderer, sender, partneremails.Options{
			SendDelay: cfg.BatchSendDelay(),
		}),
	}, nil
}
