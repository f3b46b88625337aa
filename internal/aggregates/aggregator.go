// Package aggregates turns consecutive snapshots into daily deltas and rolls
// them up into weekly and monthly sums.
package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"referly/internal/models"
	"referly/internal/snapshots"
	"referly/internal/timeframe"
)

// Stage names reported in a RunResult.
const (
	StageSnapshot = "snapshot"
	StageDaily    = "daily"
	StageWeekly   = "weekly"
	StageMonthly  = "monthly"
	StagePrune    = "prune"
)

// Stage outcomes.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

var (
	// ErrInvalidRange is returned for a backfill range that is reversed or too long.
	ErrInvalidRange = errors.New("invalid date range")
	// ErrDayClosed is returned when closing or writing a day that is already closed.
	ErrDayClosed = errors.New("day is closed")
)

// Options configures retention and safety limits.
type Options struct {
	DailyRetentionDays    int
	WeeklyRetentionDays   int
	MonthlyRetentionDays  int
	SnapshotRetentionDays int
	MaxBackfillDays       int
}

// DefaultOptions returns the stock retention windows.
func DefaultOptions() Options {
	return Options{
		DailyRetentionDays:    90,
		WeeklyRetentionDays:   365,
		MonthlyRetentionDays:  3 * 365,
		SnapshotRetentionDays: 90,
		MaxBackfillDays:       366,
	}
}

// StageError records the failure of one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e StageError) Unwrap() error {
	return e.Err
}

// StageErrors lists every stage that failed during one run.
type StageErrors []StageError

func (e StageErrors) Error() string {
	parts := make([]string, len(e))
	for i, se := range e {
		parts[i] = se.Error()
	}
	return "aggregation stages failed: " + strings.Join(parts, "; ")
}

func (e StageErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, se := range e {
		errs[i] = se
	}
	return errs
}

// Stages returns the names of the failed stages.
func (e StageErrors) Stages() []string {
	names := make([]string, len(e))
	for i, se := range e {
		names[i] = se.Stage
	}
	return names
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunResult describes one run of the daily pipeline.
type RunResult struct {
	Date     string              `json:"date"`
	Stages   []StageResult       `json:"stages"`
	Daily    *Daily              `json:"daily,omitempty"`
	Snapshot *snapshots.Snapshot `json:"snapshot,omitempty"`
	Pruned   int64               `json:"pruned"`

	errs StageErrors
}

// Err returns the collected stage failures, or nil.
func (r *RunResult) Err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs
}

func (r *RunResult) record(name string, err error) {
	if err != nil {
		r.Stages = append(r.Stages, StageResult{Name: name, Status: StatusFailed, Error: err.Error()})
		r.errs = append(r.errs, StageError{Stage: name, Err: err})
		return
	}
	r.Stages = append(r.Stages, StageResult{Name: name, Status: StatusOK})
}

func (r *RunResult) skip(name, reason string) {
	r.Stages = append(r.Stages, StageResult{Name: name, Status: StatusSkipped, Error: reason})
}

// Aggregator runs the daily delta pipeline.
type Aggregator struct {
	db      *gorm.DB
	logger  *slog.Logger
	clock   *timeframe.Clock
	builder *snapshots.Builder
	opts    Options
}

// New creates an aggregator. Zero option fields fall back to DefaultOptions.
func New(db *gorm.DB, logger *slog.Logger, clock *timeframe.Clock, builder *snapshots.Builder, opts Options) *Aggregator {
	def := DefaultOptions()
	if opts.DailyRetentionDays <= 0 {
		opts.DailyRetentionDays = def.DailyRetentionDays
	}
	if opts.WeeklyRetentionDays <= 0 {
		opts.WeeklyRetentionDays = def.WeeklyRetentionDays
	}
	if opts.MonthlyRetentionDays <= 0 {
		opts.MonthlyRetentionDays = def.MonthlyRetentionDays
	}
	if opts.SnapshotRetentionDays <= 0 {
		opts.SnapshotRetentionDays = def.SnapshotRetentionDays
	}
	if opts.MaxBackfillDays <= 0 {
		opts.MaxBackfillDays = def.MaxBackfillDays
	}
	return &Aggregator{db: db, logger: logger, clock: clock, builder: builder, opts: opts}
}

// RunDaily executes the whole pipeline for today: snapshot, daily delta,
// weekly and monthly rollups, then retention pruning.
//
// A failing stage does not undo stages that already committed. Dependent
// stages are skipped. The returned error is a StageErrors value listing every
// failed stage, or the context error when the run was cancelled between stages.
func (a *Aggregator) RunDaily(ctx context.Context) (*RunResult, error) {
	return a.run(ctx, true)
}

// SyncToday recomputes today's snapshot, delta and rollups without pruning.
func (a *Aggregator) SyncToday(ctx context.Context) (*RunResult, error) {
	return a.run(ctx, false)
}

func (a *Aggregator) run(ctx context.Context, prune bool) (*RunResult, error) {
	today := a.clock.Today()
	result := &RunResult{Date: timeframe.DateKey(today)}
	logger := a.logger.With(slog.String("date", result.Date))

	stages := []string{StageSnapshot, StageDaily, StageWeekly, StageMonthly}
	if prune {
		stages = append(stages, StagePrune)
	}

	var snap *snapshots.Snapshot
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			for _, rest := range stages[i:] {
				result.skip(rest, "cancelled")
			}
			logger.Warn("Daily aggregation cancelled", slog.String("next_stage", stage))
			return result, err
		}

		var err error
		switch stage {
		case StageSnapshot:
			snap, err = a.builder.Build(ctx)
			result.Snapshot = snap
		case StageDaily:
			if snap == nil {
				result.skip(stage, "no snapshot")
				continue
			}
			result.Daily, err = a.writeDay(ctx, snap)
			if errors.Is(err, ErrDayClosed) {
				result.skip(stage, err.Error())
				continue
			}
		case StageWeekly:
			_, err = a.RecomputeWeek(ctx, timeframe.WeekStart(today))
		case StageMonthly:
			_, err = a.RecomputeMonth(ctx, timeframe.MonthStart(today))
		case StagePrune:
			result.Pruned, err = a.Prune(ctx)
		}

		if err != nil {
			logger.Error("Daily aggregation stage failed", slog.String("stage", stage), slog.Any("error", err))
		}
		result.record(stage, err)
	}

	if err := result.Err(); err != nil {
		return result, err
	}

	attrs := []any{slog.Int64("pruned", result.Pruned)}
	if result.Daily != nil {
		attrs = append(attrs,
			slog.Uint64("views", result.Daily.Total.Views),
			slog.Uint64("clicks", result.Daily.Total.Clicks))
	}
	logger.Info("Daily aggregation completed", attrs...)
	return result, nil
}

// writeDay stores the delta between snap and the previous day's snapshot and
// then snap itself, in one transaction so both come from the same read.
func (a *Aggregator) writeDay(ctx context.Context, snap *snapshots.Snapshot) (*Daily, error) {
	day, err := a.clock.ParseDate(snap.Date)
	if err != nil {
		return nil, err
	}
	prevKey := timeframe.DateKey(day.AddDate(0, 0, -1))

	var daily *Daily
	err = models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		existing, err := GetDaily(tx, snap.Date)
		if err != nil && !errors.Is(err, ErrDayNotFound) {
			return err
		}
		if existing != nil && existing.ClosedAt != nil {
			return ErrDayClosed
		}

		prev, err := snapshots.GetOrZero(tx, prevKey)
		if err != nil {
			return err
		}

		total, sites := ComputeDelta(snap, prev)
		daily = &Daily{Date: snap.Date, Total: total, Sites: datatypes.NewJSONType(sites)}
		if err := upsertDaily(tx, daily); err != nil {
			return fmt.Errorf("failed to upsert daily record: %w", err)
		}
		if err := snapshots.Save(tx, snap); err != nil {
			return fmt.Errorf("failed to upsert snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return daily, nil
}

// RecomputeWeek rebuilds the weekly record for the Sunday-aligned week containing day.
func (a *Aggregator) RecomputeWeek(ctx context.Context, day time.Time) (*Weekly, error) {
	start := timeframe.WeekStart(day)
	end := start.AddDate(0, 0, 6)

	weekly := &Weekly{WeekStart: timeframe.DateKey(start)}
	err := models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		records, err := DailyRange(tx, timeframe.DateKey(start), timeframe.DateKey(end))
		if err != nil {
			return err
		}
		total, sites := sumDailies(records)
		weekly.Total = total
		weekly.Sites = datatypes.NewJSONType(sites)
		weekly.Days = len(records)
		return upsertWeekly(tx, weekly)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recompute week %s: %w", weekly.WeekStart, err)
	}
	return weekly, nil
}

// RecomputeMonth rebuilds the monthly record for the calendar month containing day.
func (a *Aggregator) RecomputeMonth(ctx context.Context, day time.Time) (*Monthly, error) {
	start := timeframe.MonthStart(day)
	end := start.AddDate(0, 1, -1)

	monthly := &Monthly{MonthStart: timeframe.DateKey(start)}
	err := models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		records, err := DailyRange(tx, timeframe.DateKey(start), timeframe.DateKey(end))
		if err != nil {
			return err
		}
		total, sites := sumDailies(records)
		monthly.Total = total
		monthly.Sites = datatypes.NewJSONType(sites)
		monthly.Days = len(records)
		return upsertMonthly(tx, monthly)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recompute month %s: %w", monthly.MonthStart, err)
	}
	return monthly, nil
}

// Prune deletes records that fell out of their retention windows and returns
// how many rows were removed in total.
func (a *Aggregator) Prune(ctx context.Context) (int64, error) {
	today := a.clock.Today()
	cutoff := func(days int) string {
		return timeframe.DateKey(today.AddDate(0, 0, -days))
	}

	var total int64
	err := models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		total = 0
		steps := []struct {
			name  string
			model any
			where string
			key   string
		}{
			{"daily", &Daily{}, "date < ?", cutoff(a.opts.DailyRetentionDays)},
			{"weekly", &Weekly{}, "week_start < ?", cutoff(a.opts.WeeklyRetentionDays)},
			{"monthly", &Monthly{}, "month_start < ?", cutoff(a.opts.MonthlyRetentionDays)},
		}
		for _, step := range steps {
			result := tx.Where(step.where, step.key).Delete(step.model)
			if result.Error != nil {
				return fmt.Errorf("failed to prune %s records: %w", step.name, result.Error)
			}
			total += result.RowsAffected
		}

		deleted, err := snapshots.DeleteBefore(tx, cutoff(a.opts.SnapshotRetentionDays))
		if err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}
		total += deleted
		return nil
	})
	if err != nil {
		return 0, err
	}

	if total > 0 {
		a.logger.Info("Pruned expired analytics records", slog.Int64("deleted_count", total))
	}
	return total, nil
}

// CloseDay freezes the daily record of a past date so later runs cannot
// overwrite it. It reports false when the day has no record or is already closed.
func (a *Aggregator) CloseDay(ctx context.Context, date string) (bool, error) {
	day, err := a.clock.ParseDate(date)
	if err != nil {
		return false, err
	}
	if !day.Before(a.clock.Today()) {
		return false, fmt.Errorf("%w: only past days can be closed, got %s", ErrInvalidRange, date)
	}

	var closed bool
	err = models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		now := a.clock.Now().UTC()
		result := tx.Model(&Daily{}).
			Where("date = ? AND closed_at IS NULL", date).
			Updates(map[string]any{"closed_at": now, "updated_at": now})
		closed = result.RowsAffected > 0
		return result.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to close day %s: %w", date, err)
	}
	return closed, nil
}

// Backfill inserts zero-valued daily records for every date in [from, to]
// that has none and refreshes the touched rollups. Existing days are left
// alone. It returns the number of records created.
func (a *Aggregator) Backfill(ctx context.Context, from, to string) (int, error) {
	start, err := a.clock.ParseDate(from)
	if err != nil {
		return 0, err
	}
	end, err := a.clock.ParseDate(to)
	if err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	if n := timeframe.DaysInclusive(start, end); n > a.opts.MaxBackfillDays {
		return 0, fmt.Errorf("%w: %d days exceeds the limit of %d", ErrInvalidRange, n, a.opts.MaxBackfillDays)
	}

	days := timeframe.EachDay(start, end)
	created := 0
	err = models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		created = 0
		for _, day := range days {
			record := &Daily{
				Date:  timeframe.DateKey(day),
				Sites: datatypes.NewJSONType(models.SiteCounts{}),
			}
			result := tx.Clauses(onConflictDoNothing).Create(record)
			if result.Error != nil {
				return result.Error
			}
			created += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to backfill %s..%s: %w", from, to, err)
	}

	if err := a.refreshRollups(ctx, days); err != nil {
		return created, err
	}

	a.logger.Info("Backfilled daily analytics",
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("created", created))
	return created, nil
}

// Repair re-derives one day from its stored snapshot pair, overwriting the
// daily record even when the day is closed. The value it replaces is kept in
// PreviousValue together with the reason.
func (a *Aggregator) Repair(ctx context.Context, date, reason string) (*Daily, error) {
	day, err := a.clock.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual repair"
	}
	prevKey := timeframe.DateKey(day.AddDate(0, 0, -1))

	var repaired *Daily
	err = models.PerformWrite(a.logger, a.db.WithContext(ctx), func(tx *gorm.DB) error {
		snap, err := snapshots.Get(tx, date)
		if err != nil {
			return err
		}
		prev, err := snapshots.GetOrZero(tx, prevKey)
		if err != nil {
			return err
		}

		existing, err := GetDaily(tx, date)
		if err != nil && !errors.Is(err, ErrDayNotFound) {
			return err
		}

		var audit datatypes.JSON
		if existing != nil {
			audit, err = json.Marshal(repairAudit{Total: existing.Total, Sites: existing.SiteCounts()})
			if err != nil {
				return err
			}
		}

		total, sites := ComputeDelta(snap, prev)
		now := a.clock.Now().UTC()
		repaired = &Daily{
			Date:          date,
			Total:         total,
			Sites:         datatypes.NewJSONType(sites),
			RepairedAt:    &now,
			RepairReason:  reason,
			PreviousValue: audit,
		}
		if existing != nil {
			repaired.ClosedAt = existing.ClosedAt
			repaired.CreatedAt = existing.CreatedAt
			return tx.Save(repaired).Error
		}
		return tx.Create(repaired).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to repair %s: %w", date, err)
	}

	if err := a.refreshRollups(ctx, []time.Time{day}); err != nil {
		return repaired, err
	}

	a.logger.Warn("Repaired daily analytics",
		slog.String("date", date),
		slog.String("reason", reason),
		slog.Uint64("views", repaired.Total.Views),
		slog.Uint64("clicks", repaired.Total.Clicks))
	return repaired, nil
}

// Import replays externally produced snapshots in date order: each one is
// stored and its delta against the previous day becomes that day's record.
// Closed days are left alone and counted as skipped.
func (a *Aggregator) Import(ctx context.Context, snaps []*snapshots.Snapshot) (imported, skipped int, err error) {
	ordered := slices.Clone(snaps)
	slices.SortFunc(ordered, func(x, y *snapshots.Snapshot) int {
		return strings.Compare(x.Date, y.Date)
	})

	days := make([]time.Time, 0, len(ordered))
	for _, snap := range ordered {
		if err := ctx.Err(); err != nil {
			return imported, skipped, err
		}
		if _, err := a.writeDay(ctx, snap); err != nil {
			if errors.Is(err, ErrDayClosed) {
				skipped++
				continue
			}
			return imported, skipped, fmt.Errorf("failed to import %s: %w", snap.Date, err)
		}
		day, _ := a.clock.ParseDate(snap.Date)
		days = append(days, day)
		imported++
	}

	if err := a.refreshRollups(ctx, days); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}

// refreshRollups recomputes every week and month touched by days.
func (a *Aggregator) refreshRollups(ctx context.Context, days []time.Time) error {
	weeks := map[string]time.Time{}
	months := map[string]time.Time{}
	for _, day := range days {
		ws := timeframe.WeekStart(day)
		weeks[timeframe.DateKey(ws)] = ws
		ms := timeframe.MonthStart(day)
		months[timeframe.DateKey(ms)] = ms
	}

	for _, ws := range weeks {
		if _, err := a.RecomputeWeek(ctx, ws); err != nil {
			return err
		}
	}
	for _, ms := range months {
		if _, err := a.RecomputeMonth(ctx, ms); err != nil {
			return err
		}
	}
	return nil
}
