// Package snapshots persists one cumulative traffic picture per calendar date.
package snapshots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referly/internal/counters"
	"referly/internal/models"
	"referly/internal/timeframe"
)

// ErrNotFound is returned when no snapshot exists for a date.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is the cumulative picture of live referral traffic as of Date.
// Only the latest capture of a date is kept.
type Snapshot struct {
	Date             string                                `gorm:"primaryKey;size:10" json:"date"`
	CapturedAtMillis int64                                 `gorm:"not null" json:"captured_at_millis"`
	Total            models.Counts                         `gorm:"embedded;embeddedPrefix:total_" json:"total"`
	Sites            datatypes.JSONType[models.SiteCounts] `gorm:"type:text" json:"sites"`
}

// TableName specifies the table name for GORM
func (Snapshot) TableName() string {
	return "analytics_snapshots"
}

// SiteCounts returns the per-domain counts, never nil.
func (s *Snapshot) SiteCounts() models.SiteCounts {
	sites := s.Sites.Data()
	if sites == nil {
		return models.SiteCounts{}
	}
	return sites
}

// New assembles a snapshot for date from per-domain counts.
func New(date string, capturedAtMillis int64, sites models.SiteCounts) *Snapshot {
	if sites == nil {
		sites = models.SiteCounts{}
	}
	return &Snapshot{
		Date:             date,
		CapturedAtMillis: capturedAtMillis,
		Total:            sites.Total(),
		Sites:            datatypes.NewJSONType(sites),
	}
}

// Zero returns the empty snapshot used when a date has never been captured.
func Zero(date string) *Snapshot {
	return New(date, 0, nil)
}

// Upsert replaces the snapshot stored for snap.Date.
func Upsert(db *gorm.DB, snap *Snapshot) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"captured_at_millis", "total_views", "total_clicks", "sites"}),
	}).Create(snap).Error
}

// Save upserts snap unless the stored snapshot of the date already holds the
// same counts, in which case snap takes over the stored capture time and the
// row is left untouched.
func Save(db *gorm.DB, snap *Snapshot) error {
	stored, err := Get(db, snap.Date)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if stored != nil && sameCounts(stored, snap) {
		snap.CapturedAtMillis = stored.CapturedAtMillis
		return nil
	}
	return Upsert(db, snap)
}

func sameCounts(a, b *Snapshot) bool {
	return a.Total == b.Total && maps.Equal(a.SiteCounts(), b.SiteCounts())
}

// Get loads the snapshot for a date key.
func Get(db *gorm.DB, date string) (*Snapshot, error) {
	var snap Snapshot
	if err := db.Where("date = ?", date).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot %s: %w", date, err)
	}
	return &snap, nil
}

// GetOrZero loads the snapshot for a date key, or a zero snapshot when absent.
func GetOrZero(db *gorm.DB, date string) (*Snapshot, error) {
	snap, err := Get(db, date)
	if errors.Is(err, ErrNotFound) {
		return Zero(date), nil
	}
	return snap, err
}

// DeleteBefore removes snapshots dated strictly before the given key.
func DeleteBefore(db *gorm.DB, date string) (int64, error) {
	result := db.Where("date < ?", date).Delete(&Snapshot{})
	return result.RowsAffected, result.Error
}

// Builder derives snapshots from the counter store.
type Builder struct {
	db       *gorm.DB
	logger   *slog.Logger
	clock    *timeframe.Clock
	counters *counters.Store
}

// NewBuilder creates a snapshot builder reading from store.
func NewBuilder(db *gorm.DB, logger *slog.Logger, clock *timeframe.Clock, store *counters.Store) *Builder {
	return &Builder{db: db, logger: logger, clock: clock, counters: store}
}

// Build reads the live rolling log of every popup and sums it per domain and in
// total, keyed by today's date. Nothing is written.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	now := b.clock.Now()
	sites, err := b.counters.LiveTotalsByDomain(ctx)
	if err != nil {
		return nil, err
	}
	return New(timeframe.DateKey(timeframe.StartOfDay(now)), now.UnixMilli(), sites), nil
}

// Capture builds today's snapshot and replaces the stored one.
func (b *Builder) Capture(ctx context.Context) (*Snapshot, error) {
	snap, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}

	err = models.PerformWrite(b.logger, b.db.WithContext(ctx), func(tx *gorm.DB) error {
		return Save(tx, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot %s: %w", snap.Date, err)
	}

	b.logger.Debug("Captured analytics snapshot",
		slog.String("date", snap.Date),
		slog.Uint64("views", snap.Total.Views),
		slog.Uint64("clicks", snap.Total.Clicks),
		slog.Int("sites", len(snap.SiteCounts())))
	return snap, nil
}
