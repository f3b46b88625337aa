// Package counters stores live per-popup view/click totals and the rolling
// per-domain referral log that snapshots are built from.
package counters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"referly/internal/models"
	"referly/internal/pkg/referrers"
	"referly/internal/timeframe"
)

var (
	// ErrPopupNotFound is returned when no popup exists for the given id.
	ErrPopupNotFound = errors.New("popup not found")
	// ErrInvalidID is returned for a non-positive popup id.
	ErrInvalidID = errors.New("invalid popup id")
)

// DefaultWindow is how long a referral entry stays live without new traffic.
const DefaultWindow = 24 * time.Hour

// PopupCounter holds the lifetime totals of one referral popup.
type PopupCounter struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:255" json:"name"`
	ViewsTotal  uint64    `gorm:"not null;default:0" json:"views_total"`
	ClicksTotal uint64    `gorm:"not null;default:0" json:"clicks_total"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Referrals is the live part of the rolling log, filled by Get.
	Referrals []Referral `gorm:"-" json:"referrals"`
}

// TableName specifies the table name for GORM
func (PopupCounter) TableName() string {
	return "popup_counters"
}

// Referral is one rolling-log entry: traffic a popup received from one domain
// since the entry's window was last restarted.
type Referral struct {
	PopupID             uint   `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Domain              string `gorm:"primaryKey;size:255" json:"domain"`
	Views               uint32 `gorm:"not null;default:0" json:"views"`
	Clicks              uint32 `gorm:"not null;default:0" json:"clicks"`
	LastUpdatedAtMillis int64  `gorm:"not null;index" json:"last_updated_at_millis"`
}

// TableName specifies the table name for GORM
func (Referral) TableName() string {
	return "popup_referrals"
}

type eventKind int

const (
	viewEvent eventKind = iota
	clickEvent
)

// Store reads and writes popup counters.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	clock  *timeframe.Clock
	window time.Duration
}

// NewStore creates a counter store. A zero window falls back to DefaultWindow.
func NewStore(db *gorm.DB, logger *slog.Logger, clock *timeframe.Clock, window time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{db: db, logger: logger, clock: clock, window: window}
}

// Window returns the rolling-log lifetime.
func (s *Store) Window() time.Duration {
	return s.window
}

// cutoffMillis is the oldest timestamp still considered live.
func (s *Store) cutoffMillis(now time.Time) int64 {
	return now.Add(-s.window).UnixMilli()
}

// Create registers a new popup with zeroed counters.
func (s *Store) Create(ctx context.Context, name string) (*PopupCounter, error) {
	counter := &PopupCounter{Name: name}
	err := models.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Create(counter).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create popup: %w", err)
	}
	return counter, nil
}

// Get returns a popup with its live referral entries ordered by domain.
func (s *Store) Get(ctx context.Context, id int) (*PopupCounter, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}

	db := s.db.WithContext(ctx)
	var counter PopupCounter
	if err := db.First(&counter, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPopupNotFound
		}
		return nil, fmt.Errorf("failed to load popup %d: %w", id, err)
	}

	cutoff := s.cutoffMillis(s.clock.Now())
	if err := db.Where("popup_id = ? AND last_updated_at_millis >= ?", counter.ID, cutoff).
		Order("domain ASC").
		Find(&counter.Referrals).Error; err != nil {
		return nil, fmt.Errorf("failed to load referrals for popup %d: %w", id, err)
	}

	return &counter, nil
}

// List returns every popup ordered by id, without referral entries.
func (s *Store) List(ctx context.Context) ([]PopupCounter, error) {
	var counters []PopupCounter
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&counters).Error; err != nil {
		return nil, fmt.Errorf("failed to list popups: %w", err)
	}
	return counters, nil
}

// IncrementView records one view of a popup shown on domain.
func (s *Store) IncrementView(ctx context.Context, id int, domain string) error {
	return s.increment(ctx, id, domain, viewEvent)
}

// IncrementClick records one click on a popup shown on domain.
func (s *Store) IncrementClick(ctx context.Context, id int, domain string) error {
	return s.increment(ctx, id, domain, clickEvent)
}

const upsertReferralSQL = `
	INSERT INTO popup_referrals (popup_id, domain, views, clicks, last_updated_at_millis)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (popup_id, domain) DO UPDATE SET
		views = CASE WHEN popup_referrals.last_updated_at_millis < ? THEN excluded.views ELSE popup_referrals.views + excluded.views END,
		clicks = CASE WHEN popup_referrals.last_updated_at_millis < ? THEN excluded.clicks ELSE popup_referrals.clicks + excluded.clicks END,
		last_updated_at_millis = excluded.last_updated_at_millis
`

func (s *Store) increment(ctx context.Context, id int, domain string, kind eventKind) error {
	if id <= 0 {
		return ErrInvalidID
	}

	domain = referrers.Normalize(domain)
	if domain == "" {
		domain = referrers.Direct
	}

	column := "views_total"
	var views, clicks uint32 = 1, 0
	if kind == clickEvent {
		column = "clicks_total"
		views, clicks = 0, 1
	}

	now := s.clock.Now()
	nowMillis := now.UnixMilli()
	cutoff := s.cutoffMillis(now)

	notFound := false
	err := models.PerformWrite(s.logger, s.db.WithContext(ctx), func(tx *gorm.DB) error {
		notFound = false
		result := tx.Exec(
			"UPDATE popup_counters SET "+column+" = "+column+" + 1, updated_at = ? WHERE id = ?",
			now.UTC(), id,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			notFound = true
			return nil
		}
		return tx.Exec(upsertReferralSQL, id, domain, views, clicks, nowMillis, cutoff, cutoff).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record popup event: %w", err)
	}
	if notFound {
		return ErrPopupNotFound
	}
	return nil
}

// LiveTotalsByDomain sums every live referral entry across all popups per domain.
// Domains whose live entries are all zero are omitted.
func (s *Store) LiveTotalsByDomain(ctx context.Context) (models.SiteCounts, error) {
	type row struct {
		Domain string
		Views  uint64
		Clicks uint64
	}

	var rows []row
	cutoff := s.cutoffMillis(s.clock.Now())
	err := s.db.WithContext(ctx).
		Model(&Referral{}).
		Select("domain, SUM(views) AS views, SUM(clicks) AS clicks").
		Where("last_updated_at_millis >= ?", cutoff).
		Group("domain").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum live referrals: %w", err)
	}

	sites := make(models.SiteCounts, len(rows))
	for _, r := range rows {
		c := models.Counts{Views: r.Views, Clicks: r.Clicks}
		if c.IsZero() {
			continue
		}
		sites.Add(r.Domain, c)
	}
	return sites, nil
}

// PurgeStale deletes referral entries that fell out of the window.
// Reads already ignore them; this only reclaims space.
func (s *Store) PurgeStale(ctx context.Context) (int64, error) {
	cutoff := s.cutoffMillis(s.clock.Now())
	db := s.db.WithContext(ctx)

	const batchSize = 1000
	var totalDeleted int64
	for {
		var deleted int64
		err := models.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
			result := tx.Exec(`
				DELETE FROM popup_referrals WHERE rowid IN (
					SELECT rowid FROM popup_referrals WHERE last_updated_at_millis < ? LIMIT ?
				)`, cutoff, batchSize)
			deleted = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to purge stale referrals: %w", err)
		}
		totalDeleted += deleted
		if deleted < batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}
	}

	if totalDeleted > 0 {
		s.logger.Info("Purged stale referral entries",
			slog.Int64("deleted_count", totalDeleted),
			slog.Duration("window", s.window))
	}
	return totalDeleted, nil
}
