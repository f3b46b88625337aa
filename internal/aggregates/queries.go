package aggregates

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDayNotFound is returned when no daily record exists for a date.
var ErrDayNotFound = errors.New("daily record not found")

var onConflictDoNothing = clause.OnConflict{DoNothing: true}

// GetDaily loads the daily record for a date key.
func GetDaily(db *gorm.DB, date string) (*Daily, error) {
	var daily Daily
	if err := db.Where("date = ?", date).First(&daily).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDayNotFound
		}
		return nil, fmt.Errorf("failed to load daily record %s: %w", date, err)
	}
	return &daily, nil
}

// DailyRange returns daily records with from <= date <= to, oldest first.
func DailyRange(db *gorm.DB, from, to string) ([]Daily, error) {
	var records []Daily
	if err := db.Where("date >= ? AND date <= ?", from, to).
		Order("date ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load daily records %s..%s: %w", from, to, err)
	}
	return records, nil
}

// LatestDaily returns the most recent daily record, or ErrDayNotFound.
func LatestDaily(db *gorm.DB) (*Daily, error) {
	var daily Daily
	if err := db.Order("date DESC").First(&daily).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDayNotFound
		}
		return nil, fmt.Errorf("failed to load latest daily record: %w", err)
	}
	return &daily, nil
}

// WeeklyRange returns weekly records whose week starts within [from, to].
func WeeklyRange(db *gorm.DB, from, to string) ([]Weekly, error) {
	var records []Weekly
	if err := db.Where("week_start >= ? AND week_start <= ?", from, to).
		Order("week_start ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load weekly records: %w", err)
	}
	return records, nil
}

// MonthlyRange returns monthly records whose month starts within [from, to].
func MonthlyRange(db *gorm.DB, from, to string) ([]Monthly, error) {
	var records []Monthly
	if err := db.Where("month_start >= ? AND month_start <= ?", from, to).
		Order("month_start ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load monthly records: %w", err)
	}
	return records, nil
}

func upsertDaily(tx *gorm.DB, daily *Daily) error {
	daily.UpdatedAt = time.Now().UTC()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_views", "total_clicks", "sites", "updated_at"}),
	}).Create(daily).Error
}

func upsertWeekly(tx *gorm.DB, weekly *Weekly) error {
	weekly.UpdatedAt = time.Now().UTC()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "week_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_views", "total_clicks", "sites", "days", "updated_at"}),
	}).Create(weekly).Error
}

func upsertMonthly(tx *gorm.DB, monthly *Monthly) error {
	monthly.UpdatedAt = time.Now().UTC()
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "month_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_views", "total_clicks", "sites", "days", "updated_at"}),
	}).Create(monthly).Error
}
