package aggregates

import (
	"time"

	"gorm.io/datatypes"

	"referly/internal/models"
)

// Daily holds the traffic of one calendar day: the clamped difference between
// that day's snapshot and the previous day's. It is never cumulative.
type Daily struct {
	Date  string                                `gorm:"primaryKey;size:10" json:"date"`
	Total models.Counts                         `gorm:"embedded;embeddedPrefix:total_" json:"total"`
	Sites datatypes.JSONType[models.SiteCounts] `gorm:"type:text" json:"sites"`

	// ClosedAt freezes the day; only Repair may change a closed day.
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	RepairedAt    *time.Time     `json:"repaired_at,omitempty"`
	RepairReason  string         `gorm:"size:500" json:"repair_reason,omitempty"`
	PreviousValue datatypes.JSON `gorm:"type:text" json:"previous_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Daily) TableName() string {
	return "analytics_daily"
}

// SiteCounts returns the per-domain counts, never nil.
func (d *Daily) SiteCounts() models.SiteCounts {
	return orEmpty(d.Sites.Data())
}

// Weekly sums the daily records of a Sunday-aligned week.
type Weekly struct {
	WeekStart string                                `gorm:"primaryKey;size:10" json:"week_start"`
	Total     models.Counts                         `gorm:"embedded;embeddedPrefix:total_" json:"total"`
	Sites     datatypes.JSONType[models.SiteCounts] `gorm:"type:text" json:"sites"`
	Days      int                                   `gorm:"not null;default:0" json:"days"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Weekly) TableName() string {
	return "analytics_weekly"
}

// SiteCounts returns the per-domain counts, never nil.
func (w *Weekly) SiteCounts() models.SiteCounts {
	return orEmpty(w.Sites.Data())
}

// Monthly sums the daily records of a calendar month.
type Monthly struct {
	MonthStart string                                `gorm:"primaryKey;size:10" json:"month_start"`
	Total      models.Counts                         `gorm:"embedded;embeddedPrefix:total_" json:"total"`
	Sites      datatypes.JSONType[models.SiteCounts] `gorm:"type:text" json:"sites"`
	Days       int                                   `gorm:"not null;default:0" json:"days"`
	UpdatedAt  time.Time                             `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Monthly) TableName() string {
	return "analytics_monthly"
}

// SiteCounts returns the per-domain counts, never nil.
func (m *Monthly) SiteCounts() models.SiteCounts {
	return orEmpty(m.Sites.Data())
}

// repairAudit is the value a repaired day held before the repair.
type repairAudit struct {
	Total models.Counts     `json:"total"`
	Sites models.SiteCounts `json:"sites"`
}

func orEmpty(s models.SiteCounts) models.SiteCounts {
	if s == nil {
		return models.SiteCounts{}
	}
	return s
}
