// Package partners manages partner sites and the prorated payments owed to them.
package partners

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"referly/internal/pkg/referrers"
)

var (
	// ErrPartnerNotFound is returned when no partner exists for an id.
	ErrPartnerNotFound = errors.New("partner not found")
	// ErrInvalidPartner wraps validation failures of partner fields.
	ErrInvalidPartner = errors.New("invalid partner")
)

// Status is the administrative state of a partner.
type Status string

const (
	StatusActive   Status = "active"
	StatusStopped  Status = "stopped"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
)

// Payment cycles.
const (
	CycleMonthly = "monthly"
)

// IsValid reports whether s is a known status. Empty means "derive from stop date".
func (s Status) IsValid() bool {
	switch s {
	case "", StatusActive, StatusStopped, StatusInactive, StatusPending:
		return true
	}
	return false
}

// BankInfo is where a partner's payments go.
type BankInfo struct {
	BankName      string `json:"bankName,omitempty"`
	BranchName    string `json:"branchName,omitempty"`
	AccountType   string `json:"accountType,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	AccountHolder string `json:"accountHolder,omitempty"`
}

// IsZero reports whether no bank detail is set.
func (b BankInfo) IsZero() bool {
	return b == BankInfo{}
}

// Partner is a site paid a fixed monthly fee, prorated by active days.
type Partner struct {
	ID            uint                         `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain        string                       `gorm:"uniqueIndex;not null;size:255" json:"domain"`
	Name          string                       `gorm:"not null;size:255" json:"name"`
	Email         string                       `gorm:"size:255" json:"email"`
	MonthlyAmount int64                        `gorm:"not null;default:0" json:"monthlyAmount"`
	PaymentCycle  string                       `gorm:"size:20;default:'monthly'" json:"paymentCycle"`
	StartDate     time.Time                    `gorm:"not null" json:"startDate"`
	StopDate      *time.Time                   `json:"stopDate,omitempty"`
	Status        Status                       `gorm:"size:20" json:"status"`
	BankInfo      datatypes.JSONType[BankInfo] `gorm:"type:text" json:"bankInfo"`
	Order         int                          `gorm:"column:display_order;not null;default:0" json:"order"`

	// Refreshed by the recalculation job for the current pay period.
	CurrentActiveDays int        `gorm:"not null;default:0" json:"currentActiveDays"`
	CurrentAmount     int64      `gorm:"not null;default:0" json:"currentAmount"`
	CalculatedAt      *time.Time `json:"calculatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Partner) TableName() string {
	return "partners"
}

// EffectiveStatus is the stored status, or one derived from the stop date when unset.
func (p *Partner) EffectiveStatus() Status {
	if p.Status != "" {
		return p.Status
	}
	if p.StopDate != nil {
		return StatusStopped
	}
	return StatusActive
}

// NormalizeDomain strips scheme, "www." and trailing slashes from a partner domain.
func NormalizeDomain(domain string) string {
	return referrers.Normalize(domain)
}

func (p *Partner) prepare() error {
	p.Domain = NormalizeDomain(p.Domain)
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)

	if p.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidPartner)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPartner)
	}
	if p.MonthlyAmount < 0 {
		return fmt.Errorf("%w: monthly amount cannot be negative", ErrInvalidPartner)
	}
	if p.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidPartner)
	}
	if p.StopDate != nil && p.StopDate.Before(p.StartDate) {
		return fmt.Errorf("%w: stop date is before start date", ErrInvalidPartner)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPartner, p.Status)
	}
	if p.PaymentCycle == "" {
		p.PaymentCycle = CycleMonthly
	}
	return nil
}

// Create validates and stores a new partner.
func Create(db *gorm.DB, partner *Partner) error {
	if err := partner.prepare(); err != nil {
		return err
	}
	if err := db.Create(partner).Error; err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

// Get loads a partner by id.
func Get(db *gorm.DB, id uint) (*Partner, error) {
	var partner Partner
	if err := db.First(&partner, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("failed to load partner %d: %w", id, err)
	}
	return &partner, nil
}

// List returns every partner in display order.
func List(db *gorm.DB) ([]Partner, error) {
	var list []Partner
	if err := db.Order("display_order ASC, id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	return list, nil
}

// Update validates and saves every field of an existing partner.
func Update(db *gorm.DB, partner *Partner) error {
	if partner.ID == 0 {
		return ErrPartnerNotFound
	}
	if err := partner.prepare(); err != nil {
		return err
	}

	result := db.Model(&Partner{}).Where("id = ?", partner.ID).Select(
		"domain", "name", "email", "monthly_amount", "payment_cycle", "start_date",
		"stop_date", "status", "bank_info", "display_order", "updated_at",
	).Updates(partner)
	if result.Error != nil {
		return fmt.Errorf("failed to update partner %d: %w", partner.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPartnerNotFound
	}
	return nil
}

// Delete deactivates a partner. Partners are never removed so past drafts
// keep their reference.
func Delete(db *gorm.DB, id uint) error {
	result := db.Model(&Partner{}).Where("id = ?", id).Updates(map[string]any{
		"status":     StatusInactive,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate partner %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPartnerNotFound
	}
	return nil
}
