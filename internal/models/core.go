// Package models holds value types shared by the analytics pipeline.
package models

import (
	"log/slog"
	"sort"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Counts is a views/clicks pair.
type Counts struct {
	Views  uint64 `json:"views"`
	Clicks uint64 `json:"clicks"`
}

// IsZero reports whether both counters are zero.
func (c Counts) IsZero() bool {
	return c.Views == 0 && c.Clicks == 0
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{Views: c.Views + o.Views, Clicks: c.Clicks + o.Clicks}
}

// DeltaFrom returns c - prev per field, clamped at zero.
func (c Counts) DeltaFrom(prev Counts) Counts {
	return Counts{
		Views:  clampedSub(c.Views, prev.Views),
		Clicks: clampedSub(c.Clicks, prev.Clicks),
	}
}

func clampedSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// SiteCounts maps a normalized domain to its counts.
type SiteCounts map[string]Counts

// Add accumulates c into the entry for domain.
func (s SiteCounts) Add(domain string, c Counts) {
	s[domain] = s[domain].Add(c)
}

// Merge accumulates every entry of o into s.
func (s SiteCounts) Merge(o SiteCounts) {
	for domain, c := range o {
		s.Add(domain, c)
	}
}

// Total sums all entries.
func (s SiteCounts) Total() Counts {
	var total Counts
	for _, c := range s {
		total = total.Add(c)
	}
	return total
}

// Domains returns the keys in sorted order.
func (s SiteCounts) Domains() []string {
	domains := make([]string, 0, len(s))
	for domain := range s {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// PerformWrite executes a write transaction with retry logic for SQLite busy errors.
// It delegates to cartridge's sqlite.PerformWrite and hands back the error
// returned by f unchanged, so callers can match sentinel errors with errors.Is.
func PerformWrite(logger *slog.Logger, dbConn *gorm.DB, f func(tx *gorm.DB) error) error {
	var inner error
	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		inner = f(tx)
		return inner
	})
	if inner != nil {
		return inner
	}
	return err
}
