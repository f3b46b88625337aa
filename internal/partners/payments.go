package partners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"referly/internal/aggregates"
	"referly/internal/models"
	"referly/internal/pkg/async"
	"referly/internal/timeframe"
)

// ErrInvalidOverride is returned for an inactive-day override outside [0, totalDays].
var ErrInvalidOverride = errors.New("invalid inactive days override")

// PaymentStatus describes how a payment for one period came about.
type PaymentStatus string

const (
	PaymentActive     PaymentStatus = "active"
	PaymentPartial    PaymentStatus = "partial"
	PaymentStopped    PaymentStatus = "stopped"
	PaymentInactive   PaymentStatus = "inactive"
	PaymentPending    PaymentStatus = "pending"
	PaymentNotStarted PaymentStatus = "not_started"
)

// Payment is the prorated amount owed to one partner for one period.
type Payment struct {
	PartnerID    uint          `json:"partnerId"`
	Domain       string        `json:"domain"`
	Name         string        `json:"name"`
	PeriodStart  string        `json:"periodStart"`
	PeriodEnd    string        `json:"periodEnd"`
	Amount       int64         `json:"amount"`
	DaysActive   int           `json:"daysActive"`
	InactiveDays int           `json:"inactiveDays"`
	TotalDays    int           `json:"totalDays"`
	DailyRate    int64         `json:"dailyRate"`
	Status       PaymentStatus `json:"status"`
}

// HasData reports whether the payment is worth sending: some active day, or a
// status that implies the partner was live during the period.
func (p *Payment) HasData() bool {
	return p.DaysActive > 0 || p.Status == PaymentActive || p.Status == PaymentPartial
}

// Report lists the payments of every partner for one period.
type Report struct {
	Period     timeframe.PayPeriod `json:"-"`
	Start      string              `json:"periodStart"`
	End        string              `json:"periodEnd"`
	Payments   []Payment           `json:"payments"`
	GrandTotal int64               `json:"grandTotal"`
	Failed     map[string]string   `json:"failed,omitempty"`
}

// Calculator computes partner payments from the daily delta series.
type Calculator struct {
	db       *gorm.DB
	logger   *slog.Logger
	clock    *timeframe.Clock
	startDay int
	workers  int
}

// NewCalculator creates a payment calculator using startDay as the pay-period boundary.
func NewCalculator(db *gorm.DB, logger *slog.Logger, clock *timeframe.Clock, startDay int) *Calculator {
	if startDay <= 0 {
		startDay = timeframe.DefaultPayPeriodStartDay
	}
	return &Calculator{db: db, logger: logger, clock: clock, startDay: startDay, workers: 4}
}

// ResolvePeriod turns a period name into concrete dates relative to now.
func (c *Calculator) ResolvePeriod(kind string) (timeframe.PayPeriod, error) {
	return timeframe.ResolvePeriod(kind, c.clock.Now(), c.startDay)
}

// Location returns the business timezone pay periods are resolved in.
func (c *Calculator) Location() *time.Location {
	return c.clock.Location()
}

// CountActiveDays counts the days in [start, end] whose daily record has
// traffic for domain.
func CountActiveDays(db *gorm.DB, domain string, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, nil
	}
	domain = NormalizeDomain(domain)
	records, err := aggregates.DailyRange(db, timeframe.DateKey(start), timeframe.DateKey(end))
	if err != nil {
		return 0, err
	}

	active := 0
	for i := range records {
		if c, ok := records[i].SiteCounts()[domain]; ok && !c.IsZero() {
			active++
		}
	}
	return active, nil
}

// Prorate returns the daily rate and the amount for daysActive out of totalDays.
// The daily rate is rounded half-up to a whole currency unit and the amount is
// rate times days, except that a full period pays exactly monthlyAmount.
func Prorate(monthlyAmount int64, daysActive, totalDays int) (dailyRate, amount int64) {
	if totalDays <= 0 {
		return 0, 0
	}
	rate := decimal.NewFromInt(monthlyAmount).Div(decimal.NewFromInt(int64(totalDays))).Round(0)
	dailyRate = rate.IntPart()

	switch {
	case daysActive <= 0:
		return dailyRate, 0
	case daysActive >= totalDays:
		return dailyRate, monthlyAmount
	}
	return dailyRate, rate.Mul(decimal.NewFromInt(int64(daysActive))).Round(0).IntPart()
}

// CalculatePayment computes what partner is owed for [periodStart, periodEnd].
// overrideInactiveDays, when set, replaces the measured activity with
// totalDays - override active days.
func (c *Calculator) CalculatePayment(ctx context.Context, partner *Partner, periodStart, periodEnd time.Time, overrideInactiveDays *int) (*Payment, error) {
	periodStart = timeframe.StartOfDay(periodStart)
	periodEnd = timeframe.StartOfDay(periodEnd)
	totalDays := timeframe.DaysInclusive(periodStart, periodEnd)

	payment := &Payment{
		PartnerID:    partner.ID,
		Domain:       partner.Domain,
		Name:         partner.Name,
		PeriodStart:  timeframe.DateKey(periodStart),
		PeriodEnd:    timeframe.DateKey(periodEnd),
		TotalDays:    totalDays,
		InactiveDays: totalDays,
	}

	status := partner.EffectiveStatus()
	switch status {
	case StatusStopped, StatusInactive, StatusPending:
		payment.Status = PaymentStatus(status)
		return payment, nil
	}

	startKey := timeframe.DateKey(partner.StartDate)
	if startKey > payment.PeriodEnd {
		payment.Status = PaymentNotStarted
		return payment, nil
	}
	if partner.StopDate != nil && timeframe.DateKey(*partner.StopDate) < payment.PeriodStart {
		payment.Status = PaymentStopped
		return payment, nil
	}

	effectiveStart := periodStart
	if startKey > payment.PeriodStart {
		effectiveStart = dateIn(partner.StartDate, periodStart.Location())
	}
	effectiveEnd := periodEnd
	if partner.StopDate != nil && timeframe.DateKey(*partner.StopDate) < payment.PeriodEnd {
		effectiveEnd = dateIn(*partner.StopDate, periodEnd.Location())
	}

	var daysActive int
	if overrideInactiveDays != nil {
		if *overrideInactiveDays < 0 || *overrideInactiveDays > totalDays {
			return nil, fmt.Errorf("%w: %d not within 0..%d", ErrInvalidOverride, *overrideInactiveDays, totalDays)
		}
		daysActive = totalDays - *overrideInactiveDays
	} else {
		var err error
		daysActive, err = CountActiveDays(c.db.WithContext(ctx), partner.Domain, effectiveStart, effectiveEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to count active days for %s: %w", partner.Domain, err)
		}
	}

	payment.DaysActive = daysActive
	payment.InactiveDays = totalDays - daysActive
	payment.DailyRate, payment.Amount = Prorate(partner.MonthlyAmount, daysActive, totalDays)

	payment.Status = PaymentActive
	if daysActive < totalDays {
		payment.Status = PaymentPartial
	}
	if partner.StopDate != nil && timeframe.DateKey(*partner.StopDate) <= payment.PeriodEnd {
		payment.Status = PaymentStopped
	}

	return payment, nil
}

// dateIn re-anchors the calendar date of t to midnight in loc.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CalculateAll computes the payment of every partner for period. Partners
// whose calculation fails are listed in Report.Failed and left out of the total.
func (c *Calculator) CalculateAll(ctx context.Context, period timeframe.PayPeriod) (*Report, error) {
	list, err := List(c.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	tasks := make([]async.Task[*Payment], len(list))
	for i := range list {
		partner := &list[i]
		tasks[i] = async.Task[*Payment]{
			Name: strconv.FormatUint(uint64(partner.ID), 10),
			Execute: func(ctx context.Context) (*Payment, error) {
				return c.CalculatePayment(ctx, partner, period.Start, period.End, nil)
			},
		}
	}
	results := async.NewPool[*Payment](c.workers).Execute(ctx, tasks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Period:   period,
		Start:    period.StartKey(),
		End:      period.EndKey(),
		Payments: make([]Payment, 0, len(list)),
	}
	for _, task := range tasks {
		result, ok := results[task.Name]
		if !ok {
			continue
		}
		if result.Err != nil {
			if report.Failed == nil {
				report.Failed = map[string]string{}
			}
			report.Failed[task.Name] = result.Err.Error()
			c.logger.Error("Failed to calculate partner payment",
				slog.String("partner_id", task.Name),
				slog.Any("error", result.Err))
			continue
		}
		report.Payments = append(report.Payments, *result.Data)
		report.GrandTotal += result.Data.Amount
	}

	return report, nil
}

// Recalculate computes the payments of the current pay period and caches the
// active days and amount on each partner.
func (c *Calculator) Recalculate(ctx context.Context, period timeframe.PayPeriod) (*Report, error) {
	report, err := c.CalculateAll(ctx, period)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = models.PerformWrite(c.logger, c.db.WithContext(ctx), func(tx *gorm.DB) error {
		for _, p := range report.Payments {
			if err := tx.Model(&Partner{}).Where("id = ?", p.PartnerID).Updates(map[string]any{
				"current_active_days": p.DaysActive,
				"current_amount":      p.Amount,
				"calculated_at":       now,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store recalculated payments: %w", err)
	}

	c.logger.Info("Recalculated partner payments",
		slog.String("period", period.Label()),
		slog.Int("partners", len(report.Payments)),
		slog.Int64("grand_total", report.GrandTotal))
	return report, nil
}

// PublicPartner is the unauthenticated view of an active partner.
type PublicPartner struct {
	Domain     string        `json:"domain"`
	Name       string        `json:"name"`
	DaysActive int           `json:"daysActive"`
	TotalDays  int           `json:"totalDays"`
	Status     PaymentStatus `json:"status"`
}

// PublicReport lists active partners without amounts or bank details.
type PublicReport struct {
	Start    string          `json:"periodStart"`
	End      string          `json:"periodEnd"`
	Partners []PublicPartner `json:"partners"`
	Count    int             `json:"count"`
}

// PublicSummary reports the activity of partners whose status is active.
func (c *Calculator) PublicSummary(ctx context.Context, period timeframe.PayPeriod) (*PublicReport, error) {
	list, err := List(c.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	summary := &PublicReport{Start: period.StartKey(), End: period.EndKey(), Partners: []PublicPartner{}}
	for i := range list {
		partner := &list[i]
		if partner.EffectiveStatus() != StatusActive {
			continue
		}
		payment, err := c.CalculatePayment(ctx, partner, period.Start, period.End, nil)
		if err != nil {
			return nil, err
		}
		if payment.Status != PaymentActive && payment.Status != PaymentPartial {
			continue
		}
		summary.Partners = append(summary.Partners, PublicPartner{
			Domain:     partner.Domain,
			Name:       partner.Name,
			DaysActive: payment.DaysActive,
			TotalDays:  payment.TotalDays,
			Status:     payment.Status,
		})
	}
	summary.Count = len(summary.Partners)
	return summary, nil
}
