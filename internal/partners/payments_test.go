package partners_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referly/internal/models"
	"referly/internal/partners"
	"referly/internal/testsupport"
	"referly/internal/timeframe"
)

// January 2025 pay period: 2024-12-21 .. 2025-01-20, 31 days.
var (
	periodStart = time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
)

func setupCalculator(t *testing.T) *partners.Calculator {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	clock, _ := testsupport.NewClock(time.Date(2025, 1, 25, 9, 0, 0, 0, time.UTC))
	return partners.NewCalculator(db, testsupport.GetLogger(), clock, 21)
}

func datesFrom(start time.Time, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = timeframe.DateKey(start.AddDate(0, 0, i))
	}
	return keys
}

func intPtr(v int) *int {
	return &v
}

func TestProrate(t *testing.T) {
	tests := []struct {
		name      string
		monthly   int64
		active    int
		total     int
		wantRate  int64
		wantTotal int64
	}{
		{"worked example", 10000, 28, 31, 323, 9044},
		{"full period pays the monthly amount", 10000, 31, 31, 323, 10000},
		{"no active days pays nothing", 10000, 0, 31, 323, 0},
		{"rate rounds to a whole unit", 1000, 2, 3, 333, 666},
		{"rate .5 rounds up", 15, 1, 2, 8, 8},
		{"zero total days", 10000, 0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, amount := partners.Prorate(tt.monthly, tt.active, tt.total)
			assert.Equal(t, tt.wantRate, rate)
			assert.Equal(t, tt.wantTotal, amount)
		})
	}
}

func TestCalculatePaymentWorkedExample(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	partner := testsupport.CreatePartner(t, db, partners.Partner{Domain: "blog.example", MonthlyAmount: 10000})
	testsupport.SeedActiveDays(t, db, "blog.example", datesFrom(periodStart, 28)...)
	testsupport.SeedActiveDays(t, db, "other.example", datesFrom(periodStart.AddDate(0, 0, 28), 3)...)

	payment, err := calc.CalculatePayment(ctx, partner, periodStart, periodEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, 31, payment.TotalDays)
	assert.Equal(t, 28, payment.DaysActive)
	assert.Equal(t, 3, payment.InactiveDays)
	assert.Equal(t, int64(323), payment.DailyRate)
	assert.Equal(t, int64(9044), payment.Amount)
	assert.Equal(t, partners.PaymentPartial, payment.Status)
	assert.True(t, payment.HasData())
}

func TestCalculatePaymentFullAndEmptyPeriods(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	full := testsupport.CreatePartner(t, db, partners.Partner{Domain: "full.example", MonthlyAmount: 10000})
	idle := testsupport.CreatePartner(t, db, partners.Partner{Domain: "idle.example", MonthlyAmount: 10000})
	testsupport.SeedActiveDays(t, db, "full.example", datesFrom(periodStart, 31)...)

	payment, err := calc.CalculatePayment(ctx, full, periodStart, periodEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, 31, payment.DaysActive)
	assert.Equal(t, int64(10000), payment.Amount)
	assert.Equal(t, partners.PaymentActive, payment.Status)

	payment, err = calc.CalculatePayment(ctx, idle, periodStart, periodEnd, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, payment.DaysActive)
	assert.Equal(t, int64(0), payment.Amount)
	assert.Equal(t, partners.PaymentPartial, payment.Status)
}

func TestCalculatePaymentStatusRules(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	stopBefore := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	stopWithin := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	for _, date := range datesFrom(periodStart, 31) {
		testsupport.SeedDaily(t, db, date, models.SiteCounts{
			"stops.example": {Views: 3},
			"late.example":  {Clicks: 1},
		})
	}

	tests := []struct {
		name       string
		partner    partners.Partner
		wantStatus partners.PaymentStatus
		wantDays   int
		wantAmount int64
	}{
		{
			name:       "explicitly stopped is terminal",
			partner:    partners.Partner{Domain: "s1.example", Status: partners.StatusStopped},
			wantStatus: partners.PaymentStopped,
		},
		{
			name:       "inactive",
			partner:    partners.Partner{Domain: "s2.example", Status: partners.StatusInactive},
			wantStatus: partners.PaymentInactive,
		},
		{
			name:       "pending",
			partner:    partners.Partner{Domain: "s3.example", Status: partners.StatusPending},
			wantStatus: partners.PaymentPending,
		},
		{
			name:       "stop date without status derives stopped",
			partner:    partners.Partner{Domain: "s4.example", StopDate: &stopWithin},
			wantStatus: partners.PaymentStopped,
		},
		{
			name:       "starts after the period",
			partner:    partners.Partner{Domain: "s5.example", Status: partners.StatusActive, StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
			wantStatus: partners.PaymentNotStarted,
		},
		{
			name:       "stopped before the period",
			partner:    partners.Partner{Domain: "s6.example", Status: partners.StatusActive, StopDate: &stopBefore, StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			wantStatus: partners.PaymentStopped,
		},
		{
			name:       "stop within the period prorates and downgrades",
			partner:    partners.Partner{Domain: "stops.example", Status: partners.StatusActive, StopDate: &stopWithin},
			wantStatus: partners.PaymentStopped,
			wantDays:   16,
			wantAmount: 323 * 16,
		},
		{
			name:       "start within the period counts from the start date",
			partner:    partners.Partner{Domain: "late.example", StartDate: time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)},
			wantStatus: partners.PaymentPartial,
			wantDays:   10,
			wantAmount: 3230,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.partner
			p.MonthlyAmount = 10000
			partner := testsupport.CreatePartner(t, db, p)

			payment, err := calc.CalculatePayment(ctx, partner, periodStart, periodEnd, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, payment.Status)
			assert.Equal(t, tt.wantDays, payment.DaysActive)
			assert.Equal(t, tt.wantAmount, payment.Amount)
		})
	}
}

func TestCalculatePaymentOverride(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	partner := testsupport.CreatePartner(t, db, partners.Partner{Domain: "o.example", MonthlyAmount: 10000})

	payment, err := calc.CalculatePayment(ctx, partner, periodStart, periodEnd, intPtr(3))
	require.NoError(t, err)
	assert.Equal(t, 28, payment.DaysActive)
	assert.Equal(t, int64(9044), payment.Amount)

	payment, err = calc.CalculatePayment(ctx, partner, periodStart, periodEnd, intPtr(0))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), payment.Amount)

	_, err = calc.CalculatePayment(ctx, partner, periodStart, periodEnd, intPtr(32))
	assert.ErrorIs(t, err, partners.ErrInvalidOverride)
	_, err = calc.CalculatePayment(ctx, partner, periodStart, periodEnd, intPtr(-1))
	assert.ErrorIs(t, err, partners.ErrInvalidOverride)
}

func TestCalculateAllAndRecalculate(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	a := testsupport.CreatePartner(t, db, partners.Partner{Domain: "a.example", MonthlyAmount: 10000, Order: 1})
	testsupport.CreatePartner(t, db, partners.Partner{Domain: "b.example", MonthlyAmount: 3100, Order: 2})
	testsupport.CreatePartner(t, db, partners.Partner{Domain: "c.example", MonthlyAmount: 5000, Status: partners.StatusPending, Order: 3})
	testsupport.SeedActiveDays(t, db, "a.example", datesFrom(periodStart, 28)...)
	testsupport.SeedActiveDays(t, db, "b.example", datesFrom(periodStart.AddDate(0, 0, 28), 3)...)

	period := timeframe.PayPeriod{Start: periodStart, End: periodEnd}
	report, err := calc.CalculateAll(ctx, period)
	require.NoError(t, err)
	require.Len(t, report.Payments, 3)
	assert.Equal(t, "a.example", report.Payments[0].Domain)
	assert.Equal(t, int64(9044), report.Payments[0].Amount)
	assert.Equal(t, int64(300), report.Payments[1].Amount)
	assert.Equal(t, int64(0), report.Payments[2].Amount)
	assert.Equal(t, int64(9344), report.GrandTotal)
	assert.Empty(t, report.Failed)

	_, err = calc.Recalculate(ctx, period)
	require.NoError(t, err)
	stored, err := partners.Get(db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 28, stored.CurrentActiveDays)
	assert.Equal(t, int64(9044), stored.CurrentAmount)
	assert.NotNil(t, stored.CalculatedAt)
}

func TestPublicSummaryHidesInactivePartners(t *testing.T) {
	calc := setupCalculator(t)
	db := testsupport.SetupTestDB(t)
	ctx := context.Background()

	testsupport.CreatePartner(t, db, partners.Partner{Domain: "live.example", MonthlyAmount: 10000, Order: 1})
	testsupport.CreatePartner(t, db, partners.Partner{Domain: "gone.example", MonthlyAmount: 10000, Status: partners.StatusInactive, Order: 2})
	testsupport.SeedActiveDays(t, db, "live.example", datesFrom(periodStart, 5)...)

	summary, err := calc.PublicSummary(ctx, timeframe.PayPeriod{Start: periodStart, End: periodEnd})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count)
	assert.Equal(t, "live.example", summary.Partners[0].Domain)
	assert.Equal(t, 5, summary.Partners[0].DaysActive)
}
