// Package analytics answers read-only queries over the daily delta series.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"

	"referly/internal/aggregates"
	"referly/internal/models"
	"referly/internal/pkg/referrers"
	"referly/internal/timeframe"
)

// AllSites selects the sum over every domain.
const AllSites = "all"

// DataPoint is the traffic of one calendar day.
type DataPoint struct {
	Date   string `json:"date"`
	Views  uint64 `json:"views"`
	Clicks uint64 `json:"clicks"`
}

// PeriodInfo describes the resolved pay period of a query.
type PeriodInfo struct {
	Kind      string `json:"kind"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Label     string `json:"label"`
	TotalDays int    `json:"totalDays"`
}

func newPeriodInfo(kind string, p timeframe.PayPeriod) PeriodInfo {
	if kind == "" {
		kind = timeframe.PeriodCurrent
	}
	return PeriodInfo{
		Kind:      kind,
		Start:     p.StartKey(),
		End:       p.EndKey(),
		Label:     p.Label(),
		TotalDays: p.TotalDays(),
	}
}

// Summary compares a period with the one before it and today with yesterday.
type Summary struct {
	Period         PeriodInfo    `json:"period"`
	Totals         models.Counts `json:"totals"`
	PreviousTotals models.Counts `json:"previousTotals"`
	Today          models.Counts `json:"today"`
	Yesterday      models.Counts `json:"yesterday"`
	Change         Change        `json:"change"`
	DailyChange    Change        `json:"dailyChange"`
}

// Service reads the aggregate tables.
type Service struct {
	db       *gorm.DB
	logger   *slog.Logger
	clock    *timeframe.Clock
	startDay int
}

// NewService creates a query service using startDay as the pay-period boundary.
func NewService(db *gorm.DB, logger *slog.Logger, clock *timeframe.Clock, startDay int) *Service {
	if startDay <= 0 {
		startDay = timeframe.DefaultPayPeriodStartDay
	}
	return &Service{db: db, logger: logger, clock: clock, startDay: startDay}
}

// ResolvePeriod turns a period name into concrete dates relative to now.
func (s *Service) ResolvePeriod(kind string) (timeframe.PayPeriod, error) {
	return timeframe.ResolvePeriod(kind, s.clock.Now(), s.startDay)
}

// GetPeriod returns one data point per day of the named period, zero-filled,
// for one site or summed over all sites.
func (s *Service) GetPeriod(ctx context.Context, kind, site string) ([]DataPoint, PeriodInfo, error) {
	period, err := s.ResolvePeriod(kind)
	if err != nil {
		return nil, PeriodInfo{}, err
	}

	records, err := aggregates.DailyRange(s.db.WithContext(ctx), period.StartKey(), period.EndKey())
	if err != nil {
		return nil, PeriodInfo{}, err
	}
	byDate := make(map[string]*aggregates.Daily, len(records))
	for i := range records {
		byDate[records[i].Date] = &records[i]
	}

	site = normalizeSite(site)
	days := timeframe.EachDay(period.Start, period.End)
	points := make([]DataPoint, 0, len(days))
	for _, day := range days {
		key := timeframe.DateKey(day)
		point := DataPoint{Date: key}
		if record, ok := byDate[key]; ok {
			c := countsFor(record, site)
			point.Views, point.Clicks = c.Views, c.Clicks
		}
		points = append(points, point)
	}

	return points, newPeriodInfo(kind, period), nil
}

// GetSites returns the domains of the most recent daily record, sorted.
func (s *Service) GetSites(ctx context.Context) ([]string, error) {
	latest, err := aggregates.LatestDaily(s.db.WithContext(ctx))
	if errors.Is(err, aggregates.ErrDayNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return latest.SiteCounts().Domains(), nil
}

// GetSummary totals the named period and the one before it, plus today and
// yesterday, with percentage changes between each pair.
func (s *Service) GetSummary(ctx context.Context, kind string) (*Summary, error) {
	period, err := s.ResolvePeriod(kind)
	if err != nil {
		return nil, err
	}
	previous := period.Previous()

	db := s.db.WithContext(ctx)
	records, err := aggregates.DailyRange(db, previous.StartKey(), period.EndKey())
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	todayKey := timeframe.DateKey(today)
	yesterdayKey := timeframe.DateKey(today.AddDate(0, 0, -1))

	summary := &Summary{Period: newPeriodInfo(kind, period)}
	for i := range records {
		r := &records[i]
		if r.Date >= period.StartKey() {
			summary.Totals = summary.Totals.Add(r.Total)
		} else {
			summary.PreviousTotals = summary.PreviousTotals.Add(r.Total)
		}
	}

	// Today and yesterday may fall outside the requested period.
	for key, dst := range map[string]*models.Counts{todayKey: &summary.Today, yesterdayKey: &summary.Yesterday} {
		record, err := aggregates.GetDaily(db, key)
		if errors.Is(err, aggregates.ErrDayNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		*dst = record.Total
	}

	summary.Change = CalculateChange(ComparisonData{
		CurrentViews:   summary.Totals.Views,
		PreviousViews:  summary.PreviousTotals.Views,
		CurrentClicks:  summary.Totals.Clicks,
		PreviousClicks: summary.PreviousTotals.Clicks,
	})
	summary.DailyChange = CalculateChange(ComparisonData{
		CurrentViews:   summary.Today.Views,
		PreviousViews:  summary.Yesterday.Views,
		CurrentClicks:  summary.Today.Clicks,
		PreviousClicks: summary.Yesterday.Clicks,
	})

	return summary, nil
}

// RollupPoint is one weekly or monthly record.
type RollupPoint struct {
	Start string            `json:"start"`
	Days  int               `json:"days"`
	Total models.Counts     `json:"total"`
	Sites models.SiteCounts `json:"sites"`
}

// GetWeekly returns weekly rollups for weeks starting within [from, to].
func (s *Service) GetWeekly(ctx context.Context, from, to time.Time) ([]RollupPoint, error) {
	from, to = timeframe.WeekStart(from), timeframe.WeekStart(to)
	records, err := aggregates.WeeklyRange(s.db.WithContext(ctx), timeframe.DateKey(from), timeframe.DateKey(to))
	if err != nil {
		return nil, err
	}
	points := make([]RollupPoint, 0, len(records))
	for i := range records {
		r := &records[i]
		points = append(points, RollupPoint{Start: r.WeekStart, Days: r.Days, Total: r.Total, Sites: r.SiteCounts()})
	}
	return points, nil
}

// GetMonthly returns monthly rollups for months starting within [from, to].
func (s *Service) GetMonthly(ctx context.Context, from, to time.Time) ([]RollupPoint, error) {
	from, to = timeframe.MonthStart(from), timeframe.MonthStart(to)
	records, err := aggregates.MonthlyRange(s.db.WithContext(ctx), timeframe.DateKey(from), timeframe.DateKey(to))
	if err != nil {
		return nil, err
	}
	points := make([]RollupPoint, 0, len(records))
	for i := range records {
		r := &records[i]
		points = append(points, RollupPoint{Start: r.MonthStart, Days: r.Days, Total: r.Total, Sites: r.SiteCounts()})
	}
	return points, nil
}

// SiteTotals sums each domain over the named period, largest first.
func (s *Service) SiteTotals(ctx context.Context, kind string) ([]SiteTotal, error) {
	period, err := s.ResolvePeriod(kind)
	if err != nil {
		return nil, err
	}
	records, err := aggregates.DailyRange(s.db.WithContext(ctx), period.StartKey(), period.EndKey())
	if err != nil {
		return nil, fmt.Errorf("failed to load period %s: %w", period.Label(), err)
	}

	sites := models.SiteCounts{}
	for i := range records {
		sites.Merge(records[i].SiteCounts())
	}

	totals := make([]SiteTotal, 0, len(sites))
	for _, domain := range sites.Domains() {
		totals = append(totals, SiteTotal{Domain: domain, Counts: sites[domain]})
	}
	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].Views > totals[j].Views
	})
	return totals, nil
}

// SiteTotal is the traffic of one domain over a period.
type SiteTotal struct {
	Domain string `json:"domain"`
	models.Counts
}

func normalizeSite(site string) string {
	if site == "" || site == AllSites {
		return AllSites
	}
	return referrers.Normalize(site)
}

func countsFor(record *aggregates.Daily, site string) models.Counts {
	if site == AllSites {
		return record.Total
	}
	return record.SiteCounts()[site]
}
