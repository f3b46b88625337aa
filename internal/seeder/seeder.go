// Package seeder fills a database with a plausible history of popup traffic
// and partners, for demos and local development.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"referly/internal/models"
	"referly/internal/partners"
	"referly/internal/pipeline"
	"referly/internal/snapshots"
	"referly/internal/timeframe"
)

// DefaultSites are the referring domains the seeder invents traffic for.
var DefaultSites = []string{
	"blog.example",
	"news.example",
	"reviews.example",
	"tech.example",
	"deals.example",
}

var popupNames = []string{"Spring sale", "Newsletter", "Free shipping"}

// Seeder handles the data seeding process.
type Seeder struct {
	DB       *gorm.DB
	Services *pipeline.Services
	Logger   *slog.Logger
	Days     int
	Sites    []string

	seed uint64
}

// NewSeeder creates a seeder producing days of history. The same seed always
// produces the same history.
func NewSeeder(db *gorm.DB, services *pipeline.Services, logger *slog.Logger, days int, seed uint64) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DB:       db,
		Services: services,
		Logger:   logger,
		Days:     days,
		Sites:    DefaultSites,
		seed:     seed,
	}
}

// stream returns the random source of one seeding phase, so skipping a phase
// never shifts the values another phase draws.
func (s *Seeder) stream(phase uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, phase))
}

// Run seeds popups, partners and the traffic history.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding database...", slog.Int("days", s.Days), slog.Int("sites", len(s.Sites)))

	if err := s.seedPopups(ctx); err != nil {
		return fmt.Errorf("failed to seed popups: %w", err)
	}
	if err := s.seedPartners(); err != nil {
		return fmt.Errorf("failed to seed partners: %w", err)
	}
	if err := s.seedHistory(ctx); err != nil {
		return fmt.Errorf("failed to seed history: %w", err)
	}

	s.Logger.Info("Seeding completed", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// seedPopups creates the demo popups and records some live traffic on them.
func (s *Seeder) seedPopups(ctx context.Context) error {
	store := s.Services.Counters
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		s.Logger.Info("Popups already present, skipping", slog.Int("count", len(existing)))
		return nil
	}

	rng := s.stream(1)
	for _, name := range popupNames {
		popup, err := store.Create(ctx, name)
		if err != nil {
			return err
		}
		for _, site := range s.Sites {
			views := rng.IntN(20)
			for i := 0; i < views; i++ {
				if err := store.IncrementView(ctx, int(popup.ID), site); err != nil {
					return err
				}
				if rng.Float64() < 0.1 {
					if err := store.IncrementClick(ctx, int(popup.ID), site); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// seedPartners registers every site as a partner unless its domain exists.
func (s *Seeder) seedPartners() error {
	rng := s.stream(2)
	startDate := s.Services.Clock.Today().AddDate(0, 0, -s.Days)
	for i, site := range s.Sites {
		var count int64
		if err := s.DB.Model(&partners.Partner{}).Where("domain = ?", site).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		partner := &partners.Partner{
			Domain:        site,
			Name:          fmt.Sprintf("Partner %d", i+1),
			Email:         "billing@" + site,
			MonthlyAmount: int64(10000 * (1 + rng.IntN(5))),
			StartDate:     startDate,
			Status:        partners.StatusActive,
			Order:         i,
			BankInfo: datatypes.NewJSONType(partners.BankInfo{
				BankName:      "Example Bank",
				BranchName:    "Main",
				AccountType:   "ordinary",
				AccountNumber: fmt.Sprintf("%07d", rng.IntN(10_000_000)),
				AccountHolder: fmt.Sprintf("Partner %d", i+1),
			}),
		}
		// The last site stays pending so the payment report lists an unpaid partner.
		if i == len(s.Sites)-1 {
			partner.Status = partners.StatusPending
		}
		if err := partners.Create(s.DB, partner); err != nil {
			if errors.Is(err, partners.ErrInvalidPartner) {
				return err
			}
			s.Logger.Warn("Failed to create partner", slog.String("domain", site), slog.Any("error", err))
		}
	}
	return nil
}

// seedHistory imports one cumulative snapshot per day up to yesterday. Each
// site gets a base volume with weekly seasonality and occasional idle days.
func (s *Seeder) seedHistory(ctx context.Context) error {
	rng := s.stream(3)
	today := s.Services.Clock.Today()
	base := make(map[string]int, len(s.Sites))
	for _, site := range s.Sites {
		base[site] = 20 + rng.IntN(200)
	}

	running := models.SiteCounts{}
	snaps := make([]*snapshots.Snapshot, 0, s.Days)
	for i := s.Days; i >= 1; i-- {
		day := today.AddDate(0, 0, -i)
		for _, site := range s.Sites {
			if rng.Float64() < 0.08 {
				continue
			}
			views := base[site]
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				views = views * 6 / 10
			}
			views += rng.IntN(views/4 + 1)
			clicks := views * (2 + rng.IntN(6)) / 100
			running.Add(site, models.Counts{Views: uint64(views), Clicks: uint64(clicks)})
		}

		sites := make(models.SiteCounts, len(running))
		sites.Merge(running)
		snaps = append(snaps, snapshots.New(timeframe.DateKey(day), day.Add(23*time.Hour).UnixMilli(), sites))
	}

	imported, skipped, err := s.Services.Aggregator.Import(ctx, snaps)
	if err != nil {
		return err
	}
	s.Logger.Info("Imported traffic history",
		slog.Int("imported", imported),
		slog.Int("skipped", skipped))
	return nil
}
