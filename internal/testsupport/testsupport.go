// Package testsupport holds helpers shared by package tests: an in-memory
// database with every model migrated, fixed clocks and record fixtures.
package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"referly/internal/aggregates"
	"referly/internal/config"
	"referly/internal/database"
	"referly/internal/models"
	"referly/internal/partners"
	"referly/internal/snapshots"
	"referly/internal/timeframe"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with referly's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all referly models migrated.
// Uses a named in-memory database with cache=shared and a single connection,
// cached by root test name so subtests share it.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.NewReplacer("/", "_", " ", "_").Replace(rootName)
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Config returns a test configuration with every default filled in.
func Config() *config.Config {
	return &config.Config{
		AppName:                 "referly",
		AppPort:                 "3000",
		Environment:             config.Test,
		LogLevel:                config.LogLevelError,
		Timezone:                "UTC",
		DatabaseURL:             os.TempDir(),
		DatabaseName:            "referly_test",
		DailyRetentionDays:      90,
		WeeklyRetentionDays:     365,
		MonthlyRetentionDays:    1095,
		SnapshotRetentionDays:   90,
		RollingWindowHours:      24,
		PayPeriodStartDay:       21,
		SnapshotIntervalMinutes: 60,
		DailyAggregationAt:      "00:05",
		PartnerRecalculationAt:  "00:30",
		DraftGenerationAt:       "01:00",
		MailDriver:              config.MailDriverLog,
		MailFrom:                "billing@referly.test",
		InvoiceLocale:           "ja",
		InvoiceCurrencySym:      "¥",
		AdminAPIKey:             "test-admin-key",
	}
}

// MutableTimeProvider is a time provider tests can move forward.
type MutableTimeProvider struct {
	mu sync.Mutex
	at time.Time
}

// Now returns the current fake time in loc.
func (p *MutableTimeProvider) Now(loc *time.Location) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at.In(loc)
}

// Set moves the fake time to at.
func (p *MutableTimeProvider) Set(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at = at
}

// Advance moves the fake time forward by d.
func (p *MutableTimeProvider) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at = p.at.Add(d)
}

// NewClock returns a clock in at's location frozen at at, plus the provider
// that controls it.
func NewClock(at time.Time) (*timeframe.Clock, *MutableTimeProvider) {
	provider := &MutableTimeProvider{at: at}
	return timeframe.NewClock(at.Location(), provider), provider
}

// Date returns midnight UTC of a YYYY-MM-DD key.
func Date(t *testing.T, key string) time.Time {
	t.Helper()
	d, err := timeframe.ParseDate(key, time.UTC)
	require.NoError(t, err)
	return d
}

// SeedSnapshot stores a snapshot built from per-domain counts.
func SeedSnapshot(t *testing.T, db *gorm.DB, date string, sites models.SiteCounts) *snapshots.Snapshot {
	t.Helper()
	snap := snapshots.New(date, 0, sites)
	require.NoError(t, snapshots.Upsert(db, snap))
	return snap
}

// SeedDaily stores a daily record whose total is the sum of sites.
func SeedDaily(t *testing.T, db *gorm.DB, date string, sites models.SiteCounts) *aggregates.Daily {
	t.Helper()
	if sites == nil {
		sites = models.SiteCounts{}
	}
	daily := &aggregates.Daily{Date: date, Total: sites.Total(), Sites: datatypes.NewJSONType(sites)}
	require.NoError(t, db.Create(daily).Error)
	return daily
}

// SeedActiveDays stores one daily record per key with a single view for domain.
func SeedActiveDays(t *testing.T, db *gorm.DB, domain string, dates ...string) {
	t.Helper()
	for _, date := range dates {
		SeedDaily(t, db, date, models.SiteCounts{domain: {Views: 1}})
	}
}

// CreatePartner stores a partner with sensible defaults for unset fields.
func CreatePartner(t *testing.T, db *gorm.DB, p partners.Partner) *partners.Partner {
	t.Helper()
	if p.Name == "" {
		p.Name = p.Domain
	}
	if p.PaymentCycle == "" {
		p.PaymentCycle = partners.CycleMonthly
	}
	if p.StartDate.IsZero() {
		p.StartDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	require.NoError(t, partners.Create(db, &p))
	return &p
}
