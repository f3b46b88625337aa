// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Mail drivers
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	AdminAPIKey string   `mapstructure:"adminapikey"`
	Timezone    string   `mapstructure:"timezone"`

	// Database settings
	DatabaseURL          string `mapstructure:"databaseurl"`
	DatabaseName         string `mapstructure:"databasename"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Retention windows in days
	DailyRetentionDays    int `mapstructure:"dailyretentiondays"`
	WeeklyRetentionDays   int `mapstructure:"weeklyretentiondays"`
	MonthlyRetentionDays  int `mapstructure:"monthlyretentiondays"`
	SnapshotRetentionDays int `mapstructure:"snapshotretentiondays"`

	// Counters
	RollingWindowHours int `mapstructure:"rollingwindowhours"`

	// Pay periods run from this day of one month through the day before it in the next.
	PayPeriodStartDay int `mapstructure:"payperiodstartday"`

	// Job scheduling settings
	SnapshotIntervalMinutes int    `mapstructure:"snapshotintervalminutes"`
	DailyAggregationAt      string `mapstructure:"dailyaggregationat"`
	PartnerRecalculationAt  string `mapstructure:"partnerrecalculationat"`
	DraftGenerationAt       string `mapstructure:"draftgenerationat"`
	JobsEnabled             bool   `mapstructure:"jobsenabled"`

	// Mail settings
	MailDriver         string `mapstructure:"maildriver"`
	MailFrom           string `mapstructure:"mailfrom"`
	SMTPHost           string `mapstructure:"smtphost"`
	SMTPPort           int    `mapstructure:"smtpport"`
	SMTPUsername       string `mapstructure:"smtpusername"`
	SMTPPassword       string `mapstructure:"smtppassword"`
	BatchSendDelayMs   int    `mapstructure:"batchsenddelayms"`
	InvoiceLocale      string `mapstructure:"invoicelocale"`
	InvoiceCurrencySym string `mapstructure:"invoicecurrencysymbol"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("appname", "referly")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("privatekey", "88888888888888888888888888888888")
	v.SetDefault("timezone", "Asia/Tokyo")
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("publicdir", "public")
	v.SetDefault("publicassetsurlprefix", "/")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dailyretentiondays", 90)
	v.SetDefault("weeklyretentiondays", 365)
	v.SetDefault("monthlyretentiondays", 3*365)
	v.SetDefault("snapshotretentiondays", 90)
	v.SetDefault("rollingwindowhours", 24)
	v.SetDefault("payperiodstartday", 21)
	v.SetDefault("snapshotintervalminutes", 60)
	v.SetDefault("dailyaggregationat", "00:05")
	v.SetDefault("partnerrecalculationat", "00:30")
	v.SetDefault("draftgenerationat", "01:00")
	v.SetDefault("jobsenabled", true)
	v.SetDefault("maildriver", MailDriverLog)
	v.SetDefault("mailfrom", "billing@referly.local")
	v.SetDefault("smtpport", 587)
	v.SetDefault("batchsenddelayms", 500)
	v.SetDefault("invoicelocale", "ja")
	v.SetDefault("invoicecurrencysymbol", "¥")

	v.BindEnv("appname", "REFERLY_APP_NAME")
	v.BindEnv("appport", "REFERLY_APP_PORT")
	v.BindEnv("environment", "REFERLY_ENV")
	v.BindEnv("loglevel", "REFERLY_LOG_LEVEL")
	v.BindEnv("privatekey", "REFERLY_PRIVATE_KEY")
	v.BindEnv("adminapikey", "REFERLY_ADMIN_API_KEY")
	v.BindEnv("timezone", "REFERLY_TIMEZONE")
	v.BindEnv("databaseurl", "REFERLY_DATABASE_URL")
	v.BindEnv("databasename", "REFERLY_DATABASE_NAME")
	v.BindEnv("dbmaxopenconns", "REFERLY_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "REFERLY_DB_MAX_IDLE_CONNS")
	v.BindEnv("publicdir", "REFERLY_PUBLIC_DIR")
	v.BindEnv("publicassetsurlprefix", "REFERLY_PUBLIC_ASSETS_URL_PREFIX")
	v.BindEnv("logsdir", "REFERLY_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "REFERLY_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "REFERLY_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "REFERLY_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dailyretentiondays", "REFERLY_DAILY_RETENTION_DAYS")
	v.BindEnv("weeklyretentiondays", "REFERLY_WEEKLY_RETENTION_DAYS")
	v.BindEnv("monthlyretentiondays", "REFERLY_MONTHLY_RETENTION_DAYS")
	v.BindEnv("snapshotretentiondays", "REFERLY_SNAPSHOT_RETENTION_DAYS")
	v.BindEnv("rollingwindowhours", "REFERLY_ROLLING_WINDOW_HOURS")
	v.BindEnv("payperiodstartday", "REFERLY_PAY_PERIOD_START_DAY")
	v.BindEnv("snapshotintervalminutes", "REFERLY_SNAPSHOT_INTERVAL_MINUTES")
	v.BindEnv("dailyaggregationat", "REFERLY_DAILY_AGGREGATION_AT")
	v.BindEnv("partnerrecalculationat", "REFERLY_PARTNER_RECALCULATION_AT")
	v.BindEnv("draftgenerationat", "REFERLY_DRAFT_GENERATION_AT")
	v.BindEnv("jobsenabled", "REFERLY_JOBS_ENABLED")
	v.BindEnv("maildriver", "REFERLY_MAIL_DRIVER")
	v.BindEnv("mailfrom", "REFERLY_MAIL_FROM")
	v.BindEnv("smtphost", "REFERLY_SMTP_HOST")
	v.BindEnv("smtpport", "REFERLY_SMTP_PORT")
	v.BindEnv("smtpusername", "REFERLY_SMTP_USERNAME")
	v.BindEnv("smtppassword", "REFERLY_SMTP_PASSWORD")
	v.BindEnv("batchsenddelayms", "REFERLY_BATCH_SEND_DELAY_MS")
	v.BindEnv("invoicelocale", "REFERLY_INVOICE_LOCALE")
	v.BindEnv("invoicecurrencysymbol", "REFERLY_INVOICE_CURRENCY_SYMBOL")

	return v
}

// Load reads the configuration from the environment without caching it.
func Load() (*Config, error) {
	v := newViper()

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("database connection string is required (REFERLY_DATABASE_URL)")
	}
	if c.DatabaseName == "" {
		return fmt.Errorf("database name is required (REFERLY_DATABASE_NAME)")
	}

	if c.PayPeriodStartDay < 1 || c.PayPeriodStartDay > 28 {
		return fmt.Errorf("pay period start day must be between 1 and 28, got %d", c.PayPeriodStartDay)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	for name, value := range map[string]string{
		"daily aggregation":     c.DailyAggregationAt,
		"partner recalculation": c.PartnerRecalculationAt,
		"draft generation":      c.DraftGenerationAt,
	} {
		if _, _, err := ParseClock(value); err != nil {
			return fmt.Errorf("invalid %s time: %w", name, err)
		}
	}

	switch c.MailDriver {
	case MailDriverLog:
	case MailDriverSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("smtp mail driver requires REFERLY_SMTP_HOST")
		}
	default:
		return fmt.Errorf("invalid mail driver: %s", c.MailDriver)
	}

	if _, err := language.Parse(c.InvoiceLocale); err != nil {
		return fmt.Errorf("invalid invoice locale %q: %w", c.InvoiceLocale, err)
	}

	if c.IsProduction() && c.AdminAPIKey == "" {
		return fmt.Errorf("production requires REFERLY_ADMIN_API_KEY")
	}

	return nil
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

// Location returns the configured business timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.DatabaseURL
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// RollingWindow returns the lifetime of a rolling-log entry.
func (c *Config) RollingWindow() time.Duration {
	return time.Duration(c.RollingWindowHours) * time.Hour
}

// SnapshotInterval returns the cadence of the snapshot job.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMinutes) * time.Minute
}

// BatchSendDelay returns the pause between two e-mails of one batch.
func (c *Config) BatchSendDelay() time.Duration {
	return time.Duration(c.BatchSendDelayMs) * time.Millisecond
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
