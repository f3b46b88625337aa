// main.go - Operator control tool for referly
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"referly/internal"
	"referly/internal/aggregates"
	"referly/internal/seeder"
	"referly/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SnapshotCommand{},
	&AggregateCommand{},
	&BackfillCommand{},
	&RepairCommand{},
	&GenerateDraftsCommand{},
	&RunJobCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}
	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	runErr := cmd.Execute(ctx, app, args)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: Cleanup error: %v", err)
	}

	if runErr != nil {
		log.Printf("Command %s failed: %v", cmd.Name(), runErr)
		os.Exit(1)
	}
	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SnapshotCommand captures today's snapshot from the rolling log
type SnapshotCommand struct{}

func (c *SnapshotCommand) Name() string        { return "snapshot" }
func (c *SnapshotCommand) Description() string { return "Captures today's snapshot of live referral traffic" }

func (c *SnapshotCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	snap, err := app.Services.Builder.Capture(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot %s: %d views, %d clicks across %d sites\n",
		snap.Date, snap.Total.Views, snap.Total.Clicks, len(snap.SiteCounts()))
	return nil
}

// AggregateCommand runs the daily pipeline once
type AggregateCommand struct{}

func (c *AggregateCommand) Name() string { return "aggregate" }
func (c *AggregateCommand) Description() string {
	return "Runs snapshot, daily delta, rollups and pruning for today [-timeout 2m]"
}

func (c *AggregateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	timeout := fs.Duration("timeout", 2*time.Minute, "maximum run time")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	result, err := app.Services.Aggregator.RunDaily(runCtx)
	if result != nil {
		printRun(result)
	}
	return err
}

func printRun(result *aggregates.RunResult) {
	fmt.Printf("Daily run for %s\n", result.Date)
	for _, stage := range result.Stages {
		line := fmt.Sprintf("  %-10s %s", stage.Name, stage.Status)
		if stage.Error != "" {
			line += ": " + stage.Error
		}
		fmt.Println(line)
	}
	if result.Daily != nil {
		fmt.Printf("  delta: %d views, %d clicks\n", result.Daily.Total.Views, result.Daily.Total.Clicks)
	}
}

// BackfillCommand creates zero-valued daily records for missing dates
type BackfillCommand struct{}

func (c *BackfillCommand) Name() string { return "backfill" }
func (c *BackfillCommand) Description() string {
	return "Creates empty daily records for missing dates: backfill <from> <to>"
}

func (c *BackfillCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <YYYY-MM-DD> <YYYY-MM-DD>", c.Name())
	}
	created, err := app.Services.Aggregator.Backfill(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Created %d daily records between %s and %s\n", created, args[0], args[1])
	return nil
}

// RepairCommand re-derives one day from its snapshots
type RepairCommand struct{}

func (c *RepairCommand) Name() string { return "repair" }
func (c *RepairCommand) Description() string {
	return "Re-derives one day from its snapshots: repair <date> [reason]"
}

func (c *RepairCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <YYYY-MM-DD> [reason]", c.Name())
	}
	reason := strings.Join(args[1:], " ")
	if reason == "" {
		reason = "manual repair via refctl"
	}

	daily, err := app.Services.Aggregator.Repair(ctx, args[0], reason)
	if err != nil {
		return err
	}
	fmt.Printf("Repaired %s: %d views, %d clicks\n", daily.Date, daily.Total.Views, daily.Total.Clicks)
	return nil
}

// GenerateDraftsCommand builds the partner e-mail drafts of a pay period
type GenerateDraftsCommand struct{}

func (c *GenerateDraftsCommand) Name() string { return "generate-drafts" }
func (c *GenerateDraftsCommand) Description() string {
	return "Creates or refreshes partner e-mail drafts: generate-drafts [previous|current|back:N|YYYY-MM]"
}

func (c *GenerateDraftsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	name := timeframe.PeriodPrevious
	if len(args) > 0 {
		name = args[0]
	}
	period, err := app.Services.Payments.ResolvePeriod(name)
	if err != nil {
		return err
	}

	result, err := app.Services.Drafts.GenerateDrafts(ctx, period)
	if err != nil {
		return err
	}
	fmt.Printf("Drafts for %s: %d created, %d updated, %d skipped\n",
		period.Label(), result.Created, result.Updated, result.Skipped)
	for _, d := range result.Drafts {
		fmt.Printf("  #%d %-30s %-8s %d\n", d.ID, d.Domain, d.Status, d.PaymentAmount)
	}
	return nil
}

// RunJobCommand runs one scheduled job immediately
type RunJobCommand struct{}

func (c *RunJobCommand) Name() string { return "run-job" }
func (c *RunJobCommand) Description() string {
	return "Runs one background job now: run-job <name> [-timeout 5m]"
}

func (c *RunJobCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <%s>", c.Name(), strings.Join(app.Scheduler.JobNames(), "|"))
	}
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "maximum run time")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	return app.Scheduler.RunNow(runCtx, args[0])
}

// SeedCommand populates the DB with demo data
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds popups, partners and traffic history" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	days := fs.Int("days", 90, "number of days of history to generate")
	seed := fs.Uint64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return err
	}
	se := seeder.NewSeeder(app.DBManager.GetConnection(), app.Services, slog.Default(), *days, *seed)
	return se.Run(ctx)
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	popups, err := app.Services.Counters.List(ctx)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Popups: %d", len(popups))
	if latest, err := aggregates.LatestDaily(db); err == nil {
		log.Printf("- Latest daily record: %s (%d views)", latest.Date, latest.Total.Views)
	} else {
		log.Printf("- Latest daily record: none (%v)", err)
	}
	log.Printf("- Today: %s", timeframe.DateKey(app.Services.Clock.Today()))
	log.Printf("- Jobs: %s", strings.Join(app.Scheduler.JobNames(), ", "))

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: refctl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %-16s %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
