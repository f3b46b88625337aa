package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"referly/internal/config"
	"referly/internal/pipeline"
	"referly/internal/timeframe"
)

var (
	// ErrUnknownJob is returned by RunNow for a name no job is registered under.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned when the same job is still executing.
	ErrJobRunning = errors.New("job already running")
)

// scheduledJob is a job with its cadence.
type scheduledJob struct {
	name       string
	schedule   Schedule
	runOnStart bool
	run        func(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	clock     *timeframe.Clock
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	wg        sync.WaitGroup

	// Tracks which jobs are executing so the same job never overlaps itself
	processingMutex sync.Mutex
	processing      map[string]bool

	jobs map[string]*scheduledJob
}

// NewSchedulerWithServices builds a scheduler over already wired services.
func NewSchedulerWithServices(services *pipeline.Services, logger *slog.Logger, cfg *config.Config) (*Scheduler, error) {
	aggregationAt, err := dailyAt(cfg.DailyAggregationAt)
	if err != nil {
		return nil, fmt.Errorf("daily aggregation time: %w", err)
	}
	recalculationAt, err := dailyAt(cfg.PartnerRecalculationAt)
	if err != nil {
		return nil, fmt.Errorf("partner recalculation time: %w", err)
	}
	draftsAt, err := dailyAt(cfg.DraftGenerationAt)
	if err != nil {
		return nil, fmt.Errorf("draft generation time: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:     logger,
		clock:      services.Clock,
		ctx:        ctx,
		cancel:     cancel,
		enabled:    cfg.JobsEnabled,
		processing: map[string]bool{},
		jobs:       map[string]*scheduledJob{},
	}

	s.register(JobSnapshot, Every(cfg.SnapshotInterval()), true,
		(&SnapshotJob{services: services}).Run)
	s.register(JobDailyAggregation, aggregationAt, false,
		(&DailyAggregationJob{services: services, logger: logger}).Run)
	s.register(JobPartnerRecalculation, recalculationAt, false,
		(&PartnerRecalculationJob{services: services}).Run)
	s.register(JobDraftGeneration, MonthlyAt{Day: cfg.PayPeriodStartDay, Hour: draftsAt.Hour, Minute: draftsAt.Minute}, false,
		(&DraftGenerationJob{services: services}).Run)
	// Purge runs an hour after aggregation so the last window is already captured.
	s.register(JobReferralPurge, DailyAt{Hour: (aggregationAt.Hour + 1) % 24, Minute: aggregationAt.Minute}, false,
		NewReferralPurgeJob(services.Counters, logger).Run)

	return s, nil
}

func (s *Scheduler) register(name string, schedule Schedule, runOnStart bool, run func(ctx context.Context) error) {
	s.jobs[name] = &scheduledJob{name: name, schedule: schedule, runOnStart: runOnStart, run: run}
}

// JobNames lists the registered jobs in sorted order.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// executeJobSafely runs a job unless the same job is still executing,
// recovering from panics so one bad run never takes the process down.
func (s *Scheduler) executeJobSafely(ctx context.Context, jobName string, jobFunc func(ctx context.Context) error) (err error) {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still active", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return ErrJobRunning
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}

		s.processingMutex.Lock()
		delete(s.processing, jobName)
		s.processingMutex.Unlock()
	}()

	if err = jobFunc(ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
		return err
	}
	s.logger.Debug("Job finished", slog.String("job", jobName), slog.Duration("took", time.Since(started)))
	return nil
}

// RunNow executes a job immediately under the caller's context, which may
// carry a timeout. Stages already committed stay committed when it expires.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.executeJobSafely(ctx, name, job.run)
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	for _, name := range s.JobNames() {
		job := s.jobs[name]
		s.logger.Info("Starting job", slog.String("job", name), slog.String("schedule", job.schedule.String()))
		s.wg.Add(1)
		go s.loop(job)
	}

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) loop(job *scheduledJob) {
	defer s.wg.Done()

	if job.runOnStart {
		s.logger.Info("Running initial execution", slog.String("job", job.name))
		_ = s.executeJobSafely(s.ctx, job.name, job.run)
	}

	for {
		now := s.clock.Now()
		wait := job.schedule.Next(now).Sub(now)
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			_ = s.executeJobSafely(s.ctx, job.name, job.run)
		case <-s.ctx.Done():
			timer.Stop()
			s.logger.Info("Job stopped", slog.String("job", job.name))
			return
		}
	}
}

// Stop halts all background jobs and waits for running ones to observe
// cancellation. Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
