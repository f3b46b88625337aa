// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"referly/internal/config"
	"referly/internal/database"
	"referly/internal/http"
	"referly/internal/jobs"
	"referly/internal/pipeline"
)

// RouteMountFunc mounts routes on a server given the process-wide components.
type RouteMountFunc func(srv *cartridge.Server, cfg *config.Config, services *pipeline.Services, runner http.JobRunner)

// Application wraps cartridge.Application with referly-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // referly DB manager with migration methods
	Services  *pipeline.Services
	Scheduler *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, MountRoutes)
}

// NewAppWithRoutes creates a new application with custom route mounting function.
// The HTTP actions and the scheduler share one set of services.
func NewAppWithRoutes(cfg *config.Config, routeMount RouteMountFunc) (*Application, error) {
	// Create logger
	logger := cartridge.NewLogger(cfg, nil)

	// Initialize database manager
	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services, err := pipeline.New(dbManager.GetConnection(), logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build services: %w", err)
	}

	// Initialize jobs system
	scheduler, err := jobs.NewSchedulerWithServices(services, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			routeMount(srv, cfg, services, scheduler)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
		Scheduler:   scheduler,
	}, nil
}
