package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"

	"referly/internal/aggregates"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	DBStatus    string    `json:"db_status"`
	LatestDaily string    `json:"latest_daily,omitempty"`
}

// HealthIndexAction handles the health check endpoint
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		DBStatus:  "ok",
	}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	} else if latest, err := aggregates.LatestDaily(db); err == nil {
		// A stale date here means the daily job stopped running.
		health.LatestDaily = latest.Date
	}

	if health.DBStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
