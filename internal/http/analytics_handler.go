package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"referly/internal/aggregates"
	"referly/internal/analytics"
	"referly/internal/timeframe"
)

const (
	defaultRunTimeout = 2 * time.Minute
	maxRunTimeout     = 30 * time.Minute
)

// AnalyticsDataAction returns the daily series of one pay period.
// GET /api/analytics/data?period=current&site=all
func AnalyticsDataAction(ctx *cartridge.Context) error {
	kind := ctx.Query("period", timeframe.PeriodCurrent)
	site := ctx.Query("site", analytics.AllSites)

	points, info, err := ServicesFrom(ctx).Analytics.GetPeriod(ctx.Ctx.Context(), kind, site)
	if err != nil {
		return respondError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":    true,
		"period":     kind,
		"site":       site,
		"data":       points,
		"periodInfo": info,
	})
}

// AnalyticsSitesAction lists the domains seen in the latest daily record.
func AnalyticsSitesAction(ctx *cartridge.Context) error {
	sites, err := ServicesFrom(ctx).Analytics.GetSites(ctx.Ctx.Context())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "sites": sites})
}

// AnalyticsSummaryAction compares the period with the previous one.
func AnalyticsSummaryAction(ctx *cartridge.Context) error {
	summary, err := ServicesFrom(ctx).Analytics.GetSummary(ctx.Ctx.Context(), ctx.Query("period", timeframe.PeriodCurrent))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "summary": summary})
}

// AnalyticsSiteTotalsAction ranks domains by views over a period.
func AnalyticsSiteTotalsAction(ctx *cartridge.Context) error {
	totals, err := ServicesFrom(ctx).Analytics.SiteTotals(ctx.Ctx.Context(), ctx.Query("period", timeframe.PeriodCurrent))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "sites": totals})
}

// AnalyticsRollupAction returns weekly or monthly rollups between from and to.
// GET /api/analytics/weekly?from=YYYY-MM-DD&to=YYYY-MM-DD
func AnalyticsRollupAction(monthly bool) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		services := ServicesFrom(ctx)
		to := services.Clock.Today()
		from := to.AddDate(0, -3, 0)

		var err error
		if v := ctx.Query("from"); v != "" {
			if from, err = services.Clock.ParseDate(v); err != nil {
				return respondError(ctx, err)
			}
		}
		if v := ctx.Query("to"); v != "" {
			if to, err = services.Clock.ParseDate(v); err != nil {
				return respondError(ctx, err)
			}
		}

		var points []analytics.RollupPoint
		if monthly {
			points, err = services.Analytics.GetMonthly(ctx.Ctx.Context(), from, to)
		} else {
			points, err = services.Analytics.GetWeekly(ctx.Ctx.Context(), from, to)
		}
		if err != nil {
			return respondError(ctx, err)
		}
		return ctx.JSON(fiber.Map{"success": true, "data": points})
	}
}

type initializeParams struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// AnalyticsInitializeAction backfills zero-valued daily records for missing dates.
func AnalyticsInitializeAction(ctx *cartridge.Context) error {
	var params initializeParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if params.StartDate == "" || params.EndDate == "" {
		return badRequest(ctx, "startDate and endDate are required")
	}

	created, err := ServicesFrom(ctx).Aggregator.Backfill(ctx.Ctx.Context(), params.StartDate, params.EndDate)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"success":   true,
		"created":   created,
		"startDate": params.StartDate,
		"endDate":   params.EndDate,
	})
}

// AnalyticsSyncTodayAction recomputes today's snapshot, delta and rollups
// under a caller timeout.
func AnalyticsSyncTodayAction(ctx *cartridge.Context) error {
	timeout, err := runTimeout(ctx)
	if err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	runCtx, cancel := context.WithTimeout(ctx.Ctx.Context(), timeout)
	defer cancel()

	result, err := ServicesFrom(ctx).Aggregator.SyncToday(runCtx)
	return respondRun(ctx, result, err)
}

type runParams struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// runTimeout reads the optional {timeoutSeconds} body of a manual run.
func runTimeout(ctx *cartridge.Context) (time.Duration, error) {
	var params runParams
	if len(ctx.Body()) > 0 {
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			return 0, err
		}
	}
	if params.TimeoutSeconds <= 0 {
		return defaultRunTimeout, nil
	}
	return min(time.Duration(params.TimeoutSeconds)*time.Second, maxRunTimeout), nil
}

// AnalyticsRunDailyAction runs the full daily pipeline under a caller timeout.
func AnalyticsRunDailyAction(ctx *cartridge.Context) error {
	timeout, err := runTimeout(ctx)
	if err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	runCtx, cancel := context.WithTimeout(ctx.Ctx.Context(), timeout)
	defer cancel()

	result, err := ServicesFrom(ctx).Aggregator.RunDaily(runCtx)
	return respondRun(ctx, result, err)
}

// respondRun reports the stages of a pipeline run. Failed stages produce a
// 500 that still lists what committed.
func respondRun(ctx *cartridge.Context, result *aggregates.RunResult, err error) error {
	if err == nil {
		return ctx.JSON(fiber.Map{"success": true, "result": result})
	}
	if result == nil {
		return respondError(ctx, err)
	}

	status := fiber.StatusInternalServerError
	var stageErrs aggregates.StageErrors
	if !errors.As(err, &stageErrs) {
		status = StatusFor(err)
	}
	return ctx.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
		"result":  result,
	})
}

type repairParams struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// AnalyticsRepairAction re-derives one day from its snapshots with an audit trail.
func AnalyticsRepairAction(ctx *cartridge.Context) error {
	var params repairParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if params.Date == "" {
		return badRequest(ctx, "date is required")
	}
	services := ServicesFrom(ctx)
	if params.Reason == "" {
		params.Reason = fmt.Sprintf("manual repair via API at %s", services.Clock.Now().UTC().Format(time.RFC3339))
	}

	daily, err := services.Aggregator.Repair(ctx.Ctx.Context(), params.Date, params.Reason)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "daily": daily})
}
