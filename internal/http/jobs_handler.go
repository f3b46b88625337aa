package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

const jobsKey = "referly.jobs"

// JobRunner runs registered background jobs on demand.
type JobRunner interface {
	JobNames() []string
	RunNow(ctx context.Context, name string) error
}

// ProvideJobs makes runner available to the job actions.
func ProvideJobs(runner JobRunner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(jobsKey, runner)
		return c.Next()
	}
}

func jobsFrom(ctx *cartridge.Context) (JobRunner, bool) {
	runner, ok := ctx.Locals(jobsKey).(JobRunner)
	return runner, ok && runner != nil
}

// JobsIndexAction lists the job names accepted by JobRunAction.
// GET /api/jobs
func JobsIndexAction(ctx *cartridge.Context) error {
	runner, ok := jobsFrom(ctx)
	if !ok {
		return ctx.JSON(fiber.Map{"success": true, "jobs": []string{}})
	}
	return ctx.JSON(fiber.Map{"success": true, "jobs": runner.JobNames()})
}

// JobRunAction runs one job now under an optional {timeoutSeconds}. A run of the
// same job that is still in progress, scheduled or manual, yields 409.
// POST /api/jobs/:name/run
func JobRunAction(ctx *cartridge.Context) error {
	runner, ok := jobsFrom(ctx)
	if !ok {
		return respondError(ctx, errors.New("job runner unavailable"))
	}
	timeout, err := runTimeout(ctx)
	if err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	runCtx, cancel := context.WithTimeout(ctx.Ctx.Context(), timeout)
	defer cancel()

	name := ctx.Params("name")
	if err := runner.RunNow(runCtx, name); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "job": name})
}
