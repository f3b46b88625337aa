// Package http holds the JSON actions of the admin and public API.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"referly/internal/aggregates"
	"referly/internal/counters"
	"referly/internal/jobs"
	"referly/internal/partneremails"
	"referly/internal/partners"
	"referly/internal/pipeline"
	"referly/internal/snapshots"
	"referly/internal/timeframe"
)

const servicesKey = "referly.services"

// errBadRequest marks malformed input that has no domain sentinel.
var errBadRequest = errors.New("bad request")

// ProvideServices makes services available to the actions of a route.
func ProvideServices(services *pipeline.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(servicesKey, services)
		return c.Next()
	}
}

// ServicesFrom returns the services installed by ProvideServices.
func ServicesFrom(ctx *cartridge.Context) *pipeline.Services {
	services, _ := ctx.Locals(servicesKey).(*pipeline.Services)
	return services
}

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, timeframe.ErrUnknownPeriod),
		errors.Is(err, timeframe.ErrInvalidDate),
		errors.Is(err, aggregates.ErrInvalidRange),
		errors.Is(err, partners.ErrInvalidPartner),
		errors.Is(err, partners.ErrInvalidOverride),
		errors.Is(err, counters.ErrInvalidID):
		return fiber.StatusBadRequest
	case errors.Is(err, partners.ErrPartnerNotFound),
		errors.Is(err, partneremails.ErrDraftNotFound),
		errors.Is(err, counters.ErrPopupNotFound),
		errors.Is(err, aggregates.ErrDayNotFound),
		errors.Is(err, snapshots.ErrNotFound),
		errors.Is(err, jobs.ErrUnknownJob):
		return fiber.StatusNotFound
	case errors.Is(err, partneremails.ErrDraftSent),
		errors.Is(err, aggregates.ErrDayClosed),
		errors.Is(err, jobs.ErrJobRunning):
		return fiber.StatusConflict
	case errors.Is(err, partneremails.ErrNoData),
		errors.Is(err, partneremails.ErrNoRecipient):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, partneremails.ErrSendFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// respondError writes {success: false, error} with the status matching err.
func respondError(ctx *cartridge.Context, err error) error {
	status := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		ctx.Logger.Error("Request failed",
			slog.String("path", ctx.Path()),
			slog.Any("error", err))
	}
	return ctx.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(ctx *cartridge.Context, message string) error {
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// paramID reads a positive numeric route parameter.
func paramID(ctx *cartridge.Context, name string) (uint, error) {
	id, err := strconv.Atoi(ctx.Params(name))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return uint(id), nil
}
