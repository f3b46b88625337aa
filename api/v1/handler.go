package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	apphttp "referly/internal/http"
)

const (
	msgEventRecorded  = "Event recorded"
	errInvalidRequest = "Invalid request"
)

type eventKind string

const (
	viewEvent  eventKind = "view"
	clickEvent eventKind = "click"
)

// RecordEventParams is the optional body of a popup event. Without a domain
// the referring page's host is used.
type RecordEventParams struct {
	Domain string `json:"domain"`
}

// PopupViewAction counts one impression of a popup.
// POST /api/popups/:id/view
func PopupViewAction(ctx *cartridge.Context) error {
	return recordEvent(ctx, viewEvent)
}

// PopupClickAction counts one click on a popup.
// POST /api/popups/:id/click
func PopupClickAction(ctx *cartridge.Context) error {
	return recordEvent(ctx, clickEvent)
}

func recordEvent(ctx *cartridge.Context, kind eventKind) error {
	id, err := ctx.ParamsInt("id")
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	params, err := parseEventParams(ctx.Ctx)
	if err != nil {
		ctx.Logger.Debug("Failed to parse popup event", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	domain := eventDomain(ctx.Ctx, params)

	store := apphttp.ServicesFrom(ctx).Counters
	if kind == clickEvent {
		err = store.IncrementClick(ctx.Ctx.Context(), id, domain)
	} else {
		err = store.IncrementView(ctx.Ctx.Context(), id, domain)
	}
	if err != nil {
		status := apphttp.StatusFor(err)
		if status >= http.StatusInternalServerError {
			ctx.Logger.Error("Failed to record popup event",
				slog.Int("popup_id", id),
				slog.String("kind", string(kind)),
				slog.Any("error", err))
		}
		return ctx.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	ctx.Logger.Debug("Recorded popup event",
		slog.Int("popup_id", id),
		slog.String("kind", string(kind)),
		slog.String("domain", domain))
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventRecorded,
		"status":  http.StatusAccepted,
	})
}

// PopupBeaconAction handles events sent via navigator.sendBeacon, which posts
// text/plain bodies and ignores the response. It always answers 202.
// POST /api/popups/:id/beacon/:kind
func PopupBeaconAction(ctx *cartridge.Context) error {
	id, err := ctx.ParamsInt("id")
	if err != nil {
		return ctx.SendStatus(http.StatusAccepted)
	}

	var params RecordEventParams
	if body := ctx.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
			return ctx.SendStatus(http.StatusAccepted)
		}
	}
	domain := eventDomain(ctx.Ctx, &params)

	store := apphttp.ServicesFrom(ctx).Counters
	switch eventKind(ctx.Params("kind")) {
	case viewEvent:
		err = store.IncrementView(ctx.Ctx.Context(), id, domain)
	case clickEvent:
		err = store.IncrementClick(ctx.Ctx.Context(), id, domain)
	default:
		return ctx.SendStatus(http.StatusAccepted)
	}
	if err != nil {
		ctx.Logger.Debug("Failed to record beacon event", slog.Int("popup_id", id), slog.Any("error", err))
	}
	return ctx.SendStatus(http.StatusAccepted)
}

// PopupShowAction returns a popup's totals and its live referral entries.
// GET /api/popups/:id
func PopupShowAction(ctx *cartridge.Context) error {
	id, err := ctx.ParamsInt("id")
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	popup, err := apphttp.ServicesFrom(ctx).Counters.Get(ctx.Ctx.Context(), id)
	if err != nil {
		return ctx.Status(apphttp.StatusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(popup)
}
