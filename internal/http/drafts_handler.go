package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"referly/internal/partneremails"
	"referly/internal/timeframe"
)

// DraftsIndexAction lists the drafts of a period, the previous one by default.
// GET /api/partner-emails/drafts?period=previous
func DraftsIndexAction(ctx *cartridge.Context) error {
	services := ServicesFrom(ctx)
	period, err := services.Payments.ResolvePeriod(ctx.Query("period", timeframe.PeriodPrevious))
	if err != nil {
		return respondError(ctx, err)
	}

	drafts, err := services.Drafts.ListDrafts(ctx.Ctx.Context(), period)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"success":     true,
		"periodStart": period.StartKey(),
		"periodEnd":   period.EndKey(),
		"drafts":      drafts,
	})
}

// DraftsGenerateAction creates or refreshes every unsent draft of a period.
func DraftsGenerateAction(ctx *cartridge.Context) error {
	var params periodParams
	if len(ctx.Body()) > 0 {
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			return badRequest(ctx, "Invalid request body")
		}
	}
	if params.Period == "" {
		params.Period = timeframe.PeriodPrevious
	}

	services := ServicesFrom(ctx)
	period, err := services.Payments.ResolvePeriod(params.Period)
	if err != nil {
		return respondError(ctx, err)
	}
	result, err := services.Drafts.GenerateDrafts(ctx.Ctx.Context(), period)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "result": result})
}

// DraftShowAction returns one draft.
func DraftShowAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	draft, err := ServicesFrom(ctx).Drafts.GetDraft(ctx.Ctx.Context(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "draft": draft})
}

// DraftUpdateAction applies an operator edit to an unsent draft.
func DraftUpdateAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	var update partneremails.DraftUpdate
	if err := ctx.Ctx.BodyParser(&update); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	draft, err := ServicesFrom(ctx).Drafts.UpdateDraft(ctx.Ctx.Context(), id, update)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "draft": draft})
}

// DraftSendAction sends one draft.
func DraftSendAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}

	draft, err := ServicesFrom(ctx).Drafts.SendDraft(ctx.Ctx.Context(), id)
	if err != nil {
		if errors.Is(err, partneremails.ErrSendFailed) {
			return ctx.Status(StatusFor(err)).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
				"draft":   draft,
			})
		}
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "draft": draft})
}

type sendBatchParams struct {
	IDs []uint `json:"ids"`
}

// DraftsSendBatchAction validates and sends a list of drafts one by one.
func DraftsSendBatchAction(ctx *cartridge.Context) error {
	var params sendBatchParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if len(params.IDs) == 0 {
		return badRequest(ctx, "ids is required")
	}

	result, err := ServicesFrom(ctx).Drafts.SendBatch(ctx.Ctx.Context(), params.IDs)
	if err != nil && result == nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"success": err == nil,
		"result":  result,
	})
}
