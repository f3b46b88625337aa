package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

type popupParams struct {
	Name string `json:"name"`
}

// PopupsIndexAction lists popups with their lifetime totals.
func PopupsIndexAction(ctx *cartridge.Context) error {
	list, err := ServicesFrom(ctx).Counters.List(ctx.Ctx.Context())
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "popups": list})
}

// PopupCreateAction registers a popup with zeroed counters.
func PopupCreateAction(ctx *cartridge.Context) error {
	var params popupParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return badRequest(ctx, "name is required")
	}

	popup, err := ServicesFrom(ctx).Counters.Create(ctx.Ctx.Context(), params.Name)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "popup": popup})
}
