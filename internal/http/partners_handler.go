package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/datatypes"

	"referly/internal/partners"
	"referly/internal/timeframe"
)

// partnerParams is the JSON body of partner create and update. Dates are
// calendar days (YYYY-MM-DD).
type partnerParams struct {
	Domain        string            `json:"domain"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	MonthlyAmount int64             `json:"monthlyAmount"`
	PaymentCycle  string            `json:"paymentCycle"`
	StartDate     string            `json:"startDate"`
	StopDate      string            `json:"stopDate"`
	Status        string            `json:"status"`
	BankInfo      partners.BankInfo `json:"bankInfo"`
	Order         int               `json:"order"`
}

func (p *partnerParams) apply(partner *partners.Partner) error {
	start, err := timeframe.ParseDate(p.StartDate, time.UTC)
	if err != nil {
		return fmt.Errorf("%w: startDate: %w", partners.ErrInvalidPartner, err)
	}
	var stop *time.Time
	if p.StopDate != "" {
		d, err := timeframe.ParseDate(p.StopDate, time.UTC)
		if err != nil {
			return fmt.Errorf("%w: stopDate: %w", partners.ErrInvalidPartner, err)
		}
		stop = &d
	}

	partner.Domain = p.Domain
	partner.Name = p.Name
	partner.Email = p.Email
	partner.MonthlyAmount = p.MonthlyAmount
	partner.PaymentCycle = p.PaymentCycle
	partner.StartDate = start
	partner.StopDate = stop
	partner.Status = partners.Status(p.Status)
	partner.BankInfo = datatypes.NewJSONType(p.BankInfo)
	partner.Order = p.Order
	return nil
}

// PartnersIndexAction lists partners in display order.
func PartnersIndexAction(ctx *cartridge.Context) error {
	list, err := partners.List(ctx.DB().WithContext(ctx.Ctx.Context()))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "partners": list})
}

// PartnerShowAction returns one partner.
func PartnerShowAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	partner, err := partners.Get(ctx.DB(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "partner": partner})
}

// PartnerCreateAction registers a partner.
func PartnerCreateAction(ctx *cartridge.Context) error {
	var params partnerParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	var partner partners.Partner
	if err := params.apply(&partner); err != nil {
		return respondError(ctx, err)
	}
	if err := partners.Create(ctx.DB(), &partner); err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "partner": partner})
}

// PartnerUpdateAction replaces every editable field of a partner.
func PartnerUpdateAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	var params partnerParams
	if err := ctx.Ctx.BodyParser(&params); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	partner, err := partners.Get(ctx.DB(), id)
	if err != nil {
		return respondError(ctx, err)
	}
	if err := params.apply(partner); err != nil {
		return respondError(ctx, err)
	}
	if err := partners.Update(ctx.DB(), partner); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "partner": partner})
}

// PartnerDeleteAction deactivates a partner; the record is kept.
func PartnerDeleteAction(ctx *cartridge.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return respondError(ctx, err)
	}
	if err := partners.Delete(ctx.DB(), id); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true})
}

// PartnerPaymentsCalculateAction returns the payment breakdown of a period.
// GET /api/partners/payments/calculate?period=previous
func PartnerPaymentsCalculateAction(ctx *cartridge.Context) error {
	calculator := ServicesFrom(ctx).Payments
	period, err := calculator.ResolvePeriod(ctx.Query("period", timeframe.PeriodCurrent))
	if err != nil {
		return respondError(ctx, err)
	}

	report, err := calculator.CalculateAll(ctx.Ctx.Context(), period)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "report": report})
}

type periodParams struct {
	Period string `json:"period"`
}

// PartnerPaymentsRecalculateAction refreshes the cached payment figures of
// each partner without touching drafts.
func PartnerPaymentsRecalculateAction(ctx *cartridge.Context) error {
	var params periodParams
	if len(ctx.Body()) > 0 {
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			return badRequest(ctx, "Invalid request body")
		}
	}

	calculator := ServicesFrom(ctx).Payments
	period, err := calculator.ResolvePeriod(params.Period)
	if err != nil {
		return respondError(ctx, err)
	}
	report, err := calculator.Recalculate(ctx.Ctx.Context(), period)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "report": report})
}

// PartnerPublicSummaryAction lists active partners without amounts.
func PartnerPublicSummaryAction(ctx *cartridge.Context) error {
	calculator := ServicesFrom(ctx).Payments
	period, err := calculator.ResolvePeriod(ctx.Query("period", timeframe.PeriodCurrent))
	if err != nil {
		return respondError(ctx, err)
	}

	summary, err := calculator.PublicSummary(ctx.Ctx.Context(), period)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"success": true, "summary": summary})
}
