package v1

import (
	"github.com/gofiber/fiber/v2"

	"referly/internal/pkg/referrers"
)

// parseEventParams reads an optional JSON body.
func parseEventParams(c *fiber.Ctx) (*RecordEventParams, error) {
	var params RecordEventParams
	if len(c.Body()) == 0 {
		return &params, nil
	}
	if err := c.BodyParser(&params); err != nil {
		return nil, err
	}
	return &params, nil
}

// eventDomain picks the domain an event is attributed to: the explicit body
// field, else the page named by Referer (or Origin), else "direct".
func eventDomain(c *fiber.Ctx, params *RecordEventParams) string {
	referrer := c.Get("Referer")
	if referrer == "" {
		referrer = c.Get("Origin")
	}
	var domain string
	if params != nil {
		domain = params.Domain
	}
	return referrers.FromEvent(domain, referrer)
}
