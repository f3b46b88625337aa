package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAPIKeyAuth middleware validates the API key for admin endpoints.
// Expects: Authorization: Bearer <api_key>
func AdminAPIKeyAuth(apiKey string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Missing Authorization header")
		}

		// Extract Bearer token
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid Authorization header format. Expected: Bearer <api_key>")
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if providedKey == "" {
			return unauthorized(c, "API key is empty")
		}

		if apiKey == "" {
			logger.Warn("Admin API key not configured", slog.String("path", c.Path()))
			return unauthorized(c, "Admin API key not configured. Set REFERLY_ADMIN_API_KEY.")
		}

		// Constant-time comparison to prevent timing attacks
		if !secureCompare(providedKey, apiKey) {
			logger.Debug("Rejected admin request with invalid API key", slog.String("path", c.Path()))
			return unauthorized(c, "Invalid API key")
		}

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
