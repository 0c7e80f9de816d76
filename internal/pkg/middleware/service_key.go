package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/security"
)

const serviceTokenHeader = "X-Service-Token"

// ServiceAuthMiddleware authenticates internal service-to-service calls (the
// usage-track endpoint) via signed HMAC service tokens.
func ServiceAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get(serviceTokenHeader))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing service token"})
		}

		secret := env.GetEnv("SERVICE_TOKEN_SECRET", "")
		claims, err := security.VerifyServiceToken(token, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid service token"})
		}

		c.Locals("SERVICE_NAME", claims.Service)
		return c.Next()
	}
}
