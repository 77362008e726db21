package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/entity"
)

const authLocalsKey = "auth"

// APIKeyAuth maps "Authorization: Bearer <key>" onto the tenant scope bound to
// the key. Unknown keys are rejected before reaching a handler.
func APIKeyAuth(cfg *config.Config, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		scheme, key, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(key) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(
				entity.NewErrorResponse("UNAUTHORIZED", "Missing bearer API key"),
			)
		}

		apiKey, found := cfg.FindAPIKey(strings.TrimSpace(key))
		if !found {
			logger.Warn("Rejected unknown API key",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(
				entity.NewErrorResponse("UNAUTHORIZED", "Invalid API key"),
			)
		}

		c.Locals(authLocalsKey, entity.TenantAuth(apiKey.BaseID, apiKey.Actor))
		return c.Next()
	}
}

// AuthFrom returns the scope stored by APIKeyAuth. Requests that did not pass
// through it get an empty scope, which every usecase refuses.
func AuthFrom(c *fiber.Ctx) entity.AuthContext {
	auth, _ := c.Locals(authLocalsKey).(entity.AuthContext)
	return auth
}
