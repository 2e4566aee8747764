package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

// AuthMiddleware gates the HTTP surface with a single API key check
// (spec.md §1 treats onboarding/session login as an external
// collaborator — there is no cookie-session flow left to validate).
type AuthMiddleware struct {
	s service.ApiKeyService
}

func NewAuthMiddleware(service service.ApiKeyService) *AuthMiddleware {
	return &AuthMiddleware{s: service}
}

func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API key",
			})
		}

		valid, err := m.s.Validate(c.Context(), apiKey)
		if err != nil || !valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
