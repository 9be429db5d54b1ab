package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/ratelimit"
)

// RateLimit applies the endpoint-class budget for the request's source
// IP. Sensitive paths (credential and classification endpoints) draw
// from a smaller bucket than general traffic.
func RateLimit(svc *ratelimit.Service, sensitivePaths []string) fiber.Handler {
	sensitive := make(map[string]bool, len(sensitivePaths))
	for _, path := range sensitivePaths {
		sensitive[path] = true
	}

	return func(c *fiber.Ctx) error {
		class := ratelimit.ClassGeneral
		if sensitive[c.Path()] {
			class = ratelimit.ClassSensitive
		}

		if !svc.Allow(class, c.IP()) {
			c.Set("Retry-After", "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
