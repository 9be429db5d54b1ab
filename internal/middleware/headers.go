package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/config"
)

// SecurityHeaders sets the standard response hardening headers. HSTS is
// only emitted when the listener actually serves TLS.
func SecurityHeaders(tls config.TLSConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Cache-Control", "no-store")
		if tls.Enabled && tls.EnforceHSTS {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		return c.Next()
	}
}
