package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/security"
)

// PrincipalKey is the context key for the authenticated principal.
const PrincipalKey = "principal"

// TokenAuth verifies the bearer token on every request outside the
// public path set and stores the principal in the request context.
// Credential failures map to 401 with a generic reason code; system
// failures map to 503.
func TokenAuth(core *security.Core, publicPaths []string) fiber.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, path := range publicPaths {
		public[path] = true
	}

	return func(c *fiber.Ctx) error {
		if public[c.Path()] {
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" {
			return unauthorized(c, string(security.ReasonMissing))
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return unauthorized(c, string(security.ReasonInvalid))
		}

		principal, err := core.Authenticate(c.UserContext(), parts[1])
		if err != nil {
			var cred *security.CredentialError
			if errors.As(err, &cred) {
				return unauthorized(c, string(cred.Reason))
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "authentication unavailable",
			})
		}

		c.Locals(PrincipalKey, principal)
		return c.Next()
	}
}

// RequirePermission guards a route with one or more permissions.
func RequirePermission(core *security.Core, perms ...rbac.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := GetPrincipal(c)
		if principal == nil {
			return unauthorized(c, string(security.ReasonMissing))
		}
		if err := core.Authorize(c.UserContext(), principal, perms...); err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient permissions",
			})
		}
		return c.Next()
	}
}

// GetPrincipal returns the authenticated principal from the context.
func GetPrincipal(c *fiber.Ctx) *auth.Principal {
	if p, ok := c.Locals(PrincipalKey).(*auth.Principal); ok {
		return p
	}
	return nil
}

func unauthorized(c *fiber.Ctx, reason string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":  "authentication required",
		"reason": reason,
	})
}
