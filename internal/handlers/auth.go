package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/security"
)

// AuthHandler serves credential endpoints.
type AuthHandler struct {
	core *security.Core
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(core *security.Core) *AuthHandler {
	return &AuthHandler{core: core}
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

// RefreshRequest is the token refresh request body.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login verifies credentials and returns a token pair. Every failure
// mode returns the same generic reason so account existence never leaks.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "username and password are required",
		})
	}

	pair, err := h.core.Login(c.UserContext(), req.Username, req.Password, req.TOTPCode,
		c.IP(), c.Get("User-Agent"))
	if err != nil {
		return credentialStatus(c, err)
	}
	return c.JSON(pair)
}

// Refresh rotates a refresh token. The old token is invalid afterwards.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "refresh_token is required",
		})
	}

	pair, err := h.core.Refresh(c.UserContext(), req.RefreshToken, c.IP())
	if err != nil {
		return credentialStatus(c, err)
	}
	return c.JSON(pair)
}

// Logout revokes the presented bearer token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	raw := bearerToken(c)
	if raw == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "bearer token is required",
		})
	}

	if err := h.core.Logout(c.UserContext(), raw, c.IP()); err != nil {
		return credentialStatus(c, err)
	}
	return c.JSON(fiber.Map{"status": "logged out"})
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func credentialStatus(c *fiber.Ctx, err error) error {
	var cred *security.CredentialError
	if errors.As(err, &cred) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":  "access denied",
			"reason": string(cred.Reason),
		})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "service unavailable",
	})
}
