package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/middleware"
	"github.com/strukta/bastion/internal/rbac"
	"github.com/strukta/bastion/internal/security"
)

// UsersHandler serves the account management surface. Permission
// checks happen in the orchestrator, not here; the route guard only
// gates reachability.
type UsersHandler struct {
	core *security.Core
}

// NewUsersHandler creates a user management handler.
func NewUsersHandler(core *security.Core) *UsersHandler {
	return &UsersHandler{core: core}
}

// CreateUserRequest is the body for account creation.
type CreateUserRequest struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Clearance string `json:"clearance"`
}

// userView is the externally visible shape of an account. Credential
// material never appears here.
type userView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Clearance    string `json:"clearance"`
	Enabled      bool   `json:"enabled"`
	TOTPEnrolled bool   `json:"totp_enrolled"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:           u.ID,
		Name:         u.Name,
		Role:         string(u.Role),
		Clearance:    u.Clearance.String(),
		Enabled:      u.Enabled,
		TOTPEnrolled: u.TOTPSecret != "",
	}
}

// Create provisions a new account.
func (h *UsersHandler) Create(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and password are required",
		})
	}

	clearance := classify.Public
	if req.Clearance != "" {
		parsed, err := classify.ParseLabel(req.Clearance)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown clearance label",
			})
		}
		clearance = parsed
	}

	user, err := h.core.CreateUser(c.UserContext(), principal, req.Name, req.Password, rbac.Role(req.Role), clearance)
	if err != nil {
		return userError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(user))
}

// Get returns one account record.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	user, err := h.core.GetUser(c.UserContext(), principal, c.Params("name"))
	if err != nil {
		return userError(c, err)
	}
	return c.JSON(viewOf(user))
}

// Disable marks an account disabled. Idempotent for already disabled
// accounts.
func (h *UsersHandler) Disable(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	if err := h.core.DisableUser(c.UserContext(), principal, c.Params("name")); err != nil {
		return userError(c, err)
	}
	return c.JSON(fiber.Map{"status": "disabled"})
}

// EnrollTOTP generates a TOTP secret for the account and returns the
// provisioning details. The secret is shown exactly once.
func (h *UsersHandler) EnrollTOTP(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	enrollment, err := h.core.EnrollUserTOTP(c.UserContext(), principal, c.Params("name"))
	if err != nil {
		return userError(c, err)
	}
	return c.JSON(enrollment)
}

func userError(c *fiber.Ctx, err error) error {
	var authz *security.AuthzError
	switch {
	case errors.As(err, &authz):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "permission denied",
		})
	case errors.Is(err, auth.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "user not found",
		})
	case errors.Is(err, auth.ErrUserExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "user already exists",
		})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
