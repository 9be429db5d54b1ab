package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/classify"
	"github.com/strukta/bastion/internal/middleware"
	"github.com/strukta/bastion/internal/security"
)

// ClassifyHandler serves sanitization and classification changes.
type ClassifyHandler struct {
	core *security.Core
}

// NewClassifyHandler creates a classification handler.
func NewClassifyHandler(core *security.Core) *ClassifyHandler {
	return &ClassifyHandler{core: core}
}

// RelabelRequest is the body for classify and declassify calls.
type RelabelRequest struct {
	Record classify.Record `json:"record"`
	Label  classify.Label  `json:"label"`
}

// Sanitize redacts the posted record against the caller's clearance.
// Records classified above the clearance come back 403 with no content.
func (h *ClassifyHandler) Sanitize(c *fiber.Ctx) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var rec classify.Record
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	out, err := h.core.Sanitize(rec, principal)
	if err != nil {
		if errors.Is(err, classify.ErrWithheld) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "record withheld",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "sanitization failed",
		})
	}
	return c.JSON(out)
}

// Classify raises the record's label under the caller's authority.
func (h *ClassifyHandler) Classify(c *fiber.Ctx) error {
	return h.relabel(c, h.core.Classify)
}

// Declassify lowers the record's label under the caller's authority.
func (h *ClassifyHandler) Declassify(c *fiber.Ctx) error {
	return h.relabel(c, h.core.Declassify)
}

func (h *ClassifyHandler) relabel(c *fiber.Ctx, op func(context.Context, *auth.Principal, *classify.Record, classify.Label) error) error {
	principal := middleware.GetPrincipal(c)
	if principal == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req RelabelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Record.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "record id is required",
		})
	}

	if err := op(c.UserContext(), principal, &req.Record, req.Label); err != nil {
		var authz *security.AuthzError
		switch {
		case errors.As(err, &authz):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient permissions",
			})
		case errors.Is(err, classify.ErrLabelDowngrade):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "label can only be lowered through declassification",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "classification change failed",
			})
		}
	}
	return c.JSON(req.Record)
}
