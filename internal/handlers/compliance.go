package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/security"
)

// ComplianceHandler serves compliance evaluation reports.
type ComplianceHandler struct {
	core *security.Core
}

// NewComplianceHandler creates a compliance handler.
func NewComplianceHandler(core *security.Core) *ComplianceHandler {
	return &ComplianceHandler{core: core}
}

// Report runs a fresh evaluation pass and returns every violation
// found. Nothing is persisted; each call regenerates the findings.
func (h *ComplianceHandler) Report(c *fiber.Ctx) error {
	violations := h.core.EvaluateCompliance(c.UserContext(), nil)
	status := "compliant"
	if len(violations) > 0 {
		status = "violations_found"
	}
	return c.JSON(fiber.Map{
		"status":       status,
		"evaluated_at": time.Now().UTC(),
		"count":        len(violations),
		"violations":   violations,
	})
}
