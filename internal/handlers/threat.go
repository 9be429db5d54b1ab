package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/threat"
)

// ThreatHandler serves the active indicator views.
type ThreatHandler struct {
	detector *threat.Detector
}

// NewThreatHandler creates a threat handler.
func NewThreatHandler(detector *threat.Detector) *ThreatHandler {
	return &ThreatHandler{detector: detector}
}

// List returns every active indicator.
func (h *ThreatHandler) List(c *fiber.Ctx) error {
	indicators := h.detector.All()
	return c.JSON(fiber.Map{
		"count":      len(indicators),
		"indicators": indicators,
	})
}

// BySource returns the active indicators for one source key.
func (h *ThreatHandler) BySource(c *fiber.Ctx) error {
	key := c.Params("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source key is required",
		})
	}
	indicators := h.detector.ActiveIndicators(key)
	return c.JSON(fiber.Map{
		"source":     key,
		"count":      len(indicators),
		"indicators": indicators,
	})
}
