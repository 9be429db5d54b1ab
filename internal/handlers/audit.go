package handlers

import (
	"bufio"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/audit"
)

// AuditHandler serves the audit query and export endpoints.
type AuditHandler struct {
	trail *audit.Manager
}

// NewAuditHandler creates an audit handler.
func NewAuditHandler(trail *audit.Manager) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// Query returns indexed events matching the filter query parameters:
// actor, type, from, to (RFC 3339), limit.
func (h *AuditHandler) Query(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	events, err := h.trail.Query(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audit query failed",
		})
	}
	return c.JSON(fiber.Map{
		"count":  len(events),
		"events": events,
	})
}

// Export streams matching events as line-delimited JSON, the same
// format the durable sink uses.
func (h *AuditHandler) Export(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	events, err := h.trail.Query(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audit query failed",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="audit-export.jsonl"`)

	writer := bufio.NewWriter(c.Response().BodyWriter())
	enc := json.NewEncoder(writer)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func parseFilter(c *fiber.Ctx) (audit.Filter, error) {
	filter := audit.Filter{
		ActorID: c.Query("actor"),
		Type:    audit.EventType(c.Query("type")),
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, errBadTimestamp("from")
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, errBadTimestamp("to")
		}
		filter.To = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, errBadLimit
		}
		filter.Limit = n
	}
	return filter, nil
}

type filterError string

func (e filterError) Error() string { return string(e) }

var errBadLimit = filterError("limit must be a non-negative integer")

func errBadTimestamp(field string) error {
	return filterError(field + " must be an RFC 3339 timestamp")
}
