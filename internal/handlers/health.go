package handlers

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/strukta/bastion/internal/audit"
	"github.com/strukta/bastion/internal/auth"
)

// HealthStatus is the health endpoint response.
type HealthStatus struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Timestamp time.Time    `json:"timestamp"`
	Audit     AuditHealth  `json:"audit"`
	Tokens    TokenHealth  `json:"tokens"`
	System    SystemHealth `json:"system"`
}

// AuditHealth summarizes the audit subsystem.
type AuditHealth struct {
	Enabled bool `json:"enabled"`
}

// TokenHealth summarizes the revocation list.
type TokenHealth struct {
	RevokedEntries int `json:"revoked_entries"`
}

// SystemHealth carries process-level runtime figures.
type SystemHealth struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_bytes"`
	NumGC       uint32 `json:"num_gc"`
}

// HealthHandler serves liveness and status checks.
type HealthHandler struct {
	trail       *audit.Manager
	revocations *auth.RevocationList
	startTime   time.Time
	version     string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(trail *audit.Manager, revocations *auth.RevocationList, version string) *HealthHandler {
	return &HealthHandler{
		trail:       trail,
		revocations: revocations,
		startTime:   time.Now(),
		version:     version,
	}
}

// Check returns the service status.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Audit:     AuditHealth{Enabled: h.trail.Enabled()},
		System: SystemHealth{
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: m.Alloc,
			NumGC:       m.NumGC,
		},
	}
	if h.revocations != nil {
		status.Tokens.RevokedEntries = h.revocations.Len()
	}
	return c.JSON(status)
}

// Live is the bare liveness probe.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
