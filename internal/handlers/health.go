package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// SessionCounter reports how many tracker sessions are open
type SessionCounter interface {
	Count() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	sessions SessionCounter
	started  time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(sessions SessionCounter) *HealthHandler {
	return &HealthHandler{sessions: sessions, started: time.Now()}
}

// Alive answers the plain liveness probe on GET /
func (h *HealthHandler) Alive(c *fiber.Ctx) error {
	return c.SendString("Health check: OK, I am alive!")
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"sessions":  h.sessions.Count(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
