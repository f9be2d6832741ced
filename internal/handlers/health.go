package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/foodbot-backend/internal/services"
)

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// QueueStatser exposes outbound queue counters.
type QueueStatser interface {
	Stats() services.QueueStats
}

// Pinger checks a backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version  string
	sessions SessionCounter
	queue    QueueStatser
	db       Pinger // nil for the in-memory store
	twilio   bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessions SessionCounter, queue QueueStatser, db Pinger, twilioConfigured bool) *HealthHandler {
	return &HealthHandler{
		Version:  version,
		sessions: sessions,
		queue:    queue,
		db:       db,
		twilio:   twilioConfigured,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := fiber.StatusOK
	database := "memory"
	if h.db != nil {
		database = "connected"
		if err := h.db.Ping(ctx); err != nil {
			database = "error: " + err.Error()
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
		}
	}

	resp := fiber.Map{
		"status":   status,
		"service":  "FoodBot Backend",
		"version":  h.Version,
		"database": database,
		"whatsapp": fiber.Map{"configured": h.twilio},
	}
	if n, err := h.sessions.CountActive(ctx); err == nil {
		resp["active_sessions"] = n
	}
	if h.queue != nil {
		resp["outbound"] = h.queue.Stats()
	}
	return c.Status(code).JSON(resp)
}
