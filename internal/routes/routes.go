package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/foodbot-backend/internal/config"
	"github.com/Ananth-NQI/foodbot-backend/internal/handlers"
	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/middleware"
)

// Handlers bundles everything SetupRoutes mounts.
type Handlers struct {
	WhatsApp *handlers.WhatsAppHandler
	Health   *handlers.HealthHandler
	Admin    *handlers.AdminHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, cfg *config.Config, h Handlers) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to FoodBot Backend!",
			"version": h.Health.Version,
			"endpoints": fiber.Map{
				"health":        "/health",
				"webhook":       "/webhook/whatsapp",
				"test_whatsapp": "/test/whatsapp",
				"admin":         "/admin",
			},
		})
	})

	app.Get("/health", h.Health.Check)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")
	if cfg.DisableWebhookValidation {
		logger.Log.Warn("⚠️  WhatsApp webhook validation DISABLED")
		webhooks.Post("/whatsapp", h.WhatsApp.HandleWebhook)
	} else {
		webhooks.Post("/whatsapp",
			middleware.ValidateTwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL),
			h.WhatsApp.HandleWebhook)
	}

	// ========== TEST ROUTES (Development Only) ==========
	if !cfg.IsProduction() {
		app.Post("/test/whatsapp", h.WhatsApp.HandleTestWebhook)
	}

	// ========== ADMIN ROUTES ==========
	admin := app.Group("/admin", middleware.RequireAdminToken(cfg.AdminAPIToken))
	admin.Get("/menu", h.Admin.GetMenu)
	admin.Get("/orders/:orderID", h.Admin.GetOrder)
	admin.Get("/users/:userID/orders", h.Admin.GetUserOrders)
	admin.Delete("/users/:userID/session", h.Admin.ResetSession)
	admin.Get("/failed-deliveries", h.Admin.GetFailedDeliveries)
}
