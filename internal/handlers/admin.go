package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// AdminHandler handles admin operations
type AdminHandler struct {
	store storage.Store
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store storage.Store) *AdminHandler {
	return &AdminHandler{store: store}
}

// GetMenu lists the catalogue with current stock.
func (h *AdminHandler) GetMenu(c *fiber.Ctx) error {
	products, err := h.store.ListProducts(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to fetch menu",
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"products": products,
		"count":    len(products),
	})
}

// GetOrder returns one confirmed order.
func (h *AdminHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.store.GetOrder(c.UserContext(), c.Params("orderID"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Order not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to fetch order",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"order":   order,
	})
}

// GetUserOrders lists a user's confirmed orders, oldest first.
func (h *AdminHandler) GetUserOrders(c *fiber.Ctx) error {
	userID := strings.TrimPrefix(c.Params("userID"), "whatsapp:")
	orders, err := h.store.OrdersByUser(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to fetch orders",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"orders":  orders,
		"count":   len(orders),
	})
}

// GetFailedDeliveries lists dead-lettered replies, newest first.
func (h *AdminHandler) GetFailedDeliveries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	failed, err := h.store.FailedDeliveries(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to fetch failed deliveries",
		})
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"deliveries": failed,
		"count":      len(failed),
	})
}

// ResetSession drops a user's conversation so the next message starts at
// the welcome menu.
func (h *AdminHandler) ResetSession(c *fiber.Ctx) error {
	userID := strings.TrimPrefix(c.Params("userID"), "whatsapp:")
	if err := h.store.Delete(c.UserContext(), userID); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to reset session",
		})
	}
	logger.WithUser(userID).Info("🔄 Session reset by admin")
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Session reset",
	})
}
