package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/services"
)

// emptyTwiML acknowledges a Twilio webhook without replying inline; replies
// go out through the outbound queue.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// InboundRouter runs one inbound message as a conversation turn.
type InboundRouter interface {
	HandleInbound(ctx context.Context, userID, text string) error
}

// WhatsAppHandler handles WhatsApp webhook requests
type WhatsAppHandler struct {
	router InboundRouter
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(router InboundRouter) *WhatsAppHandler {
	return &WhatsAppHandler{router: router}
}

// TwilioWebhookPayload represents incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid    string `form:"MessageSid"`
	AccountSid    string `form:"AccountSid"`
	From          string `form:"From"` // WhatsApp number (whatsapp:+2348012345678)
	To            string `form:"To"`   // Your Twilio number
	Body          string `form:"Body"` // Message text
	NumMedia      string `form:"NumMedia"`
	ProfileName   string `form:"ProfileName"`
	MessageStatus string `form:"MessageStatus"` // set on delivery status callbacks
}

// HandleWebhook processes incoming WhatsApp messages
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		logger.Log.Warnf("Error parsing webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	// status callbacks carry no message body
	if payload.MessageStatus != "" || (payload.Body == "" && payload.From == "") {
		logger.Log.WithFields(logrus.Fields{
			"sid":    payload.MessageSid,
			"status": payload.MessageStatus,
		}).Debug("Delivery status callback")
		return c.SendStatus(fiber.StatusOK)
	}

	logger.Log.WithFields(logrus.Fields{
		"from": payload.From,
		"sid":  payload.MessageSid,
	}).Info("📱 WhatsApp webhook")

	if err := h.router.HandleInbound(c.UserContext(), payload.From, payload.Body); err != nil {
		return turnError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.SendString(emptyTwiML)
}

// TestWebhookPayload is the body of the development endpoint.
type TestWebhookPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// HandleTestWebhook processes test WhatsApp messages (for development)
func (h *WhatsAppHandler) HandleTestWebhook(c *fiber.Ctx) error {
	var payload TestWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test payload",
		})
	}

	logger.Log.Infof("🧪 Test webhook received from %s: %s", payload.From, payload.Message)

	if err := h.router.HandleInbound(c.UserContext(), payload.From, payload.Message); err != nil {
		return turnError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
	})
}

// turnError maps a failed turn onto a status code. Transient failures get a
// 503 so the caller retries the whole message.
func turnError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrTransientStore), errors.Is(err, services.ErrTransientSend):
		c.Set(fiber.HeaderRetryAfter, "5")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Temporarily unavailable, please retry",
		})
	default:
		logger.Log.Errorf("Error processing message: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}
}
