package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/twilio/twilio-go/client"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
)

// ValidateTwilioSignature validates that the webhook request is from Twilio.
// baseURL overrides scheme and host when the service sits behind a proxy
// that rewrites them; empty means use the request's own.
func ValidateTwilioSignature(authToken, baseURL string) fiber.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(c *fiber.Ctx) error {
		twilioSignature := c.Get("X-Twilio-Signature")
		if twilioSignature == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Twilio signature",
			})
		}

		if authToken == "" {
			logger.Log.Error("TWILIO_AUTH_TOKEN not set, cannot validate webhook")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Server configuration error",
			})
		}

		formParams := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			formParams[string(key)] = string(value)
		})

		if !validator.Validate(getFullURL(c, baseURL), formParams, twilioSignature) {
			logger.Log.Warnf("Rejected webhook with invalid signature from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}

		return c.Next()
	}
}

// getFullURL rebuilds the URL Twilio signed, query string included. The
// parsed URI is used so origin-form and absolute-form request lines agree.
func getFullURL(c *fiber.Ctx, baseURL string) string {
	uri := c.Request().URI()
	if baseURL != "" {
		return baseURL + string(uri.RequestURI())
	}
	return fmt.Sprintf("%s://%s%s", uri.Scheme(), uri.Host(), uri.RequestURI())
}
