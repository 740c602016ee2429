package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/pkg/metrics"
)

// HandleStripeWebhook verifies the delivery before anything else. Events are
// recorded once; a redelivered event that already succeeded is acknowledged
// without being dispatched again.
func HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := webhookParser.ParseWebhook(c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		log.Warnf("Rejected webhook delivery: %v", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	if !billing.Handled(event.Type) {
		metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return c.JSON(fiber.Map{
			"received": true,
			"ignored":  true,
		})
	}

	log.Infof("Processing webhook event %s (%s)", event.ID, event.Type)

	duplicate, err := billingService.ProcessEvent(c.UserContext(), event)
	if err != nil {
		log.Errorf("Webhook event %s (%s) failed: %v", event.ID, event.Type, err)
		metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Webhook processing failed",
		})
	}

	if duplicate {
		metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
		return c.JSON(fiber.Map{
			"received":  true,
			"duplicate": true,
		})
	}

	metrics.WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	return c.JSON(fiber.Map{
		"received": true,
	})
}
