package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/pkg/subscription"
	"konnectsphere_backend/pkg/utils/validation"
)

var (
	billingService *billing.Service
	webhookParser  billing.WebhookParser
)

type CheckoutInput struct {
	PriceID uint `json:"price_id" validate:"required"`
}

type CancelInput struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

func InitSubscriptionController(svc *billing.Service, parser billing.WebhookParser) {
	billingService = svc
	webhookParser = parser
}

// billingError maps service sentinels to responses; the rest is logged as 500.
func billingError(c *fiber.Ctx, err error, what string) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrUserNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrPriceNotFound),
		errors.Is(err, billing.ErrNoSubscription):
		status = fiber.StatusNotFound
	case errors.Is(err, billing.ErrPlanRoleMismatch),
		errors.Is(err, billing.ErrSessionMismatch):
		status = fiber.StatusForbidden
	case errors.Is(err, billing.ErrAlreadySubscribed),
		errors.Is(err, billing.ErrCheckoutIncomplete):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		log.Errorf("%s: %v", what, err)
		return c.Status(status).JSON(fiber.Map{
			"error": "Could not " + what,
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func ListPlans(c *fiber.Ctx) error {
	userType := c.Query("user_type")
	if userType != "" && !subscription.ValidRole(userType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user type",
		})
	}

	plans, err := billingService.ListPlans(userType)
	if err != nil {
		return billingError(c, err, "fetch subscription plans")
	}

	return c.JSON(plans)
}

func CreateCheckoutSession(c *fiber.Ctx) error {
	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validation.Struct(input); err != nil {
		return err
	}

	session, err := billingService.StartCheckout(c.UserContext(), claimsOf(c).UserID, input.PriceID)
	if err != nil {
		return billingError(c, err, "start checkout")
	}

	return c.JSON(fiber.Map{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// CheckoutSuccess is called by the frontend success page with the session id.
func CheckoutSuccess(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	sub, err := billingService.CompleteCheckout(c.UserContext(), sessionID, claimsOf(c).UserID)
	if err != nil {
		return billingError(c, err, "complete checkout")
	}

	return c.JSON(fiber.Map{
		"message":      "Subscription activated",
		"subscription": sub,
	})
}

func CancelSubscription(c *fiber.Ctx) error {
	input := new(CancelInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid input",
			})
		}
	}

	sub, err := billingService.Cancel(c.UserContext(), claimsOf(c).UserID, input.AtPeriodEnd)
	if err != nil {
		return billingError(c, err, "cancel subscription")
	}

	return c.JSON(fiber.Map{
		"message":      "Subscription cancelled successfully",
		"subscription": sub,
	})
}

func GetMySubscription(c *fiber.Ctx) error {
	sub, err := billingService.MySubscription(claimsOf(c).UserID)
	if err != nil {
		return billingError(c, err, "fetch subscription")
	}

	return c.JSON(sub)
}

func GetBillingHistory(c *fiber.Ctx) error {
	payments, err := billingService.BillingHistory(claimsOf(c).UserID)
	if err != nil {
		return billingError(c, err, "fetch billing history")
	}

	return c.JSON(payments)
}
