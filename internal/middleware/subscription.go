package middleware

import (
	"github.com/gofiber/fiber/v2"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/subscription"
)

func currentUser(c *fiber.Ctx) (*model.User, error) {
	claims := Claims(c)
	if claims == nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
	}
	var user model.User
	if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "User not found")
	}
	return &user, nil
}

// CheckSubscriptionFeature rejects users whose plan does not grant feature.
// The plan label on the user row is the source of entitlements.
func CheckSubscriptionFeature(feature subscription.Feature) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := currentUser(c)
		if err != nil {
			return err
		}

		if !subscription.CanUseFeature(user.Role(), user.Plan(), feature) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "This feature requires a higher subscription plan",
				"feature": feature,
				"plan":    user.Plan(),
			})
		}

		return c.Next()
	}
}

// CheckPitchLimit counts the user's published pitches against the plan's
// pitch limit.
func CheckPitchLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := currentUser(c)
		if err != nil {
			return err
		}

		caps := user.Capabilities()

		var published int64
		if err := database.GetDB().Model(&model.Pitch{}).
			Where("user_id = ? AND status = ?", user.ID, model.PitchStatusPublished).
			Count(&published).Error; err != nil {
			return err
		}

		if int(published) >= caps.PitchLimit {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "You have reached your pitch limit. Please upgrade your plan.",
				"current_count": published,
				"max_limit":     caps.PitchLimit,
			})
		}

		return c.Next()
	}
}
