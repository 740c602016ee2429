package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
)

// CheckPitchOwnership loads the pitch named by :id and rejects callers who
// do not own it. The pitch is stored under Locals("pitch").
func CheckPitchOwnership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		pitchID, err := c.ParamsInt("id")
		if err != nil || pitchID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid pitch ID",
			})
		}

		var pitch model.Pitch
		if err := database.GetDB().First(&pitch, pitchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Pitch not found",
				})
			}
			return err
		}

		if claims == nil || pitch.UserID != claims.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You don't have permission to access this pitch",
			})
		}

		c.Locals("pitch", &pitch)
		return c.Next()
	}
}

// OwnedPitch returns the pitch loaded by CheckPitchOwnership.
func OwnedPitch(c *fiber.Ctx) *model.Pitch {
	pitch, _ := c.Locals("pitch").(*model.Pitch)
	return pitch
}
