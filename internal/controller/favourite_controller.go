package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
)

func AddFavourite(c *fiber.Ctx) error {
	pitchID, ok := paramID(c, "pitch_id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pitch ID",
		})
	}

	investor, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}

	if _, err := findVisiblePitch(investor, pitchID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Pitch not found",
			})
		}
		return err
	}

	fav := model.Favourite{InvestorID: investor.ID, PitchID: pitchID}
	res := database.GetDB().Omit("Pitch").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fav)
	if res.Error != nil {
		return res.Error
	}

	status := fiber.StatusCreated
	if res.RowsAffected == 0 {
		status = fiber.StatusOK
		if err := database.GetDB().
			Where("investor_id = ? AND pitch_id = ?", investor.ID, pitchID).
			First(&fav).Error; err != nil {
			return err
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"message":   "Pitch added to favourites",
		"favourite": fav,
	})
}

func RemoveFavourite(c *fiber.Ctx) error {
	pitchID, ok := paramID(c, "pitch_id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pitch ID",
		})
	}

	// Hard delete so the unique pair can be added again.
	res := database.GetDB().Unscoped().
		Where("investor_id = ? AND pitch_id = ?", claimsOf(c).UserID, pitchID).
		Delete(&model.Favourite{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Favourite not found",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListFavourites returns the investor's bookmarked pitches that are still published.
func ListFavourites(c *fiber.Ctx) error {
	investor, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}

	var favourites []model.Favourite
	if err := database.GetDB().
		Where("investor_id = ?", investor.ID).
		Preload("Pitch", "status = ?", model.PitchStatusPublished).
		Order("created_at desc").
		Find(&favourites).Error; err != nil {
		return err
	}

	pitches := make([]model.Pitch, 0, len(favourites))
	for _, fav := range favourites {
		if fav.Pitch.ID != 0 {
			pitches = append(pitches, fav.Pitch)
		}
	}
	redactFor(investor, pitches)

	return c.JSON(pitches)
}
