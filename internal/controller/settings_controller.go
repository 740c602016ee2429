package controller

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/utils/cloudflare"
	"konnectsphere_backend/pkg/utils/image"
	"konnectsphere_backend/pkg/utils/validation"
)

type ProfileUpdateInput struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Country   string `json:"country" validate:"required,country"`
	Industry  string `json:"industry"`
	Bio       string `json:"bio" validate:"max=2000"`
}

func GetProfile(c *fiber.Ctx) error {
	claims := claimsOf(c)

	user, err := loadUser(claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	profile := user.GetPublicProfile()
	profile["email"] = user.Email
	return c.JSON(profile)
}

func UpdateProfile(c *fiber.Ctx) error {
	claims := claimsOf(c)
	input := new(ProfileUpdateInput)

	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validation.Struct(input); err != nil {
		return err
	}

	user, err := loadUser(claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	updates := map[string]interface{}{
		"first_name": strings.TrimSpace(input.FirstName),
		"last_name":  strings.TrimSpace(input.LastName),
		"country":    strings.TrimSpace(input.Country),
		"industry":   strings.TrimSpace(input.Industry),
		"bio":        input.Bio,
	}
	if err := database.GetDB().Model(user).Updates(updates).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Profile updated successfully",
		"user":    user.GetPublicProfile(),
	})
}

// UploadAvatar re-encodes the image as WebP, stores it in the media bucket
// and replaces the previous avatar object.
func UploadAvatar(c *fiber.Ctx) error {
	claims := claimsOf(c)

	user, err := loadUser(claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	file, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No avatar image provided",
		})
	}
	if err := validation.ValidateImage(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	converted, err := image.ToWebP(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not process image",
		})
	}

	key := cloudflare.AvatarKey(fmt.Sprintf("user-%d", user.ID), ".webp")
	avatarURL, err := objectStore.Upload(c.UserContext(), key, converted, image.WebPContentType)
	if err != nil {
		return err
	}

	if previous := user.AvatarKey; previous != "" {
		if err := objectStore.Delete(c.UserContext(), previous); err != nil {
			log.Warnf("Could not delete old avatar %s: %v", previous, err)
		}
	}

	if err := database.GetDB().Model(user).Updates(map[string]interface{}{
		"avatar":     avatarURL,
		"avatar_key": key,
	}).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Avatar uploaded successfully",
		"avatar":  avatarURL,
	})
}
