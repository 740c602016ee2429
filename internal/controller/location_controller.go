package controller

import (
	"github.com/gofiber/fiber/v2"

	"konnectsphere_backend/pkg/utils/location"
)

// GetCountries lists supported markets, optionally for one ?region=.
func GetCountries(c *fiber.Ctx) error {
	if region := c.Query("region"); region != "" {
		return c.JSON(fiber.Map{
			"countries": location.GetCountriesByRegion(region),
		})
	}
	return c.JSON(fiber.Map{
		"countries": location.GetCountries(),
	})
}

func GetCountry(c *fiber.Ctx) error {
	country, ok := location.Lookup(c.Params("code"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Country not supported",
		})
	}
	return c.JSON(country)
}
