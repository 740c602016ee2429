package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"konnectsphere_backend/pkg/subscription"
	"konnectsphere_backend/pkg/utils/jwt"
)

// AuthMiddleware accepts the session cookie or an Authorization bearer
// token and stores the claims under Locals("user").
func AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(jwt.CookieName)
		if token == "" {
			if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := jwt.ValidateToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user", claims)
		return c.Next()
	}
}

// Claims returns the authenticated user's claims, or nil on public routes.
func Claims(c *fiber.Ctx) *jwt.Claims {
	claims, _ := c.Locals("user").(*jwt.Claims)
	return claims
}

// RequireRole lets only the given roles through. Must run after AuthMiddleware.
func RequireRole(roles ...subscription.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}
		for _, role := range roles {
			if subscription.Role(claims.Role) == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "This action is not available for your account type",
		})
	}
}
