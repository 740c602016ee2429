package controller

import (
	"context"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/utils/jwt"
)

// ObjectStore is the media bucket: *cloudflare.Client in production,
// *storage.Disk when R2 is not configured.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

var (
	emailService *email.EmailService
	objectStore  ObjectStore
	cookieSecure bool
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func claimsOf(c *fiber.Ctx) *jwt.Claims {
	return c.Locals("user").(*jwt.Claims)
}

func loadUser(id uint) (*model.User, error) {
	var user model.User
	if err := database.GetDB().First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// pagination reads ?page= and ?limit= with sane bounds.
func pagination(c *fiber.Ctx) (page, limit, offset int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit = c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	return page, limit, (page - 1) * limit
}

// sendEmail runs fn when an email service is configured; failures are logged.
func sendEmail(what string, fn func(*email.EmailService) error) {
	if emailService == nil {
		return
	}
	if err := fn(emailService); err != nil {
		log.Warnf("Could not send %s email: %v", what, err)
	}
}
