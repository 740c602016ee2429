package controller

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/subscription"
)

// ListInvestors lets entrepreneurs browse investor profiles.
func ListInvestors(c *fiber.Ctx) error {
	page, limit, offset := pagination(c)

	q := database.GetDB().Model(&model.User{}).Where("user_type = ?", string(subscription.RoleInvestor))
	if country := c.Query("country"); country != "" {
		q = q.Where("country = ?", strings.ToUpper(country))
	}
	if industry := c.Query("industry"); industry != "" {
		q = q.Where("industry = ?", industry)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)", like, like)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}

	var investors []model.User
	if err := q.Order("created_at desc").Limit(limit).Offset(offset).Find(&investors).Error; err != nil {
		return err
	}

	profiles := make([]map[string]interface{}, 0, len(investors))
	for i := range investors {
		profiles = append(profiles, investors[i].GetPublicProfile())
	}

	return c.JSON(fiber.Map{
		"investors": profiles,
		"page":      page,
		"limit":     limit,
		"total":     total,
	})
}
