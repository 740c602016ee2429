package controller

import (
	"github.com/gofiber/fiber/v2"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
)

type EntrepreneurStats struct {
	TotalPitches       int64 `json:"total_pitches"`
	DraftPitches       int64 `json:"draft_pitches"`
	PublishedPitches   int64 `json:"published_pitches"`
	PitchLimit         int   `json:"pitch_limit"`
	FavouritesReceived int64 `json:"favourites_received"`
	TotalLeads         int64 `json:"total_leads"`
	UnreadLeads        int64 `json:"unread_leads"`
}

type InvestorStats struct {
	Favourites int64 `json:"favourites"`
	LeadsSent  int64 `json:"leads_sent"`
}

// GetDashboardStats summarises the signed-in user's activity by role.
func GetDashboardStats(c *fiber.Ctx) error {
	user, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}
	db := database.GetDB()

	if user.IsInvestor() {
		var stats InvestorStats
		if err := db.Model(&model.Favourite{}).Where("investor_id = ?", user.ID).Count(&stats.Favourites).Error; err != nil {
			return err
		}
		if err := db.Model(&model.Lead{}).Where("investor_id = ?", user.ID).Count(&stats.LeadsSent).Error; err != nil {
			return err
		}
		return c.JSON(stats)
	}

	stats := EntrepreneurStats{PitchLimit: user.Capabilities().PitchLimit}

	var byStatus []struct {
		Status model.PitchStatus
		Count  int64
	}
	if err := db.Model(&model.Pitch{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", user.ID).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return err
	}
	for _, row := range byStatus {
		stats.TotalPitches += row.Count
		switch row.Status {
		case model.PitchStatusDraft:
			stats.DraftPitches = row.Count
		case model.PitchStatusPublished:
			stats.PublishedPitches = row.Count
		}
	}

	if err := db.Model(&model.Favourite{}).
		Joins("JOIN pitches ON pitches.id = favourites.pitch_id AND pitches.deleted_at IS NULL").
		Where("pitches.user_id = ?", user.ID).
		Count(&stats.FavouritesReceived).Error; err != nil {
		return err
	}

	if err := db.Model(&model.Lead{}).Where("entrepreneur_id = ?", user.ID).Count(&stats.TotalLeads).Error; err != nil {
		return err
	}
	if err := db.Model(&model.Lead{}).
		Where("entrepreneur_id = ? AND read_status = ?", user.ID, false).
		Count(&stats.UnreadLeads).Error; err != nil {
		return err
	}

	return c.JSON(stats)
}
