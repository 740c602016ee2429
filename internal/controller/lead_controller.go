package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/utils/validation"
)

type LeadInput struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// ContactPitch records an investor's interest and emails the entrepreneur.
// The route requires the contact feature.
func ContactPitch(c *fiber.Ctx) error {
	pitchID, ok := paramID(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pitch ID",
		})
	}

	input := new(LeadInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Message = strings.TrimSpace(input.Message)
	if err := validation.Struct(input); err != nil {
		return err
	}

	investor, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}

	pitch, err := findVisiblePitch(investor, pitchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Pitch not found",
		})
	}
	if err != nil {
		return err
	}

	owner, err := loadUser(pitch.UserID)
	if err != nil {
		return err
	}

	lead := model.Lead{
		PitchID:        pitch.ID,
		EntrepreneurID: owner.ID,
		InvestorID:     investor.ID,
		Message:        input.Message,
		Status:         model.LeadStatusNew,
	}
	if err := database.GetDB().Omit("Pitch", "Investor").Create(&lead).Error; err != nil {
		return err
	}

	sendEmail("investor interest", func(s *email.EmailService) error {
		return s.SendInvestorInterest(owner.Email, email.InvestorInterestData{
			EntrepreneurName: owner.GetFullName(),
			PitchTitle:       pitch.Title,
			InvestorName:     investor.GetFullName(),
			InvestorEmail:    investor.Email,
			InvestorCountry:  investor.Country,
			Message:          input.Message,
		})
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Your message has been sent to the entrepreneur.",
		"lead_id": lead.ID,
	})
}

func GetMyLeads(c *fiber.Ctx) error {
	claims := claimsOf(c)

	var leads []model.Lead
	query := database.GetDB().
		Where("entrepreneur_id = ?", claims.UserID).
		Preload("Pitch").
		Preload("Investor")

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if readStatus := c.Query("read"); readStatus != "" {
		query = query.Where("read_status = ?", readStatus == "true")
	}
	if pitchID := c.QueryInt("pitch_id", 0); pitchID > 0 {
		query = query.Where("pitch_id = ?", pitchID)
	}

	if err := query.Order("created_at desc").Find(&leads).Error; err != nil {
		return err
	}

	return c.JSON(leads)
}

func findOwnLead(c *fiber.Ctx) (*model.Lead, error) {
	leadID, ok := paramID(c, "id")
	if !ok {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid lead ID")
	}

	var lead model.Lead
	if err := database.GetDB().First(&lead, leadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Lead not found")
		}
		return nil, err
	}
	if lead.EntrepreneurID != claimsOf(c).UserID {
		return nil, fiber.NewError(fiber.StatusForbidden, "Not authorized to update this lead")
	}
	return &lead, nil
}

func UpdateLeadStatus(c *fiber.Ctx) error {
	lead, err := findOwnLead(c)
	if err != nil {
		return err
	}

	input := struct {
		Status string `json:"status"`
	}{}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	if !model.ValidLeadStatus(input.Status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid status value",
			"valid_statuses": []model.LeadStatus{
				model.LeadStatusNew,
				model.LeadStatusContacted,
				model.LeadStatusDeclined,
				model.LeadStatusClosed,
			},
		})
	}

	if err := database.GetDB().Model(lead).Updates(map[string]interface{}{
		"status":      input.Status,
		"read_status": true,
	}).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"message": "Lead status updated successfully",
		"lead":    lead,
	})
}

func MarkLeadAsRead(c *fiber.Ctx) error {
	lead, err := findOwnLead(c)
	if err != nil {
		return err
	}

	if err := database.GetDB().Model(lead).Update("read_status", true).Error; err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusOK)
}
