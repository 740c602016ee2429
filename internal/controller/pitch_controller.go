package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"konnectsphere_backend/internal/middleware"
	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/subscription"
	"konnectsphere_backend/pkg/utils/validation"
)

type CreatePitchInput struct {
	Title string `json:"title" validate:"max=120"`
}

type TeamInput struct {
	Members []model.TeamMember `json:"members"`
}

func InitPitchController(store ObjectStore, mailer *email.EmailService) {
	objectStore = store
	emailService = mailer
}

// visiblePitches scopes published pitches to what viewer may see: everything
// with global visibility, otherwise pitches in the viewer's country plus
// those whose owner's plan grants global reach.
func visiblePitches(db *gorm.DB, viewer *model.User) *gorm.DB {
	q := db.Model(&model.Pitch{}).
		Joins("JOIN users owner ON owner.id = pitches.user_id AND owner.deleted_at IS NULL").
		Where("pitches.status = ?", model.PitchStatusPublished)

	if viewer.Capabilities().GlobalVisibility {
		return q
	}

	var globalPlans []string
	for _, plan := range subscription.PlansWithGlobalVisibility(subscription.RoleEntrepreneur) {
		globalPlans = append(globalPlans, string(plan))
	}
	if len(globalPlans) == 0 {
		return q.Where("pitches.country = ?", viewer.Country)
	}
	return q.Where("(pitches.country = ? OR owner.subscription_plan IN ?)", viewer.Country, globalPlans)
}

func applyPitchFilters(q *gorm.DB, c *fiber.Ctx) *gorm.DB {
	if industry := c.Query("industry"); industry != "" {
		q = q.Where("pitches.industry = ?", industry)
	}
	if country := c.Query("country"); country != "" {
		q = q.Where("pitches.country = ?", strings.ToUpper(country))
	}
	if stage := c.Query("stage"); stage != "" {
		q = q.Where("pitches.stage = ?", stage)
	}
	if minAsk := c.QueryInt("min_ask", 0); minAsk > 0 {
		q = q.Where("pitches.funding_ask >= ?", minAsk)
	}
	if maxAsk := c.QueryInt("max_ask", 0); maxAsk > 0 {
		q = q.Where("pitches.funding_ask <= ?", maxAsk)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q = q.Where("LOWER(pitches.title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	return q
}

// redactFor hides sections the viewer's plan does not unlock.
func redactFor(viewer *model.User, pitches []model.Pitch) {
	if viewer.Capabilities().DocumentsAllowed {
		return
	}
	for i := range pitches {
		pitches[i].Documents = nil
	}
}

func savePitch(db *gorm.DB, pitch *model.Pitch) error {
	return db.Omit(clause.Associations).Save(pitch).Error
}

func requireDraft(c *fiber.Ctx, pitch *model.Pitch) error {
	if pitch.IsDraft() {
		return nil
	}
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"error": "Published pitches can no longer be edited",
	})
}

func CreatePitch(c *fiber.Ctx) error {
	claims := claimsOf(c)
	input := new(CreatePitchInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid input",
			})
		}
	}
	if err := validation.Struct(input); err != nil {
		return err
	}

	pitch := model.Pitch{
		UserID: claims.UserID,
		Title:  strings.TrimSpace(input.Title),
	}
	if err := savePitch(database.GetDB(), &pitch); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(pitch)
}

func GetMyPitch(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	return c.JSON(fiber.Map{
		"pitch":         pitch,
		"missing_steps": pitch.MissingSteps(),
	})
}

func ListMyPitches(c *fiber.Ctx) error {
	claims := claimsOf(c)

	var pitches []model.Pitch
	q := database.GetDB().Where("user_id = ?", claims.UserID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at desc").Find(&pitches).Error; err != nil {
		return err
	}

	return c.JSON(pitches)
}

// UpdatePitchStep stores one section of a draft and marks the step done.
func UpdatePitchStep(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	step := c.Params("step")
	if !model.ValidStep(step) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown pitch step",
		})
	}

	switch model.PitchStep(step) {
	case model.StepCompanyInfo:
		var info model.CompanyInfo
		if err := c.BodyParser(&info); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid input",
			})
		}
		if err := validation.Struct(info); err != nil {
			return err
		}
		pitch.SetCompanyInfo(info)

	case model.StepPitchDeal:
		var deal model.PitchDeal
		if err := c.BodyParser(&deal); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid input",
			})
		}
		if err := validation.Struct(deal); err != nil {
			return err
		}
		pitch.SetPitchDeal(deal)

	case model.StepTeam:
		var team TeamInput
		if err := c.BodyParser(&team); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid input",
			})
		}
		if len(team.Members) == 0 {
			return validation.NewError("members", "at least one team member is required")
		}
		if err := validation.Slice(team.Members, "members"); err != nil {
			return err
		}
		pitch.SetTeam(team.Members)

	default:
		// Media and documents are filled by their upload endpoints.
		pitch.MarkStepCompleted(model.PitchStep(step))
	}

	if err := savePitch(database.GetDB(), pitch); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"pitch":         pitch,
		"missing_steps": pitch.MissingSteps(),
	})
}

// PublishPitch runs behind CheckPitchLimit, which counts published pitches.
func PublishPitch(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	if err := requireDraft(c, pitch); err != nil {
		return err
	}

	if missing := pitch.MissingSteps(); len(missing) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":         "Complete every required step before publishing",
			"missing_steps": missing,
		})
	}

	now := time.Now().UTC()
	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Pitch{}).
			Where("id = ? AND status = ?", pitch.ID, model.PitchStatusDraft).
			Updates(map[string]interface{}{
				"status":       model.PitchStatusPublished,
				"published_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyPublished
		}
		return tx.Model(&model.UserSubscription{}).
			Where("user_id = ?", pitch.UserID).
			Update("pitches_used", gorm.Expr("pitches_used + 1")).Error
	})
	if errors.Is(err, errAlreadyPublished) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Pitch is already published",
		})
	}
	if err != nil {
		return err
	}

	pitch.Status = model.PitchStatusPublished
	pitch.PublishedAt = &now
	log.Infof("Pitch %d published by user %d", pitch.ID, pitch.UserID)

	if owner, err := loadUser(pitch.UserID); err == nil {
		sendEmail("pitch published", func(s *email.EmailService) error {
			return s.SendPitchPublished(owner.Email, owner.GetFullName(), pitch.Title, pitch.Slug)
		})
	}

	return c.JSON(fiber.Map{
		"message": "Pitch published",
		"pitch":   pitch,
	})
}

var errAlreadyPublished = errors.New("pitch already published")

// DeletePitch removes the pitch with its favourites and leads, releases a
// published slot on the owner's subscription and deletes stored objects.
func DeletePitch(c *fiber.Ctx) error {
	pitch := middleware.OwnedPitch(c)
	wasPublished := pitch.Status == model.PitchStatusPublished

	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("pitch_id = ?", pitch.ID).Delete(&model.Favourite{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pitch_id = ?", pitch.ID).Delete(&model.Lead{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Pitch{}, pitch.ID).Error; err != nil {
			return err
		}
		if !wasPublished {
			return nil
		}
		return tx.Model(&model.UserSubscription{}).
			Where("user_id = ? AND pitches_used > 0", pitch.UserID).
			Update("pitches_used", gorm.Expr("pitches_used - 1")).Error
	})
	if err != nil {
		return err
	}

	for _, key := range pitch.StorageKeys() {
		if err := objectStore.Delete(c.UserContext(), key); err != nil {
			log.Warnf("Could not delete object %s of pitch %d: %v", key, pitch.ID, err)
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// BrowsePitches lists published pitches visible to the investor.
func BrowsePitches(c *fiber.Ctx) error {
	viewer, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}

	page, limit, offset := pagination(c)
	q := applyPitchFilters(visiblePitches(database.GetDB(), viewer), c).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}

	var pitches []model.Pitch
	if err := q.Order("pitches.published_at DESC").Limit(limit).Offset(offset).Find(&pitches).Error; err != nil {
		return err
	}
	redactFor(viewer, pitches)

	return c.JSON(fiber.Map{
		"pitches": pitches,
		"page":    page,
		"limit":   limit,
		"total":   total,
	})
}

func GetPitchBySlug(c *fiber.Ctx) error {
	viewer, err := loadUser(claimsOf(c).UserID)
	if err != nil {
		return err
	}

	var pitch model.Pitch
	err = visiblePitches(database.GetDB(), viewer).
		Where("pitches.slug = ?", c.Params("slug")).
		First(&pitch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Pitch not found",
		})
	}
	if err != nil {
		return err
	}

	pitches := []model.Pitch{pitch}
	redactFor(viewer, pitches)

	var favourite int64
	database.GetDB().Model(&model.Favourite{}).
		Where("investor_id = ? AND pitch_id = ?", viewer.ID, pitch.ID).
		Count(&favourite)

	return c.JSON(fiber.Map{
		"pitch":     pitches[0],
		"favourite": favourite > 0,
	})
}

// findVisiblePitch loads a published pitch by id if viewer may see it.
func findVisiblePitch(viewer *model.User, id uint) (*model.Pitch, error) {
	var pitch model.Pitch
	if err := visiblePitches(database.GetDB(), viewer).Where("pitches.id = ?", id).First(&pitch).Error; err != nil {
		return nil, err
	}
	return &pitch, nil
}
