package cron

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/email"
)

const (
	JobDraftCleanup      = "draft-cleanup"
	JobResetTokenCleanup = "reset-token-cleanup"

	// DefaultDraftMaxAge is how long an empty draft may sit untouched.
	DefaultDraftMaxAge = 30 * 24 * time.Hour
)

// DraftCleanup removes drafts that were abandoned before anything worth
// keeping was entered and tells each owner how many went.
type DraftCleanup struct {
	DB     *gorm.DB
	Mailer *email.EmailService
	MaxAge time.Duration
	Now    func() time.Time
}

type draftOwner struct {
	user  model.User
	count int
}

func (d *DraftCleanup) Run(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if d.Now != nil {
		now = d.Now()
	}
	maxAge := d.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultDraftMaxAge
	}

	var drafts []model.Pitch
	if err := d.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.PitchStatusDraft, now.Add(-maxAge)).
		Preload("User").
		Find(&drafts).Error; err != nil {
		return 0, err
	}

	owners := map[uint]*draftOwner{}
	removed := 0
	for i := range drafts {
		draft := &drafts[i]
		if draft.HasMeaningfulContent() {
			continue
		}
		if err := d.DB.WithContext(ctx).Delete(&model.Pitch{}, draft.ID).Error; err != nil {
			log.Errorf("Could not remove empty draft %d: %v", draft.ID, err)
			continue
		}
		removed++

		o, ok := owners[draft.UserID]
		if !ok {
			o = &draftOwner{user: draft.User}
			owners[draft.UserID] = o
		}
		o.count++
	}

	if d.Mailer != nil {
		for _, o := range owners {
			if o.user.Email == "" {
				continue
			}
			if err := d.Mailer.SendDraftRemoved(o.user.Email, o.user.GetFullName(), o.count); err != nil {
				log.Warnf("Could not send draft cleanup email to %s: %v", o.user.Email, err)
			}
		}
	}

	return removed, nil
}

// CleanupResetTokens deletes password reset tokens that are spent or expired.
func CleanupResetTokens(db *gorm.DB, now func() time.Time) Job {
	return func(ctx context.Context) (int, error) {
		res := db.WithContext(ctx).
			Where("expires_at < ? OR used_at IS NOT NULL", now()).
			Delete(&model.PasswordResetToken{})
		return int(res.RowsAffected), res.Error
	}
}

// RegisterMaintenanceJobs schedules the draft sweep daily at 04:00 UTC and
// the reset token sweep hourly.
func RegisterMaintenanceJobs(s *Scheduler, drafts *DraftCleanup) error {
	if err := s.Register(JobDraftCleanup, "0 4 * * *", drafts.Run); err != nil {
		return err
	}
	return s.Register(JobResetTokenCleanup, "@hourly", CleanupResetTokens(drafts.DB, func() time.Time {
		return time.Now().UTC()
	}))
}
