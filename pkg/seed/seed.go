package seed

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/subscription"
)

type planSeed struct {
	role        subscription.Role
	name        subscription.PlanName
	description string
	prices      []model.SubscriptionPrice
}

var catalogue = []planSeed{
	{
		role:        subscription.RoleEntrepreneur,
		name:        subscription.BasicPlan,
		description: "One pitch, visible to investors in your country",
	},
	{
		role:        subscription.RoleEntrepreneur,
		name:        subscription.PremiumPlan,
		description: "Up to five pitches with global reach and document uploads",
		prices: []model.SubscriptionPrice{
			{Interval: string(subscription.Monthly), Amount: 6900, Currency: "usd"},
			{Interval: string(subscription.Yearly), Amount: 69000, Currency: "usd"},
		},
	},
	{
		role:        subscription.RoleInvestor,
		name:        subscription.BasicPlan,
		description: "Browse pitches from your country",
	},
	{
		role:        subscription.RoleInvestor,
		name:        subscription.PremiumPlan,
		description: "Browse pitches worldwide, read documents and contact founders",
		prices: []model.SubscriptionPrice{
			{Interval: string(subscription.Monthly), Amount: 9900, Currency: "usd"},
			{Interval: string(subscription.Yearly), Amount: 99000, Currency: "usd"},
		},
	},
}

// SeedSubscriptionPlans inserts the plan catalogue. Existing rows are kept,
// including any gateway ids already stored on them.
func SeedSubscriptionPlans(db *gorm.DB) error {
	for _, entry := range catalogue {
		caps := subscription.CapabilitiesFor(entry.role, entry.name)
		features, err := json.Marshal(map[string]bool{
			string(subscription.GlobalVisibility): caps.GlobalVisibility,
			string(subscription.Documents):        caps.DocumentsAllowed,
			string(subscription.ContactPitches):   caps.ContactAllowed,
		})
		if err != nil {
			return err
		}

		visibility := "local"
		if caps.GlobalVisibility {
			visibility = "global"
		}

		plan := model.SubscriptionPlan{
			Name:        string(entry.name),
			UserType:    string(entry.role),
			Description: entry.description,
			PitchLimit:  caps.PitchLimit,
			Visibility:  visibility,
			Features:    datatypes.JSON(features),
		}
		if err := db.Where(model.SubscriptionPlan{Name: plan.Name, UserType: plan.UserType}).
			FirstOrCreate(&plan).Error; err != nil {
			return fmt.Errorf("seed plan %s/%s: %w", entry.role, entry.name, err)
		}

		for _, p := range entry.prices {
			price := p
			price.PlanID = plan.ID
			if err := db.Where(model.SubscriptionPrice{PlanID: plan.ID, Interval: price.Interval}).
				FirstOrCreate(&price).Error; err != nil {
				return fmt.Errorf("seed price %s/%s/%s: %w", entry.role, entry.name, price.Interval, err)
			}
		}
	}

	log.Info("Subscription plans seeded")
	return nil
}
