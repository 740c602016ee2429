package model

import (
	"strings"

	"gorm.io/gorm"

	"konnectsphere_backend/pkg/subscription"
)

type User struct {
	gorm.Model
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	Password string `json:"-" gorm:"not null"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserType  string `json:"user_type" gorm:"not null;index"` // enterprenuer, investor
	Country   string `json:"country" gorm:"index"`
	Industry  string `json:"industry"`
	Bio       string `json:"bio" gorm:"type:text"`
	Avatar    string `json:"avatar"`
	AvatarKey string `json:"-"`

	// Plan label, downgraded to the base tier on cancel or expiry
	SubscriptionPlan string `json:"subscription_plan" gorm:"not null;default:'Basic'"`
	StripeCustomerID string `json:"-" gorm:"index"`
	IsVerified       bool   `json:"is_verified" gorm:"default:false"`

	Pitches []Pitch `json:"-"`
}

func (u *User) Role() subscription.Role {
	return subscription.Role(u.UserType)
}

func (u *User) Plan() subscription.PlanName {
	if u.SubscriptionPlan == "" {
		return subscription.BasePlan
	}
	return subscription.PlanName(u.SubscriptionPlan)
}

func (u *User) Capabilities() subscription.Capabilities {
	return subscription.CapabilitiesFor(u.Role(), u.Plan())
}

func (u *User) IsEntrepreneur() bool {
	return u.Role() == subscription.RoleEntrepreneur
}

func (u *User) IsInvestor() bool {
	return u.Role() == subscription.RoleInvestor
}

func (u *User) GetFullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) GetPublicProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":                u.ID,
		"full_name":         u.GetFullName(),
		"user_type":         u.UserType,
		"country":           u.Country,
		"industry":          u.Industry,
		"bio":               u.Bio,
		"avatar":            u.Avatar,
		"subscription_plan": u.SubscriptionPlan,
		"is_verified":       u.IsVerified,
	}
}
