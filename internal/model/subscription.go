package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"konnectsphere_backend/pkg/subscription"
)

// SubscriptionPlan is seeded reference data.
type SubscriptionPlan struct {
	gorm.Model
	Name            string         `json:"name" gorm:"not null;uniqueIndex:idx_plan_name_type"`
	UserType        string         `json:"user_type" gorm:"not null;uniqueIndex:idx_plan_name_type"`
	Description     string         `json:"description"`
	PitchLimit      int            `json:"pitch_limit" gorm:"not null;default:0"`
	Visibility      string         `json:"visibility" gorm:"not null;default:'local'"` // local, global
	Features        datatypes.JSON `json:"features"`
	StripeProductID string         `json:"-"`

	Prices []SubscriptionPrice `json:"prices" gorm:"foreignKey:PlanID"`
}

type SubscriptionPrice struct {
	gorm.Model
	PlanID        uint   `json:"plan_id" gorm:"index;not null"`
	Interval      string `json:"interval" gorm:"column:billing_interval;not null"` // monthly, yearly
	Amount        int64  `json:"amount" gorm:"not null"`   // minor units
	Currency      string `json:"currency" gorm:"not null;default:'usd'"`
	StripePriceID string `json:"-" gorm:"index"`

	Plan SubscriptionPlan `json:"-" gorm:"foreignKey:PlanID"`
}

func (p *SubscriptionPrice) BillingInterval() subscription.Interval {
	interval, err := subscription.ParseInterval(p.Interval)
	if err != nil {
		return subscription.Monthly
	}
	return interval
}

// UserSubscription is the local mirror of a user's gateway subscription.
// One row per user; rows are only ever transitioned, never hard-deleted.
type UserSubscription struct {
	gorm.Model
	UserID               uint       `json:"user_id" gorm:"uniqueIndex;not null"`
	PlanID               uint       `json:"plan_id"`
	PriceID              uint       `json:"price_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"index"`
	StripeCustomerID     string     `json:"stripe_customer_id" gorm:"index"`
	Status               string     `json:"status" gorm:"not null;index;default:'incomplete'"`
	Active               bool       `json:"active" gorm:"default:false"`
	CurrentPeriodStart   time.Time  `json:"current_period_start"`
	CurrentPeriodEnd     time.Time  `json:"current_period_end" gorm:"index"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" gorm:"default:false"`
	CanceledAt           *time.Time `json:"canceled_at"`
	PitchesUsed          int        `json:"pitches_used" gorm:"default:0"`
	LastReminderAt       *time.Time `json:"-"`

	User  User              `json:"-" gorm:"foreignKey:UserID"`
	Plan  SubscriptionPlan  `json:"plan" gorm:"foreignKey:PlanID"`
	Price SubscriptionPrice `json:"price" gorm:"foreignKey:PriceID"`
}

func (s *UserSubscription) SubscriptionStatus() subscription.Status {
	return subscription.ParseStatus(s.Status)
}

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

// PaymentHistory is an append-only ledger entry per invoice event.
type PaymentHistory struct {
	gorm.Model
	UserSubscriptionID uint       `json:"user_subscription_id" gorm:"index"`
	UserID             uint       `json:"user_id" gorm:"index"`
	StripeInvoiceID    string     `json:"stripe_invoice_id" gorm:"not null;uniqueIndex:idx_payment_invoice_status"`
	Status             string     `json:"status" gorm:"not null;uniqueIndex:idx_payment_invoice_status"` // paid, failed
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	HostedInvoiceURL   string     `json:"hosted_invoice_url"`
	PeriodStart        time.Time  `json:"period_start"`
	PeriodEnd          time.Time  `json:"period_end"`
	PaidAt             *time.Time `json:"paid_at"`
}

// WebhookEvent records gateway deliveries so replays can be acknowledged
// without being processed twice.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	StripeEventID   string     `json:"stripe_event_id" gorm:"uniqueIndex;not null"`
	Type            string     `json:"type" gorm:"index;not null"`
	ProcessedAt     *time.Time `json:"processed_at"`
	ProcessingError string     `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
