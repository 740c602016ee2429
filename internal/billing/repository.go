package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/subscription"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	ListPlans(userType string) ([]model.SubscriptionPlan, error)
	GetPrice(id uint) (*model.SubscriptionPrice, error)
	FindPriceByStripeID(stripePriceID string) (*model.SubscriptionPrice, error)
	SetPlanProductID(planID uint, productID string) error
	SetPriceStripeID(priceID uint, stripePriceID string) error

	GetUser(id uint) (*model.User, error)
	FindUserByCustomerID(customerID string) (*model.User, error)
	SetUserCustomerID(userID uint, customerID string) error
	SetUserPlan(userID uint, plan string) error

	FindSubscriptionByUser(userID uint) (*model.UserSubscription, error)
	FindSubscriptionByStripeID(stripeSubscriptionID string) (*model.UserSubscription, error)
	FindSubscriptionByCustomerID(customerID string) (*model.UserSubscription, error)
	SaveSubscription(sub *model.UserSubscription) error
	ListLapsed(now time.Time) ([]model.UserSubscription, error)
	ListExpiring(now, until time.Time) ([]model.UserSubscription, error)
	ListResyncable() ([]model.UserSubscription, error)

	CreatePaymentIfNotExists(p *model.PaymentHistory) (bool, error)
	ListPayments(userID uint) ([]model.PaymentHistory, error)

	CreateWebhookEventIfNotExists(event *model.WebhookEvent) (bool, *model.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListPlans(userType string) ([]model.SubscriptionPlan, error) {
	var plans []model.SubscriptionPlan
	q := r.db.Preload("Prices", func(db *gorm.DB) *gorm.DB {
		return db.Order("amount ASC")
	}).Order("pitch_limit ASC, id ASC")
	if userType != "" {
		q = q.Where("user_type = ?", userType)
	}
	err := q.Find(&plans).Error
	return plans, err
}

func (r *gormRepository) GetPrice(id uint) (*model.SubscriptionPrice, error) {
	var p model.SubscriptionPrice
	if err := r.db.Preload("Plan").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPriceByStripeID(stripePriceID string) (*model.SubscriptionPrice, error) {
	var p model.SubscriptionPrice
	if err := r.db.Preload("Plan").Where("stripe_price_id = ?", stripePriceID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SetPlanProductID(planID uint, productID string) error {
	return r.db.Model(&model.SubscriptionPlan{}).Where("id = ?", planID).
		Update("stripe_product_id", productID).Error
}

func (r *gormRepository) SetPriceStripeID(priceID uint, stripePriceID string) error {
	return r.db.Model(&model.SubscriptionPrice{}).Where("id = ?", priceID).
		Update("stripe_price_id", stripePriceID).Error
}

func (r *gormRepository) GetUser(id uint) (*model.User, error) {
	var u model.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindUserByCustomerID(customerID string) (*model.User, error) {
	var u model.User
	if err := r.db.Where("stripe_customer_id = ?", customerID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) SetUserCustomerID(userID uint, customerID string) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

func (r *gormRepository) SetUserPlan(userID uint, plan string) error {
	return r.db.Model(&model.User{}).Where("id = ?", userID).
		Update("subscription_plan", plan).Error
}

func (r *gormRepository) subscriptions() *gorm.DB {
	return r.db.Preload("User").Preload("Plan").Preload("Price")
}

func (r *gormRepository) FindSubscriptionByUser(userID uint) (*model.UserSubscription, error) {
	var sub model.UserSubscription
	if err := r.subscriptions().Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByStripeID(stripeSubscriptionID string) (*model.UserSubscription, error) {
	var sub model.UserSubscription
	if err := r.subscriptions().Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByCustomerID(customerID string) (*model.UserSubscription, error) {
	var sub model.UserSubscription
	if err := r.subscriptions().Where("stripe_customer_id = ?", customerID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *model.UserSubscription) error {
	return r.db.Omit(clause.Associations).Save(sub).Error
}

func (r *gormRepository) ListLapsed(now time.Time) ([]model.UserSubscription, error) {
	var subs []model.UserSubscription
	err := r.subscriptions().
		Where("status IN ? AND current_period_end < ?", subscription.EntitlingStatuses, now).
		Find(&subs).Error
	return subs, err
}

// ListExpiring returns live subscriptions ending in [now, until] that have
// not been reminded during their current period.
func (r *gormRepository) ListExpiring(now, until time.Time) ([]model.UserSubscription, error) {
	var subs []model.UserSubscription
	err := r.subscriptions().
		Where("status IN ? AND active = ?", subscription.EntitlingStatuses, true).
		Where("current_period_end >= ? AND current_period_end <= ?", now, until).
		Where("(last_reminder_at IS NULL OR last_reminder_at < current_period_start)").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListResyncable() ([]model.UserSubscription, error) {
	terminal := append([]string{string(subscription.StatusIncompleteExpired)}, subscription.CancelledStatuses...)
	var subs []model.UserSubscription
	err := r.subscriptions().
		Where("stripe_subscription_id <> ''").
		Where("status NOT IN ?", terminal).
		Find(&subs).Error
	return subs, err
}

// CreatePaymentIfNotExists inserts p unless a record with the same invoice
// id and status exists. The unique index backs up the existence check when
// two deliveries race.
func (r *gormRepository) CreatePaymentIfNotExists(p *model.PaymentHistory) (bool, error) {
	var count int64
	if err := r.db.Model(&model.PaymentHistory{}).
		Where("stripe_invoice_id = ? AND status = ?", p.StripeInvoiceID, p.Status).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_invoice_id"},
			{Name: "status"},
		},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListPayments(userID uint) ([]model.PaymentHistory, error) {
	var payments []model.PaymentHistory
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *model.WebhookEvent) (bool, *model.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored model.WebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
