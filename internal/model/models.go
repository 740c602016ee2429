package model

// AllModels lists every table in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&PasswordResetToken{},
		&SubscriptionPlan{},
		&SubscriptionPrice{},
		&UserSubscription{},
		&PaymentHistory{},
		&WebhookEvent{},
		&Pitch{},
		&Favourite{},
		&Lead{},
	}
}
