package billing

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrPlanNotFound       = errors.New("subscription plan not found")
	ErrPriceNotFound      = errors.New("subscription price not found")
	ErrPlanRoleMismatch   = errors.New("plan is not available for this account type")
	ErrAlreadySubscribed  = errors.New("already subscribed to this plan")
	ErrNoSubscription     = errors.New("no active subscription found")
	ErrCheckoutIncomplete = errors.New("checkout session is not complete")
	ErrSessionMismatch    = errors.New("checkout session belongs to another user")

	// ErrGatewayNotFound marks objects the gateway no longer has.
	ErrGatewayNotFound = errors.New("not found on the billing gateway")
)
