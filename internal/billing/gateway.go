package billing

import (
	"context"
	"strconv"
	"time"

	"konnectsphere_backend/pkg/subscription"
)

// Metadata keys attached to checkout sessions and the subscriptions they create.
const (
	MetaUserID  = "user_id"
	MetaPlanID  = "plan_id"
	MetaPriceID = "price_id"
)

// Gateway is the subset of the payment provider the marketplace relies on.
type Gateway interface {
	// EnsureCustomer returns customerID when the provider still knows it,
	// otherwise a freshly created customer id.
	EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error)
	EnsureProduct(ctx context.Context, spec ProductSpec) (string, error)
	EnsurePrice(ctx context.Context, spec PriceSpec) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*GatewaySubscription, error)
	GetInvoice(ctx context.Context, id string) (*GatewayInvoice, error)
	// OutstandingBalance sums the customer's open invoices in minor units.
	OutstandingBalance(ctx context.Context, customerID string) (int64, string, error)
}

// WebhookParser verifies a signed delivery and decodes its payload.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

type CustomerRequest struct {
	CustomerID string
	Email      string
	Name       string
	UserID     uint
}

type ProductSpec struct {
	ID          string
	Name        string
	Description string
	PlanID      uint
}

type PriceSpec struct {
	ID        string
	ProductID string
	Amount    int64
	Currency  string
	Interval  subscription.Interval
}

type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID             string
	URL            string
	Mode           string
	Status         string
	PaymentStatus  string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
	Subscription   *GatewaySubscription
}

func (s *CheckoutSession) Complete() bool {
	return s.Status == "complete"
}

type GatewaySubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	Interval           subscription.Interval
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         time.Time
	Metadata           map[string]string
}

type GatewayInvoice struct {
	ID               string
	CustomerID       string
	SubscriptionID   string
	Status           string
	BillingReason    string
	Currency         string
	AmountPaid       int64
	AmountDue        int64
	HostedInvoiceURL string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	PaidAt           time.Time
}

// Event is a verified webhook delivery. Exactly one payload field is set
// for the event types the service handles.
type Event struct {
	ID           string
	Type         string
	Session      *CheckoutSession
	Subscription *GatewaySubscription
	Invoice      *GatewayInvoice
}

func metaUint(meta map[string]string, key string) uint {
	v, err := strconv.ParseUint(meta[key], 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
