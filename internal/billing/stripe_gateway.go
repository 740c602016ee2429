package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/invoice"
	"github.com/stripe/stripe-go/v74/price"
	"github.com/stripe/stripe-go/v74/product"
	stripesub "github.com/stripe/stripe-go/v74/subscription"
	"github.com/stripe/stripe-go/v74/webhook"

	"konnectsphere_backend/pkg/subscription"
)

// StripeGateway implements Gateway and WebhookParser on stripe-go.
type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func isMissing(err error) bool {
	var serr *stripe.Error
	return errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing
}

func (g *StripeGateway) EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	if req.CustomerID != "" {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		c, err := customer.Get(req.CustomerID, params)
		switch {
		case err == nil && !c.Deleted:
			return c.ID, nil
		case err != nil && !isMissing(err):
			return "", fmt.Errorf("stripe: get customer %s: %w", req.CustomerID, err)
		}
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
		Name:  stripe.String(req.Name),
	}
	params.Context = ctx
	params.AddMetadata(MetaUserID, formatUint(req.UserID))

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) EnsureProduct(ctx context.Context, spec ProductSpec) (string, error) {
	if spec.ID != "" {
		params := &stripe.ProductParams{}
		params.Context = ctx
		p, err := product.Get(spec.ID, params)
		switch {
		case err == nil && p.Active && !p.Deleted:
			return p.ID, nil
		case err != nil && !isMissing(err):
			return "", fmt.Errorf("stripe: get product %s: %w", spec.ID, err)
		}
	}

	params := &stripe.ProductParams{
		Name: stripe.String(spec.Name),
	}
	if spec.Description != "" {
		params.Description = stripe.String(spec.Description)
	}
	params.Context = ctx
	params.AddMetadata(MetaPlanID, formatUint(spec.PlanID))

	p, err := product.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create product: %w", err)
	}
	return p.ID, nil
}

func (g *StripeGateway) EnsurePrice(ctx context.Context, spec PriceSpec) (string, error) {
	if spec.ID != "" {
		params := &stripe.PriceParams{}
		params.Context = ctx
		p, err := price.Get(spec.ID, params)
		switch {
		case err == nil && priceMatches(p, spec):
			return p.ID, nil
		case err != nil && !isMissing(err):
			return "", fmt.Errorf("stripe: get price %s: %w", spec.ID, err)
		}
	}

	params := &stripe.PriceParams{
		Product:    stripe.String(spec.ProductID),
		UnitAmount: stripe.Int64(spec.Amount),
		Currency:   stripe.String(strings.ToLower(spec.Currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(spec.Interval.GatewayInterval()),
		},
	}
	params.Context = ctx

	p, err := price.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create price: %w", err)
	}
	return p.ID, nil
}

// priceMatches rejects archived prices and prices whose amount, currency,
// interval or product drifted from the local catalogue.
func priceMatches(p *stripe.Price, spec PriceSpec) bool {
	if p == nil || !p.Active || p.Deleted {
		return false
	}
	if p.UnitAmount != spec.Amount || !strings.EqualFold(string(p.Currency), spec.Currency) {
		return false
	}
	if p.Recurring == nil || string(p.Recurring.Interval) != spec.Interval.GatewayInterval() {
		return false
	}
	if p.Product != nil && p.Product.ID != "" && p.Product.ID != spec.ProductID {
		return false
	}
	return true
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return toCheckoutSession(s), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	s, err := session.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get checkout session %s: %w", id, err)
	}
	return toCheckoutSession(s), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*GatewaySubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := stripesub.Get(id, params)
	if isMissing(err) {
		return nil, fmt.Errorf("stripe: get subscription %s: %w: %w", id, ErrGatewayNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return toGatewaySubscription(s), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*GatewaySubscription, error) {
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		s, err := stripesub.Update(id, params)
		if err != nil {
			return nil, fmt.Errorf("stripe: schedule cancel %s: %w", id, err)
		}
		return toGatewaySubscription(s), nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	s, err := stripesub.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: cancel subscription %s: %w", id, err)
	}
	return toGatewaySubscription(s), nil
}

func (g *StripeGateway) GetInvoice(ctx context.Context, id string) (*GatewayInvoice, error) {
	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := invoice.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get invoice %s: %w", id, err)
	}
	return toGatewayInvoice(inv), nil
}

func (g *StripeGateway) OutstandingBalance(ctx context.Context, customerID string) (int64, string, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	params.Context = ctx

	var total int64
	var currency string
	iter := invoice.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		total += inv.AmountRemaining
		if currency == "" {
			currency = string(inv.Currency)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, "", fmt.Errorf("stripe: list open invoices for %s: %w", customerID, err)
	}
	return total, currency, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "checkout.session."):
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.Session = toCheckoutSession(&s)
	case strings.HasPrefix(out.Type, "customer.subscription."):
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("stripe: decode subscription: %w", err)
		}
		out.Subscription = toGatewaySubscription(&s)
	case strings.HasPrefix(out.Type, "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe: decode invoice: %w", err)
		}
		out.Invoice = toGatewayInvoice(&inv)
	}
	return out, nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Mode:          string(s.Mode),
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
		// An unexpanded reference only carries the id.
		if s.Subscription.Status != "" {
			out.Subscription = toGatewaySubscription(s.Subscription)
		}
	}
	return out
}

func toGatewaySubscription(s *stripe.Subscription) *GatewaySubscription {
	out := &GatewaySubscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: subscription.UnixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   subscription.UnixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         subscription.UnixTime(s.CanceledAt),
		Metadata:           s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		p := s.Items.Data[0].Price
		out.PriceID = p.ID
		if p.Recurring != nil {
			if interval, err := subscription.ParseInterval(string(p.Recurring.Interval)); err == nil {
				out.Interval = interval
			}
		}
	}
	return out
}

func toGatewayInvoice(inv *stripe.Invoice) *GatewayInvoice {
	out := &GatewayInvoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		BillingReason:    string(inv.BillingReason),
		Currency:         string(inv.Currency),
		AmountPaid:       inv.AmountPaid,
		AmountDue:        inv.AmountDue,
		HostedInvoiceURL: inv.HostedInvoiceURL,
		PeriodStart:      subscription.UnixTime(inv.PeriodStart),
		PeriodEnd:        subscription.UnixTime(inv.PeriodEnd),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = subscription.UnixTime(inv.StatusTransitions.PaidAt)
	}
	// Subscription invoices carry the service period on the line item;
	// the top-level period is the previous billing window.
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		out.PeriodStart = subscription.UnixTime(inv.Lines.Data[0].Period.Start)
		out.PeriodEnd = subscription.UnixTime(inv.Lines.Data[0].Period.End)
	}
	return out
}
