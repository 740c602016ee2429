// Package billingtest provides in-memory doubles for the billing gateway
// and the email transport.
package billingtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/pkg/email"
)

type CancelCall struct {
	ID          string
	AtPeriodEnd bool
}

// Gateway is a billing.Gateway that keeps every object in memory.
type Gateway struct {
	mu sync.Mutex
	n  int

	Customers     map[string]bool
	Products      map[string]bool
	Prices        map[string]billing.PriceSpec
	Sessions      map[string]*billing.CheckoutSession
	Subscriptions map[string]*billing.GatewaySubscription
	Invoices      map[string]*billing.GatewayInvoice
	Outstanding   map[string]int64

	CustomersCreated int
	ProductsCreated  int
	PricesCreated    int
	LastCheckout     billing.CheckoutRequest
	CancelCalls      []CancelCall

	// Err fails every call when set.
	Err                error
	GetSubscriptionErr error
	OutstandingErr     error
}

var _ billing.Gateway = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{
		Customers:     map[string]bool{},
		Products:      map[string]bool{},
		Prices:        map[string]billing.PriceSpec{},
		Sessions:      map[string]*billing.CheckoutSession{},
		Subscriptions: map[string]*billing.GatewaySubscription{},
		Invoices:      map[string]*billing.GatewayInvoice{},
		Outstanding:   map[string]int64{},
	}
}

func (g *Gateway) nextID(prefix string) string {
	g.n++
	return fmt.Sprintf("%s_test_%d", prefix, g.n)
}

func (g *Gateway) EnsureCustomer(_ context.Context, req billing.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	if req.CustomerID != "" && g.Customers[req.CustomerID] {
		return req.CustomerID, nil
	}
	id := g.nextID("cus")
	g.Customers[id] = true
	g.CustomersCreated++
	return id, nil
}

func (g *Gateway) EnsureProduct(_ context.Context, spec billing.ProductSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	if spec.ID != "" && g.Products[spec.ID] {
		return spec.ID, nil
	}
	id := g.nextID("prod")
	g.Products[id] = true
	g.ProductsCreated++
	return id, nil
}

func (g *Gateway) EnsurePrice(_ context.Context, spec billing.PriceSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	if existing, ok := g.Prices[spec.ID]; ok && spec.ID != "" &&
		existing.Amount == spec.Amount && existing.Interval == spec.Interval && existing.ProductID == spec.ProductID {
		return spec.ID, nil
	}
	id := g.nextID("price")
	stored := spec
	stored.ID = id
	g.Prices[id] = stored
	g.PricesCreated++
	return id, nil
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.LastCheckout = req
	id := g.nextID("cs")
	s := &billing.CheckoutSession{
		ID:         id,
		URL:        "https://checkout.test/" + id,
		Mode:       "subscription",
		Status:     "open",
		CustomerID: req.CustomerID,
		Metadata:   req.Metadata,
	}
	g.Sessions[id] = s
	cp := *s
	return &cp, nil
}

// CompleteSession marks sessionID paid and attaches sub to it. sub.ID is
// generated when empty and its metadata defaults to the session's.
func (g *Gateway) CompleteSession(sessionID string, sub billing.GatewaySubscription) *billing.GatewaySubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.Sessions[sessionID]
	if sub.ID == "" {
		sub.ID = g.nextID("sub")
	}
	if sub.CustomerID == "" {
		sub.CustomerID = s.CustomerID
	}
	if sub.Metadata == nil {
		sub.Metadata = s.Metadata
	}
	if sub.PriceID == "" {
		sub.PriceID = g.LastCheckout.PriceID
	}
	s.Status = "complete"
	s.PaymentStatus = "paid"
	s.SubscriptionID = sub.ID
	stored := sub
	g.Subscriptions[sub.ID] = &stored
	cp := stored
	return &cp
}

func (g *Gateway) GetCheckoutSession(_ context.Context, id string) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	s, ok := g.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", id)
	}
	cp := *s
	if sub, ok := g.Subscriptions[s.SubscriptionID]; ok {
		subCopy := *sub
		cp.Subscription = &subCopy
	}
	return &cp, nil
}

// RemoveSubscription drops id as if it was deleted out-of-band.
func (g *Gateway) RemoveSubscription(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Subscriptions, id)
}

// SetSubscription replaces the gateway's view of a subscription.
func (g *Gateway) SetSubscription(sub billing.GatewaySubscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Subscriptions[sub.ID] = &sub
}

func (g *Gateway) GetSubscription(_ context.Context, id string) (*billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	if g.GetSubscriptionErr != nil {
		return nil, g.GetSubscriptionErr
	}
	sub, ok := g.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s: %w", id, billing.ErrGatewayNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) (*billing.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.CancelCalls = append(g.CancelCalls, CancelCall{ID: id, AtPeriodEnd: atPeriodEnd})
	sub, ok := g.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = "canceled"
	}
	cp := *sub
	return &cp, nil
}

func (g *Gateway) GetInvoice(_ context.Context, id string) (*billing.GatewayInvoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	inv, ok := g.Invoices[id]
	if !ok {
		return nil, fmt.Errorf("no such invoice: %s", id)
	}
	cp := *inv
	return &cp, nil
}

func (g *Gateway) OutstandingBalance(_ context.Context, customerID string) (int64, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return 0, "", g.Err
	}
	if g.OutstandingErr != nil {
		return 0, "", g.OutstandingErr
	}
	return g.Outstanding[customerID], "usd", nil
}

// Mailbox is an email.Transport that records every message.
type Mailbox struct {
	mu   sync.Mutex
	Sent []email.Message
	Err  error
}

var _ email.Transport = (*Mailbox)(nil)

func (m *Mailbox) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// Count returns how many messages were sent with the given subject prefix.
func (m *Mailbox) Count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.Sent {
		if strings.HasPrefix(msg.Subject, subject) {
			n++
		}
	}
	return n
}

func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
}
