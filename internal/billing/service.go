package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/subscription"
)

// ReminderWindow is how far ahead of period end the reminder sweep looks.
const ReminderWindow = 48 * time.Hour

// Webhook event types the service reconciles.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentOK     = "invoice.payment_succeeded"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Notifier sends the billing emails. *email.EmailService implements it.
type Notifier interface {
	SendSubscriptionConfirmation(to string, data email.SubscriptionEmailData) error
	SendSubscriptionRenewed(to string, data email.SubscriptionEmailData) error
	SendSubscriptionCancelled(to string, data email.SubscriptionEmailData) error
	SendSubscriptionExpired(to string, data email.SubscriptionEmailData) error
	SendSubscriptionExpiring(to string, data email.SubscriptionEmailData) error
	SendSubscriptionPastDue(to string, data email.SubscriptionEmailData) error
	SendPlanChanged(to string, data email.SubscriptionEmailData) error
	SendPaymentFailed(to string, data email.PaymentEmailData) error
	SendPaymentReceipt(to string, data email.PaymentEmailData) error
}

// Service keeps local subscription state in line with the payment gateway.
type Service struct {
	repo        Repository
	gateway     Gateway
	notifier    Notifier
	frontendURL string
	now         func() time.Time
}

func NewService(repo Repository, gateway Gateway, notifier Notifier, frontendURL string) *Service {
	return &Service{
		repo:        repo,
		gateway:     gateway,
		notifier:    notifier,
		frontendURL: frontendURL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, notifier Notifier, frontendURL string) *Service {
	return NewService(NewRepository(db), gateway, notifier, frontendURL)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func (s *Service) ListPlans(userType string) ([]model.SubscriptionPlan, error) {
	return s.repo.ListPlans(userType)
}

// StartCheckout makes sure the customer, product and price exist on the
// gateway, persisting any ids it had to (re)create, and opens a hosted
// checkout session for priceID.
func (s *Service) StartCheckout(ctx context.Context, userID, priceID uint) (*CheckoutSession, error) {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}

	price, err := s.repo.GetPrice(priceID)
	if err != nil {
		return nil, notFound(err, ErrPriceNotFound)
	}
	plan := price.Plan
	if plan.UserType != user.UserType {
		return nil, ErrPlanRoleMismatch
	}

	current, err := s.repo.FindSubscriptionByUser(userID)
	switch {
	case err == nil:
		if current.PlanID == plan.ID && current.Active && !current.CancelAtPeriodEnd &&
			current.SubscriptionStatus().IsEntitling() {
			return nil, ErrAlreadySubscribed
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, CustomerRequest{
		CustomerID: user.StripeCustomerID,
		Email:      user.Email,
		Name:       user.GetFullName(),
		UserID:     user.ID,
	})
	if err != nil {
		return nil, err
	}
	if customerID != user.StripeCustomerID {
		if err := s.repo.SetUserCustomerID(user.ID, customerID); err != nil {
			return nil, err
		}
	}

	productID, err := s.gateway.EnsureProduct(ctx, ProductSpec{
		ID:          plan.StripeProductID,
		Name:        fmt.Sprintf("KonnectSphere %s (%s)", plan.Name, plan.UserType),
		Description: plan.Description,
		PlanID:      plan.ID,
	})
	if err != nil {
		return nil, err
	}
	if productID != plan.StripeProductID {
		if err := s.repo.SetPlanProductID(plan.ID, productID); err != nil {
			return nil, err
		}
	}

	gatewayPriceID, err := s.gateway.EnsurePrice(ctx, PriceSpec{
		ID:        price.StripePriceID,
		ProductID: productID,
		Amount:    price.Amount,
		Currency:  price.Currency,
		Interval:  price.BillingInterval(),
	})
	if err != nil {
		return nil, err
	}
	if gatewayPriceID != price.StripePriceID {
		if err := s.repo.SetPriceStripeID(price.ID, gatewayPriceID); err != nil {
			return nil, err
		}
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: customerID,
		PriceID:    gatewayPriceID,
		SuccessURL: s.frontendURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/pricing?checkout=cancelled",
		Metadata: map[string]string{
			MetaUserID:  formatUint(user.ID),
			MetaPlanID:  formatUint(plan.ID),
			MetaPriceID: formatUint(price.ID),
		},
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Checkout session %s opened for user %d on %s/%s", session.ID, user.ID, plan.Name, price.Interval)
	return session, nil
}

// CompleteCheckout is the success-page path. userID, when non-zero, must
// match the user the session was opened for.
func (s *Service) CompleteCheckout(ctx context.Context, sessionID string, userID uint) (*model.UserSubscription, error) {
	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if owner := metaUint(session.Metadata, MetaUserID); userID != 0 && owner != userID {
		return nil, ErrSessionMismatch
	}
	if !session.Complete() {
		return nil, ErrCheckoutIncomplete
	}
	return s.applyCheckout(ctx, session)
}

func (s *Service) HandleCheckoutCompleted(ctx context.Context, session *CheckoutSession) error {
	if session.Mode != "" && session.Mode != "subscription" {
		return nil
	}
	if !session.Complete() {
		log.Infof("Checkout session %s not complete (%s), skipping", session.ID, session.Status)
		return nil
	}
	_, err := s.applyCheckout(ctx, session)
	return ignoreUnknown(err, "checkout session "+session.ID)
}

func (s *Service) applyCheckout(ctx context.Context, session *CheckoutSession) (*model.UserSubscription, error) {
	gs := session.Subscription
	if gs == nil {
		if session.SubscriptionID == "" {
			return nil, fmt.Errorf("checkout session %s has no subscription", session.ID)
		}
		var err error
		if gs, err = s.gateway.GetSubscription(ctx, session.SubscriptionID); err != nil {
			return nil, err
		}
	}
	if gs.CustomerID == "" {
		gs.CustomerID = session.CustomerID
	}

	meta := make(map[string]string, len(gs.Metadata)+len(session.Metadata))
	for k, v := range gs.Metadata {
		meta[k] = v
	}
	for k, v := range session.Metadata {
		meta[k] = v
	}
	return s.activate(ctx, gs, meta, true)
}

func (s *Service) HandleSubscriptionCreated(ctx context.Context, gs *GatewaySubscription) error {
	_, err := s.activate(ctx, gs, gs.Metadata, false)
	return ignoreUnknown(err, "subscription "+gs.ID)
}

// activate creates or updates the user's single subscription record from a
// gateway subscription. forceActive marks the record active whatever the
// gateway status is, as the checkout paths do.
func (s *Service) activate(ctx context.Context, gs *GatewaySubscription, meta map[string]string, forceActive bool) (*model.UserSubscription, error) {
	user, err := s.resolveUser(meta, gs.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("resolve user for %s: %w", gs.ID, err)
	}

	price, err := s.resolvePrice(meta, gs.PriceID)
	if err != nil {
		return nil, fmt.Errorf("resolve price for %s: %w", gs.ID, err)
	}

	sub, err := s.repo.FindSubscriptionByUser(user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub, err = &model.UserSubscription{UserID: user.ID}, nil
	}
	if err != nil {
		return nil, err
	}

	sameSubscription := sub.ID != 0 && sub.StripeSubscriptionID == gs.ID
	if sameSubscription && sub.SubscriptionStatus().IsTerminal() {
		log.Infof("Subscription %s already ended (%s), not reactivating", gs.ID, sub.Status)
		sub.User = *user
		sub.Plan = price.Plan
		sub.Price = *price
		return sub, nil
	}
	alreadyLive := sameSubscription && sub.Active
	// A cancellation request survives stale created/checkout payloads.
	cancelRequested := sameSubscription && sub.CancelAtPeriodEnd

	status := subscription.ParseStatus(gs.Status)
	if status == "" {
		status = subscription.StatusActive
	}

	sub.PlanID = price.PlanID
	sub.PriceID = price.ID
	sub.StripeSubscriptionID = gs.ID
	if gs.CustomerID != "" {
		sub.StripeCustomerID = gs.CustomerID
	} else if sub.StripeCustomerID == "" {
		sub.StripeCustomerID = user.StripeCustomerID
	}
	sub.Status = string(status)
	sub.Active = forceActive || status.IsEntitling()
	sub.CancelAtPeriodEnd = gs.CancelAtPeriodEnd || cancelRequested
	sub.CanceledAt = nil
	s.applyPeriod(sub, gs, price.BillingInterval())

	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	if user.StripeCustomerID == "" && sub.StripeCustomerID != "" {
		if err := s.repo.SetUserCustomerID(user.ID, sub.StripeCustomerID); err != nil {
			return nil, err
		}
		user.StripeCustomerID = sub.StripeCustomerID
	}
	if sub.Active && !sub.CancelAtPeriodEnd {
		if err := s.repo.SetUserPlan(user.ID, price.Plan.Name); err != nil {
			return nil, err
		}
		user.SubscriptionPlan = price.Plan.Name
	}

	sub.User = *user
	sub.Plan = price.Plan
	sub.Price = *price

	if sub.Active && !alreadyLive {
		log.Infof("Subscription %s active for user %d on %s until %s", gs.ID, user.ID, price.Plan.Name, sub.CurrentPeriodEnd.Format(time.RFC3339))
		s.notify("subscription confirmation", sub, func(to string) error {
			return s.notifier.SendSubscriptionConfirmation(to, s.subscriptionEmail(sub))
		})
	}
	return sub, nil
}

func (s *Service) HandleSubscriptionUpdated(ctx context.Context, gs *GatewaySubscription) error {
	sub, err := s.repo.FindSubscriptionByStripeID(gs.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if metaUint(gs.Metadata, MetaUserID) != 0 {
			return s.HandleSubscriptionCreated(ctx, gs)
		}
		log.Warnf("Update for unknown subscription %s ignored", gs.ID)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.applyUpdate(sub, gs)
	return err
}

// applyUpdate mirrors status, period, cancel flag and price from the gateway
// onto sub. It reports whether anything changed.
func (s *Service) applyUpdate(sub *model.UserSubscription, gs *GatewaySubscription) (bool, error) {
	before := *sub
	previousPlan := sub.Plan.Name
	planChanged := false

	if gs.PriceID != "" && gs.PriceID != sub.Price.StripePriceID {
		price, err := s.repo.FindPriceByStripeID(gs.PriceID)
		switch {
		case err == nil:
			if price.ID != sub.PriceID {
				planChanged = price.PlanID != sub.PlanID
				sub.PriceID = price.ID
				sub.PlanID = price.PlanID
				sub.Price = *price
				sub.Plan = price.Plan
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warnf("Subscription %s moved to unknown price %s", gs.ID, gs.PriceID)
		default:
			return false, err
		}
	}

	status := subscription.ParseStatus(gs.Status)
	if status == "" {
		status = sub.SubscriptionStatus()
	}
	sub.Status = string(status)
	sub.Active = status.IsEntitling()
	sub.CancelAtPeriodEnd = gs.CancelAtPeriodEnd
	if gs.CustomerID != "" {
		sub.StripeCustomerID = gs.CustomerID
	}
	if status.IsCancelled() && sub.CanceledAt == nil {
		at := gs.CanceledAt
		if at.IsZero() {
			at = s.now()
		}
		sub.CanceledAt = &at
	}
	s.applyPeriod(sub, gs, sub.Price.BillingInterval())

	changed := before.Status != sub.Status ||
		before.Active != sub.Active ||
		before.PriceID != sub.PriceID ||
		before.CancelAtPeriodEnd != sub.CancelAtPeriodEnd ||
		before.StripeCustomerID != sub.StripeCustomerID ||
		!before.CurrentPeriodStart.Equal(sub.CurrentPeriodStart) ||
		!before.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd)
	if !changed {
		return false, nil
	}

	if err := s.repo.SaveSubscription(sub); err != nil {
		return false, err
	}

	switch {
	case status.IsEntitling() && !sub.CancelAtPeriodEnd:
		if err := s.repo.SetUserPlan(sub.UserID, sub.Plan.Name); err != nil {
			return true, err
		}
	case status.IsTerminal():
		if err := s.repo.SetUserPlan(sub.UserID, string(subscription.BasePlan)); err != nil {
			return true, err
		}
	}

	log.Infof("Subscription %s updated: status %s -> %s, period end %s", gs.ID, before.Status, sub.Status, sub.CurrentPeriodEnd.Format(time.RFC3339))

	if planChanged {
		data := s.subscriptionEmail(sub)
		data.PreviousPlan = previousPlan
		s.notify("plan changed", sub, func(to string) error {
			return s.notifier.SendPlanChanged(to, data)
		})
	}
	if status == subscription.StatusPastDue && subscription.ParseStatus(before.Status) != subscription.StatusPastDue {
		s.notify("past due", sub, func(to string) error {
			return s.notifier.SendSubscriptionPastDue(to, s.subscriptionEmail(sub))
		})
	}
	return true, nil
}

func (s *Service) HandleSubscriptionDeleted(ctx context.Context, gs *GatewaySubscription) error {
	sub, err := s.repo.FindSubscriptionByStripeID(gs.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Deletion of unknown subscription %s ignored", gs.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if sub.SubscriptionStatus().IsCancelled() && !sub.Active {
		return nil
	}

	at := gs.CanceledAt
	if at.IsZero() {
		at = s.now()
	}
	sub.Status = string(subscription.StatusCancelled)
	sub.Active = false
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = &at
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	if err := s.repo.SetUserPlan(sub.UserID, string(subscription.BasePlan)); err != nil {
		return err
	}

	log.Infof("Subscription %s cancelled by gateway for user %d", gs.ID, sub.UserID)
	s.notify("subscription cancelled", sub, func(to string) error {
		return s.notifier.SendSubscriptionCancelled(to, s.subscriptionEmail(sub))
	})
	return nil
}

func (s *Service) subscriptionForInvoice(inv *GatewayInvoice) (*model.UserSubscription, error) {
	sub, err := s.repo.FindSubscriptionByStripeID(inv.SubscriptionID)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) || inv.CustomerID == "" {
		return sub, err
	}
	return s.repo.FindSubscriptionByCustomerID(inv.CustomerID)
}

func (s *Service) HandleInvoicePaid(ctx context.Context, inv *GatewayInvoice) error {
	if inv.SubscriptionID == "" {
		log.Debugf("Invoice %s is not for a subscription, skipping", inv.ID)
		return nil
	}

	sub, err := s.subscriptionForInvoice(inv)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Paid invoice %s for unknown subscription %s ignored", inv.ID, inv.SubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	paidAt := inv.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	payment := &model.PaymentHistory{
		UserSubscriptionID: sub.ID,
		UserID:             sub.UserID,
		StripeInvoiceID:    inv.ID,
		Status:             model.PaymentStatusPaid,
		Amount:             inv.AmountPaid,
		Currency:           inv.Currency,
		HostedInvoiceURL:   inv.HostedInvoiceURL,
		PeriodStart:        inv.PeriodStart,
		PeriodEnd:          inv.PeriodEnd,
		PaidAt:             &paidAt,
	}
	created, err := s.repo.CreatePaymentIfNotExists(payment)
	if err != nil {
		return err
	}
	if !created {
		log.Debugf("Invoice %s already recorded as paid", inv.ID)
		return nil
	}

	gs, err := s.gateway.GetSubscription(ctx, inv.SubscriptionID)
	switch {
	case err == nil && subscription.ParseStatus(gs.Status).IsTerminal():
		// Paid after the subscription ended: mirror the gateway, never reactivate.
		log.Infof("Invoice %s paid for ended subscription %s (%s)", inv.ID, inv.SubscriptionID, gs.Status)
		if _, err := s.applyUpdate(sub, gs); err != nil {
			return err
		}
	case err != nil && sub.SubscriptionStatus().IsTerminal():
		log.Warnf("Could not re-read ended subscription %s after invoice %s, leaving it %s: %v", inv.SubscriptionID, inv.ID, sub.Status, err)
	default:
		if err != nil {
			log.Warnf("Could not re-read subscription %s after invoice %s, using invoice period: %v", inv.SubscriptionID, inv.ID, err)
			gs = &GatewaySubscription{CurrentPeriodStart: inv.PeriodStart, CurrentPeriodEnd: inv.PeriodEnd}
		} else {
			sub.CancelAtPeriodEnd = gs.CancelAtPeriodEnd
		}

		sub.Status = string(subscription.StatusActive)
		sub.Active = true
		sub.CanceledAt = nil
		s.applyPeriod(sub, gs, sub.Price.BillingInterval())
		if err := s.repo.SaveSubscription(sub); err != nil {
			return err
		}
		if !sub.CancelAtPeriodEnd {
			if err := s.repo.SetUserPlan(sub.UserID, sub.Plan.Name); err != nil {
				return err
			}
		}
	}

	log.Infof("Invoice %s paid for subscription %s (%s, period end %s)", inv.ID, inv.SubscriptionID, sub.Status, sub.CurrentPeriodEnd.Format(time.RFC3339))
	s.notify("payment receipt", sub, func(to string) error {
		return s.notifier.SendPaymentReceipt(to, s.paymentEmail(sub, payment))
	})
	if inv.BillingReason == "subscription_cycle" && sub.Active {
		s.notify("subscription renewed", sub, func(to string) error {
			return s.notifier.SendSubscriptionRenewed(to, s.subscriptionEmail(sub))
		})
	}
	return nil
}

func (s *Service) HandleInvoiceFailed(ctx context.Context, inv *GatewayInvoice) error {
	if inv.SubscriptionID == "" {
		log.Debugf("Invoice %s is not for a subscription, skipping", inv.ID)
		return nil
	}

	sub, err := s.subscriptionForInvoice(inv)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("Failed invoice %s for unknown subscription %s ignored", inv.ID, inv.SubscriptionID)
		return nil
	}
	if err != nil {
		return err
	}

	payment := &model.PaymentHistory{
		UserSubscriptionID: sub.ID,
		UserID:             sub.UserID,
		StripeInvoiceID:    inv.ID,
		Status:             model.PaymentStatusFailed,
		Amount:             inv.AmountDue,
		Currency:           inv.Currency,
		HostedInvoiceURL:   inv.HostedInvoiceURL,
		PeriodStart:        inv.PeriodStart,
		PeriodEnd:          inv.PeriodEnd,
	}
	created, err := s.repo.CreatePaymentIfNotExists(payment)
	if err != nil {
		return err
	}
	if !created {
		log.Debugf("Invoice %s already recorded as failed", inv.ID)
		return nil
	}
	if sub.SubscriptionStatus().IsTerminal() {
		log.Infof("Invoice %s failed for ended subscription %s, status stays %s", inv.ID, inv.SubscriptionID, sub.Status)
		return nil
	}

	sub.Status = string(subscription.StatusPastDue)
	sub.Active = false
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}

	log.Warnf("Invoice %s failed for subscription %s, marked past due", inv.ID, inv.SubscriptionID)
	s.notify("payment failed", sub, func(to string) error {
		return s.notifier.SendPaymentFailed(to, s.paymentEmail(sub, payment))
	})
	return nil
}

// Cancel cancels the user's subscription on the gateway, immediately or at
// period end. The plan label drops to the base tier right away either way.
func (s *Service) Cancel(ctx context.Context, userID uint, atPeriodEnd bool) (*model.UserSubscription, error) {
	sub, err := s.repo.FindSubscriptionByUser(userID)
	if err != nil {
		return nil, notFound(err, ErrNoSubscription)
	}
	if sub.StripeSubscriptionID == "" || sub.SubscriptionStatus().IsTerminal() {
		return nil, ErrNoSubscription
	}

	gs, err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID, atPeriodEnd)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
		if gs != nil && gs.Status != "" {
			sub.Status = string(subscription.ParseStatus(gs.Status))
		}
	} else {
		status := subscription.StatusCancelled
		if gs != nil && subscription.ParseStatus(gs.Status).IsTerminal() {
			status = subscription.ParseStatus(gs.Status)
		}
		sub.Status = string(status)
		sub.Active = false
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = &now
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	if err := s.repo.SetUserPlan(userID, string(subscription.BasePlan)); err != nil {
		return nil, err
	}
	sub.User.SubscriptionPlan = string(subscription.BasePlan)

	log.Infof("User %d cancelled subscription %s (at period end: %t)", userID, sub.StripeSubscriptionID, atPeriodEnd)
	s.notify("subscription cancelled", sub, func(to string) error {
		return s.notifier.SendSubscriptionCancelled(to, s.subscriptionEmail(sub))
	})
	return sub, nil
}

// ExpireLapsed cancels live subscriptions whose period ended before now.
func (s *Service) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	subs, err := s.repo.ListLapsed(now)
	if err != nil {
		return 0, err
	}

	var errs []error
	expired := 0
	for i := range subs {
		sub := &subs[i]
		sub.Status = string(subscription.StatusCancelled)
		sub.Active = false
		at := now
		sub.CanceledAt = &at
		if err := s.repo.SaveSubscription(sub); err != nil {
			errs = append(errs, fmt.Errorf("expire subscription %d: %w", sub.ID, err))
			continue
		}
		if err := s.repo.SetUserPlan(sub.UserID, string(subscription.BasePlan)); err != nil {
			errs = append(errs, fmt.Errorf("downgrade user %d: %w", sub.UserID, err))
			continue
		}
		expired++

		data := s.subscriptionEmail(sub)
		if sub.StripeCustomerID != "" && s.gateway != nil {
			amount, currency, err := s.gateway.OutstandingBalance(ctx, sub.StripeCustomerID)
			if err != nil {
				log.Warnf("Could not look up outstanding balance for %s: %v", sub.StripeCustomerID, err)
			} else {
				data.OutstandingAmount = amount
				if currency != "" {
					data.Currency = currency
				}
			}
		}
		s.notify("subscription expired", sub, func(to string) error {
			return s.notifier.SendSubscriptionExpired(to, data)
		})
	}

	if expired > 0 {
		log.Infof("Expired %d lapsed subscriptions", expired)
	}
	return expired, errors.Join(errs...)
}

// RemindExpiring emails users whose period ends within ReminderWindow and
// who have not been reminded during the current period.
func (s *Service) RemindExpiring(ctx context.Context, now time.Time) (int, error) {
	subs, err := s.repo.ListExpiring(now, now.Add(ReminderWindow))
	if err != nil {
		return 0, err
	}

	var errs []error
	reminded := 0
	for i := range subs {
		sub := &subs[i]
		data := s.subscriptionEmail(sub)
		data.DaysLeft = int(math.Ceil(sub.CurrentPeriodEnd.Sub(now).Hours() / 24))
		if data.DaysLeft < 1 {
			data.DaysLeft = 1
		}

		if s.notifier != nil {
			if err := s.notifier.SendSubscriptionExpiring(sub.User.Email, data); err != nil {
				log.Warnf("Could not send expiry reminder for subscription %d: %v", sub.ID, err)
				continue
			}
		}

		at := now
		sub.LastReminderAt = &at
		if err := s.repo.SaveSubscription(sub); err != nil {
			errs = append(errs, fmt.Errorf("stamp reminder on %d: %w", sub.ID, err))
			continue
		}
		reminded++
	}
	return reminded, errors.Join(errs...)
}

// ResyncWithGateway re-reads every non-terminal subscription from the
// gateway and applies the update path. It returns how many records changed.
func (s *Service) ResyncWithGateway(ctx context.Context) (int, error) {
	subs, err := s.repo.ListResyncable()
	if err != nil {
		return 0, err
	}

	var errs []error
	changed := 0
	for i := range subs {
		sub := &subs[i]
		gs, err := s.gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
		if errors.Is(err, ErrGatewayNotFound) {
			log.Warnf("Subscription %s is gone from the gateway, treating it as deleted", sub.StripeSubscriptionID)
			if err := s.HandleSubscriptionDeleted(ctx, &GatewaySubscription{ID: sub.StripeSubscriptionID}); err != nil {
				errs = append(errs, fmt.Errorf("resync %s: %w", sub.StripeSubscriptionID, err))
				continue
			}
			changed++
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok, err := s.applyUpdate(sub, gs)
		if err != nil {
			errs = append(errs, fmt.Errorf("resync %s: %w", sub.StripeSubscriptionID, err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (s *Service) MySubscription(userID uint) (*model.UserSubscription, error) {
	sub, err := s.repo.FindSubscriptionByUser(userID)
	if err != nil {
		return nil, notFound(err, ErrNoSubscription)
	}
	return sub, nil
}

func (s *Service) BillingHistory(userID uint) ([]model.PaymentHistory, error) {
	return s.repo.ListPayments(userID)
}

// Handled reports whether eventType is reconciled by Dispatch.
func Handled(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionDeleted, EventInvoicePaid, EventInvoicePaymentOK, EventInvoicePaymentFailed:
		return true
	}
	return false
}

// ProcessEvent records the delivery and dispatches it once. A redelivery of
// an event that was processed without error reports duplicate=true.
func (s *Service) ProcessEvent(ctx context.Context, ev *Event) (duplicate bool, err error) {
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&model.WebhookEvent{
		StripeEventID: ev.ID,
		Type:          ev.Type,
	})
	if err != nil {
		return false, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return true, nil
	}

	handleErr := s.Dispatch(ctx, ev)

	msg := ""
	if handleErr != nil {
		msg = handleErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(stored.ID, msg); err != nil {
		log.Errorf("Could not mark webhook event %s processed: %v", ev.ID, err)
	}
	return false, handleErr
}

var errMissingPayload = errors.New("event payload missing")

func (s *Service) Dispatch(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Session == nil {
			return errMissingPayload
		}
		return s.HandleCheckoutCompleted(ctx, ev.Session)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return errMissingPayload
		}
		switch ev.Type {
		case EventSubscriptionCreated:
			return s.HandleSubscriptionCreated(ctx, ev.Subscription)
		case EventSubscriptionUpdated:
			return s.HandleSubscriptionUpdated(ctx, ev.Subscription)
		default:
			return s.HandleSubscriptionDeleted(ctx, ev.Subscription)
		}
	case EventInvoicePaid, EventInvoicePaymentOK, EventInvoicePaymentFailed:
		if ev.Invoice == nil {
			return errMissingPayload
		}
		if ev.Type == EventInvoicePaymentFailed {
			return s.HandleInvoiceFailed(ctx, ev.Invoice)
		}
		return s.HandleInvoicePaid(ctx, ev.Invoice)
	default:
		log.Debugf("Ignoring webhook event %s (%s)", ev.ID, ev.Type)
		return nil
	}
}

func (s *Service) resolveUser(meta map[string]string, customerID string) (*model.User, error) {
	if id := metaUint(meta, MetaUserID); id != 0 {
		u, err := s.repo.GetUser(id)
		return u, notFound(err, ErrUserNotFound)
	}
	if customerID != "" {
		u, err := s.repo.FindUserByCustomerID(customerID)
		return u, notFound(err, ErrUserNotFound)
	}
	return nil, ErrUserNotFound
}

func (s *Service) resolvePrice(meta map[string]string, gatewayPriceID string) (*model.SubscriptionPrice, error) {
	if id := metaUint(meta, MetaPriceID); id != 0 {
		p, err := s.repo.GetPrice(id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if gatewayPriceID != "" {
		p, err := s.repo.FindPriceByStripeID(gatewayPriceID)
		return p, notFound(err, ErrPriceNotFound)
	}
	return nil, ErrPriceNotFound
}

// applyPeriod copies the gateway period onto sub through DerivePeriodEnd.
func (s *Service) applyPeriod(sub *model.UserSubscription, gs *GatewaySubscription, fallback subscription.Interval) {
	interval := gs.Interval
	if interval == "" {
		interval = fallback
	}
	start := gs.CurrentPeriodStart
	if start.IsZero() {
		start = sub.CurrentPeriodStart
	}
	if start.IsZero() {
		start = s.now()
	}
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = subscription.DerivePeriodEnd(start, interval, gs.CurrentPeriodEnd)
}

// ignoreUnknown acknowledges events for users or prices this instance
// does not know about instead of failing the delivery.
func ignoreUnknown(err error, what string) error {
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrPriceNotFound) {
		log.Warnf("Ignoring %s: %v", what, err)
		return nil
	}
	return err
}

func (s *Service) notify(what string, sub *model.UserSubscription, send func(to string) error) {
	if s.notifier == nil || sub.User.Email == "" {
		return
	}
	if err := send(sub.User.Email); err != nil {
		log.Warnf("Could not send %s email to user %d: %v", what, sub.UserID, err)
	}
}

func displayName(u *model.User) string {
	if name := u.GetFullName(); name != "" {
		return name
	}
	return u.Email
}

func (s *Service) subscriptionEmail(sub *model.UserSubscription) email.SubscriptionEmailData {
	return email.SubscriptionEmailData{
		Name:              displayName(&sub.User),
		PlanName:          sub.Plan.Name,
		Interval:          string(sub.Price.BillingInterval()),
		Amount:            sub.Price.Amount,
		Currency:          sub.Price.Currency,
		PeriodEnd:         sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

func (s *Service) paymentEmail(sub *model.UserSubscription, p *model.PaymentHistory) email.PaymentEmailData {
	data := email.PaymentEmailData{
		Name:       displayName(&sub.User),
		PlanName:   sub.Plan.Name,
		Amount:     p.Amount,
		Currency:   p.Currency,
		InvoiceURL: p.HostedInvoiceURL,
	}
	if p.PaidAt != nil {
		data.PaidAt = *p.PaidAt
	}
	return data
}
