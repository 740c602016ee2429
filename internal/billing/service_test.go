package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/internal/billing/billingtest"
	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/internal/testutil"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/seed"
)

const (
	subjectConfirmation = "Welcome to Premium!"
	subjectReceipt      = "Payment received"
	subjectFailed       = "Payment failed"
	subjectCancelled    = "Your subscription has been cancelled"
	subjectExpired      = "Your subscription has expired"
	subjectExpiring     = "Your Premium plan ends in"
	subjectPlanChanged  = "Your plan has changed"
	subjectPastDue      = "Your subscription payment is past due"
)

type fixture struct {
	db      *gorm.DB
	gw      *billingtest.Gateway
	mail    *billingtest.Mailbox
	svc     *billing.Service
	user    model.User
	monthly model.SubscriptionPrice
	yearly  model.SubscriptionPrice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	require.NoError(t, seed.SeedSubscriptionPlans(db))

	mail := &billingtest.Mailbox{}
	notifier, err := email.NewEmailService(mail, "KonnectSphere <no-reply@konnectsphere.com>", "https://app.test")
	require.NoError(t, err)

	gw := billingtest.NewGateway()
	f := &fixture{
		db:   db,
		gw:   gw,
		mail: mail,
		svc:  billing.NewServiceFromDB(db, gw, notifier, "https://app.test"),
	}

	f.user = model.User{
		Email:     "ada@example.com",
		Password:  "hash",
		FirstName: "Ada",
		LastName:  "Obi",
		UserType:  "enterprenuer",
		Country:   "NG",
	}
	require.NoError(t, db.Create(&f.user).Error)

	f.monthly = f.price(t, "enterprenuer", "Premium", "monthly")
	f.yearly = f.price(t, "enterprenuer", "Premium", "yearly")
	return f
}

func (f *fixture) price(t *testing.T, userType, plan, interval string) model.SubscriptionPrice {
	t.Helper()
	var p model.SubscriptionPlan
	require.NoError(t, f.db.Where("name = ? AND user_type = ?", plan, userType).First(&p).Error)
	var price model.SubscriptionPrice
	require.NoError(t, f.db.Where("plan_id = ? AND billing_interval = ?", p.ID, interval).First(&price).Error)
	return price
}

func (f *fixture) reloadSub(t *testing.T) model.UserSubscription {
	t.Helper()
	var sub model.UserSubscription
	require.NoError(t, f.db.Where("user_id = ?", f.user.ID).First(&sub).Error)
	return sub
}

func (f *fixture) reloadUser(t *testing.T) model.User {
	t.Helper()
	var u model.User
	require.NoError(t, f.db.First(&u, f.user.ID).Error)
	return u
}

// subscribe runs a full checkout for the monthly Premium price.
func (f *fixture) subscribe(t *testing.T, gs billing.GatewaySubscription) *model.UserSubscription {
	t.Helper()
	session, err := f.svc.StartCheckout(context.Background(), f.user.ID, f.monthly.ID)
	require.NoError(t, err)

	if gs.Status == "" {
		gs.Status = "active"
	}
	f.gw.CompleteSession(session.ID, gs)

	sub, err := f.svc.CompleteCheckout(context.Background(), session.ID, f.user.ID)
	require.NoError(t, err)
	return sub
}

func TestStartCheckoutPersistsGatewayIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartCheckout(ctx, f.user.ID, f.monthly.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.URL)

	user := f.reloadUser(t)
	assert.NotEmpty(t, user.StripeCustomerID)

	price := f.price(t, "enterprenuer", "Premium", "monthly")
	assert.NotEmpty(t, price.StripePriceID)
	var plan model.SubscriptionPlan
	require.NoError(t, f.db.First(&plan, price.PlanID).Error)
	assert.NotEmpty(t, plan.StripeProductID)

	assert.Equal(t, user.StripeCustomerID, f.gw.LastCheckout.CustomerID)
	assert.Equal(t, price.StripePriceID, f.gw.LastCheckout.PriceID)
	assert.Equal(t, "https://app.test/subscription/success?session_id={CHECKOUT_SESSION_ID}", f.gw.LastCheckout.SuccessURL)

	// Stored ids are reused while the gateway still knows them.
	_, err = f.svc.StartCheckout(ctx, f.user.ID, f.monthly.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.CustomersCreated)
	assert.Equal(t, 1, f.gw.ProductsCreated)
	assert.Equal(t, 1, f.gw.PricesCreated)
}

func TestStartCheckoutRecreatesStaleGatewayIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Model(&model.User{}).Where("id = ?", f.user.ID).
		Update("stripe_customer_id", "cus_deleted").Error)
	require.NoError(t, f.db.Model(&model.SubscriptionPrice{}).Where("id = ?", f.monthly.ID).
		Update("stripe_price_id", "price_archived").Error)

	_, err := f.svc.StartCheckout(ctx, f.user.ID, f.monthly.ID)
	require.NoError(t, err)

	assert.NotEqual(t, "cus_deleted", f.reloadUser(t).StripeCustomerID)
	assert.NotEqual(t, "price_archived", f.price(t, "enterprenuer", "Premium", "monthly").StripePriceID)
}

func TestStartCheckoutRejectsPlanForOtherRole(t *testing.T) {
	f := newFixture(t)
	investorPrice := f.price(t, "investor", "Premium", "monthly")

	_, err := f.svc.StartCheckout(context.Background(), f.user.ID, investorPrice.ID)
	assert.ErrorIs(t, err, billing.ErrPlanRoleMismatch)

	_, err = f.svc.StartCheckout(context.Background(), f.user.ID, 9999)
	assert.ErrorIs(t, err, billing.ErrPriceNotFound)
}

func TestStartCheckoutRejectsCurrentPlan(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})

	_, err := f.svc.StartCheckout(context.Background(), f.user.ID, f.monthly.ID)
	assert.ErrorIs(t, err, billing.ErrAlreadySubscribed)
}

func TestStartCheckoutSurfacesGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.Err = errors.New("gateway down")

	_, err := f.svc.StartCheckout(context.Background(), f.user.ID, f.monthly.ID)
	assert.EqualError(t, err, "gateway down")
}

func TestCompleteCheckoutMonthlyPremiumDefaultsPeriodEnd(t *testing.T) {
	f := newFixture(t)
	before := time.Now().UTC()

	f.subscribe(t, billing.GatewaySubscription{Status: "active"})

	sub := f.reloadSub(t)
	assert.Equal(t, "active", sub.Status)
	assert.True(t, sub.Active)
	assert.Equal(t, f.monthly.ID, sub.PriceID)
	assert.Equal(t, f.monthly.PlanID, sub.PlanID)
	assert.WithinDuration(t, before.AddDate(0, 1, 0), sub.CurrentPeriodEnd, time.Minute)
	assert.NotEmpty(t, sub.StripeSubscriptionID)
	assert.NotEmpty(t, sub.StripeCustomerID)

	assert.Equal(t, "Premium", f.reloadUser(t).SubscriptionPlan)
	assert.Equal(t, 1, f.mail.Count(subjectConfirmation))
}

func TestCompleteCheckoutUsesReportedPeriodWhenValid(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	f.subscribe(t, billing.GatewaySubscription{CurrentPeriodStart: start, CurrentPeriodEnd: end})

	sub := f.reloadSub(t)
	assert.True(t, sub.CurrentPeriodStart.Equal(start))
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
}

func TestCompleteCheckoutRepairsPeriodEndBeforeStart(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f.subscribe(t, billing.GatewaySubscription{
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.Add(-time.Hour),
		Interval:           "yearly",
	})

	sub := f.reloadSub(t)
	assert.True(t, sub.CurrentPeriodEnd.Equal(start.AddDate(1, 0, 0)), sub.CurrentPeriodEnd)
}

func TestCheckoutConfirmationSentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartCheckout(ctx, f.user.ID, f.monthly.ID)
	require.NoError(t, err)
	gs := f.gw.CompleteSession(session.ID, billing.GatewaySubscription{Status: "active"})

	_, err = f.svc.CompleteCheckout(ctx, session.ID, f.user.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteCheckout(ctx, session.ID, f.user.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleSubscriptionCreated(ctx, gs))

	sessionEvent, err := f.gw.GetCheckoutSession(ctx, session.ID)
	require.NoError(t, err)
	sessionEvent.Subscription = nil
	require.NoError(t, f.svc.HandleCheckoutCompleted(ctx, sessionEvent))

	assert.Equal(t, 1, f.mail.Count(subjectConfirmation))

	var count int64
	f.db.Model(&model.UserSubscription{}).Where("user_id = ?", f.user.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCompleteCheckoutGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.StartCheckout(ctx, f.user.ID, f.monthly.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteCheckout(ctx, session.ID, f.user.ID)
	assert.ErrorIs(t, err, billing.ErrCheckoutIncomplete)

	f.gw.CompleteSession(session.ID, billing.GatewaySubscription{Status: "active"})
	_, err = f.svc.CompleteCheckout(ctx, session.ID, f.user.ID+1)
	assert.ErrorIs(t, err, billing.ErrSessionMismatch)
}

func TestSubscriptionCreatedForUnknownUserIsIgnored(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleSubscriptionCreated(context.Background(), &billing.GatewaySubscription{
		ID:         "sub_foreign",
		CustomerID: "cus_foreign",
		Status:     "active",
	})
	assert.NoError(t, err)

	var count int64
	f.db.Model(&model.UserSubscription{}).Count(&count)
	assert.Zero(t, count)
}

func invoiceFor(sub *model.UserSubscription, id string) *billing.GatewayInvoice {
	return &billing.GatewayInvoice{
		ID:               id,
		CustomerID:       sub.StripeCustomerID,
		SubscriptionID:   sub.StripeSubscriptionID,
		Currency:         "usd",
		AmountPaid:       6900,
		AmountDue:        6900,
		HostedInvoiceURL: "https://pay.test/" + id,
		BillingReason:    "subscription_cycle",
	}
}

func TestInvoicePaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	inv := invoiceFor(sub, "in_1")

	require.NoError(t, f.svc.HandleInvoicePaid(ctx, inv))
	require.NoError(t, f.svc.HandleInvoicePaid(ctx, inv))
	require.NoError(t, f.svc.Dispatch(ctx, &billing.Event{ID: "evt_alias", Type: billing.EventInvoicePaymentOK, Invoice: inv}))

	var payments []model.PaymentHistory
	require.NoError(t, f.db.Where("stripe_invoice_id = ?", "in_1").Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentStatusPaid, payments[0].Status)
	assert.Equal(t, int64(6900), payments[0].Amount)
	assert.Equal(t, sub.ID, payments[0].UserSubscriptionID)

	assert.Equal(t, 1, f.mail.Count(subjectReceipt))
	assert.Equal(t, 1, f.mail.Count("Your subscription has been renewed"))
}

func TestInvoicePaidResyncsPeriodFromGateway(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	renewedStart := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	renewedEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	gs, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
	require.NoError(t, err)
	gs.CurrentPeriodStart = renewedStart
	gs.CurrentPeriodEnd = renewedEnd
	f.gw.SetSubscription(*gs)

	require.NoError(t, f.svc.HandleInvoicePaid(ctx, invoiceFor(sub, "in_renew")))

	stored := f.reloadSub(t)
	assert.True(t, stored.CurrentPeriodEnd.Equal(renewedEnd), stored.CurrentPeriodEnd)
	assert.Equal(t, "active", stored.Status)
	assert.True(t, stored.Active)
}

func TestInvoicePaidFallsBackToInvoicePeriod(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	f.gw.GetSubscriptionErr = errors.New("timeout")

	inv := invoiceFor(sub, "in_fallback")
	inv.PeriodStart = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	inv.PeriodEnd = inv.PeriodStart

	require.NoError(t, f.svc.HandleInvoicePaid(context.Background(), inv))

	stored := f.reloadSub(t)
	assert.True(t, stored.CurrentPeriodEnd.Equal(inv.PeriodStart.AddDate(0, 1, 0)), stored.CurrentPeriodEnd)
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	inv := invoiceFor(sub, "in_failed")
	inv.AmountPaid = 0

	ev := &billing.Event{ID: "evt_failed", Type: billing.EventInvoicePaymentFailed, Invoice: inv}
	require.NoError(t, f.svc.Dispatch(ctx, ev))
	require.NoError(t, f.svc.Dispatch(ctx, ev))

	stored := f.reloadSub(t)
	assert.Equal(t, "past_due", stored.Status)
	assert.False(t, stored.Active)

	var payments []model.PaymentHistory
	require.NoError(t, f.db.Where("stripe_invoice_id = ?", "in_failed").Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, int64(6900), payments[0].Amount)

	assert.Equal(t, 1, f.mail.Count(subjectFailed))
}

func TestInvoiceWithoutSubscriptionIsSkipped(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.HandleInvoicePaid(context.Background(), &billing.GatewayInvoice{ID: "in_oneoff"}))

	var count int64
	f.db.Model(&model.PaymentHistory{}).Count(&count)
	assert.Zero(t, count)
}

func TestCancelDowngradesPlanImmediately(t *testing.T) {
	for _, atPeriodEnd := range []bool{false, true} {
		f := newFixture(t)
		sub := f.subscribe(t, billing.GatewaySubscription{})
		require.Equal(t, "Premium", f.reloadUser(t).SubscriptionPlan)

		_, err := f.svc.Cancel(context.Background(), f.user.ID, atPeriodEnd)
		require.NoError(t, err)

		assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan, "atPeriodEnd=%t", atPeriodEnd)
		require.Len(t, f.gw.CancelCalls, 1)
		assert.Equal(t, billingtest.CancelCall{ID: sub.StripeSubscriptionID, AtPeriodEnd: atPeriodEnd}, f.gw.CancelCalls[0])
		assert.Equal(t, 1, f.mail.Count(subjectCancelled))

		stored := f.reloadSub(t)
		if atPeriodEnd {
			assert.True(t, stored.CancelAtPeriodEnd)
			assert.Equal(t, "active", stored.Status)
		} else {
			assert.Equal(t, "canceled", stored.Status, "mirrors the gateway spelling")
			assert.False(t, stored.Active)
			assert.NotNil(t, stored.CanceledAt)
		}
	}
}

func TestCancelWithoutSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(context.Background(), f.user.ID, false)
	assert.ErrorIs(t, err, billing.ErrNoSubscription)

	f.subscribe(t, billing.GatewaySubscription{})
	_, err = f.svc.Cancel(context.Background(), f.user.ID, false)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.user.ID, false)
	assert.ErrorIs(t, err, billing.ErrNoSubscription)
}

func TestExpireLapsed(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})
	now := time.Now().UTC().Truncate(time.Second)

	sub := f.reloadSub(t)
	f.gw.Outstanding[sub.StripeCustomerID] = 1250
	require.NoError(t, f.db.Model(&model.UserSubscription{}).Where("id = ?", sub.ID).
		Update("current_period_end", now.Add(-time.Hour)).Error)

	n, err := f.svc.ExpireLapsed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.reloadSub(t)
	assert.Equal(t, "cancelled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)
	require.Equal(t, 1, f.mail.Count(subjectExpired))
	assert.Contains(t, f.mail.Sent[len(f.mail.Sent)-1].HTML, "$12.50")

	n, err = f.svc.ExpireLapsed(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.mail.Count(subjectExpired))
}

func TestExpireLapsedToleratesBalanceLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})
	f.gw.OutstandingErr = errors.New("rate limited")
	now := time.Now().UTC().Truncate(time.Second)

	sub := f.reloadSub(t)
	require.NoError(t, f.db.Model(&model.UserSubscription{}).Where("id = ?", sub.ID).
		Update("current_period_end", now.Add(-time.Minute)).Error)

	n, err := f.svc.ExpireLapsed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.mail.Count(subjectExpired))
}

func TestExpireLapsedLeavesCurrentSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})

	n, err := f.svc.ExpireLapsed(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, f.reloadSub(t).Active)
}

func TestRemindExpiring(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})
	now := time.Now().UTC().Truncate(time.Second)

	sub := f.reloadSub(t)
	require.NoError(t, f.db.Model(&model.UserSubscription{}).Where("id = ?", sub.ID).Updates(map[string]interface{}{
		"current_period_start": now.AddDate(0, 0, -29),
		"current_period_end":   now.Add(36 * time.Hour),
	}).Error)

	n, err := f.svc.RemindExpiring(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.mail.Count(subjectExpiring+" 2 days"))
	assert.NotNil(t, f.reloadSub(t).LastReminderAt)

	n, err = f.svc.RemindExpiring(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.mail.Count(subjectExpiring))
}

func TestRemindExpiringSkipsDistantPeriodEnds(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})
	now := time.Now().UTC()

	n, err := f.svc.RemindExpiring(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubscriptionUpdatedPastDueDeactivates(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	gs, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
	require.NoError(t, err)
	gs.Status = "past_due"

	require.NoError(t, f.svc.HandleSubscriptionUpdated(ctx, gs))
	require.NoError(t, f.svc.HandleSubscriptionUpdated(ctx, gs))

	stored := f.reloadSub(t)
	assert.Equal(t, "past_due", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, 1, f.mail.Count(subjectPastDue))
}

func TestSubscriptionUpdatedRepointsPlanAndPrice(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	growth := model.SubscriptionPlan{Name: "Growth", UserType: "enterprenuer", PitchLimit: 10, Visibility: "global"}
	require.NoError(t, f.db.Create(&growth).Error)
	growthPrice := model.SubscriptionPrice{PlanID: growth.ID, Interval: "monthly", Amount: 12900, Currency: "usd", StripePriceID: "price_growth"}
	require.NoError(t, f.db.Create(&growthPrice).Error)

	gs, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
	require.NoError(t, err)
	gs.PriceID = "price_growth"

	require.NoError(t, f.svc.HandleSubscriptionUpdated(ctx, gs))

	stored := f.reloadSub(t)
	assert.Equal(t, growth.ID, stored.PlanID)
	assert.Equal(t, growthPrice.ID, stored.PriceID)
	assert.Equal(t, "Growth", f.reloadUser(t).SubscriptionPlan)
	assert.Equal(t, 1, f.mail.Count(subjectPlanChanged))
}

func TestSubscriptionUpdatedIntervalChangeKeepsPlan(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	require.NoError(t, f.db.Model(&model.SubscriptionPrice{}).Where("id = ?", f.yearly.ID).
		Update("stripe_price_id", "price_yearly").Error)

	gs, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
	require.NoError(t, err)
	gs.PriceID = "price_yearly"
	gs.Interval = "yearly"

	require.NoError(t, f.svc.HandleSubscriptionUpdated(ctx, gs))

	stored := f.reloadSub(t)
	assert.Equal(t, f.yearly.ID, stored.PriceID)
	assert.Equal(t, f.yearly.PlanID, stored.PlanID)
	assert.Zero(t, f.mail.Count(subjectPlanChanged))
}

func TestSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	gs := &billing.GatewaySubscription{ID: sub.StripeSubscriptionID, Status: "canceled"}

	require.NoError(t, f.svc.HandleSubscriptionDeleted(ctx, gs))
	require.NoError(t, f.svc.HandleSubscriptionDeleted(ctx, gs))

	stored := f.reloadSub(t)
	assert.Equal(t, "cancelled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)
	assert.Equal(t, 1, f.mail.Count(subjectCancelled))

	require.NoError(t, f.svc.HandleSubscriptionDeleted(ctx, &billing.GatewaySubscription{ID: "sub_unknown"}))
}

func TestResyncWithGateway(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	n, err := f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	gs, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
	require.NoError(t, err)
	gs.Status = "canceled"
	f.gw.SetSubscription(*gs)

	n, err = f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.reloadSub(t)
	assert.Equal(t, "canceled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)

	// Terminal records are no longer re-read.
	n, err = f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResyncReportsGatewayErrors(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, billing.GatewaySubscription{})
	f.gw.GetSubscriptionErr = errors.New("unavailable")

	_, err := f.svc.ResyncWithGateway(context.Background())
	assert.Error(t, err)
}

func TestProcessEventDeduplicates(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	ev := &billing.Event{ID: "evt_1", Type: billing.EventInvoicePaid, Invoice: invoiceFor(sub, "in_evt")}

	dup, err := f.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = f.svc.ProcessEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, dup)

	var events []model.WebhookEvent
	require.NoError(t, f.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Empty(t, events[0].ProcessingError)
}

func TestProcessEventRecordsFailureAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := &billing.Event{ID: "evt_broken", Type: billing.EventSubscriptionUpdated}

	_, err := f.svc.ProcessEvent(ctx, ev)
	require.Error(t, err)

	var stored model.WebhookEvent
	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_broken").First(&stored).Error)
	assert.NotEmpty(t, stored.ProcessingError)

	dup, err := f.svc.ProcessEvent(ctx, ev)
	assert.False(t, dup)
	assert.Error(t, err)
}

func TestUnknownEventTypesAreIgnored(t *testing.T) {
	f := newFixture(t)

	assert.False(t, billing.Handled("customer.created"))
	assert.True(t, billing.Handled(billing.EventInvoicePaid))
	assert.NoError(t, f.svc.Dispatch(context.Background(), &billing.Event{ID: "evt_x", Type: "customer.created"}))
}

func TestMySubscriptionAndHistory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MySubscription(f.user.ID)
	assert.ErrorIs(t, err, billing.ErrNoSubscription)

	sub := f.subscribe(t, billing.GatewaySubscription{})
	require.NoError(t, f.svc.HandleInvoicePaid(context.Background(), invoiceFor(sub, "in_h1")))

	mine, err := f.svc.MySubscription(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Premium", mine.Plan.Name)
	assert.Equal(t, int64(6900), mine.Price.Amount)

	history, err := f.svc.BillingHistory(f.user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "in_h1", history[0].StripeInvoiceID)
}

func TestEmailFailureDoesNotBlockTransition(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	f.mail.Err = errors.New("smtp down")

	require.NoError(t, f.svc.HandleInvoiceFailed(context.Background(), invoiceFor(sub, "in_nomail")))
	assert.Equal(t, "past_due", f.reloadSub(t).Status)
}

func TestLateInvoicePaidAfterCancelKeepsBasePlan(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	late := invoiceFor(sub, "in_late")

	require.NoError(t, f.svc.HandleInvoicePaid(ctx, late))
	_, err := f.svc.Cancel(ctx, f.user.ID, false)
	require.NoError(t, err)

	// invoice.paid and invoice.payment_succeeded carry distinct event ids.
	require.NoError(t, f.svc.Dispatch(ctx, &billing.Event{ID: "evt_late_alias", Type: billing.EventInvoicePaymentOK, Invoice: late}))

	stored := f.reloadSub(t)
	assert.Equal(t, "canceled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)

	// A first-time invoice for the ended subscription is recorded without reactivating it.
	require.NoError(t, f.svc.HandleInvoicePaid(ctx, invoiceFor(sub, "in_after_cancel")))

	stored = f.reloadSub(t)
	assert.True(t, stored.SubscriptionStatus().IsTerminal())
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)

	var count int64
	f.db.Model(&model.PaymentHistory{}).Where("user_subscription_id = ?", sub.ID).Count(&count)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 1, f.mail.Count("Your subscription has been renewed"))
}

func TestLateInvoicePaidWithGatewayDownKeepsEndedSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, f.user.ID, false)
	require.NoError(t, err)
	f.gw.GetSubscriptionErr = errors.New("timeout")

	require.NoError(t, f.svc.HandleInvoicePaid(ctx, invoiceFor(sub, "in_blind")))

	stored := f.reloadSub(t)
	assert.Equal(t, "canceled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)
}

func TestStaleSubscriptionCreatedAfterCancel(t *testing.T) {
	for _, atPeriodEnd := range []bool{false, true} {
		f := newFixture(t)
		sub := f.subscribe(t, billing.GatewaySubscription{})
		ctx := context.Background()

		stale, err := f.gw.GetSubscription(ctx, sub.StripeSubscriptionID)
		require.NoError(t, err)
		require.Equal(t, 1, f.mail.Count(subjectConfirmation))

		_, err = f.svc.Cancel(ctx, f.user.ID, atPeriodEnd)
		require.NoError(t, err)

		require.NoError(t, f.svc.HandleSubscriptionCreated(ctx, stale))

		stored := f.reloadSub(t)
		assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan, "atPeriodEnd=%t", atPeriodEnd)
		assert.Equal(t, 1, f.mail.Count(subjectConfirmation), "atPeriodEnd=%t", atPeriodEnd)
		if atPeriodEnd {
			assert.True(t, stored.CancelAtPeriodEnd)
		} else {
			assert.Equal(t, "canceled", stored.Status)
			assert.False(t, stored.Active)
		}
	}
}

func TestInvoiceFailedAfterCancelKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, f.user.ID, false)
	require.NoError(t, err)

	inv := invoiceFor(sub, "in_late_fail")
	inv.AmountPaid = 0
	require.NoError(t, f.svc.HandleInvoiceFailed(ctx, inv))

	stored := f.reloadSub(t)
	assert.Equal(t, "canceled", stored.Status)
	assert.False(t, stored.Active)
	assert.Zero(t, f.mail.Count(subjectFailed))

	var payment model.PaymentHistory
	require.NoError(t, f.db.Where("stripe_invoice_id = ?", "in_late_fail").First(&payment).Error)
	assert.Equal(t, model.PaymentStatusFailed, payment.Status)

	_, err = f.svc.Cancel(ctx, f.user.ID, false)
	assert.ErrorIs(t, err, billing.ErrNoSubscription)

	n, err := f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResyncTreatsMissingSubscriptionAsDeleted(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, billing.GatewaySubscription{})
	ctx := context.Background()
	f.gw.RemoveSubscription(sub.StripeSubscriptionID)

	n, err := f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.reloadSub(t)
	assert.Equal(t, "cancelled", stored.Status)
	assert.False(t, stored.Active)
	assert.Equal(t, "Basic", f.reloadUser(t).SubscriptionPlan)
	assert.Equal(t, 1, f.mail.Count(subjectCancelled))

	n, err = f.svc.ResyncWithGateway(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
