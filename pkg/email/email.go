// pkg/email/email.go
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"konnectsphere_backend/pkg/metrics"
)

type EmailService struct {
	transport   Transport
	from        string
	frontendURL string
	templates   *template.Template
}

// Template data structures
type WelcomeEmailData struct {
	Name         string
	Role         string
	DashboardURL string
}

type PasswordResetData struct {
	Name      string
	ResetLink string
	ExpiresIn string
}

type PasswordChangedData struct {
	Name  string
	Email string
}

type SubscriptionEmailData struct {
	Name              string
	PlanName          string
	Interval          string
	Amount            int64
	Currency          string
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	DaysLeft          int
	PreviousPlan      string
	OutstandingAmount int64
	BillingURL        string
}

type PaymentEmailData struct {
	Name       string
	PlanName   string
	Amount     int64
	Currency   string
	InvoiceURL string
	PaidAt     time.Time
	BillingURL string
}

type PitchPublishedData struct {
	Name       string
	PitchTitle string
	PitchURL   string
}

type InvestorInterestData struct {
	EntrepreneurName string
	PitchTitle       string
	InvestorName     string
	InvestorEmail    string
	InvestorCountry  string
	Message          string
}

type DraftRemovedData struct {
	Name  string
	Count int
}

func NewEmailService(transport Transport, from, frontendURL string) (*EmailService, error) {
	if transport == nil {
		return nil, fmt.Errorf("email transport is required")
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	return &EmailService{
		transport:   transport,
		from:        from,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		templates:   templates,
	}, nil
}

func (s *EmailService) sendTemplateEmail(to, subject, templateName string, data interface{}) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		metrics.EmailsSent.WithLabelValues(templateName, "error").Inc()
		return fmt.Errorf("template execution error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.transport.Send(ctx, Message{
		From:    s.from,
		To:      to,
		Subject: subject,
		HTML:    body.String(),
	})
	metrics.EmailsSent.WithLabelValues(templateName, metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", templateName, to, err)
	}

	log.Debugf("Sent %s email to %s", templateName, to)
	return nil
}

func (s *EmailService) link(path string) string {
	return s.frontendURL + path
}

// Email sending methods
func (s *EmailService) SendWelcomeEmail(email, name, role string) error {
	data := WelcomeEmailData{
		Name:         name,
		Role:         role,
		DashboardURL: s.link("/dashboard"),
	}
	return s.sendTemplateEmail(email, "Welcome to KonnectSphere!", "welcome.html", data)
}

func (s *EmailService) SendPasswordResetEmail(email, name, resetToken string) error {
	data := PasswordResetData{
		Name:      name,
		ResetLink: s.link("/reset-password?token=" + resetToken),
		ExpiresIn: "1 hour",
	}
	return s.sendTemplateEmail(email, "Reset your password", "password_reset.html", data)
}

func (s *EmailService) SendPasswordChangedEmail(email, name string) error {
	data := PasswordChangedData{
		Name:  name,
		Email: email,
	}
	return s.sendTemplateEmail(email, "Your password has been changed", "password_changed.html", data)
}

func (s *EmailService) SendSubscriptionConfirmation(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, fmt.Sprintf("Welcome to %s!", data.PlanName), "subscription_confirmation.html", data)
}

func (s *EmailService) SendSubscriptionRenewed(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, "Your subscription has been renewed", "subscription_renewed.html", data)
}

func (s *EmailService) SendSubscriptionCancelled(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/pricing")
	return s.sendTemplateEmail(email, "Your subscription has been cancelled", "subscription_cancelled.html", data)
}

func (s *EmailService) SendSubscriptionExpired(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/pricing")
	return s.sendTemplateEmail(email, "Your subscription has expired", "subscription_expired.html", data)
}

func (s *EmailService) SendSubscriptionExpiring(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(
		email,
		fmt.Sprintf("Your %s plan ends in %d days", data.PlanName, data.DaysLeft),
		"subscription_expiring.html",
		data,
	)
}

func (s *EmailService) SendSubscriptionPastDue(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, "Your subscription payment is past due", "subscription_past_due.html", data)
}

func (s *EmailService) SendPlanChanged(email string, data SubscriptionEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, "Your plan has changed", "plan_changed.html", data)
}

func (s *EmailService) SendPaymentFailed(email string, data PaymentEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, "Payment failed - action required", "payment_failed.html", data)
}

func (s *EmailService) SendPaymentReceipt(email string, data PaymentEmailData) error {
	data.BillingURL = s.link("/settings/billing")
	return s.sendTemplateEmail(email, "Payment received - thank you", "payment_receipt.html", data)
}

func (s *EmailService) SendPitchPublished(email, name, pitchTitle, pitchSlug string) error {
	data := PitchPublishedData{
		Name:       name,
		PitchTitle: pitchTitle,
		PitchURL:   s.link("/pitches/" + pitchSlug),
	}
	return s.sendTemplateEmail(email, "Your pitch is live!", "pitch_published.html", data)
}

func (s *EmailService) SendInvestorInterest(email string, data InvestorInterestData) error {
	return s.sendTemplateEmail(
		email,
		fmt.Sprintf("An investor is interested in %s", data.PitchTitle),
		"investor_interest.html",
		data,
	)
}

func (s *EmailService) SendDraftRemoved(email, name string, count int) error {
	data := DraftRemovedData{
		Name:  name,
		Count: count,
	}
	return s.sendTemplateEmail(email, "We tidied up your empty drafts", "draft_removed.html", data)
}
