package controller

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/subscription"
	"konnectsphere_backend/pkg/utils/jwt"
	"konnectsphere_backend/pkg/utils/validation"
)

const resetTokenTTL = time.Hour

type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	UserType  string `json:"user_type" validate:"required,oneof=enterprenuer investor"`
	Country   string `json:"country" validate:"required,country"`
	Industry  string `json:"industry"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type PasswordResetRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func InitAuthController(mailer *email.EmailService, secureCookies bool) {
	emailService = mailer
	cookieSecure = secureCookies
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func setSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     jwt.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(jwt.TTL()),
		HTTPOnly: true,
		Secure:   cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func sessionResponse(user *model.User, token string) fiber.Map {
	profile := user.GetPublicProfile()
	profile["email"] = user.Email
	return fiber.Map{
		"token": token,
		"user":  profile,
	}
}

func Register(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validation.Struct(input); err != nil {
		return err
	}

	var count int64
	if err := database.GetDB().Model(&model.User{}).Where("email = ?", input.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already exists",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := model.User{
		Email:            input.Email,
		Password:         string(hashedPassword),
		FirstName:        strings.TrimSpace(input.FirstName),
		LastName:         strings.TrimSpace(input.LastName),
		UserType:         input.UserType,
		Country:          strings.TrimSpace(input.Country),
		Industry:         strings.TrimSpace(input.Industry),
		SubscriptionPlan: string(subscription.BasePlan),
	}
	if err := database.GetDB().Create(&user).Error; err != nil {
		return err
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, user.UserType)
	if err != nil {
		return err
	}
	setSessionCookie(c, token)

	sendEmail("welcome", func(s *email.EmailService) error {
		return s.SendWelcomeEmail(user.Email, user.GetFullName(), user.UserType)
	})

	log.Infof("User %d registered as %s", user.ID, user.UserType)
	resp := sessionResponse(&user, token)
	resp["message"] = "Registration successful"
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validation.Struct(input); err != nil {
		return err
	}

	var user model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, user.UserType)
	if err != nil {
		return err
	}
	setSessionCookie(c, token)

	return c.JSON(sessionResponse(&user, token))
}

func Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     jwt.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

// GetMe returns the signed-in user with the entitlements of their plan.
func GetMe(c *fiber.Ctx) error {
	claims := claimsOf(c)

	user, err := loadUser(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return err
	}

	caps := user.Capabilities()
	profile := user.GetPublicProfile()
	profile["email"] = user.Email
	profile["created_at"] = user.CreatedAt

	return c.JSON(fiber.Map{
		"user": profile,
		"capabilities": fiber.Map{
			"global_visibility": caps.GlobalVisibility,
			"pitch_limit":       caps.PitchLimit,
			"documents_allowed": caps.DocumentsAllowed,
			"contact_allowed":   caps.ContactAllowed,
		},
	})
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RequestPasswordReset answers the same way whether or not the email is
// registered.
func RequestPasswordReset(c *fiber.Ctx) error {
	input := new(PasswordResetRequestInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = normalizeEmail(input.Email)
	if err := validation.Struct(input); err != nil {
		return err
	}

	response := fiber.Map{
		"message": "If an account exists for that email, a reset link has been sent",
	}

	var user model.User
	if err := database.GetDB().Where("email = ?", input.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(response)
		}
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	record := model.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: hashResetToken(token),
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	}
	if err := database.GetDB().Create(&record).Error; err != nil {
		return err
	}

	sendEmail("password reset", func(s *email.EmailService) error {
		return s.SendPasswordResetEmail(user.Email, user.GetFullName(), token)
	})

	return c.JSON(response)
}

func ResetPassword(c *fiber.Ctx) error {
	input := new(ResetPasswordInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if err := validation.Struct(input); err != nil {
		return err
	}

	now := time.Now().UTC()
	var record model.PasswordResetToken
	err := database.GetDB().Where("token_hash = ?", hashResetToken(input.Token)).First(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err != nil || !record.Usable(now) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid or expired reset token",
		})
	}

	user, err := loadUser(record.UserID)
	if err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).Where("id = ?", user.ID).Update("password", string(hashedPassword)).Error; err != nil {
			return err
		}
		// Every outstanding token for the user dies with the reset.
		return tx.Model(&model.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", user.ID).
			Update("used_at", now).Error
	})
	if err != nil {
		return err
	}

	sendEmail("password changed", func(s *email.EmailService) error {
		return s.SendPasswordChangedEmail(user.Email, user.GetFullName())
	})

	return c.JSON(fiber.Map{
		"message": "Password has been reset",
	})
}
