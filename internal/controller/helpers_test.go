package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/internal/billing/billingtest"
	"konnectsphere_backend/internal/controller"
	"konnectsphere_backend/internal/middleware"
	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/internal/router"
	"konnectsphere_backend/internal/testutil"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/seed"
	"konnectsphere_backend/pkg/utils/jwt"
)

const webhookSecret = "whsec_controller_test"

// memoryStore is an in-memory ObjectStore.
type memoryStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{Objects: map[string][]byte{}}
}

func (s *memoryStore) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = b
	return "https://cdn.test/" + key, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	s.Deleted = append(s.Deleted, key)
	return nil
}

type env struct {
	app   *fiber.App
	store *memoryStore
	mail  *billingtest.Mailbox
	gw    *billingtest.Gateway
	svc   *billing.Service
}

func setup(t *testing.T) *env {
	t.Helper()
	jwt.Init("controller-test-secret", time.Hour)
	database.DB = testutil.NewDB(t)
	require.NoError(t, seed.SeedSubscriptionPlans(database.DB))

	mail := &billingtest.Mailbox{}
	mailer, err := email.NewEmailService(mail, "KonnectSphere <no-reply@konnectsphere.com>", "https://app.test")
	require.NoError(t, err)

	e := &env{
		store: newMemoryStore(),
		mail:  mail,
		gw:    billingtest.NewGateway(),
	}
	e.svc = billing.NewServiceFromDB(database.DB, e.gw, mailer, "https://app.test")

	controller.InitAuthController(mailer, false)
	controller.InitPitchController(e.store, mailer)
	controller.InitSubscriptionController(e.svc, billing.NewStripeGateway("sk_test_unused", webhookSecret))

	e.app = fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	router.SetupRoutes(e.app, router.Options{})
	return e
}

func createUser(t *testing.T, email, role, plan, country string) (model.User, string) {
	t.Helper()
	u := model.User{
		Email:            email,
		Password:         "hash",
		FirstName:        "Test",
		LastName:         role,
		UserType:         role,
		Country:          country,
		SubscriptionPlan: plan,
	}
	require.NoError(t, database.DB.Create(&u).Error)
	token, err := jwt.GenerateToken(u.ID, u.Email, u.UserType)
	require.NoError(t, err)
	return u, token
}

type response struct {
	Status int
	Body   []byte
	Header http.Header
}

func (r response) JSON(t *testing.T) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(r.Body, &out), string(r.Body))
	return out
}

func (e *env) do(t *testing.T, req *http.Request, token string) response {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{Status: resp.StatusCode, Body: b, Header: resp.Header}
}

func (e *env) call(t *testing.T, method, path string, body interface{}, token string) response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(t, req, token)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// publishedPitch inserts a published pitch for owner directly.
func publishedPitch(t *testing.T, owner model.User, title, country string) model.Pitch {
	t.Helper()
	now := time.Now().UTC()
	p := model.Pitch{
		UserID:      owner.ID,
		Title:       title,
		Country:     country,
		Industry:    "fintech",
		Stage:       "growth",
		FundingAsk:  250000,
		Status:      model.PitchStatusPublished,
		PublishedAt: &now,
		Documents: []model.Document{
			{ID: "doc-1", Name: "deck.pdf", URL: "https://cdn.test/deck.pdf", Key: "deck.pdf"},
		},
	}
	require.NoError(t, database.DB.Omit("User").Create(&p).Error)
	return p
}

func pitchPath(id uint, suffix string) string {
	return fmt.Sprintf("/api/pitches/%d%s", id, suffix)
}
