package router

import (
	"github.com/gofiber/fiber/v2"

	"konnectsphere_backend/internal/controller"
	"konnectsphere_backend/internal/middleware"
	"konnectsphere_backend/pkg/metrics"
	"konnectsphere_backend/pkg/subscription"
)

type Options struct {
	// AuthLimiter throttles the credential endpoints. Nil disables it.
	AuthLimiter fiber.Handler
}

func passthrough(c *fiber.Ctx) error {
	return c.Next()
}

func SetupRoutes(app *fiber.App, opts Options) {
	limit := opts.AuthLimiter
	if limit == nil {
		limit = passthrough
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Get("/metrics", metrics.Handler())

	// Stripe webhook, verified by signature instead of a session
	api.Post("/webhook/stripe", controller.HandleStripeWebhook)

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", limit, controller.Register)
	auth.Post("/login", limit, controller.Login)
	auth.Post("/logout", controller.Logout)
	auth.Post("/request-reset", limit, controller.RequestPasswordReset)
	auth.Post("/reset-password", limit, controller.ResetPassword)

	api.Get("/subscriptions/plans", controller.ListPlans)
	api.Get("/locations/countries", controller.GetCountries)
	api.Get("/locations/countries/:code", controller.GetCountry)

	entrepreneur := middleware.RequireRole(subscription.RoleEntrepreneur)
	investor := middleware.RequireRole(subscription.RoleInvestor)

	// Protected Routes
	protected := api.Group("", middleware.AuthMiddleware())
	protected.Get("/me", controller.GetMe)
	protected.Get("/dashboard/stats", controller.GetDashboardStats)

	settings := protected.Group("/settings")
	settings.Get("/profile", controller.GetProfile)
	settings.Put("/profile", controller.UpdateProfile)
	settings.Post("/avatar", controller.UploadAvatar)

	// Entrepreneur pitch management
	pitches := protected.Group("/pitches")
	pitches.Get("/my", entrepreneur, controller.ListMyPitches)
	pitches.Post("/", entrepreneur, controller.CreatePitch)

	owned := pitches.Group("/:id", entrepreneur, middleware.CheckPitchOwnership())
	owned.Get("/", controller.GetMyPitch)
	owned.Put("/steps/:step", controller.UpdatePitchStep)
	owned.Post("/media", controller.UploadPitchMedia)
	owned.Delete("/media/:media_id", controller.DeletePitchMedia)
	owned.Post("/documents", middleware.CheckSubscriptionFeature(subscription.Documents), controller.UploadPitchDocument)
	owned.Delete("/documents/:document_id", controller.DeletePitchDocument)
	owned.Post("/publish", middleware.CheckPitchLimit(), controller.PublishPitch)
	owned.Delete("/", controller.DeletePitch)

	// Investor discovery
	browse := protected.Group("/browse", investor)
	browse.Get("/pitches", controller.BrowsePitches)
	browse.Get("/p/:slug", controller.GetPitchBySlug)
	browse.Post("/pitches/:id/contact", middleware.CheckSubscriptionFeature(subscription.ContactPitches), controller.ContactPitch)

	favourites := protected.Group("/favourites", investor)
	favourites.Get("/", controller.ListFavourites)
	favourites.Post("/:pitch_id", controller.AddFavourite)
	favourites.Delete("/:pitch_id", controller.RemoveFavourite)

	protected.Get("/investors", entrepreneur, controller.ListInvestors)

	leads := protected.Group("/leads", entrepreneur)
	leads.Get("/", controller.GetMyLeads)
	leads.Put("/:id/status", controller.UpdateLeadStatus)
	leads.Put("/:id/read", controller.MarkLeadAsRead)

	// Subscription routes
	subs := protected.Group("/subscriptions")
	subs.Post("/checkout", controller.CreateCheckoutSession)
	subs.Get("/checkout/success", controller.CheckoutSuccess)
	subs.Post("/cancel", controller.CancelSubscription)
	subs.Get("/my", controller.GetMySubscription)
	subs.Get("/history", controller.GetBillingHistory)
}
