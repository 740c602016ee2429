package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"konnectsphere_backend/internal/billing"
	"konnectsphere_backend/internal/controller"
	"konnectsphere_backend/internal/middleware"
	"konnectsphere_backend/internal/model"
	"konnectsphere_backend/internal/router"
	"konnectsphere_backend/pkg/cache"
	"konnectsphere_backend/pkg/config"
	"konnectsphere_backend/pkg/cron"
	"konnectsphere_backend/pkg/database"
	"konnectsphere_backend/pkg/email"
	"konnectsphere_backend/pkg/seed"
	"konnectsphere_backend/pkg/utils/cloudflare"
	"konnectsphere_backend/pkg/utils/jwt"
	"konnectsphere_backend/pkg/utils/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	jwt.Init(cfg.JWT.Secret, cfg.JWT.TTL)

	if err := database.InitDB(cfg.Database.URL); err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	if err := database.MigrateDatabase(database.DB, model.AllModels()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := seed.SeedSubscriptionPlans(database.DB); err != nil {
		log.Fatalf("Could not seed subscription plans: %v", err)
	}

	transport := email.NewSMTPTransport(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	emailService, err := email.NewEmailService(transport, cfg.SMTP.Sender, cfg.Server.FrontendURL)
	if err != nil {
		log.Fatalf("Could not initialize email service: %v", err)
	}
	log.Infof("Email service initialized (smtp %s:%s)", cfg.SMTP.Host, cfg.SMTP.Port)

	ctx := context.Background()
	var objectStore controller.ObjectStore
	var uploadDir string
	if cfg.R2.Configured() {
		objectStore, err = cloudflare.NewClient(ctx, cfg.R2)
		if err != nil {
			log.Fatalf("Could not initialize R2 client: %v", err)
		}
	} else {
		disk, err := storage.NewDisk(cfg.R2.LocalDir, cfg.R2.LocalURL)
		if err != nil {
			log.Fatalf("Could not initialize local storage: %v", err)
		}
		log.Warnf("R2 is not configured, storing uploads in %s", disk.Root())
		objectStore, uploadDir = disk, disk.Root()
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warnf("Redis unavailable, sweeps run without a lock: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	gateway := billing.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	billingService := billing.NewServiceFromDB(database.DB, gateway, emailService, cfg.Server.FrontendURL)

	controller.InitAuthController(emailService, cfg.Server.CookieSecure)
	controller.InitPitchController(objectStore, emailService)
	controller.InitSubscriptionController(billingService, gateway)

	var schedulerOpts []cron.Option
	if redisClient != nil {
		schedulerOpts = append(schedulerOpts, cron.WithLock(redisClient, 30*time.Minute))
	}
	scheduler := cron.NewScheduler(schedulerOpts...)
	if err := cron.RegisterSubscriptionJobs(scheduler, billingService); err != nil {
		log.Fatalf("Could not register subscription jobs: %v", err)
	}
	if err := cron.RegisterMaintenanceJobs(scheduler, &cron.DraftCleanup{DB: database.DB, Mailer: emailService}); err != nil {
		log.Fatalf("Could not register maintenance jobs: %v", err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler,
		BodyLimit:    25 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.FrontendURL,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))

	if uploadDir != "" {
		app.Static("/uploads", uploadDir)
	}
	router.SetupRoutes(app, router.Options{
		AuthLimiter: limiter.New(limiter.Config{
			Max:        10,
			Expiration: time.Minute,
		}),
	})

	go func() {
		log.Infof("Server is running on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.StopAll(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("Server shutdown: %v", err)
	}
}
