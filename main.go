package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/Ananth-NQI/foodbot-backend/database"
	"github.com/Ananth-NQI/foodbot-backend/internal/config"
	"github.com/Ananth-NQI/foodbot-backend/internal/events"
	"github.com/Ananth-NQI/foodbot-backend/internal/handlers"
	"github.com/Ananth-NQI/foodbot-backend/internal/jobs"
	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/routes"
	"github.com/Ananth-NQI/foodbot-backend/internal/services"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		logger.Log.Fatalf("❌ %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	var pinger handlers.Pinger
	if db != nil {
		pinger = db
	}

	// Outbound delivery
	var sender services.Sender = services.LogSender{}
	twilioConfigured := false
	if ts, err := services.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppFrom); err != nil {
		logger.Log.Warnf("⚠️  Twilio not configured, replies will only be logged: %v", err)
	} else {
		sender = ts
		twilioConfigured = true
		logger.Log.Info("✅ Twilio sender initialized")
	}

	queue := services.NewOutboundQueue(sender, services.NewDeadLetterSink(store), services.QueueOptions{
		MaxAttempts:    cfg.OutboundMaxAttempts,
		InitialBackoff: cfg.OutboundBackoff,
		MaxBackoff:     cfg.OutboundMaxBackoff,
		SendTimeout:    cfg.OutboundSendTimeout,
		MaxConcurrency: int64(cfg.OutboundMaxConcurrency),
	})

	// Order events
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Log.Warnf("⚠️  AMQP unavailable, order events disabled: %v", err)
		} else {
			publisher = p
			logger.Log.Infof("✅ Publishing order events to exchange %s", cfg.AMQPExchange)
		}
	}

	// Conversation
	msgs := services.NewMessages(cfg.CurrencySymbol, cfg.OrderETAMessage)
	flow := services.NewOrderFlow(store, store, msgs,
		services.WithDeliveryPhone(cfg.DeliveryPhoneNumber),
		services.WithPublisher(publisher),
	)
	nutritionist := services.NewNutritionist(cfg.OpenAIAPIKey, cfg.NutritionModel)
	router := services.NewConversationRouter(store, store, flow, nutritionist, queue)

	sweeper := jobs.NewSessionSweeper(store, cfg.SessionSweepInterval)
	sweeper.Start(ctx)

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "FoodBot Backend v" + version,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	routes.SetupRoutes(app, cfg, routes.Handlers{
		WhatsApp: handlers.NewWhatsAppHandler(router),
		Health:   handlers.NewHealthHandler(version, store, queue, pinger, twilioConfigured),
		Admin:    handlers.NewAdminHandler(store),
	})

	logger.Log.Info("========================================")
	logger.Log.Infof("🚀 FoodBot Backend starting on port %s", cfg.Port)
	logger.Log.Infof("📊 Storage: %s", storageType(cfg))
	logger.Log.Infof("🌍 Environment: %s", cfg.Environment)
	logger.Log.Infof("📱 WhatsApp: %s", configured(twilioConfigured))
	logger.Log.Infof("🥗 Nutritionist: %s", configured(cfg.OpenAIAPIKey != ""))
	logger.Log.Info("========================================")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("🛑 Gracefully shutting down...")

		// stop taking webhooks first so no new replies are queued
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Errorf("Server shutdown: %v", err)
		}
		logger.Log.Info("⏹️  Stopping session sweeper...")
		sweeper.Stop()

		logger.Log.Info("⏹️  Draining outbound queue...")
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := queue.Close(drainCtx); err != nil {
			logger.Log.Warnf("Outbound queue not fully drained: %v", err)
		}

		if err := publisher.Close(); err != nil {
			logger.Log.Warnf("Closing event publisher: %v", err)
		}
		if db != nil {
			if err := db.Close(); err != nil {
				logger.Log.Warnf("Closing database: %v", err)
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openStore returns the configured store. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, *storage.DatabaseStore, error) {
	if cfg.UseMemoryStore {
		logger.Log.Warn("⚠️  Using in-memory storage (not for production!)")
		store := storage.NewMemoryStore(cfg.SessionTTL)
		if _, err := store.SeedProducts(ctx, models.DefaultMenu()); err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewDatabaseStore(db, cfg.SessionTTL)
	logger.Log.Info("🔄 Running database migrations...")
	if err := store.Migrate(); err != nil {
		return nil, nil, err
	}
	logger.Log.Info("✅ Database migrations completed!")

	n, err := store.SeedProducts(ctx, models.DefaultMenu())
	if err != nil {
		return nil, nil, err
	}
	if n > 0 {
		logger.Log.Infof("🍕 Seeded %d menu items", n)
	}
	return store, store, nil
}

func storageType(cfg *config.Config) string {
	if cfg.UseMemoryStore {
		return "In-Memory (Testing)"
	}
	if cfg.DBDriver == "sqlite" {
		return "SQLite (" + cfg.DBPath + ")"
	}
	return "PostgreSQL Database"
}

func configured(ok bool) string {
	if ok {
		return "Configured"
	}
	return "Not configured"
}
