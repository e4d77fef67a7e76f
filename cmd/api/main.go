package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/bot"
	"github.com/giftme/backend/internal/config"
	"github.com/giftme/backend/internal/db"
	"github.com/giftme/backend/internal/events"
	apphttp "github.com/giftme/backend/internal/http"
	"github.com/giftme/backend/internal/http/handlers"
	"github.com/giftme/backend/internal/middleware"
	"github.com/giftme/backend/internal/repositories"
	"github.com/giftme/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis: без него нет rate limit и live-событий, но логин работает
	var rdb *redis.Client
	if client, err := db.NewRedisClient(ctx, cfg.RedisURL, log); err != nil {
		log.Error("redis unavailable, rate limiting and session events disabled", zap.Error(err))
	} else {
		rdb = client
		defer rdb.Close()
	}

	// Events
	var publisher events.Publisher = events.NopPublisher{}
	var wsHub *handlers.WSHub
	if rdb != nil {
		publisher = events.NewRedisPublisher(rdb, log)
		wsHub = handlers.NewWSHub(events.NewRedisSubscriber(rdb, log), log)
		if err := wsHub.Start(ctx); err != nil {
			log.Error("failed to start ws hub", zap.Error(err))
			wsHub = nil
		}
	}

	// Repositories
	userRepo := repositories.NewUserRepo(pool)

	// Services
	tokens := auth.NewTokenManager(cfg.JWTSecret, auth.TokenConfig{
		AccessTTL:       cfg.AccessTokenTTL,
		RefreshTTL:      cfg.RefreshTokenTTL,
		RotateThreshold: cfg.TokenRotateThreshold,
	})
	sessions := services.NewSessionService(userRepo, tokens, publisher, log)
	initData := auth.NewInitDataValidator(cfg.BotToken, cfg.InitDataMaxAge)

	// Bot
	botAPI, err := bot.NewAPI(cfg.BotToken, log)
	if err != nil {
		log.Fatal("failed to create bot", zap.Error(err))
	}
	tgBot := bot.New(botAPI, sessions, cfg, log)

	var webhook *handlers.WebhookHandler
	switch cfg.BotMode {
	case config.BotModeWebhook:
		if err := bot.SetWebhook(botAPI, cfg.WebhookURL(), cfg.WebhookSecret); err != nil {
			log.Fatal("failed to set webhook", zap.Error(err))
		}
		webhook = handlers.NewWebhookHandler(ctx, tgBot, cfg.WebhookSecret, log)
		log.Info("webhook set", zap.String("url", cfg.WebhookURL()))
	case config.BotModePolling:
		go func() {
			if err := tgBot.RunPolling(ctx, botAPI); err != nil {
				log.Error("polling stopped", zap.Error(err))
			}
		}()
	}
	tgBot.NotifyStarted()

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error("handler error", zap.String("path", c.Path()), zap.Error(err))
				return c.Status(code).JSON(fiber.Map{"error": "internal server error"})
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Gatekeeper: middleware.NewGatekeeper(sessions, initData, log),
		Pages:      handlers.NewPageHandler(cfg),
		Auth:       handlers.NewAuthHandler(sessions, log),
		Users:      handlers.NewUserHandler(sessions, log),
		Webhook:    webhook,
		WSHub:      wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		if cfg.BotMode == config.BotModeWebhook {
			if err := bot.DeleteWebhook(botAPI); err != nil {
				log.Warn("failed to delete webhook", zap.Error(err))
			}
		}
		tgBot.NotifyStopped()
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("bot_mode", cfg.BotMode))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
