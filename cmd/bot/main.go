package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/giftme/backend/internal/auth"
	"github.com/giftme/backend/internal/bot"
	"github.com/giftme/backend/internal/config"
	"github.com/giftme/backend/internal/db"
	"github.com/giftme/backend/internal/events"
	"github.com/giftme/backend/internal/repositories"
	"github.com/giftme/backend/internal/services"
	"go.uber.org/zap"
)

// Standalone long-polling bot for local development, where Telegram cannot
// reach a webhook. Run only one of cmd/bot and cmd/api in webhook mode.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.BotMode = config.BotModePolling
	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log); err != nil {
		log.Warn("redis unavailable, session events disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, auth.TokenConfig{
		AccessTTL:       cfg.AccessTokenTTL,
		RefreshTTL:      cfg.RefreshTokenTTL,
		RotateThreshold: cfg.TokenRotateThreshold,
	})
	sessions := services.NewSessionService(repositories.NewUserRepo(pool), tokens, publisher, log)

	botAPI, err := bot.NewAPI(cfg.BotToken, log)
	if err != nil {
		log.Fatal("failed to create bot", zap.Error(err))
	}
	tgBot := bot.New(botAPI, sessions, cfg, log)
	tgBot.NotifyStarted()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down bot")
		cancel()
	}()

	if err := tgBot.RunPolling(ctx, botAPI); err != nil {
		log.Error("polling stopped", zap.Error(err))
	}
	tgBot.NotifyStopped()
}
