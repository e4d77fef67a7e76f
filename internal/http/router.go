package http

import (
	"strings"
	"time"

	"github.com/giftme/backend/internal/config"
	"github.com/giftme/backend/internal/http/handlers"
	"github.com/giftme/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handlers groups everything the router mounts. Webhook is nil in polling mode,
// WSHub is nil when Redis events are disabled.
type Handlers struct {
	Gatekeeper *middleware.Gatekeeper
	Pages      *handlers.PageHandler
	Auth       *handlers.AuthHandler
	Users      *handlers.UserHandler
	Webhook    *handlers.WebhookHandler
	WSHub      *handlers.WSHub
}

// appPages are the authenticated WebApp screens.
var appPages = []string{"/giftlists", "/gifts", "/contacts", "/groups", "/profile", "/payments"}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	if cfg.ForceHTTPS {
		app.Use(middleware.HTTPSRedirectMiddleware("/webhook", "/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: strings.Join([]string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID",
			middleware.HeaderStartParam, middleware.HeaderRefreshToken, middleware.HeaderInitData,
		}, ", "),
		ExposeHeaders: strings.Join([]string{
			middleware.HeaderNewAccessToken, middleware.HeaderNewRefreshToken, "X-Request-ID",
		}, ", "),
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Telegram webhook
	if h.Webhook != nil {
		app.Post("/webhook", h.Webhook.Handle)
	}

	// Rate limit до gatekeeper, чтобы флуд не ходил в базу
	if rdb != nil {
		app.Use("/twa/api", middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))
	}

	twa := app.Group("/twa", h.Gatekeeper.Handler())

	// Public pages (gatekeeper passes them through)
	twa.Get("/", h.Pages.Index)
	twa.Get("/error", h.Pages.Error)
	twa.Get("/gift/:id/public", h.Pages.PublicGift)

	api := twa.Group("/api")
	api.Post("/auth/refresh", h.Auth.Refresh)
	api.Get("/me", h.Users.GetMe)

	// WebSocket
	if h.WSHub != nil {
		api.Use("/ws", handlers.WSUpgradeMiddleware())
		api.Get("/ws", websocket.New(h.WSHub.HandleWS))
	}

	for _, p := range appPages {
		twa.Get(p, h.Pages.App)
		twa.Get(p+"/*", h.Pages.App)
	}
}
