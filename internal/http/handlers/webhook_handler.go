package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const HeaderTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler is implemented by *bot.Bot.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// WebhookHandler accepts Telegram deliveries and answers 200 immediately;
// updates are processed in their own goroutine under the server context.
type WebhookHandler struct {
	ctx    context.Context
	bot    UpdateHandler
	secret string
	log    *zap.Logger
}

func NewWebhookHandler(ctx context.Context, bot UpdateHandler, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ctx: ctx, bot: bot, secret: secret, log: log}
}

func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret != "" {
		got := c.Get(HeaderTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("webhook secret mismatch", zap.String("ip", c.IP()))
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		h.log.Warn("invalid webhook payload", zap.Error(err))
		return c.SendStatus(fiber.StatusBadRequest)
	}

	go h.bot.HandleUpdate(h.ctx, update)
	return c.SendStatus(fiber.StatusOK)
}
