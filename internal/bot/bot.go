package bot

import (
	"context"
	"fmt"

	"github.com/giftme/backend/internal/config"
	"github.com/giftme/backend/internal/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	msgStarted    = "Bot was started."
	msgStopped    = "Bot was stopped."
	msgTryAgain   = "Error. Please try again later."
	msgUnknownCmd = "Send /start to open GiftMe."
)

// Messenger is the part of the Bot API the handlers need.
// *tgbotapi.BotAPI implements it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot dispatches Telegram updates. It holds no per-chat state.
type Bot struct {
	api      Messenger
	sessions *services.SessionService
	cfg      *config.Config
	log      *zap.Logger
}

func New(api Messenger, sessions *services.SessionService, cfg *config.Config, log *zap.Logger) *Bot {
	return &Bot{
		api:      api,
		sessions: sessions,
		cfg:      cfg,
		log:      log.Named("bot"),
	}
}

// HandleUpdate processes a single update. Errors are logged, never returned:
// Telegram must not redeliver an update because of our failure.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !msg.Chat.IsPrivate() {
		return
	}

	var err error
	switch {
	case msg.IsCommand() && msg.Command() == "start":
		err = b.handleStart(ctx, msg)
	case msg.IsCommand():
		err = b.sendText(msg.Chat.ID, msgUnknownCmd)
	}
	if err != nil {
		b.log.Error("handle update",
			zap.Int("update_id", update.UpdateID),
			zap.Int64("telegram_id", msg.From.ID),
			zap.Error(err),
		)
	}
}

// NotifyAdmins sends text to every configured admin. Delivery failures are
// logged and ignored.
func (b *Bot) NotifyAdmins(text string) {
	for _, id := range b.cfg.AdminTelegramIDs {
		if err := b.sendText(id, text); err != nil {
			b.log.Warn("admin notification failed", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
}

func (b *Bot) NotifyStarted() { b.NotifyAdmins(msgStarted) }
func (b *Bot) NotifyStopped() { b.NotifyAdmins(msgStopped) }

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}
