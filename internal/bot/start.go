package bot

import (
	"context"
	"fmt"

	"github.com/giftme/backend/internal/auth"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const welcomeText = "🎮 Welcome to Giftme! 🧩\n\n" +
	"Here you can create your gift lists and share them!\n\n" +
	"Let's start! 🚀"

// handleStart is the bot-side login: find or create the user, mint a pair,
// store the refresh token and send the WebApp launch buttons.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	from := msg.From
	tg := auth.TelegramUser{
		ID:           from.ID,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		Username:     from.UserName,
		LanguageCode: from.LanguageCode,
	}

	user, pair, created, err := b.sessions.LoginWithTelegram(ctx, tg)
	if err != nil {
		if sendErr := b.sendText(msg.Chat.ID, msgTryAgain); sendErr != nil {
			b.log.Warn("failed to send error reply", zap.Error(sendErr))
		}
		return fmt.Errorf("start: %w", err)
	}

	payload := msg.CommandArguments()
	target := ResolveDeepLink(payload)
	b.log.Info("start",
		zap.Int64("user_id", user.ID),
		zap.Int64("telegram_id", tg.ID),
		zap.Bool("created", created),
		zap.String("payload", payload),
		zap.String("target", target),
	)

	kb := mainKeyboard(
		LaunchURL(b.cfg.BaseSite, target, pair),
		LaunchURL(b.cfg.BaseSite, "/twa/giftlists", pair),
	)
	if err := b.sendWithReplyMarkup(msg.Chat.ID, welcomeText, kb); err != nil {
		// юзер и токены уже сохранены, повторный /start найдёт его
		return err
	}
	return nil
}
