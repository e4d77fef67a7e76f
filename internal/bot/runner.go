package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func NewAPI(token string, log *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("bot authorized", zap.String("username", api.Self.UserName))
	return api, nil
}

// RunPolling receives updates with long polling until ctx is cancelled.
// Each update is handled in its own goroutine.
func (b *Bot) RunPolling(ctx context.Context, api *tgbotapi.BotAPI) error {
	if err := DeleteWebhook(api); err != nil {
		return err
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	for update := range updates {
		go b.HandleUpdate(ctx, update)
	}
	return nil
}

// SetWebhook registers url with Telegram. secret is echoed back by Telegram
// in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func SetWebhook(api *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", true)

	resp, err := api.MakeRequest("setWebhook", params)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("set webhook: %s (code %d)", resp.Description, resp.ErrorCode)
	}
	return nil
}

// DeleteWebhook снимает вебхук: перед polling и при остановке в webhook режиме.
func DeleteWebhook(api *tgbotapi.BotAPI) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
