package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/onnwee/shorts-tender/telemetry"
)

// Poll receives updates with long polling until ctx is done. It is the
// fallback when no public URL is configured for a webhook.
func (b *Bot) Poll(ctx context.Context, api *tgbotapi.BotAPI) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	slog.Info("telegram long polling started", slog.String("bot", api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.Go(func(ctx context.Context) {
				b.Handle(telemetry.WithCorrelation(ctx, uuid.NewString()), upd)
			})
		}
	}
}
