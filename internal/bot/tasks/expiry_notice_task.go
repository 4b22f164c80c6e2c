package tasks

import (
	"context"
	"time"

	tgbot "github.com/go-telegram/bot"
)

// expiryNoticeWindow is how far ahead the task looks for expiring tiers.
const expiryNoticeWindow = 24 * time.Hour

// expiryNoticePause spaces out outgoing notifications to stay under
// Telegram's broadcast rate limits.
const expiryNoticePause = 100 * time.Millisecond

// newExpiryNoticeTask returns a task that notifies accounts whose tier
// expires within the next day so they can renew before losing access.
func newExpiryNoticeTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "expiry_notice")

	return func(ctx context.Context) error {
		now := time.Now()

		accounts, err := deps.Store.ListExpiringAccounts(ctx, now, now.Add(expiryNoticeWindow))
		if err != nil {
			log.ErrorContext(ctx, "Failed to list expiring accounts", "error", err)

			return err
		}

		if len(accounts) == 0 {
			log.InfoContext(ctx, "No accounts expiring within window")

			return nil
		}

		notified := 0

		for _, account := range accounts {
			_, err := deps.Bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: account.ChatID,
				Text:   deps.Config.Messages.ExpiryNotice,
			})
			if err != nil {
				// Blocked bots and deleted accounts are expected here.
				log.WarnContext(ctx, "Failed to send expiry notice", "chat_id", account.ChatID, "error", err)
			} else {
				notified++
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(expiryNoticePause):
			}
		}

		log.InfoContext(ctx, "Expiry notices sent", "candidates", len(accounts), "notified", notified)

		return nil
	}
}
