// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AdminOnly creates a middleware that checks if the message sender is the configured admin user.
// If not, it sends a "Not Authorized" message and stops processing by returning early.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				next(ctx, bot, update)
				return
			}

			userID := update.Message.From.ID
			if userID != deps.Config.Telegram.AdminUserID {
				chatID := update.Message.Chat.ID
				log := deps.Logger.With("middleware", "AdminOnly")
				log.WarnContext(ctx, "Unauthorized access attempt", "user_id", userID, "chat_id", chatID)

				_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.NotAuthorized,
				})
				if err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
				}
				return
			}

			next(ctx, bot, update)
		}
	}
}

// WithAccount ensures the sending chat has an account before the handler
// runs, starting a trial on first contact. The admin group is notified of new
// trials.
func WithAccount(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			chatID, username := updateIdentity(update)
			if chatID == 0 {
				next(ctx, bot, update)
				return
			}

			log := deps.Logger.With("middleware", "WithAccount")

			_, created, err := deps.Quota.Provision(ctx, chatID, username)
			if err != nil {
				log.ErrorContext(ctx, "Failed to provision account", "chat_id", chatID, "error", err)
				_, _ = bot.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.GeneralError,
				})
				return
			}

			if created {
				NotifyAdmins(ctx, bot, deps, "New trial started: chat "+formatChatRef(chatID, username))
			}

			next(ctx, bot, update)
		}
	}
}

// updateIdentity extracts the chat ID and sender username from either a
// message or a callback query update.
func updateIdentity(update *models.Update) (int64, string) {
	switch {
	case update.Message != nil:
		username := ""
		if update.Message.From != nil {
			username = update.Message.From.Username
		}
		return update.Message.Chat.ID, username
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message.Message.Date != 0 {
			return cb.Message.Message.Chat.ID, cb.From.Username
		}
		return cb.Message.InaccessibleMessage.Chat.ID, cb.From.Username
	}
	return 0, ""
}
