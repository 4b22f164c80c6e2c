package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewResendHandler returns a handler for the /resend command, which runs the
// last prompt through the model again.
func NewResendHandler(deps HandlerDeps) bot.HandlerFunc {
	return resendHandler{deps}.Handle
}

type resendHandler struct {
	deps HandlerDeps
}

func (h resendHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "resend")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	history, err := deps.Store.GetRecentMessagesInChat(ctx, chatID, deps.Config.Database.MaxHistoryMessages)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load history for resend", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	var lastPrompt string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			lastPrompt = history[i].Content
			break
		}
	}
	if lastPrompt == "" {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.NothingToResend})
		return
	}

	log.InfoContext(ctx, "Resending last prompt", "chat_id", chatID)
	RunChatPrompt(ctx, b, deps, chatID, update.Message.ID, isGroupChat(update.Message), lastPrompt)
}
