package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewResetHandler returns a handler for the /reset command, which clears the
// chat's stored conversation context.
func NewResetHandler(deps HandlerDeps) bot.HandlerFunc {
	return resetHandler{deps}.Handle
}

type resetHandler struct {
	deps HandlerDeps
}

func (h resetHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reset")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	log.InfoContext(ctx, "Handling /reset command", "chat_id", chatID)

	if err := h.deps.Store.DeleteMessagesInChat(ctx, chatID); err != nil {
		log.ErrorContext(ctx, "Failed to clear conversation history", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Config.Messages.GeneralError})
		return
	}

	text := h.deps.Config.Messages.ContextReset
	if account, err := h.deps.Store.GetAccount(ctx, chatID); err == nil && account != nil {
		if persona, ok := h.deps.Config.Persona(account.DefaultPersona); ok && persona.Welcome != "" {
			text = text + "\n\n" + persona.Welcome
		}
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send reset confirmation", "error", err, "chat_id", chatID)
	}
}
