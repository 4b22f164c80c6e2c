package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewSupportHandler returns a handler for the /support command, forwarding
// the user's message to the admin group.
func NewSupportHandler(deps HandlerDeps) bot.HandlerFunc {
	return supportHandler{deps}.Handle
}

type supportHandler struct {
	deps HandlerDeps
}

func (h supportHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "support")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	text := commandArgument(update.Message.Text)
	if text == "" {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Describe your problem after the command, for example: /support payment not applied",
		})
		return
	}

	NotifyAdmins(ctx, b, h.deps,
		"Support request from "+formatChatRef(chatID, update.Message.From.Username)+":\n"+text)

	log.InfoContext(ctx, "Support request forwarded", "chat_id", chatID)
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Thanks, your message has been passed to support.",
	})
}
