package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// NewModelHandler returns a handler for the /model command: a picker between
// the available chat models.
func NewModelHandler(deps HandlerDeps) bot.HandlerFunc {
	return modelHandler{deps}.Handle
}

type modelHandler struct {
	deps HandlerDeps
}

func (h modelHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "model")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "GPT-3.5", CallbackData: callbackModelPrefix + "gpt35"}},
			{{Text: "GPT-4", CallbackData: callbackModelPrefix + "gpt4"}},
		},
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Choose the chat model:",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send model picker", "error", err, "chat_id", chatID)
	}
}

// NewModelCallbackHandler returns the handler for model picker buttons.
// Switching to GPT-4 requires a tier that includes it.
func NewModelCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return modelCallbackHandler{deps}.Handle
}

type modelCallbackHandler struct {
	deps HandlerDeps
}

func (h modelCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "model_callback")

	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	answerCallback(ctx, b, cb.ID)

	chatID, _ := updateIdentity(update)
	if chatID == 0 {
		return
	}

	choice := strings.TrimPrefix(cb.Data, callbackModelPrefix)
	if choice != "gpt35" && choice != "gpt4" {
		log.WarnContext(ctx, "Model callback with unknown choice", "chat_id", chatID, "choice", choice)
		return
	}

	if choice == "gpt4" {
		account, err := deps.Store.GetAccount(ctx, chatID)
		if err != nil || account == nil {
			log.ErrorContext(ctx, "Failed to load account for model switch", "error", err, "chat_id", chatID)
			return
		}
		tier, ok := deps.Config.Tier(account.Tier)
		if !ok || quota.Allotment(tier, quota.ResourceGPT4) <= 0 {
			RefuseQuota(ctx, b, deps, chatID, quota.Decision{Verdict: quota.NoEntitlement})
			return
		}
	}

	if err := deps.Store.SetDefaultModel(ctx, chatID, choice); err != nil {
		log.ErrorContext(ctx, "Failed to set default model", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	name := "GPT-3.5"
	if choice == "gpt4" {
		name = "GPT-4"
	}
	log.InfoContext(ctx, "Default model changed", "chat_id", chatID, "model", choice)
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Chat model switched to " + name + "."})
}
