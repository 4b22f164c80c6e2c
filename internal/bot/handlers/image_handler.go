package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// NewImageHandler returns a handler for the /image command: prompt to
// rendered picture.
func NewImageHandler(deps HandlerDeps) bot.HandlerFunc {
	return imageHandler{deps}.Handle
}

type imageHandler struct {
	deps HandlerDeps
}

func (h imageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "image")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	prompt := commandArgument(update.Message.Text)
	if prompt == "" {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Describe the picture after the command, for example: /image a lighthouse at dawn",
		})
		return
	}

	decision, _, err := deps.Quota.Check(ctx, chatID, quota.ResourceImage)
	if err != nil {
		log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
		return
	}
	if decision.Verdict != quota.Allowed {
		RefuseQuota(ctx, b, deps, chatID, decision)
		return
	}

	stopTyping := keepTyping(ctx, b, chatID, models.ChatActionUploadPhoto)
	defer stopTyping()

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	url, err := deps.AI.GenerateImage(aiCtx, prompt)
	stopTyping()
	if err != nil {
		log.ErrorContext(ctx, "Image generation failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GenerationFailed})
		return
	}

	_, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:          chatID,
		Photo:           &models.InputFileString{Data: url},
		ReplyParameters: &models.ReplyParameters{MessageID: update.Message.ID},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send generated image", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	log.InfoContext(ctx, "Image generated", "chat_id", chatID)
	if err := deps.Quota.Debit(ctx, chatID, quota.ResourceImage, 1); err != nil {
		log.ErrorContext(ctx, "Failed to debit image generation", "error", err, "chat_id", chatID)
	}
}
