package handlers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// NewStickerHandler returns a handler for the /sticker command: prompt to
// sticker-style picture.
func NewStickerHandler(deps HandlerDeps) bot.HandlerFunc {
	h := replicateHandler{
		deps:    deps,
		name:    "sticker",
		usage:   "Describe the sticker after the command, for example: /sticker a happy corgi",
		version: deps.Config.Replicate.StickerVersion,
		input: func(prompt string) map[string]any {
			return map[string]any{
				"prompt": prompt,
				"width":  1024,
				"height": 1024,
			}
		},
	}
	return h.HandlePrompt
}

// NewSDXLHandler returns a handler for the /sdxl command: prompt to SDXL
// render.
func NewSDXLHandler(deps HandlerDeps) bot.HandlerFunc {
	h := replicateHandler{
		deps:    deps,
		name:    "sdxl",
		usage:   "Describe the picture after the command, for example: /sdxl a watercolor harbor",
		version: deps.Config.Replicate.SDXLVersion,
		input: func(prompt string) map[string]any {
			return map[string]any{"prompt": prompt}
		},
	}
	return h.HandlePrompt
}

// NewBackgroundHandler returns a handler for the /bg command: removes the
// background of the photo the command replies to.
func NewBackgroundHandler(deps HandlerDeps) bot.HandlerFunc {
	h := replicateHandler{
		deps:    deps,
		name:    "bg",
		version: deps.Config.Replicate.BGVersion,
	}
	return h.HandleImage
}

// replicateHandler runs one Replicate-backed image command. Each command
// differs only in the model version and input shape.
type replicateHandler struct {
	deps    HandlerDeps
	name    string
	usage   string
	version string
	input   func(prompt string) map[string]any
}

func (h replicateHandler) HandlePrompt(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	prompt := commandArgument(update.Message.Text)
	if prompt == "" {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.usage})
		return
	}

	h.run(ctx, b, update.Message, h.input(prompt))
}

func (h replicateHandler) HandleImage(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", h.name)

	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	var photos []models.PhotoSize
	switch {
	case len(msg.Photo) > 0:
		photos = msg.Photo
	case msg.ReplyToMessage != nil && len(msg.ReplyToMessage.Photo) > 0:
		photos = msg.ReplyToMessage.Photo
	default:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Reply to a photo with /bg to remove its background.",
		})
		return
	}

	var best models.PhotoSize
	for _, photo := range photos {
		if photo.Width*photo.Height > best.Width*best.Height {
			best = photo
		}
	}

	data, mimeType, _, err := DownloadFile(ctx, b, deps.Config.Telegram.Token, best.FileID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to download photo", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.DownloadFailed})
		return
	}

	imageURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	h.run(ctx, b, msg, map[string]any{"image": imageURI})
}

func (h replicateHandler) run(ctx context.Context, b *bot.Bot, msg *models.Message, input map[string]any) {
	deps := h.deps
	log := deps.Logger.With("handler", h.name)
	chatID := msg.Chat.ID

	if h.version == "" {
		log.WarnContext(ctx, "Model version not configured", "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
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

	outputs, err := deps.Replicate.Run(ctx, h.version, input)
	stopTyping()
	if err != nil {
		log.ErrorContext(ctx, "Model run failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GenerationFailed})
		return
	}

	_, err = b.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:          chatID,
		Photo:           &models.InputFileString{Data: outputs[0]},
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send rendered image", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	log.InfoContext(ctx, "Rendered image delivered", "chat_id", chatID)
	if err := deps.Quota.Debit(ctx, chatID, quota.ResourceImage, 1); err != nil {
		log.ErrorContext(ctx, "Failed to debit image render", "error", err, "chat_id", chatID)
	}
}
