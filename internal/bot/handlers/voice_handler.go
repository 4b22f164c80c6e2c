package handlers

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// NewVoiceHandler returns a handler for the /voice command: text to spoken
// audio. The cost is the character count of the input.
func NewVoiceHandler(deps HandlerDeps) bot.HandlerFunc {
	return voiceHandler{deps}.Handle
}

type voiceHandler struct {
	deps HandlerDeps
}

func (h voiceHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "voice")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	text := commandArgument(update.Message.Text)
	if text == "" {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Write the text to speak after the command, for example: /voice good morning",
		})
		return
	}

	decision, _, err := deps.Quota.Check(ctx, chatID, quota.ResourceSpeech)
	if err != nil {
		log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
		return
	}
	if decision.Verdict != quota.Allowed {
		RefuseQuota(ctx, b, deps, chatID, decision)
		return
	}

	stopTyping := keepTyping(ctx, b, chatID, models.ChatActionRecordVoice)
	defer stopTyping()

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	audio, err := deps.AI.Synthesize(aiCtx, text)
	stopTyping()
	if err != nil {
		log.ErrorContext(ctx, "Speech synthesis failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GenerationFailed})
		return
	}

	_, err = b.SendVoice(ctx, &bot.SendVoiceParams{
		ChatID:          chatID,
		Voice:           &models.InputFileUpload{Filename: "voice.mp3", Data: bytes.NewReader(audio)},
		ReplyParameters: &models.ReplyParameters{MessageID: update.Message.ID},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send synthesized voice", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	cost := int64(utf8.RuneCountInString(text))
	log.InfoContext(ctx, "Voice synthesized", "chat_id", chatID, "chars", cost)
	if err := deps.Quota.Debit(ctx, chatID, quota.ResourceSpeech, cost); err != nil {
		log.ErrorContext(ctx, "Failed to debit speech synthesis", "error", err, "chat_id", chatID)
	}
}
