package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/openai"
	"github.com/neuroscribe/scribebot/internal/quota"
)

// Telegram keeps a chat action visible for about five seconds, so long work
// needs a refresh loop.
const typingRefresh = 4 * time.Second

// NewChatHandler returns the default message handler: plain text becomes a
// chat prompt, voice notes are transcribed first, and photos are answered
// with image analysis.
func NewChatHandler(deps HandlerDeps) bot.HandlerFunc {
	return chatHandler{deps}.Handle
}

type chatHandler struct {
	deps HandlerDeps
}

func (h chatHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		// Unknown command, nothing to do.
		return
	}

	chatID := msg.Chat.ID
	group := isGroupChat(msg)

	if group && !h.shouldEngageGroup(msg) {
		log.DebugContext(ctx, "Group message without trigger, skipping", "chat_id", chatID)
		return
	}

	switch {
	case msg.Voice != nil:
		h.handleVoice(ctx, b, msg, msg.Voice.FileID, group)
	case msg.Audio != nil:
		h.handleVoice(ctx, b, msg, msg.Audio.FileID, group)
	case msg.VideoNote != nil:
		h.handleVoice(ctx, b, msg, msg.VideoNote.FileID, group)
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, b, msg)
	case strings.TrimSpace(msg.Text) != "":
		prompt := h.stripTrigger(msg.Text)
		RunChatPrompt(ctx, b, h.deps, chatID, msg.ID, group, prompt)
	}
}

// shouldEngageGroup decides whether a group message is addressed to the bot:
// it contains the trigger keyword, mentions the bot, or replies to it.
func (h chatHandler) shouldEngageGroup(msg *models.Message) bool {
	text := strings.ToLower(msg.Text + " " + msg.Caption)

	trigger := strings.ToLower(h.deps.Config.Telegram.TriggerKeyword)
	if trigger != "" && strings.Contains(text, trigger) {
		return true
	}

	if h.deps.Config.Telegram.BotInfo != nil {
		botInfo := h.deps.Config.Telegram.BotInfo
		if botInfo.Username != "" && strings.Contains(text, "@"+strings.ToLower(botInfo.Username)) {
			return true
		}
		if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == botInfo.ID {
			return true
		}
	}

	return false
}

func (h chatHandler) stripTrigger(text string) string {
	trigger := h.deps.Config.Telegram.TriggerKeyword
	if trigger == "" {
		return strings.TrimSpace(text)
	}
	idx := strings.Index(strings.ToLower(text), strings.ToLower(trigger))
	if idx < 0 {
		return strings.TrimSpace(text)
	}
	cleaned := strings.TrimSpace(text[:idx] + text[idx+len(trigger):])
	if cleaned == "" {
		return strings.TrimSpace(text)
	}
	return cleaned
}

// keepTyping shows a chat action until the returned stop function is called
// or the context ends.
func keepTyping(ctx context.Context, b *bot.Bot, chatID int64, action models.ChatAction) func() {
	ctx, cancel := context.WithCancel(ctx)

	send := func() {
		_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: action})
	}

	go func() {
		send()
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	return cancel
}

// RunChatPrompt executes one full billable chat turn: authorize, persist the
// prompt, generate with conversation context, present the reply, persist it,
// and debit the measured token usage.
func RunChatPrompt(ctx context.Context, b *bot.Bot, deps HandlerDeps, chatID int64, replyTo int, group bool, prompt string) {
	log := deps.Logger.With("handler", "chat")

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return
	}

	decision, account, err := deps.Quota.Check(ctx, chatID, quota.ResourceGPT35)
	if err != nil {
		log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	resource, model := chatResource(deps, account)
	if resource != quota.ResourceGPT35 {
		decision, account, err = deps.Quota.Check(ctx, chatID, resource)
		if err != nil {
			log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
			return
		}
	}
	if decision.Verdict != quota.Allowed {
		RefuseQuota(ctx, b, deps, chatID, decision)
		return
	}

	history, err := deps.Store.GetRecentMessagesInChat(ctx, chatID, deps.Config.Database.MaxHistoryMessages)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load conversation history", "error", err, "chat_id", chatID)
		history = nil
	}

	SaveMessageWithRetry(ctx, deps, &database.Message{
		ChatID:    chatID,
		Role:      "user",
		Content:   prompt,
		Timestamp: time.Now().UTC(),
	}, "user prompt")

	messages := buildChatMessages(deps, account, history, prompt)

	stopTyping := keepTyping(ctx, b, chatID, models.ChatActionTyping)
	defer stopTyping()

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()

	var result openai.ChatResult
	if deps.Config.Stream.Enabled {
		sess := deps.Presenter.Begin(chatID, replyTo, group)
		result, err = deps.AI.ChatStream(aiCtx, model, messages, func(cumulative string) {
			sess.Update(aiCtx, cumulative)
		})
		if err == nil {
			if finishErr := sess.Finish(ctx, result.Content); finishErr != nil {
				log.ErrorContext(ctx, "Failed to finalize streamed reply", "error", finishErr, "chat_id", chatID)
			}
		}
	} else {
		result, err = deps.AI.Chat(aiCtx, model, messages)
		if err == nil {
			if sendErr := deps.Presenter.SendChunked(ctx, chatID, replyTo, result.Content); sendErr != nil {
				log.ErrorContext(ctx, "Failed to send reply", "error", sendErr, "chat_id", chatID)
			}
		}
	}
	stopTyping()

	if err != nil {
		log.ErrorContext(ctx, "Chat generation failed", "error", err, "chat_id", chatID, "model", model)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GenerationFailed})
		return
	}

	SaveMessageWithRetry(ctx, deps, &database.Message{
		ChatID:    chatID,
		Role:      "assistant",
		Content:   result.Content,
		Timestamp: time.Now().UTC(),
	}, "assistant reply")

	if err := deps.Quota.Debit(ctx, chatID, resource, result.TotalTokens); err != nil {
		log.ErrorContext(ctx, "Failed to debit chat usage", "error", err, "chat_id", chatID, "tokens", result.TotalTokens)
	}
}

// buildChatMessages assembles the model conversation: persona instruction,
// stored history, then the current prompt.
func buildChatMessages(deps HandlerDeps, account *database.Account, history []database.Message, prompt string) []openai.ChatMessage {
	messages := make([]openai.ChatMessage, 0, len(history)+2)

	if persona, ok := deps.Config.Persona(account.DefaultPersona); ok && persona.Instruction != "" {
		messages = append(messages, openai.ChatMessage{Role: "system", Content: persona.Instruction})
	}

	for _, m := range history {
		messages = append(messages, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}

	messages = append(messages, openai.ChatMessage{Role: "user", Content: prompt})
	return messages
}

func (h chatHandler) handleVoice(ctx context.Context, b *bot.Bot, msg *models.Message, fileID string, group bool) {
	deps := h.deps
	log := deps.Logger.With("handler", "voice_message")
	chatID := msg.Chat.ID

	decision, _, err := deps.Quota.Check(ctx, chatID, quota.ResourceTranscription)
	if err != nil {
		log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
		return
	}
	if decision.Verdict != quota.Allowed {
		RefuseQuota(ctx, b, deps, chatID, decision)
		return
	}

	stopTyping := keepTyping(ctx, b, chatID, models.ChatActionTyping)
	defer stopTyping()

	data, _, filePath, err := DownloadFile(ctx, b, deps.Config.Telegram.Token, fileID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to download voice message", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.DownloadFailed})
		return
	}

	filename := path.Base(filePath)
	if filename == "" || filename == "." {
		filename = "voice.ogg"
	}

	transcript, err := deps.AI.Transcribe(ctx, filename, bytes.NewReader(data))
	if err != nil {
		log.ErrorContext(ctx, "Transcription failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.MediaFailed})
		return
	}

	// One transcription credit per processed voice message, regardless of length.
	if err := deps.Quota.Debit(ctx, chatID, quota.ResourceTranscription, 1); err != nil {
		log.ErrorContext(ctx, "Failed to debit transcription", "error", err, "chat_id", chatID)
	}

	log.InfoContext(ctx, "Voice message transcribed", "chat_id", chatID, "chars", len(transcript))
	stopTyping()

	RunChatPrompt(ctx, b, deps, chatID, msg.ID, group, transcript)
}

func (h chatHandler) handlePhoto(ctx context.Context, b *bot.Bot, msg *models.Message) {
	deps := h.deps
	log := deps.Logger.With("handler", "photo")
	chatID := msg.Chat.ID

	decision, _, err := deps.Quota.Check(ctx, chatID, quota.ResourceGPT4)
	if err != nil {
		log.ErrorContext(ctx, "Quota check failed", "error", err, "chat_id", chatID)
		return
	}
	if decision.Verdict != quota.Allowed {
		RefuseQuota(ctx, b, deps, chatID, decision)
		return
	}

	var best models.PhotoSize
	for _, photo := range msg.Photo {
		if photo.Width*photo.Height > best.Width*best.Height {
			best = photo
		}
	}

	stopTyping := keepTyping(ctx, b, chatID, models.ChatActionTyping)
	defer stopTyping()

	data, mimeType, _, err := DownloadFile(ctx, b, deps.Config.Telegram.Token, best.FileID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to download photo", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.DownloadFailed})
		return
	}

	imageURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	result, err := deps.AI.DescribeImage(aiCtx, msg.Caption, imageURL)
	stopTyping()
	if err != nil {
		log.ErrorContext(ctx, "Image analysis failed", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GenerationFailed})
		return
	}

	if err := deps.Presenter.SendChunked(ctx, chatID, msg.ID, result.Content); err != nil {
		log.ErrorContext(ctx, "Failed to send image analysis", "error", err, "chat_id", chatID)
	}

	// Image analysis bills its tokens plus a fixed surcharge against the
	// GPT-4 allowance.
	cost := result.TotalTokens + deps.Config.OpenAI.VisionSurcharge
	if err := deps.Quota.Debit(ctx, chatID, quota.ResourceGPT4, cost); err != nil {
		log.ErrorContext(ctx, "Failed to debit image analysis", "error", err, "chat_id", chatID, "cost", cost)
	}
}
