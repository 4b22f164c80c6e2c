package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/config"
)

// trial accounts only see the first few personas
const trialPersonaLimit = 5

// personaPageSize is the number of persona buttons shown per picker page.
const personaPageSize = 5

// NewAssistantHandler returns a handler for the /assistant command: the
// paged persona picker.
func NewAssistantHandler(deps HandlerDeps) bot.HandlerFunc {
	return assistantHandler{deps}.Handle
}

type assistantHandler struct {
	deps HandlerDeps
}

func (h assistantHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "assistant")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	text, markup := personaPage(visiblePersonas(ctx, deps, chatID), 1)
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send persona picker", "error", err, "chat_id", chatID)
	}
}

// NewPersonaPageCallbackHandler returns the handler for the picker's page
// navigation buttons, which re-render the picker message in place.
func NewPersonaPageCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return personaPageCallbackHandler{deps}.Handle
}

type personaPageCallbackHandler struct {
	deps HandlerDeps
}

func (h personaPageCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "persona_page_callback")

	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	answerCallback(ctx, b, cb.ID)

	// Paging edits the picker message, so an inaccessible one cannot be turned.
	if cb.Message.Message.Date == 0 {
		return
	}
	chatID := cb.Message.Message.Chat.ID
	messageID := cb.Message.Message.ID

	page, err := strconv.Atoi(strings.TrimPrefix(cb.Data, callbackPersonaPagePrefix))
	if err != nil {
		log.WarnContext(ctx, "Persona page callback with bad page", "chat_id", chatID, "data", cb.Data)
		return
	}

	text, markup := personaPage(visiblePersonas(ctx, deps, chatID), page)
	_, err = b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to turn persona picker page", "error", err, "chat_id", chatID)
	}
}

// visiblePersonas applies the trial-account cap to the configured persona list.
func visiblePersonas(ctx context.Context, deps HandlerDeps, chatID int64) []config.PersonaConfig {
	personas := deps.Config.Personas
	if account, err := deps.Store.GetAccount(ctx, chatID); err == nil && account != nil && account.IsTrial {
		if len(personas) > trialPersonaLimit {
			personas = personas[:trialPersonaLimit]
		}
	}
	return personas
}

// personaPage renders one page of the persona picker. Out-of-range pages are
// clamped so a stale navigation button never produces an empty keyboard.
func personaPage(personas []config.PersonaConfig, page int) (string, *models.InlineKeyboardMarkup) {
	total := (len(personas) + personaPageSize - 1) / personaPageSize
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}

	start := (page - 1) * personaPageSize
	end := start + personaPageSize
	if end > len(personas) {
		end = len(personas)
	}

	rows := make([][]models.InlineKeyboardButton, 0, end-start+1)
	for _, p := range personas[start:end] {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         p.Name,
			CallbackData: callbackPersonaPrefix + p.Key,
		}})
	}

	if total > 1 {
		var nav []models.InlineKeyboardButton
		if page > 1 {
			nav = append(nav, models.InlineKeyboardButton{
				Text:         "<<",
				CallbackData: callbackPersonaPagePrefix + strconv.Itoa(page-1),
			})
		}
		if page < total {
			nav = append(nav, models.InlineKeyboardButton{
				Text:         ">>",
				CallbackData: callbackPersonaPagePrefix + strconv.Itoa(page+1),
			})
		}
		rows = append(rows, nav)
	}

	text := "Choose an assistant:"
	if total > 1 {
		text = fmt.Sprintf("Choose an assistant (page %d of %d):", page, total)
	}
	return text, &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// NewPersonaCallbackHandler returns the handler for persona picker buttons.
// Switching personas clears the conversation context so the new instruction
// starts clean.
func NewPersonaCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return personaCallbackHandler{deps}.Handle
}

type personaCallbackHandler struct {
	deps HandlerDeps
}

func (h personaCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "persona_callback")

	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	answerCallback(ctx, b, cb.ID)

	chatID, _ := updateIdentity(update)
	if chatID == 0 {
		return
	}

	key := strings.TrimPrefix(cb.Data, callbackPersonaPrefix)
	persona, ok := deps.Config.Persona(key)
	if !ok {
		log.WarnContext(ctx, "Persona callback with unknown key", "chat_id", chatID, "persona", key)
		return
	}

	if err := deps.Store.SetDefaultPersona(ctx, chatID, persona.Key); err != nil {
		log.ErrorContext(ctx, "Failed to set persona", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	if err := deps.Store.DeleteMessagesInChat(ctx, chatID); err != nil {
		log.WarnContext(ctx, "Failed to clear context on persona switch", "error", err, "chat_id", chatID)
	}

	welcome := persona.Welcome
	if welcome == "" {
		welcome = "Assistant switched to " + persona.Name + "."
	}

	log.InfoContext(ctx, "Persona changed", "chat_id", chatID, "persona", persona.Key)
	_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: welcome})
}
