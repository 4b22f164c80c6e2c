package handlers

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// Callback data prefixes. The payload follows the colon.
const (
	callbackBuyPrefix      = "buy:"
	callbackPayCheckPrefix = "paycheck:"
	callbackModelPrefix    = "model:"
	callbackPersonaPrefix  = "persona:"
	// distinct from callbackPersonaPrefix so prefix matching cannot overlap
	callbackPersonaPagePrefix = "personapage:"
)

// NewPayHandler returns a handler for the /pay command: the tier list with
// buy buttons.
func NewPayHandler(deps HandlerDeps) bot.HandlerFunc {
	return payHandler{deps}.Handle
}

type payHandler struct {
	deps HandlerDeps
}

func (h payHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "pay")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	var sb strings.Builder
	sb.WriteString("Available plans (30 days):\n\n")
	for _, tier := range h.deps.Config.Tiers {
		if tier.Price <= 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s — %d\n", tier.Name, tier.Price)
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        sb.String(),
		ReplyMarkup: tierKeyboard(h.deps),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send tier list", "error", err, "chat_id", chatID)
	}
}

// NewBuyCallbackHandler returns the handler for tier buy buttons: it creates
// an invoice and replies with the payment link and a confirmation button.
func NewBuyCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return buyCallbackHandler{deps}.Handle
}

type buyCallbackHandler struct {
	deps HandlerDeps
}

func (h buyCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "buy_callback")

	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	answerCallback(ctx, b, cb.ID)

	chatID, _ := updateIdentity(update)
	if chatID == 0 {
		return
	}

	tierKey := strings.TrimPrefix(cb.Data, callbackBuyPrefix)
	tier, ok := deps.Config.Tier(tierKey)
	if !ok || tier.Price <= 0 {
		log.WarnContext(ctx, "Buy callback for unknown tier", "chat_id", chatID, "tier", tierKey)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	// Robokassa invoice IDs are positive int32.
	invoiceID := int64(rand.Int31()) //nolint:gosec // invoice number, not a secret

	payURL := deps.Payment.PaymentURL(invoiceID, tier.Price, tier.Name)

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Pay " + strconv.FormatInt(tier.Price, 10), URL: payURL}},
			{{Text: "I paid", CallbackData: callbackPayCheckPrefix + strconv.FormatInt(invoiceID, 10)}},
		},
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        deps.Config.Messages.PaymentLink + "\n\n" + deps.Config.Messages.PaymentCheck,
		ReplyMarkup: keyboard,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send payment link", "error", err, "chat_id", chatID)
		return
	}

	log.InfoContext(ctx, "Payment link issued",
		"chat_id", chatID, "tier", tier.Key, "amount", tier.Price, "invoice_id", invoiceID)
}

// NewPayCheckCallbackHandler returns the handler for the "I paid" button: it
// polls the gateway and applies the payment when confirmed.
func NewPayCheckCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return payCheckCallbackHandler{deps}.Handle
}

type payCheckCallbackHandler struct {
	deps HandlerDeps
}

func (h payCheckCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "paycheck_callback")

	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	answerCallback(ctx, b, cb.ID)

	chatID, username := updateIdentity(update)
	if chatID == 0 {
		return
	}

	invoiceID, err := strconv.ParseInt(strings.TrimPrefix(cb.Data, callbackPayCheckPrefix), 10, 64)
	if err != nil {
		log.WarnContext(ctx, "Malformed paycheck callback data", "chat_id", chatID, "data", cb.Data)
		return
	}

	check, err := deps.Payment.CheckPayment(ctx, invoiceID)
	if err != nil {
		log.ErrorContext(ctx, "Payment check failed", "error", err, "chat_id", chatID, "invoice_id", invoiceID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}
	if !check.Paid {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.PaymentPending})
		return
	}

	result, err := deps.Quota.ApplyPayment(ctx, chatID, check.Amount, strconv.FormatInt(invoiceID, 10))
	if err != nil {
		log.ErrorContext(ctx, "Failed to apply payment", "error", err, "chat_id", chatID, "invoice_id", invoiceID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		return
	}

	switch result.Status {
	case quota.PaymentApplied:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   deps.Config.Messages.PaymentDone + "\n" + result.Tier.Name,
		})
		NotifyAdmins(ctx, b, deps, fmt.Sprintf("Payment applied: chat %s, tier %s, amount %d, invoice %d",
			formatChatRef(chatID, username), result.Tier.Key, check.Amount, invoiceID))

	case quota.PaymentDuplicate:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.PaymentDuplicate})

	case quota.PaymentMismatch:
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.GeneralError})
		NotifyAdmins(ctx, b, deps, fmt.Sprintf("Payment amount %d from chat %s matches no tier (invoice %d); manual resolution needed",
			check.Amount, formatChatRef(chatID, username), invoiceID))
	}
}

func answerCallback(ctx context.Context, b *bot.Bot, callbackID string) {
	_, _ = b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID})
}
