package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/quota"
)

// NewStatsHandler returns a handler for the /stats command, which shows the
// account's remaining balances against its tier allotments and the expiry.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

type statsHandler struct {
	deps HandlerDeps
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID

	account, err := h.deps.Store.GetAccount(ctx, chatID)
	if err != nil || account == nil {
		log.ErrorContext(ctx, "Failed to load account for stats", "error", err, "chat_id", chatID)
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Config.Messages.GeneralError})
		return
	}

	tier, ok := h.deps.Config.Tier(account.Tier)
	tierName := account.Tier
	if ok {
		tierName = tier.Name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s\n", tierName)
	if account.IsTrial {
		sb.WriteString("Trial period\n")
	}
	fmt.Fprintf(&sb, "Valid until: %s\n\n", account.TierExpiry.Format("2006-01-02 15:04 MST"))

	line := func(label string, r quota.Resource) {
		remaining := quota.Balance(account, r)
		if remaining < 0 {
			remaining = 0
		}
		if ok {
			fmt.Fprintf(&sb, "%s: %d of %d\n", label, remaining, quota.Allotment(tier, r))
		} else {
			fmt.Fprintf(&sb, "%s: %d\n", label, remaining)
		}
	}
	line("GPT-4 tokens", quota.ResourceGPT4)
	line("GPT-3.5 tokens", quota.ResourceGPT35)
	line("Images", quota.ResourceImage)
	line("Transcriptions", quota.ResourceTranscription)
	line("Voice characters", quota.ResourceSpeech)

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: sb.String()}); err != nil {
		log.ErrorContext(ctx, "Failed to send stats message", "error", err, "chat_id", chatID)
	}
}
