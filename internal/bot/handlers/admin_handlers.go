package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// pause between broadcast sends so the bot API is not flooded
const broadcastInterval = 100 * time.Millisecond

// NewChangeRateHandler returns the admin handler for /change_rate, which
// grants a tier to an account manually: /change_rate <chat_id> <tier>.
func NewChangeRateHandler(deps HandlerDeps) bot.HandlerFunc {
	return changeRateHandler{deps}.Handle
}

type changeRateHandler struct {
	deps HandlerDeps
}

func (h changeRateHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "change_rate")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	adminChatID := update.Message.Chat.ID

	reply := func(text string) {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: adminChatID, Text: text})
	}

	args := strings.Fields(commandArgument(update.Message.Text))
	if len(args) != 2 {
		reply("Usage: /change_rate <chat_id> <tier>")
		return
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		reply("Invalid chat id: " + args[0])
		return
	}
	tierKey := args[1]

	account, err := deps.Store.GetAccount(ctx, targetID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load target account", "error", err, "target_chat_id", targetID)
		reply(deps.Config.Messages.GeneralError)
		return
	}
	if account == nil {
		reply(fmt.Sprintf("No account for chat %d", targetID))
		return
	}

	tier, err := deps.Quota.Renew(ctx, targetID, tierKey, "admin")
	if err != nil {
		log.ErrorContext(ctx, "Failed to apply tier", "error", err, "target_chat_id", targetID, "tier", tierKey)
		reply("Failed to apply tier: " + err.Error())
		return
	}

	log.InfoContext(ctx, "Tier changed by admin", "target_chat_id", targetID, "tier", tier.Key)
	reply(fmt.Sprintf("Chat %d is now on %s until %s",
		targetID, tier.Name, time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02")))
}

// NewBroadcastHandler returns the admin handler for /broadcast, which sends
// a message to an audience: /broadcast <all|free|payed> <text>.
func NewBroadcastHandler(deps HandlerDeps) bot.HandlerFunc {
	return broadcastHandler{deps}.Handle
}

type broadcastHandler struct {
	deps HandlerDeps
}

func (h broadcastHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "broadcast")

	if update.Message == nil || update.Message.From == nil {
		return
	}
	adminChatID := update.Message.Chat.ID

	reply := func(text string) {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: adminChatID, Text: text})
	}

	parts := strings.SplitN(commandArgument(update.Message.Text), " ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		reply("Usage: /broadcast <all|free|payed> <text>")
		return
	}
	audience, text := parts[0], strings.TrimSpace(parts[1])
	if audience != "all" && audience != "free" && audience != "payed" {
		reply("Audience must be one of: all, free, payed")
		return
	}

	accounts, err := deps.Store.ListAccounts(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to list accounts for broadcast", "error", err)
		reply(deps.Config.Messages.GeneralError)
		return
	}

	sent, failed := 0, 0
	for _, account := range accounts {
		switch audience {
		case "free":
			if !account.IsTrial {
				continue
			}
		case "payed":
			if account.IsTrial {
				continue
			}
		}

		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: account.ChatID, Text: text}); err != nil {
			// Users who blocked the bot fail here; keep going.
			log.DebugContext(ctx, "Broadcast delivery failed", "chat_id", account.ChatID, "error", err)
			failed++
		} else {
			sent++
		}

		select {
		case <-ctx.Done():
			reply(fmt.Sprintf("Broadcast interrupted: sent %d, failed %d", sent, failed))
			return
		case <-time.After(broadcastInterval):
		}
	}

	log.InfoContext(ctx, "Broadcast finished", "audience", audience, "sent", sent, "failed", failed)
	reply(fmt.Sprintf("Broadcast done: sent %d, failed %d", sent, failed))
}
