package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/quota"
)

const (
	fileDownloadTimeout = 30 * time.Second
	aiProcessingTimeout = 5 * time.Minute
	dbSaveTimeout       = 5 * time.Second

	maxDownloadSize = 20 * 1024 * 1024
)

// formatChatRef renders a chat for admin-facing notifications.
func formatChatRef(chatID int64, username string) string {
	if username == "" {
		return fmt.Sprintf("%d", chatID)
	}
	return fmt.Sprintf("%d (@%s)", chatID, username)
}

// NotifyAdmins sends an operational notice to the admin group when one is
// configured, falling back to the admin user.
func NotifyAdmins(ctx context.Context, b *bot.Bot, deps HandlerDeps, text string) {
	target := deps.Config.Telegram.AdminGroupID
	if target == 0 {
		target = deps.Config.Telegram.AdminUserID
	}
	if target == 0 {
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: target, Text: text}); err != nil {
		deps.Logger.WarnContext(ctx, "Failed to notify admins", "error", err)
	}
}

// isGroupChat reports whether the message came from a group or supergroup.
func isGroupChat(msg *models.Message) bool {
	return msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup
}

// commandArgument returns the text after the command itself, trimmed.
func commandArgument(text string) string {
	if !strings.HasPrefix(text, "/") {
		return strings.TrimSpace(text)
	}
	parts := strings.SplitN(text, " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RefuseQuota explains a refused authorization to the user. Expired and
// exhausted accounts get a renew button leading to the tier list.
func RefuseQuota(ctx context.Context, b *bot.Bot, deps HandlerDeps, chatID int64, decision quota.Decision) {
	log := deps.Logger.With("helper", "refuse_quota")

	var text string
	withRenew := false
	switch decision.Verdict {
	case quota.Expired:
		text = deps.Config.Messages.SubscriptionEnded
		withRenew = true
	case quota.Exhausted:
		text = deps.Config.Messages.Exhausted
		withRenew = true
	case quota.NoEntitlement:
		text = deps.Config.Messages.NoEntitlement
		withRenew = true
	default:
		return
	}

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if withRenew {
		params.ReplyMarkup = tierKeyboard(deps)
	}

	if _, err := b.SendMessage(ctx, params); err != nil {
		log.ErrorContext(ctx, "Failed to send quota refusal", "error", err, "chat_id", chatID)
	}
}

// tierKeyboard builds the inline keyboard offering every buyable tier.
func tierKeyboard(deps HandlerDeps) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(deps.Config.Tiers))
	for _, tier := range deps.Config.Tiers {
		if tier.Price <= 0 {
			continue
		}
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%s — %d", tier.Name, tier.Price),
			CallbackData: callbackBuyPrefix + tier.Key,
		}})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// DownloadFile fetches a file from Telegram's file API by file ID.
// It returns the file data, detected MIME type, and the file path (whose
// extension identifies the media format).
func DownloadFile(ctx context.Context, b *bot.Bot, token, fileID string) (data []byte, mimeType, filePath string, err error) {
	if token == "" {
		return nil, "", "", fmt.Errorf("empty token provided for file download")
	}
	if fileID == "" {
		return nil, "", "", fmt.Errorf("empty fileID provided for file download")
	}
	if ctx.Err() != nil {
		return nil, "", "", fmt.Errorf("context cancelled before file download: %w", ctx.Err())
	}

	downloadCtx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	fileObj, err := b.GetFile(downloadCtx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, "", "", fmt.Errorf("empty file path returned from Telegram for file ID %s", fileID)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to create HTTP request for file download: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to download file: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close download response body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", "", fmt.Errorf("unexpected status code %d downloading file: %s", resp.StatusCode, string(bodyBytes))
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to read downloaded file data: %w", err)
	}
	if len(data) == 0 {
		return nil, "", "", fmt.Errorf("received empty file data")
	}

	mimeType = http.DetectContentType(data)
	return data, mimeType, fileObj.FilePath, nil
}

// SaveMessageWithRetry attempts to save a message to the database with retry logic.
// It handles failures and logs appropriate warning messages.
func SaveMessageWithRetry(ctx context.Context, deps HandlerDeps, msg *database.Message, msgType string) {
	log := deps.Logger.With("helper", "save_message")
	const maxRetries = 3
	var err error

	for i := range [maxRetries]struct{}{} {
		if ctx.Err() != nil {
			log.WarnContext(ctx, fmt.Sprintf("Context cancelled, aborting %s save attempts", msgType),
				"error", ctx.Err(), "chat_id", msg.ChatID, "attempt", i+1)
			return
		}

		dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
		err = deps.Store.SaveMessage(dbCtx, msg)
		cancel()

		if err == nil {
			log.DebugContext(ctx, fmt.Sprintf("%s saved successfully", msgType), "db_message_id", msg.ID, "chat_id", msg.ChatID)
			return
		}

		log.ErrorContext(ctx, fmt.Sprintf("Failed to save %s, retrying", msgType), "error", err, "chat_id", msg.ChatID, "attempt", i+1)

		time.Sleep(time.Duration(500*(i+1)) * time.Millisecond)
	}

	log.ErrorContext(ctx, fmt.Sprintf("Failed to save %s after %d retries", msgType, maxRetries), "last_error", err, "chat_id", msg.ChatID)
}

// chatResource maps an account's preferred chat model to the quota resource
// and the concrete API model name.
func chatResource(deps HandlerDeps, account *database.Account) (quota.Resource, string) {
	if account.DefaultModel == "gpt4" {
		return quota.ResourceGPT4, deps.Config.OpenAI.GPT4Model
	}
	return quota.ResourceGPT35, deps.Config.OpenAI.GPT35Model
}
