package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/stream"
)

// Transport adapts a *bot.Bot to the streaming presenter's transport
// interface, translating Telegram throttling into stream.RateLimitError.
type Transport struct {
	b *bot.Bot
}

// NewTransport wraps the bot for use by the streaming presenter.
func NewTransport(b *bot.Bot) *Transport {
	return &Transport{b: b}
}

// Send posts a new message, optionally as a reply, and returns its ID.
func (t *Transport) Send(ctx context.Context, chatID int64, replyTo int, text string, markdown bool) (int, error) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if replyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
	}
	if markdown {
		params.ParseMode = models.ParseModeMarkdown
	}

	msg, err := t.b.SendMessage(ctx, params)
	if err != nil {
		return 0, translateError(err)
	}
	return msg.ID, nil
}

// Edit replaces the text of a previously sent message.
func (t *Transport) Edit(ctx context.Context, chatID int64, messageID int, text string, markdown bool) error {
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}
	if markdown {
		params.ParseMode = models.ParseModeMarkdown
	}

	if _, err := t.b.EditMessageText(ctx, params); err != nil {
		return translateError(err)
	}
	return nil
}

func translateError(err error) error {
	var tmr *bot.TooManyRequestsError
	if errors.As(err, &tmr) {
		return &stream.RateLimitError{RetryAfter: time.Duration(tmr.RetryAfter) * time.Second}
	}
	return err
}
