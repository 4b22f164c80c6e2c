// Package logger provides structured logging for the bot using slog, with
// configurable level and output format, and a Telegram middleware that logs
// every incoming update.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// New creates a slog Logger with the specified level and format and installs
// it as the process default. Format "json" emits JSON records, anything else
// falls back to text.
func New(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Middleware creates a logging middleware for the Telegram bot. It records
// update type, chat and user identity, and processing duration for every
// incoming update.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			startTime := time.Now()

			logEntry := log.With("update_id", update.ID)

			var updateType string
			switch {
			case update.Message != nil:
				msg := update.Message
				switch {
				case msg.Voice != nil || msg.Audio != nil:
					updateType = "voice"
				case len(msg.Photo) > 0:
					updateType = "photo"
				default:
					updateType = "message"
				}
				logEntry = logEntry.With(
					"message_id", msg.ID,
					"chat_id", msg.Chat.ID,
					"text_preview", truncate(msg.Text, 50),
				)
				if msg.From != nil {
					logEntry = logEntry.With("user_id", msg.From.ID)
				}
			case update.CallbackQuery != nil:
				cb := update.CallbackQuery
				updateType = "callback_query"
				logEntry = logEntry.With(
					"callback_query_id", cb.ID,
					"user_id", cb.From.ID,
					"data", cb.Data,
				)
				if cb.Message.Message.Date != 0 {
					logEntry = logEntry.With("chat_id", cb.Message.Message.Chat.ID)
				} else {
					logEntry = logEntry.With("chat_id", cb.Message.InaccessibleMessage.Chat.ID)
				}
			default:
				updateType = "other"
			}
			logEntry = logEntry.With("update_type", updateType)

			logEntry.InfoContext(ctx, "Processing update")

			next(ctx, b, update)

			logEntry.InfoContext(ctx, "Finished processing update", "duration", time.Since(startTime))
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
