// Package tasks contains the scheduled background tasks executed by the
// scheduler, along with their shared dependencies.
package tasks

import (
	"log/slog"

	tgbot "github.com/go-telegram/bot"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
)

// TaskDeps holds the dependencies required by scheduled task functions.
type TaskDeps struct {
	Logger *slog.Logger
	Config *config.Config
	Store  database.Store
	Bot    *tgbot.Bot
}
