package handlers

import (
	"log/slog"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/openai"
	"github.com/neuroscribe/scribebot/internal/payment"
	"github.com/neuroscribe/scribebot/internal/quota"
	"github.com/neuroscribe/scribebot/internal/replicate"
	"github.com/neuroscribe/scribebot/internal/stream"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     database.Store
	Quota     *quota.Service
	AI        openai.Client
	Replicate replicate.Client
	Payment   payment.Client
	Presenter *stream.Presenter
}
