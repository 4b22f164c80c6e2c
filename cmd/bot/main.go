// Package main contains the entrypoint for the Telegram bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/neuroscribe/scribebot/internal/bot"
	"github.com/neuroscribe/scribebot/internal/bot/handlers"
	"github.com/neuroscribe/scribebot/internal/bot/tasks"
	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/logger"
	"github.com/neuroscribe/scribebot/internal/openai"
	"github.com/neuroscribe/scribebot/internal/payment"
	"github.com/neuroscribe/scribebot/internal/quota"
	"github.com/neuroscribe/scribebot/internal/replicate"
	"github.com/neuroscribe/scribebot/internal/stream"
	"github.com/neuroscribe/scribebot/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db, API clients,
// bot, scheduler), handles graceful shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db) // Ensure DB is closed on function exit
	store := database.NewStore(db, log)

	aiClient := openai.New(cfg.OpenAI)
	replicateClient := replicate.New(cfg.Replicate, log)
	paymentClient := payment.New(cfg.Payment, log)
	quotaService := quota.NewService(store, cfg, log)

	// The default handler captures its HandlerDeps after the bot exists,
	// since the streaming presenter needs the bot as its transport. The
	// indirection below lets us construct the bot first and wire the real
	// handler before Start is called.
	var chatHandler tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if chatHandler != nil {
				chatHandler(ctx, b, update)
			}
		}),
	}

	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	// Retrieve bot info and store it in the config for runtime use
	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	policy := stream.DefaultPolicy()
	policy.LengthCap = cfg.Stream.LengthCap
	policy.BackoffStep = cfg.Stream.BackoffStep
	presenter := stream.New(telegram.NewTransport(tg), policy, log)

	hDeps := handlers.HandlerDeps{
		Logger:    log,
		Config:    cfg,
		Store:     store,
		Quota:     quotaService,
		AI:        aiClient,
		Replicate: replicateClient,
		Payment:   paymentClient,
		Presenter: presenter,
	}
	chatHandler = handlers.WithAccount(hDeps)(handlers.NewChatHandler(hDeps))

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Config: cfg,
		Store:  store,
		Bot:    tg,
	}

	sched, err := bot.NewScheduler(log, cfg, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, db, store, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx) // Run blocks until context is cancelled or an error occurs
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
