package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler represents a command handler with its description and middleware.
// It encapsulates all information needed to register and document a command.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands initializes and returns a map of all available bot
// commands, callback handlers, and the default message handler.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	accountMiddleware := []tgbot.Middleware{WithAccount(deps)}
	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}

	command := func(pattern string, handler tgbot.HandlerFunc, mw []tgbot.Middleware) {
		handlers["/"+pattern] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     pattern,
			Handler:     handler,
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  mw,
		}
	}

	command("start", NewStartHandler(deps), nil)
	command("help", NewHelpHandler(deps), accountMiddleware)
	command("stats", NewStatsHandler(deps), accountMiddleware)
	command("pay", NewPayHandler(deps), accountMiddleware)
	command("reset", NewResetHandler(deps), accountMiddleware)
	command("model", NewModelHandler(deps), accountMiddleware)
	command("assistant", NewAssistantHandler(deps), accountMiddleware)
	command("resend", NewResendHandler(deps), accountMiddleware)
	command("image", NewImageHandler(deps), accountMiddleware)
	command("voice", NewVoiceHandler(deps), accountMiddleware)
	command("sticker", NewStickerHandler(deps), accountMiddleware)
	command("sdxl", NewSDXLHandler(deps), accountMiddleware)
	command("bg", NewBackgroundHandler(deps), accountMiddleware)
	command("support", NewSupportHandler(deps), nil)

	command("change_rate", NewChangeRateHandler(deps), adminMiddleware)
	command("broadcast", NewBroadcastHandler(deps), adminMiddleware)

	callback := func(name, prefix string, handler tgbot.HandlerFunc) {
		handlers[name] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeCallbackQueryData,
			Pattern:     prefix,
			Handler:     handler,
			MatchType:   tgbot.MatchTypePrefix,
		}
	}

	callback("cb:buy", callbackBuyPrefix, NewBuyCallbackHandler(deps))
	callback("cb:paycheck", callbackPayCheckPrefix, NewPayCheckCallbackHandler(deps))
	callback("cb:model", callbackModelPrefix, NewModelCallbackHandler(deps))
	callback("cb:persona", callbackPersonaPrefix, NewPersonaCallbackHandler(deps))
	callback("cb:persona_page", callbackPersonaPagePrefix, NewPersonaPageCallbackHandler(deps))

	// The catch-all chat handler for plain text, voice, and photo messages is
	// wired separately via bot.WithDefaultHandler.

	return handlers
}
