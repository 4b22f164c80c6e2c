// Package config provides configuration loading, validation, and management
// for the bot. It reads config.yaml, applies defaults, allows BOT_* environment
// overrides, and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components:
// logging, Telegram settings, database, AI integration, payments,
// the tier table, and the streaming presenter policy.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Replicate ReplicateConfig `mapstructure:"replicate"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Trial     TrialConfig     `mapstructure:"trial"`
	Tiers     []TierConfig    `mapstructure:"tiers" validate:"min=1,dive"`
	Personas  []PersonaConfig `mapstructure:"personas" validate:"min=1,dive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// TelegramConfig holds bot credentials and chat routing settings.
type TelegramConfig struct {
	Token        string `mapstructure:"token"          validate:"required"`
	AdminUserID  int64  `mapstructure:"admin_user_id"  validate:"required,gt=0"`
	AdminGroupID int64  `mapstructure:"admin_group_id"`
	// TriggerKeyword gates group-chat prompts; empty disables the check.
	TriggerKeyword string `mapstructure:"trigger_keyword"`

	// BotInfo is populated at startup from GetMe, not from the config file.
	BotInfo *models.User `mapstructure:"-"`
}

// DatabaseConfig holds the sqlite database location and history depth.
type DatabaseConfig struct {
	Path               string `mapstructure:"path" validate:"required"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages" validate:"min=1,max=200"`
}

// OpenAIConfig holds credentials and model selection for the OpenAI-surface
// collaborators (chat, images, transcription, speech, vision).
type OpenAIConfig struct {
	Token       string `mapstructure:"token"    validate:"required"`
	BaseURL     string `mapstructure:"base_url" validate:"url"`
	GPT35Model  string `mapstructure:"gpt35_model"`
	GPT4Model   string `mapstructure:"gpt4_model"`
	VisionModel string `mapstructure:"vision_model"`
	ImageModel  string `mapstructure:"image_model"`
	TTSModel    string `mapstructure:"tts_model"`
	TTSVoice    string `mapstructure:"tts_voice"`
	Whisper     string `mapstructure:"whisper_model"`
	// VisionSurcharge is the fixed token cost added to image analysis usage.
	VisionSurcharge int64         `mapstructure:"vision_surcharge" validate:"min=0"`
	Temperature     float32       `mapstructure:"temperature"      validate:"min=0,max=2"`
	Timeout         time.Duration `mapstructure:"timeout"          validate:"min=1000000000,max=600000000000"`
}

// ReplicateConfig holds the Replicate predictions API settings used by the
// sticker, upscale and background-removal commands.
type ReplicateConfig struct {
	Token          string        `mapstructure:"token"`
	BaseURL        string        `mapstructure:"base_url" validate:"url"`
	StickerVersion string        `mapstructure:"sticker_version"`
	SDXLVersion    string        `mapstructure:"sdxl_version"`
	BGVersion      string        `mapstructure:"bg_version"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"min=100000000"`
	Timeout        time.Duration `mapstructure:"timeout"       validate:"min=1000000000,max=600000000000"`
}

// PaymentConfig holds the Robokassa merchant credentials.
type PaymentConfig struct {
	Login     string `mapstructure:"login"`
	Password1 string `mapstructure:"password1"`
	Password2 string `mapstructure:"password2"`
	BaseURL   string `mapstructure:"base_url" validate:"url"`
}

// StreamConfig is the streaming presenter policy applied by message handlers.
type StreamConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	LengthCap   int  `mapstructure:"length_cap"   validate:"min=1"`
	BackoffStep int  `mapstructure:"backoff_step" validate:"min=1"`
}

// TrialConfig describes the allotment granted on first contact.
type TrialConfig struct {
	Tier string `mapstructure:"tier" validate:"required"`
	Days int    `mapstructure:"days" validate:"min=1"`
}

// TierConfig is one row of the tier table: a named subscription class with a
// monthly price and its resource allotments.
type TierConfig struct {
	Key                  string `mapstructure:"key"   validate:"required"`
	Name                 string `mapstructure:"name"  validate:"required"`
	Price                int64  `mapstructure:"price" validate:"min=0"`
	GPT4Tokens           int64  `mapstructure:"gpt4_tokens"`
	GPT35Tokens          int64  `mapstructure:"gpt35_tokens"`
	ImageCredits         int64  `mapstructure:"image_credits"`
	TranscriptionCredits int64  `mapstructure:"transcription_credits"`
	SpeechChars          int64  `mapstructure:"speech_chars"`
}

// PersonaConfig is a selectable assistant persona: a system instruction plus
// the welcome message shown after switching to it.
type PersonaConfig struct {
	Key         string `mapstructure:"key"  validate:"required"`
	Name        string `mapstructure:"name" validate:"required"`
	Instruction string `mapstructure:"instruction" validate:"required"`
	Welcome     string `mapstructure:"welcome"`
}

// SchedulerConfig holds cron definitions for background tasks keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables one scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds all user-facing strings.
type MessagesConfig struct {
	Welcome           string `mapstructure:"welcome"`
	Help              string `mapstructure:"help"`
	NotAuthorized     string `mapstructure:"not_authorized"`
	GeneralError      string `mapstructure:"general_error"`
	GenerationFailed  string `mapstructure:"generation_failed"`
	MediaFailed       string `mapstructure:"media_failed"`
	DownloadFailed    string `mapstructure:"download_failed"`
	SubscriptionEnded string `mapstructure:"subscription_ended"`
	NoEntitlement     string `mapstructure:"no_entitlement"`
	Exhausted         string `mapstructure:"exhausted"`
	RenewButton       string `mapstructure:"renew_button"`
	ContextReset      string `mapstructure:"context_reset"`
	NothingToResend   string `mapstructure:"nothing_to_resend"`
	PaymentLink       string `mapstructure:"payment_link"`
	PaymentCheck      string `mapstructure:"payment_check"`
	PaymentPending    string `mapstructure:"payment_pending"`
	PaymentDone       string `mapstructure:"payment_done"`
	PaymentDuplicate  string `mapstructure:"payment_duplicate"`
	ExpiryNotice      string `mapstructure:"expiry_notice"`
}

// Tier returns the tier table row for key, or false when the key is unknown.
func (c *Config) Tier(key string) (TierConfig, bool) {
	for _, t := range c.Tiers {
		if t.Key == key {
			return t, true
		}
	}
	return TierConfig{}, false
}

// TierByPrice returns the tier whose monthly price equals amount, or false
// when no tier matches (a reportable payment mismatch).
func (c *Config) TierByPrice(amount int64) (TierConfig, bool) {
	for _, t := range c.Tiers {
		if t.Price == amount {
			return t, true
		}
	}
	return TierConfig{}, false
}

// Persona returns the persona for key, or false when the key is unknown.
func (c *Config) Persona(key string) (PersonaConfig, bool) {
	for _, p := range c.Personas {
		if p.Key == key {
			return p, true
		}
	}
	return PersonaConfig{}, false
}

// Load loads and validates configuration from, in increasing precedence:
// defaults, the YAML file at path, and BOT_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Missing config file is fine; env vars must carry the secrets then.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := crossValidate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// crossValidate checks references between sections that struct tags cannot express.
func crossValidate(cfg *Config) error {
	if _, ok := cfg.Tier(cfg.Trial.Tier); !ok {
		return fmt.Errorf("config validation failed: trial.tier %q is not in the tier table", cfg.Trial.Tier)
	}
	seen := make(map[int64]string, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		if other, dup := seen[t.Price]; dup {
			return fmt.Errorf("config validation failed: tiers %q and %q share price %d; payment matching requires unique prices", other, t.Key, t.Price)
		}
		seen[t.Price] = t.Key
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "storage.db")
	v.SetDefault("database.max_history_messages", 40)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.gpt35_model", "gpt-3.5-turbo")
	v.SetDefault("openai.gpt4_model", "gpt-4-turbo")
	v.SetDefault("openai.vision_model", "gpt-4-turbo")
	v.SetDefault("openai.image_model", "dall-e-3")
	v.SetDefault("openai.tts_model", "tts-1")
	v.SetDefault("openai.tts_voice", "alloy")
	v.SetDefault("openai.whisper_model", "whisper-1")
	v.SetDefault("openai.vision_surcharge", 765)
	v.SetDefault("openai.temperature", 1.0)
	v.SetDefault("openai.timeout", 2*time.Minute)

	v.SetDefault("replicate.base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate.poll_interval", 2*time.Second)
	v.SetDefault("replicate.timeout", 3*time.Minute)

	v.SetDefault("payment.base_url", "https://auth.robokassa.ru")

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.length_cap", 4096)
	v.SetDefault("stream.backoff_step", 5)

	v.SetDefault("trial.tier", "base")
	v.SetDefault("trial.days", 3)

	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance": map[string]any{"enabled": true, "schedule": "0 0 4 * * *"},
		"expiry_notice":   map[string]any{"enabled": true, "schedule": "0 0 12 * * *"},
	})

	v.SetDefault("messages.welcome", "Hello! Your trial plan is active for 3 days. Send me a message to start.")
	v.SetDefault("messages.help", "I am your AI assistant. Send me text or a voice message, or use the commands in the menu.")
	v.SetDefault("messages.not_authorized", "You are not authorized to use this command.")
	v.SetDefault("messages.general_error", "An error occurred. Please try again later.")
	v.SetDefault("messages.generation_failed", "Failed to generate a response.")
	v.SetDefault("messages.media_failed", "Unsupported media format.")
	v.SetDefault("messages.download_failed", "Failed to download the file. Please try again.")
	v.SetDefault("messages.subscription_ended", "Your subscription has expired. Renew your plan to continue.")
	v.SetDefault("messages.no_entitlement", "Your plan does not include this feature. Upgrade to continue.")
	v.SetDefault("messages.exhausted", "Your allowance for this feature has run out. Renew your plan to continue.")
	v.SetDefault("messages.renew_button", "Renew plan")
	v.SetDefault("messages.context_reset", "Done. The conversation context has been cleared.")
	v.SetDefault("messages.nothing_to_resend", "There is nothing to resend.")
	v.SetDefault("messages.payment_link", "Your payment link is ready. Tap the button below to pay.")
	v.SetDefault("messages.payment_check", "After paying, tap the button below to confirm.")
	v.SetDefault("messages.payment_pending", "We have not received your payment yet.")
	v.SetDefault("messages.payment_done", "Payment received! Your plan is now active.")
	v.SetDefault("messages.payment_duplicate", "This invoice has already been paid.")
	v.SetDefault("messages.expiry_notice", "Your plan expires soon. Renew it to keep your access.")
}
