package database

import "time"

// Balance column names, used by Store.DebitBalance. Only columns listed in
// balanceColumns may be decremented.
const (
	ColGPT4Balance          = "gpt4_balance"
	ColGPT35Balance         = "gpt35_balance"
	ColImageBalance         = "image_balance"
	ColTranscriptionBalance = "transcription_balance"
	ColSpeechBalance        = "speech_balance"
)

var balanceColumns = map[string]bool{
	ColGPT4Balance:          true,
	ColGPT35Balance:         true,
	ColImageBalance:         true,
	ColTranscriptionBalance: true,
	ColSpeechBalance:        true,
}

// Account is one subscriber, keyed by Telegram chat ID. Balances are signed:
// optimistic debiting after a completed generation may push them below zero,
// and renewal resets them to the tier allotment.
type Account struct {
	ChatID               int64     `db:"chat_id"`
	Username             string    `db:"username"`
	Tier                 string    `db:"tier"`
	GPT4Balance          int64     `db:"gpt4_balance"`
	GPT35Balance         int64     `db:"gpt35_balance"`
	ImageBalance         int64     `db:"image_balance"`
	TranscriptionBalance int64     `db:"transcription_balance"`
	SpeechBalance        int64     `db:"speech_balance"`
	TierExpiry           time.Time `db:"tier_expiry"`
	IsTrial              bool      `db:"is_trial"`
	DefaultModel         string    `db:"default_model"`
	DefaultPersona       string    `db:"default_persona"`
	LastPaymentRef       string    `db:"last_payment_ref"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// TierGrant is the full set of columns rewritten when a tier is applied to an
// account, on trial start, paid renewal, or an admin override.
type TierGrant struct {
	Tier                 string
	GPT4Tokens           int64
	GPT35Tokens          int64
	ImageCredits         int64
	TranscriptionCredits int64
	SpeechChars          int64
	Expiry               time.Time
	IsTrial              bool
	PaymentRef           string
}

// Message is one turn of a chat conversation, persisted so context survives
// restarts. Role is "user" or "assistant".
type Message struct {
	ID        uint      `db:"id"`
	ChatID    int64     `db:"chat_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
	CreatedAt time.Time `db:"created_at"`
}
