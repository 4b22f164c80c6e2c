// Package quota implements the subscription policy: which resources an
// account may consume, trial and renewal grants, payment application, and
// post-hoc balance debiting.
package quota

import (
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
)

// Resource identifies one metered capability of the bot.
type Resource string

const (
	ResourceGPT4          Resource = "gpt4"
	ResourceGPT35         Resource = "gpt35"
	ResourceImage         Resource = "image"
	ResourceTranscription Resource = "transcription"
	ResourceSpeech        Resource = "speech"
)

// Column returns the account balance column backing the resource.
func (r Resource) Column() string {
	switch r {
	case ResourceGPT4:
		return database.ColGPT4Balance
	case ResourceGPT35:
		return database.ColGPT35Balance
	case ResourceImage:
		return database.ColImageBalance
	case ResourceTranscription:
		return database.ColTranscriptionBalance
	case ResourceSpeech:
		return database.ColSpeechBalance
	}
	return ""
}

// Verdict is the outcome of an authorization check.
type Verdict int

const (
	// Allowed means the account may consume the resource now.
	Allowed Verdict = iota
	// Expired means the subscription window has ended, regardless of balances.
	Expired
	// NoEntitlement means the account's tier never included this resource.
	NoEntitlement
	// Exhausted means the tier includes the resource but the balance is spent.
	Exhausted
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Expired:
		return "expired"
	case NoEntitlement:
		return "no_entitlement"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Decision is an authorization verdict plus the balance it was based on.
type Decision struct {
	Verdict   Verdict
	Remaining int64
}

// Balance returns the account's current balance for the resource.
func Balance(account *database.Account, r Resource) int64 {
	switch r {
	case ResourceGPT4:
		return account.GPT4Balance
	case ResourceGPT35:
		return account.GPT35Balance
	case ResourceImage:
		return account.ImageBalance
	case ResourceTranscription:
		return account.TranscriptionBalance
	case ResourceSpeech:
		return account.SpeechBalance
	}
	return 0
}

// Allotment returns the tier's full grant for the resource.
func Allotment(tier config.TierConfig, r Resource) int64 {
	switch r {
	case ResourceGPT4:
		return tier.GPT4Tokens
	case ResourceGPT35:
		return tier.GPT35Tokens
	case ResourceImage:
		return tier.ImageCredits
	case ResourceTranscription:
		return tier.TranscriptionCredits
	case ResourceSpeech:
		return tier.SpeechChars
	}
	return 0
}

// Authorize decides whether an account may consume a resource at time now.
// Expiry is checked first: an expired account is refused even when balances
// remain. A tier whose allotment for the resource is zero yields
// NoEntitlement; a spent balance on an included resource yields Exhausted.
func Authorize(account *database.Account, tier config.TierConfig, r Resource, now time.Time) Decision {
	remaining := Balance(account, r)

	if now.After(account.TierExpiry) {
		return Decision{Verdict: Expired, Remaining: remaining}
	}
	if Allotment(tier, r) <= 0 {
		return Decision{Verdict: NoEntitlement, Remaining: remaining}
	}
	if remaining <= 0 {
		return Decision{Verdict: Exhausted, Remaining: remaining}
	}
	return Decision{Verdict: Allowed, Remaining: remaining}
}

// Grant builds the account column rewrite for applying a tier. Paid renewals
// run for renewalDays from now; the trial flag and payment reference are the
// caller's to set.
func Grant(tier config.TierConfig, expiry time.Time, isTrial bool, paymentRef string) database.TierGrant {
	return database.TierGrant{
		Tier:                 tier.Key,
		GPT4Tokens:           tier.GPT4Tokens,
		GPT35Tokens:          tier.GPT35Tokens,
		ImageCredits:         tier.ImageCredits,
		TranscriptionCredits: tier.TranscriptionCredits,
		SpeechChars:          tier.SpeechChars,
		Expiry:               expiry,
		IsTrial:              isTrial,
		PaymentRef:           paymentRef,
	}
}
