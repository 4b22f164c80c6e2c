package quota

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
)

// RenewalDays is the length of one paid subscription period.
const RenewalDays = 30

// PaymentStatus is the outcome of applying a received payment.
type PaymentStatus int

const (
	// PaymentApplied means the tier matching the amount was granted.
	PaymentApplied PaymentStatus = iota
	// PaymentDuplicate means this invoice was already applied; nothing changed.
	PaymentDuplicate
	// PaymentMismatch means no tier's price equals the paid amount; nothing
	// changed and the caller should report it for manual resolution.
	PaymentMismatch
)

// PaymentResult describes what a payment did to the account.
type PaymentResult struct {
	Status PaymentStatus
	// Tier is the granted tier when Status is PaymentApplied.
	Tier config.TierConfig
}

// Service coordinates authorization checks, debits, and tier changes for
// accounts. A per-account mutex serializes read-modify-write sequences so
// concurrent requests from the same chat cannot race a check against a grant.
type Service struct {
	store  database.Store
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	locks sync.Map // chat_id -> *sync.Mutex
}

// NewService creates a quota Service over the given store and configuration.
func NewService(store database.Store, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

func (s *Service) lock(chatID int64) func() {
	v, _ := s.locks.LoadOrStore(chatID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Provision returns the account for chatID, creating it with the trial tier
// on first contact. The second return value reports whether a new trial was
// started.
func (s *Service) Provision(ctx context.Context, chatID int64, username string) (*database.Account, bool, error) {
	unlock := s.lock(chatID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	if account != nil {
		if username != "" && username != account.Username {
			if err := s.store.SetUsername(ctx, chatID, username); err != nil {
				s.logger.WarnContext(ctx, "Failed to refresh username", "chat_id", chatID, "error", err)
			} else {
				account.Username = username
			}
		}
		return account, false, nil
	}

	tier, ok := s.cfg.Tier(s.cfg.Trial.Tier)
	if !ok {
		return nil, false, fmt.Errorf("trial tier %q is not configured", s.cfg.Trial.Tier)
	}

	expiry := s.now().UTC().AddDate(0, 0, s.cfg.Trial.Days)
	account = &database.Account{
		ChatID:               chatID,
		Username:             username,
		Tier:                 tier.Key,
		GPT4Balance:          tier.GPT4Tokens,
		GPT35Balance:         tier.GPT35Tokens,
		ImageBalance:         tier.ImageCredits,
		TranscriptionBalance: tier.TranscriptionCredits,
		SpeechBalance:        tier.SpeechChars,
		TierExpiry:           expiry,
		IsTrial:              true,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, false, err
	}

	s.logger.InfoContext(ctx, "Trial started",
		"chat_id", chatID, "tier", tier.Key, "expiry", expiry)
	return account, true, nil
}

// Check loads the account and decides whether it may consume the resource.
func (s *Service) Check(ctx context.Context, chatID int64, r Resource) (Decision, *database.Account, error) {
	unlock := s.lock(chatID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, chatID)
	if err != nil {
		return Decision{}, nil, err
	}
	if account == nil {
		return Decision{}, nil, fmt.Errorf("no account for chat %d", chatID)
	}

	tier, ok := s.cfg.Tier(account.Tier)
	if !ok {
		// An account on a tier removed from the config is treated as having
		// no entitlements until it renews onto a current tier.
		s.logger.WarnContext(ctx, "Account references unknown tier", "chat_id", chatID, "tier", account.Tier)
		return Decision{Verdict: NoEntitlement}, account, nil
	}

	decision := Authorize(account, tier, r, s.now().UTC())
	if decision.Verdict != Allowed {
		s.logger.InfoContext(ctx, "Resource refused",
			"chat_id", chatID, "resource", string(r), "verdict", decision.Verdict.String(),
			"remaining", decision.Remaining)
	}
	return decision, account, nil
}

// Debit charges amount of the resource to the account after the work has been
// done. The balance may go negative; the overdraft is absorbed and surfaces
// as Exhausted on the next check.
func (s *Service) Debit(ctx context.Context, chatID int64, r Resource, amount int64) error {
	if amount <= 0 {
		return nil
	}
	column := r.Column()
	if column == "" {
		return fmt.Errorf("unknown resource %q", string(r))
	}
	return s.store.DebitBalance(ctx, chatID, column, amount)
}

// Renew grants the named tier to the account for a full paid period starting
// now, resetting every balance to the tier allotment.
func (s *Service) Renew(ctx context.Context, chatID int64, tierKey, paymentRef string) (config.TierConfig, error) {
	unlock := s.lock(chatID)
	defer unlock()

	return s.renewLocked(ctx, chatID, tierKey, paymentRef)
}

func (s *Service) renewLocked(ctx context.Context, chatID int64, tierKey, paymentRef string) (config.TierConfig, error) {
	tier, ok := s.cfg.Tier(tierKey)
	if !ok {
		return config.TierConfig{}, fmt.Errorf("unknown tier %q", tierKey)
	}

	expiry := s.now().UTC().AddDate(0, 0, RenewalDays)
	grant := Grant(tier, expiry, false, paymentRef)
	if err := s.store.ApplyTier(ctx, chatID, grant); err != nil {
		return config.TierConfig{}, err
	}

	s.logger.InfoContext(ctx, "Subscription renewed",
		"chat_id", chatID, "tier", tier.Key, "expiry", expiry, "payment_ref", paymentRef)
	return tier, nil
}

// ApplyPayment applies a confirmed payment to the account. The amount selects
// the tier by price; an amount matching no tier is a mismatch and changes
// nothing. Re-applying the invoice already recorded on the account is a
// duplicate and changes nothing, so confirmation polls are idempotent.
func (s *Service) ApplyPayment(ctx context.Context, chatID int64, amount int64, invoiceRef string) (PaymentResult, error) {
	unlock := s.lock(chatID)
	defer unlock()

	account, err := s.store.GetAccount(ctx, chatID)
	if err != nil {
		return PaymentResult{}, err
	}
	if account == nil {
		return PaymentResult{}, fmt.Errorf("no account for chat %d", chatID)
	}

	if invoiceRef != "" && account.LastPaymentRef == invoiceRef {
		s.logger.InfoContext(ctx, "Duplicate payment ignored",
			"chat_id", chatID, "invoice_ref", invoiceRef)
		return PaymentResult{Status: PaymentDuplicate}, nil
	}

	tier, ok := s.cfg.TierByPrice(amount)
	if !ok {
		s.logger.WarnContext(ctx, "Payment amount matches no tier",
			"chat_id", chatID, "amount", amount, "invoice_ref", invoiceRef)
		return PaymentResult{Status: PaymentMismatch}, nil
	}

	granted, err := s.renewLocked(ctx, chatID, tier.Key, invoiceRef)
	if err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Status: PaymentApplied, Tier: granted}, nil
}
