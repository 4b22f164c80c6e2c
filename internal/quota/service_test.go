package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/neuroscribe/scribebot/internal/config"
	"github.com/neuroscribe/scribebot/internal/database"
	"github.com/neuroscribe/scribebot/internal/quota"
)

// fakeStore is an in-memory Store covering the methods the quota service uses.
type fakeStore struct {
	accounts map[int64]*database.Account

	debits []debitCall
	grants []grantCall
}

type debitCall struct {
	chatID int64
	column string
	amount int64
}

type grantCall struct {
	chatID int64
	grant  database.TierGrant
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[int64]*database.Account)}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetAccount(_ context.Context, chatID int64) (*database.Account, error) {
	account, ok := f.accounts[chatID]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (f *fakeStore) CreateAccount(_ context.Context, account *database.Account) error {
	copied := *account
	f.accounts[account.ChatID] = &copied
	return nil
}

func (f *fakeStore) ListAccounts(context.Context) ([]database.Account, error) {
	var out []database.Account
	for _, a := range f.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeStore) ListExpiringAccounts(_ context.Context, from, to time.Time) ([]database.Account, error) {
	var out []database.Account
	for _, a := range f.accounts {
		if !a.TierExpiry.Before(from) && a.TierExpiry.Before(to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) SetUsername(_ context.Context, chatID int64, username string) error {
	if a, ok := f.accounts[chatID]; ok {
		a.Username = username
	}
	return nil
}

func (f *fakeStore) SetDefaultModel(_ context.Context, chatID int64, model string) error {
	if a, ok := f.accounts[chatID]; ok {
		a.DefaultModel = model
	}
	return nil
}

func (f *fakeStore) SetDefaultPersona(_ context.Context, chatID int64, persona string) error {
	if a, ok := f.accounts[chatID]; ok {
		a.DefaultPersona = persona
	}
	return nil
}

func (f *fakeStore) DebitBalance(_ context.Context, chatID int64, column string, amount int64) error {
	f.debits = append(f.debits, debitCall{chatID: chatID, column: column, amount: amount})
	if a, ok := f.accounts[chatID]; ok {
		switch column {
		case database.ColGPT4Balance:
			a.GPT4Balance -= amount
		case database.ColGPT35Balance:
			a.GPT35Balance -= amount
		case database.ColImageBalance:
			a.ImageBalance -= amount
		case database.ColTranscriptionBalance:
			a.TranscriptionBalance -= amount
		case database.ColSpeechBalance:
			a.SpeechBalance -= amount
		}
	}
	return nil
}

func (f *fakeStore) ApplyTier(_ context.Context, chatID int64, grant database.TierGrant) error {
	f.grants = append(f.grants, grantCall{chatID: chatID, grant: grant})
	if a, ok := f.accounts[chatID]; ok {
		a.Tier = grant.Tier
		a.GPT4Balance = grant.GPT4Tokens
		a.GPT35Balance = grant.GPT35Tokens
		a.ImageBalance = grant.ImageCredits
		a.TranscriptionBalance = grant.TranscriptionCredits
		a.SpeechBalance = grant.SpeechChars
		a.TierExpiry = grant.Expiry
		a.IsTrial = grant.IsTrial
		a.LastPaymentRef = grant.PaymentRef
	}
	return nil
}

func (f *fakeStore) SaveMessage(context.Context, *database.Message) error { return nil }

func (f *fakeStore) GetRecentMessagesInChat(context.Context, int64, int) ([]database.Message, error) {
	return nil, nil
}

func (f *fakeStore) DeleteMessagesInChat(context.Context, int64) error { return nil }

func (f *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Trial: config.TrialConfig{Tier: "base", Days: 3},
		Tiers: []config.TierConfig{
			{
				Key: "base", Name: "Base", Price: 0,
				GPT35Tokens: 20000, TranscriptionCredits: 5,
			},
			{
				Key: "standard", Name: "Standard", Price: 500,
				GPT35Tokens: 500000, ImageCredits: 20, TranscriptionCredits: 50, SpeechChars: 10000,
			},
			{
				Key: "premium", Name: "Premium", Price: 1500,
				GPT4Tokens: 200000, GPT35Tokens: 1000000, ImageCredits: 50,
				TranscriptionCredits: 100, SpeechChars: 20000,
			},
		},
	}
}

func TestProvisionStartsTrialOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := quota.NewService(store, testConfig(), nil)
	ctx := context.Background()

	account, created, err := svc.Provision(ctx, 100, "alice")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !created {
		t.Fatal("Provision() created = false, want true on first contact")
	}
	if account.Tier != "base" || !account.IsTrial {
		t.Errorf("trial account = tier %q, is_trial %v; want tier \"base\", is_trial true", account.Tier, account.IsTrial)
	}
	if account.GPT35Balance != 20000 || account.TranscriptionBalance != 5 {
		t.Errorf("trial balances = (%d, %d), want (20000, 5)", account.GPT35Balance, account.TranscriptionBalance)
	}
	wantExpiry := time.Now().UTC().AddDate(0, 0, 3)
	if diff := account.TierExpiry.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("trial expiry = %v, want about %v", account.TierExpiry, wantExpiry)
	}

	again, created, err := svc.Provision(ctx, 100, "alice")
	if err != nil {
		t.Fatalf("Provision() second call error = %v", err)
	}
	if created {
		t.Error("Provision() created = true on existing account, want false")
	}
	if again.ChatID != 100 {
		t.Errorf("existing account chat_id = %d, want 100", again.ChatID)
	}
}

func TestProvisionRefreshesUsername(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := quota.NewService(store, testConfig(), nil)
	ctx := context.Background()

	if _, _, err := svc.Provision(ctx, 100, "oldname"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	account, _, err := svc.Provision(ctx, 100, "newname")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if account.Username != "newname" {
		t.Errorf("username = %q, want %q", account.Username, "newname")
	}
}

func TestCheckUnknownTier(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.accounts[100] = &database.Account{
		ChatID:       100,
		Tier:         "legacy_gold",
		GPT35Balance: 5000,
		TierExpiry:   time.Now().UTC().AddDate(0, 0, 10),
	}
	svc := quota.NewService(store, testConfig(), nil)

	decision, _, err := svc.Check(context.Background(), 100, quota.ResourceGPT35)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Verdict != quota.NoEntitlement {
		t.Errorf("Check() verdict = %s, want %s", decision.Verdict, quota.NoEntitlement)
	}
}

func TestCheckMissingAccount(t *testing.T) {
	t.Parallel()

	svc := quota.NewService(newFakeStore(), testConfig(), nil)

	if _, _, err := svc.Check(context.Background(), 404, quota.ResourceGPT35); err == nil {
		t.Error("Check() on missing account: got nil error, want error")
	}
}

func TestDebit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.accounts[100] = &database.Account{ChatID: 100, GPT35Balance: 100}
	svc := quota.NewService(store, testConfig(), nil)
	ctx := context.Background()

	if err := svc.Debit(ctx, 100, quota.ResourceGPT35, 340); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if got := store.accounts[100].GPT35Balance; got != -240 {
		t.Errorf("balance after overdraft debit = %d, want -240", got)
	}

	// Zero and negative amounts are no-ops.
	if err := svc.Debit(ctx, 100, quota.ResourceGPT35, 0); err != nil {
		t.Fatalf("Debit(0) error = %v", err)
	}
	if len(store.debits) != 1 {
		t.Errorf("debit calls = %d, want 1", len(store.debits))
	}

	if err := svc.Debit(ctx, 100, quota.Resource("bogus"), 10); err == nil {
		t.Error("Debit() with unknown resource: got nil error, want error")
	}
}

func TestRenew(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.accounts[100] = &database.Account{ChatID: 100, Tier: "base", IsTrial: true}
	svc := quota.NewService(store, testConfig(), nil)

	tier, err := svc.Renew(context.Background(), 100, "standard", "admin")
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if tier.Key != "standard" {
		t.Errorf("Renew() tier = %q, want %q", tier.Key, "standard")
	}

	account := store.accounts[100]
	if account.Tier != "standard" || account.IsTrial {
		t.Errorf("account after renew = tier %q, is_trial %v; want \"standard\", false", account.Tier, account.IsTrial)
	}
	if account.GPT35Balance != 500000 || account.ImageBalance != 20 {
		t.Errorf("balances after renew = (%d, %d), want (500000, 20)", account.GPT35Balance, account.ImageBalance)
	}
	wantExpiry := time.Now().UTC().AddDate(0, 0, quota.RenewalDays)
	if diff := account.TierExpiry.Sub(wantExpiry); diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry after renew = %v, want about %v", account.TierExpiry, wantExpiry)
	}

	if _, err := svc.Renew(context.Background(), 100, "nonexistent", ""); err == nil {
		t.Error("Renew() with unknown tier: got nil error, want error")
	}
}

func TestApplyPayment(t *testing.T) {
	t.Parallel()

	t.Run("applied", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.accounts[100] = &database.Account{ChatID: 100, Tier: "base", IsTrial: true}
		svc := quota.NewService(store, testConfig(), nil)

		result, err := svc.ApplyPayment(context.Background(), 100, 1500, "inv-7")
		if err != nil {
			t.Fatalf("ApplyPayment() error = %v", err)
		}
		if result.Status != quota.PaymentApplied {
			t.Fatalf("ApplyPayment() status = %v, want PaymentApplied", result.Status)
		}
		if result.Tier.Key != "premium" {
			t.Errorf("granted tier = %q, want %q", result.Tier.Key, "premium")
		}
		if store.accounts[100].LastPaymentRef != "inv-7" {
			t.Errorf("last payment ref = %q, want %q", store.accounts[100].LastPaymentRef, "inv-7")
		}
	})

	t.Run("duplicate invoice is idempotent", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.accounts[100] = &database.Account{ChatID: 100, Tier: "premium", LastPaymentRef: "inv-7"}
		svc := quota.NewService(store, testConfig(), nil)

		result, err := svc.ApplyPayment(context.Background(), 100, 1500, "inv-7")
		if err != nil {
			t.Fatalf("ApplyPayment() error = %v", err)
		}
		if result.Status != quota.PaymentDuplicate {
			t.Errorf("ApplyPayment() status = %v, want PaymentDuplicate", result.Status)
		}
		if len(store.grants) != 0 {
			t.Errorf("grants applied = %d, want 0", len(store.grants))
		}
	})

	t.Run("amount matching no tier", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.accounts[100] = &database.Account{ChatID: 100, Tier: "base"}
		svc := quota.NewService(store, testConfig(), nil)

		result, err := svc.ApplyPayment(context.Background(), 100, 777, "inv-8")
		if err != nil {
			t.Fatalf("ApplyPayment() error = %v", err)
		}
		if result.Status != quota.PaymentMismatch {
			t.Errorf("ApplyPayment() status = %v, want PaymentMismatch", result.Status)
		}
		if len(store.grants) != 0 {
			t.Errorf("grants applied = %d, want 0", len(store.grants))
		}
	})
}
