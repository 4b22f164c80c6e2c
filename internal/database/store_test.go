// Package database_test tests the Store against a real in-memory SQLite
// database with the embedded migrations applied.
package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/neuroscribe/scribebot/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	// Each pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := database.ApplyMigrations(db.DB, ":memory:"); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	return database.NewStore(db, nil)
}

func testAccount(chatID int64) *database.Account {
	return &database.Account{
		ChatID:         chatID,
		Username:       "subscriber",
		Tier:           "base",
		GPT35Balance:   100,
		ImageBalance:   5,
		TierExpiry:     time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		IsTrial:        true,
		DefaultModel:   "gpt35",
		DefaultPersona: "assistant",
	}
}

func TestStoreAccountRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetAccount(ctx, 404)
	if err != nil {
		t.Fatalf("GetAccount(missing) error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetAccount(missing) = %+v, want nil", got)
	}

	if err := store.CreateAccount(ctx, testAccount(42)); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	got, err = store.GetAccount(ctx, 42)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetAccount() = nil after create")
	}
	if got.Username != "subscriber" || got.Tier != "base" || got.GPT35Balance != 100 {
		t.Errorf("account = %q/%q/%d, want subscriber/base/100", got.Username, got.Tier, got.GPT35Balance)
	}
	if !got.IsTrial {
		t.Error("IsTrial not persisted")
	}
	if !got.TierExpiry.Equal(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("TierExpiry = %v, want the stored expiry", got.TierExpiry)
	}
}

func TestStoreDebitBalanceGoesNegative(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, testAccount(42)); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	// Work is charged after it is done, so the balance may cross zero.
	if err := store.DebitBalance(ctx, 42, database.ColGPT35Balance, 340); err != nil {
		t.Fatalf("DebitBalance() error = %v", err)
	}
	account, err := store.GetAccount(ctx, 42)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if account.GPT35Balance != -240 {
		t.Errorf("GPT35Balance = %d, want -240", account.GPT35Balance)
	}

	if err := store.DebitBalance(ctx, 42, database.ColGPT35Balance, 60); err != nil {
		t.Fatalf("DebitBalance() error = %v", err)
	}
	account, err = store.GetAccount(ctx, 42)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if account.GPT35Balance != -300 {
		t.Errorf("GPT35Balance after second debit = %d, want -300", account.GPT35Balance)
	}
	if account.ImageBalance != 5 {
		t.Errorf("ImageBalance = %d, want untouched 5", account.ImageBalance)
	}

	if err := store.DebitBalance(ctx, 42, "tier", 1); err == nil {
		t.Error("DebitBalance() with a non-balance column did not fail")
	}
}

func TestStoreApplyTierResets(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateAccount(ctx, testAccount(42)); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if err := store.DebitBalance(ctx, 42, database.ColGPT35Balance, 340); err != nil {
		t.Fatalf("DebitBalance() error = %v", err)
	}

	expiry := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	grant := database.TierGrant{
		Tier:                 "premium",
		GPT4Tokens:           50000,
		GPT35Tokens:          200000,
		ImageCredits:         30,
		TranscriptionCredits: 60,
		SpeechChars:          40000,
		Expiry:               expiry,
		IsTrial:              false,
		PaymentRef:           "inv-7",
	}
	if err := store.ApplyTier(ctx, 42, grant); err != nil {
		t.Fatalf("ApplyTier() error = %v", err)
	}

	account, err := store.GetAccount(ctx, 42)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if account.Tier != "premium" || account.IsTrial {
		t.Errorf("account = tier %q trial %v, want premium/false", account.Tier, account.IsTrial)
	}
	if account.GPT35Balance != 200000 || account.GPT4Balance != 50000 || account.ImageBalance != 30 {
		t.Errorf("balances = %d/%d/%d, want the full grant", account.GPT35Balance, account.GPT4Balance, account.ImageBalance)
	}
	if account.TranscriptionBalance != 60 || account.SpeechBalance != 40000 {
		t.Errorf("balances = %d/%d, want 60/40000", account.TranscriptionBalance, account.SpeechBalance)
	}
	if !account.TierExpiry.Equal(expiry) {
		t.Errorf("TierExpiry = %v, want %v", account.TierExpiry, expiry)
	}
	if account.LastPaymentRef != "inv-7" {
		t.Errorf("LastPaymentRef = %q, want inv-7", account.LastPaymentRef)
	}
}

func TestStoreListExpiringAccountsWindow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	expiries := map[int64]time.Time{
		1: from.Add(-time.Minute),   // before the window
		2: from,                     // window start is inclusive
		3: from.Add(12 * time.Hour), // inside
		4: to,                       // window end is exclusive
	}
	for chatID, expiry := range expiries {
		account := testAccount(chatID)
		account.TierExpiry = expiry
		if err := store.CreateAccount(ctx, account); err != nil {
			t.Fatalf("CreateAccount(%d) error = %v", chatID, err)
		}
	}

	accounts, err := store.ListExpiringAccounts(ctx, from, to)
	if err != nil {
		t.Fatalf("ListExpiringAccounts() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("ListExpiringAccounts() returned %d accounts, want 2", len(accounts))
	}
	if accounts[0].ChatID != 2 || accounts[1].ChatID != 3 {
		t.Errorf("expiring accounts = %d, %d, want 2, 3 in expiry order", accounts[0].ChatID, accounts[1].ChatID)
	}

	if _, err := store.ListExpiringAccounts(ctx, to, from); err == nil {
		t.Error("ListExpiringAccounts() with an inverted window did not fail")
	}
}

func TestStoreMessageHistory(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	turns := []struct {
		role, content string
	}{
		{"user", "first question"},
		{"assistant", "first answer"},
		{"user", "second question"},
	}
	for i, turn := range turns {
		msg := &database.Message{ChatID: 42, Role: turn.role, Content: turn.content, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage(%q) error = %v", turn.content, err)
		}
	}

	messages, err := store.GetRecentMessagesInChat(ctx, 42, 2)
	if err != nil {
		t.Fatalf("GetRecentMessagesInChat() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want the 2 most recent", len(messages))
	}
	if messages[0].Content != "first answer" || messages[1].Content != "second question" {
		t.Errorf("messages = %q, %q, want chronological order of the newest turns", messages[0].Content, messages[1].Content)
	}

	if err := store.DeleteMessagesInChat(ctx, 42); err != nil {
		t.Fatalf("DeleteMessagesInChat() error = %v", err)
	}
	messages, err = store.GetRecentMessagesInChat(ctx, 42, 10)
	if err != nil {
		t.Fatalf("GetRecentMessagesInChat() after delete error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("message count after delete = %d, want 0", len(messages))
	}
}
