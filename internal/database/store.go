package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetAccount retrieves an account by chat ID. Returns nil, nil if not found.
	GetAccount(ctx context.Context, chatID int64) (*Account, error)

	// CreateAccount inserts a new account record.
	CreateAccount(ctx context.Context, account *Account) error

	// ListAccounts retrieves all accounts.
	ListAccounts(ctx context.Context) ([]Account, error)

	// ListExpiringAccounts retrieves accounts whose tier expires within [from, to).
	ListExpiringAccounts(ctx context.Context, from, to time.Time) ([]Account, error)

	// SetUsername updates the stored username for an account.
	SetUsername(ctx context.Context, chatID int64, username string) error

	// SetDefaultModel updates the account's preferred chat model.
	SetDefaultModel(ctx context.Context, chatID int64, model string) error

	// SetDefaultPersona updates the account's active persona.
	SetDefaultPersona(ctx context.Context, chatID int64, persona string) error

	// DebitBalance atomically decrements one balance column by amount.
	// The column must be one of the Col*Balance constants. The balance may go
	// negative; callers charge after the work is done.
	DebitBalance(ctx context.Context, chatID int64, column string, amount int64) error

	// ApplyTier rewrites the account's tier, balances, expiry, trial flag and
	// payment reference in a single statement.
	ApplyTier(ctx context.Context, chatID int64, grant TierGrant) error

	// SaveMessage inserts a new conversation message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessagesInChat retrieves the most recent 'limit' messages for a
	// given chat ID, in chronological order.
	GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error)

	// DeleteMessagesInChat deletes the conversation history of one chat.
	DeleteMessagesInChat(ctx context.Context, chatID int64) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetAccount retrieves an account by chat ID. Returns nil, nil if not found.
func (s *sqlxStore) GetAccount(ctx context.Context, chatID int64) (*Account, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var account Account
	query := `SELECT chat_id, username, tier, gpt4_balance, gpt35_balance, image_balance,
	                 transcription_balance, speech_balance, tier_expiry, is_trial,
	                 default_model, default_persona, last_payment_ref, created_at, updated_at
	          FROM accounts WHERE chat_id = ?`

	err := s.db.GetContext(ctx, &account, query, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No account found", "chat_id", chatID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching account",
			"chat_id", chatID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting account", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get account for chat %d: %w", chatID, err)
	}

	return &account, nil
}

// CreateAccount inserts a new account record.
func (s *sqlxStore) CreateAccount(ctx context.Context, account *Account) error {
	if account == nil {
		return fmt.Errorf("cannot create nil account")
	}
	if account.ChatID == 0 {
		return fmt.Errorf("account must have a non-zero chat_id")
	}
	if account.Tier == "" {
		return fmt.Errorf("account must have a tier")
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
        INSERT INTO accounts (chat_id, username, tier, gpt4_balance, gpt35_balance, image_balance,
                              transcription_balance, speech_balance, tier_expiry, is_trial,
                              default_model, default_persona, last_payment_ref, created_at, updated_at)
        VALUES (:chat_id, :username, :tier, :gpt4_balance, :gpt35_balance, :image_balance,
                :transcription_balance, :speech_balance, :tier_expiry, :is_trial,
                :default_model, :default_persona, :last_payment_ref, :created_at, :updated_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, account); err != nil {
		s.logger.ErrorContext(ctx, "Error creating account", "chat_id", account.ChatID, "error", err)
		return fmt.Errorf("failed to create account for chat %d: %w", account.ChatID, err)
	}

	s.logger.InfoContext(ctx, "Account created",
		"chat_id", account.ChatID, "tier", account.Tier, "is_trial", account.IsTrial)
	return nil
}

// ListAccounts retrieves all accounts.
func (s *sqlxStore) ListAccounts(ctx context.Context) ([]Account, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var accounts []Account
	query := `SELECT chat_id, username, tier, gpt4_balance, gpt35_balance, image_balance,
	                 transcription_balance, speech_balance, tier_expiry, is_trial,
	                 default_model, default_persona, last_payment_ref, created_at, updated_at
	          FROM accounts ORDER BY created_at ASC`

	if err := s.db.SelectContext(ctx, &accounts, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing accounts", "error", err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched accounts", "count", len(accounts))
	return accounts, nil
}

// ListExpiringAccounts retrieves accounts whose tier expires within [from, to).
func (s *sqlxStore) ListExpiringAccounts(ctx context.Context, from, to time.Time) ([]Account, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !to.After(from) {
		return nil, fmt.Errorf("expiry window end %v is not after start %v", to, from)
	}

	var accounts []Account
	query := `SELECT chat_id, username, tier, gpt4_balance, gpt35_balance, image_balance,
	                 transcription_balance, speech_balance, tier_expiry, is_trial,
	                 default_model, default_persona, last_payment_ref, created_at, updated_at
	          FROM accounts
	          WHERE tier_expiry >= ? AND tier_expiry < ?
	          ORDER BY tier_expiry ASC`

	if err := s.db.SelectContext(ctx, &accounts, query, from.UTC(), to.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error listing expiring accounts", "error", err)
		return nil, fmt.Errorf("failed to list expiring accounts: %w", err)
	}

	s.logger.DebugContext(ctx, "Fetched expiring accounts", "count", len(accounts))
	return accounts, nil
}

// SetUsername updates the stored username for an account.
func (s *sqlxStore) SetUsername(ctx context.Context, chatID int64, username string) error {
	return s.updateColumn(ctx, chatID, "username", username)
}

// SetDefaultModel updates the account's preferred chat model.
func (s *sqlxStore) SetDefaultModel(ctx context.Context, chatID int64, model string) error {
	return s.updateColumn(ctx, chatID, "default_model", model)
}

// SetDefaultPersona updates the account's active persona.
func (s *sqlxStore) SetDefaultPersona(ctx context.Context, chatID int64, persona string) error {
	return s.updateColumn(ctx, chatID, "default_persona", persona)
}

// updateColumn writes a single preference column. The column name comes from
// the fixed call sites above, never from input.
func (s *sqlxStore) updateColumn(ctx context.Context, chatID int64, column, value string) error {
	if chatID == 0 {
		return fmt.Errorf("chat_id cannot be zero")
	}

	query := fmt.Sprintf(`UPDATE accounts SET %s = ?, updated_at = ? WHERE chat_id = ?`, column)
	result, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating account column",
			"chat_id", chatID, "column", column, "error", err)
		return fmt.Errorf("failed to update %s for chat %d: %w", column, chatID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected updating account column",
			"chat_id", chatID, "column", column, "affected", affected)
	}
	return nil
}

// DebitBalance atomically decrements one balance column by amount. The
// decrement happens inside the database so concurrent debits of the same
// account never lose an update.
func (s *sqlxStore) DebitBalance(ctx context.Context, chatID int64, column string, amount int64) error {
	if chatID == 0 {
		return fmt.Errorf("chat_id cannot be zero")
	}
	if !balanceColumns[column] {
		return fmt.Errorf("unknown balance column %q", column)
	}
	if amount < 0 {
		return fmt.Errorf("debit amount cannot be negative, got %d", amount)
	}
	if amount == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE accounts SET %s = %s - ?, updated_at = ? WHERE chat_id = ?`, column, column)
	result, err := s.db.ExecContext(ctx, query, amount, time.Now().UTC(), chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error debiting balance",
			"chat_id", chatID, "column", column, "amount", amount, "error", err)
		return fmt.Errorf("failed to debit %s for chat %d: %w", column, chatID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected debiting balance",
			"chat_id", chatID, "column", column, "affected", affected)
	}

	s.logger.DebugContext(ctx, "Balance debited", "chat_id", chatID, "column", column, "amount", amount)
	return nil
}

// ApplyTier rewrites the account's tier columns in a single statement so a
// renewal is atomic with respect to concurrent debits.
func (s *sqlxStore) ApplyTier(ctx context.Context, chatID int64, grant TierGrant) error {
	if chatID == 0 {
		return fmt.Errorf("chat_id cannot be zero")
	}
	if grant.Tier == "" {
		return fmt.Errorf("tier grant must name a tier")
	}

	query := `
        UPDATE accounts SET
            tier = ?,
            gpt4_balance = ?,
            gpt35_balance = ?,
            image_balance = ?,
            transcription_balance = ?,
            speech_balance = ?,
            tier_expiry = ?,
            is_trial = ?,
            last_payment_ref = ?,
            updated_at = ?
        WHERE chat_id = ?;
    `

	result, err := s.db.ExecContext(ctx, query,
		grant.Tier,
		grant.GPT4Tokens,
		grant.GPT35Tokens,
		grant.ImageCredits,
		grant.TranscriptionCredits,
		grant.SpeechChars,
		grant.Expiry.UTC(),
		grant.IsTrial,
		grant.PaymentRef,
		time.Now().UTC(),
		chatID,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error applying tier",
			"chat_id", chatID, "tier", grant.Tier, "error", err)
		return fmt.Errorf("failed to apply tier %s for chat %d: %w", grant.Tier, chatID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected applying tier",
			"chat_id", chatID, "tier", grant.Tier, "affected", affected)
	}

	s.logger.InfoContext(ctx, "Tier applied",
		"chat_id", chatID, "tier", grant.Tier, "expiry", grant.Expiry, "is_trial", grant.IsTrial)
	return nil
}

// SaveMessage inserts a new conversation message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.Role != "user" && message.Role != "assistant" {
		return fmt.Errorf("message role must be user or assistant, got %q", message.Role)
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (chat_id, role, content, timestamp, created_at)
        VALUES (:chat_id, :role, :content, :timestamp, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "chat_id", message.ChatID, "role", message.Role, "error", err)
		return fmt.Errorf("failed to save message (chat %d): %w", message.ChatID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // sqlite rowids fit in uint
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"chat_id", message.ChatID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved", "chat_id", message.ChatID, "role", message.Role, "message_id", message.ID)
	return nil
}

// GetRecentMessagesInChat retrieves the most recent 'limit' messages for a
// given chat ID. The newest rows are selected, then returned oldest first so
// callers can hand them straight to the model as conversation context.
func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}

	if limit <= 0 {
		limit = 20
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "chat_id", chatID, "default_limit", limit)
	} else if limit > 200 {
		limit = 200
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "chat_id", chatID, "capped_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := `
        SELECT id, chat_id, role, content, timestamp, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, chatID, limit)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"chat_id", chatID, "error", err)
		return nil, err
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.DebugContext(ctx, "Fetched recent messages", "chat_id", chatID, "count", len(messages))
	return messages, nil
}

// DeleteMessagesInChat deletes the conversation history of one chat.
func (s *sqlxStore) DeleteMessagesInChat(ctx context.Context, chatID int64) error {
	if chatID == 0 {
		return fmt.Errorf("chat_id cannot be zero")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting chat messages", "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to delete messages for chat %d: %w", chatID, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted chat messages", "chat_id", chatID, "count", count)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		s.logger.WarnContext(ctx, "Failed to set busy timeout", "error", err)
	}

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
