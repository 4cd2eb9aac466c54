package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"audiovault/internal/domain"
)

// AccountRepository owns the accounts table and the append-only
// ledger_entries audit trail. Debit and Credit serialize per account via a
// row lock so two concurrent debits can never both read the same pre-debit
// balance.
type AccountRepository struct {
	db             *sqlx.DB
	initialBalance int64
	defaultQuota   int64
}

func NewAccountRepository(db *sqlx.DB, initialBalance, defaultQuota int64) *AccountRepository {
	return &AccountRepository{
		db:             db,
		initialBalance: initialBalance,
		defaultQuota:   defaultQuota,
	}
}

// GetAccount fetches the authoritative row, creating it with the default
// tier on first sight of the account id.
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account

	err := r.db.GetContext(ctx, &account,
		`SELECT * FROM accounts WHERE id = $1`,
		accountID)

	if err != nil {
		if err == sql.ErrNoRows {
			account = domain.Account{
				ID:           accountID,
				Balance:      r.initialBalance,
				StorageQuota: r.defaultQuota,
			}
			if err := r.create(ctx, &account); err != nil {
				return nil, fmt.Errorf("failed to create account: %w", err)
			}
			return &account, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

func (r *AccountRepository) create(ctx context.Context, account *domain.Account) error {
	query := `
        INSERT INTO accounts (id, balance, storage_used, storage_quota)
        VALUES ($1, $2, 0, $3)
        ON CONFLICT (id) DO UPDATE SET updated_at = accounts.updated_at
        RETURNING balance, storage_used, storage_quota, created_at, updated_at`

	return r.db.QueryRowContext(ctx, query,
		account.ID,
		account.Balance,
		account.StorageQuota,
	).Scan(&account.Balance, &account.StorageUsed, &account.StorageQuota, &account.CreatedAt, &account.UpdatedAt)
}

// Debit atomically subtracts amount from the balance and appends the ledger
// entry. The SELECT ... FOR UPDATE re-reads the balance at debit time, not
// merely at check time; insufficient funds fail with the fresh figure.
func (r *AccountRepository) Debit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account row: %w", err)
	}

	if balance < amount {
		return nil, &domain.InsufficientBalanceError{
			AccountID: accountID,
			Attempted: amount,
			Balance:   balance,
		}
	}

	resulting := balance - amount
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		resulting, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &domain.LedgerEntry{
		AccountID:        accountID,
		Delta:            -amount,
		Reason:           reason,
		ResultingBalance: resulting,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	return entry, nil
}

// Credit atomically adds amount to the balance and appends the ledger entry.
func (r *AccountRepository) Credit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	// Creates the row first so a webhook can credit an account we have
	// never billed before.
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account row: %w", err)
	}

	resulting := balance + amount
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		resulting, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := &domain.LedgerEntry{
		AccountID:        accountID,
		Delta:            amount,
		Reason:           reason,
		ResultingBalance: resulting,
	}
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	return entry, nil
}

func insertLedgerEntry(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	query := `
        INSERT INTO ledger_entries (account_id, delta, reason, resulting_balance)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`

	err := tx.QueryRowContext(ctx, query,
		entry.AccountID,
		entry.Delta,
		entry.Reason,
		entry.ResultingBalance,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// History returns the most recent ledger entries for an account.
func (r *AccountRepository) History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []domain.LedgerEntry
	query := `
        SELECT * FROM ledger_entries
        WHERE account_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`

	if err := r.db.SelectContext(ctx, &entries, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}

	return entries, nil
}

// UpdateQuotaLimit changes the storage tier for an account.
func (r *AccountRepository) UpdateQuotaLimit(ctx context.Context, accountID string, newLimit int64) error {
	query := `
        UPDATE accounts
        SET storage_quota = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, newLimit, accountID)
	if err != nil {
		return fmt.Errorf("failed to update quota limit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}
