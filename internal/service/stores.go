package service

import (
	"context"

	"audiovault/internal/domain"
)

// AccountStore is the authoritative store for balances, quotas and the
// ledger audit trail. Implementations must serialize Debit/Credit per
// account: two concurrent debits may never both observe the same pre-debit
// balance.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	Debit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error)
	Credit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error)
	History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)
	UpdateQuotaLimit(ctx context.Context, accountID string, newLimit int64) error
}

// RegistryStore is the durable index of stored objects. Register and
// MarkDeleted move accounts.storage_used atomically with the row mutation.
type RegistryStore interface {
	Register(ctx context.Context, row *domain.RegistryRow) error
	MarkDeleted(ctx context.Context, rowID int64) (*domain.RegistryRow, error)
	ReplaceSlot(ctx context.Context, accountID, containerRef string, keepRowID int64) ([]domain.RegistryRow, error)
	GetByID(ctx context.Context, rowID int64) (*domain.RegistryRow, error)
	ListActive(ctx context.Context, accountID string) ([]domain.RegistryRow, error)
	ListActiveByContainer(ctx context.Context, accountID, containerRef string) ([]domain.RegistryRow, error)
	ListOrphans(ctx context.Context, limit int) ([]domain.RegistryRow, error)
	MarkPurged(ctx context.Context, rowID int64) error
	Recalculate(ctx context.Context, accountID string) error
}
