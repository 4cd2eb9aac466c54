package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"audiovault/internal/domain"
)

// QuotaTracker answers "does this account have room for N more bytes".
// storage_used is not an independent counter: the registry store moves it
// with every row mutation, and Recalculate rebuilds it from active rows.
//
// On a backend error the tracker fails open by default: a transient outage
// must not block legitimate uploads. This trades strictness for
// availability on purpose; Strict=true reverses the trade.
type QuotaTracker struct {
	accounts AccountStore
	registry RegistryStore
	strict   bool
	logger   *zap.Logger
}

func NewQuotaTracker(accounts AccountStore, registry RegistryStore, strict bool, logger *zap.Logger) *QuotaTracker {
	return &QuotaTracker{
		accounts: accounts,
		registry: registry,
		strict:   strict,
		logger:   logger,
	}
}

// Available reports whether additionalBytes fit under the account's quota,
// with the usage figures the decision was made against. When the backend is
// unreachable and the tracker is not strict, it allows the request and
// returns nil usage.
func (t *QuotaTracker) Available(ctx context.Context, accountID string, additionalBytes int64) (bool, *domain.QuotaInfo, error) {
	account, err := t.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if t.strict {
			return false, nil, fmt.Errorf("failed to check quota: %w", err)
		}
		t.logger.Warn("quota check unavailable, failing open",
			zap.String("account_id", accountID),
			zap.Int64("additional_bytes", additionalBytes),
			zap.Error(err),
		)
		return true, nil, nil
	}

	info := quotaInfo(account)
	return account.StorageUsed+additionalBytes <= account.StorageQuota, info, nil
}

// GetQuotaInfo returns the account's usage for display.
func (t *QuotaTracker) GetQuotaInfo(ctx context.Context, accountID string) (*domain.QuotaInfo, error) {
	account, err := t.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	return quotaInfo(account), nil
}

// UpdateQuotaLimit changes the account's storage tier.
func (t *QuotaTracker) UpdateQuotaLimit(ctx context.Context, accountID string, newLimit int64) error {
	if newLimit < 0 {
		return fmt.Errorf("new quota limit cannot be negative")
	}
	return t.accounts.UpdateQuotaLimit(ctx, accountID, newLimit)
}

// Recalculate rebuilds storage_used from active registry rows.
func (t *QuotaTracker) Recalculate(ctx context.Context, accountID string) error {
	return t.registry.Recalculate(ctx, accountID)
}

func quotaInfo(account *domain.Account) *domain.QuotaInfo {
	info := &domain.QuotaInfo{
		TotalSpace:     account.StorageQuota,
		UsedSpace:      account.StorageUsed,
		AvailableSpace: account.StorageQuota - account.StorageUsed,
	}
	if account.StorageQuota > 0 {
		info.UsagePercent = float64(account.StorageUsed) / float64(account.StorageQuota) * 100
	}
	return info
}
