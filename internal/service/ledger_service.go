package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"audiovault/internal/domain"
	"audiovault/internal/metrics"
)

const balanceCacheTTL = 30 * time.Second

// balanceCache is the single read-through cache for display balances. Every
// balance mutation goes through CreditLedger, which invalidates here and
// nowhere else; there is exactly one invalidation path.
type balanceCache struct {
	mu      sync.RWMutex
	entries map[string]cachedBalance
	ttl     time.Duration
}

type cachedBalance struct {
	balance int64
	expires time.Time
}

func newBalanceCache(ttl time.Duration) *balanceCache {
	return &balanceCache{
		entries: make(map[string]cachedBalance),
		ttl:     ttl,
	}
}

func (c *balanceCache) get(accountID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[accountID]
	if !ok || time.Now().After(entry.expires) {
		return 0, false
	}
	return entry.balance, true
}

func (c *balanceCache) set(accountID string, balance int64) {
	c.mu.Lock()
	c.entries[accountID] = cachedBalance{
		balance: balance,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *balanceCache) invalidate(accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

// CreditLedger is the authority consulted before any billable action. Reads
// that gate spending always hit the store; the cache serves display reads
// only.
type CreditLedger struct {
	accounts AccountStore
	cache    *balanceCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewCreditLedger(accounts AccountStore, m *metrics.Metrics, logger *zap.Logger) *CreditLedger {
	return &CreditLedger{
		accounts: accounts,
		cache:    newBalanceCache(balanceCacheTTL),
		metrics:  m,
		logger:   logger,
	}
}

// Check reports whether the account can afford amount, and the fresh
// balance it was judged against. It never consults the cache: a stale
// balance here is exactly the failure mode that produced inconsistent
// payment-required responses.
func (l *CreditLedger) Check(ctx context.Context, accountID string, amount int64) (bool, int64, error) {
	account, err := l.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to check balance: %w", err)
	}

	return account.Balance >= amount, account.Balance, nil
}

// Debit subtracts amount, appending the ledger entry. The store re-reads
// the balance under a row lock, so a pass at Check time does not guarantee
// success here.
func (l *CreditLedger) Debit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	entry, err := l.accounts.Debit(ctx, accountID, amount, reason)
	if err != nil {
		return nil, err
	}

	l.cache.invalidate(accountID)
	l.metrics.DebitsTotal.Inc()

	l.logger.Info("debited credits",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
		zap.Int64("resulting_balance", entry.ResultingBalance),
	)

	return entry, nil
}

// Credit adds amount, appending the ledger entry.
func (l *CreditLedger) Credit(ctx context.Context, accountID string, amount int64, reason string) (*domain.LedgerEntry, error) {
	entry, err := l.accounts.Credit(ctx, accountID, amount, reason)
	if err != nil {
		return nil, err
	}

	l.cache.invalidate(accountID)
	l.metrics.CreditsTotal.Inc()

	l.logger.Info("credited account",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
		zap.Int64("resulting_balance", entry.ResultingBalance),
	)

	return entry, nil
}

// GetCreditInfo returns the balance for display. This is the only read
// allowed to serve from cache.
func (l *CreditLedger) GetCreditInfo(ctx context.Context, accountID string) (*domain.CreditInfo, error) {
	if balance, ok := l.cache.get(accountID); ok {
		return &domain.CreditInfo{AccountID: accountID, Balance: balance}, nil
	}

	account, err := l.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	l.cache.set(accountID, account.Balance)

	return &domain.CreditInfo{AccountID: accountID, Balance: account.Balance}, nil
}

// History returns recent ledger entries, newest first.
func (l *CreditLedger) History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	return l.accounts.History(ctx, accountID, limit)
}
