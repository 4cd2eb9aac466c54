package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"audiovault/internal/domain"
	"audiovault/internal/metrics"
)

func TestCreditLedgerConcurrentDebits(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 10, 0, 500*1024*1024)
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = ledger.Debit(context.Background(), "acct-1", 6, "upload:chapter-1")
		}(i)
	}
	wg.Wait()

	var failures []error
	for _, err := range results {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1, "exactly one of two concurrent debits must lose")

	var ib *domain.InsufficientBalanceError
	require.ErrorAs(t, failures[0], &ib)
	assert.Equal(t, int64(6), ib.Attempted)
	assert.Equal(t, int64(4), ib.Balance, "loser must see the post-debit balance, not the stale one")

	account, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), account.Balance)
}

func TestCreditLedgerManyConcurrentDebitsNeverOverspend(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 10, 0, 500*1024*1024)
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Debit(context.Background(), "acct-1", 3, "parse:doc"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)

	account, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.Balance)
	assert.GreaterOrEqual(t, account.Balance, int64(0))
}

func TestCreditLedgerDebitAppendsLedgerEntry(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 100, 0, 500*1024*1024)
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	entry, err := ledger.Debit(context.Background(), "acct-1", 15, "export:book-9")
	require.NoError(t, err)
	assert.Equal(t, int64(-15), entry.Delta)
	assert.Equal(t, "export:book-9", entry.Reason)
	assert.Equal(t, int64(85), entry.ResultingBalance)

	history, err := ledger.History(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entry.ID, history[0].ID)
}

func TestCreditLedgerCheckBypassesCache(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 50, 0, 500*1024*1024)
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	// Warm the display cache.
	info, err := ledger.GetCreditInfo(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Balance)

	// Mutate the store behind the cache's back.
	store.seed("acct-1", 5, 0, 500*1024*1024)

	// The display read still serves the warm cache entry.
	info, err = ledger.GetCreditInfo(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), info.Balance)

	// The gating check always reads fresh.
	ok, balance, err := ledger.Check(context.Background(), "acct-1", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(5), balance)
}

func TestCreditLedgerMutationsInvalidateCache(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 50, 0, 500*1024*1024)
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	_, err := ledger.GetCreditInfo(context.Background(), "acct-1")
	require.NoError(t, err)

	_, err = ledger.Debit(context.Background(), "acct-1", 20, "upload:ch")
	require.NoError(t, err)

	info, err := ledger.GetCreditInfo(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), info.Balance, "debit must invalidate the cached balance")

	_, err = ledger.Credit(context.Background(), "acct-1", 100, "purchase:ref-1")
	require.NoError(t, err)

	info, err = ledger.GetCreditInfo(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(130), info.Balance, "credit must invalidate the cached balance")
}

func TestCreditLedgerCountsMutations(t *testing.T) {
	store := newFakeAccountStore()
	store.seed("acct-1", 100, 0, 500*1024*1024)
	m := metrics.New(prometheus.NewRegistry())
	ledger := NewCreditLedger(store, m, zap.NewNop())

	_, err := ledger.Debit(context.Background(), "acct-1", 10, "upload:ch")
	require.NoError(t, err)
	_, err = ledger.Credit(context.Background(), "acct-1", 50, "purchase:ref")
	require.NoError(t, err)
	_, err = ledger.Credit(context.Background(), "acct-1", 10, "refund:upload:ch")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DebitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CreditsTotal))

	// A rejected debit is not a debit.
	_, err = ledger.Debit(context.Background(), "acct-1", 1_000_000, "upload:ch")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DebitsTotal))
}

func TestCreditLedgerCheckPropagatesStoreError(t *testing.T) {
	store := newFakeAccountStore()
	store.getErr = errors.New("connection refused")
	ledger := NewCreditLedger(store, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	_, _, err := ledger.Check(context.Background(), "acct-1", 10)
	assert.Error(t, err)
}
