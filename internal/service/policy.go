package service

import (
	"context"

	"audiovault/internal/domain"
)

// AuthorizationPolicy decides whether billable actions are gated by the
// ledger. The variant is chosen once at startup from configuration; no
// handler or service re-checks the mode inline.
type AuthorizationPolicy interface {
	// CheckCredits verifies the account can afford cost against the
	// authoritative balance.
	CheckCredits(ctx context.Context, accountID string, cost int64) error
	// DebitCredits commits the charge. The returned entry is nil when no
	// charge applies.
	DebitCredits(ctx context.Context, accountID string, cost int64, reason string) (*domain.LedgerEntry, error)
	// RefundCredits compensates a charge whose action ultimately failed.
	RefundCredits(ctx context.Context, accountID string, cost int64, reason string) error
}

// LedgerPolicy enforces the full credit ledger.
type LedgerPolicy struct {
	ledger *CreditLedger
}

func NewLedgerPolicy(ledger *CreditLedger) *LedgerPolicy {
	return &LedgerPolicy{ledger: ledger}
}

func (p *LedgerPolicy) CheckCredits(ctx context.Context, accountID string, cost int64) error {
	if cost <= 0 {
		return nil
	}

	ok, balance, err := p.ledger.Check(ctx, accountID, cost)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.InsufficientBalanceError{
			AccountID: accountID,
			Attempted: cost,
			Balance:   balance,
		}
	}

	return nil
}

func (p *LedgerPolicy) DebitCredits(ctx context.Context, accountID string, cost int64, reason string) (*domain.LedgerEntry, error) {
	if cost <= 0 {
		return nil, nil
	}
	return p.ledger.Debit(ctx, accountID, cost, reason)
}

func (p *LedgerPolicy) RefundCredits(ctx context.Context, accountID string, cost int64, reason string) error {
	if cost <= 0 {
		return nil
	}
	_, err := p.ledger.Credit(ctx, accountID, cost, reason)
	return err
}

// BypassPolicy waves every action through. Used by demo installs where
// billing is disabled wholesale.
type BypassPolicy struct{}

func NewBypassPolicy() *BypassPolicy {
	return &BypassPolicy{}
}

func (p *BypassPolicy) CheckCredits(ctx context.Context, accountID string, cost int64) error {
	return nil
}

func (p *BypassPolicy) DebitCredits(ctx context.Context, accountID string, cost int64, reason string) (*domain.LedgerEntry, error) {
	return nil, nil
}

func (p *BypassPolicy) RefundCredits(ctx context.Context, accountID string, cost int64, reason string) error {
	return nil
}
