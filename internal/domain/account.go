package domain

import "time"

// Account is the billable entity: a consumable credit balance plus a
// storage quota for generated audio.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Balance      int64     `json:"balance" db:"balance"`
	StorageUsed  int64     `json:"storage_used" db:"storage_used"`
	StorageQuota int64     `json:"storage_quota" db:"storage_quota"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one append-only record of a balance change. Entries are
// never mutated or deleted.
type LedgerEntry struct {
	ID               int64     `json:"id" db:"id"`
	AccountID        string    `json:"account_id" db:"account_id"`
	Delta            int64     `json:"delta" db:"delta"`
	Reason           string    `json:"reason" db:"reason"`
	ResultingBalance int64     `json:"resulting_balance" db:"resulting_balance"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// CreditInfo is the client-facing view of an account's balance.
type CreditInfo struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// QuotaInfo is the client-facing view of an account's storage usage.
type QuotaInfo struct {
	TotalSpace     int64   `json:"total_space"`
	UsedSpace      int64   `json:"used_space"`
	AvailableSpace int64   `json:"available_space"`
	UsagePercent   float64 `json:"usage_percent"`
}
