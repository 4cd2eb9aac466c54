package domain

import "time"

// RegistryRowStatus is the lifecycle state of a stored object's record.
type RegistryRowStatus string

const (
	RowActive  RegistryRowStatus = "active"
	RowDeleted RegistryRowStatus = "deleted"
)

// RegistryRow is the durable record of one stored object. Rows are never
// physically removed; deletion flips Status to "deleted" so the audit
// history survives the blob.
type RegistryRow struct {
	ID           int64             `json:"id" db:"id"`
	AccountID    string            `json:"account_id" db:"account_id"`
	ContainerRef string            `json:"container_ref" db:"container_ref"`
	ObjectPath   string            `json:"object_path" db:"object_path"`
	SizeBytes    int64             `json:"size_bytes" db:"size_bytes"`
	Status       RegistryRowStatus `json:"status" db:"status"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	// PurgedAt is set once the underlying blob has been physically removed.
	// A deleted row with a NULL PurgedAt is an orphan for the reconciler.
	PurgedAt *time.Time `json:"purged_at,omitempty" db:"purged_at"`
}
