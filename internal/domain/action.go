package domain

import "io"

// ActionKind identifies a billable operation.
type ActionKind string

const (
	ActionUpload ActionKind = "upload"
	ActionParse  ActionKind = "parse"
	ActionExport ActionKind = "export"
)

// ActionState is the gateway's per-request state machine. Transitions are
// strictly forward: Pending -> Checking -> Executing -> Committing ->
// {Completed, Failed, Compensated}.
type ActionState string

const (
	StatePending     ActionState = "pending"
	StateChecking    ActionState = "checking"
	StateExecuting   ActionState = "executing"
	StateCommitting  ActionState = "committing"
	StateCompleted   ActionState = "completed"
	StateFailed      ActionState = "failed"
	StateCompensated ActionState = "compensated"
)

// ActionStatus is the terminal outcome reported to the client.
type ActionStatus string

const (
	StatusCompleted           ActionStatus = "completed"
	StatusInsufficientCredits ActionStatus = "insufficient_credits"
	StatusInsufficientStorage ActionStatus = "insufficient_storage"
	StatusFailed              ActionStatus = "failed"
)

// ActionRequest is the gateway's inbound contract.
type ActionRequest struct {
	AccountID    string
	Kind         ActionKind
	ContainerRef string
	Filename     string
	ContentType  string
	SizeBytes    int64
	Payload      io.Reader
}

// ActionResult is the gateway's outbound contract. ObjectRef is opaque to
// the client; a playable URL is obtained separately via signing.
type ActionResult struct {
	Status       ActionStatus `json:"status"`
	ObjectRef    string       `json:"object_ref,omitempty"`
	BalanceAfter *int64       `json:"balance_after,omitempty"`
	QuotaUsed    *int64       `json:"quota_used,omitempty"`
	Message      string       `json:"message,omitempty"`
}
