package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"audiovault/internal/domain"
	"audiovault/internal/metrics"
	"audiovault/internal/service/s3"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 200 * time.Millisecond
)

// ActionCosts fixes the credit price of each billable action kind.
type ActionCosts struct {
	Upload        int64
	Parse         int64
	Export        int64
	BillReuploads bool
}

// For returns the cost of one action kind.
func (c ActionCosts) For(kind domain.ActionKind) int64 {
	switch kind {
	case domain.ActionUpload:
		return c.Upload
	case domain.ActionParse:
		return c.Parse
	case domain.ActionExport:
		return c.Export
	}
	return 0
}

// ExecutionOutcome is what an executor produced. ObjectPath is empty for
// actions that store nothing.
type ExecutionOutcome struct {
	ObjectPath  string
	SizeBytes   int64
	ContentType string
}

// Executor performs the Executing phase of one action kind. It is the only
// code allowed external side effects, and on error it must leave nothing
// behind that the gateway would have to bill for.
type Executor interface {
	Execute(ctx context.Context, req *domain.ActionRequest) (*ExecutionOutcome, error)
}

// ActionGateway is the single entry point for billable operations. Each
// request walks the state machine Pending -> Checking -> Executing ->
// Committing -> {Completed, Failed, Compensated}; debits and registry
// writes commit as one logical unit, with blob deletion as the
// compensation for a commit that loses a balance race.
type ActionGateway struct {
	policy    AuthorizationPolicy
	quota     *QuotaTracker
	store     RegistryStore
	objects   s3.Storage
	executors map[domain.ActionKind]Executor
	costs     ActionCosts
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewActionGateway(
	policy AuthorizationPolicy,
	quota *QuotaTracker,
	store RegistryStore,
	objects s3.Storage,
	executors map[domain.ActionKind]Executor,
	costs ActionCosts,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ActionGateway {
	return &ActionGateway{
		policy:    policy,
		quota:     quota,
		store:     store,
		objects:   objects,
		executors: executors,
		costs:     costs,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes one billable action to completion within the request's
// lifetime. Terminal business failures are encoded in the result; the
// returned error is reserved for malformed requests.
func (g *ActionGateway) Run(ctx context.Context, req *domain.ActionRequest) (*domain.ActionResult, error) {
	if req.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	executor, ok := g.executors[req.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind: %s", req.Kind)
	}

	start := time.Now()
	state := domain.StatePending

	result := g.run(ctx, req, executor, &state)

	g.metrics.ActionsTotal.WithLabelValues(string(req.Kind), string(result.Status)).Inc()
	g.metrics.ActionDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())

	g.logger.Info("action finished",
		zap.String("account_id", req.AccountID),
		zap.String("kind", string(req.Kind)),
		zap.String("final_state", string(state)),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}

func (g *ActionGateway) run(ctx context.Context, req *domain.ActionRequest, executor Executor, state *domain.ActionState) *domain.ActionResult {
	// Checking: both gates read the authoritative store, never a cache.
	*state = domain.StateChecking

	cost, err := g.actionCost(ctx, req)
	if err != nil {
		return failedResult(err.Error())
	}

	if err := g.policy.CheckCredits(ctx, req.AccountID, cost); err != nil {
		var ib *domain.InsufficientBalanceError
		if errors.As(err, &ib) {
			return insufficientCreditsResult(ib)
		}
		return failedResult(fmt.Sprintf("credit check failed: %v", err))
	}

	if storesObject(req.Kind) {
		ok, info, err := g.quota.Available(ctx, req.AccountID, req.SizeBytes)
		if err != nil {
			return failedResult(fmt.Sprintf("quota check failed: %v", err))
		}
		if !ok {
			return insufficientStorageResult(req.SizeBytes, info)
		}
	}

	// Executing: the only phase with external side effects. A timeout or
	// failure here leaves no debit and no registry row.
	*state = domain.StateExecuting

	var outcome *ExecutionOutcome
	err = withRetry(ctx, retryAttempts, retryBaseDelay, func() error {
		var execErr error
		outcome, execErr = executor.Execute(ctx, req)
		return execErr
	})
	if err != nil {
		return failedResult(fmt.Sprintf("execution failed: %v", err))
	}

	// The pre-execution gate ran against the requested size, which for
	// exports is a client estimate. Confirm the quota against the bytes
	// actually produced before anything commits.
	if outcome != nil && outcome.ObjectPath != "" {
		ok, info, err := g.quota.Available(ctx, req.AccountID, outcome.SizeBytes)
		if err != nil {
			*state = domain.StateCompensated
			g.compensate(ctx, outcome)
			return failedResult(fmt.Sprintf("quota check failed: %v", err))
		}
		if !ok {
			*state = domain.StateCompensated
			g.compensate(ctx, outcome)
			return insufficientStorageResult(outcome.SizeBytes, info)
		}
	}

	// Committing: debit plus registry write as one logical unit. The store
	// re-reads the balance under lock, so a concurrent debit can still win
	// the race here; if it does, the just-produced object is deleted.
	*state = domain.StateCommitting

	reason := fmt.Sprintf("%s:%s", req.Kind, req.ContainerRef)
	entry, err := g.policy.DebitCredits(ctx, req.AccountID, cost, reason)
	if err != nil {
		*state = domain.StateCompensated
		g.compensate(ctx, outcome)

		var ib *domain.InsufficientBalanceError
		if errors.As(err, &ib) {
			return insufficientCreditsResult(ib)
		}
		return failedResult(fmt.Sprintf("commit failed, retry the request: %v", err))
	}

	result := &domain.ActionResult{Status: domain.StatusCompleted}
	if entry != nil {
		balance := entry.ResultingBalance
		result.BalanceAfter = &balance
	}

	if outcome != nil && outcome.ObjectPath != "" {
		row, err := g.commitObject(ctx, req, outcome)
		if err != nil {
			*state = domain.StateCompensated
			g.compensate(ctx, outcome)
			if refundErr := g.policy.RefundCredits(ctx, req.AccountID, cost, "refund:"+reason); refundErr != nil {
				g.logger.Error("refund after failed commit also failed",
					zap.String("account_id", req.AccountID),
					zap.Error(refundErr),
				)
			}
			return failedResult(fmt.Sprintf("commit failed, retry the request: %v", err))
		}

		result.ObjectRef = strconv.FormatInt(row.ID, 10)
		used := req.SizeBytes
		if outcome.SizeBytes > 0 {
			used = outcome.SizeBytes
		}
		result.QuotaUsed = &used
	}

	*state = domain.StateCompleted
	return result
}

// actionCost resolves the credit cost, honoring the re-upload policy: when
// re-uploads are free, overwriting an occupied slot costs nothing.
func (g *ActionGateway) actionCost(ctx context.Context, req *domain.ActionRequest) (int64, error) {
	cost := g.costs.For(req.Kind)

	if req.Kind == domain.ActionUpload && !g.costs.BillReuploads {
		existing, err := g.store.ListActiveByContainer(ctx, req.AccountID, req.ContainerRef)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve upload slot: %w", err)
		}
		if len(existing) > 0 {
			return 0, nil
		}
	}

	return cost, nil
}

// commitObject registers the new row first and supersedes any prior object
// in the slot only once the registration is durable: a failed registration
// must leave the slot's previous content active and untouched. The replaced
// rows leave the quota inside ReplaceSlot's transaction; their blobs are
// removed best-effort afterwards.
func (g *ActionGateway) commitObject(ctx context.Context, req *domain.ActionRequest, outcome *ExecutionOutcome) (*domain.RegistryRow, error) {
	row := &domain.RegistryRow{
		AccountID:    req.AccountID,
		ContainerRef: req.ContainerRef,
		ObjectPath:   outcome.ObjectPath,
		SizeBytes:    outcome.SizeBytes,
	}
	err := withRetry(ctx, retryAttempts, retryBaseDelay, func() error {
		return g.store.Register(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	var replaced []domain.RegistryRow
	if req.Kind == domain.ActionUpload {
		replaced, err = g.store.ReplaceSlot(ctx, req.AccountID, req.ContainerRef, row.ID)
		if err != nil {
			// Roll the new row back so the slot still holds its prior
			// object; the caller deletes the new blob.
			if _, mdErr := g.store.MarkDeleted(ctx, row.ID); mdErr != nil {
				g.logger.Error("failed to roll back registration after slot error",
					zap.Int64("row_id", row.ID),
					zap.Error(mdErr),
				)
			}
			return nil, fmt.Errorf("failed to supersede slot: %w", err)
		}
	}

	for _, old := range replaced {
		if err := g.objects.Delete(ctx, old.ObjectPath); err != nil {
			g.logger.Warn("failed to remove superseded blob, leaving orphan for reconciler",
				zap.Int64("row_id", old.ID),
				zap.String("object_path", old.ObjectPath),
				zap.Error(err),
			)
			continue
		}
		if err := g.store.MarkPurged(ctx, old.ID); err != nil {
			g.logger.Warn("failed to record purge of superseded blob",
				zap.Int64("row_id", old.ID),
				zap.Error(err),
			)
		}
	}

	return row, nil
}

// compensate removes the just-produced blob after a failed commit. Failures
// here never surface to the user: the action already failed cleanly, the
// leaked blob is an operational concern for the reconciler sweep.
func (g *ActionGateway) compensate(ctx context.Context, outcome *ExecutionOutcome) {
	if outcome == nil || outcome.ObjectPath == "" {
		return
	}

	g.metrics.CompensationsTotal.Inc()

	if err := g.objects.Delete(ctx, outcome.ObjectPath); err != nil {
		orphan := &domain.OrphanCompensationError{ObjectPath: outcome.ObjectPath, Cause: err}
		g.logger.Error("compensation failed", zap.String("object_path", outcome.ObjectPath), zap.Error(orphan))
	}
}

func storesObject(kind domain.ActionKind) bool {
	return kind == domain.ActionUpload || kind == domain.ActionExport
}

// withRetry retries fn on transient errors with exponential backoff.
// Terminal errors and context cancellation stop immediately.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay << uint(i)):
		}
	}
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrObjectStoreUnavailable) || errors.Is(err, domain.ErrRegistryConflict)
}

func failedResult(msg string) *domain.ActionResult {
	return &domain.ActionResult{Status: domain.StatusFailed, Message: msg}
}

func insufficientCreditsResult(ib *domain.InsufficientBalanceError) *domain.ActionResult {
	balance := ib.Balance
	return &domain.ActionResult{
		Status:       domain.StatusInsufficientCredits,
		BalanceAfter: &balance,
		Message:      ib.Error(),
	}
}

func insufficientStorageResult(requested int64, info *domain.QuotaInfo) *domain.ActionResult {
	result := &domain.ActionResult{Status: domain.StatusInsufficientStorage}
	if info != nil {
		used := info.UsedSpace
		result.QuotaUsed = &used
		result.Message = fmt.Sprintf("insufficient storage: %d bytes requested, %d of %d used",
			requested, info.UsedSpace, info.TotalSpace)
	} else {
		result.Message = fmt.Sprintf("insufficient storage: %d bytes requested", requested)
	}
	return result
}
