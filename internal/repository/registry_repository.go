package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"audiovault/internal/domain"
)

// RegistryRepository owns the registry_rows table. Every insert and
// mark-deleted also moves accounts.storage_used inside the same
// transaction, so the derived counter can never drift from the rows that
// back it except through an external failure, which Recalculate repairs.
type RegistryRepository struct {
	db *sqlx.DB
}

func NewRegistryRepository(db *sqlx.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// Register records a stored object and charges its size against the owner's
// storage_used. Callers invoke this only after the blob is confirmed in the
// object store.
func (r *RegistryRepository) Register(ctx context.Context, row *domain.RegistryRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO registry_rows (account_id, container_ref, object_path, size_bytes, status)
        VALUES ($1, $2, $3, $4, 'active')
        RETURNING id, status, created_at`

	err = tx.QueryRowContext(ctx, query,
		row.AccountID,
		row.ContainerRef,
		row.ObjectPath,
		row.SizeBytes,
	).Scan(&row.ID, &row.Status, &row.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: object_path %s", domain.ErrRegistryConflict, row.ObjectPath)
		}
		return fmt.Errorf("failed to insert registry row: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE accounts
        SET storage_used = storage_used + $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $2`,
		row.SizeBytes, row.AccountID)
	if err != nil {
		return fmt.Errorf("failed to update used space: %w", err)
	}

	return tx.Commit()
}

// MarkDeleted flips a row to deleted and releases its bytes from the quota.
// The row itself stays for audit; the blob is removed separately, and the
// reconciler sweeps it if that removal fails.
func (r *RegistryRepository) MarkDeleted(ctx context.Context, rowID int64) (*domain.RegistryRow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row domain.RegistryRow
	err = tx.GetContext(ctx, &row, `
        UPDATE registry_rows
        SET status = 'deleted'
        WHERE id = $1 AND status = 'active'
        RETURNING *`,
		rowID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("active registry row %d not found", rowID)
		}
		return nil, fmt.Errorf("failed to mark row deleted: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE accounts
        SET storage_used = GREATEST(0, storage_used - $1),
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $2`,
		row.SizeBytes, row.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to update used space: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &row, nil
}

// ReplaceSlot marks every active row for a logical slot (container_ref)
// deleted and returns them, so re-uploading a section supersedes the prior
// object without losing its history. The row named by keepRowID survives
// the sweep: callers register the replacement first and supersede only
// after it is durable, so a failed registration leaves the slot untouched.
func (r *RegistryRepository) ReplaceSlot(ctx context.Context, accountID, containerRef string, keepRowID int64) ([]domain.RegistryRow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rows []domain.RegistryRow
	err = tx.SelectContext(ctx, &rows, `
        UPDATE registry_rows
        SET status = 'deleted'
        WHERE account_id = $1 AND container_ref = $2 AND status = 'active' AND id <> $3
        RETURNING *`,
		accountID, containerRef, keepRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to replace slot: %w", err)
	}

	var released int64
	for _, row := range rows {
		released += row.SizeBytes
	}

	if released > 0 {
		_, err = tx.ExecContext(ctx, `
            UPDATE accounts
            SET storage_used = GREATEST(0, storage_used - $1),
                updated_at = CURRENT_TIMESTAMP
            WHERE id = $2`,
			released, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to update used space: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return rows, nil
}

// GetByID fetches a row regardless of status.
func (r *RegistryRepository) GetByID(ctx context.Context, rowID int64) (*domain.RegistryRow, error) {
	var row domain.RegistryRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM registry_rows WHERE id = $1`, rowID)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByPath locates the active row for an object path under an account.
func (r *RegistryRepository) GetByPath(ctx context.Context, accountID, objectPath string) (*domain.RegistryRow, error) {
	var row domain.RegistryRow
	err := r.db.GetContext(ctx, &row, `
        SELECT * FROM registry_rows
        WHERE account_id = $1 AND object_path = $2 AND status = 'active'
        LIMIT 1`,
		accountID, objectPath)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListActive returns the account's live objects, oldest first.
func (r *RegistryRepository) ListActive(ctx context.Context, accountID string) ([]domain.RegistryRow, error) {
	var rows []domain.RegistryRow
	query := `
        SELECT * FROM registry_rows
        WHERE account_id = $1 AND status = 'active'
        ORDER BY container_ref, created_at`

	if err := r.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list active rows: %w", err)
	}

	return rows, nil
}

// ListActiveByContainer returns the live objects under one container,
// ordered for export assembly.
func (r *RegistryRepository) ListActiveByContainer(ctx context.Context, accountID, containerRef string) ([]domain.RegistryRow, error) {
	var rows []domain.RegistryRow
	query := `
        SELECT * FROM registry_rows
        WHERE account_id = $1 AND container_ref LIKE $2 || '%' AND status = 'active'
        ORDER BY container_ref, created_at`

	if err := r.db.SelectContext(ctx, &rows, query, accountID, containerRef); err != nil {
		return nil, fmt.Errorf("failed to list container rows: %w", err)
	}

	return rows, nil
}

// ListOrphans returns deleted rows whose blob has not been purged yet.
func (r *RegistryRepository) ListOrphans(ctx context.Context, limit int) ([]domain.RegistryRow, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []domain.RegistryRow
	query := `
        SELECT * FROM registry_rows
        WHERE status = 'deleted' AND purged_at IS NULL
        ORDER BY created_at
        LIMIT $1`

	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list orphans: %w", err)
	}

	return rows, nil
}

// MarkPurged records that the blob behind a deleted row is physically gone.
func (r *RegistryRepository) MarkPurged(ctx context.Context, rowID int64) error {
	result, err := r.db.ExecContext(ctx, `
        UPDATE registry_rows
        SET purged_at = CURRENT_TIMESTAMP
        WHERE id = $1 AND status = 'deleted'`,
		rowID)
	if err != nil {
		return fmt.Errorf("failed to mark row purged: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deleted registry row %d not found", rowID)
	}

	return nil
}

// Recalculate resets accounts.storage_used to the sum over active rows,
// repairing any drift the incremental path could not cover.
func (r *RegistryRepository) Recalculate(ctx context.Context, accountID string) error {
	query := `
        UPDATE accounts
        SET storage_used = (
            SELECT COALESCE(SUM(size_bytes), 0)
            FROM registry_rows
            WHERE account_id = $1 AND status = 'active'
        ),
        updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to recalculate used space: %w", err)
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
