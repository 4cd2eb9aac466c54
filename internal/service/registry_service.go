package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"audiovault/internal/domain"
	"audiovault/internal/service/s3"
)

// FileRegistry fronts the registry store and pairs row mutations with their
// object-store side effects. Registration happens only after the blob is
// confirmed stored; removal marks the row first and treats the blob delete
// as best effort, leaving failures to the reconciler.
type FileRegistry struct {
	store   RegistryStore
	objects s3.Storage
	logger  *zap.Logger
}

func NewFileRegistry(store RegistryStore, objects s3.Storage, logger *zap.Logger) *FileRegistry {
	return &FileRegistry{
		store:   store,
		objects: objects,
		logger:  logger,
	}
}

// Register records a confirmed-stored object and returns its row. The row
// id doubles as the opaque object reference handed to clients.
func (r *FileRegistry) Register(ctx context.Context, accountID, containerRef, objectPath string, sizeBytes int64) (*domain.RegistryRow, error) {
	row := &domain.RegistryRow{
		AccountID:    accountID,
		ContainerRef: containerRef,
		ObjectPath:   objectPath,
		SizeBytes:    sizeBytes,
	}

	if err := r.store.Register(ctx, row); err != nil {
		return nil, err
	}

	return row, nil
}

// Resolve maps a client-held object ref back to its row, enforcing
// ownership. Authorization lives here and at the gateway, not in the
// bucket's ACLs.
func (r *FileRegistry) Resolve(ctx context.Context, accountID, objectRef string) (*domain.RegistryRow, error) {
	rowID, err := strconv.ParseInt(objectRef, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid object ref: %s", objectRef)
	}

	row, err := r.store.GetByID(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("object ref %s not found", objectRef)
	}

	if row.AccountID != accountID {
		return nil, fmt.Errorf("object ref %s not found", objectRef)
	}

	return row, nil
}

// SignURL issues a time-limited playback URL for an active object. The URL
// is re-derivable on demand without re-authorizing the original action.
func (r *FileRegistry) SignURL(ctx context.Context, accountID, objectRef string, ttl time.Duration) (string, error) {
	row, err := r.Resolve(ctx, accountID, objectRef)
	if err != nil {
		return "", err
	}

	if row.Status != domain.RowActive {
		return "", fmt.Errorf("object ref %s not found", objectRef)
	}

	return r.objects.Sign(ctx, row.ObjectPath, ttl)
}

// Remove marks the row deleted and removes the blob. The mark commits
// first, so the bytes leave the quota immediately even if the physical
// delete fails; the orphaned blob is swept later.
func (r *FileRegistry) Remove(ctx context.Context, accountID, objectRef string) error {
	row, err := r.Resolve(ctx, accountID, objectRef)
	if err != nil {
		return err
	}

	if row.Status != domain.RowActive {
		return fmt.Errorf("object ref %s not found", objectRef)
	}

	deleted, err := r.store.MarkDeleted(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("failed to mark object deleted: %w", err)
	}

	if err := r.objects.Delete(ctx, deleted.ObjectPath); err != nil {
		r.logger.Warn("physical delete failed, leaving orphan for reconciler",
			zap.Int64("row_id", deleted.ID),
			zap.String("object_path", deleted.ObjectPath),
			zap.Error(err),
		)
		return nil
	}

	if err := r.store.MarkPurged(ctx, deleted.ID); err != nil {
		r.logger.Warn("failed to record purge", zap.Int64("row_id", deleted.ID), zap.Error(err))
	}

	return nil
}

// ListActive returns the account's live objects.
func (r *FileRegistry) ListActive(ctx context.Context, accountID string) ([]domain.RegistryRow, error) {
	return r.store.ListActive(ctx, accountID)
}
