package service

import (
	"context"

	"go.uber.org/zap"

	"audiovault/internal/metrics"
	"audiovault/internal/service/s3"
)

const orphanBatchSize = 100

// Reconciler sweeps blobs that are logically gone but physically still in
// the store: deleted registry rows whose purge never happened, including
// failed compensations. Quota accounting already excludes these rows, so
// the sweep only reclaims leaked bytes.
type Reconciler struct {
	registry RegistryStore
	objects  s3.Storage
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewReconciler(registry RegistryStore, objects s3.Storage, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		objects:  objects,
		metrics:  m,
		logger:   logger,
	}
}

// Sweep removes one batch of orphaned blobs. Individual failures are
// logged and retried on the next pass; they never block the batch.
func (r *Reconciler) Sweep(ctx context.Context) error {
	orphans, err := r.registry.ListOrphans(ctx, orphanBatchSize)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		return nil
	}

	purged := 0
	for _, row := range orphans {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := r.objects.Delete(ctx, row.ObjectPath); err != nil {
			r.metrics.OrphansFailedTotal.Inc()
			r.logger.Warn("failed to remove orphaned blob",
				zap.Int64("row_id", row.ID),
				zap.String("object_path", row.ObjectPath),
				zap.Error(err),
			)
			continue
		}

		if err := r.registry.MarkPurged(ctx, row.ID); err != nil {
			r.logger.Warn("failed to record purge",
				zap.Int64("row_id", row.ID),
				zap.Error(err),
			)
			continue
		}

		r.metrics.OrphansPurgedTotal.Inc()
		purged++
	}

	r.logger.Info("orphan sweep finished",
		zap.Int("found", len(orphans)),
		zap.Int("purged", purged),
	)

	return nil
}
