package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"audiovault/internal/domain"
	"audiovault/internal/metrics"
)

func TestReconcilerSweepPurgesOrphans(t *testing.T) {
	accounts := newFakeAccountStore()
	accounts.seed("acct-1", 100, 0, 500*mb)
	store := newFakeRegistryStore(accounts)
	objects := newFakeObjectStore()
	reconciler := NewReconciler(store, objects, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	// Three logically deleted rows whose physical deletes never happened.
	for i := 1; i <= 3; i++ {
		path := fmt.Sprintf("acct-1/audio/chapter-%d/a.mp3", i)
		require.NoError(t, objects.Put(context.Background(), path, bytes.NewReader([]byte("stale")), "audio/mpeg"))
		row := &domain.RegistryRow{
			AccountID:    "acct-1",
			ContainerRef: fmt.Sprintf("chapter-%d", i),
			ObjectPath:   path,
			SizeBytes:    5,
		}
		require.NoError(t, store.Register(context.Background(), row))
		_, err := store.MarkDeleted(context.Background(), row.ID)
		require.NoError(t, err)
	}

	require.NoError(t, reconciler.Sweep(context.Background()))

	assert.Equal(t, 0, objects.count())

	orphans, err := store.ListOrphans(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// A second sweep finds nothing to do.
	require.NoError(t, reconciler.Sweep(context.Background()))
}

func TestReconcilerSweepRetriesFailuresNextPass(t *testing.T) {
	accounts := newFakeAccountStore()
	accounts.seed("acct-1", 100, 0, 500*mb)
	store := newFakeRegistryStore(accounts)
	objects := newFakeObjectStore()
	reconciler := NewReconciler(store, objects, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	path := "acct-1/audio/chapter-1/a.mp3"
	require.NoError(t, objects.Put(context.Background(), path, bytes.NewReader([]byte("stale")), "audio/mpeg"))
	row := &domain.RegistryRow{AccountID: "acct-1", ContainerRef: "chapter-1", ObjectPath: path, SizeBytes: 5}
	require.NoError(t, store.Register(context.Background(), row))
	_, err := store.MarkDeleted(context.Background(), row.ID)
	require.NoError(t, err)

	objects.deleteErr = errors.New("connection reset")
	require.NoError(t, reconciler.Sweep(context.Background()), "per-row failures do not fail the sweep")

	orphans, err := store.ListOrphans(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, orphans, 1, "the failed row stays queued for the next pass")

	objects.deleteErr = nil
	require.NoError(t, reconciler.Sweep(context.Background()))

	orphans, err = store.ListOrphans(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)
	assert.False(t, objects.has(path))
}
