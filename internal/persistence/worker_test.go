package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"RainLens/internal/aggregate"
	"RainLens/internal/observability"
	"RainLens/internal/persistence"
	"RainLens/internal/query"
	"RainLens/internal/testutil"
)

type flakySaver struct {
	mu       sync.Mutex
	failures int
	calls    int
	saved    []*query.Snapshot
}

func (s *flakySaver) Save(ctx context.Context, snap *query.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	s.saved = append(s.saved, snap)
	return nil
}

func newSnapshot() *query.Snapshot {
	return query.NewSnapshot(query.ViewBorrow, testutil.Currency, time.Unix(1_700_000_000, 0).UTC(),
		aggregate.Totals{testutil.Key(2): 300})
}

func runWorker(t *testing.T, saver persistence.SnapshotSaver, attempts int, snaps ...*query.Snapshot) *observability.Metrics {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ch := make(chan *query.Snapshot, len(snaps))
	for _, s := range snaps {
		ch <- s
	}
	close(ch)

	w := persistence.NewSnapshotWorker(saver, ch, attempts, zerolog.Nop(), metrics).
		WithBackoff(time.Millisecond, 2*time.Millisecond)
	require.NoError(t, w.Run(context.Background()))
	return metrics
}

func TestSnapshotWorker_RetriesUntilSaved(t *testing.T) {
	saver := &flakySaver{failures: 2}
	snap := newSnapshot()

	metrics := runWorker(t, saver, 3, snap)

	require.Equal(t, 3, saver.calls)
	require.Equal(t, []*query.Snapshot{snap}, saver.saved)
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.SnapshotsPersisted))
	require.Equal(t, 0.0, promtest.ToFloat64(metrics.PersistErrors))
}

func TestSnapshotWorker_DropsAfterMaxAttempts(t *testing.T) {
	saver := &flakySaver{failures: 5}

	metrics := runWorker(t, saver, 2, newSnapshot(), newSnapshot())

	// First snapshot burns two failures, second burns two more.
	require.Equal(t, 4, saver.calls)
	require.Empty(t, saver.saved)
	require.Equal(t, 2.0, promtest.ToFloat64(metrics.PersistErrors))
}

func TestSnapshotWorker_StopsOnCancel(t *testing.T) {
	ch := make(chan *query.Snapshot)
	w := persistence.NewSnapshotWorker(&flakySaver{}, ch, 1, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, w.Run(ctx), context.Canceled)
}
