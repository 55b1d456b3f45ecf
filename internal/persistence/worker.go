package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"RainLens/internal/observability"
	"RainLens/internal/query"
)

// SnapshotSaver is the write side of SnapshotStore.
type SnapshotSaver interface {
	Save(ctx context.Context, snap *query.Snapshot) error
}

// SnapshotWorker drains computed snapshots off a channel and writes them,
// retrying failed writes with exponential backoff. Queries never wait on it.
type SnapshotWorker struct {
	saver          SnapshotSaver
	input          <-chan *query.Snapshot
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

func NewSnapshotWorker(
	saver SnapshotSaver,
	input <-chan *query.Snapshot,
	maxAttempts int,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *SnapshotWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &SnapshotWorker{
		saver:          saver,
		input:          input,
		maxAttempts:    maxAttempts,
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		logger:         logger,
		metrics:        metrics,
	}
}

// WithBackoff overrides the retry backoff bounds.
func (w *SnapshotWorker) WithBackoff(initial, max time.Duration) *SnapshotWorker {
	w.initialBackoff = initial
	w.maxBackoff = max
	return w
}

// Run writes snapshots until ctx is cancelled or the input channel closes.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-w.input:
			if !ok {
				return nil
			}
			err := w.saveWithRetry(ctx, snap)
			w.metrics.ObservePersist(err)
			if err != nil {
				w.logger.Error().
					Err(err).
					Str("snapshot_id", snap.ID.String()).
					Str("view", string(snap.View)).
					Msg("snapshot dropped after retries")
			}
		}
	}
}

// saveWithRetry attempts the write up to maxAttempts times, doubling the
// backoff between attempts.
func (w *SnapshotWorker) saveWithRetry(ctx context.Context, snap *query.Snapshot) error {
	backoff := w.initialBackoff
	var err error

	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("snapshot_id", snap.ID.String()).
				Msg("snapshot persist retry")
			select {
			case <-ctx.Done():
				return fmt.Errorf("persist snapshot %s: %w", snap.ID, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		if err = w.saver.Save(ctx, snap); err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("snapshot persisted after retries")
			}
			return nil
		}
	}
	return fmt.Errorf("persist snapshot %s: %w", snap.ID, err)
}
