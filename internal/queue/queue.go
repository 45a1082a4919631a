// Package queue implements the durable ingestion job queue and its
// dispatcher. Jobs survive restarts in SQLite; execution fans out over
// a bounded worker pool with at-least-once delivery.
package queue

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// Queue enqueues durable jobs with capacity backpressure and
// per-(content key, kind) deduplication.
type Queue struct {
	store    *store.ContentStore
	capacity int
	logger   *slog.Logger
}

// NewQueue creates a queue over the content store. Capacity bounds the
// number of queued plus running jobs; enqueue beyond it fails fast so
// the crawler slows down instead of the queue growing without limit.
func NewQueue(st *store.ContentStore, capacity int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: st, capacity: capacity, logger: logger}
}

// Enqueue adds a job unless an identical (content key, kind) job is
// already queued or running. Returns true when a new job was created.
// Dropped duplicates are free, even at capacity; a genuinely new job
// beyond capacity returns ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, kind store.JobKind, contentKey, payloadRef string) (bool, error) {
	exists, err := q.store.HasActiveJob(ctx, contentKey, kind)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	active, err := q.store.ActiveJobCount(ctx)
	if err != nil {
		return false, err
	}
	if active >= q.capacity {
		return false, errors.Newf(errors.ErrCodeQueueFull,
			"queue at capacity (%d active jobs)", active)
	}
	return q.insert(ctx, kind, contentKey, payloadRef)
}

// EnqueueStage adds a derivation-stage job for content already admitted
// into the pipeline. Stage jobs bypass the capacity bound: capacity
// throttles crawler intake, and the (key, kind) dedup keeps per-item
// stage fan-out bounded. A full queue must never fail in-flight work.
func (q *Queue) EnqueueStage(ctx context.Context, kind store.JobKind, contentKey, payloadRef string) (bool, error) {
	return q.insert(ctx, kind, contentKey, payloadRef)
}

func (q *Queue) insert(ctx context.Context, kind store.JobKind, contentKey, payloadRef string) (bool, error) {
	inserted, err := q.store.InsertJob(ctx, &store.IndexJob{
		ID:         uuid.NewString(),
		Kind:       kind,
		ContentKey: contentKey,
		PayloadRef: payloadRef,
	})
	if err != nil {
		return false, err
	}
	if inserted {
		q.logger.Debug("job enqueued",
			slog.String("kind", string(kind)),
			slog.String("content_key", contentKey))
	}
	return inserted, nil
}

// Depth returns the number of queued plus running jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.ActiveJobCount(ctx)
}
