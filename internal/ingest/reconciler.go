package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/omnidex-search/omnidex/internal/queue"
	"github.com/omnidex-search/omnidex/internal/store"
)

// DriftType categorizes a divergence between the content store and the
// indexes.
type DriftType int

const (
	// DriftOrphanVector is a vector whose content key is not indexed in
	// the content store.
	DriftOrphanVector DriftType = iota
	// DriftOrphanKeyword is a keyword entry without an indexed item.
	DriftOrphanKeyword
	// DriftMissingVector is an indexed item absent from its vector
	// partition.
	DriftMissingVector
	// DriftMissingKeyword is an indexed item absent from the keyword
	// index.
	DriftMissingKeyword
)

func (t DriftType) String() string {
	switch t {
	case DriftOrphanVector:
		return "orphan_vector"
	case DriftOrphanKeyword:
		return "orphan_keyword"
	case DriftMissingVector:
		return "missing_vector"
	case DriftMissingKeyword:
		return "missing_keyword"
	default:
		return "unknown"
	}
}

// Drift is one detected divergence.
type Drift struct {
	Type       DriftType
	ContentKey string
	Modality   store.Modality
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Checked  int
	Drifts   []Drift
	Repaired int
	Duration time.Duration
}

// Reconciler re-derives item visibility from what the indexes actually
// contain. The content store's status column is the source of truth for
// what should be visible; the indexes are evidence of what is.
type Reconciler struct {
	store    *store.ContentStore
	vectors  store.VectorIndex
	keywords store.KeywordIndex
	queue    *queue.Queue
	logger   *slog.Logger
}

// NewReconciler creates a reconciler over the store and both indexes.
func NewReconciler(st *store.ContentStore, vectors store.VectorIndex, keywords store.KeywordIndex, q *queue.Queue, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, vectors: vectors, keywords: keywords, queue: q, logger: logger}
}

// Check scans for drift without repairing. O(n) over items plus index
// entries.
func (r *Reconciler) Check(ctx context.Context) (*ReconcileResult, error) {
	start := time.Now()

	statuses, err := r.store.AllItemKeys(ctx)
	if err != nil {
		return nil, err
	}

	indexedModality := make(map[string]store.Modality)
	for key, status := range statuses {
		if status != store.StatusIndexed {
			continue
		}
		item, err := r.store.GetItem(ctx, key)
		if err != nil {
			return nil, err
		}
		if item != nil {
			indexedModality[key] = item.Modality
		}
	}

	var drifts []Drift

	// Orphaned vectors: live in a partition but the item is not indexed.
	for _, modality := range []store.Modality{store.ModalityText, store.ModalityImage, store.ModalityAudio} {
		for _, key := range r.vectors.AllKeys(modality) {
			if _, ok := indexedModality[key]; !ok {
				drifts = append(drifts, Drift{Type: DriftOrphanVector, ContentKey: key, Modality: modality})
			}
		}
	}

	keywordKeys, err := r.keywords.AllKeys(ctx)
	if err != nil {
		return nil, err
	}
	keywordSet := make(map[string]bool, len(keywordKeys))
	for _, key := range keywordKeys {
		keywordSet[key] = true
		if _, ok := indexedModality[key]; !ok {
			drifts = append(drifts, Drift{Type: DriftOrphanKeyword, ContentKey: key})
		}
	}

	// Missing entries: item claims indexed but an index disagrees.
	for key, modality := range indexedModality {
		if !r.vectors.Contains(modality, key) {
			drifts = append(drifts, Drift{Type: DriftMissingVector, ContentKey: key, Modality: modality})
		}
		if !keywordSet[key] {
			drifts = append(drifts, Drift{Type: DriftMissingKeyword, ContentKey: key, Modality: modality})
		}
	}

	return &ReconcileResult{
		Checked:  len(indexedModality),
		Drifts:   drifts,
		Duration: time.Since(start),
	}, nil
}

// Repair fixes drift: orphans are deleted from the indexes, items with
// missing index entries fall back to pending and re-enter the pipeline
// through a fresh commit chain.
func (r *Reconciler) Repair(ctx context.Context, result *ReconcileResult) error {
	orphanKeywords := make([]string, 0)
	requeue := make(map[string]bool)

	for _, drift := range result.Drifts {
		switch drift.Type {
		case DriftOrphanVector:
			if err := r.vectors.Delete(ctx, drift.Modality, []string{drift.ContentKey}); err != nil {
				r.logger.Warn("failed to delete orphan vector",
					slog.String("content_key", drift.ContentKey),
					slog.String("error", err.Error()))
			}
		case DriftOrphanKeyword:
			orphanKeywords = append(orphanKeywords, drift.ContentKey)
		case DriftMissingVector, DriftMissingKeyword:
			requeue[drift.ContentKey] = true
		}
	}

	if len(orphanKeywords) > 0 {
		if err := r.keywords.Delete(ctx, orphanKeywords); err != nil {
			r.logger.Warn("failed to delete orphan keyword entries",
				slog.Int("count", len(orphanKeywords)),
				slog.String("error", err.Error()))
		}
	}

	repaired := 0
	for key := range requeue {
		// The blob and embedding survive, so the chain fast-forwards to
		// the missing commit.
		if err := r.store.SetItemStatus(ctx, key, store.StatusPending); err != nil {
			return err
		}
		if _, err := r.queue.Enqueue(ctx, store.JobFetch, key, ""); err != nil {
			r.logger.Warn("failed to requeue drifted item",
				slog.String("content_key", key),
				slog.String("error", err.Error()))
			continue
		}
		repaired++
	}
	result.Repaired = repaired + len(orphanKeywords)

	if len(result.Drifts) > 0 {
		r.logger.Info("reconciliation repaired drift",
			slog.Int("drifts", len(result.Drifts)),
			slog.Int("requeued", repaired),
			slog.Int("orphans_removed", len(result.Drifts)-repaired))
	}
	return nil
}
