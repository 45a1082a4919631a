// Package crawler is the discovery boundary: it turns externally
// discovered content references into pipeline work. Link extraction
// and page parsing live outside this module; callers hand Intake a
// resolved (key, modality, reference) triple.
package crawler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/queue"
	"github.com/omnidex-search/omnidex/internal/store"
)

// DiscoveryOptions carries the metadata a crawler extracts alongside a
// content reference.
type DiscoveryOptions struct {
	// SourceURL is the page the reference was discovered on.
	SourceURL string

	// AltText is surrounding descriptive text (img alt attribute,
	// link text, figure caption). Indexed for keyword search on
	// non-text items.
	AltText string
}

// Intake accepts discovered content and enqueues its first pipeline
// stage. Discovery is idempotent per content key: re-discovering a
// known key refreshes its metadata, marks it stale, and re-pends it
// for fetching.
type Intake struct {
	store  *store.ContentStore
	queue  *queue.Queue
	logger *slog.Logger
}

// NewIntake wires the discovery boundary.
func NewIntake(st *store.ContentStore, q *queue.Queue, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: st, queue: q, logger: logger}
}

// EnqueueDiscovery registers a discovered content reference and queues
// its fetch job. Returns true when the key was new. A full queue
// leaves the item in pending status so a later re-crawl can retry.
func (i *Intake) EnqueueDiscovery(ctx context.Context, key string, modality store.Modality, rawRef string, opts DiscoveryOptions) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New(errors.ErrCodeInvalidPayload, "content key is required", nil)
	}
	rawRef = strings.TrimSpace(rawRef)
	if rawRef == "" {
		return false, errors.Newf(errors.ErrCodeInvalidPayload, "content %s has no raw reference", key)
	}
	switch modality {
	case store.ModalityText, store.ModalityImage, store.ModalityAudio:
	default:
		return false, errors.Newf(errors.ErrCodeInvalidPayload, "unknown modality %q for content %s", modality, key)
	}

	created, err := i.store.Discover(ctx, &store.ContentItem{
		Key:       key,
		Modality:  modality,
		SourceURL: opts.SourceURL,
		RawRef:    rawRef,
		AltText:   opts.AltText,
	})
	if err != nil {
		return false, err
	}

	enqueued, err := i.queue.Enqueue(ctx, store.JobFetch, key, rawRef)
	if err != nil {
		return created, err
	}

	i.logger.Debug("content discovered",
		slog.String("content_key", key),
		slog.String("modality", string(modality)),
		slog.Bool("new", created),
		slog.Bool("enqueued", enqueued))
	return created, nil
}
