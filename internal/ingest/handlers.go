package ingest

import (
	"context"
	"log/slog"

	"github.com/omnidex-search/omnidex/internal/encoder"
	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/queue"
	"github.com/omnidex-search/omnidex/internal/store"
)

// Handlers implements the pipeline stages as job handlers. Every
// handler is idempotent: re-running after a crash overwrites the same
// rows and index entries it wrote the first time.
type Handlers struct {
	store    *store.ContentStore
	vectors  store.VectorIndex
	keywords store.KeywordIndex
	gateway  *encoder.Gateway
	fetcher  *Fetcher
	queue    *queue.Queue
	logger   *slog.Logger
}

// NewHandlers wires the pipeline stages together.
func NewHandlers(st *store.ContentStore, vectors store.VectorIndex, keywords store.KeywordIndex, gateway *encoder.Gateway, fetcher *Fetcher, q *queue.Queue, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:    st,
		vectors:  vectors,
		keywords: keywords,
		gateway:  gateway,
		fetcher:  fetcher,
		queue:    q,
		logger:   logger,
	}
}

// Map returns the job kind dispatch table for the dispatcher.
func (h *Handlers) Map() map[store.JobKind]queue.Handler {
	return map[store.JobKind]queue.Handler{
		store.JobFetch:           h.HandleFetch,
		store.JobEmbedText:       h.HandleEmbed,
		store.JobEmbedImage:      h.HandleEmbed,
		store.JobEmbedAudio:      h.HandleEmbed,
		store.JobTranscribeAudio: h.HandleTranscribe,
		store.JobCommitIndex:     h.HandleCommit,
	}
}

// HandleFetch resolves the item's raw reference, stores the bytes, and
// enqueues the derivation stages for its modality.
func (h *Handlers) HandleFetch(ctx context.Context, job *store.IndexJob) error {
	item, err := h.itemFor(ctx, job)
	if err != nil {
		return err
	}

	data, err := h.fetcher.Fetch(ctx, item.RawRef)
	if err != nil {
		return err
	}
	if err := h.store.SaveBlob(ctx, item.Key, data); err != nil {
		return err
	}
	if err := h.store.SetItemStatus(ctx, item.Key, store.StatusEmbedding); err != nil {
		return err
	}

	// Stage enqueues bypass the capacity bound so backpressure on intake
	// never fails an item already in flight. Duplicate enqueues after a
	// re-delivered fetch are dropped by the queue's (key, kind) dedup.
	if _, err := h.queue.EnqueueStage(ctx, store.EmbedKindFor(item.Modality), item.Key, ""); err != nil {
		return err
	}
	if item.Modality == store.ModalityAudio {
		if _, err := h.queue.EnqueueStage(ctx, store.JobTranscribeAudio, item.Key, ""); err != nil {
			return err
		}
	}
	if _, err := h.queue.EnqueueStage(ctx, store.JobCommitIndex, item.Key, ""); err != nil {
		return err
	}
	return nil
}

// HandleEmbed encodes the fetched bytes into the item's embedding space
// and stores the vector under the current encoder version.
func (h *Handlers) HandleEmbed(ctx context.Context, job *store.IndexJob) error {
	item, err := h.itemFor(ctx, job)
	if err != nil {
		return err
	}
	data, err := h.blobFor(ctx, item.Key)
	if err != nil {
		return err
	}

	// Encoder errors keep their own classification so a transiently
	// unavailable backend still retries.
	vector, err := h.gateway.EncodeContent(ctx, encoder.Payload{Modality: item.Modality, Data: data})
	if err != nil {
		return err
	}
	return h.store.SaveEmbedding(ctx, &store.Embedding{
		ContentKey:     item.Key,
		Modality:       item.Modality,
		EncoderVersion: h.gateway.Version(),
		Vector:         vector,
	})
}

// HandleTranscribe converts audio to text for the keyword index.
func (h *Handlers) HandleTranscribe(ctx context.Context, job *store.IndexJob) error {
	item, err := h.itemFor(ctx, job)
	if err != nil {
		return err
	}
	data, err := h.blobFor(ctx, item.Key)
	if err != nil {
		return err
	}

	text, err := h.gateway.Transcribe(ctx, data)
	if err != nil {
		return err
	}
	return h.store.SaveTranscript(ctx, &store.Transcript{ContentKey: item.Key, Text: text})
}

// HandleCommit publishes the item's derived artifacts into both indexes
// and flips its status to indexed. This is the only stage that makes an
// item searchable.
func (h *Handlers) HandleCommit(ctx context.Context, job *store.IndexJob) error {
	item, err := h.itemFor(ctx, job)
	if err != nil {
		return err
	}

	embedding, err := h.store.GetEmbedding(ctx, item.Key, item.Modality, h.gateway.Version())
	if err != nil {
		return err
	}
	if embedding == nil {
		return errors.Newf(errors.ErrCodeCommitFailed,
			"no embedding for %s under encoder version %s", item.Key, h.gateway.Version())
	}

	fields, err := h.keywordFields(ctx, item)
	if err != nil {
		return err
	}

	if err := h.vectors.Upsert(ctx, item.Key, item.Modality, embedding.Vector); err != nil {
		return errors.Wrap(errors.ErrCodeCommitFailed, err)
	}
	if err := h.keywords.Upsert(ctx, item.Key, fields); err != nil {
		return errors.Wrap(errors.ErrCodeCommitFailed, err)
	}

	if err := h.store.MarkIndexed(ctx, item.Key); err != nil {
		return err
	}
	h.logger.Info("item indexed",
		slog.String("content_key", item.Key),
		slog.String("modality", string(item.Modality)))
	return nil
}

// keywordFields assembles the textual surface of an item: page prose
// for text, alt text for images, alt text plus transcript for audio.
func (h *Handlers) keywordFields(ctx context.Context, item *store.ContentItem) (store.KeywordFields, error) {
	fields := store.KeywordFields{Modality: item.Modality, AltText: item.AltText}

	switch item.Modality {
	case store.ModalityText:
		data, err := h.blobFor(ctx, item.Key)
		if err != nil {
			return fields, err
		}
		fields.Body = string(data)
	case store.ModalityAudio:
		transcript, err := h.store.GetTranscript(ctx, item.Key)
		if err != nil {
			return fields, err
		}
		if transcript != nil {
			fields.Transcript = transcript.Text
		}
	}
	return fields, nil
}

func (h *Handlers) itemFor(ctx context.Context, job *store.IndexJob) (*store.ContentItem, error) {
	item, err := h.store.GetItem(ctx, job.ContentKey)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.Newf(errors.ErrCodeItemNotFound, "job %s references unknown item %s", job.ID, job.ContentKey)
	}
	return item, nil
}

func (h *Handlers) blobFor(ctx context.Context, key string) ([]byte, error) {
	data, err := h.store.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.Newf(errors.ErrCodeItemNotFound, "no fetched bytes for %s", key)
	}
	return data, nil
}
