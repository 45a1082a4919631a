// Package store provides the persistence layer for omnidex: the content
// store (SQLite), the modality-partitioned vector index (HNSW), and the
// keyword index (SQLite FTS5).
package store

import (
	"context"
	"fmt"
	"time"
)

// Modality identifies a content type with its own encoder family and
// embedding space.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// ParseModality validates a modality string.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityText, ModalityImage, ModalityAudio:
		return Modality(s), nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

// Status tracks a ContentItem through the ingestion pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEmbedding Status = "embedding"
	StatusIndexed   Status = "indexed"
	StatusFailed    Status = "failed"
)

// ContentItem is a discovered piece of content. One row per content key;
// items are never hard-deleted, only marked stale on re-crawl.
type ContentItem struct {
	Key          string   // Canonical URL or content hash
	Modality     Modality
	SourceURL    string // Page the asset was discovered on
	RawRef       string // Where the raw bytes live (http(s), file, data ref)
	AltText      string // Image alt text, indexed as a keyword field
	Status       Status
	Stale        bool
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Transcript is the speech-to-text output for an audio item.
// It feeds the keyword index only.
type Transcript struct {
	ContentKey string
	Text       string
	CreatedAt  time.Time
}

// Embedding is an immutable vector derived for a content item.
// Re-embedding after an encoder version change supersedes rather than
// mutates: rows are keyed by (content key, modality, encoder version).
type Embedding struct {
	ContentKey     string
	Modality       Modality
	EncoderVersion string
	Vector         []float32
	CreatedAt      time.Time
}

// JobKind identifies a unit of pipeline work.
type JobKind string

const (
	JobFetch           JobKind = "fetch"
	JobEmbedText       JobKind = "embed-text"
	JobEmbedImage      JobKind = "embed-image"
	JobEmbedAudio      JobKind = "embed-audio"
	JobTranscribeAudio JobKind = "transcribe-audio"
	JobCommitIndex     JobKind = "commit-index"
)

// EmbedKindFor returns the embed job kind for a modality.
func EmbedKindFor(m Modality) JobKind {
	switch m {
	case ModalityImage:
		return JobEmbedImage
	case ModalityAudio:
		return JobEmbedAudio
	default:
		return JobEmbedText
	}
}

// JobState is the lifecycle state of an IndexJob.
type JobState string

const (
	JobQueued          JobState = "queued"
	JobRunning         JobState = "running"
	JobSucceeded       JobState = "succeeded"
	JobFailedRetryable JobState = "failed-retryable"
	JobFailedPermanent JobState = "failed-permanent"
)

// Terminal reports whether a job state is final.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailedPermanent
}

// IndexJob is a durable unit of ingestion work. Jobs for the same content
// key form a strict dependency chain: fetch -> embed/transcribe -> commit.
type IndexJob struct {
	ID         string
	Kind       JobKind
	ContentKey string
	PayloadRef string
	Attempts   int
	State      JobState
	RunAfter   time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeywordFields are the textual fields indexed for one content key.
// Body carries page text, AltText image alt text, Transcript the
// speech-to-text output for audio.
type KeywordFields struct {
	Modality   Modality
	Body       string
	AltText    string
	Transcript string
}

// KeywordResult is a single keyword search hit. Higher score = better.
type KeywordResult struct {
	ContentKey string
	Score      float64
	Modality   Modality
}

// VectorResult is a single nearest-neighbor hit. Lower distance = closer.
type VectorResult struct {
	ContentKey string
	Distance   float32
	Score      float32 // Normalized similarity (0-1)
}

// VectorIndex answers k-nearest-neighbor queries over modality partitions.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for (contentKey, modality).
	// Idempotent, last-write-wins.
	Upsert(ctx context.Context, contentKey string, modality Modality, vector []float32) error

	// Query returns up to k neighbors in the modality's partition, sorted
	// by non-decreasing distance with ties broken by content key. An
	// empty partition yields an empty slice, not an error.
	Query(ctx context.Context, modality Modality, vector []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by key from a partition.
	Delete(ctx context.Context, modality Modality, contentKeys []string) error

	// Contains checks if a key is present in a partition.
	Contains(modality Modality, contentKey string) bool

	// Count returns the number of live vectors in a partition.
	Count(modality Modality) int

	// AllKeys returns the live keys of a partition (consistency checks).
	AllKeys(modality Modality) []string

	// Persistence
	Save(dir string) error
	Load(dir string) error
	Close() error
}

// KeywordIndex provides full-text search over all textual fields.
type KeywordIndex interface {
	// Upsert replaces the indexed fields for a content key.
	Upsert(ctx context.Context, contentKey string, fields KeywordFields) error

	// Query returns keys matching text across all modalities, ordered by
	// descending relevance with ties broken by content key.
	Query(ctx context.Context, text string, limit int) ([]*KeywordResult, error)

	// Delete removes keys from the index.
	Delete(ctx context.Context, contentKeys []string) error

	// Contains checks if a key is indexed.
	Contains(ctx context.Context, contentKey string) (bool, error)

	// AllKeys returns every indexed key (consistency checks).
	AllKeys(ctx context.Context) ([]string, error)

	Close() error
}

// ErrDimensionMismatch indicates a vector of the wrong dimensionality for
// its modality partition.
type ErrDimensionMismatch struct {
	Modality Modality
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("%s vector dimension mismatch: expected %d, got %d", e.Modality, e.Expected, e.Got)
}
