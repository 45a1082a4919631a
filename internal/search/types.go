// Package search provides the hybrid query engine combining semantic
// k-nearest-neighbor lookup and keyword relevance search. Results from
// both paths are fused with min-max normalized weighted scoring.
package search

import (
	"context"

	"github.com/omnidex-search/omnidex/internal/store"
)

// Mode selects which retrieval paths a query exercises.
type Mode string

const (
	// ModeKeyword runs only the full-text relevance path.
	ModeKeyword Mode = "keyword"

	// ModeSemantic runs only the embedding k-nearest-neighbor path.
	ModeSemantic Mode = "semantic"

	// ModeHybrid runs both paths and fuses the ranked lists.
	ModeHybrid Mode = "hybrid"
)

// SourceSignal records which retrieval path produced a result.
type SourceSignal string

const (
	SourceVector  SourceSignal = "vector"
	SourceKeyword SourceSignal = "keyword"
	SourceBoth    SourceSignal = "both"
)

// Request describes one search call. A query is a single stateless
// request-response cycle; nothing about it is persisted.
type Request struct {
	// Mode selects keyword, semantic, or hybrid retrieval.
	Mode Mode

	// QueryModality is the modality of the query payload itself.
	// Text for keyword and hybrid queries; any configured modality
	// for semantic queries.
	QueryModality store.Modality

	// TargetModality selects the vector partition to search. The
	// (QueryModality, TargetModality) pair must have a configured
	// encoder or the query is rejected.
	TargetModality store.Modality

	// Text is the query string for keyword search and for text-query
	// semantic search.
	Text string

	// Payload carries non-text query bytes (image or audio query
	// content) for same-modality semantic search. Ignored when
	// QueryModality is text.
	Payload []byte

	// K is the maximum number of results (default from config).
	K int

	// Weight overrides the configured fusion weight w for this query.
	// Nil means use the configured default.
	Weight *float64

	// AllowDegraded permits a hybrid query to return partial results
	// when exactly one retrieval path fails. Without it, a sub-path
	// failure fails the whole query.
	AllowDegraded bool
}

// QueryResult is a single ranked hit. Constructed during query
// execution only; never persisted.
type QueryResult struct {
	// ContentKey identifies the matching content item.
	ContentKey string

	// Score is the final ranking score in [0,1]. Hybrid queries fuse
	// both paths; single-path queries carry that path's min-max
	// normalized score.
	Score float64

	// Modality is the matched item's modality.
	Modality store.Modality

	// Source records which retrieval path(s) produced the hit.
	Source SourceSignal
}

// Searcher answers search requests against the committed indexes.
type Searcher interface {
	Search(ctx context.Context, req Request) ([]*QueryResult, error)
}

// itemCatalog is the slice of the content store the engine needs:
// result visibility is decided by item status, never by index
// membership alone.
type itemCatalog interface {
	GetItem(ctx context.Context, key string) (*store.ContentItem, error)
}
