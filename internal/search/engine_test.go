package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/internal/encoder"
	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// fakeEncoder returns canned vectors keyed by payload bytes so tests
// can place queries anywhere in the embedding space.
type fakeEncoder struct {
	dims    int
	vectors map[string][]float32
	err     error
}

func (f *fakeEncoder) Encode(_ context.Context, p encoder.Payload) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[string(p.Data)]; ok {
		return v, nil
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEncoder) Dimensions() int { return f.dims }
func (f *fakeEncoder) Version() string { return "fake-v1" }
func (f *fakeEncoder) Close() error    { return nil }

// fakeRouter serves encoders for an explicit set of modality pairs,
// rejecting everything else the way the gateway does.
type fakeRouter struct {
	routes map[encoder.ModalityPair]encoder.Encoder
}

func (f *fakeRouter) EncoderFor(query, target store.Modality) (encoder.Encoder, error) {
	if enc, ok := f.routes[encoder.ModalityPair{Query: query, Target: target}]; ok {
		return enc, nil
	}
	return nil, errors.Newf(errors.ErrCodeUnsupportedModalityPair,
		"no encoder for %s>%s queries", query, target)
}

type engineHarness struct {
	engine   *Engine
	items    *store.ContentStore
	vectors  *store.PartitionedVectorStore
	keywords *store.FTSKeywordIndex
	encoder  *fakeEncoder
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	items, err := store.NewContentStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = items.Close() })

	vectors, err := store.NewPartitionedVectorStore(map[store.Modality]store.PartitionConfig{
		store.ModalityText:  {Dimensions: 4, Metric: "cos"},
		store.ModalityImage: {Dimensions: 4, Metric: "cos"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	keywords, err := store.NewFTSKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keywords.Close() })

	enc := &fakeEncoder{dims: 4, vectors: map[string][]float32{}}
	router := &fakeRouter{routes: map[encoder.ModalityPair]encoder.Encoder{
		{Query: store.ModalityText, Target: store.ModalityText}:  enc,
		{Query: store.ModalityText, Target: store.ModalityImage}: enc,
	}}

	cfg := config.DefaultConfig().Search
	cfg.QueryTimeout = 5 * time.Second

	eng, err := NewEngine(vectors, keywords, router, items, cfg, nil)
	require.NoError(t, err)

	return &engineHarness{engine: eng, items: items, vectors: vectors, keywords: keywords, encoder: enc}
}

// addIndexedItem registers an item in indexed status with a text
// vector and keyword fields, as a completed commit stage would.
func (h *engineHarness) addIndexedItem(t *testing.T, key string, modality store.Modality, vec []float32, fields store.KeywordFields) {
	t.Helper()
	ctx := context.Background()

	_, err := h.items.Discover(ctx, &store.ContentItem{
		Key:      key,
		Modality: modality,
		RawRef:   "data:text/plain;base64,aGk=",
	})
	require.NoError(t, err)

	if vec != nil {
		require.NoError(t, h.vectors.Upsert(ctx, key, modality, vec))
	}
	require.NoError(t, h.keywords.Upsert(ctx, key, fields))
	require.NoError(t, h.items.MarkIndexed(ctx, key))
}

func TestEngine_SemanticRanking(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	// "car" embeds next to the stored "automobile" vector and far
	// from "banana".
	h.encoder.vectors["car"] = []float32{1, 0, 0, 0}
	h.addIndexedItem(t, "automobile", store.ModalityText, []float32{0.98, 0.2, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "a fine automobile"})
	h.addIndexedItem(t, "banana", store.ModalityText, []float32{0, 0, 1, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "a ripe banana"})

	w := 1.0
	results, err := h.engine.Search(ctx, Request{
		Mode:           ModeSemantic,
		TargetModality: store.ModalityText,
		Text:           "car",
		K:              10,
		Weight:         &w,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "automobile", results[0].ContentKey)
	assert.Equal(t, SourceVector, results[0].Source)
	if len(results) > 1 {
		assert.Equal(t, "banana", results[1].ContentKey)
		assert.Greater(t, results[0].Score, results[1].Score)
	}
}

func TestEngine_KeywordReachesEveryModality(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.addIndexedItem(t, "story-1", store.ModalityText, []float32{1, 0, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "a love story"})
	h.addIndexedItem(t, "img-1", store.ModalityImage, []float32{0, 1, 0, 0},
		store.KeywordFields{Modality: store.ModalityImage, AltText: "red hat girl"})

	results, err := h.engine.Search(ctx, Request{Mode: ModeKeyword, Text: "love"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "story-1", results[0].ContentKey)
	assert.Equal(t, store.ModalityText, results[0].Modality)
	assert.Greater(t, results[0].Score, 0.0)

	results, err = h.engine.Search(ctx, Request{Mode: ModeKeyword, Text: "hat"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "img-1", results[0].ContentKey)
	assert.Equal(t, store.ModalityImage, results[0].Modality)
	assert.Equal(t, SourceKeyword, results[0].Source)
}

func TestEngine_HybridFusesBothPaths(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.encoder.vectors["ocean sunset"] = []float32{1, 0, 0, 0}
	h.addIndexedItem(t, "both", store.ModalityText, []float32{0.95, 0.1, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "ocean sunset photography"})
	h.addIndexedItem(t, "kw-only", store.ModalityText, nil,
		store.KeywordFields{Modality: store.ModalityText, Body: "sunset recipes"})

	results, err := h.engine.Search(ctx, Request{
		Mode:           ModeHybrid,
		TargetModality: store.ModalityText,
		Text:           "ocean sunset",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The item carrying both signals outranks the keyword-only one.
	assert.Equal(t, "both", results[0].ContentKey)
	assert.Equal(t, SourceBoth, results[0].Source)
	for _, r := range results[1:] {
		if r.ContentKey == "kw-only" {
			assert.Equal(t, SourceKeyword, r.Source)
			assert.Less(t, r.Score, results[0].Score)
		}
	}
}

func TestEngine_UnsupportedModalityPair(t *testing.T) {
	h := newEngineHarness(t)

	// No audio>text joint encoder is configured: the query is
	// rejected, never answered with an empty success.
	_, err := h.engine.Search(context.Background(), Request{
		Mode:           ModeSemantic,
		QueryModality:  store.ModalityAudio,
		TargetModality: store.ModalityText,
		Payload:        []byte("RIFF fake"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedModalityPair, errors.GetCode(err))
}

func TestEngine_FailedItemsInvisible(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.addIndexedItem(t, "good", store.ModalityText, []float32{1, 0, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "shared term good"})
	h.addIndexedItem(t, "bad", store.ModalityText, []float32{0.9, 0.1, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "shared term bad"})

	// The item later fails permanently; stale index entries must not
	// leak it into results.
	require.NoError(t, h.items.SetItemStatus(ctx, "bad", store.StatusFailed))

	results, err := h.engine.Search(ctx, Request{Mode: ModeKeyword, Text: "shared"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].ContentKey)
}

func TestEngine_PendingItemsInvisible(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.addIndexedItem(t, "visible", store.ModalityText, []float32{1, 0, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "topic alpha"})

	// Discovered but not yet committed: indexed fields exist for the
	// keyword path but the item is still pending.
	_, err := h.items.Discover(ctx, &store.ContentItem{
		Key:      "in-flight",
		Modality: store.ModalityText,
		RawRef:   "data:text/plain;base64,aGk=",
	})
	require.NoError(t, err)
	require.NoError(t, h.keywords.Upsert(ctx, "in-flight",
		store.KeywordFields{Modality: store.ModalityText, Body: "topic alpha draft"}))

	results, err := h.engine.Search(ctx, Request{Mode: ModeKeyword, Text: "topic"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "visible", results[0].ContentKey)
}

func TestEngine_EmptyResultIsNotAnError(t *testing.T) {
	h := newEngineHarness(t)

	results, err := h.engine.Search(context.Background(), Request{Mode: ModeKeyword, Text: "nothing indexed"})
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestEngine_RejectsBlankQuery(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.Search(context.Background(), Request{Mode: ModeKeyword, Text: "   "})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetCode(err))
}

func TestEngine_RejectsUnknownMode(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.Search(context.Background(), Request{Mode: "fuzzy", Text: "anything"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidQuery, errors.GetCode(err))
}

func TestEngine_SemanticPathFailureFailsHybrid(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.addIndexedItem(t, "doc", store.ModalityText, []float32{1, 0, 0, 0},
		store.KeywordFields{Modality: store.ModalityText, Body: "resilient content"})
	h.encoder.err = errors.ErrEncoderUnavailable

	// Without degraded fallback the sub-path failure surfaces.
	_, err := h.engine.Search(ctx, Request{Mode: ModeHybrid, Text: "resilient"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEncoderUnavailable, errors.GetCode(err))

	// With it, keyword results still come back.
	results, err := h.engine.Search(ctx, Request{
		Mode:          ModeHybrid,
		Text:          "resilient",
		AllowDegraded: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].ContentKey)
}

func TestEngine_CrossModalTextToImage(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	h.encoder.vectors["red bicycle"] = []float32{0, 0, 1, 0}
	h.addIndexedItem(t, "photo-1", store.ModalityImage, []float32{0, 0.1, 0.97, 0},
		store.KeywordFields{Modality: store.ModalityImage, AltText: "a red bicycle"})
	h.addIndexedItem(t, "photo-2", store.ModalityImage, []float32{1, 0, 0, 0},
		store.KeywordFields{Modality: store.ModalityImage, AltText: "mountain road"})

	results, err := h.engine.Search(ctx, Request{
		Mode:           ModeSemantic,
		QueryModality:  store.ModalityText,
		TargetModality: store.ModalityImage,
		Text:           "red bicycle",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "photo-1", results[0].ContentKey)
	assert.Equal(t, store.ModalityImage, results[0].Modality)
}

func TestEngine_LimitApplies(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		h.addIndexedItem(t, key, store.ModalityText, nil,
			store.KeywordFields{Modality: store.ModalityText, Body: "common token " + key})
	}

	results, err := h.engine.Search(ctx, Request{Mode: ModeKeyword, Text: "common", K: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}
