package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeywordIndex(t *testing.T) *FTSKeywordIndex {
	t.Helper()
	idx, err := NewFTSKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestFTSKeywordIndex_BasicMatch(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "p1", KeywordFields{Modality: ModalityText, Body: "electric cars and charging stations"}))
	require.NoError(t, idx.Upsert(ctx, "p2", KeywordFields{Modality: ModalityText, Body: "gardening tips for spring"}))

	results, err := idx.Query(ctx, "electric cars", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].ContentKey)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, ModalityText, results[0].Modality)
}

func TestFTSKeywordIndex_MatchesAltTextAndTranscript(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	// Images surface through alt text, audio through transcripts.
	require.NoError(t, idx.Upsert(ctx, "img1", KeywordFields{Modality: ModalityImage, AltText: "a golden retriever puppy"}))
	require.NoError(t, idx.Upsert(ctx, "aud1", KeywordFields{Modality: ModalityAudio, Transcript: "today we discuss retriever training"}))

	results, err := idx.Query(ctx, "retriever", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	keys := []string{results[0].ContentKey, results[1].ContentKey}
	assert.Contains(t, keys, "img1")
	assert.Contains(t, keys, "aud1")
}

func TestFTSKeywordIndex_NoSubstringMatch(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	// "love" must not match a document containing only "glove".
	require.NoError(t, idx.Upsert(ctx, "d1", KeywordFields{Modality: ModalityText, Body: "winter glove catalog"}))
	require.NoError(t, idx.Upsert(ctx, "d2", KeywordFields{Modality: ModalityText, Body: "love poems collected"}))

	results, err := idx.Query(ctx, "love", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].ContentKey)
}

func TestFTSKeywordIndex_EmptyAndStopWordQuery(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "d1", KeywordFields{Modality: ModalityText, Body: "some content"}))

	results, err := idx.Query(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// A query of only stop words cannot match anything.
	results, err = idx.Query(ctx, "the and of", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFTSKeywordIndex_UpsertReplaces(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "d1", KeywordFields{Modality: ModalityText, Body: "original topic alpha"}))
	require.NoError(t, idx.Upsert(ctx, "d1", KeywordFields{Modality: ModalityText, Body: "replacement topic beta"}))

	results, err := idx.Query(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Query(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ContentKey)
}

func TestFTSKeywordIndex_Delete(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "d1", KeywordFields{Modality: ModalityText, Body: "deletable content"}))
	require.NoError(t, idx.Delete(ctx, []string{"d1"}))

	ok, err := idx.Contains(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	results, err := idx.Query(ctx, "deletable", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFTSKeywordIndex_DeterministicTieOrder(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	// Identical documents score identically; order falls back to key.
	require.NoError(t, idx.Upsert(ctx, "b", KeywordFields{Modality: ModalityText, Body: "identical words here"}))
	require.NoError(t, idx.Upsert(ctx, "a", KeywordFields{Modality: ModalityText, Body: "identical words here"}))

	results, err := idx.Query(ctx, "identical", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ContentKey)
	assert.Equal(t, "b", results[1].ContentKey)
}

func TestFTSKeywordIndex_AllKeys(t *testing.T) {
	idx := newTestKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "k2", KeywordFields{Modality: ModalityText, Body: "x"}))
	require.NoError(t, idx.Upsert(ctx, "k1", KeywordFields{Modality: ModalityImage, AltText: "y"}))

	keys, err := idx.AllKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)
}

func TestTokenizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lowercases", "Hello World", []string{"hello", "world"}},
		{"strips punctuation", "cars, trucks; bikes!", []string{"cars", "trucks", "bikes"}},
		{"drops single chars", "a b see", []string{"see"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeText(tt.input))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap(DefaultStopWords)
	got := FilterStopWords([]string{"the", "quick", "brown", "fox", "and", "dog"}, stop)
	assert.Equal(t, []string{"quick", "brown", "fox", "dog"}, got)
}
