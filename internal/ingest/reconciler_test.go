package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex-search/omnidex/internal/store"
)

func (p *pipeline) newReconciler() *Reconciler {
	return NewReconciler(p.store, p.vectors, p.keywords, p.queue, nil)
}

func TestReconciler_CleanStateHasNoDrift(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.runChain(t, ctx, &store.ContentItem{Key: "k1", Modality: store.ModalityText, RawRef: dataRef([]byte("some text"))})

	result, err := p.newReconciler().Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Empty(t, result.Drifts)
}

func TestReconciler_DetectsMissingIndexEntries(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.runChain(t, ctx, &store.ContentItem{Key: "k1", Modality: store.ModalityText, RawRef: dataRef([]byte("drifting text"))})

	// Simulate an index lost out from under an indexed item.
	require.NoError(t, p.vectors.Delete(ctx, store.ModalityText, []string{"k1"}))
	require.NoError(t, p.keywords.Delete(ctx, []string{"k1"}))

	rec := p.newReconciler()
	result, err := rec.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Drifts, 2)

	types := map[DriftType]bool{}
	for _, d := range result.Drifts {
		types[d.Type] = true
	}
	assert.True(t, types[DriftMissingVector])
	assert.True(t, types[DriftMissingKeyword])

	// Repair sends the item back through the pipeline.
	require.NoError(t, rec.Repair(ctx, result))
	item, err := p.store.GetItem(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, item.Status)

	jobs, err := p.store.JobsByKey(ctx, "k1")
	require.NoError(t, err)
	var hasFetch bool
	for _, job := range jobs {
		if job.Kind == store.JobFetch && job.State == store.JobQueued {
			hasFetch = true
		}
	}
	assert.True(t, hasFetch)
}

func TestReconciler_RemovesOrphans(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Index entries with no indexed item behind them.
	vec := make([]float32, 384)
	vec[0] = 1
	require.NoError(t, p.vectors.Upsert(ctx, "ghost", store.ModalityText, vec))
	require.NoError(t, p.keywords.Upsert(ctx, "ghost", store.KeywordFields{Modality: store.ModalityText, Body: "ghost entry"}))

	rec := p.newReconciler()
	result, err := rec.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Drifts, 2)

	require.NoError(t, rec.Repair(ctx, result))
	assert.False(t, p.vectors.Contains(store.ModalityText, "ghost"))
	ok, err := p.keywords.Contains(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconciler_FailedItemsAreNotExpectedInIndexes(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.store.Discover(ctx, &store.ContentItem{Key: "bad", Modality: store.ModalityText, RawRef: "data:bad"})
	require.NoError(t, err)
	require.NoError(t, p.store.SetItemStatus(ctx, "bad", store.StatusFailed))

	result, err := p.newReconciler().Check(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Checked)
	assert.Empty(t, result.Drifts)
}
