package search

import (
	"sort"

	"github.com/omnidex-search/omnidex/internal/store"
)

// DefaultFusionWeight is the semantic share w used when none is
// configured. final = w*semantic + (1-w)*keyword.
const DefaultFusionWeight = 0.5

// FusedResult is one entry of the merged ranked list.
type FusedResult struct {
	// ContentKey identifies the content item.
	ContentKey string

	// Score is the fused weighted score in [0,1].
	Score float64

	// SemScore is the semantic similarity before normalization
	// (0 when the key was absent from the vector results).
	SemScore float64

	// KwScore is the keyword relevance before normalization
	// (0 when the key was absent from the keyword results).
	KwScore float64

	// SemNorm and KwNorm are the min-max normalized per-path scores
	// that entered the weighted sum.
	SemNorm float64
	KwNorm  float64

	// Source records which path(s) contributed.
	Source SourceSignal
}

// WeightedFusion merges a semantic and a keyword result list with
// per-query min-max normalization. Each list's scores are normalized
// to [0,1] independently so neither signal dominates purely through
// scale, then combined as w*sem + (1-w)*kw. A key present in only one
// list contributes 0 for the missing signal.
type WeightedFusion struct {
	// Weight is the semantic share w in [0,1].
	Weight float64
}

// NewWeightedFusion creates a fusion step with the given semantic
// weight, clamped to [0,1].
func NewWeightedFusion(weight float64) *WeightedFusion {
	if weight < 0 {
		weight = 0
	}
	if weight > 1 {
		weight = 1
	}
	return &WeightedFusion{Weight: weight}
}

// Fuse merges the two ranked lists into one ordered list.
//
// Results are sorted by:
//  1. Score (descending)
//  2. ContentKey (ascending, deterministic tie-break)
//
// Returns an empty slice, not nil, when both inputs are empty.
func (f *WeightedFusion) Fuse(sem []*store.VectorResult, kw []*store.KeywordResult) []*FusedResult {
	scores := make(map[string]*FusedResult, len(sem)+len(kw))

	for _, r := range sem {
		fr := f.getOrCreate(scores, r.ContentKey)
		fr.SemScore = float64(r.Score)
		fr.Source = SourceVector
	}
	for _, r := range kw {
		fr := f.getOrCreate(scores, r.ContentKey)
		fr.KwScore = r.Score
		if fr.Source == SourceVector {
			fr.Source = SourceBoth
		} else {
			fr.Source = SourceKeyword
		}
	}

	semMin, semMax := semRange(sem)
	kwMin, kwMax := kwRange(kw)

	for _, fr := range scores {
		if fr.Source != SourceKeyword {
			fr.SemNorm = minMax(fr.SemScore, semMin, semMax)
		}
		if fr.Source != SourceVector {
			fr.KwNorm = minMax(fr.KwScore, kwMin, kwMax)
		}
		fr.Score = f.Weight*fr.SemNorm + (1-f.Weight)*fr.KwNorm
	}

	return f.toSortedSlice(scores)
}

// getOrCreate returns the existing entry or creates a new one.
func (f *WeightedFusion) getOrCreate(m map[string]*FusedResult, key string) *FusedResult {
	if r, ok := m[key]; ok {
		return r
	}
	r := &FusedResult{ContentKey: key}
	m[key] = r
	return r
}

// toSortedSlice converts the map to a deterministically ordered slice.
func (f *WeightedFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ContentKey < results[j].ContentKey
	})
	return results
}

// minMax normalizes v into [0,1] within the observed range. A
// degenerate range (single result, or all scores equal) maps every
// member of the list to 1 so presence in a path still counts.
func minMax(v, min, max float64) float64 {
	if max <= min {
		return 1
	}
	return (v - min) / (max - min)
}

func semRange(results []*store.VectorResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min = float64(results[0].Score)
	max = min
	for _, r := range results[1:] {
		s := float64(r.Score)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

func kwRange(results []*store.KeywordResult) (min, max float64) {
	if len(results) == 0 {
		return 0, 0
	}
	min = results[0].Score
	max = min
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	return min, max
}
