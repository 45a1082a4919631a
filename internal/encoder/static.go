package encoder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/omnidex-search/omnidex/internal/store"
)

// StaticEncoder generates deterministic hash-based embeddings. It needs
// no network and no model download, which makes it the fallback backend
// and the workhorse for tests. Semantic quality is limited to exact
// token overlap.
type StaticEncoder struct {
	pair    ModalityPair
	dims    int
	version string

	mu     sync.RWMutex
	closed bool
}

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEncoder creates a static encoder for one modality route.
func NewStaticEncoder(pair ModalityPair, dims int, version string) *StaticEncoder {
	if version == "" {
		version = "static-v1"
	}
	return &StaticEncoder{pair: pair, dims: dims, version: version}
}

// Encode hashes the payload into the route's embedding space. Text is
// tokenized so shared words land in shared buckets; binary payloads are
// hashed in fixed windows. The result is unit-normalized.
func (e *StaticEncoder) Encode(ctx context.Context, payload Payload) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("encoder is closed")
	}
	e.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	var vector []float32
	if payload.Modality == store.ModalityText {
		vector = e.textVector(string(payload.Data))
	} else {
		vector = e.binaryVector(payload.Data)
	}
	normalizeStatic(vector)
	return vector, nil
}

func (e *StaticEncoder) textVector(text string) []float32 {
	vector := make([]float32, e.dims)

	tokens := staticTokenRegex.FindAllString(strings.ToLower(text), -1)
	for _, token := range tokens {
		vector[hashToIndex(token, e.dims)] += staticTokenWeight

		// Character n-grams give partial matches some overlap.
		runes := []rune(token)
		for i := 0; i+staticNgramSize <= len(runes); i++ {
			ngram := string(runes[i : i+staticNgramSize])
			vector[hashToIndex(ngram, e.dims)] += staticNgramWeight
		}
	}
	return vector
}

func (e *StaticEncoder) binaryVector(data []byte) []float32 {
	vector := make([]float32, e.dims)

	const window = 64
	for offset := 0; offset < len(data); offset += window {
		end := offset + window
		if end > len(data) {
			end = len(data)
		}
		h := fnv.New64a()
		_, _ = h.Write(data[offset:end])
		vector[int(h.Sum64()%uint64(e.dims))] += 1.0
	}
	return vector
}

// Dimensions returns the embedding width.
func (e *StaticEncoder) Dimensions() int { return e.dims }

// Version returns the model identifier.
func (e *StaticEncoder) Version() string { return e.version }

// Close marks the encoder unusable.
func (e *StaticEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Encoder = (*StaticEncoder)(nil)

// StaticTranscriber produces a placeholder transcript so the keyword
// path stays exercisable without a speech model.
type StaticTranscriber struct{}

// NewStaticTranscriber creates a transcriber that emits no text.
func NewStaticTranscriber() *StaticTranscriber { return &StaticTranscriber{} }

// Transcribe validates the audio envelope and returns an empty
// transcript. Audio indexed through this backend is only discoverable
// by alt text or semantic search.
func (t *StaticTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidatePayload(Payload{Modality: store.ModalityAudio, Data: audio}); err != nil {
		return "", err
	}
	return "", nil
}

func (t *StaticTranscriber) Close() error { return nil }

var _ Transcriber = (*StaticTranscriber)(nil)

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

func normalizeStatic(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
