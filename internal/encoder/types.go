// Package encoder produces embeddings and transcripts for crawled
// content. A gateway dispatches on (query modality, target modality)
// pairs so each embedding space is only ever reached through an encoder
// trained for it.
package encoder

import (
	"context"
	"fmt"
	"strings"

	"github.com/omnidex-search/omnidex/internal/store"
)

// Payload is raw content handed to an encoder. Data holds the fetched
// bytes; for text content it is the UTF-8 prose itself.
type Payload struct {
	Modality store.Modality
	Data     []byte
}

// ModalityPair identifies an embedding route. Same-modality pairs encode
// content into its own space; cross-modality pairs encode a query of one
// modality into another modality's space (joint embedding models).
type ModalityPair struct {
	Query  store.Modality
	Target store.Modality
}

func (p ModalityPair) String() string {
	return string(p.Query) + ">" + string(p.Target)
}

// ContentPair returns the same-modality route for m.
func ContentPair(m store.Modality) ModalityPair {
	return ModalityPair{Query: m, Target: m}
}

// ParsePair parses a "query>target" route string.
func ParsePair(s string) (ModalityPair, error) {
	parts := strings.SplitN(s, ">", 2)
	if len(parts) != 2 {
		return ModalityPair{}, fmt.Errorf("invalid modality pair %q, want query>target", s)
	}
	query, err := store.ParseModality(strings.TrimSpace(parts[0]))
	if err != nil {
		return ModalityPair{}, err
	}
	target, err := store.ParseModality(strings.TrimSpace(parts[1]))
	if err != nil {
		return ModalityPair{}, err
	}
	return ModalityPair{Query: query, Target: target}, nil
}

// Encoder turns one payload into one vector in a fixed space.
type Encoder interface {
	// Encode embeds the payload. The returned vector has exactly
	// Dimensions() elements.
	Encode(ctx context.Context, payload Payload) ([]float32, error)

	// Dimensions is the width of this encoder's embedding space.
	Dimensions() int

	// Version identifies the model. Vectors from different versions are
	// never mixed in one index partition.
	Version() string

	Close() error
}

// Transcriber converts audio bytes to text for keyword indexing.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Close() error
}
