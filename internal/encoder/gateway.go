package encoder

import (
	"context"
	"log/slog"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// Gateway routes encoding requests to the right encoder by modality
// pair. Content always encodes through its same-modality route; query
// text reaches image and audio spaces only through configured joint
// routes. Asking for an unconfigured route is a caller error, never a
// silent fallback to a mismatched space.
type Gateway struct {
	encoders    map[ModalityPair]Encoder
	transcriber Transcriber
	version     string
	backend     string
	endpoint    string
}

// NewGateway builds the dispatch table from configuration. Same-modality
// routes exist for every configured modality; cross-modality routes only
// for listed joint pairs. Query-side encoders are wrapped with the LRU
// cache since queries repeat, content does not.
func NewGateway(cfg config.EncoderConfig) (*Gateway, error) {
	encoders := make(map[ModalityPair]Encoder)

	var routes []ModalityPair
	for name := range cfg.Modalities {
		m, err := store.ParseModality(name)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "bad encoder modality", err)
		}
		routes = append(routes, ContentPair(m))
	}
	for _, raw := range cfg.JointPairs {
		pair, err := ParsePair(raw)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "bad joint pair", err)
		}
		routes = append(routes, pair)
	}

	for _, pair := range routes {
		target, ok := cfg.Modalities[string(pair.Target)]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeConfigInvalid,
				"joint pair %s targets unconfigured modality", pair)
		}

		var enc Encoder
		switch cfg.Backend {
		case "static":
			enc = NewStaticEncoder(pair, target.Dimensions, cfg.Version)
		default:
			enc = NewHTTPEncoder(HTTPEncoderConfig{
				Endpoint:   cfg.Endpoint,
				Pair:       pair,
				Dimensions: target.Dimensions,
				Version:    cfg.Version,
				Timeout:    cfg.Timeout,
			})
		}
		// Cross-modality routes serve interactive queries.
		if pair.Query != pair.Target || pair.Query == store.ModalityText {
			enc = NewCachedEncoder(enc, cfg.CacheSize)
		}
		encoders[pair] = enc
	}

	var transcriber Transcriber
	switch cfg.Backend {
	case "static":
		transcriber = NewStaticTranscriber()
	default:
		transcriber = NewHTTPTranscriber(HTTPEncoderConfig{
			Endpoint: cfg.Endpoint,
			Version:  cfg.Version,
			Timeout:  cfg.Timeout,
		})
	}

	slog.Debug("encoder gateway ready",
		slog.Int("routes", len(encoders)),
		slog.String("backend", cfg.Backend),
		slog.String("version", cfg.Version))

	return &Gateway{
		encoders:    encoders,
		transcriber: transcriber,
		version:     cfg.Version,
		backend:     cfg.Backend,
		endpoint:    cfg.Endpoint,
	}, nil
}

// Health probes the encoder service. The static backend is always
// healthy; the HTTP backend answers GET /healthz. An unhealthy service
// is not fatal to the pipeline, jobs retry until it comes up.
func (g *Gateway) Health(ctx context.Context) error {
	if g.backend == "static" {
		return nil
	}
	return probeService(ctx, g.endpoint)
}

// EncoderFor returns the encoder serving a modality route.
func (g *Gateway) EncoderFor(query, target store.Modality) (Encoder, error) {
	enc, ok := g.encoders[ModalityPair{Query: query, Target: target}]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedModalityPair,
			"no encoder for %s>%s queries", query, target)
	}
	return enc, nil
}

// EncodeContent embeds a payload into its own modality's space.
func (g *Gateway) EncodeContent(ctx context.Context, payload Payload) ([]float32, error) {
	enc, err := g.EncoderFor(payload.Modality, payload.Modality)
	if err != nil {
		return nil, err
	}
	return enc.Encode(ctx, payload)
}

// EncodeQuery embeds query text into the target modality's space.
func (g *Gateway) EncodeQuery(ctx context.Context, text string, target store.Modality) ([]float32, error) {
	enc, err := g.EncoderFor(store.ModalityText, target)
	if err != nil {
		return nil, err
	}
	return enc.Encode(ctx, Payload{Modality: store.ModalityText, Data: []byte(text)})
}

// Transcribe converts audio bytes to text.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return g.transcriber.Transcribe(ctx, audio)
}

// SupportsPair reports whether a modality route is configured.
func (g *Gateway) SupportsPair(query, target store.Modality) bool {
	_, ok := g.encoders[ModalityPair{Query: query, Target: target}]
	return ok
}

// Version is the encoder model version tag.
func (g *Gateway) Version() string { return g.version }

// Close closes every encoder and the transcriber.
func (g *Gateway) Close() error {
	var firstErr error
	for _, enc := range g.encoders {
		if err := enc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.transcriber.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
