package encoder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex-search/omnidex/internal/config"
	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

func newStaticGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig().Encoder
	cfg.Backend = "static"
	g, err := NewGateway(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGateway_ContentRoutes(t *testing.T) {
	g := newStaticGateway(t)
	ctx := context.Background()

	vec, err := g.EncodeContent(ctx, Payload{Modality: store.ModalityText, Data: []byte("hello world")})
	require.NoError(t, err)
	assert.Len(t, vec, config.DefaultTextDimensions)

	vec, err = g.EncodeContent(ctx, Payload{Modality: store.ModalityImage, Data: tinyPNG(t)})
	require.NoError(t, err)
	assert.Len(t, vec, config.DefaultImageDimensions)
}

func TestGateway_QueryRoutesIntoTargetSpace(t *testing.T) {
	g := newStaticGateway(t)
	ctx := context.Background()

	// Query text lands in the image partition's dimensionality, not text's.
	vec, err := g.EncodeQuery(ctx, "sunset over mountains", store.ModalityImage)
	require.NoError(t, err)
	assert.Len(t, vec, config.DefaultImageDimensions)

	vec, err = g.EncodeQuery(ctx, "podcast about go", store.ModalityAudio)
	require.NoError(t, err)
	assert.Len(t, vec, config.DefaultAudioDimensions)
}

func TestGateway_AudioQueriesIntoTextUnsupported(t *testing.T) {
	g := newStaticGateway(t)

	// Only text-anchored joint routes are configured; there is no model
	// that embeds audio queries into the text space.
	_, err := g.EncoderFor(store.ModalityAudio, store.ModalityText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedModalityPair))

	_, err = g.EncoderFor(store.ModalityImage, store.ModalityAudio)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedModalityPair))
}

func TestGateway_SupportsPair(t *testing.T) {
	g := newStaticGateway(t)

	assert.True(t, g.SupportsPair(store.ModalityText, store.ModalityText))
	assert.True(t, g.SupportsPair(store.ModalityText, store.ModalityImage))
	assert.True(t, g.SupportsPair(store.ModalityText, store.ModalityAudio))
	assert.False(t, g.SupportsPair(store.ModalityAudio, store.ModalityText))
}

func TestGateway_Deterministic(t *testing.T) {
	g := newStaticGateway(t)
	ctx := context.Background()

	a, err := g.EncodeQuery(ctx, "red bicycle", store.ModalityImage)
	require.NoError(t, err)
	b, err := g.EncodeQuery(ctx, "red bicycle", store.ModalityImage)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGateway_RejectsUnconfiguredJointPair(t *testing.T) {
	cfg := config.DefaultConfig().Encoder
	cfg.Backend = "static"
	cfg.JointPairs = []string{"text>video"}

	_, err := NewGateway(cfg)
	assert.Error(t, err)
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("text>image")
	require.NoError(t, err)
	assert.Equal(t, ModalityPair{Query: store.ModalityText, Target: store.ModalityImage}, pair)

	_, err = ParsePair("text-image")
	assert.Error(t, err)

	_, err = ParsePair("text>banana")
	assert.Error(t, err)
}

func TestGateway_Health(t *testing.T) {
	// Static backend is always healthy.
	g := newStaticGateway(t)
	require.NoError(t, g.Health(context.Background()))

	// HTTP backend answers its health endpoint.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Encoder
	cfg.Endpoint = srv.URL
	hg, err := NewGateway(cfg)
	require.NoError(t, err)
	defer func() { _ = hg.Close() }()
	assert.NoError(t, hg.Health(context.Background()))

	srv.Close()
	assert.Error(t, hg.Health(context.Background()))
}
