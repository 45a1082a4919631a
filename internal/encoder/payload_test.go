package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

func TestValidatePayload_Text(t *testing.T) {
	assert.NoError(t, ValidatePayload(Payload{Modality: store.ModalityText, Data: []byte("plain prose")}))

	err := ValidatePayload(Payload{Modality: store.ModalityText, Data: []byte{0xff, 0xfe, 0xfd}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
	assert.False(t, errors.IsRetryable(err))
}

func TestValidatePayload_Image(t *testing.T) {
	assert.NoError(t, ValidatePayload(Payload{Modality: store.ModalityImage, Data: tinyPNG(t)}))

	err := ValidatePayload(Payload{Modality: store.ModalityImage, Data: []byte("not an image")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}

func TestValidatePayload_Audio(t *testing.T) {
	assert.NoError(t, ValidatePayload(Payload{Modality: store.ModalityAudio, Data: tinyWAV(t)}))

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"wrong magic", []byte("OGGS aaaaaaaaaaaaaaa")},
		{"truncated chunk", append([]byte("RIFF\xff\xff\xff\x00WAVE"), 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(Payload{Modality: store.ModalityAudio, Data: tt.data})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
		})
	}
}

func TestValidatePayload_Empty(t *testing.T) {
	err := ValidatePayload(Payload{Modality: store.ModalityText})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}

func TestStaticEncoder_TokenOverlapScoresCloser(t *testing.T) {
	enc := NewStaticEncoder(ContentPair(store.ModalityText), 128, "")
	defer func() { _ = enc.Close() }()

	ctx := context.Background()
	base, err := enc.Encode(ctx, Payload{Modality: store.ModalityText, Data: []byte("electric car charging")})
	require.NoError(t, err)
	similar, err := enc.Encode(ctx, Payload{Modality: store.ModalityText, Data: []byte("electric car parking")})
	require.NoError(t, err)
	unrelated, err := enc.Encode(ctx, Payload{Modality: store.ModalityText, Data: []byte("sourdough bread recipes")})
	require.NoError(t, err)

	assert.Greater(t, dot(base, similar), dot(base, unrelated))
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
