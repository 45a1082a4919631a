package encoder

import (
	"bytes"
	"encoding/binary"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"unicode/utf8"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

// ValidatePayload rejects undecodable content before it reaches an
// encoder. Corrupt bytes inside the decodable envelope are the encoder
// backend's problem; this guards the formats we claim to support.
func ValidatePayload(p Payload) error {
	if len(p.Data) == 0 {
		return errors.New(errors.ErrCodeInvalidPayload, "empty payload", nil).
			WithDetail("modality", string(p.Modality))
	}

	switch p.Modality {
	case store.ModalityText:
		if !utf8.Valid(p.Data) {
			return errors.New(errors.ErrCodeInvalidPayload, "text payload is not valid UTF-8", nil)
		}
		return nil
	case store.ModalityImage:
		return validateImage(p.Data)
	case store.ModalityAudio:
		return validateWAV(p.Data)
	default:
		return errors.Newf(errors.ErrCodeInvalidPayload, "unknown modality %q", p.Modality)
	}
}

func validateImage(data []byte) error {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return errors.New(errors.ErrCodeInvalidPayload, "undecodable image", err)
	}
	switch format {
	case "png", "jpeg", "gif":
		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidPayload, "unsupported image format %q", format)
	}
}

// validateWAV checks the RIFF/WAVE envelope. A full chunk walk is left
// to the transcription backend.
func validateWAV(data []byte) error {
	if len(data) < 12 {
		return errors.New(errors.ErrCodeInvalidPayload, "audio payload too short for WAV header", nil)
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return errors.New(errors.ErrCodeInvalidPayload, "audio payload is not RIFF/WAVE", nil)
	}
	declared := binary.LittleEndian.Uint32(data[4:8])
	if int(declared) > len(data) {
		return errors.New(errors.ErrCodeInvalidPayload, "WAV chunk size exceeds payload length", nil)
	}
	return nil
}
