package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/omnidex-search/omnidex/internal/errors"
	"github.com/omnidex-search/omnidex/internal/store"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	httpPoolSize       = 4
)

// HTTPEncoder calls an external encoder service over HTTP. The service
// hosts the actual models (CLIP, CLAP, sentence transformers) and
// exposes one /embed endpoint routed by modality pair.
type HTTPEncoder struct {
	client    *http.Client
	transport *http.Transport
	endpoint  string
	pair      ModalityPair
	dims      int
	version   string
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
}

// HTTPEncoderConfig configures one route to the encoder service.
type HTTPEncoderConfig struct {
	Endpoint   string
	Pair       ModalityPair
	Dimensions int
	Version    string
	Timeout    time.Duration
}

type embedRequest struct {
	Pair    string `json:"pair"`
	Version string `json:"version"`
	Text    string `json:"text,omitempty"`
	Data    string `json:"data,omitempty"` // base64 for binary payloads
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewHTTPEncoder creates an encoder backed by the remote service.
// It does not probe the service; availability is discovered per call so
// the pipeline can start while the service is still warming up.
func NewHTTPEncoder(cfg HTTPEncoderConfig) *HTTPEncoder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        httpPoolSize,
		MaxIdleConnsPerHost: httpPoolSize,
		MaxConnsPerHost:     httpPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: per-request contexts control deadlines.
	return &HTTPEncoder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		endpoint:  cfg.Endpoint,
		pair:      cfg.Pair,
		dims:      cfg.Dimensions,
		version:   cfg.Version,
		timeout:   cfg.Timeout,
	}
}

// Encode sends the payload to the service and returns its embedding.
// Connection failures and 5xx responses map to the retryable
// unavailable error; 4xx responses mean the payload itself is bad.
func (e *HTTPEncoder) Encode(ctx context.Context, payload Payload) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("encoder is closed")
	}
	e.mu.RUnlock()

	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	req := embedRequest{Pair: e.pair.String(), Version: e.version}
	if payload.Modality == store.ModalityText {
		req.Text = string(payload.Data)
	} else {
		req.Data = base64.StdEncoding.EncodeToString(payload.Data)
	}

	var resp embedResponse
	if err := e.post(ctx, e.endpoint+"/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) != e.dims {
		return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
			"encoder service returned %d dimensions, want %d", len(resp.Embedding), e.dims)
	}
	return resp.Embedding, nil
}

func (e *HTTPEncoder) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return errors.New(errors.ErrCodeEncoderUnavailable, "encoder service unreachable", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return errors.New(errors.ErrCodeEncoderUnavailable, "read encoder response", err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		return errors.Newf(errors.ErrCodeEncoderUnavailable,
			"encoder service error %d: %s", httpResp.StatusCode, truncate(respBody, 200))
	case httpResp.StatusCode >= 400:
		return errors.Newf(errors.ErrCodeInvalidPayload,
			"encoder rejected payload with %d: %s", httpResp.StatusCode, truncate(respBody, 200))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.New(errors.ErrCodeEncoderUnavailable, "decode encoder response", err)
	}
	return nil
}

// Dimensions returns the embedding width for this route.
func (e *HTTPEncoder) Dimensions() int { return e.dims }

// Version returns the model identifier for this route.
func (e *HTTPEncoder) Version() string { return e.version }

// Close drains idle connections.
func (e *HTTPEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

var _ Encoder = (*HTTPEncoder)(nil)

// HTTPTranscriber calls the encoder service's /transcribe endpoint.
type HTTPTranscriber struct {
	inner *HTTPEncoder
}

type transcribeRequest struct {
	Version string `json:"version"`
	Data    string `json:"data"`
}

type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewHTTPTranscriber creates a transcriber backed by the same service.
func NewHTTPTranscriber(cfg HTTPEncoderConfig) *HTTPTranscriber {
	return &HTTPTranscriber{inner: NewHTTPEncoder(cfg)}
}

// Transcribe converts audio to text via the service.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := ValidatePayload(Payload{Modality: store.ModalityAudio, Data: audio}); err != nil {
		return "", err
	}

	req := transcribeRequest{
		Version: t.inner.version,
		Data:    base64.StdEncoding.EncodeToString(audio),
	}
	var resp transcribeResponse
	if err := t.inner.post(ctx, t.inner.endpoint+"/transcribe", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (t *HTTPTranscriber) Close() error { return t.inner.Close() }

var _ Transcriber = (*HTTPTranscriber)(nil)

// probeService checks the encoder service's health endpoint.
func probeService(ctx context.Context, endpoint string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.New(errors.ErrCodeEncoderUnavailable, "encoder service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrCodeEncoderUnavailable,
			"encoder service health returned %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
