// Package ingest contains the pipeline stage handlers: fetching raw
// content, deriving embeddings and transcripts, and committing items to
// the indexes. A reconciler repairs drift between the content store and
// the indexes.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/omnidex-search/omnidex/internal/errors"
)

// maxFetchBytes caps a single fetched asset. Larger assets are rejected
// rather than buffered.
const maxFetchBytes = 64 << 20

// Fetcher resolves raw content references. HTTP fetches share one rate
// limiter so crawling stays polite per process, not per worker.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher allowing ratePerSec HTTP requests per
// second with a burst of one.
func NewFetcher(ratePerSec float64, timeout time.Duration) *Fetcher {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

// Fetch resolves a raw reference to bytes. Supported schemes: http(s),
// file, and data (base64). HTTP 4xx is a permanent payload error; 5xx
// and transport failures are retryable.
func (f *Fetcher) Fetch(ctx context.Context, rawRef string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawRef, "http://"), strings.HasPrefix(rawRef, "https://"):
		return f.fetchHTTP(ctx, rawRef)
	case strings.HasPrefix(rawRef, "file://"):
		return f.fetchFile(strings.TrimPrefix(rawRef, "file://"))
	case strings.HasPrefix(rawRef, "data:"):
		return f.fetchData(rawRef)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "unsupported raw reference scheme in %q", rawRef)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "malformed fetch URL", err)
	}
	req.Header.Set("User-Agent", "omnidex-crawler/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetch %s: upstream error %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "fetch %s: rejected with %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > maxFetchBytes {
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "fetch %s: asset exceeds %d bytes", url, maxFetchBytes)
	}
	return data, nil
}

func (f *Fetcher) fetchFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeInvalidPayload, "referenced file does not exist", err)
		}
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	if len(data) > maxFetchBytes {
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "file %s exceeds %d bytes", path, maxFetchBytes)
	}
	return data, nil
}

// fetchData decodes a data URI. Only base64 payloads are supported; the
// media type prefix is ignored since modality comes from the item.
func (f *Fetcher) fetchData(uri string) ([]byte, error) {
	idx := strings.Index(uri, ",")
	if idx < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "malformed data URI")
	}
	meta, payload := uri[len("data:"):idx], uri[idx+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.Newf(errors.ErrCodeInvalidPayload, "data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "undecodable data URI", err)
	}
	return data, nil
}
