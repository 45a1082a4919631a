package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the query-embedding cache. At 512 dimensions
// times 4 bytes per entry that is roughly 2MB.
const DefaultCacheSize = 1000

// CachedEncoder wraps an Encoder with an LRU cache. Repeated query text
// hits the cache instead of the encoder service, which matters for
// interactive search where the same query fans out to several partitions.
type CachedEncoder struct {
	inner Encoder
	cache *lru.Cache[string, []float32]
}

// NewCachedEncoder wraps inner with a cache of the given size.
func NewCachedEncoder(inner Encoder, cacheSize int) *CachedEncoder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEncoder{inner: inner, cache: cache}
}

// cacheKey hashes payload bytes with the model version so a version
// bump never serves stale vectors.
func (c *CachedEncoder) cacheKey(payload Payload) string {
	h := sha256.New()
	h.Write([]byte(payload.Modality))
	h.Write([]byte{0})
	h.Write([]byte(c.inner.Version()))
	h.Write([]byte{0})
	h.Write(payload.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// Encode returns a cached vector if available, otherwise delegates.
// Errors are not cached: a transiently unavailable encoder should be
// retried, not remembered.
func (c *CachedEncoder) Encode(ctx context.Context, payload Payload) ([]float32, error) {
	key := c.cacheKey(payload)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Encode(ctx, payload)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Dimensions delegates to the wrapped encoder.
func (c *CachedEncoder) Dimensions() int { return c.inner.Dimensions() }

// Version delegates to the wrapped encoder.
func (c *CachedEncoder) Version() string { return c.inner.Version() }

// Close closes the wrapped encoder.
func (c *CachedEncoder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

var _ Encoder = (*CachedEncoder)(nil)
