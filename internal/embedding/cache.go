package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/23skdu/bert-ruber/internal/metrics"
)

// CachedProvider memoizes vectors by the SHA-256 of the sentence. Misses of
// one Encode call are forwarded to the inner provider in a single batch.
type CachedProvider struct {
	inner Provider
	store *cache.Cache
}

// NewCachedProvider wraps inner. ttl <= 0 keeps entries until Close.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	cleanup := 2 * ttl
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	return &CachedProvider{
		inner: inner,
		store: cache.New(ttl, cleanup),
	}
}

func cacheKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) Dim() int { return c.inner.Dim() }

// Len reports the number of cached sentences.
func (c *CachedProvider) Len() int { return c.store.ItemCount() }

func (c *CachedProvider) Encode(ctx context.Context, sentences []string) ([]Vector, error) {
	if len(sentences) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([]Vector, len(sentences))
	var missIdx []int
	var missText []string
	pending := make(map[string][]int)
	for i, s := range sentences {
		key := cacheKey(s)
		if v, ok := c.store.Get(key); ok {
			metrics.RecordCacheLookup(true)
			out[i] = v.(Vector)
			continue
		}
		metrics.RecordCacheLookup(false)
		if idx, dup := pending[key]; dup {
			pending[key] = append(idx, i)
			continue
		}
		pending[key] = []int{i}
		missIdx = append(missIdx, i)
		missText = append(missText, s)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Encode(ctx, missText)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(missText), c.inner.Dim()); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		key := cacheKey(sentences[i])
		c.store.Set(key, vecs[j], cache.DefaultExpiration)
		for _, k := range pending[key] {
			out[k] = vecs[j]
		}
	}
	return out, nil
}

func (c *CachedProvider) Close() error {
	c.store.Flush()
	return c.inner.Close()
}
