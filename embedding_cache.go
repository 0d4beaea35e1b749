// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hornet

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/hornet/pkg/hornet/lib/embeddings"
)

// EmbeddingCacheTTL is the default TTL for cached embedding results.
const EmbeddingCacheTTL = 2 * time.Minute

// EmbeddingCache memoizes embedding results keyed by model, input
// texts, and normalization setting. Concurrent identical requests are
// collapsed into one computation via singleflight.
type EmbeddingCache struct {
	cache   *ttlcache.Cache[string, *embeddings.Result]
	sfGroup singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// EmbeddingCacheStats holds the cache's counters.
type EmbeddingCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Items            int    `json:"items"`
}

// NewEmbeddingCache creates an embedding cache with the default TTL.
func NewEmbeddingCache(logger *zap.Logger) *EmbeddingCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *embeddings.Result](EmbeddingCacheTTL),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	ec := &EmbeddingCache{
		cache:  cache,
		logger: logger.Named("embedding_cache"),
		cancel: cancel,
	}
	go ec.logStats(ctx)

	return ec
}

// Embed returns the cached result for (model, texts, normalize) or
// runs compute once and caches its result.
func (ec *EmbeddingCache) Embed(ctx context.Context, model string, texts []string, normalize bool, compute func(context.Context) (*embeddings.Result, error)) (*embeddings.Result, error) {
	key := embeddingCacheKey(model, texts, normalize)

	if item := ec.cache.Get(key); item != nil {
		ec.hits.Add(1)
		RecordCacheHit("embedding")
		ec.logger.Debug("Embedding cache hit",
			zap.String("model", model),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	result, err, shared := ec.sfGroup.Do(key, func() (any, error) {
		ec.misses.Add(1)
		RecordCacheMiss("embedding")

		start := time.Now()
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		ec.cache.Set(key, res, ttlcache.DefaultTTL)

		ec.logger.Debug("Embeddings generated and cached",
			zap.String("model", model),
			zap.Int("num_embeddings", len(res.Embeddings)),
			zap.Duration("duration", time.Since(start)))
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		ec.sfHits.Add(1)
		ec.logger.Debug("Singleflight hit for embedding request",
			zap.String("model", model))
	}
	return result.(*embeddings.Result), nil
}

// Close stops the cache's background goroutines.
func (ec *EmbeddingCache) Close() {
	ec.cancel()
	ec.cache.Stop()
}

// Stats returns the cache's counters.
func (ec *EmbeddingCache) Stats() EmbeddingCacheStats {
	return EmbeddingCacheStats{
		Hits:             ec.hits.Load(),
		Misses:           ec.misses.Load(),
		SingleflightHits: ec.sfHits.Load(),
		Items:            ec.cache.Len(),
	}
}

// logStats logs cache statistics periodically.
func (ec *EmbeddingCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hits, misses := ec.hits.Load(), ec.misses.Load()
			total := hits + misses
			if total == 0 {
				continue
			}
			ec.logger.Info("Embedding cache stats",
				zap.Uint64("hits", hits),
				zap.Uint64("misses", misses),
				zap.Float64("hit_rate_pct", float64(hits)/float64(total)*100),
				zap.Int("items", ec.cache.Len()))
		}
	}
}

// embeddingCacheKey hashes model, texts, and the normalization setting
// into a fixed-size key.
func embeddingCacheKey(model string, texts []string, normalize bool) string {
	h := xxhash.New()
	_, _ = h.WriteString(model)
	if normalize {
		_, _ = h.WriteString("|n|")
	} else {
		_, _ = h.WriteString("|r|")
	}
	for _, text := range texts {
		_, _ = h.WriteString(text)
		_, _ = h.WriteString("||")
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}
