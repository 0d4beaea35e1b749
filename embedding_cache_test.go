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
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/embeddings"
)

func TestEmbeddingCacheHit(t *testing.T) {
	ec := NewEmbeddingCache(zap.NewNop())
	defer ec.Close()
	ctx := context.Background()

	var computes atomic.Int64
	compute := func(ctx context.Context) (*embeddings.Result, error) {
		computes.Add(1)
		return &embeddings.Result{Embeddings: [][]float32{{1, 2}}, Dimensions: 2}, nil
	}

	first, err := ec.Embed(ctx, "model-a", []string{"hello"}, true, compute)
	require.NoError(t, err)

	second, err := ec.Embed(ctx, "model-a", []string{"hello"}, true, compute)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int64(1), computes.Load())

	stats := ec.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestEmbeddingCacheKeyedByModelAndText(t *testing.T) {
	ec := NewEmbeddingCache(zap.NewNop())
	defer ec.Close()
	ctx := context.Background()

	var computes atomic.Int64
	compute := func(ctx context.Context) (*embeddings.Result, error) {
		computes.Add(1)
		return &embeddings.Result{}, nil
	}

	_, err := ec.Embed(ctx, "model-a", []string{"hello"}, true, compute)
	require.NoError(t, err)
	_, err = ec.Embed(ctx, "model-b", []string{"hello"}, true, compute)
	require.NoError(t, err)
	_, err = ec.Embed(ctx, "model-a", []string{"goodbye"}, true, compute)
	require.NoError(t, err)

	require.Equal(t, int64(3), computes.Load())
}

func TestEmbeddingCacheErrorNotCached(t *testing.T) {
	ec := NewEmbeddingCache(zap.NewNop())
	defer ec.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	calls := 0
	_, err := ec.Embed(ctx, "model-a", []string{"x"}, true, func(ctx context.Context) (*embeddings.Result, error) {
		calls++
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// a failed computation must not poison the cache
	res, err := ec.Embed(ctx, "model-a", []string{"x"}, true, func(ctx context.Context) (*embeddings.Result, error) {
		calls++
		return &embeddings.Result{Dimensions: 4}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.Dimensions)
	require.Equal(t, 2, calls)
}

func TestEmbeddingCacheKeyedByNormalize(t *testing.T) {
	ec := NewEmbeddingCache(zap.NewNop())
	defer ec.Close()
	ctx := context.Background()

	var computes atomic.Int64
	compute := func(ctx context.Context) (*embeddings.Result, error) {
		computes.Add(1)
		return &embeddings.Result{}, nil
	}

	// Raw and normalized results for the same texts are distinct entries.
	_, err := ec.Embed(ctx, "model-a", []string{"hello"}, true, compute)
	require.NoError(t, err)
	_, err = ec.Embed(ctx, "model-a", []string{"hello"}, false, compute)
	require.NoError(t, err)

	require.Equal(t, int64(2), computes.Load())
	require.NotEqual(t,
		embeddingCacheKey("model-a", []string{"hello"}, true),
		embeddingCacheKey("model-a", []string{"hello"}, false))
}

func TestEmbeddingCacheKeyDistinguishesBoundaries(t *testing.T) {
	// ["ab", "c"] and ["a", "bc"] must hash differently
	require.NotEqual(t,
		embeddingCacheKey("m", []string{"ab", "c"}, true),
		embeddingCacheKey("m", []string{"a", "bc"}, true))
}
