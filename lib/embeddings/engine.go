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

// Package embeddings computes text embeddings from a resident
// embedding model.
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/tokenizer"
)

// MaxInputTokens caps each text on the generic encoder path.
const MaxInputTokens = 512

// Usage accounts for the tokens an embedding request consumed. For
// sentence encoders the count is a whitespace-word estimate; for
// generic encoders it is the exact encoded count.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Request describes a single embedding call.
type Request struct {
	Texts []string
	// Normalize scales each vector to unit L2 length. Off, vectors are
	// returned exactly as pooled.
	Normalize bool
}

// Result holds one embedding per input text, in input order.
type Result struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	Usage      Usage       `json:"usage"`
}

// Engine routes embedding requests to whichever handle variety is
// resident.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an embedding engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("embeddings")}
}

// Embed returns one vector per text. Sentence-encoder handles embed the
// whole batch in one call; generic encoder handles run text by text
// through encode and mean-pool. Both paths L2-normalize only when the
// request asks for it.
func (e *Engine) Embed(ctx context.Context, handle backends.Handle, codec *tokenizer.Codec, req Request) (*Result, error) {
	if len(req.Texts) == 0 {
		return &Result{Embeddings: [][]float32{}}, nil
	}

	switch h := handle.(type) {
	case backends.SentenceEncoder:
		return e.embedWithSentenceEncoder(ctx, h, req)
	case backends.Encoder:
		return e.embedWithEncoder(ctx, h, codec, req)
	default:
		return nil, &inference.InferenceError{
			Model: handle.Model(),
			Op:    "embed",
			Err:   fmt.Errorf("resident model does not support embeddings"),
		}
	}
}

func (e *Engine) embedWithSentenceEncoder(ctx context.Context, enc backends.SentenceEncoder, req Request) (*Result, error) {
	vectors, err := enc.EncodeBatch(ctx, req.Texts)
	if err != nil {
		return nil, &inference.InferenceError{Model: enc.Model(), Op: "embed", Err: err}
	}
	if len(vectors) != len(req.Texts) {
		return nil, &inference.InferenceError{
			Model: enc.Model(),
			Op:    "embed",
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(req.Texts), len(vectors)),
		}
	}
	if req.Normalize {
		for i := range vectors {
			vectors[i] = backends.NormalizeL2(vectors[i])
		}
	}

	// The pipeline tokenizes internally, so usage is estimated from
	// whitespace-split word counts.
	var estimated int
	for _, text := range req.Texts {
		estimated += len(strings.Fields(text))
	}

	return &Result{
		Embeddings: vectors,
		Dimensions: dimensionsOf(vectors),
		Usage:      Usage{PromptTokens: estimated, TotalTokens: estimated},
	}, nil
}

func (e *Engine) embedWithEncoder(ctx context.Context, enc backends.Encoder, codec *tokenizer.Codec, req Request) (*Result, error) {
	if codec == nil {
		return nil, &inference.InferenceError{
			Model: enc.Model(),
			Op:    "embed",
			Err:   fmt.Errorf("resident model has no tokenizer"),
		}
	}

	vectors := make([][]float32, len(req.Texts))
	var totalTokens int
	for i, text := range req.Texts {
		ids := codec.EncodeTruncated(text, MaxInputTokens)
		totalTokens += len(ids)

		mask := make([]int, len(ids))
		for j := range mask {
			mask[j] = 1
		}

		hidden, err := enc.Forward(ctx, ids, mask)
		if err != nil {
			return nil, &inference.InferenceError{Model: enc.Model(), Op: "embed", Err: err}
		}

		pooled := backends.MeanPool(hidden, mask)
		if req.Normalize {
			pooled = backends.NormalizeL2(pooled)
		}
		vectors[i] = pooled
	}

	return &Result{
		Embeddings: vectors,
		Dimensions: dimensionsOf(vectors),
		Usage:      Usage{PromptTokens: totalTokens, TotalTokens: totalTokens},
	}, nil
}

func dimensionsOf(vectors [][]float32) int {
	for _, v := range vectors {
		if len(v) > 0 {
			return len(v)
		}
	}
	return 0
}
