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

package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
)

type fakeHandle struct {
	model  string
	device backends.Device
}

func (h *fakeHandle) Model() string           { return h.model }
func (h *fakeHandle) Device() backends.Device { return h.device }
func (h *fakeHandle) Close() error            { return nil }

type fakeSentenceEncoder struct{ fakeHandle }

func (e *fakeSentenceEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

type fakeEncoder struct{ fakeHandle }

func (e *fakeEncoder) Forward(ctx context.Context, inputIDs, attentionMask []int) (*backends.HiddenStates, error) {
	return &backends.HiddenStates{}, nil
}

type fakeGenerator struct{ fakeHandle }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, p backends.GenerateParams) (backends.Generation, error) {
	return backends.Generation{}, nil
}

// fakeRuntime lets each test script the outcome of every strategy.
// Unset loaders report ErrUnsupportedModel so the chain falls through.
type fakeRuntime struct {
	sentenceEncoder func() (backends.SentenceEncoder, error)
	encoder         func() (backends.Encoder, error)
	causalLM        func(precision backends.Precision) (backends.Generator, error)
	seq2seq         func() (backends.Generator, error)
	genericLM       func() (backends.Generator, error)
}

func (r *fakeRuntime) Name() string { return "fake" }

func (r *fakeRuntime) LoadSentenceEncoder(ctx context.Context, modelID, modelDir string, device backends.Device) (backends.SentenceEncoder, error) {
	if r.sentenceEncoder == nil {
		return nil, backends.ErrUnsupportedModel
	}
	return r.sentenceEncoder()
}

func (r *fakeRuntime) LoadEncoder(ctx context.Context, modelID, modelDir string, device backends.Device) (backends.Encoder, error) {
	if r.encoder == nil {
		return nil, backends.ErrUnsupportedModel
	}
	return r.encoder()
}

func (r *fakeRuntime) LoadCausalLM(ctx context.Context, modelID, modelDir string, device backends.Device, precision backends.Precision) (backends.Generator, error) {
	if r.causalLM == nil {
		return nil, backends.ErrUnsupportedModel
	}
	return r.causalLM(precision)
}

func (r *fakeRuntime) LoadSeq2Seq(ctx context.Context, modelID, modelDir string, device backends.Device) (backends.Generator, error) {
	if r.seq2seq == nil {
		return nil, backends.ErrUnsupportedModel
	}
	return r.seq2seq()
}

func (r *fakeRuntime) LoadGenericLM(ctx context.Context, modelID, modelDir string, device backends.Device) (backends.Generator, error) {
	if r.genericLM == nil {
		return nil, backends.ErrUnsupportedModel
	}
	return r.genericLM()
}

func (r *fakeRuntime) ReleaseDeviceMemory(device backends.Device) {}
func (r *fakeRuntime) Close() error                               { return nil }

// writeVocabDir creates a model directory holding a minimal vocab.txt
// so the tokenizer codec can load.
func writeVocabDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	vocab := strings.Join([]string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello", "world"}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(vocab), 0o644))
	return dir
}

func TestLoadEmbeddingSentenceEncoderFirst(t *testing.T) {
	rt := &fakeRuntime{
		sentenceEncoder: func() (backends.SentenceEncoder, error) {
			return &fakeSentenceEncoder{fakeHandle{model: "m"}}, nil
		},
	}
	l := New(rt, zap.NewNop())

	result, err := l.Load(context.Background(), "m", t.TempDir(), inference.CapabilityEmbedding, backends.CPUDevice)
	require.NoError(t, err)
	require.Equal(t, "sentence-encoder", result.Strategy)
	require.Nil(t, result.Codec)
}

func TestLoadEmbeddingFallsBackToEncoder(t *testing.T) {
	rt := &fakeRuntime{
		encoder: func() (backends.Encoder, error) {
			return &fakeEncoder{fakeHandle{model: "m"}}, nil
		},
	}
	l := New(rt, zap.NewNop())

	result, err := l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityEmbedding, backends.CPUDevice)
	require.NoError(t, err)
	require.Equal(t, "encoder", result.Strategy)
	require.NotNil(t, result.Codec)
}

func TestLoadEmbeddingAggregatesAllCauses(t *testing.T) {
	boom := errors.New("weights corrupt")
	rt := &fakeRuntime{
		encoder: func() (backends.Encoder, error) { return nil, boom },
	}
	l := New(rt, zap.NewNop())

	_, err := l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityEmbedding, backends.CPUDevice)
	require.Error(t, err)
	require.True(t, inference.IsModelLoad(err))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "sentence-encoder")
	require.Contains(t, err.Error(), "encoder")
}

func TestLoadInvalidCapability(t *testing.T) {
	l := New(&fakeRuntime{}, zap.NewNop())

	_, err := l.Load(context.Background(), "m", t.TempDir(), inference.Capability("reranking"), backends.CPUDevice)
	require.Error(t, err)
	require.True(t, inference.IsInvalidCapability(err))
}

func TestLoadGenerationRequiresTokenizer(t *testing.T) {
	rt := &fakeRuntime{
		causalLM: func(p backends.Precision) (backends.Generator, error) {
			t.Fatal("strategy must not run without a tokenizer")
			return nil, nil
		},
	}
	l := New(rt, zap.NewNop())

	_, err := l.Load(context.Background(), "m", t.TempDir(), inference.CapabilityGeneration, backends.CPUDevice)
	require.Error(t, err)
	require.True(t, inference.IsModelLoad(err))
	require.Contains(t, err.Error(), "tokenizer")
}

func TestLoadGenerationFallsThroughToSeq2Seq(t *testing.T) {
	rt := &fakeRuntime{
		seq2seq: func() (backends.Generator, error) {
			return &fakeGenerator{fakeHandle{model: "m"}}, nil
		},
	}
	l := New(rt, zap.NewNop())

	result, err := l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityGeneration, backends.CPUDevice)
	require.NoError(t, err)
	require.Equal(t, "seq2seq", result.Strategy)
	require.NotNil(t, result.Codec)

	// the codec always comes back with a usable pad id
	_, ok := result.Codec.PadID()
	require.True(t, ok)
}

func TestLoadGenerationGenericLast(t *testing.T) {
	var order []string
	rt := &fakeRuntime{
		causalLM: func(p backends.Precision) (backends.Generator, error) {
			order = append(order, "causal-lm")
			return nil, backends.ErrUnsupportedModel
		},
		seq2seq: func() (backends.Generator, error) {
			order = append(order, "seq2seq")
			return nil, backends.ErrUnsupportedModel
		},
		genericLM: func() (backends.Generator, error) {
			order = append(order, "generic")
			return &fakeGenerator{fakeHandle{model: "m"}}, nil
		},
	}
	l := New(rt, zap.NewNop())

	result, err := l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityGeneration, backends.CPUDevice)
	require.NoError(t, err)
	require.Equal(t, "generic", result.Strategy)
	require.Equal(t, []string{"causal-lm", "seq2seq", "generic"}, order)
}

func TestLoadGenerationPrecisionPerDevice(t *testing.T) {
	var got backends.Precision
	rt := &fakeRuntime{
		causalLM: func(p backends.Precision) (backends.Generator, error) {
			got = p
			return &fakeGenerator{fakeHandle{model: "m"}}, nil
		},
	}
	l := New(rt, zap.NewNop())

	cuda := backends.Device{Kind: backends.DeviceCUDA, Index: 0}
	_, err := l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityGeneration, cuda)
	require.NoError(t, err)
	require.Equal(t, backends.PrecisionReduced, got)

	_, err = l.Load(context.Background(), "m", writeVocabDir(t), inference.CapabilityGeneration, backends.CPUDevice)
	require.NoError(t, err)
	require.Equal(t, backends.PrecisionFull, got)
}
