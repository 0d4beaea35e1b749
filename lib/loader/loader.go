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

// Package loader turns model artifact directories into device-resident
// handles by walking an ordered list of capability-specific loading
// strategies.
package loader

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/tokenizer"
)

// Result is a successfully loaded model. Codec is nil when the handle
// tokenizes internally (sentence encoders).
type Result struct {
	Handle   backends.Handle
	Codec    *tokenizer.Codec
	Strategy string
}

// Loader loads models through a backends.Runtime.
type Loader struct {
	runtime backends.Runtime
	logger  *zap.Logger
}

// New creates a Loader on top of a runtime.
func New(runtime backends.Runtime, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{runtime: runtime, logger: logger.Named("loader")}
}

// Load materializes modelID from modelDir onto device for the given
// capability. On failure every strategy's cause is aggregated into the
// returned *inference.ModelLoadError.
func (l *Loader) Load(ctx context.Context, modelID, modelDir string, capability inference.Capability, device backends.Device) (*Result, error) {
	switch capability {
	case inference.CapabilityEmbedding:
		return l.loadEmbedding(ctx, modelID, modelDir, device)
	case inference.CapabilityGeneration:
		return l.loadGeneration(ctx, modelID, modelDir, device)
	default:
		return nil, &inference.InvalidCapabilityError{Capability: string(capability)}
	}
}

// strategy is one attempt in a capability's fallback chain.
type strategy struct {
	name string
	load func(ctx context.Context) (*Result, error)
}

// runStrategies tries each strategy in order, collecting failures so
// the caller sees every cause when nothing works.
func (l *Loader) runStrategies(ctx context.Context, modelID string, capability inference.Capability, strategies []strategy) (*Result, error) {
	var causes []error
	for _, s := range strategies {
		start := time.Now()
		result, err := s.load(ctx)
		if err == nil {
			l.logger.Info("Model loaded",
				zap.String("model", modelID),
				zap.String("capability", string(capability)),
				zap.String("strategy", s.name),
				zap.Duration("duration", time.Since(start)))
			result.Strategy = s.name
			return result, nil
		}

		if errors.Is(err, backends.ErrUnsupportedModel) {
			l.logger.Debug("Strategy does not apply",
				zap.String("model", modelID),
				zap.String("strategy", s.name))
		} else {
			l.logger.Warn("Strategy failed",
				zap.String("model", modelID),
				zap.String("strategy", s.name),
				zap.Error(err))
		}
		causes = append(causes, &backends.StrategyError{Strategy: s.name, Err: err})
	}

	return nil, &inference.ModelLoadError{
		Model:      modelID,
		Capability: capability,
		Err:        errors.Join(causes...),
	}
}

func (l *Loader) loadEmbedding(ctx context.Context, modelID, modelDir string, device backends.Device) (*Result, error) {
	strategies := []strategy{
		{
			name: "sentence-encoder",
			load: func(ctx context.Context) (*Result, error) {
				handle, err := l.runtime.LoadSentenceEncoder(ctx, modelID, modelDir, device)
				if err != nil {
					return nil, err
				}
				return &Result{Handle: handle}, nil
			},
		},
		{
			name: "encoder",
			load: func(ctx context.Context) (*Result, error) {
				codec, err := tokenizer.Load(modelDir)
				if err != nil {
					return nil, err
				}
				handle, err := l.runtime.LoadEncoder(ctx, modelID, modelDir, device)
				if err != nil {
					return nil, err
				}
				return &Result{Handle: handle, Codec: codec}, nil
			},
		},
	}
	return l.runStrategies(ctx, modelID, inference.CapabilityEmbedding, strategies)
}

func (l *Loader) loadGeneration(ctx context.Context, modelID, modelDir string, device backends.Device) (*Result, error) {
	// The codec is shared by every generation strategy and loads first;
	// without it no strategy can decode, so its failure is terminal.
	codec, err := tokenizer.Load(modelDir)
	if err != nil {
		return nil, &inference.ModelLoadError{
			Model:      modelID,
			Capability: inference.CapabilityGeneration,
			Err:        &backends.StrategyError{Strategy: "tokenizer", Err: err},
		}
	}
	if err := codec.EnsurePadToken(); err != nil {
		l.logger.Warn("Tokenizer has no pad or eos token",
			zap.String("model", modelID),
			zap.Error(err))
	}

	precision := backends.PrecisionFull
	if device.Kind == backends.DeviceCUDA {
		precision = backends.PrecisionReduced
	}

	strategies := []strategy{
		{
			name: "causal-lm",
			load: func(ctx context.Context) (*Result, error) {
				handle, err := l.runtime.LoadCausalLM(ctx, modelID, modelDir, device, precision)
				if err != nil {
					return nil, err
				}
				return &Result{Handle: handle, Codec: codec}, nil
			},
		},
		{
			name: "seq2seq",
			load: func(ctx context.Context) (*Result, error) {
				handle, err := l.runtime.LoadSeq2Seq(ctx, modelID, modelDir, device)
				if err != nil {
					return nil, err
				}
				return &Result{Handle: handle, Codec: codec}, nil
			},
		},
		{
			name: "generic",
			load: func(ctx context.Context) (*Result, error) {
				handle, err := l.runtime.LoadGenericLM(ctx, modelID, modelDir, device)
				if err != nil {
					return nil, err
				}
				return &Result{Handle: handle, Codec: codec}, nil
			},
		},
	}
	return l.runStrategies(ctx, modelID, inference.CapabilityGeneration, strategies)
}
