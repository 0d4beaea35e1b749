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

package backends

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Runtime turns model artifact directories into device-resident
// handles. Each Load* method corresponds to one loading strategy; a
// runtime returns an error for strategies its artifacts do not support
// so the caller can fall through to the next one.
type Runtime interface {
	Name() string

	// LoadSentenceEncoder loads a self-tokenizing embedding pipeline.
	LoadSentenceEncoder(ctx context.Context, modelID, modelDir string, device Device) (SentenceEncoder, error)

	// LoadEncoder loads a generic transformer encoder driven by
	// externally produced token ids.
	LoadEncoder(ctx context.Context, modelID, modelDir string, device Device) (Encoder, error)

	// LoadCausalLM loads a decoder-only language model at the given
	// precision.
	LoadCausalLM(ctx context.Context, modelID, modelDir string, device Device, precision Precision) (Generator, error)

	// LoadSeq2Seq loads an encoder-decoder language model.
	LoadSeq2Seq(ctx context.Context, modelID, modelDir string, device Device) (Generator, error)

	// LoadGenericLM loads a language model whose artifacts carry no
	// architecture markers, letting the runtime pick a default path.
	LoadGenericLM(ctx context.Context, modelID, modelDir string, device Device) (Generator, error)

	// ReleaseDeviceMemory asks the runtime to return freed accelerator
	// memory to the device pool. Idempotent; a no-op on CPU.
	ReleaseDeviceMemory(device Device)

	Close() error
}

// ErrNoRuntime is returned when no runtime implementation is compiled
// into the binary.
var ErrNoRuntime = errors.New("no inference runtime available (build with -tags=onnx,ORT)")

// ErrUnsupportedModel signals that a strategy does not apply to the
// artifacts on disk, so the loader should try the next strategy.
var ErrUnsupportedModel = errors.New("model artifacts not supported by this strategy")

// RuntimeFactory creates a runtime. Implementations self-register via
// init() in build-tagged files.
type RuntimeFactory struct {
	Name      string
	Priority  int // lower wins
	Available func() bool
	New       func(logger *zap.Logger) (Runtime, error)
}

var (
	runtimeRegistry   []RuntimeFactory
	runtimeRegistryMu sync.Mutex
)

// RegisterRuntime registers a runtime factory.
func RegisterRuntime(f RuntimeFactory) {
	runtimeRegistryMu.Lock()
	defer runtimeRegistryMu.Unlock()
	runtimeRegistry = append(runtimeRegistry, f)
	sort.SliceStable(runtimeRegistry, func(i, j int) bool {
		return runtimeRegistry[i].Priority < runtimeRegistry[j].Priority
	})
}

// NewRuntime returns the highest-priority available runtime.
func NewRuntime(logger *zap.Logger) (Runtime, error) {
	runtimeRegistryMu.Lock()
	factories := make([]RuntimeFactory, len(runtimeRegistry))
	copy(factories, runtimeRegistry)
	runtimeRegistryMu.Unlock()

	for _, f := range factories {
		if f.Available != nil && !f.Available() {
			continue
		}
		rt, err := f.New(logger)
		if err != nil {
			logger.Warn("Runtime failed to initialize, trying next",
				zap.String("runtime", f.Name),
				zap.Error(err))
			continue
		}
		return rt, nil
	}
	return nil, ErrNoRuntime
}

// RegisteredRuntimes returns the names of compiled-in runtimes in
// priority order.
func RegisteredRuntimes() []string {
	runtimeRegistryMu.Lock()
	defer runtimeRegistryMu.Unlock()
	names := make([]string, 0, len(runtimeRegistry))
	for _, f := range runtimeRegistry {
		names = append(names, f.Name)
	}
	return names
}

// StrategyError records why one loading strategy failed, so the loader
// can aggregate causes across the whole fallback chain.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }
