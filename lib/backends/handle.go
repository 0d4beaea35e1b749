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

import "context"

// Precision selects the numeric precision weights are loaded at.
type Precision string

const (
	PrecisionFull    Precision = "f32"
	PrecisionReduced Precision = "f16"
)

// Handle is a model resident on a device. Close releases the weights
// and any accelerator memory; it must be idempotent.
type Handle interface {
	Model() string
	Device() Device
	Close() error
}

// SentenceEncoder is a pre-built embedding pipeline that performs its
// own tokenization and pooling internally. Vectors are returned as
// pooled; normalization is the caller's decision.
type SentenceEncoder interface {
	Handle
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Encoder is a generic transformer encoder driven by externally
// produced token ids. Forward returns the last hidden state.
type Encoder interface {
	Handle
	Forward(ctx context.Context, inputIDs []int, attentionMask []int) (*HiddenStates, error)
}

// HiddenStates holds an encoder's last hidden state for one sequence,
// indexed [position][hidden].
type HiddenStates struct {
	Values [][]float32
}

// GenerateParams are the sampling parameters for a single generation.
type GenerateParams struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	// PadTokenID is the id used for padding during decoding; callers
	// fall back to the EOS id when the tokenizer defines no pad token.
	PadTokenID int
}

// Generation is a raw completion from a Generator.
type Generation struct {
	Text string
	// NewTokens is the number of tokens the backend decoded for Text.
	// Zero when the backend cannot count them.
	NewTokens int
}

// Generator is a decoding-capable model. Generate returns only the
// newly produced completion, never the echoed prompt.
type Generator interface {
	Handle
	Generate(ctx context.Context, prompt string, p GenerateParams) (Generation, error)
}
