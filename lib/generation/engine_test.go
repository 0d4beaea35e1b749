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

package generation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/tokenizer"
)

// wordTokenizer maps each whitespace-separated word to one id and
// decodes ids back to placeholder words, which keeps counts exact.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i := range fields {
		ids[i] = i
	}
	return ids
}

func (wordTokenizer) Decode(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "w" + strconv.Itoa(id)
	}
	return strings.Join(parts, " ")
}

func (wordTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokEndOfSentence:
		return 2, nil
	}
	return 0, fmt.Errorf("no such token")
}

type stubGenerator struct {
	model      string
	completion string
	newTokens  int
	err        error

	gotPrompt string
	gotParams backends.GenerateParams
}

func (g *stubGenerator) Model() string           { return g.model }
func (g *stubGenerator) Device() backends.Device { return backends.CPUDevice }
func (g *stubGenerator) Close() error            { return nil }

func (g *stubGenerator) Generate(ctx context.Context, prompt string, p backends.GenerateParams) (backends.Generation, error) {
	g.gotPrompt = prompt
	g.gotParams = p
	return backends.Generation{Text: g.completion, NewTokens: g.newTokens}, g.err
}

type stubHandle struct{ model string }

func (h *stubHandle) Model() string           { return h.model }
func (h *stubHandle) Device() backends.Device { return backends.CPUDevice }
func (h *stubHandle) Close() error            { return nil }

func TestRenderPrompt(t *testing.T) {
	prompt := RenderPrompt([]Message{
		{Role: "system", Content: "You are terse."},
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi"},
		{Role: "user", Content: "Bye"},
	})

	expected := "System: You are terse.\n\n" +
		"User: Hello\n\n" +
		"Assistant: Hi\n\n" +
		"User: Bye\n\n" +
		"Assistant:"
	require.Equal(t, expected, prompt)
}

func TestRenderPromptUnknownRole(t *testing.T) {
	prompt := RenderPrompt([]Message{{Role: "tool", Content: "x"}})
	require.True(t, strings.HasPrefix(prompt, "User: x"))
	require.True(t, strings.HasSuffix(prompt, "Assistant:"))
}

func TestGenerateTokenAccounting(t *testing.T) {
	gen := &stubGenerator{model: "m", completion: "  four words come back  "}
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	result, err := e.Generate(context.Background(), gen, codec, Request{
		Messages: []Message{{Role: "user", Content: "count my tokens"}},
	})
	require.NoError(t, err)

	require.Equal(t, "four words come back", result.Content)
	require.Equal(t, "stop", result.FinishReason)

	// prompt is "User: count my tokens\n\nAssistant:" = 5 words
	require.Equal(t, 5, result.Usage.InputTokens)
	require.Equal(t, 4, result.Usage.OutputTokens)
	require.Equal(t, result.Usage.InputTokens+result.Usage.OutputTokens, result.Usage.TotalTokens)
}

func TestGenerateBackendTokenCountWins(t *testing.T) {
	// The backend decoded 7 tokens; re-encoding the text would count 4.
	gen := &stubGenerator{model: "m", completion: "four words come back", newTokens: 7}
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	result, err := e.Generate(context.Background(), gen, codec, Request{
		Messages: []Message{{Role: "user", Content: "count my tokens"}},
	})
	require.NoError(t, err)
	require.Equal(t, 7, result.Usage.OutputTokens)
	require.Equal(t, result.Usage.InputTokens+7, result.Usage.TotalTokens)
}

func TestGenerateDefaultsAndPadFallback(t *testing.T) {
	gen := &stubGenerator{model: "m", completion: "ok"}
	codec := tokenizer.NewCodec(wordTokenizer{})
	// wordTokenizer has no pad token; EnsurePadToken aliases it to eos
	require.NoError(t, codec.EnsurePadToken())
	e := NewEngine(zap.NewNop())

	_, err := e.Generate(context.Background(), gen, codec, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	require.Equal(t, DefaultMaxTokens, gen.gotParams.MaxNewTokens)
	require.InDelta(t, DefaultTemperature, gen.gotParams.Temperature, 1e-6)
	require.InDelta(t, DefaultTopP, gen.gotParams.TopP, 1e-6)
	require.Equal(t, 2, gen.gotParams.PadTokenID)
}

func TestGenerateExplicitSampling(t *testing.T) {
	gen := &stubGenerator{model: "m", completion: "ok"}
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	_, err := e.Generate(context.Background(), gen, codec, Request{
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   32,
		Temperature: 0.2,
		TopP:        0.5,
	})
	require.NoError(t, err)
	require.Equal(t, 32, gen.gotParams.MaxNewTokens)
	require.InDelta(t, 0.2, gen.gotParams.Temperature, 1e-6)
	require.InDelta(t, 0.5, gen.gotParams.TopP, 1e-6)
}

func TestGeneratePromptTruncation(t *testing.T) {
	gen := &stubGenerator{model: "m", completion: "ok"}
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	long := strings.Repeat("word ", MaxPromptTokens+100)
	result, err := e.Generate(context.Background(), gen, codec, Request{
		Messages: []Message{{Role: "user", Content: long}},
	})
	require.NoError(t, err)

	require.Equal(t, MaxPromptTokens, result.Usage.InputTokens)
	require.Len(t, strings.Fields(gen.gotPrompt), MaxPromptTokens)
}

func TestGenerateNonGeneratorHandle(t *testing.T) {
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	_, err := e.Generate(context.Background(), &stubHandle{model: "m"}, codec, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	require.True(t, inference.IsInference(err))
}

func TestGenerateBackendErrorWrapped(t *testing.T) {
	boom := errors.New("decoder exploded")
	gen := &stubGenerator{model: "m", err: boom}
	codec := tokenizer.NewCodec(wordTokenizer{})
	e := NewEngine(zap.NewNop())

	_, err := e.Generate(context.Background(), gen, codec, Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	require.True(t, inference.IsInference(err))
	require.ErrorIs(t, err, boom)
}
