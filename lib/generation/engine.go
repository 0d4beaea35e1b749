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

// Package generation runs chat completions against a resident
// generation model.
package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/tokenizer"
)

const (
	// MaxPromptTokens caps the encoded prompt length.
	MaxPromptTokens = 2048

	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single generation call. Zero-valued sampling
// fields take the defaults.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// Usage accounts for the tokens a request consumed.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is a finished generation.
type Result struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Engine renders prompts and drives a Generator handle.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a generation engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("generation")}
}

// Generate renders the conversation into a prompt, truncates it to
// MaxPromptTokens, and returns the model's completion with token
// accounting. The handle must be a backends.Generator loaded for the
// generation capability.
func (e *Engine) Generate(ctx context.Context, handle backends.Handle, codec *tokenizer.Codec, req Request) (*Result, error) {
	gen, ok := handle.(backends.Generator)
	if !ok {
		return nil, &inference.InferenceError{
			Model: handle.Model(),
			Op:    "generate",
			Err:   fmt.Errorf("resident model does not support text generation"),
		}
	}
	if codec == nil {
		return nil, &inference.InferenceError{
			Model: handle.Model(),
			Op:    "generate",
			Err:   fmt.Errorf("resident model has no tokenizer"),
		}
	}

	prompt := RenderPrompt(req.Messages)

	inputIDs := codec.Encode(prompt)
	if len(inputIDs) > MaxPromptTokens {
		inputIDs = inputIDs[:MaxPromptTokens]
		prompt = codec.Decode(inputIDs)
		e.logger.Debug("Prompt truncated",
			zap.String("model", handle.Model()),
			zap.Int("max_tokens", MaxPromptTokens))
	}
	inputTokens := len(inputIDs)

	params := backends.GenerateParams{
		MaxNewTokens: req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
	}
	if params.MaxNewTokens <= 0 {
		params.MaxNewTokens = DefaultMaxTokens
	}
	if params.Temperature <= 0 {
		params.Temperature = DefaultTemperature
	}
	if params.TopP <= 0 {
		params.TopP = DefaultTopP
	}
	if pad, ok := codec.PadID(); ok {
		params.PadTokenID = pad
	} else if eos, ok := codec.EOSID(); ok {
		params.PadTokenID = eos
	}

	completion, err := gen.Generate(ctx, prompt, params)
	if err != nil {
		return nil, &inference.InferenceError{
			Model: handle.Model(),
			Op:    "generate",
			Err:   err,
		}
	}

	content := strings.TrimSpace(completion.Text)
	// Prefer the backend's own decode count; re-encoding the text is
	// only an approximation of the ids actually generated.
	outputTokens := completion.NewTokens
	if outputTokens <= 0 {
		outputTokens = codec.CountTokens(content)
	}

	return &Result{
		Content:      content,
		FinishReason: "stop",
		Usage: Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

// RenderPrompt flattens a conversation into labelled lines joined by
// blank lines, ending with an "Assistant:" cue for the model to
// complete.
func RenderPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func roleLabel(role string) string {
	switch strings.ToLower(role) {
	case "system":
		return "System"
	case "assistant":
		return "Assistant"
	default:
		return "User"
	}
}
