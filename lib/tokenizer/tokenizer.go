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

// Package tokenizer loads the text codec that ships alongside model
// weights and exposes encode/decode plus the special-token ids the
// inference engines need.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// Codec wraps a model's tokenizer with the operations inference needs:
// encoding with truncation, decoding generated ids, and resolving the
// pad/eos special tokens.
type Codec struct {
	tok tokenizers.Tokenizer

	padID  int
	hasPad bool
	eosID  int
	hasEOS bool
}

// Load reads the tokenizer artifacts from modelDir. It auto-detects the
// format: tokenizer.json (HuggingFace Tokenizers), tokenizer.model
// (SentencePiece), or vocab.txt (BERT WordPiece).
func Load(modelDir string) (*Codec, error) {
	tok, err := loadTokenizer(modelDir)
	if err != nil {
		return nil, err
	}
	return NewCodec(tok), nil
}

// NewCodec builds a Codec over an already-loaded tokenizer, resolving
// its special-token ids up front.
func NewCodec(tok tokenizers.Tokenizer) *Codec {
	c := &Codec{tok: tok}
	if id, err := tok.SpecialTokenID(api.TokPad); err == nil && id >= 0 {
		c.padID, c.hasPad = id, true
	}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil && id >= 0 {
		c.eosID, c.hasEOS = id, true
	}
	return c
}

// Encode returns the text as token ids.
func (c *Codec) Encode(text string) []int {
	return c.tok.Encode(text)
}

// EncodeTruncated encodes text and keeps only the first maxTokens ids.
// A maxTokens of zero or less disables truncation.
func (c *Codec) EncodeTruncated(text string, maxTokens int) []int {
	ids := c.tok.Encode(text)
	if maxTokens > 0 && len(ids) > maxTokens {
		ids = ids[:maxTokens]
	}
	return ids
}

// Decode returns the text for a sequence of token ids.
func (c *Codec) Decode(ids []int) string {
	return c.tok.Decode(ids)
}

// CountTokens returns how many tokens the text encodes to.
func (c *Codec) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.tok.Encode(text))
}

// PadID returns the pad token id, if the tokenizer defines one.
func (c *Codec) PadID() (int, bool) { return c.padID, c.hasPad }

// EOSID returns the end-of-sequence token id, if defined.
func (c *Codec) EOSID() (int, bool) { return c.eosID, c.hasEOS }

// EnsurePadToken makes sure the codec has a usable pad id, aliasing it
// to the eos id when the tokenizer defines none. Idempotent: a codec
// that already has a pad id is left untouched.
func (c *Codec) EnsurePadToken() error {
	if c.hasPad {
		return nil
	}
	if !c.hasEOS {
		return fmt.Errorf("tokenizer defines neither pad nor eos token")
	}
	c.padID = c.eosID
	c.hasPad = true
	return nil
}

// loadTokenizer detects the tokenizer format on disk and loads it.
func loadTokenizer(modelDir string) (tokenizers.Tokenizer, error) {
	// tokenizer_config.json carries class information and special
	// token names when present.
	var config *api.Config
	configPath := filepath.Join(modelDir, "tokenizer_config.json")
	if _, err := os.Stat(configPath); err == nil {
		normalizedContent, err := normalizeTokenizerConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("normalizing tokenizer config: %w", err)
		}
		config, err = api.ParseConfigContent(normalizedContent)
		if err != nil {
			return nil, fmt.Errorf("parsing tokenizer config: %w", err)
		}
		config.ConfigFile = configPath
	}

	// tokenizer.json: HuggingFace Tokenizers format (BPE, WordPiece, ...)
	tokenizerJSONPath := filepath.Join(modelDir, "tokenizer.json")
	if _, err := os.Stat(tokenizerJSONPath); err == nil {
		tok, err := hftokenizer.NewFromFile(config, tokenizerJSONPath)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer.json: %w", err)
		}
		return tok, nil
	}

	// tokenizer.model: SentencePiece format
	spModelPath := filepath.Join(modelDir, "tokenizer.model")
	if _, err := os.Stat(spModelPath); err == nil {
		proc, err := esentencepiece.NewProcessorFromPath(spModelPath)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer.model: %w", err)
		}
		return &sentencepieceTokenizer{
			Processor: proc,
			Info:      proc.ModelInfo(),
		}, nil
	}

	// vocab.txt: bare BERT WordPiece vocabulary
	vocabPath := filepath.Join(modelDir, "vocab.txt")
	if _, err := os.Stat(vocabPath); err == nil {
		return newWordPieceTokenizer(vocabPath)
	}

	return nil, fmt.Errorf("no tokenizer found in %s (expected tokenizer.json, tokenizer.model, or vocab.txt)", modelDir)
}

// sentencepieceTokenizer wraps esentencepiece.Processor to implement
// tokenizers.Tokenizer.
type sentencepieceTokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

var _ tokenizers.Tokenizer = (*sentencepieceTokenizer)(nil)

func (t *sentencepieceTokenizer) Encode(text string) []int {
	tokens := t.Processor.Encode(text)
	result := make([]int, len(tokens))
	for i, tok := range tokens {
		result[i] = tok.ID
	}
	return result
}

func (t *sentencepieceTokenizer) Decode(ids []int) string {
	return t.Processor.Decode(ids)
}

func (t *sentencepieceTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return t.Info.UnknownID, nil
	case api.TokPad:
		return t.Info.PadID, nil
	case api.TokBeginningOfSentence:
		return t.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return t.Info.EndOfSentenceID, nil
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}

// normalizeTokenizerConfig reads tokenizer_config.json and normalizes
// HuggingFace AddedToken objects to plain strings. Some models use
// {"__type": "AddedToken", "content": "<s>"} instead of plain strings
// for special tokens.
func normalizeTokenizerConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	tokenFields := []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	}
	for _, field := range tokenFields {
		if val, ok := raw[field]; ok {
			raw[field] = extractTokenContent(val)
		}
	}

	return json.Marshal(raw)
}

// extractTokenContent extracts the token string from either a plain
// string or a HuggingFace AddedToken object.
func extractTokenContent(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if content, ok := val["content"].(string); ok {
			return content
		}
	}
	return ""
}

// splitVocabLines parses a vocab.txt file: one token per line, the id
// is the line number.
func splitVocabLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}
