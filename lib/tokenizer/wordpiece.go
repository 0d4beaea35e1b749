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

package tokenizer

import (
	"fmt"
	"os"

	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/decoder"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/util"
)

// wordPieceTokenizer serves BERT-family models that ship only a
// vocab.txt. BERT has no dedicated eos token; [SEP] closes every
// sequence and stands in for it.
type wordPieceTokenizer struct {
	tk *tokenizer.Tokenizer
}

var _ tokenizers.Tokenizer = (*wordPieceTokenizer)(nil)

// newWordPieceTokenizer builds a WordPiece tokenizer from a vocab.txt
// file (one token per line, the id is the line number).
func newWordPieceTokenizer(vocabPath string) (*wordPieceTokenizer, error) {
	content, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("reading vocab file: %w", err)
	}

	vocab := make(model.Vocab)
	for i, line := range splitVocabLines(string(content)) {
		if line != "" {
			vocab[line] = i
		}
	}

	opts := util.NewParams(map[string]any{
		"unk_token": "[UNK]",
	})
	wp, err := wordpiece.New(vocab, opts)
	if err != nil {
		return nil, fmt.Errorf("creating wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)

	// Clean text, lowercase, handle Chinese chars, strip accents
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	tk.WithDecoder(decoder.DefaultWordpieceDecoder())

	return &wordPieceTokenizer{tk: tk}, nil
}

// Encode returns the text as token ids. The underlying library has a
// bounds-check bug in BertNormalizer.TransformRange, so panics are
// recovered into an empty encoding.
func (t *wordPieceTokenizer) Encode(text string) (ids []int) {
	if text == "" {
		return []int{}
	}
	defer func() {
		if r := recover(); r != nil {
			ids = []int{}
		}
	}()
	enc, err := t.tk.EncodeSingle(text)
	if err != nil {
		return []int{}
	}
	return enc.Ids
}

// Decode returns the text for a sequence of token ids.
func (t *wordPieceTokenizer) Decode(ids []int) string {
	return t.tk.Decode(ids, true)
}

// SpecialTokenID resolves BERT's special tokens from the vocabulary.
func (t *wordPieceTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var name string
	switch token {
	case api.TokUnknown:
		name = "[UNK]"
	case api.TokPad:
		name = "[PAD]"
	case api.TokBeginningOfSentence:
		name = "[CLS]"
	case api.TokEndOfSentence:
		name = "[SEP]"
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	id, ok := t.tk.TokenToId(name)
	if !ok {
		return 0, fmt.Errorf("token %s not in vocabulary", name)
	}
	return id, nil
}
