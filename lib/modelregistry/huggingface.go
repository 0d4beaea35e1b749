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

package modelregistry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
)

// ProgressHandler is called to report download progress.
type ProgressHandler func(downloaded, total int64, filename string)

// HuggingFaceClient pulls model artifacts from the HuggingFace hub.
type HuggingFaceClient struct {
	token           string
	progressHandler ProgressHandler
}

// HFClientOption configures the HuggingFace client.
type HFClientOption func(*HuggingFaceClient)

// NewHuggingFaceClient creates a new HuggingFace client.
func NewHuggingFaceClient(opts ...HFClientOption) *HuggingFaceClient {
	c := &HuggingFaceClient{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHFToken sets the HuggingFace API token for gated models.
func WithHFToken(token string) HFClientOption {
	return func(c *HuggingFaceClient) { c.token = token }
}

// WithHFProgressHandler sets the progress handler for downloads.
func WithHFProgressHandler(h ProgressHandler) HFClientOption {
	return func(c *HuggingFaceClient) { c.progressHandler = h }
}

// Pull downloads a model's inference artifacts from a HuggingFace repo
// into destDir (the model's own directory, created if needed). The repo
// layout decides what is fetched: onnxruntime-genai repos pull a
// generator variant, everything else pulls the ONNX graph matching the
// requested precision variant plus the tokenizer files.
//
// A model_manifest.json is generated next to the files.
func (c *HuggingFaceClient) Pull(ctx context.Context, repoID, destDir, variant string) error {
	ref, err := ParseModelRef(repoID)
	if err != nil {
		return fmt.Errorf("parsing repo ID: %w", err)
	}

	repo := hub.New(ref.FullName())
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}

	var files []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
		files = append(files, fileName)
	}

	var toDownload []string
	if isGeneratorRepo(files) {
		toDownload = selectGeneratorFiles(files, variant)
	} else {
		toDownload = selectONNXFiles(files, variant)
	}
	if len(toDownload) == 0 {
		return fmt.Errorf("no model files found in %s", repoID)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	for _, fileName := range toDownload {
		if err := ctx.Err(); err != nil {
			return err
		}

		localPath, err := repo.DownloadFile(fileName)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", fileName, err)
		}

		// Flatten paths like "onnx/model.onnx" -> "model.onnx"
		destName := filepath.Base(fileName)
		destPath := filepath.Join(destDir, destName)

		if c.progressHandler != nil {
			c.progressHandler(0, 0, destName)
		}

		if err := copyFile(localPath, destPath); err != nil {
			return fmt.Errorf("copying %s: %w", fileName, err)
		}

		if c.progressHandler != nil {
			if info, err := os.Stat(destPath); err == nil {
				c.progressHandler(info.Size(), info.Size(), destName)
			}
		}
	}

	manifest, err := GenerateManifestFromDir(destDir, ref.Owner, ref.Name, ref.FullName())
	if err != nil {
		return fmt.Errorf("generating manifest: %w", err)
	}
	manifest.Provenance = &ModelProvenance{
		DownloadedFrom: "huggingface",
		DownloadedAt:   time.Now(),
	}
	return manifest.SaveTo(filepath.Join(destDir, ManifestFilename))
}

// ListRepoFiles returns all files in a HuggingFace repo.
func (c *HuggingFaceClient) ListRepoFiles(ctx context.Context, repoID string) ([]string, error) {
	repo := hub.New(repoID)
	if c.token != "" {
		repo = repo.WithAuth(c.token)
	}

	var files []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		files = append(files, fileName)
	}
	return files, nil
}

// DetectAvailableVariants returns which precision variants a repo ships.
func (c *HuggingFaceClient) DetectAvailableVariants(ctx context.Context, repoID string) ([]string, error) {
	files, err := c.ListRepoFiles(ctx, repoID)
	if err != nil {
		return nil, err
	}

	var variants []string
	for variant, pattern := range VariantFilenames {
		for _, f := range files {
			if filepath.Base(f) == pattern {
				variants = append(variants, variant)
				break
			}
		}
	}
	slices.Sort(variants)
	return variants, nil
}

// isGeneratorRepo reports whether a repo follows the onnxruntime-genai
// layout (one or more directories with a genai_config.json).
func isGeneratorRepo(files []string) bool {
	for _, f := range files {
		if filepath.Base(f) == "genai_config.json" {
			return true
		}
	}
	return false
}

// selectGeneratorFiles selects files needed for onnxruntime-genai
// models: genai_config.json, the ONNX graphs, and tokenizer files. When
// variant is empty the smallest cpu variant directory is auto-selected.
func selectGeneratorFiles(files []string, variant string) []string {
	if variant == "" || VariantFilenames[variant] != "" {
		// Precision variant ids don't name genai subdirectories;
		// fall back to auto-selection.
		variant = findSmallestGeneratorVariant(files)
	}

	includeExact := map[string]bool{
		"genai_config.json":       true,
		"tokenizer.json":          true,
		"tokenizer.model":         true,
		"tokenizer_config.json":   true,
		"config.json":             true,
		"special_tokens_map.json": true,
		"added_tokens.json":       true,
		"generation_config.json":  true,
	}

	includeSuffixes := []string{
		".onnx",
		".onnx.data", // external data files
		".onnx_data",
		".txt", // vocab.txt, merges.txt
		".spm",
		".jinja", // chat_template.jinja
	}

	var result []string
	for _, f := range files {
		if variant != "" && !strings.HasPrefix(f, variant+"/") && f != variant {
			continue
		}

		base := filepath.Base(f)
		if includeExact[base] {
			result = append(result, f)
			continue
		}
		for _, suffix := range includeSuffixes {
			if strings.HasSuffix(base, suffix) {
				result = append(result, f)
				break
			}
		}
	}
	return result
}

// findSmallestGeneratorVariant picks the cheapest genai variant
// directory: cpu-int4 first, then any cpu variant, then anything with
// a genai_config.json, smaller parameter counts winning ties.
func findSmallestGeneratorVariant(files []string) string {
	variantDirs := make(map[string]bool)
	for _, f := range files {
		if filepath.Base(f) == "genai_config.json" {
			dir := filepath.Dir(f)
			if dir != "." {
				variantDirs[dir] = true
			}
		}
	}
	if len(variantDirs) == 0 {
		return ""
	}

	var cpuInt4Variants, cpuVariants, allVariants []string
	for dir := range variantDirs {
		allVariants = append(allVariants, dir)
		lowerDir := strings.ToLower(dir)
		if strings.Contains(lowerDir, "cpu") {
			cpuVariants = append(cpuVariants, dir)
			if strings.Contains(lowerDir, "int4") {
				cpuInt4Variants = append(cpuInt4Variants, dir)
			}
		}
	}

	sortByModelSize := func(variants []string) {
		slices.SortFunc(variants, func(a, b string) int {
			sizeA := extractModelSize(a)
			sizeB := extractModelSize(b)
			if sizeA != sizeB {
				return sizeA - sizeB
			}
			return strings.Compare(a, b)
		})
	}
	sortByModelSize(cpuInt4Variants)
	sortByModelSize(cpuVariants)
	sortByModelSize(allVariants)

	if len(cpuInt4Variants) > 0 {
		return cpuInt4Variants[0]
	}
	if len(cpuVariants) > 0 {
		return cpuVariants[0]
	}
	return allVariants[0]
}

// extractModelSize extracts the parameter count from a path like
// "gemma-3-4b-it/...". Unsized paths sort last.
func extractModelSize(path string) int {
	lowerPath := strings.ToLower(path)

	sizePatterns := []struct {
		pattern string
		size    int
	}{
		{"-1b", 1}, {"-2b", 2}, {"-3b", 3}, {"-4b", 4},
		{"-7b", 7}, {"-8b", 8}, {"-12b", 12}, {"-13b", 13},
		{"-27b", 27}, {"-70b", 70},
		{"1b-", 1}, {"2b-", 2}, {"3b-", 3}, {"4b-", 4},
		{"7b-", 7}, {"8b-", 8}, {"12b-", 12}, {"13b-", 13},
		{"27b-", 27}, {"70b-", 70},
	}
	for _, sp := range sizePatterns {
		if strings.Contains(lowerPath, sp.pattern) {
			return sp.size
		}
	}
	return 999
}

// selectONNXFiles returns the tokenizer files plus the ONNX graph
// matching the requested precision variant.
func selectONNXFiles(files []string, variant string) []string {
	var result []string

	// Tokenizer and config files come from anywhere in the repo.
	tokenizerFiles := []string{
		"tokenizer.json", "tokenizer.model", "tokenizer_config.json",
		"config.json", "special_tokens_map.json", "vocab.txt",
		"modules.json", "sentence_bert_config.json",
	}
	for _, tf := range tokenizerFiles {
		for _, f := range files {
			if filepath.Base(f) == tf {
				result = append(result, f)
				break
			}
		}
	}

	onnxName, ok := VariantFilenames[variant]
	if !ok || variant == "" {
		onnxName = VariantFilenames[VariantF32]
	}
	onnxBase := strings.TrimSuffix(onnxName, ".onnx")

	for _, f := range files {
		base := filepath.Base(f)
		if base == onnxBase+".onnx" || base == onnxBase+".onnx_data" {
			result = append(result, f)
		}
	}
	return result
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("copying: %w", err)
	}

	return dstFile.Close()
}
