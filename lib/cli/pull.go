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

// Package cli provides shared CLI functions for hornet model
// management.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/antflydb/hornet/pkg/hornet/lib/modelregistry"
)

// PullOptions contains options for pulling models from the
// HuggingFace hub.
type PullOptions struct {
	ModelsDir string
	HFToken   string
}

// ListOptions contains options for listing models.
type ListOptions struct {
	ModelsDir  string
	BinaryName string // Used for help messages (e.g., "hornet")
}

// PullModel downloads a model's inference artifacts into the local
// store. modelRef takes the usual forms: "owner/name",
// "hf:owner/name", or "owner/name:f16".
func PullModel(modelRef string, opts PullOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ref, err := modelregistry.ParseModelRef(modelRef)
	if err != nil {
		return err
	}

	hfToken := opts.HFToken
	if hfToken == "" {
		hfToken = os.Getenv("HF_TOKEN")
	}

	store := modelregistry.NewStore(opts.ModelsDir,
		modelregistry.WithHFClient(modelregistry.NewHuggingFaceClient(
			modelregistry.WithHFToken(hfToken),
			modelregistry.WithHFProgressHandler(PrintProgress),
		)))

	fmt.Printf("Pulling %s", ref.FullName())
	if ref.Variant != "" {
		fmt.Printf(" (variant %s)", ref.Variant)
	}
	fmt.Println()

	destDir, err := store.Ensure(ctx, modelRef)
	if err != nil {
		return err
	}

	fmt.Printf("\n✓ Model pulled successfully to %s\n", destDir)
	return nil
}

// ListLocalModels lists locally installed models.
func ListLocalModels(opts ListOptions) error {
	fmt.Printf("Local models in %s:\n\n", opts.ModelsDir)

	store := modelregistry.NewStore(opts.ModelsDir)
	models, err := store.List()
	if err != nil {
		return err
	}

	if len(models) == 0 {
		binaryName := opts.BinaryName
		if binaryName == "" {
			binaryName = "hornet"
		}
		fmt.Println("No models found locally.")
		fmt.Printf("\nUse '%s pull <model-name>' to download models.\n", binaryName)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tVARIANTS")
	for _, m := range models {
		variantsStr := ""
		if len(m.Variants) > 0 {
			variantsStr = strings.Join(m.Variants, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, FormatBytes(m.Size), variantsStr)
	}
	return w.Flush()
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// PrintProgress prints download progress to stdout
func PrintProgress(downloaded, total int64, filename string) {
	if total <= 0 {
		fmt.Printf("\r  %s: %s", filename, FormatBytes(downloaded))
		return
	}

	percent := float64(downloaded) / float64(total) * 100
	barWidth := 30
	filled := int(float64(barWidth) * float64(downloaded) / float64(total))

	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
	fmt.Printf("\r  %s: [%s] %.1f%% (%s/%s)",
		filename, bar, percent, FormatBytes(downloaded), FormatBytes(total))

	if downloaded >= total {
		fmt.Println()
	}
}
