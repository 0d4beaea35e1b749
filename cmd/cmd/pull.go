// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"

	"github.com/antflydb/hornet/pkg/hornet/lib/cli"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <model-name> [model-name...]",
	Short: "Pull ONNX model(s) from the HuggingFace hub",
	Long: `Download one or more ONNX models into the local model store.

Models land under <models-dir>/<owner>/<name>. Only inference artifacts
are downloaded: the ONNX graph for the requested variant, tokenizer
files, and model configuration.

Variants:
  f32     - FP32 baseline (default, highest accuracy)
  f16     - FP16 half precision (~50% smaller)
  i8      - INT8 quantization (smallest, fastest CPU)
  i4      - INT4 quantization

Examples:
  # Pull the default FP32 variant
  hornet pull BAAI/bge-small-en-v1.5

  # Pull the FP16 variant
  hornet pull BAAI/bge-small-en-v1.5:f16

  # The hf: prefix is accepted and ignored
  hornet pull hf:onnx-community/gemma-3-270m-it-ONNX

  # Pull to a custom directory
  hornet pull --models-dir /opt/antfly/models BAAI/bge-small-en-v1.5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	// Pull command flags
	pullCmd.Flags().String("hf-token", "",
		"HuggingFace API token for gated models (or use HF_TOKEN env var)")
}

func runPull(cmd *cobra.Command, args []string) error {
	hfToken, _ := cmd.Flags().GetString("hf-token")

	for _, modelRef := range args {
		fmt.Printf("\n=== Pulling %s ===\n", modelRef)

		if err := cli.PullModel(modelRef, cli.PullOptions{
			ModelsDir: modelsDir,
			HFToken:   hfToken,
		}); err != nil {
			return fmt.Errorf("failed to pull %s: %w", modelRef, err)
		}
	}

	return nil
}
