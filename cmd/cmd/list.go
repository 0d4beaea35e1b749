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
	"github.com/antflydb/hornet/pkg/hornet/lib/cli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally installed ONNX models",
	Long: `List ONNX models present in the local model store.

Examples:
  # List local models
  hornet list

  # List models in a custom directory
  hornet list --models-dir /opt/antfly/models`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return cli.ListLocalModels(cli.ListOptions{
		ModelsDir:  modelsDir,
		BinaryName: "hornet",
	})
}
