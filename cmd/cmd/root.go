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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set by main from goreleaser ldflags.
var Version = "dev"

var modelsDir string

var rootCmd = &cobra.Command{
	Use:   "hornet",
	Short: "Hornet ML inference gateway",
	Long: `Hornet serves text generation and embedding requests from ONNX
models, pulling them from the HuggingFace hub on demand and keeping a
bounded set resident in memory.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".hornet", "models")
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&modelsDir, "models-dir", defaultModelsDir(), "directory holding local model artifacts")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-style", "json", "log style (json, console)")

	mustBindPFlag("models_dir", pf.Lookup("models-dir"))
	mustBindPFlag("log.level", pf.Lookup("log-level"))
	mustBindPFlag("log.style", pf.Lookup("log-style"))
}

func initConfig() {
	viper.SetEnvPrefix("HORNET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// mustBindPFlag panics when a flag cannot be bound; binding only fails
// on programmer error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}
