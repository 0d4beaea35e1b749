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
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/hornet/pkg/hornet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hornet server",
	Long:  `Start the hornet server for ML inference (text generation and embeddings).`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run command flags
	runCmd.Flags().IntVar(&healthPort, "health-port", 4200, "health/metrics server port")
	runCmd.Flags().String("api-url", "http://0.0.0.0:11434", "address the API server listens on")
	runCmd.Flags().String("device", "", "inference device (auto, cpu, coreml, cuda, cuda:<idx>)")
	runCmd.Flags().Int("max-resident-models", 0, "max models kept loaded at once (0 = default)")
	runCmd.Flags().StringSlice("preload", nil, "models to load at startup (model:capability)")
	runCmd.Flags().Int("max-concurrent-requests", 0, "max requests running inference at once")
	runCmd.Flags().Int("max-queue-size", 0, "max requests waiting for a slot")
	runCmd.Flags().String("request-timeout", "", "max time a request waits in queue (e.g. 30s)")
	runCmd.Flags().String("hf-token", "", "HuggingFace API token for gated models")

	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
	mustBindPFlag("device", runCmd.Flags().Lookup("device"))
	mustBindPFlag("max_resident_models", runCmd.Flags().Lookup("max-resident-models"))
	mustBindPFlag("preload", runCmd.Flags().Lookup("preload"))
	mustBindPFlag("max_concurrent_requests", runCmd.Flags().Lookup("max-concurrent-requests"))
	mustBindPFlag("max_queue_size", runCmd.Flags().Lookup("max-queue-size"))
	mustBindPFlag("request_timeout", runCmd.Flags().Lookup("request-timeout"))
	mustBindPFlag("hf_token", runCmd.Flags().Lookup("hf-token"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create logger from config
	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as hornet")

	// Build hornet config from viper/env
	cfg := hornet.Config{
		ApiUrl:                viper.GetString("api_url"),
		ModelsDir:             modelsDir, // Set from --models-dir flag (defaults to ~/.hornet/models)
		Device:                viper.GetString("device"),
		MaxResidentModels:     viper.GetInt("max_resident_models"),
		Preload:               viper.GetStringSlice("preload"),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		RequestTimeout:        viper.GetString("request_timeout"),
		HFToken:               viper.GetString("hf_token"),
	}

	// Track readiness state
	ready := &atomic.Bool{}
	ready.Store(false)
	readyC := make(chan struct{})

	// Start health server with readiness checker
	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	// Wait for ready signal in background
	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("Hornet is ready")
	}()

	hornet.RunAsHornet(ctx, logger, cfg, readyC)
	return nil
}
