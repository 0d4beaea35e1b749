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

// Package hornet is an in-process inference gateway: it serves text
// generation and embedding requests over HTTP from ONNX models pulled
// from the HuggingFace hub, keeping a bounded set of models resident.
package hornet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/embeddings"
	"github.com/antflydb/hornet/pkg/hornet/lib/generation"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/loader"
	"github.com/antflydb/hornet/pkg/hornet/lib/modelregistry"
)

// HornetNode serves inference requests from resident models.
type HornetNode struct {
	logger *zap.Logger
	config Config

	device  backends.Device
	runtime backends.Runtime
	store   *modelregistry.Store
	cache   *ModelCache

	genEngine   *generation.Engine
	embedEngine *embeddings.Engine

	// Caches and backpressure
	embeddingCache *EmbeddingCache
	requestQueue   *RequestQueue
}

// corsMiddleware adds permissive CORS headers for the Hornet API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// parseDeviceConfig turns a config string like "cuda:1", "cuda", "mps",
// or "cpu" into selector options. Empty or "auto" keeps automatic
// selection.
func parseDeviceConfig(s string) ([]backends.SelectorOption, error) {
	var opts []backends.SelectorOption

	spec, idxStr, hasIdx := strings.Cut(s, ":")
	kind, err := backends.ParseDeviceKind(spec)
	if err != nil {
		return nil, err
	}
	if kind != "" {
		opts = append(opts, backends.WithForcedDevice(kind))
	}
	if hasIdx {
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid device index %q", idxStr)
		}
		opts = append(opts, backends.WithCUDAIndex(idx))
	}
	return opts, nil
}

// RunAsHornet runs the inference gateway until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to
// accept requests.
func RunAsHornet(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("hornet")
	zl.Info("Starting hornet node", zap.Any("config", config))

	if err := config.Validate(); err != nil {
		zl.Fatal("Invalid config", zap.Error(err))
	}

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// Pick the inference device: CUDA first, then a unified-memory
	// accelerator, then CPU. Config may pin it explicitly.
	selectorOpts, err := parseDeviceConfig(config.Device)
	if err != nil {
		zl.Fatal("Invalid device", zap.String("device", config.Device), zap.Error(err))
	}
	device := backends.NewSelector(selectorOpts...).Select()

	gpuInfo := backends.DetectGPU()
	zl.Info("Device selection complete",
		zap.String("device", device.String()),
		zap.Bool("gpu_available", gpuInfo.Available),
		zap.String("gpu_type", gpuInfo.Type),
		zap.String("gpu_name", gpuInfo.DeviceName))

	runtime, err := backends.NewRuntime(zl.Named("runtime"))
	if err != nil {
		zl.Fatal("No inference runtime available",
			zap.Strings("compiled_in", backends.RegisteredRuntimes()),
			zap.Error(err))
	}
	defer func() { _ = runtime.Close() }()

	var hfOpts []modelregistry.HFClientOption
	if config.HFToken != "" {
		hfOpts = append(hfOpts, modelregistry.WithHFToken(config.HFToken))
	}
	store := modelregistry.NewStore(config.ModelsDir,
		modelregistry.WithHFClient(modelregistry.NewHuggingFaceClient(hfOpts...)),
		modelregistry.WithStoreLogger(zl.Named("store")))

	cache := NewModelCache(
		loader.New(runtime, zl.Named("loader")),
		runtime, store, device, zl,
		WithCapacity(config.MaxResidentModels))
	defer func() {
		if err := cache.Teardown(); err != nil {
			zl.Warn("Model cache teardown reported errors", zap.Error(err))
		}
	}()

	embeddingCache := NewEmbeddingCache(zl)
	defer embeddingCache.Close()

	var requestTimeout time.Duration
	if config.RequestTimeout != "" && config.RequestTimeout != "0" {
		requestTimeout, err = time.ParseDuration(config.RequestTimeout)
		if err != nil {
			zl.Fatal("Invalid request_timeout duration", zap.String("request_timeout", config.RequestTimeout), zap.Error(err))
		}
	}
	requestQueue := NewRequestQueue(config.MaxConcurrentRequests, config.MaxQueueSize, requestTimeout)

	node := &HornetNode{
		logger: zl,
		config: config,

		device:  device,
		runtime: runtime,
		store:   store,
		cache:   cache,

		genEngine:   generation.NewEngine(zl),
		embedEngine: embeddings.NewEngine(zl),

		embeddingCache: embeddingCache,
		requestQueue:   requestQueue,
	}

	// Warm configured models before accepting traffic.
	for _, spec := range config.Preload {
		model, capability := splitPreloadSpec(spec)
		if _, err := cache.Acquire(ctx, model, capability); err != nil {
			zl.Warn("Failed to preload model",
				zap.String("model", model),
				zap.String("capability", capability),
				zap.Error(err))
		}
	}

	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())

	rootMux.Handle("/api/", NewHornetAPI(zl, node))

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Hornet's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}

// splitPreloadSpec splits a "model:capability" preload entry. Model ids
// may themselves contain colons (variant suffixes), so the capability is
// the last segment only when it names one.
func splitPreloadSpec(spec string) (model, capability string) {
	if idx := strings.LastIndex(spec, ":"); idx > 0 {
		tail := spec[idx+1:]
		if _, err := inference.ParseCapability(tail); err == nil {
			return spec[:idx], tail
		}
	}
	return spec, string(inference.CapabilityEmbedding)
}
