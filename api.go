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

package hornet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/embeddings"
	"github.com/antflydb/hornet/pkg/hornet/lib/generation"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
)

// HornetAPI routes /api requests to the node.
type HornetAPI struct {
	logger *zap.Logger
	node   *HornetNode
}

// NewHornetAPI creates the HTTP handler for the Hornet API.
func NewHornetAPI(logger *zap.Logger, node *HornetNode) http.Handler {
	api := &HornetAPI{
		logger: logger,
		node:   node,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate", node.handleApiGenerate)
	mux.HandleFunc("POST /api/embeddings", node.handleApiEmbed)
	mux.HandleFunc("GET /api/models", node.handleApiListModels)
	mux.HandleFunc("POST /api/models/load", node.handleApiLoadModel)
	mux.HandleFunc("POST /api/models/unload", node.handleApiUnloadModel)
	mux.HandleFunc("DELETE /api/models/{model...}", node.handleApiDeleteModel)
	mux.HandleFunc("GET /api/stats", node.handleApiStats)
	mux.HandleFunc("GET /api/version", api.handleVersion)
	return mux
}

// VersionResponse reports build information.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func (t *HornetAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		t.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model       string               `json:"model"`
	Messages    []generation.Message `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float32              `json:"temperature,omitempty"`
	TopP        float32              `json:"top_p,omitempty"`
}

// GenerateResponse is the body of a successful generation.
type GenerateResponse struct {
	Model        string           `json:"model"`
	Content      string           `json:"content"`
	FinishReason string           `json:"finish_reason"`
	Usage        generation.Usage `json:"usage"`
}

// handleApiGenerate handles text generation requests
func (hn *HornetNode) handleApiGenerate(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	// Apply backpressure via request queue
	release, err := hn.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			// Context cancelled
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return
	}
	defer release()

	UpdateQueueMetrics(hn.requestQueue.Stats())

	var req GenerateRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	RecordGenerationRequest(req.Model)

	resident, err := hn.cache.Acquire(r.Context(), req.Model, string(inference.CapabilityGeneration))
	if err != nil {
		hn.writeInferenceError(w, "generate", req.Model, err)
		return
	}

	result, err := hn.genEngine.Generate(r.Context(), resident.Handle, resident.Codec, generation.Request{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		hn.writeInferenceError(w, "generate", req.Model, err)
		return
	}

	RecordTokenGeneration(req.Model, result.Usage.OutputTokens)
	RecordRequestDuration("generate", req.Model, "200", time.Since(start).Seconds())

	resp := GenerateResponse{
		Model:        req.Model,
		Content:      result.Content,
		FinishReason: result.FinishReason,
		Usage:        result.Usage,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		hn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// EmbedRequest is the body of POST /api/embeddings. Input takes a
// single string or an array of strings. Normalize defaults to true
// when omitted.
type EmbedRequest struct {
	Model     string `json:"model"`
	Input     any    `json:"input"`
	Normalize *bool  `json:"normalize,omitempty"`
}

// EmbedResponse is the body of a successful embedding request.
type EmbedResponse struct {
	Model      string           `json:"model"`
	Embeddings [][]float32      `json:"embeddings"`
	Dimensions int              `json:"dimensions"`
	Usage      embeddings.Usage `json:"usage"`
}

// handleApiEmbed handles embedding generation requests
func (hn *HornetNode) handleApiEmbed(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	// Apply backpressure via request queue
	release, err := hn.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return
	}
	defer release()

	UpdateQueueMetrics(hn.requestQueue.Stats())

	var req EmbedRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	texts, err := parseEmbedInput(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid input: %v", err), http.StatusBadRequest)
		return
	}
	if len(texts) == 0 {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}

	normalize := req.Normalize == nil || *req.Normalize

	start := time.Now()
	RecordEmbeddingRequest(req.Model)

	resident, err := hn.cache.Acquire(r.Context(), req.Model, string(inference.CapabilityEmbedding))
	if err != nil {
		hn.writeInferenceError(w, "embed", req.Model, err)
		return
	}

	// Identical in-flight and recent requests share one computation.
	result, err := hn.embeddingCache.Embed(r.Context(), req.Model, texts, normalize,
		func(ctx context.Context) (*embeddings.Result, error) {
			return hn.embedEngine.Embed(ctx, resident.Handle, resident.Codec, embeddings.Request{
				Texts:     texts,
				Normalize: normalize,
			})
		})
	if err != nil {
		hn.writeInferenceError(w, "embed", req.Model, err)
		return
	}

	RecordEmbeddingCreation(req.Model, len(result.Embeddings))
	RecordRequestDuration("embed", req.Model, "200", time.Since(start).Seconds())

	resp := EmbedResponse{
		Model:      req.Model,
		Embeddings: result.Embeddings,
		Dimensions: result.Dimensions,
		Usage:      result.Usage,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		hn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseEmbedInput accepts a single string or an array of strings.
func parseEmbedInput(input any) ([]string, error) {
	switch v := input.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []any:
		texts := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input[%d] is not a string", i)
			}
			texts[i] = s
		}
		return texts, nil
	case nil:
		return nil, nil
	default:
		return nil, errors.New("input must be a string or array of strings")
	}
}

// ModelsResponse lists resident and locally stored models.
type ModelsResponse struct {
	Resident []ModelInfo      `json:"resident"`
	Local    []LocalModelInfo `json:"local"`
}

// LocalModelInfo describes one model in the local store.
type LocalModelInfo struct {
	ID       string   `json:"id"`
	Size     int64    `json:"size"`
	Variants []string `json:"variants,omitempty"`
}

// handleApiListModels lists resident models and local artifacts
func (hn *HornetNode) handleApiListModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Resident: hn.cache.ListResident(),
		Local:    []LocalModelInfo{},
	}

	local, err := hn.store.List()
	if err != nil {
		hn.logger.Warn("Listing local models failed", zap.Error(err))
	}
	for _, m := range local {
		resp.Local = append(resp.Local, LocalModelInfo{
			ID:       m.ID,
			Size:     m.Size,
			Variants: m.Variants,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		hn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// LoadModelRequest is the body of POST /api/models/load and
// POST /api/models/unload. Capability is optional for unload; an empty
// capability unloads the model under every capability.
type LoadModelRequest struct {
	Model      string `json:"model"`
	Capability string `json:"capability"`
}

// handleApiLoadModel loads a model into the cache ahead of traffic
func (hn *HornetNode) handleApiLoadModel(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req LoadModelRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if req.Capability == "" {
		http.Error(w, "capability is required", http.StatusBadRequest)
		return
	}

	resident, err := hn.cache.Acquire(r.Context(), req.Model, req.Capability)
	if err != nil {
		hn.writeInferenceError(w, "load", req.Model, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = encoder.NewStreamEncoder(w).Encode(map[string]string{
		"model":      req.Model,
		"capability": req.Capability,
		"strategy":   resident.Strategy,
		"device":     resident.Device.String(),
	})
}

// handleApiUnloadModel removes a model from the cache
func (hn *HornetNode) handleApiUnloadModel(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req LoadModelRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	var err error
	if req.Capability != "" {
		err = hn.cache.Unload(req.Model, req.Capability)
	} else {
		err = hn.cache.UnloadModel(req.Model)
	}
	if err != nil {
		if errors.Is(err, ErrModelNotResident) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		hn.writeInferenceError(w, "unload", req.Model, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleApiDeleteModel removes a model's artifacts from the local store.
// A resident model is unloaded first.
func (hn *HornetNode) handleApiDeleteModel(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	if hn.cache.IsResident(model) {
		if err := hn.cache.UnloadModel(model); err != nil && !errors.Is(err, ErrModelNotResident) {
			hn.writeInferenceError(w, "delete", model, err)
			return
		}
	}

	if err := hn.store.Delete(model); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StatsResponse aggregates node statistics.
type StatsResponse struct {
	ModelCache     CacheStats          `json:"model_cache"`
	EmbeddingCache EmbeddingCacheStats `json:"embedding_cache"`
	Queue          QueueStats          `json:"queue"`
	Device         string              `json:"device"`
	Runtime        string              `json:"runtime"`
}

// handleApiStats reports cache and queue statistics
func (hn *HornetNode) handleApiStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		ModelCache:     hn.cache.Stats(),
		EmbeddingCache: hn.embeddingCache.Stats(),
		Queue:          hn.requestQueue.Stats(),
		Device:         hn.device.String(),
	}
	if hn.runtime != nil {
		resp.Runtime = hn.runtime.Name()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		hn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeInferenceError maps domain errors onto HTTP statuses.
func (hn *HornetNode) writeInferenceError(w http.ResponseWriter, op, model string, err error) {
	status := http.StatusInternalServerError
	switch {
	case inference.IsInvalidCapability(err):
		status = http.StatusBadRequest
	case inference.IsModelLoad(err):
		status = http.StatusInternalServerError
	case inference.IsInference(err):
		status = http.StatusInternalServerError
	}

	hn.logger.Error("Request failed",
		zap.String("op", op),
		zap.String("model", model),
		zap.Int("status", status),
		zap.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(map[string]string{"error": err.Error()})
}
