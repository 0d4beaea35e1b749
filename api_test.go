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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/embeddings"
	"github.com/antflydb/hornet/pkg/hornet/lib/generation"
	"github.com/antflydb/hornet/pkg/hornet/lib/loader"
	"github.com/antflydb/hornet/pkg/hornet/lib/modelregistry"
)

type testNode struct {
	node    *HornetNode
	handler http.Handler
	rt      *cacheTestRuntime
	store   *modelregistry.Store
}

func newTestNode(t *testing.T, models ...string) *testNode {
	t.Helper()
	root := t.TempDir()
	vocab := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\n"
	for _, m := range models {
		dir := filepath.Join(root, m)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(vocab), 0o644))
	}

	rt := newCacheTestRuntime()
	store := modelregistry.NewStore(root)
	logger := zap.NewNop()
	cache := NewModelCache(loader.New(rt, logger), rt, store, backends.CPUDevice, logger)

	ec := NewEmbeddingCache(logger)
	t.Cleanup(ec.Close)

	node := &HornetNode{
		logger:         logger,
		device:         backends.CPUDevice,
		runtime:        rt,
		store:          store,
		cache:          cache,
		genEngine:      generation.NewEngine(logger),
		embedEngine:    embeddings.NewEngine(logger),
		embeddingCache: ec,
		requestQueue:   NewRequestQueue(4, 100, time.Second),
	}
	return &testNode{
		node:    node,
		handler: NewHornetAPI(logger, node),
		rt:      rt,
		store:   store,
	}
}

func (tn *testNode) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	tn.handler.ServeHTTP(rec, req)
	return rec
}

func TestApiGenerate(t *testing.T) {
	tn := newTestNode(t, "test-model")

	rec := tn.do(t, http.MethodPost, "/api/generate",
		`{"model":"test-model","messages":[{"role":"user","content":"hello world"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GenerateResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "test-model", resp.Model)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, resp.Usage.InputTokens+resp.Usage.OutputTokens, resp.Usage.TotalTokens)
}

func TestApiGenerateValidation(t *testing.T) {
	tn := newTestNode(t)

	rec := tn.do(t, http.MethodPost, "/api/generate", `{"messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tn.do(t, http.MethodPost, "/api/generate", `{"model":"m"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiEmbed(t *testing.T) {
	tn := newTestNode(t, "embed-model")

	rec := tn.do(t, http.MethodPost, "/api/embeddings",
		`{"model":"embed-model","input":["hello","world"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EmbedResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Embeddings, 2)
	require.Equal(t, 2, resp.Dimensions)
}

func TestApiEmbedSingleString(t *testing.T) {
	tn := newTestNode(t, "embed-model")

	rec := tn.do(t, http.MethodPost, "/api/embeddings",
		`{"model":"embed-model","input":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EmbedResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Embeddings, 1)
}

func TestApiEmbedNormalize(t *testing.T) {
	tn := newTestNode(t, "embed-model")

	// The fake encoder emits {3, 4}. Default is unit-normalized output.
	rec := tn.do(t, http.MethodPost, "/api/embeddings",
		`{"model":"embed-model","input":["hello"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EmbedResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.InDelta(t, 0.6, resp.Embeddings[0][0], 1e-6)
	require.InDelta(t, 0.8, resp.Embeddings[0][1], 1e-6)

	// normalize:false returns the raw pooled vector.
	rec = tn.do(t, http.MethodPost, "/api/embeddings",
		`{"model":"embed-model","input":["hello"],"normalize":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.InDelta(t, 3.0, resp.Embeddings[0][0], 1e-6)
	require.InDelta(t, 4.0, resp.Embeddings[0][1], 1e-6)
}

func TestApiEmbedValidation(t *testing.T) {
	tn := newTestNode(t, "embed-model")

	rec := tn.do(t, http.MethodPost, "/api/embeddings", `{"input":["x"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tn.do(t, http.MethodPost, "/api/embeddings", `{"model":"embed-model"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tn.do(t, http.MethodPost, "/api/embeddings", `{"model":"embed-model","input":42}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiListModels(t *testing.T) {
	tn := newTestNode(t, "model-a", "model-b")

	_, err := tn.node.cache.Acquire(context.Background(), "model-a", "embedding")
	require.NoError(t, err)

	rec := tn.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelsResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Resident, 1)
	require.Equal(t, "model-a", resp.Resident[0].Model)
	require.Len(t, resp.Local, 2)
}

func TestApiLoadModel(t *testing.T) {
	tn := newTestNode(t, "model-a")

	rec := tn.do(t, http.MethodPost, "/api/models/load",
		`{"model":"model-a","capability":"embedding"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, tn.node.cache.IsResident("model-a"))

	// an unknown capability is rejected without touching the cache
	rec = tn.do(t, http.MethodPost, "/api/models/load",
		`{"model":"model-a","capability":"reranking"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApiUnloadModel(t *testing.T) {
	tn := newTestNode(t, "model-a")

	_, err := tn.node.cache.Acquire(context.Background(), "model-a", "embedding")
	require.NoError(t, err)

	rec := tn.do(t, http.MethodPost, "/api/models/unload", `{"model":"model-a"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, tn.node.cache.IsResident("model-a"))

	rec = tn.do(t, http.MethodPost, "/api/models/unload", `{"model":"model-a"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApiDeleteModel(t *testing.T) {
	tn := newTestNode(t, "model-a")

	_, err := tn.node.cache.Acquire(context.Background(), "model-a", "embedding")
	require.NoError(t, err)

	rec := tn.do(t, http.MethodDelete, "/api/models/model-a", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, tn.node.cache.IsResident("model-a"))

	models, err := tn.store.List()
	require.NoError(t, err)
	require.Empty(t, models)

	rec = tn.do(t, http.MethodDelete, "/api/models/model-a", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApiStats(t *testing.T) {
	tn := newTestNode(t, "model-a")

	rec := tn.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "cpu", resp.Device)
	require.Equal(t, "test", resp.Runtime)
	require.Equal(t, DefaultCacheCapacity, resp.ModelCache.Capacity)
}

func TestApiVersion(t *testing.T) {
	tn := newTestNode(t)

	rec := tn.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Version)
	require.NotEmpty(t, resp.GoVersion)
}

func TestApiBackpressure(t *testing.T) {
	tn := newTestNode(t, "model-a")
	tn.node.requestQueue = NewRequestQueue(1, 1, 20*time.Millisecond)

	// occupy the only processing slot
	release, err := tn.node.requestQueue.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	rec := tn.do(t, http.MethodPost, "/api/generate",
		`{"model":"model-a","messages":[{"role":"user","content":"x"}]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
