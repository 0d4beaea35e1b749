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
	"net/http"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status  string      `json:"status"`
	Runtime string      `json:"runtime"`
	Models  ReadyModels `json:"models"`
}

// ReadyModels shows model availability
type ReadyModels struct {
	Resident int `json:"resident"`
	Local    int `json:"local"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (hn *HornetNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once an inference runtime is available
// (readiness check). Models load lazily, so readiness does not require
// anything to be resident yet.
func (hn *HornetNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status: "ready",
		Models: ReadyModels{
			Resident: hn.cache.Stats().Resident,
		},
	}
	if local, err := hn.store.List(); err == nil {
		resp.Models.Local = len(local)
	}

	w.Header().Set("Content-Type", "application/json")
	if hn.runtime == nil {
		resp.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}
	resp.Runtime = hn.runtime.Name()

	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
