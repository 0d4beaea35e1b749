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

import "fmt"

// Config holds the hornet node's configuration.
type Config struct {
	// ApiUrl is the address the HTTP API listens on, e.g.
	// http://0.0.0.0:11434.
	ApiUrl string `json:"api_url" mapstructure:"api_url"`

	// ModelsDir is the root of the local model store. Models pulled
	// from the HuggingFace hub land here.
	ModelsDir string `json:"models_dir" mapstructure:"models_dir"`

	// Device pins inference to a specific device ("cuda:0", "mps",
	// "cpu"). Empty selects the best available device.
	Device string `json:"device,omitempty" mapstructure:"device"`

	// MaxResidentModels caps how many models stay loaded at once.
	// Zero means the default of 3.
	MaxResidentModels int `json:"max_resident_models,omitempty" mapstructure:"max_resident_models"`

	// Preload lists models to load at startup, as "model:capability"
	// pairs, e.g. "BAAI/bge-small-en-v1.5:embedding".
	Preload []string `json:"preload,omitempty" mapstructure:"preload"`

	// MaxConcurrentRequests bounds how many requests run inference at
	// once. Zero means the default.
	MaxConcurrentRequests int `json:"max_concurrent_requests,omitempty" mapstructure:"max_concurrent_requests"`

	// MaxQueueSize bounds how many requests may wait for a slot.
	// Zero means the default.
	MaxQueueSize int `json:"max_queue_size,omitempty" mapstructure:"max_queue_size"`

	// RequestTimeout bounds how long a request waits in queue, as a
	// duration string ("30s"). Empty means the default.
	RequestTimeout string `json:"request_timeout,omitempty" mapstructure:"request_timeout"`

	// HFToken authenticates pulls of gated HuggingFace models.
	HFToken string `json:"hf_token,omitempty" mapstructure:"hf_token"`
}

// Validate checks the config for structural problems.
func (c *Config) Validate() error {
	if c.ApiUrl == "" {
		return fmt.Errorf("api_url is required")
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	if c.MaxResidentModels < 0 {
		return fmt.Errorf("max_resident_models must be non-negative")
	}
	return nil
}
