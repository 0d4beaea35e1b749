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

package inference

import (
	"errors"
	"fmt"
)

// InvalidCapabilityError is returned when a request names a capability
// that is neither "generation" nor "embedding".
type InvalidCapabilityError struct {
	Capability string
}

func (e *InvalidCapabilityError) Error() string {
	return fmt.Sprintf("invalid capability %q (expected %q or %q)",
		e.Capability, CapabilityGeneration, CapabilityEmbedding)
}

// ModelLoadError is returned when every loading strategy for a model
// failed. Err aggregates the per-strategy causes.
type ModelLoadError struct {
	Model      string
	Capability Capability
	Err        error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model %s for %s: %v", e.Model, e.Capability, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError is returned when a resident model cannot serve a
// request, including capability/handle mismatches discovered at
// inference time.
type InferenceError struct {
	Model string
	Op    string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s with model %s: %v", e.Op, e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInvalidCapability reports whether err is an InvalidCapabilityError.
func IsInvalidCapability(err error) bool {
	var e *InvalidCapabilityError
	return errors.As(err, &e)
}

// IsModelLoad reports whether err is a ModelLoadError.
func IsModelLoad(err error) bool {
	var e *ModelLoadError
	return errors.As(err, &e)
}

// IsInference reports whether err is an InferenceError.
func IsInference(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}
