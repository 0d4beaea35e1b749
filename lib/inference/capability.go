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

// Package inference holds the capability and error types shared by the
// model cache, the loader, and the engines.
package inference

// Capability identifies what a loaded model is used for.
type Capability string

const (
	CapabilityGeneration Capability = "generation"
	CapabilityEmbedding  Capability = "embedding"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityGeneration, CapabilityEmbedding:
		return true
	default:
		return false
	}
}

func (c Capability) String() string {
	return string(c)
}

// ParseCapability validates a capability string from config or a request.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Valid() {
		return "", &InvalidCapabilityError{Capability: s}
	}
	return c, nil
}

// ModelKey identifies a resident model: the same model id may be loaded
// once per capability.
type ModelKey struct {
	Model      string
	Capability Capability
}

// String renders the key in the "model:capability" form used for
// logging and for deterministic ordering.
func (k ModelKey) String() string {
	return k.Model + ":" + string(k.Capability)
}
