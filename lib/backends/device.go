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

// Package backends provides device selection, model handle interfaces,
// and the runtime implementations behind them.
package backends

import (
	"fmt"
	"strings"
)

// DeviceKind is the class of compute device a model runs on.
type DeviceKind string

const (
	DeviceCPU    DeviceKind = "cpu"
	DeviceCoreML DeviceKind = "coreml"
	DeviceCUDA   DeviceKind = "cuda"
)

// Device is a concrete placement target. Index is only meaningful for
// CUDA devices.
type Device struct {
	Kind  DeviceKind
	Index int
}

// String renders the device in the conventional form: "cuda:0",
// "coreml", or "cpu".
func (d Device) String() string {
	if d.Kind == DeviceCUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(d.Kind)
}

// Accelerated reports whether the device is a GPU or unified-memory
// accelerator rather than the CPU.
func (d Device) Accelerated() bool {
	return d.Kind != DeviceCPU && d.Kind != ""
}

// CPUDevice is the universal fallback placement.
var CPUDevice = Device{Kind: DeviceCPU}

// Probe reports what accelerators the host has. Injectable so tests can
// force a topology.
type Probe func() GPUInfo

// Selector picks the device models are placed on. Selection is a pure
// query: it never allocates accelerator memory and never fails.
type Selector struct {
	probe     Probe
	cudaIndex int
	force     DeviceKind
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithProbe overrides hardware detection.
func WithProbe(p Probe) SelectorOption {
	return func(s *Selector) { s.probe = p }
}

// WithCUDAIndex sets the CUDA device index used when a CUDA device is
// selected. Defaults to 0.
func WithCUDAIndex(idx int) SelectorOption {
	return func(s *Selector) { s.cudaIndex = idx }
}

// WithForcedDevice pins selection to a device kind, bypassing
// precedence. An empty kind (or "auto") keeps automatic selection.
func WithForcedDevice(kind DeviceKind) SelectorOption {
	return func(s *Selector) { s.force = kind }
}

// NewSelector builds a Selector. Without options it probes the host
// hardware (cached after the first probe).
func NewSelector(opts ...SelectorOption) *Selector {
	s := &Selector{probe: DetectGPU}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the preferred device: CUDA first, then a
// unified-memory accelerator, then CPU.
func (s *Selector) Select() Device {
	if s.force != "" && s.force != "auto" {
		if s.force == DeviceCUDA {
			return Device{Kind: DeviceCUDA, Index: s.cudaIndex}
		}
		return Device{Kind: s.force}
	}

	info := s.probe()
	if !info.Available {
		return CPUDevice
	}
	switch info.Type {
	case "cuda":
		return Device{Kind: DeviceCUDA, Index: s.cudaIndex}
	case "coreml":
		return Device{Kind: DeviceCoreML}
	default:
		return CPUDevice
	}
}

// ParseDeviceKind validates a device kind from config. "auto" and ""
// mean automatic selection.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return "", nil
	case "cpu":
		return DeviceCPU, nil
	case "coreml", "mps":
		return DeviceCoreML, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, coreml, or cuda)", s)
	}
}
