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

package backends

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func probeFor(info GPUInfo) Probe {
	return func() GPUInfo { return info }
}

func TestSelectPrefersCUDA(t *testing.T) {
	s := NewSelector(WithProbe(probeFor(GPUInfo{Available: true, Type: "cuda"})))
	require.Equal(t, Device{Kind: DeviceCUDA, Index: 0}, s.Select())
}

func TestSelectCUDAIndex(t *testing.T) {
	s := NewSelector(
		WithProbe(probeFor(GPUInfo{Available: true, Type: "cuda"})),
		WithCUDAIndex(1),
	)
	d := s.Select()
	require.Equal(t, DeviceCUDA, d.Kind)
	require.Equal(t, 1, d.Index)
	require.Equal(t, "cuda:1", d.String())
}

func TestSelectCoreML(t *testing.T) {
	s := NewSelector(WithProbe(probeFor(GPUInfo{Available: true, Type: "coreml"})))
	require.Equal(t, Device{Kind: DeviceCoreML}, s.Select())
}

func TestSelectFallsBackToCPU(t *testing.T) {
	s := NewSelector(WithProbe(probeFor(GPUInfo{Available: false, Type: "none"})))
	require.Equal(t, CPUDevice, s.Select())
}

func TestSelectForcedDevice(t *testing.T) {
	// Forcing CPU wins even when the probe reports CUDA.
	s := NewSelector(
		WithProbe(probeFor(GPUInfo{Available: true, Type: "cuda"})),
		WithForcedDevice(DeviceCPU),
	)
	require.Equal(t, CPUDevice, s.Select())

	s = NewSelector(
		WithProbe(probeFor(GPUInfo{Available: false})),
		WithForcedDevice(DeviceCUDA),
		WithCUDAIndex(2),
	)
	require.Equal(t, Device{Kind: DeviceCUDA, Index: 2}, s.Select())
}

func TestParseDeviceKind(t *testing.T) {
	for in, want := range map[string]DeviceKind{
		"":       "",
		"auto":   "",
		"cpu":    DeviceCPU,
		"CUDA":   DeviceCUDA,
		"gpu":    DeviceCUDA,
		"coreml": DeviceCoreML,
		"mps":    DeviceCoreML,
	} {
		got, err := ParseDeviceKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseDeviceKind("tpu")
	require.Error(t, err)
}

func TestDeviceAccelerated(t *testing.T) {
	require.False(t, CPUDevice.Accelerated())
	require.False(t, Device{}.Accelerated())
	require.True(t, Device{Kind: DeviceCUDA}.Accelerated())
	require.True(t, Device{Kind: DeviceCoreML}.Accelerated())
}
