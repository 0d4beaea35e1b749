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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeanPoolRespectsAttentionMask(t *testing.T) {
	hidden := &HiddenStates{Values: [][]float32{
		{2, 4},
		{6, 8},
		{100, 100}, // masked out
	}}
	pooled := MeanPool(hidden, []int{1, 1, 0})
	require.Equal(t, []float32{4, 6}, pooled)
}

func TestMeanPoolAllMasked(t *testing.T) {
	hidden := &HiddenStates{Values: [][]float32{{1, 2}}}
	pooled := MeanPool(hidden, []int{0})
	require.Equal(t, []float32{0, 0}, pooled)
}

func TestMeanPoolEmpty(t *testing.T) {
	require.Nil(t, MeanPool(nil, nil))
	require.Nil(t, MeanPool(&HiddenStates{}, nil))
}

func TestNormalizeL2(t *testing.T) {
	vec := NormalizeL2([]float32{3, 4})
	require.InDelta(t, 0.6, vec[0], 1e-6)
	require.InDelta(t, 0.8, vec[1], 1e-6)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestNormalizeL2ZeroVector(t *testing.T) {
	vec := NormalizeL2([]float32{0, 0, 0})
	require.Equal(t, []float32{0, 0, 0}, vec)
}
