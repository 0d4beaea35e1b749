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

import "math"

// MeanPool averages the hidden states of attended positions into a
// single vector. Positions with a zero attention mask are ignored.
func MeanPool(hidden *HiddenStates, attentionMask []int) []float32 {
	if hidden == nil || len(hidden.Values) == 0 {
		return nil
	}
	dim := len(hidden.Values[0])
	pooled := make([]float32, dim)

	var count float32
	for i, row := range hidden.Values {
		if i < len(attentionMask) && attentionMask[i] == 0 {
			continue
		}
		for j, v := range row {
			pooled[j] += v
		}
		count++
	}
	if count == 0 {
		return pooled
	}
	for j := range pooled {
		pooled[j] /= count
	}
	return pooled
}

// NormalizeL2 scales a vector to unit length in place and returns it.
// Zero vectors are returned unchanged.
func NormalizeL2(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
