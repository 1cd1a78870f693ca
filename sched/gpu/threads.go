// Copyright 2025 go-lightsched Authors
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

package gpu

import (
	"github.com/ajroetker/go-lightsched/target"
	"github.com/ajroetker/go-lightsched/tir"
)

// maxThreadsDynamicLoop caps the thread count taken by a loop whose extent
// is not known at schedule time.
const maxThreadsDynamicLoop = 32

// SuggestThreadsPerBlock proposes a thread count for each loop, spending the
// target's thread budget outermost first. Each loop gets the largest power
// of two not exceeding its extent or the remaining budget.
func SuggestThreadsPerBlock(tgt *target.Target, loops []*tir.Loop) []int64 {
	budget := tgt.MaxThreadsPerBlock
	out := make([]int64, len(loops))
	for i, l := range loops {
		limit := l.Extent
		if limit <= 0 {
			limit = maxThreadsDynamicLoop
		}
		if limit > budget {
			limit = budget
		}
		t := int64(1)
		for t*2 <= limit {
			t *= 2
		}
		out[i] = t
		budget /= t
		if budget < 1 {
			budget = 1
		}
	}
	return out
}
