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

package tir

// Scope is the memory visibility of a buffer in the emitted execution plan.
type Scope string

// Buffer scopes. Global memory is visible everywhere, shared memory within
// one grid block, local memory within one thread.
const (
	ScopeGlobal Scope = "global"
	ScopeShared Scope = "shared"
	ScopeLocal  Scope = "local"
)

// Buffer is named multi-dimensional storage with a fixed shape and element
// type. Identity is pointer identity.
type Buffer struct {
	Name  string
	Shape []int64
	DType DType
	Scope Scope
}

// NewBuffer returns a global-scope buffer.
func NewBuffer(name string, dtype DType, shape ...int64) *Buffer {
	return &Buffer{Name: name, Shape: shape, DType: dtype, Scope: ScopeGlobal}
}

// OffsetOf flattens point indices into the buffer's linear row-major offset
// expression. Panics if the index count does not match the buffer rank.
func (b *Buffer) OffsetOf(indices []Expr) Expr {
	if len(indices) != len(b.Shape) {
		panic("tir: OffsetOf: index count does not match buffer rank")
	}
	var offset Expr = Int(0)
	for i, idx := range indices {
		stride := int64(1)
		for _, d := range b.Shape[i+1:] {
			stride *= d
		}
		offset = Add(offset, Mul(idx, Int(stride)))
	}
	return Simplify(offset, nil)
}
