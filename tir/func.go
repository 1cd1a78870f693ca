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

// AttrScheduled marks a PrimFunc whose loop nest has already been rewritten
// into an execution plan. Scheduling rules refuse stamped functions.
const AttrScheduled = "tir.is_scheduled"

// PrimFunc is one tensor computation: parameter buffers, intermediate
// allocations, and an ordered list of block realizations.
type PrimFunc struct {
	Name   string
	Params []*Buffer
	Allocs []*Buffer
	Blocks []*BlockRealize
	Attrs  map[string]any
}

// NewPrimFunc returns an empty function with the given parameter buffers.
func NewPrimFunc(name string, params ...*Buffer) *PrimFunc {
	return &PrimFunc{Name: name, Params: params, Attrs: make(map[string]any)}
}

// Alloc registers an intermediate buffer.
func (f *PrimFunc) Alloc(b *Buffer) *Buffer {
	f.Allocs = append(f.Allocs, b)
	return b
}

// AddBlock appends a block under fresh identity loops and returns its
// realization.
func (f *PrimFunc) AddBlock(block *Block) *BlockRealize {
	r := Realize(block)
	f.Blocks = append(f.Blocks, r)
	return r
}

// Scheduled reports whether the function carries the scheduled stamp.
func (f *PrimFunc) Scheduled() bool {
	_, ok := f.Attrs[AttrScheduled]
	return ok
}

// IsParam reports whether b is one of the function's parameter buffers.
func (f *PrimFunc) IsParam(b *Buffer) bool {
	for _, p := range f.Params {
		if p == b {
			return true
		}
	}
	return false
}

// RemoveAlloc drops an intermediate buffer, keeping parameter buffers
// untouched.
func (f *PrimFunc) RemoveAlloc(b *Buffer) {
	for i, a := range f.Allocs {
		if a == b {
			f.Allocs = append(f.Allocs[:i], f.Allocs[i+1:]...)
			return
		}
	}
}
