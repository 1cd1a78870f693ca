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

import "strings"

// IterKind classifies a block iteration variable.
type IterKind uint8

const (
	// IterSpatial iterates over distinct output locations.
	IterSpatial IterKind = iota
	// IterReduce is accumulated over to produce one output value.
	IterReduce
)

func (k IterKind) String() string {
	if k == IterReduce {
		return "R"
	}
	return "S"
}

// IterVar is a block iteration variable with a kind and a domain extent.
// Identity is pointer identity.
type IterVar struct {
	Var  *Var
	Kind IterKind
	Dom  int64
}

// SpatialIter returns a spatial iteration variable over [0, dom).
func SpatialIter(name string, dom int64) *IterVar {
	return &IterVar{Var: NewVar(name), Kind: IterSpatial, Dom: dom}
}

// ReduceIter returns a reduction iteration variable over [0, dom).
func ReduceIter(name string, dom int64) *IterVar {
	return &IterVar{Var: NewVar(name), Kind: IterReduce, Dom: dom}
}

// BufferRegion is a point access to a buffer: one index expression per
// dimension, each selecting a single element.
type BufferRegion struct {
	Buffer  *Buffer
	Indices []Expr
}

// Region constructs a point BufferRegion.
func Region(b *Buffer, indices ...Expr) *BufferRegion {
	return &BufferRegion{Buffer: b, Indices: indices}
}

// BufferStore writes one element of a buffer.
type BufferStore struct {
	Buffer  *Buffer
	Indices []Expr
	Value   Expr
}

// Store constructs a BufferStore.
func Store(b *Buffer, indices []Expr, value Expr) *BufferStore {
	return &BufferStore{Buffer: b, Indices: indices, Value: value}
}

// Block is one unit of computation: a set of iteration variables, the
// regions it reads, the regions it writes, an optional init store (for
// cumulative blocks), and a body store.
type Block struct {
	Name     string
	IterVars []*IterVar
	Reads    []*BufferRegion
	Writes   []*BufferRegion
	Init     *BufferStore
	Body     *BufferStore
}

// Loop is one concrete loop with an extent and an optional thread binding
// tag ("blockIdx.x", "threadIdx.x", "threadIdx.y"; empty means unbound).
type Loop struct {
	Var    *Var
	Extent int64
	Thread string
}

// NewLoop returns an unbound loop.
func NewLoop(name string, extent int64) *Loop {
	return &Loop{Var: NewVar(name), Extent: extent}
}

// BlockRealize places a Block under a perfect loop nest. Loops is the
// block's own nest, outermost first. Bindings maps every iteration variable
// to an affine expression over loop variables (its value at each iteration).
// Anchor, when set, is a loop of another block's nest under which this
// block executes; the block's full loop stack is then the anchor chain
// followed by its own loops.
type BlockRealize struct {
	Block    *Block
	Loops    []*Loop
	Bindings map[*IterVar]Expr
	Anchor   *Loop
}

// Realize places block under fresh identity loops, one per iteration
// variable in declared order.
func Realize(block *Block) *BlockRealize {
	r := &BlockRealize{
		Block:    block,
		Bindings: make(map[*IterVar]Expr, len(block.IterVars)),
	}
	for _, iv := range block.IterVars {
		loop := NewLoop(strings.TrimPrefix(iv.Var.Name, "v_"), iv.Dom)
		r.Loops = append(r.Loops, loop)
		r.Bindings[iv] = loop.Var
	}
	return r
}
