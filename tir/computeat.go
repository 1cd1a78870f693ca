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

import "fmt"

// ReverseComputeAt relocates a consumer block to execute under the given
// loop of its producer's nest. Iteration variables that index into the
// producer's output are rebound to the coordinates the producer computes
// under that loop; every producer loop var below the anchor is replaced by
// a fresh loop of the consumer covering the same extent. Remaining
// iteration variables keep loops of their full domain.
//
// With preserveUnitLoops, extent-1 loops are materialized for constant
// write dimensions and fully covered axes, mirroring the write region's
// rank; otherwise unit loops are dropped.
func (s *Schedule) ReverseComputeAt(b *BlockRealize, anchor *Loop, preserveUnitLoops bool) {
	producer := s.findProducerAt(b, anchor)
	prefixVars := make(map[*Var]bool)
	for _, l := range s.GetLoops(producer) {
		prefixVars[l.Var] = true
		if l == anchor {
			break
		}
	}
	extents := s.loopExtents()

	ivOf := make(map[*Var]*IterVar, len(b.Block.IterVars))
	for _, iv := range b.Block.IterVars {
		ivOf[iv.Var] = iv
	}

	// Expand the producer's write indices from iteration variables down to
	// loop variables.
	producerSub := make(map[*Var]Expr, len(producer.Block.IterVars))
	for _, iv := range producer.Block.IterVars {
		producerSub[iv.Var] = producer.Bindings[iv]
	}
	pw := producer.Block.Writes[0]

	rebound := make(map[*IterVar]Expr)
	freshLoops := make(map[*IterVar][]*Loop)
	repl := make(map[*Var]Expr)
	for _, read := range b.Block.Reads {
		if read.Buffer != pw.Buffer {
			continue
		}
		for d, rIdx := range read.Indices {
			v, ok := rIdx.(*Var)
			if !ok {
				continue
			}
			iv := ivOf[v]
			if iv == nil {
				continue
			}
			if _, done := rebound[iv]; done {
				continue
			}
			expr := Simplify(Substitute(pw.Indices[d], producerSub), extents)
			// Replace producer loop variables below the anchor with fresh
			// consumer loops of the same extent, one loop per variable.
			var made []*Loop
			for _, lv := range orderedVars(expr) {
				if prefixVars[lv] || repl[lv] != nil {
					continue
				}
				ext, known := extents[lv]
				if !known {
					panic(fmt.Sprintf("tir: ReverseComputeAt: unknown extent for %s", lv.Name))
				}
				fresh := NewLoop("ax", ext)
				repl[lv] = fresh.Var
				made = append(made, fresh)
			}
			rebound[iv] = Simplify(Substitute(expr, repl), extents)
			freshLoops[iv] = made
		}
	}

	// Unmatched iteration variables keep their full domain.
	for _, iv := range b.Block.IterVars {
		if _, done := rebound[iv]; done {
			continue
		}
		if c, ok := b.Bindings[iv].(*IntImm); ok {
			rebound[iv] = c
			continue
		}
		fresh := NewLoop("ax", iv.Dom)
		rebound[iv] = fresh.Var
		freshLoops[iv] = []*Loop{fresh}
	}

	// Order the new nest: variables absent from the write region first (in
	// declaration order), then one slot per write dimension.
	writeVars := CollectRegionVars(b.Block.Writes[0].Indices)
	var own []*Loop
	for _, iv := range b.Block.IterVars {
		if !writeVars[iv.Var] {
			own = append(own, freshLoops[iv]...)
		}
	}
	for _, idx := range b.Block.Writes[0].Indices {
		v, ok := idx.(*Var)
		if ok && ivOf[v] != nil {
			ls := freshLoops[ivOf[v]]
			if len(ls) == 0 && preserveUnitLoops {
				own = append(own, NewLoop("ax", 1))
			}
			own = append(own, ls...)
			continue
		}
		if preserveUnitLoops {
			own = append(own, NewLoop("ax", 1))
		}
	}
	for i, l := range own {
		l.Var.Name = fmt.Sprintf("ax%d", i)
	}

	b.Anchor = anchor
	b.Loops = own
	b.Bindings = rebound
}

// findProducerAt returns the block whose nest contains anchor and whose
// output b reads.
func (s *Schedule) findProducerAt(b *BlockRealize, anchor *Loop) *BlockRealize {
	for _, r := range s.fn.Blocks {
		if r == b || len(r.Block.Writes) == 0 {
			continue
		}
		inNest := false
		for _, l := range s.GetLoops(r) {
			if l == anchor {
				inNest = true
				break
			}
		}
		if !inNest {
			continue
		}
		for _, read := range b.Block.Reads {
			if read.Buffer == r.Block.Writes[0].Buffer {
				return r
			}
		}
	}
	panic("tir: ReverseComputeAt: no producer of the block writes under the anchor loop")
}

// orderedVars returns the variables of e in first-appearance order.
func orderedVars(e Expr) []*Var {
	var out []*Var
	seen := make(map[*Var]bool)
	PostOrderVisit(e, func(n Expr) {
		if v, ok := n.(*Var); ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	})
	return out
}
