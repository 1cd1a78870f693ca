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

import (
	"fmt"
	"strings"
)

// Schedule rewrites the loop structure of one PrimFunc in place through
// scheduling primitives. Primitives panic on contract violations (splitting
// a loop that does not divide, fusing non-adjacent loops, rebinding a bound
// loop): such misuse is a defect in the calling rule, not a recoverable
// condition.
//
// A Schedule is single-threaded and transient; it holds no state beyond the
// function it mutates.
type Schedule struct {
	fn *PrimFunc
}

// NewSchedule wraps fn for in-place transformation.
func NewSchedule(fn *PrimFunc) *Schedule { return &Schedule{fn: fn} }

// Func returns the underlying function.
func (s *Schedule) Func() *PrimFunc { return s.fn }

// ownerOf returns the realization whose own nest contains loop, and the
// loop's position in that nest.
func (s *Schedule) ownerOf(loop *Loop) (*BlockRealize, int) {
	for _, r := range s.fn.Blocks {
		for i, l := range r.Loops {
			if l == loop {
				return r, i
			}
		}
	}
	panic(fmt.Sprintf("tir: loop %s does not belong to this schedule", loop.Var.Name))
}

// GetLoops returns the block's full loop stack, outermost first: the anchor
// chain through its producers followed by the block's own loops.
func (s *Schedule) GetLoops(b *BlockRealize) []*Loop {
	var prefix []*Loop
	if b.Anchor != nil {
		owner, _ := s.ownerOf(b.Anchor)
		outer := s.GetLoops(owner)
		for i, l := range outer {
			if l == b.Anchor {
				prefix = outer[:i+1]
				break
			}
		}
	}
	out := make([]*Loop, 0, len(prefix)+len(b.Loops))
	out = append(out, prefix...)
	out = append(out, b.Loops...)
	return out
}

// loopExtents returns the extent of every loop variable in the schedule.
func (s *Schedule) loopExtents() map[*Var]int64 {
	extents := make(map[*Var]int64)
	for _, r := range s.fn.Blocks {
		for _, l := range r.Loops {
			extents[l.Var] = l.Extent
		}
	}
	return extents
}

// substituteBindings rewrites every iteration binding in the schedule under
// the given loop-variable substitution, simplifying against current extents.
func (s *Schedule) substituteBindings(sub map[*Var]Expr) {
	extents := s.loopExtents()
	for _, r := range s.fn.Blocks {
		for iv, binding := range r.Bindings {
			r.Bindings[iv] = Simplify(Substitute(binding, sub), extents)
		}
	}
}

// assertNoAnchors panics if any block is anchored at loop; structural
// primitives may not rewrite a loop other blocks hang from.
func (s *Schedule) assertNoAnchors(loop *Loop) {
	for _, r := range s.fn.Blocks {
		if r.Anchor == loop {
			panic(fmt.Sprintf("tir: loop %s anchors block %q and cannot be rewritten",
				loop.Var.Name, r.Block.Name))
		}
	}
}

// Split replaces loop with len(factors) nested loops. At most one factor may
// be -1, meaning "inferred from the extent". The factors must multiply to
// the loop extent. Returns the new loops, outermost first.
func (s *Schedule) Split(loop *Loop, factors ...int64) []*Loop {
	owner, pos := s.ownerOf(loop)
	s.assertNoAnchors(loop)

	exts := make([]int64, len(factors))
	infer := -1
	known := int64(1)
	for i, f := range factors {
		if f == -1 {
			if infer >= 0 {
				panic("tir: Split: more than one inferred factor")
			}
			infer = i
			continue
		}
		if f <= 0 {
			panic("tir: Split: non-positive factor")
		}
		exts[i] = f
		known *= f
	}
	if infer >= 0 {
		if loop.Extent%known != 0 {
			panic(fmt.Sprintf("tir: Split: extent %d not divisible by %d", loop.Extent, known))
		}
		exts[infer] = loop.Extent / known
	} else if known != loop.Extent {
		panic(fmt.Sprintf("tir: Split: factors multiply to %d, extent is %d", known, loop.Extent))
	}

	loops := make([]*Loop, len(exts))
	for i, e := range exts {
		loops[i] = NewLoop(fmt.Sprintf("%s_%d", loop.Var.Name, i), e)
	}
	owner.Loops = append(owner.Loops[:pos], append(append([]*Loop{}, loops...), owner.Loops[pos+1:]...)...)

	// old = l0*stride0 + l1*stride1 + ... with strides the products of the
	// inner extents.
	strides := make([]int64, len(exts))
	stride := int64(1)
	for i := len(exts) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= exts[i]
	}
	var repl Expr = Int(0)
	for i, l := range loops {
		repl = Add(repl, Mul(l.Var, Int(strides[i])))
	}
	s.substituteBindings(map[*Var]Expr{loop.Var: repl})
	return loops
}

// Fuse collapses consecutive loops of one nest into a single loop whose
// extent is the product of theirs. Returns the fused loop.
func (s *Schedule) Fuse(loops ...*Loop) *Loop {
	if len(loops) == 0 {
		panic("tir: Fuse: no loops")
	}
	owner, pos := s.ownerOf(loops[0])
	for i, l := range loops {
		o, p := s.ownerOf(l)
		if o != owner || p != pos+i {
			panic("tir: Fuse: loops are not consecutive in one nest")
		}
		s.assertNoAnchors(l)
	}

	extent := int64(1)
	names := make([]string, len(loops))
	for i, l := range loops {
		extent *= l.Extent
		names[i] = l.Var.Name
	}
	fused := NewLoop(strings.Join(names, "_")+"_fused", extent)
	owner.Loops = append(owner.Loops[:pos], append([]*Loop{fused}, owner.Loops[pos+len(loops):]...)...)

	// l_i = (fused / prod(inner extents)) % extent_i
	sub := make(map[*Var]Expr, len(loops))
	stride := int64(1)
	for i := len(loops) - 1; i >= 0; i-- {
		sub[loops[i].Var] = FloorMod(FloorDiv(fused.Var, Int(stride)), Int(loops[i].Extent))
		stride *= loops[i].Extent
	}
	s.substituteBindings(sub)
	return fused
}

// Reorder permutes the given loops of one nest into the order listed,
// keeping their set of positions.
func (s *Schedule) Reorder(loops ...*Loop) {
	if len(loops) < 2 {
		return
	}
	owner, _ := s.ownerOf(loops[0])
	positions := make([]int, 0, len(loops))
	seen := make(map[*Loop]bool, len(loops))
	for _, l := range loops {
		o, p := s.ownerOf(l)
		if o != owner {
			panic("tir: Reorder: loops span multiple nests")
		}
		if seen[l] {
			panic("tir: Reorder: duplicate loop")
		}
		seen[l] = true
		s.assertNoAnchors(l)
		positions = append(positions, p)
	}
	for i := 1; i < len(positions); i++ {
		for j := i; j > 0 && positions[j-1] > positions[j]; j-- {
			positions[j-1], positions[j] = positions[j], positions[j-1]
		}
	}
	for i, l := range loops {
		owner.Loops[positions[i]] = l
	}
}

// Bind tags a loop with a thread or block dimension.
func (s *Schedule) Bind(loop *Loop, thread string) {
	if loop.Thread != "" && loop.Thread != thread {
		panic(fmt.Sprintf("tir: Bind: loop %s already bound to %s", loop.Var.Name, loop.Thread))
	}
	loop.Thread = thread
}

// AddUnitLoop appends an innermost extent-1 loop to the block's nest so
// downstream stages can treat a missing axis uniformly.
func (s *Schedule) AddUnitLoop(b *BlockRealize) *Loop {
	u := NewLoop("u", 1)
	b.Loops = append(b.Loops, u)
	return u
}

// SetScope moves the block's writeIdx-th output buffer to the given memory
// scope, renaming the buffer with the substrate's scope-suffix convention.
// Parameter buffers cannot change scope.
func (s *Schedule) SetScope(b *BlockRealize, writeIdx int, scope Scope) {
	buf := b.Block.Writes[writeIdx].Buffer
	if s.fn.IsParam(buf) {
		panic(fmt.Sprintf("tir: SetScope: %s is a parameter buffer", buf.Name))
	}
	if buf.Scope == scope {
		return
	}
	buf.Scope = scope
	if scope != ScopeGlobal {
		buf.Name = buf.Name + "_" + string(scope)
	}
}
