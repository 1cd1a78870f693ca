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

import "testing"

// copyFunc builds B[i] = A[i] over one spatial axis of the given extent.
func copyFunc(extent int64) (*PrimFunc, *BlockRealize, *IterVar) {
	a := NewBuffer("A", Float32, extent)
	b := NewBuffer("B", Float32, extent)
	fn := NewPrimFunc("copy", a, b)
	iv := SpatialIter("v_i", extent)
	r := fn.AddBlock(&Block{
		Name:     "copy",
		IterVars: []*IterVar{iv},
		Reads:    []*BufferRegion{Region(a, iv.Var)},
		Writes:   []*BufferRegion{Region(b, iv.Var)},
		Body:     Store(b, []Expr{iv.Var}, Load(a, iv.Var)),
	})
	return fn, r, iv
}

func TestSplitRewritesBinding(t *testing.T) {
	fn, r, iv := copyFunc(12)
	s := NewSchedule(fn)

	loops := s.Split(r.Loops[0], -1, 3)
	if len(loops) != 2 || loops[0].Extent != 4 || loops[1].Extent != 3 {
		t.Fatalf("Split extents = %d, %d, want 4, 3", loops[0].Extent, loops[1].Extent)
	}
	want := Add(Mul(loops[0].Var, Int(3)), loops[1].Var)
	if !StructuralEqual(r.Bindings[iv], want, false) {
		t.Errorf("binding = %s, want %s", ExprString(r.Bindings[iv]), ExprString(want))
	}
}

func TestSplitPanicsOnNonDivisible(t *testing.T) {
	fn, r, _ := copyFunc(10)
	s := NewSchedule(fn)
	defer func() {
		if recover() == nil {
			t.Error("Split of extent 10 by 3 must panic")
		}
	}()
	s.Split(r.Loops[0], -1, 3)
}

func TestFuseRoundTripsSplit(t *testing.T) {
	fn, r, iv := copyFunc(12)
	s := NewSchedule(fn)

	loops := s.Split(r.Loops[0], -1, 3)
	fused := s.Fuse(loops...)
	if fused.Extent != 12 {
		t.Fatalf("fused extent = %d, want 12", fused.Extent)
	}
	if len(r.Loops) != 1 {
		t.Fatalf("nest has %d loops, want 1", len(r.Loops))
	}
	// v_i = (fused // 3) * 3 + fused % 3
	want := Add(Mul(FloorDiv(fused.Var, Int(3)), Int(3)), FloorMod(fused.Var, Int(3)))
	if !StructuralEqual(r.Bindings[iv], want, false) {
		t.Errorf("binding = %s, want %s", ExprString(r.Bindings[iv]), ExprString(want))
	}
}

func TestReorder(t *testing.T) {
	fn, r, _ := copyFunc(24)
	s := NewSchedule(fn)

	loops := s.Split(r.Loops[0], 2, 3, 4)
	s.Reorder(loops[2], loops[0])
	if r.Loops[0] != loops[2] || r.Loops[1] != loops[1] || r.Loops[2] != loops[0] {
		t.Errorf("loop order after Reorder = %s, %s, %s",
			r.Loops[0].Var.Name, r.Loops[1].Var.Name, r.Loops[2].Var.Name)
	}
}

func TestBind(t *testing.T) {
	fn, r, _ := copyFunc(8)
	s := NewSchedule(fn)

	s.Bind(r.Loops[0], "threadIdx.x")
	if r.Loops[0].Thread != "threadIdx.x" {
		t.Fatalf("thread = %q", r.Loops[0].Thread)
	}
	s.Bind(r.Loops[0], "threadIdx.x") // same binding is idempotent

	defer func() {
		if recover() == nil {
			t.Error("rebinding to a different thread must panic")
		}
	}()
	s.Bind(r.Loops[0], "threadIdx.y")
}

func TestSetScopeRenames(t *testing.T) {
	fn, r, iv := copyFunc(8)
	c := fn.Alloc(NewBuffer("C", Float32, 8))
	r.Block.Writes = []*BufferRegion{Region(c, iv.Var)}
	s := NewSchedule(fn)

	s.SetScope(r, 0, ScopeLocal)
	if c.Name != "C_local" || c.Scope != ScopeLocal {
		t.Errorf("buffer = %s @%s, want C_local @local", c.Name, c.Scope)
	}

	defer func() {
		if recover() == nil {
			t.Error("SetScope on a parameter buffer must panic")
		}
	}()
	r.Block.Writes = []*BufferRegion{Region(fn.Params[1], iv.Var)}
	s.SetScope(r, 0, ScopeShared)
}

func TestGetLoopsFollowsAnchorChain(t *testing.T) {
	fn, r, _ := copyFunc(8)
	s := NewSchedule(fn)
	loops := s.Split(r.Loops[0], -1, 4)

	other := &BlockRealize{
		Block:    &Block{Name: "tail"},
		Anchor:   loops[0],
		Bindings: map[*IterVar]Expr{},
	}
	fn.Blocks = append(fn.Blocks, other)

	got := s.GetLoops(other)
	if len(got) != 1 || got[0] != loops[0] {
		t.Fatalf("GetLoops = %d loops, want the anchor chain [%s]", len(got), loops[0].Var.Name)
	}
	if full := s.GetLoops(r); len(full) != 2 {
		t.Fatalf("GetLoops(owner) = %d loops, want 2", len(full))
	}
}
