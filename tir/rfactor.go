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

// reduceLoops returns the set of loops in b's own nest whose variable feeds
// a reduction iteration binding.
func (s *Schedule) reduceLoops(b *BlockRealize) map[*Loop]bool {
	reduceVars := make(map[*Var]bool)
	for _, iv := range b.Block.IterVars {
		if iv.Kind != IterReduce {
			continue
		}
		for v := range CollectVars(b.Bindings[iv]) {
			reduceVars[v] = true
		}
	}
	out := make(map[*Loop]bool)
	for _, l := range b.Loops {
		if reduceVars[l.Var] {
			out[l] = true
		}
	}
	return out
}

// cumulativeRHS returns Y when the block body has the cumulative form
// X[idx] = X[idx] + Y, and nil otherwise. The left operand is compared
// structurally, treating bound variables as interchangeable, against a
// fresh load of the written buffer at the written indices.
func cumulativeRHS(blk *Block) Expr {
	store := blk.Body
	if store == nil {
		return nil
	}
	add, ok := store.Value.(*BinOp)
	if !ok || add.Op != OpAdd {
		return nil
	}
	if !StructuralEqual(add.A, Load(store.Buffer, store.Indices...), true) {
		return nil
	}
	return add.B
}

// RFactor factors the cumulative reduction owning loop tx into two phases:
// a factored block accumulating one partial sum per tx iteration into a new
// factor buffer (tx becomes a spatial axis of that buffer, inserted at
// factorAxis), and the original block rewritten to combine the partial sums
// with tx as its only remaining reduction axis. The rewrite is exact for
// the additive accumulation the cumulative form guarantees.
//
// Returns the factored block. The original realization is rewritten in
// place into the combine phase.
func (s *Schedule) RFactor(tx *Loop, factorAxis int) *BlockRealize {
	b, _ := s.ownerOf(tx)
	blk := b.Block
	if len(blk.Writes) != 1 {
		panic(fmt.Sprintf("tir: RFactor: block %q must have exactly one write", blk.Name))
	}
	rhs := cumulativeRHS(blk)
	if rhs == nil {
		panic(fmt.Sprintf("tir: RFactor: block %q is not a cumulative reduction", blk.Name))
	}
	if blk.Init == nil {
		panic(fmt.Sprintf("tir: RFactor: block %q has no init", blk.Name))
	}
	reduce := s.reduceLoops(b)
	if !reduce[tx] {
		panic(fmt.Sprintf("tir: RFactor: loop %s is not a reduction loop of %q", tx.Var.Name, blk.Name))
	}

	store := blk.Body
	initValue := blk.Init.Value

	// Partition iteration variables: reductions are replaced by per-loop
	// variables, constant-bound spatials fold into the indices, the rest
	// carry over.
	var keepSpatial []*IterVar
	sub := make(map[*Var]Expr)
	for _, iv := range blk.IterVars {
		if iv.Kind == IterReduce {
			continue
		}
		if c, ok := b.Bindings[iv].(*IntImm); ok {
			sub[iv.Var] = c
			continue
		}
		keepSpatial = append(keepSpatial, iv)
	}

	// One fresh spatial variable for tx and one reduction variable per
	// remaining reduction loop, bound to the loops they mirror.
	vtx := &IterVar{Var: NewVar("v" + tx.Var.Name), Kind: IterSpatial, Dom: tx.Extent}
	loopVarSub := map[*Var]Expr{tx.Var: vtx.Var}
	var reduceIVs []*IterVar
	reduceIVFor := make(map[*Loop]*IterVar)
	for _, l := range b.Loops {
		if !reduce[l] || l == tx {
			continue
		}
		iv := &IterVar{Var: NewVar("v" + l.Var.Name), Kind: IterReduce, Dom: l.Extent}
		reduceIVs = append(reduceIVs, iv)
		reduceIVFor[l] = iv
		loopVarSub[l.Var] = iv.Var
	}
	for _, iv := range blk.IterVars {
		if iv.Kind == IterReduce {
			sub[iv.Var] = Substitute(b.Bindings[iv], loopVarSub)
		}
	}

	wb := store.Buffer
	rfShape := make([]int64, 0, len(wb.Shape)+1)
	rfShape = append(rfShape, wb.Shape[:factorAxis]...)
	rfShape = append(rfShape, tx.Extent)
	rfShape = append(rfShape, wb.Shape[factorAxis:]...)
	rfBuf := s.fn.Alloc(NewBuffer(wb.Name+"_rf", wb.DType, rfShape...))

	insertAt := func(indices []Expr, e Expr) []Expr {
		out := make([]Expr, 0, len(indices)+1)
		out = append(out, indices[:factorAxis]...)
		out = append(out, e)
		out = append(out, indices[factorAxis:]...)
		return out
	}

	rfIdx := insertAt(SubstituteIndices(store.Indices, sub), vtx.Var)
	rfReads := []*BufferRegion{Region(rfBuf, rfIdx...)}
	for _, r := range blk.Reads {
		rfReads = append(rfReads, Region(r.Buffer, SubstituteIndices(r.Indices, sub)...))
	}
	rfIters := append([]*IterVar{vtx}, keepSpatial...)
	rfIters = append(rfIters, reduceIVs...)
	rfBlk := &Block{
		Name:     blk.Name + "_rf",
		IterVars: rfIters,
		Reads:    rfReads,
		Writes:   []*BufferRegion{Region(rfBuf, rfIdx...)},
		Init:     Store(rfBuf, rfIdx, initValue),
		Body:     Store(rfBuf, rfIdx, Add(Load(rfBuf, rfIdx...), Substitute(rhs, sub))),
	}
	rf := &BlockRealize{
		Block:    rfBlk,
		Loops:    b.Loops,
		Bindings: map[*IterVar]Expr{vtx: tx.Var},
		Anchor:   b.Anchor,
	}
	for l, iv := range reduceIVFor {
		rf.Bindings[iv] = l.Var
	}
	for _, iv := range keepSpatial {
		rf.Bindings[iv] = b.Bindings[iv]
	}

	// Rewrite the original block in place into the combine phase: one
	// reduction axis over the tx partials, writing back the original buffer.
	vtxC := &IterVar{Var: NewVar("v" + tx.Var.Name), Kind: IterReduce, Dom: tx.Extent}
	wIdx := SubstituteIndices(store.Indices, sub)
	rfLoadIdx := insertAt(wIdx, vtxC.Var)

	spatialLoopSub := make(map[*Var]Expr)
	var freshSpatial []*Loop
	for _, l := range b.Loops {
		if reduce[l] {
			continue
		}
		referenced := false
		for _, iv := range keepSpatial {
			if CollectVars(b.Bindings[iv])[l.Var] {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		fresh := NewLoop(l.Var.Name, l.Extent)
		spatialLoopSub[l.Var] = fresh.Var
		freshSpatial = append(freshSpatial, fresh)
	}
	txC := NewLoop(tx.Var.Name, tx.Extent)

	blk.IterVars = append([]*IterVar{vtxC}, keepSpatial...)
	blk.Reads = []*BufferRegion{Region(rfBuf, rfLoadIdx...)}
	blk.Writes = []*BufferRegion{Region(wb, wIdx...)}
	blk.Init = Store(wb, wIdx, initValue)
	blk.Body = Store(wb, wIdx, Add(Load(wb, wIdx...), Load(rfBuf, rfLoadIdx...)))
	b.Loops = append(append([]*Loop{}, freshSpatial...), txC)
	newBindings := map[*IterVar]Expr{vtxC: txC.Var}
	for _, iv := range keepSpatial {
		newBindings[iv] = Substitute(rf.Bindings[iv], spatialLoopSub)
	}
	b.Bindings = newBindings

	// The factored block executes before the combine phase.
	for i, r := range s.fn.Blocks {
		if r == b {
			s.fn.Blocks = append(s.fn.Blocks[:i], append([]*BlockRealize{rf}, s.fn.Blocks[i:]...)...)
			break
		}
	}
	return rf
}

// DecomposeReduction splits the init store of a cumulative block out into
// its own block, placed immediately before the given reduction loop of the
// block's nest. The init block keeps the spatial loops nested inside that
// position; the remaining block is renamed with the update suffix.
func (s *Schedule) DecomposeReduction(b *BlockRealize, loop *Loop) *BlockRealize {
	owner, pos := s.ownerOf(loop)
	if owner != b {
		panic("tir: DecomposeReduction: loop does not belong to the block's nest")
	}
	if pos == 0 {
		panic("tir: DecomposeReduction: cannot decompose at the outermost loop")
	}
	blk := b.Block
	if blk.Init == nil {
		panic(fmt.Sprintf("tir: DecomposeReduction: block %q has no init", blk.Name))
	}
	reduce := s.reduceLoops(b)
	if !reduce[loop] {
		panic(fmt.Sprintf("tir: DecomposeReduction: loop %s is not a reduction loop", loop.Var.Name))
	}

	var spatialIVs []*IterVar
	for _, iv := range blk.IterVars {
		if iv.Kind == IterSpatial {
			spatialIVs = append(spatialIVs, iv)
		}
	}

	// Copy the spatial loops inside the decompose position; they are the
	// init block's own nest.
	loopSub := make(map[*Var]Expr)
	var initLoops []*Loop
	for _, l := range b.Loops[pos:] {
		if reduce[l] {
			continue
		}
		referenced := false
		for _, iv := range spatialIVs {
			if CollectVars(b.Bindings[iv])[l.Var] {
				referenced = true
				break
			}
		}
		if !referenced {
			continue
		}
		copied := NewLoop(l.Var.Name+"_init", l.Extent)
		loopSub[l.Var] = copied.Var
		initLoops = append(initLoops, copied)
	}

	initBlk := &Block{
		Name:     blk.Name + "_init",
		IterVars: spatialIVs,
		Writes:   []*BufferRegion{Region(blk.Init.Buffer, blk.Init.Indices...)},
		Body:     blk.Init,
	}
	init := &BlockRealize{
		Block:    initBlk,
		Loops:    initLoops,
		Bindings: make(map[*IterVar]Expr, len(spatialIVs)),
		Anchor:   b.Loops[pos-1],
	}
	for _, iv := range spatialIVs {
		init.Bindings[iv] = Substitute(b.Bindings[iv], loopSub)
	}

	blk.Init = nil
	blk.Name = blk.Name + "_update"

	for i, r := range s.fn.Blocks {
		if r == b {
			s.fn.Blocks = append(s.fn.Blocks[:i], append([]*BlockRealize{init}, s.fn.Blocks[i:]...)...)
			break
		}
	}
	return init
}
