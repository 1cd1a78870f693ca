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

// Package gpu holds GPU scheduling rules. DecodeGEMV rewrites
// dequantize-then-reduce loop nests (quantized matrix-vector products and
// kindred reductions) into grid/thread execution plans with factored
// partial sums.
package gpu

import (
	"github.com/samber/lo"

	"github.com/ajroetker/go-lightsched/sched"
	"github.com/ajroetker/go-lightsched/target"
	"github.com/ajroetker/go-lightsched/tir"
	"github.com/ajroetker/go-lightsched/tir/arith"
)

// DecodeGEMV schedules a single cumulative reduction block, optionally
// followed by one injective epilogue, onto a GPU. It picks between two
// strategies by the memory order of the block's dominant read: when the
// reduction axis varies fastest, consecutive threads cooperate on one
// output element; when a spatial axis varies fastest, a 16x16 tile assigns
// outputs to threads and partials to a second thread dimension.
type DecodeGEMV struct{}

// Apply implements sched.Rule. It returns false whenever the function does
// not match the dequantize-then-reduce shape; fn may still have been brought
// into canonical form by then.
func (DecodeGEMV) Apply(fn *tir.PrimFunc, tgt *target.Target, _ bool) (*tir.Schedule, bool) {
	s := tir.NewSchedule(fn)
	infos, ok := sched.NormalizePrimFunc(s)
	if !ok {
		return nil, false
	}
	infos = sched.InlineContiguousSpatial(s, infos)

	var epilogue *sched.BlockInfo
	switch len(infos) {
	case 1:
	case 2:
		epilogue = infos[1]
		if !epilogue.IsInjective() {
			return nil, false
		}
	default:
		return nil, false
	}

	info := infos[0]
	blk := info.Block()
	if !info.IsReduction() || len(blk.Writes) != 1 || reductionExpr(blk) == nil {
		return nil, false
	}

	doms := make(map[*tir.Var]int64, len(blk.IterVars))
	for _, iv := range blk.IterVars {
		doms[iv.Var] = iv.Dom
	}
	sum, err := arith.NormalizeToIterSum(dominantRead(blk), doms)
	if err != nil {
		return nil, false
	}
	innerReduction, cFactor, ok := normalizeIters(s, info, sum)
	if !ok {
		return nil, false
	}

	if innerReduction {
		schedInnerReduction(s, tgt, info.Realize, cFactor, epilogue)
	} else {
		schedInnerSpatial(s, info.Realize, cFactor, epilogue)
	}
	fn.Attrs[tir.AttrScheduled] = true
	return s, true
}

// reductionExpr returns Y when the block body has the cumulative form
// X[idx] = X[idx] + Y, and nil otherwise.
func reductionExpr(blk *tir.Block) tir.Expr {
	add, ok := blk.Body.Value.(*tir.BinOp)
	if !ok || add.Op != tir.OpAdd {
		return nil
	}
	if !tir.StructuralEqual(add.A, tir.Load(blk.Body.Buffer, blk.Body.Indices...), true) {
		return nil
	}
	return add.B
}

// dominantRead picks the read access touching the most distinct iteration
// variables (first wins on ties) and returns its flattened linear offset.
func dominantRead(blk *tir.Block) tir.Expr {
	var dominant *tir.BufferRegion
	most := -1
	for _, reg := range blk.Reads {
		n := len(tir.CollectRegionVars(reg.Indices))
		if n > most {
			most = n
			dominant = reg
		}
	}
	return dominant.Buffer.OffsetOf(dominant.Indices)
}

// normalizeIters regroups the block's loops by the dominant read's memory
// order: spatial axes, then reduction axes, then at most one micro-tile
// axis split off a term with lower factor above one. Spatial and reduction
// groups are each fused to a single loop. Reports the kind of the
// fastest-varying axis and, when the micro-tile came off a spatial axis,
// its width as an unroll factor. Returns ok=false when the sum has a
// nonzero base, needs a second micro-tile split, or leaves a non-trivial
// iteration unaccounted for.
func normalizeIters(s *tir.Schedule, info *sched.BlockInfo, sum *arith.IterSum) (innerReduction bool, cFactor int64, ok bool) {
	if sum.Base != 0 {
		return false, 0, false
	}
	iterOf := make(map[*tir.Var]*sched.IterInfo, len(info.Iters))
	for _, ii := range info.Iters {
		iterOf[ii.Iter.Var] = ii
	}

	var sLoops, rLoops, cLoops []*tir.Loop
	for _, term := range sum.Args {
		ii := iterOf[term.Source]
		if ii == nil {
			return false, 0, false
		}
		delete(iterOf, term.Source)
		loop := ii.Loop
		isReduction := ii.Kind() == tir.IterReduce
		if term.LowerFactor > 1 {
			if len(cLoops) > 0 {
				return false, 0, false
			}
			parts := s.Split(loop, -1, term.LowerFactor)
			loop = parts[0]
			cLoops = append(cLoops, parts[1])
			if !isReduction {
				cFactor = term.LowerFactor
			}
		}
		if isReduction {
			rLoops = append(rLoops, loop)
		} else {
			sLoops = append(sLoops, loop)
		}
		innerReduction = isReduction
	}

	// Iterations the dominant read never touches must be trivial spatial.
	for _, ii := range info.Iters {
		if iterOf[ii.Iter.Var] == nil {
			continue
		}
		if ii.Kind() != tir.IterSpatial || ii.Dom() != 1 {
			return false, 0, false
		}
		sLoops = append(sLoops, ii.Loop)
	}
	if len(sLoops) == 0 || len(rLoops) == 0 {
		return false, 0, false
	}
	nSpatial := lo.CountBy(info.Iters, func(ii *sched.IterInfo) bool { return ii.Kind() == tir.IterSpatial })
	if len(sLoops) != nSpatial {
		return false, 0, false
	}
	if len(cLoops) == 0 {
		cLoops = append(cLoops, s.AddUnitLoop(info.Realize))
	}

	order := append(append(append([]*tir.Loop{}, sLoops...), rLoops...), cLoops...)
	s.Reorder(order...)
	s.Fuse(sLoops...)
	s.Fuse(rLoops...)
	return innerReduction, cFactor, true
}

// schedInnerReduction handles the reduction-fastest layout: all threads of
// a block cooperate on one fused-spatial output, each accumulating a
// partial over a slice of the reduction axis.
func schedInnerReduction(s *tir.Schedule, tgt *target.Target, b *tir.BlockRealize, unrollSpatialFactor int64, epilogue *sched.BlockInfo) {
	r := b.Loops[1]
	lenTx := SuggestThreadsPerBlock(tgt, []*tir.Loop{r})[0]

	parts := s.Split(r, -1, lenTx)
	rf := s.RFactor(parts[1], 0)
	bx, r, tx := rf.Loops[0], rf.Loops[1], rf.Loops[2]
	s.Reorder(bx, tx, r)
	s.Bind(bx, "blockIdx.x")
	s.Bind(tx, "threadIdx.x")
	s.SetScope(rf, 0, tir.ScopeLocal)
	s.DecomposeReduction(rf, r)

	// Write-back: the combine phase reduces the lenTx partials per output.
	s.ReverseComputeAt(b, bx, true)
	tx = b.Loops[0]
	sp := s.Fuse(b.Loops[1:]...)
	s.Reorder(sp, tx)
	if unrollSpatialFactor > 0 {
		split := s.Split(sp, -1, unrollSpatialFactor)
		s.Reorder(split[0], tx, split[1])
	}
	s.Bind(tx, "threadIdx.x")

	if epilogue != nil {
		scheduleEpilogue(s, b, epilogue.Realize, bx, lenTx, 0)
	}
}

// schedInnerSpatial handles the spatial-fastest layout with a fixed 16x16
// tile: thread x owns outputs, thread y owns reduction partials.
func schedInnerSpatial(s *tir.Schedule, b *tir.BlockRealize, unrollSpatialFactor int64, epilogue *sched.BlockInfo) {
	const lenTx, lenTy = 16, 16
	s.Split(b.Loops[0], -1, int64(lenTx))
	rParts := s.Split(b.Loops[2], -1, int64(lenTy))

	rf := s.RFactor(rParts[1], 0)
	bx, tx, r, ty := rf.Loops[0], rf.Loops[1], rf.Loops[2], rf.Loops[3]
	s.Reorder(bx, tx, ty, r)
	s.Bind(tx, "threadIdx.x")
	s.Bind(ty, "threadIdx.y")
	s.Bind(bx, "blockIdx.x")
	s.SetScope(rf, 0, tir.ScopeLocal)
	s.DecomposeReduction(rf, r)

	s.ReverseComputeAt(b, bx, true)
	ty = b.Loops[0]
	sp := s.Fuse(b.Loops[1:]...)
	s.Reorder(sp, ty)
	if unrollSpatialFactor > 0 {
		split := s.Split(sp, -1, unrollSpatialFactor)
		s.Reorder(split[0], ty, split[1])
		sp = split[0]
	}
	s.Bind(sp, "threadIdx.x")
	s.Bind(ty, "threadIdx.y")

	if epilogue != nil {
		scheduleEpilogue(s, b, epilogue.Realize, bx, lenTx, lenTy)
	}
}

// scheduleEpilogue relocates the epilogue under the grid loop. A broadcast
// epilogue (one replicating partial results across outputs) needs the
// combine result visible to every thread: shared scope, with the epilogue's
// own loops spread over the thread dimensions. Otherwise the result stays
// thread-private. lenTy is zero in the inner-reduction strategy, which uses
// a single thread dimension.
func scheduleEpilogue(s *tir.Schedule, b, ep *tir.BlockRealize, bx *tir.Loop, lenTx, lenTy int64) {
	s.ReverseComputeAt(ep, bx, false)
	if isBroadcastEpilogue(b, ep) {
		s.SetScope(b, 0, tir.ScopeShared)
		// At least one loop survives relocation: broadcasting means some
		// non-trivial iteration is absent from the producer read, and
		// ReverseComputeAt keeps such iterations at their full domain.
		fused := s.Fuse(ep.Loops...)
		if lenTy > 0 {
			split := s.Split(fused, -1, lenTx, lenTy)
			s.Bind(split[1], "threadIdx.x")
			s.Bind(split[2], "threadIdx.y")
		} else {
			split := s.Split(fused, -1, lenTx)
			s.Bind(split[1], "threadIdx.x")
		}
	} else {
		s.SetScope(b, 0, tir.ScopeLocal)
	}
}

// isBroadcastEpilogue reports whether the epilogue reads the block's output
// through strictly fewer iteration variables than it has non-trivial
// iterations, i.e. replicates each reduced value across outputs.
func isBroadcastEpilogue(b, ep *tir.BlockRealize) bool {
	writeBufs := make(map[*tir.Buffer]bool, len(b.Block.Writes))
	for _, w := range b.Block.Writes {
		writeBufs[w.Buffer] = true
	}
	nontrivial := lo.CountBy(ep.Block.IterVars, func(iv *tir.IterVar) bool { return iv.Dom != 1 })
	for _, reg := range ep.Block.Reads {
		if !writeBufs[reg.Buffer] {
			continue
		}
		if len(tir.CollectRegionVars(reg.Indices)) < nontrivial {
			return true
		}
	}
	return false
}
