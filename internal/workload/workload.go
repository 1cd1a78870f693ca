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

// Package workload builds the candidate loop-nest fragments the scheduler
// consumes: 4-bit packed dequantize feeding a matrix-vector product, in
// both weight layouts and both packing dimensions, with optional pointwise
// and broadcast epilogues, plus an RMS-norm style pure reduction.
package workload

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/ajroetker/go-lightsched/tir"
)

// Weights pack eight 4-bit values per uint32 element, with one fp16 scale
// per group of 32.
const (
	packFactor = 8
	groupSize  = 32
)

// dequant expands one 4-bit value: select the nibble of the packed word,
// recenter around the zero point, and apply the group scale.
func dequant(w *tir.Buffer, wi, wj tir.Expr, packed tir.Expr, s *tir.Buffer, si, sj tir.Expr) tir.Expr {
	nibble := tir.BitwiseAnd(
		tir.ShiftRight(
			tir.Load(w, wi, wj),
			tir.Mul(&tir.Cast{DType: tir.UInt32, Value: tir.FloorMod(packed, tir.Int(packFactor))}, tir.UInt(4)),
		),
		tir.UInt(15),
	)
	return tir.Mul(
		tir.Sub(&tir.Cast{DType: tir.Float16, Value: nibble}, tir.Float16Imm(7)),
		tir.Load(s, si, sj),
	)
}

// decodeGEMV assembles decode + matvec over an n*k weight matrix.
// kMajor selects the decoded matrix layout: false gives B[n, k] (the
// reduction axis fastest in memory), true gives B[k, n]. packFirst packs
// the 4-bit values along B's first dimension, packSecond along its second.
func decodeGEMV(name string, n, k int64, kMajor, packFirst bool) *tir.PrimFunc {
	d0, d1 := n, k
	if kMajor {
		d0, d1 = k, n
	}
	wShape := []int64{d0, d1 / packFactor}
	sShape := []int64{d0, d1 / groupSize}
	if packFirst {
		wShape = []int64{d0 / packFactor, d1}
		sShape = []int64{d0 / groupSize, d1}
	}

	w := tir.NewBuffer("W", tir.UInt32, wShape...)
	s := tir.NewBuffer("S", tir.Float16, sShape...)
	v := tir.NewBuffer("V", tir.Float16, 1, 1, k)
	c := tir.NewBuffer("C", tir.Float16, 1, 1, n)
	fn := tir.NewPrimFunc(name, w, s, v, c)
	b := fn.Alloc(tir.NewBuffer("B", tir.Float16, d0, d1))

	vi := tir.SpatialIter("v_i", d0)
	vj := tir.SpatialIter("v_j", d1)
	var wIdx, sIdx [2]tir.Expr
	var packed tir.Expr
	if packFirst {
		packed = vi.Var
		wIdx = [2]tir.Expr{tir.FloorDiv(vi.Var, tir.Int(packFactor)), vj.Var}
		sIdx = [2]tir.Expr{tir.FloorDiv(vi.Var, tir.Int(groupSize)), vj.Var}
	} else {
		packed = vj.Var
		wIdx = [2]tir.Expr{vi.Var, tir.FloorDiv(vj.Var, tir.Int(packFactor))}
		sIdx = [2]tir.Expr{vi.Var, tir.FloorDiv(vj.Var, tir.Int(groupSize))}
	}
	fn.AddBlock(&tir.Block{
		Name:     "decode",
		IterVars: []*tir.IterVar{vi, vj},
		Reads: []*tir.BufferRegion{
			tir.Region(w, wIdx[0], wIdx[1]),
			tir.Region(s, sIdx[0], sIdx[1]),
		},
		Writes: []*tir.BufferRegion{tir.Region(b, vi.Var, vj.Var)},
		Body: tir.Store(b, []tir.Expr{vi.Var, vj.Var},
			dequant(w, wIdx[0], wIdx[1], packed, s, sIdx[0], sIdx[1])),
	})

	addMatVec(fn, v, b, c, n, k, kMajor, tir.Float16)
	return fn
}

// addMatVec appends the cumulative matrix-vector block C[...] += V * B.
func addMatVec(fn *tir.PrimFunc, v, b, c *tir.Buffer, n, k int64, kMajor bool, acc tir.DType) {
	i0 := tir.SpatialIter("v_i0", 1)
	i1 := tir.SpatialIter("v_i1", 1)
	i2 := tir.SpatialIter("v_i2", n)
	vk := tir.ReduceIter("v_k", k)

	bIdx := []tir.Expr{i2.Var, vk.Var}
	if kMajor {
		bIdx = []tir.Expr{vk.Var, i2.Var}
	}
	cIdx := []tir.Expr{i0.Var, i1.Var, i2.Var}
	var term tir.Expr = tir.Mul(tir.Load(v, i0.Var, i1.Var, vk.Var), tir.Load(b, bIdx...))
	if acc == tir.Float32 {
		term = tir.Mul(
			&tir.Cast{DType: tir.Float32, Value: tir.Load(v, i0.Var, i1.Var, vk.Var)},
			&tir.Cast{DType: tir.Float32, Value: tir.Load(b, bIdx...)},
		)
	}
	fn.AddBlock(&tir.Block{
		Name:     "matmul",
		IterVars: []*tir.IterVar{i0, i1, i2, vk},
		Reads: []*tir.BufferRegion{
			tir.Region(v, i0.Var, i1.Var, vk.Var),
			tir.Region(b, bIdx...),
		},
		Writes: []*tir.BufferRegion{tir.Region(c, cIdx...)},
		Init:   tir.Store(c, cIdx, tir.Float16Imm(0)),
		Body:   tir.Store(c, cIdx, tir.Add(tir.Load(c, cIdx...), term)),
	})
}

// NKDecodeK: B[n, k] with the reduction axis packed. The reduction axis is
// fastest in the dominant read, so scheduling picks the cooperative
// one-output-per-block strategy.
func NKDecodeK(n, k int64) *tir.PrimFunc { return decodeGEMV("nk_decode_k", n, k, false, false) }

// KNDecodeK: B[k, n] with the reduction axis packed. A spatial axis is
// fastest, so scheduling tiles outputs across thread x.
func KNDecodeK(n, k int64) *tir.PrimFunc { return decodeGEMV("kn_decode_k", n, k, true, true) }

// NKDecodeN: B[n, k] with the output axis packed; the packed split
// becomes a spatial micro-tile unrolled in the write-back.
func NKDecodeN(n, k int64) *tir.PrimFunc { return decodeGEMV("nk_decode_n", n, k, false, true) }

// KNDecodeN: B[k, n] with the output axis packed.
func KNDecodeN(n, k int64) *tir.PrimFunc { return decodeGEMV("kn_decode_n", n, k, true, false) }

// Sigmoid is NKDecodeK followed by a pointwise sigmoid into a separate
// output, leaving the matvec result in an intermediate buffer.
func Sigmoid(n, k int64) *tir.PrimFunc {
	fn := decodeGEMV("decode_gemv_sigmoid", n, k, false, false)
	matmul := fn.Blocks[len(fn.Blocks)-1].Block
	cPrev := matmul.Writes[0].Buffer
	fn.Params = fn.Params[:len(fn.Params)-1]
	fn.Alloc(cPrev)
	d := tir.NewBuffer("D", tir.Float16, 1, 1, n)
	fn.Params = append(fn.Params, d)

	i0 := tir.SpatialIter("v_i0", 1)
	i1 := tir.SpatialIter("v_i1", 1)
	i2 := tir.SpatialIter("v_i2", n)
	idx := []tir.Expr{i0.Var, i1.Var, i2.Var}
	fn.AddBlock(&tir.Block{
		Name:     "sigmoid",
		IterVars: []*tir.IterVar{i0, i1, i2},
		Reads:    []*tir.BufferRegion{tir.Region(cPrev, idx...)},
		Writes:   []*tir.BufferRegion{tir.Region(d, idx...)},
		Body: tir.Store(d, idx,
			&tir.Call{Name: "sigmoid", Args: []tir.Expr{tir.Load(cPrev, idx...)}}),
	})
	return fn
}

// FP32Accum is NKDecodeK accumulating in float32, with a cast epilogue
// narrowing back to the fp16 output.
func FP32Accum(n, k int64) *tir.PrimFunc {
	fn := decodeGEMV("decode_gemv_fp32", n, k, false, false)
	matmul := fn.Blocks[len(fn.Blocks)-1]
	fn.Blocks = fn.Blocks[:len(fn.Blocks)-1]
	c := matmul.Block.Writes[0].Buffer
	v := matmul.Block.Reads[0].Buffer
	b := matmul.Block.Reads[1].Buffer
	cf32 := fn.Alloc(tir.NewBuffer("C_fp32", tir.Float32, 1, 1, n))

	i0 := tir.SpatialIter("v_i0", 1)
	i1 := tir.SpatialIter("v_i1", 1)
	i2 := tir.SpatialIter("v_i2", n)
	vk := tir.ReduceIter("v_k", k)
	idx := []tir.Expr{i0.Var, i1.Var, i2.Var}
	term := tir.Mul(
		&tir.Cast{DType: tir.Float32, Value: tir.Load(v, i0.Var, i1.Var, vk.Var)},
		&tir.Cast{DType: tir.Float32, Value: tir.Load(b, i2.Var, vk.Var)},
	)
	fn.AddBlock(&tir.Block{
		Name:     "matmul",
		IterVars: []*tir.IterVar{i0, i1, i2, vk},
		Reads: []*tir.BufferRegion{
			tir.Region(v, i0.Var, i1.Var, vk.Var),
			tir.Region(b, i2.Var, vk.Var),
		},
		Writes: []*tir.BufferRegion{tir.Region(cf32, idx...)},
		Init:   tir.Store(cf32, idx, tir.Float32Imm(0)),
		Body:   tir.Store(cf32, idx, tir.Add(tir.Load(cf32, idx...), term)),
	})

	e0 := tir.SpatialIter("v_i0", 1)
	e1 := tir.SpatialIter("v_i1", 1)
	e2 := tir.SpatialIter("v_i2", n)
	eIdx := []tir.Expr{e0.Var, e1.Var, e2.Var}
	fn.AddBlock(&tir.Block{
		Name:     "cast",
		IterVars: []*tir.IterVar{e0, e1, e2},
		Reads:    []*tir.BufferRegion{tir.Region(cf32, eIdx...)},
		Writes:   []*tir.BufferRegion{tir.Region(c, eIdx...)},
		Body: tir.Store(c, eIdx,
			&tir.Cast{DType: tir.Float16, Value: tir.Load(cf32, eIdx...)}),
	})
	return fn
}

// OuterScale is KNDecodeK followed by an outer-product expansion: every
// matvec output is replicated across m rows, each row scaled by its gain.
// The replication makes the epilogue a broadcast over the row axis.
func OuterScale(n, k, m int64) *tir.PrimFunc {
	fn := decodeGEMV("decode_gemv_outer", n, k, true, true)
	matmul := fn.Blocks[len(fn.Blocks)-1].Block
	c := matmul.Writes[0].Buffer
	fn.Params = fn.Params[:len(fn.Params)-1]
	fn.Alloc(c)
	g := tir.NewBuffer("G", tir.Float16, m)
	d := tir.NewBuffer("D", tir.Float16, m, n)
	fn.Params = append(fn.Params, g, d)

	vb := tir.SpatialIter("v_b", m)
	va := tir.SpatialIter("v_a", n)
	fn.AddBlock(&tir.Block{
		Name:     "outer",
		IterVars: []*tir.IterVar{vb, va},
		Reads: []*tir.BufferRegion{
			tir.Region(g, vb.Var),
			tir.Region(c, tir.Int(0), tir.Int(0), va.Var),
		},
		Writes: []*tir.BufferRegion{tir.Region(d, vb.Var, va.Var)},
		Body: tir.Store(d, []tir.Expr{vb.Var, va.Var},
			tir.Mul(tir.Load(g, vb.Var), tir.Load(c, tir.Int(0), tir.Int(0), va.Var))),
	})
	return fn
}

// RMSNorm is a pure reduction (sum of squares over the hidden axis) whose
// epilogue replicates the reduced value across every output element.
func RMSNorm(k int64) *tir.PrimFunc {
	a := tir.NewBuffer("A", tir.Float16, 1, 1, k)
	g := tir.NewBuffer("B", tir.Float16, k)
	out := tir.NewBuffer("rms_norm", tir.Float16, 1, k)
	fn := tir.NewPrimFunc("rms_norm", a, g, out)
	red := fn.Alloc(tir.NewBuffer("Ared_temp", tir.Float32, 1, 1))

	v0 := tir.ReduceIter("v0", k)
	zero := []tir.Expr{tir.Int(0), tir.Int(0)}
	sq := tir.Mul(
		&tir.Cast{DType: tir.Float32, Value: tir.Load(a, tir.Int(0), tir.Int(0), v0.Var)},
		&tir.Cast{DType: tir.Float32, Value: tir.Load(a, tir.Int(0), tir.Int(0), v0.Var)},
	)
	fn.AddBlock(&tir.Block{
		Name:     "Ared_temp",
		IterVars: []*tir.IterVar{v0},
		Reads:    []*tir.BufferRegion{tir.Region(a, tir.Int(0), tir.Int(0), v0.Var)},
		Writes:   []*tir.BufferRegion{tir.Region(red, zero...)},
		Init:     tir.Store(red, zero, tir.Float32Imm(0)),
		Body:     tir.Store(red, zero, tir.Add(tir.Load(red, zero...), sq)),
	})

	s0 := tir.SpatialIter("v0", k)
	mean := tir.Mul(tir.Load(red, zero...), tir.Float32Imm(1/float64(k)))
	norm := tir.Mul(
		&tir.Cast{DType: tir.Float32, Value: tir.Load(g, s0.Var)},
		tir.Div(
			&tir.Cast{DType: tir.Float32, Value: tir.Load(a, tir.Int(0), tir.Int(0), s0.Var)},
			&tir.Call{Name: "sqrt", Args: []tir.Expr{tir.Add(mean, tir.Float32Imm(1e-6))}},
		),
	)
	fn.AddBlock(&tir.Block{
		Name:     "rms_norm",
		IterVars: []*tir.IterVar{s0},
		Reads: []*tir.BufferRegion{
			tir.Region(g, s0.Var),
			tir.Region(a, tir.Int(0), tir.Int(0), s0.Var),
			tir.Region(red, zero...),
		},
		Writes: []*tir.BufferRegion{tir.Region(out, tir.Int(0), s0.Var)},
		Body:   tir.Store(out, []tir.Expr{tir.Int(0), s0.Var}, &tir.Cast{DType: tir.Float16, Value: norm}),
	})
	return fn
}

var builders = map[string]func() *tir.PrimFunc{
	"nk-decode-k": func() *tir.PrimFunc { return NKDecodeK(4096, 4096) },
	"kn-decode-k": func() *tir.PrimFunc { return KNDecodeK(4096, 4096) },
	"nk-decode-n": func() *tir.PrimFunc { return NKDecodeN(4096, 4096) },
	"kn-decode-n": func() *tir.PrimFunc { return KNDecodeN(4096, 4096) },
	"sigmoid":     func() *tir.PrimFunc { return Sigmoid(4096, 4096) },
	"fp32-accum":  func() *tir.PrimFunc { return FP32Accum(4096, 4096) },
	"outer-scale": func() *tir.PrimFunc { return OuterScale(4096, 4096, 16) },
	"rms-norm":    func() *tir.PrimFunc { return RMSNorm(4096) },
}

// Build returns the named workload at its reference size.
func Build(name string) (*tir.PrimFunc, error) {
	b, ok := builders[name]
	if !ok {
		return nil, errors.Errorf("workload: unknown workload %q (have %v)", name, Names())
	}
	return b(), nil
}

// Names lists the available workloads in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
