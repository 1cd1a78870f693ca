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

package sched

import (
	"github.com/samber/lo"

	"github.com/ajroetker/go-lightsched/tir"
)

// InlineContiguousSpatial folds leading injective blocks into their
// consumers until the first non-injective block, and returns the surviving
// BlockInfos. A block is folded when it stores a pure function of its
// iteration variables into an intermediate buffer that later blocks read;
// the consumers then compute that value in place of the load. Blocks that
// cannot be folded stay put.
func InlineContiguousSpatial(s *tir.Schedule, infos []*BlockInfo) []*BlockInfo {
	for len(infos) > 1 && infos[0].IsInjective() {
		if !inlineInto(s.Func(), infos[0], infos[1:]) {
			break
		}
		infos = infos[1:]
	}
	return infos
}

func inlineInto(fn *tir.PrimFunc, prod *BlockInfo, consumers []*BlockInfo) bool {
	blk := prod.Block()
	if len(blk.Writes) != 1 || blk.Init != nil {
		return false
	}
	buf := blk.Writes[0].Buffer
	if fn.IsParam(buf) {
		return false
	}
	// The write must be the identity access W[v0, v1, ...] so read indices
	// of a consumer map directly onto producer iteration variables.
	dimOf := make(map[int]*tir.IterVar, len(blk.Writes[0].Indices))
	for d, idx := range blk.Writes[0].Indices {
		v, ok := idx.(*tir.Var)
		if !ok {
			return false
		}
		iv, found := lo.Find(blk.IterVars, func(iv *tir.IterVar) bool { return iv.Var == v })
		if !found {
			return false
		}
		dimOf[d] = iv
	}

	value := blk.Body.Value
	for _, c := range consumers {
		cblk := c.Block()
		var reads []*tir.BufferRegion
		for _, reg := range cblk.Reads {
			if reg.Buffer != buf {
				reads = append(reads, reg)
				continue
			}
			sub := bindProducer(dimOf, reg.Indices)
			for _, pr := range blk.Reads {
				reads = append(reads, &tir.BufferRegion{
					Buffer:  pr.Buffer,
					Indices: tir.SubstituteIndices(pr.Indices, sub),
				})
			}
		}
		cblk.Reads = reads
		cblk.Body.Value = replaceLoads(cblk.Body.Value, buf, func(indices []tir.Expr) tir.Expr {
			return tir.Substitute(value, bindProducer(dimOf, indices))
		})
	}

	fn.Blocks = lo.Without(fn.Blocks, prod.Realize)
	fn.RemoveAlloc(buf)
	return true
}

// bindProducer maps each producer iteration variable to the consumer index
// expression selecting it.
func bindProducer(dimOf map[int]*tir.IterVar, indices []tir.Expr) map[*tir.Var]tir.Expr {
	sub := make(map[*tir.Var]tir.Expr, len(indices))
	for d, idx := range indices {
		sub[dimOf[d].Var] = idx
	}
	return sub
}

// replaceLoads rebuilds e with every load of buf replaced by repl applied
// to the load's indices.
func replaceLoads(e tir.Expr, buf *tir.Buffer, repl func([]tir.Expr) tir.Expr) tir.Expr {
	switch x := e.(type) {
	case *tir.BufferLoad:
		if x.Buffer == buf {
			return repl(x.Indices)
		}
		return x
	case *tir.BinOp:
		return &tir.BinOp{Op: x.Op, A: replaceLoads(x.A, buf, repl), B: replaceLoads(x.B, buf, repl)}
	case *tir.Cast:
		return &tir.Cast{DType: x.DType, Value: replaceLoads(x.Value, buf, repl)}
	case *tir.Call:
		args := make([]tir.Expr, len(x.Args))
		for i, a := range x.Args {
			args[i] = replaceLoads(a, buf, repl)
		}
		return &tir.Call{Name: x.Name, Args: args}
	}
	return e
}
