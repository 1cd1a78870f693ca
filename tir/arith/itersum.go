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

// Package arith analyzes affine index expressions over block iterators.
package arith

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/ajroetker/go-lightsched/tir"
)

// IterSplit is one quasi-affine term of an iterator sum: it selects
// Extent contiguous values of Source starting at stride LowerFactor,
// contributing (Source // LowerFactor % Extent) * Scale to the sum.
type IterSplit struct {
	Source      *tir.Var
	LowerFactor int64
	Extent      int64
	Scale       int64
}

// IterSum is a sum of iterator splits plus a constant base.
type IterSum struct {
	Args []*IterSplit
	Base int64
}

// NormalizeToIterSum decomposes a flattened buffer offset into an iterator
// sum over the given iterator domains. Args come back ordered by
// descending scale, so the last term varies fastest in memory. Returns an
// error when the expression is not a sum of quasi-affine terms.
func NormalizeToIterSum(offset tir.Expr, doms map[*tir.Var]int64) (*IterSum, error) {
	sum := &IterSum{}
	if err := collect(sum, offset, 1, doms); err != nil {
		return nil, err
	}
	sort.SliceStable(sum.Args, func(i, j int) bool {
		return sum.Args[i].Scale > sum.Args[j].Scale
	})
	return sum, nil
}

func collect(sum *IterSum, e tir.Expr, scale int64, doms map[*tir.Var]int64) error {
	switch x := e.(type) {
	case *tir.IntImm:
		sum.Base += x.Value * scale
		return nil
	case *tir.Var:
		dom, ok := doms[x]
		if !ok {
			return errors.Errorf("arith: unknown iterator %s", x.Name)
		}
		sum.Args = append(sum.Args, &IterSplit{Source: x, LowerFactor: 1, Extent: dom, Scale: scale})
		return nil
	case *tir.BinOp:
		switch x.Op {
		case tir.OpAdd:
			if err := collect(sum, x.A, scale, doms); err != nil {
				return err
			}
			return collect(sum, x.B, scale, doms)
		case tir.OpSub:
			if err := collect(sum, x.A, scale, doms); err != nil {
				return err
			}
			return collect(sum, x.B, -scale, doms)
		case tir.OpMul:
			if c, ok := x.B.(*tir.IntImm); ok {
				return collect(sum, x.A, scale*c.Value, doms)
			}
			if c, ok := x.A.(*tir.IntImm); ok {
				return collect(sum, x.B, scale*c.Value, doms)
			}
			return errors.New("arith: non-constant multiplier")
		case tir.OpFloorDiv, tir.OpFloorMod:
			split, err := parseSplit(x, doms)
			if err != nil {
				return err
			}
			split.Scale = scale
			sum.Args = append(sum.Args, split)
			return nil
		}
	}
	return errors.Errorf("arith: not a quasi-affine term: %s", tir.ExprString(e))
}

// parseSplit handles v // f, v % m, and (v // f) % m over a single
// iterator with constant factors.
func parseSplit(b *tir.BinOp, doms map[*tir.Var]int64) (*IterSplit, error) {
	c, ok := b.B.(*tir.IntImm)
	if !ok || c.Value <= 0 {
		return nil, errors.New("arith: non-constant split factor")
	}
	if b.Op == tir.OpFloorMod {
		switch inner := b.A.(type) {
		case *tir.Var:
			if _, ok := doms[inner]; !ok {
				return nil, errors.Errorf("arith: unknown iterator %s", inner.Name)
			}
			return &IterSplit{Source: inner, LowerFactor: 1, Extent: c.Value}, nil
		case *tir.BinOp:
			if inner.Op != tir.OpFloorDiv {
				break
			}
			s, err := parseSplit(inner, doms)
			if err != nil {
				return nil, err
			}
			if s.Extent%c.Value != 0 {
				return nil, errors.Errorf("arith: %d does not divide extent %d", c.Value, s.Extent)
			}
			s.Extent = c.Value
			return s, nil
		}
		return nil, errors.New("arith: unsupported modulo operand")
	}
	v, ok := b.A.(*tir.Var)
	if !ok {
		return nil, errors.New("arith: unsupported division operand")
	}
	dom, ok := doms[v]
	if !ok {
		return nil, errors.Errorf("arith: unknown iterator %s", v.Name)
	}
	if dom%c.Value != 0 {
		return nil, errors.Errorf("arith: %d does not divide domain %d of %s", c.Value, dom, v.Name)
	}
	return &IterSplit{Source: v, LowerFactor: c.Value, Extent: dom / c.Value}, nil
}
