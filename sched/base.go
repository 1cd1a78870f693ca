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

// Package sched is the scheduling-rule framework: rules inspect a normalized
// function through BlockInfo handles and either rewrite it into a scheduled
// form or decline.
package sched

import (
	"github.com/samber/lo"

	"github.com/ajroetker/go-lightsched/target"
	"github.com/ajroetker/go-lightsched/tir"
)

// Rule decides whether a function matches its pattern and, when it does,
// rewrites the function's loop structure for the target. The second result
// is false when the function does not match; normalization may still have
// canonicalized it by then. reserved reports whether outer machinery
// reserves some thread budget for itself.
type Rule interface {
	Apply(fn *tir.PrimFunc, tgt *target.Target, reserved bool) (*tir.Schedule, bool)
}

// IterInfo pairs a block iteration variable with the loop driving it.
type IterInfo struct {
	Iter *tir.IterVar
	Loop *tir.Loop
}

// Kind forwards the iteration variable's kind.
func (i *IterInfo) Kind() tir.IterKind { return i.Iter.Kind }

// Dom forwards the iteration variable's domain extent.
func (i *IterInfo) Dom() int64 { return i.Iter.Dom }

// BlockInfo is a rule's view of one block: its realization plus one
// IterInfo per iteration variable, in declaration order.
type BlockInfo struct {
	Realize *tir.BlockRealize
	Iters   []*IterInfo
}

// Block returns the underlying block.
func (b *BlockInfo) Block() *tir.Block { return b.Realize.Block }

// IsInjective reports whether every iteration variable is spatial.
func (b *BlockInfo) IsInjective() bool {
	return lo.EveryBy(b.Iters, func(i *IterInfo) bool { return i.Kind() == tir.IterSpatial })
}

// IsReduction reports whether the block carries at least one reduction
// iteration variable.
func (b *BlockInfo) IsReduction() bool {
	return lo.SomeBy(b.Iters, func(i *IterInfo) bool { return i.Kind() == tir.IterReduce })
}
