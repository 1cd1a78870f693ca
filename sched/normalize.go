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
	"github.com/ajroetker/go-lightsched/tir"
)

// NormalizePrimFunc brings the schedule's function into canonical form and
// returns one BlockInfo per block. Canonical form means one identity-bound
// loop per iteration variable and at least one spatial axis per block; a
// pure-reduction block gains a unit spatial iteration variable. Returns
// false when the function is already scheduled, carries thread bindings, or
// uses non-identity bindings a rule cannot reason about.
func NormalizePrimFunc(s *tir.Schedule) ([]*BlockInfo, bool) {
	fn := s.Func()
	if fn.Scheduled() {
		return nil, false
	}
	var infos []*BlockInfo
	for _, r := range fn.Blocks {
		if r.Anchor != nil {
			return nil, false
		}
		for _, l := range r.Loops {
			if l.Thread != "" {
				return nil, false
			}
		}
		info := &BlockInfo{Realize: r}
		spatial := false
		trivial := make(map[*tir.Var]tir.Expr)
		for _, iv := range r.Block.IterVars {
			v, ok := r.Bindings[iv].(*tir.Var)
			if !ok {
				return nil, false
			}
			var loop *tir.Loop
			for _, l := range r.Loops {
				if l.Var == v {
					loop = l
					break
				}
			}
			if loop == nil {
				return nil, false
			}
			if iv.Kind == tir.IterSpatial {
				spatial = true
			}
			if iv.Dom == 1 {
				trivial[iv.Var] = tir.Int(0)
			}
			info.Iters = append(info.Iters, &IterInfo{Iter: iv, Loop: loop})
		}
		substituteTrivial(r.Block, trivial)
		if !spatial {
			info.Iters = append(info.Iters, addUnitSpatial(s, r))
		}
		infos = append(infos, info)
	}
	return infos, true
}

// substituteTrivial pins every domain-1 iteration variable to zero in the
// block's access regions and stores. Access analysis then sees only the
// iterations that actually select data.
func substituteTrivial(blk *tir.Block, trivial map[*tir.Var]tir.Expr) {
	if len(trivial) == 0 {
		return
	}
	for _, reg := range blk.Reads {
		reg.Indices = tir.SubstituteIndices(reg.Indices, trivial)
	}
	for _, reg := range blk.Writes {
		reg.Indices = tir.SubstituteIndices(reg.Indices, trivial)
	}
	if blk.Init != nil {
		blk.Init = tir.Store(blk.Init.Buffer,
			tir.SubstituteIndices(blk.Init.Indices, trivial),
			tir.Substitute(blk.Init.Value, trivial))
	}
	blk.Body = tir.Store(blk.Body.Buffer,
		tir.SubstituteIndices(blk.Body.Indices, trivial),
		tir.Substitute(blk.Body.Value, trivial))
}

// addUnitSpatial gives a pure-reduction block a trivial spatial axis so the
// grid dimension has something to bind to.
func addUnitSpatial(s *tir.Schedule, r *tir.BlockRealize) *IterInfo {
	iv := tir.SpatialIter("vu", 1)
	loop := s.AddUnitLoop(r)
	r.Block.IterVars = append(r.Block.IterVars, iv)
	r.Bindings[iv] = loop.Var
	return &IterInfo{Iter: iv, Loop: loop}
}
