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

package arith

import (
	"testing"

	"github.com/ajroetker/go-lightsched/tir"
)

func TestNormalizeToIterSum(t *testing.T) {
	i := tir.NewVar("i")
	k := tir.NewVar("k")
	doms := map[*tir.Var]int64{i: 4096, k: 4096}

	// W[i, k // 8] flattened over a (4096, 512) buffer: i*512 + k//8.
	offset := tir.Add(tir.Mul(i, tir.Int(512)), tir.FloorDiv(k, tir.Int(8)))
	sum, err := NormalizeToIterSum(offset, doms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Base != 0 {
		t.Fatalf("base = %d, want 0", sum.Base)
	}
	if len(sum.Args) != 2 {
		t.Fatalf("got %d terms, want 2", len(sum.Args))
	}
	first, second := sum.Args[0], sum.Args[1]
	if first.Source != i || first.LowerFactor != 1 || first.Extent != 4096 || first.Scale != 512 {
		t.Errorf("first term = %+v", first)
	}
	if second.Source != k || second.LowerFactor != 8 || second.Extent != 512 || second.Scale != 1 {
		t.Errorf("second term = %+v", second)
	}
}

func TestNormalizeToIterSumOrdersByScale(t *testing.T) {
	i := tir.NewVar("i")
	k := tir.NewVar("k")
	doms := map[*tir.Var]int64{i: 4096, k: 4096}

	// B[k, i] flattened: k*4096 + i. The reduction source lands first.
	offset := tir.Add(tir.Mul(k, tir.Int(4096)), i)
	sum, err := NormalizeToIterSum(offset, doms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Args[0].Source != k || sum.Args[1].Source != i {
		t.Error("terms must be ordered by descending scale")
	}
}

func TestNormalizeToIterSumBase(t *testing.T) {
	k := tir.NewVar("k")
	doms := map[*tir.Var]int64{k: 16}

	sum, err := NormalizeToIterSum(tir.Add(k, tir.Int(3)), doms)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Base != 3 {
		t.Errorf("base = %d, want 3", sum.Base)
	}
}

func TestNormalizeToIterSumRejects(t *testing.T) {
	i := tir.NewVar("i")
	k := tir.NewVar("k")
	doms := map[*tir.Var]int64{i: 16, k: 16}

	tests := []struct {
		name   string
		offset tir.Expr
	}{
		{"unknown iterator", tir.NewVar("z")},
		{"non-constant multiplier", tir.Mul(i, k)},
		{"non-dividing factor", tir.FloorDiv(k, tir.Int(5))},
		{"nested non-affine", tir.FloorDiv(tir.Mul(i, k), tir.Int(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeToIterSum(tt.offset, doms); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestNormalizeToIterSumModulo(t *testing.T) {
	k := tir.NewVar("k")
	doms := map[*tir.Var]int64{k: 64}

	sum, err := NormalizeToIterSum(tir.FloorMod(tir.FloorDiv(k, tir.Int(8)), tir.Int(4)), doms)
	if err != nil {
		t.Fatal(err)
	}
	arg := sum.Args[0]
	if arg.Source != k || arg.LowerFactor != 8 || arg.Extent != 4 {
		t.Errorf("term = %+v, want source k, lower factor 8, extent 4", arg)
	}
}
