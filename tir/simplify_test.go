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

func TestSimplify(t *testing.T) {
	x := NewVar("x")
	y := NewVar("y")
	u := NewVar("u")
	extents := map[*Var]int64{x: 8, y: 16, u: 1}

	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"const fold add", Add(Int(2), Int(3)), "5"},
		{"const fold floordiv", FloorDiv(Int(7), Int(2)), "3"},
		{"add zero", Add(x, Int(0)), "x"},
		{"sub zero", Sub(x, Int(0)), "x"},
		{"mul zero", Mul(x, Int(0)), "0"},
		{"mul one", Mul(x, Int(1)), "x"},
		{"div by one", FloorDiv(x, Int(1)), "x"},
		{"mod by one", FloorMod(x, Int(1)), "0"},
		{"div exceeding range", FloorDiv(x, Int(16)), "0"},
		{"mod exceeding range", FloorMod(x, Int(16)), "x"},
		{"mod within range kept", FloorMod(y, Int(8)), "y % 8"},
		{"unit extent var", Add(u, x), "x"},
		{"distribute over sum", Mul(Add(Mul(x, Int(4)), y), Int(8)), "(x * 32) + (y * 8)"},
		{"merge nested factors", Mul(Mul(x, Int(4)), Int(2)), "x * 8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExprString(Simplify(tt.expr, extents))
			if got != tt.want {
				t.Errorf("Simplify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpperBound(t *testing.T) {
	x := NewVar("x")
	y := NewVar("y")
	extents := map[*Var]int64{x: 8, y: 16}

	tests := []struct {
		name string
		expr Expr
		want int64
		ok   bool
	}{
		{"var", x, 7, true},
		{"const", Int(5), 5, true},
		{"sum of strided terms", Add(Mul(x, Int(16)), y), 127, true},
		{"floordiv", FloorDiv(y, Int(4)), 3, true},
		{"floormod", FloorMod(y, Int(4)), 3, true},
		{"unknown var", NewVar("z"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := upperBound(tt.expr, extents)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("upperBound() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStructuralEqual(t *testing.T) {
	a := NewVar("a")
	b := NewVar("b")
	buf := NewBuffer("A", Float32, 16)

	if !StructuralEqual(Add(a, Int(1)), Add(a, Int(1)), false) {
		t.Error("identical trees must compare equal")
	}
	if StructuralEqual(Add(a, Int(1)), Add(b, Int(1)), false) {
		t.Error("distinct vars must differ without free-var mapping")
	}
	if !StructuralEqual(Load(buf, a), Load(buf, b), true) {
		t.Error("free-var mapping must identify a with b")
	}
	if StructuralEqual(Add(a, a), Add(a, b), true) {
		t.Error("free-var mapping must stay bijective")
	}
}
