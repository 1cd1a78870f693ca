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

package workload

import (
	"testing"

	"github.com/ajroetker/go-lightsched/tir"
)

func TestDecodeGEMVShapes(t *testing.T) {
	tests := []struct {
		name   string
		fn     *tir.PrimFunc
		wShape []int64
		sShape []int64
	}{
		{"nk decode k", NKDecodeK(4096, 4096), []int64{4096, 512}, []int64{4096, 128}},
		{"kn decode k", KNDecodeK(4096, 4096), []int64{512, 4096}, []int64{128, 4096}},
		{"nk decode n", NKDecodeN(4096, 4096), []int64{512, 4096}, []int64{128, 4096}},
		{"kn decode n", KNDecodeN(4096, 4096), []int64{4096, 512}, []int64{4096, 128}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, s := tt.fn.Params[0], tt.fn.Params[1]
			if w.DType != tir.UInt32 {
				t.Errorf("packed weights dtype = %s, want %s", w.DType, tir.UInt32)
			}
			assertShape(t, "W", w, tt.wShape)
			assertShape(t, "S", s, tt.sShape)

			if len(tt.fn.Blocks) != 2 {
				t.Fatalf("got %d blocks, want decode + matmul", len(tt.fn.Blocks))
			}
			matmul := tt.fn.Blocks[1].Block
			if matmul.Init == nil {
				t.Error("matvec needs an init store")
			}
		})
	}
}

func assertShape(t *testing.T, name string, b *tir.Buffer, want []int64) {
	t.Helper()
	if len(b.Shape) != len(want) {
		t.Fatalf("%s rank = %d, want %d", name, len(b.Shape), len(want))
	}
	for i := range want {
		if b.Shape[i] != want[i] {
			t.Errorf("%s shape = %v, want %v", name, b.Shape, want)
			return
		}
	}
}

func TestSigmoidKeepsIntermediate(t *testing.T) {
	fn := Sigmoid(64, 64)
	last := fn.Params[len(fn.Params)-1]
	if last.Name != "D" {
		t.Fatalf("output param = %s, want D", last.Name)
	}
	found := false
	for _, a := range fn.Allocs {
		if a.Name == "C" {
			found = true
		}
	}
	if !found {
		t.Error("matvec result must become an intermediate allocation")
	}
}

func TestBuild(t *testing.T) {
	for _, name := range Names() {
		fn, err := Build(name)
		if err != nil {
			t.Fatalf("Build(%q): %v", name, err)
		}
		if len(fn.Blocks) == 0 {
			t.Errorf("Build(%q): empty function", name)
		}
	}
	if _, err := Build("nope"); err == nil {
		t.Error("unknown workload must error")
	}
}
