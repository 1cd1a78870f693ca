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

// StructuralEqual reports whether two expressions have the same shape.
// Buffers must be the same object. With mapFreeVars true, variables are
// treated as interchangeable under a consistent one-to-one renaming; with
// mapFreeVars false, variables must be the same object.
func StructuralEqual(a, b Expr, mapFreeVars bool) bool {
	return structEqual(a, b, mapFreeVars, make(map[*Var]*Var), make(map[*Var]*Var))
}

func structEqual(a, b Expr, mapVars bool, fwd, rev map[*Var]*Var) bool {
	switch x := a.(type) {
	case *Var:
		y, ok := b.(*Var)
		if !ok {
			return false
		}
		if !mapVars {
			return x == y
		}
		if m, seen := fwd[x]; seen {
			return m == y
		}
		if m, seen := rev[y]; seen {
			return m == x
		}
		fwd[x] = y
		rev[y] = x
		return true
	case *IntImm:
		y, ok := b.(*IntImm)
		return ok && x.Value == y.Value && x.DType == y.DType
	case *FloatImm:
		y, ok := b.(*FloatImm)
		return ok && x.Value == y.Value && x.DType == y.DType
	case *BinOp:
		y, ok := b.(*BinOp)
		return ok && x.Op == y.Op &&
			structEqual(x.A, y.A, mapVars, fwd, rev) &&
			structEqual(x.B, y.B, mapVars, fwd, rev)
	case *Cast:
		y, ok := b.(*Cast)
		return ok && x.DType == y.DType && structEqual(x.Value, y.Value, mapVars, fwd, rev)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Name != y.Name || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !structEqual(x.Args[i], y.Args[i], mapVars, fwd, rev) {
				return false
			}
		}
		return true
	case *BufferLoad:
		y, ok := b.(*BufferLoad)
		if !ok || x.Buffer != y.Buffer || len(x.Indices) != len(y.Indices) {
			return false
		}
		for i := range x.Indices {
			if !structEqual(x.Indices[i], y.Indices[i], mapVars, fwd, rev) {
				return false
			}
		}
		return true
	}
	return false
}
