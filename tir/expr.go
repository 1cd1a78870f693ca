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

// Package tir implements a compact tensor-level intermediate representation:
// scalar expressions, buffers, compute blocks, loop nests, and a Schedule
// that rewrites loop nests through the usual scheduling primitives (split,
// fuse, reorder, bind, reduction factoring, compute relocation).
//
// The IR is deliberately small. It models exactly what loop-nest scheduling
// rules need to inspect and rewrite: point buffer accesses, perfectly nested
// loops per block, and affine iterator bindings. It does not model control
// flow, predication, or non-affine indexing.
package tir

import "github.com/x448/float16"

// DType names a scalar element type.
type DType string

// Supported element types.
const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Int32   DType = "int32"
	Int64   DType = "int64"
	UInt32  DType = "uint32"
)

// Expr is a scalar expression tree node.
type Expr interface {
	exprNode()
}

// Var is an iteration or loop variable. Identity is pointer identity: two
// distinct *Var values with the same name are different variables.
type Var struct {
	Name  string
	DType DType
}

// NewVar returns a fresh int32 variable.
func NewVar(name string) *Var { return &Var{Name: name, DType: Int32} }

// IntImm is an integer immediate.
type IntImm struct {
	Value int64
	DType DType
}

// Int returns an int32 immediate.
func Int(v int64) *IntImm { return &IntImm{Value: v, DType: Int32} }

// UInt returns a uint32 immediate.
func UInt(v int64) *IntImm { return &IntImm{Value: v, DType: UInt32} }

// FloatImm is a floating-point immediate.
type FloatImm struct {
	Value float64
	DType DType
}

// Float32Imm returns a float32 immediate.
func Float32Imm(v float64) *FloatImm { return &FloatImm{Value: v, DType: Float32} }

// Float16Imm returns a float16 immediate rounded to the nearest representable
// half-precision value, so that immediates constructed from float32 literals
// print and compare the way they would after a round trip through storage.
func Float16Imm(v float32) *FloatImm {
	return &FloatImm{Value: float64(float16.Fromfloat32(v).Float32()), DType: Float16}
}

// BinOpKind tags a binary operation.
type BinOpKind uint8

// Binary operation kinds.
const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpFloorDiv
	OpFloorMod
	OpDiv
	OpShiftRight
	OpBitwiseAnd
)

func (k BinOpKind) String() string {
	switch k {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpFloorDiv:
		return "//"
	case OpFloorMod:
		return "%"
	case OpDiv:
		return "/"
	case OpShiftRight:
		return ">>"
	case OpBitwiseAnd:
		return "&"
	}
	return "?"
}

// BinOp is a binary operation over two sub-expressions.
type BinOp struct {
	Op   BinOpKind
	A, B Expr
}

// Convenience constructors.
func Add(a, b Expr) *BinOp        { return &BinOp{Op: OpAdd, A: a, B: b} }
func Sub(a, b Expr) *BinOp        { return &BinOp{Op: OpSub, A: a, B: b} }
func Mul(a, b Expr) *BinOp        { return &BinOp{Op: OpMul, A: a, B: b} }
func FloorDiv(a, b Expr) *BinOp   { return &BinOp{Op: OpFloorDiv, A: a, B: b} }
func FloorMod(a, b Expr) *BinOp   { return &BinOp{Op: OpFloorMod, A: a, B: b} }
func Div(a, b Expr) *BinOp        { return &BinOp{Op: OpDiv, A: a, B: b} }
func ShiftRight(a, b Expr) *BinOp { return &BinOp{Op: OpShiftRight, A: a, B: b} }
func BitwiseAnd(a, b Expr) *BinOp { return &BinOp{Op: OpBitwiseAnd, A: a, B: b} }

// Cast converts a value to another element type.
type Cast struct {
	DType DType
	Value Expr
}

// Call is an opaque intrinsic call (sigmoid, sqrt, exp, ...).
type Call struct {
	Name string
	Args []Expr
}

// BufferLoad reads one element of a buffer at point indices.
type BufferLoad struct {
	Buffer  *Buffer
	Indices []Expr
}

// Load constructs a BufferLoad.
func Load(b *Buffer, indices ...Expr) *BufferLoad {
	return &BufferLoad{Buffer: b, Indices: indices}
}

func (*Var) exprNode()        {}
func (*IntImm) exprNode()     {}
func (*FloatImm) exprNode()   {}
func (*BinOp) exprNode()      {}
func (*Cast) exprNode()       {}
func (*Call) exprNode()       {}
func (*BufferLoad) exprNode() {}

// PostOrderVisit calls fn on every node of e, children before parents.
func PostOrderVisit(e Expr, fn func(Expr)) {
	switch x := e.(type) {
	case *BinOp:
		PostOrderVisit(x.A, fn)
		PostOrderVisit(x.B, fn)
	case *Cast:
		PostOrderVisit(x.Value, fn)
	case *Call:
		for _, a := range x.Args {
			PostOrderVisit(a, fn)
		}
	case *BufferLoad:
		for _, i := range x.Indices {
			PostOrderVisit(i, fn)
		}
	}
	fn(e)
}

// CollectVars returns the set of variables referenced by e.
func CollectVars(e Expr) map[*Var]bool {
	vars := make(map[*Var]bool)
	PostOrderVisit(e, func(n Expr) {
		if v, ok := n.(*Var); ok {
			vars[v] = true
		}
	})
	return vars
}

// CollectRegionVars returns the set of variables referenced by the index
// expressions of a point access region.
func CollectRegionVars(indices []Expr) map[*Var]bool {
	vars := make(map[*Var]bool)
	for _, idx := range indices {
		PostOrderVisit(idx, func(n Expr) {
			if v, ok := n.(*Var); ok {
				vars[v] = true
			}
		})
	}
	return vars
}

// Substitute rebuilds e with every variable that appears in sub replaced by
// its mapped expression. Nodes without substitutions are shared, not copied.
func Substitute(e Expr, sub map[*Var]Expr) Expr {
	if len(sub) == 0 {
		return e
	}
	switch x := e.(type) {
	case *Var:
		if r, ok := sub[x]; ok {
			return r
		}
		return x
	case *BinOp:
		a := Substitute(x.A, sub)
		b := Substitute(x.B, sub)
		if a == x.A && b == x.B {
			return x
		}
		return &BinOp{Op: x.Op, A: a, B: b}
	case *Cast:
		v := Substitute(x.Value, sub)
		if v == x.Value {
			return x
		}
		return &Cast{DType: x.DType, Value: v}
	case *Call:
		changed := false
		args := make([]Expr, len(x.Args))
		for i, a := range x.Args {
			args[i] = Substitute(a, sub)
			if args[i] != a {
				changed = true
			}
		}
		if !changed {
			return x
		}
		return &Call{Name: x.Name, Args: args}
	case *BufferLoad:
		changed := false
		idx := make([]Expr, len(x.Indices))
		for i, a := range x.Indices {
			idx[i] = Substitute(a, sub)
			if idx[i] != a {
				changed = true
			}
		}
		if !changed {
			return x
		}
		return &BufferLoad{Buffer: x.Buffer, Indices: idx}
	}
	return e
}

// SubstituteIndices applies Substitute across a slice of index expressions.
func SubstituteIndices(indices []Expr, sub map[*Var]Expr) []Expr {
	out := make([]Expr, len(indices))
	for i, e := range indices {
		out[i] = Substitute(e, sub)
	}
	return out
}
