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

// Simplify rewrites e using integer identities and the known value ranges of
// loop variables. extents maps a variable to its loop extent; a variable v
// with extents[v] == n is assumed to range over [0, n). The result is the
// canonical flattened form the scheduling layer relies on: products are
// distributed over sums, and floordiv/floormod by a divisor that exceeds the
// operand's range are eliminated.
func Simplify(e Expr, extents map[*Var]int64) Expr {
	switch x := e.(type) {
	case *Var:
		if extents[x] == 1 {
			return Int(0)
		}
		return x
	case *IntImm, *FloatImm:
		return e
	case *Cast:
		return &Cast{DType: x.DType, Value: Simplify(x.Value, extents)}
	case *Call:
		args := make([]Expr, len(x.Args))
		for i, a := range x.Args {
			args[i] = Simplify(a, extents)
		}
		return &Call{Name: x.Name, Args: args}
	case *BufferLoad:
		idx := make([]Expr, len(x.Indices))
		for i, a := range x.Indices {
			idx[i] = Simplify(a, extents)
		}
		return &BufferLoad{Buffer: x.Buffer, Indices: idx}
	case *BinOp:
		a := Simplify(x.A, extents)
		b := Simplify(x.B, extents)
		return simplifyBinOp(x.Op, a, b, extents)
	}
	return e
}

func simplifyBinOp(op BinOpKind, a, b Expr, extents map[*Var]int64) Expr {
	ia, aImm := a.(*IntImm)
	ib, bImm := b.(*IntImm)
	if aImm && bImm {
		if v, ok := foldInt(op, ia.Value, ib.Value); ok {
			return &IntImm{Value: v, DType: ia.DType}
		}
	}
	switch op {
	case OpAdd:
		if aImm && ia.Value == 0 {
			return b
		}
		if bImm && ib.Value == 0 {
			return a
		}
	case OpSub:
		if bImm && ib.Value == 0 {
			return a
		}
	case OpMul:
		// Canonicalize the immediate to the right-hand side.
		if aImm && !bImm {
			a, b = b, a
		}
		if imm, ok := b.(*IntImm); ok {
			switch imm.Value {
			case 0:
				return Int(0)
			case 1:
				return a
			}
			// Distribute over sums and merge nested constant factors so
			// bindings stay in flattened sum-of-strided-terms form.
			if bin, ok := a.(*BinOp); ok {
				switch bin.Op {
				case OpAdd:
					return simplifyBinOp(OpAdd,
						simplifyBinOp(OpMul, bin.A, imm, extents),
						simplifyBinOp(OpMul, bin.B, imm, extents),
						extents)
				case OpMul:
					if inner, ok := bin.B.(*IntImm); ok {
						return simplifyBinOp(OpMul, bin.A,
							&IntImm{Value: inner.Value * imm.Value, DType: inner.DType}, extents)
					}
				}
			}
		}
	case OpFloorDiv:
		if bImm {
			if ib.Value == 1 {
				return a
			}
			if ub, ok := upperBound(a, extents); ok && ub < ib.Value {
				return Int(0)
			}
		}
	case OpFloorMod:
		if bImm {
			if ib.Value == 1 {
				return Int(0)
			}
			if ub, ok := upperBound(a, extents); ok && ub < ib.Value {
				return a
			}
		}
	}
	return &BinOp{Op: op, A: a, B: b}
}

func foldInt(op BinOpKind, a, b int64) (int64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpMul:
		return a * b, true
	case OpFloorDiv:
		if b == 0 {
			return 0, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, true
	case OpFloorMod:
		if b == 0 {
			return 0, false
		}
		return a - b*func() int64 {
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return q
		}(), true
	case OpShiftRight:
		if b < 0 || b > 63 {
			return 0, false
		}
		return a >> uint(b), true
	case OpBitwiseAnd:
		return a & b, true
	}
	return 0, false
}

// upperBound returns the inclusive maximum of a non-negative integer
// expression, when derivable from loop extents.
func upperBound(e Expr, extents map[*Var]int64) (int64, bool) {
	switch x := e.(type) {
	case *Var:
		if n, ok := extents[x]; ok && n > 0 {
			return n - 1, true
		}
		return 0, false
	case *IntImm:
		if x.Value < 0 {
			return 0, false
		}
		return x.Value, true
	case *BinOp:
		switch x.Op {
		case OpAdd:
			ua, oka := upperBound(x.A, extents)
			ub, okb := upperBound(x.B, extents)
			return ua + ub, oka && okb
		case OpMul:
			ua, oka := upperBound(x.A, extents)
			ub, okb := upperBound(x.B, extents)
			return ua * ub, oka && okb
		case OpFloorDiv:
			if c, ok := x.B.(*IntImm); ok && c.Value > 0 {
				ua, oka := upperBound(x.A, extents)
				return ua / c.Value, oka
			}
		case OpFloorMod:
			if c, ok := x.B.(*IntImm); ok && c.Value > 0 {
				ua, oka := upperBound(x.A, extents)
				if oka && ua < c.Value-1 {
					return ua, true
				}
				return c.Value - 1, true
			}
		}
	}
	return 0, false
}
