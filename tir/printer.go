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

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Script renders a function as a deterministic plain-text loop-nest listing.
// The output is meant for golden tests and debugging, not for parsing back.
func Script(f *PrimFunc) string {
	p := &printer{anchored: make(map[*Loop][]*BlockRealize), order: make(map[*BlockRealize]int)}
	for i, r := range f.Blocks {
		p.order[r] = i
		if r.Anchor != nil {
			p.anchored[r.Anchor] = append(p.anchored[r.Anchor], r)
		}
	}

	var params []string
	for _, b := range f.Params {
		params = append(params, bufferSig(b))
	}
	fmt.Fprintf(&p.sb, "func %s(%s)", f.Name, strings.Join(params, ", "))
	if len(f.Attrs) > 0 {
		keys := make([]string, 0, len(f.Attrs))
		for k := range f.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var attrs []string
		for _, k := range keys {
			attrs = append(attrs, fmt.Sprintf("%q: %v", k, f.Attrs[k]))
		}
		fmt.Fprintf(&p.sb, " attrs{%s}", strings.Join(attrs, ", "))
	}
	p.sb.WriteString("\n")
	for _, b := range f.Allocs {
		fmt.Fprintf(&p.sb, "  alloc %s @%s\n", bufferSig(b), b.Scope)
	}
	for _, r := range f.Blocks {
		if r.Anchor == nil {
			p.realize(r, 1)
		}
	}
	return p.sb.String()
}

type printer struct {
	sb       strings.Builder
	anchored map[*Loop][]*BlockRealize
	order    map[*BlockRealize]int
}

func (p *printer) realize(r *BlockRealize, depth int) {
	p.loops(r, 0, depth)
}

// loops prints r.Loops[li:] and finally the block itself. Blocks anchored
// at a loop print inside it: those earlier in program order before the
// owner's continuation, later ones after.
func (p *printer) loops(r *BlockRealize, li, depth int) {
	if li == len(r.Loops) {
		p.block(r, depth)
		return
	}
	l := r.Loops[li]
	p.indent(depth)
	fmt.Fprintf(&p.sb, "for %s in range(%d)", l.Var.Name, l.Extent)
	if l.Thread != "" {
		fmt.Fprintf(&p.sb, " bind(%s)", l.Thread)
	}
	p.sb.WriteString(":\n")
	var after []*BlockRealize
	for _, a := range p.anchored[l] {
		if p.order[a] < p.order[r] {
			p.realize(a, depth+1)
		} else {
			after = append(after, a)
		}
	}
	p.loops(r, li+1, depth+1)
	for _, a := range after {
		p.realize(a, depth+1)
	}
}

func (p *printer) block(r *BlockRealize, depth int) {
	p.indent(depth)
	fmt.Fprintf(&p.sb, "block %s:\n", r.Block.Name)
	for _, iv := range r.Block.IterVars {
		p.indent(depth + 1)
		fmt.Fprintf(&p.sb, "%s(%d) %s = %s\n", iv.Kind, iv.Dom, iv.Var.Name, ExprString(r.Bindings[iv]))
	}
	p.regions(depth+1, "reads", r.Block.Reads)
	p.regions(depth+1, "writes", r.Block.Writes)
	if r.Block.Init != nil {
		p.indent(depth + 1)
		fmt.Fprintf(&p.sb, "init %s\n", storeString(r.Block.Init))
	}
	p.indent(depth + 1)
	p.sb.WriteString(storeString(r.Block.Body))
	p.sb.WriteString("\n")
}

func (p *printer) regions(depth int, label string, regions []*BufferRegion) {
	if len(regions) == 0 {
		return
	}
	var parts []string
	for _, reg := range regions {
		parts = append(parts, accessString(reg.Buffer, reg.Indices))
	}
	p.indent(depth)
	fmt.Fprintf(&p.sb, "%s %s\n", label, strings.Join(parts, ", "))
}

func (p *printer) indent(depth int) {
	p.sb.WriteString(strings.Repeat("  ", depth))
}

func bufferSig(b *Buffer) string {
	dims := make([]string, len(b.Shape))
	for i, d := range b.Shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	return fmt.Sprintf("%s: %s[%s]", b.Name, b.DType, strings.Join(dims, ", "))
}

func accessString(b *Buffer, indices []Expr) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = ExprString(idx)
	}
	return fmt.Sprintf("%s[%s]", b.Name, strings.Join(parts, ", "))
}

func storeString(st *BufferStore) string {
	return fmt.Sprintf("%s = %s", accessString(st.Buffer, st.Indices), ExprString(st.Value))
}

// ExprString renders an expression with explicit parentheses around nested
// binary operations, so distinct trees never print alike.
func ExprString(e Expr) string {
	switch x := e.(type) {
	case *Var:
		return x.Name
	case *IntImm:
		return strconv.FormatInt(x.Value, 10)
	case *FloatImm:
		return fmt.Sprintf("%s(%s)", x.DType, strconv.FormatFloat(x.Value, 'g', -1, 64))
	case *BinOp:
		return fmt.Sprintf("%s %s %s", operand(x.A), x.Op, operand(x.B))
	case *Cast:
		return fmt.Sprintf("%s(%s)", x.DType, ExprString(x.Value))
	case *Call:
		parts := make([]string, len(x.Args))
		for i, a := range x.Args {
			parts[i] = ExprString(a)
		}
		return fmt.Sprintf("%s(%s)", x.Name, strings.Join(parts, ", "))
	case *BufferLoad:
		return accessString(x.Buffer, x.Indices)
	case nil:
		return "<nil>"
	}
	return "<?>"
}

func operand(e Expr) string {
	if _, ok := e.(*BinOp); ok {
		return "(" + ExprString(e) + ")"
	}
	return ExprString(e)
}
