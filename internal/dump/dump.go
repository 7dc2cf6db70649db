// Package dump renders a decoded bytecode Dump into a readable, structured
// text form for debugging: one constructor-style expression per prototype
// and instruction, cross-referencing constants by number instead of
// inlining them, the same way the reference bytecode formatter lays out its
// text dump.
package dump

import (
	"fmt"
	"strings"

	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/opcode"
)

// Format renders the whole dump as text.
func Format(d *bc.Dump) string {
	f := &formatter{}
	f.formatDump(d)
	var sb strings.Builder
	for _, p := range f.prototypes {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	sb.WriteString(f.code)
	return sb.String()
}

type formatter struct {
	prototypes []string
	code       string
	current    *bc.Prototype
	constSeq   int
}

func (f *formatter) formatDump(d *bc.Dump) {
	var protoNames []string
	for _, p := range d.Prototypes {
		protoNames = append(protoNames, f.formatPrototype(p))
	}
	f.code = fmt.Sprintf("Dump(chunk_name=%q, is_stripped=%t, is_big_endian=%t, has_ffi=%t, version=%d,\n  prototypes=[%s])",
		d.ChunkName, d.IsStripped, d.IsBigEndian, d.HasFFI, d.Version, strings.Join(protoNames, ", "))
}

func (f *formatter) formatPrototype(p *bc.Prototype) string {
	f.current = p
	name := fmt.Sprintf("prototype_%d", p.Number)

	var instrLines []string
	for _, ins := range p.Instructions {
		instrLines = append(instrLines, "  "+f.formatInstruction(ins))
	}

	var constNames []string
	for i, c := range p.Constants {
		constNames = append(constNames, f.formatConstRef(i, c))
	}

	body := fmt.Sprintf(
		"number=%d, arg_count=%d, frame_size=%d, upvalue_count=%d, variadic=%t,\n"+
			"  instructions=[\n%s\n  ],\n"+
			"  constants=[%s],\n"+
			"  numerics=%v,\n"+
			"  upvalues=%v",
		p.Number, p.ArgCount, p.FrameSize, p.UpvalueCount, p.Variadic,
		strings.Join(instrLines, ",\n"), strings.Join(constNames, ", "), p.Numerics, p.Upvalues)

	f.prototypes = append(f.prototypes, fmt.Sprintf("%s = Prototype(%s)", name, body))
	return name
}

func (f *formatter) formatConstRef(i int, c bc.ConstRef) string {
	name := fmt.Sprintf("const_ref_%d", i)
	switch v := c.Ref.(type) {
	case *bc.Prototype:
		inner := f.formatPrototype(v)
		f.prototypes = append(f.prototypes, fmt.Sprintf("%s = ConstRef(%s)", name, inner))
	case *bc.Table:
		f.prototypes = append(f.prototypes, fmt.Sprintf("%s = ConstRef(%s)", name, f.formatTable(v)))
	case string:
		f.prototypes = append(f.prototypes, fmt.Sprintf("%s = ConstRef(%q)", name, v))
	default:
		f.prototypes = append(f.prototypes, fmt.Sprintf("%s = ConstRef(%v)", name, v))
	}
	return name
}

func (f *formatter) formatTable(t *bc.Table) string {
	var array []string
	for _, v := range t.Array {
		array = append(array, formatLeaf(v))
	}
	var hash []string
	for _, kv := range t.Hash {
		hash = append(hash, fmt.Sprintf("(%s, %s)", formatLeaf(kv[0]), formatLeaf(kv[1])))
	}
	return fmt.Sprintf("Table(array=[%s], hash=[%s])", strings.Join(array, ", "), strings.Join(hash, ", "))
}

func formatLeaf(v interface{}) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(v)
}

func (f *formatter) formatInstruction(ins bc.Instruction) string {
	var args []string
	info := ins.Code.Info()
	if ins.HasA {
		args = append(args, f.formatOperand(info.A, ins.A))
	}
	if ins.HasB {
		args = append(args, f.formatOperand(info.B, ins.B))
	}
	if ins.HasCD {
		args = append(args, f.formatOperand(info.CD, ins.CD))
	}
	return fmt.Sprintf("/* %04d */ Ins.%s(%s)", ins.Addr, ins.Code.String(), strings.Join(args, ", "))
}

// formatOperand renders one operand value, cross-referencing the constant
// pool by name for any kind that indexes into it instead of inlining the
// (possibly large) constant value.
func (f *formatter) formatOperand(kind opcode.OperandKind, value int) string {
	switch kind {
	case opcode.Str, opcode.Tab, opcode.Fun, opcode.Cdt:
		return fmt.Sprintf("const_ref_%d", value)
	default:
		return fmt.Sprint(value)
	}
}
