// Package reencode serializes a decoded Dump back to the wire format,
// mirroring internal/bc's decoder in reverse. It exists so a dump can be
// edited at the IR level (or simply round-tripped) without going through
// source text.
package reencode

import (
	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/bytestream"
	"github.com/ljdec/ljdec/internal/opcode"
)

// Encode serializes dump back into a raw bytecode buffer.
func Encode(dump *bc.Dump) []byte {
	w := bytestream.NewWriter()
	w.BigEndian = dump.IsBigEndian

	writeHeader(w, dump)
	for _, p := range sortedPrototypes(dump) {
		writePrototype(w, p)
	}
	w.WriteULEB128(0) // end of prototypes
	return w.Bytes()
}

func writeHeader(w *bytestream.Writer, dump *bc.Dump) {
	w.WriteBytes([]byte{bc.MagicByte0, bc.MagicByte1, bc.MagicByte2})
	w.WriteByte(dump.Version)

	var flags uint32
	if dump.IsBigEndian {
		flags |= bc.FlagBigEndian
	}
	if dump.IsStripped {
		flags |= bc.FlagStripped
	}
	if dump.HasFFI {
		flags |= bc.FlagHasFFI
	}
	w.WriteULEB128(flags)

	if !dump.IsStripped {
		name := []byte(dump.ChunkName)
		w.WriteULEB128(uint32(len(name)))
		w.WriteBytes(name)
	}
}

// sortedPrototypes topologically orders child prototypes before parents, so
// the wire format's LIFO BCDUMP_KGC_CHILD convention can pop them back off
// in the right order on decode.
func sortedPrototypes(dump *bc.Dump) []*bc.Prototype {
	var order []*bc.Prototype
	var walk func(p *bc.Prototype)
	walk = func(p *bc.Prototype) {
		for _, c := range p.Constants {
			if child, ok := c.Ref.(*bc.Prototype); ok {
				walk(child)
			}
		}
		order = append(order, p)
	}
	for _, p := range dump.Prototypes {
		walk(p)
	}
	return order
}

func writePrototype(w *bytestream.Writer, p *bc.Prototype) {
	var flags byte
	if p.HasFFI {
		flags |= 1 << 2
	}
	if p.HasSubProtos {
		flags |= bc.ProtoFlagHasChild
	}
	if p.Variadic {
		flags |= bc.ProtoFlagVariadic
	}
	if p.JITDisabled {
		flags |= bc.ProtoFlagJITDisabled
	}
	if p.HasILoop {
		flags |= bc.ProtoFlagHasILoop
	}

	proto := bytestream.NewWriter()
	proto.BigEndian = w.BigEndian

	proto.WriteByte(flags)
	writeCounts(proto, p)
	writeInstructions(proto, p)
	writeUpvalues(proto, p)
	writeConstants(proto, p)
	writeNumerics(proto, p)
	writeDebugInfo(proto, p)

	body := proto.Bytes()
	w.WriteULEB128(uint32(len(body)))
	w.WriteBytes(body)
}

func writeCounts(w *bytestream.Writer, p *bc.Prototype) {
	w.WriteByte(byte(p.ArgCount))
	w.WriteByte(byte(p.FrameSize))
	w.WriteByte(byte(p.UpvalueCount))
	w.WriteULEB128(uint32(len(p.Constants)))
	w.WriteULEB128(uint32(len(p.Numerics)))
	w.WriteULEB128(uint32(len(p.Instructions) - 1)) // exclude synthetic head

	if p.DebugInfoSize > 0 {
		w.WriteULEB128(uint32(p.DebugInfoSize))
		w.WriteULEB128(uint32(p.FirstLineNumber))
		w.WriteULEB128(uint32(p.LineCount))
	}
}

func writeInstructions(w *bytestream.Writer, p *bc.Prototype) {
	for _, ins := range p.Instructions[1:] { // skip synthetic FUNCF/FUNCV head
		writeInstruction(w, p, ins)
	}
}

func writeInstruction(w *bytestream.Writer, p *bc.Prototype, ins bc.Instruction) {
	info := ins.Code.Info()
	var a, b, cd uint32
	n := 0
	if ins.HasA {
		a = processOperand(p, info.A, ins.A)
		n++
	}
	if ins.HasB {
		b = processOperand(p, info.B, ins.B)
		n++
	}
	if ins.HasCD {
		cd = processOperand(p, info.CD, ins.CD)
		n++
	}
	var codeword uint32
	if n == 3 {
		codeword = uint32(ins.Code) | (a << 8) | (b << 24) | (cd << 16)
	} else {
		codeword = uint32(ins.Code) | (a << 8) | (cd << 16)
	}
	w.WriteUint(codeword, 4)
}

func processOperand(p *bc.Prototype, kind opcode.OperandKind, value int) uint32 {
	switch kind {
	case opcode.Str, opcode.Tab, opcode.Fun, opcode.Cdt:
		return uint32(len(p.Constants) - value - 1)
	case opcode.Jmp:
		return uint32(value + 0x8000)
	default:
		return uint32(value)
	}
}

func writeUpvalues(w *bytestream.Writer, p *bc.Prototype) {
	for _, uv := range p.Upvalues {
		w.WriteUint(uint32(uv), 2)
	}
}

func writeConstants(w *bytestream.Writer, p *bc.Prototype) {
	for _, c := range p.Constants {
		switch ref := c.Ref.(type) {
		case string:
			b := []byte(ref)
			w.WriteULEB128(uint32(len(b) + bc.KGCStr))
			w.WriteBytes(b)
		case *bc.Table:
			w.WriteULEB128(bc.KGCTab)
			writeTable(w, ref)
		case *bc.Prototype:
			w.WriteULEB128(bc.KGCChild)
		}
	}
}

func writeNumerics(w *bytestream.Writer, p *bc.Prototype) {
	for _, n := range p.Numerics {
		if isIntegral(n) {
			w.WriteULEB128_33Int(int64(n))
		} else {
			w.WriteULEB128_33Float(n)
		}
	}
}

func isIntegral(f float64) bool {
	return f == float64(int32(f))
}

func writeTable(w *bytestream.Writer, t *bc.Table) {
	w.WriteULEB128(uint32(len(t.Array)))
	w.WriteULEB128(uint32(len(t.Hash)))
	for _, item := range t.Array {
		writeTableItem(w, item)
	}
	for _, kv := range t.Hash {
		writeTableItem(w, kv[0])
		writeTableItem(w, kv[1])
	}
}

func writeTableItem(w *bytestream.Writer, value interface{}) {
	switch v := value.(type) {
	case bool:
		if v {
			w.WriteULEB128(bc.KTabTrue)
		} else {
			w.WriteULEB128(bc.KTabFalse)
		}
	case nil:
		w.WriteULEB128(bc.KTabNil)
	case string:
		b := []byte(v)
		w.WriteULEB128(uint32(len(b) + bc.KTabStr))
		w.WriteBytes(b)
	case int64:
		w.WriteULEB128(bc.KTabInt)
		w.WriteULEB128Signed(v)
	case float64:
		w.WriteULEB128(bc.KTabNum)
		w.WriteFloat(v)
	}
}

func writeDebugInfo(w *bytestream.Writer, p *bc.Prototype) {
	if p.DebugInfo == nil {
		return
	}
	writeLineInfo(w, p)
	writeUpvalueNames(w, p)
	writeVariableInfo(w, p)
}

func writeLineInfo(w *bytestream.Writer, p *bc.Prototype) {
	size := 1
	switch {
	case p.LineCount >= 65536:
		size = 4
	case p.LineCount >= 256:
		size = 2
	}
	for _, line := range p.DebugInfo.AddrToLine[1:] {
		w.WriteUint(uint32(line-p.FirstLineNumber), size)
	}
}

func writeUpvalueNames(w *bytestream.Writer, p *bc.Prototype) {
	for _, name := range p.DebugInfo.UpvalueNames {
		w.WriteZString([]byte(name))
	}
}

func writeVariableInfo(w *bytestream.Writer, p *bc.Prototype) {
	lastAddr := 0
	for _, info := range p.DebugInfo.VariableInfos {
		if !info.Internal {
			w.WriteZString([]byte(info.Name))
		} else {
			w.WriteByte(internalVarnameIndex(info.Name))
		}
		w.WriteULEB128(uint32(info.StartAddr - lastAddr))
		w.WriteULEB128(uint32(info.EndAddr - info.StartAddr))
		lastAddr = info.StartAddr
	}
	w.WriteByte(bc.VarnameEnd)
}

func internalVarnameIndex(name string) byte {
	for i, n := range bc.InternalVarnames {
		if n == name {
			return byte(i)
		}
	}
	return bc.VarnameEnd
}
