package bc

import (
	"errors"
	"fmt"

	"github.com/ljdec/ljdec/internal/bytestream"
	"github.com/ljdec/ljdec/internal/opcode"
)

// Sentinel errors for the decoder, following the teacher's style of
// package-level error values (errProgramFinished, errSegmentationFault) that
// callers can compare with errors.Is.
var (
	errBadMagic       = errors.New("bc: not a LuaJIT bytecode dump (bad magic)")
	errUnknownFlags   = errors.New("bc: unknown header flag bits set")
	errUnknownProtoFlags = errors.New("bc: unknown prototype flag bits set")
	errUnknownOpcode  = errors.New("bc: unknown opcode")
)

// ErrUnsupportedVersion is returned when the dump's version byte exceeds
// MaxVersion; such dumps carry proprietary modifications this decoder
// doesn't understand.
var ErrUnsupportedVersion = errors.New("bc: unsupported bytecode version")

// DecodeError wraps a decode failure with the chunk name and (when known)
// the prototype index being read, so a CLI can print useful location
// context the way the teacher's formatInstructionStr attaches a PC to a
// runtime fault.
type DecodeError struct {
	ChunkName string
	Prototype int
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Prototype >= 0 {
		return fmt.Sprintf("%s: prototype %d: %s", e.ChunkName, e.Prototype, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.ChunkName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type decoder struct {
	r         *bytestream.Reader
	dump      *Dump
	protoSeq  int
	constSeq  int
}

// Decode parses a full LuaJIT bytecode dump. chunkName is used only for
// error messages and as the dump's own name when the dump is stripped.
func Decode(buf []byte, chunkName string) (*Dump, error) {
	d := &decoder{r: bytestream.NewReader(buf), dump: &Dump{ChunkName: chunkName}}
	if err := d.readHeader(); err != nil {
		return nil, &DecodeError{ChunkName: chunkName, Prototype: -1, Err: err}
	}
	for {
		proto, err := d.readPrototype()
		if err != nil {
			return nil, &DecodeError{ChunkName: chunkName, Prototype: d.protoSeq, Err: err}
		}
		if proto == nil {
			break
		}
		d.dump.Prototypes = append(d.dump.Prototypes, proto)
	}
	return d.dump, nil
}

func (d *decoder) readHeader() error {
	magic, err := d.r.ReadBytes(3)
	if err != nil {
		return err
	}
	if magic[0] != MagicByte0 || magic[1] != MagicByte1 || magic[2] != MagicByte2 {
		return errBadMagic
	}
	version, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	d.dump.Version = version
	if version > MaxVersion {
		return fmt.Errorf("%w: version byte 0x%02x", ErrUnsupportedVersion, version)
	}

	bits, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	d.dump.IsBigEndian = bits&FlagBigEndian != 0
	bits &^= FlagBigEndian
	d.dump.IsStripped = bits&FlagStripped != 0
	bits &^= FlagStripped
	d.dump.HasFFI = bits&FlagHasFFI != 0
	bits &^= FlagHasFFI
	if bits != 0 {
		return fmt.Errorf("%w: 0x%x", errUnknownFlags, bits)
	}

	if d.dump.IsStripped {
		// stripped dumps carry no embedded name; keep the caller-supplied one
	} else {
		n, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		name, err := d.r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		d.dump.ChunkName = string(name)
	}

	d.r.BigEndian = d.dump.IsBigEndian
	return nil
}

func (d *decoder) readPrototype() (*Prototype, error) {
	size, err := d.r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	p := &Prototype{Number: d.protoSeq}
	d.constSeq = 0

	if err := d.readPrototypeFlags(p); err != nil {
		return nil, err
	}
	if err := d.readCountsAndSizes(p); err != nil {
		return nil, err
	}
	if err := d.readInstructions(p); err != nil {
		return nil, err
	}
	if err := d.readUpvalueReferences(p); err != nil {
		return nil, err
	}
	if err := d.readComplexConstants(p); err != nil {
		return nil, err
	}
	if err := d.readNumericConstants(p); err != nil {
		return nil, err
	}
	if err := d.readDebugInfo(p); err != nil {
		return nil, err
	}
	d.protoSeq++
	return p, nil
}

func (d *decoder) readPrototypeFlags(p *Prototype) error {
	bits32, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	bits := uint32(bits32)
	const protoFlagHasFFI = 1 << 2
	p.HasFFI = bits&protoFlagHasFFI != 0
	bits &^= protoFlagHasFFI
	p.HasILoop = bits&ProtoFlagHasILoop != 0
	bits &^= ProtoFlagHasILoop
	p.JITDisabled = bits&ProtoFlagJITDisabled != 0
	bits &^= ProtoFlagJITDisabled
	p.HasSubProtos = bits&ProtoFlagHasChild != 0
	bits &^= ProtoFlagHasChild
	p.Variadic = bits&ProtoFlagVariadic != 0
	bits &^= ProtoFlagVariadic
	if bits != 0 {
		return fmt.Errorf("%w: 0x%x", errUnknownProtoFlags, bits)
	}
	return nil
}

func (d *decoder) readCountsAndSizes(p *Prototype) error {
	argc, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	p.ArgCount = int(argc)

	frame, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	p.FrameSize = int(frame)

	uvc, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	p.UpvalueCount = int(uvc)

	cc, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	nc, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}
	ic, err := d.r.ReadULEB128()
	if err != nil {
		return err
	}

	var dbgSize uint32
	if !d.dump.IsStripped {
		dbgSize, err = d.r.ReadULEB128()
		if err != nil {
			return err
		}
	}
	p.DebugInfoSize = int(dbgSize)

	if p.DebugInfoSize > 0 {
		first, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		lc, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		p.FirstLineNumber = int(first)
		p.LineCount = int(lc)
	}

	// stash raw counts for the instruction/constant/numeric loops below
	p.numericCountHint = int(nc)
	p.constantCountHint = int(cc)
	p.instructionCountHint = int(ic)
	return nil
}

func (d *decoder) readInstructions(p *Prototype) error {
	head := Instruction{Addr: 0, HasA: true}
	if p.Variadic {
		head.Code = opcode.FUNCV
	} else {
		head.Code = opcode.FUNCF
	}
	head.A = p.FrameSize
	p.Instructions = append(p.Instructions, head)

	for i := 0; i < p.instructionCountHint; i++ {
		ins, err := d.readInstruction(p, i+1)
		if err != nil {
			return err
		}
		p.Instructions = append(p.Instructions, ins)
	}
	return nil
}

func (d *decoder) readInstruction(p *Prototype, addr int) (Instruction, error) {
	codeword, err := d.r.ReadUint(4)
	if err != nil {
		return Instruction{}, err
	}
	code := opcode.Code(codeword & 0xFF)
	info, ok := opcode.Lookup(byte(code))
	if !ok {
		return Instruction{}, fmt.Errorf("%w: 0x%02x", errUnknownOpcode, byte(code))
	}

	ins := Instruction{Code: code, Addr: addr}
	n := code.NumArgs()

	var a, b, cd uint32
	if n == 3 {
		a = (codeword >> 8) & 0xFF
		cd = (codeword >> 16) & 0xFF
		b = (codeword >> 24) & 0xFF
	} else {
		a = (codeword >> 8) & 0xFF
		cd = (codeword >> 16) & 0xFFFF
	}

	if info.A != opcode.None {
		ins.HasA = true
		ins.A = d.processOperand(p, info.A, int(a))
	}
	if info.B != opcode.None {
		ins.HasB = true
		ins.B = d.processOperand(p, info.B, int(b))
	}
	if info.CD != opcode.None {
		ins.HasCD = true
		ins.CD = d.processOperand(p, info.CD, int(cd))
	}
	return ins, nil
}

func (d *decoder) processOperand(p *Prototype, kind opcode.OperandKind, op int) int {
	switch kind {
	case opcode.Str, opcode.Tab, opcode.Fun, opcode.Cdt:
		return p.constantCountHint - op - 1
	case opcode.Jmp:
		return op - 0x8000
	case opcode.SLit:
		if op&0x8000 != 0 {
			return op - 0x10000
		}
		return op
	default:
		return op
	}
}

func (d *decoder) readUpvalueReferences(p *Prototype) error {
	for i := 0; i < p.UpvalueCount; i++ {
		v, err := d.r.ReadUint(2)
		if err != nil {
			return err
		}
		p.Upvalues = append(p.Upvalues, int(v))
	}
	return nil
}

func (d *decoder) readComplexConstants(p *Prototype) error {
	for i := 0; i < p.constantCountHint; i++ {
		tag, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		number := fmt.Sprintf("%d_%d", p.Number, d.constSeq)
		d.constSeq++

		switch {
		case tag >= KGCStr:
			length := int(tag) - KGCStr
			s, err := d.r.ReadBytes(length)
			if err != nil {
				return err
			}
			p.Constants = append(p.Constants, ConstRef{Number: number, Ref: string(s)})

		case tag == KGCTab:
			tbl, err := d.readTable()
			if err != nil {
				return err
			}
			p.Constants = append(p.Constants, ConstRef{Number: number, Ref: tbl})

		case tag != KGCChild:
			n, err := d.r.ReadFloat()
			if err != nil {
				return err
			}
			if tag == KGCComplex {
				n2, err := d.r.ReadFloat()
				if err != nil {
					return err
				}
				p.Constants = append(p.Constants, ConstRef{Number: number, Ref: [2]float64{n, n2}})
			} else {
				p.Constants = append(p.Constants, ConstRef{Number: number, Ref: n})
			}

		default: // KGCChild: pop the most recently decoded child prototype, LIFO
			if len(d.dump.Prototypes) == 0 {
				return fmt.Errorf("bc: child prototype reference with no prior prototype decoded")
			}
			last := d.dump.Prototypes[len(d.dump.Prototypes)-1]
			d.dump.Prototypes = d.dump.Prototypes[:len(d.dump.Prototypes)-1]
			p.Constants = append(p.Constants, ConstRef{Number: number, Ref: last})
		}
	}
	return nil
}

func (d *decoder) readTable() (*Table, error) {
	t := &Table{}
	arrN, err := d.r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	hashN, err := d.r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < arrN; i++ {
		v, err := d.readTableItem()
		if err != nil {
			return nil, err
		}
		t.Array = append(t.Array, v)
	}
	for i := uint32(0); i < hashN; i++ {
		k, err := d.readTableItem()
		if err != nil {
			return nil, err
		}
		v, err := d.readTableItem()
		if err != nil {
			return nil, err
		}
		t.Hash = append(t.Hash, [2]interface{}{k, v})
	}
	return t, nil
}

func (d *decoder) readTableItem() (interface{}, error) {
	tag, err := d.r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	switch {
	case tag >= KTabStr:
		length := int(tag) - KTabStr
		s, err := d.r.ReadBytes(length)
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case tag == KTabInt:
		v, err := d.r.ReadULEB128Signed()
		if err != nil {
			return nil, err
		}
		return v, nil
	case tag == KTabNum:
		return d.r.ReadFloat()
	case tag == KTabTrue:
		return true, nil
	case tag == KTabFalse:
		return false, nil
	default: // KTabNil
		return nil, nil
	}
}

func (d *decoder) readNumericConstants(p *Prototype) error {
	for i := 0; i < p.numericCountHint; i++ {
		isFloat, ival, fval, err := d.r.ReadULEB128_33()
		if err != nil {
			return err
		}
		if isFloat {
			p.Numerics = append(p.Numerics, fval)
		} else {
			p.Numerics = append(p.Numerics, float64(ival))
		}
	}
	return nil
}

func (d *decoder) readDebugInfo(p *Prototype) error {
	if p.DebugInfoSize <= 0 {
		return nil
	}
	p.DebugInfo = &DebugInfo{}
	if err := d.readLineInfo(p); err != nil {
		return err
	}
	if err := d.readUpvalueNames(p); err != nil {
		return err
	}
	return d.readVariableInfo(p)
}

func (d *decoder) readLineInfo(p *Prototype) error {
	size := 1
	if p.LineCount >= 65536 {
		size = 4
	} else if p.LineCount >= 256 {
		size = 2
	}
	p.DebugInfo.AddrToLine = append(p.DebugInfo.AddrToLine, 0)
	for i := 0; i < p.instructionCountHint; i++ {
		v, err := d.r.ReadUint(size)
		if err != nil {
			return err
		}
		p.DebugInfo.AddrToLine = append(p.DebugInfo.AddrToLine, p.FirstLineNumber+int(v))
	}
	return nil
}

func (d *decoder) readUpvalueNames(p *Prototype) error {
	for i := 0; i < p.UpvalueCount; i++ {
		s, err := d.r.ReadZString()
		if err != nil {
			return err
		}
		p.DebugInfo.UpvalueNames = append(p.DebugInfo.UpvalueNames, string(s))
	}
	return nil
}

func (d *decoder) readVariableInfo(p *Prototype) error {
	lastAddr := 0
	for {
		tag, err := d.r.ReadByte()
		if err != nil {
			return err
		}

		var info VariableInfo
		if tag >= VarnameMax {
			suffix, err := d.r.ReadZString()
			if err != nil {
				return err
			}
			info.Name = string(tag) + string(suffix)
			info.Internal = false
		} else if tag == VarnameEnd {
			break
		} else {
			info.Name = InternalVarnames[tag]
			info.Internal = true
		}

		startDelta, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		lengthDelta, err := d.r.ReadULEB128()
		if err != nil {
			return err
		}
		start := lastAddr + int(startDelta)
		info.StartAddr = start
		info.EndAddr = start + int(lengthDelta)
		lastAddr = start

		p.DebugInfo.VariableInfos = append(p.DebugInfo.VariableInfos, info)
	}
	return nil
}
