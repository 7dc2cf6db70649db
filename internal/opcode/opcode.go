// Package opcode is the static instruction schema: one entry per LuaJIT
// bytecode mnemonic, its wire-order opcode number and the operand kinds its
// A/B/CD slots carry. The table mirrors the layout of a flat enum with
// per-value metadata methods (IsRegisterOp, NumRequiredOpArgs and friends),
// generalized here to a lookup table since the schema has ~90 entries
// instead of a couple dozen.
package opcode

import "fmt"

// OperandKind tags what an instruction's raw operand slot actually holds.
type OperandKind int

const (
	// None means the slot is absent on this instruction.
	None OperandKind = iota
	// Var is a variable slot number.
	Var
	// Dst is a variable slot number used as a destination.
	Dst
	// BS is a base slot number, read-write.
	BS
	// RBS is a base slot number, read-only.
	RBS
	// UV is an upvalue number.
	UV
	// Lit is a literal.
	Lit
	// SLit is a signed literal.
	SLit
	// Pri is a primitive type tag (0=nil, 1=false, 2=true).
	Pri
	// Num is an index into the numeric constant table.
	Num
	// Str is a negated index into the constant table, holding a string.
	Str
	// Tab is a negated index into the constant table, holding a template table.
	Tab
	// Fun is a negated index into the constant table, holding a child prototype.
	Fun
	// Cdt is a negated index into the constant table, holding a cdata constant.
	Cdt
	// Jmp is a branch target, relative to the next instruction and biased by 0x8000 on the wire.
	Jmp
)

// Code identifies one bytecode mnemonic. Its numeric value is also its
// wire-order position in the instruction stream, exactly as LuaJIT defines
// it: opcode == declaration order in the reference VM.
type Code byte

// Wire-order opcode table. Declaration order below is significant: it IS the
// byte value written into the low 8 bits of every instruction codeword.
const (
	ISLT Code = iota
	ISGE
	ISLE
	ISGT
	ISEQV
	ISNEV
	ISEQS
	ISNES
	ISEQN
	ISNEN
	ISEQP
	ISNEP

	ISTC
	ISFC
	IST
	ISF

	MOV
	NOT
	UNM
	LEN

	ADDVN
	SUBVN
	MULVN
	DIVVN
	MODVN
	ADDNV
	SUBNV
	MULNV
	DIVNV
	MODNV
	ADDVV
	SUBVV
	MULVV
	DIVVV
	MODVV
	POW
	CAT

	KSTR
	KCDATA
	KSHORT
	KNUM
	KPRI
	KNIL

	UGET
	USETV
	USETS
	USETN
	USETP
	UCLO
	FNEW

	TNEW
	TDUP
	GGET
	GSET
	TGETV
	TGETS
	TGETB
	TSETV
	TSETS
	TSETB
	TSETM

	CALLM
	CALL
	CALLMT
	CALLT
	ITERC
	ITERN
	VARG
	ISNEXT

	RETM
	RET
	RET0
	RET1

	FORI
	JFORI
	FORL
	IFORL
	JFORL
	ITERL
	IITERL
	JITERL
	LOOP
	ILOOP
	JLOOP
	JMP

	FUNCF
	IFUNCF
	JFUNCF
	FUNCV
	IFUNCV
	JFUNCV
	FUNCC
	FUNCCW

	// count is a sentinel holding the number of real opcodes; it is never a
	// valid wire value.
	count
)

// Info is the per-opcode metadata row: name plus the operand kind carried in
// each of the three slots (a slot is None when the instruction doesn't use
// it).
type Info struct {
	Name  string
	A, B, CD OperandKind
}

var table = [count]Info{
	ISLT:  {"ISLT", Var, None, Var},
	ISGE:  {"ISGE", Var, None, Var},
	ISLE:  {"ISLE", Var, None, Var},
	ISGT:  {"ISGT", Var, None, Var},
	ISEQV: {"ISEQV", Var, None, Var},
	ISNEV: {"ISNEV", Var, None, Var},
	ISEQS: {"ISEQS", Var, None, Str},
	ISNES: {"ISNES", Var, None, Str},
	ISEQN: {"ISEQN", Var, None, Num},
	ISNEN: {"ISNEN", Var, None, Num},
	ISEQP: {"ISEQP", Var, None, Pri},
	ISNEP: {"ISNEP", Var, None, Pri},

	ISTC: {"ISTC", Dst, None, Var},
	ISFC: {"ISFC", Dst, None, Var},
	IST:  {"IST", None, None, Var},
	ISF:  {"ISF", None, None, Var},

	MOV: {"MOV", Dst, None, Var},
	NOT: {"NOT", Dst, None, Var},
	UNM: {"UNM", Dst, None, Var},
	LEN: {"LEN", Dst, None, Var},

	ADDVN: {"ADDVN", Dst, Var, Num},
	SUBVN: {"SUBVN", Dst, Var, Num},
	MULVN: {"MULVN", Dst, Var, Num},
	DIVVN: {"DIVVN", Dst, Var, Num},
	MODVN: {"MODVN", Dst, Var, Num},
	ADDNV: {"ADDNV", Dst, Var, Num},
	SUBNV: {"SUBNV", Dst, Var, Num},
	MULNV: {"MULNV", Dst, Var, Num},
	DIVNV: {"DIVNV", Dst, Var, Num},
	MODNV: {"MODNV", Dst, Var, Num},
	ADDVV: {"ADDVV", Dst, Var, Var},
	SUBVV: {"SUBVV", Dst, Var, Var},
	MULVV: {"MULVV", Dst, Var, Var},
	DIVVV: {"DIVVV", Dst, Var, Var},
	MODVV: {"MODVV", Dst, Var, Var},
	POW:   {"POW", Dst, Var, Var},
	CAT:   {"CAT", Dst, RBS, RBS},

	KSTR:   {"KSTR", Dst, None, Str},
	KCDATA: {"KCDATA", Dst, None, Cdt},
	KSHORT: {"KSHORT", Dst, None, SLit},
	KNUM:   {"KNUM", Dst, None, Num},
	KPRI:   {"KPRI", Dst, None, Pri},
	KNIL:   {"KNIL", BS, None, BS},

	UGET:  {"UGET", Dst, None, UV},
	USETV: {"USETV", UV, None, Var},
	USETS: {"USETS", UV, None, Str},
	USETN: {"USETN", UV, None, Num},
	USETP: {"USETP", UV, None, Pri},
	UCLO:  {"UCLO", RBS, None, Jmp},
	FNEW:  {"FNEW", Dst, None, Fun},

	TNEW:  {"TNEW", Dst, None, Lit},
	TDUP:  {"TDUP", Dst, None, Tab},
	GGET:  {"GGET", Dst, None, Str},
	GSET:  {"GSET", Var, None, Str},
	TGETV: {"TGETV", Dst, Var, Var},
	TGETS: {"TGETS", Dst, Var, Str},
	TGETB: {"TGETB", Dst, Var, Lit},
	TSETV: {"TSETV", Var, Var, Var},
	TSETS: {"TSETS", Var, Var, Str},
	TSETB: {"TSETB", Var, Var, Lit},
	TSETM: {"TSETM", BS, None, Num},

	CALLM:  {"CALLM", BS, Lit, Lit},
	CALL:   {"CALL", BS, Lit, Lit},
	CALLMT: {"CALLMT", BS, None, Lit},
	CALLT:  {"CALLT", BS, None, Lit},
	ITERC:  {"ITERC", BS, Lit, Lit},
	ITERN:  {"ITERN", BS, Lit, Lit},
	VARG:   {"VARG", BS, Lit, Lit},
	ISNEXT: {"ISNEXT", BS, None, Jmp},

	RETM: {"RETM", BS, None, Lit},
	RET:  {"RET", RBS, None, Lit},
	RET0: {"RET0", RBS, None, Lit},
	RET1: {"RET1", RBS, None, Lit},

	FORI:   {"FORI", BS, None, Jmp},
	JFORI:  {"JFORI", BS, None, Jmp},
	FORL:   {"FORL", BS, None, Jmp},
	IFORL:  {"IFORL", BS, None, Jmp},
	JFORL:  {"JFORL", BS, None, Jmp},
	ITERL:  {"ITERL", BS, None, Jmp},
	IITERL: {"IITERL", BS, None, Jmp},
	JITERL: {"JITERL", BS, None, Lit},
	LOOP:   {"LOOP", RBS, None, Jmp},
	ILOOP:  {"ILOOP", RBS, None, Jmp},
	JLOOP:  {"JLOOP", RBS, None, Lit},
	JMP:    {"JMP", RBS, None, Jmp},

	FUNCF:  {"FUNCF", RBS, None, None},
	IFUNCF: {"IFUNCF", RBS, None, None},
	JFUNCF: {"JFUNCF", RBS, None, Lit},
	FUNCV:  {"FUNCV", RBS, None, None},
	IFUNCV: {"IFUNCV", RBS, None, None},
	JFUNCV: {"JFUNCV", RBS, None, Lit},
	FUNCC:  {"FUNCC", RBS, None, None},
	FUNCCW: {"FUNCCW", RBS, None, None},
}

// Lookup returns the metadata row for code, and false if code is outside the
// known wire-order range.
func Lookup(code byte) (Info, bool) {
	if int(code) >= int(count) {
		return Info{}, false
	}
	return table[code], true
}

// String renders the mnemonic, or a synthetic name for an opcode outside the
// known schema.
func (c Code) String() string {
	if int(c) >= int(count) {
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(c))
	}
	return table[c].Name
}

// Info returns this code's metadata row.
func (c Code) Info() Info { return table[c] }

// NumArgs reports how many of A/B/CD slots this opcode actually carries (1 to
// 3). A count of 3 selects the 3-operand (A, B, CD-as-8-bit) codeword layout;
// any other count selects the A, CD-as-16-bit layout.
func (c Code) NumArgs() int {
	info := table[c]
	n := 0
	if info.A != None {
		n++
	}
	if info.B != None {
		n++
	}
	if info.CD != None {
		n++
	}
	return n
}

// IsComparison reports whether code is one of the ISLT..ISNEP family that
// begins a conditional basic block.
func (c Code) IsComparison() bool { return c >= ISLT && c <= ISNEP }

// IsUnaryTestAndCopy reports whether code is ISTC/ISFC.
func (c Code) IsUnaryTestAndCopy() bool { return c == ISTC || c == ISFC }

// IsUnaryTest reports whether code is IST/ISF.
func (c Code) IsUnaryTest() bool { return c == IST || c == ISF }

// IsReturn reports whether code is one of RETM..RET1.
func (c Code) IsReturn() bool { return c >= RETM && c <= RET1 }

// IsForHeader reports whether code is in the FORI..JITERL loop-instruction
// family (numeric for and iterator loop heads and back edges), whose CD the
// AST builder treats as a jump offset when placing leaders.
func (c Code) IsForHeader() bool { return c >= FORI && c <= JITERL }

// IsCall reports whether code is one of the CALLM..CALLT call family.
func (c Code) IsCall() bool { return c >= CALLM && c <= CALLT }

// Count returns the number of defined opcodes.
func Count() int { return int(count) }
