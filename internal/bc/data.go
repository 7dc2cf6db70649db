// Package bc implements the bytecode data model (Dump/Prototype/Instruction
// and friends) and the decoder that turns a raw LuaJIT bytecode dump into it.
package bc

import "github.com/ljdec/ljdec/internal/opcode"

// Header and constant-tag bit layout, ported from the reference format.
const (
	MagicByte0 = 0x1B
	MagicByte1 = 'L'
	MagicByte2 = 'J'

	// MaxVersion is the highest accepted version byte; versions above it are
	// rejected as "proprietary modifications" per the format's own policy.
	MaxVersion = 0x7F

	FlagBigEndian = 1 << 0
	FlagStripped  = 1 << 1
	FlagHasFFI    = 1 << 2

	ProtoFlagHasChild    = 1 << 0
	ProtoFlagVariadic    = 1 << 1
	ProtoFlagJITDisabled = 1 << 3
	ProtoFlagHasILoop    = 1 << 4

	KGCChild   = 0
	KGCTab     = 1
	KGCI64     = 2
	KGCU64     = 3
	KGCComplex = 4
	KGCStr     = 5

	KTabNil   = 0
	KTabFalse = 1
	KTabTrue  = 2
	KTabInt   = 3
	KTabNum   = 4
	KTabStr   = 5

	VarnameEnd     = 0
	VarnameForIdx  = 1
	VarnameForStop = 2
	VarnameForStep = 3
	VarnameForGen  = 4
	VarnameForState = 5
	VarnameForCtl  = 6
	VarnameMax     = 7
)

// InternalVarnames maps a VARNAME_* tag (1..6) to the synthetic name LuaJIT
// gives compiler-introduced loop control variables.
var InternalVarnames = [...]string{
	"", // VARNAME_END has no name
	"<index>",
	"<limit>",
	"<step>",
	"<generator>",
	"<state>",
	"<control>",
}

// VariableInfo is one entry in a prototype's debug-info variable table: the
// slot's visible lifetime and name.
type VariableInfo struct {
	StartAddr int
	EndAddr   int
	Internal  bool
	Name      string
}

// DebugInfo carries the optional per-prototype debug metadata: a per-address
// line map, upvalue names, and variable lifetime/name records.
type DebugInfo struct {
	AddrToLine       []int
	UpvalueNames     []string
	VariableInfos    []VariableInfo
}

// Table is a template table constant: an array part (by position) plus a
// hash part (key/value pairs), both holding Go-native nil/bool/int64/float64/
// string leaf values.
type Table struct {
	Array     []interface{}
	Hash      [][2]interface{}
}

// ConstRef is one entry of a prototype's constant pool. Ref holds a string,
// *Table, *Prototype (child function), float64 (for both the I64 and U64
// tags) or a [2]float64 complex pair, depending on the tag the wire format
// carried.
type ConstRef struct {
	Number string
	Ref    interface{}
}

// Instruction is one decoded bytecode instruction: its opcode plus the
// already-normalized A/B/CD operand values (constant-pool indices resolved,
// jump offsets un-biased, signed literals sign-extended). Addr is the
// instruction's position within its prototype, including the synthetic
// FUNCF/FUNCV head instruction at address 0.
type Instruction struct {
	Code opcode.Code
	A    int
	B    int
	CD   int
	// HasA/HasB/HasCD record whether a slot is meaningful for this opcode,
	// mirroring opcode.Info so callers don't need a second lookup.
	HasA, HasB, HasCD bool
	Addr              int
}

// Prototype is one compiled function: its instruction stream, constants,
// upvalues, numeric pool and optional debug info.
type Prototype struct {
	Number int

	HasFFI          bool
	HasILoop        bool
	JITDisabled     bool
	HasSubProtos    bool
	Variadic        bool

	ArgCount    int
	FrameSize   int
	UpvalueCount int

	Instructions []Instruction
	Upvalues     []int
	Constants    []ConstRef
	Numerics     []float64

	DebugInfoSize    int
	FirstLineNumber  int
	LineCount        int
	DebugInfo        *DebugInfo

	// hint fields recorded during decode to size subsequent read loops;
	// the decoded slices above are the source of truth once decode
	// finishes.
	numericCountHint     int
	constantCountHint    int
	instructionCountHint int
}

// Dump is a whole decoded bytecode file: its header flags plus the
// prototypes it carries, outermost prototype last in wire order but first in
// Dump.Prototypes (index 0 is the chunk's top-level function).
type Dump struct {
	ChunkName   string
	IsStripped  bool
	IsBigEndian bool
	HasFFI      bool
	Version     byte

	Prototypes []*Prototype
}
