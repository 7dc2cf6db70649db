// Package astbuild turns a decoded prototype's flat instruction stream into
// a structured Lua-like AST: partition into basic blocks, translate each
// block's instructions into their AST shapes, reduce the resulting graph
// with internal/cfg, then eliminate compiler temporaries with
// internal/tempelim.
package astbuild

import (
	"fmt"
	"sort"

	"github.com/ljdec/ljdec/internal/ast"
	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/cfg"
	"github.com/ljdec/ljdec/internal/opcode"
	"github.com/ljdec/ljdec/internal/tempelim"
)

// Builder translates one prototype (and, recursively, its child prototypes
// referenced by FNEW) into an *ast.FuncDef.
type Builder struct {
	Prototype *bc.Prototype
}

// New returns a Builder for prototype.
func New(prototype *bc.Prototype) *Builder {
	return &Builder{Prototype: prototype}
}

// Build runs the full pipeline and returns the function's AST. isRoot marks
// the chunk's top-level function, which the emit package's Writer renders
// without a `function ... end` wrapper.
func (b *Builder) Build(isRoot bool) (*ast.FuncDef, error) {
	graph, err := b.buildGraph()
	if err != nil {
		return nil, err
	}
	statements := ast.NewStatementList(graph.Root.Statements)

	statements = tempelim.New().Run(statements)

	var args *ast.ExpList
	if b.Prototype.Variadic {
		args = ast.NewExpList(&ast.Vararg{})
	} else {
		items := make([]ast.Exp, b.Prototype.ArgCount)
		for i := range items {
			items[i] = &ast.Slot{SlotNum: i}
		}
		args = ast.NewExpList(items...)
	}
	return &ast.FuncDef{Args: args, Statements: statements, IsRoot: isRoot}, nil
}

// buildGraph partitions the instruction stream into leader-delimited basic
// blocks and links them with edges, then reduces the graph.
func (b *Builder) buildGraph() (*cfg.Graph, error) {
	instrs := b.Prototype.Instructions
	leaders := map[int]bool{1: true}

	for addr, ins := range instrs {
		switch {
		case ins.Code.IsComparison():
			leaders[addr+1] = true
			leaders[addr+2] = true
		case (ins.Code == opcode.UCLO || ins.Code == opcode.ISNEXT || ins.Code == opcode.JMP) && ins.CD != 0:
			leaders[addr+1] = true
			leaders[addr+ins.CD+1] = true
		case ins.Code.IsForHeader() && ins.CD != 0:
			leaders[addr+ins.CD+1] = true
			leaders[addr+1] = true
		case ins.Code.IsReturn():
			leaders[addr+1] = true
		}
	}

	var sortedLeaders []int
	for l := range leaders {
		if l != 0 {
			sortedLeaders = append(sortedLeaders, l)
		}
	}
	sort.Ints(sortedLeaders)

	nextLeaders := append(append([]int{}, sortedLeaders[1:]...), len(instrs))

	blocks := make([]*cfg.Block, len(sortedLeaders))
	leaderToBlock := map[int]*cfg.Block{}
	for i, leader := range sortedLeaders {
		statements, err := b.translateStatements(leader, nextLeaders[i])
		if err != nil {
			return nil, err
		}
		blocks[i] = cfg.NewBlock(statements)
		leaderToBlock[leader] = blocks[i]
	}

	for i, block := range blocks {
		addr := nextLeaders[i] - 1
		ins := instrs[addr]
		switch {
		case ins.Code.IsComparison():
			block.Succ = append(block.Succ,
				cfg.Edge{Tail: leaderToBlock[addr+1], Condition: true},
				cfg.Edge{Tail: leaderToBlock[addr+2], Condition: false})
		case (ins.Code == opcode.UCLO || ins.Code == opcode.ISNEXT || ins.Code == opcode.JMP) && ins.CD != 0:
			block.Succ = append(block.Succ, cfg.Edge{Tail: leaderToBlock[addr+ins.CD+1]})
		case ins.Code.IsForHeader() && ins.CD != 0:
			block.Succ = append(block.Succ,
				cfg.Edge{Tail: leaderToBlock[addr+ins.CD+1], Condition: true},
				cfg.Edge{Tail: leaderToBlock[addr+1], Condition: false})
		default:
			if tail, ok := leaderToBlock[nextLeaders[i]]; ok {
				block.Succ = append(block.Succ, cfg.Edge{Tail: tail})
			}
		}

		if len(block.Statements) > 0 {
			if _, ok := block.Statements[len(block.Statements)-1].(*ast.Return); ok {
				block.Succ = nil
			}
		}
	}

	return cfg.NewGraph(blocks[0], b.Prototype.Number)
}

// translateStatements builds the statement(s) for each instruction in
// [start, end), stamping each with its instruction address.
func (b *Builder) translateStatements(start, end int) ([]ast.Statement, error) {
	var statements []ast.Statement
	for addr := start; addr < end; addr++ {
		ss, err := b.buildStatement(b.Prototype.Instructions[addr])
		if err != nil {
			return nil, err
		}
		for _, s := range ss {
			s.SetAddr(addr)
			statements = append(statements, s)
		}
	}
	return statements, nil
}

func (b *Builder) invariantViolation(pc int, msg string) error {
	return &ast.InvariantViolation{Prototype: b.Prototype.Number, PC: pc, Msg: msg}
}

func slots(from, to int) []ast.Exp {
	var out []ast.Exp
	for i := from; i < to; i++ {
		out = append(out, &ast.Slot{SlotNum: i})
	}
	return out
}

// buildStatement translates one instruction into zero, one, or two AST
// statements, mirroring the per-opcode-range dispatch of the reference
// translator exactly. A malformed constant/numeric index or a constant of
// the wrong kind is reported as an *ast.InvariantViolation instead of
// panicking.
func (b *Builder) buildStatement(ins bc.Instruction) ([]ast.Statement, error) {
	op := ins.Code

	switch {
	case op >= opcode.ISLT && op <= opcode.ISNEP:
		rhs, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		return []ast.Statement{&ast.Condition{Value: &ast.BinExp{
			Op: ast.BinOp[op.String()], Left: &ast.Slot{SlotNum: ins.A}, Right: rhs,
		}}}, nil

	case op == opcode.ISTC || op == opcode.ISFC:
		notOp := ""
		if op == opcode.ISFC {
			notOp = "not"
		}
		return []ast.Statement{
			&ast.Assign{Targets: ast.NewExpList(&ast.Slot{SlotNum: ins.A}), Values: ast.NewExpList(&ast.Slot{SlotNum: ins.CD})},
			&ast.Condition{Value: &ast.UnExp{Op: notOp, Value: &ast.Slot{SlotNum: ins.CD}}},
		}, nil

	case op == opcode.IST || op == opcode.ISF:
		notOp := ""
		if op == opcode.ISF {
			notOp = "not"
		}
		return []ast.Statement{&ast.Condition{Value: &ast.UnExp{Op: notOp, Value: &ast.Slot{SlotNum: ins.CD}}}}, nil

	case op >= opcode.MOV && op <= opcode.LEN:
		var val ast.Exp
		if op == opcode.MOV {
			val = &ast.Slot{SlotNum: ins.CD}
		} else {
			val = &ast.UnExp{Op: ast.UnOp[op.String()], Value: &ast.Slot{SlotNum: ins.CD}}
		}
		return assign1(ins.A, val), nil

	case op >= opcode.ADDVN && op <= opcode.POW:
		rhs, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		return assign1(ins.A, &ast.BinExp{Op: ast.BinOp[op.String()], Left: &ast.Slot{SlotNum: ins.B}, Right: rhs}), nil

	case op == opcode.CAT:
		var acc ast.Exp = &ast.Slot{SlotNum: ins.B}
		for i := ins.B + 1; i <= ins.CD; i++ {
			acc = &ast.BinExp{Op: "..", Left: acc, Right: &ast.Slot{SlotNum: i}}
		}
		return assign1(ins.A, acc), nil

	case op >= opcode.KSTR && op <= opcode.KPRI:
		val, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		return assign1(ins.A, val), nil

	case op == opcode.KNIL:
		vals := make([]ast.Exp, ins.CD-ins.A+1)
		for i := range vals {
			vals[i] = &ast.Primitive{Value: nil}
		}
		return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(slots(ins.A, ins.CD+1)...), Values: ast.NewExpList(vals...)}}, nil

	case op >= opcode.UGET && op <= opcode.USETP:
		target, err := b.buildOperand(op.Info().A, ins.A, ins.Addr)
		if err != nil {
			return nil, err
		}
		value, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		return []ast.Statement{&ast.Assign{
			Targets: ast.NewExpList(target),
			Values:  ast.NewExpList(value),
		}}, nil

	case op == opcode.FNEW:
		ref, err := b.constantAt(ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		child, ok := ref.(*bc.Prototype)
		if !ok {
			return nil, b.invariantViolation(ins.Addr, "FNEW constant is not a child prototype")
		}
		funcDef, err := New(child).Build(false)
		if err != nil {
			funcDef = &ast.FuncDef{Args: ast.NewExpList(), Statements: ast.NewStatementList(nil)}
		}
		return assign1(ins.A, funcDef), nil

	case op == opcode.TNEW:
		return assign1(ins.A, &ast.TableConstructor{}), nil

	case op == opcode.TDUP:
		ref, err := b.constantAt(ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		table, ok := ref.(*bc.Table)
		if !ok {
			return nil, b.invariantViolation(ins.Addr, "TDUP constant is not a table")
		}
		arr := make([]ast.Exp, len(table.Array))
		for i, v := range table.Array {
			arr[i] = b.buildTableOperand(v)
		}
		var dict [][2]ast.Exp
		for _, kv := range table.Hash {
			dict = append(dict, [2]ast.Exp{b.buildTableOperand(kv[0]), b.buildTableOperand(kv[1])})
		}
		return assign1(ins.A, &ast.TableConstructor{Array: ast.NewExpList(arr...), Dictionary: dict}), nil

	case op == opcode.GGET || op == opcode.TGETV || op == opcode.TGETS || op == opcode.TGETB:
		table := tableOf(op.Info().B, ins.B)
		target, err := b.buildOperand(op.Info().A, ins.A, ins.Addr)
		if err != nil {
			return nil, err
		}
		key, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		return []ast.Statement{&ast.Assign{
			Targets: ast.NewExpList(target),
			Values:  ast.NewExpList(&ast.TableElement{Table: table, Key: key}),
		}}, nil

	case op == opcode.GSET || op == opcode.TSETV || op == opcode.TSETS || op == opcode.TSETB:
		table := tableOf(op.Info().B, ins.B)
		key, err := b.buildOperand(op.Info().CD, ins.CD, ins.Addr)
		if err != nil {
			return nil, err
		}
		value, err := b.buildOperand(op.Info().A, ins.A, ins.Addr)
		if err != nil {
			return nil, err
		}
		return []ast.Statement{&ast.Assign{
			Targets: ast.NewExpList(&ast.TableElement{Table: table, Key: key}),
			Values:  ast.NewExpList(value),
		}}, nil

	case op == opcode.TSETM:
		return []ast.Statement{&ast.Assign{
			Targets: ast.NewExpList(&ast.TableElement{Table: &ast.Slot{SlotNum: ins.A - 1}, Key: &ast.Vararg{}}),
			Values:  ast.NewExpList(ast.NewMultiRes()),
		}}, nil

	case op >= opcode.CALLM && op <= opcode.CALLT:
		isVariadic := op == opcode.CALLM || op == opcode.CALLMT
		extra := 0
		if isVariadic {
			extra = 1
		}
		args := slots(ins.A+1, ins.A+ins.CD+extra)
		if isVariadic {
			args = append(args, ast.NewMultiRes())
		}
		call := &ast.FuncCall{Func: &ast.Slot{SlotNum: ins.A}, Args: ast.NewExpList(args...), IsVariadic: isVariadic}
		if op <= opcode.CALL {
			if ins.B > 0 {
				return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(slots(ins.A, ins.A+ins.B-1)...), Values: ast.NewExpList(call)}}, nil
			}
			return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(ast.NewMultiRes()), Values: ast.NewExpList(call)}}, nil
		}
		return []ast.Statement{&ast.Return{Returns: ast.NewExpList(call)}}, nil

	case op == opcode.VARG:
		if ins.B-2 < 0 {
			return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(ast.NewMultiRes()), Values: ast.NewExpList(&ast.Vararg{})}}, nil
		}
		return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(slots(ins.A, ins.A+ins.B-1)...), Values: ast.NewExpList(&ast.Vararg{})}}, nil

	case op >= opcode.RETM && op <= opcode.RET:
		returns := append(slots(ins.A, ins.A+ins.CD), ast.NewMultiRes())
		return []ast.Statement{&ast.Return{Returns: ast.NewExpList(returns...)}}, nil

	case op >= opcode.RET && op <= opcode.RET1:
		return []ast.Statement{&ast.Return{Returns: ast.NewExpList(slots(ins.A, ins.A+ins.CD-1)...)}}, nil

	case op == opcode.FORI || op == opcode.JFORI:
		return []ast.Statement{&ast.ForInit{
			Index: &ast.Slot{SlotNum: ins.A + 3}, Start: &ast.Slot{SlotNum: ins.A},
			Stop: &ast.Slot{SlotNum: ins.A + 1}, Step: &ast.Slot{SlotNum: ins.A + 2},
		}}, nil

	case op == opcode.FORL || op == opcode.IFORL || op == opcode.JFORL:
		return []ast.Statement{&ast.ForLoop{
			Index: &ast.Slot{SlotNum: ins.A + 3}, Start: &ast.Slot{SlotNum: ins.A},
			Stop: &ast.Slot{SlotNum: ins.A + 1}, Step: &ast.Slot{SlotNum: ins.A + 2},
		}}, nil

	case op == opcode.ITERC || op == opcode.ITERN:
		return []ast.Statement{&ast.IterCall{
			Generator: &ast.Slot{SlotNum: ins.A - 3}, State: &ast.Slot{SlotNum: ins.A - 2}, Control: &ast.Slot{SlotNum: ins.A - 1},
			Values: ast.NewExpList(slots(ins.A, ins.A+ins.B-1)...),
		}}, nil

	case op == opcode.ITERL || op == opcode.IITERL || op == opcode.JITERL:
		return []ast.Statement{&ast.IterLoop{Index: &ast.Slot{SlotNum: ins.A}, Control: &ast.Slot{SlotNum: ins.A - 1}}}, nil

	case op == opcode.LOOP || op == opcode.ILOOP || op == opcode.JLOOP:
		return []ast.Statement{&ast.LoopBody{}}, nil

	default:
		// ISNEXT, JMP, *FUNC*, UCLO carry no statement of their own; they are
		// pure control-flow markers consumed while building block edges.
		return nil, nil
	}
}

// constantAt fetches the prototype constant at idx, reporting an
// *ast.InvariantViolation instead of panicking when it's out of range.
func (b *Builder) constantAt(idx int, pc int) (interface{}, error) {
	if idx < 0 || idx >= len(b.Prototype.Constants) {
		return nil, b.invariantViolation(pc, fmt.Sprintf("constant index %d out of range (have %d)", idx, len(b.Prototype.Constants)))
	}
	return b.Prototype.Constants[idx].Ref, nil
}

func tableOf(kind opcode.OperandKind, b int) ast.Exp {
	if kind != opcode.None {
		return &ast.Slot{SlotNum: b}
	}
	return &ast.Constant{Value: "_env"}
}

func assign1(slot int, value ast.Exp) []ast.Statement {
	return []ast.Statement{&ast.Assign{Targets: ast.NewExpList(&ast.Slot{SlotNum: slot}), Values: ast.NewExpList(value)}}
}

func (b *Builder) buildTableOperand(value interface{}) ast.Exp {
	switch v := value.(type) {
	case nil:
		return &ast.Primitive{Value: nil}
	case bool:
		return &ast.Primitive{Value: v}
	case int64:
		return &ast.Constant{Value: v}
	case float64:
		return &ast.Constant{Value: v}
	case string:
		return &ast.Constant{Value: v}
	default:
		return &ast.Primitive{Value: nil}
	}
}

// buildOperand decodes one instruction operand into its AST expression.
// Constant- and numeric-table lookups are bounds-checked and reported as an
// *ast.InvariantViolation rather than panicking on a malformed index; pc is
// the instruction address to attach to that error.
func (b *Builder) buildOperand(kind opcode.OperandKind, op int, pc int) (ast.Exp, error) {
	switch kind {
	case opcode.Str, opcode.Cdt, opcode.Tab, opcode.Fun:
		ref, err := b.constantAt(op, pc)
		if err != nil {
			return nil, err
		}
		return &ast.Constant{Value: ref}, nil
	case opcode.Num:
		if op < 0 || op >= len(b.Prototype.Numerics) {
			return nil, b.invariantViolation(pc, fmt.Sprintf("numeric constant index %d out of range (have %d)", op, len(b.Prototype.Numerics)))
		}
		return &ast.Constant{Value: b.Prototype.Numerics[op]}, nil
	case opcode.Pri:
		switch op {
		case 0:
			return &ast.Primitive{Value: nil}, nil
		case 1:
			return &ast.Primitive{Value: false}, nil
		default:
			return &ast.Primitive{Value: true}, nil
		}
	case opcode.Var, opcode.Dst, opcode.BS, opcode.RBS:
		return &ast.Slot{SlotNum: op}, nil
	case opcode.UV:
		return &ast.Upvalue{SlotNum: op}, nil
	case opcode.Lit, opcode.SLit:
		return &ast.Literal{Value: op}, nil
	default:
		panic(fmt.Sprintf("astbuild: no operand kind for %v", kind))
	}
}
