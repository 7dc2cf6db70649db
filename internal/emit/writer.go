// Package emit renders a recovered AST back into Lua source text. Precedence
// rules, local-declaration placement and the few constructs that have no
// clean Lua source form (multi-assignment into a vararg table slot, a bare
// trailing multi-value call argument, a short-circuit condition whose right
// side spans more than one statement) are carried over from the original
// source emitter, including its ljtool.* escape hatches for those corner
// cases.
package emit

import (
	"fmt"
	"strings"

	"github.com/ljdec/ljdec/internal/ast"
)

// Writer renders one function's AST into Lua source.
type Writer struct {
	buf    strings.Builder
	indent int
	scopes []map[int]bool // front (index 0) is the innermost active block scope
}

// New returns a Writer with a function-level scope pre-seeded with node's
// argument slots, so they are never re-declared with `local`.
func New(node *ast.FuncDef) *Writer {
	root := map[int]bool{}
	for _, a := range node.Args.Content {
		if s, ok := a.(*ast.Slot); ok {
			root[s.SlotNum] = true
		}
	}
	return &Writer{scopes: []map[int]bool{root}}
}

// Write renders node (normally the FuncDef passed to New) and returns the
// accumulated source text.
func (w *Writer) Write(node ast.Node) string {
	w.visit(node)
	return w.buf.String()
}

func (w *Writer) write(s string) { w.buf.WriteString(s) }

func (w *Writer) hasDefine(slot int) bool {
	for _, scope := range w.scopes {
		if scope[slot] {
			return true
		}
	}
	return false
}

func (w *Writer) newLine(delta int) {
	w.indent += delta
	w.buf.WriteByte('\n')
	w.buf.WriteString(strings.Repeat("\t", w.indent))
}

// visitBlock renders node inside a fresh nested scope, the emitted
// equivalent of entering a Lua block where a first `local x = ...` is valid
// again even if an outer block already used the name slotN.
func (w *Writer) visitBlock(node ast.Node) {
	w.scopes = append([]map[int]bool{{}}, w.scopes...)
	w.visit(node)
	w.scopes = w.scopes[1:]
}

func (w *Writer) visit(node ast.Node) {
	switch n := node.(type) {
	case *ast.FuncDef:
		w.visitFuncDef(n)
	case *ast.StatementList:
		w.visitStatementList(n)
	case *ast.ExpList:
		w.visitExpList(n)
	case *ast.Assign:
		w.visitAssign(n)
	case *ast.Return:
		w.write("return ")
		w.visit(n.Returns)
	case *ast.Break:
		w.write("break")
	case *ast.Nop:
	case *ast.LoopBody:
	case *ast.If:
		w.visitIf(n)
	case *ast.For:
		w.visitFor(n)
	case *ast.ForIn:
		w.visitForIn(n)
	case *ast.While:
		w.visitWhile(n)
	case *ast.Repeat:
		w.visitRepeat(n)
	case *ast.Condition:
		w.visit(n.Value)
	case *ast.BinCondition:
		w.visitBinCondition(n)
	case *ast.BinExp:
		w.visitBinExp(n)
	case *ast.UnExp:
		w.visitUnExp(n)
	case *ast.Primitive:
		w.write(n.String())
	case *ast.Slot:
		w.write(n.String())
	case *ast.Upvalue:
		w.write(n.String())
	case *ast.Literal:
		w.write(n.String())
	case *ast.Constant:
		w.write(n.String())
	case *ast.TableConstructor:
		w.write(n.String())
	case *ast.TableElement:
		w.write(n.String())
	case *ast.MultiRes:
		w.write("ljtool.mutli_res")
	case *ast.Vararg:
		w.write("...")
	case *ast.FuncCall:
		w.visitFuncCall(n)
	default:
		panic(fmt.Sprintf("emit: no writer for %T", node))
	}
}

func (w *Writer) visitAll(parts ...interface{}) {
	for _, p := range parts {
		if s, ok := p.(string); ok {
			w.write(s)
		} else {
			w.visit(p.(ast.Node))
		}
	}
}

func (w *Writer) visitFuncDef(s *ast.FuncDef) {
	if s.IsRoot {
		w.visit(s.Statements)
		return
	}
	w.write("function (")
	w.visit(s.Args)
	w.write(")")
	w.newLine(1)
	w.visitBlock(s.Statements)
	w.newLine(-1)
	w.write("end")
}

func (w *Writer) visitStatementList(s *ast.StatementList) {
	hasStatement := false
	for _, stmt := range s.Content {
		_, isNop := stmt.(*ast.Nop)
		_, isLoopBody := stmt.(*ast.LoopBody)
		skip := isNop || isLoopBody
		if hasStatement && !skip {
			w.newLine(0)
		}
		w.visit(stmt)
		if !skip {
			hasStatement = true
		}
	}
}

func (w *Writer) visitExpList(s *ast.ExpList) {
	for i, v := range s.Content {
		if i > 0 {
			w.write(", ")
		}
		w.visit(v)
	}
}

// visitAssign renders an assignment, declaring `local` for any target slot
// not yet defined in the current or an enclosing block scope, and special-
// cases the ljtool.table_set_multi escape hatch for `t[...] = ...` when the
// target key is a vararg spread (TSETM has no direct Lua source form).
func (w *Writer) visitAssign(s *ast.Assign) {
	if len(s.Targets.Content) == 1 {
		if te, ok := s.Targets.Content[0].(*ast.TableElement); ok {
			if _, ok := te.Key.(*ast.Vararg); ok {
				w.write("ljtool.table_set_multi(")
				w.visit(te.Table)
				w.write(", ")
				w.visit(s.Values)
				w.write(")")
				return
			}
		}
	}

	if len(s.Targets.Content) > 0 {
		for _, v := range s.Targets.Content {
			if slot, ok := v.(*ast.Slot); ok {
				if !w.hasDefine(slot.SlotNum) {
					w.write("local ")
					w.scopes[0][slot.SlotNum] = true
					break
				}
			}
		}
		w.visit(s.Targets)
		w.write(" = ")
	}
	w.visit(s.Values)
}

func (w *Writer) visitIf(s *ast.If) {
	w.visitAll("if ", s.Condition, " then")
	w.newLine(1)
	w.visitBlock(s.Then)
	for _, ei := range s.ElseIfs {
		w.newLine(-1)
		w.visitAll("elseif ", ei.Condition, " then")
		w.newLine(1)
		w.visitBlock(ei.Then)
	}
	if s.Other != nil {
		w.newLine(-1)
		w.write("else")
		w.newLine(1)
		w.visitBlock(s.Other)
	}
	w.newLine(-1)
	w.write("end")
}

func (w *Writer) visitFor(s *ast.For) {
	w.visitAll("for ", s.Init.Index, " = ", s.Init.Start, ", ", s.Init.Stop, ", ", s.Init.Step)
	w.write(" do")
	w.newLine(1)
	w.visitBlock(s.Body)
	w.newLine(-1)
	w.write("end")
}

func (w *Writer) visitForIn(s *ast.ForIn) {
	w.visitAll("for ", s.Call.Values, " in ", s.Call.Iterator, " do")
	w.newLine(1)
	w.visitBlock(s.Body)
	w.newLine(-1)
	w.write("end")
}

func (w *Writer) visitWhile(s *ast.While) {
	w.visitAll("while ", s.Condition, " do")
	w.newLine(1)
	w.visitBlock(s.Body)
	w.newLine(-1)
	w.write("end")
}

func (w *Writer) visitRepeat(s *ast.Repeat) {
	w.write("repeat")
	w.newLine(1)
	w.visitBlock(s.Body)
	w.newLine(-1)
	w.write("until ")
	w.visit(s.Condition)
}

func needsParens(op string, side ast.Exp) bool {
	var sideOp string
	switch v := side.(type) {
	case *ast.UnExp:
		sideOp = v.Op
	case *ast.BinExp:
		sideOp = v.Op
	case *ast.BinCondition:
		sideOp = v.Op
	default:
		return false
	}
	return ast.OpPrecedence[op] > ast.OpPrecedence[sideOp]
}

func isNonAssociative(op string) bool {
	return op == "-" || op == "/" || op == "%"
}

func (w *Writer) visitBinExp(s *ast.BinExp) {
	if needsParens(s.Op, s.Left) {
		w.visitAll("(", s.Left, ")")
	} else {
		w.visit(s.Left)
	}
	w.visitAll(" ", s.Op, " ")
	if needsParens(s.Op, s.Right) || isNonAssociative(s.Op) {
		w.visitAll("(", s.Right, ")")
	} else {
		w.visit(s.Right)
	}
}

func (w *Writer) visitUnExp(s *ast.UnExp) {
	switch s.Op {
	case "not":
		w.write("not ")
	case "neg":
		w.write("-")
	default:
		w.write(s.Op)
	}
	if needsParens(s.Op, s.Value) || isNonAssociative(s.Op) {
		w.visitAll("(", s.Value, ")")
	} else {
		w.visit(s.Value)
	}
}

// visitBinCondition renders a collapsed short-circuit and/or. The right side
// is normally the trailing Decision of a single-statement block; a right
// side spanning more than one statement has no direct Lua source form and is
// left as a commented escape hatch.
func (w *Writer) visitBinCondition(s *ast.BinCondition) {
	if needsParens(s.Op, conditionExp(s.Left)) {
		w.visitAll("(", conditionExp(s.Left), ")")
	} else {
		w.visit(s.Left)
	}
	w.visitAll(" ", s.Op, " ")
	if len(s.Right.Content) != 1 {
		w.write("ljtool.mutli_line_condition(--[[")
		w.visit(s.Right)
		w.write("]])")
		return
	}
	right := s.Right.Content[len(s.Right.Content)-1]
	rightExp := conditionExp(right)
	if needsParens(s.Op, rightExp) || isNonAssociative(s.Op) {
		w.visitAll("(", rightExp, ")")
	} else {
		w.visit(rightExp)
	}
}

// conditionExp unwraps a Decision (Condition or BinCondition) to the Exp a
// binary writer can directly inspect for precedence/parenthesization.
func conditionExp(s ast.Statement) ast.Exp {
	switch v := s.(type) {
	case *ast.Condition:
		return v.Value
	case *ast.BinCondition:
		return v
	}
	panic(fmt.Sprintf("emit: statement %T is not a condition", s))
}

func (w *Writer) visitFuncCall(s *ast.FuncCall) {
	n := len(s.Args.Content)
	if n > 0 && !s.IsVariadic {
		if _, ok := s.Args.Content[n-1].(*ast.FuncCall); ok {
			w.visit(s.Func)
			w.write("(")
			for i, arg := range s.Args.Content {
				if i > 0 {
					w.write(", ")
				}
				if i == n-1 {
					w.write("ljtool.single_return_value(")
					w.visit(arg)
					w.write(")")
				} else {
					w.visit(arg)
				}
			}
			w.write(")")
			return
		}
	}
	w.visitAll(s.Func, "(", s.Args, ")")
}
