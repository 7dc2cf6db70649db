package emit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ljdec/ljdec/internal/ast"
)

func TestWriteReturnLiteral(t *testing.T) {
	fd := &ast.FuncDef{
		Args: ast.NewExpList(),
		Statements: ast.NewStatementList([]ast.Statement{
			&ast.Return{Returns: ast.NewExpList(&ast.Literal{Value: 42})},
		}),
		IsRoot: true,
	}
	assert.Equal(t, "return 42", New(fd).Write(fd))
}

func TestWriteAssignDeclaresLocalOnce(t *testing.T) {
	fd := &ast.FuncDef{
		Args: ast.NewExpList(),
		Statements: ast.NewStatementList([]ast.Statement{
			&ast.Assign{Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}), Values: ast.NewExpList(&ast.Literal{Value: 1})},
			&ast.Assign{Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}), Values: ast.NewExpList(&ast.Literal{Value: 2})},
		}),
		IsRoot: true,
	}
	out := New(fd).Write(fd)
	assert.Equal(t, "local slot0 = 1\nslot0 = 2", out)
}

func TestWriteBinExpParenthesizesLowerPrecedenceOperand(t *testing.T) {
	fd := &ast.FuncDef{
		Args: ast.NewExpList(),
		Statements: ast.NewStatementList([]ast.Statement{
			&ast.Return{Returns: ast.NewExpList(&ast.BinExp{
				Op:   "*",
				Left: &ast.Slot{SlotNum: 0},
				Right: &ast.BinExp{
					Op: "+", Left: &ast.Slot{SlotNum: 1}, Right: &ast.Slot{SlotNum: 2},
				},
			})},
		}),
		IsRoot: true,
	}
	assert.Equal(t, "return slot0 * (slot1 + slot2)", New(fd).Write(fd))
}

func TestWriteNonAssociativeRightOperandAlwaysParenthesized(t *testing.T) {
	fd := &ast.FuncDef{
		Args: ast.NewExpList(),
		Statements: ast.NewStatementList([]ast.Statement{
			&ast.Return{Returns: ast.NewExpList(&ast.BinExp{
				Op:   "-",
				Left: &ast.Slot{SlotNum: 0},
				Right: &ast.BinExp{
					Op: "-", Left: &ast.Slot{SlotNum: 1}, Right: &ast.Slot{SlotNum: 2},
				},
			})},
		}),
		IsRoot: true,
	}
	assert.Equal(t, "return slot0 - (slot1 - slot2)", New(fd).Write(fd))
}

func TestWriteFuncCallTrailingCallArgEscapeHatch(t *testing.T) {
	fd := &ast.FuncDef{
		Args: ast.NewExpList(),
		Statements: ast.NewStatementList([]ast.Statement{
			&ast.Return{Returns: ast.NewExpList(&ast.FuncCall{
				Func: &ast.Slot{SlotNum: 0},
				Args: ast.NewExpList(&ast.FuncCall{Func: &ast.Slot{SlotNum: 1}, Args: ast.NewExpList()}),
			})},
		}),
		IsRoot: true,
	}
	assert.Equal(t, "return slot0(ljtool.single_return_value(slot1()))", New(fd).Write(fd))
}
