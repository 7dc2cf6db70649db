package tempelim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/ast"
)

func TestRunInlinesSingleUseTemporary(t *testing.T) {
	assign := &ast.Assign{
		Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}),
		Values:  ast.NewExpList(&ast.Literal{Value: 7}),
	}
	ret := &ast.Return{Returns: ast.NewExpList(&ast.Slot{SlotNum: 0})}
	body := ast.NewStatementList([]ast.Statement{assign, ret})

	out := New().Run(body)

	require.Len(t, out.Content, 1)
	r, ok := out.Content[0].(*ast.Return)
	require.True(t, ok)
	lit, ok := r.Returns.Content[0].(*ast.Literal)
	require.True(t, ok)
	assert.Equal(t, 7, lit.Value)
}

func TestRunKeepsTemporaryUsedTwice(t *testing.T) {
	assign := &ast.Assign{
		Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}),
		Values:  ast.NewExpList(&ast.FuncCall{Func: &ast.Constant{Value: "f"}, Args: ast.NewExpList()}),
	}
	ret := &ast.Return{Returns: ast.NewExpList(&ast.Slot{SlotNum: 0}, &ast.Slot{SlotNum: 0})}
	body := ast.NewStatementList([]ast.Statement{assign, ret})

	out := New().Run(body)

	// a temporary read twice keeps its single assignment rather than
	// duplicating the call into both usage sites.
	require.Len(t, out.Content, 2)
	a, ok := out.Content[0].(*ast.Assign)
	require.True(t, ok)
	_, isCall := a.Values.Content[0].(*ast.FuncCall)
	assert.True(t, isCall)
	r, ok := out.Content[1].(*ast.Return)
	require.True(t, ok)
	require.Len(t, r.Returns.Content, 2)
	s0, ok0 := r.Returns.Content[0].(*ast.Slot)
	s1, ok1 := r.Returns.Content[1].(*ast.Slot)
	require.True(t, ok0)
	require.True(t, ok1)
	assert.Equal(t, 0, s0.SlotNum)
	assert.Equal(t, 0, s1.SlotNum)
}

func TestRunInlinesEnvReadIntoMultipleUsages(t *testing.T) {
	envGet := &ast.TableElement{Table: &ast.Constant{Value: "_env"}, Key: &ast.Constant{Value: "x"}}
	assign := &ast.Assign{
		Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}),
		Values:  ast.NewExpList(envGet),
	}
	ret := &ast.Return{Returns: ast.NewExpList(&ast.Slot{SlotNum: 0}, &ast.Slot{SlotNum: 0})}
	body := ast.NewStatementList([]ast.Statement{assign, ret})

	out := New().Run(body)

	require.Len(t, out.Content, 1)
	r := out.Content[0].(*ast.Return)
	require.Len(t, r.Returns.Content, 2)
	_, ok0 := r.Returns.Content[0].(*ast.TableElement)
	_, ok1 := r.Returns.Content[1].(*ast.TableElement)
	assert.True(t, ok0)
	assert.True(t, ok1)
}

func TestRunDoesNotInlineSharedMultiTargetValue(t *testing.T) {
	call := &ast.FuncCall{Func: &ast.Constant{Value: "f"}, Args: ast.NewExpList()}
	assign := &ast.Assign{
		Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}, &ast.Slot{SlotNum: 1}),
		Values:  ast.NewExpList(call),
	}
	ret := &ast.Return{Returns: ast.NewExpList(&ast.Slot{SlotNum: 0}, &ast.Slot{SlotNum: 1})}
	body := ast.NewStatementList([]ast.Statement{assign, ret})

	out := New().Run(body)

	require.Len(t, out.Content, 2)
	_, ok := out.Content[0].(*ast.Assign)
	require.True(t, ok)
	r, ok := out.Content[1].(*ast.Return)
	require.True(t, ok)
	require.Len(t, r.Returns.Content, 2)
	s0, ok0 := r.Returns.Content[0].(*ast.Slot)
	s1, ok1 := r.Returns.Content[1].(*ast.Slot)
	require.True(t, ok0)
	require.True(t, ok1)
	assert.Equal(t, 0, s0.SlotNum)
	assert.Equal(t, 1, s1.SlotNum)
}

func TestRunRewritesIterCallFromPrecedingAssign(t *testing.T) {
	call := &ast.FuncCall{Func: &ast.Slot{SlotNum: 3}, Args: ast.NewExpList()}
	assign := &ast.Assign{
		Targets: ast.NewExpList(&ast.Slot{SlotNum: 0}, &ast.Slot{SlotNum: 1}, &ast.Slot{SlotNum: 2}),
		Values:  ast.NewExpList(call),
	}
	iter := &ast.IterCall{
		Generator: &ast.Slot{SlotNum: 0}, State: &ast.Slot{SlotNum: 1}, Control: &ast.Slot{SlotNum: 2},
		Values: ast.NewExpList(&ast.Slot{SlotNum: 4}),
	}
	body := ast.NewStatementList([]ast.Statement{assign, iter})

	out := New().Run(body)

	require.Len(t, out.Content, 1)
	ic, ok := out.Content[0].(*ast.IterCall)
	require.True(t, ok)
	require.NotNil(t, ic.Iterator)
	assert.Equal(t, call, ic.Iterator)
}
