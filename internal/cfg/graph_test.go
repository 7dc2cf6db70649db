package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/ast"
)

func TestConstructIfDiamond(t *testing.T) {
	cond := NewBlock([]ast.Statement{&ast.Condition{Value: &ast.BinExp{Op: "<", Left: &ast.Slot{SlotNum: 0}, Right: &ast.Slot{SlotNum: 1}}}})
	thenB := NewBlock([]ast.Statement{&ast.Assign{Targets: ast.NewExpList(&ast.Slot{SlotNum: 2}), Values: ast.NewExpList(&ast.Literal{Value: 1})}})
	out := NewBlock([]ast.Statement{&ast.Return{Returns: ast.NewExpList()}})

	cond.Succ = []Edge{{Tail: thenB, Condition: true}, {Tail: out, Condition: false}}
	thenB.Succ = []Edge{{Tail: out}}

	graph, err := NewGraph(cond, 0)
	require.NoError(t, err)
	assert.Equal(t, cond, graph.Root)
	require.Len(t, graph.Root.Statements, 2)
	_, isIf := graph.Root.Statements[0].(*ast.If)
	assert.True(t, isIf)
}

func TestIrreducibleGraphError(t *testing.T) {
	// a self-loop with no LoopBody marker is never recognized as a loop,
	// so the block graph can never fully collapse to a single exit-free block.
	cond := NewBlock([]ast.Statement{&ast.Condition{Value: &ast.BinExp{Op: "<", Left: &ast.Slot{SlotNum: 0}, Right: &ast.Slot{SlotNum: 1}}}})
	out := NewBlock([]ast.Statement{&ast.Return{Returns: ast.NewExpList()}})
	cond.Succ = []Edge{{Tail: cond, Condition: true}, {Tail: out, Condition: false}}

	_, err := NewGraph(cond, 0)
	require.Error(t, err)
	var irr *ErrIrreducible
	require.ErrorAs(t, err, &irr)
}
