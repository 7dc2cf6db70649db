package astbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljdec/ljdec/internal/ast"
	"github.com/ljdec/ljdec/internal/bc"
	"github.com/ljdec/ljdec/internal/opcode"
)

// returnLiteralProto builds the prototype for `return 42`: a synthetic FUNCF
// head, KSHORT loading the literal into slot 0, then RET1 returning it.
func returnLiteralProto() *bc.Prototype {
	return &bc.Prototype{
		FrameSize: 1,
		Instructions: []bc.Instruction{
			{Code: opcode.FUNCF, Addr: 0},
			{Code: opcode.KSHORT, A: 0, CD: 42, Addr: 1},
			{Code: opcode.RET1, A: 0, CD: 2, Addr: 2},
		},
	}
}

func TestBuildReturnLiteralInlinesTemporary(t *testing.T) {
	fd, err := New(returnLiteralProto()).Build(true)
	require.NoError(t, err)
	require.Len(t, fd.Statements.Content, 1)
	ret, ok := fd.Statements.Content[0].(*ast.Return)
	require.True(t, ok)
	require.Len(t, ret.Returns.Content, 1)
	lit, ok := ret.Returns.Content[0].(*ast.Literal)
	require.True(t, ok)
	assert.Equal(t, 42, lit.Value)
}

func TestBuildVariadicArgsUseVararg(t *testing.T) {
	p := returnLiteralProto()
	p.Variadic = true
	fd, err := New(p).Build(true)
	require.NoError(t, err)
	require.Len(t, fd.Args.Content, 1)
	_, ok := fd.Args.Content[0].(*ast.Vararg)
	assert.True(t, ok)
}

func TestBuildOperandPrimitiveKinds(t *testing.T) {
	b := New(&bc.Prototype{})
	nilVal, err := b.buildOperand(opcode.Pri, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, &ast.Primitive{Value: nil}, nilVal)
	falseVal, err := b.buildOperand(opcode.Pri, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, &ast.Primitive{Value: false}, falseVal)
	trueVal, err := b.buildOperand(opcode.Pri, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, &ast.Primitive{Value: true}, trueVal)
}

func TestBuildOperandConstantOutOfRangeIsInvariantViolation(t *testing.T) {
	b := New(&bc.Prototype{Number: 3})
	_, err := b.buildOperand(opcode.Str, 0, 7)
	require.Error(t, err)
	iv, ok := err.(*ast.InvariantViolation)
	require.True(t, ok)
	assert.Equal(t, 3, iv.Prototype)
	assert.Equal(t, 7, iv.PC)
}

func TestBuildStatementMovAssignsSlot(t *testing.T) {
	b := New(&bc.Prototype{})
	stmts, err := b.buildStatement(bc.Instruction{Code: opcode.MOV, A: 1, CD: 2})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assign, ok := stmts[0].(*ast.Assign)
	require.True(t, ok)
	assert.Equal(t, &ast.Slot{SlotNum: 1}, assign.Targets.Content[0])
	assert.Equal(t, &ast.Slot{SlotNum: 2}, assign.Values.Content[0])
}

func TestBuildStatementFNewOnWrongConstantKindIsInvariantViolation(t *testing.T) {
	b := New(&bc.Prototype{
		Number:    5,
		Constants: []bc.ConstRef{{Ref: "not a prototype"}},
	})
	_, err := b.buildStatement(bc.Instruction{Code: opcode.FNEW, A: 0, CD: 0, Addr: 9})
	require.Error(t, err)
	iv, ok := err.(*ast.InvariantViolation)
	require.True(t, ok)
	assert.Equal(t, 5, iv.Prototype)
	assert.Equal(t, 9, iv.PC)
}
