package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinExpString(t *testing.T) {
	e := &BinExp{Op: "+", Left: &Slot{SlotNum: 0}, Right: &Slot{SlotNum: 1}}
	assert.Equal(t, "slot0 + slot1", e.String())
}

func TestUnExpReverse(t *testing.T) {
	u := &UnExp{Op: "not", Value: &Slot{SlotNum: 0}}
	u.Reverse()
	assert.Equal(t, "", u.Op)
}

func TestBinExpReverse(t *testing.T) {
	b := &BinExp{Op: "<", Left: &Slot{SlotNum: 0}, Right: &Slot{SlotNum: 1}}
	b.Reverse()
	assert.Equal(t, ">=", b.Op)
}

func TestTableElementGlobalRendersBareName(t *testing.T) {
	te := &TableElement{Table: &Constant{Value: "_env"}, Key: &Constant{Value: "print"}}
	assert.Equal(t, "print", te.String())
}

func TestTableElementDottedAccess(t *testing.T) {
	te := &TableElement{Table: &Slot{SlotNum: 0}, Key: &Constant{Value: "field"}}
	assert.Equal(t, "slot0.field", te.String())
}

func TestTableElementBracketedAccess(t *testing.T) {
	te := &TableElement{Table: &Slot{SlotNum: 0}, Key: &Slot{SlotNum: 1}}
	assert.Equal(t, "slot0[slot1]", te.String())
}

func TestTableConstructorString(t *testing.T) {
	tc := &TableConstructor{
		Array:      NewExpList(&Literal{Value: 1}, &Literal{Value: 2}),
		Dictionary: [][2]Exp{{&Constant{Value: "k"}, &Literal{Value: 3}}},
	}
	assert.Equal(t, `{1, 2, ["k"]=3}`, tc.String())
}

func TestNewMultiResIsSlotNegativeOne(t *testing.T) {
	m := NewMultiRes()
	assert.Equal(t, -1, m.SlotNum)
}

func TestBinConditionReverseFlipsOpAndBothSides(t *testing.T) {
	left := &Condition{Value: &BinExp{Op: "<", Left: &Slot{SlotNum: 0}, Right: &Slot{SlotNum: 1}}}
	right := NewStatementList([]Statement{
		&Condition{Value: &BinExp{Op: "==", Left: &Slot{SlotNum: 2}, Right: &Slot{SlotNum: 3}}},
	})
	bc := NewBinCondition("or", left, right)
	bc.Reverse()
	assert.Equal(t, "and", bc.Op)
	assert.Equal(t, ">=", left.Value.(*BinExp).Op)
	assert.Equal(t, "~=", right.Content[0].(*Condition).Value.(*BinExp).Op)
}
