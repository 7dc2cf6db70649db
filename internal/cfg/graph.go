// Package cfg builds and structurally reduces the control-flow graph of a
// prototype's basic blocks into nested if/while/repeat/for statements. The
// reduction algorithm - simplify, then repeatedly collapse short-circuit
// conditions, recognize loops, and recognize ifs until no block keeps more
// than one outgoing edge - is carried over unchanged from the original
// analyzer; only block/edge bookkeeping is reshaped into idiomatic Go.
package cfg

import (
	"fmt"
	"strings"

	"github.com/ljdec/ljdec/internal/ast"
)

var blockSeq int

func nextBlockIndex() int {
	blockSeq++
	return blockSeq
}

// Edge is a directed control-flow edge. Condition is nil for an
// unconditional edge, or true/false for the corresponding arm of a Decision.
type Edge struct {
	Tail      *Block
	Condition interface{}
}

// Block is one basic block: a straight-line run of statements plus its
// outgoing edges.
type Block struct {
	Index      int
	Statements []ast.Statement
	Succ       []Edge
}

// NewBlock wraps statements into a freshly indexed block with no edges.
func NewBlock(statements []ast.Statement) *Block {
	return &Block{Index: nextBlockIndex(), Statements: statements}
}

// FindSucc returns the successor reached via the edge carrying condition
// cond, or nil if there is none.
func (b *Block) FindSucc(cond interface{}) *Block {
	for _, e := range b.Succ {
		if e.Condition == cond {
			return e.Tail
		}
	}
	return nil
}

func (b *Block) String() string { return fmt.Sprintf("Block(%d)", b.Index) }

func lastStatement(b *Block) ast.Statement {
	if len(b.Statements) == 0 {
		return nil
	}
	return b.Statements[len(b.Statements)-1]
}

// ErrIrreducible is returned by NewGraph when the graph cannot be fully
// reduced to a single block: the prototype's control flow isn't one of the
// structured shapes (if/while/repeat/for/for-in) this reducer recognizes.
type ErrIrreducible struct {
	Graph *Graph
}

func (e *ErrIrreducible) Error() string {
	return "cfg: irreducible control flow graph:\n" + e.Graph.DebugString()
}

// Graph is a control-flow graph rooted at Root, reduced in place by
// NewGraph.
type Graph struct {
	Root        *Block
	pred        map[*Block][]Edge
	protoNumber int
}

// NewGraph builds a Graph rooted at root and immediately reduces it,
// returning ErrIrreducible if reduction cannot finish. protoNumber is
// carried along purely for error context: it is stamped onto any
// *ast.InvariantViolation raised while recognizing a loop shape so the
// caller can report which prototype it came from.
func NewGraph(root *Block, protoNumber int) (*Graph, error) {
	g := &Graph{Root: root, pred: map[*Block][]Edge{}, protoNumber: protoNumber}
	if err := g.construct(); err != nil {
		return nil, err
	}
	return g, nil
}

// Blocks returns every block reachable from Root, visited breadth-first,
// each exactly once.
func (g *Graph) Blocks() []*Block {
	visited := map[*Block]bool{}
	var order []*Block
	queue := []*Block{g.Root}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if visited[b] {
			continue
		}
		visited[b] = true
		order = append(order, b)
		for _, e := range b.Succ {
			if !visited[e.Tail] {
				queue = append(queue, e.Tail)
			}
		}
	}
	return order
}

func (g *Graph) construct() error {
	g.simplify()
	changed := true
	for changed {
		changed = false
		if g.apply(g.collapseCondition) {
			changed = true
		}
		loopChanged, err := g.applyLoop()
		if err != nil {
			return err
		}
		if loopChanged {
			changed = true
		}
		if g.apply(g.constructIf) {
			changed = true
		}
	}
	if len(g.Root.Succ) > 0 {
		return &ErrIrreducible{Graph: g}
	}
	return nil
}

// apply repeatedly finds one block for which fn proposes a rewrite, performs
// it, re-simplifies, and repeats until fn proposes nothing. It returns
// whether at least one rewrite happened.
func (g *Graph) apply(fn func(*Block) (func(), bool)) bool {
	changedAny := false
	for {
		var op func()
		for _, b := range g.Blocks() {
			if f, ok := fn(b); ok {
				op = f
				break
			}
		}
		if op == nil {
			return changedAny
		}
		op()
		g.simplify()
		changedAny = true
	}
}

// applyLoop is apply's counterpart for constructLoop, which can reject a
// candidate loop shape with an *ast.InvariantViolation instead of merely
// declining it.
func (g *Graph) applyLoop() (bool, error) {
	changedAny := false
	for {
		var op func()
		for _, b := range g.Blocks() {
			f, ok, err := g.constructLoop(b)
			if err != nil {
				return changedAny, err
			}
			if ok {
				op = f
				break
			}
		}
		if op == nil {
			return changedAny, nil
		}
		op()
		g.simplify()
		changedAny = true
	}
}

func (g *Graph) findPred(b *Block, cond interface{}) *Block {
	for _, e := range g.pred[b] {
		if e.Condition == cond {
			return e.Tail
		}
	}
	return nil
}

func (g *Graph) hasPath(src, dst *Block) bool {
	visited := map[*Block]bool{}
	queue := []*Block{src}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if visited[b] {
			continue
		}
		visited[b] = true
		if b == dst {
			return true
		}
		for _, e := range b.Succ {
			if !visited[e.Tail] {
				queue = append(queue, e.Tail)
			}
		}
	}
	return false
}

// constructLoop recognizes one of the six loop shapes (numeric for, a
// degenerate for-with-immediate-return, generic for-in, while, repeat, or an
// unconditional while-true) rooted at block, and returns the build_loop
// thunk to apply. A recognized shape whose slots don't line up the way the
// bytecode guarantees they must (for-loop/for-init index, iter-loop/
// iter-call generator) is reported as an *ast.InvariantViolation rather than
// silently built or silently skipped.
func (g *Graph) constructLoop(block *Block) (func(), bool, error) {
	last := lastStatement(block)
	trueB := block.FindSucc(true)
	falseB := block.FindSucc(false)

	if fl, ok := last.(*ast.ForLoop); ok {
		head := g.findPred(trueB, nil)
		if head == nil {
			for _, e := range g.pred[trueB] {
				if e.Tail != block {
					head = e.Tail
					break
				}
			}
		}
		if head != nil {
			if len(head.Statements) == 0 {
				return nil, false, g.invariantViolation(fl.Addr(), "for loop has no matching for-init head")
			}
			fi, ok := head.Statements[len(head.Statements)-1].(*ast.ForInit)
			if !ok {
				return nil, false, g.invariantViolation(fl.Addr(), "for loop head does not end in a for-init")
			}
			if fi.Index.SlotNum != fl.Index.SlotNum || fi.Start.SlotNum != fl.Start.SlotNum {
				return nil, false, g.invariantViolation(fl.Addr(), "for loop index/start slot does not match its for-init")
			}
			out := head.FindSucc(true)
			return func() { g.buildLoop("for", block, head, trueB, out) }, true, nil
		}
	}

	if _, ok := last.(*ast.ForInit); ok {
		if falseB != nil {
			if _, ok := lastStatement(falseB).(*ast.Return); ok {
				return func() { g.buildLoop("for_return", block, block, falseB, trueB) }, true, nil
			}
		}
	}

	if il, ok := last.(*ast.IterLoop); ok {
		if len(block.Statements) < 2 {
			return nil, false, g.invariantViolation(il.Addr(), "iter loop body has no preceding iterator call")
		}
		ic, ok := block.Statements[len(block.Statements)-2].(*ast.IterCall)
		if !ok {
			return nil, false, g.invariantViolation(il.Addr(), "iter loop body's preceding statement is not an iterator call")
		}
		if il.Index.SlotNum != ic.Generator.SlotNum+3 {
			return nil, false, g.invariantViolation(il.Addr(), "iter loop index slot does not match generator+3")
		}
		return func() { g.buildLoop("iter", block, block, trueB, falseB) }, true, nil
	}

	if len(block.Statements) > 0 {
		if _, ok := block.Statements[0].(*ast.LoopBody); ok {
			if cond := g.findPred(block, false); cond != nil {
				if dec, ok := lastStatement(cond).(ast.Decision); ok && dec.Addr() < block.Statements[0].Addr() && g.hasPath(block, cond) {
					return func() { g.buildLoop("while", cond, cond, block, cond.FindSucc(true)) }, true, nil
				}
			}
			if cond := g.findPred(block, true); cond != nil {
				if dec, ok := lastStatement(cond).(ast.Decision); ok && dec.Addr() > block.Statements[0].Addr() && g.hasPath(block, cond) {
					return func() { g.buildLoop("repeat", cond, block, block, cond.FindSucc(false)) }, true, nil
				}
			}
			for _, e := range g.pred[block] {
				if e.Condition == nil && e.Tail != nil {
					if lastStatement(e.Tail) != nil && lastStatement(e.Tail).Addr() > block.Statements[0].Addr() && g.hasPath(block, e.Tail) {
						return func() { g.buildLoop("while_true", block, block, block, nil) }, true, nil
					}
				}
			}
		}
	}

	return nil, false, nil
}

func (g *Graph) invariantViolation(pc int, msg string) error {
	return &ast.InvariantViolation{Prototype: g.protoNumber, PC: pc, Msg: msg}
}

// collapseCondition detects a short-circuit `and`/`or` diamond: root's
// decision feeds into another single-predecessor decision block on one arm,
// both eventually landing on the same two targets.
func (g *Graph) collapseCondition(root *Block) (func(), bool) {
	if len(root.Succ) != 2 {
		return nil, false
	}
	if _, ok := lastStatement(root).(ast.Decision); !ok {
		return nil, false
	}
	trueB := root.FindSucc(true)
	falseB := root.FindSucc(false)

	if trueB == root || falseB == root {
		// a self-loop is a loop construct, not a short-circuit condition;
		// leave it for constructLoop (or irreducibility) to decide.
		return nil, false
	}

	if _, ok := lastStatement(falseB).(ast.Decision); ok && len(g.pred[falseB]) == 1 {
		if _, isLoopBody := falseB.Statements[0].(*ast.LoopBody); !isLoopBody {
			if falseB.FindSucc(true) == trueB {
				return func() {
					g.mergeDecision(root, falseB, "or", []Edge{{Tail: trueB, Condition: true}, {Tail: falseB.FindSucc(false), Condition: false}}, false)
				}, true
			}
			if falseB.FindSucc(false) == trueB {
				return func() {
					g.mergeDecision(root, falseB, "and", []Edge{{Tail: falseB.FindSucc(true), Condition: true}, {Tail: trueB, Condition: false}}, true)
				}, true
			}
		}
	}

	if _, ok := lastStatement(trueB).(ast.Decision); ok && len(g.pred[trueB]) == 1 {
		if _, isLoopBody := trueB.Statements[0].(*ast.LoopBody); !isLoopBody {
			if trueB.FindSucc(true) == falseB {
				return func() {
					g.mergeDecision(root, trueB, "or", []Edge{{Tail: falseB, Condition: true}, {Tail: trueB.FindSucc(false), Condition: false}}, true)
				}, true
			}
			if trueB.FindSucc(false) == falseB {
				return func() {
					g.mergeDecision(root, trueB, "and", []Edge{{Tail: trueB.FindSucc(true), Condition: true}, {Tail: falseB, Condition: false}}, false)
				}, true
			}
		}
	}

	return nil, false
}

// constructIf recognizes the remaining if/then/else shapes once no more
// loops or conditions can be collapsed.
func (g *Graph) constructIf(block *Block) (func(), bool) {
	if len(block.Succ) != 2 {
		return nil, false
	}
	if _, ok := lastStatement(block).(ast.Decision); !ok {
		return nil, false
	}
	trueB := block.FindSucc(true)
	falseB := block.FindSucc(false)

	if trueB == falseB {
		nothing := NewBlock([]ast.Statement{&ast.Nop{}})
		return func() { g.buildDecision(block, nothing, nil, trueB, false) }, true
	}

	if len(trueB.Succ) == 1 && len(g.pred[trueB]) == 1 && trueB.Succ[0].Tail == falseB {
		return func() { g.buildDecision(block, trueB, nil, falseB, false) }, true
	}

	if len(falseB.Succ) == 1 && len(g.pred[falseB]) == 1 && falseB.Succ[0].Tail == trueB {
		return func() { g.buildDecision(block, falseB, nil, trueB, true) }, true
	}

	if len(trueB.Succ) == 1 && len(falseB.Succ) == 1 && len(g.pred[trueB]) == 1 && len(g.pred[falseB]) == 1 && trueB.Succ[0].Tail == falseB.Succ[0].Tail {
		return func() { g.buildDecision(block, trueB, falseB, trueB.Succ[0].Tail, false) }, true
	}

	if len(trueB.Succ) == 0 && len(falseB.Succ) == 0 && len(g.pred[trueB]) == 1 && len(g.pred[falseB]) == 1 {
		return func() { g.buildDecision(block, trueB, falseB, nil, false) }, true
	}

	if len(trueB.Succ) == 0 {
		if len(g.pred[trueB]) == 1 {
			return func() { g.buildDecision(block, trueB, nil, falseB, false) }, true
		}
		if len(trueB.Statements) == 1 {
			if r, ok := trueB.Statements[0].(*ast.Return); ok {
				return func() {
					g.buildDecision(block, NewBlock([]ast.Statement{&ast.Return{Returns: r.Returns}}), nil, falseB, false)
				}, true
			}
		}
	}

	if len(falseB.Succ) == 0 {
		if len(g.pred[falseB]) == 1 {
			return func() { g.buildDecision(block, falseB, nil, trueB, true) }, true
		}
		if len(falseB.Statements) == 1 {
			if r, ok := falseB.Statements[0].(*ast.Return); ok {
				return func() {
					g.buildDecision(block, NewBlock([]ast.Statement{&ast.Return{Returns: r.Returns}}), nil, trueB, true)
				}, true
			}
		}
	}

	return nil, false
}

func (g *Graph) buildLoop(loopType string, loop, entry, body, out *Block) {
	if loopType == "for" || loopType == "repeat" {
		loop.Succ = nil
	}

	var bodyBlocks []*Block
	if loopType == "for_return" {
		forInit := entry.Statements[len(entry.Statements)-1].(*ast.ForInit)
		entry.Statements[len(entry.Statements)-1] = ast.NewFor(forInit, ast.NewStatementList(body.Statements))
		bodyBlocks = []*Block{body}
	} else {
		bodyBlocks = g.getLoopBody(entry, body, out)
	}

	switch loopType {
	case "for":
		forInit := entry.Statements[len(entry.Statements)-1].(*ast.ForInit)
		loop.Statements[len(loop.Statements)-1] = &ast.Nop{}
		nested, _ := NewGraph(body, g.protoNumber)
		entry.Statements[len(entry.Statements)-1] = ast.NewFor(forInit, ast.NewStatementList(nested.Root.Statements))
	case "iter":
		n := len(entry.Statements)
		entry.Statements = entry.Statements[:n-1] // drop IterLoop
		iterCall := entry.Statements[len(entry.Statements)-1].(*ast.IterCall)
		nested, _ := NewGraph(body, g.protoNumber)
		entry.Statements[len(entry.Statements)-1] = ast.NewForIn(iterCall, ast.NewStatementList(nested.Root.Statements))
	case "while":
		body.Statements[0] = &ast.Nop{}
		decision := entry.Statements[len(entry.Statements)-1].(ast.Decision)
		decision.Reverse()
		nested, _ := NewGraph(body, g.protoNumber)
		entry.Statements = []ast.Statement{ast.NewWhile(ast.NewStatementList(entry.Statements), ast.NewStatementList(nested.Root.Statements))}
	case "while_true":
		entry.Statements[0] = &ast.Nop{}
		nested, _ := NewGraph(body, g.protoNumber)
		cond := ast.NewStatementList([]ast.Statement{&ast.Condition{Value: &ast.UnExp{Op: "", Value: &ast.Primitive{Value: true}}}})
		entry.Statements = []ast.Statement{ast.NewWhile(cond, ast.NewStatementList(nested.Root.Statements))}
	default: // repeat
		body.Statements[0] = &ast.Nop{}
		decision := loop.Statements[len(loop.Statements)-1].(ast.Decision)
		decision.Reverse()
		loop.Statements[len(loop.Statements)-1] = &ast.Nop{}
		nested, _ := NewGraph(body, g.protoNumber)
		entry.Statements = []ast.Statement{ast.NewRepeat(decision, ast.NewStatementList(nested.Root.Statements))}
	}

	if out != nil {
		entry.Succ = []Edge{{Tail: out}}
	} else {
		entry.Succ = nil
	}
	_ = bodyBlocks
}

// getLoopBody walks forward from body, stopping at entry (redirected to a
// synthetic exit block) and rewriting any edge that leaves to out into an
// explicit Break statement.
func (g *Graph) getLoopBody(entry, body, out *Block) []*Block {
	visited := map[*Block]bool{entry: true}
	if out != nil {
		visited[out] = true
	}
	queue := []*Block{body}
	var bodyBlocks []*Block
	exitBlock := NewBlock([]ast.Statement{&ast.Nop{}})

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		visited[b] = true
		bodyBlocks = append(bodyBlocks, b)

		for i := range b.Succ {
			if b.Succ[i].Tail == entry {
				b.Succ[i].Tail = exitBlock
			}
		}

		leavesToOut := false
		for _, e := range b.Succ {
			if e.Tail == out {
				leavesToOut = true
				break
			}
		}
		if leavesToOut {
			if dec, ok := lastStatement(b).(ast.Decision); ok {
				breakBlock := NewBlock([]ast.Statement{&ast.Break{}})
				var target *Block
				if b.FindSucc(false) == out {
					dec.Reverse()
					target = b.FindSucc(true)
				} else {
					target = b.FindSucc(false)
				}
				b.Succ = []Edge{{Tail: breakBlock, Condition: true}, {Tail: target, Condition: false}}
			} else {
				b.Statements = append(b.Statements, &ast.Break{})
				b.Succ = nil
			}
		}

		for _, e := range b.Succ {
			if !visited[e.Tail] {
				queue = append(queue, e.Tail)
			}
		}
	}
	return bodyBlocks
}

func (g *Graph) mergeDecision(block, merged *Block, op string, newEdges []Edge, reverseLeft bool) {
	merged.Succ = nil
	left := block.Statements[len(block.Statements)-1].(ast.Decision)
	if reverseLeft {
		left.Reverse()
	}
	nested, _ := NewGraph(merged, g.protoNumber)
	block.Statements[len(block.Statements)-1] = ast.NewBinCondition(op, left, ast.NewStatementList(nested.Root.Statements))
	block.Succ = newEdges
}

func (g *Graph) buildDecision(block *Block, then, other, out *Block, reverseCondition bool) {
	condition := block.Statements[len(block.Statements)-1].(ast.Decision)
	var thenList, otherList *ast.StatementList
	if then != nil {
		then.Succ = nil
		thenList = ast.NewStatementList(then.Statements)
	}
	if other != nil {
		other.Succ = nil
		otherList = ast.NewStatementList(other.Statements)
	}
	if reverseCondition {
		condition.Reverse()
	}
	block.Statements[len(block.Statements)-1] = ast.NewIf(condition, thenList, otherList)
	if out != nil {
		block.Succ = []Edge{{Tail: out}}
	} else {
		block.Succ = nil
	}
}

func isNopOnly(b *Block) bool {
	for _, s := range b.Statements {
		if _, ok := s.(*ast.Nop); !ok {
			return false
		}
	}
	return true
}

// simplify removes empty pass-through blocks and merges single-in/single-out
// edge chains.
func (g *Graph) simplify() {
	for _, b := range g.Blocks() {
		for i := range b.Succ {
			for (len(b.Succ[i].Tail.Statements) == 0 || isNopOnly(b.Succ[i].Tail)) && len(b.Succ[i].Tail.Succ) == 1 {
				b.Succ[i].Tail = b.Succ[i].Tail.Succ[0].Tail
			}
		}
	}
	g.updatePred()

	for _, b := range g.Blocks() {
		for len(b.Succ) == 1 && b.Succ[0].Tail != g.Root && len(g.pred[b.Succ[0].Tail]) == 1 {
			merged := b.Succ[0].Tail
			b.Statements = append(b.Statements, merged.Statements...)
			b.Succ = merged.Succ
		}
	}
	g.updatePred()
}

func (g *Graph) updatePred() {
	g.pred = map[*Block][]Edge{}
	for _, b := range g.Blocks() {
		for _, e := range b.Succ {
			g.pred[e.Tail] = append(g.pred[e.Tail], Edge{Tail: b, Condition: e.Condition})
		}
	}
}

// DebugString renders the remaining blocks and edges, used to annotate an
// ErrIrreducible the way a residual-graph dump explains a failed reduction.
func (g *Graph) DebugString() string {
	var sb strings.Builder
	for _, b := range g.Blocks() {
		fmt.Fprintf(&sb, "block %d:\n", b.Index)
		for _, s := range b.Statements {
			fmt.Fprintf(&sb, "  %v\n", s)
		}
		for _, e := range b.Succ {
			fmt.Fprintf(&sb, "  -> block %d [%v]\n", e.Tail.Index, e.Condition)
		}
	}
	return sb.String()
}
