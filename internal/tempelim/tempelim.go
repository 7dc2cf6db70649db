// Package tempelim eliminates compiler-introduced temporary slots from a
// freshly built AST by reaching-definition analysis: each use of a slot that
// has exactly one reaching assignment, with no intervening side effect that
// could invalidate inlining it, is replaced by the assigned expression and
// the now-dead assignment is dropped.
//
// The analysis walks the AST without first lowering it to a CFG: each
// statement type that can branch or loop (if, while, repeat, for, for-in)
// gets its own "enter" rule describing which statements reach which, in the
// same shape as a hand-rolled, tree-structured reaching-definitions pass.
package tempelim

import (
	"github.com/ljdec/ljdec/internal/ast"
)

// Scope identifies the lexical nesting a Define or Usage was recorded in.
// Usages may be inlined against a Define from the same or an enclosing
// scope, never from a disjoint or nested one.
type Scope struct {
	Parent *Scope
	Number int
}

func (s *Scope) contains(other *Scope) bool {
	for o := other; o != nil; o = o.Parent {
		if o == s {
			return true
		}
	}
	return false
}

// Define records one assignment to a slot: where it happened (Statement),
// what scope it happened in, and a cursor onto the assigned expression so it
// can be spliced into a usage site. Shared marks a define whose Value cursor
// aliases the same expression as one or more sibling defines from the same
// statement - an assign whose target count doesn't match its value count,
// such as the `local a, b = f()` shape a multi-return call produces. Shared
// defines are never inlined, since splicing their value into one usage would
// silently duplicate (or desynchronize) it for the others.
type Define struct {
	Slot      int
	Statement ast.Statement
	Scope     *Scope
	Shared    bool
	Value     ast.Cursor
}

// Usage records one read of a slot: a cursor onto the expression slot that
// referenced it, and the statement and scope it occurred in.
type Usage struct {
	Slot      int
	Statement ast.Statement
	Scope     *Scope
	Ref       ast.Cursor
}

// prev links a statement to the set of statements that can immediately
// precede it in execution order, with loop marking a back edge so the walk
// that follows prev chains only ever crosses it once.
type prev struct {
	statement ast.Statement
	loop      bool
}

// Eliminator runs the fixpoint inlining pass over a function body.
type Eliminator struct {
	defines []Define
	usages  []Usage
	prevs   map[ast.Statement][]prev
	scopeOf map[ast.Statement]*Scope
	nextNum int
}

// New creates an eliminator ready to process body.
func New() *Eliminator {
	return &Eliminator{prevs: map[ast.Statement][]prev{}, scopeOf: map[ast.Statement]*Scope{}}
}

// Run eliminates slot temporaries from body in place and returns the
// rewritten statement list (statements may have been dropped).
func (e *Eliminator) Run(body *ast.StatementList) *ast.StatementList {
	root := &Scope{Number: e.allocScope()}
	e.collectStatementList(body, nil, root, false)
	e.applyInline()
	rewriteIterCalls(body)
	removeDeadAssigns(body)
	return body
}

// rewriteIterCalls folds the generator-call assignment that an ITERC/ITERN
// instruction always follows into the IterCall node itself: the instruction
// sequence is always `slotA-3, slotA-2, slotA-1 = <generator call>` directly
// followed by the IterCall statement, so once inlining has run, the
// immediately preceding Assign carries the call expression the emitted
// `for ... in` clause needs.
func rewriteIterCalls(list *ast.StatementList) {
	if list == nil {
		return
	}
	for i, stmt := range list.Content {
		if ic, ok := stmt.(*ast.IterCall); ok && ic.Iterator == nil && i > 0 {
			if a, ok := list.Content[i-1].(*ast.Assign); ok {
				if len(a.Targets.Content) == 3 && len(a.Values.Content) == 1 {
					if call, ok := a.Values.Content[0].(*ast.FuncCall); ok {
						ic.Iterator = call
						ic.Generator, ic.State, ic.Control = nil, nil, nil
						a.Targets.Content = nil
						a.Values.Content = nil
					}
				}
			}
		}
		switch s := stmt.(type) {
		case *ast.If:
			rewriteIterCalls(s.Then)
			rewriteIterCalls(s.Other)
			for _, ei := range s.ElseIfs {
				rewriteIterCalls(ei.Then)
			}
		case *ast.While:
			rewriteIterCalls(s.Body)
		case *ast.Repeat:
			rewriteIterCalls(s.Body)
		case *ast.For:
			rewriteIterCalls(s.Body)
		case *ast.ForIn:
			rewriteIterCalls(s.Body)
		}
	}
}

func (e *Eliminator) allocScope() int {
	n := e.nextNum
	e.nextNum++
	return n
}

func (e *Eliminator) addPrev(stmt ast.Statement, ps []prev) {
	e.prevs[stmt] = append(e.prevs[stmt], ps...)
}

// collectStatementList walks a straight-line list, threading preds[] as the
// predecessor set for the first statement and chaining each subsequent
// statement to the one before it.
func (e *Eliminator) collectStatementList(list *ast.StatementList, preds []prev, scope *Scope, loopBack bool) []prev {
	if list == nil {
		return preds
	}
	if loopBack {
		// a revisit only adds the loop-flagged back edge into the list's
		// first statement; its usages and defines were recorded already
		if len(list.Content) > 0 {
			back := make([]prev, len(preds))
			for i, p := range preds {
				back[i] = prev{statement: p.statement, loop: true}
			}
			e.addPrev(list.Content[0], back)
		}
		return preds
	}
	cur := preds
	for _, stmt := range list.Content {
		e.scopeOf[stmt] = scope
		e.addPrev(stmt, cur)
		e.collectExps(stmt, scope)
		cur = e.collectStatement(stmt, cur, scope)
	}
	return cur
}

// collectStatement dispatches per statement kind, returning the predecessor
// set that the NEXT sibling statement should chain from.
func (e *Eliminator) collectStatement(stmt ast.Statement, in []prev, scope *Scope) []prev {
	switch s := stmt.(type) {
	case *ast.Assign:
		// when the target and value counts don't match - a multi-return call
		// assigned to more locals than it has explicit values for - every
		// target's cursor aliases the sole value at index 0, and the define
		// is marked Shared so it can never be inlined away.
		shared := len(s.Targets.Content) != len(s.Values.Content)
		for i, target := range s.Targets.Content {
			if slot, ok := target.(*ast.Slot); ok {
				idx := i
				if shared {
					idx = 0
				}
				e.defines = append(e.defines, Define{
					Slot: slot.SlotNum, Statement: stmt, Scope: scope, Shared: shared,
					Value: ast.Cursor{
						Get: func() ast.Exp { return s.Values.Content[idx] },
						Set: func(v ast.Exp) { s.Values.Content[idx] = v },
					},
				})
			}
		}
		return []prev{{statement: stmt}}

	case *ast.Return:
		return []prev{{statement: stmt}}

	case *ast.Break:
		return []prev{{statement: stmt}}

	case *ast.If:
		sub := &Scope{Parent: scope, Number: e.allocScope()}
		thenOut := e.collectStatementList(s.Then, in, sub, false)
		var out []prev
		out = append(out, thenOut...)
		if s.Other != nil {
			otherOut := e.collectStatementList(s.Other, in, sub, false)
			out = append(out, otherOut...)
		} else {
			out = append(out, in...)
		}
		for _, ei := range s.ElseIfs {
			eiOut := e.collectStatementList(ei.Then, in, sub, false)
			out = append(out, eiOut...)
		}
		return out

	case *ast.While:
		condSub := &Scope{Parent: scope, Number: e.allocScope()}
		bodySub := &Scope{Parent: condSub, Number: e.allocScope()}
		condOut := e.collectStatementList(s.Condition, in, condSub, false)
		bodyOut := e.collectStatementList(s.Body, condOut, bodySub, false)
		e.collectStatementList(s.Condition, bodyOut, condSub, true)
		return condOut

	case *ast.Repeat:
		bodySub := &Scope{Parent: scope, Number: e.allocScope()}
		bodyOut := e.collectStatementList(s.Body, in, bodySub, false)
		e.addPrev(conditionStatement(s.Condition), bodyOut)
		return []prev{{statement: s, loop: false}}

	case *ast.For:
		bodySub := &Scope{Parent: scope, Number: e.allocScope()}
		bodyOut := e.collectStatementList(s.Body, in, bodySub, false)
		e.addPrev(s.Init, bodyOut)
		return append(append([]prev{}, in...), bodyOut...)

	case *ast.ForIn:
		bodySub := &Scope{Parent: scope, Number: e.allocScope()}
		bodyOut := e.collectStatementList(s.Body, in, bodySub, false)
		e.addPrev(s.Call, bodyOut)
		return append(append([]prev{}, in...), bodyOut...)

	default:
		return []prev{{statement: stmt}}
	}
}

func conditionStatement(d ast.Decision) ast.Statement {
	if s, ok := d.(ast.Statement); ok {
		return s
	}
	return nil
}

// collectExps records every Slot read within stmt's own expressions (not its
// nested statement lists) as a Usage.
func (e *Eliminator) collectExps(stmt ast.Statement, scope *Scope) {
	switch s := stmt.(type) {
	case *ast.Assign:
		e.collectExpList(s.Values, stmt, scope)
	case *ast.Return:
		e.collectExpList(s.Returns, stmt, scope)
	case *ast.If:
		e.collectDecision(s.Condition, stmt, scope)
		for _, ei := range s.ElseIfs {
			e.collectDecision(ei.Condition, stmt, scope)
		}
	case *ast.ForIn:
		e.collectExpList(s.Call.Values, stmt, scope)
	}
}

func (e *Eliminator) collectDecision(d ast.Decision, stmt ast.Statement, scope *Scope) {
	switch c := d.(type) {
	case *ast.Condition:
		e.collectExp(&c.Value, stmt, scope)
	case *ast.BinCondition:
		e.collectDecision(c.Left, stmt, scope)
	}
}

func (e *Eliminator) collectExpList(list *ast.ExpList, stmt ast.Statement, scope *Scope) {
	if list == nil {
		return
	}
	for i := range list.Content {
		e.collectExp(&list.Content[i], stmt, scope)
	}
}

// collectExp walks one expression slot, recording every Slot leaf as a
// Usage with a cursor back onto exactly that slot in the tree.
func (e *Eliminator) collectExp(slot *ast.Exp, stmt ast.Statement, scope *Scope) {
	switch v := (*slot).(type) {
	case *ast.Slot:
		cur := slot
		e.usages = append(e.usages, Usage{
			Slot: v.SlotNum, Statement: stmt, Scope: scope,
			Ref: ast.Cursor{Get: func() ast.Exp { return *cur }, Set: func(x ast.Exp) { *cur = x }},
		})
	case *ast.BinExp:
		e.collectExp(&v.Left, stmt, scope)
		e.collectExp(&v.Right, stmt, scope)
	case *ast.UnExp:
		e.collectExp(&v.Value, stmt, scope)
	case *ast.FuncCall:
		e.collectExp(&v.Func, stmt, scope)
		e.collectExpList(v.Args, stmt, scope)
	case *ast.TableConstructor:
		if v.Array != nil {
			e.collectExpList(v.Array, stmt, scope)
		}
		for i := range v.Dictionary {
			e.collectExp(&v.Dictionary[i][0], stmt, scope)
			e.collectExp(&v.Dictionary[i][1], stmt, scope)
		}
	case *ast.TableElement:
		e.collectExp(&v.Table, stmt, scope)
		e.collectExp(&v.Key, stmt, scope)
	}
}

// get_defines: walk prev[] chains backward from usage.Statement, collecting
// every Define of usage.Slot reachable without crossing another define of
// the same slot, visiting each loop-back edge at most once.
func (e *Eliminator) reachingDefines(u Usage) []Define {
	var result []Define
	expanded := map[prev]bool{}
	var walk func(stmt ast.Statement, loopCrossed bool)
	walk = func(stmt ast.Statement, loopCrossed bool) {
		if a, ok := stmt.(*ast.Assign); ok {
			for _, d := range e.defines {
				if d.Statement == stmt {
					for _, t := range a.Targets.Content {
						if slot, ok := t.(*ast.Slot); ok && slot.SlotNum == u.Slot && d.Slot == u.Slot {
							result = append(result, d)
							return
						}
					}
				}
			}
		}
		for _, p := range e.prevs[stmt] {
			if p.loop {
				if expanded[p] {
					continue
				}
				expanded[p] = true
			}
			if p.statement == nil {
				continue
			}
			walk(p.statement, loopCrossed || p.loop)
		}
	}
	walk(u.Statement, false)
	return result
}

// canInline reports whether usage may be replaced textually by define's
// value: exactly one reaching definition that isn't Shared, same-or-ancestor
// scope, a single usage of that definition (an `_env` global read is the one
// exception - duplicating a global lookup into every usage is harmless and
// matches the reference translator), no slot referenced by the defined
// expression has been redefined between the define site and the usage site,
// and the defined expression has no observable side effect that reordering
// would change (no function call unless the call is the sole and final use).
func (e *Eliminator) canInline(u Usage, d *Define, defs []Define, usageCounts map[*Define]int) bool {
	if len(defs) != 1 {
		return false
	}
	if d.Shared {
		return false
	}
	if !d.Scope.contains(u.Scope) {
		return false
	}
	value := d.Value.Get()
	if !isEnvRead(value) && usageCounts[d] != 1 {
		return false
	}
	if hasFuncCall(value) && !canInlineFuncCallForUsage(*d, u) {
		return false
	}
	for _, slot := range slotsIn(value) {
		atDefine := e.reachingDefines(Usage{Slot: slot.SlotNum, Statement: d.Statement})
		atUsage := e.reachingDefines(Usage{Slot: slot.SlotNum, Statement: u.Statement})
		if !sameSingleDefine(atDefine, atUsage) {
			return false
		}
	}
	return true
}

// isEnvRead reports whether e is a read of the synthetic `_env` table, the
// shape GGET/GSET lower to. Inlining one of these into more than one usage
// only duplicates a global lookup, not an arbitrary side effect.
func isEnvRead(e ast.Exp) bool {
	te, ok := e.(*ast.TableElement)
	if !ok {
		return false
	}
	c, ok := te.Table.(*ast.Constant)
	return ok && c.Value == "_env"
}

// slotsIn collects every Slot leaf referenced within e.
func slotsIn(e ast.Exp) []*ast.Slot {
	var out []*ast.Slot
	var walk func(ast.Exp)
	walk = func(v ast.Exp) {
		switch x := v.(type) {
		case *ast.Slot:
			out = append(out, x)
		case *ast.BinExp:
			walk(x.Left)
			walk(x.Right)
		case *ast.UnExp:
			walk(x.Value)
		case *ast.FuncCall:
			walk(x.Func)
			if x.Args != nil {
				for _, a := range x.Args.Content {
					walk(a)
				}
			}
		case *ast.TableConstructor:
			if x.Array != nil {
				for _, a := range x.Array.Content {
					walk(a)
				}
			}
			for _, kv := range x.Dictionary {
				walk(kv[0])
				walk(kv[1])
			}
		case *ast.TableElement:
			walk(x.Table)
			walk(x.Key)
		}
	}
	walk(e)
	return out
}

func sameSingleDefine(a, b []Define) bool {
	if len(a) != 1 || len(b) != 1 {
		return false
	}
	return a[0].Statement == b[0].Statement && a[0].Slot == b[0].Slot
}

func hasFuncCall(e ast.Exp) bool {
	switch v := e.(type) {
	case *ast.FuncCall:
		return true
	case *ast.BinExp:
		return hasFuncCall(v.Left) || hasFuncCall(v.Right)
	case *ast.UnExp:
		return hasFuncCall(v.Value)
	case *ast.TableConstructor:
		if v.Array != nil {
			for _, x := range v.Array.Content {
				if hasFuncCall(x) {
					return true
				}
			}
		}
		for _, kv := range v.Dictionary {
			if hasFuncCall(kv[0]) || hasFuncCall(kv[1]) {
				return true
			}
		}
	case *ast.TableElement:
		return hasFuncCall(v.Table) || hasFuncCall(v.Key)
	}
	return false
}

// canInlineFuncCallForUsage requires the definition and usage to be distinct
// statements; reaching-definitions already guarantees there is exactly one
// unambiguous define reaching this usage, so the remaining risk is inlining
// a call into its own defining statement.
func canInlineFuncCallForUsage(d Define, u Usage) bool {
	return d.Statement != u.Statement
}

// canonicalDefine resolves a reaching-definition result (a copy taken from
// e.defines) back to its address in e.defines, so repeated usages of the
// same definition group under one pointer identity.
func (e *Eliminator) canonicalDefine(d Define) *Define {
	for j := range e.defines {
		if e.defines[j].Statement == d.Statement && e.defines[j].Slot == d.Slot {
			return &e.defines[j]
		}
	}
	return &d
}

// usageCounts tallies, for each definition, how many usages it alone reaches
// - the structural count canInline needs to refuse duplicating a temporary
// into more than one usage site. Reaching-definitions is unaffected by
// inlining itself (only the spliced-in values change, not control flow), so
// this is computed once up front rather than recomputed every pass.
func (e *Eliminator) usageCounts() map[*Define]int {
	counts := map[*Define]int{}
	for i := range e.usages {
		defs := e.reachingDefines(e.usages[i])
		if len(defs) != 1 {
			continue
		}
		counts[e.canonicalDefine(defs[0])]++
	}
	return counts
}

// applyInline runs inlining to a fixpoint: each pass looks for a usage with
// exactly one inlinable reaching definition, splices the definition's value
// in, and clears the definition's value to nil so a later cleanup pass can
// drop that target/value pair, and the whole assignment once none are left.
func (e *Eliminator) applyInline() {
	counts := e.usageCounts()
	changed := true
	for changed {
		changed = false
		// Group this pass's inlinable usages by their reaching define so a
		// define used more than once gets spliced into every usage before
		// its value is cleared, instead of the first usage consuming it.
		byDefine := map[*Define][]Usage{}
		var order []*Define
		for i := range e.usages {
			u := e.usages[i]
			cur := u.Ref.Get()
			if cur == nil {
				continue
			}
			if _, isSlot := cur.(*ast.Slot); !isSlot {
				continue
			}
			defs := e.reachingDefines(u)
			if len(defs) != 1 {
				continue
			}
			d := e.canonicalDefine(defs[0])
			if !e.canInline(u, d, defs, counts) {
				continue
			}
			if _, seen := byDefine[d]; !seen {
				order = append(order, d)
			}
			byDefine[d] = append(byDefine[d], u)
		}
		for _, d := range order {
			value := d.Value.Get()
			if value == nil {
				continue
			}
			for _, u := range byDefine[d] {
				u.Ref.Set(value)
				changed = true
			}
			d.Value.Set(nil)
		}
	}
}

// removeDeadAssigns strips any Assign whose every target/value pair was
// consumed by inlining (its value cleared to nil), compacting the
// remaining targets/values, and drops the statement entirely once nothing
// is left to assign.
func removeDeadAssigns(list *ast.StatementList) {
	if list == nil {
		return
	}
	kept := list.Content[:0]
	for _, stmt := range list.Content {
		if a, ok := stmt.(*ast.Assign); ok {
			compactAssign(a)
			if len(a.Targets.Content) == 0 && !hasFuncCall(wrapList(a.Values)) {
				continue
			}
		}
		recurseInto(stmt)
		kept = append(kept, stmt)
	}
	list.Content = kept
}

func wrapList(l *ast.ExpList) ast.Exp {
	if l == nil || len(l.Content) == 0 {
		return nil
	}
	return l.Content[len(l.Content)-1]
}

// compactAssign drops any target/value pair whose value was cleared by
// inlining; the cleared value now lives at its usage site. A mismatched
// target/value count (a Shared define's multi-return call) is never
// touched by inlining, so it's left exactly as built.
func compactAssign(a *ast.Assign) {
	if len(a.Targets.Content) != len(a.Values.Content) {
		return
	}
	var targets, values []ast.Exp
	for i, t := range a.Targets.Content {
		v := a.Values.Content[i]
		if v == nil {
			continue
		}
		targets = append(targets, t)
		values = append(values, v)
	}
	a.Targets.Content = targets
	a.Values.Content = values
}

func recurseInto(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.If:
		removeDeadAssigns(s.Then)
		removeDeadAssigns(s.Other)
		for _, ei := range s.ElseIfs {
			removeDeadAssigns(ei.Then)
		}
	case *ast.While:
		removeDeadAssigns(s.Body)
	case *ast.Repeat:
		removeDeadAssigns(s.Body)
	case *ast.For:
		removeDeadAssigns(s.Body)
	case *ast.ForIn:
		removeDeadAssigns(s.Body)
	}
}
