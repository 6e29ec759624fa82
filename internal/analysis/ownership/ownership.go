// Package ownership classifies every use-site of a binding as a transfer, a
// borrow, or an automatically inserted duplicate, and rejects uses of
// previously transferred values.
//
// A transfer invalidates the binding for the rest of its lexical scope;
// only a fresh rebinding restores it. Branches are analyzed against the
// pre-branch state and merged afterward: a symbol transferred on one side
// only becomes "maybe transferred", which later uses also reject. Values of
// replicated (shared) types are exempt: all their mutations go through
// in-place merge-safe methods, so nothing ever consumes them.
package ownership

import (
	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
	"github.com/loqui-lang/loqui/internal/position"
)

// Class is the lowering decision for one use-site.
type Class int

const (
	// Borrow leaves the binding valid; the use only reads.
	Borrow Class = iota
	// Transfer consumes the binding; later uses are errors until rebound.
	Transfer
	// Duplicate is an inserted element-wise copy: the sink receives a
	// fresh value and the binding stays valid.
	Duplicate
)

func (c Class) String() string {
	switch c {
	case Transfer:
		return "transfer"
	case Duplicate:
		return "duplicate"
	default:
		return "borrow"
	}
}

// Result holds the per-use-site classification, keyed by the node ID of
// the identifier expression at the use-site. Use-sites not present are
// borrows.
type Result struct {
	classes map[ir.NodeID]Class
}

// ClassOf returns the classification for an identifier use-site.
func (r *Result) ClassOf(id ir.NodeID) Class {
	return r.classes[id]
}

type stateKind int

const (
	owned stateKind = iota
	transferred
	maybeTransferred
)

type varState struct {
	kind stateKind
	site position.Span // transfer site for transferred/maybeTransferred
}

type checker struct {
	prog   *ir.Program
	bag    *diagnostic.Bag
	result *Result
	state  map[ir.Symbol]varState
}

// Analyze classifies all use-sites in the program and reports violations
// into bag. Function bodies are checked as independent scopes with their
// parameters owned.
func Analyze(prog *ir.Program, bag *diagnostic.Bag) *Result {
	c := &checker{
		prog:   prog,
		bag:    bag,
		result: &Result{classes: make(map[ir.NodeID]Class)},
		state:  make(map[ir.Symbol]varState),
	}
	c.checkBlock(prog.Stmts)
	return c.result
}

// consumable reports whether transferring sym means anything: trivially
// copiable and shared-typed bindings are never invalidated.
func (c *checker) consumable(sym ir.Symbol) bool {
	if sym == ir.SymbolNone {
		return false
	}
	t := c.prog.Symbols.TypeOf(sym)
	if t == nil {
		return false
	}
	if t.IsShared() {
		return false
	}
	return !t.TriviallyCopiable()
}

func (c *checker) name(sym ir.Symbol) string {
	return c.prog.Interner.Name(sym)
}

func (c *checker) checkBlock(block []ir.Stmt) {
	for _, s := range block {
		c.checkStmt(s)
	}
}

func (c *checker) checkStmt(s ir.Stmt) {
	switch st := s.(type) {
	case *ir.Bind:
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)
		// Fresh binding: the name becomes owned regardless of history.
		c.state[st.Name] = varState{kind: owned}

	case *ir.Assign:
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)
		c.state[st.Target] = varState{kind: owned}

	case *ir.Give:
		c.checkRead(st.Value)
		if id, ok := st.Value.(*ir.Ident); ok && c.consumable(id.Sym) {
			c.transfer(id, st.Span())
		}
		c.state[st.Target] = varState{kind: owned}

	case *ir.Show:
		// Borrow: readable, stays valid.
		c.checkRead(st.Value)

	case *ir.Return:
		if st.Value != nil {
			c.checkRead(st.Value)
			c.consumeSinks(st, st.Value)
		}

	case *ir.If:
		c.checkRead(st.Cond)
		before := c.snapshot()
		c.checkBlock(st.Then)
		afterThen := c.snapshot()
		c.restore(before)
		if st.Else != nil {
			c.checkBlock(st.Else)
		}
		afterElse := c.snapshot()
		c.restore(mergeStates(afterThen, afterElse))

	case *ir.While:
		c.checkRead(st.Cond)
		before := c.snapshot()
		c.checkBlock(st.Body)
		after := c.snapshot()
		// The loop may run zero or many times.
		c.restore(mergeStates(before, after))

	case *ir.ForEach:
		c.checkRead(st.Iterable)
		c.state[st.Var] = varState{kind: owned}
		before := c.snapshot()
		c.checkBlock(st.Body)
		after := c.snapshot()
		c.restore(mergeStates(before, after))

	case *ir.Zone:
		c.checkBlock(st.Body)

	case *ir.Listen:
		c.checkRead(st.Addr)
		c.checkBlock(st.Body)

	case *ir.FuncDef:
		// Independent scope: save, seed params owned, check, restore.
		saved := c.snapshot()
		c.state = make(map[ir.Symbol]varState)
		for _, p := range st.Params {
			c.state[p.Name] = varState{kind: owned}
		}
		c.checkBlock(st.Body)
		c.restore(saved)

	case *ir.ExprStmt:
		c.checkRead(st.X)
		c.consumeSinks(st, st.X)

	case *ir.Launch:
		if st.Call != nil {
			c.checkRead(st.Call)
			c.consumeSinks(st, st.Call)
		}
		if st.Handle != ir.SymbolNone {
			c.state[st.Handle] = varState{kind: owned}
		}

	case *ir.Push:
		c.checkRead(st.Collection)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.AddTo:
		c.checkRead(st.Collection)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.InsertAt:
		c.checkRead(st.Collection)
		c.checkRead(st.Index)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.Send:
		c.checkRead(st.Channel)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.SetField:
		c.checkRead(st.Object)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.SetIndex:
		c.checkRead(st.Collection)
		c.checkRead(st.Index)
		c.checkRead(st.Value)
		c.consumeSinks(st, st.Value)

	case *ir.Pop:
		c.checkRead(st.Collection)
		if st.Into != ir.SymbolNone {
			c.state[st.Into] = varState{kind: owned}
		}

	case *ir.Receive:
		c.checkRead(st.Channel)
		if st.Into != ir.SymbolNone {
			c.state[st.Into] = varState{kind: owned}
		}

	case *ir.Connect:
		c.checkRead(st.Addr)
		if st.Into != ir.SymbolNone {
			c.state[st.Into] = varState{kind: owned}
		}

	default:
		// Remaining statements only read their expressions.
		ir.StmtExprs(s, func(e ir.Expr) { c.checkRead(e) })
	}
}

// checkRead rejects any identifier under e whose binding was (maybe)
// transferred. An explicit Copy expression produces a fresh value, but the
// source underneath it must still be live.
func (c *checker) checkRead(e ir.Expr) {
	if e == nil {
		return
	}
	ir.WalkExpr(e, func(x ir.Expr) {
		id, ok := x.(*ir.Ident)
		if !ok {
			return
		}
		switch st := c.state[id.Sym]; st.kind {
		case transferred:
			c.bag.Add(diagnostic.New().
				Category(diagnostic.CategoryOwnership).
				Code("L0301").
				Message("use of previously transferred value '%s'", c.name(id.Sym)).
				Span(id.Span()).
				Related(st.site, "value transferred here").
				Build())
		case maybeTransferred:
			c.bag.Add(diagnostic.New().
				Category(diagnostic.CategoryOwnership).
				Code("L0302").
				Message("value '%s' may have been transferred on a previous branch", c.name(id.Sym)).
				Span(id.Span()).
				Related(st.site, "possible transfer here").
				Build())
		}
	})
}

// consumeSinks classifies the consuming identifier sinks of one statement's
// value expression. When the same consumable symbol feeds more than one
// sink, every sink but the last is lowered to an inserted duplicate so each
// receiver gets its own value; the final sink is the real transfer.
func (c *checker) consumeSinks(s ir.Stmt, roots ...ir.Expr) {
	sinks := make(map[ir.Symbol][]*ir.Ident)
	var order []ir.Symbol
	for _, root := range roots {
		collectSinks(root, func(id *ir.Ident) {
			if !c.consumable(id.Sym) {
				return
			}
			if len(sinks[id.Sym]) == 0 {
				order = append(order, id.Sym)
			}
			sinks[id.Sym] = append(sinks[id.Sym], id)
		})
	}
	for _, sym := range order {
		uses := sinks[sym]
		for i, id := range uses {
			if i < len(uses)-1 {
				c.result.classes[id.ID()] = Duplicate
			} else {
				c.transfer(id, s.Span())
			}
		}
	}
}

// collectSinks finds the identifiers consumed by a value expression: a
// plain identifier, identifiers passed as call arguments, list/aggregate
// element values. Identifiers under explicit Copy, Len, Contains, Index,
// comparisons, or field reads are only borrowed.
func collectSinks(e ir.Expr, fn func(*ir.Ident)) {
	switch x := e.(type) {
	case *ir.Ident:
		fn(x)
	case *ir.CallExpr:
		for _, a := range x.Args {
			collectSinks(a, fn)
		}
	case *ir.ListLit:
		for _, el := range x.Elems {
			collectSinks(el, fn)
		}
	case *ir.New:
		for _, init := range x.Inits {
			collectSinks(init.Value, fn)
		}
	case *ir.Binary:
		if x.Op == ir.OpConcat {
			collectSinks(x.L, fn)
			collectSinks(x.R, fn)
		}
	}
}

func (c *checker) transfer(id *ir.Ident, site position.Span) {
	// Invalid states were already reported by checkRead for this site.
	if c.state[id.Sym].kind != owned {
		return
	}
	c.result.classes[id.ID()] = Transfer
	c.state[id.Sym] = varState{kind: transferred, site: site}
}

func (c *checker) snapshot() map[ir.Symbol]varState {
	out := make(map[ir.Symbol]varState, len(c.state))
	for k, v := range c.state {
		out[k] = v
	}
	return out
}

func (c *checker) restore(s map[ir.Symbol]varState) {
	c.state = s
}

// mergeStates joins two branch outcomes: transferred on both sides stays
// transferred, transferred on one side becomes maybe-transferred.
func mergeStates(a, b map[ir.Symbol]varState) map[ir.Symbol]varState {
	merged := make(map[ir.Symbol]varState, len(a))
	for k, v := range a {
		merged[k] = v
	}
	for sym, sb := range b {
		sa, ok := merged[sym]
		if !ok {
			merged[sym] = sb
			continue
		}
		merged[sym] = joinState(sa, sb)
	}
	return merged
}

func joinState(a, b varState) varState {
	switch {
	case a.kind == transferred && b.kind == transferred:
		return a
	case a.kind == transferred:
		return varState{kind: maybeTransferred, site: a.site}
	case b.kind == transferred:
		return varState{kind: maybeTransferred, site: b.site}
	case a.kind == maybeTransferred:
		return a
	case b.kind == maybeTransferred:
		return b
	default:
		return a
	}
}
