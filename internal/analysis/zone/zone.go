// Package zone enforces the arena no-escape rule: a value allocated inside
// a zone is freed en masse when the zone closes, so it must never flow to a
// destination that outlives the zone. Escape routes are returns, bindings
// declared outside the zone, call arguments (callees are always declared in
// a wider scope), and fields of aggregates built outside the zone.
//
// Element-wise duplication severs the lifetime link: an explicit copy, or a
// use-site the ownership pass lowered to an inserted duplicate, leaves the
// zone with a fresh heap value and is permitted.
package zone

import (
	"github.com/loqui-lang/loqui/internal/analysis/ownership"
	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
	"github.com/loqui-lang/loqui/internal/position"
)

// Result records which symbols are arena-allocated and in which zone, for
// the emitter's allocation bookkeeping.
type Result struct {
	allocated map[ir.Symbol]*zoneFrame
}

// In returns the name of the zone sym is allocated in, and whether it is
// zone-allocated at all.
func (r *Result) In(sym ir.Symbol) (ir.Symbol, bool) {
	f, ok := r.allocated[sym]
	if !ok {
		return ir.SymbolNone, false
	}
	return f.name, true
}

type zoneFrame struct {
	name  ir.Symbol
	depth int
	span  position.Span
}

type checker struct {
	prog   *ir.Program
	own    *ownership.Result
	bag    *diagnostic.Bag
	result *Result

	// zones is the stack of open zones; depth 0 means none.
	zones []*zoneFrame
	// declDepth is the zone depth each symbol was declared at.
	declDepth map[ir.Symbol]int
}

// Analyze checks prog for arena escapes, reporting violations into bag.
// own supplies the duplicate classifications that license copy-out.
func Analyze(prog *ir.Program, own *ownership.Result, bag *diagnostic.Bag) *Result {
	c := &checker{
		prog:      prog,
		own:       own,
		bag:       bag,
		result:    &Result{allocated: make(map[ir.Symbol]*zoneFrame)},
		declDepth: make(map[ir.Symbol]int),
	}
	c.checkBlock(prog.Stmts)
	return c.result
}

func (c *checker) depth() int { return len(c.zones) }

func (c *checker) current() *zoneFrame {
	if len(c.zones) == 0 {
		return nil
	}
	return c.zones[len(c.zones)-1]
}

// allocatedIn returns the zone frame sym's value lives in, or nil when the
// value is heap-allocated or trivially copiable.
func (c *checker) allocatedIn(sym ir.Symbol) *zoneFrame {
	t := c.prog.Symbols.TypeOf(sym)
	if t.TriviallyCopiable() {
		return nil
	}
	return c.result.allocated[sym]
}

func (c *checker) checkBlock(block []ir.Stmt) {
	for _, s := range block {
		c.checkStmt(s)
	}
}

func (c *checker) checkStmt(s ir.Stmt) {
	switch st := s.(type) {
	case *ir.Zone:
		frame := &zoneFrame{name: st.Name, depth: c.depth() + 1, span: st.Span()}
		c.zones = append(c.zones, frame)
		c.checkBlock(st.Body)
		c.zones = c.zones[:len(c.zones)-1]

	case *ir.Bind:
		if frame := c.bindingZone(st.Value); frame != nil {
			c.result.allocated[st.Name] = frame
		}
		c.declDepth[st.Name] = c.depth()

	case *ir.Assign:
		// Writing into a binding declared outside the zone carries the
		// value out with it.
		if c.declDepth[st.Target] < c.depth() {
			c.checkEscape(st.Value, "outer binding")
		}
		if frame := c.bindingZone(st.Value); frame != nil && c.declDepth[st.Target] >= c.depth() {
			c.result.allocated[st.Target] = frame
		}

	case *ir.Give:
		if c.declDepth[st.Target] < c.depth() {
			c.checkEscape(st.Value, "outer binding")
		}

	case *ir.Return:
		if st.Value != nil {
			c.checkEscape(st.Value, "return")
		}

	case *ir.SetField:
		// The object was necessarily built no later than the current
		// statement; if its root lives outside the zone, so does the field.
		if c.rootOutlivesZone(st.Object) {
			c.checkEscape(st.Value, "field of an outer value")
		}

	case *ir.SetIndex:
		if c.rootOutlivesZone(st.Collection) {
			c.checkEscape(st.Value, "element of an outer collection")
		}

	case *ir.Push:
		if c.rootOutlivesZone(st.Collection) {
			c.checkEscape(st.Value, "element of an outer collection")
		}

	case *ir.AddTo:
		if c.rootOutlivesZone(st.Collection) {
			c.checkEscape(st.Value, "element of an outer collection")
		}

	case *ir.InsertAt:
		if c.rootOutlivesZone(st.Collection) {
			c.checkEscape(st.Value, "element of an outer collection")
		}

	case *ir.Send:
		c.checkEscape(st.Value, "channel send")

	case *ir.ForEach:
		if frame := c.bindingZone(st.Iterable); frame != nil {
			c.result.allocated[st.Var] = frame
		}
		c.declDepth[st.Var] = c.depth()
		c.checkBlock(st.Body)

	case *ir.Pop:
		if st.Into != ir.SymbolNone {
			if frame := c.bindingZone(st.Collection); frame != nil {
				c.result.allocated[st.Into] = frame
			}
			c.declDepth[st.Into] = c.depth()
		}

	case *ir.FuncDef:
		// Function bodies are their own lexical world; zones never span
		// a function boundary.
		saved := c.zones
		savedDepth := c.declDepth
		c.zones = nil
		c.declDepth = make(map[ir.Symbol]int)
		for _, p := range st.Params {
			c.declDepth[p.Name] = 0
		}
		c.checkBlock(st.Body)
		c.zones = saved
		c.declDepth = savedDepth

	default:
		for _, child := range ir.ChildBlocks(s) {
			c.checkBlock(child)
		}
	}
	// Calls can hide anywhere a value is computed.
	if _, isFn := s.(*ir.FuncDef); !isFn {
		ir.StmtExprs(s, c.checkCallArgs)
	}
}

// bindingZone decides whether binding the given value produces a
// zone-allocated binding: either the value is freshly allocated inside an
// open zone, or it aliases an already zone-allocated symbol.
func (c *checker) bindingZone(value ir.Expr) *zoneFrame {
	switch v := value.(type) {
	case *ir.ListLit:
		return c.current()
	case *ir.New:
		return c.current()
	case *ir.Ident:
		return c.allocatedIn(v.Sym)
	case *ir.Index:
		if id, ok := v.Collection.(*ir.Ident); ok {
			return c.allocatedIn(id.Sym)
		}
	case *ir.FieldAccess:
		if id, ok := rootIdent(v.Object); ok {
			return c.allocatedIn(id.Sym)
		}
	case *ir.Copy:
		// A copy is a fresh heap value regardless of its source.
		return nil
	}
	return nil
}

func rootIdent(e ir.Expr) (*ir.Ident, bool) {
	for {
		switch x := e.(type) {
		case *ir.Ident:
			return x, true
		case *ir.FieldAccess:
			e = x.Object
		case *ir.Index:
			e = x.Collection
		default:
			return nil, false
		}
	}
}

// rootOutlivesZone reports whether the mutation target's root binding was
// declared outside every zone the mutation occurs in.
func (c *checker) rootOutlivesZone(target ir.Expr) bool {
	if c.depth() == 0 {
		return false
	}
	id, ok := rootIdent(target)
	if !ok {
		return false
	}
	return c.declDepth[id.Sym] < c.depth()
}

// checkEscape reports every zone-allocated identifier that flows into the
// given destination, unless the flow duplicates the value first.
func (c *checker) checkEscape(value ir.Expr, dest string) {
	c.walkUncopied(value, func(id *ir.Ident) {
		frame := c.allocatedIn(id.Sym)
		if frame == nil {
			return
		}
		if c.own != nil && c.own.ClassOf(id.ID()) == ownership.Duplicate {
			return
		}
		c.bag.Add(diagnostic.New().
			Category(diagnostic.CategoryZone).
			Code("L0401").
			Message("value '%s' allocated in zone '%s' escapes via %s",
				c.prog.Interner.Name(id.Sym), c.prog.Interner.Name(frame.name), dest).
			Span(id.Span()).
			Related(frame.span, "zone opened here").
			Build())
	})
}

// walkUncopied visits identifiers under e, skipping subtrees whose value is
// duplicated (explicit copy) or merely measured (length, membership).
func (c *checker) walkUncopied(e ir.Expr, fn func(*ir.Ident)) {
	switch x := e.(type) {
	case nil:
	case *ir.Ident:
		fn(x)
	case *ir.Copy, *ir.Len, *ir.Contains:
		// Fresh value or scalar fact; nothing escapes.
	case *ir.CallExpr:
		// The call result is the callee's value; its arguments are
		// checked separately as an escape route of their own.
	case *ir.Index:
		c.walkUncopied(x.Collection, fn)
	case *ir.FieldAccess:
		c.walkUncopied(x.Object, fn)
	case *ir.Binary:
		c.walkUncopied(x.L, fn)
		c.walkUncopied(x.R, fn)
	case *ir.Unary:
		c.walkUncopied(x.X, fn)
	case *ir.ListLit:
		for _, el := range x.Elems {
			c.walkUncopied(el, fn)
		}
	case *ir.New:
		for _, init := range x.Inits {
			c.walkUncopied(init.Value, fn)
		}
	}
}

// checkCallArgs flags zone values passed to callees: every function is
// declared in a wider scope than any zone, so an uncopied argument escapes.
func (c *checker) checkCallArgs(e ir.Expr) {
	if c.depth() == 0 {
		return
	}
	ir.WalkExpr(e, func(x ir.Expr) {
		call, ok := x.(*ir.CallExpr)
		if !ok {
			return
		}
		for _, a := range call.Args {
			c.checkEscape(a, "call argument")
		}
	})
}
