package ownership

import (
	"strings"
	"testing"

	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
	"github.com/loqui-lang/loqui/internal/position"
)

type builder struct {
	interner *ir.Interner
	symbols  *ir.SymbolTable
	nextID   ir.NodeID
	nextLine int
}

func newBuilder() *builder {
	return &builder{interner: ir.NewInterner(), symbols: ir.NewSymbolTable()}
}

// meta hands each node its own single-line span so related-site assertions
// can tell use-sites apart.
func (b *builder) meta() ir.Meta {
	b.nextID++
	b.nextLine++
	return ir.Meta{
		NodeID: b.nextID,
		SourceSpan: position.Span{
			Start: position.Position{Filename: "test", Line: b.nextLine, Column: 1, Offset: b.nextLine},
			End:   position.Position{Filename: "test", Line: b.nextLine, Column: 2, Offset: b.nextLine + 1},
		},
	}
}

func (b *builder) sym(name string, t *ir.Type) ir.Symbol {
	s := b.interner.Intern(name)
	if t != nil {
		b.symbols.Declare(s, &ir.SymbolInfo{Name: name, Type: t})
	}
	return s
}

func (b *builder) ident(sym ir.Symbol) *ir.Ident {
	return &ir.Ident{Meta: b.meta(), Sym: sym, Typ: b.symbols.TypeOf(sym)}
}

func (b *builder) give(sym, to ir.Symbol) *ir.Give {
	return &ir.Give{Meta: b.meta(), Value: b.ident(sym), Target: to}
}

func (b *builder) show(sym ir.Symbol) *ir.Show {
	return &ir.Show{Meta: b.meta(), Value: b.ident(sym)}
}

func (b *builder) bindList(sym ir.Symbol) *ir.Bind {
	return &ir.Bind{
		Meta:  b.meta(),
		Name:  sym,
		Value: &ir.ListLit{Meta: b.meta(), Typ: b.symbols.TypeOf(sym)},
	}
}

func (b *builder) prog(stmts ...ir.Stmt) *ir.Program {
	return &ir.Program{Interner: b.interner, Symbols: b.symbols, Stmts: stmts}
}

func TestUseAfterTransferReportsBothSites(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	giveStmt := b.give(x, y)
	useStmt := b.show(x)
	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), giveStmt, useStmt), bag)

	errs := bag.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	d := errs[0]
	if d.Code != "L0301" {
		t.Errorf("code = %s, want L0301", d.Code)
	}
	if !strings.Contains(d.Message, "'x'") {
		t.Errorf("message should name the binding: %q", d.Message)
	}
	if len(d.Related) != 1 {
		t.Fatalf("want one related site for the transfer, got %d", len(d.Related))
	}
	if d.Related[0].Span != giveStmt.Span() {
		t.Errorf("related site = %v, want the transfer at %v", d.Related[0].Span, giveStmt.Span())
	}
	if d.Span == giveStmt.Span() {
		t.Error("primary span should be the use-site, not the transfer")
	}
}

func TestRebindingRestoresValidity(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	bag := diagnostic.NewBag()
	Analyze(b.prog(
		b.bindList(x),
		b.give(x, y),
		b.bindList(x),
		b.show(x),
	), bag)

	if bag.HasErrors() {
		t.Errorf("rebinding should restore the name: %v", bag.Errors())
	}
}

func TestTriviallyCopiableValuesNeverInvalidate(t *testing.T) {
	b := newBuilder()
	n := b.sym("n", ir.Int)
	m := b.sym("m", ir.Int)

	bag := diagnostic.NewBag()
	res := Analyze(b.prog(b.give(n, m), b.show(n)), bag)

	if bag.HasErrors() {
		t.Errorf("integers copy freely: %v", bag.Errors())
	}
	if got := res.ClassOf(0); got != Borrow {
		t.Errorf("absent node should default to borrow, got %v", got)
	}
}

func TestSharedValuesAreExempt(t *testing.T) {
	b := newBuilder()
	c := b.sym("hits", ir.SharedOf(ir.SharedCounter))
	sink := b.sym("sink", ir.SeqOf(ir.Int))

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.give(c, sink), b.show(c)), bag)

	if bag.HasErrors() {
		t.Errorf("replicated values merge in place and are never consumed: %v", bag.Errors())
	}
}

func TestTransferOnOneBranchIsMaybeTransferred(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	cond := &ir.Lit{Meta: b.meta(), Kind: ir.LitBool, Bool: true, Typ: ir.Bool}
	branch := &ir.If{Meta: b.meta(), Cond: cond, Then: []ir.Stmt{b.give(x, y)}}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), branch, b.show(x)), bag)

	errs := bag.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if errs[0].Code != "L0302" {
		t.Errorf("code = %s, want L0302 (maybe transferred)", errs[0].Code)
	}
}

func TestTransferOnBothBranchesStaysTransferred(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))
	z := b.sym("z", ir.SeqOf(ir.Int))

	cond := &ir.Lit{Meta: b.meta(), Kind: ir.LitBool, Bool: true, Typ: ir.Bool}
	branch := &ir.If{
		Meta: b.meta(),
		Cond: cond,
		Then: []ir.Stmt{b.give(x, y)},
		Else: []ir.Stmt{b.give(x, z)},
	}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), branch, b.show(x)), bag)

	errs := bag.Errors()
	if len(errs) != 1 || errs[0].Code != "L0301" {
		t.Fatalf("want one definite use-after-transfer, got %v", errs)
	}
}

func TestBranchesSeeThePreBranchState(t *testing.T) {
	// A transfer on the then-side must not poison the else-side: the
	// branches are exclusive.
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	cond := &ir.Lit{Meta: b.meta(), Kind: ir.LitBool, Bool: true, Typ: ir.Bool}
	branch := &ir.If{
		Meta: b.meta(),
		Cond: cond,
		Then: []ir.Stmt{b.give(x, y)},
		Else: []ir.Stmt{b.show(x)},
	}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), branch), bag)

	if bag.HasErrors() {
		t.Errorf("else branch should see x still owned: %v", bag.Errors())
	}
}

func TestLoopBodyTransferFlaggedOnSecondIteration(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	cond := &ir.Lit{Meta: b.meta(), Kind: ir.LitBool, Bool: true, Typ: ir.Bool}
	after := b.show(x)
	loop := &ir.While{Meta: b.meta(), Cond: cond, Body: []ir.Stmt{b.give(x, y)}}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), loop, after), bag)

	errs := bag.Errors()
	if len(errs) != 1 || errs[0].Code != "L0302" {
		t.Fatalf("use after a conditional loop transfer should be maybe-transferred, got %v", errs)
	}
}

func TestDuplicateInsertedForMultipleSinks(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	f := b.sym("f", nil)

	first := b.ident(x)
	second := b.ident(x)
	call := &ir.ExprStmt{
		Meta: b.meta(),
		X:    &ir.CallExpr{Meta: b.meta(), Callee: f, Args: []ir.Expr{first, second}, Typ: ir.Nothing},
	}

	bag := diagnostic.NewBag()
	res := Analyze(b.prog(b.bindList(x), call), bag)

	if bag.HasErrors() {
		t.Fatalf("feeding two sinks should auto-duplicate, not error: %v", bag.Errors())
	}
	if got := res.ClassOf(first.ID()); got != Duplicate {
		t.Errorf("first sink = %v, want duplicate", got)
	}
	if got := res.ClassOf(second.ID()); got != Transfer {
		t.Errorf("last sink = %v, want transfer", got)
	}
}

func TestExplicitCopyLeavesSourceValid(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	bind := &ir.Bind{
		Meta:  b.meta(),
		Name:  y,
		Value: &ir.Copy{Meta: b.meta(), Value: b.ident(x), Typ: ir.SeqOf(ir.Int)},
	}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), bind, b.show(x)), bag)

	if bag.HasErrors() {
		t.Errorf("an explicit copy borrows its source: %v", bag.Errors())
	}
}

func TestFunctionBodiesAreIndependentScopes(t *testing.T) {
	b := newBuilder()
	x := b.sym("x", ir.SeqOf(ir.Int))
	y := b.sym("y", ir.SeqOf(ir.Int))

	fn := &ir.FuncDef{
		Meta: b.meta(),
		Name: b.sym("consume", nil),
		Params: []ir.Param{
			{Name: x, Type: ir.SeqOf(ir.Int)},
		},
		Body: []ir.Stmt{b.give(x, y)},
	}

	bag := diagnostic.NewBag()
	Analyze(b.prog(b.bindList(x), fn, b.show(x)), bag)

	if bag.HasErrors() {
		t.Errorf("a transfer inside a function must not leak to the top level: %v", bag.Errors())
	}
}
