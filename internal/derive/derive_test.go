package derive

import (
	"testing"

	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
)

type builder struct {
	interner *ir.Interner
	symbols  *ir.SymbolTable
	nextID   ir.NodeID
}

func newBuilder() *builder {
	return &builder{interner: ir.NewInterner(), symbols: ir.NewSymbolTable()}
}

func (b *builder) meta() ir.Meta {
	b.nextID++
	return ir.Meta{NodeID: b.nextID}
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

func (b *builder) intLit(n int64) *ir.Lit {
	return &ir.Lit{Meta: b.meta(), Kind: ir.LitInt, Int: n, Typ: ir.Int}
}

func (b *builder) prog(stmts ...ir.Stmt) *ir.Program {
	return &ir.Program{Interner: b.interner, Symbols: b.symbols, Stmts: stmts}
}

func TestAbstractToConcreteMapping(t *testing.T) {
	cases := []struct {
		typ  *ir.Type
		want Concrete
	}{
		{ir.SharedOf(ir.SharedCounter), GCounter},
		{ir.SharedOf(ir.SharedTally), PNCounter},
		{ir.SharedOf(ir.SharedLastWrite, ir.Text), LWWRegister},
		{ir.SharedOf(ir.SharedDivergent, ir.Int), MVRegister},
		{ir.SharedOf(ir.SharedSet, ir.Text), ORSet},
		{ir.SharedOf(ir.SharedMap, ir.Text, ir.Int), ORMap},
		{ir.SharedOf(ir.SharedSequence, ir.Int), RGA},
		{ir.SharedOf(ir.SharedText), TextSequence},
	}
	for _, tc := range cases {
		d := FromType(tc.typ, ir.BiasDefault)
		if d == nil {
			t.Fatalf("%s: no descriptor", tc.typ)
		}
		if d.Concrete != tc.want {
			t.Errorf("%s: concrete = %v, want %v", tc.typ, d.Concrete, tc.want)
		}
	}
	if FromType(ir.SeqOf(ir.Int), ir.BiasDefault) != nil {
		t.Error("plain sequences are not replicated")
	}
}

func TestBiasDefaultsToAddWins(t *testing.T) {
	d := FromType(ir.SharedOf(ir.SharedSet, ir.Text), ir.BiasDefault)
	if d.Bias != ir.BiasAddWins {
		t.Errorf("bias = %v, want add-wins default", d.Bias)
	}

	rw := &ir.Type{Kind: ir.KindShared, Shared: ir.SharedSet, Params: []*ir.Type{ir.Text}, Bias: ir.BiasRemoveWins}
	if d := FromType(rw, ir.BiasDefault); d.Bias != ir.BiasRemoveWins {
		t.Errorf("bias = %v, want declared remove-wins", d.Bias)
	}
}

func TestConfiguredBiasFillsUnstated(t *testing.T) {
	unstated := ir.SharedOf(ir.SharedSet, ir.Text)
	if d := FromType(unstated, ir.BiasRemoveWins); d.Bias != ir.BiasRemoveWins {
		t.Errorf("bias = %v, want configured remove-wins", d.Bias)
	}

	// A declared bias beats the configured default.
	aw := &ir.Type{Kind: ir.KindShared, Shared: ir.SharedSet, Params: []*ir.Type{ir.Text}, Bias: ir.BiasAddWins}
	if d := FromType(aw, ir.BiasRemoveWins); d.Bias != ir.BiasAddWins {
		t.Errorf("bias = %v, want declared add-wins", d.Bias)
	}

	// The configured default reaches nested map values too.
	m := ir.SharedOf(ir.SharedMap, ir.Text, ir.SharedOf(ir.SharedSet, ir.Int))
	if d := FromType(m, ir.BiasRemoveWins); d.Value == nil || d.Value.Bias != ir.BiasRemoveWins {
		t.Error("nested set descriptor should carry the configured bias")
	}
}

func TestResolveNeedsReplicatedTarget(t *testing.T) {
	b := newBuilder()
	n := b.sym("n", ir.Int)

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Resolve{Meta: b.meta(), Target: b.ident(n), Value: b.intLit(2)},
	), bag, ir.BiasDefault)

	errs := bag.Errors()
	if len(errs) != 1 || errs[0].Code != "L0503" {
		t.Fatalf("resolve on a plain int must fail derivation, got %v", errs)
	}
}

func TestGrowOnlyCounterRejectsDecrease(t *testing.T) {
	b := newBuilder()
	hits := b.sym("hits", ir.SharedOf(ir.SharedCounter))

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Increase{Meta: b.meta(), Target: b.ident(hits), Amount: b.intLit(1)},
		&ir.Decrease{Meta: b.meta(), Target: b.ident(hits), Amount: b.intLit(1)},
	), bag, ir.BiasDefault)

	errs := bag.Errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1 (only the decrease): %v", len(errs), errs)
	}
	if errs[0].Code != "L0502" {
		t.Errorf("code = %s, want L0502", errs[0].Code)
	}
}

func TestTallySupportsBothDirections(t *testing.T) {
	b := newBuilder()
	score := b.sym("score", ir.SharedOf(ir.SharedTally))

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Increase{Meta: b.meta(), Target: b.ident(score), Amount: b.intLit(10)},
		&ir.Decrease{Meta: b.meta(), Target: b.ident(score), Amount: b.intLit(3)},
	), bag, ir.BiasDefault)

	if bag.HasErrors() {
		t.Errorf("a tally moves both ways: %v", bag.Errors())
	}
}

func TestDirectAssignmentToSharedSetRejected(t *testing.T) {
	b := newBuilder()
	tags := b.sym("tags", ir.SharedOf(ir.SharedSet, ir.Text))

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Assign{Meta: b.meta(), Target: tags, Value: &ir.ListLit{Meta: b.meta()}},
	), bag, ir.BiasDefault)

	errs := bag.Errors()
	if len(errs) != 1 || errs[0].Code != "L0501" {
		t.Fatalf("overwriting a replicated set must fail, got %v", errs)
	}
}

func TestAssignmentToRegisterIsTimestampedSet(t *testing.T) {
	b := newBuilder()
	title := b.sym("title", ir.SharedOf(ir.SharedLastWrite, ir.Text))

	bag := diagnostic.NewBag()
	table := Derive(b.prog(
		&ir.Assign{Meta: b.meta(), Target: title, Value: &ir.Lit{Meta: b.meta(), Kind: ir.LitText, Text: "v2", Typ: ir.Text}},
	), bag, ir.BiasDefault)

	if bag.HasErrors() {
		t.Fatalf("register assignment lowers to Set: %v", bag.Errors())
	}
	m, ok := table.Of(title).Method(OpSet)
	if !ok || m != "Set" {
		t.Errorf("method = %q, want Set", m)
	}
}

func TestSharedFieldAssignmentRejected(t *testing.T) {
	b := newBuilder()
	doc := b.sym("Document", nil)
	td := &ir.TypeDef{
		Meta: b.meta(),
		Name: doc,
		Fields: []ir.Field{
			{Name: "views", Type: ir.SharedOf(ir.SharedCounter)},
			{Name: "title", Type: ir.SharedOf(ir.SharedLastWrite, ir.Text)},
		},
	}
	d := b.sym("d", ir.StructType("Document"))

	bag := diagnostic.NewBag()
	table := Derive(b.prog(
		td,
		&ir.SetField{Meta: b.meta(), Object: b.ident(d), Field: "views", Value: b.intLit(0)},
		&ir.SetField{Meta: b.meta(), Object: b.ident(d), Field: "title",
			Value: &ir.Lit{Meta: b.meta(), Kind: ir.LitText, Text: "x", Typ: ir.Text}},
	), bag, ir.BiasDefault)

	errs := bag.Errors()
	if len(errs) != 1 {
		t.Fatalf("counter field rejects assignment, register field accepts: %v", errs)
	}
	if desc := table.Field("Document", "views"); desc == nil || desc.Concrete != GCounter {
		t.Error("views field should derive to a grow-only counter")
	}
}

func TestMapValueDescriptorsAreRecursive(t *testing.T) {
	b := newBuilder()
	scores := b.sym("scores", ir.SharedOf(ir.SharedMap, ir.Text, ir.SharedOf(ir.SharedTally)))

	bag := diagnostic.NewBag()
	table := Derive(b.prog(
		// Incrementing through an index reaches the per-key tally.
		&ir.Increase{
			Meta: b.meta(),
			Target: &ir.Index{
				Meta:       b.meta(),
				Collection: b.ident(scores),
				Idx:        &ir.Lit{Meta: b.meta(), Kind: ir.LitText, Text: "alice", Typ: ir.Text},
			},
			Amount: b.intLit(1),
		},
	), bag, ir.BiasDefault)

	if bag.HasErrors() {
		t.Fatalf("per-key tally increments are in vocabulary: %v", bag.Errors())
	}
	d := table.Of(scores)
	if d == nil || d.Value == nil {
		t.Fatal("map of tallies should carry a recursive value descriptor")
	}
	if d.Value.Concrete != PNCounter {
		t.Errorf("value descriptor = %v, want PN-counter", d.Value.Concrete)
	}
}

func TestSequenceVocabulary(t *testing.T) {
	b := newBuilder()
	events := b.sym("events", ir.SharedOf(ir.SharedSequence, ir.Int))

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Push{Meta: b.meta(), Collection: b.ident(events), Value: b.intLit(1)},
		&ir.InsertAt{Meta: b.meta(), Collection: b.ident(events), Index: b.intLit(0), Value: b.intLit(2)},
		&ir.RemoveAt{Meta: b.meta(), Collection: b.ident(events), Index: b.intLit(0)},
		// A set-style add makes no sense on a sequence.
		&ir.AddTo{Meta: b.meta(), Collection: b.ident(events), Value: b.intLit(3)},
	), bag, ir.BiasDefault)

	errs := bag.Errors()
	if len(errs) != 1 || errs[0].Code != "L0502" {
		t.Fatalf("want one vocabulary error for the add, got %v", errs)
	}
}

func TestPlainCollectionsPassUnchecked(t *testing.T) {
	b := newBuilder()
	xs := b.sym("xs", ir.SeqOf(ir.Int))

	bag := diagnostic.NewBag()
	Derive(b.prog(
		&ir.Push{Meta: b.meta(), Collection: b.ident(xs), Value: b.intLit(1)},
		&ir.Assign{Meta: b.meta(), Target: xs, Value: &ir.ListLit{Meta: b.meta()}},
	), bag, ir.BiasDefault)

	if bag.HasErrors() {
		t.Errorf("non-replicated collections have no vocabulary restrictions: %v", bag.Errors())
	}
}
