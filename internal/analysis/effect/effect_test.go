package effect

import (
	"math/rand"
	"testing"

	"github.com/loqui-lang/loqui/internal/ir"
)

type builder struct {
	interner *ir.Interner
	nextID   ir.NodeID
}

func newBuilder() *builder {
	return &builder{interner: ir.NewInterner()}
}

func (b *builder) meta() ir.Meta {
	b.nextID++
	return ir.Meta{NodeID: b.nextID}
}

func (b *builder) sym(name string) ir.Symbol {
	return b.interner.Intern(name)
}

func (b *builder) call(name string) *ir.ExprStmt {
	return &ir.ExprStmt{
		Meta: b.meta(),
		X:    &ir.CallExpr{Meta: b.meta(), Callee: b.sym(name), Typ: ir.Nothing},
	}
}

func (b *builder) fn(name string, body ...ir.Stmt) *ir.FuncDef {
	return &ir.FuncDef{Meta: b.meta(), Name: b.sym(name), Body: body}
}

func (b *builder) sleep() *ir.Sleep {
	return &ir.Sleep{
		Meta:     b.meta(),
		Duration: &ir.Lit{Meta: b.meta(), Kind: ir.LitInt, Int: 100, Typ: ir.Int},
	}
}

func (b *builder) prog(stmts ...ir.Stmt) *ir.Program {
	return &ir.Program{Interner: b.interner, Symbols: ir.NewSymbolTable(), Stmts: stmts}
}

func TestThreeLevelCallChainPropagation(t *testing.T) {
	// leaf sleeps, middle calls leaf, top calls middle: all three suspend.
	b := newBuilder()
	prog := b.prog(
		b.fn("leaf", b.sleep()),
		b.fn("middle", b.call("leaf")),
		b.fn("top", b.call("middle")),
	)

	a := Analyze(prog)
	for _, name := range []string{"leaf", "middle", "top"} {
		if !a.Suspending(b.sym(name)) {
			t.Errorf("%s should suspend", name)
		}
	}
}

func TestPureFunctionStaysPure(t *testing.T) {
	b := newBuilder()
	ret := &ir.Return{Meta: b.meta(), Value: &ir.Lit{Meta: b.meta(), Kind: ir.LitInt, Int: 1, Typ: ir.Int}}
	prog := b.prog(b.fn("answer", ret))

	a := Analyze(prog)
	if got := a.FlagsOf(b.sym("answer")); got != 0 {
		t.Errorf("flags = %v, want pure", got)
	}
}

func TestLoopIsSuspensionTrigger(t *testing.T) {
	b := newBuilder()
	loop := &ir.While{
		Meta: b.meta(),
		Cond: &ir.Lit{Meta: b.meta(), Kind: ir.LitBool, Bool: true, Typ: ir.Bool},
	}
	prog := b.prog(b.fn("spin", loop))

	a := Analyze(prog)
	if !a.Suspending(b.sym("spin")) {
		t.Error("a loop body carries a yield checkpoint, so the function suspends")
	}
	if !a.StmtSuspends(loop) {
		t.Error("the loop statement itself should suspend")
	}
}

func TestResourceFlagsPropagate(t *testing.T) {
	b := newBuilder()
	mount := &ir.Mount{
		Meta:   b.meta(),
		Target: b.sym("counter"),
		Path:   &ir.Lit{Meta: b.meta(), Kind: ir.LitText, Text: "counter.journal", Typ: ir.Text},
	}
	sync := &ir.Sync{
		Meta:   b.meta(),
		Target: b.sym("counter"),
		Topic:  &ir.Lit{Meta: b.meta(), Kind: ir.LitText, Text: "counters", Typ: ir.Text},
	}
	prog := b.prog(
		b.fn("persist", mount),
		b.fn("replicate", sync),
		b.fn("boot", b.call("persist"), b.call("replicate")),
	)

	a := Analyze(prog)
	got := a.FlagsOf(b.sym("boot"))
	want := Suspends | UsesStorage | UsesNetwork
	if got != want {
		t.Errorf("boot flags = %v, want %v", got, want)
	}
}

func TestMutualRecursionTerminates(t *testing.T) {
	b := newBuilder()
	prog := b.prog(
		b.fn("ping", b.sleep(), b.call("pong")),
		b.fn("pong", b.call("ping")),
	)

	a := Analyze(prog)
	if !a.Suspending(b.sym("ping")) || !a.Suspending(b.sym("pong")) {
		t.Error("mutually recursive functions should both resolve to suspending")
	}
}

func TestOrderIndependence(t *testing.T) {
	// Shuffling top-level definition order must not change the result.
	build := func(order []int) (*builder, *ir.Program) {
		b := newBuilder()
		// Intern in a fixed order so symbols match across shuffles.
		for _, name := range []string{"leaf", "middle", "top"} {
			b.sym(name)
		}
		defs := []ir.Stmt{
			b.fn("leaf", b.sleep()),
			b.fn("middle", b.call("leaf")),
			b.fn("top", b.call("middle")),
		}
		shuffled := make([]ir.Stmt, len(defs))
		for i, j := range order {
			shuffled[i] = defs[j]
		}
		return b, b.prog(shuffled...)
	}

	bRef, ref := build([]int{0, 1, 2})
	refA := Analyze(ref)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		order := rng.Perm(3)
		b, prog := build(order)
		a := Analyze(prog)
		for _, name := range []string{"leaf", "middle", "top"} {
			if a.FlagsOf(b.sym(name)) != refA.FlagsOf(bRef.sym(name)) {
				t.Fatalf("order %v changed flags for %s", order, name)
			}
		}
	}
}
