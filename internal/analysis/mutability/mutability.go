// Package mutability computes, per scope, the set of symbols targeted by at
// least one mutating statement. The pass is pure and conservative: a symbol
// mutated on any branch is marked, reachable or not. Nested function bodies
// are excluded; each gets its own analysis.
//
// The emitter consults the result to decide between immutable and mutable
// bindings in generated code.
package mutability

import (
	"github.com/loqui-lang/loqui/internal/ir"
)

// Set is the symbols mutated somewhere in one scope. Computed once,
// read-only thereafter.
type Set map[ir.Symbol]struct{}

// Contains reports whether sym is mutated in the scope.
func (s Set) Contains(sym ir.Symbol) bool {
	_, ok := s[sym]
	return ok
}

// Analyze returns the mutability set for a scope's statement list,
// including statements nested under control flow and loops.
func Analyze(block []ir.Stmt) Set {
	set := make(Set)
	ir.WalkStmts(block, func(s ir.Stmt) {
		collect(s, set)
	})
	return set
}

// AnalyzeProgram computes mutability sets for the top-level scope and for
// every function body, keyed by the function symbol. The top-level set is
// stored under ir.SymbolNone.
func AnalyzeProgram(prog *ir.Program) map[ir.Symbol]Set {
	out := make(map[ir.Symbol]Set)
	out[ir.SymbolNone] = Analyze(prog.Stmts)
	var visit func(block []ir.Stmt)
	visit = func(block []ir.Stmt) {
		ir.WalkStmts(block, func(s ir.Stmt) {
			if fn, ok := s.(*ir.FuncDef); ok {
				out[fn.Name] = Analyze(fn.Body)
				visit(fn.Body)
			}
		})
	}
	visit(prog.Stmts)
	return out
}

func collect(s ir.Stmt, set Set) {
	switch st := s.(type) {
	case *ir.Assign:
		set[st.Target] = struct{}{}
	case *ir.SetField:
		mark(st.Object, set)
	case *ir.SetIndex:
		mark(st.Collection, set)
	case *ir.Push:
		mark(st.Collection, set)
	case *ir.Pop:
		mark(st.Collection, set)
	case *ir.AddTo:
		mark(st.Collection, set)
	case *ir.RemoveFrom:
		mark(st.Collection, set)
	case *ir.InsertAt:
		mark(st.Collection, set)
	case *ir.RemoveAt:
		mark(st.Collection, set)
	case *ir.Increase:
		mark(st.Target, set)
	case *ir.Decrease:
		mark(st.Target, set)
	case *ir.Resolve:
		mark(st.Target, set)
	case *ir.Mount:
		// Replay replaces the mounted variable's state in place.
		set[st.Target] = struct{}{}
	case *ir.Sync:
		// Background merges mutate the synced variable.
		set[st.Target] = struct{}{}
	}
}

// mark records the root binding of a mutation target: a direct identifier,
// or the identifier under a field/index chain (mutating board.points
// mutates board).
func mark(e ir.Expr, set Set) {
	for {
		switch x := e.(type) {
		case *ir.Ident:
			set[x.Sym] = struct{}{}
			return
		case *ir.FieldAccess:
			e = x.Object
		case *ir.Index:
			e = x.Collection
		default:
			return
		}
	}
}
