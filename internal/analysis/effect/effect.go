// Package effect computes, per function, whether execution may suspend and
// which resource classes it touches. Direct triggers seed the flags; a
// fixed-point pass over the call graph propagates them to callers.
//
// The lattice {suspends, uses-storage, uses-network} is finite and the join
// is monotone, so the worklist terminates. The worklist is explicit rather
// than recursive so mutually recursive call graphs cannot overflow, and all
// iteration orders are sorted: two runs over identical IR yield identical
// flags.
package effect

import (
	"sort"

	"github.com/loqui-lang/loqui/internal/ir"
)

// Flags is the effect lattice for one function or statement.
type Flags uint8

const (
	// Suspends marks code that may yield the task: I/O, timers, channel
	// operations, iteration checkpoints, or calls into suspending code.
	Suspends Flags = 1 << iota
	// UsesStorage marks journal mounts and storage reads/writes.
	UsesStorage
	// UsesNetwork marks listen/connect and gossip synchronization.
	UsesNetwork
)

// Has reports whether all flags in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

func (f Flags) String() string {
	if f == 0 {
		return "pure"
	}
	var parts []string
	if f.Has(Suspends) {
		parts = append(parts, "suspends")
	}
	if f.Has(UsesStorage) {
		parts = append(parts, "uses-storage")
	}
	if f.Has(UsesNetwork) {
		parts = append(parts, "uses-network")
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out
}

// Analysis holds the resolved per-function flags. The top-level statement
// scope is recorded under ir.SymbolNone.
type Analysis struct {
	flags   map[ir.Symbol]Flags
	callees map[ir.Symbol][]ir.Symbol
}

// FlagsOf returns the resolved flags for a function symbol. Unknown
// symbols are pure: the front end resolves every callee, so an unknown
// symbol can only be a non-function binding.
func (a *Analysis) FlagsOf(fn ir.Symbol) Flags {
	return a.flags[fn]
}

// Suspending reports whether fn may suspend.
func (a *Analysis) Suspending(fn ir.Symbol) bool {
	return a.flags[fn].Has(Suspends)
}

// StmtFlags returns the effect flags for a single statement: its own
// direct triggers joined with the resolved flags of every function it
// calls.
func (a *Analysis) StmtFlags(s ir.Stmt) Flags {
	flags := directStmtFlags(s)
	ir.StmtExprs(s, func(e ir.Expr) {
		ir.WalkExpr(e, func(x ir.Expr) {
			if call, ok := x.(*ir.CallExpr); ok {
				flags |= a.flags[call.Callee]
			}
		})
	})
	return flags
}

// StmtSuspends reports whether the statement is itself a suspension
// trigger or calls a function whose resolved flags include Suspends.
func (a *Analysis) StmtSuspends(s ir.Stmt) bool {
	return a.StmtFlags(s).Has(Suspends)
}

// Analyze runs the fixed-point effect propagation over a program.
func Analyze(prog *ir.Program) *Analysis {
	fns := collectFunctions(prog)

	callees := make(map[ir.Symbol][]ir.Symbol, len(fns))
	callers := make(map[ir.Symbol][]ir.Symbol)
	direct := make(map[ir.Symbol]Flags, len(fns))

	for sym, body := range fns {
		direct[sym] = directFlags(body)
		calls := collectCalls(body)
		callees[sym] = calls
		for _, callee := range calls {
			callers[callee] = append(callers[callee], sym)
		}
	}

	flags := make(map[ir.Symbol]Flags, len(fns))
	for sym, f := range direct {
		flags[sym] = f
	}

	// Worklist seeded with every function in symbol order.
	work := newWorklist()
	for _, sym := range sortedKeys(fns) {
		work.push(sym)
	}

	for !work.empty() {
		sym := work.pop()
		joined := direct[sym]
		for _, callee := range callees[sym] {
			joined |= flags[callee]
		}
		if joined != flags[sym] {
			flags[sym] = joined
			for _, caller := range callers[sym] {
				work.push(caller)
			}
		}
	}

	return &Analysis{flags: flags, callees: callees}
}

// collectFunctions maps every function symbol to its body, with the
// top-level scope under SymbolNone. Nested function definitions are
// included at any depth.
func collectFunctions(prog *ir.Program) map[ir.Symbol][]ir.Stmt {
	fns := map[ir.Symbol][]ir.Stmt{ir.SymbolNone: prog.Stmts}
	var visit func(block []ir.Stmt)
	visit = func(block []ir.Stmt) {
		ir.WalkStmts(block, func(s ir.Stmt) {
			if fn, ok := s.(*ir.FuncDef); ok {
				fns[fn.Name] = fn.Body
				visit(fn.Body)
			}
		})
	}
	visit(prog.Stmts)
	return fns
}

// directStmtFlags returns the triggers a statement carries by itself,
// ignoring calls.
func directStmtFlags(s ir.Stmt) Flags {
	switch s.(type) {
	case *ir.While, *ir.ForEach:
		// Loops always contain a cooperative-yield checkpoint.
		return Suspends
	case *ir.Sleep:
		return Suspends
	case *ir.Listen, *ir.Connect:
		return Suspends | UsesNetwork
	case *ir.Sync:
		return Suspends | UsesNetwork
	case *ir.Send, *ir.Receive:
		return Suspends
	case *ir.Mount:
		return Suspends | UsesStorage
	case *ir.Launch, *ir.Await:
		return Suspends
	default:
		return 0
	}
}

// directFlags joins the direct triggers of every statement in a body,
// excluding nested function bodies.
func directFlags(body []ir.Stmt) Flags {
	var flags Flags
	ir.WalkStmts(body, func(s ir.Stmt) {
		flags |= directStmtFlags(s)
	})
	return flags
}

// collectCalls returns the callees referenced anywhere in a body,
// excluding nested function bodies, sorted and deduplicated.
func collectCalls(body []ir.Stmt) []ir.Symbol {
	seen := make(map[ir.Symbol]struct{})
	ir.WalkStmts(body, func(s ir.Stmt) {
		if launch, ok := s.(*ir.Launch); ok && launch.Call != nil {
			seen[launch.Call.Callee] = struct{}{}
		}
		ir.StmtExprs(s, func(e ir.Expr) {
			ir.WalkExpr(e, func(x ir.Expr) {
				if call, ok := x.(*ir.CallExpr); ok {
					seen[call.Callee] = struct{}{}
				}
			})
		})
	})
	out := make([]ir.Symbol, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(m map[ir.Symbol][]ir.Stmt) []ir.Symbol {
	keys := make([]ir.Symbol, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// worklist is a FIFO queue with membership dedup; pushing a queued symbol
// is a no-op, keeping iteration bounded.
type worklist struct {
	queue  []ir.Symbol
	queued map[ir.Symbol]bool
}

func newWorklist() *worklist {
	return &worklist{queued: make(map[ir.Symbol]bool)}
}

func (w *worklist) push(sym ir.Symbol) {
	if w.queued[sym] {
		return
	}
	w.queued[sym] = true
	w.queue = append(w.queue, sym)
}

func (w *worklist) pop() ir.Symbol {
	sym := w.queue[0]
	w.queue = w.queue[1:]
	w.queued[sym] = false
	return sym
}

func (w *worklist) empty() bool {
	return len(w.queue) == 0
}
