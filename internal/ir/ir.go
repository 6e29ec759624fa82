// Package ir defines the typed statement intermediate representation that
// the front end hands to the back end: one disambiguated statement tree per
// program, with declared and inferred types already resolved. The tree is
// immutable after handoff; every analysis pass reads it and records its
// results in side tables keyed by node identity or symbol.
package ir

import (
	"github.com/loqui-lang/loqui/internal/position"
)

// NodeID uniquely identifies an IR node within a program. The front end
// assigns IDs densely in tree order; side tables index by them.
type NodeID uint64

// Node is the base interface for all IR nodes.
type Node interface {
	// ID returns the unique identifier for this node.
	ID() NodeID
	// Span returns the source span covered by this node.
	Span() position.Span
}

// Stmt represents all statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Expr represents all expression nodes.
type Expr interface {
	Node
	exprNode()
	// Type returns the inferred semantic type of the expression.
	Type() *Type
}

// Meta carries the node identity and source span shared by every node.
type Meta struct {
	NodeID     NodeID
	SourceSpan position.Span
}

func (m Meta) ID() NodeID          { return m.NodeID }
func (m Meta) Span() position.Span { return m.SourceSpan }

// =============================================================================
// Statements
// =============================================================================

// Bind introduces a binding. A Bind whose name already exists in scope is a
// rebinding: the old binding ends and a fresh one begins.
type Bind struct {
	Meta
	Name     Symbol
	Mutable  bool
	TypeHint *Type
	Value    Expr
}

// Assign reassigns an existing mutable binding.
type Assign struct {
	Meta
	Target Symbol
	Value  Expr
}

// SetField mutates a field of an aggregate. Shared (CRDT) fields reject
// direct assignment during derivation; their mutations use the dedicated
// statements below.
type SetField struct {
	Meta
	Object Expr
	Field  string
	Value  Expr
}

// SetIndex mutates one element of an indexed collection.
type SetIndex struct {
	Meta
	Collection Expr
	Index      Expr
	Value      Expr
}

// Push appends to a sequence.
type Push struct {
	Meta
	Collection Expr
	Value      Expr
}

// Pop removes the last element of a sequence, optionally binding it.
type Pop struct {
	Meta
	Collection Expr
	Into       Symbol // SymbolNone when discarded
}

// AddTo inserts into a set or shared set.
type AddTo struct {
	Meta
	Collection Expr
	Value      Expr
}

// RemoveFrom removes from a set, map, or shared collection.
type RemoveFrom struct {
	Meta
	Collection Expr
	Value      Expr
}

// InsertAt inserts into a sequence at a position.
type InsertAt struct {
	Meta
	Collection Expr
	Index      Expr
	Value      Expr
}

// RemoveAt removes the element at a position from a sequence.
type RemoveAt struct {
	Meta
	Collection Expr
	Index      Expr
}

// Increase increments a counter-typed shared field.
type Increase struct {
	Meta
	Target Expr
	Amount Expr
}

// Decrease decrements a bidirectional counter.
type Decrease struct {
	Meta
	Target Expr
	Amount Expr
}

// Resolve collapses a multi-value register to a single chosen value.
type Resolve struct {
	Meta
	Target Expr
	Value  Expr
}

// If is two-way branching.
type If struct {
	Meta
	Cond Expr
	Then []Stmt
	Else []Stmt // nil when absent
}

// While loops until the condition is false. Loop bodies always contain a
// cooperative-yield checkpoint, so every loop is a suspension trigger.
type While struct {
	Meta
	Cond Expr
	Body []Stmt
}

// ForEach iterates a collection, binding each element.
type ForEach struct {
	Meta
	Var      Symbol
	Iterable Expr
	Body     []Stmt
}

// Return exits the enclosing function.
type Return struct {
	Meta
	Value Expr // nil for bare return
}

// FuncDef defines a function. Bodies are analyzed independently of the
// enclosing scope.
type FuncDef struct {
	Meta
	Name   Symbol
	Params []Param
	Result *Type // nil for no result
	Body   []Stmt
}

// Param is one function parameter.
type Param struct {
	Name Symbol
	Type *Type
	Span position.Span
}

// TypeDef declares an aggregate type. Shared aggregates carry CRDT-typed
// fields that the deriver maps to concrete replicated types.
type TypeDef struct {
	Meta
	Name   Symbol
	Fields []Field
	Shared bool
}

// Field is one aggregate field. Indirect is set by the compile pre-pass on
// fields whose type cycles back to the defining aggregate; the emitter
// gives those heap indirection.
type Field struct {
	Name     string
	Type     *Type
	Span     position.Span
	Indirect bool
}

// ExprStmt evaluates an expression for its effects (usually a call).
type ExprStmt struct {
	Meta
	X Expr
}

// Give transfers ownership of a value to a new binding, invalidating the
// source for the rest of its scope.
type Give struct {
	Meta
	Value  Expr
	Target Symbol
}

// Show borrows a value for display; the source stays valid.
type Show struct {
	Meta
	Value Expr
}

// Zone opens an arena scope. Values allocated inside may not escape it.
type Zone struct {
	Meta
	Name    Symbol
	Budget  int64  // bytes; 0 when file-backed
	Backing string // backing file path; empty for heap arenas
	Body    []Stmt
}

// Mount binds a shared variable to a journal file, replaying its state.
type Mount struct {
	Meta
	Target Symbol
	Path   Expr
}

// Sync subscribes a shared variable to a gossip topic.
type Sync struct {
	Meta
	Target Symbol
	Topic  Expr
}

// Sleep suspends the current task.
type Sleep struct {
	Meta
	Duration Expr
}

// Listen accepts connections on an address.
type Listen struct {
	Meta
	Addr Expr
	Body []Stmt
}

// Connect opens a connection to an address.
type Connect struct {
	Meta
	Addr Expr
	Into Symbol
}

// Send sends a value on a channel.
type Send struct {
	Meta
	Channel Expr
	Value   Expr
}

// Receive receives from a channel into a binding.
type Receive struct {
	Meta
	Channel Expr
	Into    Symbol
}

// Launch spawns a task. With a handle the task is awaitable; without one it
// is fire-and-forget and can only be observed through its own effects.
type Launch struct {
	Meta
	Handle Symbol // SymbolNone for fire-and-forget
	Call   *CallExpr
}

// Await blocks until a handle-bearing task completes.
type Await struct {
	Meta
	Handle Expr
}

// Assert is a runtime guard. Guards marked Assumption are "documented
// assumption" checks and are emitted only in debug builds; the rest are
// security/refinement guards that always abort on failure.
type Assert struct {
	Meta
	Cond       Expr
	Assumption bool
	Message    string
}

func (*Bind) stmtNode()       {}
func (*Assign) stmtNode()     {}
func (*SetField) stmtNode()   {}
func (*SetIndex) stmtNode()   {}
func (*Push) stmtNode()       {}
func (*Pop) stmtNode()        {}
func (*AddTo) stmtNode()      {}
func (*RemoveFrom) stmtNode() {}
func (*InsertAt) stmtNode()   {}
func (*RemoveAt) stmtNode()   {}
func (*Increase) stmtNode()   {}
func (*Decrease) stmtNode()   {}
func (*Resolve) stmtNode()    {}
func (*If) stmtNode()         {}
func (*While) stmtNode()      {}
func (*ForEach) stmtNode()    {}
func (*Return) stmtNode()     {}
func (*FuncDef) stmtNode()    {}
func (*TypeDef) stmtNode()    {}
func (*ExprStmt) stmtNode()   {}
func (*Give) stmtNode()       {}
func (*Show) stmtNode()       {}
func (*Zone) stmtNode()       {}
func (*Mount) stmtNode()      {}
func (*Sync) stmtNode()       {}
func (*Sleep) stmtNode()      {}
func (*Listen) stmtNode()     {}
func (*Connect) stmtNode()    {}
func (*Send) stmtNode()       {}
func (*Receive) stmtNode()    {}
func (*Launch) stmtNode()     {}
func (*Await) stmtNode()      {}
func (*Assert) stmtNode()     {}

// =============================================================================
// Expressions
// =============================================================================

// LitKind discriminates literal values.
type LitKind int

const (
	LitInt LitKind = iota
	LitFloat
	LitBool
	LitText
	LitNothing
)

// Lit is a literal value.
type Lit struct {
	Meta
	Kind  LitKind
	Int   int64
	Float float64
	Bool  bool
	Text  string
	Typ   *Type
}

// Ident references a binding.
type Ident struct {
	Meta
	Sym Symbol
	Typ *Type
}

// BinOp enumerates binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

// Binary applies a binary operator.
type Binary struct {
	Meta
	Op   BinOp
	L, R Expr
	Typ  *Type
}

// Unary applies negation or logical not.
type Unary struct {
	Meta
	Neg bool // true: arithmetic negation, false: logical not
	X   Expr
	Typ *Type
}

// CallExpr calls a named function.
type CallExpr struct {
	Meta
	Callee Symbol
	Args   []Expr
	Typ    *Type
}

// Index reads one element of a collection.
type Index struct {
	Meta
	Collection Expr
	Idx        Expr
	Typ        *Type
}

// FieldAccess reads a field of an aggregate.
type FieldAccess struct {
	Meta
	Object Expr
	Field  string
	Typ    *Type
}

// ListLit constructs a sequence.
type ListLit struct {
	Meta
	Elems []Expr
	Typ   *Type
}

// New instantiates an aggregate.
type New struct {
	Meta
	TypeName Symbol
	Inits    []FieldInit
	Typ      *Type
}

// FieldInit initializes one field in a New expression.
type FieldInit struct {
	Name  string
	Value Expr
}

// Copy duplicates a value element-wise, breaking ownership and zone links.
type Copy struct {
	Meta
	Value Expr
	Typ   *Type
}

// Len returns the element count of a collection.
type Len struct {
	Meta
	Collection Expr
	Typ        *Type
}

// Contains tests membership.
type Contains struct {
	Meta
	Collection Expr
	Value      Expr
	Typ        *Type
}

func (*Lit) exprNode()         {}
func (*Ident) exprNode()       {}
func (*Binary) exprNode()      {}
func (*Unary) exprNode()       {}
func (*CallExpr) exprNode()    {}
func (*Index) exprNode()       {}
func (*FieldAccess) exprNode() {}
func (*ListLit) exprNode()     {}
func (*New) exprNode()         {}
func (*Copy) exprNode()        {}
func (*Len) exprNode()         {}
func (*Contains) exprNode()    {}

func (e *Lit) Type() *Type         { return e.Typ }
func (e *Ident) Type() *Type       { return e.Typ }
func (e *Binary) Type() *Type      { return e.Typ }
func (e *Unary) Type() *Type       { return e.Typ }
func (e *CallExpr) Type() *Type    { return e.Typ }
func (e *Index) Type() *Type       { return e.Typ }
func (e *FieldAccess) Type() *Type { return e.Typ }
func (e *ListLit) Type() *Type     { return e.Typ }
func (e *New) Type() *Type         { return e.Typ }
func (e *Copy) Type() *Type        { return e.Typ }
func (e *Len) Type() *Type         { return e.Typ }
func (e *Contains) Type() *Type    { return e.Typ }

// Program is one compilation unit after front-end handoff.
type Program struct {
	Unit     string
	Interner *Interner
	Symbols  *SymbolTable
	Stmts    []Stmt
}

// Functions returns the top-level function definitions in order.
func (p *Program) Functions() []*FuncDef {
	var fns []*FuncDef
	for _, s := range p.Stmts {
		if fn, ok := s.(*FuncDef); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// TypeDefs returns the top-level type definitions in order.
func (p *Program) TypeDefs() []*TypeDef {
	var defs []*TypeDef
	for _, s := range p.Stmts {
		if td, ok := s.(*TypeDef); ok {
			defs = append(defs, td)
		}
	}
	return defs
}
