// Package derive maps the abstract shared types of the surface language to
// concrete replicated implementations and their mutation vocabulary. The
// table it builds answers two questions for the emitter: which runtime type
// backs a shared declaration, and which method a given mutation statement
// lowers to. It also rejects programs that bypass the vocabulary, since a
// direct overwrite of replicated state cannot merge.
package derive

import (
	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
	"github.com/loqui-lang/loqui/internal/position"
)

// Concrete identifies a runtime replicated type.
type Concrete int

const (
	GCounter Concrete = iota
	PNCounter
	LWWRegister
	MVRegister
	ORSet
	ORMap
	RGA
	TextSequence
)

// GoType returns the runtime type backing c, without type arguments; the
// emitter appends those from the descriptor's payload types.
func (c Concrete) GoType() string {
	switch c {
	case GCounter:
		return "crdt.GCounter"
	case PNCounter:
		return "crdt.PNCounter"
	case LWWRegister:
		return "crdt.LWWRegister"
	case MVRegister:
		return "crdt.MVRegister"
	case ORSet:
		return "crdt.ORSet"
	case ORMap:
		return "crdt.ORMap"
	case RGA:
		return "crdt.RGA"
	case TextSequence:
		return "crdt.Text"
	}
	return "crdt.Unknown"
}

func (c Concrete) String() string {
	switch c {
	case GCounter:
		return "grow-only counter"
	case PNCounter:
		return "PN-counter"
	case LWWRegister:
		return "last-writer-wins register"
	case MVRegister:
		return "multi-value register"
	case ORSet:
		return "observed-remove set"
	case ORMap:
		return "observed-remove map"
	case RGA:
		return "replicated sequence"
	case TextSequence:
		return "collaborative text"
	}
	return "unknown"
}

// Op is one abstract mutation from the surface vocabulary.
type Op int

const (
	OpIncrement Op = iota
	OpDecrement
	OpSet
	OpResolve
	OpAdd
	OpRemove
	OpPut
	OpAppend
	OpInsertAt
	OpRemoveAt
)

// Descriptor is the derived lowering for one shared declaration.
type Descriptor struct {
	Abstract ir.SharedKind
	Concrete Concrete
	// Bias is the effective conflict bias; the surface default is add-wins.
	Bias ir.Bias
	// Key and Elem are the payload types (key only for maps).
	Key  *ir.Type
	Elem *ir.Type
	// Value is the recursive descriptor for map values that are themselves
	// shared, nil otherwise.
	Value *Descriptor
}

// vocabularies maps each concrete type to its method names by op. An op
// absent from the map is not in the type's vocabulary.
var vocabularies = map[Concrete]map[Op]string{
	GCounter: {
		OpIncrement: "Increment",
	},
	PNCounter: {
		OpIncrement: "Increment",
		OpDecrement: "Decrement",
	},
	LWWRegister: {
		OpSet: "Set",
	},
	MVRegister: {
		OpSet:     "Set",
		OpResolve: "Resolve",
	},
	ORSet: {
		OpAdd:    "Add",
		OpRemove: "Remove",
	},
	ORMap: {
		OpPut:    "Put",
		OpRemove: "Remove",
	},
	RGA: {
		OpAppend:   "Append",
		OpInsertAt: "InsertAt",
		OpRemoveAt: "RemoveAt",
	},
	TextSequence: {
		OpAppend:   "Append",
		OpInsertAt: "InsertAt",
		OpRemoveAt: "RemoveAt",
	},
}

// Method returns the runtime method implementing op on d's concrete type.
func (d *Descriptor) Method(op Op) (string, bool) {
	m, ok := vocabularies[d.Concrete][op]
	return m, ok
}

// Table holds the derived descriptors, keyed by binding symbol and by
// aggregate field.
type Table struct {
	bySymbol map[ir.Symbol]*Descriptor
	byField  map[string]map[string]*Descriptor // type name -> field name
}

// Of returns the descriptor for a shared binding, or nil.
func (t *Table) Of(sym ir.Symbol) *Descriptor {
	return t.bySymbol[sym]
}

// Field returns the descriptor for a shared field of a named aggregate,
// or nil.
func (t *Table) Field(typeName, field string) *Descriptor {
	return t.byField[typeName][field]
}

// Empty reports whether the program declares any replicated state.
func (t *Table) Empty() bool {
	return len(t.bySymbol) == 0 && len(t.byField) == 0
}

// FromType derives a descriptor for an abstract shared type, or nil when
// the type is not shared. def supplies the bias for types that leave it
// unstated; passing ir.BiasDefault falls back to add-wins.
func FromType(t *ir.Type, def ir.Bias) *Descriptor {
	if !t.IsShared() {
		return nil
	}
	d := &Descriptor{Abstract: t.Shared, Bias: t.Bias}
	if d.Bias == ir.BiasDefault {
		d.Bias = def
	}
	if d.Bias == ir.BiasDefault {
		d.Bias = ir.BiasAddWins
	}
	switch t.Shared {
	case ir.SharedCounter:
		d.Concrete = GCounter
	case ir.SharedTally:
		d.Concrete = PNCounter
	case ir.SharedLastWrite:
		d.Concrete = LWWRegister
		d.Elem = param(t, 0)
	case ir.SharedDivergent:
		d.Concrete = MVRegister
		d.Elem = param(t, 0)
	case ir.SharedSet:
		d.Concrete = ORSet
		d.Elem = param(t, 0)
	case ir.SharedMap:
		d.Concrete = ORMap
		d.Key = param(t, 0)
		d.Elem = param(t, 1)
		// Map values may themselves be replicated: SharedMap<K, Tally>
		// puts a PN-counter behind every key.
		d.Value = FromType(d.Elem, def)
	case ir.SharedSequence:
		d.Concrete = RGA
		d.Elem = param(t, 0)
	case ir.SharedText:
		d.Concrete = TextSequence
	}
	return d
}

func param(t *ir.Type, i int) *ir.Type {
	if i < len(t.Params) {
		return t.Params[i]
	}
	return nil
}

type deriver struct {
	prog  *ir.Program
	bag   *diagnostic.Bag
	table *Table
}

// Derive builds the descriptor table for prog and checks that every
// mutation of replicated state stays within its vocabulary. def is the
// configured bias for set-like types that declare none.
func Derive(prog *ir.Program, bag *diagnostic.Bag, def ir.Bias) *Table {
	d := &deriver{
		prog: prog,
		bag:  bag,
		table: &Table{
			bySymbol: make(map[ir.Symbol]*Descriptor),
			byField:  make(map[string]map[string]*Descriptor),
		},
	}
	for _, td := range prog.TypeDefs() {
		name := prog.Interner.Name(td.Name)
		for _, f := range td.Fields {
			if desc := FromType(f.Type, def); desc != nil {
				if d.table.byField[name] == nil {
					d.table.byField[name] = make(map[string]*Descriptor)
				}
				d.table.byField[name][f.Name] = desc
			}
		}
	}
	for _, sym := range prog.Symbols.Symbols() {
		if desc := FromType(prog.Symbols.TypeOf(sym), def); desc != nil {
			d.table.bySymbol[sym] = desc
		}
	}
	ir.WalkStmts(prog.Stmts, d.checkStmt)
	for _, fn := range prog.Functions() {
		ir.WalkStmts(fn.Body, d.checkStmt)
	}
	return d.table
}

func (d *deriver) checkStmt(s ir.Stmt) {
	switch st := s.(type) {
	case *ir.Assign:
		// Registers lower assignment to a timestamped set; every other
		// replicated type has no meaningful overwrite.
		if desc := d.table.bySymbol[st.Target]; desc != nil {
			if _, ok := desc.Method(OpSet); !ok {
				d.assignError(st.Span(), d.prog.Interner.Name(st.Target), desc)
			}
		}

	case *ir.SetField:
		if desc := d.fieldDescriptor(st.Object, st.Field); desc != nil {
			if _, ok := desc.Method(OpSet); !ok {
				d.assignError(st.Span(), st.Field, desc)
			}
		}

	case *ir.SetIndex:
		// Indexed writes on a shared map are puts; on any other shared
		// type they are overwrites.
		if desc := d.exprDescriptor(st.Collection); desc != nil {
			if _, ok := desc.Method(OpPut); !ok {
				d.vocabError(st.Span(), "indexed write", desc)
			}
		}

	case *ir.Increase:
		d.requireOp(st.Target, OpIncrement, "increase", st)

	case *ir.Decrease:
		d.requireOp(st.Target, OpDecrement, "decrease", st)

	case *ir.Resolve:
		d.requireShared(st.Target, OpResolve, "resolve", st)

	case *ir.AddTo:
		d.requireOp(st.Collection, OpAdd, "add", st)

	case *ir.RemoveFrom:
		d.requireOp(st.Collection, OpRemove, "remove", st)

	case *ir.Push:
		d.requireOp(st.Collection, OpAppend, "append", st)

	case *ir.InsertAt:
		d.requireOp(st.Collection, OpInsertAt, "insert", st)

	case *ir.RemoveAt:
		d.requireOp(st.Collection, OpRemoveAt, "remove-at", st)
	}
}

// requireOp checks a mutation statement against the target's vocabulary.
// Non-shared targets are plain collections and always pass.
func (d *deriver) requireOp(target ir.Expr, op Op, verb string, s ir.Stmt) {
	desc := d.exprDescriptor(target)
	if desc == nil {
		return
	}
	if _, ok := desc.Method(op); !ok {
		d.vocabError(s.Span(), verb, desc)
	}
}

// requireShared is requireOp for statements with no plain-value lowering:
// a target without a descriptor is an error here, not a pass.
func (d *deriver) requireShared(target ir.Expr, op Op, verb string, s ir.Stmt) {
	desc := d.exprDescriptor(target)
	if desc == nil {
		d.bag.Add(diagnostic.New().
			Category(diagnostic.CategoryShared).
			Code("L0503").
			Message("'%s' has no replicated descriptor for its target", verb).
			Span(s.Span()).
			Build())
		return
	}
	if _, ok := desc.Method(op); !ok {
		d.vocabError(s.Span(), verb, desc)
	}
}

// exprDescriptor resolves the descriptor of a mutation target: a shared
// binding, a shared field access, or a shared map value reached by index.
func (d *deriver) exprDescriptor(e ir.Expr) *Descriptor {
	switch x := e.(type) {
	case *ir.Ident:
		return d.table.bySymbol[x.Sym]
	case *ir.FieldAccess:
		return d.fieldDescriptor(x.Object, x.Field)
	case *ir.Index:
		if outer := d.exprDescriptor(x.Collection); outer != nil {
			return outer.Value
		}
	}
	return nil
}

func (d *deriver) fieldDescriptor(object ir.Expr, field string) *Descriptor {
	var objType *ir.Type
	switch o := object.(type) {
	case *ir.Ident:
		objType = d.prog.Symbols.TypeOf(o.Sym)
		if objType == nil {
			objType = o.Typ
		}
	case *ir.FieldAccess:
		objType = o.Typ
	case *ir.Index:
		objType = o.Typ
	}
	if objType == nil || objType.Kind != ir.KindStruct {
		return nil
	}
	return d.table.Field(objType.Name, field)
}

func (d *deriver) assignError(span position.Span, name string, desc *Descriptor) {
	d.bag.Add(diagnostic.New().
		Category(diagnostic.CategoryShared).
		Code("L0501").
		Message("direct assignment to shared %s '%s'; use its mutation operations", desc.Concrete, name).
		Span(span).
		Build())
}

func (d *deriver) vocabError(span position.Span, verb string, desc *Descriptor) {
	d.bag.Add(diagnostic.New().
		Category(diagnostic.CategoryShared).
		Code("L0502").
		Message("'%s' is not in the vocabulary of a %s", verb, desc.Concrete).
		Span(span).
		Build())
}
