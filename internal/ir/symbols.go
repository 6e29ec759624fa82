package ir

import (
	"sort"

	"github.com/loqui-lang/loqui/internal/position"
)

// Symbol is an interned identifier. The zero value is SymbolNone.
type Symbol uint32

// SymbolNone marks an absent symbol (discarded pop target, fire-and-forget
// launch).
const SymbolNone Symbol = 0

// Interner maps identifier spellings to dense symbols. Symbol 0 is reserved.
type Interner struct {
	names []string
	index map[string]Symbol
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{
		names: []string{""},
		index: make(map[string]Symbol),
	}
}

// Intern returns the symbol for name, creating one if needed.
func (in *Interner) Intern(name string) Symbol {
	if sym, ok := in.index[name]; ok {
		return sym
	}
	sym := Symbol(len(in.names))
	in.names = append(in.names, name)
	in.index[name] = sym
	return sym
}

// Lookup returns the symbol for name, or SymbolNone if never interned.
func (in *Interner) Lookup(name string) Symbol {
	return in.index[name]
}

// Name resolves a symbol back to its spelling.
func (in *Interner) Name(sym Symbol) string {
	if int(sym) >= len(in.names) {
		return "<unknown>"
	}
	return in.names[sym]
}

// SymbolInfo records the declaration-time facts about one symbol. The type
// is fixed once declared; mutability and ownership classification are
// computed afterward by their passes and live in pass-owned tables.
type SymbolInfo struct {
	Name     string
	Type     *Type
	Declared position.Span
}

// SymbolTable maps symbols to their declaration info.
type SymbolTable struct {
	info map[Symbol]*SymbolInfo
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{info: make(map[Symbol]*SymbolInfo)}
}

// Declare records a symbol's declaration. Redeclaring replaces the entry;
// rebinding semantics are handled by the ownership pass, which only needs
// the latest type.
func (st *SymbolTable) Declare(sym Symbol, info *SymbolInfo) {
	st.info[sym] = info
}

// Info returns the declaration info for sym, or nil.
func (st *SymbolTable) Info(sym Symbol) *SymbolInfo {
	return st.info[sym]
}

// TypeOf returns the declared type of sym, or nil.
func (st *SymbolTable) TypeOf(sym Symbol) *Type {
	if info := st.info[sym]; info != nil {
		return info.Type
	}
	return nil
}

// Symbols returns all declared symbols in ascending order. Passes iterate
// this instead of the map so results are independent of map ordering.
func (st *SymbolTable) Symbols() []Symbol {
	syms := make([]Symbol, 0, len(st.info))
	for s := range st.info {
		syms = append(syms, s)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
	return syms
}
