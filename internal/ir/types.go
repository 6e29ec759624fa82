package ir

import "strings"

// TypeKind classifies semantic types.
type TypeKind int

const (
	KindInvalid TypeKind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindNothing
	KindSeq
	KindSet
	KindMap
	KindOption
	KindStruct
	KindEnum
	KindFunc
	KindTask   // awaitable task handle
	KindShared // abstract replicated type, resolved by derivation
)

// SharedKind enumerates the abstract shared-type vocabulary the front end
// may declare. Derivation maps each to a concrete replicated implementation.
type SharedKind int

const (
	SharedNone SharedKind = iota
	SharedCounter    // grow-only counter
	SharedTally      // bidirectional counter
	SharedLastWrite  // timestamped register
	SharedDivergent  // multi-value register with explicit resolve
	SharedSet        // observed-remove set
	SharedMap        // observed-remove map
	SharedSequence   // position-based sequence
	SharedText       // text-oriented sequence
)

func (k SharedKind) String() string {
	switch k {
	case SharedCounter:
		return "ConvergentCount"
	case SharedTally:
		return "Tally"
	case SharedLastWrite:
		return "LastWriteWins"
	case SharedDivergent:
		return "Divergent"
	case SharedSet:
		return "SharedSet"
	case SharedMap:
		return "SharedMap"
	case SharedSequence:
		return "SharedSequence"
	case SharedText:
		return "CollaborativeText"
	default:
		return "None"
	}
}

// Bias selects the winner for concurrent add/remove of the same element in
// observed-remove sets and maps. It is an explicit descriptor parameter on
// the declaration, never inferred.
type Bias int

const (
	BiasDefault Bias = iota // resolves to add-wins
	BiasAddWins
	BiasRemoveWins
)

func (b Bias) String() string {
	if b == BiasRemoveWins {
		return "remove-wins"
	}
	return "add-wins"
}

// Type is a semantic type. Types are fixed once declared; the analyses only
// read them.
type Type struct {
	Kind   TypeKind
	Name   string     // struct/enum name; empty otherwise
	Params []*Type    // element types for Seq/Set/Map/Option/Shared, signature for Func
	Result *Type      // Func result; nil for none
	Shared SharedKind // valid when Kind == KindShared
	Bias   Bias       // valid for SharedSet/SharedMap
}

// Primitive type singletons.
var (
	Int     = &Type{Kind: KindInt}
	Float   = &Type{Kind: KindFloat}
	Bool    = &Type{Kind: KindBool}
	Text    = &Type{Kind: KindText}
	Nothing = &Type{Kind: KindNothing}
)

// SeqOf returns a sequence type.
func SeqOf(elem *Type) *Type { return &Type{Kind: KindSeq, Params: []*Type{elem}} }

// SetOf returns a set type.
func SetOf(elem *Type) *Type { return &Type{Kind: KindSet, Params: []*Type{elem}} }

// MapOf returns a map type.
func MapOf(key, val *Type) *Type { return &Type{Kind: KindMap, Params: []*Type{key, val}} }

// OptionOf returns an optional type.
func OptionOf(elem *Type) *Type { return &Type{Kind: KindOption, Params: []*Type{elem}} }

// StructType returns a named aggregate type.
func StructType(name string) *Type { return &Type{Kind: KindStruct, Name: name} }

// SharedOf returns an abstract shared type.
func SharedOf(kind SharedKind, params ...*Type) *Type {
	return &Type{Kind: KindShared, Shared: kind, Params: params}
}

// IsShared reports whether t is an abstract replicated type. Shared types
// are exempt from transfer invalidation: all their mutations go through
// in-place merge-safe methods.
func (t *Type) IsShared() bool {
	return t != nil && t.Kind == KindShared
}

// TriviallyCopiable reports whether duplicating the value is a bitwise copy.
// Non-trivially-copiable values are subject to ownership transfer.
func (t *Type) TriviallyCopiable() bool {
	if t == nil {
		return true // unknown types never produce false positives
	}
	switch t.Kind {
	case KindInt, KindFloat, KindBool, KindNothing, KindFunc, KindTask:
		return true
	default:
		return false
	}
}

// String renders the type for diagnostics.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindText:
		return "Text"
	case KindNothing:
		return "Nothing"
	case KindSeq:
		return "Seq<" + t.Params[0].String() + ">"
	case KindSet:
		return "Set<" + t.Params[0].String() + ">"
	case KindMap:
		return "Map<" + t.Params[0].String() + ", " + t.Params[1].String() + ">"
	case KindOption:
		return "Option<" + t.Params[0].String() + ">"
	case KindStruct, KindEnum:
		return t.Name
	case KindFunc:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		sig := "Func(" + strings.Join(parts, ", ") + ")"
		if t.Result != nil {
			sig += " -> " + t.Result.String()
		}
		return sig
	case KindTask:
		return "Task"
	case KindShared:
		if len(t.Params) == 0 {
			return t.Shared.String()
		}
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		return t.Shared.String() + "<" + strings.Join(parts, ", ") + ">"
	default:
		return "<invalid>"
	}
}
