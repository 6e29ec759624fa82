package ir

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/loqui-lang/loqui/internal/position"
)

// The front end hands over one versioned document per program. The schema
// is a stable contract: disambiguation happened upstream, so every
// statement arrives with a single meaning and resolved types. The back end
// only validates the schema version and reconstructs the tree.

// SchemaRange is the document versions this compiler accepts.
const SchemaRange = "^1"

// DecodeError reports a malformed or unsupported document.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "ir document: " + e.Reason
}

type docSpan struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Col   int    `json:"col"`
	Off   int    `json:"off"`
	ELine int    `json:"eline"`
	ECol  int    `json:"ecol"`
	EOff  int    `json:"eoff"`
}

func (d docSpan) span() position.Span {
	return position.Span{
		Start: position.Position{Filename: d.File, Line: d.Line, Column: d.Col, Offset: d.Off},
		End:   position.Position{Filename: d.File, Line: d.ELine, Column: d.ECol, Offset: d.EOff},
	}
}

type docType struct {
	Kind   string    `json:"kind"`
	Name   string    `json:"name,omitempty"`
	Params []docType `json:"params,omitempty"`
	Bias   string    `json:"bias,omitempty"`
}

type docField struct {
	Name string   `json:"name"`
	Type docType  `json:"type"`
	Span *docSpan `json:"span,omitempty"`
}

type docParam struct {
	Name string   `json:"name"`
	Type docType  `json:"type"`
	Span *docSpan `json:"span,omitempty"`
}

// docExpr is the union of all expression payloads, discriminated by Kind.
type docExpr struct {
	Kind       string     `json:"kind"`
	ID         uint64     `json:"id"`
	Span       docSpan    `json:"span"`
	Type       *docType   `json:"type,omitempty"`
	Int        int64      `json:"int,omitempty"`
	Float      float64    `json:"float,omitempty"`
	Bool       bool       `json:"bool,omitempty"`
	Text       string     `json:"text,omitempty"`
	Name       string     `json:"name,omitempty"`
	Op         string     `json:"op,omitempty"`
	Left       *docExpr   `json:"left,omitempty"`
	Right      *docExpr   `json:"right,omitempty"`
	X          *docExpr   `json:"x,omitempty"`
	Neg        bool       `json:"neg,omitempty"`
	Args       []docExpr  `json:"args,omitempty"`
	Collection *docExpr   `json:"collection,omitempty"`
	Index      *docExpr   `json:"index,omitempty"`
	Object     *docExpr   `json:"object,omitempty"`
	Field      string     `json:"field,omitempty"`
	Elems      []docExpr  `json:"elems,omitempty"`
	Inits      []docInit  `json:"inits,omitempty"`
	Value      *docExpr   `json:"value,omitempty"`
}

type docInit struct {
	Name  string  `json:"name"`
	Value docExpr `json:"value"`
}

// docStmt is the union of all statement payloads, discriminated by Kind.
type docStmt struct {
	Kind       string    `json:"kind"`
	ID         uint64    `json:"id"`
	Span       docSpan   `json:"span"`
	Name       string    `json:"name,omitempty"`
	Mutable    bool      `json:"mutable,omitempty"`
	Type       *docType  `json:"type,omitempty"`
	Value      *docExpr  `json:"value,omitempty"`
	Target     string    `json:"target,omitempty"`
	TargetX    *docExpr  `json:"target_expr,omitempty"`
	Object     *docExpr  `json:"object,omitempty"`
	Field      string    `json:"field,omitempty"`
	Collection *docExpr  `json:"collection,omitempty"`
	Index      *docExpr  `json:"index,omitempty"`
	Cond       *docExpr  `json:"cond,omitempty"`
	Then       []docStmt `json:"then,omitempty"`
	Else       []docStmt `json:"else,omitempty"`
	Body       []docStmt `json:"body,omitempty"`
	Var        string    `json:"var,omitempty"`
	Iterable   *docExpr  `json:"iterable,omitempty"`
	Params     []docParam `json:"params,omitempty"`
	Result     *docType  `json:"result,omitempty"`
	Fields     []docField `json:"fields,omitempty"`
	Shared     bool      `json:"shared,omitempty"`
	Budget     int64     `json:"budget,omitempty"`
	Backing    string    `json:"backing,omitempty"`
	Path       *docExpr  `json:"path,omitempty"`
	Topic      *docExpr  `json:"topic,omitempty"`
	Duration   *docExpr  `json:"duration,omitempty"`
	Addr       *docExpr  `json:"addr,omitempty"`
	Channel    *docExpr  `json:"channel,omitempty"`
	Amount     *docExpr  `json:"amount,omitempty"`
	Handle     string    `json:"handle,omitempty"`
	HandleX    *docExpr  `json:"handle_expr,omitempty"`
	Call       *docExpr  `json:"call,omitempty"`
	Assumption bool      `json:"assumption,omitempty"`
	Message    string    `json:"message,omitempty"`
	X          *docExpr  `json:"expr,omitempty"`
	Into       string    `json:"into,omitempty"`
}

type document struct {
	SchemaVersion string    `json:"schema_version"`
	Unit          string    `json:"unit"`
	Statements    []docStmt `json:"statements"`
}

// DecodeDocument parses a front-end IR document and rebuilds the statement
// tree. A schema version outside SchemaRange fails the whole unit.
func DecodeDocument(data []byte) (*Program, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Reason: "malformed payload: " + err.Error()}
	}
	if doc.SchemaVersion == "" {
		return nil, &DecodeError{Reason: "missing schema_version"}
	}
	ver, err := semver.NewVersion(doc.SchemaVersion)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid schema_version %q", doc.SchemaVersion)}
	}
	rng, err := semver.NewConstraint(SchemaRange)
	if err != nil {
		return nil, err
	}
	if !rng.Check(ver) {
		return nil, &DecodeError{Reason: fmt.Sprintf(
			"schema_version %s outside supported range %s", ver, SchemaRange)}
	}

	dec := &decoder{
		interner: NewInterner(),
		symbols:  NewSymbolTable(),
	}
	stmts, err := dec.stmts(doc.Statements)
	if err != nil {
		return nil, err
	}
	return &Program{
		Unit:     doc.Unit,
		Interner: dec.interner,
		Symbols:  dec.symbols,
		Stmts:    stmts,
	}, nil
}

type decoder struct {
	interner *Interner
	symbols  *SymbolTable
	nextID   NodeID
}

func (d *decoder) id(raw uint64) NodeID {
	if raw != 0 {
		if NodeID(raw) > d.nextID {
			d.nextID = NodeID(raw)
		}
		return NodeID(raw)
	}
	d.nextID++
	return d.nextID
}

func (d *decoder) sym(name string) Symbol {
	if name == "" {
		return SymbolNone
	}
	return d.interner.Intern(name)
}

func (d *decoder) declare(name string, t *Type, span position.Span) Symbol {
	sym := d.sym(name)
	if sym != SymbolNone {
		d.symbols.Declare(sym, &SymbolInfo{Name: name, Type: t, Declared: span})
	}
	return sym
}

func (d *decoder) typ(dt *docType) (*Type, error) {
	if dt == nil {
		return nil, nil
	}
	params := make([]*Type, 0, len(dt.Params))
	for i := range dt.Params {
		p, err := d.typ(&dt.Params[i])
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	switch dt.Kind {
	case "int":
		return Int, nil
	case "float":
		return Float, nil
	case "bool":
		return Bool, nil
	case "text":
		return Text, nil
	case "nothing":
		return Nothing, nil
	case "seq":
		return &Type{Kind: KindSeq, Params: params}, nil
	case "set":
		return &Type{Kind: KindSet, Params: params}, nil
	case "map":
		return &Type{Kind: KindMap, Params: params}, nil
	case "option":
		return &Type{Kind: KindOption, Params: params}, nil
	case "struct":
		return &Type{Kind: KindStruct, Name: dt.Name}, nil
	case "enum":
		return &Type{Kind: KindEnum, Name: dt.Name}, nil
	case "func":
		return &Type{Kind: KindFunc, Params: params}, nil
	case "task":
		return &Type{Kind: KindTask}, nil
	case "shared":
		kind, ok := sharedKinds[dt.Name]
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("unknown shared type %q", dt.Name)}
		}
		bias := BiasDefault
		switch dt.Bias {
		case "":
		case "add-wins":
			bias = BiasAddWins
		case "remove-wins":
			bias = BiasRemoveWins
		default:
			return nil, &DecodeError{Reason: fmt.Sprintf("unknown bias %q", dt.Bias)}
		}
		return &Type{Kind: KindShared, Shared: kind, Params: params, Bias: bias}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown type kind %q", dt.Kind)}
	}
}

var sharedKinds = map[string]SharedKind{
	"ConvergentCount":   SharedCounter,
	"Tally":             SharedTally,
	"LastWriteWins":     SharedLastWrite,
	"Divergent":         SharedDivergent,
	"SharedSet":         SharedSet,
	"SharedMap":         SharedMap,
	"SharedSequence":    SharedSequence,
	"CollaborativeText": SharedText,
}

var binOps = map[string]BinOp{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
	"++": OpConcat,
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	"and": OpAnd, "or": OpOr,
}

func (d *decoder) expr(de *docExpr) (Expr, error) {
	if de == nil {
		return nil, nil
	}
	meta := Meta{NodeID: d.id(de.ID), SourceSpan: de.Span.span()}
	typ, err := d.typ(de.Type)
	if err != nil {
		return nil, err
	}
	switch de.Kind {
	case "int":
		return &Lit{Meta: meta, Kind: LitInt, Int: de.Int, Typ: Int}, nil
	case "float":
		return &Lit{Meta: meta, Kind: LitFloat, Float: de.Float, Typ: Float}, nil
	case "bool":
		return &Lit{Meta: meta, Kind: LitBool, Bool: de.Bool, Typ: Bool}, nil
	case "text":
		return &Lit{Meta: meta, Kind: LitText, Text: de.Text, Typ: Text}, nil
	case "nothing":
		return &Lit{Meta: meta, Kind: LitNothing, Typ: Nothing}, nil
	case "ident":
		sym := d.sym(de.Name)
		if typ == nil {
			typ = d.symbols.TypeOf(sym)
		}
		return &Ident{Meta: meta, Sym: sym, Typ: typ}, nil
	case "binary":
		op, ok := binOps[de.Op]
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("unknown operator %q", de.Op)}
		}
		l, err := d.expr(de.Left)
		if err != nil {
			return nil, err
		}
		r, err := d.expr(de.Right)
		if err != nil {
			return nil, err
		}
		return &Binary{Meta: meta, Op: op, L: l, R: r, Typ: typ}, nil
	case "unary":
		x, err := d.expr(de.X)
		if err != nil {
			return nil, err
		}
		return &Unary{Meta: meta, Neg: de.Neg, X: x, Typ: typ}, nil
	case "call":
		args, err := d.exprs(de.Args)
		if err != nil {
			return nil, err
		}
		return &CallExpr{Meta: meta, Callee: d.sym(de.Name), Args: args, Typ: typ}, nil
	case "index":
		coll, err := d.expr(de.Collection)
		if err != nil {
			return nil, err
		}
		idx, err := d.expr(de.Index)
		if err != nil {
			return nil, err
		}
		return &Index{Meta: meta, Collection: coll, Idx: idx, Typ: typ}, nil
	case "field":
		obj, err := d.expr(de.Object)
		if err != nil {
			return nil, err
		}
		return &FieldAccess{Meta: meta, Object: obj, Field: de.Field, Typ: typ}, nil
	case "list":
		elems, err := d.exprs(de.Elems)
		if err != nil {
			return nil, err
		}
		return &ListLit{Meta: meta, Elems: elems, Typ: typ}, nil
	case "new":
		inits := make([]FieldInit, 0, len(de.Inits))
		for i := range de.Inits {
			v, err := d.expr(&de.Inits[i].Value)
			if err != nil {
				return nil, err
			}
			inits = append(inits, FieldInit{Name: de.Inits[i].Name, Value: v})
		}
		return &New{Meta: meta, TypeName: d.sym(de.Name), Inits: inits, Typ: typ}, nil
	case "copy":
		v, err := d.expr(de.Value)
		if err != nil {
			return nil, err
		}
		return &Copy{Meta: meta, Value: v, Typ: typ}, nil
	case "len":
		coll, err := d.expr(de.Collection)
		if err != nil {
			return nil, err
		}
		return &Len{Meta: meta, Collection: coll, Typ: Int}, nil
	case "contains":
		coll, err := d.expr(de.Collection)
		if err != nil {
			return nil, err
		}
		v, err := d.expr(de.Value)
		if err != nil {
			return nil, err
		}
		return &Contains{Meta: meta, Collection: coll, Value: v, Typ: Bool}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown expression kind %q", de.Kind)}
	}
}

func (d *decoder) exprs(in []docExpr) ([]Expr, error) {
	out := make([]Expr, 0, len(in))
	for i := range in {
		e, err := d.expr(&in[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *decoder) stmts(in []docStmt) ([]Stmt, error) {
	out := make([]Stmt, 0, len(in))
	for i := range in {
		s, err := d.stmt(&in[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) stmt(ds *docStmt) (Stmt, error) {
	meta := Meta{NodeID: d.id(ds.ID), SourceSpan: ds.Span.span()}
	switch ds.Kind {
	case "bind":
		typ, err := d.typ(ds.Type)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		if typ == nil && val != nil {
			typ = val.Type()
		}
		sym := d.declare(ds.Name, typ, meta.SourceSpan)
		return &Bind{Meta: meta, Name: sym, Mutable: ds.Mutable, TypeHint: typ, Value: val}, nil
	case "assign":
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Assign{Meta: meta, Target: d.sym(ds.Target), Value: val}, nil
	case "set_field":
		obj, err := d.expr(ds.Object)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &SetField{Meta: meta, Object: obj, Field: ds.Field, Value: val}, nil
	case "set_index":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		idx, err := d.expr(ds.Index)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &SetIndex{Meta: meta, Collection: coll, Index: idx, Value: val}, nil
	case "push":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Push{Meta: meta, Collection: coll, Value: val}, nil
	case "pop":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		return &Pop{Meta: meta, Collection: coll, Into: d.sym(ds.Into)}, nil
	case "add":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &AddTo{Meta: meta, Collection: coll, Value: val}, nil
	case "remove":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &RemoveFrom{Meta: meta, Collection: coll, Value: val}, nil
	case "insert_at":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		idx, err := d.expr(ds.Index)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &InsertAt{Meta: meta, Collection: coll, Index: idx, Value: val}, nil
	case "remove_at":
		coll, err := d.expr(ds.Collection)
		if err != nil {
			return nil, err
		}
		idx, err := d.expr(ds.Index)
		if err != nil {
			return nil, err
		}
		return &RemoveAt{Meta: meta, Collection: coll, Index: idx}, nil
	case "increase":
		target, err := d.expr(ds.TargetX)
		if err != nil {
			return nil, err
		}
		amt, err := d.expr(ds.Amount)
		if err != nil {
			return nil, err
		}
		return &Increase{Meta: meta, Target: target, Amount: amt}, nil
	case "decrease":
		target, err := d.expr(ds.TargetX)
		if err != nil {
			return nil, err
		}
		amt, err := d.expr(ds.Amount)
		if err != nil {
			return nil, err
		}
		return &Decrease{Meta: meta, Target: target, Amount: amt}, nil
	case "resolve":
		target, err := d.expr(ds.TargetX)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Resolve{Meta: meta, Target: target, Value: val}, nil
	case "if":
		cond, err := d.expr(ds.Cond)
		if err != nil {
			return nil, err
		}
		then, err := d.stmts(ds.Then)
		if err != nil {
			return nil, err
		}
		var els []Stmt
		if ds.Else != nil {
			els, err = d.stmts(ds.Else)
			if err != nil {
				return nil, err
			}
		}
		return &If{Meta: meta, Cond: cond, Then: then, Else: els}, nil
	case "while":
		cond, err := d.expr(ds.Cond)
		if err != nil {
			return nil, err
		}
		body, err := d.stmts(ds.Body)
		if err != nil {
			return nil, err
		}
		return &While{Meta: meta, Cond: cond, Body: body}, nil
	case "for_each":
		iter, err := d.expr(ds.Iterable)
		if err != nil {
			return nil, err
		}
		var elem *Type
		if t := iter.Type(); t != nil && len(t.Params) == 1 {
			elem = t.Params[0]
		}
		sym := d.declare(ds.Var, elem, meta.SourceSpan)
		body, err := d.stmts(ds.Body)
		if err != nil {
			return nil, err
		}
		return &ForEach{Meta: meta, Var: sym, Iterable: iter, Body: body}, nil
	case "return":
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Return{Meta: meta, Value: val}, nil
	case "func":
		params := make([]Param, 0, len(ds.Params))
		sig := &Type{Kind: KindFunc}
		for i := range ds.Params {
			pt, err := d.typ(&ds.Params[i].Type)
			if err != nil {
				return nil, err
			}
			pspan := meta.SourceSpan
			if ds.Params[i].Span != nil {
				pspan = ds.Params[i].Span.span()
			}
			psym := d.declare(ds.Params[i].Name, pt, pspan)
			params = append(params, Param{Name: psym, Type: pt, Span: pspan})
			sig.Params = append(sig.Params, pt)
		}
		result, err := d.typ(ds.Result)
		if err != nil {
			return nil, err
		}
		sig.Result = result
		sym := d.declare(ds.Name, sig, meta.SourceSpan)
		body, err := d.stmts(ds.Body)
		if err != nil {
			return nil, err
		}
		return &FuncDef{Meta: meta, Name: sym, Params: params, Result: result, Body: body}, nil
	case "type":
		fields := make([]Field, 0, len(ds.Fields))
		for i := range ds.Fields {
			ft, err := d.typ(&ds.Fields[i].Type)
			if err != nil {
				return nil, err
			}
			fspan := meta.SourceSpan
			if ds.Fields[i].Span != nil {
				fspan = ds.Fields[i].Span.span()
			}
			fields = append(fields, Field{Name: ds.Fields[i].Name, Type: ft, Span: fspan})
		}
		sym := d.declare(ds.Name, StructType(ds.Name), meta.SourceSpan)
		return &TypeDef{Meta: meta, Name: sym, Fields: fields, Shared: ds.Shared}, nil
	case "expr":
		x, err := d.expr(ds.X)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Meta: meta, X: x}, nil
	case "give":
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		sym := d.declare(ds.Target, val.Type(), meta.SourceSpan)
		return &Give{Meta: meta, Value: val, Target: sym}, nil
	case "show":
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Show{Meta: meta, Value: val}, nil
	case "zone":
		sym := d.declare(ds.Name, Nothing, meta.SourceSpan)
		body, err := d.stmts(ds.Body)
		if err != nil {
			return nil, err
		}
		return &Zone{Meta: meta, Name: sym, Budget: ds.Budget, Backing: ds.Backing, Body: body}, nil
	case "mount":
		path, err := d.expr(ds.Path)
		if err != nil {
			return nil, err
		}
		return &Mount{Meta: meta, Target: d.sym(ds.Target), Path: path}, nil
	case "sync":
		topic, err := d.expr(ds.Topic)
		if err != nil {
			return nil, err
		}
		return &Sync{Meta: meta, Target: d.sym(ds.Target), Topic: topic}, nil
	case "sleep":
		dur, err := d.expr(ds.Duration)
		if err != nil {
			return nil, err
		}
		return &Sleep{Meta: meta, Duration: dur}, nil
	case "listen":
		addr, err := d.expr(ds.Addr)
		if err != nil {
			return nil, err
		}
		body, err := d.stmts(ds.Body)
		if err != nil {
			return nil, err
		}
		return &Listen{Meta: meta, Addr: addr, Body: body}, nil
	case "connect":
		addr, err := d.expr(ds.Addr)
		if err != nil {
			return nil, err
		}
		sym := d.declare(ds.Into, Nothing, meta.SourceSpan)
		return &Connect{Meta: meta, Addr: addr, Into: sym}, nil
	case "send":
		ch, err := d.expr(ds.Channel)
		if err != nil {
			return nil, err
		}
		val, err := d.expr(ds.Value)
		if err != nil {
			return nil, err
		}
		return &Send{Meta: meta, Channel: ch, Value: val}, nil
	case "receive":
		ch, err := d.expr(ds.Channel)
		if err != nil {
			return nil, err
		}
		sym := d.declare(ds.Into, nil, meta.SourceSpan)
		return &Receive{Meta: meta, Channel: ch, Into: sym}, nil
	case "launch":
		callExpr, err := d.expr(ds.Call)
		if err != nil {
			return nil, err
		}
		call, ok := callExpr.(*CallExpr)
		if !ok {
			return nil, &DecodeError{Reason: "launch requires a call"}
		}
		handle := SymbolNone
		if ds.Handle != "" {
			handle = d.declare(ds.Handle, &Type{Kind: KindTask}, meta.SourceSpan)
		}
		return &Launch{Meta: meta, Handle: handle, Call: call}, nil
	case "await":
		h, err := d.expr(ds.HandleX)
		if err != nil {
			return nil, err
		}
		return &Await{Meta: meta, Handle: h}, nil
	case "assert":
		cond, err := d.expr(ds.Cond)
		if err != nil {
			return nil, err
		}
		return &Assert{Meta: meta, Cond: cond, Assumption: ds.Assumption, Message: ds.Message}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown statement kind %q", ds.Kind)}
	}
}
