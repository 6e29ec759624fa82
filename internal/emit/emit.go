// Package emit produces Go source from fully analyzed programs in a single
// walk, consulting the analysis results for every lowering decision:
// mutability selects the binding form, effects decide which functions take
// a context and where yield checkpoints go, ownership chooses between moves
// and inserted duplicates, and the derivation table turns every shared
// mutation into a method call on its concrete replicated type.
package emit

import (
	"bytes"
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"

	"github.com/loqui-lang/loqui/internal/analysis/effect"
	"github.com/loqui-lang/loqui/internal/analysis/mutability"
	"github.com/loqui-lang/loqui/internal/analysis/ownership"
	"github.com/loqui-lang/loqui/internal/derive"
	"github.com/loqui-lang/loqui/internal/ir"
)

// Options controls the shape of the generated file.
type Options struct {
	// PackageName defaults to "main".
	PackageName string
	// RuntimeModule is the import path prefix of the runtime packages.
	// Defaults to "github.com/loqui-lang/loqui".
	RuntimeModule string
	// DebugChecks emits documented-assumption guards in addition to the
	// always-on security and refinement guards.
	DebugChecks bool
	// DefaultBias applies to set-like replicated types that declare no
	// conflict bias of their own.
	DefaultBias ir.Bias
}

// Annotations bundles the analysis results the emitter reads.
type Annotations struct {
	Mutable   map[ir.Symbol]mutability.Set
	Effects   *effect.Analysis
	Ownership *ownership.Result
	Shared    *derive.Table
}

type emitter struct {
	prog    *ir.Program
	ann     *Annotations
	opts    Options
	body    bytes.Buffer
	indent  int
	imports map[string]bool // path -> is runtime package
	types   map[string]*ir.TypeDef
	scope   ir.Symbol // enclosing function, SymbolNone at top level
	// declared tracks names bound per emitted block, innermost last, so a
	// rebinding in the same Go scope becomes assignment instead of a
	// second short declaration.
	declared []map[string]bool
}

// File emits one compilation unit as formatted Go source.
func File(prog *ir.Program, ann *Annotations, opts Options) ([]byte, error) {
	if opts.PackageName == "" {
		opts.PackageName = "main"
	}
	if opts.RuntimeModule == "" {
		opts.RuntimeModule = "github.com/loqui-lang/loqui"
	}
	e := &emitter{
		prog:    prog,
		ann:     ann,
		opts:    opts,
		imports: make(map[string]bool),
		types:   make(map[string]*ir.TypeDef),
	}
	for _, td := range prog.TypeDefs() {
		e.types[prog.Interner.Name(td.Name)] = td
	}

	for _, td := range prog.TypeDefs() {
		e.typeDef(td)
	}
	for _, fn := range prog.Functions() {
		e.funcDef(fn)
	}
	e.mainFunc()

	src := e.assemble()
	formatted, err := format.Source(src)
	if err != nil {
		return nil, fmt.Errorf("emit: generated source does not parse: %w", err)
	}
	return formatted, nil
}

func (e *emitter) assemble() []byte {
	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by loqui. DO NOT EDIT.\n\n")
	fmt.Fprintf(&out, "package %s\n\n", e.opts.PackageName)

	if len(e.imports) > 0 {
		var std, rt []string
		for path, runtime := range e.imports {
			if runtime {
				rt = append(rt, path)
			} else {
				std = append(std, path)
			}
		}
		sort.Strings(std)
		sort.Strings(rt)
		out.WriteString("import (\n")
		for _, p := range std {
			fmt.Fprintf(&out, "\t%q\n", p)
		}
		if len(std) > 0 && len(rt) > 0 {
			out.WriteString("\n")
		}
		for _, p := range rt {
			fmt.Fprintf(&out, "\t%q\n", p)
		}
		out.WriteString(")\n\n")
	}

	if e.imports[e.opts.RuntimeModule+"/crdt"] {
		out.WriteString("var replica = crdt.NewReplicaID()\n\n")
	}
	out.Write(e.body.Bytes())
	return out.Bytes()
}

func (e *emitter) use(path string) {
	e.imports[path] = false
}

func (e *emitter) useRuntime(pkg string) string {
	e.imports[e.opts.RuntimeModule+"/"+pkg] = true
	return pkg
}

func (e *emitter) w(format string, args ...interface{}) {
	e.body.WriteString(strings.Repeat("\t", e.indent))
	fmt.Fprintf(&e.body, format, args...)
	e.body.WriteString("\n")
}

func (e *emitter) name(sym ir.Symbol) string {
	return e.prog.Interner.Name(sym)
}

func (e *emitter) mutable(sym ir.Symbol) bool {
	return e.ann.Mutable[e.scope].Contains(sym)
}

// suspends reports whether any statement in the block may suspend, which
// decides whether the enclosing emitted function needs a context.
func (e *emitter) suspends(block []ir.Stmt) bool {
	found := false
	ir.WalkStmts(block, func(s ir.Stmt) {
		if e.ann.Effects.StmtSuspends(s) {
			found = true
		}
	})
	return found
}

func (e *emitter) typeDef(td *ir.TypeDef) {
	e.w("type %s struct {", e.name(td.Name))
	e.indent++
	for _, f := range td.Fields {
		typ := e.goType(f.Type)
		if f.Indirect {
			typ = "*" + typ
		}
		e.w("%s %s", f.Name, typ)
	}
	e.indent--
	e.w("}")
	e.w("")
}

func (e *emitter) funcDef(fn *ir.FuncDef) {
	prev := e.scope
	e.scope = fn.Name
	defer func() { e.scope = prev }()

	var params []string
	if e.ann.Effects.Suspending(fn.Name) {
		e.use("context")
		params = append(params, "ctx context.Context")
	}
	for _, p := range fn.Params {
		params = append(params, fmt.Sprintf("%s %s", e.name(p.Name), e.goType(p.Type)))
	}
	sig := fmt.Sprintf("func %s(%s)", e.name(fn.Name), strings.Join(params, ", "))
	if fn.Result != nil && fn.Result.Kind != ir.KindNothing {
		sig += " " + e.goType(fn.Result)
	}
	e.w("%s {", sig)
	e.indent++
	e.block(fn.Body)
	e.indent--
	e.w("}")
	e.w("")
}

func (e *emitter) mainFunc() {
	var body []ir.Stmt
	for _, s := range e.prog.Stmts {
		switch s.(type) {
		case *ir.FuncDef, *ir.TypeDef:
		default:
			body = append(body, s)
		}
	}
	if len(body) == 0 && e.opts.PackageName != "main" {
		return
	}
	e.w("func main() {")
	e.indent++
	if e.suspends(body) {
		e.use("context")
		e.w("ctx := context.Background()")
	}
	e.block(body)
	e.indent--
	e.w("}")
}

func (e *emitter) block(stmts []ir.Stmt) {
	e.declared = append(e.declared, make(map[string]bool))
	for _, s := range stmts {
		e.stmt(s)
	}
	e.declared = e.declared[:len(e.declared)-1]
}

// shortDecl records names in the innermost emitted scope and picks the
// binding form: ":=" while at least one name is new there, "=" once every
// name is a rebinding. Go rejects := with no new variables on the left,
// so a name rebound after a transfer must be assigned. Names declared in
// an outer scope still get ":=", which shadows.
func (e *emitter) shortDecl(names ...string) string {
	top := e.declared[len(e.declared)-1]
	fresh := false
	for _, n := range names {
		if !top[n] {
			fresh = true
		}
		top[n] = true
	}
	if !fresh {
		return "="
	}
	return ":="
}

func (e *emitter) stmt(s ir.Stmt) {
	switch st := s.(type) {
	case *ir.Bind:
		e.bind(st)

	case *ir.Assign:
		if d := e.descOf(&ir.Ident{Sym: st.Target}); d != nil {
			// Register assignment is a timestamped set.
			m, _ := d.Method(derive.OpSet)
			e.w("%s.%s(%s)", e.name(st.Target), m, e.expr(st.Value))
			return
		}
		e.w("%s = %s", e.name(st.Target), e.expr(st.Value))

	case *ir.SetField:
		if d := e.fieldDesc(st.Object, st.Field); d != nil {
			m, _ := d.Method(derive.OpSet)
			e.w("%s.%s.%s(%s)", e.target(st.Object), st.Field, m, e.expr(st.Value))
			return
		}
		e.w("%s.%s = %s", e.target(st.Object), st.Field, e.expr(st.Value))

	case *ir.SetIndex:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpPut)
			e.w("%s.%s(%s, %s)", e.target(st.Collection), m, e.expr(st.Index), e.expr(st.Value))
			return
		}
		e.w("%s[%s] = %s", e.target(st.Collection), e.expr(st.Index), e.expr(st.Value))

	case *ir.Push:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpAppend)
			e.w("%s.%s(%s)", e.target(st.Collection), m, e.expr(st.Value))
			return
		}
		t := e.target(st.Collection)
		e.w("%s = append(%s, %s)", t, t, e.expr(st.Value))

	case *ir.Pop:
		t := e.target(st.Collection)
		if st.Into != ir.SymbolNone {
			into := e.name(st.Into)
			e.w("%s %s %s[len(%s)-1]", into, e.shortDecl(into), t, t)
		}
		e.w("%s = %s[:len(%s)-1]", t, t, t)

	case *ir.AddTo:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpAdd)
			e.w("%s.%s(%s)", e.target(st.Collection), m, e.expr(st.Value))
			return
		}
		e.w("%s[%s] = struct{}{}", e.target(st.Collection), e.expr(st.Value))

	case *ir.RemoveFrom:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpRemove)
			e.w("%s.%s(%s)", e.target(st.Collection), m, e.expr(st.Value))
			return
		}
		e.w("delete(%s, %s)", e.target(st.Collection), e.expr(st.Value))

	case *ir.InsertAt:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpInsertAt)
			e.w("%s.%s(int(%s), %s)", e.target(st.Collection), m, e.expr(st.Index), e.expr(st.Value))
			return
		}
		e.use("slices")
		t := e.target(st.Collection)
		e.w("%s = slices.Insert(%s, int(%s), %s)", t, t, e.expr(st.Index), e.expr(st.Value))

	case *ir.RemoveAt:
		if d := e.descOf(st.Collection); d != nil {
			m, _ := d.Method(derive.OpRemoveAt)
			e.w("%s.%s(int(%s))", e.target(st.Collection), m, e.expr(st.Index))
			return
		}
		e.use("slices")
		t := e.target(st.Collection)
		e.w("%s = slices.Delete(%s, int(%s), int(%s)+1)", t, t, e.expr(st.Index), e.expr(st.Index))

	case *ir.Increase:
		if d := e.descOf(st.Target); d != nil {
			m, _ := d.Method(derive.OpIncrement)
			e.w("%s.%s(%s)", e.target(st.Target), m, e.expr(st.Amount))
			return
		}
		e.w("%s += %s", e.target(st.Target), e.expr(st.Amount))

	case *ir.Decrease:
		if d := e.descOf(st.Target); d != nil {
			m, _ := d.Method(derive.OpDecrement)
			e.w("%s.%s(%s)", e.target(st.Target), m, e.expr(st.Amount))
			return
		}
		e.w("%s -= %s", e.target(st.Target), e.expr(st.Amount))

	case *ir.Resolve:
		// Derivation rejects resolve on anything without a descriptor.
		if d := e.descOf(st.Target); d != nil {
			m, _ := d.Method(derive.OpResolve)
			e.w("%s.%s(%s)", e.target(st.Target), m, e.expr(st.Value))
		}

	case *ir.Give:
		name := e.name(st.Target)
		if e.shortDecl(name) == "=" {
			e.w("%s = %s", name, e.expr(st.Value))
		} else if e.mutable(st.Target) {
			e.w("var %s = %s", name, e.expr(st.Value))
		} else {
			e.w("%s := %s", name, e.expr(st.Value))
		}

	case *ir.Show:
		e.use("fmt")
		e.w("fmt.Println(%s)", e.expr(st.Value))

	case *ir.If:
		e.w("if %s {", e.expr(st.Cond))
		e.indent++
		e.block(st.Then)
		e.indent--
		if st.Else != nil {
			e.w("} else {")
			e.indent++
			e.block(st.Else)
			e.indent--
		}
		e.w("}")

	case *ir.While:
		e.w("for %s {", e.expr(st.Cond))
		e.indent++
		e.w("%s.Checkpoint(ctx)", e.useRuntime("task"))
		e.block(st.Body)
		e.indent--
		e.w("}")

	case *ir.ForEach:
		e.forEach(st)

	case *ir.Return:
		if st.Value == nil {
			e.w("return")
		} else {
			e.w("return %s", e.expr(st.Value))
		}

	case *ir.Zone:
		e.w("// zone %s", e.name(st.Name))
		e.w("{")
		e.indent++
		e.block(st.Body)
		e.indent--
		e.w("}")

	case *ir.Mount:
		e.w("if err := %s.Mount(%s, %s); err != nil {", e.useRuntime("journal"), e.expr(st.Path), e.name(st.Target))
		e.indent++
		e.w("panic(err)")
		e.indent--
		e.w("}")

	case *ir.Sync:
		e.w("if err := %s.Sync(ctx, %s, %s); err != nil {", e.useRuntime("gossip"), e.expr(st.Topic), e.name(st.Target))
		e.indent++
		e.w("panic(err)")
		e.indent--
		e.w("}")

	case *ir.Sleep:
		e.w("%s.Sleep(ctx, %s)", e.useRuntime("task"), e.expr(st.Duration))

	case *ir.Listen:
		e.use("context")
		e.w("%s.Serve(ctx, %s, func(ctx context.Context, conn *task.Conn) {", e.useRuntime("task"), e.expr(st.Addr))
		e.indent++
		e.block(st.Body)
		e.indent--
		e.w("})")

	case *ir.Connect:
		into := e.name(st.Into)
		e.w("%s, err %s %s.Connect(ctx, %s)", into, e.shortDecl(into, "err"), e.useRuntime("task"), e.expr(st.Addr))
		e.w("if err != nil {")
		e.indent++
		e.w("panic(err)")
		e.indent--
		e.w("}")

	case *ir.Send:
		e.w("if err := %s.Send(ctx, %s); err != nil {", e.expr(st.Channel), e.expr(st.Value))
		e.indent++
		e.w("panic(err)")
		e.indent--
		e.w("}")

	case *ir.Receive:
		into := e.name(st.Into)
		e.w("%s, err %s %s.Receive(ctx)", into, e.shortDecl(into, "err"), e.expr(st.Channel))
		e.w("if err != nil {")
		e.indent++
		e.w("panic(err)")
		e.indent--
		e.w("}")

	case *ir.Launch:
		e.use("context")
		call := e.expr(st.Call)
		if st.Handle != ir.SymbolNone {
			h := e.name(st.Handle)
			e.w("%s %s %s.Launch(ctx, func(ctx context.Context) {", h, e.shortDecl(h), e.useRuntime("task"))
		} else {
			e.w("%s.Fire(ctx, func(ctx context.Context) {", e.useRuntime("task"))
		}
		e.indent++
		e.w("%s", call)
		e.indent--
		e.w("})")

	case *ir.Await:
		e.w("%s.Wait(ctx)", e.expr(st.Handle))

	case *ir.Assert:
		if st.Assumption && !e.opts.DebugChecks {
			return
		}
		e.w("if !(%s) {", e.expr(st.Cond))
		e.indent++
		msg := st.Message
		if msg == "" {
			msg = "guard failed"
		}
		e.w("panic(%s)", strconv.Quote(msg))
		e.indent--
		e.w("}")

	case *ir.ExprStmt:
		e.w("%s", e.expr(st.X))

	case *ir.FuncDef, *ir.TypeDef:
		// Hoisted to file scope.

	default:
		e.w("// unhandled statement %T", s)
	}
}

func (e *emitter) bind(st *ir.Bind) {
	name := e.name(st.Name)
	t := st.TypeHint
	if t == nil {
		t = e.prog.Symbols.TypeOf(st.Name)
	}
	op := e.shortDecl(name)
	if d := derive.FromType(t, e.opts.DefaultBias); d != nil {
		e.w("%s %s %s", name, op, e.sharedCtor(d))
		return
	}
	if st.Value == nil {
		if op == "=" {
			e.w("%s = *new(%s)", name, e.goType(t))
		} else {
			e.w("var %s %s", name, e.goType(t))
		}
		return
	}
	if op == "=" {
		e.w("%s = %s", name, e.expr(st.Value))
		return
	}
	if e.mutable(st.Name) {
		e.w("var %s = %s", name, e.expr(st.Value))
	} else {
		e.w("%s := %s", name, e.expr(st.Value))
	}
}

func (e *emitter) forEach(st *ir.ForEach) {
	v := e.name(st.Var)
	it := st.Iterable
	if d := e.descOf(it); d != nil {
		switch d.Concrete {
		case derive.ORSet:
			e.w("for _, %s := range %s.Elements() {", v, e.target(it))
		case derive.RGA, derive.TextSequence:
			e.w("for _, %s := range %s.Slice() {", v, e.target(it))
		default:
			e.w("for _, %s := range %s.Slice() {", v, e.target(it))
		}
	} else if t := e.exprType(it); t != nil && (t.Kind == ir.KindSet || t.Kind == ir.KindMap) {
		e.w("for %s := range %s {", v, e.expr(it))
	} else {
		e.w("for _, %s := range %s {", v, e.expr(it))
	}
	e.indent++
	e.w("%s.Checkpoint(ctx)", e.useRuntime("task"))
	e.block(st.Body)
	e.indent--
	e.w("}")
}

// expr renders an expression in read position: shared counters and
// registers collapse to their current value.
func (e *emitter) expr(x ir.Expr) string {
	switch v := x.(type) {
	case *ir.Lit:
		return e.lit(v)
	case *ir.Ident:
		if d := e.ann.Shared.Of(v.Sym); d != nil {
			if read := sharedRead(d); read != "" {
				return e.name(v.Sym) + "." + read + "()"
			}
		}
		return e.identUse(v)
	case *ir.Binary:
		return fmt.Sprintf("(%s %s %s)", e.expr(v.L), binOp(v.Op), e.expr(v.R))
	case *ir.Unary:
		if v.Neg {
			return fmt.Sprintf("(-%s)", e.expr(v.X))
		}
		return fmt.Sprintf("(!%s)", e.expr(v.X))
	case *ir.CallExpr:
		args := make([]string, 0, len(v.Args)+1)
		if e.ann.Effects.Suspending(v.Callee) {
			args = append(args, "ctx")
		}
		for _, a := range v.Args {
			args = append(args, e.expr(a))
		}
		return fmt.Sprintf("%s(%s)", e.name(v.Callee), strings.Join(args, ", "))
	case *ir.Index:
		if d := e.descOf(v.Collection); d != nil {
			if d.Concrete == derive.ORMap {
				return fmt.Sprintf("%s.At(%s)", e.target(v.Collection), e.expr(v.Idx))
			}
			return fmt.Sprintf("%s.Get(int(%s))", e.target(v.Collection), e.expr(v.Idx))
		}
		return fmt.Sprintf("%s[%s]", e.expr(v.Collection), e.expr(v.Idx))
	case *ir.FieldAccess:
		if d := e.fieldDesc(v.Object, v.Field); d != nil {
			if read := sharedRead(d); read != "" {
				return fmt.Sprintf("%s.%s.%s()", e.target(v.Object), v.Field, read)
			}
		}
		return fmt.Sprintf("%s.%s", e.expr(v.Object), v.Field)
	case *ir.ListLit:
		elems := make([]string, len(v.Elems))
		for i, el := range v.Elems {
			elems[i] = e.expr(el)
		}
		lt := v.Typ
		if lt == nil {
			lt = ir.SeqOf(nil)
		}
		return fmt.Sprintf("%s{%s}", e.goType(lt), strings.Join(elems, ", "))
	case *ir.New:
		return e.newExpr(v)
	case *ir.Copy:
		return e.copyExpr(v)
	case *ir.Len:
		if d := e.descOf(v.Collection); d != nil {
			return fmt.Sprintf("int64(%s.Len())", e.target(v.Collection))
		}
		return fmt.Sprintf("int64(len(%s))", e.expr(v.Collection))
	case *ir.Contains:
		if d := e.descOf(v.Collection); d != nil {
			return fmt.Sprintf("%s.Contains(%s)", e.target(v.Collection), e.expr(v.Value))
		}
		if t := e.exprType(v.Collection); t != nil && t.Kind == ir.KindSeq {
			e.use("slices")
			return fmt.Sprintf("slices.Contains(%s, %s)", e.expr(v.Collection), e.expr(v.Value))
		}
		return fmt.Sprintf("func() bool { _, ok := %s[%s]; return ok }()", e.expr(v.Collection), e.expr(v.Value))
	}
	return "/* unhandled expr */"
}

// target renders an expression as a mutation target, without read
// collapsing.
func (e *emitter) target(x ir.Expr) string {
	switch v := x.(type) {
	case *ir.Ident:
		return e.name(v.Sym)
	case *ir.FieldAccess:
		return fmt.Sprintf("%s.%s", e.target(v.Object), v.Field)
	case *ir.Index:
		if d := e.descOf(v.Collection); d != nil && d.Concrete == derive.ORMap {
			// Mutating through a map index reaches the nested replica.
			return fmt.Sprintf("%s.At(%s)", e.target(v.Collection), e.expr(v.Idx))
		}
		return fmt.Sprintf("%s[%s]", e.target(v.Collection), e.expr(v.Idx))
	}
	return e.expr(x)
}

// identUse applies the ownership classification: duplicated use-sites get
// a fresh copy so the receiver never aliases the source.
func (e *emitter) identUse(v *ir.Ident) string {
	name := e.name(v.Sym)
	if e.ann.Ownership != nil && e.ann.Ownership.ClassOf(v.ID()) == ownership.Duplicate {
		return e.cloneOf(name, e.exprType(v))
	}
	return name
}

func (e *emitter) cloneOf(name string, t *ir.Type) string {
	if t == nil {
		return name
	}
	switch t.Kind {
	case ir.KindSeq:
		e.use("slices")
		return fmt.Sprintf("slices.Clone(%s)", name)
	case ir.KindSet, ir.KindMap:
		e.use("maps")
		return fmt.Sprintf("maps.Clone(%s)", name)
	default:
		// Aggregates have value semantics in generated code.
		return name
	}
}

func (e *emitter) copyExpr(v *ir.Copy) string {
	inner := e.expr(v.Value)
	t := v.Typ
	if t == nil {
		t = e.exprType(v.Value)
	}
	if t == nil {
		return inner
	}
	switch t.Kind {
	case ir.KindSeq:
		e.use("slices")
		return fmt.Sprintf("slices.Clone(%s)", inner)
	case ir.KindSet, ir.KindMap:
		e.use("maps")
		return fmt.Sprintf("maps.Clone(%s)", inner)
	default:
		return inner
	}
}

func (e *emitter) newExpr(v *ir.New) string {
	typeName := e.name(v.TypeName)
	inits := make(map[string]string, len(v.Inits))
	initExprs := make(map[string]ir.Expr, len(v.Inits))
	for _, init := range v.Inits {
		inits[init.Name] = e.expr(init.Value)
		initExprs[init.Name] = init.Value
	}
	var fields []string
	if td := e.types[typeName]; td != nil {
		for _, f := range td.Fields {
			if val, ok := inits[f.Name]; ok {
				if f.Indirect {
					val = e.addrOf(val, initExprs[f.Name], f.Type)
				}
				fields = append(fields, fmt.Sprintf("%s: %s", f.Name, val))
				continue
			}
			// Shared fields start as live replicas, never nil.
			if d := derive.FromType(f.Type, e.opts.DefaultBias); d != nil {
				fields = append(fields, fmt.Sprintf("%s: %s", f.Name, e.sharedCtor(d)))
			}
		}
	} else {
		for _, init := range v.Inits {
			fields = append(fields, fmt.Sprintf("%s: %s", init.Name, inits[init.Name]))
		}
	}
	return fmt.Sprintf("%s{%s}", typeName, strings.Join(fields, ", "))
}

// addrOf materializes a pointer to an initializer for a field carrying
// heap indirection. Composite literals and identifiers are addressable as
// written; anything else goes through a temporary.
func (e *emitter) addrOf(val string, init ir.Expr, typ *ir.Type) string {
	switch init.(type) {
	case *ir.New, *ir.Ident:
		return "&" + val
	}
	return fmt.Sprintf("func() *%s { v := %s; return &v }()", e.goType(typ), val)
}

func (e *emitter) lit(v *ir.Lit) string {
	switch v.Kind {
	case ir.LitInt:
		return strconv.FormatInt(v.Int, 10)
	case ir.LitFloat:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case ir.LitBool:
		return strconv.FormatBool(v.Bool)
	case ir.LitText:
		return strconv.Quote(v.Text)
	default:
		return "struct{}{}"
	}
}

func binOp(op ir.BinOp) string {
	switch op {
	case ir.OpAdd, ir.OpConcat:
		return "+"
	case ir.OpSub:
		return "-"
	case ir.OpMul:
		return "*"
	case ir.OpDiv:
		return "/"
	case ir.OpMod:
		return "%"
	case ir.OpEq:
		return "=="
	case ir.OpNe:
		return "!="
	case ir.OpLt:
		return "<"
	case ir.OpLe:
		return "<="
	case ir.OpGt:
		return ">"
	case ir.OpGe:
		return ">="
	case ir.OpAnd:
		return "&&"
	case ir.OpOr:
		return "||"
	}
	return "?"
}

// sharedRead names the value accessor for scalar replicated types; empty
// for collection types, which are read through Len/Contains/Index.
func sharedRead(d *derive.Descriptor) string {
	switch d.Concrete {
	case derive.GCounter, derive.PNCounter:
		return "Value"
	case derive.LWWRegister:
		return "Get"
	case derive.MVRegister:
		return "Values"
	case derive.TextSequence:
		return "String"
	}
	return ""
}

func (e *emitter) sharedCtor(d *derive.Descriptor) string {
	pkg := e.useRuntime("crdt")
	switch d.Concrete {
	case derive.GCounter:
		return pkg + ".NewGCounter(replica)"
	case derive.PNCounter:
		return pkg + ".NewPNCounter(replica)"
	case derive.LWWRegister:
		return fmt.Sprintf("%s.NewLWWRegister[%s](replica)", pkg, e.goType(d.Elem))
	case derive.MVRegister:
		return fmt.Sprintf("%s.NewMVRegister[%s](replica)", pkg, e.goType(d.Elem))
	case derive.ORSet:
		return fmt.Sprintf("%s.NewORSet[%s](replica, %s)", pkg, e.goType(d.Elem), e.biasExpr(d.Bias))
	case derive.ORMap:
		factory := "nil"
		if d.Value != nil {
			factory = fmt.Sprintf("func() %s { return %s }", e.sharedGoType(d.Value), e.sharedCtor(d.Value))
		}
		return fmt.Sprintf("%s.NewORMap[%s, %s](replica, %s, %s)",
			pkg, e.goType(d.Key), e.goType(d.Elem), e.biasExpr(d.Bias), factory)
	case derive.RGA:
		return fmt.Sprintf("%s.NewRGA[%s](replica)", pkg, e.goType(d.Elem))
	case derive.TextSequence:
		return pkg + ".NewText(replica)"
	}
	return pkg + ".Unknown{}"
}

func (e *emitter) biasExpr(b ir.Bias) string {
	if b == ir.BiasRemoveWins {
		return "crdt.RemoveWins"
	}
	return "crdt.AddWins"
}

func (e *emitter) goType(t *ir.Type) string {
	if t == nil {
		return "any"
	}
	switch t.Kind {
	case ir.KindInt:
		return "int64"
	case ir.KindFloat:
		return "float64"
	case ir.KindBool:
		return "bool"
	case ir.KindText:
		return "string"
	case ir.KindSeq:
		return "[]" + e.goType(elem(t, 0))
	case ir.KindSet:
		return fmt.Sprintf("map[%s]struct{}", e.goType(elem(t, 0)))
	case ir.KindMap:
		return fmt.Sprintf("map[%s]%s", e.goType(elem(t, 0)), e.goType(elem(t, 1)))
	case ir.KindOption:
		return "*" + e.goType(elem(t, 0))
	case ir.KindStruct, ir.KindEnum:
		return t.Name
	case ir.KindTask:
		return "*" + e.useRuntime("task") + ".Handle"
	case ir.KindShared:
		return e.sharedGoType(derive.FromType(t, e.opts.DefaultBias))
	default:
		return "any"
	}
}

func (e *emitter) sharedGoType(d *derive.Descriptor) string {
	pkg := e.useRuntime("crdt")
	switch d.Concrete {
	case derive.GCounter:
		return "*" + pkg + ".GCounter"
	case derive.PNCounter:
		return "*" + pkg + ".PNCounter"
	case derive.LWWRegister:
		return fmt.Sprintf("*%s.LWWRegister[%s]", pkg, e.goType(d.Elem))
	case derive.MVRegister:
		return fmt.Sprintf("*%s.MVRegister[%s]", pkg, e.goType(d.Elem))
	case derive.ORSet:
		return fmt.Sprintf("*%s.ORSet[%s]", pkg, e.goType(d.Elem))
	case derive.ORMap:
		return fmt.Sprintf("*%s.ORMap[%s, %s]", pkg, e.goType(d.Key), e.goType(d.Elem))
	case derive.RGA:
		return fmt.Sprintf("*%s.RGA[%s]", pkg, e.goType(d.Elem))
	case derive.TextSequence:
		return "*" + pkg + ".Text"
	}
	return "any"
}

func elem(t *ir.Type, i int) *ir.Type {
	if i < len(t.Params) {
		return t.Params[i]
	}
	return nil
}

// descOf resolves the shared descriptor of a mutation target or read:
// a shared binding, a shared field, or a shared map value behind an index.
func (e *emitter) descOf(x ir.Expr) *derive.Descriptor {
	if e.ann.Shared == nil {
		return nil
	}
	switch v := x.(type) {
	case *ir.Ident:
		return e.ann.Shared.Of(v.Sym)
	case *ir.FieldAccess:
		return e.fieldDesc(v.Object, v.Field)
	case *ir.Index:
		if outer := e.descOf(v.Collection); outer != nil {
			return outer.Value
		}
	}
	return nil
}

func (e *emitter) fieldDesc(object ir.Expr, field string) *derive.Descriptor {
	t := e.exprType(object)
	if t == nil || t.Kind != ir.KindStruct {
		return nil
	}
	return e.ann.Shared.Field(t.Name, field)
}

func (e *emitter) exprType(x ir.Expr) *ir.Type {
	switch v := x.(type) {
	case *ir.Lit:
		return v.Typ
	case *ir.Ident:
		if t := e.prog.Symbols.TypeOf(v.Sym); t != nil {
			return t
		}
		return v.Typ
	case *ir.Binary:
		return v.Typ
	case *ir.Unary:
		return v.Typ
	case *ir.CallExpr:
		return v.Typ
	case *ir.Index:
		return v.Typ
	case *ir.FieldAccess:
		return v.Typ
	case *ir.ListLit:
		return v.Typ
	case *ir.New:
		return v.Typ
	case *ir.Copy:
		return v.Typ
	case *ir.Len:
		return v.Typ
	case *ir.Contains:
		return v.Typ
	}
	return nil
}
