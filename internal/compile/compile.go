// Package compile drives one unit through the pipeline: decode the IR
// document, run the static analyses, and emit Go source. Any error-level
// diagnostic fails the whole unit before emission.
package compile

import (
	"fmt"

	"github.com/loqui-lang/loqui/internal/analysis/effect"
	"github.com/loqui-lang/loqui/internal/analysis/mutability"
	"github.com/loqui-lang/loqui/internal/analysis/ownership"
	"github.com/loqui-lang/loqui/internal/analysis/zone"
	"github.com/loqui-lang/loqui/internal/derive"
	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/emit"
	"github.com/loqui-lang/loqui/internal/ir"
)

// Options configures a compilation.
type Options struct {
	// PackageName of the emitted file; defaults to "main".
	PackageName string
	// RuntimeModule is the import path prefix for the runtime packages.
	RuntimeModule string
	// DebugChecks also emits documented-assumption guards.
	DebugChecks bool
	// DefaultBias applies to set-like replicated types that declare no
	// conflict bias; the zero value resolves to add-wins.
	DefaultBias ir.Bias
}

// Context is the per-unit compilation state handed through the pipeline.
// Everything a pass consults lives here; there are no package globals.
type Context struct {
	Opts Options
	Bag  *diagnostic.Bag
}

// New returns a fresh compilation context.
func New(opts Options) *Context {
	return &Context{Opts: opts, Bag: diagnostic.NewBag()}
}

// Result is the outcome of compiling one unit.
type Result struct {
	// Unit is the unit name from the document.
	Unit string
	// Code is the formatted Go source; nil when the unit failed.
	Code []byte
	// Diagnostics are all collected diagnostics, position-sorted.
	Diagnostics []diagnostic.Diagnostic
}

// UnitError reports a unit rejected by static analysis. The diagnostics
// carry the individual findings.
type UnitError struct {
	Unit        string
	Diagnostics []diagnostic.Diagnostic
}

func (e *UnitError) Error() string {
	n := 0
	for _, d := range e.Diagnostics {
		if d.Level == diagnostic.LevelError {
			n++
		}
	}
	return fmt.Sprintf("unit %s: %d error(s)", e.Unit, n)
}

// Compile runs the whole pipeline over one IR document.
func (c *Context) Compile(src []byte) (*Result, error) {
	prog, err := ir.DecodeDocument(src)
	if err != nil {
		return nil, err
	}
	markIndirect(prog)

	ann := &emit.Annotations{
		Mutable: mutability.AnalyzeProgram(prog),
		Effects: effect.Analyze(prog),
	}
	ann.Ownership = ownership.Analyze(prog, c.Bag)
	zone.Analyze(prog, ann.Ownership, c.Bag)
	ann.Shared = derive.Derive(prog, c.Bag, c.Opts.DefaultBias)

	res := &Result{Unit: prog.Unit, Diagnostics: c.Bag.All()}
	if c.Bag.HasErrors() {
		return res, &UnitError{Unit: prog.Unit, Diagnostics: res.Diagnostics}
	}

	code, err := emit.File(prog, ann, emit.Options{
		PackageName:   c.Opts.PackageName,
		RuntimeModule: c.Opts.RuntimeModule,
		DebugChecks:   c.Opts.DebugChecks,
		DefaultBias:   c.Opts.DefaultBias,
	})
	if err != nil {
		return res, err
	}
	res.Code = code
	return res, nil
}

// markIndirect finds aggregate fields whose type cycles back to the
// defining aggregate by value and marks them for heap indirection.
// Sequences, maps, and options already indirect through their containers.
func markIndirect(prog *ir.Program) {
	tds := prog.TypeDefs()
	defs := make(map[string]*ir.TypeDef, len(tds))
	for _, td := range tds {
		defs[prog.Interner.Name(td.Name)] = td
	}
	// Declaration order: marking a field breaks its cycle for the types
	// after it, so mutually recursive aggregates get exactly one
	// indirection per cycle.
	for _, td := range tds {
		name := prog.Interner.Name(td.Name)
		for i, f := range td.Fields {
			if cycles(f.Type, name, defs, make(map[string]bool)) {
				td.Fields[i].Indirect = true
			}
		}
	}
}

func cycles(t *ir.Type, target string, defs map[string]*ir.TypeDef, seen map[string]bool) bool {
	if t == nil || t.Kind != ir.KindStruct {
		return false
	}
	if t.Name == target {
		return true
	}
	if seen[t.Name] {
		return false
	}
	seen[t.Name] = true
	td := defs[t.Name]
	if td == nil {
		return false
	}
	for _, f := range td.Fields {
		if !f.Indirect && cycles(f.Type, target, defs, seen) {
			return true
		}
	}
	return false
}
