// Package diagnostic provides error reporting for the Loqui compiler
// back end. Analysis passes produce diagnostics with source spans and,
// where a violation involves two sites (a transfer and a later use, a
// zone allocation and an escape), related information pointing at both.
package diagnostic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loqui-lang/loqui/internal/position"
)

// Level is the severity of a diagnostic.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelHint
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Category groups diagnostics by the pass that produced them.
type Category int

const (
	CategorySchema Category = iota
	CategoryType
	CategoryOwnership
	CategoryZone
	CategoryShared
	CategoryEffect
	CategoryEmit
)

func (c Category) String() string {
	switch c {
	case CategorySchema:
		return "schema"
	case CategoryType:
		return "type"
	case CategoryOwnership:
		return "ownership"
	case CategoryZone:
		return "zone"
	case CategoryShared:
		return "shared"
	case CategoryEffect:
		return "effect"
	case CategoryEmit:
		return "emit"
	default:
		return "unknown"
	}
}

// RelatedInformation points at an additional source site involved in a
// diagnostic, such as the transfer site of a use-after-transfer error.
type RelatedInformation struct {
	Message string
	Span    position.Span
}

// Diagnostic is a single message with a primary span.
type Diagnostic struct {
	Code     string
	Message  string
	Related  []RelatedInformation
	Span     position.Span
	Level    Level
	Category Category
}

// Format renders the diagnostic in the compiler's standard single-error
// layout, one related site per indented line.
func (d *Diagnostic) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s[%s]: %s", d.Level, d.Code, d.Message)
	if d.Span.IsValid() {
		fmt.Fprintf(&sb, "\n  --> %s", d.Span)
	}
	for _, rel := range d.Related {
		fmt.Fprintf(&sb, "\n  note: %s\n  --> %s", rel.Message, rel.Span)
	}
	return sb.String()
}

// Builder constructs diagnostics with a fluent API.
type Builder struct {
	d *Diagnostic
}

// New creates a diagnostic builder; diagnostics default to errors.
func New() *Builder {
	return &Builder{d: &Diagnostic{Level: LevelError}}
}

func (b *Builder) Warning() *Builder {
	b.d.Level = LevelWarning
	return b
}

func (b *Builder) Hint() *Builder {
	b.d.Level = LevelHint
	return b
}

func (b *Builder) Category(c Category) *Builder {
	b.d.Category = c
	return b
}

func (b *Builder) Code(code string) *Builder {
	b.d.Code = code
	return b
}

func (b *Builder) Message(format string, args ...interface{}) *Builder {
	b.d.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Span(span position.Span) *Builder {
	b.d.Span = span
	return b
}

func (b *Builder) Related(span position.Span, format string, args ...interface{}) *Builder {
	b.d.Related = append(b.d.Related, RelatedInformation{
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	})
	return b
}

func (b *Builder) Build() *Diagnostic {
	return b.d
}

// Bag collects diagnostics for one compilation unit. Passes append to it;
// the pipeline checks HasErrors before emission and fails the whole unit
// if any error was recorded.
type Bag struct {
	diagnostics []Diagnostic
}

// NewBag creates an empty diagnostic collection.
func NewBag() *Bag {
	return &Bag{diagnostics: make([]Diagnostic, 0)}
}

// Add records a diagnostic.
func (bag *Bag) Add(d *Diagnostic) {
	bag.diagnostics = append(bag.diagnostics, *d)
}

// Merge appends every diagnostic from other.
func (bag *Bag) Merge(other *Bag) {
	bag.diagnostics = append(bag.diagnostics, other.diagnostics...)
}

// All returns the collected diagnostics sorted by source position.
func (bag *Bag) All() []Diagnostic {
	out := make([]Diagnostic, len(bag.diagnostics))
	copy(out, bag.diagnostics)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.Start.Before(out[j].Span.Start)
	})
	return out
}

// Errors returns only error-level diagnostics.
func (bag *Bag) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range bag.diagnostics {
		if d.Level == LevelError {
			errs = append(errs, d)
		}
	}
	return errs
}

// HasErrors reports whether any error-level diagnostic was recorded.
func (bag *Bag) HasErrors() bool {
	for _, d := range bag.diagnostics {
		if d.Level == LevelError {
			return true
		}
	}
	return false
}

// Len returns the number of collected diagnostics.
func (bag *Bag) Len() int {
	return len(bag.diagnostics)
}

// Format renders all diagnostics in position order.
func (bag *Bag) Format() string {
	all := bag.All()
	parts := make([]string, len(all))
	for i := range all {
		parts[i] = all[i].Format()
	}
	return strings.Join(parts, "\n\n")
}
