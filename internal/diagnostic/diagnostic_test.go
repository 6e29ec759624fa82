package diagnostic

import (
	"strings"
	"testing"

	"github.com/loqui-lang/loqui/internal/position"
)

func span(line, col int) position.Span {
	return position.Span{
		Start: position.Position{Filename: "unit.lq", Line: line, Column: col, Offset: line*100 + col},
		End:   position.Position{Filename: "unit.lq", Line: line, Column: col + 1, Offset: line*100 + col + 1},
	}
}

func TestBuilderRelatedSites(t *testing.T) {
	d := New().
		Category(CategoryOwnership).
		Code("L0301").
		Message("use of previously transferred value 'basket'").
		Span(span(7, 5)).
		Related(span(4, 5), "value transferred here").
		Build()

	if d.Level != LevelError {
		t.Fatalf("default level = %v, want error", d.Level)
	}
	if len(d.Related) != 1 {
		t.Fatalf("related sites = %d, want 1", len(d.Related))
	}

	out := d.Format()
	for _, want := range []string{"L0301", "unit.lq:7:5", "unit.lq:4:5", "transferred here"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}
}

func TestBagOrdering(t *testing.T) {
	bag := NewBag()
	bag.Add(New().Code("L2").Message("second").Span(span(9, 1)).Build())
	bag.Add(New().Code("L1").Message("first").Span(span(2, 1)).Build())
	bag.Add(New().Warning().Code("L3").Message("warn").Span(span(5, 1)).Build())

	all := bag.All()
	if all[0].Code != "L1" || all[1].Code != "L3" || all[2].Code != "L2" {
		t.Errorf("diagnostics not sorted by position: %v %v %v", all[0].Code, all[1].Code, all[2].Code)
	}

	if !bag.HasErrors() {
		t.Error("bag should report errors")
	}
	if got := len(bag.Errors()); got != 2 {
		t.Errorf("Errors() = %d, want 2", got)
	}
}

func TestBagMerge(t *testing.T) {
	a := NewBag()
	a.Add(New().Code("L1").Message("a").Span(span(1, 1)).Build())
	b := NewBag()
	b.Add(New().Code("L2").Message("b").Span(span(2, 1)).Build())

	a.Merge(b)
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}
}
