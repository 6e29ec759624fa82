package compile

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqui-lang/loqui/internal/diagnostic"
	"github.com/loqui-lang/loqui/internal/ir"
)

const counterDoc = `{
	"schema_version": "1.2.0",
	"unit": "demo",
	"statements": [
		{"kind": "bind", "name": "hits",
		 "type": {"kind": "shared", "name": "ConvergentCount"}},
		{"kind": "increase",
		 "target_expr": {"kind": "ident", "name": "hits"},
		 "amount": {"kind": "int", "int": 10}},
		{"kind": "show",
		 "value": {"kind": "ident", "name": "hits"}}
	]
}`

func TestCompileCounterUnit(t *testing.T) {
	res, err := New(Options{}).Compile([]byte(counterDoc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.Unit != "demo" {
		t.Errorf("unit = %q, want demo", res.Unit)
	}
	code := string(res.Code)
	for _, want := range []string{
		"hits := crdt.NewGCounter(replica)",
		"hits.Increment(10)",
		"fmt.Println(hits.Value())",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q:\n%s", want, code)
		}
	}
}

func TestUnsupportedSchemaVersionFailsUnit(t *testing.T) {
	doc := `{"schema_version": "2.0.0", "unit": "demo", "statements": []}`
	_, err := New(Options{}).Compile([]byte(doc))
	var de *ir.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if !strings.Contains(de.Error(), "schema_version") {
		t.Errorf("err = %v, want schema_version mention", de)
	}
}

func TestMissingSchemaVersionFailsUnit(t *testing.T) {
	doc := `{"unit": "demo", "statements": []}`
	if _, err := New(Options{}).Compile([]byte(doc)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOwnershipErrorFailsWholeUnit(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "bind", "name": "xs",
			 "type": {"kind": "seq", "params": [{"kind": "int"}]},
			 "value": {"kind": "list", "elems": [{"kind": "int", "int": 1}],
			           "type": {"kind": "seq", "params": [{"kind": "int"}]}}},
			{"kind": "bind", "name": "ys",
			 "value": {"kind": "ident", "name": "xs"}},
			{"kind": "show",
			 "value": {"kind": "ident", "name": "xs"}}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	var ue *UnitError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnitError", err)
	}
	if ue.Unit != "demo" {
		t.Errorf("unit = %q, want demo", ue.Unit)
	}
	if res.Code != nil {
		t.Error("failed unit must not emit code")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "L0301" && d.Level == diagnostic.LevelError {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %+v, want L0301", res.Diagnostics)
	}
}

func TestSelfReferentialAggregateGetsIndirection(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "type", "name": "Node", "fields": [
				{"name": "Value", "type": {"kind": "int"}},
				{"name": "Next", "type": {"kind": "struct", "name": "Node"}}
			]}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	code := string(res.Code)
	if !strings.Contains(code, "Next  *Node") && !strings.Contains(code, "Next *Node") {
		t.Errorf("self-referential field not indirected:\n%s", code)
	}
	if !strings.Contains(code, "Value int64") {
		t.Errorf("plain field changed shape:\n%s", code)
	}
}

func TestMutualRecursionGetsIndirection(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "type", "name": "A", "fields": [
				{"name": "B", "type": {"kind": "struct", "name": "B"}}
			]},
			{"kind": "type", "name": "B", "fields": [
				{"name": "A", "type": {"kind": "struct", "name": "A"}}
			]}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	code := string(res.Code)
	if !strings.Contains(code, "B *B") {
		t.Errorf("field A.B not indirected:\n%s", code)
	}
}

func TestContainerFieldNeedsNoIndirection(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "type", "name": "Tree", "fields": [
				{"name": "Kids", "type": {"kind": "seq",
				 "params": [{"kind": "struct", "name": "Tree"}]}}
			]}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(string(res.Code), "Kids []Tree") {
		t.Errorf("sequence field should stay a slice:\n%s", string(res.Code))
	}
}

func TestResolveOnPlainBindingFailsUnit(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "bind", "name": "n",
			 "value": {"kind": "int", "int": 1}},
			{"kind": "resolve",
			 "target_expr": {"kind": "ident", "name": "n"},
			 "value": {"kind": "int", "int": 2}}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	var ue *UnitError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnitError", err)
	}
	if res.Code != nil {
		t.Error("failed unit must not emit code")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == "L0503" && d.Level == diagnostic.LevelError {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %+v, want L0503", res.Diagnostics)
	}
}

func TestRebindingAfterTransferEmitsAssignment(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "bind", "name": "xs",
			 "type": {"kind": "seq", "params": [{"kind": "int"}]},
			 "value": {"kind": "list", "elems": [{"kind": "int", "int": 1}],
			           "type": {"kind": "seq", "params": [{"kind": "int"}]}}},
			{"kind": "give", "target": "ys",
			 "value": {"kind": "ident", "name": "xs"}},
			{"kind": "bind", "name": "xs",
			 "type": {"kind": "seq", "params": [{"kind": "int"}]},
			 "value": {"kind": "list", "elems": [{"kind": "int", "int": 2}],
			           "type": {"kind": "seq", "params": [{"kind": "int"}]}}},
			{"kind": "show",
			 "value": {"kind": "ident", "name": "ys"}}
		]
	}`
	res, err := New(Options{}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	code := string(res.Code)
	if !strings.Contains(code, "xs := []int64{1}") {
		t.Errorf("first binding should declare:\n%s", code)
	}
	if !strings.Contains(code, "xs = []int64{2}") {
		t.Errorf("rebinding in the same scope should assign:\n%s", code)
	}
	if n := strings.Count(code, "xs :="); n != 1 {
		t.Errorf("got %d short declarations of xs, want 1:\n%s", n, code)
	}
}

func TestDefaultBiasReachesSetConstructor(t *testing.T) {
	doc := `{
		"schema_version": "1.0.0",
		"unit": "demo",
		"statements": [
			{"kind": "bind", "name": "tags",
			 "type": {"kind": "shared", "name": "SharedSet",
			          "params": [{"kind": "text"}]}}
		]
	}`
	res, err := New(Options{DefaultBias: ir.BiasRemoveWins}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(string(res.Code), "crdt.NewORSet[string](replica, crdt.RemoveWins)") {
		t.Errorf("configured bias missing from constructor:\n%s", string(res.Code))
	}

	res, err = New(Options{}).Compile([]byte(doc))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(string(res.Code), "crdt.NewORSet[string](replica, crdt.AddWins)") {
		t.Errorf("unconfigured bias should stay add-wins:\n%s", string(res.Code))
	}
}
