package ir

import (
	"strings"
	"testing"
)

const minimalDoc = `{
  "schema_version": "1.2.0",
  "unit": "greeter",
  "statements": [
    {
      "kind": "bind", "id": 1, "name": "count", "mutable": true,
      "span": {"file": "greeter.lq", "line": 1, "col": 1, "off": 0, "eline": 1, "ecol": 20, "eoff": 19},
      "type": {"kind": "int"},
      "value": {"kind": "int", "id": 2, "int": 0,
        "span": {"file": "greeter.lq", "line": 1, "col": 18, "off": 17, "eline": 1, "ecol": 19, "eoff": 18}}
    },
    {
      "kind": "while", "id": 3,
      "span": {"file": "greeter.lq", "line": 2, "col": 1, "off": 20, "eline": 4, "ecol": 1, "eoff": 60},
      "cond": {"kind": "binary", "id": 4, "op": "<",
        "span": {"file": "greeter.lq", "line": 2, "col": 7, "off": 26, "eline": 2, "ecol": 16, "eoff": 35},
        "left": {"kind": "ident", "id": 5, "name": "count",
          "span": {"file": "greeter.lq", "line": 2, "col": 7, "off": 26, "eline": 2, "ecol": 12, "eoff": 31}},
        "right": {"kind": "int", "id": 6, "int": 3,
          "span": {"file": "greeter.lq", "line": 2, "col": 15, "off": 34, "eline": 2, "ecol": 16, "eoff": 35}}},
      "body": [
        {"kind": "assign", "id": 7, "target": "count",
          "span": {"file": "greeter.lq", "line": 3, "col": 3, "off": 40, "eline": 3, "ecol": 20, "eoff": 57},
          "value": {"kind": "binary", "id": 8, "op": "+",
            "span": {"file": "greeter.lq", "line": 3, "col": 12, "off": 49, "eline": 3, "ecol": 20, "eoff": 57},
            "left": {"kind": "ident", "id": 9, "name": "count",
              "span": {"file": "greeter.lq", "line": 3, "col": 12, "off": 49, "eline": 3, "ecol": 17, "eoff": 54}},
            "right": {"kind": "int", "id": 10, "int": 1,
              "span": {"file": "greeter.lq", "line": 3, "col": 19, "off": 56, "eline": 3, "ecol": 20, "eoff": 57}}}}
      ]
    }
  ]
}`

func TestDecodeDocument(t *testing.T) {
	prog, err := DecodeDocument([]byte(minimalDoc))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if prog.Unit != "greeter" {
		t.Errorf("unit = %q, want greeter", prog.Unit)
	}
	if len(prog.Stmts) != 2 {
		t.Fatalf("statements = %d, want 2", len(prog.Stmts))
	}

	bind, ok := prog.Stmts[0].(*Bind)
	if !ok {
		t.Fatalf("first statement is %T, want *Bind", prog.Stmts[0])
	}
	if !bind.Mutable {
		t.Error("bind should be mutable")
	}
	if got := prog.Symbols.TypeOf(bind.Name); got == nil || got.Kind != KindInt {
		t.Errorf("declared type = %v, want Int", got)
	}

	loop, ok := prog.Stmts[1].(*While)
	if !ok {
		t.Fatalf("second statement is %T, want *While", prog.Stmts[1])
	}
	if len(loop.Body) != 1 {
		t.Fatalf("loop body = %d statements, want 1", len(loop.Body))
	}
	if _, ok := loop.Body[0].(*Assign); !ok {
		t.Errorf("loop body statement is %T, want *Assign", loop.Body[0])
	}
}

func TestDecodeDocumentVersionGate(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr string
	}{
		{"supported", "1.0.0", ""},
		{"supported minor", "1.7.3", ""},
		{"next major rejected", "2.0.0", "outside supported range"},
		{"garbage rejected", "one-dot-oh", "invalid schema_version"},
		{"missing rejected", "", "missing schema_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"schema_version": "` + tt.version + `", "unit": "u", "statements": []}`
			if tt.version == "" {
				doc = `{"unit": "u", "statements": []}`
			}
			_, err := DecodeDocument([]byte(doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeSharedTypes(t *testing.T) {
	doc := `{
	  "schema_version": "1.0.0", "unit": "u",
	  "statements": [
	    {"kind": "type", "id": 1, "name": "Scoreboard", "shared": true,
	      "span": {"file": "u.lq", "line": 1, "col": 1, "off": 0, "eline": 5, "ecol": 1, "eoff": 80},
	      "fields": [
	        {"name": "points", "type": {"kind": "shared", "name": "Tally"}},
	        {"name": "players", "type": {"kind": "shared", "name": "SharedSet", "bias": "remove-wins",
	          "params": [{"kind": "text"}]}}
	      ]}
	  ]
	}`
	prog, err := DecodeDocument([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	td := prog.TypeDefs()[0]
	if !td.Shared {
		t.Error("type should be shared")
	}
	if td.Fields[0].Type.Shared != SharedTally {
		t.Errorf("points kind = %v, want Tally", td.Fields[0].Type.Shared)
	}
	set := td.Fields[1].Type
	if set.Shared != SharedSet || set.Bias != BiasRemoveWins {
		t.Errorf("players = %v bias %v, want SharedSet remove-wins", set.Shared, set.Bias)
	}
	if set.Params[0].Kind != KindText {
		t.Errorf("element type = %v, want Text", set.Params[0])
	}
}
