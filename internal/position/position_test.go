package position

import "testing"

func TestPosition(t *testing.T) {
	tests := []struct {
		name     string
		pos      Position
		isValid  bool
		expected string
	}{
		{
			name:     "valid position with filename",
			pos:      Position{Filename: "greet.lq", Line: 10, Column: 5, Offset: 100},
			isValid:  true,
			expected: "greet.lq:10:5",
		},
		{
			name:     "valid position without filename",
			pos:      Position{Line: 1, Column: 1, Offset: 0},
			isValid:  true,
			expected: "1:1",
		},
		{
			name:    "invalid position - zero line",
			pos:     Position{Line: 0, Column: 1, Offset: 0},
			isValid: false,
		},
		{
			name:    "invalid position - negative offset",
			pos:     Position{Line: 3, Column: 2, Offset: -1},
			isValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.IsValid(); got != tt.isValid {
				t.Errorf("IsValid() = %v, want %v", got, tt.isValid)
			}
			if tt.expected != "" {
				if got := tt.pos.String(); got != tt.expected {
					t.Errorf("String() = %q, want %q", got, tt.expected)
				}
			}
		})
	}
}

func TestSpanContains(t *testing.T) {
	span := Span{
		Start: Position{Filename: "a.lq", Line: 1, Column: 1, Offset: 0},
		End:   Position{Filename: "a.lq", Line: 1, Column: 11, Offset: 10},
	}

	inside := Position{Filename: "a.lq", Line: 1, Column: 5, Offset: 4}
	if !span.Contains(inside) {
		t.Errorf("span should contain %v", inside)
	}

	atEnd := Position{Filename: "a.lq", Line: 1, Column: 11, Offset: 10}
	if span.Contains(atEnd) {
		t.Errorf("span end is exclusive, should not contain %v", atEnd)
	}

	otherFile := Position{Filename: "b.lq", Line: 1, Column: 5, Offset: 4}
	if span.Contains(otherFile) {
		t.Errorf("span should not contain position from another file")
	}
}

func TestSpanUnion(t *testing.T) {
	a := Span{
		Start: Position{Filename: "a.lq", Line: 1, Column: 1, Offset: 0},
		End:   Position{Filename: "a.lq", Line: 1, Column: 5, Offset: 4},
	}
	b := Span{
		Start: Position{Filename: "a.lq", Line: 2, Column: 1, Offset: 20},
		End:   Position{Filename: "a.lq", Line: 2, Column: 8, Offset: 27},
	}

	u := a.Union(b)
	if u.Start != a.Start || u.End != b.End {
		t.Errorf("Union() = %v, want start %v end %v", u, a.Start, b.End)
	}

	// Union with a span from another file leaves the receiver unchanged.
	c := Span{
		Start: Position{Filename: "c.lq", Line: 1, Column: 1, Offset: 0},
		End:   Position{Filename: "c.lq", Line: 1, Column: 2, Offset: 1},
	}
	if got := a.Union(c); got != a {
		t.Errorf("cross-file Union() = %v, want %v", got, a)
	}
}
