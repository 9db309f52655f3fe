package text

import (
	"fmt"
	"testing"

	lsp "go.lsp.dev/protocol"
)

const emojiText = "a😀b\nxyz"

func TestOffsetFromPoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p        PointUTF16
		expected int
	}{
		{PointUTF16{0, 0}, 0},
		{PointUTF16{0, 1}, 1},
		// Inside the surrogate pair.
		{PointUTF16{0, 2}, 1},
		{PointUTF16{0, 3}, 5},
		{PointUTF16{0, 4}, 6},
		{PointUTF16{0, 10}, 6},
		{PointUTF16{1, 0}, 7},
		{PointUTF16{1, 1}, 8},
		{PointUTF16{1, 3}, 10},
		{PointUTF16{5, 0}, 10},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			a := offsetFromPoint(emojiText, test.p)
			if a != test.expected {
				t.Errorf("offsetFromPoint(%v): want: %v, got: %v", test.p, test.expected, a)
			}
		})
	}
}

func TestPointFromOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		off      int
		expected PointUTF16
	}{
		{0, PointUTF16{0, 0}},
		{1, PointUTF16{0, 1}},
		// Inside the emoji bytes.
		{3, PointUTF16{0, 1}},
		{5, PointUTF16{0, 3}},
		{6, PointUTF16{0, 4}},
		{7, PointUTF16{1, 0}},
		{10, PointUTF16{1, 3}},
		{42, PointUTF16{1, 3}},
		{-1, PointUTF16{0, 0}},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			a := pointFromOffset(emojiText, test.off)
			if a != test.expected {
				t.Errorf("pointFromOffset(%v): want: %v, got: %v", test.off, test.expected, a)
			}
		})
	}
}

func TestPointLSP(t *testing.T) {
	t.Parallel()
	p := PointUTF16{Row: 3, Column: 7}
	l := PointToLSP(p)
	if l != (lsp.Position{Line: 3, Character: 7}) {
		t.Errorf("PointToLSP: got: %+v", l)
	}
	if a := PointFromLSP(l); a != p {
		t.Errorf("PointFromLSP: want: %v, got: %v", p, a)
	}
}

func TestClipPoint(t *testing.T) {
	t.Parallel()
	s := NewBuffer(1, 1, emojiText).Snapshot()
	if a, e := s.ClipPoint(PointUTF16{0, 2}), (PointUTF16{0, 1}); a != e {
		t.Errorf("want: %v, got: %v", e, a)
	}
	if a, e := s.MaxPoint(), (PointUTF16{1, 3}); a != e {
		t.Errorf("MaxPoint: want: %v, got: %v", e, a)
	}
}
