package text

import (
	"fmt"
	"unicode/utf8"
)

// Bias says which neighbouring character an anchor sticks to.
type Bias int

const (
	// Left anchors stick to the character before them, and stay in place
	// when text is inserted at their position.
	Left Bias = iota
	// Right anchors stick to the character after them, and move along
	// when text is inserted at their position.
	Right
)

func (b Bias) String() string {
	switch b {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Bias(%d)", int(b))
}

// Anchor is a position that does not depend on the buffer version. It names
// a character in the buffer's history rather than a row and column, so it
// still resolves after the buffer has been edited, here or elsewhere.
type Anchor struct {
	BufferID  BufferID
	Insertion Timestamp
	Offset    int
	Bias      Bias
}

var (
	// MinAnchor resolves to the start of any buffer.
	MinAnchor = Anchor{Insertion: baseTimestamp, Offset: 0, Bias: Left}
	// MaxAnchor resolves to the end of any buffer.
	MaxAnchor = Anchor{Insertion: maxTimestamp, Offset: 0, Bias: Right}
)

func (a Anchor) isMin() bool { return a.Insertion == baseTimestamp && a.Offset == 0 && a.Bias == Left }
func (a Anchor) isMax() bool { return a.Insertion == maxTimestamp && a.Offset == 0 && a.Bias == Right }

func (a Anchor) String() string {
	return fmt.Sprintf("anchor(%d:%v+%d,%v)", a.BufferID, a.Insertion, a.Offset, a.Bias)
}

// AnchorBefore returns an anchor at p that sticks to the character before p.
func (s *Snapshot) AnchorBefore(p PointUTF16) Anchor {
	off := s.OffsetFromPoint(p)
	pos := 0
	for _, f := range s.tree.fragments {
		if f.deleted {
			continue
		}
		if pos < off && off <= pos+len(f.text) {
			return Anchor{BufferID: s.id, Insertion: f.insertion, Offset: f.start + off - pos, Bias: Left}
		}
		pos += len(f.text)
	}
	a := MinAnchor
	a.BufferID = s.id
	return a
}

// AnchorAfter returns an anchor at p that sticks to the character after p.
func (s *Snapshot) AnchorAfter(p PointUTF16) Anchor {
	off := s.OffsetFromPoint(p)
	pos := 0
	for _, f := range s.tree.fragments {
		if f.deleted {
			continue
		}
		if pos <= off && off < pos+len(f.text) {
			return Anchor{BufferID: s.id, Insertion: f.insertion, Offset: f.start + off - pos, Bias: Right}
		}
		pos += len(f.text)
	}
	a := MaxAnchor
	a.BufferID = s.id
	return a
}

// ResolveOffset returns the byte offset that a points to in this snapshot.
// If the character a sticks to has been deleted, the offset is where that
// character used to be.
func (s *Snapshot) ResolveOffset(a Anchor) (int, error) {
	if a.BufferID != s.id && !(a.BufferID == 0 && (a.isMin() || a.isMax())) {
		return 0, fmt.Errorf("%w: %v: belongs to buffer %d, not %d", ErrInvalidAnchor, a, a.BufferID, s.id)
	}
	if a.Bias != Left && a.Bias != Right {
		return 0, fmt.Errorf("%w: %v: unknown bias", ErrInvalidAnchor, a)
	}
	if a.isMin() {
		return 0, nil
	}
	if a.isMax() {
		return s.Len(), nil
	}
	n, ok := s.tree.insertions[a.Insertion]
	if !ok {
		return 0, fmt.Errorf("%w: %v: insertion %v not in this version", ErrInvalidAnchor, a, a.Insertion)
	}
	if (a.Bias == Left && (a.Offset < 1 || a.Offset > n)) || (a.Bias == Right && (a.Offset < 0 || a.Offset >= n)) {
		return 0, fmt.Errorf("%w: %v: offset outside insertion of length %d", ErrInvalidAnchor, a, n)
	}
	pos := 0
	for _, f := range s.tree.fragments {
		if f.insertion == a.Insertion {
			var in bool
			if a.Bias == Left {
				in = f.start < a.Offset && a.Offset <= f.end
			} else {
				in = f.start <= a.Offset && a.Offset < f.end
			}
			if in {
				if a.Offset != f.end && !utf8.RuneStart(f.text[a.Offset-f.start]) {
					return 0, fmt.Errorf("%w: %v: offset inside a character", ErrInvalidAnchor, a)
				}
				if f.deleted {
					return pos, nil
				}
				return pos + a.Offset - f.start, nil
			}
		}
		pos += f.visibleLen()
	}
	return 0, fmt.Errorf("%w: %v: not found", ErrInvalidAnchor, a)
}

// ResolveAnchor returns the point that a points to in this snapshot.
func (s *Snapshot) ResolveAnchor(a Anchor) (PointUTF16, error) {
	off, err := s.ResolveOffset(a)
	if err != nil {
		return PointUTF16{}, err
	}
	return pointFromOffset(s.text, off), nil
}
