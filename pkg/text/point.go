package text

import (
	"strings"
	"unicode/utf8"

	lsp "go.lsp.dev/protocol"
)

// PointUTF16 is a zero-based row and column, with the column counted in
// UTF-16 code units. It is only meaningful against one snapshot.
type PointUTF16 struct {
	Row    uint32
	Column uint32
}

// Less reports whether p comes before o.
func (p PointUTF16) Less(o PointUTF16) bool {
	if p.Row != o.Row {
		return p.Row < o.Row
	}
	return p.Column < o.Column
}

// PointToLSP converts a point to a language server protocol position. Both
// count columns in UTF-16 code units, so the mapping is one to one.
func PointToLSP(p PointUTF16) lsp.Position {
	return lsp.Position{Line: p.Row, Character: p.Column}
}

// PointFromLSP is the inverse of PointToLSP.
func PointFromLSP(p lsp.Position) PointUTF16 {
	return PointUTF16{Row: p.Line, Column: p.Character}
}

// utf16Len returns the number of UTF-16 code units needed for r.
func utf16Len(r rune) uint32 {
	if r >= 0x10000 {
		// Surrogate pair.
		return 2
	}
	return 1
}

// offsetFromPoint returns the byte offset of p in t. Points past the end of a
// line are clipped to the line end, points past the last line to the end of
// the text, and columns inside a surrogate pair to the start of the pair.
func offsetFromPoint(t string, p PointUTF16) int {
	i := 0
	for row := uint32(0); row < p.Row; row++ {
		j := strings.IndexByte(t[i:], '\n')
		if j < 0 {
			return len(t)
		}
		i += j + 1
	}
	col := uint32(0)
	for i < len(t) && t[i] != '\n' {
		r, size := utf8.DecodeRuneInString(t[i:])
		w := utf16Len(r)
		if col+w > p.Column {
			break
		}
		col += w
		i += size
	}
	return i
}

// pointFromOffset is the inverse of offsetFromPoint. Offsets are clamped to
// the text and moved back to the closest rune boundary.
func pointFromOffset(t string, off int) PointUTF16 {
	if off < 0 {
		off = 0
	}
	if off > len(t) {
		off = len(t)
	}
	for off > 0 && off < len(t) && !utf8.RuneStart(t[off]) {
		off--
	}
	var p PointUTF16
	lineStart := 0
	if nl := strings.LastIndexByte(t[:off], '\n'); nl >= 0 {
		p.Row = uint32(strings.Count(t[:off], "\n"))
		lineStart = nl + 1
	}
	for _, r := range t[lineStart:off] {
		p.Column += utf16Len(r)
	}
	return p
}
