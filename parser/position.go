package parser

import (
	"unicode/utf8"

	"github.com/teranos/kestrel/ast"
)

// PositionTracker maintains line/column/offset state during tokenization
// Advances through source text, tracking position for each consumed character
type PositionTracker struct {
	source    string
	line      int // 1-based
	character int // 0-based within line
	offset    int // 0-based in source
}

// NewPositionTracker creates a tracker starting at beginning of source
func NewPositionTracker(source string) *PositionTracker {
	return &PositionTracker{
		source: source,
		line:   1,
	}
}

// Peek returns the rune at the current offset without consuming it, or
// utf8.RuneError at end of input.
func (pt *PositionTracker) Peek() rune {
	return pt.PeekAt(0)
}

// PeekAt returns the rune n bytes past the current offset.
func (pt *PositionTracker) PeekAt(n int) rune {
	if pt.offset+n >= len(pt.source) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(pt.source[pt.offset+n:])
	return r
}

// Next consumes one rune and returns it
func (pt *PositionTracker) Next() rune {
	if pt.offset >= len(pt.source) {
		return utf8.RuneError
	}
	r, size := utf8.DecodeRuneInString(pt.source[pt.offset:])
	if r == '\n' {
		pt.line++
		pt.character = 0
	} else {
		pt.character++
	}
	pt.offset += size
	return r
}

// AtEnd reports whether the whole source has been consumed
func (pt *PositionTracker) AtEnd() bool {
	return pt.offset >= len(pt.source)
}

// Mark returns the current position snapshot
func (pt *PositionTracker) Mark() ast.Position {
	return ast.Position{
		Line:      pt.line,
		Character: pt.character,
		Offset:    pt.offset,
	}
}

// Slice returns source text between two offsets
func (pt *PositionTracker) Slice(from, to int) string {
	return pt.source[from:to]
}
