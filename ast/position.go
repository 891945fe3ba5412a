package ast

import "fmt"

// Position represents a line/column position in script text
// Uses LSP conventions: 1-based line numbers, 0-based character offsets
type Position struct {
	Line      int `json:"line"`      // 1-based line number
	Character int `json:"character"` // 0-based character offset within line
	Offset    int `json:"offset"`    // 0-based byte offset in entire source
}

// Column returns the 1-based column, as shown to users.
func (p Position) Column() int {
	return p.Character + 1
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column())
}

// Range represents a source span from start to end position
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}
