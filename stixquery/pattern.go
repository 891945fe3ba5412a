// Package stixquery translates GET and FIND commands into bounded queries
// for a data source, and evaluates STIX pattern bodies over local records.
package stixquery

import (
	"fmt"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/parser"
)

// Pattern is a STIX pattern body bounded by a time range. Range.Start is
// always strictly before Range.Stop.
type Pattern struct {
	Body  string        `json:"body"`
	Range ast.TimeRange `json:"range"`
	// SupportID reports whether the target dialect accepts "id" in
	// comparisons; false for STIX 2.0 data sources.
	SupportID bool `json:"support_id"`
}

// String renders the pattern with START/STOP qualifiers. Bodies made of
// several observation expressions are parenthesised so the qualifier
// covers all of them.
func (p Pattern) String() string {
	body := p.Body
	if !singleObservation(body) {
		body = "(" + body + ")"
	}
	return fmt.Sprintf("%s START t'%s' STOP t'%s'", body,
		parser.FormatTimestamp(p.Range.Start), parser.FormatTimestamp(p.Range.Stop))
}

// singleObservation reports whether body is exactly one [...] expression
func singleObservation(body string) bool {
	toks, err := lex(body)
	if err != nil || len(toks) < 2 || toks[0].kind != tokLBrack {
		return false
	}
	depth := 0
	for i, tok := range toks {
		switch tok.kind {
		case tokLBrack:
			depth++
		case tokRBrack:
			depth--
			if depth == 0 {
				return toks[i+1].kind == tokEOF
			}
		}
	}
	return false
}
