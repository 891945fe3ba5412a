package parser

import (
	"strings"
	"unicode"

	"github.com/teranos/kestrel/ast"
)

// TokenKind classifies a lexical token
type TokenKind int

const (
	TokenEOF       TokenKind = iota
	TokenWord                // identifiers, keywords, numbers, paths, entity types, URIs
	TokenString              // single or double quoted; Value holds the unescaped body
	TokenTimestamp           // t'...'; Value holds the body
	TokenBracket             // balanced [...] captured verbatim
	TokenEquals
	TokenComma
	TokenPlus
	TokenLParen
	TokenRParen
)

var tokenKindNames = map[TokenKind]string{
	TokenEOF:       "end of input",
	TokenWord:      "word",
	TokenString:    "string",
	TokenTimestamp: "timestamp",
	TokenBracket:   "bracketed expression",
	TokenEquals:    "'='",
	TokenComma:     "','",
	TokenPlus:      "'+'",
	TokenLParen:    "'('",
	TokenRParen:    "')'",
}

func (k TokenKind) String() string {
	return tokenKindNames[k]
}

// Token is one lexical unit with its source span
type Token struct {
	Kind TokenKind
	Text string // raw source text
	// Value is the decoded body of strings and timestamps; Text otherwise
	Value string
	// Keyword is the upper-cased keyword when Kind is TokenWord and Text
	// case-folds to a reserved word; empty otherwise
	Keyword string
	Pos     ast.Position
	End     ast.Position
}

// keywords are reserved words; matched case-insensitively
var keywords = map[string]bool{
	"GET": true, "FROM": true, "WHERE": true, "START": true, "STOP": true,
	"FIND": true, "BY": true, "DISP": true, "ATTR": true, "LIMIT": true,
	"OFFSET": true, "INFO": true, "APPLY": true, "ON": true, "WITH": true,
	"JOIN": true, "SORT": true, "ASC": true, "DESC": true, "GROUP": true,
	"AS": true, "LOAD": true, "SAVE": true, "TO": true, "NEW": true,
}

// commandKeywords start a command
var commandKeywords = []string{
	"GET", "FIND", "DISP", "INFO", "APPLY", "JOIN", "SORT", "GROUP", "LOAD", "SAVE", "NEW",
}

// isWordBreak reports runes that end a word token
func isWordBreak(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ',', '=', '+', '(', ')', '[', ']', '\'', '"', '#':
		return true
	}
	return false
}

// Tokenize splits a script into tokens, ending with a TokenEOF
func Tokenize(src string) ([]Token, error) {
	pt := NewPositionTracker(src)
	var toks []Token

	for {
		skipSpaceAndComments(pt)
		start := pt.Mark()
		if pt.AtEnd() {
			toks = append(toks, Token{Kind: TokenEOF, Pos: start, End: start})
			return toks, nil
		}

		r := pt.Peek()
		var tok Token
		var err *ParseError
		switch {
		case r == '[':
			tok, err = lexBracket(pt)
		case r == '\'' || r == '"':
			tok, err = lexString(pt)
		case (r == 't' || r == 'T') && pt.PeekAt(1) == '\'':
			pt.Next()
			tok, err = lexString(pt)
			tok.Kind = TokenTimestamp
		case r == ']':
			pt.Next()
			err = NewParseError(ErrorKindSyntax, "unbalanced ']'").WithToken("]")
		default:
			if kind, ok := punctuation[r]; ok {
				pt.Next()
				tok = Token{Kind: kind}
			} else {
				tok = lexWord(pt)
			}
		}
		if err != nil {
			return nil, err.WithPosition(start).WithSourceLine(src)
		}

		tok.Pos = start
		tok.End = pt.Mark()
		tok.Text = pt.Slice(start.Offset, tok.End.Offset)
		if tok.Kind != TokenString && tok.Kind != TokenTimestamp {
			tok.Value = tok.Text
		}
		if tok.Kind == TokenWord {
			if up := strings.ToUpper(tok.Text); keywords[up] {
				tok.Keyword = up
			}
		}
		toks = append(toks, tok)
	}
}

var punctuation = map[rune]TokenKind{
	'=': TokenEquals,
	',': TokenComma,
	'+': TokenPlus,
	'(': TokenLParen,
	')': TokenRParen,
}

func skipSpaceAndComments(pt *PositionTracker) {
	for !pt.AtEnd() {
		r := pt.Peek()
		switch {
		case unicode.IsSpace(r):
			pt.Next()
		case r == '#':
			for !pt.AtEnd() && pt.Peek() != '\n' {
				pt.Next()
			}
		default:
			return
		}
	}
}

func lexWord(pt *PositionTracker) Token {
	for !pt.AtEnd() && !isWordBreak(pt.Peek()) {
		pt.Next()
	}
	return Token{Kind: TokenWord}
}

// lexString reads a quoted string starting at the opening quote
func lexString(pt *PositionTracker) (Token, *ParseError) {
	quote := pt.Next()
	var b strings.Builder
	for {
		if pt.AtEnd() {
			return Token{}, NewParseError(ErrorKindSyntax, "unterminated string")
		}
		r := pt.Next()
		switch {
		case r == quote:
			return Token{Kind: TokenString, Value: b.String()}, nil
		case r == '\\' && !pt.AtEnd():
			esc := pt.Next()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
		}
	}
}

// lexBracket captures a balanced [...] body. Brackets inside quoted
// strings do not count; parentheses are not balanced.
func lexBracket(pt *PositionTracker) (Token, *ParseError) {
	depth := 0
	var quote rune
	for !pt.AtEnd() {
		r := pt.Next()
		if quote != 0 {
			switch r {
			case '\\':
				pt.Next()
			case quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return Token{Kind: TokenBracket}, nil
			}
		}
	}
	if quote != 0 {
		return Token{}, NewParseError(ErrorKindSyntax, "unterminated string inside bracketed expression")
	}
	return Token{}, NewParseError(ErrorKindSyntax, "unterminated bracketed expression: missing ']'")
}
