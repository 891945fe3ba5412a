package stixquery

import (
	"strings"
	"unicode"

	"github.com/teranos/kestrel/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLBrack
	tokRBrack
	tokLParen
	tokRParen
	tokComma
	tokOp     // = != < <= > >=
	tokString // '...', also t'...', h'...', b'...'
	tokNumber
	tokWord // paths, keywords, variable references, true/false
)

type token struct {
	kind tokenKind
	text string // raw text
	// value is the unquoted body for strings
	value string
	// prefix is the string literal prefix: 't', 'h', 'b' or 0
	prefix byte
	start  int
	end    int
}

// upper returns the case-folded text of a word token
func (t token) upper() string {
	return strings.ToUpper(t.text)
}

func lex(body string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '[':
			toks = append(toks, token{kind: tokLBrack, text: "[", start: i, end: i + 1})
			i++
		case c == ']':
			toks = append(toks, token{kind: tokRBrack, text: "]", start: i, end: i + 1})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", start: i, end: i + 1})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", start: i, end: i + 1})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", start: i, end: i + 1})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			j := i + 1
			if j < len(body) && body[j] == '=' {
				j++
			}
			op := body[i:j]
			if op == "!" {
				return nil, errors.Newk(errors.ErrSyntax, "pattern: unexpected '!' at offset %d", i)
			}
			toks = append(toks, token{kind: tokOp, text: op, start: i, end: j})
			i = j
		case c == '\'':
			tok, err := lexQuoted(body, i, 0)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = tok.end
		case (c == 't' || c == 'h' || c == 'b') && i+1 < len(body) && body[i+1] == '\'':
			tok, err := lexQuoted(body, i+1, c)
			if err != nil {
				return nil, err
			}
			tok.start = i
			tok.text = body[i:tok.end]
			toks = append(toks, tok)
			i = tok.end
		case c == '-' || c == '+' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(body) && (isDigit(body[j]) || body[j] == '.' || body[j] == 'e' || body[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: body[i:j], start: i, end: j})
			i = j
		case isWordStart(rune(c)):
			j := i
			for j < len(body) && isWordPart(rune(body[j])) {
				j++
			}
			// list index suffix: protocols[*], values[0]
			if j < len(body) && body[j] == '[' {
				if k := strings.IndexByte(body[j:], ']'); k > 0 && isIndex(body[j+1:j+k]) {
					j += k + 1
				}
			}
			toks = append(toks, token{kind: tokWord, text: body[i:j], start: i, end: j})
			i = j
		default:
			return nil, errors.Newk(errors.ErrSyntax, "pattern: unexpected %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, start: len(body), end: len(body)})
	return toks, nil
}

func lexQuoted(body string, at int, prefix byte) (token, error) {
	var b strings.Builder
	for j := at + 1; j < len(body); j++ {
		switch body[j] {
		case '\\':
			if j+1 < len(body) {
				j++
				b.WriteByte(body[j])
			}
		case '\'':
			return token{kind: tokString, text: body[at : j+1], value: b.String(), prefix: prefix, start: at, end: j + 1}, nil
		default:
			b.WriteByte(body[j])
		}
	}
	return token{}, errors.Newk(errors.ErrSyntax, "pattern: unterminated string at offset %d", at)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return isWordStart(r) || unicode.IsDigit(r) || r == '-' || r == ':' || r == '.'
}

func isIndex(s string) bool {
	if s == "*" {
		return true
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}
