// Package parser turns hunt-flow script text into []ast.Statement.
//
// The grammar has no statement terminator: a statement ends where the next
// one can begin. Keywords are case-insensitive; variables, entity types and
// attribute paths are case-sensitive. Pattern bodies and NEW data bodies are
// captured verbatim.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
)

// DefaultVariable is the target of statements that name none.
const DefaultVariable = "_"

// Option configures a parse
type Option func(*Parser)

// WithDefaultVariable overrides the implicit statement target
func WithDefaultVariable(name string) Option {
	return func(p *Parser) {
		if name != "" {
			p.defaultVar = name
		}
	}
}

// Parser is a recursive-descent parser over a token slice
type Parser struct {
	src        string
	toks       []Token
	pos        int
	defaultVar string
}

// Parse parses a whole script. On error no statements are returned and the
// error is a *ParseError classified as SyntaxError or LiteralParseError.
func Parse(src string, opts ...Option) ([]ast.Statement, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{src: src, toks: toks, defaultVar: DefaultVariable}
	for _, opt := range opts {
		opt(p)
	}

	var stmts []ast.Statement
	for p.peek().Kind != TokenEOF {
		stmt, perr := p.parseStatement()
		if perr != nil {
			return nil, perr
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (p *Parser) peek() Token {
	return p.peekAt(0)
}

func (p *Parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) next() Token {
	tok := p.peek()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return tok
}

// last returns the most recently consumed token
func (p *Parser) last() Token {
	if p.pos == 0 {
		return p.toks[0]
	}
	return p.toks[p.pos-1]
}

func (p *Parser) errorAt(tok Token, kind ErrorKind, format string, args ...interface{}) *ParseError {
	text := tok.Text
	if tok.Kind == TokenEOF {
		text = ""
	}
	return NewParseError(kind, fmt.Sprintf(format, args...)).
		WithPosition(tok.Pos).
		WithToken(text).
		WithSourceLine(p.src)
}

func describe(tok Token) string {
	if tok.Kind == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", tok.Text)
}

func (p *Parser) isKeyword(kw string) bool {
	tok := p.peek()
	return tok.Kind == TokenWord && tok.Keyword == kw
}

func (p *Parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) *ParseError {
	if p.acceptKeyword(kw) {
		return nil
	}
	return p.errorAt(p.peek(), ErrorKindSyntax, "expected %s, got %s", kw, describe(p.peek()))
}

func (p *Parser) expect(kind TokenKind) (Token, *ParseError) {
	tok := p.peek()
	if tok.Kind != kind {
		return tok, p.errorAt(tok, ErrorKindSyntax, "expected %s, got %s", kind, describe(tok))
	}
	return p.next(), nil
}

// expectVariable consumes a variable name
func (p *Parser) expectVariable() (string, *ParseError) {
	tok := p.peek()
	if tok.Kind != TokenWord || !isIdentifier(tok.Text) {
		return "", p.errorAt(tok, ErrorKindSyntax, "expected a variable name, got %s", describe(tok))
	}
	if tok.Keyword != "" {
		return "", p.errorAt(tok, ErrorKindSyntax, "%s is a reserved keyword and cannot name a variable", tok.Keyword)
	}
	return p.next().Text, nil
}

// expectName consumes a non-keyword word: entity type, attribute path or relation
func (p *Parser) expectName(what string) (string, *ParseError) {
	tok := p.peek()
	if tok.Kind != TokenWord || tok.Keyword != "" {
		return "", p.errorAt(tok, ErrorKindSyntax, "expected %s, got %s", what, describe(tok))
	}
	return p.next().Text, nil
}

// expectLocation consumes a path, URI or quoted string
func (p *Parser) expectLocation(what string) (string, *ParseError) {
	tok := p.peek()
	switch {
	case tok.Kind == TokenString:
		return p.next().Value, nil
	case tok.Kind == TokenWord && tok.Keyword == "":
		return p.next().Text, nil
	}
	return "", p.errorAt(tok, ErrorKindSyntax, "expected %s, got %s", what, describe(tok))
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func isCommandKeyword(kw string) bool {
	for _, c := range commandKeywords {
		if c == kw {
			return true
		}
	}
	return false
}

// suggestCommands returns command keywords close to word
func suggestCommands(word string) []string {
	ranks := fuzzy.RankFindNormalizedFold(word, commandKeywords)
	sort.Sort(ranks)
	seen := map[string]bool{}
	var out []string
	for _, r := range ranks {
		if !seen[r.Target] {
			seen[r.Target] = true
			out = append(out, r.Target)
		}
	}
	up := strings.ToUpper(word)
	for _, c := range commandKeywords {
		if !seen[c] && fuzzy.LevenshteinDistance(up, c) <= 1 {
			out = append(out, c)
		}
	}
	return out
}

func (p *Parser) parseStatement() (ast.Statement, *ParseError) {
	first := p.peek()
	stmt := ast.Statement{}

	switch {
	case first.Kind == TokenWord && isCommandKeyword(first.Keyword):
		cmd, err := p.parseCommand()
		if err != nil {
			return stmt, err
		}
		stmt.Command = cmd
		if ast.ProducesDataset(cmd) {
			stmt.Target = p.defaultVar
		}

	case first.Kind == TokenWord && p.peekAt(1).Kind == TokenEquals:
		target, err := p.expectVariable()
		if err != nil {
			return stmt, err
		}
		p.next() // '='
		stmt.Target = target
		stmt.Explicit = true

		cmdTok := p.peek()
		if cmdTok.Kind == TokenWord && isCommandKeyword(cmdTok.Keyword) {
			cmd, err := p.parseCommand()
			if err != nil {
				return stmt, err
			}
			if !ast.ProducesDataset(cmd) {
				return stmt, p.errorAt(cmdTok, ErrorKindSemantic,
					"%s produces no variable and cannot be assigned to %s", cmdTok.Keyword, target)
			}
			stmt.Command = cmd
		} else {
			cmd, err := p.parseMerge()
			if err != nil {
				return stmt, err
			}
			stmt.Command = cmd
		}

	default:
		err := p.errorAt(first, ErrorKindSyntax, "expected a command or assignment, got %s", describe(first))
		if first.Kind == TokenWord {
			for _, s := range suggestCommands(first.Text) {
				err.WithSuggestion(s)
			}
		}
		return stmt, err
	}

	end := p.last().End
	stmt.Range = ast.Range{Start: first.Pos, End: end}
	stmt.Source = p.src[first.Pos.Offset:end.Offset]
	return stmt, nil
}

func (p *Parser) parseCommand() (ast.Command, *ParseError) {
	switch p.next().Keyword {
	case "GET":
		return p.parseGet()
	case "FIND":
		return p.parseFind()
	case "DISP":
		return p.parseDisp()
	case "INFO":
		v, err := p.expectVariable()
		if err != nil {
			return nil, err
		}
		return &ast.Info{Input: v}, nil
	case "APPLY":
		return p.parseApply()
	case "JOIN":
		return p.parseJoin()
	case "SORT":
		return p.parseSort()
	case "GROUP":
		return p.parseGroup()
	case "LOAD":
		return p.parseLoad()
	case "SAVE":
		return p.parseSave()
	case "NEW":
		return p.parseNew()
	}
	return nil, p.errorAt(p.last(), ErrorKindSyntax, "unknown command %s", describe(p.last()))
}

func (p *Parser) parseMerge() (ast.Command, *ParseError) {
	v, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	m := &ast.Merge{Inputs: []string{v}}
	for p.peek().Kind == TokenPlus {
		p.next()
		v, err := p.expectVariable()
		if err != nil {
			return nil, err
		}
		m.Inputs = append(m.Inputs, v)
	}
	return m, nil
}

func (p *Parser) parseGet() (ast.Command, *ParseError) {
	typ, err := p.expectName("an entity type")
	if err != nil {
		return nil, err
	}
	g := &ast.Get{EntityType: typ}
	if p.acceptKeyword("FROM") {
		if g.From, err = p.expectLocation("a data source"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	if g.Pattern, err = p.parsePattern(); err != nil {
		return nil, err
	}
	if g.Time, err = p.parseTimeRange(); err != nil {
		return nil, err
	}
	return g, nil
}

// parsePattern captures one or more observation expressions verbatim,
// combined with AND, OR, FOLLOWEDBY and parentheses.
func (p *Parser) parsePattern() (string, *ParseError) {
	first := p.peek()
	if first.Kind != TokenBracket && first.Kind != TokenLParen {
		return "", p.errorAt(first, ErrorKindSyntax, "expected a pattern in [...], got %s", describe(first))
	}

	depth := 0
	wantOperand := true
	for {
		tok := p.peek()
		switch {
		case wantOperand && tok.Kind == TokenLParen:
			depth++
		case wantOperand && tok.Kind == TokenBracket:
			wantOperand = false
		case !wantOperand && tok.Kind == TokenRParen && depth > 0:
			depth--
		case !wantOperand && isPatternConnector(tok):
			wantOperand = true
		default:
			if wantOperand {
				return "", p.errorAt(tok, ErrorKindSyntax, "expected an observation expression in [...], got %s", describe(tok))
			}
			if depth > 0 {
				return "", p.errorAt(tok, ErrorKindSyntax, "unbalanced '(' in pattern")
			}
			return p.src[first.Pos.Offset:p.last().End.Offset], nil
		}
		p.next()
	}
}

func isPatternConnector(tok Token) bool {
	if tok.Kind != TokenWord {
		return false
	}
	switch strings.ToUpper(tok.Text) {
	case "AND", "OR", "FOLLOWEDBY":
		return true
	}
	return false
}

func (p *Parser) parseTimeRange() (*ast.TimeRange, *ParseError) {
	if !p.isKeyword("START") {
		return nil, nil
	}
	p.next()
	start, err := p.parseTimestamp()
	if err != nil {
		return nil, err
	}
	stopTok := p.peek()
	if err := p.expectKeyword("STOP"); err != nil {
		return nil, err
	}
	stop, err := p.parseTimestamp()
	if err != nil {
		return nil, err
	}
	if !start.Before(stop) {
		return nil, p.errorAt(stopTok, ErrorKindTemporal, "START %s must be before STOP %s",
			FormatTimestamp(start), FormatTimestamp(stop))
	}
	return &ast.TimeRange{Start: start, Stop: stop}, nil
}

func (p *Parser) parseTimestamp() (time.Time, *ParseError) {
	tok, perr := p.expect(TokenTimestamp)
	if perr != nil {
		return time.Time{}, perr
	}
	t, err := ParseTimestamp(tok.Value)
	if err != nil {
		return time.Time{}, p.errorAt(tok, ErrorKindTemporal, "invalid timestamp %s", tok.Text).WithUnderlying(err)
	}
	return t, nil
}

func (p *Parser) parseFind() (ast.Command, *ParseError) {
	typ, err := p.expectName("an entity type")
	if err != nil {
		return nil, err
	}
	rel, err := p.expectName("a relation")
	if err != nil {
		return nil, err
	}
	f := &ast.Find{EntityType: typ, Relation: strings.ToLower(rel)}
	f.Reversed = p.acceptKeyword("BY")
	if f.Input, err = p.expectVariable(); err != nil {
		return nil, err
	}
	if f.Time, err = p.parseTimeRange(); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Parser) parseDisp() (ast.Command, *ParseError) {
	v, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	d := &ast.Disp{Input: v}
	if p.acceptKeyword("ATTR") {
		if d.Attrs, err = p.parseNameList("an attribute"); err != nil {
			return nil, err
		}
	}
	if p.acceptKeyword("LIMIT") {
		if d.Limit, err = p.parsePositiveInt("LIMIT"); err != nil {
			return nil, err
		}
		if p.acceptKeyword("OFFSET") {
			tok := p.peek()
			n, perr := p.parseInt()
			if perr != nil {
				return nil, perr
			}
			if n < 0 {
				return nil, p.errorAt(tok, ErrorKindSyntax, "OFFSET must not be negative")
			}
			d.Offset = n
		}
	}
	return d, nil
}

func (p *Parser) parseNameList(what string) ([]string, *ParseError) {
	var names []string
	for {
		n, err := p.expectName(what)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		if p.peek().Kind != TokenComma {
			return names, nil
		}
		p.next()
	}
}

func (p *Parser) parseInt() (int, *ParseError) {
	tok := p.peek()
	n, err := strconv.Atoi(tok.Text)
	if tok.Kind != TokenWord || err != nil {
		return 0, p.errorAt(tok, ErrorKindSyntax, "expected an integer, got %s", describe(tok))
	}
	p.next()
	return n, nil
}

func (p *Parser) parsePositiveInt(clause string) (int, *ParseError) {
	tok := p.peek()
	n, err := p.parseInt()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, p.errorAt(tok, ErrorKindSyntax, "%s must be greater than zero", clause)
	}
	return n, nil
}

func (p *Parser) parseApply() (ast.Command, *ParseError) {
	name, err := p.expectLocation("an analytics name")
	if err != nil {
		return nil, err
	}
	a := &ast.Apply{Analytics: name}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	for {
		v, err := p.expectVariable()
		if err != nil {
			return nil, err
		}
		a.Inputs = append(a.Inputs, v)
		if p.peek().Kind != TokenComma {
			break
		}
		p.next()
	}
	if !p.acceptKeyword("WITH") {
		return a, nil
	}

	tok := p.peek()
	if p.peekAt(1).Kind != TokenEquals {
		if tok.Kind == TokenString || (tok.Kind == TokenWord && strings.Contains(tok.Text, "://")) {
			p.next()
			a.Params = ast.URIParam{URI: tok.Value}
			return a, nil
		}
	}
	if a.Params, err = p.parseKeywordParams(); err != nil {
		return nil, err
	}
	return a, nil
}

// parseKeywordParams reads key=value pairs. Bare values following a bare
// value form a list; a number or quoted string always ends its pair.
func (p *Parser) parseKeywordParams() (ast.KeywordParams, *ParseError) {
	var params ast.KeywordParams
	seen := map[string]bool{}
	for {
		keyTok := p.peek()
		if keyTok.Kind != TokenWord || !isIdentifier(keyTok.Text) {
			return nil, p.errorAt(keyTok, ErrorKindSyntax, "expected a parameter name, got %s", describe(keyTok))
		}
		p.next()
		if _, err := p.expect(TokenEquals); err != nil {
			return nil, p.errorAt(p.peek(), ErrorKindSyntax, "expected '=' after parameter %s, got %s", keyTok.Text, describe(p.peek()))
		}
		if seen[keyTok.Text] {
			return nil, p.errorAt(keyTok, ErrorKindSemantic, "parameter %s given twice", keyTok.Text)
		}
		seen[keyTok.Text] = true

		val, bare, err := p.parseParamValue()
		if err != nil {
			return nil, err
		}
		if bare {
			list := ast.ListValue{string(val.(ast.StringValue))}
			for p.peek().Kind == TokenComma && p.peekAt(2).Kind != TokenEquals {
				p.next()
				item := p.peek()
				if item.Kind != TokenWord || item.Keyword != "" {
					return nil, p.errorAt(item, ErrorKindSyntax, "expected a list value for %s, got %s", keyTok.Text, describe(item))
				}
				list = append(list, p.next().Text)
			}
			if len(list) > 1 {
				val = list
			}
		}
		params = append(params, ast.Param{Key: keyTok.Text, Value: val})

		if p.peek().Kind != TokenComma {
			return params, nil
		}
		p.next()
	}
}

// parseParamValue returns the value and whether it was a bare word
func (p *Parser) parseParamValue() (ast.Value, bool, *ParseError) {
	tok := p.peek()
	switch {
	case tok.Kind == TokenString:
		p.next()
		return ast.StringValue(tok.Value), false, nil
	case tok.Kind == TokenWord && tok.Keyword == "":
		p.next()
		if i, err := strconv.ParseInt(tok.Text, 10, 64); err == nil {
			return ast.IntValue(i), false, nil
		}
		if f, err := strconv.ParseFloat(tok.Text, 64); err == nil {
			return ast.FloatValue(f), false, nil
		}
		return ast.StringValue(tok.Text), true, nil
	}
	return nil, false, p.errorAt(tok, ErrorKindSyntax, "expected a parameter value, got %s", describe(tok))
}

func (p *Parser) parseJoin() (ast.Command, *ParseError) {
	left, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenComma); err != nil {
		return nil, err
	}
	right, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	j := &ast.Join{Left: left, Right: right}
	if p.acceptKeyword("BY") {
		if j.LeftKey, err = p.expectName("a join attribute"); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenComma); err != nil {
			return nil, err
		}
		if j.RightKey, err = p.expectName("a join attribute"); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (p *Parser) parseSort() (ast.Command, *ParseError) {
	v, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	key, err := p.expectName("a sort attribute")
	if err != nil {
		return nil, err
	}
	s := &ast.Sort{Input: v, Key: key}
	switch {
	case p.acceptKeyword("ASC"):
		s.Order = ast.OrderAsc
	case p.acceptKeyword("DESC"):
		s.Order = ast.OrderDesc
	}
	return s, nil
}

func (p *Parser) parseGroup() (ast.Command, *ParseError) {
	v, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	g := &ast.Group{Input: v}
	if g.Keys, err = p.parseNameList("a grouping attribute"); err != nil {
		return nil, err
	}
	if !p.acceptKeyword("WITH") {
		return g, nil
	}

	aliases := map[string]bool{}
	keys := map[string]bool{}
	for _, k := range g.Keys {
		keys[dataset.NormalizePath(k)] = true
	}
	for {
		fnTok := p.peek()
		agg, err := p.parseAggregate()
		if err != nil {
			return nil, err
		}
		if keys[agg.Alias] {
			return nil, p.errorAt(fnTok, ErrorKindSemantic, "aggregate alias %s shadows a grouping attribute", agg.Alias)
		}
		if aliases[agg.Alias] {
			return nil, p.errorAt(fnTok, ErrorKindSemantic, "duplicate aggregate alias %s", agg.Alias)
		}
		aliases[agg.Alias] = true
		g.Aggregates = append(g.Aggregates, agg)
		if p.peek().Kind != TokenComma {
			return g, nil
		}
		p.next()
	}
}

func (p *Parser) parseAggregate() (ast.AggregateSpec, *ParseError) {
	var spec ast.AggregateSpec
	fnTok := p.peek()
	fn, ok := ast.ParseAggFunc(fnTok.Text)
	if fnTok.Kind != TokenWord || !ok {
		return spec, p.errorAt(fnTok, ErrorKindSyntax,
			"expected an aggregate function (MIN, MAX, SUM, AVG, COUNT, NUNIQUE), got %s", describe(fnTok))
	}
	p.next()
	if _, err := p.expect(TokenLParen); err != nil {
		return spec, err
	}
	attr, err := p.expectName("an attribute")
	if err != nil {
		return spec, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return spec, err
	}
	spec = ast.AggregateSpec{Func: fn, Attr: attr, Alias: ast.DefaultAlias(fn, attr)}
	if p.acceptKeyword("AS") {
		if spec.Alias, err = p.expectVariable(); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

func (p *Parser) parseLoad() (ast.Command, *ParseError) {
	path, err := p.expectLocation("a file path")
	if err != nil {
		return nil, err
	}
	l := &ast.Load{Path: path}
	if p.acceptKeyword("AS") {
		if l.EntityType, err = p.expectName("an entity type"); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (p *Parser) parseSave() (ast.Command, *ParseError) {
	v, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	path, err := p.expectLocation("a file path")
	if err != nil {
		return nil, err
	}
	return &ast.Save{Input: v, Path: path}, nil
}

func (p *Parser) parseNew() (ast.Command, *ParseError) {
	n := &ast.New{}
	if tok := p.peek(); tok.Kind == TokenWord && tok.Keyword == "" {
		n.EntityType = p.next().Text
	}
	body, perr := p.expect(TokenBracket)
	if perr != nil {
		return nil, perr
	}
	lit, err := decodeLiteral(body.Text)
	if err != nil {
		return nil, p.errorAt(body, ErrorKindLiteral, "invalid NEW data: %v", err).WithUnderlying(err)
	}
	n.Data = lit
	return n, nil
}

// decodeLiteral reads a JSON list of strings or a JSON list of objects
func decodeLiteral(body string) (ast.Literal, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("data list is empty")
	}

	switch items[0].(type) {
	case string:
		out := make(ast.StringList, len(items))
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("item %d is not a string", i)
			}
			out[i] = s
		}
		return out, nil
	case map[string]interface{}:
		out := make(ast.ObjectList, len(items))
		for i, it := range items {
			obj, ok := it.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("item %d is not an object", i)
			}
			out[i] = normalizeNumbers(obj).(map[string]interface{})
		}
		return out, nil
	}
	return nil, fmt.Errorf("data must be a list of strings or a list of objects")
}

// normalizeNumbers converts json.Number to int64 when integral, else float64
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	}
	return v
}
