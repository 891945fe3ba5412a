package stixquery

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
)

// Matcher is a compiled pattern body that filters records locally.
type Matcher struct {
	root         obsExpr
	observations int
}

// Compile parses a pattern body (one or more observation expressions).
// Errors are marked ErrSyntax.
func Compile(body string) (*Matcher, error) {
	toks, err := lex(body)
	if err != nil {
		return nil, err
	}
	c := &compiler{toks: toks}
	root, err := c.obsOr()
	if err != nil {
		return nil, err
	}
	if tok := c.peek(); tok.kind != tokEOF {
		return nil, c.errorf(tok, "unexpected %q after pattern", tok.text)
	}
	return &Matcher{root: root, observations: c.observations}, nil
}

// Match reports whether rec, an entity of entityType, satisfies the pattern.
func (m *Matcher) Match(entityType string, rec dataset.Record) bool {
	return m.root.match(entityType, rec)
}

// Filter returns the records of d that satisfy the pattern, retagged as
// entityType when it is not empty.
func (m *Matcher) Filter(d *dataset.Dataset, entityType string) *dataset.Dataset {
	if entityType == "" {
		entityType = d.EntityType
	}
	out := &dataset.Dataset{EntityType: entityType, Columns: d.Columns, Records: []dataset.Record{}}
	for _, r := range d.Records {
		if m.Match(entityType, r) {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

// Observations is the number of [...] observation expressions.
func (m *Matcher) Observations() int {
	return m.observations
}

type obsExpr interface {
	match(entityType string, rec dataset.Record) bool
}

type obsAnd struct{ left, right obsExpr }
type obsOr struct{ left, right obsExpr }

func (e obsAnd) match(t string, r dataset.Record) bool { return e.left.match(t, r) && e.right.match(t, r) }
func (e obsOr) match(t string, r dataset.Record) bool  { return e.left.match(t, r) || e.right.match(t, r) }

// comparison is one "type:path [NOT] op value" term
type comparison struct {
	objectType string
	path       string
	index      string // "", "*" or a list index
	negate     bool
	op         string
	values     []interface{}
	re         *regexp.Regexp
}

func (c *comparison) match(entityType string, rec dataset.Record) bool {
	if c.objectType != "" && entityType != "" && c.objectType != entityType {
		return false
	}
	v, ok := rec[c.path]
	if !ok || v == nil {
		return false
	}
	candidates := []interface{}{v}
	if list, isList := v.([]interface{}); isList {
		switch c.index {
		case "*":
			candidates = list
		case "":
			candidates = []interface{}{v}
		default:
			i, _ := strconv.Atoi(c.index)
			if i >= len(list) {
				return false
			}
			candidates = []interface{}{list[i]}
		}
	}
	for _, cand := range candidates {
		if c.test(cand) != c.negate {
			return true
		}
	}
	return false
}

func (c *comparison) test(v interface{}) bool {
	switch c.op {
	case "=":
		return equalValue(v, c.values[0])
	case "!=":
		return !equalValue(v, c.values[0])
	case "<", "<=", ">", ">=":
		cmp := compareValue(v, c.values[0])
		switch c.op {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		}
		return cmp >= 0
	case "IN":
		for _, want := range c.values {
			if equalValue(v, want) {
				return true
			}
		}
		return false
	case "LIKE", "MATCHES":
		s, ok := v.(string)
		return ok && c.re.MatchString(s)
	case "ISSUBSET":
		return cidrContains(asString(c.values[0]), asString(v))
	case "ISSUPERSET":
		return cidrContains(asString(v), asString(c.values[0]))
	}
	return false
}

// timestamp literals compare as instants against string attributes
type timestamp time.Time

func equalValue(v, want interface{}) bool {
	return compareValue(v, want) == 0
}

func compareValue(v, want interface{}) int {
	if ts, ok := want.(timestamp); ok {
		s, isStr := v.(string)
		if !isStr {
			return -1
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return -1
		}
		return t.Compare(time.Time(ts))
	}
	return dataset.Compare(v, want)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// cidrContains reports whether addr (an IP or CIDR) lies within network
func cidrContains(network, addr string) bool {
	prefix, err := netip.ParsePrefix(network)
	if err != nil {
		ip, ipErr := netip.ParseAddr(network)
		if ipErr != nil {
			return false
		}
		prefix = netip.PrefixFrom(ip, ip.BitLen())
	}
	if sub, err := netip.ParsePrefix(addr); err == nil {
		return sub.Bits() >= prefix.Bits() && prefix.Contains(sub.Addr())
	}
	ip, err := netip.ParseAddr(addr)
	return err == nil && prefix.Contains(ip)
}

// likeToRegexp converts a SQL LIKE pattern (% and _) to an anchored regexp
func likeToRegexp(like string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^(?s)")
	for _, r := range like {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

type compiler struct {
	toks         []token
	pos          int
	observations int
}

func (c *compiler) peek() token {
	return c.toks[c.pos]
}

func (c *compiler) next() token {
	tok := c.toks[c.pos]
	if tok.kind != tokEOF {
		c.pos++
	}
	return tok
}

func (c *compiler) isWord(kw string) bool {
	tok := c.peek()
	return tok.kind == tokWord && tok.upper() == kw
}

func (c *compiler) errorf(tok token, format string, args ...interface{}) error {
	return errors.WithDetailf(errors.Newk(errors.ErrSyntax, "pattern: "+format, args...), "at offset %d", tok.start)
}

func (c *compiler) expect(kind tokenKind, what string) (token, error) {
	tok := c.peek()
	if tok.kind != kind {
		return tok, c.errorf(tok, "expected %s, got %q", what, tok.text)
	}
	return c.next(), nil
}

func (c *compiler) obsOr() (obsExpr, error) {
	left, err := c.obsAnd()
	if err != nil {
		return nil, err
	}
	for c.isWord("OR") {
		c.next()
		right, err := c.obsAnd()
		if err != nil {
			return nil, err
		}
		left = obsOr{left, right}
	}
	return left, nil
}

// obsAnd treats FOLLOWEDBY as AND: records carry no observation order
func (c *compiler) obsAnd() (obsExpr, error) {
	left, err := c.obsAtom()
	if err != nil {
		return nil, err
	}
	for c.isWord("AND") || c.isWord("FOLLOWEDBY") {
		c.next()
		right, err := c.obsAtom()
		if err != nil {
			return nil, err
		}
		left = obsAnd{left, right}
	}
	return left, nil
}

func (c *compiler) obsAtom() (obsExpr, error) {
	tok := c.peek()
	switch tok.kind {
	case tokLParen:
		c.next()
		e, err := c.obsOr()
		if err != nil {
			return nil, err
		}
		if _, err := c.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokLBrack:
		c.next()
		c.observations++
		e, err := c.cmpOr()
		if err != nil {
			return nil, err
		}
		if _, err := c.expect(tokRBrack, "']'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, c.errorf(tok, "expected '[' or '(', got %q", tok.text)
}

func (c *compiler) cmpOr() (obsExpr, error) {
	left, err := c.cmpAnd()
	if err != nil {
		return nil, err
	}
	for c.isWord("OR") {
		c.next()
		right, err := c.cmpAnd()
		if err != nil {
			return nil, err
		}
		left = obsOr{left, right}
	}
	return left, nil
}

func (c *compiler) cmpAnd() (obsExpr, error) {
	left, err := c.cmpAtom()
	if err != nil {
		return nil, err
	}
	for c.isWord("AND") {
		c.next()
		right, err := c.cmpAtom()
		if err != nil {
			return nil, err
		}
		left = obsAnd{left, right}
	}
	return left, nil
}

func (c *compiler) cmpAtom() (obsExpr, error) {
	if c.peek().kind == tokLParen {
		c.next()
		e, err := c.cmpOr()
		if err != nil {
			return nil, err
		}
		if _, err := c.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return c.comparison()
}

var wordOps = map[string]bool{
	"IN": true, "LIKE": true, "MATCHES": true, "ISSUBSET": true, "ISSUPERSET": true,
}

func (c *compiler) comparison() (obsExpr, error) {
	pathTok, err := c.expect(tokWord, "an object path")
	if err != nil {
		return nil, err
	}
	cmp := &comparison{}
	objPath := pathTok.text
	if i := strings.Index(objPath, ":"); i > 0 {
		cmp.objectType, objPath = objPath[:i], objPath[i+1:]
	}
	if i := strings.IndexByte(objPath, '['); i > 0 {
		cmp.index = strings.TrimSuffix(objPath[i+1:], "]")
		objPath = objPath[:i]
	}
	cmp.path = objPath

	if c.isWord("NOT") {
		c.next()
		cmp.negate = true
	}
	opTok := c.next()
	switch {
	case opTok.kind == tokOp:
		cmp.op = opTok.text
	case opTok.kind == tokWord && wordOps[opTok.upper()]:
		cmp.op = opTok.upper()
	default:
		return nil, c.errorf(opTok, "expected a comparison operator, got %q", opTok.text)
	}

	if cmp.op == "IN" {
		if cmp.values, err = c.list(); err != nil {
			return nil, err
		}
		return cmp, nil
	}
	v, err := c.literal()
	if err != nil {
		return nil, err
	}
	cmp.values = []interface{}{v}

	switch cmp.op {
	case "LIKE":
		cmp.re, err = likeToRegexp(asString(v))
	case "MATCHES":
		cmp.re, err = regexp.Compile(asString(v))
	}
	if err != nil {
		return nil, c.errorf(opTok, "invalid %s expression: %v", cmp.op, err)
	}
	return cmp, nil
}

func (c *compiler) list() ([]interface{}, error) {
	if _, err := c.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var vals []interface{}
	for {
		v, err := c.literal()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if c.peek().kind != tokComma {
			break
		}
		c.next()
	}
	if _, err := c.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return vals, nil
}

func (c *compiler) literal() (interface{}, error) {
	tok := c.next()
	switch tok.kind {
	case tokString:
		if tok.prefix == 't' {
			t, err := time.Parse(time.RFC3339Nano, tok.value)
			if err != nil {
				return nil, c.errorf(tok, "invalid timestamp %s", tok.text)
			}
			return timestamp(t), nil
		}
		return tok.value, nil
	case tokNumber:
		if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, c.errorf(tok, "invalid number %s", tok.text)
		}
		return f, nil
	case tokWord:
		switch tok.upper() {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return nil, c.errorf(tok, "unresolved reference %q", tok.text)
	}
	return nil, c.errorf(tok, "expected a literal value, got %q", tok.text)
}
