package stixquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
)

// Resolver looks up bound variables referenced from a pattern body.
type Resolver interface {
	Resolve(name string) (*dataset.Dataset, error)
}

// TraverseRequest asks a data source for entities related to Source.
// A nil Range is unbounded.
type TraverseRequest struct {
	EntityType string
	Relation   string
	Reversed   bool
	Source     *dataset.Dataset
	Range      *ast.TimeRange
}

// Translator builds bounded queries from GET and FIND commands.
type Translator struct {
	StartOffset time.Duration
	StopOffset  time.Duration
	SupportID   bool
}

// NewTranslator takes the default retrieval offsets in seconds.
func NewTranslator(startOffset, stopOffset int, supportID bool) *Translator {
	return &Translator{
		StartOffset: time.Duration(startOffset) * time.Second,
		StopOffset:  time.Duration(stopOffset) * time.Second,
		SupportID:   supportID,
	}
}

// BuildGet turns a GET into a Pattern. References to bound variables in
// the body (procs.pid) are replaced with their values. The time range is
// the explicit one when given; otherwise the observed span of the
// referenced records widened by the default offsets; otherwise the
// default offsets around now.
func (t *Translator) BuildGet(get *ast.Get, now time.Time, vars Resolver) (Pattern, error) {
	body, refs, err := substituteReferences(get.Pattern, vars)
	if err != nil {
		return Pattern{}, err
	}

	p := Pattern{Body: body, SupportID: t.SupportID}
	switch {
	case get.Time != nil:
		p.Range = *get.Time
	default:
		if first, last, ok := ObservedSpan(refs...); ok {
			p.Range = Window(first, last, t.StartOffset, t.StopOffset)
		} else {
			p.Range = Window(now, now, t.StartOffset, t.StopOffset)
		}
	}
	if !p.Range.Start.Before(p.Range.Stop) {
		return Pattern{}, errors.Newk(errors.ErrSyntax, "time range start %s is not before stop %s",
			p.Range.Start.Format(time.RFC3339), p.Range.Stop.Format(time.RFC3339))
	}
	return p, nil
}

// BuildFind turns a FIND over an already resolved source into a
// traversal request. No default window applies.
func (t *Translator) BuildFind(find *ast.Find, source *dataset.Dataset) TraverseRequest {
	return TraverseRequest{
		EntityType: find.EntityType,
		Relation:   find.Relation,
		Reversed:   find.Reversed,
		Source:     source,
		Range:      find.Time,
	}
}

// Window widens [first, last] by the given offsets.
func Window(first, last time.Time, startOffset, stopOffset time.Duration) ast.TimeRange {
	return ast.TimeRange{
		Start: first.Add(startOffset).UTC(),
		Stop:  last.Add(stopOffset).UTC(),
	}
}

// ObservedSpan returns the earliest first_observed and the latest
// last_observed across the records of sets. ok is false when no record
// carries a parsable observation time.
func ObservedSpan(sets ...*dataset.Dataset) (first, last time.Time, ok bool) {
	for _, d := range sets {
		for _, r := range d.Records {
			if f, good := observedTime(r, "first_observed"); good && (!ok || f.Before(first)) {
				first = f
				if !ok {
					last = f
				}
				ok = true
			}
			if l, good := observedTime(r, "last_observed"); good && (!ok || l.After(last)) {
				last = l
				if !ok {
					first = l
				}
				ok = true
			}
		}
	}
	return first, last, ok
}

// InRange reports whether r's observation interval overlaps tr. Records
// without observation times are in range.
func InRange(r dataset.Record, tr ast.TimeRange) bool {
	first, fok := observedTime(r, "first_observed")
	last, lok := observedTime(r, "last_observed")
	switch {
	case fok && lok:
		return !first.After(tr.Stop) && !last.Before(tr.Start)
	case fok:
		return !first.After(tr.Stop) && !first.Before(tr.Start)
	case lok:
		return !last.After(tr.Stop) && !last.Before(tr.Start)
	}
	return true
}

func observedTime(r dataset.Record, attr string) (time.Time, bool) {
	s, isStr := r[attr].(string)
	if !isStr {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	return ts.UTC(), err == nil
}

// substituteReferences replaces var.attr operands with literal values
func substituteReferences(body string, vars Resolver) (string, []*dataset.Dataset, error) {
	toks, err := lex(body)
	if err != nil {
		return "", nil, err
	}

	var out strings.Builder
	var refs []*dataset.Dataset
	copied := 0
	for i := 1; i < len(toks); i++ {
		tok := toks[i]
		name, attr, isRef := splitReference(tok)
		if !isRef {
			continue
		}
		opTok := toks[i-1]
		op := opTok.text
		if opTok.kind == tokWord {
			op = opTok.upper()
		}
		if opTok.kind != tokOp && op != "IN" {
			continue
		}

		if vars == nil {
			return "", nil, errors.Newk(errors.ErrUnboundVariable, "variable %q is not bound", name)
		}
		d, err := vars.Resolve(name)
		if err != nil {
			return "", nil, err
		}
		if !d.HasColumn(attr) {
			return "", nil, errors.Newk(errors.ErrSchemaMismatch, "variable %s has no attribute %q", name, attr)
		}
		values := distinctValues(d, attr)
		if len(values) == 0 {
			return "", nil, errors.Newk(errors.ErrEmptyInput, "variable %s has no values for %q", name, attr)
		}
		refs = append(refs, d)

		// replacement spans from the operator (or from the reference for IN)
		from := opTok.start
		var repl string
		switch {
		case op == "IN":
			from = tok.start
			repl = "(" + joinLiterals(values) + ")"
		case len(values) == 1:
			repl = op + " " + Literal(values[0])
		case op == "=":
			repl = "IN (" + joinLiterals(values) + ")"
		case op == "!=":
			repl = "NOT IN (" + joinLiterals(values) + ")"
		default:
			return "", nil, errors.Newk(errors.ErrSyntax,
				"reference %s.%s has %d values and cannot be used with %s", name, attr, len(values), op)
		}
		out.WriteString(body[copied:from])
		out.WriteString(repl)
		copied = tok.end
	}
	out.WriteString(body[copied:])
	return out.String(), refs, nil
}

// splitReference recognizes var.attr words; type:path words are not references
func splitReference(tok token) (name, attr string, ok bool) {
	if tok.kind != tokWord || strings.Contains(tok.text, ":") {
		return "", "", false
	}
	i := strings.IndexByte(tok.text, '.')
	if i <= 0 || i == len(tok.text)-1 {
		return "", "", false
	}
	return tok.text[:i], tok.text[i+1:], true
}

func distinctValues(d *dataset.Dataset, attr string) []interface{} {
	var out []interface{}
	seen := map[string]bool{}
	for _, r := range d.Records {
		v, _ := r.Value(attr)
		if v == nil {
			continue
		}
		k := Literal(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func joinLiterals(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Literal(v)
	}
	return strings.Join(parts, ", ")
}

// Literal renders a record value as a STIX pattern literal.
func Literal(v interface{}) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(t) + "'"
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if f, ok := dataset.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return Literal(fmt.Sprint(v))
}
