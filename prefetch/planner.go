// Package prefetch plans the auxiliary queries that widen a GET or FIND
// result with the other records of the same entities, and folds their
// results back into the direct result.
package prefetch

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/stixquery"
)

// Purpose tags why a prefetch query was planned
type Purpose string

const (
	// PurposeNameChange catches a process under the name it had at query time
	PurposeNameChange Purpose = "name-change"
	// PurposeLifespan catches records of a process over its whole lifetime
	PurposeLifespan Purpose = "lifespan"
	// PurposeIdentity catches other records of the same entities
	PurposeIdentity Purpose = "identity"
)

// Offsets is a signed [start, stop] pair in seconds around an observed span.
// A zero-width pair disables the query it governs.
type Offsets struct {
	Start int
	Stop  int
}

// Disabled reports a zero-width pair
func (o Offsets) Disabled() bool {
	return o.Start == 0 && o.Stop == 0
}

func (o Offsets) window(first, last time.Time) ast.TimeRange {
	return stixquery.Window(first, last, time.Duration(o.Start)*time.Second, time.Duration(o.Stop)*time.Second)
}

// Config holds the planner's offsets.
type Config struct {
	NameChange Offsets
	Lifespan   Offsets
	Default    Offsets
	SupportID  bool
}

// Query is one planned auxiliary query
type Query struct {
	Purpose Purpose
	Pattern stixquery.Pattern
}

// Result pairs a planned query with what the data source returned for it
type Result struct {
	Query Query
	Data  *dataset.Dataset
}

// Planner decides prefetch queries per entity type.
type Planner struct {
	cfg    Config
	logger *zap.SugaredLogger
}

// NewPlanner creates a planner; a nil logger disables logging.
func NewPlanner(cfg Config, log *zap.SugaredLogger) *Planner {
	return &Planner{cfg: cfg, logger: logger.OrNop(log).Named("prefetch")}
}

// Plan returns the auxiliary queries for direct, in execution order. The
// span they widen is the observed span of direct's records, or window when
// the records carry no observation times. Plan returns nil for an empty
// dataset.
func (p *Planner) Plan(direct *dataset.Dataset, window ast.TimeRange) []Query {
	if direct.Len() == 0 {
		return nil
	}
	first, last, ok := stixquery.ObservedSpan(direct)
	if !ok {
		first, last = window.Start, window.Stop
	}

	var queries []Query
	add := func(purpose Purpose, offsets Offsets, attrs []string) {
		if offsets.Disabled() {
			p.logger.Debugw("prefetch query disabled by zero-width offsets", logger.FieldPurpose, purpose)
			return
		}
		body := identityBody(direct, attrs)
		if body == "" {
			return
		}
		r := offsets.window(first, last)
		if !r.Start.Before(r.Stop) {
			return
		}
		queries = append(queries, Query{
			Purpose: purpose,
			Pattern: stixquery.Pattern{Body: body, Range: r, SupportID: p.cfg.SupportID},
		})
	}

	switch {
	case p.cfg.SupportID && direct.IDAttribute() == "id":
		add(PurposeIdentity, p.cfg.Default, []string{"id"})
	case direct.EntityType == "process":
		add(PurposeNameChange, p.cfg.NameChange, []string{"pid"})
		add(PurposeLifespan, p.cfg.Lifespan, presentAttrs(direct, "pid", "name"))
	default:
		if attr := identityAttr(direct); attr != "" {
			add(PurposeIdentity, p.cfg.Default, []string{attr})
		}
	}

	p.logger.Debugw("prefetch planned",
		logger.FieldEntityType, direct.EntityType,
		logger.FieldCount, len(queries))
	return queries
}

// identityAttr is the first non-id identity attribute every record carries
func identityAttr(d *dataset.Dataset) string {
	for _, a := range dataset.IdentityAttributes(d.EntityType) {
		if a == "id" {
			continue
		}
		if d.HasColumn(a) {
			return a
		}
	}
	return ""
}

func presentAttrs(d *dataset.Dataset, attrs ...string) []string {
	var out []string
	for _, a := range attrs {
		if d.HasColumn(a) {
			out = append(out, a)
		}
	}
	return out
}

// identityBody builds one observation expression matching any record of d
// on attrs: "[t:a IN (...)]" for one attribute, an OR of AND-ed tuples for
// several. Returns "" when no record has a value for attrs.
func identityBody(d *dataset.Dataset, attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	typ := d.EntityType

	if len(attrs) == 1 {
		var values []string
		seen := map[string]bool{}
		for _, r := range d.Records {
			if v := r[attrs[0]]; v != nil {
				lit := stixquery.Literal(v)
				if !seen[lit] {
					seen[lit] = true
					values = append(values, lit)
				}
			}
		}
		switch len(values) {
		case 0:
			return ""
		case 1:
			return "[" + typ + ":" + attrs[0] + " = " + values[0] + "]"
		}
		return "[" + typ + ":" + attrs[0] + " IN (" + strings.Join(values, ", ") + ")]"
	}

	var clauses []string
	seen := map[string]bool{}
	for _, r := range d.Records {
		var terms []string
		for _, a := range attrs {
			if v := r[a]; v != nil {
				terms = append(terms, typ+":"+a+" = "+stixquery.Literal(v))
			}
		}
		if len(terms) == 0 {
			continue
		}
		clause := "(" + strings.Join(terms, " AND ") + ")"
		if !seen[clause] {
			seen[clause] = true
			clauses = append(clauses, clause)
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	return "[" + strings.Join(clauses, " OR ") + "]"
}
