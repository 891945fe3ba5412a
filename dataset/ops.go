package dataset

import (
	"sort"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/errors"
)

// Sort stably orders records by key. Descending order reverses the
// comparator, so records with equal keys keep their relative order in
// both directions.
func (d *Dataset) Sort(key string, desc bool) (*Dataset, error) {
	key = NormalizePath(key)
	if !d.HasColumn(key) {
		return nil, errors.Newk(errors.ErrSortKeyNotFound, "cannot sort %s entities by %q: attribute not found", d.EntityType, key)
	}
	out := &Dataset{EntityType: d.EntityType, Columns: d.Columns, Records: append([]Record{}, d.Records...)}
	sort.SliceStable(out.Records, func(i, j int) bool {
		c := Compare(out.Records[i][key], out.Records[j][key])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

// DefaultJoinKey picks the attribute to join two datasets on when the
// script gives none: "id", then the identity attributes of the left type,
// whichever both schemas carry first.
func DefaultJoinKey(left, right *Dataset) (string, error) {
	candidates := append([]string{"id"}, IdentityAttributes(left.EntityType)...)
	for _, c := range candidates {
		if left.HasColumn(c) && right.HasColumn(c) {
			return c, nil
		}
	}
	return "", errors.Newk(errors.ErrJoinKeyNotFound,
		"no common identity attribute between %s and %s; use JOIN ... BY <attr>, <attr>", left.EntityType, right.EntityType)
}

// Join is an inner equi-join of left.leftKey with right.rightKey. The
// result has the left entity type; right attributes whose names collide
// with left attributes are dropped. Nil keys never match.
func Join(left, right *Dataset, leftKey, rightKey string) (*Dataset, error) {
	leftKey, rightKey = NormalizePath(leftKey), NormalizePath(rightKey)
	if !left.HasColumn(leftKey) {
		return nil, errors.Newk(errors.ErrJoinKeyNotFound, "join key %q not found in %s", leftKey, left.EntityType)
	}
	if !right.HasColumn(rightKey) {
		return nil, errors.Newk(errors.ErrJoinKeyNotFound, "join key %q not found in %s", rightKey, right.EntityType)
	}

	index := map[string][]Record{}
	for _, r := range right.Records {
		if v := r[rightKey]; v != nil {
			k := joinKey(v)
			index[k] = append(index[k], r)
		}
	}

	leftCols := map[string]bool{}
	for _, c := range left.Columns {
		leftCols[c] = true
	}
	cols := append([]string{}, left.Columns...)
	for _, c := range right.Columns {
		if !leftCols[c] {
			cols = append(cols, c)
		}
	}

	out := &Dataset{EntityType: left.EntityType, Records: []Record{}}
	for _, l := range left.Records {
		v := l[leftKey]
		if v == nil {
			continue
		}
		for _, r := range index[joinKey(v)] {
			joined := l.clone()
			for k, rv := range r {
				if !leftCols[k] {
					joined[k] = rv
				}
			}
			out.Records = append(out.Records, joined)
		}
	}
	sort.Strings(cols)
	out.Columns = cols
	return out, nil
}

// joinKey makes numerically equal values of different Go types collide
func joinKey(v interface{}) string {
	if f, ok := ToFloat(v); ok {
		return canonical(f)
	}
	return canonical(v)
}

// Union concatenates datasets of one entity type in order, keeping every
// record. Callers that need one record per entity apply Distinct. Fails
// with ErrSchemaMismatch when entity types differ.
func Union(sets ...*Dataset) (*Dataset, error) {
	if len(sets) == 0 {
		return nil, errors.New("union of no datasets")
	}
	typ := sets[0].EntityType
	n := 0
	for _, s := range sets {
		if s.EntityType != typ {
			return nil, errors.Newk(errors.ErrSchemaMismatch,
				"cannot merge entity types %s and %s", typ, s.EntityType)
		}
		n += len(s.Records)
	}

	out := &Dataset{EntityType: typ, Records: make([]Record, 0, n)}
	for _, s := range sets {
		out.Records = append(out.Records, s.Records...)
	}
	out.Columns = columnsOf(out.Records)
	return out, nil
}

// DefaultAggregates are applied by GROUP without a WITH clause: sums and
// time bounds of the observation attributes the dataset carries, or a
// row count per group when it carries none.
func DefaultAggregates(d *Dataset, keys []string) []ast.AggregateSpec {
	var aggs []ast.AggregateSpec
	for _, a := range []ast.AggregateSpec{
		{Func: ast.AggSum, Attr: "number_observed"},
		{Func: ast.AggMin, Attr: "first_observed"},
		{Func: ast.AggMax, Attr: "last_observed"},
	} {
		if d.HasColumn(a.Attr) {
			a.Alias = ast.DefaultAlias(a.Func, a.Attr)
			aggs = append(aggs, a)
		}
	}
	if len(aggs) == 0 && len(keys) > 0 {
		alias := "count"
		for _, k := range keys {
			if NormalizePath(k) == alias {
				alias = ast.DefaultAlias(ast.AggCount, NormalizePath(keys[0]))
			}
		}
		aggs = append(aggs, ast.AggregateSpec{Func: ast.AggCount, Attr: keys[0], Alias: alias})
	}
	return aggs
}

// Group partitions records by the values of keys, in order of first
// appearance, and computes aggs per group. Output columns are the
// normalized key paths followed by the aggregate aliases.
func (d *Dataset) Group(keys []string, aggs []ast.AggregateSpec) (*Dataset, error) {
	norm := make([]string, len(keys))
	for i, k := range keys {
		norm[i] = NormalizePath(k)
		if !d.HasColumn(norm[i]) {
			return nil, errors.Newk(errors.ErrAggregateKeyNotFound, "cannot group %s entities by %q: attribute not found", d.EntityType, k)
		}
	}
	if len(aggs) == 0 {
		aggs = DefaultAggregates(d, keys)
	}
	taken := map[string]bool{}
	for _, k := range norm {
		taken[k] = true
	}
	for _, a := range aggs {
		if !d.HasColumn(a.Attr) {
			return nil, errors.Newk(errors.ErrAggregateKeyNotFound, "cannot aggregate %s(%s): attribute not found", a.Func, a.Attr)
		}
		if taken[a.Alias] {
			return nil, errors.Newk(errors.ErrSyntax, "aggregate alias %s is already an output column", a.Alias)
		}
		taken[a.Alias] = true
	}

	type group struct {
		key  Record
		rows []Record
	}
	var order []*group
	byKey := map[string]*group{}
	for _, r := range d.Records {
		kr := make(Record, len(norm))
		for _, k := range norm {
			kr[k] = r[k]
		}
		id := canonical(map[string]interface{}(kr))
		g, ok := byKey[id]
		if !ok {
			g = &group{key: kr}
			byKey[id] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, r)
	}

	cols := append([]string{}, norm...)
	for _, a := range aggs {
		cols = append(cols, a.Alias)
	}
	out := &Dataset{EntityType: d.EntityType, Columns: cols, Records: make([]Record, 0, len(order))}
	for _, g := range order {
		rec := g.key.clone()
		for _, a := range aggs {
			rec[a.Alias] = aggregate(a.Func, NormalizePath(a.Attr), g.rows)
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func aggregate(fn ast.AggFunc, attr string, rows []Record) interface{} {
	var vals []interface{}
	for _, r := range rows {
		if v := r[attr]; v != nil {
			vals = append(vals, v)
		}
	}

	switch fn {
	case ast.AggCount:
		return int64(len(vals))
	case ast.AggNUnique:
		seen := map[string]bool{}
		for _, v := range vals {
			seen[joinKey(v)] = true
		}
		return int64(len(seen))
	case ast.AggMin, ast.AggMax:
		var best interface{}
		for _, v := range vals {
			c := Compare(v, best)
			if best == nil || (fn == ast.AggMin && c < 0) || (fn == ast.AggMax && c > 0) {
				best = v
			}
		}
		return best
	case ast.AggSum, ast.AggAvg:
		var sum float64
		n := 0
		allInt := true
		for _, v := range vals {
			f, ok := ToFloat(v)
			if !ok {
				continue
			}
			if _, isInt := v.(int64); !isInt {
				allInt = false
			}
			sum += f
			n++
		}
		if n == 0 {
			return nil
		}
		if fn == ast.AggAvg {
			return sum / float64(n)
		}
		if allInt {
			return int64(sum)
		}
		return sum
	}
	return nil
}
