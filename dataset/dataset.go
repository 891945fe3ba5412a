// Package dataset implements entity-typed tables and the relational
// operations the hunt-flow commands are built from.
//
// Records are flat: nested objects are flattened into dotted attribute
// paths (src_ref.value) when a Dataset is constructed. Row order is
// insertion order until Sort reorders it. Operations never mutate their
// receiver; they return a new Dataset.
package dataset

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// Record maps attribute path to value.
type Record map[string]interface{}

// Dataset is an ordered set of records sharing one entity type.
type Dataset struct {
	EntityType string   `json:"type"`
	Columns    []string `json:"columns"`
	Records    []Record `json:"records"`
}

// New builds a Dataset from raw records: nested maps are flattened, JSON
// numbers normalized, and the schema is the sorted union of attribute paths.
func New(entityType string, records []map[string]interface{}) *Dataset {
	d := &Dataset{EntityType: entityType, Records: make([]Record, 0, len(records))}
	for _, raw := range records {
		rec := Record{}
		flatten("", raw, rec)
		d.Records = append(d.Records, rec)
	}
	d.Columns = columnsOf(d.Records)
	return d
}

// Empty returns a dataset with no records.
func Empty(entityType string) *Dataset {
	return &Dataset{EntityType: entityType, Columns: []string{}, Records: []Record{}}
}

func flatten(prefix string, in map[string]interface{}, out Record) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = normalizeValue(v)
	}
}

// normalizeValue turns integral floats and json.Number into int64
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case float32:
		return normalizeValue(float64(t))
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

func columnsOf(records []Record) []string {
	seen := map[string]bool{}
	cols := []string{}
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// NormalizePath strips a leading "<entity-type>:" qualifier from path.
func NormalizePath(path string) string {
	if i := strings.Index(path, ":"); i > 0 && !strings.Contains(path[:i], ".") {
		return path[i+1:]
	}
	return path
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// HasColumn reports whether path is part of the schema.
func (d *Dataset) HasColumn(path string) bool {
	path = NormalizePath(path)
	for _, c := range d.Columns {
		if c == path {
			return true
		}
	}
	return false
}

// Value returns the value of path in r.
func (r Record) Value(path string) (interface{}, bool) {
	v, ok := r[NormalizePath(path)]
	return v, ok
}

// Clone returns a copy whose records can be modified independently.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		EntityType: d.EntityType,
		Columns:    append([]string{}, d.Columns...),
		Records:    make([]Record, len(d.Records)),
	}
	for i, r := range d.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (r Record) clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// WithEntityType returns a shallow copy retagged with entityType.
func (d *Dataset) WithEntityType(entityType string) *Dataset {
	out := *d
	out.EntityType = entityType
	return &out
}

// Project keeps attrs, in the given order. Attributes missing from the
// schema project as nil.
func (d *Dataset) Project(attrs []string) *Dataset {
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = NormalizePath(a)
	}
	out := &Dataset{EntityType: d.EntityType, Columns: cols, Records: make([]Record, 0, len(d.Records))}
	for _, r := range d.Records {
		p := make(Record, len(cols))
		for _, c := range cols {
			p[c] = r[c]
		}
		out.Records = append(out.Records, p)
	}
	return out
}

// Slice returns at most limit records starting at offset. A limit of 0
// means no limit.
func (d *Dataset) Slice(offset, limit int) *Dataset {
	out := &Dataset{EntityType: d.EntityType, Columns: d.Columns}
	if offset >= len(d.Records) {
		out.Records = []Record{}
		return out
	}
	end := len(d.Records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out.Records = d.Records[offset:end]
	return out
}

// Compact drops records whose values are all nil and then removes
// duplicate records, keeping the first occurrence.
func (d *Dataset) Compact() *Dataset {
	out := &Dataset{EntityType: d.EntityType, Columns: d.Columns, Records: make([]Record, 0, len(d.Records))}
	for _, r := range d.Records {
		for _, v := range r {
			if v != nil {
				out.Records = append(out.Records, r)
				break
			}
		}
	}
	return out.Distinct()
}

// Distinct removes duplicate records keeping the first occurrence.
// Records are identified by their id attribute when they carry one, by
// their full content otherwise.
func (d *Dataset) Distinct() *Dataset {
	out := &Dataset{EntityType: d.EntityType, Columns: d.Columns, Records: make([]Record, 0, len(d.Records))}
	seen := map[string]bool{}
	for _, r := range d.Records {
		k := r.identity()
		if seen[k] {
			continue
		}
		seen[k] = true
		out.Records = append(out.Records, r)
	}
	return out
}

func (r Record) identity() string {
	if id, ok := r["id"]; ok && id != nil {
		return "id:" + canonical(id)
	}
	return canonical(map[string]interface{}(r))
}

// canonical renders v as JSON; map keys are sorted by encoding/json.
func canonical(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Maps returns the records as plain maps, for encoders.
func (d *Dataset) Maps() []map[string]interface{} {
	out := make([]map[string]interface{}, len(d.Records))
	for i, r := range d.Records {
		out[i] = map[string]interface{}(r)
	}
	return out
}
