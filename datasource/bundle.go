package datasource

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/stixquery"
)

// Bundle is a set of typed records that can be queried by pattern and
// traversed through reference attributes.
type Bundle struct {
	// records keyed by entity type, in file order
	byType map[string][]dataset.Record
	// untyped records answer a GET of any type
	untyped []map[string]interface{}
	byID    map[string]dataset.Record
}

// ParseBundle decodes a JSON bundle: a list of records, an object with an
// "objects" list, or a STIX bundle whose observed-data objects embed their
// observables. Each record names its entity type in "type".
func ParseBundle(data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var top interface{}
	if err := dec.Decode(&top); err != nil {
		return nil, errors.Wrap(err, "bundle is not valid JSON")
	}

	var objects []interface{}
	switch t := top.(type) {
	case []interface{}:
		objects = t
	case map[string]interface{}:
		list, ok := t["objects"].([]interface{})
		if !ok {
			return nil, errors.New(`bundle object has no "objects" list`)
		}
		objects = list
	default:
		return nil, errors.New("bundle must be a list of records or an object with an objects list")
	}

	b := &Bundle{byType: map[string][]dataset.Record{}, byID: map[string]dataset.Record{}}
	for i, o := range objects {
		m, ok := o.(map[string]interface{})
		if !ok {
			return nil, errors.Newf("bundle item %d is not an object", i)
		}
		if m["type"] == "observed-data" {
			b.addObserved(m)
			continue
		}
		b.add(m)
	}
	return b, nil
}

// NewBundle builds a bundle from already decoded records
func NewBundle(records []map[string]interface{}) *Bundle {
	b := &Bundle{byType: map[string][]dataset.Record{}, byID: map[string]dataset.Record{}}
	for _, r := range records {
		b.add(r)
	}
	return b
}

// Add indexes the records of sets under their entity types.
func (b *Bundle) Add(sets ...*dataset.Dataset) {
	for _, d := range sets {
		for _, r := range d.Records {
			b.byType[d.EntityType] = append(b.byType[d.EntityType], r)
			if id := recordID(r); id != "" {
				b.byID[id] = r
			}
		}
	}
}

func (b *Bundle) add(m map[string]interface{}) {
	typ, _ := m["type"].(string)
	rest := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k != "type" {
			rest[k] = v
		}
	}
	if typ == "" {
		b.untyped = append(b.untyped, rest)
		return
	}
	rec := dataset.New(typ, []map[string]interface{}{rest}).Records[0]
	b.byType[typ] = append(b.byType[typ], rec)
	if id, ok := rec["id"].(string); ok {
		b.byID[id] = rec
	}
}

// addObserved emits the observables of one observed-data object, each
// stamped with its observation window. An index reference ("0") in a _ref
// attribute embeds the referenced observable, so patterns can address
// dst_ref.value; indices in _refs lists become the observables' ids.
func (b *Bundle) addObserved(od map[string]interface{}) {
	embedded, _ := od["objects"].(map[string]interface{})
	keys := make([]string, 0, len(embedded))
	for k := range embedded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		m, ok := embedded[k].(map[string]interface{})
		if !ok {
			continue
		}
		out := make(map[string]interface{}, len(m)+2)
		for attr, v := range m {
			out[attr] = resolveIndexRefs(attr, v, embedded)
		}
		for _, attr := range []string{"first_observed", "last_observed"} {
			if v, ok := od[attr]; ok {
				out[attr] = v
			}
		}
		b.add(out)
	}
}

func resolveIndexRefs(attr string, v interface{}, embedded map[string]interface{}) interface{} {
	switch {
	case strings.HasSuffix(attr, "_ref"):
		if s, ok := v.(string); ok {
			if target, ok := embedded[s].(map[string]interface{}); ok {
				out := make(map[string]interface{}, len(target))
				for k, tv := range target {
					if k != "type" && !strings.HasSuffix(k, "_ref") && !strings.HasSuffix(k, "_refs") {
						out[k] = tv
					}
				}
				return out
			}
		}
	case strings.HasSuffix(attr, "_refs"):
		if list, ok := v.([]interface{}); ok {
			out := make([]interface{}, len(list))
			for i, e := range list {
				out[i] = e
				if s, ok := e.(string); ok {
					if target, ok := embedded[s].(map[string]interface{}); ok && target["id"] != nil {
						out[i] = target["id"]
					}
				}
			}
			return out
		}
	}
	return v
}

// Retrieve returns the records of entityType matching p's body within
// p's time range.
func (b *Bundle) Retrieve(entityType string, p stixquery.Pattern) (*dataset.Dataset, error) {
	m, err := stixquery.Compile(p.Body)
	if err != nil {
		return nil, err
	}
	candidates := &dataset.Dataset{EntityType: entityType, Records: b.byType[entityType]}
	if len(b.untyped) > 0 {
		untyped := dataset.New(entityType, b.untyped)
		candidates = &dataset.Dataset{EntityType: entityType, Records: append(append([]dataset.Record(nil), candidates.Records...), untyped.Records...)}
	}

	var keep []map[string]interface{}
	for _, r := range candidates.Records {
		if m.Match(entityType, r) && stixquery.InRange(r, p.Range) {
			keep = append(keep, r)
		}
	}
	if len(keep) == 0 {
		return dataset.Empty(entityType), nil
	}
	return dataset.New(entityType, keep), nil
}

// Traverse returns the records of req.EntityType related to req.Source
// through req.Relation. Without BY the returned entities are the subject
// of the relation (they created the source); with BY the source is.
func (b *Bundle) Traverse(req stixquery.TraverseRequest) (*dataset.Dataset, error) {
	subjType, objType := req.EntityType, req.Source.EntityType
	if req.Reversed {
		subjType, objType = objType, subjType
	}
	edges := findEdges(subjType, req.Relation, objType)
	if len(edges) == 0 {
		return dataset.Empty(req.EntityType), nil
	}

	sourceIDs := idSet(req.Source.Records)
	var keep []map[string]interface{}
	for _, cand := range b.byType[req.EntityType] {
		if req.Range != nil && !stixquery.InRange(cand, *req.Range) {
			continue
		}
		if b.related(cand, req.Source.Records, sourceIDs, edges, req.Reversed) {
			keep = append(keep, cand)
		}
	}
	if len(keep) == 0 {
		return dataset.Empty(req.EntityType), nil
	}
	return dataset.New(req.EntityType, keep), nil
}

// related reports whether cand is linked to any source record by an edge.
// reversed means the source records are the edge subjects.
func (b *Bundle) related(cand dataset.Record, sources []dataset.Record, sourceIDs map[string]bool, edges []edge, reversed bool) bool {
	candID := recordID(cand)
	for _, e := range edges {
		subjIsCand := !reversed
		holderIsCand := e.onSubject == subjIsCand
		if holderIsCand {
			for _, ref := range refValues(cand, e.attr) {
				if sourceIDs[ref] {
					return true
				}
			}
			continue
		}
		if candID == "" {
			continue
		}
		for _, src := range sources {
			for _, ref := range refValues(src, e.attr) {
				if ref == candID {
					return true
				}
			}
		}
	}
	return false
}

func idSet(records []dataset.Record) map[string]bool {
	set := map[string]bool{}
	for _, r := range records {
		if id := recordID(r); id != "" {
			set[id] = true
		}
	}
	return set
}

func recordID(r dataset.Record) string {
	id, _ := r["id"].(string)
	return id
}

// refValues returns the ids held by a _ref or _refs attribute, whether
// stored as an id or as an embedded object with an id
func refValues(r dataset.Record, attr string) []string {
	var out []string
	collect := func(v interface{}) {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	switch v := r[attr].(type) {
	case []interface{}:
		for _, e := range v {
			collect(e)
		}
	default:
		collect(v)
	}
	collect(r[attr+".id"])
	return out
}
