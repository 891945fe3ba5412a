package prefetch

import (
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/stixquery"
)

// Reconcile folds prefetch results into direct. Candidates are kept only
// when they belong to an entity of direct: same pid and name for lifespan
// results, same pid observed inside the query window for name-change
// results, same identity value otherwise. The union keeps direct's records
// first and drops duplicates.
func (p *Planner) Reconcile(direct *dataset.Dataset, results []Result) (*dataset.Dataset, error) {
	sets := []*dataset.Dataset{direct}
	for _, res := range results {
		if res.Data.Len() == 0 {
			continue
		}
		kept := p.filter(direct, res)
		p.logger.Debugw("prefetch result filtered",
			logger.FieldPurpose, res.Query.Purpose,
			logger.FieldCount, kept.Len(),
			logger.FieldRemoved, res.Data.Len()-kept.Len())
		sets = append(sets, kept.WithEntityType(direct.EntityType))
	}

	merged, err := dataset.Union(sets...)
	if err != nil {
		return nil, err
	}
	return merged.Distinct(), nil
}

func (p *Planner) filter(direct *dataset.Dataset, res Result) *dataset.Dataset {
	var keep func(dataset.Record) bool
	switch res.Query.Purpose {
	case PurposeLifespan:
		attrs := presentAttrs(direct, "pid", "name")
		known := tupleSet(direct, attrs)
		keep = func(r dataset.Record) bool { return known[tupleKey(r, attrs)] }
	case PurposeNameChange:
		known := tupleSet(direct, []string{"pid"})
		window := res.Query.Pattern.Range
		keep = func(r dataset.Record) bool {
			return known[tupleKey(r, []string{"pid"})] && stixquery.InRange(r, window)
		}
	default:
		attr := "id"
		if direct.IDAttribute() != "id" {
			attr = identityAttr(direct)
		}
		known := tupleSet(direct, []string{attr})
		keep = func(r dataset.Record) bool { return known[tupleKey(r, []string{attr})] }
	}

	out := &dataset.Dataset{EntityType: res.Data.EntityType, Columns: res.Data.Columns, Records: []dataset.Record{}}
	for _, r := range res.Data.Records {
		if keep(r) {
			out.Records = append(out.Records, r)
		}
	}
	return out
}

func tupleSet(d *dataset.Dataset, attrs []string) map[string]bool {
	set := map[string]bool{}
	for _, r := range d.Records {
		set[tupleKey(r, attrs)] = true
	}
	return set
}

func tupleKey(r dataset.Record, attrs []string) string {
	key := ""
	for _, a := range attrs {
		key += stixquery.Literal(r[a]) + "\x00"
	}
	return key
}
