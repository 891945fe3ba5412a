package interpreter

import (
	"context"
	"strings"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/datasource"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/dump"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/prefetch"
	"github.com/teranos/kestrel/stixquery"
	"github.com/teranos/kestrel/symtable"
)

func (in *Interpreter) get(ctx context.Context, stmt ast.Statement, cmd *ast.Get) (outcome, error) {
	pattern, err := in.translator.BuildGet(cmd, in.now(), in.env.Resolver(ctx))
	if err != nil {
		return outcome{}, err
	}

	if cmd.From != "" && !strings.Contains(cmd.From, "://") && in.env.Has(cmd.From) {
		return in.getFromVariable(ctx, stmt, cmd, pattern)
	}

	ref := in.sourceRef(cmd.From)
	in.logger.Debugw("retrieving",
		logger.FieldEntityType, cmd.EntityType,
		logger.FieldDataSource, ref,
		logger.FieldPattern, pattern.String(),
		logger.FieldStartTime, pattern.Range.Start,
		logger.FieldStopTime, pattern.Range.Stop)

	direct, err := in.sources.Retrieve(ctx, cmd.EntityType, ref, pattern)
	in.observeSource(ref, "retrieve")
	if err != nil {
		return outcome{}, err
	}
	if cmd.From != "" {
		in.lastSource = ref
	}

	result := direct
	if in.cfg.PrefetchGet {
		if result, err = in.prefetch(ctx, ref, direct, pattern.Range); err != nil {
			return outcome{}, err
		}
	}
	return outcome{bindings: []binding{target(stmt, result, origin(stmt, ref))}}, nil
}

// getFromVariable filters a bound variable locally instead of asking a
// data source. The time range only applies when the script gave one.
func (in *Interpreter) getFromVariable(ctx context.Context, stmt ast.Statement, cmd *ast.Get, pattern stixquery.Pattern) (outcome, error) {
	src, err := in.env.Resolve(ctx, cmd.From)
	if err != nil {
		return outcome{}, err
	}
	m, err := stixquery.Compile(pattern.Body)
	if err != nil {
		return outcome{}, err
	}
	filtered := m.Filter(src, cmd.EntityType)
	if cmd.Time != nil {
		kept := make([]dataset.Record, 0, filtered.Len())
		for _, r := range filtered.Records {
			if stixquery.InRange(r, *cmd.Time) {
				kept = append(kept, r)
			}
		}
		filtered = &dataset.Dataset{EntityType: filtered.EntityType, Columns: filtered.Columns, Records: kept}
	}
	filtered = filtered.WithEntityType(cmd.EntityType)

	var ds string
	if v, ok := in.env.Lookup(cmd.From); ok {
		ds = v.DataSource
	}
	in.logger.Debugw("filtered variable source",
		logger.FieldVariable, cmd.From,
		logger.FieldCount, filtered.Len())
	return outcome{bindings: []binding{target(stmt, filtered, origin(stmt, ds, cmd.From))}}, nil
}

// sourceRef resolves the datasource of a GET: the one named, else the last
// one used in this session, else the default schema.
func (in *Interpreter) sourceRef(from string) string {
	switch {
	case from != "":
		return in.sources.Normalize(from)
	case in.lastSource != "":
		return in.lastSource
	}
	return in.cfg.DefaultDatasourceSchema + "://"
}

func (in *Interpreter) observeSource(ref, kind string) {
	scheme, _, _ := datasource.SplitRef(ref)
	in.metrics.ObserveSourceQuery(scheme, kind)
}

// prefetch widens direct with the auxiliary queries the planner decides on
func (in *Interpreter) prefetch(ctx context.Context, ref string, direct *dataset.Dataset, window ast.TimeRange) (*dataset.Dataset, error) {
	queries := in.planner.Plan(direct, window)
	if len(queries) == 0 {
		return direct, nil
	}
	results := make([]prefetch.Result, 0, len(queries))
	for _, q := range queries {
		in.logger.Debugw("prefetching",
			logger.FieldPurpose, q.Purpose,
			logger.FieldDataSource, ref,
			logger.FieldPattern, q.Pattern.String())
		data, err := in.sources.Retrieve(ctx, direct.EntityType, ref, q.Pattern)
		in.observeSource(ref, "prefetch")
		if err != nil {
			return nil, err
		}
		in.metrics.ObservePrefetch(string(q.Purpose), data.Len())
		results = append(results, prefetch.Result{Query: q, Data: data})
	}
	return in.planner.Reconcile(direct, results)
}

// find searches the records already bound in the session first, then the
// data source the input variable came from, if any.
func (in *Interpreter) find(ctx context.Context, stmt ast.Statement, cmd *ast.Find) (outcome, error) {
	sets, err := in.resolveNonEmpty(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	src := sets[0]
	req := in.translator.BuildFind(cmd, src)

	local, err := in.traverseLocal(ctx, req)
	if err != nil {
		return outcome{}, err
	}
	result := local

	var ref string
	if v, ok := in.env.Lookup(cmd.Input); ok {
		ref = v.DataSource
	}
	if ref != "" {
		remote, err := in.sources.Traverse(ctx, ref, req)
		in.observeSource(ref, "traverse")
		if err != nil {
			return outcome{}, err
		}
		if in.cfg.PrefetchFind {
			window := stixquery.Window(in.now(), in.now(),
				in.translator.StartOffset, in.translator.StopOffset)
			if req.Range != nil {
				window = *req.Range
			}
			if remote, err = in.prefetch(ctx, ref, remote, window); err != nil {
				return outcome{}, err
			}
		}
		merged, err := dataset.Union(local, remote)
		if err != nil {
			return outcome{}, err
		}
		result = merged.Distinct()
	}

	in.logger.Debugw("found related entities",
		logger.FieldEntityType, cmd.EntityType,
		logger.FieldDataSource, ref,
		"local", local.Len(),
		logger.FieldCount, result.Len())
	return outcome{bindings: []binding{target(stmt, result, origin(stmt, ref, cmd.Input))}}, nil
}

// traverseLocal answers req from the records bound to session variables
func (in *Interpreter) traverseLocal(ctx context.Context, req stixquery.TraverseRequest) (*dataset.Dataset, error) {
	b := datasource.NewBundle(nil)
	for _, name := range in.env.Names() {
		d, err := in.env.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		b.Add(d)
	}
	found, err := b.Traverse(req)
	if err != nil {
		return nil, err
	}
	return found.Distinct(), nil
}

func (in *Interpreter) disp(ctx context.Context, cmd *ast.Disp) (outcome, error) {
	sets, err := in.resolveAll(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	d := sets[0]
	if len(cmd.Attrs) > 0 {
		d = d.Project(cmd.Attrs)
	}
	d = d.Slice(cmd.Offset, cmd.Limit)
	return outcome{display: display.NewTable(d)}, nil
}

func (in *Interpreter) info(ctx context.Context, cmd *ast.Info) (outcome, error) {
	sets, err := in.resolveAll(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	v, _ := in.env.Lookup(cmd.Input)
	return outcome{display: display.NewInfo(display.VariableInfo{
		Name:         cmd.Input,
		Data:         sets[0],
		BirthCommand: v.BirthCommand,
		DataSource:   v.DataSource,
		Dependents:   in.env.Dependents(cmd.Input),
	})}, nil
}

// apply binds each analytics output back to the input it came from and
// the first output to the statement target.
func (in *Interpreter) apply(ctx context.Context, stmt ast.Statement, cmd *ast.Apply) (outcome, error) {
	inputs, err := in.resolveNonEmpty(ctx, cmd.Inputs...)
	if err != nil {
		return outcome{}, err
	}
	ref := in.analytics.Normalize(cmd.Analytics)
	in.logger.Debugw("applying analytics",
		logger.FieldAnalytics, ref,
		logger.FieldCount, len(inputs))

	res, err := in.analytics.Invoke(ctx, ref, inputs, cmd.Params)
	if err != nil {
		return outcome{}, err
	}

	var out outcome
	first := inputs[0]
	for i, data := range res.Outputs {
		if data == nil {
			continue
		}
		if i == 0 {
			first = data
		}
		v, _ := in.env.Lookup(cmd.Inputs[i])
		out.bindings = append(out.bindings, binding{
			name:   cmd.Inputs[i],
			data:   data,
			origin: origin(stmt, v.DataSource, v.Inputs...),
		})
	}
	if stmt.Target != cmd.Inputs[0] {
		out.bindings = append([]binding{target(stmt, first, in.inherit(stmt, cmd.Inputs[0], cmd.Inputs...))}, out.bindings...)
	}
	if res.Display != "" {
		out.display = &display.Text{Body: res.Display}
	}
	return out, nil
}

func (in *Interpreter) join(ctx context.Context, stmt ast.Statement, cmd *ast.Join) (outcome, error) {
	sets, err := in.resolveNonEmpty(ctx, cmd.Left, cmd.Right)
	if err != nil {
		return outcome{}, err
	}
	leftKey, rightKey := cmd.LeftKey, cmd.RightKey
	if leftKey == "" {
		key, err := dataset.DefaultJoinKey(sets[0], sets[1])
		if err != nil {
			return outcome{}, err
		}
		leftKey, rightKey = key, key
	}
	joined, err := dataset.Join(sets[0], sets[1], leftKey, rightKey)
	if err != nil {
		return outcome{}, err
	}
	return outcome{bindings: []binding{target(stmt, joined, in.inherit(stmt, cmd.Left, cmd.Left, cmd.Right))}}, nil
}

// sort binds the sorted dataset to the target and, when the script named
// no target, also reorders the input in place.
func (in *Interpreter) sort(ctx context.Context, stmt ast.Statement, cmd *ast.Sort) (outcome, error) {
	sets, err := in.resolveNonEmpty(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	order := cmd.Order
	if order == ast.OrderDefault {
		order = in.cfg.DefaultSortOrder
	}
	sorted, err := sets[0].Sort(cmd.Key, order == ast.OrderDesc)
	if err != nil {
		return outcome{}, err
	}

	o := in.inherit(stmt, cmd.Input, cmd.Input)
	out := outcome{bindings: []binding{target(stmt, sorted, o)}}
	if !stmt.Explicit && stmt.Target != cmd.Input {
		v, _ := in.env.Lookup(cmd.Input)
		out.bindings = append(out.bindings, binding{
			name:   cmd.Input,
			data:   sorted,
			origin: origin(stmt, v.DataSource, v.Inputs...),
		})
	}
	return out, nil
}

func (in *Interpreter) group(ctx context.Context, stmt ast.Statement, cmd *ast.Group) (outcome, error) {
	sets, err := in.resolveNonEmpty(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	grouped, err := sets[0].Group(cmd.Keys, cmd.Aggregates)
	if err != nil {
		return outcome{}, err
	}
	return outcome{bindings: []binding{target(stmt, grouped, in.inherit(stmt, cmd.Input, cmd.Input))}}, nil
}

func (in *Interpreter) load(ctx context.Context, stmt ast.Statement, cmd *ast.Load) (outcome, error) {
	path := cmd.Path
	if dump.IsRemote(path) {
		local, err := in.fetcher.Fetch(ctx, path, in.workDir)
		if err != nil {
			return outcome{}, err
		}
		in.logger.Debugw("fetched remote dump", logger.FieldPath, path)
		path = local
	}
	raw, err := dump.Read(path)
	if err != nil {
		return outcome{}, err
	}
	data, err := raw.Dataset(cmd.EntityType)
	if err != nil {
		return outcome{}, err
	}
	return outcome{bindings: []binding{target(stmt, data, origin(stmt, ""))}}, nil
}

func (in *Interpreter) save(ctx context.Context, cmd *ast.Save) (outcome, error) {
	sets, err := in.resolveNonEmpty(ctx, cmd.Input)
	if err != nil {
		return outcome{}, err
	}
	if err := dump.Write(cmd.Path, sets[0]); err != nil {
		return outcome{}, err
	}
	in.logger.Debugw("saved variable",
		logger.FieldVariable, cmd.Input,
		logger.FieldPath, cmd.Path,
		logger.FieldCount, sets[0].Len())
	return outcome{}, nil
}

// newDataset builds a dataset from NEW literal data. A string list
// becomes one entity per string, keyed by the type's main attribute.
func (in *Interpreter) newDataset(stmt ast.Statement, cmd *ast.New) (outcome, error) {
	var data *dataset.Dataset
	switch lit := cmd.Data.(type) {
	case ast.StringList:
		if cmd.EntityType == "" {
			return outcome{}, errors.Newk(errors.ErrLiteralParse, "NEW with a list of strings needs an entity type")
		}
		attr := dataset.MainAttribute(cmd.EntityType)
		records := make([]map[string]interface{}, len(lit))
		for i, s := range lit {
			records[i] = map[string]interface{}{attr: s}
		}
		data = dataset.New(cmd.EntityType, records)
	case ast.ObjectList:
		typ := cmd.EntityType
		records := make([]map[string]interface{}, len(lit))
		for i, obj := range lit {
			rec := make(map[string]interface{}, len(obj))
			for k, v := range obj {
				rec[k] = v
			}
			if t, ok := rec["type"].(string); ok {
				switch {
				case typ == "":
					typ = t
				case t != typ:
					return outcome{}, errors.Newk(errors.ErrLiteralParse,
						"NEW record %d has type %q, expected %q", i, t, typ)
				}
				delete(rec, "type")
			}
			records[i] = rec
		}
		if typ == "" {
			return outcome{}, errors.Newk(errors.ErrLiteralParse,
				"cannot infer the entity type of NEW data; give a type or a \"type\" attribute")
		}
		data = dataset.New(typ, records)
	default:
		return outcome{}, errors.Newk(errors.ErrLiteralParse, "unsupported NEW data %T", cmd.Data)
	}
	return outcome{bindings: []binding{target(stmt, data, origin(stmt, ""))}}, nil
}

func (in *Interpreter) merge(ctx context.Context, stmt ast.Statement, cmd *ast.Merge) (outcome, error) {
	merged, err := in.env.Merge(ctx, cmd.Inputs)
	if err != nil {
		return outcome{}, err
	}
	return outcome{bindings: []binding{target(stmt, merged, in.inherit(stmt, cmd.Inputs[0], cmd.Inputs...))}}, nil
}

// inherit builds an origin carrying the datasource of from
func (in *Interpreter) inherit(stmt ast.Statement, from string, inputs ...string) symtable.Origin {
	var ds string
	if v, ok := in.env.Lookup(from); ok {
		ds = v.DataSource
	}
	return origin(stmt, ds, inputs...)
}
