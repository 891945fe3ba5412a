// Package symtable is the per-session variable environment: a flat,
// case-sensitive namespace of variables, each bound to a dataset held in
// the session store.
package symtable

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/store"
)

// Variable is the metadata of one binding
type Variable struct {
	Name         string    `json:"name"`
	EntityType   string    `json:"entity_type"`
	Schema       []string  `json:"schema"`
	Count        int       `json:"count"`
	BirthCommand string    `json:"birth_command"`
	DataSource   string    `json:"datasource,omitempty"`
	Inputs       []string  `json:"inputs,omitempty"`
	BoundAt      time.Time `json:"bound_at"`

	seq uint64
}

// Origin describes how a dataset was produced
type Origin struct {
	Command    string
	DataSource string
	Inputs     []string
}

// Env maps variable names to datasets. Bindings are written through to
// the store before they become visible.
type Env struct {
	store  store.Store
	vars   map[string]*Variable
	seq    uint64
	now    func() time.Time
	logger *zap.SugaredLogger
}

// New creates an empty environment over s
func New(s store.Store, log *zap.SugaredLogger) *Env {
	return &Env{
		store:  s,
		vars:   map[string]*Variable{},
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.OrNop(log).Named("symtable"),
	}
}

// Bind binds name to data, replacing any prior binding. When the store
// write fails the prior binding stays in place.
func (e *Env) Bind(ctx context.Context, name string, data *dataset.Dataset, origin Origin) (*Variable, error) {
	if name == "" {
		return nil, errors.New("cannot bind a variable without a name")
	}
	if data == nil {
		return nil, errors.Newf("cannot bind %s to a nil dataset", name)
	}

	v := &Variable{
		Name:         name,
		EntityType:   data.EntityType,
		Schema:       append([]string(nil), data.Columns...),
		Count:        data.Len(),
		BirthCommand: origin.Command,
		DataSource:   origin.DataSource,
		Inputs:       append([]string(nil), origin.Inputs...),
		BoundAt:      e.now(),
	}
	err := e.store.Put(ctx, &store.Entry{
		Name:         name,
		Data:         data,
		BirthCommand: v.BirthCommand,
		DataSource:   v.DataSource,
		Inputs:       v.Inputs,
		BoundAt:      v.BoundAt,
	})
	if err != nil {
		return nil, err
	}

	_, rebound := e.vars[name]
	e.seq++
	v.seq = e.seq
	e.vars[name] = v
	e.logger.Debugw("variable bound",
		logger.FieldVariable, name,
		logger.FieldEntityType, v.EntityType,
		logger.FieldCount, v.Count,
		logger.FieldCommand, v.BirthCommand,
		"rebound", rebound)
	return v, nil
}

// Resolve returns the dataset bound to name. Unknown names fail with
// errors.ErrUnboundVariable; they are never created implicitly.
func (e *Env) Resolve(ctx context.Context, name string) (*dataset.Dataset, error) {
	if _, ok := e.vars[name]; !ok {
		return nil, errors.Newk(errors.ErrUnboundVariable, "variable %q is not bound", name)
	}
	entry, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load variable %s", name)
	}
	return entry.Data, nil
}

// Lookup returns the metadata of name
func (e *Env) Lookup(name string) (*Variable, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Has reports whether name is bound
func (e *Env) Has(name string) bool {
	_, ok := e.vars[name]
	return ok
}

// Merge is the row-wise union of the named datasets in the given order.
// Datasets of different entity types fail with errors.ErrSchemaMismatch.
func (e *Env) Merge(ctx context.Context, names []string) (*dataset.Dataset, error) {
	if len(names) == 0 {
		return nil, errors.New("merge of no variables")
	}
	sets := make([]*dataset.Dataset, 0, len(names))
	for _, n := range names {
		d, err := e.Resolve(ctx, n)
		if err != nil {
			return nil, err
		}
		sets = append(sets, d)
	}
	merged, err := dataset.Union(sets...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot merge %v", names)
	}
	return merged, nil
}

// Names returns the bound names in binding order
func (e *Env) Names() []string {
	names := make([]string, 0, len(e.vars))
	for n := range e.vars {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return e.vars[names[i]].seq < e.vars[names[j]].seq
	})
	return names
}

// Dependents returns the variables whose current binding was computed
// from name, sorted
func (e *Env) Dependents(name string) []string {
	var out []string
	for n, v := range e.vars {
		for _, in := range v.Inputs {
			if in == name && n != name {
				out = append(out, n)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Delete unbinds name
func (e *Env) Delete(ctx context.Context, name string) error {
	if !e.Has(name) {
		return errors.Newk(errors.ErrUnboundVariable, "variable %q is not bound", name)
	}
	if err := e.store.Delete(ctx, name); err != nil {
		return err
	}
	delete(e.vars, name)
	return nil
}

// Resolver adapts e to lookups that carry no context, such as variable
// references inside a pattern body
func (e *Env) Resolver(ctx context.Context) ResolverFunc {
	return func(name string) (*dataset.Dataset, error) {
		return e.Resolve(ctx, name)
	}
}

// ResolverFunc implements stixquery.Resolver
type ResolverFunc func(name string) (*dataset.Dataset, error)

// Resolve calls f
func (f ResolverFunc) Resolve(name string) (*dataset.Dataset, error) {
	return f(name)
}
