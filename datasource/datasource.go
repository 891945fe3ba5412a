// Package datasource defines the data source collaborator the interpreter
// retrieves entities from, a registry dispatching references by URI scheme,
// and two sources: file:// JSON bundles and an in-memory bundle.
package datasource

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/stixquery"
)

// Source retrieves and traverses entities. ref is the full datasource
// reference (scheme://rest).
type Source interface {
	Retrieve(ctx context.Context, entityType, ref string, p stixquery.Pattern) (*dataset.Dataset, error)
	Traverse(ctx context.Context, ref string, req stixquery.TraverseRequest) (*dataset.Dataset, error)
}

// Registry dispatches references to sources by scheme
type Registry struct {
	sources       map[string]Source
	defaultScheme string
	logger        *zap.SugaredLogger
}

// NewRegistry creates a registry; references without a scheme are given
// defaultScheme.
func NewRegistry(defaultScheme string, log *zap.SugaredLogger) *Registry {
	return &Registry{
		sources:       map[string]Source{},
		defaultScheme: defaultScheme,
		logger:        logger.OrNop(log).Named("datasource"),
	}
}

// Register binds scheme to s, replacing any previous source
func (r *Registry) Register(scheme string, s Source) {
	r.sources[strings.ToLower(scheme)] = s
}

// Schemes lists registered schemes, sorted
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Normalize gives ref the default scheme when it has none
func (r *Registry) Normalize(ref string) string {
	if _, _, ok := SplitRef(ref); ok {
		return ref
	}
	return r.defaultScheme + "://" + ref
}

// SplitRef splits scheme://rest; ok is false when ref has no scheme
func SplitRef(ref string) (scheme, rest string, ok bool) {
	i := strings.Index(ref, "://")
	if i <= 0 {
		return "", ref, false
	}
	return strings.ToLower(ref[:i]), ref[i+3:], true
}

func (r *Registry) lookup(ref string) (Source, string, error) {
	ref = r.Normalize(ref)
	scheme, _, _ := SplitRef(ref)
	s, ok := r.sources[scheme]
	if !ok {
		return nil, ref, errors.Newk(errors.ErrDataSource, "no data source interface registered for scheme %q (datasource %s)", scheme, ref)
	}
	return s, ref, nil
}

// Retrieve dispatches a GET to the source of ref
func (r *Registry) Retrieve(ctx context.Context, entityType, ref string, p stixquery.Pattern) (*dataset.Dataset, error) {
	s, ref, err := r.lookup(ref)
	if err != nil {
		return nil, err
	}
	r.logger.Debugw("retrieving",
		logger.FieldDataSource, ref,
		logger.FieldEntityType, entityType,
		logger.FieldPattern, p.String())

	d, err := s.Retrieve(ctx, entityType, ref, p)
	if err != nil {
		return nil, markDataSource(err, "retrieval from %s failed", ref)
	}
	return d, nil
}

// Traverse dispatches a FIND to the source of ref. An empty ref (a source
// variable that did not come from any data source) yields no entities;
// records already bound in the session are searched by the caller.
func (r *Registry) Traverse(ctx context.Context, ref string, req stixquery.TraverseRequest) (*dataset.Dataset, error) {
	if ref == "" {
		r.logger.Debugw("traversal without datasource yields no entities", logger.FieldEntityType, req.EntityType)
		return dataset.Empty(req.EntityType), nil
	}
	s, ref, err := r.lookup(ref)
	if err != nil {
		return nil, err
	}
	r.logger.Debugw("traversing",
		logger.FieldDataSource, ref,
		logger.FieldEntityType, req.EntityType,
		"relation", req.Relation,
		"reversed", req.Reversed)

	d, err := s.Traverse(ctx, ref, req)
	if err != nil {
		return nil, markDataSource(err, "traversal on %s failed", ref)
	}
	return d, nil
}

// markDataSource keeps taxonomy marks set by the source and marks
// everything else as a data source error
func markDataSource(err error, format string, args ...interface{}) error {
	if errors.KindOf(err) != "InternalError" {
		return errors.Wrapf(err, format, args...)
	}
	return errors.Wrapk(err, errors.ErrDataSource, format, args...)
}
