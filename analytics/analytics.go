// Package analytics defines the analytics collaborator APPLY invokes, a
// registry dispatching analytics references by URI scheme, and exec://
// analytics that run a local program.
package analytics

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

// Result of one invocation. Outputs line up with the inputs: Outputs[i]
// replaces input i. Fewer outputs than inputs leave the rest unchanged.
type Result struct {
	Outputs []*dataset.Dataset
	// Display is optional rendered output of the analytics
	Display string
}

// Analytics runs one analytics reference over input datasets
type Analytics interface {
	Invoke(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*Result, error)
}

// Func adapts a function to Analytics
type Func func(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*Result, error)

// Invoke calls f
func (f Func) Invoke(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*Result, error) {
	return f(ctx, ref, inputs, params)
}

// Registry dispatches analytics references by scheme
type Registry struct {
	analytics     map[string]Analytics
	defaultScheme string
	logger        *zap.SugaredLogger
}

// NewRegistry creates a registry; references without a scheme are given
// defaultScheme.
func NewRegistry(defaultScheme string, log *zap.SugaredLogger) *Registry {
	return &Registry{
		analytics:     map[string]Analytics{},
		defaultScheme: defaultScheme,
		logger:        logger.OrNop(log).Named("analytics"),
	}
}

// Register binds scheme to a
func (r *Registry) Register(scheme string, a Analytics) {
	r.analytics[strings.ToLower(scheme)] = a
}

// Schemes lists registered schemes, sorted
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.analytics))
	for s := range r.analytics {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Normalize gives ref the default scheme when it has none
func (r *Registry) Normalize(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return ref
	}
	return r.defaultScheme + "://" + ref
}

// Invoke dispatches to the analytics registered for ref's scheme. Every
// failure is marked errors.ErrAnalyticsInvocation.
func (r *Registry) Invoke(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*Result, error) {
	ref = r.Normalize(ref)
	scheme := strings.ToLower(ref[:strings.Index(ref, "://")])
	a, ok := r.analytics[scheme]
	if !ok {
		return nil, errors.Newk(errors.ErrAnalyticsInvocation, "no analytics interface registered for scheme %q (analytics %s)", scheme, ref)
	}

	r.logger.Debugw("invoking analytics",
		logger.FieldAnalytics, ref,
		logger.FieldCount, len(inputs))
	res, err := a.Invoke(ctx, ref, inputs, params)
	if err != nil {
		if errors.Is(err, errors.ErrAnalyticsInvocation) {
			return nil, err
		}
		return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "analytics %s failed", ref)
	}
	if res == nil {
		res = &Result{}
	}
	if len(res.Outputs) > len(inputs) {
		return nil, errors.Newk(errors.ErrAnalyticsInvocation,
			"analytics %s returned %d outputs for %d inputs", ref, len(res.Outputs), len(inputs))
	}
	return res, nil
}
