// Package interpreter executes parsed statements against a variable
// environment, calling out to data sources, analytics and dump I/O.
//
// Statements run strictly in order. A statement either commits all of its
// bindings or none of them, and the first failing statement stops the run.
package interpreter

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/analytics"
	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/datasource"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/dump"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/metrics"
	"github.com/teranos/kestrel/prefetch"
	"github.com/teranos/kestrel/stixquery"
	"github.com/teranos/kestrel/symtable"
)

// Config holds the values the executor reads from configuration
type Config struct {
	DefaultSortOrder        ast.SortOrder
	DefaultDatasourceSchema string
	PrefetchGet             bool
	PrefetchFind            bool
	Prefetch                prefetch.Config
	StartOffset             int
	StopOffset              int
	SupportID               bool
}

// ConfigFrom extracts the executor settings from cfg
func ConfigFrom(cfg *am.Config) Config {
	retrieval := prefetch.Offsets{Start: cfg.StixQuery.TimerangeStartOffset, Stop: cfg.StixQuery.TimerangeStopOffset}
	return Config{
		DefaultSortOrder:        ast.SortOrder(strings.ToLower(cfg.Language.DefaultSortOrder)),
		DefaultDatasourceSchema: cfg.Language.DefaultDatasourceSchema,
		PrefetchGet:             cfg.Prefetch.Get,
		PrefetchFind:            cfg.Prefetch.Find,
		Prefetch: prefetch.Config{
			NameChange: prefetch.Offsets{Start: cfg.Prefetch.ProcessNameChangeStartOffset, Stop: cfg.Prefetch.ProcessNameChangeStopOffset},
			Lifespan:   prefetch.Offsets{Start: cfg.Prefetch.ProcessLifespanStartOffset, Stop: cfg.Prefetch.ProcessLifespanStopOffset},
			Default:    retrieval,
			SupportID:  cfg.StixQuery.SupportID,
		},
		StartOffset: retrieval.Start,
		StopOffset:  retrieval.Stop,
		SupportID:   cfg.StixQuery.SupportID,
	}
}

// Deps are the collaborators of an Interpreter. Env is required.
type Deps struct {
	Env       *symtable.Env
	Sources   *datasource.Registry
	Analytics *analytics.Registry
	Metrics   *metrics.Collector
	// WorkDir receives remote dumps fetched by LOAD
	WorkDir string
	// Fetcher defaults to one refusing private and loopback hosts
	Fetcher *dump.Fetcher
	// Now defaults to time.Now
	Now func() time.Time
}

// Interpreter is the command executor of one session. It is not safe for
// concurrent use.
type Interpreter struct {
	cfg        Config
	env        *symtable.Env
	sources    *datasource.Registry
	analytics  *analytics.Registry
	metrics    *metrics.Collector
	translator *stixquery.Translator
	planner    *prefetch.Planner
	workDir    string
	fetcher    *dump.Fetcher
	now        func() time.Time
	logger     *zap.SugaredLogger

	// lastSource is the datasource of the last GET that named one
	lastSource string
}

// New creates an interpreter
func New(cfg Config, deps Deps, log *zap.SugaredLogger) *Interpreter {
	log = logger.OrNop(log)
	if cfg.DefaultSortOrder == ast.OrderDefault {
		cfg.DefaultSortOrder = ast.OrderDesc
	}
	if deps.Sources == nil {
		deps.Sources = datasource.NewRegistry(cfg.DefaultDatasourceSchema, log)
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewRegistry("", log)
	}
	if deps.Fetcher == nil {
		deps.Fetcher = dump.NewFetcher(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Interpreter{
		cfg:        cfg,
		env:        deps.Env,
		sources:    deps.Sources,
		analytics:  deps.Analytics,
		metrics:    deps.Metrics,
		translator: stixquery.NewTranslator(cfg.StartOffset, cfg.StopOffset, cfg.SupportID),
		planner:    prefetch.NewPlanner(cfg.Prefetch, log),
		workDir:    deps.WorkDir,
		fetcher:    deps.Fetcher,
		now:        deps.Now,
		logger:     log.Named("interpreter"),
	}
}

// Env returns the variable environment
func (in *Interpreter) Env() *symtable.Env {
	return in.env
}

// Result is what a run produced, up to the first failure
type Result struct {
	Displays     []display.Display
	Steps        []display.StepSummary
	NewVariables []string
	Duration     time.Duration
}

// Summary renders the run as an execution summary
func (r *Result) Summary() *display.Summary {
	return &display.Summary{Steps: r.Steps, NewVariables: r.NewVariables, Duration: r.Duration}
}

// Run executes stmts in order. On failure the returned error is a
// *StatementError and the result covers the statements that succeeded.
func (in *Interpreter) Run(ctx context.Context, stmts []ast.Statement) (*Result, error) {
	res := &Result{}
	log := logger.LoggerFromContext(ctx, in.logger)
	known := map[string]bool{}
	for _, name := range in.env.Names() {
		known[name] = true
	}
	began := in.now()
	defer func() {
		res.Duration = in.now().Sub(began)
		for _, name := range in.env.Names() {
			if !known[name] {
				res.NewVariables = append(res.NewVariables, name)
			}
		}
		in.metrics.SetBoundVariables(len(in.env.Names()))
	}()

	for i, stmt := range stmts {
		name := strings.ToUpper(stmt.Command.Name())
		log.Debugw("executing statement",
			logger.FieldCommand, name,
			logger.FieldVariable, stmt.Target,
			logger.FieldLine, stmt.Range.Start.Line,
			logger.FieldStatement, stmt.Source)

		start := in.now()
		out, err := in.execute(ctx, stmt)
		elapsed := in.now().Sub(start)
		in.metrics.ObserveCommand(name, elapsed, err)

		if err != nil {
			log.Debugw("statement failed",
				logger.FieldCommand, name,
				logger.FieldLine, stmt.Range.Start.Line,
				logger.FieldErrorKind, errors.KindOf(err),
				logger.FieldError, err)
			return res, &StatementError{
				Index:   i,
				Range:   stmt.Range,
				Command: stmt.Command.Name(),
				Source:  stmt.Source,
				Err:     err,
			}
		}

		if out.display != nil {
			res.Displays = append(res.Displays, out.display)
		}
		step := display.StepSummary{
			Index:    i,
			Line:     stmt.Range.Start.Line,
			Command:  name,
			Duration: elapsed,
		}
		if len(out.bindings) > 0 {
			step.Target = out.bindings[0].name
			step.Records = out.bindings[0].data.Len()
		}
		res.Steps = append(res.Steps, step)
		log.Debugw("statement executed",
			logger.FieldCommand, name,
			logger.FieldVariable, step.Target,
			logger.FieldCount, step.Records,
			logger.FieldDurationMS, elapsed.Milliseconds())
	}
	return res, nil
}

// binding is a pending variable assignment
type binding struct {
	name   string
	data   *dataset.Dataset
	origin symtable.Origin
}

type outcome struct {
	bindings []binding
	display  display.Display
}

func (in *Interpreter) execute(ctx context.Context, stmt ast.Statement) (outcome, error) {
	var (
		out outcome
		err error
	)
	switch cmd := stmt.Command.(type) {
	case *ast.Get:
		out, err = in.get(ctx, stmt, cmd)
	case *ast.Find:
		out, err = in.find(ctx, stmt, cmd)
	case *ast.Disp:
		out, err = in.disp(ctx, cmd)
	case *ast.Info:
		out, err = in.info(ctx, cmd)
	case *ast.Apply:
		out, err = in.apply(ctx, stmt, cmd)
	case *ast.Join:
		out, err = in.join(ctx, stmt, cmd)
	case *ast.Sort:
		out, err = in.sort(ctx, stmt, cmd)
	case *ast.Group:
		out, err = in.group(ctx, stmt, cmd)
	case *ast.Load:
		out, err = in.load(ctx, stmt, cmd)
	case *ast.Save:
		out, err = in.save(ctx, cmd)
	case *ast.New:
		out, err = in.newDataset(stmt, cmd)
	case *ast.Merge:
		out, err = in.merge(ctx, stmt, cmd)
	default:
		return outcome{}, errors.Newf("unsupported command %T", stmt.Command)
	}
	if err != nil {
		return outcome{}, err
	}
	if err := in.commit(ctx, out.bindings); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// commit binds every pending assignment or, when one fails, restores the
// bindings the earlier ones replaced.
func (in *Interpreter) commit(ctx context.Context, bindings []binding) error {
	type prior struct {
		name   string
		data   *dataset.Dataset
		origin symtable.Origin
	}
	var undo []prior
	for _, b := range bindings {
		p := prior{name: b.name}
		if v, ok := in.env.Lookup(b.name); ok {
			data, err := in.env.Resolve(ctx, b.name)
			if err != nil {
				return err
			}
			p.data = data
			p.origin = symtable.Origin{Command: v.BirthCommand, DataSource: v.DataSource, Inputs: v.Inputs}
		}

		if _, err := in.env.Bind(ctx, b.name, b.data, b.origin); err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				u := undo[i]
				var rerr error
				if u.data == nil {
					rerr = in.env.Delete(ctx, u.name)
				} else {
					_, rerr = in.env.Bind(ctx, u.name, u.data, u.origin)
				}
				if rerr != nil {
					in.logger.Warnw("failed to restore binding", logger.FieldVariable, u.name, logger.FieldError, rerr)
				}
			}
			return err
		}
		undo = append(undo, p)
	}
	return nil
}

// resolveAll resolves names in order, failing on the first unbound one
func (in *Interpreter) resolveAll(ctx context.Context, names ...string) ([]*dataset.Dataset, error) {
	out := make([]*dataset.Dataset, len(names))
	for i, name := range names {
		d, err := in.env.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// resolveNonEmpty resolves names and rejects empty inputs
func (in *Interpreter) resolveNonEmpty(ctx context.Context, names ...string) ([]*dataset.Dataset, error) {
	sets, err := in.resolveAll(ctx, names...)
	if err != nil {
		return nil, err
	}
	for i, d := range sets {
		if d.Len() == 0 {
			return nil, errors.Newk(errors.ErrEmptyInput, "variable %s is empty", names[i])
		}
	}
	return sets, nil
}

func origin(stmt ast.Statement, source string, inputs ...string) symtable.Origin {
	return symtable.Origin{
		Command:    strings.ToUpper(stmt.Command.Name()),
		DataSource: source,
		Inputs:     inputs,
	}
}

// target binds data to the statement target
func target(stmt ast.Statement, data *dataset.Dataset, o symtable.Origin) binding {
	return binding{name: stmt.Target, data: data, origin: o}
}
