// Package session owns one interpreter run: its working directory, local
// variable store, interpreter and exit state. Debug mode, chosen once at
// construction from a configured environment variable, keeps session
// directories under a shared cache root and garbage collects old ones.
//
// The exit marker records that a debug session has exited, not that it
// exited cleanly: Close writes it on every exit, with the exit state
// (exited-clean or exited-with-error) as its content, so failed runs stay
// inspectable and are still counted by garbage collection.
package session

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/analytics"
	"github.com/teranos/kestrel/datasource"
	"github.com/teranos/kestrel/db"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/interpreter"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/metrics"
	"github.com/teranos/kestrel/parser"
	"github.com/teranos/kestrel/store"
	"github.com/teranos/kestrel/symtable"
)

// LatestLink names the symlink to the newest session in the debug root
const LatestLink = "latest"

// State is the exit state of a session
type State int

const (
	StateRunning State = iota
	StateExitedClean
	StateExitedError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExitedClean:
		return "exited-clean"
	case StateExitedError:
		return "exited-with-error"
	}
	return "unknown"
}

// Options configure a new session. Only Config is required.
type Options struct {
	Config *am.Config
	// Sources defaults to a registry serving file:// bundles
	Sources *datasource.Registry
	// Analytics defaults to a registry running exec:// programs
	Analytics *analytics.Registry
	Metrics   *metrics.Collector
	// TempRoot defaults to os.TempDir()
	TempRoot string
	// Getenv defaults to os.Getenv
	Getenv func(string) string
}

// Session is one interpreter run. It is not safe for concurrent use.
type Session struct {
	ID        string
	WorkDir   string
	Debug     bool
	CreatedAt time.Time

	cfg       *am.Config
	debugRoot string
	db        *sql.DB
	env       *symtable.Env
	interp    *interpreter.Interpreter
	state     State
	logger    *zap.SugaredLogger
}

// New allocates the working directory, opens the local store and wires
// the interpreter. In debug mode exited sessions beyond the retention
// count are removed first.
func New(opts Options, log *zap.SugaredLogger) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session requires a configuration")
	}
	cfg := opts.Config
	if opts.TempRoot == "" {
		opts.TempRoot = os.TempDir()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		cfg:       cfg,
		Debug:     cfg.Session.DebugEnvVar != "" && opts.Getenv(cfg.Session.DebugEnvVar) != "",
	}
	s.logger = logger.OrNop(log).Named("session").With(logger.FieldSessionID, s.ID)

	root := opts.TempRoot
	if s.Debug {
		s.debugRoot = filepath.Join(opts.TempRoot, cfg.Session.DebugCacheDirectory)
		if err := os.MkdirAll(s.debugRoot, am.DefaultDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create debug cache root %s", s.debugRoot)
		}
		if _, err := CollectGarbage(s.debugRoot, cfg.Session.ExitMarker, cfg.Session.DebugSessionsRetained, s.logger); err != nil {
			s.logger.Warnw("debug cache cleanup failed", logger.FieldError, err)
		}
		root = s.debugRoot
	}

	s.WorkDir = filepath.Join(root, cfg.Session.CacheDirectoryPrefix+s.ID)
	if err := os.Mkdir(s.WorkDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create session directory %s", s.WorkDir)
	}
	if s.Debug {
		s.linkLatest()
	}

	conn, err := db.OpenWithMigrations(filepath.Join(s.WorkDir, cfg.GetLocalDatabasePath()), s.logger)
	if err != nil {
		s.discard()
		return nil, err
	}
	s.db = conn

	var storeOpts []store.Option
	if opts.Metrics != nil {
		storeOpts = append(storeOpts, store.WithCacheObserver(opts.Metrics))
	}
	st, err := store.NewSQLStore(conn, cfg.GetVariableCacheSize(), s.logger, storeOpts...)
	if err != nil {
		conn.Close()
		s.discard()
		return nil, err
	}
	s.env = symtable.New(st, s.logger)

	if opts.Sources == nil {
		opts.Sources = datasource.NewRegistry(cfg.Language.DefaultDatasourceSchema, s.logger)
		opts.Sources.Register("file", datasource.NewFileSource("", s.logger))
	}
	if opts.Analytics == nil {
		opts.Analytics = analytics.NewRegistry(cfg.Language.DefaultAnalyticsSchema, s.logger)
		opts.Analytics.Register("exec", analytics.NewExec(s.WorkDir, s.logger))
	}
	s.interp = interpreter.New(interpreter.ConfigFrom(cfg), interpreter.Deps{
		Env:       s.env,
		Sources:   opts.Sources,
		Analytics: opts.Analytics,
		Metrics:   opts.Metrics,
		WorkDir:   s.WorkDir,
	}, logger.OrNop(log))

	s.logger.Infow("session started",
		logger.FieldWorkDir, s.WorkDir,
		"debug", s.Debug)
	return s, nil
}

// linkLatest points the debug root's latest link at this session
func (s *Session) linkLatest() {
	link := filepath.Join(s.debugRoot, LatestLink)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		s.logger.Warnw("failed to remove latest link", logger.FieldPath, link, logger.FieldError, err)
		return
	}
	if err := os.Symlink(s.WorkDir, link); err != nil {
		s.logger.Warnw("failed to link latest session", logger.FieldPath, link, logger.FieldError, err)
	}
}

func (s *Session) discard() {
	if err := os.RemoveAll(s.WorkDir); err != nil {
		s.logger.Warnw("failed to remove session directory", logger.FieldWorkDir, s.WorkDir, logger.FieldError, err)
	}
}

// Env returns the session's variable environment
func (s *Session) Env() *symtable.Env {
	return s.env
}

// State returns the exit state
func (s *Session) State() State {
	return s.state
}

// Execute parses and runs script. Bindings made before a failing
// statement stay valid for later calls.
func (s *Session) Execute(ctx context.Context, script string) (*interpreter.Result, error) {
	if s.state != StateRunning {
		return nil, errors.Newf("session %s has exited", s.ID)
	}
	stmts, err := parser.Parse(script, parser.WithDefaultVariable(s.cfg.GetDefaultVariable()))
	if err != nil {
		return nil, err
	}
	ctx = logger.WithComponent(logger.WithSessionID(ctx, s.ID), "session")
	return s.interp.Run(ctx, stmts)
}

// ExecuteFile runs the script at path
func (s *Session) ExecuteFile(ctx context.Context, path string) (*interpreter.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read script %s", path)
	}
	return s.Execute(ctx, string(data))
}

// Close ends the session. runErr decides the exit state. A debug session
// leaves its directory behind with an exit marker; any other session
// removes its directory. Close is idempotent.
func (s *Session) Close(runErr error) error {
	if s.state != StateRunning {
		return nil
	}
	s.state = StateExitedClean
	if runErr != nil {
		s.state = StateExitedError
	}

	var closeErr error
	if err := s.db.Close(); err != nil {
		closeErr = errors.Wrap(err, "failed to close session store")
	}

	if s.Debug {
		marker := filepath.Join(s.WorkDir, s.cfg.Session.ExitMarker)
		if err := os.WriteFile(marker, []byte(s.state.String()+"\n"), am.DefaultFilePermissions); err != nil {
			return errors.CombineErrors(closeErr, errors.Wrapf(err, "failed to write exit marker %s", marker))
		}
	} else if err := os.RemoveAll(s.WorkDir); err != nil {
		return errors.CombineErrors(closeErr, errors.Wrapf(err, "failed to remove session directory %s", s.WorkDir))
	}

	s.logger.Infow("session closed",
		"state", s.state.String(),
		logger.FieldDurationMS, time.Since(s.CreatedAt).Milliseconds())
	return closeErr
}
