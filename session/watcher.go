package session

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

// DefaultDebounce collapses the burst of events an editor save produces
const DefaultDebounce = 300 * time.Millisecond

// ScriptWatcher reports changes to one script file. The directory is
// watched rather than the file so editors that replace the file on save
// keep being seen.
type ScriptWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	Debounce time.Duration
	logger   *zap.SugaredLogger
}

// NewScriptWatcher starts watching path
func NewScriptWatcher(path string, log *zap.SugaredLogger) (*ScriptWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve script path %s", path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}
	return &ScriptWatcher{
		path:     abs,
		watcher:  w,
		Debounce: DefaultDebounce,
		logger:   logger.OrNop(log).Named("watcher"),
	}, nil
}

// Run calls onChange after every settled change to the script until ctx
// is done. onChange runs on the caller's goroutine, one call at a time;
// its errors are logged and watching continues.
func (w *ScriptWatcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	var (
		timer   *time.Timer
		settled <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debugw("script changed", logger.FieldPath, event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.Debounce)
			settled = timer.C

		case <-settled:
			settled = nil
			if err := onChange(ctx); err != nil {
				w.logger.Warnw("script run failed", logger.FieldPath, w.path, logger.FieldError, err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("script watcher error", logger.FieldError, err)
		}
	}
}

// Close stops watching
func (w *ScriptWatcher) Close() error {
	return w.watcher.Close()
}
