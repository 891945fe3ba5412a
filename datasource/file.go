package datasource

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/stixquery"
)

// FileSource serves file://<path> references from JSON bundles on disk.
// Relative paths resolve against BaseDir. Bundles are parsed once per
// modification time.
type FileSource struct {
	BaseDir string

	mu     sync.Mutex
	cache  map[string]cachedBundle
	logger *zap.SugaredLogger
}

type cachedBundle struct {
	modTime int64
	bundle  *Bundle
}

// NewFileSource creates a file source rooted at baseDir
func NewFileSource(baseDir string, log *zap.SugaredLogger) *FileSource {
	return &FileSource{
		BaseDir: baseDir,
		cache:   map[string]cachedBundle{},
		logger:  logger.OrNop(log).Named("file"),
	}
}

// Retrieve implements Source
func (f *FileSource) Retrieve(ctx context.Context, entityType, ref string, p stixquery.Pattern) (*dataset.Dataset, error) {
	b, err := f.load(ref)
	if err != nil {
		return nil, err
	}
	return b.Retrieve(entityType, p)
}

// Traverse implements Source
func (f *FileSource) Traverse(ctx context.Context, ref string, req stixquery.TraverseRequest) (*dataset.Dataset, error) {
	b, err := f.load(ref)
	if err != nil {
		return nil, err
	}
	return b.Traverse(req)
}

func (f *FileSource) path(ref string) string {
	_, rest, _ := SplitRef(ref)
	if filepath.IsAbs(rest) || f.BaseDir == "" {
		return rest
	}
	return filepath.Join(f.BaseDir, rest)
}

func (f *FileSource) load(ref string) (*Bundle, error) {
	path := f.path(ref)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrDataSource, "cannot open bundle %s", path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[path]; ok && c.modTime == info.ModTime().UnixNano() {
		return c.bundle, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrDataSource, "cannot read bundle %s", path)
	}
	b, err := ParseBundle(data)
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrDataSource, "invalid bundle %s", path)
	}
	f.cache[path] = cachedBundle{modTime: info.ModTime().UnixNano(), bundle: b}
	f.logger.Debugw("bundle loaded", logger.FieldPath, path)
	return b, nil
}
