package session

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

type exited struct {
	dir string
	at  time.Time
}

// CollectGarbage removes all but the keep most recent exited sessions
// under root. A session has exited when its directory holds marker;
// recency is the marker's modification time. Directories that vanish
// while the scan runs count as removed, so concurrent collectors over the
// same root never fail each other. Returns the directories removed.
func CollectGarbage(root, marker string, keep int, log *zap.SugaredLogger) ([]string, error) {
	log = logger.OrNop(log)
	if keep < 0 {
		keep = 0
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan debug cache root %s", root)
	}

	var sessions []exited
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		info, err := os.Stat(filepath.Join(dir, marker))
		if err != nil {
			// running, never exited, or already collected
			continue
		}
		sessions = append(sessions, exited{dir: dir, at: info.ModTime()})
	}
	if len(sessions) <= keep {
		return nil, nil
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].at.Equal(sessions[j].at) {
			return sessions[i].dir > sessions[j].dir
		}
		return sessions[i].at.After(sessions[j].at)
	})

	var removed []string
	for _, s := range sessions[keep:] {
		if _, err := os.Lstat(s.dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(s.dir); err != nil && !os.IsNotExist(err) {
			log.Warnw("failed to remove exited session", logger.FieldPath, s.dir, logger.FieldError, err)
			continue
		}
		removed = append(removed, s.dir)
	}
	log.Debugw("debug cache collected",
		logger.FieldRetained, keep,
		logger.FieldRemoved, len(removed))
	return removed, nil
}
