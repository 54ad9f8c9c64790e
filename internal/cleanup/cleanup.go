// Package cleanup prunes scratch directories left behind by transfers that
// never finished, after they have gone untouched long enough.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/modzoo/hubfetch/internal/logctx"
)

// PruneStaleScratch deletes scratch directories under root that haven't been
// modified within keepFor. Live transfers keep writing into their scratch
// directory, so anything stale belongs to an abandoned download.
func PruneStaleScratch(ctx context.Context, root string, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root, entry.Name())

		modTime, err := newestModTime(dir)
		if err != nil {
			logger.Error("failed to inspect scratch dir", "dir", dir, "err", err)

			continue
		}

		if now.Sub(modTime) <= keepFor {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			logger.Error("failed to delete stale scratch dir", "dir", dir, "err", err)

			continue
		}

		logger.Info("deleted stale scratch dir", "dir", dir, "idle_for", now.Sub(modTime).String())
	}

	return nil
}

// newestModTime walks a scratch directory and returns the most recent
// modification time found. A transfer appending to a large file bumps the
// file's mtime, not the directory's.
func newestModTime(dir string) (time.Time, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}

	newest := info.ModTime()

	err = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}

		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	return newest, nil
}
