package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/spf13/afero"
)

// DeleteExpiredFiles removes regular files directly under dir whose
// modification time is older than keepDuration. It returns how many were
// removed. A missing dir is not an error.
func DeleteExpiredFiles(ctx context.Context, fsys afero.Fs, dir string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if !info.Mode().IsRegular() || now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		filePath := filepath.Join(dir, info.Name())

		if err := fsys.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete expired file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Debug("Deleted expired file", "file", filePath)
	}

	return removed, nil
}

// Run prunes dir once and then every interval until ctx is done.
func Run(ctx context.Context, fsys afero.Fs, dir string, keepDuration, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	prune := func() {
		n, err := DeleteExpiredFiles(ctx, fsys, dir, keepDuration)
		if err != nil && ctx.Err() == nil {
			logger.Error("failed to delete expired downloads", "dir", dir, "err", err)

			return
		}

		if n > 0 {
			logger.Info("deleted expired downloads", "dir", dir, "count", n)
		}
	}

	prune()

	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			prune()
		}
	}
}
