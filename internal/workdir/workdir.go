// Package workdir creates and removes the working directories of a batch.
//
// Both operations are best-effort: failures are logged and never returned, so
// one directory problem cannot abort a batch. Callers must not assume the
// directory state afterwards and have to tolerate later operations failing.
package workdir

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/italolelis/playlist_downloader/internal/logctx"
)

const dirPerm = 0755

// Ensure creates path (and any missing parents) unless it already is a directory.
func Ensure(ctx context.Context, path string) {
	logger := logctx.LoggerFromContext(ctx)

	if isDir(path) {
		return
	}

	if err := os.MkdirAll(path, dirPerm); err != nil {
		logger.ErrorContext(ctx, "failed to create directory", "dir", path, "err", err)

		return
	}

	logger.InfoContext(ctx, "directory created", "dir", path)
}

// RemoveAll deletes path and everything below it if it is a directory.
func RemoveAll(ctx context.Context, path string) {
	logger := logctx.LoggerFromContext(ctx)

	if !isDir(path) {
		return
	}

	if err := os.RemoveAll(path); err != nil {
		logger.ErrorContext(ctx, "failed to remove directory", "dir", path, "err", err)

		return
	}

	logger.InfoContext(ctx, "directory removed with all its contents", "dir", path)
}

// Prune deletes path if it is an empty directory. Directories that still hold
// entries, for instance files of another running batch, are left alone.
func Prune(ctx context.Context, path string) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to read directory", "dir", path, "err", err)
		}

		return
	}

	if len(entries) > 0 {
		logger.DebugContext(ctx, "directory kept, not empty", "dir", path, "entries", len(entries))

		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.ErrorContext(ctx, "failed to remove directory", "dir", path, "err", err)

		return
	}

	logger.InfoContext(ctx, "directory removed", "dir", path)
}

// RemoveFile deletes the file at path. A missing file is not an error.
func RemoveFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to remove file", "path", path, "err", err)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
