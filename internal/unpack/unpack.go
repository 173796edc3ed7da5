package unpack

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/italolelis/playlist_downloader/internal/logctx"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
	"github.com/italolelis/playlist_downloader/internal/workdir"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	archiveExt = ".zip"
)

// Unpacker extracts "<download root>/<id>.zip" into "<unpacked root>/<id>".
type Unpacker struct {
	downloadRoot string
	unpackedRoot string
	resetTarget  bool
	telemetry    *telemetry.Telemetry
}

type Option func(*Unpacker)

// WithResetTarget makes the Unpacker empty the target directory of an archive
// before extracting it, so files dropped from a newer archive do not linger.
// Other directories of the unpacked root are never touched.
func WithResetTarget(reset bool) Option {
	return func(u *Unpacker) {
		u.resetTarget = reset
	}
}

// New creates an Unpacker. tel may be nil.
func New(downloadRoot, unpackedRoot string, tel *telemetry.Telemetry, opts ...Option) *Unpacker {
	u := &Unpacker{
		downloadRoot: downloadRoot,
		unpackedRoot: unpackedRoot,
		telemetry:    tel,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// ArchivePath returns where the archive of id is expected.
func (u *Unpacker) ArchivePath(id string) string {
	return filepath.Join(u.downloadRoot, id+archiveExt)
}

// TargetDir returns the directory the archive of id is extracted into.
func (u *Unpacker) TargetDir(id string) string {
	return filepath.Join(u.unpackedRoot, id)
}

// UnpackAll extracts the archive of every id in order. A failed item never
// prevents the following ones from being processed.
func (u *Unpacker) UnpackAll(ctx context.Context, ids []string) []Outcome {
	logger := logctx.LoggerFromContext(ctx)
	outcomes := make([]Outcome, 0, len(ids))

	for _, id := range ids {
		workdir.Ensure(ctx, u.unpackedRoot)

		o := u.Unpack(ctx, u.ArchivePath(id), id)
		if o.OK() {
			logger.InfoContext(ctx, "archive unpacked", "hash", id, "archive", o.Archive, "target", o.Target)
		} else {
			logger.ErrorContext(ctx, "failed to unpack archive",
				"hash", id,
				"archive", o.Archive,
				"target", o.Target,
				"status", o.Status.String(),
				"entry", o.Entry,
				"err", o.Err,
			)
		}

		outcomes = append(outcomes, o)
	}

	return outcomes
}

// Unpack reads archivePath into memory and extracts every entry below the
// target directory of id, keeping the archive's own directory structure.
// Entries whose names would resolve outside the target are rejected before
// anything is written.
func (u *Unpacker) Unpack(ctx context.Context, archivePath, id string) Outcome {
	var o Outcome

	_ = u.telemetry.InstrumentUnpack(ctx, func(ctx context.Context) error {
		o = u.unpack(ctx, archivePath, id)

		return o.AsError()
	})

	return o
}

func (u *Unpacker) unpack(ctx context.Context, archivePath, id string) Outcome {
	target := u.TargetDir(id)
	o := Outcome{Archive: archivePath, Target: target}

	fail := func(status Status, entry string, err error) Outcome {
		o.Status, o.Entry, o.Err = status, entry, err

		return o
	}

	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fail(IOFailure, "", fmt.Errorf("failed to read archive: %w", err))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fail(FormatFailure, "", err)
	}

	entries := make([]string, len(zr.File))

	for i, f := range zr.File {
		rel, err := entryPath(f.Name)
		if err != nil {
			return fail(PathFailure, f.Name, err)
		}

		entries[i] = rel
	}

	if u.resetTarget {
		workdir.RemoveAll(ctx, target)
	}

	if err := os.MkdirAll(target, dirPerm); err != nil {
		return fail(IOFailure, "", fmt.Errorf("failed to create target directory: %w", err))
	}

	logger := logctx.LoggerFromContext(ctx).With("archive", archivePath)

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return fail(IOFailure, f.Name, err)
		}

		if f.Mode()&fs.ModeSymlink != 0 {
			logger.WarnContext(ctx, "skipping symlink entry", "entry", f.Name)

			continue
		}

		if entries[i] == "." {
			continue
		}

		dest, err := securejoin.SecureJoin(target, entries[i])
		if err != nil {
			return fail(PathFailure, f.Name, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, dirPerm); err != nil {
				return fail(IOFailure, f.Name, err)
			}

			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), dirPerm); err != nil {
			return fail(IOFailure, f.Name, err)
		}

		if status, err := extractFile(f, dest); err != nil {
			return fail(status, f.Name, err)
		}
	}

	return o
}

// entryPath turns an archive entry name into a path relative to the target
// directory, or fails if the name is empty, absolute, uses backslashes or NUL
// bytes, or climbs out of the target.
func entryPath(name string) (string, error) {
	switch {
	case name == "":
		return "", errors.New("empty entry name")
	case strings.ContainsRune(name, 0):
		return "", errors.New("entry name contains NUL byte")
	case strings.Contains(name, `\`):
		return "", errors.New("entry name contains backslash")
	case path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return "", errors.New("absolute entry name")
	}

	clean := path.Clean(name)
	if clean == "." {
		return clean, nil
	}

	rel := filepath.FromSlash(clean)
	if !filepath.IsLocal(rel) {
		return "", errors.New("entry name escapes target directory")
	}

	return rel, nil
}

func extractFile(f *zip.File, dest string) (Status, error) {
	rc, err := f.Open()
	if err != nil {
		return FormatFailure, err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = filePerm
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return IOFailure, err
	}

	if status, err := copyEntry(out, rc); err != nil {
		out.Close()

		return status, err
	}

	if err := out.Close(); err != nil {
		return IOFailure, err
	}

	return Success, nil
}

// copyEntry reports corrupt compressed data as FormatFailure and disk errors
// as IOFailure.
func copyEntry(dst io.Writer, src io.Reader) (Status, error) {
	buf := make([]byte, 32*1024)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return IOFailure, err
			}
		}

		if errors.Is(readErr, io.EOF) {
			return Success, nil
		}

		if readErr != nil {
			return FormatFailure, readErr
		}
	}
}
