package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/playlist_downloader/internal/fetch/progress"
	"github.com/italolelis/playlist_downloader/internal/logctx"
)

const (
	// DefaultChunkSize is the window size of ranged retrieval.
	DefaultChunkSize = 10240

	copyBufferSize = 32 * 1024
)

// Func retrieves url into the file at dest.
type Func func(ctx context.Context, url, dest string, onProgress progress.Func) error

// Retrieval strategies accepted by ForStrategy.
const (
	StrategyStream = "stream"
	StrategyRanged = "ranged"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithChunkSize sets the window size used by FetchRanged.
func WithChunkSize(size int64) Option {
	return func(f *Fetcher) {
		if size > 0 {
			f.chunkSize = size
		}
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// Fetcher retrieves remote files either as one streamed GET or as a sequence
// of byte-range GETs. It does not retry; a failure is terminal for the item.
type Fetcher struct {
	client    *http.Client
	chunkSize int64
	userAgent string
}

func New(client *http.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	f := &Fetcher{
		client:    client,
		chunkSize: DefaultChunkSize,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ForStrategy returns Fetch for "stream" and FetchRanged for "ranged".
func (f *Fetcher) ForStrategy(strategy string) (Func, error) {
	switch strategy {
	case StrategyStream:
		return f.Fetch, nil
	case StrategyRanged:
		return f.FetchRanged, nil
	default:
		return nil, fmt.Errorf("unknown fetch strategy %q", strategy)
	}
}

// Fetch issues a single GET and streams the body into dest, truncating any
// previous content. The response must advertise its length. onProgress is
// called after every chunk and may be nil.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, onProgress progress.Func) error {
	logger := logctx.LoggerFromContext(ctx).With("url", url, "path", dest)

	resp, err := f.do(ctx, http.MethodGet, url, "")
	if err != nil {
		return &Error{Kind: ErrRequestFailed, Op: "get", URL: url, Path: dest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &Error{Kind: ErrUnexpectedStatus, Op: "get", URL: url, Path: dest, StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength
	if total < 0 {
		return &Error{Kind: ErrMissingLength, Op: "get", URL: url, Path: dest}
	}

	logger.DebugContext(ctx, "download started", "size", humanize.Bytes(uint64(total)))

	out, err := os.Create(dest)
	if err != nil {
		return &Error{Kind: ErrFileCreateFailed, Op: "get", URL: url, Path: dest, Err: err}
	}

	pr := progress.NewReader(resp.Body, total, onProgress)

	written, kind, err := copyBody(out, pr)
	if err == nil && written != total {
		kind, err = ErrStreamFailed, fmt.Errorf("got %d of %d bytes: %w", written, total, io.ErrUnexpectedEOF)
	}

	if err != nil {
		discard(ctx, out)

		return &Error{Kind: kind, Op: "get", URL: url, Path: dest, Err: err}
	}

	if err := finish(out); err != nil {
		discard(ctx, out)

		return &Error{Kind: ErrWriteFailed, Op: "get", URL: url, Path: dest, Err: err}
	}

	logger.DebugContext(ctx, "downloaded", "size", humanize.Bytes(uint64(written)))

	return nil
}

func (f *Fetcher) do(ctx context.Context, method, url, byteRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	return f.client.Do(req)
}

// copyBody copies src into dst and tells read failures (ErrStreamFailed) from
// write failures (ErrWriteFailed).
func copyBody(dst io.Writer, src io.Reader) (written int64, kind, err error) {
	buf := make([]byte, copyBufferSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr == nil && nw != n {
				writeErr = io.ErrShortWrite
			}

			if writeErr != nil {
				return written, ErrWriteFailed, writeErr
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil, nil
		}

		if readErr != nil {
			return written, ErrStreamFailed, readErr
		}
	}
}

// finish flushes out to stable storage and closes it.
func finish(out *os.File) error {
	if err := out.Sync(); err != nil {
		out.Close()

		return fmt.Errorf("sync: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}

// discard closes and deletes a partially written file.
func discard(ctx context.Context, out *os.File) {
	out.Close()

	if err := os.Remove(out.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial download", "path", out.Name(), "err", err)
	}
}
