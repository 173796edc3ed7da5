package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/playlist_downloader/internal/fetch/progress"
	"github.com/italolelis/playlist_downloader/internal/logctx"
)

// Window is an inclusive byte range of a remote resource.
type Window struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the window.
func (w Window) Len() int64 {
	return w.End - w.Start + 1
}

// Header returns the value of the Range request header for the window.
func (w Window) Header() string {
	return fmt.Sprintf("bytes=%d-%d", w.Start, w.End)
}

// RangeCursor walks a resource of Total bytes in windows of at most ChunkSize
// bytes. Windows are contiguous, never overlap and always satisfy
// Start <= End < Total.
type RangeCursor struct {
	Total     int64
	Start     int64
	ChunkSize int64
}

func NewRangeCursor(total, chunkSize int64) *RangeCursor {
	return &RangeCursor{Total: total, ChunkSize: chunkSize}
}

// Next returns the next window, or false once Start has reached Total.
func (c *RangeCursor) Next() (Window, bool) {
	if c.ChunkSize <= 0 || c.Start >= c.Total {
		return Window{}, false
	}

	w := Window{
		Start: c.Start,
		End:   c.Start + min(c.ChunkSize, c.Total-c.Start) - 1,
	}
	c.Start = w.End + 1

	return w, true
}

// FetchRanged learns the size of url with a HEAD request and then retrieves it
// window by window, appending every window to dest in order. onProgress is
// called after every window and may be nil.
func (f *Fetcher) FetchRanged(ctx context.Context, url, dest string, onProgress progress.Func) error {
	logger := logctx.LoggerFromContext(ctx).With("url", url, "path", dest)

	head, err := f.do(ctx, http.MethodHead, url, "")
	if err != nil {
		return &Error{Kind: ErrRequestFailed, Op: "head", URL: url, Path: dest, Err: err}
	}
	head.Body.Close()

	if head.StatusCode < http.StatusOK || head.StatusCode >= http.StatusMultipleChoices {
		return &Error{Kind: ErrUnexpectedStatus, Op: "head", URL: url, Path: dest, StatusCode: head.StatusCode}
	}

	total := head.ContentLength
	if total < 0 {
		return &Error{Kind: ErrMissingLength, Op: "head", URL: url, Path: dest}
	}

	out, err := os.Create(dest)
	if err != nil {
		return &Error{Kind: ErrFileCreateFailed, Op: "head", URL: url, Path: dest, Err: err}
	}

	logger.DebugContext(ctx, "downloading in ranges",
		"size", humanize.Bytes(uint64(total)),
		"chunk_size", humanize.Bytes(uint64(f.chunkSize)),
	)

	tracker := progress.NewTracker(total, onProgress)
	cursor := NewRangeCursor(total, f.chunkSize)

	for w, ok := cursor.Next(); ok; w, ok = cursor.Next() {
		logger.DebugContext(ctx, "downloading range", "range", w.Header(), "total", total)

		written, err := f.fetchWindow(ctx, url, dest, out, w, total)
		if err != nil {
			discard(ctx, out)

			return err
		}

		tracker.Advance(written)
		cursor.Start = w.Start + written
	}

	if err := finish(out); err != nil {
		discard(ctx, out)

		return &Error{Kind: ErrWriteFailed, Op: "get_range", URL: url, Path: dest, Err: err}
	}

	logger.DebugContext(ctx, "downloaded", "size", humanize.Bytes(uint64(total)))

	return nil
}

// fetchWindow appends the window w to out and returns the number of bytes
// written. A server that ignores the Range header answers 200 with the whole
// resource: the bytes before the window are skipped and the rest of that body
// is written, so the caller has nothing left to request.
func (f *Fetcher) fetchWindow(ctx context.Context, url, dest string, out io.Writer, w Window, total int64) (int64, error) {
	resp, err := f.do(ctx, http.MethodGet, url, w.Header())
	if err != nil {
		return 0, &Error{Kind: ErrRequestFailed, Op: "get_range", URL: url, Path: dest, Err: err}
	}
	defer resp.Body.Close()

	want := w.Len()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, w.Start); err != nil {
			return 0, &Error{Kind: ErrStreamFailed, Op: "get_range", URL: url, Path: dest, StatusCode: resp.StatusCode, Err: err}
		}

		want = total - w.Start
	default:
		return 0, &Error{Kind: ErrUnexpectedStatus, Op: "get_range", URL: url, Path: dest, StatusCode: resp.StatusCode}
	}

	written, kind, err := copyBody(out, io.LimitReader(resp.Body, want))
	if err == nil && written != want {
		kind, err = ErrStreamFailed, fmt.Errorf("range %s: got %d of %d bytes: %w", w.Header(), written, want, io.ErrUnexpectedEOF)
	}

	if err != nil {
		return written, &Error{Kind: kind, Op: "get_range", URL: url, Path: dest, StatusCode: resp.StatusCode, Err: err}
	}

	return written, nil
}
