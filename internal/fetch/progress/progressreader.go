package progress

import (
	"context"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/playlist_downloader/internal/logctx"
)

// Observation is a snapshot of one in-flight transfer.
type Observation struct {
	Downloaded int64
	Total      int64
	Elapsed    time.Duration
	Rate       float64 // bytes per second
}

// Done reports whether every advertised byte has been seen.
func (o Observation) Done() bool {
	return o.Total >= 0 && o.Downloaded >= o.Total
}

// Func receives observations. It must not block for long and cannot influence
// the transfer it observes.
type Func func(Observation)

// Tracker accumulates transferred bytes and reports an Observation on every advance.
type Tracker struct {
	total      int64
	downloaded int64
	start      time.Time
	onProgress Func
	now        func() time.Time
}

// NewTracker starts the clock for a transfer of total bytes. A nil fn is allowed.
func NewTracker(total int64, fn Func) *Tracker {
	return &Tracker{
		total:      total,
		start:      time.Now(),
		onProgress: fn,
		now:        time.Now,
	}
}

// Advance records n more bytes, clamped to the total.
func (t *Tracker) Advance(n int64) {
	t.downloaded += n
	if t.total >= 0 && t.downloaded > t.total {
		t.downloaded = t.total
	}

	if t.onProgress != nil {
		t.onProgress(t.Observation())
	}
}

// Observation returns the current state of the transfer.
func (t *Tracker) Observation() Observation {
	elapsed := t.now().Sub(t.start)

	var rate float64
	if elapsed > 0 {
		rate = float64(t.downloaded) / elapsed.Seconds()
	}

	return Observation{
		Downloaded: t.downloaded,
		Total:      t.total,
		Elapsed:    elapsed,
		Rate:       rate,
	}
}

// Downloaded returns the bytes seen so far.
func (t *Tracker) Downloaded() int64 {
	return t.downloaded
}

// Reader wraps an io.Reader and advances its Tracker after every chunk read.
type Reader struct {
	*Tracker

	reader io.Reader
}

func NewReader(r io.Reader, total int64, fn Func) *Reader {
	return &Reader{
		Tracker: NewTracker(total, fn),
		reader:  r,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.Advance(int64(n))
	}

	return n, err
}

// Chain calls every non-nil fn in order.
func Chain(fns ...Func) Func {
	return func(o Observation) {
		for _, fn := range fns {
			if fn != nil {
				fn(o)
			}
		}
	}
}

// LogFunc logs a human-readable status line every interval bytes and once the
// transfer is complete.
func LogFunc(ctx context.Context, url string, interval int64) Func {
	logger := logctx.LoggerFromContext(ctx)

	var lastReport int64

	return func(o Observation) {
		if !o.Done() && o.Downloaded-lastReport < interval {
			return
		}

		lastReport = o.Downloaded

		attrs := []any{
			"url", url,
			"downloaded", humanize.Bytes(uint64(o.Downloaded)),
			"elapsed", o.Elapsed.Round(time.Millisecond).String(),
			"rate", humanize.Bytes(uint64(o.Rate)) + "/s",
		}

		if o.Total > 0 {
			attrs = append(attrs,
				"total", humanize.Bytes(uint64(o.Total)),
				"percent", humanize.FtoaWithDigits(float64(o.Downloaded)*100/float64(o.Total), 2),
			)
		}

		if o.Done() {
			logger.InfoContext(ctx, "download progress", attrs...)

			return
		}

		logger.DebugContext(ctx, "download progress", attrs...)
	}
}
