package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/playlist_downloader/internal/fetch"
	"github.com/italolelis/playlist_downloader/internal/fetch/progress"
	"github.com/italolelis/playlist_downloader/internal/logctx"
	"github.com/italolelis/playlist_downloader/internal/playlist"
	"github.com/italolelis/playlist_downloader/internal/storage"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
	"github.com/italolelis/playlist_downloader/internal/unpack"
	"github.com/italolelis/playlist_downloader/internal/workdir"
	"golang.org/x/sync/errgroup"
)

const defaultProgressInterval = 1 << 20

type Options struct {
	DownloadRoot string
	UnpackedRoot string
	// URLTemplate holds one %s replaced by the escaped source key.
	URLTemplate string
	Strategy    string
	MaxParallel int
	// ResetUnpacked empties the directory of every item before its archive
	// is extracted into it.
	ResetUnpacked bool
	// KeepArchives leaves the fetched archives in DownloadRoot.
	KeepArchives     bool
	ProgressInterval int64
}

// Downloader runs a playlist batch: fetch every pending item, then unpack the
// fetched archives and remove them. Only the files of items claimed by this
// run are touched, so several instances can share the same roots.
type Downloader struct {
	opts      Options
	fetch     fetch.Func
	unpacker  *unpack.Unpacker
	repo      storage.ItemRepository
	telemetry *telemetry.Telemetry
	status    *Status
}

func NewDownloader(
	opts Options,
	fetchFn fetch.Func,
	repo storage.ItemRepository,
	tel *telemetry.Telemetry,
) *Downloader {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	return &Downloader{
		opts:      opts,
		fetch:     fetchFn,
		unpacker:  unpack.New(opts.DownloadRoot, opts.UnpackedRoot, tel, unpack.WithResetTarget(opts.ResetUnpacked)),
		repo:      repo,
		telemetry: tel,
		status:    NewStatus(),
	}
}

// Status exposes the live report of the current or last batch.
func (d *Downloader) Status() *Status {
	return d.status
}

// Run processes the playlist. Item failures are recorded in the report and
// never abort the batch; only a ledger read failure is returned.
func (d *Downloader) Run(ctx context.Context, p *playlist.Playlist) (Report, error) {
	runID := uuid.NewString()
	ctx = logctx.WithRunID(ctx, runID)
	logger := logctx.LoggerFromContext(ctx)

	unique := p.Unique()
	logger.InfoContext(ctx, "playlist loaded", "title", p.Title, "songs", len(unique))

	done, err := d.repo.CompletedIdentifiers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read completed items: %w", err)
	}

	pending := p.Pending(done)
	logger.InfoContext(ctx, "songs to download", "pending", len(pending), "already_processed", len(unique)-len(pending))

	items := make([]ItemResult, len(pending))
	for i, song := range pending {
		items[i] = ItemResult{Hash: song.Name(), Key: song.Key, SongName: song.SongName, State: StatePending}
	}

	d.status.start(Report{
		RunID:         runID,
		PlaylistTitle: p.Title,
		PlaylistSize:  len(unique),
		StartedAt:     time.Now(),
		Items:         items,
	})

	workdir.Ensure(ctx, d.opts.DownloadRoot)

	fetched := d.fetchAll(ctx, pending)

	d.unpackAll(ctx, pending, fetched)

	if !d.opts.KeepArchives {
		workdir.Prune(ctx, d.opts.DownloadRoot)
	}

	d.status.finish(time.Now())
	report := d.status.Snapshot()

	logger.InfoContext(ctx, "batch finished",
		"unpacked", report.Count(StateUnpacked),
		"failed", report.Count(StateFailed),
		"skipped", report.Count(StateSkipped),
		"duration", report.Duration().String(),
	)

	return report, nil
}

// fetchAll retrieves the pending items on a pool of MaxParallel workers and
// returns the indexes of the items whose archive is complete on disk. It
// returns only after every fetch has finished.
func (d *Downloader) fetchAll(ctx context.Context, pending []playlist.Song) []int {
	var g errgroup.Group

	g.SetLimit(d.opts.MaxParallel)

	ok := make([]bool, len(pending))

	for i, song := range pending {
		g.Go(func() error {
			ok[i] = d.fetchItem(ctx, i, len(pending), song)

			return nil
		})
	}

	_ = g.Wait()

	fetched := make([]int, 0, len(pending))

	for i, success := range ok {
		if success {
			fetched = append(fetched, i)
		}
	}

	return fetched
}

func (d *Downloader) fetchItem(ctx context.Context, i, total int, song playlist.Song) bool {
	id := song.ID()
	logger := logctx.LoggerFromContext(ctx).With("hash", song.Name(), "key", song.Key)

	if err := song.Validate(); err != nil {
		logger.WarnContext(ctx, "skipping song", "err", err)
		d.status.setState(i, StateSkipped, err.Error())

		return false
	}

	if song.Key == "" {
		logger.WarnContext(ctx, "skipping song without source key", "song", song.SongName)
		d.status.setState(i, StateSkipped, "missing source key")

		return false
	}

	claimed, err := d.repo.ClaimItem(ctx, id, song.Key)
	switch {
	case errors.Is(err, storage.ErrCompleted):
		logger.DebugContext(ctx, "song already processed")
		d.status.setState(i, StateSkipped, "already processed")

		return false
	case err != nil:
		logger.ErrorContext(ctx, "failed to claim song", "err", err)
		d.status.setState(i, StateFailed, err.Error())

		return false
	case !claimed:
		logger.InfoContext(ctx, "song claimed by another instance")
		d.status.setState(i, StateSkipped, "claimed by another instance")

		return false
	}

	src := fmt.Sprintf(d.opts.URLTemplate, url.PathEscape(song.Key))
	dest := d.unpacker.ArchivePath(song.Name())

	logger.InfoContext(ctx, "downloading", "item", fmt.Sprintf("%d/%d", i+1, total), "song", song.SongName, "url", src)
	d.status.setState(i, StateDownloading, "")

	var last progress.Observation

	onProgress := progress.Chain(
		progress.LogFunc(ctx, src, d.opts.ProgressInterval),
		d.status.progressFunc(i),
		func(o progress.Observation) { last = o },
	)

	err = d.telemetry.InstrumentDownload(ctx, d.opts.Strategy, func(ctx context.Context) error {
		return d.fetch(ctx, src, dest, onProgress)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to download song", "url", src, "path", dest, "err", err)
		d.status.setState(i, StateFailed, err.Error())
		d.updateItemStatus(ctx, id, storage.StatusFailed)

		return false
	}

	d.telemetry.RecordDownloadedBytes(ctx, last.Downloaded)
	d.status.setState(i, StateDownloaded, "")
	d.updateItemStatus(ctx, id, storage.StatusDownloaded)

	logger.InfoContext(ctx, "song downloaded", "path", dest, "size", last.Downloaded)

	return true
}

// unpackAll extracts the archives of the fetched items and settles their
// ledger status. The archives are removed afterwards unless KeepArchives is
// set.
func (d *Downloader) unpackAll(ctx context.Context, pending []playlist.Song, fetched []int) {
	names := make([]string, len(fetched))
	for n, i := range fetched {
		names[n] = pending[i].Name()
	}

	outcomes := d.unpacker.UnpackAll(ctx, names)

	for n, o := range outcomes {
		i := fetched[n]
		id := pending[i].ID()

		if !d.opts.KeepArchives {
			workdir.RemoveFile(ctx, d.unpacker.ArchivePath(names[n]))
		}

		if o.OK() {
			d.status.setState(i, StateUnpacked, "")
			d.updateItemStatus(ctx, id, storage.StatusUnpacked)

			continue
		}

		d.status.setState(i, StateFailed, o.AsError().Error())
		d.updateItemStatus(ctx, id, storage.StatusFailed)
	}
}

func (d *Downloader) updateItemStatus(ctx context.Context, id, status string) {
	// Claims are released even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := d.repo.UpdateItemStatus(ctx, id, status); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to update item status",
			"hash", id, "status", status, "err", err)
	}
}
