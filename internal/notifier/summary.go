package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/playlist_downloader/internal/downloader"
	"github.com/samber/lo"
)

const maxListedFailures = 10

// BatchSummary renders a finished batch as a short chat message.
func BatchSummary(r downloader.Report) string {
	failed := lo.Filter(r.Items, func(item downloader.ItemResult, _ int) bool {
		return item.State == downloader.StateFailed
	})

	icon := "✅"
	if len(failed) > 0 {
		icon = "⚠️"
	}

	title := r.PlaylistTitle
	if title == "" {
		title = "playlist"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s %s: %d unpacked, %d failed, %d skipped of %d songs (%s in %s)",
		icon,
		title,
		r.Count(downloader.StateUnpacked),
		len(failed),
		r.Count(downloader.StateSkipped),
		r.PlaylistSize,
		humanize.Bytes(uint64(r.Bytes())),
		r.Duration().Round(time.Second),
	)

	for i, item := range failed {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "\n… and %d more", len(failed)-maxListedFailures)

			break
		}

		name := item.SongName
		if name == "" {
			name = item.Hash
		}

		fmt.Fprintf(&b, "\n❌ %s: %s", name, item.Reason)
	}

	return b.String()
}
