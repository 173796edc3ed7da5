package downloader

import (
	"sync"
	"time"

	"github.com/italolelis/playlist_downloader/internal/fetch/progress"
	"github.com/samber/lo"
)

// ItemState is the position of one playlist item in the pipeline.
type ItemState string

const (
	StatePending     ItemState = "pending"
	StateDownloading ItemState = "downloading"
	StateDownloaded  ItemState = "downloaded"
	StateUnpacked    ItemState = "unpacked"
	StateSkipped     ItemState = "skipped"
	StateFailed      ItemState = "failed"
)

type ItemResult struct {
	Hash       string    `json:"hash"`
	Key        string    `json:"key,omitempty"`
	SongName   string    `json:"song_name,omitempty"`
	State      ItemState `json:"state"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	Reason     string    `json:"reason,omitempty"`
}

// Report describes one batch. While the batch runs it is a live snapshot.
type Report struct {
	RunID         string       `json:"run_id"`
	PlaylistTitle string       `json:"playlist_title,omitempty"`
	PlaylistSize  int          `json:"playlist_size"`
	Running       bool         `json:"running"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Items         []ItemResult `json:"items"`
}

// Count returns how many items ended in state.
func (r Report) Count(state ItemState) int {
	return lo.CountBy(r.Items, func(item ItemResult) bool {
		return item.State == state
	})
}

// Bytes returns the number of bytes downloaded across all items.
func (r Report) Bytes() int64 {
	return lo.SumBy(r.Items, func(item ItemResult) int64 {
		return item.Downloaded
	})
}

func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// Status holds the report of the current or last batch and is safe for
// concurrent use by the worker pool and the status server.
type Status struct {
	mu     sync.RWMutex
	report Report
}

func NewStatus() *Status {
	return &Status{}
}

// Snapshot returns a copy of the current report.
func (s *Status) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.report
	r.Items = append([]ItemResult(nil), s.report.Items...)

	return r
}

func (s *Status) start(r Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.Running = true
	s.report = r
}

func (s *Status) finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.Running = false
	s.report.FinishedAt = at
}

func (s *Status) setState(i int, state ItemState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.Items[i].State = state
	s.report.Items[i].Reason = reason
}

// progressFunc mirrors fetch progress of item i into the report.
func (s *Status) progressFunc(i int) progress.Func {
	return func(o progress.Observation) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.report.Items[i].Downloaded = o.Downloaded
		s.report.Items[i].Total = o.Total
	}
}
