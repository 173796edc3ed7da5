package storage

import (
	"context"
	"errors"
	"time"
)

// Item statuses. An item is complete once it is unpacked. Downloading and
// downloaded items belong to the instance that claimed them; failed items can
// be claimed again.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusDownloaded  = "downloaded"
	StatusUnpacked    = "unpacked"
	StatusFailed      = "failed"
)

// IsFinal reports whether status ends the processing of an item in a run and
// releases its claim.
func IsFinal(status string) bool {
	return status == StatusUnpacked || status == StatusFailed
}

// ErrCompleted is returned when claiming an item that was already unpacked.
var ErrCompleted = errors.New("item already completed")

// ItemRecord is the ledger entry of one playlist item.
type ItemRecord struct {
	Identifier string
	SourceKey  string
	Status     string
	UpdatedAt  time.Time
	LockedBy   string
}

type ItemReadRepository interface {
	GetItems(ctx context.Context) ([]ItemRecord, error)
	CompletedIdentifiers(ctx context.Context) (map[string]struct{}, error)
}

type ItemWriteRepository interface {
	// ClaimItem atomically marks the item as downloading for this instance.
	// It returns false if another instance holds a live claim.
	ClaimItem(ctx context.Context, identifier, sourceKey string) (bool, error)
	UpdateItemStatus(ctx context.Context, identifier, status string) error
}

type ItemRepository interface {
	ItemReadRepository
	ItemWriteRepository
}
