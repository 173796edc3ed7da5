package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/playlist_downloader/internal/storage"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
)

// InstrumentedItemRepository wraps ItemRepository with telemetry.
type InstrumentedItemRepository struct {
	repo      *ItemRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedItemRepository(
	dbConn *sql.DB,
	instanceID string,
	tel *telemetry.Telemetry,
	opts ...Option,
) *InstrumentedItemRepository {
	return &InstrumentedItemRepository{
		repo:      NewItemRepository(dbConn, instanceID, opts...),
		telemetry: tel,
	}
}

func (r *InstrumentedItemRepository) GetItems(ctx context.Context) ([]storage.ItemRecord, error) {
	var result []storage.ItemRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_items", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetItems(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedItemRepository) CompletedIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	var result map[string]struct{}

	err := r.telemetry.InstrumentDBOperation(ctx, "completed_identifiers", func(ctx context.Context) error {
		var err error

		result, err = r.repo.CompletedIdentifiers(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedItemRepository) ClaimItem(ctx context.Context, identifier, sourceKey string) (bool, error) {
	var claimed bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_item", func(ctx context.Context) error {
		var err error

		claimed, err = r.repo.ClaimItem(ctx, identifier, sourceKey)

		return err
	})
	if err != nil {
		return false, err
	}

	return claimed, nil
}

func (r *InstrumentedItemRepository) UpdateItemStatus(ctx context.Context, identifier, status string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_item_status", func(ctx context.Context) error {
		return r.repo.UpdateItemStatus(ctx, identifier, status)
	})
}

var _ storage.ItemRepository = (*InstrumentedItemRepository)(nil)
