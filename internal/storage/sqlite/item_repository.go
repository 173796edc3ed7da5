package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/playlist_downloader/internal/storage"
)

const (
	timeLayout = time.RFC3339

	// DefaultStaleAfter is how long a downloading claim is honored before
	// another instance may take the item over.
	DefaultStaleAfter = time.Hour
)

type ItemRepository struct {
	db         *sql.DB
	instanceID string
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*ItemRepository)

func WithStaleAfter(d time.Duration) Option {
	return func(r *ItemRepository) {
		r.staleAfter = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *ItemRepository) {
		r.now = now
	}
}

// NewItemRepository returns a ledger whose claims are owned by instanceID.
func NewItemRepository(db *sql.DB, instanceID string, opts ...Option) *ItemRepository {
	r := &ItemRepository{
		db:         db,
		instanceID: instanceID,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *ItemRepository) GetItems(ctx context.Context) ([]storage.ItemRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identifier, source_key, status, updated_at, locked_by FROM items ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []storage.ItemRecord

	for rows.Next() {
		var (
			record    storage.ItemRecord
			sourceKey sql.NullString
			lockedBy  sql.NullString
			updatedAt string
		)

		if err := rows.Scan(&record.Identifier, &sourceKey, &record.Status, &updatedAt, &lockedBy); err != nil {
			return nil, err
		}

		record.SourceKey = sourceKey.String
		record.LockedBy = lockedBy.String

		if record.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
			return nil, fmt.Errorf("invalid updated_at for %s: %w", record.Identifier, err)
		}

		items = append(items, record)
	}

	return items, rows.Err()
}

// CompletedIdentifiers returns the identifiers of every unpacked item.
func (r *ItemRepository) CompletedIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT identifier FROM items WHERE status = ?`, storage.StatusUnpacked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]struct{})

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		done[id] = struct{}{}
	}

	return done, rows.Err()
}

// ClaimItem upserts the item as downloading and locked by this instance. The
// claim fails while another instance holds the item, that is while it is
// downloading or downloaded under that instance's lock and the lock is not
// stale yet. Unpacked items yield storage.ErrCompleted.
func (r *ItemRepository) ClaimItem(ctx context.Context, identifier, sourceKey string) (bool, error) {
	var status string

	err := r.db.QueryRowContext(ctx, `SELECT status FROM items WHERE identifier = ?`, identifier).Scan(&status)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if status == storage.StatusUnpacked {
		return false, storage.ErrCompleted
	}

	now := r.now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO items (identifier, source_key, status, updated_at, locked_by)
		VALUES (?, ?, 'downloading', ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			source_key = excluded.source_key,
			status = 'downloading',
			updated_at = excluded.updated_at,
			locked_by = excluded.locked_by
		WHERE items.status <> 'unpacked'
			AND (items.status NOT IN ('downloading', 'downloaded')
				OR items.locked_by IS NULL
				OR items.locked_by = ''
				OR items.locked_by = excluded.locked_by
				OR items.updated_at < ?)
	`, identifier, sourceKey, now.Format(timeLayout), r.instanceID, now.Add(-r.staleAfter).Format(timeLayout))
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// UpdateItemStatus sets the status of an item. The claim is released once
// the item is unpacked or failed; intermediate statuses keep it and refresh
// its age.
func (r *ItemRepository) UpdateItemStatus(ctx context.Context, identifier, status string) error {
	query := `UPDATE items SET status = ?, updated_at = ? WHERE identifier = ?`
	if storage.IsFinal(status) {
		query = `UPDATE items SET status = ?, updated_at = ?, locked_by = NULL WHERE identifier = ?`
	}

	_, err := r.db.ExecContext(ctx, query, status, r.now().UTC().Format(timeLayout), identifier)

	return err
}
