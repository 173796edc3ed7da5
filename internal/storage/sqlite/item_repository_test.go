package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/playlist_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(context.Background(), filepath.Join(t.TempDir(), "songs.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "songs.db")

	for range 2 {
		db, err := InitDB(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	}
}

func TestItemRepository_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := NewItemRepository(db, "instance-a")
	b := NewItemRepository(db, "instance-b")

	claimed, err := a.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = b.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.False(t, claimed, "live claim of another instance must hold")

	claimed, err = a.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.True(t, claimed, "owner may re-claim")

	require.NoError(t, a.UpdateItemStatus(ctx, "abc", storage.StatusFailed))

	claimed, err = b.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.True(t, claimed, "failed items are claimable")

	require.NoError(t, b.UpdateItemStatus(ctx, "abc", storage.StatusUnpacked))

	claimed, err = a.ClaimItem(ctx, "abc", "1a")
	assert.ErrorIs(t, err, storage.ErrCompleted)
	assert.False(t, claimed)
}

func TestItemRepository_DownloadedItemStaysClaimed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	a := NewItemRepository(db, "instance-a", WithClock(clock.Now))
	b := NewItemRepository(db, "instance-b", WithClock(clock.Now), WithStaleAfter(10*time.Minute))

	claimed, err := a.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	require.True(t, claimed)

	clock.now = clock.now.Add(8 * time.Minute)
	require.NoError(t, a.UpdateItemStatus(ctx, "abc", storage.StatusDownloaded))

	items, err := a.GetItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "instance-a", items[0].LockedBy)

	clock.now = clock.now.Add(5 * time.Minute)

	claimed, err = b.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.False(t, claimed, "archive still waiting to be unpacked by its owner")

	require.NoError(t, a.UpdateItemStatus(ctx, "abc", storage.StatusUnpacked))

	claimed, err = b.ClaimItem(ctx, "abc", "1a")
	assert.ErrorIs(t, err, storage.ErrCompleted)
	assert.False(t, claimed)
}

func TestItemRepository_StaleDownloadedClaim(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	a := NewItemRepository(db, "instance-a", WithClock(clock.Now))
	b := NewItemRepository(db, "instance-b", WithClock(clock.Now), WithStaleAfter(10*time.Minute))

	claimed, err := a.ClaimItem(ctx, "abc", "")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, a.UpdateItemStatus(ctx, "abc", storage.StatusDownloaded))

	clock.now = clock.now.Add(15 * time.Minute)

	claimed, err = b.ClaimItem(ctx, "abc", "")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestItemRepository_StaleClaim(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	a := NewItemRepository(db, "instance-a", WithClock(clock.Now))
	b := NewItemRepository(db, "instance-b", WithClock(clock.Now), WithStaleAfter(10*time.Minute))

	claimed, err := a.ClaimItem(ctx, "abc", "")
	require.NoError(t, err)
	require.True(t, claimed)

	clock.now = clock.now.Add(5 * time.Minute)

	claimed, err = b.ClaimItem(ctx, "abc", "")
	require.NoError(t, err)
	assert.False(t, claimed)

	clock.now = clock.now.Add(10 * time.Minute)

	claimed, err = b.ClaimItem(ctx, "abc", "")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestItemRepository_GetItemsAndCompleted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}

	repo := NewItemRepository(db, "instance-a", WithClock(clock.Now))

	for _, id := range []string{"b", "a", "c"} {
		claimed, err := repo.ClaimItem(ctx, id, "key-"+id)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	require.NoError(t, repo.UpdateItemStatus(ctx, "a", storage.StatusUnpacked))
	require.NoError(t, repo.UpdateItemStatus(ctx, "c", storage.StatusUnpacked))
	require.NoError(t, repo.UpdateItemStatus(ctx, "b", storage.StatusFailed))

	items, err := repo.GetItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, storage.ItemRecord{
		Identifier: "a",
		SourceKey:  "key-a",
		Status:     storage.StatusUnpacked,
		UpdatedAt:  clock.now,
	}, items[0])
	assert.Equal(t, storage.StatusFailed, items[1].Status)
	assert.Empty(t, items[1].LockedBy)

	done, err := repo.CompletedIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "c": {}}, done)
}

func TestInstrumentedItemRepository_NilTelemetry(t *testing.T) {
	ctx := context.Background()
	repo := NewInstrumentedItemRepository(newTestDB(t), "instance-a", nil)

	claimed, err := repo.ClaimItem(ctx, "abc", "1a")
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, repo.UpdateItemStatus(ctx, "abc", storage.StatusUnpacked))

	done, err := repo.CompletedIdentifiers(ctx)
	require.NoError(t, err)
	assert.Contains(t, done, "abc")

	items, err := repo.GetItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
