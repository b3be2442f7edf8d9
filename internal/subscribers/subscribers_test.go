package subscribers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-report-bot/internal/logging"
	"integration-report-bot/internal/sqlitedb"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func countRows(t *testing.T, store *SQLiteStore, chatID int64) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM subscribers WHERE chat_id = ?", chatID).Scan(&n))
	return n
}

func TestSQLiteStoreUpsertIsKeyedByChatID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: -1001, ChatName: "ops", IsGroup: true}))
	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: -1001, ChatName: "ops renamed", IsGroup: true}))

	assert.Equal(t, 1, countRows(t, store, -1001))

	sub, err := store.Get(ctx, -1001)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "ops renamed", sub.ChatName)
	assert.True(t, sub.IsGroup)
	assert.True(t, sub.IsActive)
}

func TestSQLiteStoreDeactivateAndReactivate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: 42, ChatName: "alice"}))

	changed, err := store.Deactivate(ctx, 42)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.Deactivate(ctx, 42)
	require.NoError(t, err)
	assert.False(t, changed, "second deactivate should be a no-op")

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: 42, ChatName: "alice"}))
	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(42), active[0].ChatID)
	assert.Equal(t, 1, countRows(t, store, 42))
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	sub, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestServiceSubscribeTwiceLeavesOneActiveRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, logging.Discard())
	require.NoError(t, svc.Reload(ctx))

	added, err := svc.Subscribe(ctx, Subscriber{ChatID: 5, ChatName: "bob"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.Subscribe(ctx, Subscriber{ChatID: 5, ChatName: "bob"})
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, 1, countRows(t, store, 5))
	assert.Equal(t, []int64{5}, svc.List())
}

func TestServiceReloadReconcilesWithStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: 1}))
	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: 2}))
	require.NoError(t, store.Upsert(ctx, Subscriber{ChatID: 3}))
	_, err := store.Deactivate(ctx, 2)
	require.NoError(t, err)

	svc := NewService(store, logging.Discard())
	require.NoError(t, svc.Reload(ctx))
	assert.Equal(t, []int64{1, 3}, svc.List())

	// Out-of-band change in the store is picked up on the next reload.
	_, err = store.Deactivate(ctx, 3)
	require.NoError(t, err)
	assert.True(t, svc.IsSubscribed(3))
	require.NoError(t, svc.Reload(ctx))
	assert.False(t, svc.IsSubscribed(3))
	assert.Equal(t, 1, svc.Count())
}

func TestServiceUnsubscribeWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, logging.Discard())
	require.NoError(t, svc.Reload(ctx))

	_, err := svc.Subscribe(ctx, Subscriber{ChatID: 9})
	require.NoError(t, err)

	removed, err := svc.Unsubscribe(ctx, 9)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, svc.List())

	sub, err := store.Get(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.False(t, sub.IsActive)

	removed, err = svc.Unsubscribe(ctx, 9)
	require.NoError(t, err)
	assert.False(t, removed)
}
