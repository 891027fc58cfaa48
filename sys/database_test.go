package sys

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDatabase(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLCacheStore_Entries(t *testing.T) {
	ctx := context.Background()
	store := NewSQLCacheStore(openTestDB(t))

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.SaveEntry(ctx, CacheRecord{Key: "a", Payload: []byte(`{"v":1}`), CachedAt: at}))
	require.NoError(t, store.SaveEntry(ctx, CacheRecord{Key: "b", Payload: []byte(`{"v":2}`), CachedAt: at}))
	require.NoError(t, store.SaveEntry(ctx, CacheRecord{Key: "a", Payload: []byte(`{"v":3}`), CachedAt: at.Add(time.Minute)}))

	recs, err := store.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	assert.Equal(t, `{"v":3}`, string(recs[0].Payload))
	assert.True(t, recs[0].CachedAt.Equal(at.Add(time.Minute)))

	require.NoError(t, store.DeleteEntry(ctx, "a"))
	require.NoError(t, store.DeleteEntry(ctx, "missing"))
	recs, err = store.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Key)
}

func TestSQLCacheStore_Index(t *testing.T) {
	ctx := context.Background()
	store := NewSQLCacheStore(openTestDB(t))

	payload, err := store.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Nil(t, payload)

	require.NoError(t, store.SaveIndex(ctx, []byte("first")))
	require.NoError(t, store.SaveIndex(ctx, []byte("second")))
	payload, err = store.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(payload))
}

func TestBotConfig(t *testing.T) {
	ctx := context.Background()
	prev := DB
	t.Cleanup(func() { DB = prev })

	DB = nil
	v, err := GetBotConfig(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, SetBotConfig(ctx, "k", "v"))

	DB = openTestDB(t)
	v, err = GetBotConfig(ctx, "commands_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "commands_hash", "abc"))
	require.NoError(t, SetBotConfig(ctx, "commands_hash", "def"))
	v, err = GetBotConfig(ctx, "commands_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}
