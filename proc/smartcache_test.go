package proc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
	"golang.org/x/time/rate"
)

const rickURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func newTestCache(t *testing.T, opts SmartCacheOptions) (*SmartCache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	sc := NewSmartCache(opts)
	sc.setClock(clock.Now)
	t.Cleanup(sc.Close)
	return sc, clock
}

func TestSmartCache_GetOrProcess(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{MaxSize: 10})
	res := &fakeResolver{}
	ctx := context.Background()

	track, hit, err := sc.GetOrProcess(ctx, rickURL, res.Resolve)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "title of "+rickURL, track.Title)

	again, hit, err := sc.GetOrProcess(ctx, "https://youtu.be/dQw4w9WgXcQ", res.Resolve)
	require.NoError(t, err)
	assert.True(t, hit, "equivalent links share one entry")
	assert.Equal(t, track, again)
	assert.Equal(t, int32(1), res.calls.Load())

	s := sc.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
	assert.Equal(t, 1, s.Size)
}

func TestSmartCache_ResolverErrorNotCached(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{})
	res := &fakeResolver{fail: map[string]error{"bad": errBoom}}

	_, _, err := sc.GetOrProcess(context.Background(), "bad", res.Resolve)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, sc.Stats().Size)

	_, _, _ = sc.GetOrProcess(context.Background(), "bad", res.Resolve)
	assert.Equal(t, int32(2), res.calls.Load())
}

func TestSmartCache_TTL(t *testing.T) {
	sc, clock := newTestCache(t, SmartCacheOptions{TTL: time.Hour})
	require.True(t, sc.Put(rickURL, &ResolvedTrack{Title: "x", StreamURL: "https://cdn/x"}))

	clock.Advance(59 * time.Minute)
	_, ok := sc.Get(rickURL)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = sc.Get(rickURL)
	assert.False(t, ok)
	assert.Zero(t, sc.Stats().Size)
}

func TestSmartCache_ExpireSweep(t *testing.T) {
	sc, clock := newTestCache(t, SmartCacheOptions{TTL: time.Minute})
	sc.Put("a", &ResolvedTrack{Title: "a"})
	sc.Put("b", &ResolvedTrack{Title: "b"})

	assert.Zero(t, sc.ExpireSweep())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, sc.ExpireSweep())
	assert.Equal(t, int64(0), sc.Stats().Evictions, "expiry is not a capacity eviction")
}

func TestSmartCache_CapacityEviction(t *testing.T) {
	sc, clock := newTestCache(t, SmartCacheOptions{MaxSize: 2})
	sc.Put("one", &ResolvedTrack{Title: "1"})
	clock.Advance(time.Second)
	sc.Put("two", &ResolvedTrack{Title: "2"})
	_, _ = sc.Get("one")
	sc.Put("three", &ResolvedTrack{Title: "3"})

	_, ok := sc.Get("two")
	assert.False(t, ok)
	_, ok = sc.Get("one")
	assert.True(t, ok)
	assert.Equal(t, int64(1), sc.Stats().Evictions)
}

func TestSmartCache_PutRejectsNil(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{})
	assert.False(t, sc.Put("x", nil))
}

func TestSmartCache_ReplaceDropsOldArtifact(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{})
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.webm")
	newPath := filepath.Join(dir, "new.webm")
	require.NoError(t, os.WriteFile(oldPath, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("b"), 0o644))

	sc.Put(rickURL, &ResolvedTrack{Title: "x", ArtifactPath: oldPath})
	sc.Put(rickURL, &ResolvedTrack{Title: "x", ArtifactPath: newPath})
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)

	// Storing the same artifact again keeps it.
	sc.Put(rickURL, &ResolvedTrack{Title: "x", ArtifactPath: newPath})
	assert.FileExists(t, newPath)
	assert.Equal(t, 1, sc.Stats().Size)
}

func TestSmartCache_PopularityAndPrune(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{PopularityLimit: 5})
	for range 3 {
		sc.Put("hot", &ResolvedTrack{Title: "h"})
	}
	sc.Put("warm", &ResolvedTrack{Title: "w"})
	sc.Put("warm", &ResolvedTrack{Title: "w"})

	top := sc.Popular(2)
	require.Len(t, top, 2)
	assert.Equal(t, PopularURL{URL: "ytsearch:hot", Count: 3}, top[0])
	assert.Equal(t, PopularURL{URL: "ytsearch:warm", Count: 2}, top[1])

	for _, u := range []string{"a", "b", "c", "d"} {
		sc.Put(u, &ResolvedTrack{Title: u})
	}
	// Six distinct URLs exceed the limit of five, leaving 80% of six.
	all := sc.Popular(0)
	assert.Len(t, all, 4)
	assert.Equal(t, "ytsearch:hot", all[0].URL)
}

func TestSmartCache_Invalidate(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{})
	sc.Put(rickURL, &ResolvedTrack{Title: "x"})
	assert.True(t, sc.Invalidate("https://youtu.be/dQw4w9WgXcQ"))
	assert.False(t, sc.Invalidate(rickURL))
}

func TestSmartCache_Warm(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{WarmRate: rate.Inf})
	sc.Put("cached", &ResolvedTrack{Title: "c"})
	res := &fakeResolver{fail: map[string]error{"broken": errBoom}}

	n := sc.Warm(context.Background(), []string{"cached", "fresh", "broken"}, res.Resolve)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(2), res.calls.Load(), "cached urls are not resolved again")
	_, ok := sc.Get("fresh")
	assert.True(t, ok)
}

func TestSmartCache_PersistAndLoad(t *testing.T) {
	store := newMemoryStore()
	sc, clock := newTestCache(t, SmartCacheOptions{Store: store, TTL: time.Hour})
	res := &fakeResolver{}

	_, _, err := sc.GetOrProcess(context.Background(), rickURL, res.Resolve)
	require.NoError(t, err)
	_, _, err = sc.GetOrProcess(context.Background(), "lofi beats", res.Resolve)
	require.NoError(t, err)
	_, _ = sc.Get(rickURL)
	sc.Close()

	assert.Equal(t, 2, store.Len())
	require.NotEmpty(t, store.index)

	restored, _ := newTestCache(t, SmartCacheOptions{Store: store, TTL: time.Hour})
	restored.setClock(func() time.Time { return clock.Now().Add(10 * time.Minute) })

	loaded, expired, corrupt, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Zero(t, expired)
	assert.Zero(t, corrupt)

	stats := restored.Stats()
	assert.Equal(t, int64(1), stats.Hits, "counters come back from the index")
	assert.Equal(t, int64(2), stats.Misses)
	assert.Len(t, restored.Popular(0), 2)

	e, ok := restored.Get(rickURL)
	require.True(t, ok)
	assert.Equal(t, "title of "+rickURL, e.Track.Title)
}

func TestSmartCache_LoadDiscardsExpiredAndCorrupt(t *testing.T) {
	store := newMemoryStore()
	now := newFakeClock().Now()

	sc, _ := newTestCache(t, SmartCacheOptions{Store: store, TTL: time.Hour})
	sc.setClock(func() time.Time { return now.Add(-2 * time.Hour) })
	sc.Put("stale", &ResolvedTrack{Title: "old"})
	sc.setClock(func() time.Time { return now })
	sc.Put("fresh", &ResolvedTrack{Title: "new"})

	_ = store.SaveEntry(context.Background(), sys.CacheRecord{Key: "garbage", Payload: []byte("{not json"), CachedAt: now})
	_ = store.SaveEntry(context.Background(), sys.CacheRecord{Key: "empty", Payload: []byte(`{"url":"x"}`), CachedAt: now})
	store.index = []byte("also not json")

	restored, _ := newTestCache(t, SmartCacheOptions{Store: store, TTL: time.Hour})
	restored.setClock(func() time.Time { return now })

	loaded, expired, corrupt, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 2, corrupt)
	assert.Equal(t, 1, store.Len(), "discarded records are removed from the store")
}

func TestSmartCache_NoStoreLoad(t *testing.T) {
	sc, _ := newTestCache(t, SmartCacheOptions{})
	loaded, expired, corrupt, err := sc.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loaded+expired+corrupt)
}
