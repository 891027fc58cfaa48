package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rotatingResolver hands out a new stream URL on every call.
type rotatingResolver struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (r *rotatingResolver) Resolve(_ context.Context, input string) (*ResolvedTrack, error) {
	n := r.calls.Add(1)
	if r.fail.Load() {
		return nil, errors.New("upstream unavailable")
	}
	return &ResolvedTrack{
		Title:     "title of " + input,
		StreamURL: fmt.Sprintf("https://cdn.example.com/%s?v=%d", CacheKey(input), n),
	}, nil
}

func newTestProcessor(t *testing.T, r Resolver) (*Processor, *SmartCache) {
	t.Helper()
	cache := NewSmartCache(SmartCacheOptions{})
	t.Cleanup(cache.Close)
	p := NewProcessor(cache, r, 2)
	t.Cleanup(p.Close)
	return p, cache
}

func TestProcessor_Process(t *testing.T) {
	p, cache := newTestProcessor(t, &rotatingResolver{})
	song := NewSong(rickURL, 1, testGuild)

	require.NoError(t, p.Process(context.Background(), song))
	assert.True(t, song.IsReady())
	assert.Equal(t, "title of "+rickURL, song.Metadata().Title)
	assert.False(t, song.IsStreamExpired(time.Minute))

	e, ok := cache.Get(rickURL)
	require.True(t, ok)
	assert.False(t, e.Track.ResolvedAt.IsZero(), "stored tracks carry their resolve time")
}

func TestProcessor_CachedStreamKeepsItsAge(t *testing.T) {
	r := &rotatingResolver{}
	p, cache := newTestProcessor(t, r)
	cache.Put(rickURL, &ResolvedTrack{
		Title:      "cached",
		StreamURL:  "https://cdn.example.com/old",
		ResolvedAt: time.Now().Add(-5 * time.Hour),
	})

	song := NewSong(rickURL, 1, testGuild)
	require.NoError(t, p.Process(context.Background(), song))
	assert.Zero(t, r.calls.Load())
	assert.Equal(t, "https://cdn.example.com/old", song.StreamURL())
	assert.True(t, song.IsStreamExpired(4*time.Hour))
}

func TestProcessor_RefreshSkipsCache(t *testing.T) {
	r := &rotatingResolver{}
	p, _ := newTestProcessor(t, r)

	var mu sync.Mutex
	var notified []*Song
	p.OnProcessed(func(s *Song) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, s)
	})

	song := NewSong(rickURL, 1, testGuild)
	require.NoError(t, p.Process(context.Background(), song))
	before := song.StreamURL()

	require.True(t, p.Refresh(song))
	require.Eventually(t, func() bool { return song.StreamURL() != before }, waitFor, tick)
	assert.Equal(t, int32(2), r.calls.Load())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 2
	}, waitFor, tick)

	assert.False(t, p.Refresh(NewSong("pending", 1, testGuild)), "only Ready songs refresh")
}

func TestProcessor_RefreshFailureKeepsStream(t *testing.T) {
	r := &rotatingResolver{}
	p, _ := newTestProcessor(t, r)
	song := NewSong(rickURL, 1, testGuild)
	require.NoError(t, p.Process(context.Background(), song))
	before := song.StreamURL()

	r.fail.Store(true)
	require.True(t, p.Refresh(song))
	require.Eventually(t, func() bool { return r.calls.Load() == 2 }, waitFor, tick)
	require.Eventually(t, song.beginRefresh, waitFor, tick, "refresh slot is released")
	song.endRefresh()

	assert.True(t, song.IsReady())
	assert.Equal(t, before, song.StreamURL())
}

func TestProcessor_RefreshOneAtATime(t *testing.T) {
	song := NewSong(rickURL, 1, testGuild)
	require.NoError(t, song.MarkReady(&SongMetadata{Title: "x"}, "https://cdn/x"))

	require.True(t, song.beginRefresh())
	assert.False(t, song.beginRefresh())
	song.RefreshStreamURL("https://cdn/y")
	assert.True(t, song.beginRefresh())
}
