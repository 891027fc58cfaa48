package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPlayer = PlayerOptions{StopGrace: time.Millisecond, RetryDelay: time.Millisecond}

type eventLog struct {
	mu       sync.Mutex
	finished []PlaybackEvent
	errors   []PlaybackEvent
}

func (l *eventLog) onFinished(ev PlaybackEvent) {
	l.mu.Lock()
	l.finished = append(l.finished, ev)
	l.mu.Unlock()
}

func (l *eventLog) onError(ev PlaybackEvent) {
	l.mu.Lock()
	l.errors = append(l.errors, ev)
	l.mu.Unlock()
}

func readySong(t *testing.T, input string) *Song {
	t.Helper()
	s := NewSong(input, 1, testGuild)
	require.NoError(t, s.MarkReady(&SongMetadata{Title: input, Duration: 60}, "https://cdn.example.com/"+CacheKey(input)))
	return s
}

func newTestPlayer(handle *fakeHandle, sources *fakeSourceFactory) (*AudioPlayer, *eventLog) {
	log := &eventLog{}
	p := NewAudioPlayer(testGuild, handle, sources, fastPlayer, log.onFinished, log.onError)
	return p, log
}

func TestPlayer_PlayAndComplete(t *testing.T) {
	h := newFakeHandle(5)
	p, log := newTestPlayer(h, &fakeSourceFactory{})
	song := readySong(t, "a")

	gen, err := p.Play(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, PlayerPlaying, p.State())
	assert.Same(t, song, p.Current())

	h.Finish(nil)

	require.Len(t, log.finished, 1)
	assert.Equal(t, gen, log.finished[0].Generation)
	assert.NoError(t, log.finished[0].Err)
	assert.Empty(t, log.errors)
	assert.Equal(t, PlayerIdle, p.State())
	assert.Nil(t, p.Current())
}

func TestPlayer_RejectsUnplayable(t *testing.T) {
	h := newFakeHandle(5)
	p, _ := newTestPlayer(h, &fakeSourceFactory{})

	_, err := p.Play(context.Background(), NewSong("pending", 1, testGuild))
	assert.ErrorIs(t, err, ErrSongNotReady)

	_, err = p.Play(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSongNotReady)

	local := NewSong("file", 1, testGuild)
	require.NoError(t, local.MarkReady(&SongMetadata{Title: "f"}, "/tmp/song.opus"))
	_, err = p.Play(context.Background(), local)
	assert.ErrorIs(t, err, ErrInvalidStreamURL)

	h.connected = false
	_, err = p.Play(context.Background(), readySong(t, "b"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, h.Plays())
}

func TestPlayer_SourceRetriesExactlyThreeTimes(t *testing.T) {
	h := newFakeHandle(5)
	sources := &fakeSourceFactory{err: errBoom, failN: -1}
	p, _ := newTestPlayer(h, sources)

	_, err := p.Play(context.Background(), readySong(t, "a"))
	assert.ErrorIs(t, err, ErrSourceFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, sources.Attempts())
	assert.Equal(t, PlayerIdle, p.State())
	assert.Zero(t, h.Plays())
}

func TestPlayer_SourceRecoversOnRetry(t *testing.T) {
	h := newFakeHandle(5)
	sources := &fakeSourceFactory{err: errBoom, failN: 2}
	p, _ := newTestPlayer(h, sources)

	_, err := p.Play(context.Background(), readySong(t, "a"))
	require.NoError(t, err)
	assert.Equal(t, 3, sources.Attempts())
	assert.Equal(t, 1, h.Plays())
}

func TestPlayer_StaleCompletionIgnored(t *testing.T) {
	h := newFakeHandle(5)
	p, log := newTestPlayer(h, &fakeSourceFactory{})

	_, err := p.Play(context.Background(), readySong(t, "a"))
	require.NoError(t, err)
	gen, err := p.Play(context.Background(), readySong(t, "b"))
	require.NoError(t, err)

	h.FinishAt(0, nil)
	assert.Empty(t, log.finished, "the replaced playback must not report")
	assert.Equal(t, PlayerPlaying, p.State())

	h.FinishAt(1, nil)
	require.Len(t, log.finished, 1)
	assert.Equal(t, gen, log.finished[0].Generation)
}

func TestPlayer_StopDiscardsCompletion(t *testing.T) {
	h := newFakeHandle(5)
	p, log := newTestPlayer(h, &fakeSourceFactory{})

	assert.False(t, p.Stop(), "idle player has nothing to stop")

	_, err := p.Play(context.Background(), readySong(t, "a"))
	require.NoError(t, err)
	assert.True(t, p.Stop())
	h.Finish(context.Canceled)

	assert.Empty(t, log.finished)
	assert.Equal(t, PlayerIdle, p.State())
}

func TestPlayer_TransportErrorReportsBoth(t *testing.T) {
	h := newFakeHandle(5)
	p, log := newTestPlayer(h, &fakeSourceFactory{})

	gen, err := p.Play(context.Background(), readySong(t, "a"))
	require.NoError(t, err)
	h.Finish(errors.New("read tcp: connection reset by peer"))

	require.Len(t, log.errors, 1)
	require.Len(t, log.finished, 1)
	assert.Equal(t, gen, log.errors[0].Generation)
	assert.Equal(t, gen, log.finished[0].Generation)
	assert.True(t, log.finished[0].Transient)
	assert.True(t, log.finished[0].Transport)
}

func TestPlayer_PauseResumeVolume(t *testing.T) {
	h := newFakeHandle(5)
	p, _ := newTestPlayer(h, &fakeSourceFactory{})

	assert.False(t, p.Pause())
	_, err := p.Play(context.Background(), readySong(t, "a"))
	require.NoError(t, err)

	assert.True(t, p.Pause())
	assert.Equal(t, PlayerPaused, p.State())
	assert.False(t, p.Pause())
	assert.True(t, p.Resume())
	assert.Equal(t, PlayerPlaying, p.State())
	assert.False(t, p.Resume())

	assert.False(t, p.SetVolume(1.5))
	assert.False(t, p.SetVolume(-0.1))
	assert.True(t, p.SetVolume(0.25))
	assert.Equal(t, 0.25, p.Volume())
	assert.Equal(t, 0.25, h.volume)
}

func TestClassifyPlaybackError(t *testing.T) {
	cases := []struct {
		err                  error
		transient, transport bool
	}{
		{nil, false, false},
		{context.Canceled, false, false},
		{fmt.Errorf("stream: %w", context.Canceled), false, false},
		{errors.New("write: broken pipe"), true, true},
		{errors.New("dial tcp: i/o timeout"), true, true},
		{errors.New("Invalid data found when processing input"), true, false},
		{errors.New("Server returned 503 Service Unavailable"), true, false},
		{errors.New("unsupported codec"), false, false},
	}
	for _, tc := range cases {
		transient, transport := ClassifyPlaybackError(tc.err)
		assert.Equal(t, tc.transient, transient, "%v", tc.err)
		assert.Equal(t, tc.transport, transport, "%v", tc.err)
	}
}

func TestSelectPreset(t *testing.T) {
	assert.Equal(t, PresetConstrained, SelectPreset("arm64", 8<<30))
	assert.Equal(t, PresetConstrained, SelectPreset("amd64", 1<<30))
	assert.Equal(t, PresetStandard, SelectPreset("amd64", 8<<30))
	assert.Equal(t, PresetStandard, SelectPreset("amd64", 0), "unknown memory is not constrained")
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
