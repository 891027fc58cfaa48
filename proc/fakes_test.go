package proc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// --- cache store ---

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]sys.CacheRecord
	index   []byte
	deletes []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]sys.CacheRecord)}
}

func (m *memoryStore) SaveEntry(_ context.Context, rec sys.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rec.Key] = rec
	return nil
}

func (m *memoryStore) DeleteEntry(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	m.deletes = append(m.deletes, key)
	return nil
}

func (m *memoryStore) LoadEntries(context.Context) ([]sys.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sys.CacheRecord, 0, len(m.entries))
	for _, r := range m.entries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) SaveIndex(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = append([]byte(nil), payload...)
	return nil
}

func (m *memoryStore) LoadIndex(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index, nil
}

func (m *memoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- resolver ---

type fakeResolver struct {
	calls atomic.Int32
	fail  map[string]error
	delay time.Duration
}

func (r *fakeResolver) Resolve(ctx context.Context, input string) (*ResolvedTrack, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		if err := sleepCtx(ctx, r.delay); err != nil {
			return nil, err
		}
	}
	if err, ok := r.fail[input]; ok {
		return nil, err
	}
	return &ResolvedTrack{
		Title:      "title of " + input,
		Artist:     "artist",
		Duration:   180,
		SourceType: AnalyzeInput(input),
		StreamURL:  "https://cdn.example.com/" + CacheKey(input),
	}, nil
}

// --- playback ---

type fakeSource struct {
	closed atomic.Bool
	volume atomic.Value
}

func (s *fakeSource) Stream(ctx context.Context, out func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}
func (s *fakeSource) SetVolume(v float64) { s.volume.Store(v) }
func (s *fakeSource) Close()              { s.closed.Store(true) }

type fakeSourceFactory struct {
	mu       sync.Mutex
	attempts int
	failN    int
	err      error
}

func (f *fakeSourceFactory) NewSource(_ context.Context, _ string, _ Preset) (Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil && (f.failN < 0 || f.attempts <= f.failN) {
		return nil, f.err
	}
	return &fakeSource{}, nil
}

func (f *fakeSourceFactory) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// fakeHandle records plays and lets tests finish them by hand.
type fakeHandle struct {
	channel snowflake.ID

	mu          sync.Mutex
	connected   bool
	playing     bool
	paused      bool
	completions []func(error)
	plays       int
	stops       int
	volume      float64
	statuses    []string
	disconnects int
	playErr     error
}

func newFakeHandle(channel snowflake.ID) *fakeHandle {
	return &fakeHandle{channel: channel, connected: true, volume: 1}
}

func (h *fakeHandle) Dispose(ctx context.Context) error { return h.Disconnect(ctx) }

func (h *fakeHandle) Play(src Source, onComplete func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.playErr != nil {
		return h.playErr
	}
	h.plays++
	h.playing, h.paused = true, false
	h.completions = append(h.completions, onComplete)
	return nil
}

// Finish completes the most recent playback with err.
func (h *fakeHandle) Finish(err error) {
	h.mu.Lock()
	if len(h.completions) == 0 {
		h.mu.Unlock()
		return
	}
	done := h.completions[len(h.completions)-1]
	h.playing = false
	h.mu.Unlock()
	done(err)
}

// FinishAt completes the i-th playback, which may be stale.
func (h *fakeHandle) FinishAt(i int, err error) {
	h.mu.Lock()
	done := h.completions[i]
	h.mu.Unlock()
	done(err)
}

func (h *fakeHandle) Pause() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.playing || h.paused {
		return false
	}
	h.paused = true
	return true
}

func (h *fakeHandle) Resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return false
	}
	h.paused = false
	return true
}

func (h *fakeHandle) Stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	was := h.playing
	h.playing, h.paused = false, false
	return was
}

func (h *fakeHandle) SetVolume(v float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
	return true
}

func (h *fakeHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *fakeHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *fakeHandle) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *fakeHandle) ChannelID() snowflake.ID { return h.channel }

func (h *fakeHandle) Disconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	h.disconnects++
	return nil
}

func (h *fakeHandle) SetStatus(_ context.Context, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *fakeHandle) Plays() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plays
}

func (h *fakeHandle) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

type fakeConnector struct {
	mu      sync.Mutex
	handles map[snowflake.ID]*fakeHandle
	block   bool
	err     error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{handles: make(map[snowflake.ID]*fakeHandle)}
}

func (c *fakeConnector) Connect(ctx context.Context, guildID, channelID snowflake.ID) (VoiceHandle, error) {
	c.mu.Lock()
	block, err := c.block, c.err
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	h := newFakeHandle(channelID)
	c.mu.Lock()
	c.handles[guildID] = h
	c.mu.Unlock()
	return h, nil
}

func (c *fakeConnector) Handle(guildID snowflake.ID) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[guildID]
}

// disposable counts Dispose calls for registry tests.
type disposable struct {
	disposed atomic.Int32
	err      error
}

func (d *disposable) Dispose(context.Context) error {
	d.disposed.Add(1)
	return d.err
}

var errBoom = errors.New("boom")
