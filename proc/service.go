package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

type ServiceOptions struct {
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration
	// PlaybackRetries is how many times a song is replayed after a
	// transient playback error before it is skipped.
	PlaybackRetries int
	// StreamMaxAge is how old a stream URL may get before it is resolved
	// again ahead of playback.
	StreamMaxAge time.Duration
	Player       PlayerOptions
}

func (o *ServiceOptions) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = 5 * time.Second
	}
	if o.PlaybackRetries < 0 {
		o.PlaybackRetries = 0
	} else if o.PlaybackRetries == 0 {
		o.PlaybackRetries = 2
	}
	if o.StreamMaxAge <= 0 {
		o.StreamMaxAge = 4 * time.Hour
	}
}

type eventKind int

const (
	eventFinished eventKind = iota
	eventError
	eventProcessed
)

type guildEvent struct {
	kind     eventKind
	playback PlaybackEvent
	song     *Song
}

// guildState is everything a connected guild owns. Fields below opMu are
// only touched while holding it.
type guildState struct {
	guildID snowflake.ID
	queue   *QueueManager
	player  *AudioPlayer
	handle  VoiceHandle

	events chan guildEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	opMu        sync.Mutex
	handled     uint64
	retries     int
	retrySongID string
	drained     bool
	stopped     bool
}

func (st *guildState) post(e guildEvent) {
	select {
	case st.events <- e:
	case <-st.ctx.Done():
	}
}

// guildLease is what the connection registry holds for a guild.
type guildLease struct {
	svc     *AudioService
	guildID snowflake.ID
}

func (l *guildLease) Dispose(ctx context.Context) error {
	return l.svc.Disconnect(ctx, l.guildID)
}

// AudioService owns every guild's queue, player and connection.
type AudioService struct {
	connector Connector
	sources   SourceFactory
	resources *ResourceManager
	processor *Processor
	opts      ServiceOptions

	mu        sync.Mutex
	guilds    map[snowflake.ID]*guildState
	queues    map[snowflake.ID]*QueueManager
	connectMu map[snowflake.ID]*sync.Mutex
}

func NewAudioService(connector Connector, sources SourceFactory, resources *ResourceManager, processor *Processor, opts ServiceOptions) *AudioService {
	opts.withDefaults()
	s := &AudioService{
		connector: connector,
		sources:   sources,
		resources: resources,
		processor: processor,
		opts:      opts,
		guilds:    make(map[snowflake.ID]*guildState),
		queues:    make(map[snowflake.ID]*QueueManager),
		connectMu: make(map[snowflake.ID]*sync.Mutex),
	}
	processor.OnProcessed(s.songProcessed)
	return s
}

func (s *AudioService) state(guildID snowflake.ID) *guildState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guilds[guildID]
}

func (s *AudioService) guildLock(guildID snowflake.ID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.connectMu[guildID]
	if !ok {
		m = &sync.Mutex{}
		s.connectMu[guildID] = m
	}
	return m
}

// Queue returns the guild's queue, creating it on first use.
func (s *AudioService) Queue(guildID snowflake.ID) *QueueManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[guildID]
	if !ok {
		q = NewQueueManager(guildID)
		s.queues[guildID] = q
	}
	return q
}

// --- Connection lifecycle ---

// Connect joins channelID, replacing any existing connection for the guild.
// Nothing is registered unless the connection succeeds within the timeout.
func (s *AudioService) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	if s.state(guildID) != nil {
		s.teardown(ctx, guildID, false)
	}

	sys.LogVoice(sys.MsgVoiceConnecting, channelID, guildID)
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	handle, err := s.connector.Connect(cctx, guildID, channelID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrConnectTimeout, err)
		}
		sys.LogWarn(sys.MsgVoiceConnectFailed, guildID, err)
		return err
	}

	s.attach(guildID, handle)
	sys.LogVoice(sys.MsgVoiceConnected, channelID, guildID)
	return nil
}

// InitializeExisting adopts a connection that was opened elsewhere.
func (s *AudioService) InitializeExisting(guildID snowflake.ID, handle VoiceHandle) error {
	if handle == nil || !handle.IsConnected() {
		return ErrNotConnected
	}
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	if s.state(guildID) != nil {
		return ErrAlreadyConnected
	}
	s.attach(guildID, handle)
	return nil
}

func (s *AudioService) attach(guildID snowflake.ID, handle VoiceHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	st := &guildState{
		guildID: guildID,
		queue:   s.Queue(guildID),
		handle:  handle,
		events:  make(chan guildEvent, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	st.player = NewAudioPlayer(guildID, handle, s.sources, s.opts.Player,
		func(ev PlaybackEvent) { st.post(guildEvent{kind: eventFinished, playback: ev}) },
		func(ev PlaybackEvent) { st.post(guildEvent{kind: eventError, playback: ev}) },
	)

	s.mu.Lock()
	s.guilds[guildID] = st
	s.mu.Unlock()

	go s.loop(st)
	s.resources.Register(guildID, &guildLease{svc: s, guildID: guildID})
}

// Disconnect tears the guild down. Every step runs even if an earlier one
// fails.
func (s *AudioService) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	if !s.teardown(ctx, guildID, true) {
		return ErrGuildNotFound
	}
	return nil
}

func (s *AudioService) teardown(ctx context.Context, guildID snowflake.ID, clearQueue bool) bool {
	s.mu.Lock()
	st, ok := s.guilds[guildID]
	delete(s.guilds, guildID)
	s.mu.Unlock()

	if clearQueue {
		s.Queue(guildID).Clear()
	}
	s.resources.Unregister(guildID)
	if !ok {
		return false
	}

	st.cancel()
	st.player.Stop()

	dctx, cancel := context.WithTimeout(ctx, s.opts.DisconnectTimeout)
	defer cancel()
	select {
	case <-st.done:
	case <-dctx.Done():
	}
	if err := st.handle.Disconnect(dctx); err != nil {
		sys.LogWarn(sys.MsgVoiceDisconnectFailed, guildID, err)
	}
	sys.LogVoice(sys.MsgVoiceDisconnected, guildID)
	return true
}

// CleanupAll disconnects every guild in parallel.
func (s *AudioService) CleanupAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]snowflake.ID, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sys.LogVoice(sys.MsgVoiceCleanupAll, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id snowflake.ID) {
			defer wg.Done()
			_ = s.Disconnect(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (s *AudioService) IsConnected(guildID snowflake.ID) bool {
	st := s.state(guildID)
	return st != nil && st.handle.IsConnected()
}

func (s *AudioService) IsPlaying(guildID snowflake.ID) bool {
	st := s.state(guildID)
	return st != nil && st.player.State() == PlayerPlaying
}

// PlayingCount reports how many guilds are playing right now.
func (s *AudioService) PlayingCount() int {
	s.mu.Lock()
	states := make([]*guildState, 0, len(s.guilds))
	for _, st := range s.guilds {
		states = append(states, st)
	}
	s.mu.Unlock()

	n := 0
	for _, st := range states {
		if st.player.State() == PlayerPlaying {
			n++
		}
	}
	return n
}

// ChannelID is the voice channel the guild is connected to, or 0.
func (s *AudioService) ChannelID(guildID snowflake.ID) snowflake.ID {
	if st := s.state(guildID); st != nil {
		return st.handle.ChannelID()
	}
	return 0
}

// --- Queue entry points ---

// Enqueue adds input to the guild's queue, starts resolving it and kicks
// playback when the guild is idle and not stopped. It returns the 1-based
// queue position.
func (s *AudioService) Enqueue(ctx context.Context, guildID, requester snowflake.ID, input string) (*Song, int) {
	song := NewSong(input, requester, guildID)
	pos := s.Queue(guildID).Add(song)
	sys.LogQueue("Queued %s at #%d in guild %s", song.OriginalInput, pos, guildID)
	s.processor.Submit(song)

	if st := s.state(guildID); st != nil {
		st.opMu.Lock()
		s.kickLocked(st)
		st.opMu.Unlock()
	}
	return song, pos
}

// EnqueueSongs appends already built songs, e.g. from a playlist.
func (s *AudioService) EnqueueSongs(guildID snowflake.ID, songs []*Song) int {
	if len(songs) == 0 {
		return 0
	}
	pos := s.Queue(guildID).AddMany(songs)
	for _, song := range songs {
		s.processor.Submit(song)
	}
	if st := s.state(guildID); st != nil {
		st.opMu.Lock()
		s.kickLocked(st)
		st.opMu.Unlock()
	}
	return pos
}

// EnqueuePlaylist queues every entry of pl and returns how many were added.
func (s *AudioService) EnqueuePlaylist(guildID, requester snowflake.ID, pl *Playlist) int {
	songs := pl.BuildSongs(guildID, requester)
	s.EnqueueSongs(guildID, songs)
	return len(songs)
}

// PlayNext plays the queue's current song.
func (s *AudioService) PlayNext(ctx context.Context, guildID snowflake.ID) error {
	st := s.state(guildID)
	if st == nil {
		return ErrNoPlayer
	}
	st.opMu.Lock()
	defer st.opMu.Unlock()

	cur := st.queue.Current()
	if cur == nil {
		return ErrEmptyQueue
	}
	st.stopped = false
	st.drained = false
	if !cur.IsReady() {
		// Starts from the processed event once resolved.
		s.processor.Submit(cur)
		return ErrSongNotReady
	}
	return ignoreRefresh(s.startLocked(st, cur))
}

// Skip moves past the current song, even in repeat track mode.
func (s *AudioService) Skip(ctx context.Context, guildID snowflake.ID) error {
	st := s.state(guildID)
	if st == nil {
		return ErrNoPlayer
	}
	st.opMu.Lock()
	defer st.opMu.Unlock()
	st.player.Stop()
	st.stopped = false
	return s.advanceLocked(st, true)
}

// Back returns to the previously played song.
func (s *AudioService) Back(ctx context.Context, guildID snowflake.ID) error {
	st := s.state(guildID)
	if st == nil {
		return ErrNoPlayer
	}
	st.opMu.Lock()
	defer st.opMu.Unlock()
	prev := st.queue.Retreat()
	if prev == nil {
		return ErrEmptyQueue
	}
	st.stopped, st.drained = false, false
	if !prev.IsReady() {
		st.player.Stop()
		s.processor.Submit(prev)
		return nil
	}
	return ignoreRefresh(s.startLocked(st, prev))
}

func (s *AudioService) Pause(guildID snowflake.ID) bool {
	st := s.state(guildID)
	return st != nil && st.player.Pause()
}

func (s *AudioService) Resume(guildID snowflake.ID) bool {
	st := s.state(guildID)
	return st != nil && st.player.Resume()
}

// Stop halts playback but keeps the queue and the connection.
func (s *AudioService) Stop(guildID snowflake.ID) bool {
	st := s.state(guildID)
	if st == nil {
		return false
	}
	st.opMu.Lock()
	defer st.opMu.Unlock()
	st.stopped = true
	return st.player.Stop()
}

// Stopped reports whether playback is held by Stop.
func (s *AudioService) Stopped(guildID snowflake.ID) bool {
	st := s.state(guildID)
	if st == nil {
		return false
	}
	st.opMu.Lock()
	defer st.opMu.Unlock()
	return st.stopped
}

func (s *AudioService) SetVolume(guildID snowflake.ID, v float64) bool {
	st := s.state(guildID)
	return st != nil && st.player.SetVolume(v)
}

func (s *AudioService) NowPlaying(guildID snowflake.ID) *Song {
	if st := s.state(guildID); st != nil {
		return st.player.Current()
	}
	return nil
}

// --- Event loop ---

func (s *AudioService) loop(st *guildState) {
	defer close(st.done)
	for {
		select {
		case <-st.ctx.Done():
			return
		case e := <-st.events:
			s.handle(st, e)
		}
	}
}

func (s *AudioService) handle(st *guildState, e guildEvent) {
	st.opMu.Lock()
	defer st.opMu.Unlock()

	switch e.kind {
	case eventProcessed:
		if e.song.Status() == StatusFailed {
			sys.LogVoice(sys.MsgVoiceResolveFailed, e.song.OriginalInput, e.song.ErrorMessage())
		}
		if st.queue.Current() == e.song || st.drained {
			s.kickLocked(st)
		}
		return
	}

	// One event per playback: an error report and its completion share a
	// generation and only the first one counts.
	if e.playback.Generation <= st.handled {
		sys.LogDebug(sys.MsgVoiceEventDropped, st.guildID)
		return
	}
	st.handled = e.playback.Generation
	s.resources.Touch(st.guildID)

	if e.playback.Err != nil {
		s.onPlaybackError(st, e.playback)
		return
	}
	s.onSongFinished(st, e.playback.Song)
}

func (s *AudioService) onSongFinished(st *guildState, _ *Song) {
	st.retries, st.retrySongID = 0, ""
	_ = s.advanceLocked(st, false)
}

// onPlaybackError replays the song a bounded number of times for transient
// errors and otherwise skips it.
func (s *AudioService) onPlaybackError(st *guildState, ev PlaybackEvent) {
	name := "unknown"
	if ev.Song != nil {
		name = ev.Song.DisplayName()
	}
	sys.LogWarn(sys.MsgVoicePlaybackError, st.guildID, name, ev.Err)

	if ev.Transient && ev.Song != nil && ev.Song.IsReady() {
		if st.retrySongID != ev.Song.ID {
			st.retrySongID, st.retries = ev.Song.ID, 0
		}
		if st.retries < s.opts.PlaybackRetries {
			st.retries++
			metricPlaybackRetries.Inc()
			sys.LogVoice(sys.MsgVoicePlaybackRetry, name, st.guildID, st.retries, s.opts.PlaybackRetries)
			if err := s.startLocked(st, ev.Song); err == nil || errors.Is(err, errStreamRefreshing) {
				return
			}
		}
	}
	st.retries, st.retrySongID = 0, ""
	_ = s.advanceLocked(st, true)
}

func (s *AudioService) songProcessed(song *Song) {
	if st := s.state(song.GuildID); st != nil {
		st.post(guildEvent{kind: eventProcessed, song: song})
	}
}

// --- Helpers, callers hold st.opMu ---

// kickLocked starts playback when the guild is idle and was not stopped.
func (s *AudioService) kickLocked(st *guildState) {
	if st.stopped || st.player.State() != PlayerIdle {
		return
	}
	if st.drained {
		// The cursor still points at the last song played.
		if len(st.queue.Upcoming(1)) == 0 {
			return
		}
		st.drained = false
		_ = s.advanceLocked(st, true)
		return
	}
	cur := st.queue.Current()
	if cur == nil {
		return
	}
	switch cur.Status() {
	case StatusReady:
		if err := s.startLocked(st, cur); err != nil && !errors.Is(err, errStreamRefreshing) {
			_ = s.advanceLocked(st, true)
		}
	case StatusFailed:
		_ = s.advanceLocked(st, true)
	default:
		s.processor.Submit(cur)
	}
}

// advanceLocked moves the queue forward until a song starts, an unready
// song is reached or the queue runs out. Every song is tried at most once.
func (s *AudioService) advanceLocked(st *guildState, skip bool) error {
	for budget := st.queue.Len() + 1; budget > 0; budget-- {
		var next *Song
		if skip {
			next = st.queue.Skip()
		} else {
			next = st.queue.Advance()
		}
		if next == nil {
			st.drained = true
			sys.LogVoice(sys.MsgVoiceQueueDrained, st.guildID)
			s.setStatus(st, "")
			return ErrEmptyQueue
		}
		switch next.Status() {
		case StatusReady:
			if err := s.startLocked(st, next); err == nil || errors.Is(err, errStreamRefreshing) {
				return nil
			}
		case StatusFailed:
		default:
			sys.LogVoice(sys.MsgVoiceWaitingOnSong, st.guildID, next.OriginalInput)
			s.processor.Submit(next)
			return nil
		}
		skip = true
	}
	st.drained = true
	return ErrEmptyQueue
}

// errStreamRefreshing means song was held back while its stale stream URL
// is resolved again. The processed event starts it.
var errStreamRefreshing = errors.New("stream url is being refreshed")

func ignoreRefresh(err error) error {
	if errors.Is(err, errStreamRefreshing) {
		return nil
	}
	return err
}

func (s *AudioService) startLocked(st *guildState, song *Song) error {
	if song.IsStreamExpired(s.opts.StreamMaxAge) {
		st.player.Stop()
		if s.processor.Refresh(song) {
			sys.LogVoice(sys.MsgVoiceStreamStale, song.DisplayName(), st.guildID)
		}
		return errStreamRefreshing
	}
	if _, err := st.player.Play(st.ctx, song); err != nil {
		sys.LogWarn(sys.MsgVoicePlaybackError, st.guildID, song.DisplayName(), err)
		return err
	}
	st.drained = false
	s.resources.Touch(st.guildID)
	s.setStatus(st, statusLine(song))
	return nil
}

func (s *AudioService) setStatus(st *guildState, status string) {
	if ss, ok := st.handle.(StatusSetter); ok {
		sys.SafeGo(func() {
			ctx, cancel := context.WithTimeout(st.ctx, 5*time.Second)
			defer cancel()
			ss.SetStatus(ctx, status)
		})
	}
}

// statusLine formats song for a voice channel status line.
func statusLine(song *Song) string {
	meta := song.Metadata()
	if meta == nil {
		return sys.TruncateCenter(song.OriginalInput, 128)
	}
	suffix := ""
	if meta.Artist != "" {
		suffix = " · " + meta.Artist
	}
	return sys.TruncateWithPreserve(meta.Title, 128, "", suffix)
}
