package proc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerPlaying
	PlayerPaused
)

func (s PlayerState) String() string {
	switch s {
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	default:
		return "idle"
	}
}

// PlaybackEvent describes how a playback ended. Generation identifies the
// playback so late or duplicate reports can be discarded.
type PlaybackEvent struct {
	Generation uint64
	Song       *Song
	Err        error
	Transient  bool
	Transport  bool
}

type PlayerOptions struct {
	Preset      Preset
	StopGrace   time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

func (o *PlayerOptions) withDefaults() {
	if o.Preset.Name == "" {
		o.Preset = PresetStandard
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 300 * time.Millisecond
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
}

// AudioPlayer drives playback on one guild's voice handle.
type AudioPlayer struct {
	GuildID snowflake.ID

	handle  VoiceHandle
	sources SourceFactory
	opts    PlayerOptions

	// Both run on the transport's goroutine and must only hand off.
	onFinished func(PlaybackEvent)
	onError    func(PlaybackEvent)

	mu         sync.Mutex
	state      PlayerState
	volume     float64
	current    *Song
	generation uint64
}

func NewAudioPlayer(guildID snowflake.ID, handle VoiceHandle, sources SourceFactory, opts PlayerOptions, onFinished, onError func(PlaybackEvent)) *AudioPlayer {
	opts.withDefaults()
	return &AudioPlayer{
		GuildID:    guildID,
		handle:     handle,
		sources:    sources,
		opts:       opts,
		onFinished: onFinished,
		onError:    onError,
		volume:     1.0,
	}
}

// Play starts song and returns its playback generation. Anything already
// playing is stopped first.
func (p *AudioPlayer) Play(ctx context.Context, song *Song) (uint64, error) {
	if song == nil || !song.IsReady() {
		return 0, ErrSongNotReady
	}
	streamURL := song.StreamURL()
	if !IsNetworkURL(streamURL) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStreamURL, streamURL)
	}
	if !p.handle.IsConnected() {
		return 0, ErrNotConnected
	}

	p.mu.Lock()
	busy := p.state != PlayerIdle
	p.generation++
	p.state = PlayerIdle
	p.current = nil
	p.mu.Unlock()

	if busy || p.handle.IsPlaying() || p.handle.IsPaused() {
		p.handle.Stop()
		if err := sleepCtx(ctx, p.opts.StopGrace); err != nil {
			return 0, err
		}
	}

	src, err := p.openSource(ctx, streamURL)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.generation++
	gen := p.generation
	src.SetVolume(p.volume)
	p.state = PlayerPlaying
	p.current = song
	p.mu.Unlock()

	if err := p.handle.Play(src, func(err error) { p.complete(gen, song, err) }); err != nil {
		src.Close()
		p.mu.Lock()
		if p.generation == gen {
			p.state = PlayerIdle
			p.current = nil
		}
		p.mu.Unlock()
		return 0, err
	}

	sys.LogVoice(sys.MsgVoicePlaying, song.DisplayName(), song.DurationFormatted(), p.GuildID)
	metricPlaybackStarts.Inc()
	return gen, nil
}

func (p *AudioPlayer) openSource(ctx context.Context, streamURL string) (Source, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		src, err := p.sources.NewSource(ctx, streamURL, p.opts.Preset)
		if err == nil {
			return src, nil
		}
		lastErr = err
		sys.LogVoice(sys.MsgVoiceSourceRetry, streamURL, attempt, p.opts.MaxAttempts, err)
		if attempt < p.opts.MaxAttempts {
			if err := sleepCtx(ctx, p.opts.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	sys.LogWarn(sys.MsgVoiceSourceExhausted, streamURL, p.opts.MaxAttempts)
	metricPlaybackFailures.Inc()
	return nil, fmt.Errorf("%w: %w", ErrSourceFailed, lastErr)
}

func (p *AudioPlayer) complete(gen uint64, song *Song, err error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.state = PlayerIdle
	p.current = nil
	p.mu.Unlock()

	ev := PlaybackEvent{Generation: gen, Song: song, Err: err}
	if err != nil {
		ev.Transient, ev.Transport = ClassifyPlaybackError(err)
		if ev.Transport && p.onError != nil {
			p.onError(ev)
		}
	}
	if p.onFinished != nil {
		p.onFinished(ev)
	}
}

func (p *AudioPlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerPlaying || !p.handle.Pause() {
		return false
	}
	p.state = PlayerPaused
	return true
}

func (p *AudioPlayer) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayerPaused || !p.handle.Resume() {
		return false
	}
	p.state = PlayerPlaying
	return true
}

// Stop ends the current playback. Its completion report is discarded.
func (p *AudioPlayer) Stop() bool {
	p.mu.Lock()
	if p.state == PlayerIdle {
		p.mu.Unlock()
		return false
	}
	p.generation++
	p.state = PlayerIdle
	p.current = nil
	p.mu.Unlock()
	p.handle.Stop()
	return true
}

// SetVolume accepts v in [0, 1].
func (p *AudioPlayer) SetVolume(v float64) bool {
	if v < 0 || v > 1 {
		return false
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	p.handle.SetVolume(v)
	return true
}

func (p *AudioPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *AudioPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *AudioPlayer) Current() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

var (
	transportPatterns = []string{
		"connection reset", "broken pipe", "connection refused", "socket",
		"transport", "network is unreachable", "i/o timeout", "tls",
		"websocket", "use of closed network connection",
	}
	corruptionPatterns = []string{
		"invalid data found", "corrupt", "error while decoding", "unexpected eof",
		"end of file", "server returned 5", "http error 403",
	}
)

// ClassifyPlaybackError reports whether err is worth retrying and whether it
// came from the network transport rather than the decoder.
func ClassifyPlaybackError(err error) (transient, transport bool) {
	if err == nil || errors.Is(err, context.Canceled) {
		return false, false
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range transportPatterns {
		if strings.Contains(msg, pat) {
			return true, true
		}
	}
	for _, pat := range corruptionPatterns {
		if strings.Contains(msg, pat) {
			return true, false
		}
	}
	return false, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
