package proc

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second

	frameWait = 500 * time.Millisecond
)

// DiscordConnector opens voice connections through the gateway client.
type DiscordConnector struct {
	client *bot.Client

	mu      sync.Mutex
	handles map[snowflake.ID]*discordHandle
}

func NewDiscordConnector(client *bot.Client) *DiscordConnector {
	return &DiscordConnector{
		client:  client,
		handles: make(map[snowflake.ID]*discordHandle),
	}
}

func (c *DiscordConnector) Connect(ctx context.Context, guildID, channelID snowflake.ID) (VoiceHandle, error) {
	conn := c.client.VoiceManager.CreateConn(guildID)

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			if err := sleepCtx(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
		if err := conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(cctx)
		cancel()
		return nil, lastErr
	}

	h := newDiscordHandle(c.client, guildID, channelID, conn)
	h.onClose = func() {
		c.mu.Lock()
		if c.handles[guildID] == h {
			delete(c.handles, guildID)
		}
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.handles[guildID] = h
	c.mu.Unlock()
	return h, nil
}

// HandleVoiceStateUpdate tracks the bot being moved or kicked by someone
// else.
func (c *DiscordConnector) HandleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != c.client.ID() {
		return
	}
	c.mu.Lock()
	h, ok := c.handles[event.VoiceState.GuildID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if event.VoiceState.ChannelID == nil {
		h.connected.Store(false)
		return
	}
	h.channelID.Store(uint64(*event.VoiceState.ChannelID))
}

type playback struct {
	src      Source
	provider *streamProvider
	cancel   context.CancelFunc
}

// discordHandle feeds one Source at a time into a voice.Conn.
type discordHandle struct {
	client  *bot.Client
	guildID snowflake.ID
	conn    voice.Conn
	onClose func()

	channelID atomic.Uint64
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *playback
	paused  bool
	gate    chan struct{}
	volume  float64
	status  string
}

func newDiscordHandle(client *bot.Client, guildID, channelID snowflake.ID, conn voice.Conn) *discordHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &discordHandle{
		client:  client,
		guildID: guildID,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		gate:    closedGate(),
		volume:  1,
	}
	h.channelID.Store(uint64(channelID))
	h.connected.Store(true)
	return h
}

func closedGate() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (h *discordHandle) Play(src Source, onComplete func(error)) error {
	if !h.IsConnected() {
		return ErrNotConnected
	}
	h.Stop()

	ctx, cancel := context.WithCancel(h.ctx)
	p := newStreamProvider(ctx, h.pauseGate)
	pb := &playback{src: src, provider: p, cancel: cancel}

	h.mu.Lock()
	src.SetVolume(h.volume)
	h.current = pb
	h.mu.Unlock()

	h.setOpusFrameProviderSafe(p)
	h.setSpeakingSafe(voice.SpeakingFlagMicrophone)

	sys.SafeGo(func() {
		err := src.Stream(ctx, p.PushFrame)
		p.PushFrame(nil)
		select {
		case <-p.done:
		case <-ctx.Done():
		}
		src.Close()

		h.mu.Lock()
		last := h.current == pb
		if last {
			h.current = nil
		}
		h.mu.Unlock()
		if last {
			h.setOpusFrameProviderSafe(nil)
			h.setSpeakingSafe(0)
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		cancel()
		onComplete(err)
	})
	return nil
}

func (h *discordHandle) pauseGate() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gate
}

func (h *discordHandle) Pause() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil || h.paused {
		return false
	}
	h.paused = true
	h.gate = make(chan struct{})
	return true
}

func (h *discordHandle) Resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		return false
	}
	h.paused = false
	close(h.gate)
	return true
}

func (h *discordHandle) Stop() bool {
	h.mu.Lock()
	pb := h.current
	h.current = nil
	if h.paused {
		h.paused = false
		close(h.gate)
	}
	h.mu.Unlock()
	if pb == nil {
		return false
	}
	pb.cancel()
	h.setOpusFrameProviderSafe(nil)
	h.setSpeakingSafe(0)
	return true
}

func (h *discordHandle) SetVolume(v float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
	if h.current != nil {
		h.current.src.SetVolume(v)
	}
	return true
}

func (h *discordHandle) IsConnected() bool {
	return h.connected.Load() && h.ctx.Err() == nil
}

func (h *discordHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && !h.paused
}

func (h *discordHandle) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.paused
}

func (h *discordHandle) ChannelID() snowflake.ID {
	return snowflake.ID(h.channelID.Load())
}

// SetStatus updates the voice channel status shown under the channel name.
func (h *discordHandle) SetStatus(ctx context.Context, status string) {
	h.mu.Lock()
	if h.status == status {
		h.mu.Unlock()
		return
	}
	h.status = status
	h.mu.Unlock()

	route := rest.NewEndpoint(http.MethodPut, "/channels/"+h.ChannelID().String()+"/voice-status")
	if err := h.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil, rest.WithCtx(ctx)); err != nil {
		sys.LogDebug("Failed to set voice status in guild %s: %v", h.guildID, err)
	}
}

func (h *discordHandle) Disconnect(ctx context.Context) error {
	h.Stop()
	h.SetStatus(ctx, "")
	h.connected.Store(false)
	h.cancel()
	h.conn.Close(ctx)
	if h.onClose != nil {
		h.onClose()
	}
	return ctx.Err()
}

func (h *discordHandle) Dispose(ctx context.Context) error {
	return h.Disconnect(ctx)
}

func (h *discordHandle) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	for i := range 3 {
		if h.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			if sleepCtx(h.ctx, 150*time.Millisecond) != nil {
				return
			}
		}
	}
	sys.LogVoice("Exhausted retries for SetOpusFrameProvider in guild %s", h.guildID)
}

func (h *discordHandle) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	h.conn.SetOpusFrameProvider(provider)
	return true
}

func (h *discordHandle) setSpeakingSafe(flags voice.SpeakingFlags) {
	for i := range 3 {
		if h.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			if sleepCtx(h.ctx, 150*time.Millisecond) != nil {
				return
			}
		}
	}
	sys.LogVoice("Exhausted retries for SetSpeaking in guild %s", h.guildID)
}

func (h *discordHandle) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	h.conn.SetSpeaking(h.ctx, flags)
	return true
}

// streamProvider buffers encoded frames for the voice sender. A nil frame
// marks the end of input and is followed by a short run of silence.
type streamProvider struct {
	frames chan []byte
	ctx    context.Context
	gate   func() <-chan struct{}

	done          chan struct{}
	once          sync.Once
	draining      bool
	silenceFrames int
}

func newStreamProvider(ctx context.Context, gate func() <-chan struct{}) *streamProvider {
	return &streamProvider{
		frames: make(chan []byte, 100),
		ctx:    ctx,
		gate:   gate,
		done:   make(chan struct{}),
	}
}

func (p *streamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *streamProvider) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *streamProvider) ProvideOpusFrame() ([]byte, error) {
	select {
	case <-p.gate():
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	}

	if p.draining {
		target := int(SilenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(frameWait):
		return OpusSilence, nil
	}
}
