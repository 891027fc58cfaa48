package proc

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
)

// Disposable is implemented by anything the connection registry may tear
// down on eviction or shutdown.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Source is one decoded stream ready to be fed into a voice connection.
type Source interface {
	// Stream emits encoded Opus frames to out until the input ends, ctx is
	// canceled or decoding fails.
	Stream(ctx context.Context, out func(frame []byte)) error
	SetVolume(v float64)
	Close()
}

// SourceFactory opens a network stream with the given decoding preset.
type SourceFactory interface {
	NewSource(ctx context.Context, streamURL string, preset Preset) (Source, error)
}

// VoiceHandle is one open voice connection.
type VoiceHandle interface {
	Disposable

	// Play starts src and calls onComplete exactly once when it ends,
	// with nil on natural completion. Play replaces any current source.
	Play(src Source, onComplete func(err error)) error
	Pause() bool
	Resume() bool
	Stop() bool
	SetVolume(v float64) bool

	IsConnected() bool
	IsPlaying() bool
	IsPaused() bool
	ChannelID() snowflake.ID

	Disconnect(ctx context.Context) error
}

// Connector opens voice connections.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID snowflake.ID) (VoiceHandle, error)
}

// StatusSetter is implemented by handles that can show a short text next
// to the voice channel.
type StatusSetter interface {
	SetStatus(ctx context.Context, status string)
}
