package proc

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openGate() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestStreamProvider_FramesThenSilence(t *testing.T) {
	p := newStreamProvider(context.Background(), openGate)
	p.PushFrame([]byte{1, 2, 3})
	p.PushFrame(nil)

	f, err := p.ProvideOpusFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f)

	silence := int(SilenceDuration.Milliseconds() / 20)
	for i := 0; i <= silence; i++ {
		f, err = p.ProvideOpusFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, OpusSilence, f)
	}

	_, err = p.ProvideOpusFrame()
	assert.ErrorIs(t, err, io.EOF)
	select {
	case <-p.done:
	default:
		t.Fatal("provider did not close after draining")
	}
}

func TestStreamProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newStreamProvider(ctx, openGate)
	cancel()

	p.PushFrame([]byte{1})
	_, err := p.ProvideOpusFrame()
	if err == nil {
		// The gate and ctx raced; the next call must observe cancellation.
		_, err = p.ProvideOpusFrame()
	}
	assert.ErrorIs(t, err, io.EOF)
	p.Close()
}

func TestScaleS16(t *testing.T) {
	samples := []int16{1000, -1000, 30000, -30000}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	scaleS16(buf, len(buf), 50)
	got := make([]int16, len(samples))
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	assert.Equal(t, []int16{500, -500, 15000, -15000}, got)

	scaleS16(buf, len(buf), 300)
	for i := range got {
		got[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	assert.Equal(t, []int16{1500, -1500, 32767, -32768}, got, "values clip at the int16 range")

	short := []byte{0x10, 0x00, 0xff}
	scaleS16(short, 10, 0)
	assert.Equal(t, []byte{0, 0, 0xff}, short, "a trailing odd byte is left alone")
}
