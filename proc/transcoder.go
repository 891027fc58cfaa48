package proc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

const (
	opusSampleRate = 48000
	opusFrameSize  = 960 // 20ms at 48kHz
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// AstiavSourceFactory decodes network streams in-process with FFmpeg.
type AstiavSourceFactory struct{}

func (AstiavSourceFactory) NewSource(ctx context.Context, streamURL string, preset Preset) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := NewAstiavTranscoder(preset)
	if err := t.OpenInput(streamURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := t.SetupDecoder(); err != nil {
		t.Close()
		return nil, fmt.Errorf("setup decoder: %w", err)
	}
	if err := t.SetupEncoder(); err != nil {
		t.Close()
		return nil, fmt.Errorf("setup encoder: %w", err)
	}
	return t, nil
}

// AstiavTranscoder decodes any audio input and re-encodes it as 20ms
// 48kHz stereo Opus frames.
type AstiavTranscoder struct {
	preset Preset
	input  string

	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo

	onFrame func([]byte)
	pts     int64
	volume  atomic.Int32 // percent
}

func NewAstiavTranscoder(preset Preset) *AstiavTranscoder {
	t := &AstiavTranscoder{
		preset:        preset,
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
	t.volume.Store(100)
	return t
}

// SetVolume takes effect on the next encoded frame.
func (t *AstiavTranscoder) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	t.volume.Store(int32(v * 100))
}

func (t *AstiavTranscoder) OpenInput(in string) error {
	t.input = in
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	if strings.HasPrefix(in, "http") {
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_at_eof", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "30", 0)
		opts.Set("timeout", "30000000", 0)
	}
	if t.preset.BufferSize > 0 {
		opts.Set("buffer_size", strconv.Itoa(t.preset.BufferSize), 0)
	}
	if t.preset.ProbeSize > 0 {
		opts.Set("probesize", strconv.Itoa(t.preset.ProbeSize), 0)
	}
	if t.preset.AnalyzeDuration > 0 {
		opts.Set("analyzeduration", strconv.Itoa(t.preset.AnalyzeDuration), 0)
	}

	if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *AstiavTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	if t.decoderCtx == nil {
		return errors.New("failed to alloc decoder")
	}
	_ = p.ToCodecContext(t.decoderCtx)
	if t.preset.Threads > 0 {
		t.decoderCtx.SetThreadCount(t.preset.Threads)
	}
	return t.decoderCtx.Open(d, nil)
}

func (t *AstiavTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	if t.encoderCtx == nil {
		return errors.New("failed to alloc encoder")
	}
	bitrate := t.preset.Bitrate
	if bitrate <= 0 {
		bitrate = 128000
	}
	t.encoderCtx.SetBitRate(bitrate)
	t.encoderCtx.SetSampleRate(opusSampleRate)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, opusSampleRate))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// Stream runs the decode loop until the input ends or ctx is canceled.
func (t *AstiavTranscoder) Stream(ctx context.Context, out func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
			sys.LogError(sys.MsgVoiceTranscoderFailed, t.input, err)
		}
	}()
	defer t.packet.Unref()
	t.onFrame = out

	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), opusFrameSize*2)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t.packet.Unref()
		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}
		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}
		if err := t.drainDecoder(); err != nil {
			return err
		}
	}

	_ = t.decoderCtx.SendPacket(nil)
	if err := t.drainDecoder(); err != nil {
		return err
	}
	if err := t.processFifo(true); err != nil {
		return err
	}
	return t.encodeAndWrite(nil)
}

func (t *AstiavTranscoder) drainDecoder() error {
	for {
		if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
			return nil
		}
		if err := t.pushToFifo(); err != nil {
			return err
		}
		t.frame.Unref()
	}
}

func (t *AstiavTranscoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil && f != nil {
		return err
	}
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			return nil
		}
		if t.onFrame != nil {
			d := t.packet.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			t.onFrame(fd)
		}
	}
}

func (t *AstiavTranscoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb <= 0 {
		return nil
	}
	t.resampleFrame.SetNbSamples(nb)
	_ = t.resampleFrame.AllocBuffer(0)
	if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) != nil {
		return nil
	}
	_, _ = t.fifo.Write(t.resampleFrame)
	return t.processFifo(false)
}

func (t *AstiavTranscoder) processFifo(drain bool) error {
	for {
		sz := opusFrameSize
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		if vol := t.volume.Load(); vol != 100 {
			data, _ := t.resampleFrame.Data().Bytes(1)
			scaleS16(data, sz*4, vol)
			_ = t.resampleFrame.Data().SetBytes(data, 1)
		}

		t.resampleFrame.SetPts(t.pts)
		t.pts += int64(sz)
		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

// scaleS16 scales interleaved little-endian s16 samples in place.
func scaleS16(data []byte, limit int, percent int32) {
	if limit > len(data) {
		limit = len(data)
	}
	for i := 0; i+1 < limit; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int64(sample) * int64(percent) / 100
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

func (t *AstiavTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
		t.resampleCtx = nil
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
		t.resampleFrame = nil
	}
	if t.packet != nil {
		t.packet.Free()
		t.packet = nil
	}
	if t.frame != nil {
		t.frame.Free()
		t.frame = nil
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
		t.decoderCtx = nil
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
		t.encoderCtx = nil
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
		t.inputCtx = nil
	}
}
