package testutil

import (
	"fmt"
	"sync"

	"github.com/jmylchreest/abrhls/internal/media"
)

// H.264 parameter sets emitted by the synthetic video encoder
// (constrained baseline, level 3.1).
var (
	SPS = []byte{0x67, 0x42, 0xc0, 0x1f, 0xda, 0x01, 0x40, 0x16, 0xe8}
	PPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

// Encoder is a synthetic encoder producing one packet per accepted frame.
// Video packets are Annex-B access units with an IDR every GOP frames;
// audio packets are a few opaque bytes per frame.
type Encoder struct {
	lib    *Library
	h      *handle
	kind   media.MediaType
	params media.CodecParams
	gop    int
	dup    int

	mu         sync.Mutex
	calls      int
	accepted   int
	queue      []*media.Packet
	flushing   bool
	lastDTS    int64
	frameSizes []int
	ptsSeen    []int64
	audio      []*media.Frame
}

// Params implements media.Encoder.
func (e *Encoder) Params() media.CodecParams { return e.params }

// Kind is the media type the encoder was opened for.
func (e *Encoder) Kind() media.MediaType { return e.kind }

// FrameSizes lists the sample count of every accepted audio frame.
func (e *Encoder) FrameSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.frameSizes...)
}

// AudioFrames returns copies of every accepted audio frame.
func (e *Encoder) AudioFrames() []*media.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*media.Frame(nil), e.audio...)
}

// FramePTS lists the PTS of every accepted frame, in the encoder time base.
func (e *Encoder) FramePTS() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.ptsSeen...)
}

// Accepted is the number of frames taken.
func (e *Encoder) Accepted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted
}

// SendFrame implements media.Encoder.
func (e *Encoder) SendFrame(f *media.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flushing {
		return media.ErrEOF
	}
	if f == nil {
		e.flushing = true
		return nil
	}

	call := e.calls
	e.calls++
	if hook := e.lib.SendHook; hook != nil {
		if err := hook(e.kind, call, f); err != nil {
			return err
		}
	}
	if err := e.check(f); err != nil {
		return err
	}

	pkt := &media.Packet{PTS: f.PTS, DTS: f.PTS, TimeBase: e.params.TimeBase}
	if e.kind == media.MediaTypeVideo {
		key := e.gop <= 0 || e.accepted%e.gop == 0
		if key {
			pkt.Data = annexB(SPS, PPS, []byte{0x65, 0x88, 0x84, byte(e.accepted)})
		} else {
			pkt.Data = annexB([]byte{0x41, 0x9a, 0x02, byte(e.accepted)})
		}
		pkt.Keyframe = key
		pkt.Duration = 1
		if e.dup > 0 && e.accepted > 0 && e.accepted%e.dup == 0 {
			pkt.DTS = e.lastDTS
		}
		e.lastDTS = pkt.DTS
	} else {
		pkt.Data = []byte{0x21, 0x10, 0x04, byte(e.accepted)}
		pkt.Keyframe = true
		pkt.Duration = int64(f.NumSamples)
		e.frameSizes = append(e.frameSizes, f.NumSamples)
		e.audio = append(e.audio, f.Clone())
	}
	e.ptsSeen = append(e.ptsSeen, f.PTS)
	e.queue = append(e.queue, pkt)
	e.accepted++
	return nil
}

func (e *Encoder) check(f *media.Frame) error {
	p := e.params
	if e.kind == media.MediaTypeVideo {
		if f.Width != p.Width || f.Height != p.Height || f.PixFmt != p.PixFmt {
			return media.NewError(media.StatusInvalid, "encode",
				fmt.Errorf("frame %dx%d %s, encoder wants %dx%d %s", f.Width, f.Height, f.PixFmt, p.Width, p.Height, p.PixFmt))
		}
		return nil
	}
	if f.SampleFmt != p.SampleFmt || f.SampleRate != p.SampleRate || f.Channels != p.Channels {
		return media.NewError(media.StatusInvalid, "encode",
			fmt.Errorf("frame %s/%dHz/%dch, encoder wants %s/%dHz/%dch", f.SampleFmt, f.SampleRate, f.Channels, p.SampleFmt, p.SampleRate, p.Channels))
	}
	if f.NumSamples <= 0 || f.NumSamples > p.FrameSize {
		return media.NewError(media.StatusInvalid, "encode",
			fmt.Errorf("frame of %d samples, encoder frame size %d", f.NumSamples, p.FrameSize))
	}
	return nil
}

// ReceivePacket implements media.Encoder.
func (e *Encoder) ReceivePacket() (*media.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) > 0 {
		pkt := e.queue[0]
		e.queue = e.queue[1:]
		return pkt, nil
	}
	if e.flushing {
		return nil, media.ErrEOF
	}
	return nil, media.ErrAgain
}

// Close implements media.Encoder.
func (e *Encoder) Close() error {
	e.lib.release(e.h)
	return nil
}

// RecordingMuxer wraps a muxer and keeps a copy of every packet header
// written through it.
type RecordingMuxer struct {
	Inner  media.Muxer
	Config media.MuxerConfig

	lib *Library
	h   *handle

	mu      sync.Mutex
	streams []media.CodecParams
	packets []media.Packet
	header  bool
	trailer bool
}

// AddStream implements media.Muxer.
func (m *RecordingMuxer) AddStream(params media.CodecParams) (int, error) {
	idx, err := m.Inner.AddStream(params)
	if err == nil {
		m.mu.Lock()
		m.streams = append(m.streams, params)
		m.mu.Unlock()
	}
	return idx, err
}

// WriteHeader implements media.Muxer.
func (m *RecordingMuxer) WriteHeader() error {
	if err := m.Inner.WriteHeader(); err != nil {
		return err
	}
	m.mu.Lock()
	m.header = true
	m.mu.Unlock()
	return nil
}

// TimeBase implements media.Muxer.
func (m *RecordingMuxer) TimeBase(stream int) media.Rational {
	return m.Inner.TimeBase(stream)
}

// WritePacket implements media.Muxer.
func (m *RecordingMuxer) WritePacket(pkt *media.Packet) error {
	m.mu.Lock()
	rec := *pkt
	rec.Data = nil
	m.packets = append(m.packets, rec)
	m.mu.Unlock()
	return m.Inner.WritePacket(pkt)
}

// WriteTrailer implements media.Muxer.
func (m *RecordingMuxer) WriteTrailer() error {
	if err := m.Inner.WriteTrailer(); err != nil {
		return err
	}
	m.mu.Lock()
	m.trailer = true
	m.mu.Unlock()
	return nil
}

// Close implements media.Muxer.
func (m *RecordingMuxer) Close() error {
	m.lib.release(m.h)
	return m.Inner.Close()
}

// Codecs forwards the inner muxer's codec strings when it has them.
func (m *RecordingMuxer) Codecs() []string {
	if r, ok := m.Inner.(media.CodecReporter); ok {
		return r.Codecs()
	}
	return nil
}

// Streams lists the parameters of every added stream.
func (m *RecordingMuxer) Streams() []media.CodecParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.CodecParams(nil), m.streams...)
}

// Packets returns the packets written for one output stream.
func (m *RecordingMuxer) Packets(stream int) []media.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []media.Packet
	for _, p := range m.packets {
		if p.StreamIndex == stream {
			out = append(out, p)
		}
	}
	return out
}

// HeaderWritten reports whether WriteHeader succeeded.
func (m *RecordingMuxer) HeaderWritten() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

// TrailerWritten reports whether WriteTrailer succeeded.
func (m *RecordingMuxer) TrailerWritten() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trailer
}
