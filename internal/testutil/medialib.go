// Package testutil provides a synthetic media library for exercising the
// transcoding pipeline without external binaries.
package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/abrhls/internal/convert"
	"github.com/jmylchreest/abrhls/internal/hls"
	"github.com/jmylchreest/abrhls/internal/media"
)

// VideoSource describes synthetic input video.
type VideoSource struct {
	Width     int
	Height    int
	PixFmt    media.PixelFormat
	TimeBase  media.Rational
	FrameRate media.Rational
	// FrameTicks is the PTS step in TimeBase units. Derived from FrameRate
	// when zero, or 3000 at 1/90000 when FrameRate is unusable.
	FrameTicks int64
	Frames     int
	// NoPTS makes the decoder emit frames without timestamps.
	NoPTS bool
}

// AudioSource describes synthetic input audio.
type AudioSource struct {
	SampleRate       int
	Channels         int
	SampleFmt        media.SampleFormat
	TimeBase         media.Rational
	SamplesPerPacket int
	Packets          int
	// InjectNaN sets the first sample of every decoded frame to NaN.
	// Only meaningful for float formats.
	InjectNaN bool
}

// Source is one synthetic input file.
type Source struct {
	Video *VideoSource
	Audio *AudioSource
	// Extra streams are listed by the demuxer and each gets one packet.
	Extra []media.StreamInfo
	// Duration is the container duration.
	Duration time.Duration
	// ReadErrorAfter makes ReadPacket fail with an I/O error after that many
	// packets. Zero disables it.
	ReadErrorAfter int
}

// DefaultVideo is 2 seconds of 30 fps 320x180 yuv420p.
func DefaultVideo() *VideoSource {
	return &VideoSource{
		Width:     320,
		Height:    180,
		PixFmt:    media.PixelFormatYUV420P,
		TimeBase:  media.TimeBaseMPEGTS,
		FrameRate: media.Rational{Num: 30, Den: 1},
		Frames:    60,
	}
}

// DefaultAudio is 2 seconds of 48 kHz stereo s16 in 960-sample packets.
func DefaultAudio() *AudioSource {
	return &AudioSource{
		SampleRate:       48000,
		Channels:         2,
		SampleFmt:        media.SampleFormatS16,
		SamplesPerPacket: 960,
		Packets:          100,
	}
}

// SendHook lets tests inject encoder results. call counts SendFrame calls
// on that encoder, starting at zero. Returning a non-nil error makes
// SendFrame return it without accepting the frame.
type SendHook func(kind media.MediaType, call int, frame *media.Frame) error

// Library is a media.Library over in-memory synthetic sources. Scaling and
// resampling use the real convert package; muxing uses the HLS segmenter
// unless NewMuxerFunc is set. Every handle it creates is tracked so tests
// can check that runs release everything.
type Library struct {
	Sources map[string]Source

	// Fault injection.
	DecoderErr      map[media.MediaType]error
	VideoEncoderErr func(cfg media.VideoEncoderConfig) error
	AudioEncoderErr error
	// AudioFrameSize overrides the encoder frame size; negative reports zero.
	AudioFrameSize int
	SendHook       SendHook
	// RejectPackets makes the decoder refuse the nth packet (zero based)
	// sent to it, per media type.
	RejectPackets map[media.MediaType]map[int]bool
	// DuplicateDTSEvery makes the video encoder repeat the previous DTS on
	// every nth packet.
	DuplicateDTSEvery int
	NewMuxerFunc      func(cfg media.MuxerConfig) (media.Muxer, error)

	mu           sync.Mutex
	handles      []*handle
	videoConfigs []media.VideoEncoderConfig
	audioConfigs []media.AudioEncoderConfig
	muxers       []*RecordingMuxer
	encoders     []*Encoder
	videoOpts    map[media.StreamInfo]*VideoSource
	audioOpts    map[media.StreamInfo]*AudioSource
}

// NewLibrary returns a library serving the given sources by path.
func NewLibrary(sources map[string]Source) *Library {
	return &Library{Sources: sources}
}

type handle struct {
	name   string
	closes int
}

func (l *Library) track(name string) *handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := &handle{name: name}
	l.handles = append(l.handles, h)
	return h
}

// OpenHandles lists handles that were created and never closed.
func (l *Library) OpenHandles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var open []string
	for _, h := range l.handles {
		if h.closes == 0 {
			open = append(open, h.name)
		}
	}
	return open
}

// DoubleClosed lists handles that were closed more than once.
func (l *Library) DoubleClosed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, h := range l.handles {
		if h.closes > 1 {
			out = append(out, h.name)
		}
	}
	return out
}

// HandleNames lists every handle created so far, open or not.
func (l *Library) HandleNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.handles))
	for _, h := range l.handles {
		names = append(names, h.name)
	}
	return names
}

// HandleCount is the number of handles created so far.
func (l *Library) HandleCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *Library) release(h *handle) {
	l.mu.Lock()
	h.closes++
	l.mu.Unlock()
}

// VideoConfigs returns every video encoder request, including failed ones.
func (l *Library) VideoConfigs() []media.VideoEncoderConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]media.VideoEncoderConfig(nil), l.videoConfigs...)
}

// AudioConfigs returns every audio encoder request, including failed ones.
func (l *Library) AudioConfigs() []media.AudioEncoderConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]media.AudioEncoderConfig(nil), l.audioConfigs...)
}

// Muxers returns the muxers created so far, in order.
func (l *Library) Muxers() []*RecordingMuxer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*RecordingMuxer(nil), l.muxers...)
}

// Encoders returns the encoders created so far, in order.
func (l *Library) Encoders() []*Encoder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Encoder(nil), l.encoders...)
}

// OpenInput implements media.Library.
func (l *Library) OpenInput(ctx context.Context, path string) (media.Demuxer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, ok := l.Sources[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return newDemuxer(src, l.track("demuxer "+path), l), nil
}

// NewDecoder implements media.Library.
func (l *Library) NewDecoder(stream media.StreamInfo) (media.Decoder, error) {
	if err := l.DecoderErr[stream.Type]; err != nil {
		return nil, err
	}
	return &decoder{
		lib:    l,
		h:      l.track(stream.Type.String() + " decoder"),
		stream: stream,
		reject: l.RejectPackets[stream.Type],
	}, nil
}

// NewVideoEncoder implements media.Library.
func (l *Library) NewVideoEncoder(cfg media.VideoEncoderConfig) (media.Encoder, error) {
	l.mu.Lock()
	l.videoConfigs = append(l.videoConfigs, cfg)
	l.mu.Unlock()
	if l.VideoEncoderErr != nil {
		if err := l.VideoEncoderErr(cfg); err != nil {
			return nil, err
		}
	}
	enc := &Encoder{
		lib:  l,
		h:    l.track("video encoder"),
		kind: media.MediaTypeVideo,
		gop:  cfg.GOPSize,
		dup:  l.DuplicateDTSEvery,
		params: media.CodecParams{
			Type:      media.MediaTypeVideo,
			Codec:     cfg.Codec,
			Width:     cfg.Width,
			Height:    cfg.Height,
			PixFmt:    cfg.PixFmt,
			TimeBase:  cfg.TimeBase,
			FrameRate: cfg.FrameRate,
			BitRate:   cfg.BitRate,
			Profile:   cfg.Profile,
			Level:     cfg.Level,
		},
	}
	l.addEncoder(enc)
	return enc, nil
}

// NewAudioEncoder implements media.Library.
func (l *Library) NewAudioEncoder(cfg media.AudioEncoderConfig) (media.Encoder, error) {
	l.mu.Lock()
	l.audioConfigs = append(l.audioConfigs, cfg)
	l.mu.Unlock()
	if l.AudioEncoderErr != nil {
		return nil, l.AudioEncoderErr
	}
	frameSize := 1024
	switch {
	case l.AudioFrameSize < 0:
		frameSize = 0
	case l.AudioFrameSize > 0:
		frameSize = l.AudioFrameSize
	}
	enc := &Encoder{
		lib:  l,
		h:    l.track("audio encoder"),
		kind: media.MediaTypeAudio,
		params: media.CodecParams{
			Type:       media.MediaTypeAudio,
			Codec:      cfg.Codec,
			SampleFmt:  cfg.SampleFmt,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			FrameSize:  frameSize,
			TimeBase:   media.Rational{Num: 1, Den: cfg.SampleRate},
			BitRate:    cfg.BitRate,
		},
	}
	l.addEncoder(enc)
	return enc, nil
}

func (l *Library) addEncoder(e *Encoder) {
	l.mu.Lock()
	l.encoders = append(l.encoders, e)
	l.mu.Unlock()
}

// NewScaler implements media.Library with the convert package.
func (l *Library) NewScaler(cfg media.ScalerConfig) (media.Scaler, error) {
	s, err := convert.NewScaler(cfg)
	if err != nil {
		return nil, err
	}
	return &trackedScaler{Scaler: s, lib: l, h: l.track("scaler")}, nil
}

// NewResampler implements media.Library with the convert package.
func (l *Library) NewResampler(cfg media.ResamplerConfig) (media.Resampler, error) {
	r, err := convert.NewResampler(cfg)
	if err != nil {
		return nil, err
	}
	return &trackedResampler{Resampler: r, lib: l, h: l.track("resampler")}, nil
}

// NewMuxer implements media.Library. The muxer is wrapped so tests can
// look at every packet written.
func (l *Library) NewMuxer(cfg media.MuxerConfig) (media.Muxer, error) {
	var inner media.Muxer
	var err error
	if l.NewMuxerFunc != nil {
		inner, err = l.NewMuxerFunc(cfg)
	} else {
		inner, err = hls.NewSegmenter(cfg)
	}
	if err != nil {
		return nil, err
	}
	m := &RecordingMuxer{Inner: inner, Config: cfg, lib: l, h: l.track("muxer " + cfg.Dir)}
	l.mu.Lock()
	l.muxers = append(l.muxers, m)
	l.mu.Unlock()
	return m, nil
}

type trackedScaler struct {
	*convert.Scaler
	lib *Library
	h   *handle
}

func (s *trackedScaler) Close() error {
	s.lib.release(s.h)
	return s.Scaler.Close()
}

type trackedResampler struct {
	*convert.Resampler
	lib *Library
	h   *handle
}

func (r *trackedResampler) Close() error {
	r.lib.release(r.h)
	return r.Resampler.Close()
}

// demuxer replays a source's packets interleaved by time.
type demuxer struct {
	lib     *Library
	h       *handle
	src     Source
	streams []media.StreamInfo
	packets []*media.Packet
	pos     int
}

func newDemuxer(src Source, h *handle, lib *Library) *demuxer {
	d := &demuxer{lib: lib, h: h, src: src}

	type timed struct {
		at  float64
		pkt *media.Packet
	}
	var all []timed

	if v := src.Video; v != nil {
		tb := v.TimeBase
		if !tb.Valid() {
			tb = media.TimeBaseMPEGTS
		}
		step := v.FrameTicks
		if step <= 0 {
			step = 3000
			if v.FrameRate.Valid() {
				step = media.Rescale(1, v.FrameRate.Invert(), tb)
			}
		}
		info := media.StreamInfo{
			Index:     len(d.streams),
			Type:      media.MediaTypeVideo,
			Codec:     "h264",
			TimeBase:  tb,
			FrameRate: v.FrameRate,
			Duration:  int64(v.Frames) * step,
			Width:     v.Width,
			Height:    v.Height,
			PixFmt:    v.PixFmt,
		}
		d.streams = append(d.streams, info)
		lib.registerVideo(info, v)
		for i := 0; i < v.Frames; i++ {
			pts := int64(i) * step
			all = append(all, timed{
				at:  float64(pts) * tb.Float64(),
				pkt: &media.Packet{StreamIndex: info.Index, PTS: pts, DTS: pts, Duration: step, TimeBase: tb, Keyframe: i == 0, Data: []byte{byte(i)}},
			})
		}
	}

	if a := src.Audio; a != nil {
		tb := a.TimeBase
		if !tb.Valid() {
			tb = media.Rational{Num: 1, Den: a.SampleRate}
		}
		per := a.SamplesPerPacket
		if per <= 0 {
			per = 1024
		}
		step := media.Rescale(int64(per), media.Rational{Num: 1, Den: a.SampleRate}, tb)
		info := media.StreamInfo{
			Index:      len(d.streams),
			Type:       media.MediaTypeAudio,
			Codec:      "pcm",
			TimeBase:   tb,
			Duration:   int64(a.Packets) * step,
			SampleFmt:  a.SampleFmt,
			SampleRate: a.SampleRate,
			Channels:   a.Channels,
		}
		d.streams = append(d.streams, info)
		lib.registerAudio(info, a)
		for i := 0; i < a.Packets; i++ {
			pts := int64(i) * step
			all = append(all, timed{
				at:  float64(pts) * tb.Float64(),
				pkt: &media.Packet{StreamIndex: info.Index, PTS: pts, DTS: pts, Duration: step, TimeBase: tb, Data: []byte{byte(i)}},
			})
		}
	}

	for _, extra := range src.Extra {
		extra.Index = len(d.streams)
		d.streams = append(d.streams, extra)
		all = append(all, timed{pkt: &media.Packet{StreamIndex: extra.Index, PTS: 0, DTS: 0, Data: []byte{0xEE}}})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })
	for _, t := range all {
		d.packets = append(d.packets, t.pkt)
	}
	return d
}

func (d *demuxer) Streams() []media.StreamInfo {
	return append([]media.StreamInfo(nil), d.streams...)
}

func (d *demuxer) Duration() time.Duration { return d.src.Duration }

func (d *demuxer) ReadPacket() (*media.Packet, error) {
	if d.src.ReadErrorAfter > 0 && d.pos >= d.src.ReadErrorAfter {
		return nil, media.NewError(media.StatusIO, "read", fmt.Errorf("synthetic read failure"))
	}
	if d.pos >= len(d.packets) {
		return nil, media.ErrEOF
	}
	pkt := d.packets[d.pos].Clone()
	d.pos++
	return pkt, nil
}

func (d *demuxer) Close() error {
	d.lib.release(d.h)
	return nil
}

// decoder turns synthetic packets into frames, one frame per packet.
type decoder struct {
	lib     *Library
	h       *handle
	stream  media.StreamInfo
	reject  map[int]bool
	sent    int
	pending *media.Frame
	eof     bool
	sample  int64
}

func (d *decoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.eof = true
		return nil
	}
	if d.eof {
		return media.ErrEOF
	}
	if d.pending != nil {
		return media.ErrAgain
	}
	n := d.sent
	d.sent++
	if d.reject[n] {
		return media.NewError(media.StatusInvalidData, "decode", fmt.Errorf("synthetic corrupt packet %d", n))
	}
	d.pending = d.frameFor(pkt)
	return nil
}

func (d *decoder) ReceiveFrame() (*media.Frame, error) {
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.eof {
		return nil, media.ErrEOF
	}
	return nil, media.ErrAgain
}

func (d *decoder) Close() error {
	d.lib.release(d.h)
	return nil
}

func (d *decoder) frameFor(pkt *media.Packet) *media.Frame {
	if d.stream.Type == media.MediaTypeVideo {
		f := media.NewVideoFrame(d.stream.Width, d.stream.Height, d.stream.PixFmt)
		for i := range f.Data {
			val := byte(128)
			if i == 0 {
				val = byte(16 + pkt.PTS%200)
			}
			for j := range f.Data[i] {
				f.Data[i][j] = val
			}
		}
		f.PTS = pkt.PTS
		f.TimeBase = d.stream.TimeBase
		if src, ok := d.lib.videoSourceFor(d.stream); ok && src.NoPTS {
			f.PTS = media.NoPTS
		}
		return f
	}

	per := 1024
	if pkt.Duration > 0 {
		per = int(media.Rescale(pkt.Duration, d.stream.TimeBase, media.Rational{Num: 1, Den: d.stream.SampleRate}))
	}
	f := media.NewAudioFrame(d.stream.SampleFmt, d.stream.SampleRate, d.stream.Channels, per)
	f.PTS = pkt.PTS
	f.TimeBase = d.stream.TimeBase
	FillSine(f, d.sample)
	d.sample += int64(per)
	if src, ok := d.lib.audioSourceFor(d.stream); ok && src.InjectNaN {
		putFloat(f, 0, 0, math.NaN())
	}
	return f
}

func (l *Library) registerVideo(info media.StreamInfo, v *VideoSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.videoOpts == nil {
		l.videoOpts = make(map[media.StreamInfo]*VideoSource)
	}
	l.videoOpts[info] = v
}

func (l *Library) registerAudio(info media.StreamInfo, a *AudioSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.audioOpts == nil {
		l.audioOpts = make(map[media.StreamInfo]*AudioSource)
	}
	l.audioOpts[info] = a
}

func (l *Library) videoSourceFor(s media.StreamInfo) (*VideoSource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.videoOpts[s]
	return v, ok
}

func (l *Library) audioSourceFor(s media.StreamInfo) (*AudioSource, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.audioOpts[s]
	return a, ok
}

// FillSine writes a 440 Hz tone at half scale, starting at sample index
// start.
func FillSine(f *media.Frame, start int64) {
	for i := 0; i < f.NumSamples; i++ {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(start+int64(i))/float64(f.SampleRate))
		for c := 0; c < f.Channels; c++ {
			putFloat(f, c, i, v)
		}
	}
}

// putFloat stores v for channel c, sample i, in the frame's format.
func putFloat(f *media.Frame, c, i int, v float64) {
	bps := f.SampleFmt.BytesPerSample()
	plane, off := 0, (i*f.Channels+c)*bps
	if f.SampleFmt.IsPlanar() {
		plane, off = c, i*bps
	}
	b := f.Data[plane][off:]
	switch f.SampleFmt.Packed() {
	case media.SampleFormatU8:
		b[0] = byte(math.Round(v*127) + 128)
	case media.SampleFormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(v*32767))))
	case media.SampleFormatS32:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(v*2147483647))))
	case media.SampleFormatFLT:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case media.SampleFormatDBL:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}
