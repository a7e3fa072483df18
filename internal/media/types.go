package media

import (
	"log/slog"
	"time"
)

// Frame is one decoded picture or one block of decoded audio samples.
//
// Video frames carry one plane per PixFmt plane with Linesize bytes per row.
// Audio frames carry one plane per channel for planar sample formats, or a
// single interleaved plane otherwise.
type Frame struct {
	Type     MediaType
	PTS      int64
	TimeBase Rational
	Data     [][]byte
	Linesize []int

	Width  int
	Height int
	PixFmt PixelFormat

	SampleFmt  SampleFormat
	SampleRate int
	Channels   int
	NumSamples int
}

// NewVideoFrame allocates a tightly packed picture.
func NewVideoFrame(width, height int, pixFmt PixelFormat) *Frame {
	f := &Frame{
		Type:   MediaTypeVideo,
		PTS:    NoPTS,
		Width:  width,
		Height: height,
		PixFmt: pixFmt,
	}
	for i := range pixFmt.PlaneCount() {
		w, h := pixFmt.PlaneSize(i, width, height)
		f.Data = append(f.Data, make([]byte, w*h))
		f.Linesize = append(f.Linesize, w)
	}
	return f
}

// NewAudioFrame allocates silent audio of numSamples samples per channel.
func NewAudioFrame(format SampleFormat, sampleRate, channels, numSamples int) *Frame {
	f := &Frame{
		Type:       MediaTypeAudio,
		PTS:        NoPTS,
		SampleFmt:  format,
		SampleRate: sampleRate,
		Channels:   channels,
		NumSamples: numSamples,
	}
	bps := format.BytesPerSample()
	if format.IsPlanar() {
		for range channels {
			f.Data = append(f.Data, make([]byte, numSamples*bps))
			f.Linesize = append(f.Linesize, numSamples*bps)
		}
	} else {
		f.Data = [][]byte{make([]byte, numSamples*bps*channels)}
		f.Linesize = []int{numSamples * bps * channels}
	}
	return f
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Data = make([][]byte, len(f.Data))
	for i, plane := range f.Data {
		c.Data[i] = append([]byte(nil), plane...)
	}
	c.Linesize = append([]int(nil), f.Linesize...)
	return &c
}

// Packet is one compressed access unit.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	TimeBase    Rational
	Keyframe    bool
	Data        []byte
}

// Clone returns a deep copy.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	c := *p
	c.Data = append([]byte(nil), p.Data...)
	return &c
}

// StreamInfo describes one input elementary stream.
type StreamInfo struct {
	Index     int
	Type      MediaType
	Codec     string
	TimeBase  Rational
	FrameRate Rational
	// Duration is expressed in TimeBase units, NoPTS when unknown.
	Duration  int64
	StartTime int64
	BitRate   int64

	Width  int
	Height int
	PixFmt PixelFormat

	SampleFmt  SampleFormat
	SampleRate int
	Channels   int
}

// DurationValue converts Duration to a time.Duration, zero when unknown.
func (s StreamInfo) DurationValue() time.Duration {
	if s.Duration == NoPTS || s.Duration <= 0 || !s.TimeBase.Valid() {
		return 0
	}
	us := Rescale(s.Duration, s.TimeBase, Rational{Num: 1, Den: 1000000})
	return time.Duration(us) * time.Microsecond
}

// CodecParams are the parameters an opened encoder advertises.
type CodecParams struct {
	Type       MediaType
	Codec      string
	Width      int
	Height     int
	PixFmt     PixelFormat
	SampleFmt  SampleFormat
	SampleRate int
	Channels   int
	// FrameSize is the number of samples per channel the encoder consumes
	// per frame. Zero for video.
	FrameSize int
	TimeBase  Rational
	FrameRate Rational
	BitRate   int64
	Profile   string
	Level     string
	Extradata []byte
}

// VideoEncoderConfig requests a video encoder.
type VideoEncoderConfig struct {
	Codec      string
	Width      int
	Height     int
	PixFmt     PixelFormat
	BitRate    int64
	TimeBase   Rational
	FrameRate  Rational
	GOPSize    int
	MaxBFrames int
	Preset     string
	Tune       string
	Profile    string
	Level      string
}

// AudioEncoderConfig requests an audio encoder.
type AudioEncoderConfig struct {
	Codec      string
	SampleFmt  SampleFormat
	SampleRate int
	Channels   int
	BitRate    int64
}

// ScaleFilter selects the interpolation kernel of a scaler.
type ScaleFilter string

const (
	ScaleFilterNearest        ScaleFilter = "nearest"
	ScaleFilterApproxBilinear ScaleFilter = "approx_bilinear"
	ScaleFilterBilinear       ScaleFilter = "bilinear"
	ScaleFilterCatmullRom     ScaleFilter = "catmull_rom"
)

// ScalerConfig describes a picture conversion.
type ScalerConfig struct {
	SrcWidth  int
	SrcHeight int
	SrcFormat PixelFormat
	DstWidth  int
	DstHeight int
	DstFormat PixelFormat
	Filter    ScaleFilter
}

// ResamplerConfig describes an audio conversion.
type ResamplerConfig struct {
	InFormat    SampleFormat
	InRate      int
	InChannels  int
	OutFormat   SampleFormat
	OutRate     int
	OutChannels int
	// FilterSize is the number of taps of the anti-alias filter applied
	// when downsampling.
	FilterSize int
	// Cutoff is the filter cutoff relative to the output Nyquist frequency.
	Cutoff float64
	// Linear selects linear interpolation between input samples.
	Linear bool
}

// MuxerConfig describes an HLS output.
type MuxerConfig struct {
	Dir             string
	PlaylistName    string
	SegmentPattern  string
	SegmentDuration time.Duration
	SegmentMaxSize  int64
	InputDuration   time.Duration
	Logger          *slog.Logger
}
