package transcode

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/abrhls/internal/media"
)

// AudioRing is a fixed-capacity FIFO of planar 32-bit float samples. Samples
// are always stored from the start of each plane; consuming shifts the
// remainder forward.
type AudioRing struct {
	planes   [][]byte
	capacity int
	count    int
}

const fltpBytes = 4

// NewAudioRing allocates a ring holding capacity samples per channel.
func NewAudioRing(channels, capacity int) *AudioRing {
	r := &AudioRing{planes: make([][]byte, channels), capacity: capacity}
	for c := range r.planes {
		r.planes[c] = make([]byte, capacity*fltpBytes)
	}
	return r
}

// Capacity is the maximum number of samples per channel.
func (r *AudioRing) Capacity() int { return r.capacity }

// Count is the number of buffered samples per channel.
func (r *AudioRing) Count() int { return r.count }

// Channels is the number of planes.
func (r *AudioRing) Channels() int { return len(r.planes) }

// Write appends n samples from per-channel planes. It fails without
// modifying the ring when the samples do not fit.
func (r *AudioRing) Write(planes [][]byte, n int) error {
	if len(planes) < len(r.planes) {
		return fmt.Errorf("writing %d planes into %d-channel ring: %w", len(planes), len(r.planes), media.ErrInvalidData)
	}
	if r.count+n > r.capacity {
		return fmt.Errorf("%w: %d buffered + %d incoming exceeds capacity %d", ErrAudioRingOverflow, r.count, n, r.capacity)
	}
	for c := range r.planes {
		if len(planes[c]) < n*fltpBytes {
			return fmt.Errorf("plane %d holds fewer than %d samples: %w", c, n, media.ErrInvalidData)
		}
	}
	for c, dst := range r.planes {
		copy(dst[r.count*fltpBytes:], planes[c][:n*fltpBytes])
	}
	r.count += n
	return nil
}

// Read removes the oldest n samples per channel and returns copies of them.
func (r *AudioRing) Read(n int) [][]byte {
	if n > r.count {
		n = r.count
	}
	out := make([][]byte, len(r.planes))
	for c, src := range r.planes {
		out[c] = make([]byte, n*fltpBytes)
		copy(out[c], src[:n*fltpBytes])
		copy(src, src[n*fltpBytes:r.count*fltpBytes])
	}
	r.count -= n
	return out
}

// Accumulator regroups converted audio into frames of exactly the encoder's
// frame size.
type Accumulator struct {
	ring       *AudioRing
	frameSize  int
	sampleRate int
	timeBase   media.Rational
	logger     *slog.Logger
	scrubbed   int64
}

// NewAccumulator sizes the ring to multiple encoder frames.
func NewAccumulator(params media.CodecParams, multiple int, logger *slog.Logger) (*Accumulator, error) {
	if params.FrameSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameSize, params.FrameSize)
	}
	if params.Channels <= 0 || params.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid encoder layout %dHz/%dch: %w", params.SampleRate, params.Channels, media.ErrInvalid)
	}
	if params.SampleFmt != media.SampleFormatFLTP {
		return nil, fmt.Errorf("accumulator requires fltp, encoder wants %s: %w", params.SampleFmt, media.ErrInvalid)
	}
	if multiple < 2 {
		multiple = DefaultAudioRingMultiple
	}
	tb := params.TimeBase
	if !tb.Valid() {
		tb = media.Rational{Num: 1, Den: params.SampleRate}
	}
	return &Accumulator{
		ring:       NewAudioRing(params.Channels, multiple*params.FrameSize),
		frameSize:  params.FrameSize,
		sampleRate: params.SampleRate,
		timeBase:   tb,
		logger:     logger,
	}, nil
}

// FrameSize is the encoder frame size in samples per channel.
func (a *Accumulator) FrameSize() int { return a.frameSize }

// Buffered is the number of samples waiting for a full frame.
func (a *Accumulator) Buffered() int { return a.ring.Count() }

// Capacity is the ring size in samples per channel.
func (a *Accumulator) Capacity() int { return a.ring.Capacity() }

// Scrubbed counts non-finite samples replaced with silence so far.
func (a *Accumulator) Scrubbed() int64 { return a.scrubbed }

// Append adds a converted frame. The frame must already be in the encoder's
// sample format, rate and channel count. Overflow is fatal for the run.
func (a *Accumulator) Append(f *media.Frame) error {
	if f.SampleFmt != media.SampleFormatFLTP || f.Channels != a.ring.Channels() || f.SampleRate != a.sampleRate {
		return fmt.Errorf("frame %s/%dHz/%dch does not match encoder fltp/%dHz/%dch: %w",
			f.SampleFmt, f.SampleRate, f.Channels, a.sampleRate, a.ring.Channels(), media.ErrInvalid)
	}
	return a.ring.Write(f.Data, f.NumSamples)
}

// Ready reports whether a full frame is buffered.
func (a *Accumulator) Ready() bool {
	return a.ring.Count() >= a.frameSize
}

// Next removes exactly one frame from the ring and stamps it with pts.
// It returns nil when fewer than a frame's worth of samples are buffered.
func (a *Accumulator) Next(pts int64) *media.Frame {
	if !a.Ready() {
		return nil
	}
	return a.take(a.frameSize, pts)
}

// Flush removes whatever remains, possibly fewer samples than a frame.
// It returns nil when the ring is empty.
func (a *Accumulator) Flush(pts int64) *media.Frame {
	if a.ring.Count() == 0 {
		return nil
	}
	return a.take(a.ring.Count(), pts)
}

func (a *Accumulator) take(n int, pts int64) *media.Frame {
	f := &media.Frame{
		Type:       media.MediaTypeAudio,
		PTS:        pts,
		TimeBase:   a.timeBase,
		Data:       a.ring.Read(n),
		SampleFmt:  media.SampleFormatFLTP,
		SampleRate: a.sampleRate,
		Channels:   a.ring.Channels(),
		NumSamples: n,
	}
	for range f.Data {
		f.Linesize = append(f.Linesize, n*fltpBytes)
	}
	if bad := ScrubNonFinite(f); bad > 0 {
		a.scrubbed += int64(bad)
		a.logger.Warn("replaced non-finite audio samples with silence",
			slog.Int("samples", bad),
			slog.Int64("pts", pts),
		)
	}
	return f
}

// ScrubNonFinite replaces NaN and infinite samples of an fltp frame with
// zero and returns how many were replaced.
func ScrubNonFinite(f *media.Frame) int {
	if f.SampleFmt != media.SampleFormatFLTP {
		return 0
	}
	bad := 0
	for _, plane := range f.Data {
		for i := 0; i+fltpBytes <= len(plane) && i < f.NumSamples*fltpBytes; i += fltpBytes {
			v := math.Float32frombits(binary.LittleEndian.Uint32(plane[i:]))
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				binary.LittleEndian.PutUint32(plane[i:], 0)
				bad++
			}
		}
	}
	return bad
}
