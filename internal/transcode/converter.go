package transcode

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/abrhls/internal/media"
)

// frameTimeBase prefers the frame's own time base over the stream's.
func frameTimeBase(f *media.Frame, stream media.Rational) media.Rational {
	if f.TimeBase.Valid() {
		return f.TimeBase
	}
	return stream
}

// VideoConverter brings decoded pictures to the encoder's size and pixel
// format and expresses their PTS in the encoder time base.
type VideoConverter struct {
	lib      media.Library
	filter   media.ScaleFilter
	streamTB media.Rational
	params   media.CodecParams
	scaler   media.Scaler
	srcKey   media.ScalerConfig
}

// NewVideoConverter prepares a converter for the given input stream. The
// scaler is built lazily from the first frame that needs one.
func NewVideoConverter(lib media.Library, in media.StreamInfo, params media.CodecParams, filter media.ScaleFilter) *VideoConverter {
	return &VideoConverter{lib: lib, filter: filter, streamTB: in.TimeBase, params: params}
}

// Convert returns a frame ready for the encoder. Frames already at the
// target size and format are passed through; PTS is always rescaled.
func (c *VideoConverter) Convert(f *media.Frame, ts *TimestampState) (*media.Frame, error) {
	out := f
	if f.Width != c.params.Width || f.Height != c.params.Height || f.PixFmt != c.params.PixFmt {
		scaler, err := c.scalerFor(f)
		if err != nil {
			return nil, err
		}
		out, err = scaler.Scale(f)
		if err != nil {
			return nil, fmt.Errorf("scaling %dx%d -> %dx%d: %w", f.Width, f.Height, c.params.Width, c.params.Height, err)
		}
	} else {
		shallow := *f
		out = &shallow
	}

	if f.PTS != media.NoPTS {
		out.PTS = media.Rescale(f.PTS, frameTimeBase(f, c.streamTB), c.params.TimeBase)
	} else {
		out.PTS = ts.NextPTS()
	}
	ts.nextPTS = out.PTS + 1
	out.TimeBase = c.params.TimeBase
	return out, nil
}

func (c *VideoConverter) scalerFor(f *media.Frame) (media.Scaler, error) {
	key := media.ScalerConfig{
		SrcWidth:  f.Width,
		SrcHeight: f.Height,
		SrcFormat: f.PixFmt,
		DstWidth:  c.params.Width,
		DstHeight: c.params.Height,
		DstFormat: c.params.PixFmt,
		Filter:    c.filter,
	}
	if c.scaler != nil && key == c.srcKey {
		return c.scaler, nil
	}
	if c.scaler != nil {
		if err := c.scaler.Close(); err != nil {
			return nil, fmt.Errorf("closing previous scaler: %w", err)
		}
		c.scaler = nil
	}
	s, err := c.lib.NewScaler(key)
	if err != nil {
		return nil, fmt.Errorf("creating scaler: %w", err)
	}
	c.scaler, c.srcKey = s, key
	return s, nil
}

// Close releases the scaler.
func (c *VideoConverter) Close() error {
	if c.scaler == nil {
		return nil
	}
	err := c.scaler.Close()
	c.scaler = nil
	return err
}

// AudioConverter brings decoded audio to the encoder's sample format, rate
// and channel count.
type AudioConverter struct {
	lib       media.Library
	params    media.CodecParams
	streamTB  media.Rational
	filter    int
	cutoff    float64
	resampler media.Resampler
	srcKey    media.ResamplerConfig
	logger    *slog.Logger
}

// NewAudioConverter prepares a converter for the given input stream.
func NewAudioConverter(lib media.Library, in media.StreamInfo, params media.CodecParams, filterSize int, cutoff float64, logger *slog.Logger) *AudioConverter {
	return &AudioConverter{
		lib:      lib,
		params:   params,
		streamTB: in.TimeBase,
		filter:   filterSize,
		cutoff:   cutoff,
		logger:   logger,
	}
}

// NeedsResampling reports whether a stream must go through the resampler
// to reach the encoder's layout.
func NeedsResampling(in media.StreamInfo, params media.CodecParams) bool {
	return in.SampleFmt != params.SampleFmt || in.SampleRate != params.SampleRate || in.Channels != params.Channels
}

// Convert returns audio in the encoder's layout. A frame already in that
// layout is returned as is, without copying.
func (c *AudioConverter) Convert(f *media.Frame) (*media.Frame, error) {
	if f.SampleFmt == c.params.SampleFmt && f.SampleRate == c.params.SampleRate && f.Channels == c.params.Channels {
		return f, nil
	}
	r, err := c.resamplerFor(f)
	if err != nil {
		return nil, err
	}
	out, err := r.Convert(f)
	if err != nil {
		return nil, fmt.Errorf("resampling %s/%dHz/%dch: %w", f.SampleFmt, f.SampleRate, f.Channels, err)
	}
	return out, nil
}

// EncoderPTS expresses the frame's PTS in the encoder time base. Missing
// timestamps stay missing.
func (c *AudioConverter) EncoderPTS(f *media.Frame) int64 {
	return media.Rescale(f.PTS, frameTimeBase(f, c.streamTB), c.params.TimeBase)
}

// Passthrough reports whether no resampler has been needed so far.
func (c *AudioConverter) Passthrough() bool {
	return c.resampler == nil
}

func (c *AudioConverter) resamplerFor(f *media.Frame) (media.Resampler, error) {
	key := media.ResamplerConfig{
		InFormat:    f.SampleFmt,
		InRate:      f.SampleRate,
		InChannels:  f.Channels,
		OutFormat:   c.params.SampleFmt,
		OutRate:     c.params.SampleRate,
		OutChannels: c.params.Channels,
		FilterSize:  c.filter,
		Cutoff:      c.cutoff,
		Linear:      true,
	}
	if c.resampler != nil && key == c.srcKey {
		return c.resampler, nil
	}
	if c.resampler != nil {
		c.logger.Info("audio layout changed mid-stream, rebuilding resampler",
			slog.String("format", f.SampleFmt.String()),
			slog.Int("sample_rate", f.SampleRate),
			slog.Int("channels", f.Channels),
		)
		if err := c.resampler.Close(); err != nil {
			return nil, fmt.Errorf("closing previous resampler: %w", err)
		}
		c.resampler = nil
	}
	r, err := c.lib.NewResampler(key)
	if err != nil {
		return nil, fmt.Errorf("creating resampler: %w", err)
	}
	c.resampler, c.srcKey = r, key
	return r, nil
}

// Close releases the resampler.
func (c *AudioConverter) Close() error {
	if c.resampler == nil {
		return nil
	}
	err := c.resampler.Close()
	c.resampler = nil
	return err
}
