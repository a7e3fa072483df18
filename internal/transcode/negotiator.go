package transcode

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/abrhls/internal/media"
)

// negotiator opens encoders whose parameters are derived from the input
// streams and the tier being produced.
type negotiator struct {
	lib    media.Library
	opts   Options
	logger *slog.Logger
}

// EncoderFrameRate returns the input's frame rate, or fallback when the
// input reports a non-positive numerator or denominator. The boolean reports
// whether the fallback was used.
func EncoderFrameRate(in media.StreamInfo, fallback media.Rational) (media.Rational, bool) {
	if in.FrameRate.Valid() {
		return in.FrameRate, false
	}
	return fallback, true
}

// GOPSize converts a keyframe interval to a frame count at the given rate.
func GOPSize(rate media.Rational, seconds float64) int {
	gop := int(math.Round(rate.Float64() * seconds))
	if gop < 1 {
		return 1
	}
	return gop
}

// videoConfig derives the H.264 request for a tier.
func (n *negotiator) videoConfig(spec RenditionSpec, in media.StreamInfo) media.VideoEncoderConfig {
	rate, fellBack := EncoderFrameRate(in, n.opts.DefaultFrameRate)
	if fellBack {
		n.logger.Warn("input frame rate unusable, using default",
			slog.String("input_rate", in.FrameRate.String()),
			slog.String("default_rate", rate.String()),
		)
	}
	return media.VideoEncoderConfig{
		Codec:      n.opts.Video.Codec,
		Width:      spec.Width,
		Height:     spec.Height,
		PixFmt:     n.opts.Video.PixFmt,
		BitRate:    spec.VideoBitrate,
		TimeBase:   rate.Invert(),
		FrameRate:  rate,
		GOPSize:    GOPSize(rate, n.opts.Video.GOPDuration.Seconds()),
		MaxBFrames: n.opts.Video.MaxBFrames,
		Preset:     n.opts.Video.Preset,
		Tune:       n.opts.Video.Tune,
		Profile:    n.opts.Video.Profile,
		Level:      n.opts.Video.Level,
	}
}

// openVideo opens the tier's video encoder.
func (n *negotiator) openVideo(spec RenditionSpec, in media.StreamInfo) (media.Encoder, error) {
	cfg := n.videoConfig(spec, in)
	enc, err := n.lib.NewVideoEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s encoder %dx%d: %w", cfg.Codec, cfg.Width, cfg.Height, err)
	}
	n.logger.Debug("opened video encoder",
		slog.String("codec", cfg.Codec),
		slog.String("resolution", spec.Resolution()),
		slog.Int64("bitrate", cfg.BitRate),
		slog.String("time_base", cfg.TimeBase.String()),
		slog.Int("gop", cfg.GOPSize),
	)
	return enc, nil
}

// audioConfig derives the AAC request for a tier.
func (n *negotiator) audioConfig(spec RenditionSpec) media.AudioEncoderConfig {
	bitrate := spec.AudioBitrate
	if bitrate <= 0 {
		bitrate = DefaultAudioBitrate
	}
	return media.AudioEncoderConfig{
		Codec:      n.opts.Audio.Codec,
		SampleFmt:  n.opts.Audio.SampleFmt,
		SampleRate: n.opts.Audio.SampleRate,
		Channels:   n.opts.Audio.Channels,
		BitRate:    bitrate,
	}
}

// openAudio opens the tier's audio encoder and checks its frame size. On
// error nothing is left open.
func (n *negotiator) openAudio(spec RenditionSpec) (media.Encoder, error) {
	cfg := n.audioConfig(spec)
	enc, err := n.lib.NewAudioEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s encoder: %w", cfg.Codec, err)
	}
	params := enc.Params()
	if params.FrameSize <= 0 {
		if cerr := enc.Close(); cerr != nil {
			n.logger.Warn("failed to close rejected audio encoder", slog.String("error", cerr.Error()))
		}
		return nil, fmt.Errorf("%w: %s encoder reported %d", ErrInvalidFrameSize, cfg.Codec, params.FrameSize)
	}
	n.logger.Debug("opened audio encoder",
		slog.String("codec", cfg.Codec),
		slog.Int("sample_rate", params.SampleRate),
		slog.Int("channels", params.Channels),
		slog.Int("frame_size", params.FrameSize),
	)
	return enc, nil
}
