package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/abrhls/internal/convert"
	"github.com/jmylchreest/abrhls/internal/hls"
	"github.com/jmylchreest/abrhls/internal/media"
)

// Options configure the ffmpeg backed library.
type Options struct {
	// FFmpegPath and FFprobePath override binary discovery when set.
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds probing and capability detection.
	Timeout time.Duration
	// Threads is passed to every encoder; zero lets ffmpeg decide.
	Threads int
	Logger  *slog.Logger
}

// Library implements media.Library with ffmpeg processes for decoding and
// encoding. Scaling, resampling and segmenting run in process.
type Library struct {
	opts     Options
	detector *BinaryDetector
	logger   *slog.Logger
}

var _ media.Library = (*Library)(nil)

// NewLibrary creates a library. Binaries are located on first use.
func NewLibrary(opts Options) *Library {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		opts:     opts,
		detector: NewBinaryDetector(opts.FFmpegPath, opts.FFprobePath),
		logger:   logger.With(slog.String("component", "ffmpeg")),
	}
}

// Info locates the binaries and reports what ffmpeg can do.
func (l *Library) Info(ctx context.Context) (*BinaryInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	return l.detector.Detect(ctx)
}

// Probe runs ffprobe on path.
func (l *Library) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	info, err := l.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.FFprobePath == "" {
		return nil, media.NewError(media.StatusNoEntry, "locate ffprobe", fmt.Errorf("ffprobe not found"))
	}
	return NewProber(info.FFprobePath).WithTimeout(l.opts.Timeout).Probe(ctx, path)
}

// OpenInput probes path and starts a process decoding its first video and
// first audio stream.
func (l *Library) OpenInput(ctx context.Context, path string) (media.Demuxer, error) {
	probe, err := l.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	info, err := l.Info(ctx)
	if err != nil {
		return nil, err
	}

	video, audio := decodePlan(probe.StreamInfos())
	legacySync := !info.SupportsMinVersion(5, 1)
	b := decodeArgs(info.FFmpegPath, path, video, audio, legacySync)

	logger := l.logger.With(slog.String("input", path))
	d, err := newDemuxer(ctx, b, probe, video, audio, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	logger.Debug("input opened",
		slog.String("format", probe.Format.FormatName),
		slog.Int("streams", len(probe.Streams)),
		slog.Duration("duration", probe.Duration()),
	)
	return d, nil
}

// NewDecoder returns a decoder for a stream of an input opened by this
// library.
func (l *Library) NewDecoder(stream media.StreamInfo) (media.Decoder, error) {
	d, err := newRawDecoder(stream)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewVideoEncoder starts an H.264 encoder process.
func (l *Library) NewVideoEncoder(cfg media.VideoEncoderConfig) (media.Encoder, error) {
	if cfg.Codec != "h264" {
		return nil, fmt.Errorf("%w: video codec %q", media.ErrEncoderNotFound, cfg.Codec)
	}
	if cfg.PixFmt != media.PixelFormatYUV420P || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: h264 encoder input %dx%d %s", media.ErrInvalid, cfg.Width, cfg.Height, cfg.PixFmt)
	}
	rate := cfg.FrameRate
	if !rate.Valid() {
		rate = cfg.TimeBase.Invert()
	}
	if !rate.Valid() || !cfg.TimeBase.Valid() {
		return nil, fmt.Errorf("%w: frame rate %s, time base %s", media.ErrInvalid, cfg.FrameRate, cfg.TimeBase)
	}

	info, err := l.Info(context.Background())
	if err != nil {
		return nil, err
	}
	if err := info.RequireEncoder(encoderNames["h264"]); err != nil {
		return nil, err
	}

	params := media.CodecParams{
		Type:      media.MediaTypeVideo,
		Codec:     cfg.Codec,
		Width:     cfg.Width,
		Height:    cfg.Height,
		PixFmt:    cfg.PixFmt,
		TimeBase:  cfg.TimeBase,
		FrameRate: rate,
		BitRate:   cfg.BitRate,
		Profile:   cfg.Profile,
		Level:     cfg.Level,
	}
	logger := l.logger.With(slog.String("encoder", "h264"), slog.String("resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)))
	cmd := videoEncodeArgs(info.FFmpegPath, cfg, rate, l.opts.Threads).Build(context.Background()).WithLogger(logger)
	return openEncoder(cmd, params, logger)
}

// NewAudioEncoder starts an AAC encoder process.
func (l *Library) NewAudioEncoder(cfg media.AudioEncoderConfig) (media.Encoder, error) {
	if cfg.Codec != "aac" {
		return nil, fmt.Errorf("%w: audio codec %q", media.ErrEncoderNotFound, cfg.Codec)
	}
	if cfg.SampleFmt != media.SampleFormatFLTP && cfg.SampleFmt != media.SampleFormatFLT {
		return nil, fmt.Errorf("%w: aac encoder input %s", media.ErrInvalid, cfg.SampleFmt)
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: aac encoder input %dHz %dch", media.ErrInvalid, cfg.SampleRate, cfg.Channels)
	}

	info, err := l.Info(context.Background())
	if err != nil {
		return nil, err
	}
	if err := info.RequireEncoder(encoderNames["aac"]); err != nil {
		return nil, err
	}

	params := media.CodecParams{
		Type:       media.MediaTypeAudio,
		Codec:      cfg.Codec,
		SampleFmt:  cfg.SampleFmt,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		FrameSize:  aacFrameSize,
		TimeBase:   media.Rational{Num: 1, Den: cfg.SampleRate},
		BitRate:    cfg.BitRate,
		Profile:    "LC",
	}
	logger := l.logger.With(slog.String("encoder", "aac"))
	cmd := audioEncodeArgs(info.FFmpegPath, cfg, l.opts.Threads).Build(context.Background()).WithLogger(logger)
	return openEncoder(cmd, params, logger)
}

// NewScaler implements media.Library.
func (l *Library) NewScaler(cfg media.ScalerConfig) (media.Scaler, error) {
	s, err := convert.NewScaler(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewResampler implements media.Library.
func (l *Library) NewResampler(cfg media.ResamplerConfig) (media.Resampler, error) {
	r, err := convert.NewResampler(cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// NewMuxer implements media.Library.
func (l *Library) NewMuxer(cfg media.MuxerConfig) (media.Muxer, error) {
	if cfg.Logger == nil {
		cfg.Logger = l.logger
	}
	m, err := hls.NewSegmenter(cfg)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func openEncoder(cmd *Command, params media.CodecParams, logger *slog.Logger) (media.Encoder, error) {
	e, err := startPipeEncoder(cmd, params, logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}
