// Package service exposes the HLS conversions as the operations a host
// application calls.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/abrhls/internal/config"
	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
	"github.com/jmylchreest/abrhls/internal/transcode"
)

// ConversionService runs single and multi-quality HLS conversions over a
// media library.
type ConversionService struct {
	lib    media.Library
	opts   transcode.Options
	tiers  []transcode.RenditionSpec
	single transcode.RenditionSpec
	medium transcode.RenditionSpec
	logger *slog.Logger
}

// NewConversionService creates a service with the built-in tiers.
func NewConversionService(lib media.Library, opts transcode.Options) *ConversionService {
	return &ConversionService{
		lib:    lib,
		opts:   opts,
		tiers:  transcode.DefaultTiers(),
		single: transcode.TierDefault,
		medium: transcode.TierMedium,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *ConversionService) WithLogger(logger *slog.Logger) *ConversionService {
	s.logger = logger
	return s
}

// WithTiers replaces the multi-quality ladder. A tier named "medium" also
// becomes the medium conversion's tier.
func (s *ConversionService) WithTiers(tiers []transcode.RenditionSpec) *ConversionService {
	s.tiers = tiers
	for _, t := range tiers {
		if t.Name == transcode.TierMedium.Name {
			s.medium = t
		}
	}
	return s
}

// Tiers returns the multi-quality ladder.
func (s *ConversionService) Tiers() []transcode.RenditionSpec {
	return s.tiers
}

// Convert writes the default single rendition into outputDir.
func (s *ConversionService) Convert(ctx context.Context, input, outputDir string) error {
	return s.runSingle(ctx, "convert", input, outputDir, s.single)
}

// ConvertMultiQuality writes every tier into its own subdirectory of
// outputDir and a master playlist listing the tiers that succeeded.
func (s *ConversionService) ConvertMultiQuality(ctx context.Context, input, outputDir string) ([]transcode.RenditionResult, error) {
	logger := s.runLogger("convert_multi_quality", input, outputDir)
	if err := createDirectory(outputDir); err != nil {
		return nil, err
	}

	results, err := transcode.NewOrchestrator(s.lib, s.opts, logger).Run(ctx, input, outputDir, s.tiers)
	if err != nil {
		logger.Error("multi-quality conversion failed", slog.String("error", err.Error()))
		return results, err
	}
	logger.Info("multi-quality conversion finished", slog.Int("renditions", len(results)))
	return results, nil
}

// ConvertMedium writes the medium tier into outputDir.
func (s *ConversionService) ConvertMedium(ctx context.Context, input, outputDir string) error {
	return s.runSingle(ctx, "convert_medium", input, outputDir, s.medium)
}

// ConvertMediumWithResolution writes the medium tier scaled to
// width x height into outputDir.
func (s *ConversionService) ConvertMediumWithResolution(ctx context.Context, input, outputDir string, width, height int) error {
	tier := s.medium
	tier.Width, tier.Height = width, height
	return s.runSingle(ctx, "convert_medium", input, outputDir, tier)
}

// CreateSingleStream writes one rendition of width x height into outputDir
// at the default tier's bitrates.
func (s *ConversionService) CreateSingleStream(ctx context.Context, input, outputDir string, width, height int) error {
	tier := s.single
	tier.Name = "single"
	tier.Width, tier.Height = width, height
	return s.runSingle(ctx, "create_single_stream", input, outputDir, tier)
}

// ConvertToHLS is Convert reporting a status code: zero on success, a
// negative library error code otherwise.
func (s *ConversionService) ConvertToHLS(ctx context.Context, input, outputDir string) int {
	return media.Status(s.Convert(ctx, input, outputDir))
}

// ConvertToMultiQualityHLS is ConvertMultiQuality reporting a status code.
// Partial failure is success as long as one tier was written.
func (s *ConversionService) ConvertToMultiQualityHLS(ctx context.Context, input, outputDir string) int {
	_, err := s.ConvertMultiQuality(ctx, input, outputDir)
	return media.Status(err)
}

// ConvertToMediumHLS is ConvertMedium reporting a status code.
func (s *ConversionService) ConvertToMediumHLS(ctx context.Context, input, outputDir string) int {
	return media.Status(s.ConvertMedium(ctx, input, outputDir))
}

// ConvertToMediumHLSWithResolution is ConvertMediumWithResolution reporting
// a status code.
func (s *ConversionService) ConvertToMediumHLSWithResolution(ctx context.Context, input, outputDir string, width, height int) int {
	return media.Status(s.ConvertMediumWithResolution(ctx, input, outputDir, width, height))
}

// CreateSingleHLSStreamWithResolution is CreateSingleStream reporting a
// status code.
func (s *ConversionService) CreateSingleHLSStreamWithResolution(ctx context.Context, input, outputDir string, width, height int) int {
	return media.Status(s.CreateSingleStream(ctx, input, outputDir, width, height))
}

func (s *ConversionService) runSingle(ctx context.Context, op, input, outputDir string, tier transcode.RenditionSpec) error {
	logger := s.runLogger(op, input, outputDir)
	if err := createDirectory(outputDir); err != nil {
		return err
	}

	t := transcode.NewTranscoder(s.lib, tier, outputDir, s.opts, logger)
	if err := t.Run(ctx, input); err != nil {
		logger.Error("conversion failed",
			slog.String("rendition", tier.Name),
			slog.Int("status", media.Status(err)),
			slog.String("error", err.Error()),
		)
		return err
	}

	stats := t.Stats()
	logger.Info("conversion finished",
		slog.String("rendition", tier.Name),
		slog.String("resolution", tier.Resolution()),
		slog.Int64("video_packets", stats.Video.Packets),
		slog.Int64("audio_packets", stats.Audio.Packets),
	)
	return nil
}

func (s *ConversionService) runLogger(op, input, outputDir string) *slog.Logger {
	logger := observability.WithOperation(observability.WithComponent(s.logger, "conversion"), op)
	return logger.With(
		slog.String("conversion_id", ulid.Make().String()),
		slog.String("input", input),
		slog.String("output_dir", outputDir),
	)
}

func createDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return nil
}

// OptionsFromConfig translates the loaded configuration into run options and
// the multi-quality ladder.
func OptionsFromConfig(cfg *config.Config) (transcode.Options, []transcode.RenditionSpec, error) {
	opts := transcode.DefaultOptions()

	opts.PlaylistName = cfg.HLS.PlaylistName
	opts.MasterPlaylistName = cfg.HLS.MasterPlaylistName
	opts.SegmentPattern = cfg.HLS.SegmentPattern
	opts.SegmentDuration = cfg.HLS.SegmentDuration
	opts.SegmentMaxSize = int64(cfg.HLS.SegmentMaxSize)

	tc := cfg.Transcode
	if tc.DefaultFrameRate != "" {
		rate, err := media.ParseRational(tc.DefaultFrameRate)
		if err != nil || !rate.Valid() {
			return opts, nil, fmt.Errorf("transcode.default_frame_rate %q: %w", tc.DefaultFrameRate, media.ErrInvalid)
		}
		opts.DefaultFrameRate = rate
	}
	if tc.AudioRingMultiple > 0 {
		opts.AudioRingMultiple = tc.AudioRingMultiple
	}

	if tc.VideoCodec != "" {
		opts.Video.Codec = tc.VideoCodec
	}
	opts.Video.Preset = tc.Preset
	opts.Video.Tune = tc.Tune
	opts.Video.Profile = tc.Profile
	opts.Video.Level = tc.Level
	opts.Video.MaxBFrames = tc.MaxBFrames
	if tc.GOPDuration > 0 {
		opts.Video.GOPDuration = tc.GOPDuration
	}

	if tc.AudioCodec != "" {
		opts.Audio.Codec = tc.AudioCodec
	}
	if tc.AudioSampleRate > 0 {
		opts.Audio.SampleRate = tc.AudioSampleRate
	}
	if tc.AudioChannels > 0 {
		opts.Audio.Channels = tc.AudioChannels
	}

	if tc.ScaleFilter != "" {
		opts.ScaleFilter = media.ScaleFilter(tc.ScaleFilter)
	}
	if tc.ResampleFilterSize > 0 {
		opts.ResampleFilterSize = tc.ResampleFilterSize
	}
	if tc.ResampleCutoff > 0 {
		opts.ResampleCutoff = tc.ResampleCutoff
	}

	tiers := make([]transcode.RenditionSpec, 0, len(cfg.Renditions))
	for _, r := range cfg.Renditions {
		tier := transcode.RenditionSpec{
			Name:         r.Name,
			Width:        r.Width,
			Height:       r.Height,
			VideoBitrate: r.VideoBitrate,
			AudioBitrate: r.AudioBitrate,
		}
		if err := tier.Validate(); err != nil {
			return opts, nil, err
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 0 {
		tiers = transcode.DefaultTiers()
	}
	return opts, tiers, nil
}
