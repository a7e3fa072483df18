// Package config provides configuration management for abrhls using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultSegmentDuration    = time.Second
	defaultGOPDuration        = 2 * time.Second
	defaultFFmpegTimeout      = 30 * time.Second
	defaultAudioSampleRate    = 44100
	defaultAudioChannels      = 2
	defaultAudioBitrate       = 128_000
	defaultMaxBFrames         = 2
	defaultAudioRingMultiple  = 3
	defaultResampleFilterSize = 8
	defaultResampleCutoff     = 0.6
)

// Config holds all configuration for the application.
type Config struct {
	Logging    LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	FFmpeg     FFmpegConfig      `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	HLS        HLSConfig         `mapstructure:"hls" yaml:"hls"`
	Transcode  TranscodeConfig   `mapstructure:"transcode" yaml:"transcode"`
	Renditions []RenditionConfig `mapstructure:"renditions" yaml:"renditions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string        `mapstructure:"binary_path" yaml:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string        `mapstructure:"probe_path" yaml:"probe_path"`   // Path to ffprobe binary (empty = auto-detect)
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`         // Limit for probe and encoder startup
	Threads    int           `mapstructure:"threads" yaml:"threads"`         // 0 lets ffmpeg decide
}

// HLSConfig holds playlist and segment naming and cutting.
type HLSConfig struct {
	PlaylistName       string        `mapstructure:"playlist_name" yaml:"playlist_name"`
	MasterPlaylistName string        `mapstructure:"master_playlist_name" yaml:"master_playlist_name"`
	SegmentPattern     string        `mapstructure:"segment_pattern" yaml:"segment_pattern"`
	SegmentDuration    time.Duration `mapstructure:"segment_duration" yaml:"segment_duration"`
	// SegmentMaxSize forces a cut at the next keyframe once a segment grows
	// past it. Supports human-readable values like "8MiB". Zero disables.
	SegmentMaxSize ByteSize `mapstructure:"segment_max_size" yaml:"segment_max_size"`
}

// TranscodeConfig holds encoder settings shared by every rendition.
type TranscodeConfig struct {
	VideoCodec         string        `mapstructure:"video_codec" yaml:"video_codec"`
	Preset             string        `mapstructure:"preset" yaml:"preset"`
	Tune               string        `mapstructure:"tune" yaml:"tune"`
	Profile            string        `mapstructure:"profile" yaml:"profile"`
	Level              string        `mapstructure:"level" yaml:"level"`
	MaxBFrames         int           `mapstructure:"max_b_frames" yaml:"max_b_frames"`
	GOPDuration        time.Duration `mapstructure:"gop_duration" yaml:"gop_duration"`
	DefaultFrameRate   string        `mapstructure:"default_frame_rate" yaml:"default_frame_rate"` // used when the input reports none, e.g. "30/1"
	AudioCodec         string        `mapstructure:"audio_codec" yaml:"audio_codec"`
	AudioSampleRate    int           `mapstructure:"audio_sample_rate" yaml:"audio_sample_rate"`
	AudioChannels      int           `mapstructure:"audio_channels" yaml:"audio_channels"`
	AudioRingMultiple  int           `mapstructure:"audio_ring_multiple" yaml:"audio_ring_multiple"`
	ScaleFilter        string        `mapstructure:"scale_filter" yaml:"scale_filter"` // nearest, approx_bilinear, bilinear, catmull_rom
	ResampleFilterSize int           `mapstructure:"resample_filter_size" yaml:"resample_filter_size"`
	ResampleCutoff     float64       `mapstructure:"resample_cutoff" yaml:"resample_cutoff"`
}

// RenditionConfig is one tier of the multi-quality ladder.
type RenditionConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	Width        int    `mapstructure:"width" yaml:"width"`
	Height       int    `mapstructure:"height" yaml:"height"`
	VideoBitrate int64  `mapstructure:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate int64  `mapstructure:"audio_bitrate" yaml:"audio_bitrate"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ABRHLS_ and use underscores for nesting.
// Example: ABRHLS_HLS_SEGMENT_DURATION=2s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("abrhls")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/abrhls")
		v.AddConfigPath("$HOME/.abrhls")
	}

	v.SetEnvPrefix("ABRHLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.timeout", defaultFFmpegTimeout)
	v.SetDefault("ffmpeg.threads", 0)

	// HLS defaults
	v.SetDefault("hls.playlist_name", "playlist.m3u8")
	v.SetDefault("hls.master_playlist_name", "master.m3u8")
	v.SetDefault("hls.segment_pattern", "segment%03d.ts")
	v.SetDefault("hls.segment_duration", defaultSegmentDuration)
	v.SetDefault("hls.segment_max_size", 0)

	// Transcode defaults
	v.SetDefault("transcode.video_codec", "h264")
	v.SetDefault("transcode.preset", "medium")
	v.SetDefault("transcode.tune", "zerolatency")
	v.SetDefault("transcode.profile", "baseline")
	v.SetDefault("transcode.level", "3.1")
	v.SetDefault("transcode.max_b_frames", defaultMaxBFrames)
	v.SetDefault("transcode.gop_duration", defaultGOPDuration)
	v.SetDefault("transcode.default_frame_rate", "30/1")
	v.SetDefault("transcode.audio_codec", "aac")
	v.SetDefault("transcode.audio_sample_rate", defaultAudioSampleRate)
	v.SetDefault("transcode.audio_channels", defaultAudioChannels)
	v.SetDefault("transcode.audio_ring_multiple", defaultAudioRingMultiple)
	v.SetDefault("transcode.scale_filter", "bilinear")
	v.SetDefault("transcode.resample_filter_size", defaultResampleFilterSize)
	v.SetDefault("transcode.resample_cutoff", defaultResampleCutoff)

	// Multi-quality ladder, highest first
	v.SetDefault("renditions", []map[string]any{
		{"name": "high", "width": 1280, "height": 720, "video_bitrate": 2_500_000, "audio_bitrate": defaultAudioBitrate},
		{"name": "medium", "width": 854, "height": 480, "video_bitrate": 1_000_000, "audio_bitrate": defaultAudioBitrate},
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// HLS validation
	if c.HLS.SegmentDuration <= 0 {
		return fmt.Errorf("hls.segment_duration must be positive")
	}
	if !strings.Contains(c.HLS.SegmentPattern, "%") {
		return fmt.Errorf("hls.segment_pattern must contain a %%d verb")
	}
	if c.HLS.SegmentMaxSize < 0 {
		return fmt.Errorf("hls.segment_max_size must not be negative")
	}

	// Transcode validation
	if c.Transcode.GOPDuration <= 0 {
		return fmt.Errorf("transcode.gop_duration must be positive")
	}
	if c.Transcode.AudioSampleRate <= 0 || c.Transcode.AudioChannels <= 0 {
		return fmt.Errorf("transcode.audio_sample_rate and transcode.audio_channels must be positive")
	}
	if c.Transcode.AudioRingMultiple < 2 {
		return fmt.Errorf("transcode.audio_ring_multiple must be at least 2")
	}
	validFilters := map[string]bool{"nearest": true, "approx_bilinear": true, "bilinear": true, "catmull_rom": true}
	if !validFilters[c.Transcode.ScaleFilter] {
		return fmt.Errorf("transcode.scale_filter must be one of: nearest, approx_bilinear, bilinear, catmull_rom")
	}

	// Rendition validation
	if len(c.Renditions) == 0 {
		return fmt.Errorf("at least one rendition is required")
	}
	seen := make(map[string]bool, len(c.Renditions))
	for i, r := range c.Renditions {
		if r.Name == "" {
			return fmt.Errorf("renditions[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("renditions[%d].name %q is not unique", i, r.Name)
		}
		seen[r.Name] = true
		if r.Width <= 0 || r.Height <= 0 || r.Width%2 != 0 || r.Height%2 != 0 {
			return fmt.Errorf("renditions[%d] (%s): width and height must be positive and even", i, r.Name)
		}
		if r.VideoBitrate <= 0 {
			return fmt.Errorf("renditions[%d] (%s): video_bitrate must be positive", i, r.Name)
		}
	}

	return nil
}

// Rendition returns the configured tier with the given name.
func (c *Config) Rendition(name string) (RenditionConfig, bool) {
	for _, r := range c.Renditions {
		if r.Name == name {
			return r, true
		}
	}
	return RenditionConfig{}, false
}
