package transcode

import (
	"fmt"
	"time"

	"github.com/jmylchreest/abrhls/internal/convert"
	"github.com/jmylchreest/abrhls/internal/media"
)

// Default encoding and segmenting parameters.
const (
	DefaultPlaylistName       = "playlist.m3u8"
	DefaultMasterPlaylistName = "master.m3u8"
	DefaultSegmentPattern     = "segment%03d.ts"
	DefaultSegmentDuration    = time.Second
	DefaultGOPDuration        = 2 * time.Second
	DefaultAudioRingMultiple  = 3
	DefaultAudioBitrate       = 128_000
)

// DefaultFrameRate is used when the input does not report a usable frame rate.
var DefaultFrameRate = media.Rational{Num: 30, Den: 1}

// RenditionSpec is one output quality tier.
type RenditionSpec struct {
	// Name is the tier's output subdirectory in multi-tier runs.
	Name         string `yaml:"name"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	VideoBitrate int64  `yaml:"video_bitrate"`
	AudioBitrate int64  `yaml:"audio_bitrate"`
}

// Bandwidth is the peak bitrate advertised in the master playlist.
func (r RenditionSpec) Bandwidth() int64 {
	return r.VideoBitrate + r.AudioBitrate
}

// Resolution formats the tier size as WIDTHxHEIGHT.
func (r RenditionSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Validate checks that the tier can be encoded.
func (r RenditionSpec) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("rendition %q: invalid resolution %dx%d: %w", r.Name, r.Width, r.Height, media.ErrInvalid)
	}
	if r.Width%2 != 0 || r.Height%2 != 0 {
		return fmt.Errorf("rendition %q: resolution %dx%d must be even for 4:2:0: %w", r.Name, r.Width, r.Height, media.ErrInvalid)
	}
	if r.VideoBitrate <= 0 {
		return fmt.Errorf("rendition %q: video bitrate must be positive: %w", r.Name, media.ErrInvalid)
	}
	if r.AudioBitrate < 0 {
		return fmt.Errorf("rendition %q: audio bitrate must not be negative: %w", r.Name, media.ErrInvalid)
	}
	return nil
}

// Standard tiers.
var (
	TierDefault = RenditionSpec{Name: "default", Width: 480, Height: 270, VideoBitrate: 1_000_000, AudioBitrate: DefaultAudioBitrate}
	TierMedium  = RenditionSpec{Name: "medium", Width: 854, Height: 480, VideoBitrate: 1_000_000, AudioBitrate: DefaultAudioBitrate}
	TierHigh    = RenditionSpec{Name: "high", Width: 1280, Height: 720, VideoBitrate: 2_500_000, AudioBitrate: DefaultAudioBitrate}
)

// DefaultTiers is the multi-quality ladder, highest first.
func DefaultTiers() []RenditionSpec {
	return []RenditionSpec{TierHigh, TierMedium}
}

// VideoOptions are the H.264 encoder settings shared by every tier.
type VideoOptions struct {
	Codec      string
	PixFmt     media.PixelFormat
	Preset     string
	Tune       string
	Profile    string
	Level      string
	MaxBFrames int
	// GOPDuration is converted to a frame count at the input frame rate.
	GOPDuration time.Duration
}

// AudioOptions are the AAC encoder settings shared by every tier.
type AudioOptions struct {
	Codec      string
	SampleFmt  media.SampleFormat
	SampleRate int
	Channels   int
}

// Options configure a rendition run.
type Options struct {
	PlaylistName       string
	MasterPlaylistName string
	SegmentPattern     string
	SegmentDuration    time.Duration
	SegmentMaxSize     int64

	DefaultFrameRate  media.Rational
	AudioRingMultiple int

	Video VideoOptions
	Audio AudioOptions

	ScaleFilter        media.ScaleFilter
	ResampleFilterSize int
	ResampleCutoff     float64
}

// DefaultOptions returns the settings the converter ships with.
func DefaultOptions() Options {
	return Options{
		PlaylistName:       DefaultPlaylistName,
		MasterPlaylistName: DefaultMasterPlaylistName,
		SegmentPattern:     DefaultSegmentPattern,
		SegmentDuration:    DefaultSegmentDuration,
		DefaultFrameRate:   DefaultFrameRate,
		AudioRingMultiple:  DefaultAudioRingMultiple,
		Video: VideoOptions{
			Codec:       "h264",
			PixFmt:      media.PixelFormatYUV420P,
			Preset:      "medium",
			Tune:        "zerolatency",
			Profile:     "baseline",
			Level:       "3.1",
			MaxBFrames:  2,
			GOPDuration: DefaultGOPDuration,
		},
		Audio: AudioOptions{
			Codec:      "aac",
			SampleFmt:  media.SampleFormatFLTP,
			SampleRate: 44100,
			Channels:   2,
		},
		ScaleFilter:        media.ScaleFilterBilinear,
		ResampleFilterSize: convert.DefaultFilterSize,
		ResampleCutoff:     convert.DefaultCutoff,
	}
}

// withDefaults fills zero-valued fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PlaylistName == "" {
		o.PlaylistName = d.PlaylistName
	}
	if o.MasterPlaylistName == "" {
		o.MasterPlaylistName = d.MasterPlaylistName
	}
	if o.SegmentPattern == "" {
		o.SegmentPattern = d.SegmentPattern
	}
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = d.SegmentDuration
	}
	if !o.DefaultFrameRate.Valid() {
		o.DefaultFrameRate = d.DefaultFrameRate
	}
	if o.AudioRingMultiple < 2 {
		o.AudioRingMultiple = d.AudioRingMultiple
	}
	if o.Video.Codec == "" {
		o.Video = d.Video
	}
	if o.Video.GOPDuration <= 0 {
		o.Video.GOPDuration = d.Video.GOPDuration
	}
	if o.Audio.Codec == "" {
		o.Audio = d.Audio
	}
	if o.ScaleFilter == "" {
		o.ScaleFilter = d.ScaleFilter
	}
	if o.ResampleFilterSize <= 0 {
		o.ResampleFilterSize = d.ResampleFilterSize
	}
	if o.ResampleCutoff <= 0 {
		o.ResampleCutoff = d.ResampleCutoff
	}
	return o
}
