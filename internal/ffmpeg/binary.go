// Package ffmpeg implements media.Library on top of the ffmpeg and ffprobe
// command line tools.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/util"
)

// Environment variables consulted when no binary path is configured.
const (
	EnvFFmpegBinary  = "ABRHLS_FFMPEG_BINARY"
	EnvFFprobeBinary = "ABRHLS_FFPROBE_BINARY"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath    string   `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path" yaml:"ffprobe_path"`
	Version       string   `json:"version" yaml:"version"`
	MajorVersion  int      `json:"major_version" yaml:"major_version"`
	MinorVersion  int      `json:"minor_version" yaml:"minor_version"`
	BuildDate     string   `json:"build_date,omitempty" yaml:"build_date,omitempty"`
	Configuration string   `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Encoders      []string `json:"encoders,omitempty" yaml:"encoders,omitempty"`
	Decoders      []string `json:"decoders,omitempty" yaml:"decoders,omitempty"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	ffmpegPath  string
	ffprobePath string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Empty paths fall back to the
// environment, the working directory and PATH.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		cacheTTL:    5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect locates ffmpeg and ffprobe and lists the codecs ffmpeg was built
// with.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := util.FindBinary("ffmpeg", d.ffmpegPath, EnvFFmpegBinary)
	if err != nil {
		return nil, media.NewError(media.StatusNoEntry, "locate ffmpeg", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is needed to open inputs but not to report capabilities.
	if ffprobePath, err := util.FindBinary("ffprobe", d.ffprobePath, EnvFFprobeBinary); err == nil {
		info.FFprobePath = ffprobePath
	}

	output, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	version, err := parseVersion(string(output))
	if err != nil {
		return nil, err
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.BuildDate = version.BuildDate
	info.Configuration = version.Configuration

	if output, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseCodecList(string(output))
	}
	if output, err := exec.CommandContext(ctx, ffmpegPath, "-decoders", "-hide_banner").Output(); err == nil {
		info.Decoders = parseCodecList(string(output))
	}

	return info, nil
}

type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	BuildDate     string
	Configuration string
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads the output of `ffmpeg -version`. Release builds print
// "ffmpeg version 7.1", git builds "ffmpeg version n7.1-2-g...".
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}

	for line := range strings.SplitSeq(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			info.Full = parts[2]
			if matches := versionRegex.FindStringSubmatch(parts[2]); len(matches) >= 3 {
				info.Major, _ = strconv.Atoi(matches[1])
				info.Minor, _ = strconv.Atoi(matches[2])
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildDate = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseCodecList reads the output of `ffmpeg -encoders` or `-decoders`.
// Entries follow a dashed separator line and look like
// " V....D libx264   libx264 H.264 / AVC ...".
func parseCodecList(output string) []string {
	var names []string
	inList := false

	for line := range strings.SplitSeq(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}

		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}

		if parts := strings.Fields(line[6:]); len(parts) >= 1 {
			names = append(names, parts[0])
		}
	}

	return names
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasDecoder returns true if the decoder is available.
func (info *BinaryInfo) HasDecoder(name string) bool {
	return slices.Contains(info.Decoders, name)
}

// RequireEncoder reports media.ErrEncoderNotFound when ffmpeg was built
// without the named encoder. An empty encoder list means the listing
// failed, so nothing is rejected.
func (info *BinaryInfo) RequireEncoder(name string) error {
	if len(info.Encoders) == 0 || info.HasEncoder(name) {
		return nil
	}
	return fmt.Errorf("%w: ffmpeg has no %s encoder", media.ErrEncoderNotFound, name)
}

// RequireDecoder is RequireEncoder for decoders.
func (info *BinaryInfo) RequireDecoder(name string) error {
	if len(info.Decoders) == 0 || info.HasDecoder(name) {
		return nil
	}
	return fmt.Errorf("%w: ffmpeg has no %s decoder", media.ErrDecoderNotFound, name)
}

// JSON returns the binary info as JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}
