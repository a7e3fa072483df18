package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/jmylchreest/abrhls/internal/media"
)

// ProbeResult contains the complete ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"` // video, audio, subtitle, data
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	Level         int               `json:"level,omitempty"`
	SampleFmt     string            `json:"sample_fmt,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	TimeBase      string            `json:"time_base,omitempty"`
	StartPts      int64             `json:"start_pts,omitempty"`
	StartTime     string            `json:"start_time,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	DurationTs    int64             `json:"duration_ts,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Disposition   ProbeDisposition  `json:"disposition,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains the stream disposition flags that matter when
// choosing streams.
type ProbeDisposition struct {
	Default     int `json:"default"`
	AttachedPic int `json:"attached_pic"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new stream prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout. Non-positive values are ignored.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

// Probe runs ffprobe against a file and parses its JSON report.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, media.NewError(media.StatusInvalidData, "probe "+path,
				fmt.Errorf("ffprobe failed: %s", firstLine(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput decodes ffprobe's JSON report.
func ParseProbeOutput(output []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Duration returns the container duration, zero when unknown.
func (r *ProbeResult) Duration() time.Duration {
	return parseSeconds(r.Format.Duration)
}

// StreamInfos converts every stream to the pipeline's description, in
// container order. Cover art is reported as data so it is never chosen as
// the video stream.
func (r *ProbeResult) StreamInfos() []media.StreamInfo {
	streams := make([]media.StreamInfo, 0, len(r.Streams))
	for _, s := range r.Streams {
		streams = append(streams, s.StreamInfo())
	}
	return streams
}

// StreamInfo converts the probe report of one stream.
func (s *ProbeStream) StreamInfo() media.StreamInfo {
	info := media.StreamInfo{
		Index:     s.Index,
		Type:      media.ParseMediaType(s.CodecType),
		Codec:     s.CodecName,
		Duration:  media.NoPTS,
		StartTime: media.NoPTS,
	}
	if info.Type == media.MediaTypeVideo && s.Disposition.AttachedPic == 1 {
		info.Type = media.MediaTypeData
	}

	if tb, err := media.ParseRational(s.TimeBase); err == nil && tb.Valid() {
		info.TimeBase = tb
	}
	if s.DurationTs > 0 && info.TimeBase.Valid() {
		info.Duration = s.DurationTs
	}
	if s.StartTime != "" && info.TimeBase.Valid() {
		info.StartTime = s.StartPts
	}
	if s.BitRate != "" {
		info.BitRate, _ = strconv.ParseInt(s.BitRate, 10, 64)
	}

	switch info.Type {
	case media.MediaTypeVideo:
		info.Width = s.Width
		info.Height = s.Height
		info.PixFmt = media.ParsePixelFormat(s.PixFmt)
		info.FrameRate = s.FrameRate()
	case media.MediaTypeAudio:
		info.SampleFmt = media.ParseSampleFormat(s.SampleFmt)
		info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		info.Channels = s.Channels
	}
	return info
}

// FrameRate prefers r_frame_rate and falls back to avg_frame_rate. The
// zero Rational means neither was usable.
func (s *ProbeStream) FrameRate() media.Rational {
	for _, v := range []string{s.RFrameRate, s.AvgFrameRate} {
		if r, err := media.ParseRational(v); err == nil && r.Valid() {
			return r
		}
	}
	return media.Rational{}
}

func parseSeconds(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func firstLine(b []byte) string {
	for i, c := range b {
		if c == '\n' {
			return string(b[:i])
		}
	}
	return string(b)
}
