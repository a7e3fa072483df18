package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

const versionOutput = `ffmpeg version n7.1-3-g1234abcd Copyright (c) 2000-2024 the FFmpeg developers
built with gcc 14.2.1 (GCC) 20240910
configuration: --prefix=/usr --enable-gpl --enable-libx264
libavutil      59. 39.100 / 59. 39.100
`

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D mpeg2video           MPEG-2 video
 A....D aac                  AAC (Advanced Audio Coding)
 S..... srt                  SubRip subtitle
`

const probeOutput = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 600,
     "r_frame_rate": "90000/1", "time_base": "1/90000", "disposition": {"default": 0, "attached_pic": 1}},
    {"index": 1, "codec_name": "h264", "profile": "High", "codec_type": "video", "width": 1280, "height": 720,
     "pix_fmt": "yuv420p", "level": 31, "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001",
     "time_base": "1/90000", "start_pts": 0, "start_time": "0.000000", "duration_ts": 900900,
     "bit_rate": "2500000", "disposition": {"default": 1, "attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio", "sample_fmt": "fltp", "sample_rate": "48000",
     "channels": 2, "channel_layout": "stereo", "time_base": "1/48000", "duration_ts": 480000,
     "disposition": {"default": 1, "attached_pic": 0}},
    {"index": 3, "codec_name": "ac3", "codec_type": "audio", "sample_fmt": "fltp", "sample_rate": "44100",
     "channels": 6, "time_base": "1/44100"}
  ],
  "format": {"filename": "in.mkv", "nb_streams": 4, "format_name": "matroska,webm",
             "duration": "10.010000", "bit_rate": "2700000"}
}`

func TestParseVersion(t *testing.T) {
	info, err := parseVersion(versionOutput)
	require.NoError(t, err)

	assert.Equal(t, "n7.1-3-g1234abcd", info.Full)
	assert.Equal(t, 7, info.Major)
	assert.Equal(t, 1, info.Minor)
	assert.Equal(t, "gcc 14.2.1 (GCC) 20240910", info.BuildDate)
	assert.Contains(t, info.Configuration, "--enable-libx264")

	_, err = parseVersion("not ffmpeg at all\n")
	assert.Error(t, err)
}

func TestParseCodecList(t *testing.T) {
	names := parseCodecList(encodersOutput)
	assert.Equal(t, []string{"libx264", "mpeg2video", "aac", "srt"}, names)
	assert.Empty(t, parseCodecList("no separator here\n"))
}

func TestBinaryInfo_RequireEncoder(t *testing.T) {
	info := &BinaryInfo{Encoders: []string{"libx264", "aac"}, Decoders: []string{"h264"}}

	assert.NoError(t, info.RequireEncoder("libx264"))
	err := info.RequireEncoder("libx265")
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrEncoderNotFound)
	assert.Equal(t, media.StatusEncoderNotFound, media.Status(err))

	assert.NoError(t, info.RequireDecoder("h264"))
	assert.ErrorIs(t, info.RequireDecoder("vp9"), media.ErrDecoderNotFound)

	// An unknown capability list rejects nothing.
	assert.NoError(t, (&BinaryInfo{}).RequireEncoder("libx264"))
}

func TestBinaryInfo_SupportsMinVersion(t *testing.T) {
	info := &BinaryInfo{MajorVersion: 6, MinorVersion: 0}

	assert.True(t, info.SupportsMinVersion(5, 1))
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.False(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestBinaryInfo_JSON(t *testing.T) {
	info := &BinaryInfo{FFmpegPath: "/usr/bin/ffmpeg", Version: "7.1"}
	out := info.JSON()
	assert.Contains(t, out, `"ffmpeg_path": "/usr/bin/ffmpeg"`)
	assert.Contains(t, out, `"version": "7.1"`)
}

func TestBinaryDetector_MissingBinary(t *testing.T) {
	detector := NewBinaryDetector("/nonexistent/ffmpeg", "")

	_, err := detector.Detect(context.Background())
	require.Error(t, err)
	assert.Equal(t, media.StatusNoEntry, media.Status(err))
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)

	detector := NewBinaryDetector("", "").WithCacheTTL(time.Hour)

	info1, err := detector.Detect(context.Background())
	require.NoError(t, err)
	info2, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info1, info2)

	detector.Clear()
	info3, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, info1, info3)
	assert.Equal(t, info1.Version, info3.Version)
}

func TestParseProbeOutput(t *testing.T) {
	result, err := ParseProbeOutput([]byte(probeOutput))
	require.NoError(t, err)

	assert.InDelta(t, 10.01, result.Duration().Seconds(), 1e-6)

	streams := result.StreamInfos()
	require.Len(t, streams, 4)

	assert.Equal(t, media.MediaTypeData, streams[0].Type, "cover art is not video")

	v := streams[1]
	assert.Equal(t, media.MediaTypeVideo, v.Type)
	assert.Equal(t, "h264", v.Codec)
	assert.Equal(t, 1280, v.Width)
	assert.Equal(t, 720, v.Height)
	assert.Equal(t, media.PixelFormatYUV420P, v.PixFmt)
	assert.Equal(t, media.Rational{Num: 30000, Den: 1001}, v.FrameRate)
	assert.Equal(t, media.Rational{Num: 1, Den: 90000}, v.TimeBase)
	assert.Equal(t, int64(900900), v.Duration)
	assert.Equal(t, int64(2500000), v.BitRate)

	a := streams[2]
	assert.Equal(t, media.MediaTypeAudio, a.Type)
	assert.Equal(t, media.SampleFormatFLTP, a.SampleFmt)
	assert.Equal(t, 48000, a.SampleRate)
	assert.Equal(t, 2, a.Channels)

	assert.Equal(t, media.NoPTS, streams[3].Duration)

	_, err = ParseProbeOutput([]byte("{"))
	assert.Error(t, err)
}

func TestProbeStream_FrameRate(t *testing.T) {
	tests := []struct {
		name string
		r    string
		avg  string
		want media.Rational
	}{
		{"r_frame_rate", "25/1", "50/2", media.Rational{Num: 25, Den: 1}},
		{"falls back to average", "0/0", "24000/1001", media.Rational{Num: 24000, Den: 1001}},
		{"neither usable", "0/0", "", media.Rational{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ProbeStream{RFrameRate: tt.r, AvgFrameRate: tt.avg}
			assert.Equal(t, tt.want, s.FrameRate())
		})
	}
}

func TestDecodePlan(t *testing.T) {
	result, err := ParseProbeOutput([]byte(probeOutput))
	require.NoError(t, err)

	video, audio := decodePlan(result.StreamInfos())
	require.NotNil(t, video)
	require.NotNil(t, audio)

	assert.Equal(t, 1, video.Index)
	assert.Equal(t, media.Rational{Num: 1001, Den: 30000}, video.TimeBase)
	assert.Equal(t, media.PixelFormatYUV420P, video.PixFmt)
	assert.Equal(t, int64(300), video.Duration)

	assert.Equal(t, 2, audio.Index, "first audio stream wins")
	assert.Equal(t, media.Rational{Num: 1, Den: 48000}, audio.TimeBase)
	assert.Equal(t, media.SampleFormatFLT, audio.SampleFmt)
	assert.Equal(t, int64(480000), audio.Duration)
}

func TestDecodePlan_Defaults(t *testing.T) {
	video, audio := decodePlan([]media.StreamInfo{
		{Index: 0, Type: media.MediaTypeVideo, Width: 640, Height: 360, Duration: media.NoPTS},
		{Index: 1, Type: media.MediaTypeAudio, Duration: media.NoPTS},
	})
	require.NotNil(t, video)
	require.NotNil(t, audio)

	assert.Equal(t, media.Rational{Num: 1, Den: 30}, video.TimeBase)
	assert.Equal(t, defaultInputSampleRate, audio.SampleRate)
	assert.Equal(t, defaultInputChannels, audio.Channels)

	video, audio = decodePlan([]media.StreamInfo{{Index: 0, Type: media.MediaTypeSubtitle}})
	assert.Nil(t, video)
	assert.Nil(t, audio)
}

func TestDecodeArgs(t *testing.T) {
	video := &media.StreamInfo{Index: 1, Type: media.MediaTypeVideo, TimeBase: media.Rational{Num: 1001, Den: 30000}}
	audio := &media.StreamInfo{Index: 2, Type: media.MediaTypeAudio, SampleRate: 48000, Channels: 2}

	args := decodeArgs("ffmpeg", "in.mkv", video, audio, false).Args()
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-nostdin",
		"-noautorotate", "-i", "in.mkv",
		"-map", "0:1", "-fps_mode", "cfr", "-r", "30000/1001", "-pix_fmt", "yuv420p", "-f", "rawvideo", "pipe:3",
		"-map", "0:2", "-af", "aresample=async=1:first_pts=0", "-ar", "48000", "-ac", "2", "-f", "f32le", "pipe:4",
	}, args)

	t.Run("audio only uses fd 3", func(t *testing.T) {
		args := decodeArgs("ffmpeg", "in.mp3", nil, audio, false).Args()
		assert.Equal(t, "pipe:3", args[len(args)-1])
	})

	t.Run("old ffmpeg uses vsync", func(t *testing.T) {
		args := decodeArgs("ffmpeg", "in.mkv", video, nil, true).Args()
		assert.Contains(t, args, "-vsync")
		assert.NotContains(t, args, "-fps_mode")
	})
}

func TestEncodeArgs(t *testing.T) {
	cfg := media.VideoEncoderConfig{
		Codec:      "h264",
		Width:      1280,
		Height:     720,
		BitRate:    2_500_000,
		GOPSize:    60,
		MaxBFrames: 2,
		Preset:     "medium",
		Tune:       "zerolatency",
		Profile:    "baseline",
		Level:      "3.1",
	}
	args := videoEncodeArgs("ffmpeg", cfg, media.Rational{Num: 30, Den: 1}, 4).Args()
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-nostdin",
		"-f", "rawvideo", "-pix_fmt", "yuv420p", "-video_size", "1280x720", "-framerate", "30/1",
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "medium", "-tune", "zerolatency",
		"-profile:v", "baseline", "-level:v", "3.1", "-b:v", "2500000",
		"-g", "60", "-keyint_min", "60", "-sc_threshold", "0", "-bf", "2", "-threads", "4",
		"-f", "mpegts", "-muxdelay", "0", "-muxpreload", "0", "pipe:1",
	}, args)

	audioArgs := audioEncodeArgs("ffmpeg", media.AudioEncoderConfig{
		Codec: "aac", SampleRate: 44100, Channels: 2, BitRate: 128_000,
	}, 0).Args()
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-nostdin",
		"-f", "f32le", "-ar", "44100", "-ac", "2",
		"-i", "pipe:0",
		"-c:a", "aac", "-b:a", "128000",
		"-f", "mpegts", "-muxdelay", "0", "-muxpreload", "0", "pipe:1",
	}, audioArgs)
}

func TestCommandBuilder_Overwrite(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		LogLevel("warning").
		Overwrite().
		Input("in.ts").
		Output("out.ts", "-c", "copy").
		Build(context.Background())

	assert.Equal(t, []string{"-loglevel", "warning", "-y", "-i", "in.ts", "-c", "copy", "out.ts"}, cmd.Args)
	assert.Equal(t, "/usr/bin/ffmpeg -loglevel warning -y -i in.ts -c copy out.ts", cmd.String())
	assert.Zero(t, cmd.Duration())
	assert.NoError(t, cmd.Kill(), "killing an unstarted command is a no-op")
}

func TestStderrRing(t *testing.T) {
	r := &stderrRing{}
	_, _ = r.Write([]byte("first line\nsecond"))
	_, _ = r.Write([]byte(" half\n\n  \nunterminated"))

	assert.Equal(t, []string{"first line", "second half", "unterminated"}, r.Lines())

	for i := range maxStderrLines + 10 {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	lines := r.Lines()
	assert.Len(t, lines, maxStderrLines)
	assert.Equal(t, "line 10", lines[0])
}

func TestCommand_WaitReportsStderr(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	c := &Command{Binary: sh, Args: []string{"-c", "echo 'Unknown encoder libfoo' >&2; exit 3"}, stderr: &stderrRing{}}
	c.cmd = exec.Command(sh, c.Args...)
	c.cmd.Stderr = c.stderr

	require.NoError(t, c.Start())
	err = c.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown encoder libfoo")
	assert.Equal(t, err, c.Wait(), "wait is idempotent")
	assert.NotNil(t, c.Monitor())
}

func TestRawDecoder_Video(t *testing.T) {
	stream := media.StreamInfo{
		Index:    0,
		Type:     media.MediaTypeVideo,
		Width:    4,
		Height:   2,
		PixFmt:   media.PixelFormatYUV420P,
		TimeBase: media.Rational{Num: 1, Den: 25},
	}
	dec, err := newRawDecoder(stream)
	require.NoError(t, err)

	_, err = dec.ReceiveFrame()
	assert.ErrorIs(t, err, media.ErrAgain)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	require.NoError(t, dec.SendPacket(&media.Packet{PTS: 7, Data: data}))

	f, err := dec.ReceiveFrame()
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.PTS)
	assert.Equal(t, stream.TimeBase, f.TimeBase, "stream time base fills in")
	require.Len(t, f.Data, 3)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, f.Data[0])
	assert.Equal(t, []byte{9, 10}, f.Data[1])
	assert.Equal(t, []byte{11, 12}, f.Data[2])
	assert.Equal(t, []int{4, 2, 2}, f.Linesize)

	err = dec.SendPacket(&media.Packet{Data: data[:11]})
	require.Error(t, err)
	assert.Equal(t, media.StatusInvalidData, media.Status(err))

	require.NoError(t, dec.SendPacket(nil))
	_, err = dec.ReceiveFrame()
	assert.ErrorIs(t, err, media.ErrEOF)
	assert.ErrorIs(t, dec.SendPacket(&media.Packet{Data: data}), media.ErrEOF)
}

func TestRawDecoder_Audio(t *testing.T) {
	stream := media.StreamInfo{
		Type:       media.MediaTypeAudio,
		SampleFmt:  media.SampleFormatFLT,
		SampleRate: 48000,
		Channels:   2,
		TimeBase:   media.Rational{Num: 1, Den: 48000},
	}
	dec, err := newRawDecoder(stream)
	require.NoError(t, err)

	require.NoError(t, dec.SendPacket(&media.Packet{PTS: 1024, TimeBase: stream.TimeBase, Data: make([]byte, 16)}))
	f, err := dec.ReceiveFrame()
	require.NoError(t, err)
	assert.Equal(t, 2, f.NumSamples)
	assert.Equal(t, media.SampleFormatFLT, f.SampleFmt)
	assert.Equal(t, int64(1024), f.PTS)

	assert.Error(t, dec.SendPacket(&media.Packet{Data: make([]byte, 6)}))
}

func TestNewRawDecoder_Unsupported(t *testing.T) {
	tests := []media.StreamInfo{
		{Type: media.MediaTypeSubtitle},
		{Type: media.MediaTypeVideo, Width: 4, Height: 2, PixFmt: media.PixelFormatNV12},
		{Type: media.MediaTypeAudio, SampleFmt: media.SampleFormatS16, SampleRate: 48000, Channels: 2},
	}
	for _, stream := range tests {
		_, err := newRawDecoder(stream)
		assert.ErrorIs(t, err, media.ErrDecoderNotFound)
		assert.Equal(t, media.StatusDecoderNotFound, media.Status(err))
	}
}

func TestPackPicture_DropsPadding(t *testing.T) {
	params := media.CodecParams{Width: 4, Height: 2, PixFmt: media.PixelFormatYUV420P}
	f := &media.Frame{
		Width:  4,
		Height: 2,
		PixFmt: media.PixelFormatYUV420P,
		Data: [][]byte{
			{1, 2, 3, 4, 0, 0, 5, 6, 7, 8, 0, 0},
			{9, 10, 0},
			{11, 12, 0},
		},
		Linesize: []int{6, 3, 3},
	}

	out, err := packPicture(nil, f, params)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, out)

	f.Width = 8
	_, err = packPicture(nil, f, params)
	assert.ErrorIs(t, err, media.ErrInvalid)
}

func TestPackSamples_Interleaves(t *testing.T) {
	params := media.CodecParams{SampleFmt: media.SampleFormatFLTP, SampleRate: 44100, Channels: 2}
	f := &media.Frame{
		SampleFmt:  media.SampleFormatFLTP,
		SampleRate: 44100,
		Channels:   2,
		NumSamples: 2,
		Data: [][]byte{
			{0xA0, 0xA1, 0xA2, 0xA3, 0xB0, 0xB1, 0xB2, 0xB3},
			{0xC0, 0xC1, 0xC2, 0xC3, 0xD0, 0xD1, 0xD2, 0xD3},
		},
	}

	out, err := packSamples(nil, f, params)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0xA0, 0xA1, 0xA2, 0xA3, 0xC0, 0xC1, 0xC2, 0xC3,
		0xB0, 0xB1, 0xB2, 0xB3, 0xD0, 0xD1, 0xD2, 0xD3,
	}, out)

	f.SampleRate = 48000
	_, err = packSamples(nil, f, params)
	assert.ErrorIs(t, err, media.ErrInvalid)
}

func newTestEncoder(params media.CodecParams) *pipeEncoder {
	e := &pipeEncoder{
		params:     params,
		lastPTS:    media.NoPTS,
		readerDone: make(chan struct{}),
		logger:     observability.NewDiscardLogger(),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func TestPipeEncoder_VideoTimestamps(t *testing.T) {
	e := newTestEncoder(media.CodecParams{
		Type:      media.MediaTypeVideo,
		Codec:     "h264",
		TimeBase:  media.Rational{Num: 1, Den: 30},
		FrameRate: media.Rational{Num: 30, Den: 1},
	})
	// Frames 10, 11 and 13 were sent; 12 is a gap in the input clock.
	e.sentPTS = []int64{10, 11, 13}
	e.firstPTS = 10
	e.havePTS = true

	idr := [][]byte{{0x65, 0x88, 0x84}}
	slice := [][]byte{{0x41, 0x9a}}

	require.NoError(t, e.onH264(126000, 123000, idr))
	require.NoError(t, e.onH264(132000, 129000, slice))
	require.NoError(t, e.onH264(141000, 138000, slice))

	first, err := e.ReceivePacket()
	require.NoError(t, err)
	assert.Equal(t, int64(10), first.PTS)
	assert.Equal(t, int64(9), first.DTS)
	assert.True(t, first.Keyframe)
	assert.Equal(t, int64(1), first.Duration)
	assert.Equal(t, media.Rational{Num: 1, Den: 30}, first.TimeBase)
	assert.True(t, bytes.HasSuffix(first.Data, []byte{0x65, 0x88, 0x84}))

	second, err := e.ReceivePacket()
	require.NoError(t, err)
	assert.Equal(t, int64(13), second.PTS, "third frame sent carries the input's gap")
	assert.Equal(t, int64(12), second.DTS)
	assert.False(t, second.Keyframe)

	third, err := e.ReceivePacket()
	require.NoError(t, err)
	assert.Equal(t, int64(15), third.PTS, "units beyond the sent frames extrapolate")

	_, err = e.ReceivePacket()
	assert.ErrorIs(t, err, media.ErrAgain)
}

func TestPipeEncoder_AudioTimestamps(t *testing.T) {
	e := newTestEncoder(media.CodecParams{
		Type:       media.MediaTypeAudio,
		Codec:      "aac",
		SampleRate: 44100,
		Channels:   2,
		FrameSize:  aacFrameSize,
		TimeBase:   media.Rational{Num: 1, Den: 44100},
	})
	e.firstPTS = 1000
	e.havePTS = true

	require.NoError(t, e.onMPEG4Audio(5000, [][]byte{{0x21}, {0x22}}))
	require.NoError(t, e.onMPEG4Audio(5000+4180, [][]byte{{0x23}}))

	var pts []int64
	for {
		pkt, err := e.ReceivePacket()
		if errors.Is(err, media.ErrAgain) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, int64(aacFrameSize), pkt.Duration)
		assert.Equal(t, pkt.PTS, pkt.DTS)
		pts = append(pts, pkt.PTS)
	}
	assert.Equal(t, []int64{1000, 2024, 3048}, pts)
}

func TestPipeEncoder_ReceiveAfterFlush(t *testing.T) {
	e := newTestEncoder(media.CodecParams{Type: media.MediaTypeAudio, SampleRate: 44100, TimeBase: media.Rational{Num: 1, Den: 44100}})
	e.flushing = true

	go func() {
		time.Sleep(10 * time.Millisecond)
		e.mu.Lock()
		e.push(&media.Packet{PTS: 0, Data: []byte{1}})
		e.done = true
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	pkt, err := e.ReceivePacket()
	require.NoError(t, err, "flushing waits for output instead of returning ErrAgain")
	assert.Equal(t, []byte{1}, pkt.Data)

	_, err = e.ReceivePacket()
	assert.ErrorIs(t, err, media.ErrEOF)

	e.err = errors.New("aac encoder: exit status 1")
	_, err = e.ReceivePacket()
	assert.EqualError(t, err, "aac encoder: exit status 1")
}

func TestLibrary_RejectsUnsupportedCodecs(t *testing.T) {
	lib := NewLibrary(Options{FFmpegPath: "/nonexistent/ffmpeg", Logger: observability.NewDiscardLogger()})

	_, err := lib.NewVideoEncoder(media.VideoEncoderConfig{Codec: "hevc", Width: 64, Height: 64, PixFmt: media.PixelFormatYUV420P})
	assert.ErrorIs(t, err, media.ErrEncoderNotFound)

	_, err = lib.NewAudioEncoder(media.AudioEncoderConfig{Codec: "opus", SampleFmt: media.SampleFormatFLTP, SampleRate: 48000, Channels: 2})
	assert.ErrorIs(t, err, media.ErrEncoderNotFound)

	_, err = lib.NewAudioEncoder(media.AudioEncoderConfig{Codec: "aac", SampleFmt: media.SampleFormatS16, SampleRate: 48000, Channels: 2})
	assert.ErrorIs(t, err, media.ErrInvalid)

	_, err = lib.NewVideoEncoder(media.VideoEncoderConfig{Codec: "h264", Width: 64, Height: 64, PixFmt: media.PixelFormatYUV420P})
	assert.ErrorIs(t, err, media.ErrInvalid, "no usable frame rate")

	_, err = lib.NewDecoder(media.StreamInfo{Type: media.MediaTypeSubtitle})
	assert.ErrorIs(t, err, media.ErrDecoderNotFound)

	_, err = lib.OpenInput(context.Background(), "in.mp4")
	assert.Equal(t, media.StatusNoEntry, media.Status(err))
}

// makeTestInput renders a short clip with a test pattern and a tone.
func makeTestInput(t *testing.T, ffmpegPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	cmd := exec.Command(ffmpegPath,
		"-y", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=duration=1:frequency=440:sample_rate=48000",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not create test input: %v: %s", err, out)
	}
	return path
}

func TestIntegration_OpenInput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)
	input := makeTestInput(t, ffmpegPath)

	lib := NewLibrary(Options{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: observability.NewDiscardLogger()})
	d, err := lib.OpenInput(context.Background(), input)
	require.NoError(t, err)
	defer d.Close()

	assert.InDelta(t, time.Second.Seconds(), d.Duration().Seconds(), 0.1)

	var videoIdx, audioIdx = -1, -1
	for _, s := range d.Streams() {
		switch s.Type {
		case media.MediaTypeVideo:
			videoIdx = s.Index
			assert.Equal(t, 320, s.Width)
			assert.Equal(t, media.Rational{Num: 1, Den: 30}, s.TimeBase)
		case media.MediaTypeAudio:
			audioIdx = s.Index
			assert.Equal(t, 48000, s.SampleRate)
		}
	}
	require.GreaterOrEqual(t, videoIdx, 0)
	require.GreaterOrEqual(t, audioIdx, 0)

	var pictures int
	var samples int64
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, media.ErrEOF) {
			break
		}
		require.NoError(t, err)
		if pkt.StreamIndex == videoIdx {
			pictures++
		} else {
			samples += pkt.Duration
		}
	}
	assert.InDelta(t, 30, pictures, 2)
	assert.InDelta(t, 48000, samples, 4096)

	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close())
}

func TestIntegration_VideoEncoderRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ffmpegPath := skipIfNoFFmpeg(t)

	lib := NewLibrary(Options{FFmpegPath: ffmpegPath, Logger: observability.NewDiscardLogger()})
	info, err := lib.Info(context.Background())
	require.NoError(t, err)
	if !info.HasEncoder("libx264") {
		t.Skip("ffmpeg built without libx264")
	}

	enc, err := lib.NewVideoEncoder(media.VideoEncoderConfig{
		Codec:     "h264",
		Width:     64,
		Height:    48,
		PixFmt:    media.PixelFormatYUV420P,
		BitRate:   200_000,
		TimeBase:  media.Rational{Num: 1, Den: 30},
		FrameRate: media.Rational{Num: 30, Den: 1},
		GOPSize:   30,
		Preset:    "ultrafast",
	})
	require.NoError(t, err)
	defer enc.Close()

	for i := range 10 {
		f := media.NewVideoFrame(64, 48, media.PixelFormatYUV420P)
		f.PTS = int64(100 + i)
		require.NoError(t, enc.SendFrame(f))
	}
	require.NoError(t, enc.SendFrame(nil))

	seen := map[int64]bool{}
	first := true
	for {
		pkt, err := enc.ReceivePacket()
		if errors.Is(err, media.ErrEOF) {
			break
		}
		require.NoError(t, err)
		if first {
			assert.True(t, pkt.Keyframe)
			first = false
		}
		seen[pkt.PTS] = true
	}
	assert.Len(t, seen, 10)
	for i := range 10 {
		assert.True(t, seen[int64(100+i)], "pts %d", 100+i)
	}
}
