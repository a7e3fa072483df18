package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrhls/internal/config"
	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
	"github.com/jmylchreest/abrhls/internal/testutil"
	"github.com/jmylchreest/abrhls/internal/transcode"
)

const testInput = "input.mp4"

func newTestLibrary() *testutil.Library {
	return testutil.NewLibrary(map[string]testutil.Source{
		testInput: {Video: testutil.DefaultVideo(), Audio: testutil.DefaultAudio(), Duration: 2 * time.Second},
	})
}

func newTestService(lib media.Library) *ConversionService {
	opts := transcode.DefaultOptions()
	opts.Video.GOPDuration = time.Second
	return NewConversionService(lib, opts).WithLogger(observability.NewDiscardLogger())
}

func readPlaylist(t *testing.T, path string) playlist.Playlist {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pl, err := playlist.Unmarshal(data)
	require.NoError(t, err)
	return pl
}

func readMediaPlaylist(t *testing.T, path string) *playlist.Media {
	t.Helper()
	mp, ok := readPlaylist(t, path).(*playlist.Media)
	require.True(t, ok, "%s is not a media playlist", path)
	return mp
}

func TestConvertToHLS(t *testing.T) {
	lib := newTestLibrary()
	out := filepath.Join(t.TempDir(), "nested", "out")

	status := newTestService(lib).ConvertToHLS(context.Background(), testInput, out)
	require.Equal(t, 0, status)

	pl := readMediaPlaylist(t, filepath.Join(out, "playlist.m3u8"))
	require.NotEmpty(t, pl.Segments)
	assert.Equal(t, "segment000.ts", pl.Segments[0].URI)
	assert.FileExists(t, filepath.Join(out, "segment000.ts"))

	cfgs := lib.VideoConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, 480, cfgs[0].Width)
	assert.Equal(t, 270, cfgs[0].Height)
	assert.EqualValues(t, 1_000_000, cfgs[0].BitRate)
	assert.Empty(t, lib.OpenHandles())
}

func TestConvertToHLS_MissingInput(t *testing.T) {
	status := newTestService(newTestLibrary()).ConvertToHLS(context.Background(), "missing.mp4", t.TempDir())
	assert.Equal(t, media.StatusNoEntry, status)
}

func TestConvertToMultiQualityHLS(t *testing.T) {
	lib := newTestLibrary()
	out := t.TempDir()

	status := newTestService(lib).ConvertToMultiQualityHLS(context.Background(), testInput, out)
	require.Equal(t, 0, status)

	mv, ok := readPlaylist(t, filepath.Join(out, "master.m3u8")).(*playlist.Multivariant)
	require.True(t, ok)
	require.Len(t, mv.Variants, 2)
	assert.Equal(t, "high/playlist.m3u8", mv.Variants[0].URI)
	assert.Equal(t, "1280x720", mv.Variants[0].Resolution)
	assert.Equal(t, 2_500_000+128_000, mv.Variants[0].Bandwidth)
	assert.Equal(t, "medium/playlist.m3u8", mv.Variants[1].URI)
	assert.Equal(t, "854x480", mv.Variants[1].Resolution)

	assert.FileExists(t, filepath.Join(out, "high", "playlist.m3u8"))
	assert.FileExists(t, filepath.Join(out, "medium", "playlist.m3u8"))
}

// A tier whose encoder cannot be opened is left out of the master playlist
// and the run still succeeds.
func TestConvertToMultiQualityHLS_HighTierFails(t *testing.T) {
	lib := newTestLibrary()
	lib.VideoEncoderErr = func(cfg media.VideoEncoderConfig) error {
		if cfg.Width == transcode.TierHigh.Width {
			return media.NewError(media.StatusEncoderNotFound, "open encoder", media.ErrEncoderNotFound)
		}
		return nil
	}
	out := t.TempDir()

	status := newTestService(lib).ConvertToMultiQualityHLS(context.Background(), testInput, out)
	require.Equal(t, 0, status)

	mv, ok := readPlaylist(t, filepath.Join(out, "master.m3u8")).(*playlist.Multivariant)
	require.True(t, ok)
	require.Len(t, mv.Variants, 1)
	assert.Equal(t, "medium/playlist.m3u8", mv.Variants[0].URI)
	assert.NoFileExists(t, filepath.Join(out, "high", "playlist.m3u8"))
	assert.Empty(t, lib.OpenHandles())
}

func TestConvertToMultiQualityHLS_AllTiersFail(t *testing.T) {
	lib := newTestLibrary()
	lib.VideoEncoderErr = func(media.VideoEncoderConfig) error {
		return media.NewError(media.StatusEncoderNotFound, "open encoder", media.ErrEncoderNotFound)
	}
	out := t.TempDir()

	status := newTestService(lib).ConvertToMultiQualityHLS(context.Background(), testInput, out)
	assert.Equal(t, media.StatusEncoderNotFound, status)
	assert.NoFileExists(t, filepath.Join(out, "master.m3u8"))
}

func TestConvertToMediumHLS(t *testing.T) {
	lib := newTestLibrary()
	out := t.TempDir()

	require.Equal(t, 0, newTestService(lib).ConvertToMediumHLS(context.Background(), testInput, out))
	assert.FileExists(t, filepath.Join(out, "playlist.m3u8"))

	cfgs := lib.VideoConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, 854, cfgs[0].Width)
	assert.Equal(t, 480, cfgs[0].Height)
}

func TestConvertToMediumHLSWithResolution(t *testing.T) {
	lib := newTestLibrary()
	out := t.TempDir()

	status := newTestService(lib).ConvertToMediumHLSWithResolution(context.Background(), testInput, out, 640, 360)
	require.Equal(t, 0, status)

	cfgs := lib.VideoConfigs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, 640, cfgs[0].Width)
	assert.Equal(t, 360, cfgs[0].Height)
	assert.EqualValues(t, transcode.TierMedium.VideoBitrate, cfgs[0].BitRate)
}

func TestCreateSingleHLSStreamWithResolution(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		want   int
	}{
		{"valid", 256, 144, 0},
		{"odd size", 255, 144, media.StatusInvalid},
		{"zero size", 0, 0, media.StatusInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newTestLibrary()
			out := t.TempDir()

			status := newTestService(lib).CreateSingleHLSStreamWithResolution(context.Background(), testInput, out, tt.width, tt.height)
			assert.Equal(t, tt.want, status)
			if tt.want == 0 {
				assert.FileExists(t, filepath.Join(out, "playlist.m3u8"))
			} else {
				assert.NoFileExists(t, filepath.Join(out, "playlist.m3u8"))
			}
			assert.Empty(t, lib.OpenHandles())
		})
	}
}

func TestWithTiers_ReplacesMedium(t *testing.T) {
	medium := transcode.RenditionSpec{Name: "medium", Width: 640, Height: 360, VideoBitrate: 800_000, AudioBitrate: 96_000}
	svc := newTestService(newTestLibrary()).WithTiers([]transcode.RenditionSpec{transcode.TierHigh, medium})

	assert.Len(t, svc.Tiers(), 2)
	assert.Equal(t, medium, svc.medium)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.HLS.SegmentDuration = 4 * time.Second
	cfg.HLS.SegmentMaxSize = 2 << 20
	cfg.Transcode.DefaultFrameRate = "25/1"
	cfg.Transcode.Preset = "veryfast"
	cfg.Transcode.ScaleFilter = "catmull_rom"
	cfg.Renditions = []config.RenditionConfig{
		{Name: "low", Width: 640, Height: 360, VideoBitrate: 600_000, AudioBitrate: 64_000},
	}

	opts, tiers, err := OptionsFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, opts.SegmentDuration)
	assert.EqualValues(t, 2<<20, opts.SegmentMaxSize)
	assert.Equal(t, media.Rational{Num: 25, Den: 1}, opts.DefaultFrameRate)
	assert.Equal(t, "veryfast", opts.Video.Preset)
	assert.Equal(t, media.ScaleFilterCatmullRom, opts.ScaleFilter)
	assert.Equal(t, media.PixelFormatYUV420P, opts.Video.PixFmt)
	assert.Equal(t, media.SampleFormatFLTP, opts.Audio.SampleFmt)
	assert.Equal(t, 44100, opts.Audio.SampleRate)
	assert.Equal(t, 3, opts.AudioRingMultiple)

	require.Len(t, tiers, 1)
	assert.Equal(t, transcode.RenditionSpec{Name: "low", Width: 640, Height: 360, VideoBitrate: 600_000, AudioBitrate: 64_000}, tiers[0])
}

func TestOptionsFromConfig_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	opts, tiers, err := OptionsFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, transcode.DefaultOptions(), opts)
	assert.Equal(t, transcode.DefaultTiers(), tiers)
}

func TestOptionsFromConfig_BadFrameRate(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Transcode.DefaultFrameRate = "0/1"

	_, _, err = OptionsFromConfig(cfg)
	assert.ErrorIs(t, err, media.ErrInvalid)
}
