package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrhls/internal/media"
)

var largeTier = RenditionSpec{Name: "large", Width: 320, Height: 180, VideoBitrate: 900_000, AudioBitrate: 96_000}

func readMaster(t *testing.T, path string) *playlist.Multivariant {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pl, err := playlist.Unmarshal(data)
	require.NoError(t, err)
	mv, ok := pl.(*playlist.Multivariant)
	require.True(t, ok, "%s is not a master playlist", path)
	return mv
}

func TestOrchestrator_AllTiersSucceed(t *testing.T) {
	lib := avLibrary()
	out := t.TempDir()

	o := NewOrchestrator(lib, fastOptions(), testLogger())
	results, err := o.Run(context.Background(), testInput, out, []RenditionSpec{largeTier, smallTier})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		assert.True(t, res.Succeeded, res.Name)
		assert.Empty(t, res.Error)
		assert.Equal(t, filepath.ToSlash(filepath.Join(res.Name, DefaultPlaylistName)), res.Playlist)
		assert.NotEmpty(t, res.Codecs)
		assert.Positive(t, res.Stats.Video.Packets)

		pl := readMediaPlaylist(t, filepath.Join(out, res.Name, DefaultPlaylistName))
		assertSegmentsExist(t, filepath.Join(out, res.Name), pl)
	}

	mv := readMaster(t, filepath.Join(out, DefaultMasterPlaylistName))
	require.Len(t, mv.Variants, 2)
	assert.Equal(t, "large/playlist.m3u8", mv.Variants[0].URI)
	assert.Equal(t, 996_000, mv.Variants[0].Bandwidth)
	assert.Equal(t, "320x180", mv.Variants[0].Resolution)
	assert.Equal(t, "small/playlist.m3u8", mv.Variants[1].URI)
	assert.Equal(t, 564_000, mv.Variants[1].Bandwidth)

	assertAllReleased(t, lib)
}

func TestOrchestrator_FailedTierLeftOutOfMaster(t *testing.T) {
	lib := avLibrary()
	lib.VideoEncoderErr = func(cfg media.VideoEncoderConfig) error {
		if cfg.Width == largeTier.Width {
			return media.NewError(media.StatusEncoderNotFound, "open encoder", media.ErrEncoderNotFound)
		}
		return nil
	}
	out := t.TempDir()

	o := NewOrchestrator(lib, fastOptions(), testLogger())
	results, err := o.Run(context.Background(), testInput, out, []RenditionSpec{largeTier, smallTier})
	require.NoError(t, err, "one surviving tier is enough")
	require.Len(t, results, 2)

	assert.False(t, results[0].Succeeded)
	assert.ErrorIs(t, results[0].Err, media.ErrEncoderNotFound)
	assert.NotEmpty(t, results[0].Error)
	assert.True(t, results[1].Succeeded)

	mv := readMaster(t, filepath.Join(out, DefaultMasterPlaylistName))
	require.Len(t, mv.Variants, 1)
	assert.Equal(t, "small/playlist.m3u8", mv.Variants[0].URI)

	assert.NoFileExists(t, filepath.Join(out, "large", DefaultPlaylistName))
	assertAllReleased(t, lib)
}

func TestOrchestrator_AllTiersFail(t *testing.T) {
	lib := avLibrary()
	lib.VideoEncoderErr = func(media.VideoEncoderConfig) error {
		return media.NewError(media.StatusEncoderNotFound, "open encoder", media.ErrEncoderNotFound)
	}
	out := t.TempDir()

	o := NewOrchestrator(lib, fastOptions(), testLogger())
	results, err := o.Run(context.Background(), testInput, out, []RenditionSpec{largeTier, smallTier})
	require.ErrorIs(t, err, ErrAllRenditionsFailed)
	assert.ErrorIs(t, err, media.ErrEncoderNotFound)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.Succeeded)
	}
	assert.NoFileExists(t, filepath.Join(out, DefaultMasterPlaylistName))
	assertAllReleased(t, lib)
}

func TestOrchestrator_RejectsBadTierLists(t *testing.T) {
	o := NewOrchestrator(avLibrary(), fastOptions(), testLogger())
	ctx := context.Background()

	_, err := o.Run(ctx, testInput, t.TempDir(), nil)
	assert.ErrorIs(t, err, media.ErrInvalid)

	_, err = o.Run(ctx, testInput, t.TempDir(), []RenditionSpec{smallTier, smallTier})
	assert.ErrorIs(t, err, media.ErrInvalid)

	unnamed := smallTier
	unnamed.Name = ""
	_, err = o.Run(ctx, testInput, t.TempDir(), []RenditionSpec{unnamed})
	assert.ErrorIs(t, err, media.ErrInvalid)
}
