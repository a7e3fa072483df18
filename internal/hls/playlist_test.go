package hls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalMediaPlaylist(t *testing.T) {
	segments := []Segment{
		{URI: "segment000.ts", Duration: time.Second},
		{URI: "segment001.ts", Duration: 1500 * time.Millisecond},
		{URI: "segment002.ts", Duration: 400 * time.Millisecond},
	}

	data, err := MarshalMediaPlaylist(segments)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "#EXTM3U"))
	assert.Contains(t, text, "#EXT-X-TARGETDURATION:2")
	assert.Contains(t, text, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, text, "#EXT-X-ENDLIST")

	parsed, err := playlist.Unmarshal(data)
	require.NoError(t, err)
	media, ok := parsed.(*playlist.Media)
	require.True(t, ok)
	require.Len(t, media.Segments, 3)
	assert.Equal(t, "segment001.ts", media.Segments[1].URI)
	assert.InDelta(t, 1.5, media.Segments[1].Duration.Seconds(), 0.001)
	assert.Equal(t, 2, media.TargetDuration)
}

func TestTargetDuration(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		want     int
	}{
		{"empty", nil, 1},
		{"short", []Segment{{Duration: 200 * time.Millisecond}}, 1},
		{"exact", []Segment{{Duration: 2 * time.Second}}, 2},
		{"rounds up", []Segment{{Duration: time.Second}, {Duration: 2100 * time.Millisecond}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, targetDuration(tt.segments))
		})
	}
}

func TestMarshalMasterPlaylist(t *testing.T) {
	variants := []Variant{
		{URI: "high/playlist.m3u8", Bandwidth: 2628000, Width: 1280, Height: 720, Codecs: []string{"avc1.42c01f", "mp4a.40.2"}},
		{URI: "medium/playlist.m3u8", Bandwidth: 1128000, Width: 854, Height: 480, Codecs: []string{"avc1.42c01f", "mp4a.40.2"}},
	}

	data, err := MarshalMasterPlaylist(variants)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "BANDWIDTH=2628000")
	assert.Contains(t, text, "RESOLUTION=1280x720")
	assert.Contains(t, text, "RESOLUTION=854x480")
	assert.Less(t, strings.Index(text, "high/playlist.m3u8"), strings.Index(text, "medium/playlist.m3u8"))

	parsed, err := playlist.Unmarshal(data)
	require.NoError(t, err)
	mv, ok := parsed.(*playlist.Multivariant)
	require.True(t, ok)
	require.Len(t, mv.Variants, 2)
	assert.Equal(t, 2628000, mv.Variants[0].Bandwidth)
	assert.Equal(t, []string{"avc1.42c01f", "mp4a.40.2"}, mv.Variants[0].Codecs)
}

func TestMarshalMasterPlaylist_Empty(t *testing.T) {
	_, err := MarshalMasterPlaylist(nil)
	assert.Error(t, err)
}

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.m3u8")

	err := WriteMasterPlaylist(path, []Variant{{URI: "high/playlist.m3u8", Bandwidth: 1000}})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}
