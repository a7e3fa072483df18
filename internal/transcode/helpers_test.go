package transcode

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
	"github.com/jmylchreest/abrhls/internal/testutil"
)

const testInput = "input.mp4"

var smallTier = RenditionSpec{Name: "small", Width: 160, Height: 90, VideoBitrate: 500_000, AudioBitrate: 64_000}

func testLogger() *slog.Logger {
	return observability.NewDiscardLogger()
}

// fastOptions uses one-second GOPs so two seconds of input give two
// segments.
func fastOptions() Options {
	o := DefaultOptions()
	o.Video.GOPDuration = time.Second
	return o
}

func avLibrary() *testutil.Library {
	return testutil.NewLibrary(map[string]testutil.Source{
		testInput: {Video: testutil.DefaultVideo(), Audio: testutil.DefaultAudio(), Duration: 2 * time.Second},
	})
}

func readMediaPlaylist(t *testing.T, path string) *playlist.Media {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pl, err := playlist.Unmarshal(data)
	require.NoError(t, err)
	mp, ok := pl.(*playlist.Media)
	require.True(t, ok, "%s is not a media playlist", path)
	return mp
}

func playlistDuration(pl *playlist.Media) time.Duration {
	var total time.Duration
	for _, seg := range pl.Segments {
		total += seg.Duration
	}
	return total
}

// assertSegmentsExist checks every segment listed in dir's playlist is on disk.
func assertSegmentsExist(t *testing.T, dir string, pl *playlist.Media) {
	t.Helper()
	require.NotEmpty(t, pl.Segments)
	for _, seg := range pl.Segments {
		assert.FileExists(t, filepath.Join(dir, seg.URI))
	}
}

// assertTimestampsValid checks DTS strictly increases and PTS never
// precedes DTS.
func assertTimestampsValid(t *testing.T, pkts []media.Packet) {
	t.Helper()
	require.NotEmpty(t, pkts)
	for i, p := range pkts {
		assert.GreaterOrEqual(t, p.PTS, p.DTS, "packet %d", i)
		if i > 0 {
			assert.Greater(t, p.DTS, pkts[i-1].DTS, "packet %d", i)
		}
	}
}

func assertAllReleased(t *testing.T, lib *testutil.Library) {
	t.Helper()
	assert.Empty(t, lib.OpenHandles(), "handles left open")
	assert.Empty(t, lib.DoubleClosed(), "handles closed twice")
}

func encoderOf(t *testing.T, lib *testutil.Library, kind media.MediaType) *testutil.Encoder {
	t.Helper()
	for _, e := range lib.Encoders() {
		if e.Kind() == kind {
			return e
		}
	}
	require.FailNow(t, "no encoder", "kind %s", kind)
	return nil
}
