package ffmpeg

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingWriterReader(t *testing.T) {
	pm := NewProcessMonitor(os.Getpid())
	defer pm.Stop()

	var sink bytes.Buffer
	w := NewCountingWriter(&sink, pm)
	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = w.Write([]byte(" world"))
	require.NoError(t, err)

	r := NewCountingReader(strings.NewReader("abcdefgh"), pm)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(data))

	stats := pm.Stats()
	assert.Equal(t, uint64(11), stats.BytesWritten)
	assert.Equal(t, uint64(8), stats.BytesRead)
	assert.Equal(t, os.Getpid(), stats.PID)
}

func TestCountingWriter_NilMonitor(t *testing.T) {
	var sink bytes.Buffer
	n, err := NewCountingWriter(&sink, nil).Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestCountingWriterCloser(t *testing.T) {
	pm := NewProcessMonitor(os.Getpid())
	defer pm.Stop()

	rec := &closeRecorder{}
	wc := NewCountingWriterCloser(rec, pm)
	_, err := wc.Write([]byte("frame"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	assert.True(t, rec.closed)
	assert.Equal(t, "frame", rec.String())
	assert.Equal(t, uint64(5), pm.Stats().BytesWritten)
}

func TestProcessMonitor_SamplesSelf(t *testing.T) {
	pm := NewProcessMonitor(os.Getpid())
	pm.SetInterval(10 * time.Millisecond)
	pm.Start()
	time.Sleep(30 * time.Millisecond)
	pm.Stop()
	pm.Stop()

	stats := pm.Stats()
	assert.False(t, stats.LastUpdated.IsZero())
	assert.Positive(t, stats.Duration)
	assert.GreaterOrEqual(t, stats.MemoryPeakBytes, stats.MemoryRSSBytes)
}

func TestProcessStats_LogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("encoder exited", slog.Any("process", ProcessStats{
		PID:             42,
		MemoryPeakBytes: 3 << 20,
		BytesWritten:    2048,
	}))

	out := buf.String()
	assert.Contains(t, out, "process.pid=42")
	assert.Contains(t, out, `process.rss_peak="3.0 MiB"`)
	assert.Contains(t, out, `process.piped_in="2.0 KiB"`)
}
