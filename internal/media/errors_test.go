package media

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	_, statErr := os.Stat("/definitely/not/here")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil is success", nil, 0},
		{"again", ErrAgain, -11},
		{"wrapped eof", fmt.Errorf("reading: %w", ErrEOF), -541478725},
		{"encoder not found", ErrEncoderNotFound, -1129203192},
		{"decoder not found", ErrDecoderNotFound, -1128613112},
		{"stream not found", fmt.Errorf("selecting: %w", ErrStreamNotFound), -1381258232},
		{"invalid", ErrInvalid, -22},
		{"no memory", ErrNoMemory, -12},
		{"missing file", statErr, -2},
		{"explicit code wins", NewError(-5, "write", ErrInvalid), -5},
		{"unknown", errors.New("boom"), -1313558101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := NewError(StatusEncoderNotFound, "opening encoder libx264", ErrEncoderNotFound)
	assert.ErrorIs(t, err, ErrEncoderNotFound)
	assert.Equal(t, "opening encoder libx264: encoder not found", err.Error())
}

func TestFormats(t *testing.T) {
	assert.Equal(t, PixelFormatYUV420P, ParsePixelFormat("yuv420p"))
	assert.Equal(t, PixelFormatYUV420P, ParsePixelFormat("yuvj420p"))
	assert.Equal(t, PixelFormatNone, ParsePixelFormat("p010le"))
	assert.Equal(t, 640*360*3/2, PixelFormatYUV420P.FrameSize(640, 360))

	assert.Equal(t, SampleFormatFLTP, ParseSampleFormat("fltp"))
	assert.True(t, SampleFormatFLTP.IsPlanar())
	assert.Equal(t, SampleFormatFLT, SampleFormatFLTP.Packed())
	assert.Equal(t, 2, SampleFormatS16.BytesPerSample())
}

func TestNewAudioFrame(t *testing.T) {
	planar := NewAudioFrame(SampleFormatFLTP, 44100, 2, 1024)
	assert.Len(t, planar.Data, 2)
	assert.Len(t, planar.Data[1], 4096)

	packed := NewAudioFrame(SampleFormatS16, 48000, 2, 10)
	assert.Len(t, packed.Data, 1)
	assert.Len(t, packed.Data[0], 40)
	assert.Equal(t, NoPTS, packed.PTS)
}
