package transcode

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/abrhls/internal/media"
)

var (
	// ErrNoUsableStreams is returned when the input has neither audio nor video.
	ErrNoUsableStreams = fmt.Errorf("no usable streams: %w", media.ErrStreamNotFound)

	// ErrAudioRingOverflow is returned when converted audio does not fit in
	// the accumulator.
	ErrAudioRingOverflow = fmt.Errorf("audio ring overflow: %w", media.ErrBufferTooSmall)

	// ErrInvalidFrameSize is returned when an audio encoder reports a frame
	// size that is not positive.
	ErrInvalidFrameSize = fmt.Errorf("invalid encoder frame size: %w", media.ErrInvalid)

	// ErrAllRenditionsFailed is returned by the orchestrator when no tier
	// produced output.
	ErrAllRenditionsFailed = errors.New("all renditions failed")
)
