package transcode

import (
	"fmt"

	"github.com/jmylchreest/abrhls/internal/media"
)

// Selection holds the chosen input streams. Either pointer may be nil, but
// not both.
type Selection struct {
	Video *media.StreamInfo
	Audio *media.StreamInfo
}

// Routes reports whether packets of the given input stream are processed.
func (s Selection) Routes(index int) bool {
	return (s.Video != nil && s.Video.Index == index) || (s.Audio != nil && s.Audio.Index == index)
}

// SelectStreams picks the first video and the first audio stream in
// container order. Every other stream is ignored.
func SelectStreams(streams []media.StreamInfo) (Selection, error) {
	var sel Selection
	for i := range streams {
		s := streams[i]
		switch s.Type {
		case media.MediaTypeVideo:
			if sel.Video == nil {
				sel.Video = &s
			}
		case media.MediaTypeAudio:
			if sel.Audio == nil {
				sel.Audio = &s
			}
		}
	}
	if sel.Video == nil && sel.Audio == nil {
		return Selection{}, fmt.Errorf("%w: input has no audio or video stream", ErrNoUsableStreams)
	}
	return sel, nil
}
