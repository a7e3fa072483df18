package ffmpeg

import (
	"fmt"

	"github.com/jmylchreest/abrhls/internal/media"
)

// rawDecoder reframes the raw pictures and samples produced by the input
// process. Each packet becomes exactly one frame.
type rawDecoder struct {
	stream  media.StreamInfo
	pending []*media.Frame
	eof     bool
}

func newRawDecoder(stream media.StreamInfo) (*rawDecoder, error) {
	switch stream.Type {
	case media.MediaTypeVideo:
		if stream.PixFmt != media.PixelFormatYUV420P || stream.Width <= 0 || stream.Height <= 0 {
			return nil, fmt.Errorf("%w: raw video %s %dx%d", media.ErrDecoderNotFound, stream.PixFmt, stream.Width, stream.Height)
		}
	case media.MediaTypeAudio:
		if stream.SampleFmt != media.SampleFormatFLT || stream.Channels <= 0 || stream.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: raw audio %s %dHz %dch", media.ErrDecoderNotFound, stream.SampleFmt, stream.SampleRate, stream.Channels)
		}
	default:
		return nil, fmt.Errorf("%w: %s stream %d", media.ErrDecoderNotFound, stream.Type, stream.Index)
	}
	return &rawDecoder{stream: stream}, nil
}

func (d *rawDecoder) SendPacket(pkt *media.Packet) error {
	if d.eof {
		return media.ErrEOF
	}
	if pkt == nil {
		d.eof = true
		return nil
	}

	var (
		f   *media.Frame
		err error
	)
	if d.stream.Type == media.MediaTypeVideo {
		f, err = d.videoFrame(pkt)
	} else {
		f, err = d.audioFrame(pkt)
	}
	if err != nil {
		return err
	}
	f.PTS = pkt.PTS
	f.TimeBase = pkt.TimeBase
	if !f.TimeBase.Valid() {
		f.TimeBase = d.stream.TimeBase
	}
	d.pending = append(d.pending, f)
	return nil
}

func (d *rawDecoder) videoFrame(pkt *media.Packet) (*media.Frame, error) {
	s := d.stream
	if want := s.PixFmt.FrameSize(s.Width, s.Height); len(pkt.Data) != want {
		return nil, media.NewError(media.StatusInvalidData, "decode video",
			fmt.Errorf("picture of %d bytes, want %d", len(pkt.Data), want))
	}

	f := &media.Frame{
		Type:   media.MediaTypeVideo,
		Width:  s.Width,
		Height: s.Height,
		PixFmt: s.PixFmt,
	}
	offset := 0
	for i := range s.PixFmt.PlaneCount() {
		w, h := s.PixFmt.PlaneSize(i, s.Width, s.Height)
		f.Data = append(f.Data, pkt.Data[offset:offset+w*h])
		f.Linesize = append(f.Linesize, w)
		offset += w * h
	}
	return f, nil
}

func (d *rawDecoder) audioFrame(pkt *media.Packet) (*media.Frame, error) {
	s := d.stream
	unit := s.Channels * s.SampleFmt.BytesPerSample()
	if len(pkt.Data) == 0 || len(pkt.Data)%unit != 0 {
		return nil, media.NewError(media.StatusInvalidData, "decode audio",
			fmt.Errorf("%d bytes is not a whole number of %d channel samples", len(pkt.Data), s.Channels))
	}
	return &media.Frame{
		Type:       media.MediaTypeAudio,
		SampleFmt:  s.SampleFmt,
		SampleRate: s.SampleRate,
		Channels:   s.Channels,
		NumSamples: len(pkt.Data) / unit,
		Data:       [][]byte{pkt.Data},
		Linesize:   []int{len(pkt.Data)},
	}, nil
}

func (d *rawDecoder) ReceiveFrame() (*media.Frame, error) {
	if len(d.pending) > 0 {
		f := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		return f, nil
	}
	if d.eof {
		return nil, media.ErrEOF
	}
	return nil, media.ErrAgain
}

func (d *rawDecoder) Close() error {
	d.pending = nil
	return nil
}
