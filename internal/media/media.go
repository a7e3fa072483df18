// Package media defines the types shared by the transcoding pipeline and the
// capability surface it needs from a codec library: demuxing, decoding,
// encoding, picture scaling, audio resampling and muxing.
package media

import (
	"context"
	"io"
	"time"
)

// Demuxer reads compressed packets from an input container.
type Demuxer interface {
	// Streams lists the input streams in container order.
	Streams() []StreamInfo
	// Duration is the container duration, zero when unknown.
	Duration() time.Duration
	// ReadPacket returns the next packet, or ErrEOF at end of input.
	ReadPacket() (*Packet, error)
	io.Closer
}

// Decoder turns packets into frames. ReceiveFrame returns ErrAgain when it
// needs more input and ErrEOF once a nil packet has been sent and every
// frame has been returned.
type Decoder interface {
	SendPacket(pkt *Packet) error
	ReceiveFrame() (*Frame, error)
	io.Closer
}

// Encoder turns frames into packets. SendFrame returns ErrAgain when the
// encoder cannot accept input until packets are received. A nil frame starts
// flushing, after which ReceivePacket ends with ErrEOF.
type Encoder interface {
	Params() CodecParams
	SendFrame(frame *Frame) error
	ReceivePacket() (*Packet, error)
	io.Closer
}

// Scaler converts pictures between sizes and pixel formats.
type Scaler interface {
	Scale(src *Frame) (*Frame, error)
	io.Closer
}

// Resampler converts audio between sample formats, rates and channel
// counts. It may buffer internally, so output sample counts need not match
// input sample counts.
type Resampler interface {
	Convert(src *Frame) (*Frame, error)
	io.Closer
}

// Muxer writes packets into an output container. Streams are added before
// WriteHeader; after WriteHeader each stream has its final time base.
type Muxer interface {
	AddStream(params CodecParams) (int, error)
	WriteHeader() error
	TimeBase(stream int) Rational
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	io.Closer
}

// CodecReporter is implemented by muxers that learn RFC 6381 codec strings
// from the bitstream.
type CodecReporter interface {
	Codecs() []string
}

// Library opens the media components used by one rendition run.
type Library interface {
	OpenInput(ctx context.Context, path string) (Demuxer, error)
	NewDecoder(stream StreamInfo) (Decoder, error)
	NewVideoEncoder(cfg VideoEncoderConfig) (Encoder, error)
	NewAudioEncoder(cfg AudioEncoderConfig) (Encoder, error)
	NewScaler(cfg ScalerConfig) (Scaler, error)
	NewResampler(cfg ResamplerConfig) (Resampler, error)
	NewMuxer(cfg MuxerConfig) (Muxer, error)
}
