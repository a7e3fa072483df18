package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jmylchreest/abrhls/internal/media"
)

// decodeSamples unpacks an audio frame into one float64 slice per channel.
func decodeSamples(f *media.Frame) ([][]float64, error) {
	bps := f.SampleFmt.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("unsupported sample format %s: %w", f.SampleFmt, media.ErrInvalid)
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d: %w", f.Channels, media.ErrInvalid)
	}

	planar := f.SampleFmt.IsPlanar()
	if planar && len(f.Data) < f.Channels {
		return nil, fmt.Errorf("frame has %d planes for %d channels: %w", len(f.Data), f.Channels, media.ErrInvalidData)
	}
	if !planar && len(f.Data) < 1 {
		return nil, fmt.Errorf("frame has no data: %w", media.ErrInvalidData)
	}

	out := make([][]float64, f.Channels)
	for c := range out {
		out[c] = make([]float64, f.NumSamples)
	}

	for c := range f.Channels {
		for i := range f.NumSamples {
			var b []byte
			if planar {
				off := i * bps
				if off+bps > len(f.Data[c]) {
					return nil, fmt.Errorf("plane %d shorter than %d samples: %w", c, f.NumSamples, media.ErrInvalidData)
				}
				b = f.Data[c][off : off+bps]
			} else {
				off := (i*f.Channels + c) * bps
				if off+bps > len(f.Data[0]) {
					return nil, fmt.Errorf("interleaved plane shorter than %d samples: %w", f.NumSamples, media.ErrInvalidData)
				}
				b = f.Data[0][off : off+bps]
			}
			out[c][i] = sampleValue(f.SampleFmt.Packed(), b)
		}
	}
	return out, nil
}

func sampleValue(format media.SampleFormat, b []byte) float64 {
	switch format {
	case media.SampleFormatU8:
		return (float64(b[0]) - 128) / 128
	case media.SampleFormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case media.SampleFormatS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	case media.SampleFormatFLT:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case media.SampleFormatDBL:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

// encodeSamples packs per-channel samples into a frame of the given format.
// Non-finite samples are written as silence.
func encodeSamples(chans [][]float64, format media.SampleFormat, sampleRate int) *media.Frame {
	n := 0
	if len(chans) > 0 {
		n = len(chans[0])
	}
	f := media.NewAudioFrame(format, sampleRate, len(chans), n)
	bps := format.BytesPerSample()
	planar := format.IsPlanar()
	packed := format.Packed()

	for c, samples := range chans {
		for i, v := range samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			var b []byte
			if planar {
				b = f.Data[c][i*bps : (i+1)*bps]
			} else {
				off := (i*len(chans) + c) * bps
				b = f.Data[0][off : off+bps]
			}
			putSample(packed, b, v)
		}
	}
	return f
}

func putSample(format media.SampleFormat, b []byte, v float64) {
	switch format {
	case media.SampleFormatU8:
		b[0] = uint8(clampInt(math.Round(v*128)+128, 0, 255))
	case media.SampleFormatS16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampInt(math.Round(v*32768), math.MinInt16, math.MaxInt16))))
	case media.SampleFormatS32:
		binary.LittleEndian.PutUint32(b, uint32(int32(clampInt(math.Round(v*2147483648), math.MinInt32, math.MaxInt32))))
	case media.SampleFormatFLT:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case media.SampleFormatDBL:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func clampInt(v, lo, hi float64) int64 {
	if v < lo {
		return int64(lo)
	}
	if v > hi {
		return int64(hi)
	}
	return int64(v)
}

// remixChannels maps in to outChannels channels. Mono is duplicated, extra
// channels are folded into the first two by parity, and missing channels
// beyond stereo are silent.
func remixChannels(in [][]float64, outChannels int) [][]float64 {
	if len(in) == outChannels {
		return in
	}
	n := 0
	if len(in) > 0 {
		n = len(in[0])
	}
	out := make([][]float64, outChannels)
	for c := range out {
		out[c] = make([]float64, n)
	}
	if len(in) == 0 {
		return out
	}

	switch {
	case len(in) == 1:
		for c := range out {
			copy(out[c], in[0])
		}
	case outChannels == 1:
		for i := range n {
			var sum float64
			for _, ch := range in {
				sum += ch[i]
			}
			out[0][i] = sum / float64(len(in))
		}
	case len(in) < outChannels:
		for c := range in {
			copy(out[c], in[c])
		}
	default:
		counts := make([]int, outChannels)
		for c, ch := range in {
			dst := c % outChannels
			counts[dst]++
			for i, v := range ch {
				out[dst][i] += v
			}
		}
		for c := range out {
			if counts[c] > 1 {
				for i := range out[c] {
					out[c][i] /= float64(counts[c])
				}
			}
		}
	}
	return out
}
