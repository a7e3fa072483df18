package media

import "fmt"

// MediaType identifies the kind of elementary stream.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
	MediaTypeSubtitle
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// ParseMediaType maps an ffprobe codec_type to a MediaType.
func ParseMediaType(s string) MediaType {
	switch s {
	case "video":
		return MediaTypeVideo
	case "audio":
		return MediaTypeAudio
	case "subtitle":
		return MediaTypeSubtitle
	case "data":
		return MediaTypeData
	default:
		return MediaTypeUnknown
	}
}

// PixelFormat is a raw video pixel layout.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatYUV420P
	PixelFormatNV12
	PixelFormatRGBA
	PixelFormatGray8
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatNone:    "none",
	PixelFormatYUV420P: "yuv420p",
	PixelFormatNV12:    "nv12",
	PixelFormatRGBA:    "rgba",
	PixelFormatGray8:   "gray",
}

func (p PixelFormat) String() string {
	if name, ok := pixelFormatNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pixfmt(%d)", int(p))
}

// ParsePixelFormat maps an ffmpeg pix_fmt name to a PixelFormat.
// Unknown names map to PixelFormatNone.
func ParsePixelFormat(s string) PixelFormat {
	for p, name := range pixelFormatNames {
		if name == s {
			return p
		}
	}
	switch s {
	case "yuvj420p":
		return PixelFormatYUV420P
	case "gray8":
		return PixelFormatGray8
	}
	return PixelFormatNone
}

// PlaneCount returns how many data planes a frame of this format carries.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatYUV420P:
		return 3
	case PixelFormatNV12:
		return 2
	case PixelFormatRGBA, PixelFormatGray8:
		return 1
	default:
		return 0
	}
}

// PlaneSize returns the width in bytes and the height of plane i for a
// width x height picture.
func (p PixelFormat) PlaneSize(i, width, height int) (int, int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatYUV420P:
		if i == 0 {
			return width, height
		}
		return cw, ch
	case PixelFormatNV12:
		if i == 0 {
			return width, height
		}
		return cw * 2, ch
	case PixelFormatRGBA:
		return width * 4, height
	case PixelFormatGray8:
		return width, height
	default:
		return 0, 0
	}
}

// FrameSize returns the number of bytes of a tightly packed picture.
func (p PixelFormat) FrameSize(width, height int) int {
	total := 0
	for i := range p.PlaneCount() {
		w, h := p.PlaneSize(i, width, height)
		total += w * h
	}
	return total
}

// SampleFormat is a raw audio sample layout.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS32
	SampleFormatFLT
	SampleFormatDBL
	SampleFormatU8P
	SampleFormatS16P
	SampleFormatS32P
	SampleFormatFLTP
	SampleFormatDBLP
)

var sampleFormatNames = map[SampleFormat]string{
	SampleFormatNone: "none",
	SampleFormatU8:   "u8",
	SampleFormatS16:  "s16",
	SampleFormatS32:  "s32",
	SampleFormatFLT:  "flt",
	SampleFormatDBL:  "dbl",
	SampleFormatU8P:  "u8p",
	SampleFormatS16P: "s16p",
	SampleFormatS32P: "s32p",
	SampleFormatFLTP: "fltp",
	SampleFormatDBLP: "dblp",
}

func (f SampleFormat) String() string {
	if name, ok := sampleFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("samplefmt(%d)", int(f))
}

// ParseSampleFormat maps an ffmpeg sample_fmt name to a SampleFormat.
func ParseSampleFormat(s string) SampleFormat {
	for f, name := range sampleFormatNames {
		if name == s {
			return f
		}
	}
	return SampleFormatNone
}

// IsPlanar reports whether each channel lives in its own plane.
func (f SampleFormat) IsPlanar() bool {
	switch f {
	case SampleFormatU8P, SampleFormatS16P, SampleFormatS32P, SampleFormatFLTP, SampleFormatDBLP:
		return true
	default:
		return false
	}
}

// BytesPerSample returns the size of one sample of one channel.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8, SampleFormatU8P:
		return 1
	case SampleFormatS16, SampleFormatS16P:
		return 2
	case SampleFormatS32, SampleFormatS32P, SampleFormatFLT, SampleFormatFLTP:
		return 4
	case SampleFormatDBL, SampleFormatDBLP:
		return 8
	default:
		return 0
	}
}

// Packed returns the interleaved counterpart of a planar format.
func (f SampleFormat) Packed() SampleFormat {
	switch f {
	case SampleFormatU8P:
		return SampleFormatU8
	case SampleFormatS16P:
		return SampleFormatS16
	case SampleFormatS32P:
		return SampleFormatS32
	case SampleFormatFLTP:
		return SampleFormatFLT
	case SampleFormatDBLP:
		return SampleFormatDBL
	default:
		return f
	}
}
