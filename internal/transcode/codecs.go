package transcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/abrhls/internal/media"
)

// profile_idc and constraint flags per H.264 profile name.
var h264Profiles = map[string][2]byte{
	"baseline":             {0x42, 0xc0},
	"constrained_baseline": {0x42, 0xe0},
	"main":                 {0x4d, 0x40},
	"high":                 {0x64, 0x00},
}

// CodecString derives an RFC 6381 codec string from negotiated parameters.
// It is used when the muxer cannot read one from the bitstream.
func CodecString(p media.CodecParams) string {
	switch strings.ToLower(p.Codec) {
	case "h264", "libx264", "avc", "avc1":
		prof, ok := h264Profiles[strings.ToLower(p.Profile)]
		if !ok {
			prof = h264Profiles["baseline"]
		}
		return fmt.Sprintf("avc1.%02x%02x%02x", prof[0], prof[1], h264LevelIDC(p.Level))
	case "aac", "mp4a":
		return "mp4a.40.2"
	default:
		return p.Codec
	}
}

// h264LevelIDC turns "3.1" into 31. Unparseable levels map to 3.1.
func h264LevelIDC(level string) int {
	f, err := strconv.ParseFloat(level, 64)
	if err != nil || f <= 0 {
		return 31
	}
	return int(f*10 + 0.5)
}
