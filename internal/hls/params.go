package hls

import (
	"bytes"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ParamSets remembers the latest H.264 SPS and PPS seen in the stream so
// that every segment's first keyframe can carry them.
type ParamSets struct {
	sps []byte
	pps []byte
}

// Observe records any SPS or PPS present in au. It reports whether a
// parameter set changed.
func (p *ParamSets) Observe(au [][]byte) bool {
	changed := false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			if !bytes.Equal(p.sps, nalu) {
				p.sps = append([]byte(nil), nalu...)
				changed = true
			}
		case h264.NALUTypePPS:
			if !bytes.Equal(p.pps, nalu) {
				p.pps = append([]byte(nil), nalu...)
				changed = true
			}
		}
	}
	return changed
}

// Ready reports whether both parameter sets are known.
func (p *ParamSets) Ready() bool {
	return len(p.sps) > 0 && len(p.pps) > 0
}

// Prepend returns au with SPS and PPS in front when it lacks them.
func (p *ParamSets) Prepend(au [][]byte) [][]byte {
	if !p.Ready() {
		return au
	}
	hasSPS, hasPPS := false, false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			hasSPS = true
		case h264.NALUTypePPS:
			hasPPS = true
		}
	}
	if hasSPS && hasPPS {
		return au
	}

	out := make([][]byte, 0, len(au)+2)
	out = append(out, p.sps, p.pps)
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS, h264.NALUTypePPS:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// CodecString returns the RFC 6381 avc1 string derived from the SPS, or ""
// when no SPS has been seen.
func (p *ParamSets) CodecString() string {
	if len(p.sps) < 4 {
		return ""
	}
	return fmt.Sprintf("avc1.%02x%02x%02x", p.sps[1], p.sps[2], p.sps[3])
}

// splitAccessUnit turns Annex-B or bare NAL unit data into a list of NAL
// units.
func splitAccessUnit(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 &&
		(data[2] == 0x01 || (data[2] == 0x00 && data[3] == 0x01)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return [][]byte{data}
		}
		return au
	}
	return [][]byte{data}
}

// splitADTS strips ADTS headers and returns the raw AAC frames. Data without
// an ADTS sync word is returned as a single raw frame.
func splitADTS(data []byte) [][]byte {
	if len(data) < 7 || data[0] != 0xFF || data[1]&0xF6 != 0xF0 {
		if len(data) == 0 {
			return nil
		}
		return [][]byte{data}
	}

	var frames [][]byte
	offset := 0
	for offset+7 <= len(data) {
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}
		headerSize := 7
		if data[offset+1]&0x01 == 0 {
			headerSize = 9
		}
		frameLen := int(data[offset+3]&0x03)<<11 | int(data[offset+4])<<3 | int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}
		if raw := data[offset+headerSize : offset+frameLen]; len(raw) > 0 {
			frames = append(frames, raw)
		}
		offset += frameLen
	}
	return frames
}
