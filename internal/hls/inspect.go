package hls

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/asticode/go-astits"
)

// MPEG-TS stream_type values written by the segmenter.
const (
	StreamTypeH264 uint8 = 0x1B
	StreamTypeAAC  uint8 = 0x0F
)

// PIDInfo summarises one elementary stream inside a segment.
// RandomAccessStart is set when the first PES of the stream carried the
// random access indicator.
type PIDInfo struct {
	PID               uint16 `yaml:"pid"`
	StreamType        uint8  `yaml:"stream_type"`
	PESCount          int    `yaml:"pes_count"`
	FirstPTS          int64  `yaml:"first_pts"`
	LastPTS           int64  `yaml:"last_pts"`
	RandomAccessStart bool   `yaml:"random_access_start"`
}

// SegmentInfo describes one MPEG-TS file.
type SegmentInfo struct {
	Path          string    `yaml:"path"`
	StartsWithPAT bool      `yaml:"starts_with_pat"`
	Streams       []PIDInfo `yaml:"streams"`
}

// Stream returns the info for pid.
func (s *SegmentInfo) Stream(pid uint16) (PIDInfo, bool) {
	for _, st := range s.Streams {
		if st.PID == pid {
			return st, true
		}
	}
	return PIDInfo{}, false
}

// InspectSegment demuxes a whole MPEG-TS file and reports its program layout
// and per-stream timestamps.
func InspectSegment(ctx context.Context, path string) (*SegmentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, bufio.NewReader(f))
	info := &SegmentInfo{Path: path}
	byPID := make(map[uint16]*PIDInfo)
	first := true

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, fmt.Errorf("demuxing %s: %w", path, err)
		}

		if first {
			info.StartsWithPAT = data.PAT != nil
			first = false
		}

		if data.PMT != nil {
			for _, es := range data.PMT.ElementaryStreams {
				if _, ok := byPID[es.ElementaryPID]; !ok {
					byPID[es.ElementaryPID] = &PIDInfo{PID: es.ElementaryPID, StreamType: uint8(es.StreamType)}
				}
			}
		}

		if data.PES == nil {
			continue
		}
		st, ok := byPID[data.PID]
		if !ok {
			st = &PIDInfo{PID: data.PID}
			byPID[data.PID] = st
		}
		if st.PESCount == 0 && data.FirstPacket != nil && data.FirstPacket.AdaptationField != nil {
			st.RandomAccessStart = data.FirstPacket.AdaptationField.RandomAccessIndicator
		}
		if oh := data.PES.Header.OptionalHeader; oh != nil && oh.PTS != nil {
			if st.PESCount == 0 {
				st.FirstPTS = oh.PTS.Base
			}
			st.LastPTS = oh.PTS.Base
		}
		st.PESCount++
	}

	for _, st := range byPID {
		info.Streams = append(info.Streams, *st)
	}
	sort.Slice(info.Streams, func(i, j int) bool { return info.Streams[i].PID < info.Streams[j].PID })
	return info, nil
}
