package hls

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// playlistVersion is the protocol version written into every playlist.
const playlistVersion = 3

// Segment is one finished media segment.
type Segment struct {
	URI      string
	Duration time.Duration
	Size     int64
}

// Variant is one rendition listed in a master playlist.
type Variant struct {
	URI       string
	Bandwidth int64
	Width     int
	Height    int
	Codecs    []string
}

// MarshalMediaPlaylist renders a complete VOD playlist for segments.
func MarshalMediaPlaylist(segments []Segment) ([]byte, error) {
	vod := playlist.MediaPlaylistTypeVOD
	pl := &playlist.Media{
		Version:             playlistVersion,
		IndependentSegments: true,
		TargetDuration:      targetDuration(segments),
		MediaSequence:       0,
		PlaylistType:        &vod,
		Endlist:             true,
	}
	for _, seg := range segments {
		pl.Segments = append(pl.Segments, &playlist.MediaSegment{
			Duration: seg.Duration,
			URI:      seg.URI,
		})
	}
	return pl.Marshal()
}

// targetDuration is the longest segment duration rounded up to whole seconds.
func targetDuration(segments []Segment) int {
	target := 1
	for _, seg := range segments {
		if d := int(math.Ceil(seg.Duration.Seconds())); d > target {
			target = d
		}
	}
	return target
}

// MarshalMasterPlaylist renders a master playlist listing variants in order.
func MarshalMasterPlaylist(variants []Variant) ([]byte, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("master playlist needs at least one variant")
	}
	pl := &playlist.Multivariant{
		Version:             playlistVersion,
		IndependentSegments: true,
	}
	for _, v := range variants {
		mv := &playlist.MultivariantVariant{
			Bandwidth: int(v.Bandwidth),
			Codecs:    v.Codecs,
			URI:       v.URI,
		}
		if v.Width > 0 && v.Height > 0 {
			mv.Resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
		}
		pl.Variants = append(pl.Variants, mv)
	}
	return pl.Marshal()
}

// WriteMasterPlaylist writes a master playlist to path.
func WriteMasterPlaylist(path string, variants []Variant) error {
	data, err := MarshalMasterPlaylist(variants)
	if err != nil {
		return fmt.Errorf("marshaling master playlist: %w", err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to a temporary file beside path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
