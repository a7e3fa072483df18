// Package hls writes MPEG-TS segments and HLS playlists.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/abrhls/internal/media"
)

// MPEG-TS layout.
const (
	VideoPID = 0x0100
	AudioPID = 0x0101

	// timestampOffset shifts every timestamp forward by one second so that
	// decode timestamps of reordered frames never go negative.
	timestampOffset = 90000

	// aacFrameSamples is the AAC-LC access unit length.
	aacFrameSamples = 1024

	// maxInterleaveDelta bounds how far (90 kHz) one stream may run ahead
	// of a silent one before queued packets are written regardless.
	maxInterleaveDelta = 10 * 90000
)

var (
	// ErrUnsupportedCodec is returned when a stream cannot be carried in MPEG-TS.
	ErrUnsupportedCodec = fmt.Errorf("codec not supported by the segmenter: %w", media.ErrInvalid)

	// ErrMuxerState is returned when calls arrive out of order.
	ErrMuxerState = fmt.Errorf("segmenter used out of order: %w", media.ErrInvalid)
)

// segmentWriter is an io.Writer that can be redirected to successive segment
// files, so one mpegts.Writer keeps continuity counters across segments.
type segmentWriter struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}

func (w *segmentWriter) Write(p []byte) (int, error) {
	if w.buf == nil {
		return 0, io.ErrClosedPipe
	}
	n, err := w.buf.Write(p)
	w.size += int64(n)
	return n, err
}

// open redirects output to a new file.
func (w *segmentWriter) open(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	w.size = 0
	return nil
}

// close flushes and closes the current file.
func (w *segmentWriter) close() error {
	if w.file == nil {
		return nil
	}
	ferr := w.buf.Flush()
	cerr := w.file.Close()
	w.file, w.buf = nil, nil
	return errors.Join(ferr, cerr)
}

type tsStream struct {
	params media.CodecParams
	track  *mpegts.Track
	// frameTicks is the nominal duration of one packet in 90 kHz ticks.
	frameTicks int64
	// pending holds packets waiting to be interleaved, in arrival order.
	pending []queuedPacket
}

type queuedPacket struct {
	pkt      *media.Packet
	pts, dts int64
}

// Segmenter is a media.Muxer producing an HLS VOD rendition: numbered
// MPEG-TS segments cut on keyframes and a media playlist written when the
// trailer is written.
type Segmenter struct {
	cfg    media.MuxerConfig
	logger *slog.Logger

	streams  []*tsStream
	videoIdx int
	audioIdx int

	out    *segmentWriter
	writer *mpegts.Writer
	params ParamSets

	segments   []Segment
	curURI     string
	curStart   int64
	curOpen    bool
	end        int64
	haveEnd    bool
	nextNumber int

	headerWritten  bool
	trailerWritten bool
	closed         bool
}

// NewSegmenter validates cfg and prepares a segmenter. Nothing is written
// until WriteHeader.
func NewSegmenter(cfg media.MuxerConfig) (*Segmenter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("output directory is required: %w", media.ErrInvalid)
	}
	if cfg.PlaylistName == "" {
		cfg.PlaylistName = "playlist.m3u8"
	}
	if cfg.SegmentPattern == "" {
		cfg.SegmentPattern = "segment%03d.ts"
	}
	if !strings.Contains(cfg.SegmentPattern, "%") {
		return nil, fmt.Errorf("segment pattern %q has no number verb: %w", cfg.SegmentPattern, media.ErrInvalid)
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "segmenter")),
		videoIdx: -1,
		audioIdx: -1,
		out:      &segmentWriter{},
	}, nil
}

// AddStream registers an H.264 or AAC stream and returns its index.
func (s *Segmenter) AddStream(params media.CodecParams) (int, error) {
	if s.headerWritten {
		return 0, fmt.Errorf("%w: stream added after header", ErrMuxerState)
	}

	st := &tsStream{params: params}
	switch params.Type {
	case media.MediaTypeVideo:
		if !isH264(params.Codec) {
			return 0, fmt.Errorf("%w: video codec %q", ErrUnsupportedCodec, params.Codec)
		}
		if s.videoIdx >= 0 {
			return 0, fmt.Errorf("%w: second video stream", ErrUnsupportedCodec)
		}
		st.track = &mpegts.Track{PID: VideoPID, Codec: &mpegts.CodecH264{}}
		st.frameTicks = 3000
		if params.FrameRate.Valid() {
			st.frameTicks = media.Rescale(1, params.FrameRate.Invert(), media.TimeBaseMPEGTS)
		}
		s.videoIdx = len(s.streams)

	case media.MediaTypeAudio:
		if !isAAC(params.Codec) {
			return 0, fmt.Errorf("%w: audio codec %q", ErrUnsupportedCodec, params.Codec)
		}
		if s.audioIdx >= 0 {
			return 0, fmt.Errorf("%w: second audio stream", ErrUnsupportedCodec)
		}
		if params.SampleRate <= 0 || params.Channels <= 0 {
			return 0, fmt.Errorf("audio stream needs sample rate and channels: %w", media.ErrInvalid)
		}
		st.track = &mpegts.Track{
			PID: AudioPID,
			Codec: &mpegts.CodecMPEG4Audio{
				Config: mpeg4audio.Config{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   params.SampleRate,
					ChannelCount: params.Channels,
				},
			},
		}
		frame := params.FrameSize
		if frame <= 0 {
			frame = aacFrameSamples
		}
		st.frameTicks = media.Rescale(int64(frame), media.Rational{Num: 1, Den: params.SampleRate}, media.TimeBaseMPEGTS)
		s.audioIdx = len(s.streams)

	default:
		return 0, fmt.Errorf("%w: %s stream", ErrUnsupportedCodec, params.Type)
	}

	s.streams = append(s.streams, st)
	return len(s.streams) - 1, nil
}

// TimeBase is 1/90000 for every stream.
func (s *Segmenter) TimeBase(int) media.Rational {
	return media.TimeBaseMPEGTS
}

// WriteHeader creates the output directory and the first segment.
func (s *Segmenter) WriteHeader() error {
	if s.headerWritten || s.closed {
		return fmt.Errorf("%w: header already written", ErrMuxerState)
	}
	if len(s.streams) == 0 {
		return fmt.Errorf("no streams added: %w", media.ErrInvalid)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.cfg.Dir, err)
	}

	tracks := make([]*mpegts.Track, 0, len(s.streams))
	for _, st := range s.streams {
		tracks = append(tracks, st.track)
	}
	if err := s.openSegment(); err != nil {
		return err
	}
	s.writer = &mpegts.Writer{W: s.out, Tracks: tracks}
	if err := s.writer.Initialize(); err != nil {
		return fmt.Errorf("initializing mpegts writer: %w", err)
	}

	s.headerWritten = true
	s.logger.Debug("segmenter started",
		slog.String("dir", s.cfg.Dir),
		slog.Duration("segment_duration", s.cfg.SegmentDuration),
		slog.Duration("input_duration", s.cfg.InputDuration),
		slog.Int("streams", len(s.streams)),
	)
	return nil
}

// WritePacket queues one packet whose timestamps are in 1/90000 units.
// Packets leave the queue in decode order across streams, as soon as every
// stream has something queued, so encoder output arriving in bursts per
// track still lands in the segments interleaved.
func (s *Segmenter) WritePacket(pkt *media.Packet) error {
	if !s.headerWritten || s.trailerWritten || s.closed {
		return fmt.Errorf("%w: packet outside header/trailer", ErrMuxerState)
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(s.streams) {
		return fmt.Errorf("unknown stream %d: %w", pkt.StreamIndex, media.ErrStreamNotFound)
	}
	if len(pkt.Data) == 0 {
		return nil
	}

	st := s.streams[pkt.StreamIndex]
	pts, dts := pkt.PTS, pkt.DTS
	if dts == media.NoPTS {
		dts = pts
	}
	if pts == media.NoPTS {
		pts = dts
	}
	if pts == media.NoPTS {
		return fmt.Errorf("%s packet without timestamps: %w", st.params.Type, media.ErrInvalidData)
	}

	st.pending = append(st.pending, queuedPacket{pkt: pkt, pts: pts, dts: dts})
	return s.interleave(false)
}

// interleave writes queued packets in DTS order while every stream has one
// waiting, or while the queued span exceeds maxInterleaveDelta. With flush
// set the queues are emptied.
func (s *Segmenter) interleave(flush bool) error {
	for {
		var next *tsStream
		ready := true
		lo, hi := int64(0), int64(0)
		first := true
		for _, st := range s.streams {
			if len(st.pending) == 0 {
				ready = false
				continue
			}
			head := st.pending[0].dts
			tail := st.pending[len(st.pending)-1].dts
			if first || head < lo {
				lo = head
			}
			if first || tail > hi {
				hi = tail
			}
			first = false
			if next == nil || head < next.pending[0].dts {
				next = st
			}
		}
		if next == nil {
			return nil
		}
		if !ready && !flush && hi-lo <= maxInterleaveDelta {
			return nil
		}

		q := next.pending[0]
		next.pending[0] = queuedPacket{}
		next.pending = next.pending[1:]
		if err := s.writeQueued(next, q); err != nil {
			return err
		}
	}
}

func (s *Segmenter) writeQueued(st *tsStream, q queuedPacket) error {
	pts, dts := q.pts, q.dts
	isVideo := st.track.PID == VideoPID
	var au [][]byte
	randomAccess := !isVideo
	if isVideo {
		au = splitAccessUnit(q.pkt.Data)
		s.params.Observe(au)
		randomAccess = q.pkt.Keyframe || h264.IsRandomAccess(au)
	}

	if err := s.maybeCut(dts, isVideo, randomAccess); err != nil {
		return err
	}

	if !s.curOpen {
		s.curStart = dts
		s.curOpen = true
	}
	dur := q.pkt.Duration
	if dur <= 0 {
		dur = st.frameTicks
	}
	if end := pts + dur; !s.haveEnd || end > s.end {
		s.end = end
		s.haveEnd = true
	}

	if isVideo {
		if randomAccess {
			au = s.params.Prepend(au)
		}
		if err := s.writer.WriteH264(st.track, pts+timestampOffset, dts+timestampOffset, au); err != nil {
			return fmt.Errorf("writing h264 access unit: %w", err)
		}
		return nil
	}

	aus := splitADTS(q.pkt.Data)
	if len(aus) == 0 {
		return nil
	}
	if err := s.writer.WriteMPEG4Audio(st.track, pts+timestampOffset, aus); err != nil {
		return fmt.Errorf("writing aac access units: %w", err)
	}
	return nil
}

// maybeCut starts a new segment when the current one has reached the
// target duration (or size limit) and the next packet can start a segment.
// With video present only video keyframes start segments.
func (s *Segmenter) maybeCut(dts int64, isVideo, randomAccess bool) error {
	if !s.curOpen {
		return nil
	}
	canStart := randomAccess && (isVideo || s.videoIdx < 0)
	if !canStart {
		return nil
	}

	elapsed := time.Duration(media.Rescale(dts-s.curStart, media.TimeBaseMPEGTS, media.Rational{Num: 1, Den: 1000000})) * time.Microsecond
	bySize := s.cfg.SegmentMaxSize > 0 && s.out.size >= s.cfg.SegmentMaxSize
	if elapsed < s.cfg.SegmentDuration && !bySize {
		return nil
	}
	if dts <= s.curStart {
		return nil
	}

	if err := s.finishSegment(dts); err != nil {
		return err
	}
	return s.openSegment()
}

func (s *Segmenter) openSegment() error {
	uri := fmt.Sprintf(s.cfg.SegmentPattern, s.nextNumber)
	path := filepath.Join(s.cfg.Dir, uri)
	if err := s.out.open(path); err != nil {
		return fmt.Errorf("creating segment %s: %w", path, err)
	}
	s.curURI = uri
	s.nextNumber++
	return nil
}

// finishSegment closes the current segment, which ends at end (90 kHz).
func (s *Segmenter) finishSegment(end int64) error {
	size := s.out.size
	if err := s.out.close(); err != nil {
		return fmt.Errorf("closing segment %s: %w", s.curURI, err)
	}
	if !s.curOpen {
		if err := os.Remove(filepath.Join(s.cfg.Dir, s.curURI)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove empty segment", slog.String("segment", s.curURI), slog.String("error", err.Error()))
		}
		return nil
	}

	ticks := end - s.curStart
	if ticks <= 0 {
		ticks = 1
	}
	seg := Segment{
		URI:      s.curURI,
		Duration: time.Duration(media.Rescale(ticks, media.TimeBaseMPEGTS, media.Rational{Num: 1, Den: 1000000})) * time.Microsecond,
		Size:     size,
	}
	s.segments = append(s.segments, seg)
	s.curOpen = false
	s.logger.Debug("segment complete",
		slog.String("segment", seg.URI),
		slog.Duration("duration", seg.Duration),
		slog.Int64("bytes", seg.Size),
	)
	return nil
}

// WriteTrailer closes the last segment and writes the media playlist.
func (s *Segmenter) WriteTrailer() error {
	if !s.headerWritten || s.trailerWritten || s.closed {
		return fmt.Errorf("%w: trailer", ErrMuxerState)
	}
	s.trailerWritten = true

	if err := s.interleave(true); err != nil {
		return err
	}
	if err := s.finishSegment(s.end); err != nil {
		return err
	}

	data, err := MarshalMediaPlaylist(s.segments)
	if err != nil {
		return fmt.Errorf("marshaling media playlist: %w", err)
	}
	path := filepath.Join(s.cfg.Dir, s.cfg.PlaylistName)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	var total time.Duration
	for _, seg := range s.segments {
		total += seg.Duration
	}
	s.logger.Info("playlist written",
		slog.String("path", path),
		slog.Int("segments", len(s.segments)),
		slog.Duration("duration", total),
		slog.Duration("input_duration", s.cfg.InputDuration),
	)
	return nil
}

// Segments returns the finished segments.
func (s *Segmenter) Segments() []Segment {
	return append([]Segment(nil), s.segments...)
}

// Codecs returns RFC 6381 codec strings for the registered streams, using
// the SPS from the bitstream when one has been seen.
func (s *Segmenter) Codecs() []string {
	var codecs []string
	if s.videoIdx >= 0 {
		if c := s.params.CodecString(); c != "" {
			codecs = append(codecs, c)
		} else {
			codecs = append(codecs, "avc1.42c01f")
		}
	}
	if s.audioIdx >= 0 {
		codecs = append(codecs, "mp4a.40.2")
	}
	return codecs
}

// Close releases the open segment file. Closing without a trailer leaves
// the segments written so far and no playlist.
func (s *Segmenter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.close()
}

func isH264(codec string) bool {
	switch strings.ToLower(codec) {
	case "h264", "libx264", "avc", "avc1":
		return true
	}
	return false
}

func isAAC(codec string) bool {
	switch strings.ToLower(codec) {
	case "aac", "mp4a", "libfdk_aac":
		return true
	}
	return false
}
