// Package transcode turns one input file into HLS renditions: it selects
// streams, negotiates encoders, converts and regroups frames, repairs
// timestamps and drives the per-tier run state machine.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/abrhls/internal/media"
	"github.com/jmylchreest/abrhls/internal/observability"
)

// maxReadRetries bounds consecutive "try again" results from the demuxer.
const maxReadRetries = 1000

// State is the lifecycle stage of a rendition run.
type State int

const (
	StateOpening State = iota
	StateDrainingInput
	StateFlushing
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateDrainingInput:
		return "draining_input"
	case StateFlushing:
		return "flushing"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TrackStats counts what happened to one track during a run.
type TrackStats struct {
	FramesDecoded   int64 `yaml:"frames_decoded"`
	FramesEncoded   int64 `yaml:"frames_encoded"`
	FramesDropped   int64 `yaml:"frames_dropped"`
	PacketsSkipped  int64 `yaml:"packets_skipped"`
	Packets         int64 `yaml:"packets"`
	Bytes           int64 `yaml:"bytes"`
	DTSCorrections  int64 `yaml:"dts_corrections"`
	ScrubbedSamples int64 `yaml:"scrubbed_samples,omitempty"`
}

// Stats covers both tracks of a run.
type Stats struct {
	Video TrackStats `yaml:"video"`
	Audio TrackStats `yaml:"audio"`
}

// track is the per-media-type context of a run.
type track struct {
	kind     media.MediaType
	input    media.StreamInfo
	decoder  media.Decoder
	encoder  media.Encoder
	params   media.CodecParams
	outIndex int
	outTB    media.Rational
	ts       *TimestampState

	video *VideoConverter
	audio *AudioConverter
	acc   *Accumulator

	stats TrackStats
}

// Transcoder produces one rendition: a media playlist and its segments in a
// single directory.
type Transcoder struct {
	lib    media.Library
	spec   RenditionSpec
	dir    string
	opts   Options
	logger *slog.Logger

	state   State
	started bool
	res     *resources
	demuxer media.Demuxer
	muxer   media.Muxer
	video   *track
	audio   *track
	codecs  []string
}

// NewTranscoder creates a transcoder writing spec's rendition into dir.
func NewTranscoder(lib media.Library, spec RenditionSpec, dir string, opts Options, logger *slog.Logger) *Transcoder {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithRendition(observability.WithComponent(logger, "transcoder"), spec.Name, spec.Width, spec.Height)
	return &Transcoder{
		lib:    lib,
		spec:   spec,
		dir:    dir,
		opts:   opts.withDefaults(),
		logger: logger,
		state:  StateOpening,
		res:    newResources(logger),
	}
}

// State returns the current lifecycle stage.
func (t *Transcoder) State() State { return t.state }

// Stats returns the counters collected so far.
func (t *Transcoder) Stats() Stats {
	var s Stats
	if t.video != nil {
		s.Video = t.video.stats
		s.Video.DTSCorrections = t.video.ts.Corrections()
	}
	if t.audio != nil {
		s.Audio = t.audio.stats
		s.Audio.DTSCorrections = t.audio.ts.Corrections()
		s.Audio.ScrubbedSamples = t.audio.acc.Scrubbed()
	}
	return s
}

// Codecs returns RFC 6381 codec strings for the produced streams.
func (t *Transcoder) Codecs() []string {
	if len(t.codecs) > 0 {
		return t.codecs
	}
	var codecs []string
	if t.video != nil {
		codecs = append(codecs, CodecString(t.video.params))
	}
	if t.audio != nil {
		codecs = append(codecs, CodecString(t.audio.params))
	}
	return codecs
}

// HasVideo reports whether a video track was opened.
func (t *Transcoder) HasVideo() bool { return t.video != nil }

// Run transcodes input into the rendition directory. A transcoder runs once;
// every resource it acquired is released before Run returns, whatever the
// outcome.
func (t *Transcoder) Run(ctx context.Context, input string) (err error) {
	if t.started {
		return fmt.Errorf("rendition %q already run: %w", t.spec.Name, media.ErrInvalid)
	}
	t.started = true

	t.logger = observability.WithRunID(t.logger, ulid.Make().String())
	t.res.logger = t.logger

	done := observability.TimedOperationWithError(ctx, t.logger, "transcode_rendition", &err)
	defer done()
	defer func() {
		if rerr := t.res.releaseAll(); rerr != nil {
			t.logger.Warn("releasing resources reported errors", slog.String("error", rerr.Error()))
		}
		if err != nil {
			t.setState(StateFailed)
			return
		}
		t.setState(StateFinalized)
	}()

	if err := t.spec.Validate(); err != nil {
		return err
	}
	if err := t.open(ctx, input); err != nil {
		return err
	}

	t.setState(StateDrainingInput)
	if err := t.drainInput(); err != nil {
		return err
	}

	t.setState(StateFlushing)
	return t.flush()
}

func (t *Transcoder) setState(s State) {
	if t.state == s {
		return
	}
	t.logger.Debug("rendition state change",
		slog.String("from", t.state.String()),
		slog.String("to", s.String()),
	)
	t.state = s
}

func (t *Transcoder) tracks() []*track {
	var out []*track
	if t.video != nil {
		out = append(out, t.video)
	}
	if t.audio != nil {
		out = append(out, t.audio)
	}
	return out
}

func (t *Transcoder) trackFor(streamIndex int) *track {
	if t.video != nil && t.video.input.Index == streamIndex {
		return t.video
	}
	if t.audio != nil && t.audio.input.Index == streamIndex {
		return t.audio
	}
	return nil
}

// open acquires the input, output, decoders, encoders and converters, then
// writes the output header.
func (t *Transcoder) open(ctx context.Context, input string) error {
	demuxer, err := t.lib.OpenInput(ctx, input)
	if err != nil {
		return fmt.Errorf("opening input %s: %w", input, err)
	}
	t.res.own("input", demuxer)
	t.demuxer = demuxer

	sel, err := SelectStreams(demuxer.Streams())
	if err != nil {
		return err
	}

	inputDuration := demuxer.Duration()
	if sel.Video != nil && sel.Video.DurationValue() > 0 {
		inputDuration = sel.Video.DurationValue()
	}

	muxer, err := t.lib.NewMuxer(media.MuxerConfig{
		Dir:             t.dir,
		PlaylistName:    t.opts.PlaylistName,
		SegmentPattern:  t.opts.SegmentPattern,
		SegmentDuration: t.opts.SegmentDuration,
		SegmentMaxSize:  t.opts.SegmentMaxSize,
		InputDuration:   inputDuration,
		Logger:          t.logger,
	})
	if err != nil {
		return fmt.Errorf("opening output in %s: %w", t.dir, err)
	}
	t.res.own("output", muxer)
	t.muxer = muxer

	neg := &negotiator{lib: t.lib, opts: t.opts, logger: t.logger}
	if sel.Video != nil {
		if err := t.openVideo(neg, *sel.Video); err != nil {
			return err
		}
	}
	if sel.Audio != nil {
		if err := t.openAudio(neg, *sel.Audio); err != nil {
			return err
		}
	}

	if err := muxer.WriteHeader(); err != nil {
		return fmt.Errorf("writing output header: %w", err)
	}
	for _, tr := range t.tracks() {
		tr.outTB = muxer.TimeBase(tr.outIndex)
	}

	t.logger.Info("rendition opened",
		slog.String("input", input),
		slog.String("output_dir", t.dir),
		slog.Bool("video", t.video != nil),
		slog.Bool("audio", t.audio != nil),
		slog.Duration("input_duration", inputDuration),
	)
	return nil
}

func (t *Transcoder) openVideo(neg *negotiator, in media.StreamInfo) error {
	dec, err := t.lib.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("opening video decoder for %s: %w", in.Codec, err)
	}
	t.res.own("video decoder", dec)

	enc, err := neg.openVideo(t.spec, in)
	if err != nil {
		return err
	}
	t.res.own("video encoder", enc)

	params := enc.Params()
	if !params.TimeBase.Valid() {
		rate, _ := EncoderFrameRate(in, t.opts.DefaultFrameRate)
		params.TimeBase = rate.Invert()
	}
	if params.Width == 0 || params.Height == 0 {
		params.Width, params.Height = t.spec.Width, t.spec.Height
	}
	if params.PixFmt == media.PixelFormatNone {
		params.PixFmt = t.opts.Video.PixFmt
	}

	idx, err := t.muxer.AddStream(params)
	if err != nil {
		return fmt.Errorf("adding video stream: %w", err)
	}

	conv := NewVideoConverter(t.lib, in, params, t.opts.ScaleFilter)
	t.res.own("video converter", conv)

	t.video = &track{
		kind:     media.MediaTypeVideo,
		input:    in,
		decoder:  dec,
		encoder:  enc,
		params:   params,
		outIndex: idx,
		ts:       NewTimestampState(),
		video:    conv,
	}
	return nil
}

func (t *Transcoder) openAudio(neg *negotiator, in media.StreamInfo) error {
	dec, err := t.lib.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("opening audio decoder for %s: %w", in.Codec, err)
	}
	t.res.own("audio decoder", dec)

	enc, err := neg.openAudio(t.spec)
	if err != nil {
		return err
	}
	t.res.own("audio encoder", enc)

	params := enc.Params()
	if !params.TimeBase.Valid() {
		params.TimeBase = media.Rational{Num: 1, Den: params.SampleRate}
	}

	acc, err := NewAccumulator(params, t.opts.AudioRingMultiple, t.logger)
	if err != nil {
		return err
	}

	idx, err := t.muxer.AddStream(params)
	if err != nil {
		return fmt.Errorf("adding audio stream: %w", err)
	}

	conv := NewAudioConverter(t.lib, in, params, t.opts.ResampleFilterSize, t.opts.ResampleCutoff, t.logger)
	t.res.own("audio converter", conv)

	if !NeedsResampling(in, params) {
		t.logger.Debug("audio already in encoder layout, resampler bypassed",
			slog.String("format", in.SampleFmt.String()),
			slog.Int("sample_rate", in.SampleRate),
			slog.Int("channels", in.Channels),
		)
	}

	t.audio = &track{
		kind:     media.MediaTypeAudio,
		input:    in,
		decoder:  dec,
		encoder:  enc,
		params:   params,
		outIndex: idx,
		ts:       NewTimestampState(),
		audio:    conv,
		acc:      acc,
	}
	return nil
}

// drainInput reads and decodes packets until the input ends.
func (t *Transcoder) drainInput() error {
	retries := 0
	for {
		pkt, err := t.demuxer.ReadPacket()
		if err != nil {
			if errors.Is(err, media.ErrAgain) {
				retries++
				if retries > maxReadRetries {
					return fmt.Errorf("input kept returning try-again: %w", err)
				}
				continue
			}
			if !errors.Is(err, media.ErrEOF) {
				t.logger.Warn("input read failed, treating as end of input", slog.String("error", err.Error()))
			}
			return nil
		}
		retries = 0

		tr := t.trackFor(pkt.StreamIndex)
		if tr == nil {
			continue
		}
		if err := t.decode(tr, pkt); err != nil {
			return err
		}
	}
}

// decode feeds one packet to a track's decoder and processes the frames
// it yields. Packets the decoder rejects are skipped.
func (t *Transcoder) decode(tr *track, pkt *media.Packet) error {
	err := tr.decoder.SendPacket(pkt)
	if errors.Is(err, media.ErrAgain) {
		if rerr := t.receiveFrames(tr); rerr != nil {
			return rerr
		}
		err = tr.decoder.SendPacket(pkt)
	}
	if err != nil {
		tr.stats.PacketsSkipped++
		t.logger.Warn("decoder rejected packet, skipping",
			slog.String("track", tr.kind.String()),
			slog.Int64("pts", pkt.PTS),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return t.receiveFrames(tr)
}

// receiveFrames processes every frame the decoder has ready.
func (t *Transcoder) receiveFrames(tr *track) error {
	for {
		frame, err := tr.decoder.ReceiveFrame()
		if errors.Is(err, media.ErrAgain) || errors.Is(err, media.ErrEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding %s: %w", tr.kind, err)
		}
		tr.stats.FramesDecoded++
		if err := t.processFrame(tr, frame); err != nil {
			return err
		}
	}
}

func (t *Transcoder) processFrame(tr *track, frame *media.Frame) error {
	if tr.kind == media.MediaTypeVideo {
		out, err := tr.video.Convert(frame, tr.ts)
		if err != nil {
			return err
		}
		return t.submitFrame(tr, out)
	}

	tr.ts.Seed(tr.audio.EncoderPTS(frame))
	converted, err := tr.audio.Convert(frame)
	if err != nil {
		return err
	}
	if err := tr.acc.Append(converted); err != nil {
		return fmt.Errorf("buffering audio: %w", err)
	}
	for tr.acc.Ready() {
		if err := t.submitAudio(tr, tr.acc.Next(tr.ts.NextPTS())); err != nil {
			return err
		}
	}
	return nil
}

// submitAudio advances the audio clock by the frame's duration and submits
// it. The clock advances even when the frame ends up dropped.
func (t *Transcoder) submitAudio(tr *track, frame *media.Frame) error {
	step := media.Rescale(int64(frame.NumSamples), media.Rational{Num: 1, Den: tr.params.SampleRate}, tr.params.TimeBase)
	tr.ts.Advance(step)
	return t.submitFrame(tr, frame)
}

// flush drains decoders, submits the final partial audio frame, drains the
// encoders and finishes the output.
func (t *Transcoder) flush() error {
	for _, tr := range t.tracks() {
		if err := tr.decoder.SendPacket(nil); err != nil && !errors.Is(err, media.ErrEOF) {
			t.logger.Warn("decoder flush failed",
				slog.String("track", tr.kind.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := t.receiveFrames(tr); err != nil {
			return err
		}
	}

	if t.audio != nil {
		if frame := t.audio.acc.Flush(t.audio.ts.NextPTS()); frame != nil {
			t.logger.Debug("submitting final partial audio frame", slog.Int("samples", frame.NumSamples))
			if err := t.submitAudio(t.audio, frame); err != nil {
				return err
			}
		}
	}

	for _, tr := range t.tracks() {
		if err := t.flushEncoder(tr); err != nil {
			return err
		}
	}

	if err := t.muxer.WriteTrailer(); err != nil {
		return fmt.Errorf("writing output trailer: %w", err)
	}
	if reporter, ok := t.muxer.(media.CodecReporter); ok {
		t.codecs = reporter.Codecs()
	}

	stats := t.Stats()
	t.logger.Info("rendition finished",
		slog.Int64("video_packets", stats.Video.Packets),
		slog.Int64("audio_packets", stats.Audio.Packets),
		slog.Int64("frames_dropped", stats.Video.FramesDropped+stats.Audio.FramesDropped),
	)
	return nil
}
