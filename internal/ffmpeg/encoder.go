package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/abrhls/internal/media"
)

// aacFrameSize is the number of samples per channel in one AAC frame.
const aacFrameSize = 1024

// encoderNames maps pipeline codec names to ffmpeg encoders.
var encoderNames = map[string]string{
	"h264": "libx264",
	"aac":  "aac",
}

// videoEncodeArgs builds an H.264 encoder reading raw yuv420p on stdin and
// writing MPEG-TS on stdout.
func videoEncodeArgs(ffmpegPath string, cfg media.VideoEncoderConfig, rate media.Rational, threads int) *CommandBuilder {
	args := []string{"-c:v", encoderNames["h264"]}
	if cfg.Preset != "" {
		args = append(args, "-preset", cfg.Preset)
	}
	if cfg.Tune != "" {
		args = append(args, "-tune", cfg.Tune)
	}
	if cfg.Profile != "" {
		args = append(args, "-profile:v", cfg.Profile)
	}
	if cfg.Level != "" {
		args = append(args, "-level:v", cfg.Level)
	}
	if cfg.BitRate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(cfg.BitRate, 10))
	}
	if cfg.GOPSize > 0 {
		gop := strconv.Itoa(cfg.GOPSize)
		args = append(args, "-g", gop, "-keyint_min", gop, "-sc_threshold", "0")
	}
	args = append(args, "-bf", strconv.Itoa(cfg.MaxBFrames))
	if threads > 0 {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	args = append(args, "-f", "mpegts", "-muxdelay", "0", "-muxpreload", "0")

	return NewCommandBuilder(ffmpegPath).
		HideBanner().
		NoStdin().
		InputArgs(
			"-f", "rawvideo",
			"-pix_fmt", "yuv420p",
			"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			"-framerate", rate.String(),
		).
		Input("pipe:0").
		Output("pipe:1", args...)
}

// audioEncodeArgs builds an AAC encoder reading interleaved float samples
// on stdin and writing MPEG-TS on stdout.
func audioEncodeArgs(ffmpegPath string, cfg media.AudioEncoderConfig, threads int) *CommandBuilder {
	args := []string{"-c:a", encoderNames["aac"]}
	if cfg.BitRate > 0 {
		args = append(args, "-b:a", strconv.FormatInt(cfg.BitRate, 10))
	}
	if threads > 0 {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	args = append(args, "-f", "mpegts", "-muxdelay", "0", "-muxpreload", "0")

	return NewCommandBuilder(ffmpegPath).
		HideBanner().
		NoStdin().
		InputArgs(
			"-f", "f32le",
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-ac", strconv.Itoa(cfg.Channels),
		).
		Input("pipe:0").
		Output("pipe:1", args...)
}

// pipeEncoder feeds raw frames to an ffmpeg encoder process and turns the
// MPEG-TS it writes back into packets.
//
// Output timestamps are mapped back onto the caller's clock: the first
// access unit lines up with the first frame sent, and later units keep
// their distance from it. For video each unit is matched to the frame it
// was encoded from, so gaps in the input clock survive the round trip.
type pipeEncoder struct {
	params media.CodecParams
	cmd    *Command
	stdin  io.WriteCloser
	logger *slog.Logger

	// Caller goroutine only.
	buf      []byte
	flushing bool
	lastPTS  int64

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*media.Packet
	done     bool
	err      error
	sentPTS  []int64
	firstPTS int64
	havePTS  bool
	base     int64
	haveBase bool

	readerDone chan struct{}
	closeOnce  sync.Once
}

func startPipeEncoder(cmd *Command, params media.CodecParams, logger *slog.Logger) (*pipeEncoder, error) {
	e := &pipeEncoder{
		params:     params,
		cmd:        cmd,
		logger:     logger,
		lastPTS:    media.NoPTS,
		readerDone: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	e.stdin = NewCountingWriterCloser(stdin, cmd.Monitor())
	go e.read(NewCountingReader(stdout, cmd.Monitor()))
	return e, nil
}

func (e *pipeEncoder) Params() media.CodecParams {
	return e.params
}

// SendFrame writes one frame to the encoder process. A nil frame closes the
// process input; the remaining packets are then returned by ReceivePacket.
func (e *pipeEncoder) SendFrame(f *media.Frame) error {
	if e.flushing {
		return media.ErrEOF
	}
	if f == nil {
		e.flushing = true
		if err := e.stdin.Close(); err != nil {
			e.logger.Debug("closing encoder input", slog.String("error", err.Error()))
		}
		return nil
	}

	e.mu.Lock()
	failed := e.err
	e.mu.Unlock()
	if failed != nil {
		return failed
	}

	var err error
	if e.params.Type == media.MediaTypeVideo {
		e.buf, err = packPicture(e.buf[:0], f, e.params)
	} else {
		e.buf, err = packSamples(e.buf[:0], f, e.params)
	}
	if err != nil {
		return err
	}

	pts := f.PTS
	if pts == media.NoPTS {
		pts = 0
		if e.lastPTS != media.NoPTS {
			pts = e.lastPTS + 1
		}
	}
	e.lastPTS = pts

	e.mu.Lock()
	if !e.havePTS {
		e.firstPTS = pts
		e.havePTS = true
	}
	if e.params.Type == media.MediaTypeVideo {
		e.sentPTS = append(e.sentPTS, pts)
	}
	e.mu.Unlock()

	if _, err := e.stdin.Write(e.buf); err != nil {
		// A broken pipe means the process died; its exit status says why.
		<-e.readerDone
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.err != nil {
			return e.err
		}
		return fmt.Errorf("writing to %s encoder: %w", e.params.Codec, err)
	}
	return nil
}

// ReceivePacket returns the next encoded packet. Before flushing it never
// blocks and returns ErrAgain when nothing is ready. After flushing it waits
// for the process to produce output or exit.
func (e *pipeEncoder) ReceivePacket() (*media.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flushing {
		for len(e.queue) == 0 && !e.done {
			e.cond.Wait()
		}
	}
	if len(e.queue) > 0 {
		pkt := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		return pkt, nil
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.flushing {
		return nil, media.ErrEOF
	}
	return nil, media.ErrAgain
}

// Close stops the encoder process. It is safe to call more than once.
func (e *pipeEncoder) Close() error {
	e.closeOnce.Do(func() {
		if !e.flushing {
			e.flushing = true
			_ = e.stdin.Close()
		}
		if err := e.cmd.Kill(); err != nil {
			e.logger.Debug("failed to kill encoder process", slog.String("error", err.Error()))
		}
		<-e.readerDone
	})
	return nil
}

// read demuxes the process output until it ends, then records how the
// process exited.
func (e *pipeEncoder) read(r io.Reader) {
	defer close(e.readerDone)

	err := e.demux(r)
	// Drain anything left so the process is never blocked on a full pipe.
	_, _ = io.Copy(io.Discard, r)
	if werr := e.cmd.Wait(); werr != nil {
		err = werr
	}

	e.mu.Lock()
	e.done = true
	if err != nil {
		e.err = fmt.Errorf("%s encoder: %w", e.params.Codec, err)
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

func (e *pipeEncoder) demux(r io.Reader) error {
	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		e.mu.Lock()
		sent := e.havePTS
		e.mu.Unlock()
		if !sent {
			// Nothing was encoded, so there is no stream to find.
			return nil
		}
		return fmt.Errorf("initializing mpegts reader: %w", err)
	}

	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			if e.params.Type == media.MediaTypeVideo {
				reader.OnDataH264(track, e.onH264)
			}
		case *mpegts.CodecMPEG4Audio:
			if e.params.Type == media.MediaTypeAudio {
				reader.OnDataMPEG4Audio(track, e.onMPEG4Audio)
			}
		}
	}

	reader.OnDecodeError(func(err error) {
		e.logger.Debug("encoder output decode error", slog.String("error", err.Error()))
	})

	for {
		if err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

func (e *pipeEncoder) onH264(pts, dts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	data, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return fmt.Errorf("marshaling access unit: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveBase {
		e.base = pts
		e.haveBase = true
	}
	frameTB := e.params.FrameRate.Invert()
	ordinal := media.Rescale(pts-e.base, media.TimeBaseMPEGTS, frameTB)

	var outPTS int64
	if ordinal >= 0 && ordinal < int64(len(e.sentPTS)) {
		outPTS = e.sentPTS[ordinal]
	} else {
		outPTS = e.firstPTS + media.Rescale(ordinal, frameTB, e.params.TimeBase)
	}

	e.push(&media.Packet{
		PTS:      outPTS,
		DTS:      outPTS + media.Rescale(dts-pts, media.TimeBaseMPEGTS, e.params.TimeBase),
		Duration: media.Rescale(1, frameTB, e.params.TimeBase),
		TimeBase: e.params.TimeBase,
		Keyframe: h264.IsRandomAccess(au),
		Data:     data,
	})
	return nil
}

func (e *pipeEncoder) onMPEG4Audio(pts int64, aus [][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveBase {
		e.base = pts
		e.haveBase = true
	}
	sampleTB := media.Rational{Num: 1, Den: e.params.SampleRate}
	start := media.Rescale(pts-e.base, media.TimeBaseMPEGTS, sampleTB)
	duration := media.Rescale(aacFrameSize, sampleTB, e.params.TimeBase)

	for i, au := range aus {
		if len(au) == 0 {
			continue
		}
		offset := media.Rescale(start+int64(i*aacFrameSize), sampleTB, e.params.TimeBase)
		e.push(&media.Packet{
			PTS:      e.firstPTS + offset,
			DTS:      e.firstPTS + offset,
			Duration: duration,
			TimeBase: e.params.TimeBase,
			Keyframe: true,
			Data:     append([]byte(nil), au...),
		})
	}
	return nil
}

// push queues a packet. The caller holds mu.
func (e *pipeEncoder) push(pkt *media.Packet) {
	e.queue = append(e.queue, pkt)
	e.cond.Broadcast()
}

// packPicture appends the visible rows of every plane, dropping any line
// padding.
func packPicture(dst []byte, f *media.Frame, params media.CodecParams) ([]byte, error) {
	if f.Width != params.Width || f.Height != params.Height || f.PixFmt != params.PixFmt {
		return dst, fmt.Errorf("%w: frame %dx%d %s, encoder wants %dx%d %s", media.ErrInvalid,
			f.Width, f.Height, f.PixFmt, params.Width, params.Height, params.PixFmt)
	}
	if len(f.Data) < f.PixFmt.PlaneCount() || len(f.Linesize) < f.PixFmt.PlaneCount() {
		return dst, fmt.Errorf("%w: frame has %d planes", media.ErrInvalid, len(f.Data))
	}
	for i := range f.PixFmt.PlaneCount() {
		w, h := f.PixFmt.PlaneSize(i, f.Width, f.Height)
		stride := f.Linesize[i]
		if stride < w || len(f.Data[i]) < stride*(h-1)+w {
			return dst, fmt.Errorf("%w: plane %d too small", media.ErrInvalid, i)
		}
		for row := range h {
			dst = append(dst, f.Data[i][row*stride:row*stride+w]...)
		}
	}
	return dst, nil
}

// packSamples appends samples as interleaved little-endian float32.
func packSamples(dst []byte, f *media.Frame, params media.CodecParams) ([]byte, error) {
	if f.SampleFmt != params.SampleFmt || f.Channels != params.Channels || f.SampleRate != params.SampleRate {
		return dst, fmt.Errorf("%w: audio %s/%dHz/%dch, encoder wants %s/%dHz/%dch", media.ErrInvalid,
			f.SampleFmt, f.SampleRate, f.Channels, params.SampleFmt, params.SampleRate, params.Channels)
	}
	const bps = 4
	n := f.NumSamples

	if !f.SampleFmt.IsPlanar() {
		size := n * f.Channels * bps
		if len(f.Data) < 1 || len(f.Data[0]) < size {
			return dst, fmt.Errorf("%w: audio plane too small", media.ErrInvalid)
		}
		return append(dst, f.Data[0][:size]...), nil
	}

	if len(f.Data) < f.Channels {
		return dst, fmt.Errorf("%w: %d planes for %d channels", media.ErrInvalid, len(f.Data), f.Channels)
	}
	for c := range f.Channels {
		if len(f.Data[c]) < n*bps {
			return dst, fmt.Errorf("%w: audio plane %d too small", media.ErrInvalid, c)
		}
	}
	for i := range n {
		for c := range f.Channels {
			dst = append(dst, f.Data[c][i*bps:(i+1)*bps]...)
		}
	}
	return dst, nil
}
