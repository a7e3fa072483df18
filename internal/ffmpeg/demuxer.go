package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/abrhls/internal/media"
)

const (
	// Decoded pictures are large, so few are queued ahead of the reader.
	videoQueueDepth = 8
	audioQueueDepth = 256

	// audioChunkDuration is the span of one raw audio packet. Once
	// resampled, a chunk must fit the encoder's sample ring beside a
	// partial frame at any supported output rate.
	audioChunkDuration = 20 * time.Millisecond

	defaultInputSampleRate = 48000
	defaultInputChannels   = 2
)

// decodedStream is one elementary stream decoded by the input process and
// delivered over a pipe.
type decodedStream struct {
	info  media.StreamInfo
	queue chan *media.Packet
	head  *media.Packet
	done  bool
}

// demuxer runs a single ffmpeg process that decodes the selected video and
// audio streams to raw pictures and samples. Packets carry the raw data; the
// matching decoder only reframes it.
type demuxer struct {
	streams  []media.StreamInfo
	duration time.Duration
	decoded  []*decodedStream
	logger   *slog.Logger

	cmd     *Command
	readers []io.Closer
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errMu   sync.Mutex
	readErr error

	finishOnce sync.Once
	finishErr  error
	closeOnce  sync.Once
}

// decodePlan picks the streams the input process decodes: the first video
// stream and the first audio stream. The returned infos describe the raw
// output of the process, not the compressed source.
func decodePlan(streams []media.StreamInfo) (video, audio *media.StreamInfo) {
	for i := range streams {
		s := streams[i]
		switch s.Type {
		case media.MediaTypeVideo:
			if video == nil && s.Width > 0 && s.Height > 0 {
				v := s
				rate := v.FrameRate
				if !rate.Valid() {
					rate = media.Rational{Num: 30, Den: 1}
				}
				v.TimeBase = rate.Invert()
				v.PixFmt = media.PixelFormatYUV420P
				v.Duration = media.Rescale(s.Duration, s.TimeBase, v.TimeBase)
				v.StartTime = media.NoPTS
				video = &v
			}
		case media.MediaTypeAudio:
			if audio == nil {
				a := s
				if a.SampleRate <= 0 {
					a.SampleRate = defaultInputSampleRate
				}
				if a.Channels <= 0 {
					a.Channels = defaultInputChannels
				}
				a.TimeBase = media.Rational{Num: 1, Den: a.SampleRate}
				a.SampleFmt = media.SampleFormatFLT
				a.Duration = media.Rescale(s.Duration, s.TimeBase, a.TimeBase)
				a.StartTime = media.NoPTS
				audio = &a
			}
		}
	}
	return video, audio
}

// decodeArgs builds the input process arguments. Video leaves on fd 3 and
// audio on the next descriptor.
func decodeArgs(ffmpegPath, input string, video, audio *media.StreamInfo, legacySync bool) *CommandBuilder {
	b := NewCommandBuilder(ffmpegPath).
		HideBanner().
		NoStdin().
		InputArgs("-noautorotate").
		Input(input)

	fd := 3
	if video != nil {
		syncArgs := []string{"-fps_mode", "cfr"}
		if legacySync {
			syncArgs = []string{"-vsync", "cfr"}
		}
		args := []string{"-map", "0:" + strconv.Itoa(video.Index)}
		args = append(args, syncArgs...)
		args = append(args,
			"-r", video.TimeBase.Invert().String(),
			"-pix_fmt", "yuv420p",
			"-f", "rawvideo",
		)
		b.Output("pipe:"+strconv.Itoa(fd), args...)
		fd++
	}
	if audio != nil {
		b.Output("pipe:"+strconv.Itoa(fd),
			"-map", "0:"+strconv.Itoa(audio.Index),
			"-af", "aresample=async=1:first_pts=0",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-f", "f32le",
		)
	}
	return b
}

func newDemuxer(ctx context.Context, b *CommandBuilder, probe *ProbeResult, video, audio *media.StreamInfo, logger *slog.Logger) (*demuxer, error) {
	d := &demuxer{
		duration: probe.Duration(),
		logger:   logger,
	}
	for _, s := range probe.StreamInfos() {
		switch {
		case video != nil && s.Index == video.Index:
			s = *video
		case audio != nil && s.Index == audio.Index:
			s = *audio
		}
		d.streams = append(d.streams, s)
	}
	if video == nil && audio == nil {
		return d, nil
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.cmd = b.Build(ctx).WithLogger(logger)

	type pipePair struct {
		r    *os.File
		w    *os.File
		info *media.StreamInfo
	}
	var pipes []pipePair
	for _, info := range []*media.StreamInfo{video, audio} {
		if info == nil {
			continue
		}
		r, w, err := os.Pipe()
		if err != nil {
			for _, p := range pipes {
				p.r.Close()
				p.w.Close()
			}
			d.cancel()
			return nil, fmt.Errorf("creating %s pipe: %w", info.Type, err)
		}
		pipes = append(pipes, pipePair{r: r, w: w, info: info})
		d.cmd.ExtraFiles(w)
	}

	err := d.cmd.Start()
	// The child holds its own copies of the write ends.
	for _, p := range pipes {
		p.w.Close()
	}
	if err != nil {
		for _, p := range pipes {
			p.r.Close()
		}
		d.cancel()
		return nil, err
	}

	for _, p := range pipes {
		depth := audioQueueDepth
		if p.info.Type == media.MediaTypeVideo {
			depth = videoQueueDepth
		}
		s := &decodedStream{info: *p.info, queue: make(chan *media.Packet, depth)}
		d.decoded = append(d.decoded, s)
		d.readers = append(d.readers, p.r)

		d.wg.Add(1)
		go d.pump(ctx, s, NewCountingReader(p.r, d.cmd.Monitor()))
	}
	return d, nil
}

// pump reads fixed-size raw chunks from one pipe until it closes.
func (d *demuxer) pump(ctx context.Context, s *decodedStream, r io.Reader) {
	defer d.wg.Done()
	defer close(s.queue)

	info := s.info
	var chunk, unit int
	if info.Type == media.MediaTypeVideo {
		chunk = info.PixFmt.FrameSize(info.Width, info.Height)
		unit = chunk
	} else {
		unit = info.Channels * info.SampleFmt.BytesPerSample()
		chunk = audioChunkSamples(info.SampleRate) * unit
	}

	var pts int64
	for {
		buf := make([]byte, chunk)
		n, err := io.ReadFull(r, buf)
		if n > 0 && n%unit == 0 {
			pkt := &media.Packet{
				StreamIndex: info.Index,
				PTS:         pts,
				DTS:         pts,
				TimeBase:    info.TimeBase,
				Keyframe:    true,
				Data:        buf[:n],
			}
			if info.Type == media.MediaTypeVideo {
				pkt.Duration = 1
				pts++
			} else {
				pkt.Duration = int64(n / unit)
				pts += pkt.Duration
			}
			select {
			case s.queue <- pkt:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				d.errMu.Lock()
				d.readErr = errors.Join(d.readErr, fmt.Errorf("reading decoded %s: %w", info.Type, err))
				d.errMu.Unlock()
			}
			return
		}
	}
}

func (d *demuxer) Streams() []media.StreamInfo {
	return d.streams
}

func (d *demuxer) Duration() time.Duration {
	return d.duration
}

// ReadPacket returns the earliest of the packets decoded so far. It only
// blocks when no stream has anything ready, so one stream running ahead of
// another never leaves the input process stuck on a full pipe.
func (d *demuxer) ReadPacket() (*media.Packet, error) {
	for {
		var next *decodedStream
		for _, s := range d.decoded {
			if s.head == nil && !s.done {
				select {
				case pkt, ok := <-s.queue:
					s.accept(pkt, ok)
				default:
				}
			}
			if s.head == nil {
				continue
			}
			if next == nil || media.Rescale(s.head.PTS, s.head.TimeBase, next.head.TimeBase) < next.head.PTS {
				next = s
			}
		}
		if next != nil {
			pkt := next.head
			next.head = nil
			return pkt, nil
		}
		if !d.wait() {
			return nil, d.finish()
		}
	}
}

// wait blocks until a live stream delivers a packet or closes. It reports
// false once every stream is done. There is at most one video and one
// audio stream.
func (d *demuxer) wait() bool {
	var live []*decodedStream
	for _, s := range d.decoded {
		if !s.done {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return false
	case 1:
		pkt, ok := <-live[0].queue
		live[0].accept(pkt, ok)
	default:
		select {
		case pkt, ok := <-live[0].queue:
			live[0].accept(pkt, ok)
		case pkt, ok := <-live[1].queue:
			live[1].accept(pkt, ok)
		}
	}
	return true
}

func (s *decodedStream) accept(pkt *media.Packet, ok bool) {
	if !ok {
		s.done = true
		return
	}
	s.head = pkt
}

// audioChunkSamples is the number of samples per channel carried by one raw
// audio packet at rate.
func audioChunkSamples(rate int) int {
	return max(1, int(int64(rate)*int64(audioChunkDuration)/int64(time.Second)))
}

// finish waits for the input process once every pipe has closed. A clean
// exit ends the input with ErrEOF.
func (d *demuxer) finish() error {
	d.finishOnce.Do(func() {
		if d.cmd == nil {
			d.finishErr = media.ErrEOF
			return
		}
		d.wg.Wait()
		err := d.cmd.Wait()
		d.errMu.Lock()
		err = errors.Join(err, d.readErr)
		d.errMu.Unlock()
		if err != nil {
			d.finishErr = fmt.Errorf("decoding input: %w", err)
			return
		}
		d.finishErr = media.ErrEOF
	})
	return d.finishErr
}

// Close stops the input process. It is safe to call more than once.
func (d *demuxer) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd == nil {
			return
		}
		d.cancel()
		if err := d.cmd.Kill(); err != nil {
			d.logger.Debug("failed to kill input process", slog.String("error", err.Error()))
		}
		for _, r := range d.readers {
			r.Close()
		}
		d.wg.Wait()
		// A killed process exits with an error that is expected here.
		_ = d.cmd.Wait()
	})
	return nil
}
