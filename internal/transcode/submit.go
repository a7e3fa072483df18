package transcode

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/abrhls/internal/media"
)

// submitFrame hands one frame to a track's encoder and writes every packet
// that becomes available. When the encoder pushes back, pending packets are
// drained and the frame is offered once more; if that also fails the frame
// is dropped and the run continues.
func (t *Transcoder) submitFrame(tr *track, f *media.Frame) error {
	err := tr.encoder.SendFrame(f)
	if errors.Is(err, media.ErrAgain) {
		if derr := t.drainEncoder(tr); derr != nil {
			return derr
		}
		// The second refusal drops the frame whatever the reason.
		if err = tr.encoder.SendFrame(f); err != nil {
			tr.stats.FramesDropped++
			t.logger.Warn("encoder refused frame after drain, dropping frame",
				slog.String("track", tr.kind.String()),
				slog.Int64("pts", f.PTS),
				slog.Int64("dropped", tr.stats.FramesDropped),
				slog.String("error", err.Error()),
			)
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("sending %s frame to encoder: %w", tr.kind, err)
	}

	tr.stats.FramesEncoded++
	return t.drainEncoder(tr)
}

// drainEncoder writes packets until the encoder needs more input.
func (t *Transcoder) drainEncoder(tr *track) error {
	for {
		pkt, err := tr.encoder.ReceivePacket()
		if errors.Is(err, media.ErrAgain) || errors.Is(err, media.ErrEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving %s packet: %w", tr.kind, err)
		}
		if err := t.writePacket(tr, pkt); err != nil {
			return err
		}
	}
}

// flushEncoder signals end of input to the encoder and writes everything it
// still holds.
func (t *Transcoder) flushEncoder(tr *track) error {
	err := tr.encoder.SendFrame(nil)
	if errors.Is(err, media.ErrAgain) {
		if derr := t.drainEncoder(tr); derr != nil {
			return derr
		}
		err = tr.encoder.SendFrame(nil)
	}
	if err != nil && !errors.Is(err, media.ErrEOF) {
		return fmt.Errorf("flushing %s encoder: %w", tr.kind, err)
	}

	for {
		pkt, err := tr.encoder.ReceivePacket()
		if errors.Is(err, media.ErrEOF) || errors.Is(err, media.ErrAgain) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving %s packet while flushing: %w", tr.kind, err)
		}
		if err := t.writePacket(tr, pkt); err != nil {
			return err
		}
	}
}

// writePacket reconciles timestamps into the output stream's time base and
// hands the packet to the muxer.
func (t *Transcoder) writePacket(tr *track, pkt *media.Packet) error {
	encTB := pkt.TimeBase
	if !encTB.Valid() {
		encTB = tr.params.TimeBase
	}
	pkt.StreamIndex = tr.outIndex

	if tr.ts.Reconcile(pkt, encTB, tr.outTB) {
		t.logger.Debug("moved packet dts forward",
			slog.String("track", tr.kind.String()),
			slog.Int64("dts", pkt.DTS),
		)
	}

	if err := t.muxer.WritePacket(pkt); err != nil {
		return fmt.Errorf("writing %s packet: %w", tr.kind, err)
	}
	tr.stats.Packets++
	tr.stats.Bytes += int64(len(pkt.Data))
	return nil
}
