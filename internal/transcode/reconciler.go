package transcode

import "github.com/jmylchreest/abrhls/internal/media"

// TimestampState is the per-track timestamp bookkeeping of one run.
type TimestampState struct {
	// nextPTS is the running presentation timestamp in the encoder time
	// base, used for frames that carry no usable timestamp of their own.
	nextPTS   int64
	lastDTS   int64
	hasDTS    bool
	corrected int64
}

// NewTimestampState returns state with no timestamps seen yet.
func NewTimestampState() *TimestampState {
	return &TimestampState{nextPTS: media.NoPTS, lastDTS: media.NoPTS}
}

// Seed sets the running timestamp if it has not been set yet.
func (s *TimestampState) Seed(pts int64) {
	if s.nextPTS == media.NoPTS && pts != media.NoPTS {
		s.nextPTS = pts
	}
}

// NextPTS returns the running timestamp, starting at zero when unseeded.
func (s *TimestampState) NextPTS() int64 {
	if s.nextPTS == media.NoPTS {
		s.nextPTS = 0
	}
	return s.nextPTS
}

// Advance moves the running timestamp forward by n encoder ticks.
func (s *TimestampState) Advance(n int64) {
	s.nextPTS = s.NextPTS() + n
}

// LastDTS is the last decode timestamp written for the track, NoPTS before
// the first packet.
func (s *TimestampState) LastDTS() int64 {
	return s.lastDTS
}

// Corrections counts packets whose DTS had to be moved forward.
func (s *TimestampState) Corrections() int64 {
	return s.corrected
}

// Reconcile rescales pkt from the encoder time base to the output stream
// time base and repairs its timestamps so that DTS strictly increases per
// track and PTS is never earlier than DTS. Missing timestamps stay missing.
// It reports whether the DTS was changed.
func (s *TimestampState) Reconcile(pkt *media.Packet, encTB, streamTB media.Rational) bool {
	pkt.PTS = media.Rescale(pkt.PTS, encTB, streamTB)
	pkt.DTS = media.Rescale(pkt.DTS, encTB, streamTB)
	if pkt.Duration > 0 {
		pkt.Duration = media.Rescale(pkt.Duration, encTB, streamTB)
	}
	pkt.TimeBase = streamTB

	corrected := false
	if pkt.DTS != media.NoPTS {
		if s.hasDTS && pkt.DTS <= s.lastDTS {
			pkt.DTS = s.lastDTS + 1
			s.corrected++
			corrected = true
		}
		s.lastDTS = pkt.DTS
		s.hasDTS = true
	}
	if pkt.PTS != media.NoPTS && pkt.DTS != media.NoPTS && pkt.PTS < pkt.DTS {
		pkt.PTS = pkt.DTS
	}
	return corrected
}
