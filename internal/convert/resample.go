package convert

import (
	"fmt"
	"math"

	"github.com/jmylchreest/abrhls/internal/media"
)

// Default resampler tuning: a short anti-alias filter, a conservative
// cutoff and linear interpolation between input samples.
const (
	DefaultFilterSize = 8
	DefaultCutoff     = 0.6
)

// Resampler converts audio between sample formats, channel layouts and
// sample rates. It keeps filter history and the fractional read position
// across calls so consecutive frames join without discontinuities.
type Resampler struct {
	cfg  media.ResamplerConfig
	step float64

	taps    []float64
	history [][]float64

	pos    float64
	prev   []float64
	primed bool
}

// NewResampler validates cfg and builds a resampler.
func NewResampler(cfg media.ResamplerConfig) (*Resampler, error) {
	if cfg.InRate <= 0 || cfg.OutRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d: %w", cfg.InRate, cfg.OutRate, media.ErrInvalid)
	}
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("invalid channel counts %d -> %d: %w", cfg.InChannels, cfg.OutChannels, media.ErrInvalid)
	}
	if cfg.InFormat.BytesPerSample() == 0 || cfg.OutFormat.BytesPerSample() == 0 {
		return nil, fmt.Errorf("unsupported sample formats %s -> %s: %w", cfg.InFormat, cfg.OutFormat, media.ErrInvalid)
	}
	if cfg.FilterSize <= 0 {
		cfg.FilterSize = DefaultFilterSize
	}
	if cfg.Cutoff <= 0 || cfg.Cutoff > 1 {
		cfg.Cutoff = DefaultCutoff
	}

	r := &Resampler{
		cfg:  cfg,
		step: float64(cfg.InRate) / float64(cfg.OutRate),
		prev: make([]float64, cfg.OutChannels),
	}
	if cfg.OutRate < cfg.InRate {
		r.taps = lowpass(cfg.FilterSize, cfg.Cutoff*0.5*float64(cfg.OutRate)/float64(cfg.InRate))
		r.history = make([][]float64, cfg.OutChannels)
		for c := range r.history {
			r.history[c] = make([]float64, len(r.taps)-1)
		}
	}
	return r, nil
}

// Convert resamples one frame. The returned frame's sample count depends on
// the rate ratio and carries the input PTS unchanged.
func (r *Resampler) Convert(src *media.Frame) (*media.Frame, error) {
	if src == nil {
		return nil, fmt.Errorf("nil frame: %w", media.ErrInvalid)
	}
	if src.SampleRate != r.cfg.InRate || src.Channels != r.cfg.InChannels || src.SampleFmt != r.cfg.InFormat {
		return nil, fmt.Errorf("frame %s/%dHz/%dch does not match resampler input %s/%dHz/%dch: %w",
			src.SampleFmt, src.SampleRate, src.Channels,
			r.cfg.InFormat, r.cfg.InRate, r.cfg.InChannels, media.ErrInvalid)
	}

	chans, err := decodeSamples(src)
	if err != nil {
		return nil, err
	}
	chans = remixChannels(chans, r.cfg.OutChannels)

	if r.cfg.InRate != r.cfg.OutRate {
		if r.taps != nil {
			for c := range chans {
				chans[c] = r.filter(c, chans[c])
			}
		}
		chans = r.interpolate(chans)
	}

	out := encodeSamples(chans, r.cfg.OutFormat, r.cfg.OutRate)
	out.PTS = src.PTS
	out.TimeBase = src.TimeBase
	return out, nil
}

// Close releases nothing; it exists to satisfy media.Resampler.
func (r *Resampler) Close() error {
	return nil
}

// filter applies the FIR lowpass to one channel, carrying history between
// calls.
func (r *Resampler) filter(c int, in []float64) []float64 {
	hist := r.history[c]
	buf := make([]float64, 0, len(hist)+len(in))
	buf = append(buf, hist...)
	buf = append(buf, in...)

	out := make([]float64, len(in))
	for i := range in {
		var acc float64
		for k, tap := range r.taps {
			acc += tap * buf[i+len(r.taps)-1-k]
		}
		out[i] = acc
	}
	copy(hist, buf[len(buf)-len(hist):])
	return out
}

// interpolate converts the sample rate. The read position is tracked
// relative to the current block; position -1 refers to the last sample of
// the previous block.
func (r *Resampler) interpolate(in [][]float64) [][]float64 {
	n := len(in[0])
	out := make([][]float64, len(in))
	if n == 0 {
		return out
	}

	at := func(c, i int) float64 {
		if i < 0 {
			if !r.primed {
				return in[c][0]
			}
			return r.prev[c]
		}
		if i >= n {
			return in[c][n-1]
		}
		return in[c][i]
	}

	t := r.pos
	for t <= float64(n-1) {
		i := int(math.Floor(t))
		frac := t - float64(i)
		for c := range in {
			var v float64
			if r.cfg.Linear || frac == 0 {
				v = at(c, i)*(1-frac) + at(c, i+1)*frac
			} else {
				v = at(c, int(math.Round(t)))
			}
			out[c] = append(out[c], v)
		}
		t += r.step
	}

	r.pos = t - float64(n)
	for c := range in {
		r.prev[c] = in[c][n-1]
	}
	r.primed = true
	return out
}

// lowpass builds a Hann-windowed sinc filter with normalized cutoff fc in
// cycles per sample and unity DC gain.
func lowpass(size int, fc float64) []float64 {
	if size < 2 {
		size = 2
	}
	taps := make([]float64, size)
	mid := float64(size-1) / 2
	var sum float64
	for i := range taps {
		x := float64(i) - mid
		var sinc float64
		if x == 0 {
			sinc = 2 * fc
		} else {
			sinc = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		window := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
		taps[i] = sinc * window
		sum += taps[i]
	}
	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}
	return taps
}
