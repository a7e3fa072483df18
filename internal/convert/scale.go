// Package convert holds the picture scaler and audio resampler used by the
// transcoding pipeline.
package convert

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/jmylchreest/abrhls/internal/media"
)

// Scaler resizes pictures to YUV 4:2:0. Each plane is scaled independently
// as an 8-bit grey image.
type Scaler struct {
	cfg    media.ScalerConfig
	interp draw.Interpolator
}

// NewScaler validates cfg and builds a scaler.
func NewScaler(cfg media.ScalerConfig) (*Scaler, error) {
	if cfg.SrcWidth <= 0 || cfg.SrcHeight <= 0 || cfg.DstWidth <= 0 || cfg.DstHeight <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d -> %dx%d: %w",
			cfg.SrcWidth, cfg.SrcHeight, cfg.DstWidth, cfg.DstHeight, media.ErrInvalid)
	}
	if cfg.SrcFormat.PlaneCount() == 0 {
		return nil, fmt.Errorf("unsupported source pixel format %s: %w", cfg.SrcFormat, media.ErrInvalid)
	}
	if cfg.DstFormat != media.PixelFormatYUV420P {
		return nil, fmt.Errorf("unsupported destination pixel format %s: %w", cfg.DstFormat, media.ErrInvalid)
	}
	return &Scaler{cfg: cfg, interp: interpolator(cfg.Filter)}, nil
}

func interpolator(f media.ScaleFilter) draw.Interpolator {
	switch f {
	case media.ScaleFilterNearest:
		return draw.NearestNeighbor
	case media.ScaleFilterApproxBilinear:
		return draw.ApproxBiLinear
	case media.ScaleFilterCatmullRom:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// Scale converts one picture. The output carries the source PTS and time
// base unchanged.
func (s *Scaler) Scale(src *media.Frame) (*media.Frame, error) {
	if src == nil {
		return nil, fmt.Errorf("nil frame: %w", media.ErrInvalid)
	}
	if src.Width != s.cfg.SrcWidth || src.Height != s.cfg.SrcHeight || src.PixFmt != s.cfg.SrcFormat {
		return nil, fmt.Errorf("frame %dx%d %s does not match scaler input %dx%d %s: %w",
			src.Width, src.Height, src.PixFmt,
			s.cfg.SrcWidth, s.cfg.SrcHeight, s.cfg.SrcFormat, media.ErrInvalid)
	}

	planes, err := toYUV420P(src)
	if err != nil {
		return nil, err
	}

	out := media.NewVideoFrame(s.cfg.DstWidth, s.cfg.DstHeight, media.PixelFormatYUV420P)
	out.PTS = src.PTS
	out.TimeBase = src.TimeBase

	for i, plane := range planes {
		dw, dh := media.PixelFormatYUV420P.PlaneSize(i, s.cfg.DstWidth, s.cfg.DstHeight)
		dst := &image.Gray{Pix: out.Data[i], Stride: out.Linesize[i], Rect: image.Rect(0, 0, dw, dh)}
		if plane.Rect.Dx() == dw && plane.Rect.Dy() == dh {
			draw.Copy(dst, image.Point{}, plane, plane.Rect, draw.Src, nil)
			continue
		}
		s.interp.Scale(dst, dst.Rect, plane, plane.Rect, draw.Src, nil)
	}
	return out, nil
}

// Close releases nothing; it exists to satisfy media.Scaler.
func (s *Scaler) Close() error {
	return nil
}

// toYUV420P views or converts src as three grey planes.
func toYUV420P(src *media.Frame) ([]*image.Gray, error) {
	w, h := src.Width, src.Height
	cw, ch := (w+1)/2, (h+1)/2

	plane := func(i, pw, ph int) (*image.Gray, error) {
		if i >= len(src.Data) || i >= len(src.Linesize) {
			return nil, fmt.Errorf("missing plane %d: %w", i, media.ErrInvalidData)
		}
		stride := src.Linesize[i]
		if stride < pw || len(src.Data[i]) < stride*(ph-1)+pw {
			return nil, fmt.Errorf("plane %d too small for %dx%d: %w", i, pw, ph, media.ErrInvalidData)
		}
		return &image.Gray{Pix: src.Data[i], Stride: stride, Rect: image.Rect(0, 0, pw, ph)}, nil
	}

	switch src.PixFmt {
	case media.PixelFormatYUV420P:
		y, err := plane(0, w, h)
		if err != nil {
			return nil, err
		}
		u, err := plane(1, cw, ch)
		if err != nil {
			return nil, err
		}
		v, err := plane(2, cw, ch)
		if err != nil {
			return nil, err
		}
		return []*image.Gray{y, u, v}, nil

	case media.PixelFormatNV12:
		y, err := plane(0, w, h)
		if err != nil {
			return nil, err
		}
		uv, err := plane(1, cw*2, ch)
		if err != nil {
			return nil, err
		}
		u := image.NewGray(image.Rect(0, 0, cw, ch))
		v := image.NewGray(image.Rect(0, 0, cw, ch))
		for row := range ch {
			for col := range cw {
				u.Pix[row*u.Stride+col] = uv.Pix[row*uv.Stride+col*2]
				v.Pix[row*v.Stride+col] = uv.Pix[row*uv.Stride+col*2+1]
			}
		}
		return []*image.Gray{y, u, v}, nil

	case media.PixelFormatGray8:
		y, err := plane(0, w, h)
		if err != nil {
			return nil, err
		}
		u := image.NewGray(image.Rect(0, 0, cw, ch))
		v := image.NewGray(image.Rect(0, 0, cw, ch))
		for i := range u.Pix {
			u.Pix[i] = 128
			v.Pix[i] = 128
		}
		return []*image.Gray{y, u, v}, nil

	case media.PixelFormatRGBA:
		rgba, err := plane(0, w*4, h)
		if err != nil {
			return nil, err
		}
		return rgbaToYUV420P(rgba.Pix, rgba.Stride, w, h), nil

	default:
		return nil, fmt.Errorf("unsupported pixel format %s: %w", src.PixFmt, media.ErrInvalid)
	}
}

// rgbaToYUV420P converts packed RGBA, averaging chroma over each 2x2 block.
func rgbaToYUV420P(pix []byte, stride, w, h int) []*image.Gray {
	cw, ch := (w+1)/2, (h+1)/2
	y := image.NewGray(image.Rect(0, 0, w, h))
	u := image.NewGray(image.Rect(0, 0, cw, ch))
	v := image.NewGray(image.Rect(0, 0, cw, ch))

	sumCb := make([]int, cw*ch)
	sumCr := make([]int, cw*ch)
	count := make([]int, cw*ch)

	for row := range h {
		for col := range w {
			off := row*stride + col*4
			yy, cb, cr := color.RGBToYCbCr(pix[off], pix[off+1], pix[off+2])
			y.Pix[row*y.Stride+col] = yy
			ci := (row/2)*cw + col/2
			sumCb[ci] += int(cb)
			sumCr[ci] += int(cr)
			count[ci]++
		}
	}
	for i := range count {
		if count[i] == 0 {
			continue
		}
		u.Pix[i] = uint8((sumCb[i] + count[i]/2) / count[i])
		v.Pix[i] = uint8((sumCr[i] + count[i]/2) / count[i])
	}
	return []*image.Gray{y, u, v}
}
