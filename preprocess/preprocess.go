// Package preprocess - Per-frame normalization ahead of motion estimation.
//
// The Formatter applies the configured transforms in a fixed order: rotation,
// lens distortion correction, crop, perspective rectification, denoise, and
// finally an optional resize. Rectification runs after the crop because its
// corner points are expressed in crop-relative coordinates. Every step is a
// pure transform producing a new frame.
package preprocess

import (
	"fmt"
	"math"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/frame"
)

// FrameFormatError reports a frame whose dimensions are incompatible with the
// configured crop rectangle. Fatal for the run.
type FrameFormatError struct {
	Got  frame.Dims
	Crop frame.Rect
}

func (e *FrameFormatError) Error() string {
	return fmt.Sprintf("frame %dx%d incompatible with crop (%d,%d)-(%d,%d)",
		e.Got.Width, e.Got.Height, e.Crop.X1, e.Crop.Y1, e.Crop.X2, e.Crop.Y2)
}

// Rectification describes a perspective correction: the four corners of a
// quadrilateral in crop-relative source coordinates that should map onto the
// full output rectangle, ordered top-left, top-right, bottom-right,
// bottom-left.
type Rectification struct {
	Corners   [4]calib.Point `json:"corners" yaml:"corners"`
	OutWidth  int            `json:"outWidth" yaml:"outWidth"`
	OutHeight int            `json:"outHeight" yaml:"outHeight"`
}

// Distortion is the single-coefficient radial lens model: a point at radius r
// from the center (normalized by the focal length) is displaced to
// r * (1 + K1*r^2).
type Distortion struct {
	K1    float64 `json:"k1" yaml:"k1"`
	Focal float64 `json:"focal" yaml:"focal"`
}

// Config selects which transforms the Formatter applies.
type Config struct {
	// Rotate is a whole-frame rotation in degrees, limited to multiples of 90.
	Rotate int `json:"rotate" yaml:"rotate"`
	// Distortion enables radial lens correction when non-nil.
	Distortion *Distortion `json:"distortion,omitempty" yaml:"distortion,omitempty"`
	// Crop is the region extracted from the (rotated, undistorted) frame.
	Crop frame.Rect `json:"crop" yaml:"crop"`
	// Rectification enables perspective correction when non-nil.
	Rectification *Rectification `json:"rectification,omitempty" yaml:"rectification,omitempty"`
	// DenoiseSigma enables Gaussian smoothing when positive.
	DenoiseSigma float64 `json:"denoiseSigma" yaml:"denoiseSigma"`
	// MedianKernel enables median filtering when >= 3 (odd sizes only).
	MedianKernel int `json:"medianKernel" yaml:"medianKernel"`
	// ResizeFactor scales the final frame when in (0, 1) or above 1.
	ResizeFactor float64 `json:"resizeFactor" yaml:"resizeFactor"`
}

// Formatter normalizes raw frames. Build it once per run; it is stateless
// across frames and safe for concurrent use.
type Formatter struct {
	cfg Config

	// warp maps output pixel coordinates to crop-relative source coordinates
	// for the inverse rectification warp. Nil when rectification is off.
	warp *calib.Model

	kernel []float32
}

// NewFormatter validates the configuration and precomputes the rectification
// mapping and blur kernel.
func NewFormatter(cfg Config) (*Formatter, error) {
	if cfg.Crop.Empty() {
		return nil, errors.Errorf("preprocess: empty crop rectangle (%d,%d)-(%d,%d)",
			cfg.Crop.X1, cfg.Crop.Y1, cfg.Crop.X2, cfg.Crop.Y2)
	}
	if cfg.Rotate%90 != 0 {
		return nil, errors.Errorf("preprocess: rotation must be a multiple of 90 degrees, got %d", cfg.Rotate)
	}
	if cfg.MedianKernel != 0 && (cfg.MedianKernel < 3 || cfg.MedianKernel%2 == 0) {
		return nil, errors.Errorf("preprocess: median kernel must be odd and >= 3, got %d", cfg.MedianKernel)
	}
	if cfg.ResizeFactor < 0 {
		return nil, errors.Errorf("preprocess: resize factor must be positive, got %g", cfg.ResizeFactor)
	}

	f := &Formatter{cfg: cfg}

	if r := cfg.Rectification; r != nil {
		if r.OutWidth <= 0 || r.OutHeight <= 0 {
			return nil, errors.Errorf("preprocess: rectification output %dx%d invalid", r.OutWidth, r.OutHeight)
		}
		// The warp model maps output-rectangle corners to the source
		// quadrilateral, so sampling runs destination to source.
		w, h := float64(r.OutWidth), float64(r.OutHeight)
		dst := [4]calib.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
		pairs := make([]calib.RefPair, 4)
		for i := range pairs {
			pairs[i] = calib.RefPair{Pixel: dst[i], Metric: r.Corners[i]}
		}
		warp, err := calib.NewModel(pairs)
		if err != nil {
			return nil, errors.Wrap(err, "preprocess: rectification corners")
		}
		f.warp = warp
	}

	if cfg.DenoiseSigma > 0 {
		radius := int(math.Ceil(cfg.DenoiseSigma * 3))
		f.kernel = gaussianKernel(radius, cfg.DenoiseSigma)
	}

	return f, nil
}

// OutputDims returns the dimensions every normalized frame will have, so the
// region sampler can partition the ROI before the first frame arrives.
func (f *Formatter) OutputDims() frame.Dims {
	d := frame.Dims{Width: f.cfg.Crop.Width(), Height: f.cfg.Crop.Height()}
	if f.cfg.Rectification != nil {
		d = frame.Dims{Width: f.cfg.Rectification.OutWidth, Height: f.cfg.Rectification.OutHeight}
	}
	if f.cfg.ResizeFactor > 0 && f.cfg.ResizeFactor != 1 {
		d = frame.Dims{
			Width:  int(float64(d.Width)*f.cfg.ResizeFactor + 0.5),
			Height: int(float64(d.Height)*f.cfg.ResizeFactor + 0.5),
		}
	}
	return d
}

// Apply normalizes one raw frame. The input frame is not modified.
func (f *Formatter) Apply(in *frame.Frame) (*frame.Frame, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	out := in
	if f.cfg.Rotate%360 != 0 {
		out = rotate(out, ((f.cfg.Rotate%360)+360)%360)
	}
	if f.cfg.Distortion != nil {
		out = undistort(out, *f.cfg.Distortion)
	}

	crop := f.cfg.Crop
	if !out.Dims().In(crop.X1, crop.Y1, crop.X2, crop.Y2) {
		return nil, &FrameFormatError{Got: out.Dims(), Crop: crop}
	}
	out = cropFrame(out, crop)

	if f.warp != nil {
		out = f.rectify(out)
	}
	if f.kernel != nil {
		out = gaussianBlur(out, f.kernel)
	}
	if k := f.cfg.MedianKernel; k >= 3 {
		out = medianFilter(out, k)
	}
	if rf := f.cfg.ResizeFactor; rf > 0 && rf != 1 {
		out = resizeFrame(out, rf)
	}

	if out == in {
		out = in.Clone()
	}
	return out, nil
}

func cropFrame(in *frame.Frame, r frame.Rect) *frame.Frame {
	out := frame.New(r.Width(), r.Height(), in.Index, in.Timestamp)
	for y := 0; y < out.Height; y++ {
		src := (y+r.Y1)*in.Width + r.X1
		copy(out.Pix[y*out.Width:(y+1)*out.Width], in.Pix[src:src+out.Width])
	}
	return out
}

// rotate turns the frame by a multiple of 90 degrees clockwise.
func rotate(in *frame.Frame, degrees int) *frame.Frame {
	switch degrees {
	case 90:
		out := frame.New(in.Height, in.Width, in.Index, in.Timestamp)
		for y := 0; y < in.Height; y++ {
			for x := 0; x < in.Width; x++ {
				out.Pix[x*out.Width+(out.Width-1-y)] = in.Pix[y*in.Width+x]
			}
		}
		return out
	case 180:
		out := frame.New(in.Width, in.Height, in.Index, in.Timestamp)
		n := len(in.Pix)
		for i, v := range in.Pix {
			out.Pix[n-1-i] = v
		}
		return out
	case 270:
		out := frame.New(in.Height, in.Width, in.Index, in.Timestamp)
		for y := 0; y < in.Height; y++ {
			for x := 0; x < in.Width; x++ {
				out.Pix[(out.Height-1-x)*out.Width+y] = in.Pix[y*in.Width+x]
			}
		}
		return out
	default:
		return in
	}
}

// undistort resamples the frame through the inverse of the radial model,
// pulling each output pixel from its distorted source position.
func undistort(in *frame.Frame, d Distortion) *frame.Frame {
	out := frame.New(in.Width, in.Height, in.Index, in.Timestamp)
	cx := float64(in.Width) / 2
	cy := float64(in.Height) / 2
	focal := d.Focal
	if focal <= 0 {
		focal = math.Max(cx, cy)
	}

	frame.Parallel(in.Height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			ny := (float64(y) - cy) / focal
			for x := 0; x < in.Width; x++ {
				nx := (float64(x) - cx) / focal
				r2 := nx*nx + ny*ny
				scale := 1 + d.K1*r2
				sx := cx + nx*scale*focal
				sy := cy + ny*scale*focal
				out.Pix[y*in.Width+x] = in.Bilinear(sx, sy)
			}
		}
	})
	return out
}

func (f *Formatter) rectify(in *frame.Frame) *frame.Frame {
	r := f.cfg.Rectification
	out := frame.New(r.OutWidth, r.OutHeight, in.Index, in.Timestamp)

	frame.Parallel(out.Height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < out.Width; x++ {
				src := f.warp.PixelToMetric(calib.Point{X: float64(x), Y: float64(y)})
				out.Pix[y*out.Width+x] = in.Bilinear(src.X, src.Y)
			}
		}
	})
	return out
}

func resizeFrame(in *frame.Frame, factor float64) *frame.Frame {
	w := uint(float64(in.Width)*factor + 0.5)
	h := uint(float64(in.Height)*factor + 0.5)
	img := resize.Resize(w, h, in.ToGray(), resize.Bilinear)
	return frame.FromImage(img, in.Index, in.Timestamp)
}
