// Package frame - Frame definition and helpers for the velocimetry pipeline.
//
// A Frame is a single grayscale video frame, normalized to float32 intensities
// in [0, 255]. Frames are immutable once constructed: every transform in the
// pipeline produces a new Frame and leaves its input untouched, which lets the
// orchestrator share frames across per-cell workers without locking.
package frame

import (
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// Dims holds the pixel dimensions of a frame.
type Dims struct {
	// Width is the number of columns.
	Width int
	// Height is the number of rows.
	Height int
}

// In reports whether the rectangle (x1,y1)-(x2,y2), exclusive on the far
// edge, fits inside the frame dimensions.
func (d Dims) In(x1, y1, x2, y2 int) bool {
	return x1 >= 0 && y1 >= 0 && x2 <= d.Width && y2 <= d.Height && x1 < x2 && y1 < y2
}

// Rect is a pixel rectangle with an exclusive far edge, shared by the
// preprocessor crop and the region-of-interest configuration.
type Rect struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// Width returns the rectangle width in pixels.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the rectangle height in pixels.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Frame represents one grayscale video frame.
type Frame struct {
	// Pix holds row-major intensity samples, Width*Height values in [0, 255].
	Pix []float32
	// Width is the number of columns.
	Width int
	// Height is the number of rows.
	Height int
	// Index is the zero-based position of the frame in the source sequence.
	Index int
	// Timestamp is the capture time offset from the start of the sequence.
	Timestamp time.Duration
}

// New allocates a zero-valued frame of the given dimensions.
func New(width, height, index int, ts time.Duration) *Frame {
	return &Frame{
		Pix:       make([]float32, width*height),
		Width:     width,
		Height:    height,
		Index:     index,
		Timestamp: ts,
	}
}

// FromImage converts any image.Image into a grayscale Frame using ITU-R
// BT.709 luma coefficients, matching the conversion used elsewhere in the
// pipeline so intensities are comparable across sources.
func FromImage(img image.Image, index int, ts time.Duration) *Frame {
	bounds := img.Bounds()
	f := New(bounds.Dx(), bounds.Dy(), index, ts)

	Parallel(f.Height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			for x := 0; x < f.Width; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				// RGBA() returns 16-bit channels; normalize to 8-bit range.
				luma := 0.2126*float32(r>>8) + 0.7152*float32(g>>8) + 0.0722*float32(b>>8)
				f.Pix[y*f.Width+x] = luma
			}
		}
	})

	return f
}

// Dims returns the frame's pixel dimensions.
func (f *Frame) Dims() Dims {
	return Dims{Width: f.Width, Height: f.Height}
}

// At returns the intensity at (x, y). Out-of-bounds coordinates are clamped
// to the nearest edge pixel, the same edge policy the rectification warp and
// blur kernels use.
func (f *Frame) At(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= f.Width {
		x = f.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= f.Height {
		y = f.Height - 1
	}
	return f.Pix[y*f.Width+x]
}

// Bilinear samples the frame at a fractional position using bilinear
// interpolation. Used by the perspective warp, where source coordinates are
// rarely integral.
func (f *Frame) Bilinear(x, y float64) float32 {
	x0 := int(x)
	y0 := int(y)
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	v00 := f.At(x0, y0)
	v10 := f.At(x0+1, y0)
	v01 := f.At(x0, y0+1)
	v11 := f.At(x0+1, y0+1)

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

// Clone returns a deep copy sharing no backing storage with the receiver.
func (f *Frame) Clone() *Frame {
	out := New(f.Width, f.Height, f.Index, f.Timestamp)
	copy(out.Pix, f.Pix)
	return out
}

// ToGray converts the frame back to a stdlib *image.Gray, clamping samples
// to [0, 255]. Useful for handing frames to encoders and to the resize path.
func (f *Frame) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.Pix[y*f.Width+x]
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return img
}

// Validate checks internal consistency of the frame buffer.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Errorf("frame %d: invalid dimensions %dx%d", f.Index, f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return errors.Errorf("frame %d: pixel buffer holds %d samples, want %d",
			f.Index, len(f.Pix), f.Width*f.Height)
	}
	return nil
}
