package preprocess

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/frame"
)

// gradientFrame builds a frame whose intensity equals x+y, which makes
// geometric transforms easy to verify.
func gradientFrame(w, h int) *frame.Frame {
	f := frame.New(w, h, 0, 0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Pix[y*w+x] = float32(x + y)
		}
	}
	return f
}

func TestFormatter_Crop(t *testing.T) {
	fm, err := NewFormatter(Config{Crop: frame.Rect{X1: 2, Y1: 1, X2: 6, Y2: 4}})
	require.NoError(t, err)

	out, err := fm.Apply(gradientFrame(10, 8))
	require.NoError(t, err)
	require.Equal(t, 4, out.Width)
	require.Equal(t, 3, out.Height)
	require.Equal(t, float32(2+1), out.At(0, 0))
	require.Equal(t, float32(5+3), out.At(3, 2))
}

func TestFormatter_CropOutOfBounds(t *testing.T) {
	fm, err := NewFormatter(Config{Crop: frame.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}})
	require.NoError(t, err)

	_, err = fm.Apply(gradientFrame(10, 8))
	require.Error(t, err)
	var ffe *FrameFormatError
	require.ErrorAs(t, err, &ffe)
}

func TestFormatter_IdentityRectification(t *testing.T) {
	// Corners matching the crop rectangle exactly make the warp a no-op.
	fm, err := NewFormatter(Config{
		Crop: frame.Rect{X1: 0, Y1: 0, X2: 8, Y2: 6},
		Rectification: &Rectification{
			Corners: [4]calib.Point{
				{X: 0, Y: 0}, {X: 8, Y: 0}, {X: 8, Y: 6}, {X: 0, Y: 6},
			},
			OutWidth:  8,
			OutHeight: 6,
		},
	})
	require.NoError(t, err)

	in := gradientFrame(8, 6)
	out, err := fm.Apply(in)
	require.NoError(t, err)
	require.Equal(t, in.Dims(), out.Dims())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			require.InDelta(t, in.At(x, y), out.At(x, y), 0.5, "pixel (%d,%d)", x, y)
		}
	}
}

func TestFormatter_Rotate90(t *testing.T) {
	fm, err := NewFormatter(Config{Rotate: 90, Crop: frame.Rect{X1: 0, Y1: 0, X2: 3, Y2: 4}})
	require.NoError(t, err)

	in := frame.New(4, 3, 0, 0)
	// Single bright pixel at (3, 0) lands at (2, 3) after a clockwise turn.
	in.Pix[0*4+3] = 200
	out, err := fm.Apply(in)
	require.NoError(t, err)
	require.Equal(t, 3, out.Width)
	require.Equal(t, 4, out.Height)
	require.Equal(t, float32(200), out.At(2, 3))
}

func TestFormatter_DenoisePreservesFlatFrames(t *testing.T) {
	fm, err := NewFormatter(Config{
		Crop:         frame.Rect{X1: 0, Y1: 0, X2: 16, Y2: 16},
		DenoiseSigma: 1.2,
	})
	require.NoError(t, err)

	in := frame.New(16, 16, 0, 0)
	for i := range in.Pix {
		in.Pix[i] = 120
	}
	out, err := fm.Apply(in)
	require.NoError(t, err)
	for i := range out.Pix {
		require.InDelta(t, 120, out.Pix[i], 1e-3)
	}
}

func TestMedianFilter_RemovesSpeckle(t *testing.T) {
	in := frame.New(9, 9, 0, 0)
	for i := range in.Pix {
		in.Pix[i] = 50
	}
	in.Pix[4*9+4] = 255 // lone glint

	out := medianFilter(in, 3)
	require.Equal(t, float32(50), out.At(4, 4))
}

func TestFormatter_OutputDims(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want frame.Dims
	}{
		{
			name: "crop only",
			cfg:  Config{Crop: frame.Rect{X1: 10, Y1: 10, X2: 110, Y2: 60}},
			want: frame.Dims{Width: 100, Height: 50},
		},
		{
			name: "rectified",
			cfg: Config{
				Crop: frame.Rect{X1: 0, Y1: 0, X2: 50, Y2: 50},
				Rectification: &Rectification{
					Corners:   [4]calib.Point{{X: 1, Y: 1}, {X: 48, Y: 2}, {X: 47, Y: 49}, {X: 2, Y: 48}},
					OutWidth:  64,
					OutHeight: 32,
				},
			},
			want: frame.Dims{Width: 64, Height: 32},
		},
		{
			name: "resized",
			cfg: Config{
				Crop:         frame.Rect{X1: 0, Y1: 0, X2: 100, Y2: 80},
				ResizeFactor: 0.5,
			},
			want: frame.Dims{Width: 50, Height: 40},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, err := NewFormatter(tt.cfg)
			require.NoError(t, err)
			require.Equal(t, tt.want, fm.OutputDims())
		})
	}
}

func TestNewFormatter_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "empty crop", cfg: Config{}},
		{name: "diagonal rotation", cfg: Config{Rotate: 45, Crop: frame.Rect{X2: 1, Y2: 1}}},
		{name: "even median kernel", cfg: Config{MedianKernel: 4, Crop: frame.Rect{X2: 1, Y2: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFormatter(tt.cfg)
			require.Error(t, err)
		})
	}
}
