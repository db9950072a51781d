package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/frame"
	"github.com/YetAnotherUser24/awive/region"
)

// movingPattern builds n frames of a horizontal texture translating at rate
// px/frame. The pattern mixes two spatial frequencies so it has gradient
// energy everywhere along the transect.
func movingPattern(w, h, n int, rate float64) []*frame.Frame {
	window := make([]*frame.Frame, n)
	for t := 0; t < n; t++ {
		f := frame.New(w, h, t, 0)
		offset := rate * float64(t)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				phase := (float64(x) - offset) * 2 * math.Pi
				v := 128 + 60*math.Sin(phase/64) + 30*math.Sin(phase/23)
				f.Pix[y*w+x] = float32(v)
			}
		}
		window[t] = f
	}
	return window
}

func transectCell(w, h int) region.Cell {
	return region.Cell{
		ID:     "cell-000",
		Kind:   region.Transect,
		Start:  calib.Point{X: 4, Y: float64(h) / 2},
		End:    calib.Point{X: float64(w - 5), Y: float64(h) / 2},
		Center: calib.Point{X: float64(w) / 2, Y: float64(h) / 2},
		Radius: 2,
	}
}

func TestSpaceTime_RecoversKnownRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{name: "two px per frame", rate: 2.0},
		{name: "one px per frame", rate: 1.0},
		{name: "reverse flow", rate: -1.5},
	}

	est := NewSpaceTime(SpaceTimeConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := movingPattern(128, 16, 12, tt.rate)
			obs, err := est.EstimateMotion(window, transectCell(128, 16))
			require.NoError(t, err)

			// ±2° of streak angle translates to a rate tolerance that grows
			// with the rate itself.
			tol := math.Abs(math.Tan(math.Atan(tt.rate)+2*math.Pi/180) - tt.rate)
			require.InDelta(t, tt.rate, obs.DX, tol)
			require.InDelta(t, 0, obs.DY, 1e-9)
			require.Greater(t, obs.Confidence, float32(0.5))
		})
	}
}

func TestSpaceTime_ZeroMotion(t *testing.T) {
	window := movingPattern(128, 16, 10, 0)
	obs, err := NewSpaceTime(SpaceTimeConfig{}).EstimateMotion(window, transectCell(128, 16))
	require.NoError(t, err)
	require.InDelta(t, 0, obs.Magnitude(), 0.05)
}

func TestSpaceTime_FlatFramesLowConfidence(t *testing.T) {
	window := make([]*frame.Frame, 8)
	for t2 := range window {
		window[t2] = frame.New(64, 16, t2, 0)
	}
	obs, err := NewSpaceTime(SpaceTimeConfig{}).EstimateMotion(window, transectCell(64, 16))
	require.NoError(t, err)
	require.Equal(t, float32(0), obs.Confidence)
	require.Equal(t, float64(0), obs.Magnitude())
}

func TestSpaceTime_ShortWindow(t *testing.T) {
	window := movingPattern(64, 16, 1, 0)
	_, err := NewSpaceTime(SpaceTimeConfig{}).EstimateMotion(window, transectCell(64, 16))
	require.Error(t, err)
}

func TestBuildSpaceTimeImage_Shape(t *testing.T) {
	window := movingPattern(100, 16, 6, 1)
	cell := transectCell(100, 16)
	sti := BuildSpaceTimeImage(window, cell)

	shape := sti.Shape()
	require.Equal(t, 6, shape[0])
	require.Equal(t, transectLength(cell), shape[1])
}

func TestStreakRate_InjectedAngle(t *testing.T) {
	// Paint streaks directly into a space-time image at a known slope and
	// confirm the structure tensor reads the same angle back.
	for _, slope := range []float64{0.5, 1.0, 3.0} {
		n, length := 32, 128
		backing := make([]float64, n*length)
		for tt := 0; tt < n; tt++ {
			for i := 0; i < length; i++ {
				phase := (float64(i) - slope*float64(tt)) * 2 * math.Pi / 40
				backing[tt*length+i] = 128 + 80*math.Sin(phase)
			}
		}
		sti := tensor.New(tensor.WithShape(n, length), tensor.WithBacking(backing))

		rate, coherence := streakRate(sti, 1e-3)
		angleGot := math.Atan(rate) * 180 / math.Pi
		angleWant := math.Atan(slope) * 180 / math.Pi
		require.InDelta(t, angleWant, angleGot, 2.0, "slope %v", slope)
		require.Greater(t, coherence, float32(0.8), "slope %v", slope)
	}
}

func TestSpaceTime_SlantedTransect(t *testing.T) {
	// Texture varying only along the 45-degree line direction, translating
	// along that direction: the estimate must come back projected onto the
	// line, not flattened onto the image axes.
	const rate = 1.5
	ux := math.Sqrt2 / 2
	uy := math.Sqrt2 / 2

	window := make([]*frame.Frame, 12)
	for tt := range window {
		f := frame.New(100, 100, tt, 0)
		offset := rate * float64(tt)
		for y := 0; y < 100; y++ {
			for x := 0; x < 100; x++ {
				s := float64(x)*ux + float64(y)*uy
				f.Pix[y*100+x] = float32(128 + 80*math.Sin((s-offset)*2*math.Pi/48))
			}
		}
		window[tt] = f
	}

	cell := region.Cell{
		ID:     "cell-000",
		Kind:   region.Transect,
		Start:  calib.Point{X: 10, Y: 10},
		End:    calib.Point{X: 90, Y: 90},
		Center: calib.Point{X: 50, Y: 50},
		Radius: 2,
	}

	obs, err := NewSpaceTime(SpaceTimeConfig{}).EstimateMotion(window, cell)
	require.NoError(t, err)
	require.InDelta(t, rate*ux, obs.DX, 0.1)
	require.InDelta(t, rate*uy, obs.DY, 0.1)
	require.Greater(t, obs.Confidence, float32(0.5))
}

func TestSpaceTime_NilFrame(t *testing.T) {
	window := movingPattern(64, 16, 4, 1)
	window[0] = nil

	_, err := NewSpaceTime(SpaceTimeConfig{}).EstimateMotion(window, transectCell(64, 16))
	require.ErrorContains(t, err, "nil frame")
}
