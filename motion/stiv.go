// Space-time image velocimetry: the streak angle of a space-time image built
// along a transect encodes the surface velocity component along that line.
package motion

import (
	"math"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/YetAnotherUser24/awive/frame"
	"github.com/YetAnotherUser24/awive/region"
)

// SpaceTimeConfig tunes the space-time strategy.
type SpaceTimeConfig struct {
	// MaxRate caps the reported displacement in px/frame. Streak angles
	// approaching 90° blow up under tan; rates beyond the cap collapse to a
	// zero-confidence observation. Defaults to 20.
	MaxRate float64 `json:"maxRate" yaml:"maxRate"`
	// NoiseFloor is the minimum mean squared gradient for the space-time
	// image to count as textured. Below it the observation gets zero
	// confidence. Defaults to 1e-3.
	NoiseFloor float64 `json:"noiseFloor" yaml:"noiseFloor"`
}

func (c *SpaceTimeConfig) defaults() {
	if c.MaxRate <= 0 {
		c.MaxRate = 20
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = 1e-3
	}
}

// SpaceTime estimates motion from the dominant streak orientation of a
// space-time image, computed with a gradient structure tensor. The tensor
// coherence doubles as the confidence score: parallel streaks give values
// near 1, isotropic noise gives values near 0.
type SpaceTime struct {
	cfg SpaceTimeConfig
}

// NewSpaceTime returns a space-time estimator with defaults applied.
func NewSpaceTime(cfg SpaceTimeConfig) *SpaceTime {
	cfg.defaults()
	return &SpaceTime{cfg: cfg}
}

// Name implements Estimator.
func (e *SpaceTime) Name() string { return StrategySpaceTime }

// EstimateMotion implements Estimator for transect cells.
func (e *SpaceTime) EstimateMotion(window []*frame.Frame, cell region.Cell) (Observation, error) {
	if err := checkWindow(window); err != nil {
		return Observation{}, err
	}

	obs := Observation{CellID: cell.ID, WindowStart: window[0].Index}

	sti := BuildSpaceTimeImage(window, cell)
	rate, coherence := streakRate(sti, e.cfg.NoiseFloor)
	if math.Abs(rate) > e.cfg.MaxRate {
		// Angle estimate degenerated toward vertical streaks; keep the cell
		// in the output but mark it useless.
		return obs, nil
	}

	// The streak angle measures displacement along the transect; project it
	// onto the line direction.
	ux, uy := lineDirection(cell)
	obs.DX = rate * ux
	obs.DY = rate * uy
	obs.Confidence = clampConfidence(coherence)
	return obs, nil
}

// BuildSpaceTimeImage stacks one intensity line per frame along the cell's
// transect, averaging over the cell's perpendicular band, and returns the
// result as an N×L tensor with time on the first axis.
func BuildSpaceTimeImage(window []*frame.Frame, cell region.Cell) *tensor.Dense {
	length := transectLength(cell)
	n := len(window)
	backing := make([]float64, n*length)

	ux, uy := lineDirection(cell)
	// Perpendicular unit vector for band averaging.
	px, py := -uy, ux
	band := cell.Radius
	if band < 0 {
		band = 0
	}

	for t, f := range window {
		for i := 0; i < length; i++ {
			x := cell.Start.X + float64(i)*ux
			y := cell.Start.Y + float64(i)*uy
			var sum float64
			for b := -band; b <= band; b++ {
				sum += float64(f.Bilinear(x+float64(b)*px, y+float64(b)*py))
			}
			backing[t*length+i] = sum / float64(2*band+1)
		}
	}

	return tensor.New(tensor.WithShape(n, length), tensor.WithBacking(backing))
}

// streakRate estimates the dominant streak orientation of a space-time image
// via the 2x2 gradient structure tensor and converts it to a displacement
// rate in pixels per frame. The second return value is the tensor coherence
// in [0, 1].
//
// With gx the spatial and gt the temporal central difference, a pattern
// moving at u px/frame satisfies gt = -u*gx, so the dominant gradient
// orientation psi gives u = -tan(psi).
func streakRate(sti *tensor.Dense, noiseFloor float64) (rate float64, coherence float32) {
	shape := sti.Shape()
	n, length := shape[0], shape[1]
	if n < 3 || length < 3 {
		return 0, 0
	}
	data := sti.Data().([]float64)

	var jxx, jxt, jtt float64
	for t := 1; t < n-1; t++ {
		for i := 1; i < length-1; i++ {
			gx := (data[t*length+i+1] - data[t*length+i-1]) / 2
			gt := (data[(t+1)*length+i] - data[(t-1)*length+i]) / 2
			jxx += gx * gx
			jxt += gx * gt
			jtt += gt * gt
		}
	}

	count := float64((n - 2) * (length - 2))
	trace := jxx + jtt
	if trace/count < noiseFloor {
		// Flat or noise-dominated image: no streak to measure.
		return 0, 0
	}

	// Orientation of the dominant eigenvector of [[jxx, jxt], [jxt, jtt]].
	psi := 0.5 * math.Atan2(2*jxt, jxx-jtt)
	rate = -math.Tan(psi)

	diff := float32(jxx - jtt)
	coherence = math32.Sqrt(diff*diff+4*float32(jxt)*float32(jxt)) / float32(trace)
	return rate, coherence
}

func transectLength(cell region.Cell) int {
	length := int(cell.Start.Dist(cell.End)) + 1
	if length < 2 {
		length = 2
	}
	return length
}

// lineDirection returns the unit vector from the transect start to its end.
// Point cells default to the +X axis.
func lineDirection(cell region.Cell) (ux, uy float64) {
	dx := cell.End.X - cell.Start.X
	dy := cell.End.Y - cell.Start.Y
	d := math.Hypot(dx, dy)
	if d == 0 {
		return 1, 0
	}
	return dx / d, dy / d
}
