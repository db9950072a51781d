// Package motion - Per-cell apparent motion estimation, the algorithmic
// center of the pipeline.
//
// Two interchangeable strategies satisfy the Estimator contract: SpaceTime
// stacks one pixel line per frame into a space-time image and reads the
// streak angle, Flow tracks sparse features with pyramidal Lucas-Kanade and
// aggregates the vectors. Strategy selection is a configuration-time
// decision; both are deterministic for identical frames and configuration,
// and both report degenerate input as a low-confidence observation rather
// than an error.
package motion

import (
	"math"

	"github.com/pkg/errors"

	"github.com/YetAnotherUser24/awive/frame"
	"github.com/YetAnotherUser24/awive/region"
)

// Strategy names accepted by configuration.
const (
	StrategySpaceTime  = "space-time"
	StrategyFlowVector = "flow-vector"
)

// Observation is the raw displacement estimate for one cell over one window
// of frames, in pixels per frame interval. Confidence is bounded to [0, 1];
// zero means the estimate carries no information.
type Observation struct {
	CellID     string
	DX         float64
	DY         float64
	Confidence float32
	// WindowStart is the index of the first frame of the window the
	// observation was computed from.
	WindowStart int
}

// Magnitude returns the displacement rate in pixels per frame.
func (o Observation) Magnitude() float64 {
	return math.Hypot(o.DX, o.DY)
}

// Estimator computes apparent motion for one cell across a window of
// consecutive normalized frames. Implementations are synchronous and safe
// for concurrent use across cells.
type Estimator interface {
	// Name returns the strategy identifier.
	Name() string
	// EstimateMotion requires a window of at least two frames with equal
	// dimensions. Structural misuse (short window, mismatched frames) is an
	// error; a degenerate signal is a low-confidence Observation.
	EstimateMotion(window []*frame.Frame, cell region.Cell) (Observation, error)
}

// New builds the estimator a configuration names. Selection happens once at
// pipeline construction, not per cell.
func New(strategy string, st SpaceTimeConfig, fl FlowConfig) (Estimator, error) {
	switch strategy {
	case StrategySpaceTime:
		return NewSpaceTime(st), nil
	case StrategyFlowVector:
		return NewFlow(fl), nil
	default:
		return nil, errors.Errorf("motion: unknown strategy %q", strategy)
	}
}

// checkWindow validates the structural invariants shared by both strategies.
func checkWindow(window []*frame.Frame) error {
	if len(window) < 2 {
		return errors.Errorf("motion: window needs at least 2 frames, got %d", len(window))
	}
	for _, f := range window {
		if f == nil {
			return errors.New("motion: nil frame in window")
		}
	}
	dims := window[0].Dims()
	for _, f := range window {
		if f.Dims() != dims {
			return errors.Errorf("motion: frame %d is %dx%d, window started at %dx%d",
				f.Index, f.Width, f.Height, dims.Width, dims.Height)
		}
	}
	return nil
}

// clampConfidence bounds a confidence score to [0, 1].
func clampConfidence(c float32) float32 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
