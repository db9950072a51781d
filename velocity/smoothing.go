package velocity

import (
	"github.com/pkg/errors"

	"github.com/YetAnotherUser24/awive/calib"
)

// Smoothing policy names accepted by configuration.
const (
	SmoothingNone               = "none"
	SmoothingConfidenceWeighted = "confidence-weighted"
	SmoothingExponential        = "exponential"
)

// SmoothingPolicy blends a cell's result with its history across overlapping
// windows. Policies are explicit configuration choices; the resolver never
// smooths implicitly. Implementations keep per-cell state and are used from
// the single goroutine that assembles fields, after per-cell workers join.
type SmoothingPolicy interface {
	// Name returns the policy identifier.
	Name() string
	// Apply folds the latest result for a cell into the running estimate
	// and returns the smoothed result. Invalid results pass through
	// unchanged and leave the history untouched.
	Apply(r Result) Result
	// Reset clears accumulated state, for reuse across runs.
	Reset()
}

// NewSmoothingPolicy builds the policy a configuration names. decay is the
// exponential policy's blend factor in (0, 1]; higher values track new
// windows faster.
func NewSmoothingPolicy(name string, decay float64) (SmoothingPolicy, error) {
	switch name {
	case SmoothingNone, "":
		return noSmoothing{}, nil
	case SmoothingConfidenceWeighted:
		return &confidenceWeighted{cells: map[string]*weightedState{}}, nil
	case SmoothingExponential:
		if decay <= 0 || decay > 1 {
			return nil, errors.Errorf("velocity: exponential decay must be in (0, 1], got %g", decay)
		}
		return &exponential{alpha: decay, cells: map[string]Result{}}, nil
	default:
		return nil, errors.Errorf("velocity: unknown smoothing policy %q", name)
	}
}

type noSmoothing struct{}

func (noSmoothing) Name() string          { return SmoothingNone }
func (noSmoothing) Apply(r Result) Result { return r }
func (noSmoothing) Reset()                {}

// confidenceWeighted keeps a running average of each cell's velocity,
// weighted by observation confidence, so sharp well-textured windows
// dominate marginal ones.
type confidenceWeighted struct {
	cells map[string]*weightedState
}

type weightedState struct {
	sumW, sumVX, sumVY float64
}

func (*confidenceWeighted) Name() string { return SmoothingConfidenceWeighted }

func (p *confidenceWeighted) Apply(r Result) Result {
	if !r.Valid {
		return r
	}
	s, ok := p.cells[r.CellID]
	if !ok {
		s = &weightedState{}
		p.cells[r.CellID] = s
	}
	w := float64(r.Confidence)
	if w <= 0 {
		return r
	}
	s.sumW += w
	s.sumVX += r.Velocity.VX * w
	s.sumVY += r.Velocity.VY * w

	out := r
	out.Velocity = calib.Vector{VX: s.sumVX / s.sumW, VY: s.sumVY / s.sumW}
	return out
}

func (p *confidenceWeighted) Reset() {
	p.cells = map[string]*weightedState{}
}

// exponential blends each new window into the running estimate with a fixed
// decay factor: v = alpha*new + (1-alpha)*old.
type exponential struct {
	alpha float64
	cells map[string]Result
}

func (*exponential) Name() string { return SmoothingExponential }

func (p *exponential) Apply(r Result) Result {
	if !r.Valid {
		return r
	}
	prev, ok := p.cells[r.CellID]
	if !ok {
		p.cells[r.CellID] = r
		return r
	}

	out := r
	out.Velocity = calib.Vector{
		VX: p.alpha*r.Velocity.VX + (1-p.alpha)*prev.Velocity.VX,
		VY: p.alpha*r.Velocity.VY + (1-p.alpha)*prev.Velocity.VY,
	}
	p.cells[r.CellID] = out
	return out
}

func (p *exponential) Reset() {
	p.cells = map[string]Result{}
}
