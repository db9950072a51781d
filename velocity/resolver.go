// Package velocity - Conversion of raw motion observations into real-world
// velocities, validity filtering, and aggregation into velocity fields.
package velocity

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/motion"
	"github.com/YetAnotherUser24/awive/region"
)

// Result is the resolved per-cell outcome. A cell is always present in its
// window's field; Valid distinguishes a usable velocity from a local
// estimate that failed the validity policy. Reason is set only when invalid.
type Result struct {
	CellID     string       `json:"cellId"`
	Position   calib.Point  `json:"position"`
	Velocity   calib.Vector `json:"velocity"`
	Confidence float32      `json:"confidence"`
	Valid      bool         `json:"valid"`
	Reason     string       `json:"reason,omitempty"`
}

// Field maps cell IDs to resolved results for one processed window.
type Field struct {
	// WindowStart is the index of the first frame of the window.
	WindowStart int `json:"windowStart"`
	// Entries holds one result per analysis cell.
	Entries map[string]Result `json:"entries"`
}

// Config is the validity policy.
type Config struct {
	// FrameInterval is the capture spacing in seconds.
	FrameInterval float64 `json:"frameInterval" yaml:"frameInterval"`
	// ConfidenceThreshold marks observations below it invalid.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	// MaxPlausibleVelocity marks resolved magnitudes above it invalid
	// regardless of confidence, guarding against estimator artifacts.
	MaxPlausibleVelocity float64 `json:"maxPlausibleVelocity" yaml:"maxPlausibleVelocity"`
}

// Resolver converts observations through a calibration model and applies the
// validity policy. Stateless and safe for concurrent use.
type Resolver struct {
	model *calib.Model
	cfg   Config
}

// NewResolver validates the policy configuration.
func NewResolver(model *calib.Model, cfg Config) (*Resolver, error) {
	if model == nil {
		return nil, errors.New("velocity: nil calibration model")
	}
	if cfg.FrameInterval <= 0 {
		return nil, errors.Errorf("velocity: frame interval must be positive, got %g", cfg.FrameInterval)
	}
	if cfg.MaxPlausibleVelocity <= 0 {
		return nil, errors.Errorf("velocity: max plausible velocity must be positive, got %g", cfg.MaxPlausibleVelocity)
	}
	return &Resolver{model: model, cfg: cfg}, nil
}

// Resolve converts one observation into a metric result. Never fails at run
// level; policy violations come back as invalid results.
func (r *Resolver) Resolve(obs motion.Observation, cell region.Cell) Result {
	res := Result{
		CellID:     cell.ID,
		Position:   cell.Metric,
		Confidence: obs.Confidence,
	}

	v, err := r.model.Velocity(calib.Point{X: obs.DX, Y: obs.DY}, r.cfg.FrameInterval)
	if err != nil {
		// Unreachable with a validated config; keep the cell rather than
		// dropping it.
		res.Reason = err.Error()
		return res
	}
	res.Velocity = v

	if mag := v.Magnitude(); mag > r.cfg.MaxPlausibleVelocity {
		res.Reason = fmt.Sprintf("magnitude %.3f m/s exceeds plausible maximum %.3f m/s",
			mag, r.cfg.MaxPlausibleVelocity)
		return res
	}
	if obs.Confidence < r.cfg.ConfidenceThreshold {
		res.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f",
			obs.Confidence, r.cfg.ConfidenceThreshold)
		return res
	}

	res.Valid = true
	return res
}

// TimeAverage folds a series of fields into one aggregate field, weighting
// each valid entry by its confidence. Cells with no valid entry anywhere in
// the series come back invalid with the last seen reason.
func TimeAverage(fields []Field) Field {
	agg := Field{WindowStart: -1, Entries: map[string]Result{}}
	if len(fields) == 0 {
		return agg
	}
	agg.WindowStart = fields[0].WindowStart

	type acc struct {
		sumW, sumVX, sumVY float64
		sumConf            float64
		count              int
		last               Result
	}
	cells := map[string]*acc{}
	for _, f := range fields {
		for id, res := range f.Entries {
			a, ok := cells[id]
			if !ok {
				a = &acc{}
				cells[id] = a
			}
			a.last = res
			if !res.Valid {
				continue
			}
			w := float64(res.Confidence)
			a.sumW += w
			a.sumVX += res.Velocity.VX * w
			a.sumVY += res.Velocity.VY * w
			a.sumConf += float64(res.Confidence)
			a.count++
		}
	}

	for id, a := range cells {
		if a.count == 0 || a.sumW == 0 {
			out := a.last
			out.Valid = false
			agg.Entries[id] = out
			continue
		}
		agg.Entries[id] = Result{
			CellID:     id,
			Position:   a.last.Position,
			Velocity:   calib.Vector{VX: a.sumVX / a.sumW, VY: a.sumVY / a.sumW},
			Confidence: float32(a.sumConf / float64(a.count)),
			Valid:      true,
		}
	}
	return agg
}
