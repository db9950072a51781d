// Optical tracking velocimetry: sparse Shi-Tomasi features tracked with
// pyramidal Lucas-Kanade across each consecutive frame pair, aggregated into
// one vector per cell by the median.
package motion

import (
	"image"
	"math"
	"sort"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/YetAnotherUser24/awive/frame"
	"github.com/YetAnotherUser24/awive/region"
)

// FlowConfig tunes feature detection and Lucas-Kanade tracking.
type FlowConfig struct {
	// MaxCorners is the feature budget per cell neighborhood. Defaults to 50.
	MaxCorners int `json:"maxCorners" yaml:"maxCorners"`
	// QualityLevel is the Shi-Tomasi relative quality floor. Defaults to 0.01.
	QualityLevel float64 `json:"qualityLevel" yaml:"qualityLevel"`
	// MinDistance is the minimum pixel spacing between features. Defaults to 5.
	MinDistance float64 `json:"minDistance" yaml:"minDistance"`
	// MinVectors is the number of surviving tracks needed for full
	// confidence. Defaults to 10.
	MinVectors int `json:"minVectors" yaml:"minVectors"`
	// MinAngle and MaxAngle bound the accepted vector direction in degrees
	// when AngleFilter is set, discarding tracks that run against the known
	// flow direction.
	AngleFilter bool    `json:"angleFilter" yaml:"angleFilter"`
	MinAngle    float64 `json:"minAngle" yaml:"minAngle"`
	MaxAngle    float64 `json:"maxAngle" yaml:"maxAngle"`
}

func (c *FlowConfig) defaults() {
	if c.MaxCorners <= 0 {
		c.MaxCorners = 50
	}
	if c.QualityLevel <= 0 {
		c.QualityLevel = 0.01
	}
	if c.MinDistance <= 0 {
		c.MinDistance = 5
	}
	if c.MinVectors <= 0 {
		c.MinVectors = 10
	}
}

// Flow estimates per-cell motion with OpenCV sparse optical flow. One
// estimator instance is safe for concurrent use: all Mats are method-local.
type Flow struct {
	cfg FlowConfig
}

// NewFlow returns a flow-vector estimator with defaults applied.
func NewFlow(cfg FlowConfig) *Flow {
	cfg.defaults()
	return &Flow{cfg: cfg}
}

// Name implements Estimator.
func (e *Flow) Name() string { return StrategyFlowVector }

// EstimateMotion implements Estimator for grid-point cells. Neighborhoods
// without trackable texture yield a zero-displacement, zero-confidence
// observation.
func (e *Flow) EstimateMotion(window []*frame.Frame, cell region.Cell) (Observation, error) {
	if err := checkWindow(window); err != nil {
		return Observation{}, err
	}

	obs := Observation{CellID: cell.ID, WindowStart: window[0].Index}

	roi := neighborhood(cell, window[0].Dims())
	if roi.Empty() {
		return obs, nil
	}

	var dxs, dys []float64
	requested := 0

	for i := 0; i+1 < len(window); i++ {
		pairDx, pairDy, found, err := e.trackPair(window[i], window[i+1], roi)
		if err != nil {
			return Observation{}, err
		}
		requested += found
		dxs = append(dxs, pairDx...)
		dys = append(dys, pairDy...)
	}

	if len(dxs) == 0 {
		// No texture to track anywhere in the window.
		return obs, nil
	}

	sort.Float64s(dxs)
	sort.Float64s(dys)
	obs.DX = stat.Quantile(0.5, stat.Empirical, dxs, nil)
	obs.DY = stat.Quantile(0.5, stat.Empirical, dys, nil)

	// Confidence combines the track survival ratio with how close the
	// surviving count comes to the configured minimum.
	survival := float32(len(dxs)) / float32(requested)
	coverage := math32.Min(1, float32(len(dxs))/float32(e.cfg.MinVectors*(len(window)-1)))
	obs.Confidence = clampConfidence(survival * coverage)
	return obs, nil
}

// trackPair detects features in prev inside roi and tracks them into next.
// Returns per-track displacements and the number of detected features.
func (e *Flow) trackPair(prev, next *frame.Frame, roi frame.Rect) (dxs, dys []float64, found int, err error) {
	prevMat, err := prev.ToMat()
	if err != nil {
		return nil, nil, 0, err
	}
	defer prevMat.Close()
	nextMat, err := next.ToMat()
	if err != nil {
		return nil, nil, 0, err
	}
	defer nextMat.Close()

	rect := image.Rect(roi.X1, roi.Y1, roi.X2, roi.Y2)
	prevRegion := prevMat.Region(rect)
	defer prevRegion.Close()
	nextRegion := nextMat.Region(rect)
	defer nextRegion.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(prevRegion, &corners, e.cfg.MaxCorners, e.cfg.QualityLevel, e.cfg.MinDistance)
	if corners.Rows() == 0 {
		return nil, nil, 0, nil
	}
	found = corners.Rows()

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	trackErr := gocv.NewMat()
	defer trackErr.Close()

	gocv.CalcOpticalFlowPyrLK(prevRegion, nextRegion, corners, nextPts, &status, &trackErr)

	for i := 0; i < corners.Rows(); i++ {
		if status.Rows() <= i || status.GetUCharAt(i, 0) != 1 {
			continue
		}
		p0 := corners.GetVecfAt(i, 0)
		p1 := nextPts.GetVecfAt(i, 0)
		dx := float64(p1[0] - p0[0])
		dy := float64(p1[1] - p0[1])
		if e.cfg.AngleFilter && !angleInWindow(dx, dy, e.cfg.MinAngle, e.cfg.MaxAngle) {
			continue
		}
		dxs = append(dxs, dx)
		dys = append(dys, dy)
	}
	return dxs, dys, found, nil
}

// neighborhood clips the cell's square neighborhood to the frame bounds.
func neighborhood(cell region.Cell, dims frame.Dims) frame.Rect {
	r := cell.Radius
	if r < 1 {
		r = 1
	}
	roi := frame.Rect{
		X1: int(cell.Center.X) - r,
		Y1: int(cell.Center.Y) - r,
		X2: int(cell.Center.X) + r + 1,
		Y2: int(cell.Center.Y) + r + 1,
	}
	if roi.X1 < 0 {
		roi.X1 = 0
	}
	if roi.Y1 < 0 {
		roi.Y1 = 0
	}
	if roi.X2 > dims.Width {
		roi.X2 = dims.Width
	}
	if roi.Y2 > dims.Height {
		roi.Y2 = dims.Height
	}
	return roi
}

// angleInWindow reports whether the vector direction, in degrees from the +X
// axis normalized to [0, 360), falls inside [minAngle, maxAngle]. Windows
// wrapping through 0 are supported by minAngle > maxAngle.
func angleInWindow(dx, dy, minAngle, maxAngle float64) bool {
	deg := math.Atan2(dy, dx) * 180 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if minAngle <= maxAngle {
		return deg >= minAngle && deg <= maxAngle
	}
	return deg >= minAngle || deg <= maxAngle
}
