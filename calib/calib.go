// Package calib - Geometric calibration between pixel and real-world
// (metric) coordinates.
//
// A Model is built once from ground-control reference pairs and is immutable
// afterwards, so it can be shared by concurrent per-cell workers without
// locking. With two or three reference pairs the model derives an independent
// scale per axis; with four or more non-collinear pairs it solves a full
// projective homography, which also absorbs perspective foreshortening of
// the water surface.
package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minAxisSpread is the minimum pixel extent along an axis for the per-axis
// scale to be well defined.
const minAxisSpread = 1e-6

// Point is a 2D coordinate, in pixels or meters depending on context.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Vector is a 2D metric velocity in meters per second.
type Vector struct {
	VX float64 `json:"vx" yaml:"vx"`
	VY float64 `json:"vy" yaml:"vy"`
}

// Magnitude returns the speed in m/s.
func (v Vector) Magnitude() float64 { return math.Hypot(v.VX, v.VY) }

// Direction returns the flow direction in radians, counter-clockwise from
// the +X axis.
func (v Vector) Direction() float64 { return math.Atan2(v.VY, v.VX) }

// RefPair couples one pixel coordinate with its surveyed metric coordinate.
type RefPair struct {
	Pixel  Point `json:"pixel" yaml:"pixel"`
	Metric Point `json:"metric" yaml:"metric"`
}

// CalibrationError reports bad or insufficient reference points. It is fatal
// for the run and surfaced before streaming begins.
type CalibrationError struct {
	Reason string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration: %s", e.Reason)
}

// Model converts between pixel and metric coordinates. Immutable after
// construction.
type Model struct {
	pairs []RefPair

	// anchor is the centroid of the pixel reference points, used as the
	// linearization point for displacement conversion.
	anchor Point

	// scaleX/scaleY are per-axis meters-per-pixel factors, used when no
	// homography is available.
	scaleX float64
	scaleY float64

	// homography maps pixel to metric homogeneous coordinates when at least
	// four non-collinear pairs were supplied. inverse is its inversion, nil
	// when the matrix is numerically singular.
	homography *mat.Dense
	inverse    *mat.Dense
}

// NewModel derives a calibration from reference pairs.
//
// Fewer than two pairs, duplicated pixel points, or a degenerate layout
// (no spread along one pixel axis without a homography to compensate)
// produce a *CalibrationError.
func NewModel(pairs []RefPair) (*Model, error) {
	if len(pairs) < 2 {
		return nil, &CalibrationError{Reason: fmt.Sprintf("need at least 2 reference pairs, got %d", len(pairs))}
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if pairs[i].Pixel.Dist(pairs[j].Pixel) < minAxisSpread {
				return nil, &CalibrationError{Reason: fmt.Sprintf("reference pairs %d and %d share the same pixel point", i, j)}
			}
		}
	}

	m := &Model{pairs: append([]RefPair(nil), pairs...)}
	for _, p := range pairs {
		m.anchor.X += p.Pixel.X
		m.anchor.Y += p.Pixel.Y
	}
	m.anchor.X /= float64(len(pairs))
	m.anchor.Y /= float64(len(pairs))

	if len(pairs) >= 4 && !collinear(pairs) {
		h, err := solveHomography(pairs)
		if err != nil {
			return nil, err
		}
		m.homography = h
		m.inverse = invertHomography(h)
		return m, nil
	}

	sx, sy, err := axisScales(pairs)
	if err != nil {
		return nil, err
	}
	m.scaleX, m.scaleY = sx, sy
	return m, nil
}

// PixelToMetric maps a pixel coordinate to real-world meters. Pure function,
// safe for concurrent use.
func (m *Model) PixelToMetric(p Point) Point {
	if m.homography != nil {
		return applyHomography(m.homography, p)
	}
	base := m.pairs[0]
	d := p.Sub(base.Pixel)
	return Point{
		X: base.Metric.X + d.X*m.scaleX,
		Y: base.Metric.Y + d.Y*m.scaleY,
	}
}

// MetricToPixel maps a metric coordinate back to pixels. Returns a
// *CalibrationError when the homography is not invertible.
func (m *Model) MetricToPixel(p Point) (Point, error) {
	if m.homography != nil {
		if m.inverse == nil {
			return Point{}, &CalibrationError{Reason: "homography is not invertible"}
		}
		return applyHomography(m.inverse, p), nil
	}
	base := m.pairs[0]
	d := p.Sub(base.Metric)
	return Point{
		X: base.Pixel.X + d.X/m.scaleX,
		Y: base.Pixel.Y + d.Y/m.scaleY,
	}, nil
}

// Velocity converts a pixel displacement accumulated over one frame interval
// into a metric velocity. The displacement is linearized around the centroid
// of the reference points, which keeps the conversion exact for affine
// calibrations and locally accurate for projective ones.
//
// frameInterval is in seconds and must be positive.
func (m *Model) Velocity(displacement Point, frameInterval float64) (Vector, error) {
	if frameInterval <= 0 {
		return Vector{}, &CalibrationError{Reason: fmt.Sprintf("frame interval must be positive, got %g", frameInterval)}
	}
	from := m.PixelToMetric(m.anchor)
	to := m.PixelToMetric(m.anchor.Add(displacement))
	return Vector{
		VX: (to.X - from.X) / frameInterval,
		VY: (to.Y - from.Y) / frameInterval,
	}, nil
}

// Pairs returns a copy of the reference pairs the model was built from.
func (m *Model) Pairs() []RefPair {
	return append([]RefPair(nil), m.pairs...)
}

// axisScales fits a meters-per-pixel factor per axis across all pair
// combinations by least squares. An axis with no pixel spread is degenerate.
func axisScales(pairs []RefPair) (sx, sy float64, err error) {
	var numX, denX, numY, denY float64
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			dp := pairs[j].Pixel.Sub(pairs[i].Pixel)
			dm := pairs[j].Metric.Sub(pairs[i].Metric)
			numX += dm.X * dp.X
			denX += dp.X * dp.X
			numY += dm.Y * dp.Y
			denY += dp.Y * dp.Y
		}
	}
	if denX < minAxisSpread {
		return 0, 0, &CalibrationError{Reason: "reference points are collinear along x, scale undefined"}
	}
	if denY < minAxisSpread {
		return 0, 0, &CalibrationError{Reason: "reference points are collinear along y, scale undefined"}
	}
	sx = numX / denX
	sy = numY / denY
	if sx == 0 || sy == 0 {
		return 0, 0, &CalibrationError{Reason: "degenerate metric layout, zero scale along one axis"}
	}
	return sx, sy, nil
}

// collinear reports whether all pixel reference points lie on one line. The
// test uses the largest triangle area spanned by any point triple.
func collinear(pairs []RefPair) bool {
	var maxArea float64
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			for k := j + 1; k < len(pairs); k++ {
				a, b, c := pairs[i].Pixel, pairs[j].Pixel, pairs[k].Pixel
				area := math.Abs((b.X-a.X)*(c.Y-a.Y) - (c.X-a.X)*(b.Y-a.Y))
				if area > maxArea {
					maxArea = area
				}
			}
		}
	}
	return maxArea < 1e-3
}

// solveHomography estimates the 3x3 pixel-to-metric homography with the
// direct linear transform: each pair contributes two rows to A·h = 0 and h
// is the right singular vector of A with the smallest singular value.
func solveHomography(pairs []RefPair) (*mat.Dense, error) {
	a := mat.NewDense(2*len(pairs), 9, nil)
	for i, p := range pairs {
		x, y := p.Pixel.X, p.Pixel.Y
		u, v := p.Metric.X, p.Metric.Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y, -u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y, -v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFullV); !ok {
		return nil, &CalibrationError{Reason: "homography SVD failed to converge"}
	}
	var v mat.Dense
	svd.VTo(&v)

	h := make([]float64, 9)
	for i := range h {
		h[i] = v.At(i, 8)
	}
	if math.Abs(h[8]) < 1e-12 {
		return nil, &CalibrationError{Reason: "degenerate homography solution"}
	}
	for i := range h {
		h[i] /= h[8]
	}
	return mat.NewDense(3, 3, h), nil
}

func invertHomography(h *mat.Dense) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		return nil
	}
	return &inv
}

func applyHomography(h *mat.Dense, p Point) Point {
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	if w == 0 {
		w = math.SmallestNonzeroFloat64
	}
	return Point{
		X: (h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)) / w,
	}
}
