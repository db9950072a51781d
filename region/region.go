// Package region - Partition of the calibrated region of interest into
// analysis cells.
//
// Sampling happens once per run, after calibration and before streaming.
// The resulting cell set is deterministic for a given configuration and
// calibration: stable identifiers, stable order. Cells are read-only
// afterwards and shared across workers.
package region

import (
	"fmt"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/frame"
)

// RegionConfigError reports an ROI or spacing configuration the sampler
// cannot honor. Fatal, surfaced before streaming begins.
type RegionConfigError struct {
	Reason string
}

func (e *RegionConfigError) Error() string {
	return fmt.Sprintf("region: %s", e.Reason)
}

// Kind selects the cell geometry.
type Kind int

const (
	// Transect cells are horizontal sampling lines spanning the ROI, used
	// by the space-time estimator.
	Transect Kind = iota
	// GridPoint cells are points with a square neighborhood, used by the
	// flow estimator.
	GridPoint
)

// Cell is one spatial sampling unit. Exactly one metric position corresponds
// to each cell, derived from the calibration model at sampling time.
type Cell struct {
	// ID is stable across runs with identical configuration.
	ID string
	// Kind tells the estimator which geometry fields are meaningful.
	Kind Kind
	// Start and End delimit the sampling line of a Transect cell.
	Start calib.Point
	End   calib.Point
	// Center is the cell midpoint for both kinds.
	Center calib.Point
	// Radius is the neighborhood half-width of a GridPoint cell, and the
	// half-width of the averaging band around a Transect line.
	Radius int
	// Metric is the cell center expressed in real-world coordinates.
	Metric calib.Point
}

// Line is one surveyed transect given by explicit pixel endpoints. Slanted
// lines are common: cross-section transects follow the channel geometry, not
// the image axes.
type Line struct {
	Start calib.Point `json:"start" yaml:"start"`
	End   calib.Point `json:"end" yaml:"end"`
}

// Config drives the partition.
type Config struct {
	// ROI bounds the analyzed area, in normalized-frame pixels.
	ROI frame.Rect `json:"roi" yaml:"roi"`
	// Lines, when non-empty, gives the transects explicitly and takes
	// precedence over the ROI step partition. Only meaningful for the
	// space-time strategy.
	Lines []Line `json:"lines,omitempty" yaml:"lines,omitempty"`
	// Kind selects transect lines or grid points.
	Kind Kind `json:"-" yaml:"-"`
	// Spacing is the pixel step between neighboring cells. Ignored when
	// Count is set.
	Spacing int `json:"cellSpacing" yaml:"cellSpacing"`
	// Count, when positive, requests a fixed number of cells and derives
	// the spacing from the ROI extent.
	Count int `json:"cellCount" yaml:"cellCount"`
	// Radius is the neighborhood half-width attached to every cell.
	// Defaults to half the spacing when zero.
	Radius int `json:"cellRadius" yaml:"cellRadius"`
}

// Sample partitions the ROI into an ordered cell sequence. Calling it twice
// with identical inputs yields an identical sequence.
func Sample(dims frame.Dims, model *calib.Model, cfg Config) ([]Cell, error) {
	if cfg.Kind == Transect && len(cfg.Lines) > 0 {
		return sampleLines(dims, model, cfg)
	}

	roi := cfg.ROI
	if roi.Empty() {
		return nil, &RegionConfigError{Reason: fmt.Sprintf("empty ROI (%d,%d)-(%d,%d)", roi.X1, roi.Y1, roi.X2, roi.Y2)}
	}
	if !dims.In(roi.X1, roi.Y1, roi.X2, roi.Y2) {
		return nil, &RegionConfigError{Reason: fmt.Sprintf(
			"ROI (%d,%d)-(%d,%d) outside frame %dx%d",
			roi.X1, roi.Y1, roi.X2, roi.Y2, dims.Width, dims.Height)}
	}

	spacing := cfg.Spacing
	if cfg.Count > 0 {
		extent := roi.Height()
		if cfg.Kind == GridPoint {
			if roi.Width() < extent {
				extent = roi.Width()
			}
		}
		spacing = extent / (cfg.Count + 1)
	}
	if spacing <= 0 {
		return nil, &RegionConfigError{Reason: fmt.Sprintf("non-positive cell spacing %d", spacing)}
	}

	radius := cfg.Radius
	if radius <= 0 {
		radius = spacing / 2
		if radius < 1 {
			radius = 1
		}
	}

	switch cfg.Kind {
	case Transect:
		return sampleTransects(model, roi, spacing, radius), nil
	case GridPoint:
		return sampleGrid(model, roi, spacing, radius), nil
	default:
		return nil, &RegionConfigError{Reason: fmt.Sprintf("unknown cell kind %d", cfg.Kind)}
	}
}

// sampleLines builds one cell per explicitly surveyed transect, in the
// order the configuration lists them.
func sampleLines(dims frame.Dims, model *calib.Model, cfg Config) ([]Cell, error) {
	radius := cfg.Radius
	if radius < 1 {
		radius = 1
	}

	inFrame := func(p calib.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < float64(dims.Width) && p.Y < float64(dims.Height)
	}

	cells := make([]Cell, 0, len(cfg.Lines))
	for i, ln := range cfg.Lines {
		if !inFrame(ln.Start) || !inFrame(ln.End) {
			return nil, &RegionConfigError{Reason: fmt.Sprintf(
				"line %d (%g,%g)-(%g,%g) outside frame %dx%d",
				i, ln.Start.X, ln.Start.Y, ln.End.X, ln.End.Y, dims.Width, dims.Height)}
		}
		if ln.Start.Dist(ln.End) < 1 {
			return nil, &RegionConfigError{Reason: fmt.Sprintf("line %d is degenerate, endpoints coincide", i)}
		}
		center := calib.Point{X: (ln.Start.X + ln.End.X) / 2, Y: (ln.Start.Y + ln.End.Y) / 2}
		cells = append(cells, Cell{
			ID:     fmt.Sprintf("cell-%03d", i),
			Kind:   Transect,
			Start:  ln.Start,
			End:    ln.End,
			Center: center,
			Radius: radius,
			Metric: model.PixelToMetric(center),
		})
	}
	return cells, nil
}

// sampleTransects lays horizontal sampling lines across the ROI, one per
// spacing step, ordered top to bottom.
func sampleTransects(model *calib.Model, roi frame.Rect, spacing, radius int) []Cell {
	var cells []Cell
	for y := roi.Y1 + spacing/2; y < roi.Y2; y += spacing {
		start := calib.Point{X: float64(roi.X1), Y: float64(y)}
		end := calib.Point{X: float64(roi.X2 - 1), Y: float64(y)}
		center := calib.Point{X: (start.X + end.X) / 2, Y: float64(y)}
		cells = append(cells, Cell{
			ID:     fmt.Sprintf("cell-%03d", len(cells)),
			Kind:   Transect,
			Start:  start,
			End:    end,
			Center: center,
			Radius: radius,
			Metric: model.PixelToMetric(center),
		})
	}
	return cells
}

// sampleGrid lays points on a square lattice inside the ROI, ordered
// row-major, top-left first.
func sampleGrid(model *calib.Model, roi frame.Rect, spacing, radius int) []Cell {
	var cells []Cell
	for y := roi.Y1 + spacing/2; y < roi.Y2; y += spacing {
		for x := roi.X1 + spacing/2; x < roi.X2; x += spacing {
			center := calib.Point{X: float64(x), Y: float64(y)}
			cells = append(cells, Cell{
				ID:     fmt.Sprintf("cell-%03d", len(cells)),
				Kind:   GridPoint,
				Center: center,
				Radius: radius,
				Metric: model.PixelToMetric(center),
			})
		}
	}
	return cells
}
