package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func scalePairs() []RefPair {
	// 0.01 m/px on both axes.
	return []RefPair{
		{Pixel: Point{X: 0, Y: 0}, Metric: Point{X: 0, Y: 0}},
		{Pixel: Point{X: 100, Y: 50}, Metric: Point{X: 1.0, Y: 0.5}},
	}
}

func homographyPairs() []RefPair {
	return []RefPair{
		{Pixel: Point{X: 0, Y: 0}, Metric: Point{X: 0, Y: 0}},
		{Pixel: Point{X: 200, Y: 0}, Metric: Point{X: 4, Y: 0}},
		{Pixel: Point{X: 200, Y: 100}, Metric: Point{X: 4, Y: 2}},
		{Pixel: Point{X: 0, Y: 100}, Metric: Point{X: 0, Y: 2}},
	}
}

func TestNewModel_Errors(t *testing.T) {
	tests := []struct {
		name  string
		pairs []RefPair
	}{
		{
			name:  "too few pairs",
			pairs: []RefPair{{Pixel: Point{X: 1, Y: 1}, Metric: Point{X: 1, Y: 1}}},
		},
		{
			name: "duplicate pixel points",
			pairs: []RefPair{
				{Pixel: Point{X: 10, Y: 10}, Metric: Point{X: 0, Y: 0}},
				{Pixel: Point{X: 10, Y: 10}, Metric: Point{X: 1, Y: 1}},
			},
		},
		{
			name: "collinear along y",
			pairs: []RefPair{
				{Pixel: Point{X: 0, Y: 20}, Metric: Point{X: 0, Y: 0}},
				{Pixel: Point{X: 50, Y: 20}, Metric: Point{X: 1, Y: 0}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.pairs)
			require.Error(t, err)
			var calErr *CalibrationError
			require.ErrorAs(t, err, &calErr)
		})
	}
}

func TestModel_AxisScale(t *testing.T) {
	m, err := NewModel(scalePairs())
	require.NoError(t, err)

	got := m.PixelToMetric(Point{X: 50, Y: 25})
	require.InDelta(t, 0.5, got.X, 1e-9)
	require.InDelta(t, 0.25, got.Y, 1e-9)
}

func TestModel_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		pairs []RefPair
	}{
		{name: "axis scale", pairs: scalePairs()},
		{name: "homography", pairs: homographyPairs()},
	}

	points := []Point{
		{X: 10, Y: 10},
		{X: 150, Y: 75},
		{X: 33.5, Y: 92.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewModel(tt.pairs)
			require.NoError(t, err)

			for _, p := range points {
				metric := m.PixelToMetric(p)
				back, err := m.MetricToPixel(metric)
				require.NoError(t, err)
				require.InDelta(t, p.X, back.X, 1e-6)
				require.InDelta(t, p.Y, back.Y, 1e-6)
			}
		})
	}
}

func TestModel_Velocity(t *testing.T) {
	m, err := NewModel(scalePairs())
	require.NoError(t, err)

	// 2 px/frame at 0.1 s/frame and 0.01 m/px is 0.2 m/s.
	v, err := m.Velocity(Point{X: 2, Y: 0}, 0.1)
	require.NoError(t, err)
	require.InDelta(t, 0.2, v.Magnitude(), 1e-9)
	require.InDelta(t, 0, v.Direction(), 1e-9)
}

func TestModel_VelocityRejectsBadInterval(t *testing.T) {
	m, err := NewModel(scalePairs())
	require.NoError(t, err)

	for _, interval := range []float64{0, -0.1} {
		_, err := m.Velocity(Point{X: 1, Y: 0}, interval)
		require.Error(t, err)
	}
}

func TestMetricFromDistances(t *testing.T) {
	// Unit square with known diagonals.
	want := []Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	distances := map[[2]int]float64{}
	for i := 0; i < len(want); i++ {
		for j := i + 1; j < len(want); j++ {
			distances[[2]int{i, j}] = want[i].Dist(want[j])
		}
	}

	got, err := MetricFromDistances(len(want), distances)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	// The embedding is unique only up to rotation and reflection, so compare
	// recovered pairwise distances instead of raw coordinates.
	for i := 0; i < len(want); i++ {
		for j := i + 1; j < len(want); j++ {
			require.InDelta(t, want[i].Dist(want[j]), got[i].Dist(got[j]), 1e-6,
				"distance between %d and %d", i, j)
		}
	}
}

func TestMetricFromDistances_MissingPair(t *testing.T) {
	_, err := MetricFromDistances(3, map[[2]int]float64{
		{0, 1}: 1.0,
		{1, 2}: 1.0,
	})
	require.Error(t, err)
}

func TestVector_Direction(t *testing.T) {
	v := Vector{VX: 1, VY: 1}
	require.InDelta(t, math.Pi/4, v.Direction(), 1e-9)
}
