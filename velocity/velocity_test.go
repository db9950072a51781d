package velocity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/motion"
	"github.com/YetAnotherUser24/awive/region"
)

func testModel(t *testing.T) *calib.Model {
	t.Helper()
	// 0.01 m/px on both axes.
	m, err := calib.NewModel([]calib.RefPair{
		{Pixel: calib.Point{X: 0, Y: 0}, Metric: calib.Point{X: 0, Y: 0}},
		{Pixel: calib.Point{X: 100, Y: 100}, Metric: calib.Point{X: 1, Y: 1}},
	})
	require.NoError(t, err)
	return m
}

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(testModel(t), Config{
		FrameInterval:        0.1,
		ConfidenceThreshold:  0.3,
		MaxPlausibleVelocity: 3.0,
	})
	require.NoError(t, err)
	return r
}

func testCell() region.Cell {
	return region.Cell{ID: "cell-000", Metric: calib.Point{X: 0.5, Y: 0.25}}
}

func TestResolver_ValidObservation(t *testing.T) {
	res := testResolver(t).Resolve(motion.Observation{
		CellID:     "cell-000",
		DX:         2,
		Confidence: 0.9,
	}, testCell())

	require.True(t, res.Valid)
	require.Empty(t, res.Reason)
	// 2 px/frame * 0.01 m/px / 0.1 s = 0.2 m/s.
	require.InDelta(t, 0.2, res.Velocity.Magnitude(), 1e-9)
	require.Equal(t, calib.Point{X: 0.5, Y: 0.25}, res.Position)
}

func TestResolver_LowConfidence(t *testing.T) {
	res := testResolver(t).Resolve(motion.Observation{DX: 2, Confidence: 0.1}, testCell())
	require.False(t, res.Valid)
	require.Contains(t, res.Reason, "confidence")
}

func TestResolver_ImplausibleMagnitudeAnyConfidence(t *testing.T) {
	for _, conf := range []float32{0.0, 0.5, 1.0} {
		// 50 px/frame resolves to 5 m/s, above the 3 m/s cap.
		res := testResolver(t).Resolve(motion.Observation{DX: 50, Confidence: conf}, testCell())
		require.False(t, res.Valid, "confidence %v", conf)
		require.Contains(t, res.Reason, "plausible")
	}
}

func TestNewResolver_RejectsBadConfig(t *testing.T) {
	model := testModel(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero interval", cfg: Config{MaxPlausibleVelocity: 1}},
		{name: "zero max velocity", cfg: Config{FrameInterval: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(model, tt.cfg)
			require.Error(t, err)
		})
	}
}

func valid(id string, vx float64, conf float32) Result {
	return Result{
		CellID:     id,
		Velocity:   calib.Vector{VX: vx},
		Confidence: conf,
		Valid:      true,
	}
}

func TestConfidenceWeightedSmoothing(t *testing.T) {
	p, err := NewSmoothingPolicy(SmoothingConfidenceWeighted, 0)
	require.NoError(t, err)

	first := p.Apply(valid("c", 1.0, 0.8))
	require.InDelta(t, 1.0, first.Velocity.VX, 1e-9)

	// 0.8-weighted 1.0 and 0.2-weighted 2.0 average to 1.2.
	second := p.Apply(valid("c", 2.0, 0.2))
	require.InDelta(t, 1.2, second.Velocity.VX, 1e-9)

	// Invalid results pass through and leave history untouched.
	inv := p.Apply(Result{CellID: "c", Valid: false})
	require.False(t, inv.Valid)
	third := p.Apply(valid("c", 1.2, 0.0))
	require.InDelta(t, 1.2, third.Velocity.VX, 1e-9)
}

func TestExponentialSmoothing(t *testing.T) {
	p, err := NewSmoothingPolicy(SmoothingExponential, 0.5)
	require.NoError(t, err)

	p.Apply(valid("c", 2.0, 1))
	out := p.Apply(valid("c", 4.0, 1))
	require.InDelta(t, 3.0, out.Velocity.VX, 1e-9)
}

func TestNewSmoothingPolicy_Errors(t *testing.T) {
	_, err := NewSmoothingPolicy("median-magic", 0.5)
	require.Error(t, err)
	_, err = NewSmoothingPolicy(SmoothingExponential, 0)
	require.Error(t, err)
}

func TestTimeAverage(t *testing.T) {
	fields := []Field{
		{WindowStart: 0, Entries: map[string]Result{
			"a": valid("a", 1.0, 0.5),
			"b": {CellID: "b", Valid: false, Reason: "confidence 0.1 below threshold"},
		}},
		{WindowStart: 2, Entries: map[string]Result{
			"a": valid("a", 3.0, 0.5),
			"b": {CellID: "b", Valid: false, Reason: "confidence 0.1 below threshold"},
		}},
	}

	agg := TimeAverage(fields)
	require.Equal(t, 0, agg.WindowStart)

	a := agg.Entries["a"]
	require.True(t, a.Valid)
	require.InDelta(t, 2.0, a.Velocity.VX, 1e-9)

	b := agg.Entries["b"]
	require.False(t, b.Valid)
}
