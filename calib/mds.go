package calib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// MetricFromDistances recovers planar metric coordinates for n ground-control
// points from their pairwise distances, for surveys where tape measurements
// between points are easier to obtain than absolute coordinates.
//
// The solve is classical multidimensional scaling: square the distance
// matrix, double-center it, and project onto the two dominant eigenvectors.
// Every unordered pair (i, j) with i != j must be present in distances,
// keyed either (i, j) or (j, i).
func MetricFromDistances(n int, distances map[[2]int]float64) ([]Point, error) {
	if n < 3 {
		return nil, &CalibrationError{Reason: fmt.Sprintf("distance solve needs at least 3 points, got %d", n)}
	}

	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v, ok := distances[[2]int{i, j}]
			if !ok {
				v, ok = distances[[2]int{j, i}]
			}
			if !ok {
				return nil, &CalibrationError{Reason: fmt.Sprintf("missing distance between points %d and %d", i, j)}
			}
			if v <= 0 {
				return nil, &CalibrationError{Reason: fmt.Sprintf("distance between points %d and %d must be positive, got %g", i, j, v)}
			}
			d.SetSym(i, j, v)
		}
	}

	// b = -0.5 * H * D^2 * H, with H the centering matrix I - 1/n.
	b := mat.NewSymDense(n, nil)
	rowMean := make([]float64, n)
	var grandMean float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sq := d.At(i, j) * d.At(i, j)
			rowMean[i] += sq
			grandMean += sq
		}
		rowMean[i] /= float64(n)
	}
	grandMean /= float64(n * n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sq := d.At(i, j) * d.At(i, j)
			b.SetSym(i, j, -0.5*(sq-rowMean[i]-rowMean[j]+grandMean))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(b, true); !ok {
		return nil, &CalibrationError{Reason: "distance matrix eigendecomposition failed"}
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Two largest eigenvalues carry the planar embedding.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	points := make([]Point, n)
	for dim := 0; dim < 2; dim++ {
		idx := order[dim]
		if vals[idx] <= 0 {
			return nil, &CalibrationError{Reason: "distances are not embeddable in the plane"}
		}
		scale := math.Sqrt(vals[idx])
		for i := 0; i < n; i++ {
			c := vecs.At(i, idx) * scale
			if dim == 0 {
				points[i].X = c
			} else {
				points[i].Y = c
			}
		}
	}
	return points, nil
}
