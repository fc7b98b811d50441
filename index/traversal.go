package index

import (
	"math"

	"github.com/arbordb/arbor/distance"
)

// TraversalKernel returns the internal distance the tree variants traverse
// in for a query metric. Manhattan traverses L1; Euclidean traverses true
// L2 (not squared) so the hyperplane and ball bounds compare directly.
// Cosine indexes hold L2-normalized vectors, and between unit vectors L2
// distance is a monotonic transform of cosine distance, so cosine queries
// also traverse in L2 and ReportDistance converts afterwards.
func TraversalKernel(m distance.Metric) func(a, b []float32) float32 {
	if m == distance.MetricManhattan {
		return distance.L1
	}
	return func(a, b []float32) float32 {
		return float32(math.Sqrt(float64(distance.SquaredL2(a, b))))
	}
}

// ReportDistance converts a traversal distance to the metric's reported
// distance: cosine distance equals half the squared L2 distance between
// unit vectors; the other metrics traverse in their own units.
func ReportDistance(m distance.Metric, d float32) float32 {
	if m == distance.MetricCosine {
		return d * d / 2
	}
	return d
}
