// Package distance provides the distance metrics used for vector comparison.
//
// All metrics are pure O(D) functions where smaller means more similar.
// Cosine similarity is converted to a distance (1 - similarity) so a single
// ascending comparator works uniformly across metrics.
package distance

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrDegenerateVector is returned when a zero-norm vector is used with the
// cosine metric. Cosine distance is undefined for the zero vector, so the
// condition is surfaced explicitly instead of dividing by zero.
var ErrDegenerateVector = errors.New("degenerate vector: zero norm under cosine metric")

// Metric identifies the distance metric used for vector comparison.
type Metric int

const (
	// MetricEuclidean is the L2 distance sqrt(sum((a_i-b_i)^2)).
	MetricEuclidean Metric = iota
	// MetricManhattan is the L1 distance sum(|a_i-b_i|).
	MetricManhattan
	// MetricCosine is 1 - cosine similarity.
	MetricCosine
)

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricManhattan:
		return "manhattan"
	case MetricCosine:
		return "cosine"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMetric parses a metric name as used in configuration.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "euclidean", "l2":
		return MetricEuclidean, nil
	case "manhattan", "l1":
		return MetricManhattan, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", s)
	}
}

// Func is a function type for distance calculation between two vectors of
// equal length. Length equality is the caller's responsibility; the only
// runtime error a Func may return is ErrDegenerateVector.
type Func func(a, b []float32) (float32, error)

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricEuclidean:
		return Euclidean, nil
	case MetricManhattan:
		return Manhattan, nil
	case MetricCosine:
		return Cosine, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L1 calculates the Manhattan distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func L1(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Euclidean is the L2 distance. It never fails.
func Euclidean(a, b []float32) (float32, error) {
	return float32(math.Sqrt(float64(SquaredL2(a, b)))), nil
}

// Manhattan is the L1 distance. It never fails.
func Manhattan(a, b []float32) (float32, error) {
	return L1(a, b), nil
}

// Cosine is the cosine distance 1 - (a.b)/(|a||b|).
// It returns ErrDegenerateVector if either vector has zero norm.
func Cosine(a, b []float32) (float32, error) {
	magA := Magnitude(a)
	magB := Magnitude(b)
	if magA == 0 || magB == 0 {
		return 0, ErrDegenerateVector
	}
	return 1 - Dot(a, b)/(magA*magB), nil
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}
