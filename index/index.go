// Package index provides the spatial index abstraction and types shared by
// its variants (linear scan, KD-tree, ball tree).
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty vector is inserted or queried.
	ErrEmptyVector = errors.New("empty vector")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrNodeNotFound indicates an operation referenced a LocalID the index does
// not hold.
type ErrNodeNotFound struct {
	ID core.LocalID
}

// Error returns the error message for a missing node.
func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node %d not found", e.ID)
}

// ErrNodeAlreadyExists indicates an insert reused a live LocalID. This is a
// caller bug: LocalIDs come from the library's allocator and must be freed
// before reuse.
type ErrNodeAlreadyExists struct {
	ID core.LocalID
}

// Error returns the error message for a duplicate node.
func (e *ErrNodeAlreadyExists) Error() string {
	return fmt.Sprintf("node %d already exists", e.ID)
}

// ErrMetricMismatch indicates a query metric the index geometry cannot
// serve. Tree variants are built in the geometry of their configured
// metric; see CheckMetric for the compatibility rules.
type ErrMetricMismatch struct {
	Configured distance.Metric
	Requested  distance.Metric
}

// Error returns the error message for a metric mismatch.
func (e *ErrMetricMismatch) Error() string {
	return fmt.Sprintf("metric mismatch: index built for %v, query requested %v", e.Configured, e.Requested)
}

// ErrUnsupportedAlgorithm indicates an unknown index algorithm name.
type ErrUnsupportedAlgorithm struct {
	Name string
}

// Error returns the error message for an unsupported algorithm.
func (e *ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("unsupported algorithm: %q", e.Name)
}

// Algorithm selects the spatial index variant backing a library.
type Algorithm int

const (
	// AlgorithmLinear is the exact brute-force scan.
	AlgorithmLinear Algorithm = iota
	// AlgorithmKDTree is the axis-aligned binary space partitioning tree.
	AlgorithmKDTree
	// AlgorithmBallTree is the hypersphere partitioning tree.
	AlgorithmBallTree
)

// String returns the canonical name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmLinear:
		return "linear"
	case AlgorithmKDTree:
		return "kdtree"
	case AlgorithmBallTree:
		return "balltree"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// ParseAlgorithm parses an algorithm name as used in configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "flat":
		return AlgorithmLinear, nil
	case "kdtree", "kd_tree", "kd-tree":
		return AlgorithmKDTree, nil
	case "balltree", "ball_tree", "ball-tree":
		return AlgorithmBallTree, nil
	default:
		return 0, &ErrUnsupportedAlgorithm{Name: s}
	}
}

// SearchResult represents a search result.
type SearchResult struct {
	// ID is the identifier of the search result.
	ID core.LocalID

	// Distance is the distance between the query vector and the result
	// vector under the query metric.
	Distance float32
}

// SearchOptions carries per-query parameters.
type SearchOptions struct {
	// Metric is the distance metric for this query. The index rejects
	// metrics its geometry cannot serve (see CheckMetric).
	Metric distance.Metric

	// Filter restricts results to ids for which it returns true. A record
	// that fails the filter is skipped and does not count toward k; pruning
	// bounds apply to distance only, so the traversal keeps visiting
	// candidates until k matches are found or the index is exhausted.
	Filter func(id core.LocalID) bool
}

// Index is a spatial index over a set of vectors addressed by LocalID.
//
// Implementations are not safe for concurrent use: the library manager
// serializes access with a per-library reader/writer lock, holding the read
// side for KNNSearch and the write side for everything else.
type Index interface {
	// Name identifies the index variant.
	Name() string

	// Insert adds a vector under a LocalID allocated by the caller.
	Insert(ctx context.Context, id core.LocalID, v []float32) error

	// Delete removes the vector under id. After Delete returns, id is
	// unreachable from any search.
	Delete(ctx context.Context, id core.LocalID) error

	// Rebuild discards the derived structure and reconstructs it from the
	// live record set, restoring balance after deletions.
	Rebuild(ctx context.Context) error

	// NeedsRebuild reports whether accumulated deletions crossed the
	// configured threshold and a Rebuild is advised.
	NeedsRebuild() bool

	// Len returns the number of live vectors.
	Len() int

	// KNNSearch returns the k nearest neighbors of q, ascending by
	// (distance, id). Fewer than k results are returned when the (filtered)
	// index holds fewer matches.
	KNNSearch(ctx context.Context, q []float32, k int, opts *SearchOptions) ([]SearchResult, error)
}

// CheckMetric validates that a query metric can be served by an index built
// for the configured metric.
//
// Euclidean and Manhattan share one raw-coordinate geometry: an axis-plane
// distance lower-bounds both, and the ball tree keeps a radius per metric.
// Cosine indexes store L2-normalized vectors and search in that normalized
// space, so cosine and non-cosine are mutually incompatible. Returning an
// error here is deliberate: silently answering with the wrong geometry
// would produce wrong neighbors, which is worse than a visible failure.
func CheckMetric(configured, requested distance.Metric) error {
	if configured == requested {
		return nil
	}
	if configured != distance.MetricCosine && requested != distance.MetricCosine {
		return nil
	}
	return &ErrMetricMismatch{Configured: configured, Requested: requested}
}
