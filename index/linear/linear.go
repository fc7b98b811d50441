// Package linear provides the brute-force exact index variant.
//
// Every query scans all live vectors and keeps the k best via a bounded
// max-heap, O(N*D) distance work and O(N log k) selection. It is the
// correctness oracle for the tree variants and the right choice for small
// libraries where tree maintenance is not worth it.
package linear

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/queue"
	"github.com/arbordb/arbor/vectorstore"
)

// Compile-time check to ensure Linear satisfies the index interface.
var _ index.Index = (*Linear)(nil)

// Options contains configuration options for the linear index.
type Options struct {
	// Metric is the default distance metric for this index. Unlike the tree
	// variants, the linear index stores raw coordinates and can serve any
	// metric per query.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options for the linear index.
var DefaultOptions = Options{
	Metric: distance.MetricEuclidean,
}

// Linear is the brute-force index. Membership is tracked in a Roaring
// bitmap; coordinates live in the shared vector store.
type Linear struct {
	opts  Options
	store vectorstore.Store
	ids   *roaring.Bitmap
}

// New creates a new linear index over the given vector store.
func New(store vectorstore.Store, optFns ...func(o *Options)) (*Linear, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := distance.Provider(opts.Metric); err != nil {
		return nil, err
	}
	return &Linear{
		opts:  opts,
		store: store,
		ids:   roaring.New(),
	}, nil
}

// Name identifies the index variant.
func (l *Linear) Name() string { return "linear" }

// Len returns the number of live vectors.
func (l *Linear) Len() int { return int(l.ids.GetCardinality()) }

// NeedsRebuild always reports false: there is no derived structure to degrade.
func (l *Linear) NeedsRebuild() bool { return false }

// Rebuild is a no-op for the linear index.
func (l *Linear) Rebuild(ctx context.Context) error { return ctx.Err() }

// Insert adds a vector under id.
func (l *Linear) Insert(ctx context.Context, id core.LocalID, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(v) == 0 {
		return index.ErrEmptyVector
	}
	if len(v) != l.store.Dimension() {
		return &index.ErrDimensionMismatch{Expected: l.store.Dimension(), Actual: len(v)}
	}
	if l.ids.Contains(uint32(id)) {
		return &index.ErrNodeAlreadyExists{ID: id}
	}
	if l.opts.Metric == distance.MetricCosine && distance.Magnitude(v) == 0 {
		return distance.ErrDegenerateVector
	}
	if err := l.store.SetVector(id, v); err != nil {
		return err
	}
	l.ids.Add(uint32(id))
	return nil
}

// Delete removes the vector under id.
func (l *Linear) Delete(ctx context.Context, id core.LocalID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.ids.Contains(uint32(id)) {
		return &index.ErrNodeNotFound{ID: id}
	}
	l.ids.Remove(uint32(id))
	return l.store.DeleteVector(id)
}

// KNNSearch scans every live vector and returns the k nearest, ascending by
// (distance, id).
func (l *Linear) KNNSearch(ctx context.Context, q []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != l.store.Dimension() {
		return nil, &index.ErrDimensionMismatch{Expected: l.store.Dimension(), Actual: len(q)}
	}

	metric := l.opts.Metric
	var filter func(id core.LocalID) bool
	if opts != nil {
		metric = opts.Metric
		filter = opts.Filter
	}
	distFn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	top := queue.NewTopK(k)
	it := l.ids.Iterator()
	for it.HasNext() {
		id := core.LocalID(it.Next())
		if filter != nil && !filter(id) {
			continue
		}
		vec, ok := l.store.GetVector(id)
		if !ok {
			// The bitmap and the store are updated together; divergence is a bug.
			panic("linear: id present in index but missing from store")
		}
		d, err := distFn(q, vec)
		if err != nil {
			return nil, err
		}
		top.Offer(id, d)
	}

	items := top.Items()
	results := make([]index.SearchResult, len(items))
	for i, item := range items {
		results[i] = index.SearchResult{ID: item.ID, Distance: item.Distance}
	}
	return results, nil
}
