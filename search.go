package arbor

import (
	"context"
	"fmt"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/metadata"
)

// SearchResult is one kNN neighbor: the record id, its distance from the
// query under the effective metric, and the record's metadata.
type SearchResult struct {
	ID       string
	Distance float32
	Metadata metadata.Metadata
}

type searchOptions struct {
	metric distance.Metric
	filter *metadata.FilterSet
}

// SearchOption configures a single Search call.
type SearchOption func(*searchOptions)

// WithMetric overrides the library's default metric for this query. Tree
// variants accept only overrides compatible with their structural
// geometry; an incompatible override fails with index.ErrMetricMismatch.
func WithMetric(m distance.Metric) SearchOption {
	return func(o *searchOptions) {
		o.metric = m
	}
}

// WithFilter restricts results to records whose metadata satisfies every
// given filter. Filtering never affects the geometry of the search: it is
// applied as a candidate predicate during traversal, and distance bounds
// stay distance-only.
func WithFilter(filters ...metadata.Filter) SearchOption {
	return func(o *searchOptions) {
		o.filter = metadata.NewFilterSet(filters...)
	}
}

// Search returns the k nearest neighbors of query in the library, sorted
// by ascending distance with ties broken by ascending record insertion
// order. If fewer than k records match, all matches are returned; k is
// clamped, never an error.
//
// Search takes the library's read lock only: concurrent searches on the
// same library proceed in parallel.
func (m *Manager) Search(ctx context.Context, libraryID string, query []float32, k int, optFns ...SearchOption) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	lib, err := m.get(libraryID)
	if err != nil {
		return nil, err
	}

	lib.mu.RLock()
	defer lib.mu.RUnlock()
	res, err := lib.search(ctx, query, k, optFns)
	m.opts.logger.LogSearch(ctx, libraryID, k, len(res), err)
	return res, err
}

// search runs under the held read lock.
func (lib *library) search(ctx context.Context, query []float32, k int, optFns []SearchOption) ([]SearchResult, error) {
	if lib.closed {
		return nil, ErrLibraryNotFound
	}
	if lib.dim == 0 {
		// Library registered but no record ever added.
		return []SearchResult{}, nil
	}
	if len(query) != lib.dim {
		return nil, &ErrDimensionMismatch{Expected: lib.dim, Actual: len(query)}
	}

	opts := searchOptions{metric: lib.cfg.Metric}
	for _, fn := range optFns {
		fn(&opts)
	}

	idxOpts := &index.SearchOptions{Metric: opts.metric}
	if !opts.filter.Empty() {
		// Clamp k to the equality-filter candidate bound so the traversal
		// does not chase matches that cannot exist.
		if c := lib.meta.CandidateCount(opts.filter); c < k {
			k = c
		}
		if k == 0 {
			return []SearchResult{}, nil
		}
		fs := opts.filter
		idxOpts.Filter = func(id core.LocalID) bool {
			return lib.meta.Matches(id, fs)
		}
	}

	raw, err := lib.idx.KNNSearch(ctx, query, k, idxOpts)
	if err != nil {
		return nil, translateError(err)
	}

	out := make([]SearchResult, 0, len(raw))
	for _, r := range raw {
		doc, _ := lib.meta.Document(r.ID)
		out = append(out, SearchResult{
			ID:       lib.keys[r.ID],
			Distance: r.Distance,
			// Cloned so callers cannot mutate the indexed document.
			Metadata: doc.Clone(),
		})
	}
	return out, nil
}
