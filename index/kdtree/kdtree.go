// Package kdtree provides the KD-tree index variant.
//
// The tree splits on one coordinate axis per level, chosen cyclically by
// depth. Build partitions at the median of the split axis via quickselect,
// giving O(N log N) construction. Search prunes a sibling subtree when the
// distance from the query to the splitting hyperplane already exceeds the
// current k-th best distance, which yields O(D log N) average behavior.
//
// Known limitations, inherent to KD-trees:
//   - Insert descends comparisons only, O(log N) average but O(N) worst
//     case on adversarial input; the rebuild threshold restores balance.
//   - Pruning loses power as dimensionality grows (or when N <= D), where
//     search degrades toward the O(N*D) brute-force bound. The ball tree
//     variant exists for exactly that regime.
package kdtree

import (
	"context"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/queue"
	"github.com/arbordb/arbor/vectorstore"
)

// Compile-time check to ensure KDTree satisfies the index interface.
var _ index.Index = (*KDTree)(nil)

const nilNode = int32(-1)

// Options contains configuration options for the KD-tree index.
type Options struct {
	// Metric fixes the geometry the tree is built in. Euclidean and
	// Manhattan share raw-coordinate geometry and are interchangeable per
	// query; cosine stores L2-normalized vectors and serves only cosine.
	Metric distance.Metric

	// RebuildThreshold is the fraction of tombstoned nodes (relative to the
	// arena size) past which NeedsRebuild reports true.
	RebuildThreshold float64
}

// DefaultOptions contains the default configuration options for the KD-tree index.
var DefaultOptions = Options{
	Metric:           distance.MetricEuclidean,
	RebuildThreshold: 0.3,
}

// node is an arena slot. The split axis is implicit: depth % dimension.
// A non-nil pivot marks a tombstone: the node keeps its own copy of the
// coordinates so it can route descents after the id and its store slot
// have been released.
type node struct {
	id          core.LocalID
	pivot       []float32
	left, right int32
}

// KDTree is an arena-backed KD-tree. Nodes are addressed by index into the
// arena and coordinates are read from the shared vector store, so deletion
// and rebuild are arena operations rather than pointer surgery.
//
// Deletion tombstones the node: the slot copies its coordinates and keeps
// routing descents, but the id and its store slot are released the moment
// Delete returns, so a later insert may reuse the id freely. Rebuild drops
// the tombstoned slots and restores balance.
type KDTree struct {
	opts      Options
	store     vectorstore.Store
	dim       int
	normalize bool

	nodes []node
	root  int32
	loc   map[core.LocalID]int32 // id -> arena slot, live ids only
	dead  int                    // tombstoned slots since last build
	size  int                    // live count
}

// New creates a new KD-tree index over the given vector store.
func New(store vectorstore.Store, optFns ...func(o *Options)) (*KDTree, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := distance.Provider(opts.Metric); err != nil {
		return nil, err
	}
	if opts.RebuildThreshold <= 0 {
		opts.RebuildThreshold = DefaultOptions.RebuildThreshold
	}
	return &KDTree{
		opts:      opts,
		store:     store,
		dim:       store.Dimension(),
		normalize: opts.Metric == distance.MetricCosine,
		root:      nilNode,
		loc:       make(map[core.LocalID]int32),
	}, nil
}

// Name identifies the index variant.
func (t *KDTree) Name() string { return "kdtree" }

// Len returns the number of live vectors.
func (t *KDTree) Len() int { return t.size }

// NeedsRebuild reports whether tombstones crossed the configured fraction
// of the arena.
func (t *KDTree) NeedsRebuild() bool {
	total := len(t.nodes)
	if total == 0 {
		return false
	}
	return float64(t.dead) > t.opts.RebuildThreshold*float64(total)
}

func (t *KDTree) vector(id core.LocalID) []float32 {
	v, ok := t.store.GetVector(id)
	if !ok {
		// loc and the store are updated together; divergence is a bug.
		panic("kdtree: node references vector missing from store")
	}
	return v
}

// pivot returns the routing coordinates for n: the tombstone's private copy
// when the node is dead, the stored vector otherwise.
func (t *KDTree) pivot(n *node) []float32 {
	if n.pivot != nil {
		return n.pivot
	}
	return t.vector(n.id)
}

// Insert adds a vector under id, descending by split axis and appending a
// new leaf.
func (t *KDTree) Insert(ctx context.Context, id core.LocalID, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(v) == 0 {
		return index.ErrEmptyVector
	}
	if len(v) != t.dim {
		return &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(v)}
	}

	if _, ok := t.loc[id]; ok {
		return &index.ErrNodeAlreadyExists{ID: id}
	}

	vec := v
	if t.normalize {
		norm, ok := distance.NormalizeL2Copy(v)
		if !ok {
			return distance.ErrDegenerateVector
		}
		vec = norm
	}
	if err := t.store.SetVector(id, vec); err != nil {
		return err
	}

	slot := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{id: id, left: nilNode, right: nilNode})
	t.loc[id] = slot
	t.size++

	if t.root == nilNode {
		t.root = slot
		return nil
	}

	stored := t.vector(id)
	cur := t.root
	depth := 0
	for {
		axis := depth % t.dim
		n := &t.nodes[cur]
		pivot := t.pivot(n)
		if stored[axis] < pivot[axis] {
			if n.left == nilNode {
				n.left = slot
				return nil
			}
			cur = n.left
		} else {
			if n.right == nilNode {
				n.right = slot
				return nil
			}
			cur = n.right
		}
		depth++
	}
}

// Delete tombstones the node holding id. The node snapshots its
// coordinates so it can keep routing descents, and the id and its store
// slot are released immediately: a later Insert may reuse the id without a
// rebuild. The arena slot itself is reclaimed by the next Rebuild.
func (t *KDTree) Delete(ctx context.Context, id core.LocalID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slot, ok := t.loc[id]
	if !ok {
		return &index.ErrNodeNotFound{ID: id}
	}
	n := &t.nodes[slot]
	n.pivot = append([]float32(nil), t.vector(id)...)
	delete(t.loc, id)
	t.dead++
	t.size--
	return t.store.DeleteVector(id)
}

type entry struct {
	id  core.LocalID
	vec []float32
}

// Rebuild reconstructs the tree from the live record set, dropping
// tombstones and restoring balanced median splits.
func (t *KDTree) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries := make([]entry, 0, t.size)
	for id := range t.loc {
		entries = append(entries, entry{id: id, vec: t.vector(id)})
	}

	t.nodes = make([]node, 0, len(entries))
	t.loc = make(map[core.LocalID]int32, len(entries))
	t.dead = 0
	t.size = len(entries)
	t.root = t.build(entries, 0)
	return nil
}

// build partitions entries at the median of the cyclic axis and recurses.
func (t *KDTree) build(entries []entry, depth int) int32 {
	if len(entries) == 0 {
		return nilNode
	}
	axis := depth % t.dim
	mid := len(entries) / 2
	selectNth(entries, mid, axis)

	slot := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{id: entries[mid].id, left: nilNode, right: nilNode})
	t.loc[entries[mid].id] = slot

	left := t.build(entries[:mid], depth+1)
	right := t.build(entries[mid+1:], depth+1)
	t.nodes[slot].left = left
	t.nodes[slot].right = right
	return slot
}

// selectNth partially sorts entries so entries[n] holds the n-th smallest
// value on axis, with smaller values before it and larger after
// (quickselect, median-of-three pivot). Average O(len), no full sort.
func selectNth(entries []entry, n, axis int) {
	lo, hi := 0, len(entries)-1
	for lo < hi {
		p := partition(entries, lo, hi, axis)
		switch {
		case p == n:
			return
		case p < n:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

func partition(entries []entry, lo, hi, axis int) int {
	mid := lo + (hi-lo)/2
	if entries[mid].vec[axis] < entries[lo].vec[axis] {
		entries[mid], entries[lo] = entries[lo], entries[mid]
	}
	if entries[hi].vec[axis] < entries[lo].vec[axis] {
		entries[hi], entries[lo] = entries[lo], entries[hi]
	}
	if entries[hi].vec[axis] < entries[mid].vec[axis] {
		entries[hi], entries[mid] = entries[mid], entries[hi]
	}
	pivot := entries[mid].vec[axis]
	entries[mid], entries[hi] = entries[hi], entries[mid]
	store := lo
	for i := lo; i < hi; i++ {
		if entries[i].vec[axis] < pivot {
			entries[i], entries[store] = entries[store], entries[i]
			store++
		}
	}
	entries[store], entries[hi] = entries[hi], entries[store]
	return store
}

// KNNSearch returns the k nearest neighbors of q, ascending by (distance, id).
func (t *KDTree) KNNSearch(ctx context.Context, q []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != t.dim {
		return nil, &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(q)}
	}

	metric := t.opts.Metric
	var filter func(id core.LocalID) bool
	if opts != nil {
		metric = opts.Metric
		filter = opts.Filter
	}
	if err := index.CheckMetric(t.opts.Metric, metric); err != nil {
		return nil, err
	}

	query := q
	if t.normalize {
		norm, ok := distance.NormalizeL2Copy(q)
		if !ok {
			return nil, distance.ErrDegenerateVector
		}
		query = norm
	}

	kernel := index.TraversalKernel(metric)
	top := queue.NewTopK(k)
	t.knn(t.root, 0, query, kernel, filter, top)

	items := top.Items()
	results := make([]index.SearchResult, len(items))
	for i, item := range items {
		results[i] = index.SearchResult{ID: item.ID, Distance: index.ReportDistance(metric, item.Distance)}
	}
	return results, nil
}

// knn is the depth-first descent. The near child is visited first; the far
// child is pruned when the hyperplane distance exceeds the current k-th
// best. The bound is on distance only: filtered-out records are skipped but
// never justify pruning.
func (t *KDTree) knn(slot int32, depth int, q []float32, kernel func(a, b []float32) float32, filter func(core.LocalID) bool, top *queue.TopK) {
	if slot == nilNode {
		return
	}
	n := &t.nodes[slot]
	vec := t.pivot(n)

	if n.pivot == nil && (filter == nil || filter(n.id)) {
		top.Offer(n.id, kernel(q, vec))
	}

	axis := depth % t.dim
	diff := q[axis] - vec[axis]
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}

	t.knn(near, depth+1, q, kernel, filter, top)

	planeDist := diff
	if planeDist < 0 {
		planeDist = -planeDist
	}
	// <= keeps equal-distance candidates visible so id tie-breaking stays
	// identical to the linear oracle.
	if bound, full := top.Bound(); !full || planeDist <= bound {
		t.knn(far, depth+1, q, kernel, filter, top)
	}
}
