// Package balltree provides the ball tree index variant.
//
// Records are clustered into nested hyperspheres: every node holds a
// centroid and a radius bounding all records in its subtree. Search visits
// the child whose centroid is closer to the query first and prunes a ball
// entirely when distance(query, centroid) - radius already exceeds the
// current k-th best distance, a triangle-inequality bound that stays useful
// at higher dimensionality than axis-plane pruning. It is not immune: as
// dimensionality grows the bounds loosen and search degrades toward the
// O(N*D) brute-force cost (curse of dimensionality).
//
// The tree keeps one radius per supported metric, so a tree built on raw
// coordinates serves both Euclidean and Manhattan queries with exact
// bounds. Split pivots are chosen by the two-pass farthest-point heuristic
// under L2; pivot quality affects balance only, never correctness.
package balltree

import (
	"context"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/queue"
	"github.com/arbordb/arbor/vectorstore"
)

// Compile-time check to ensure BallTree satisfies the index interface.
var _ index.Index = (*BallTree)(nil)

const nilNode = int32(-1)

// Options contains configuration options for the ball tree index.
type Options struct {
	// Metric fixes the geometry the tree is built in. Euclidean and
	// Manhattan share raw-coordinate geometry and are interchangeable per
	// query; cosine stores L2-normalized vectors and serves only cosine.
	Metric distance.Metric

	// LeafSize is the maximum number of records a leaf holds before it is
	// split into a subtree.
	LeafSize int

	// RebuildThreshold is the fraction of deletions (relative to the record
	// count at last build) past which NeedsRebuild reports true.
	RebuildThreshold float64
}

// DefaultOptions contains the default configuration options for the ball tree index.
var DefaultOptions = Options{
	Metric:           distance.MetricEuclidean,
	LeafSize:         16,
	RebuildThreshold: 0.3,
}

// node is an arena slot. Internal nodes have left/right children and no
// ids; leaves hold the record ids in their ball.
type node struct {
	centroid []float32
	radiusL2 float32
	radiusL1 float32
	left     int32
	right    int32
	ids      []core.LocalID
}

func (n *node) leaf() bool { return n.left == nilNode && n.right == nilNode }

func (n *node) radiusFor(m distance.Metric) float32 {
	if m == distance.MetricManhattan {
		return n.radiusL1
	}
	return n.radiusL2
}

// BallTree is an arena-backed ball tree. Nodes are addressed by index into
// the arena; coordinates are read from the shared vector store.
//
// Delete removes the id from its leaf immediately (the id is unreachable
// the moment Delete returns) but leaves ancestor radii unshrunk; Rebuild
// restores tight balls once the deletion threshold is crossed. Leaf splits
// during insert rebuild the overflowing leaf in place, which strands the
// subtree's scratch slot in the arena until the next full Rebuild.
type BallTree struct {
	opts      Options
	store     vectorstore.Store
	dim       int
	normalize bool

	nodes  []node
	root   int32
	leafOf map[core.LocalID]int32
	size   int
	dead   int // deletions since last build
}

// New creates a new ball tree index over the given vector store.
func New(store vectorstore.Store, optFns ...func(o *Options)) (*BallTree, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if _, err := distance.Provider(opts.Metric); err != nil {
		return nil, err
	}
	if opts.LeafSize <= 0 {
		opts.LeafSize = DefaultOptions.LeafSize
	}
	if opts.RebuildThreshold <= 0 {
		opts.RebuildThreshold = DefaultOptions.RebuildThreshold
	}
	return &BallTree{
		opts:      opts,
		store:     store,
		dim:       store.Dimension(),
		normalize: opts.Metric == distance.MetricCosine,
		root:      nilNode,
		leafOf:    make(map[core.LocalID]int32),
	}, nil
}

// Name identifies the index variant.
func (t *BallTree) Name() string { return "balltree" }

// Len returns the number of live vectors.
func (t *BallTree) Len() int { return t.size }

// NeedsRebuild reports whether deletions since the last build crossed the
// configured fraction.
func (t *BallTree) NeedsRebuild() bool {
	total := t.size + t.dead
	if total == 0 {
		return false
	}
	return float64(t.dead) > t.opts.RebuildThreshold*float64(total)
}

func (t *BallTree) vector(id core.LocalID) []float32 {
	v, ok := t.store.GetVector(id)
	if !ok {
		// leafOf and the store are updated together; divergence is a bug.
		panic("balltree: leaf references vector missing from store")
	}
	return v
}

func l2(a, b []float32) float32 {
	return index.TraversalKernel(distance.MetricEuclidean)(a, b)
}

// Insert adds a vector under id, descending to the leaf with the nearest
// centroid and expanding every visited ball's radii on the way down.
func (t *BallTree) Insert(ctx context.Context, id core.LocalID, v []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(v) == 0 {
		return index.ErrEmptyVector
	}
	if len(v) != t.dim {
		return &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(v)}
	}
	if _, ok := t.leafOf[id]; ok {
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
	stored := t.vector(id)

	if t.root == nilNode {
		t.root = t.newLeaf([]entry{{id: id, vec: stored}})
		t.size++
		return nil
	}

	cur := t.root
	for {
		n := &t.nodes[cur]
		n.expand(stored)
		if n.leaf() {
			n.ids = append(n.ids, id)
			t.leafOf[id] = cur
			t.size++
			if len(n.ids) > t.opts.LeafSize {
				t.splitLeaf(cur)
			}
			return nil
		}
		if l2(stored, t.nodes[n.left].centroid) <= l2(stored, t.nodes[n.right].centroid) {
			cur = n.left
		} else {
			cur = n.right
		}
	}
}

// expand grows the ball to cover v.
func (n *node) expand(v []float32) {
	if d := l2(n.centroid, v); d > n.radiusL2 {
		n.radiusL2 = d
	}
	if d := distance.L1(n.centroid, v); d > n.radiusL1 {
		n.radiusL1 = d
	}
}

// splitLeaf rebuilds an overflowing leaf into a subtree, grafted in place.
// build emits fresh leaves (updating leafOf) plus a subtree root that is
// copied over the old leaf slot; the scratch root slot is stranded until
// the next Rebuild reclaims the arena.
func (t *BallTree) splitLeaf(slot int32) {
	ids := t.nodes[slot].ids
	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = entry{id: id, vec: t.vector(id)}
	}
	sub := t.build(entries)
	t.nodes[slot] = t.nodes[sub]
	if t.nodes[slot].leaf() {
		// Unreachable while len(entries) > LeafSize, but keep leafOf
		// pointing at the grafted slot if build ever returns a leaf.
		for _, id := range t.nodes[slot].ids {
			t.leafOf[id] = slot
		}
	}
}

// Delete removes id from its leaf. Ancestor radii are shrunk lazily by the
// next Rebuild.
func (t *BallTree) Delete(ctx context.Context, id core.LocalID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slot, ok := t.leafOf[id]
	if !ok {
		return &index.ErrNodeNotFound{ID: id}
	}
	n := &t.nodes[slot]
	for i, leafID := range n.ids {
		if leafID == id {
			n.ids[i] = n.ids[len(n.ids)-1]
			n.ids = n.ids[:len(n.ids)-1]
			break
		}
	}
	delete(t.leafOf, id)
	t.size--
	t.dead++
	return t.store.DeleteVector(id)
}

type entry struct {
	id  core.LocalID
	vec []float32
}

// Rebuild reconstructs the tree from the live record set, restoring tight
// radii and discarding stranded arena slots.
func (t *BallTree) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries := make([]entry, 0, t.size)
	for id := range t.leafOf {
		entries = append(entries, entry{id: id, vec: t.vector(id)})
	}
	t.nodes = t.nodes[:0]
	t.leafOf = make(map[core.LocalID]int32, len(entries))
	t.size = len(entries)
	t.dead = 0
	if len(entries) == 0 {
		t.root = nilNode
		return nil
	}
	t.root = t.build(entries)
	return nil
}

func (t *BallTree) newLeaf(entries []entry) int32 {
	slot := int32(len(t.nodes))
	n := node{
		centroid: centroid(entries, t.dim),
		left:     nilNode,
		right:    nilNode,
		ids:      make([]core.LocalID, len(entries)),
	}
	for i, e := range entries {
		n.ids[i] = e.id
	}
	t.nodes = append(t.nodes, n)
	t.nodes[slot].setRadii(entries)
	for _, e := range entries {
		t.leafOf[e.id] = slot
	}
	return slot
}

func (n *node) setRadii(entries []entry) {
	for _, e := range entries {
		n.expand(e.vec)
	}
}

// build recursively partitions entries into two child balls assigned to the
// nearer of two well-separated pivots.
func (t *BallTree) build(entries []entry) int32 {
	if len(entries) <= t.opts.LeafSize {
		return t.newLeaf(entries)
	}

	// Two-pass farthest-point heuristic: p1 is the entry farthest from
	// entries[0], p2 the entry farthest from p1.
	p1 := farthestFrom(entries, entries[0].vec)
	p2 := farthestFrom(entries, p1)

	left := make([]entry, 0, len(entries)/2)
	right := make([]entry, 0, len(entries)/2)
	for _, e := range entries {
		if l2(e.vec, p1) < l2(e.vec, p2) {
			left = append(left, e)
		} else {
			right = append(right, e)
		}
	}
	// Duplicate-heavy input can put everything on one side; fall back to an
	// even split so recursion always terminates.
	if len(left) == 0 {
		mid := len(right) / 2
		left, right = right[:mid], right[mid:]
	} else if len(right) == 0 {
		mid := len(left) / 2
		left, right = left[:mid], left[mid:]
	}

	slot := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{
		centroid: centroid(entries, t.dim),
		left:     nilNode,
		right:    nilNode,
	})
	t.nodes[slot].setRadii(entries)

	l := t.build(left)
	r := t.build(right)
	t.nodes[slot].left = l
	t.nodes[slot].right = r
	return slot
}

func farthestFrom(entries []entry, from []float32) []float32 {
	best := entries[0].vec
	var bestDist float32 = -1
	for _, e := range entries {
		if d := l2(e.vec, from); d > bestDist {
			bestDist = d
			best = e.vec
		}
	}
	return best
}

func centroid(entries []entry, dim int) []float32 {
	acc := make([]float64, dim)
	for _, e := range entries {
		for i, x := range e.vec {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	inv := 1 / float64(len(entries))
	for i, x := range acc {
		out[i] = float32(x * inv)
	}
	return out
}

// KNNSearch returns the k nearest neighbors of q, ascending by (distance, id).
func (t *BallTree) KNNSearch(ctx context.Context, q []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
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
	t.knn(t.root, query, metric, kernel, filter, top)

	items := top.Items()
	results := make([]index.SearchResult, len(items))
	for i, item := range items {
		results[i] = index.SearchResult{ID: item.ID, Distance: index.ReportDistance(metric, item.Distance)}
	}
	return results, nil
}

// knn is the depth-first descent. A ball is pruned only when the triangle
// bound distance(q, centroid) - radius strictly exceeds the current k-th
// best, so equal-distance candidates stay visible for id tie-breaking. The
// bound is on distance only: filtered-out records are skipped but never
// justify pruning.
func (t *BallTree) knn(slot int32, q []float32, metric distance.Metric, kernel func(a, b []float32) float32, filter func(core.LocalID) bool, top *queue.TopK) {
	if slot == nilNode {
		return
	}
	n := &t.nodes[slot]
	if bound, full := top.Bound(); full && kernel(q, n.centroid)-n.radiusFor(metric) > bound {
		return
	}

	if n.leaf() {
		for _, id := range n.ids {
			if filter != nil && !filter(id) {
				continue
			}
			top.Offer(id, kernel(q, t.vector(id)))
		}
		return
	}

	first, second := n.left, n.right
	if kernel(q, t.nodes[second].centroid) < kernel(q, t.nodes[first].centroid) {
		first, second = second, first
	}
	t.knn(first, q, metric, kernel, filter, top)
	t.knn(second, q, metric, kernel, filter, top)
}
