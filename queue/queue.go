// Package queue provides the bounded priority queue used for top-k selection.
package queue

import (
	"container/heap"
	"sort"

	"github.com/arbordb/arbor/core"
)

// Compile time check to ensure TopK satisfies the heap interface.
var _ heap.Interface = (*TopK)(nil)

// Item is a candidate held in the queue.
type Item struct {
	ID       core.LocalID // ID is the record the candidate refers to.
	Distance float32      // Distance is the priority of the item in the queue.
}

// TopK is a bounded max-heap that keeps the k best (smallest-distance)
// candidates seen so far. Ties on distance are broken by ascending ID so
// every index variant ranks identical candidate sets identically.
//
// The heap root is the current worst retained candidate: the one with the
// largest distance, and among equal distances the largest ID.
type TopK struct {
	k     int
	items []Item
}

// NewTopK creates a queue retaining at most k candidates. k must be > 0.
func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]Item, 0, k)}
}

// Len returns the number of retained candidates.
func (q *TopK) Len() int { return len(q.items) }

// Less orders the heap so the worst candidate sits at the root.
func (q *TopK) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// Swap swaps the elements with indexes i and j.
func (q *TopK) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

// Push adds x to the heap. Used by container/heap; callers use Offer.
func (q *TopK) Push(x any) { q.items = append(q.items, x.(Item)) }

// Pop removes and returns the root. Used by container/heap.
func (q *TopK) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// Worst returns the current worst retained candidate.
// Only valid when Full() is true.
func (q *TopK) Worst() Item { return q.items[0] }

// Full reports whether k candidates are retained.
func (q *TopK) Full() bool { return len(q.items) >= q.k }

// Bound returns the distance a new candidate must beat to be retained.
// Until the queue is full every candidate is retained.
func (q *TopK) Bound() (float32, bool) {
	if !q.Full() {
		return 0, false
	}
	return q.items[0].Distance, true
}

// Offer considers a candidate, retaining it if it beats the current worst.
func (q *TopK) Offer(id core.LocalID, dist float32) {
	if len(q.items) < q.k {
		heap.Push(q, Item{ID: id, Distance: dist})
		return
	}
	worst := q.items[0]
	if dist > worst.Distance {
		return
	}
	if dist == worst.Distance && id > worst.ID {
		return
	}
	heap.Pop(q)
	heap.Push(q, Item{ID: id, Distance: dist})
}

// Items returns the retained candidates sorted ascending by
// (distance, id). The queue is left empty.
func (q *TopK) Items() []Item {
	out := q.items
	q.items = nil
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}
