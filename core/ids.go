// Package core holds identifier types shared by the index and storage layers.
package core

// LocalID is a dense, internal identifier for a record within a single
// library. It is strictly 32-bit and is used for all hot-path structures
// (tree arenas, bitmaps, heaps). The mapping to the caller-facing record id
// is owned by the library manager.
type LocalID uint32

// MaxLocalID is the maximum possible value for a LocalID.
const MaxLocalID = ^LocalID(0)

// IDAllocator hands out dense LocalIDs, reusing slots freed by deletes so
// columnar storage stays compact across churn.
//
// Not safe for concurrent use; callers serialize through the library lock.
type IDAllocator struct {
	next LocalID
	free []LocalID
}

// NewIDAllocator creates an allocator starting at LocalID 0.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Alloc returns the next available LocalID, preferring freed slots.
func (a *IDAllocator) Alloc() LocalID {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}
	id := a.next
	a.next++
	return id
}

// Free returns id to the allocator for reuse.
// The caller must guarantee id is not freed twice.
func (a *IDAllocator) Free(id LocalID) {
	a.free = append(a.free, id)
}

// High returns the exclusive upper bound of IDs handed out so far.
// Slices indexed by LocalID must have at least this length.
func (a *IDAllocator) High() LocalID {
	return a.next
}

// Reset returns the allocator to its initial empty state.
func (a *IDAllocator) Reset() {
	a.next = 0
	a.free = a.free[:0]
}
