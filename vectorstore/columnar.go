package vectorstore

import (
	"github.com/arbordb/arbor/core"
)

// Compile-time check to ensure Columnar satisfies the Store interface.
var _ Store = (*Columnar)(nil)

// Columnar is a columnar vector store.
//
// Vectors are stored contiguously in a single []float32 slice, providing
// good cache locality for the sequential scans the linear index and tree
// rebuilds perform: vector id occupies data[id*dim : (id+1)*dim].
//
// Slots are addressed by dense LocalIDs; deleted slots are tracked in a
// validity slice and reused when the allocator hands the id out again.
type Columnar struct {
	dim   int
	data  []float32
	valid []bool
	live  int
}

// NewColumnar creates an in-memory columnar store for vectors of the given
// dimension. dim must be > 0.
func NewColumnar(dim int) *Columnar {
	if dim <= 0 {
		panic("vectorstore: dimension must be positive")
	}
	return &Columnar{dim: dim}
}

// Dimension returns the vector dimensionality.
func (s *Columnar) Dimension() int { return s.dim }

// Count returns the number of live vectors.
func (s *Columnar) Count() int { return s.live }

// GetVector returns the vector stored at id.
// The returned slice aliases internal memory and must not be modified.
func (s *Columnar) GetVector(id core.LocalID) ([]float32, bool) {
	i := int(id)
	if i >= len(s.valid) || !s.valid[i] {
		return nil, false
	}
	return s.data[i*s.dim : (i+1)*s.dim : (i+1)*s.dim], true
}

// SetVector stores a copy of v at id, growing the backing array as needed.
func (s *Columnar) SetVector(id core.LocalID, v []float32) error {
	if len(v) != s.dim {
		return ErrWrongDimension
	}
	i := int(id)
	for i >= len(s.valid) {
		s.valid = append(s.valid, false)
		s.data = append(s.data, make([]float32, s.dim)...)
	}
	if !s.valid[i] {
		s.valid[i] = true
		s.live++
	}
	copy(s.data[i*s.dim:(i+1)*s.dim], v)
	return nil
}

// DeleteVector marks the slot at id as free. Deleting an absent id is a no-op.
func (s *Columnar) DeleteVector(id core.LocalID) error {
	i := int(id)
	if i >= len(s.valid) || !s.valid[i] {
		return nil
	}
	s.valid[i] = false
	s.live--
	return nil
}

// Range calls fn for every live vector. The slice passed to fn aliases
// internal memory. Iteration stops if fn returns false.
func (s *Columnar) Range(fn func(id core.LocalID, v []float32) bool) {
	for i := range s.valid {
		if !s.valid[i] {
			continue
		}
		if !fn(core.LocalID(i), s.data[i*s.dim:(i+1)*s.dim:(i+1)*s.dim]) {
			return
		}
	}
}
