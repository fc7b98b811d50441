// Package vectorstore defines the canonical vector storage shared by the
// index variants.
//
// Each library owns one store; the index structures built over it hold only
// LocalIDs and read coordinates through the Store interface.
package vectorstore

import (
	"errors"

	"github.com/arbordb/arbor/core"
)

var (
	// ErrWrongDimension is returned when a vector doesn't match the store dimension.
	ErrWrongDimension = errors.New("wrong vector dimension")
)

// Store is the canonical storage for vectors.
//
// Implementations must treat the configured dimension as authoritative.
// Returned slices may alias internal memory; callers must not modify them.
// Concurrent reads are safe; writes require external synchronization.
type Store interface {
	Dimension() int
	GetVector(id core.LocalID) ([]float32, bool)
	SetVector(id core.LocalID, v []float32) error
	DeleteVector(id core.LocalID) error
	Count() int
}
