package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbordb/arbor/core"
)

func TestColumnar(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		s := NewColumnar(3)
		require.NoError(t, s.SetVector(0, []float32{1, 2, 3}))

		v, ok := s.GetVector(0)
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, v)
		assert.Equal(t, 1, s.Count())
	})

	t.Run("set copies the input", func(t *testing.T) {
		s := NewColumnar(2)
		src := []float32{1, 2}
		require.NoError(t, s.SetVector(0, src))
		src[0] = 99

		v, _ := s.GetVector(0)
		assert.Equal(t, []float32{1, 2}, v)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		s := NewColumnar(3)
		require.ErrorIs(t, s.SetVector(0, []float32{1, 2}), ErrWrongDimension)
	})

	t.Run("sparse ids grow the store", func(t *testing.T) {
		s := NewColumnar(2)
		require.NoError(t, s.SetVector(5, []float32{1, 1}))

		_, ok := s.GetVector(3)
		assert.False(t, ok)
		v, ok := s.GetVector(5)
		require.True(t, ok)
		assert.Equal(t, []float32{1, 1}, v)
		assert.Equal(t, 1, s.Count())
	})

	t.Run("delete and reuse", func(t *testing.T) {
		s := NewColumnar(2)
		require.NoError(t, s.SetVector(0, []float32{1, 2}))
		require.NoError(t, s.DeleteVector(0))

		_, ok := s.GetVector(0)
		assert.False(t, ok)
		assert.Equal(t, 0, s.Count())

		// Reusing the slot brings it back with fresh data.
		require.NoError(t, s.SetVector(0, []float32{3, 4}))
		v, ok := s.GetVector(0)
		require.True(t, ok)
		assert.Equal(t, []float32{3, 4}, v)
	})

	t.Run("delete absent id is a no-op", func(t *testing.T) {
		s := NewColumnar(2)
		require.NoError(t, s.DeleteVector(42))
		assert.Equal(t, 0, s.Count())
	})

	t.Run("range visits live vectors in id order", func(t *testing.T) {
		s := NewColumnar(1)
		require.NoError(t, s.SetVector(0, []float32{0}))
		require.NoError(t, s.SetVector(1, []float32{1}))
		require.NoError(t, s.SetVector(2, []float32{2}))
		require.NoError(t, s.DeleteVector(1))

		var ids []core.LocalID
		s.Range(func(id core.LocalID, v []float32) bool {
			ids = append(ids, id)
			return true
		})
		assert.Equal(t, []core.LocalID{0, 2}, ids)
	})

	t.Run("range early stop", func(t *testing.T) {
		s := NewColumnar(1)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.SetVector(core.LocalID(i), []float32{float32(i)}))
		}
		count := 0
		s.Range(func(id core.LocalID, v []float32) bool {
			count++
			return count < 2
		})
		assert.Equal(t, 2, count)
	})
}
