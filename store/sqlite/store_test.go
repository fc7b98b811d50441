package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbordb/arbor"
	"github.com/arbordb/arbor/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "arbor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedLibrary creates a library with one document and the given chunks,
// returning the library and the chunk ids.
func seedLibrary(t *testing.T, s *Store, algorithm, metric string, chunks []Chunk) (Library, []string) {
	t.Helper()
	ctx := context.Background()

	lib, err := s.CreateLibrary(ctx, Library{Name: "test", Algorithm: algorithm, Metric: metric})
	require.NoError(t, err)
	doc, err := s.CreateDocument(ctx, Document{LibraryID: lib.ID, Title: "doc"})
	require.NoError(t, err)

	for i := range chunks {
		chunks[i].LibraryID = lib.ID
		chunks[i].DocumentID = doc.ID
	}
	ids, err := s.InsertChunks(ctx, chunks)
	require.NoError(t, err)
	return lib, ids
}

func TestEncodeEmbedding(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		vec := []float32{1.5, -2.25, 0, 3.14159}
		got, err := DecodeEmbedding(EncodeEmbedding(vec))
		require.NoError(t, err)
		assert.Equal(t, vec, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, EncodeEmbedding(nil))
		got, err := DecodeEmbedding(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("truncated blob", func(t *testing.T) {
		_, err := DecodeEmbedding([]byte{1, 2, 3})
		require.Error(t, err)
	})
}

func TestStore_Libraries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lib, err := s.CreateLibrary(ctx, Library{Name: "articles", Algorithm: "kdtree", Metric: "cosine"})
	require.NoError(t, err)
	require.NotEmpty(t, lib.ID)

	got, err := s.Library(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, "articles", got.Name)
	assert.Equal(t, "kdtree", got.Algorithm)
	assert.Equal(t, "cosine", got.Metric)

	_, err = s.Library(ctx, "nope")
	require.ErrorIs(t, err, ErrLibraryNotFound)

	libs, err := s.Libraries(ctx)
	require.NoError(t, err)
	assert.Len(t, libs, 1)
}

func TestStore_Chunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lib, ids := seedLibrary(t, s, "linear", "euclidean", []Chunk{
		{Text: "first", Embedding: []float32{1, 0}, Metadata: metadata.Metadata{"lang": metadata.String("en")}},
		{Text: "second", Embedding: []float32{0, 1}},
	})
	require.Len(t, ids, 2)

	t.Run("round trip", func(t *testing.T) {
		c, err := s.Chunk(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, "first", c.Text)
		assert.Equal(t, []float32{1, 0}, c.Embedding)
		assert.Equal(t, metadata.String("en"), c.Metadata["lang"])
		assert.Equal(t, lib.ID, c.LibraryID)
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.CountChunks(ctx, lib.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, s.UpdateChunk(ctx, Chunk{
			ID:        ids[1],
			Text:      "second v2",
			Embedding: []float32{0.5, 0.5},
		}))
		c, err := s.Chunk(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, "second v2", c.Text)
		assert.Equal(t, []float32{0.5, 0.5}, c.Embedding)

		require.ErrorIs(t, s.UpdateChunk(ctx, Chunk{ID: "nope"}), ErrChunkNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteChunk(ctx, ids[0]))
		_, err := s.Chunk(ctx, ids[0])
		require.ErrorIs(t, err, ErrChunkNotFound)
		require.ErrorIs(t, s.DeleteChunk(ctx, ids[0]), ErrChunkNotFound)
	})
}

func TestStore_CascadeDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lib, ids := seedLibrary(t, s, "linear", "euclidean", []Chunk{
		{Text: "a", Embedding: []float32{1}},
		{Text: "b", Embedding: []float32{2}},
	})

	require.NoError(t, s.DeleteLibrary(ctx, lib.ID))

	for _, id := range ids {
		_, err := s.Chunk(ctx, id)
		require.ErrorIs(t, err, ErrChunkNotFound)
	}
	require.ErrorIs(t, s.DeleteLibrary(ctx, lib.ID), ErrLibraryNotFound)
}

func TestStore_LoadInto(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	libA, _ := seedLibrary(t, s, "kdtree", "euclidean", []Chunk{
		{Text: "origin", Embedding: []float32{0, 0}},
		{Text: "east", Embedding: []float32{1, 0}},
		{Text: "north", Embedding: []float32{0, 1}},
	})
	libB, idsB := seedLibrary(t, s, "balltree", "cosine", []Chunk{
		{Text: "x", Embedding: []float32{1, 0, 0}},
		{Text: "y", Embedding: []float32{0, 1, 0}},
	})

	m := arbor.NewManager()
	require.NoError(t, s.LoadInto(ctx, m))

	stA, err := m.Stats(libA.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stA.Records)
	assert.Equal(t, 2, stA.Dimension)

	res, err := m.Search(ctx, libB.ID, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, idsB[0], res[0].ID)
}

func TestStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	lib, ids := seedLibrary(t, src, "kdtree", "euclidean", []Chunk{
		{Text: "a", Embedding: []float32{1, 2}, Metadata: metadata.Metadata{"n": metadata.Int(1)}},
		{Text: "b", Embedding: []float32{3, 4}},
	})

	var buf bytes.Buffer
	require.NoError(t, src.ExportLibrary(ctx, lib.ID, &buf))

	dst := newTestStore(t)
	imported, count, err := dst.ImportLibrary(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, lib.ID, imported.ID)
	assert.Equal(t, 2, count)

	c, err := dst.Chunk(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a", c.Text)
	assert.Equal(t, []float32{1, 2}, c.Embedding)
	assert.Equal(t, metadata.Int(1), c.Metadata["n"])

	// Importing the same snapshot again collides on the library id.
	var buf2 bytes.Buffer
	require.NoError(t, src.ExportLibrary(ctx, lib.ID, &buf2))
	_, _, err = dst.ImportLibrary(ctx, &buf2)
	require.Error(t, err)
}

func TestStore_ExportUnknownLibrary(t *testing.T) {
	s := newTestStore(t)
	var buf bytes.Buffer
	require.ErrorIs(t, s.ExportLibrary(context.Background(), "nope", &buf), ErrLibraryNotFound)
}
