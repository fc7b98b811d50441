// Package arbor is an embedded, in-memory vector similarity search
// engine with per-library spatial indexes.
//
// A Manager owns one index per library. Each library fixes its vector
// dimension with the first record it receives and serves exact k-nearest
// neighbor queries under Euclidean, Manhattan, or cosine distance, with
// optional metadata filtering. Three index variants are available: a
// linear scan (the exactness baseline), a KD-tree, and a ball tree. All
// three return identical results for the same data and query; the trees
// trade build and rebuild cost for sublinear traversal on
// low-dimensional data.
//
// All operations are safe for concurrent use. Locking is per library:
// searches share a read lock and run in parallel, mutations serialize on
// the library's write lock, and operations on different libraries never
// contend.
//
//	m := arbor.NewManager()
//	_ = m.Add(ctx, "articles", arbor.Record{
//		ID:     "a1",
//		Vector: []float32{0.1, 0.9, 0.3},
//		Metadata: metadata.Metadata{
//			"lang": metadata.String("en"),
//		},
//	})
//	hits, _ := m.Search(ctx, "articles", []float32{0.1, 0.8, 0.2}, 5,
//		arbor.WithFilter(metadata.Eq("lang", metadata.String("en"))),
//	)
package arbor
