package arbor_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/arbordb/arbor"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/metadata"
	"github.com/arbordb/arbor/testutil"
)

var allAlgorithms = []index.Algorithm{
	index.AlgorithmLinear,
	index.AlgorithmKDTree,
	index.AlgorithmBallTree,
}

func TestManager_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("first add materializes and pins the dimension", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1, 2, 3}}))

		var dm *arbor.ErrDimensionMismatch
		err := m.Add(ctx, "lib", arbor.Record{ID: "b", Vector: []float32{1, 2}})
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, 2, dm.Actual)

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Records)
		assert.Equal(t, 3, st.Dimension)
	})

	t.Run("duplicate record id", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1}}))
		require.ErrorIs(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{2}}), arbor.ErrDuplicateRecord)
	})

	t.Run("empty record id", func(t *testing.T) {
		m := arbor.NewManager()
		require.Error(t, m.Add(ctx, "lib", arbor.Record{Vector: []float32{1}}))
	})

	t.Run("empty vector", func(t *testing.T) {
		m := arbor.NewManager()
		require.Error(t, m.Add(ctx, "lib", arbor.Record{ID: "a"}))
	})

	t.Run("degenerate vector under cosine", func(t *testing.T) {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm: index.AlgorithmLinear,
			Metric:    distance.MetricCosine,
		}))
		err := m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{0, 0}})
		require.ErrorIs(t, err, arbor.ErrDegenerateVector)
	})
}

func TestManager_Search(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, m *arbor.Manager) {
		t.Helper()
		for i, v := range [][]float32{{0, 0}, {1, 0}, {0, 1}, {5, 5}} {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: v}))
		}
	}

	t.Run("invalid k", func(t *testing.T) {
		m := arbor.NewManager()
		seed(t, m)
		_, err := m.Search(ctx, "lib", []float32{0, 0}, 0)
		require.ErrorIs(t, err, arbor.ErrInvalidK)
		_, err = m.Search(ctx, "lib", []float32{0, 0}, -3)
		require.ErrorIs(t, err, arbor.ErrInvalidK)
	})

	t.Run("unknown library", func(t *testing.T) {
		m := arbor.NewManager()
		_, err := m.Search(ctx, "nope", []float32{0, 0}, 1)
		require.ErrorIs(t, err, arbor.ErrLibraryNotFound)
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		m := arbor.NewManager()
		seed(t, m)
		var dm *arbor.ErrDimensionMismatch
		_, err := m.Search(ctx, "lib", []float32{0, 0, 0}, 1)
		require.ErrorAs(t, err, &dm)
	})

	t.Run("k clamped to population", func(t *testing.T) {
		m := arbor.NewManager()
		seed(t, m)
		res, err := m.Search(ctx, "lib", []float32{0, 0}, 100)
		require.NoError(t, err)
		assert.Len(t, res, 4)
	})

	t.Run("registered but empty library", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.BuildOrGet(ctx, "lib"))
		res, err := m.Search(ctx, "lib", []float32{0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("results ascending by distance", func(t *testing.T) {
		m := arbor.NewManager()
		seed(t, m)
		res, err := m.Search(ctx, "lib", []float32{0.6, 0}, 4)
		require.NoError(t, err)
		require.Len(t, res, 4)
		assert.Equal(t, "r1", res[0].ID)
		assert.Equal(t, "r0", res[1].ID)
		for i := 1; i < len(res); i++ {
			assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
		}
	})

	t.Run("metric override per query", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{3, 4}}))

		res, err := m.Search(ctx, "lib", []float32{0, 0}, 1, arbor.WithMetric(distance.MetricManhattan))
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, float32(7), res[0].Distance)
	})

	t.Run("result metadata is a private copy", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{
			ID:       "a",
			Vector:   []float32{1, 0},
			Metadata: metadata.Metadata{"lang": metadata.String("en")},
		}))

		res, err := m.Search(ctx, "lib", []float32{1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		res[0].Metadata["lang"] = metadata.String("fr")

		// The stored document is untouched: the filter still matches and
		// the fresh result carries the original value.
		res, err = m.Search(ctx, "lib", []float32{1, 0}, 1,
			arbor.WithFilter(metadata.Eq("lang", metadata.String("en"))))
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, metadata.String("en"), res[0].Metadata["lang"])
	})

	t.Run("incompatible metric override on tree index", func(t *testing.T) {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm: index.AlgorithmKDTree,
			Metric:    distance.MetricEuclidean,
		}))
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1, 0}}))

		var mm *index.ErrMetricMismatch
		_, err := m.Search(ctx, "lib", []float32{1, 0}, 1, arbor.WithMetric(distance.MetricCosine))
		require.ErrorAs(t, err, &mm)
	})
}

func TestManager_RemoveAndUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("remove unknown record", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1}}))
		require.ErrorIs(t, m.Remove(ctx, "lib", "zzz"), arbor.ErrRecordNotFound)
	})

	t.Run("remove from unknown library", func(t *testing.T) {
		m := arbor.NewManager()
		require.ErrorIs(t, m.Remove(ctx, "nope", "a"), arbor.ErrLibraryNotFound)
	})

	t.Run("remove then re-add same id", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1, 0}}))
		require.NoError(t, m.Remove(ctx, "lib", "a"))
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{0, 1}}))

		res, err := m.Search(ctx, "lib", []float32{0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "a", res[0].ID)
		assert.Equal(t, float32(0), res[0].Distance)
	})

	t.Run("update replaces vector and metadata", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{
			ID:       "a",
			Vector:   []float32{1, 0},
			Metadata: metadata.Metadata{"v": metadata.Int(1)},
		}))
		require.NoError(t, m.Update(ctx, "lib", arbor.Record{
			ID:       "a",
			Vector:   []float32{0, 1},
			Metadata: metadata.Metadata{"v": metadata.Int(2)},
		}))

		res, err := m.Search(ctx, "lib", []float32{0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, float32(0), res[0].Distance)
		assert.Equal(t, metadata.Int(2), res[0].Metadata["v"])
	})

	t.Run("update unknown record", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1}}))
		require.ErrorIs(t, m.Update(ctx, "lib", arbor.Record{ID: "b", Vector: []float32{2}}), arbor.ErrRecordNotFound)
	})

	t.Run("repeated updates on a tree index", func(t *testing.T) {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm: index.AlgorithmKDTree,
			Metric:    distance.MetricEuclidean,
		}))
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i), 0}}))
		}
		for round := 1; round <= 10; round++ {
			require.NoError(t, m.Update(ctx, "lib", arbor.Record{ID: "r0", Vector: []float32{100, float32(round)}}))
		}

		res, err := m.Search(ctx, "lib", []float32{100, 10}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "r0", res[0].ID)
		assert.Equal(t, float32(0), res[0].Distance)

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.Equal(t, 5, st.Records)
	})

	t.Run("update with wrong dimension leaves record intact", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1, 0}}))

		var dm *arbor.ErrDimensionMismatch
		require.ErrorAs(t, m.Update(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1}}), &dm)

		res, err := m.Search(ctx, "lib", []float32{1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, float32(0), res[0].Distance)
	})
}

func TestManager_DropLibrary(t *testing.T) {
	ctx := context.Background()

	m := arbor.NewManager()
	require.NoError(t, m.Add(ctx, "a", arbor.Record{ID: "x", Vector: []float32{1}}))
	require.NoError(t, m.Add(ctx, "b", arbor.Record{ID: "y", Vector: []float32{1}}))
	assert.Equal(t, []string{"a", "b"}, m.Libraries())
	assert.True(t, m.Has("a"))

	require.NoError(t, m.DropLibrary(ctx, "a"))
	assert.False(t, m.Has("a"))
	assert.Equal(t, []string{"b"}, m.Libraries())

	_, err := m.Search(ctx, "a", []float32{1}, 1)
	require.ErrorIs(t, err, arbor.ErrLibraryNotFound)
	require.ErrorIs(t, m.DropLibrary(ctx, "a"), arbor.ErrLibraryNotFound)

	// The sibling library is untouched.
	res, err := m.Search(ctx, "b", []float32{1}, 1)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestManager_BuildOrGet(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit configuration", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.BuildOrGet(ctx, "lib", func(c *arbor.Config) {
			c.Algorithm = index.AlgorithmBallTree
			c.Metric = distance.MetricManhattan
		}))

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.Equal(t, index.AlgorithmBallTree, st.Algorithm)
		assert.Equal(t, distance.MetricManhattan, st.Metric)
	})

	t.Run("existing library keeps its configuration", func(t *testing.T) {
		m := arbor.NewManager()
		require.NoError(t, m.BuildOrGet(ctx, "lib", func(c *arbor.Config) {
			c.Algorithm = index.AlgorithmKDTree
		}))
		require.NoError(t, m.BuildOrGet(ctx, "lib", func(c *arbor.Config) {
			c.Algorithm = index.AlgorithmBallTree
		}))

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.Equal(t, index.AlgorithmKDTree, st.Algorithm)
	})

	t.Run("unknown algorithm rejected", func(t *testing.T) {
		m := arbor.NewManager()
		var ua *index.ErrUnsupportedAlgorithm
		err := m.BuildOrGet(ctx, "lib", func(c *arbor.Config) {
			c.Algorithm = index.Algorithm(99)
		})
		require.ErrorAs(t, err, &ua)
	})
}

func TestManager_FilteredSearch(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, m *arbor.Manager) {
		t.Helper()
		docs := []struct {
			id   string
			vec  []float32
			lang string
			year int64
		}{
			{"a", []float32{0, 0}, "en", 2019},
			{"b", []float32{1, 0}, "en", 2021},
			{"c", []float32{2, 0}, "de", 2021},
			{"d", []float32{3, 0}, "en", 2022},
		}
		for _, d := range docs {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{
				ID:     d.id,
				Vector: d.vec,
				Metadata: metadata.Metadata{
					"lang": metadata.String(d.lang),
					"year": metadata.Int(d.year),
				},
			}))
		}
	}

	for _, algo := range allAlgorithms {
		t.Run(algo.String(), func(t *testing.T) {
			m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
				Algorithm: algo,
				Metric:    distance.MetricEuclidean,
			}))
			seed(t, m)

			t.Run("equality filter", func(t *testing.T) {
				res, err := m.Search(ctx, "lib", []float32{0, 0}, 10,
					arbor.WithFilter(metadata.Eq("lang", metadata.String("en"))))
				require.NoError(t, err)
				require.Len(t, res, 3)
				assert.Equal(t, "a", res[0].ID)
				assert.Equal(t, "b", res[1].ID)
				assert.Equal(t, "d", res[2].ID)
			})

			t.Run("compound filter", func(t *testing.T) {
				res, err := m.Search(ctx, "lib", []float32{0, 0}, 10,
					arbor.WithFilter(
						metadata.Eq("lang", metadata.String("en")),
						metadata.Gt("year", metadata.Int(2020)),
					))
				require.NoError(t, err)
				require.Len(t, res, 2)
				assert.Equal(t, "b", res[0].ID)
				assert.Equal(t, "d", res[1].ID)
			})

			t.Run("no matches", func(t *testing.T) {
				res, err := m.Search(ctx, "lib", []float32{0, 0}, 10,
					arbor.WithFilter(metadata.Eq("lang", metadata.String("fr"))))
				require.NoError(t, err)
				assert.Empty(t, res)
			})

			t.Run("missing key never matches", func(t *testing.T) {
				res, err := m.Search(ctx, "lib", []float32{0, 0}, 10,
					arbor.WithFilter(metadata.Eq("author", metadata.String("x"))))
				require.NoError(t, err)
				assert.Empty(t, res)
			})
		})
	}
}

func TestManager_AlgorithmEquivalence(t *testing.T) {
	ctx := context.Background()
	const (
		dim = 4
		n   = 150
		k   = 9
	)
	rng := testutil.NewRNG(99)
	vectors := rng.UniformRangeVectors(n, dim)
	queries := rng.UniformRangeVectors(10, dim)

	results := make(map[index.Algorithm][][]arbor.SearchResult)
	for _, algo := range allAlgorithms {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm: algo,
			Metric:    distance.MetricEuclidean,
		}))
		for i, v := range vectors {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%03d", i), Vector: v}))
		}
		for _, q := range queries {
			res, err := m.Search(ctx, "lib", q, k)
			require.NoError(t, err)
			require.Len(t, res, k)
			results[algo] = append(results[algo], res)
		}
	}

	baseline := results[index.AlgorithmLinear]
	for _, algo := range []index.Algorithm{index.AlgorithmKDTree, index.AlgorithmBallTree} {
		for qi := range baseline {
			assert.Equal(t, baseline[qi], results[algo][qi], "%s query %d", algo, qi)
		}
	}
}

func TestManager_CosineEndToEnd(t *testing.T) {
	ctx := context.Background()

	for _, algo := range allAlgorithms {
		t.Run(algo.String(), func(t *testing.T) {
			m := arbor.NewManager()
			require.NoError(t, m.BuildOrGet(ctx, "lib", func(c *arbor.Config) {
				c.Algorithm = algo
				c.Metric = distance.MetricCosine
			}))
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "a", Vector: []float32{1, 0, 0}}))
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "b", Vector: []float32{0, 1, 0}}))
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: "c", Vector: []float32{0, 0, 1}}))

			res, err := m.Search(ctx, "lib", []float32{0.9, 0.1, 0}, 2)
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Equal(t, "a", res[0].ID)
			assert.Equal(t, "b", res[1].ID)
			assert.Less(t, res[0].Distance, res[1].Distance)
		})
	}
}

func TestManager_AutoRebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold triggers rebuild", func(t *testing.T) {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm:        index.AlgorithmKDTree,
			Metric:           distance.MetricEuclidean,
			RebuildThreshold: 0.3,
		}))
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i)}}))
		}
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Remove(ctx, "lib", fmt.Sprintf("r%d", i)))
		}

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.False(t, st.NeedsRebuild)
		assert.Equal(t, 5, st.Records)
	})

	t.Run("update churn triggers rebuild", func(t *testing.T) {
		m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
			Algorithm:        index.AlgorithmBallTree,
			Metric:           distance.MetricEuclidean,
			RebuildThreshold: 0.3,
			LeafSize:         2,
		}))
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i), 0}}))
		}
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Update(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i), 1}}))
		}

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.False(t, st.NeedsRebuild)
		assert.Equal(t, 10, st.Records)
	})

	t.Run("rate limiter defers rebuild", func(t *testing.T) {
		m := arbor.NewManager(
			arbor.WithRebuildRateLimit(0, 0), // never allows
			arbor.WithDefaultConfig(arbor.Config{
				Algorithm:        index.AlgorithmKDTree,
				Metric:           distance.MetricEuclidean,
				RebuildThreshold: 0.3,
			}),
		)
		for i := 0; i < 10; i++ {
			require.NoError(t, m.Add(ctx, "lib", arbor.Record{ID: fmt.Sprintf("r%d", i), Vector: []float32{float32(i)}}))
		}
		for i := 0; i < 5; i++ {
			require.NoError(t, m.Remove(ctx, "lib", fmt.Sprintf("r%d", i)))
		}

		st, err := m.Stats("lib")
		require.NoError(t, err)
		assert.True(t, st.NeedsRebuild)

		// Explicit rebuild is never rate limited.
		require.NoError(t, m.Rebuild(ctx, "lib"))
		st, err = m.Stats("lib")
		require.NoError(t, err)
		assert.False(t, st.NeedsRebuild)
	})
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	const (
		dim        = 4
		writers    = 4
		readers    = 4
		perWriter  = 50
		numQueries = 100
	)

	for _, algo := range allAlgorithms {
		t.Run(algo.String(), func(t *testing.T) {
			m := arbor.NewManager(arbor.WithDefaultConfig(arbor.Config{
				Algorithm: algo,
				Metric:    distance.MetricEuclidean,
			}))

			require.NoError(t, m.BuildOrGet(ctx, "lib0"))
			require.NoError(t, m.BuildOrGet(ctx, "lib1"))

			g, gctx := errgroup.WithContext(ctx)

			for w := 0; w < writers; w++ {
				w := w
				g.Go(func() error {
					rng := testutil.NewRNG(int64(w))
					lib := fmt.Sprintf("lib%d", w%2)
					for i := 0; i < perWriter; i++ {
						id := fmt.Sprintf("w%d-r%d", w, i)
						vec := rng.UniformRangeVectors(1, dim)[0]
						if err := m.Add(gctx, lib, arbor.Record{ID: id, Vector: vec}); err != nil {
							return err
						}
						if i%5 == 0 {
							if err := m.Remove(gctx, lib, id); err != nil {
								return err
							}
						}
					}
					return nil
				})
			}

			for r := 0; r < readers; r++ {
				r := r
				g.Go(func() error {
					rng := testutil.NewRNG(int64(100 + r))
					lib := fmt.Sprintf("lib%d", r%2)
					for i := 0; i < numQueries; i++ {
						q := rng.UniformRangeVectors(1, dim)[0]
						res, err := m.Search(gctx, lib, q, 5)
						if err != nil {
							return err
						}
						for i := 1; i < len(res); i++ {
							if res[i-1].Distance > res[i].Distance {
								return fmt.Errorf("results out of order")
							}
						}
					}
					return nil
				})
			}

			require.NoError(t, g.Wait())

			total := 0
			for _, lib := range m.Libraries() {
				st, err := m.Stats(lib)
				require.NoError(t, err)
				total += st.Records
			}
			// Each writer removes every fifth record it adds.
			assert.Equal(t, writers*(perWriter-perWriter/5), total)
		})
	}
}
