package sqlite

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arbordb/arbor"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
)

// loadConcurrency bounds how many libraries are indexed in parallel on
// cold start. Libraries are independent (one lock each), so the fan-out is
// contention free; the limit just keeps memory spikes bounded.
const loadConcurrency = 4

// LoadInto rebuilds the manager's in-memory indexes from the stored
// chunks, one library at a time, fanning libraries out across goroutines.
//
// Index structures are deliberately never persisted; this is the cold
// start path that makes durability and search meet.
func (s *Store) LoadInto(ctx context.Context, m *arbor.Manager) error {
	libs, err := s.Libraries(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, lib := range libs {
		lib := lib
		g.Go(func() error {
			return s.loadLibrary(gctx, m, lib)
		})
	}
	return g.Wait()
}

func (s *Store) loadLibrary(ctx context.Context, m *arbor.Manager, lib Library) error {
	algo, err := index.ParseAlgorithm(lib.Algorithm)
	if err != nil {
		return fmt.Errorf("sqlite: library %q: %w", lib.ID, err)
	}
	metric, err := distance.ParseMetric(lib.Metric)
	if err != nil {
		return fmt.Errorf("sqlite: library %q: %w", lib.ID, err)
	}

	if err := m.BuildOrGet(ctx, lib.ID, func(c *arbor.Config) {
		c.Algorithm = algo
		c.Metric = metric
	}); err != nil {
		return err
	}

	if err := s.ForEachChunk(ctx, lib.ID, func(c Chunk) error {
		return m.Add(ctx, lib.ID, arbor.Record{
			ID:       c.ID,
			Vector:   c.Embedding,
			Metadata: c.Metadata,
		})
	}); err != nil {
		return fmt.Errorf("sqlite: load library %q: %w", lib.ID, err)
	}

	// Sequential leaf inserts can leave trees unbalanced; one rebuild after
	// bulk load restores median splits and tight radii.
	return m.Rebuild(ctx, lib.ID)
}
