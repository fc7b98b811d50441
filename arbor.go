package arbor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arbordb/arbor/core"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/index"
	"github.com/arbordb/arbor/index/balltree"
	"github.com/arbordb/arbor/index/kdtree"
	"github.com/arbordb/arbor/index/linear"
	"github.com/arbordb/arbor/metadata"
	"github.com/arbordb/arbor/vectorstore"
)

// Record is a vector record scoped to a library: an opaque identifier, a
// fixed-dimension embedding, and metadata used only for filter predicates.
//
// Records are immutable by replacement: Update is remove-then-insert, so
// the index never holds a stale embedding under a live id.
type Record struct {
	ID       string
	Vector   []float32
	Metadata metadata.Metadata
}

// library is the per-library state: one spatial index, its storage, the
// record-id mapping and a reader/writer lock serializing access.
//
// A library starts unmaterialized (dim == 0, idx == nil); the first record
// pins the dimension for the library's lifetime and materializes the index.
type library struct {
	mu     sync.RWMutex
	closed bool

	cfg   Config
	dim   int
	alloc *core.IDAllocator
	byKey map[string]core.LocalID
	keys  []string // LocalID -> record id; "" for freed slots
	store *vectorstore.Columnar
	meta  *metadata.Index
	idx   index.Index
}

// Manager owns one spatial index per library and mediates all reads and
// writes.
//
// Locking is per library, not global: searches on a library take its read
// lock and proceed in parallel with each other and with all operations on
// other libraries; Add/Remove/Update/Rebuild take the library's write
// lock. Every operation touches exactly one library lock and never
// acquires a second one while holding it, so deadlock is structurally
// impossible. Locks are never held across store I/O; they protect only the
// in-memory structures.
type Manager struct {
	mu        sync.RWMutex // guards the libraries map only
	libraries map[string]*library
	opts      options
}

// NewManager creates an empty Manager.
func NewManager(optFns ...Option) *Manager {
	return &Manager{
		libraries: make(map[string]*library),
		opts:      applyOptions(optFns),
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Algorithm {
	case index.AlgorithmLinear, index.AlgorithmKDTree, index.AlgorithmBallTree:
	default:
		return &index.ErrUnsupportedAlgorithm{Name: fmt.Sprintf("%d", int(cfg.Algorithm))}
	}
	_, err := distance.Provider(cfg.Metric)
	return err
}

// BuildOrGet materializes the library's index registration if absent. The
// configuration is fixed at creation; calling BuildOrGet on an existing
// library leaves its configuration untouched.
func (m *Manager) BuildOrGet(ctx context.Context, libraryID string, cfgFns ...func(c *Config)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if libraryID == "" {
		return fmt.Errorf("library id must not be empty")
	}
	cfg := m.opts.defaultConfig
	for _, fn := range cfgFns {
		fn(&cfg)
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.libraries[libraryID]; ok {
		return nil
	}
	m.libraries[libraryID] = newLibrary(cfg)
	m.opts.logger.InfoContext(ctx, "library registered",
		"library", libraryID,
		"algorithm", cfg.Algorithm.String(),
		"metric", cfg.Metric.String(),
	)
	return nil
}

func newLibrary(cfg Config) *library {
	return &library{
		cfg:   cfg,
		alloc: core.NewIDAllocator(),
		byKey: make(map[string]core.LocalID),
		meta:  metadata.NewIndex(),
	}
}

// get returns the library or ErrLibraryNotFound.
func (m *Manager) get(libraryID string) (*library, error) {
	m.mu.RLock()
	lib, ok := m.libraries[libraryID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLibraryNotFound, libraryID)
	}
	return lib, nil
}

// getOrCreate returns the library, materializing it with the manager's
// default configuration if absent. The first Add on an absent library
// creates it.
func (m *Manager) getOrCreate(libraryID string) *library {
	m.mu.RLock()
	lib, ok := m.libraries[libraryID]
	m.mu.RUnlock()
	if ok {
		return lib
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lib, ok = m.libraries[libraryID]; ok {
		return lib
	}
	lib = newLibrary(m.opts.defaultConfig)
	m.libraries[libraryID] = lib
	return lib
}

func newIndex(cfg Config, store *vectorstore.Columnar) (index.Index, error) {
	switch cfg.Algorithm {
	case index.AlgorithmLinear:
		return linear.New(store, func(o *linear.Options) {
			o.Metric = cfg.Metric
		})
	case index.AlgorithmKDTree:
		return kdtree.New(store, func(o *kdtree.Options) {
			o.Metric = cfg.Metric
			if cfg.RebuildThreshold > 0 {
				o.RebuildThreshold = cfg.RebuildThreshold
			}
		})
	case index.AlgorithmBallTree:
		return balltree.New(store, func(o *balltree.Options) {
			o.Metric = cfg.Metric
			if cfg.RebuildThreshold > 0 {
				o.RebuildThreshold = cfg.RebuildThreshold
			}
			if cfg.LeafSize > 0 {
				o.LeafSize = cfg.LeafSize
			}
		})
	default:
		return nil, &index.ErrUnsupportedAlgorithm{Name: fmt.Sprintf("%d", int(cfg.Algorithm))}
	}
}

// Add inserts a record into the library's index, materializing the library
// (and pinning its dimension) on first use.
//
// Validation happens before any mutation: a rejected record leaves the
// index unchanged.
func (m *Manager) Add(ctx context.Context, libraryID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if libraryID == "" {
		return fmt.Errorf("library id must not be empty")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	if len(rec.Vector) == 0 {
		return translateError(index.ErrEmptyVector)
	}

	lib := m.getOrCreate(libraryID)
	lib.mu.Lock()
	defer lib.mu.Unlock()
	err := lib.add(ctx, rec)
	m.opts.logger.LogAdd(ctx, libraryID, rec.ID, len(rec.Vector), err)
	return err
}

// add inserts under the held write lock.
func (lib *library) add(ctx context.Context, rec Record) error {
	if lib.closed {
		return ErrLibraryNotFound
	}
	if lib.dim == 0 {
		// First record fixes D for the library's lifetime.
		store := vectorstore.NewColumnar(len(rec.Vector))
		idx, err := newIndex(lib.cfg, store)
		if err != nil {
			return err
		}
		lib.dim = len(rec.Vector)
		lib.store = store
		lib.idx = idx
	}
	if len(rec.Vector) != lib.dim {
		return &ErrDimensionMismatch{Expected: lib.dim, Actual: len(rec.Vector)}
	}
	if _, ok := lib.byKey[rec.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, rec.ID)
	}

	local := lib.alloc.Alloc()
	if err := lib.idx.Insert(ctx, local, rec.Vector); err != nil {
		lib.alloc.Free(local)
		return translateError(err)
	}
	for int(local) >= len(lib.keys) {
		lib.keys = append(lib.keys, "")
	}
	lib.keys[local] = rec.ID
	lib.byKey[rec.ID] = local
	lib.meta.Add(local, rec.Metadata)
	return nil
}

// Remove deletes the record from the library's index. Removing an unknown
// id fails with ErrRecordNotFound.
func (m *Manager) Remove(ctx context.Context, libraryID, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lib, err := m.get(libraryID)
	if err != nil {
		return err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	err = lib.remove(ctx, recordID)
	m.opts.logger.LogRemove(ctx, libraryID, recordID, err)
	if err != nil {
		return err
	}
	m.maybeRebuild(ctx, libraryID, lib)
	return nil
}

// remove deletes under the held write lock.
func (lib *library) remove(ctx context.Context, recordID string) error {
	if lib.closed {
		return ErrLibraryNotFound
	}
	local, ok := lib.byKey[recordID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRecordNotFound, recordID)
	}
	if err := lib.idx.Delete(ctx, local); err != nil {
		return translateError(err)
	}
	lib.meta.Remove(local)
	delete(lib.byKey, recordID)
	lib.keys[local] = ""
	lib.alloc.Free(local)
	return nil
}

// Update replaces the record's embedding and metadata atomically under the
// library's write lock, modeled as remove-then-insert. Updating an unknown
// id fails with ErrRecordNotFound.
func (m *Manager) Update(ctx context.Context, libraryID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	lib, err := m.get(libraryID)
	if err != nil {
		return err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	if lib.closed {
		return ErrLibraryNotFound
	}
	if _, ok := lib.byKey[rec.ID]; !ok {
		return fmt.Errorf("%w: %q", ErrRecordNotFound, rec.ID)
	}
	// Reject before the remove so a bad update leaves the record intact.
	if len(rec.Vector) != lib.dim {
		return &ErrDimensionMismatch{Expected: lib.dim, Actual: len(rec.Vector)}
	}
	if lib.cfg.Metric == distance.MetricCosine && distance.Magnitude(rec.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrDegenerateVector, distance.ErrDegenerateVector)
	}
	if err := lib.remove(ctx, rec.ID); err != nil {
		return err
	}
	if err := lib.add(ctx, rec); err != nil {
		return err
	}
	m.maybeRebuild(ctx, libraryID, lib)
	return nil
}

// Rebuild discards and reconstructs the library's index from its current
// record set. Callers observe either the pre- or post-rebuild index, never
// a partial one: the write lock is held for the duration.
func (m *Manager) Rebuild(ctx context.Context, libraryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lib, err := m.get(libraryID)
	if err != nil {
		return err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	if lib.closed {
		return ErrLibraryNotFound
	}
	if lib.idx == nil {
		return nil
	}
	err = lib.idx.Rebuild(ctx)
	m.opts.logger.LogRebuild(ctx, libraryID, lib.idx.Len(), err)
	return err
}

// maybeRebuild runs a threshold-triggered rebuild, gated by the optional
// rate limiter. Called with the library write lock held.
func (m *Manager) maybeRebuild(ctx context.Context, libraryID string, lib *library) {
	if lib.idx == nil || !lib.idx.NeedsRebuild() {
		return
	}
	if m.opts.rebuildLimiter != nil && !m.opts.rebuildLimiter.Allow() {
		return
	}
	err := lib.idx.Rebuild(ctx)
	m.opts.logger.LogRebuild(ctx, libraryID, lib.idx.Len(), err)
}

// DropLibrary tears down the library's index and lock. Subsequent
// operations on the id fail with ErrLibraryNotFound. Driven by the
// external CRUD layer's library-delete notification.
func (m *Manager) DropLibrary(ctx context.Context, libraryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	lib, ok := m.libraries[libraryID]
	delete(m.libraries, libraryID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrLibraryNotFound, libraryID)
	}

	// In-flight operations holding the old pointer observe closed and fail.
	lib.mu.Lock()
	lib.closed = true
	lib.idx = nil
	lib.store = nil
	lib.byKey = nil
	lib.keys = nil
	lib.meta = nil
	lib.mu.Unlock()

	m.opts.logger.InfoContext(ctx, "library dropped", "library", libraryID)
	return nil
}

// Libraries returns the registered library ids, sorted.
func (m *Manager) Libraries() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.libraries))
	for id := range m.libraries {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// LibraryStats describes one library's index.
type LibraryStats struct {
	Library      string
	Records      int
	Dimension    int
	Algorithm    index.Algorithm
	Metric       distance.Metric
	NeedsRebuild bool
}

// Stats returns the library's index statistics.
func (m *Manager) Stats(libraryID string) (LibraryStats, error) {
	lib, err := m.get(libraryID)
	if err != nil {
		return LibraryStats{}, err
	}
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	if lib.closed {
		return LibraryStats{}, fmt.Errorf("%w: %q", ErrLibraryNotFound, libraryID)
	}
	st := LibraryStats{
		Library:   libraryID,
		Dimension: lib.dim,
		Algorithm: lib.cfg.Algorithm,
		Metric:    lib.cfg.Metric,
	}
	if lib.idx != nil {
		st.Records = lib.idx.Len()
		st.NeedsRebuild = lib.idx.NeedsRebuild()
	}
	return st, nil
}

// Has reports whether the library id is registered.
func (m *Manager) Has(libraryID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.libraries[libraryID]
	return ok
}
