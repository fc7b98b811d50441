// Package sqlite provides the durable record store behind the in-memory
// indexes: libraries own documents, documents own chunks, and every chunk
// carries an embedding plus filterable metadata.
//
// The store is the source of truth; index structures are never persisted
// and are always rebuilt from chunks on cold start (see Store.LoadInto).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/arbordb/arbor/metadata"
)

var (
	// ErrLibraryNotFound is returned when a row operation references an
	// unknown library id.
	ErrLibraryNotFound = errors.New("sqlite: library not found")

	// ErrDocumentNotFound is returned when a chunk references an unknown
	// document id.
	ErrDocumentNotFound = errors.New("sqlite: document not found")

	// ErrChunkNotFound is returned when a chunk id does not exist.
	ErrChunkNotFound = errors.New("sqlite: chunk not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    algorithm  TEXT NOT NULL DEFAULT 'linear',
    metric     TEXT NOT NULL DEFAULT 'euclidean',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
    title      TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    library_id  TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
    text        TEXT NOT NULL DEFAULT '',
    embedding   BLOB NOT NULL,
    meta        TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_library ON documents(library_id);
CREATE INDEX IF NOT EXISTS idx_chunks_library ON chunks(library_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// Library is a stored library row. Algorithm and Metric hold the canonical
// names understood by index.ParseAlgorithm and distance.ParseMetric.
type Library struct {
	ID        string
	Name      string
	Algorithm string
	Metric    string
	CreatedAt time.Time
}

// Document is a stored document row.
type Document struct {
	ID        string
	LibraryID string
	Title     string
	CreatedAt time.Time
}

// Chunk is a stored chunk row: the unit that becomes one index record.
type Chunk struct {
	ID         string
	DocumentID string
	LibraryID  string
	Text       string
	Embedding  []float32
	Metadata   metadata.Metadata
	CreatedAt  time.Time
}

// Store is a SQLite-backed record store.
//
// All methods are safe for concurrent use; database/sql serializes access
// to the underlying connections.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Foreign keys are enabled via the DSN so cascade deletes
// apply on every pooled connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite: db is nil")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateLibrary inserts a library row. A zero ID is minted as a UUID.
func (s *Store) CreateLibrary(ctx context.Context, lib Library) (Library, error) {
	if lib.ID == "" {
		lib.ID = uuid.NewString()
	}
	if lib.Algorithm == "" {
		lib.Algorithm = "linear"
	}
	if lib.Metric == "" {
		lib.Metric = "euclidean"
	}
	if lib.CreatedAt.IsZero() {
		lib.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO libraries(id, name, algorithm, metric, created_at) VALUES(?, ?, ?, ?, ?)`,
		lib.ID, lib.Name, lib.Algorithm, lib.Metric, lib.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Library{}, fmt.Errorf("sqlite: create library: %w", err)
	}
	return lib, nil
}

// Library returns the library row for id.
func (s *Store) Library(ctx context.Context, id string) (Library, error) {
	var lib Library
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, algorithm, metric, created_at FROM libraries WHERE id = ?`, id,
	).Scan(&lib.ID, &lib.Name, &lib.Algorithm, &lib.Metric, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Library{}, fmt.Errorf("%w: %q", ErrLibraryNotFound, id)
	}
	if err != nil {
		return Library{}, err
	}
	lib.CreatedAt = time.Unix(0, createdAt)
	return lib, nil
}

// Libraries returns all library rows ordered by creation time.
func (s *Store) Libraries(ctx context.Context) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, algorithm, metric, created_at FROM libraries ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		var lib Library
		var createdAt int64
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Algorithm, &lib.Metric, &createdAt); err != nil {
			return nil, err
		}
		lib.CreatedAt = time.Unix(0, createdAt)
		out = append(out, lib)
	}
	return out, rows.Err()
}

// DeleteLibrary removes the library row; documents and chunks cascade.
func (s *Store) DeleteLibrary(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrLibraryNotFound, id)
	}
	return nil
}

// CreateDocument inserts a document row. A zero ID is minted as a UUID.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(id, library_id, title, created_at) VALUES(?, ?, ?, ?)`,
		doc.ID, doc.LibraryID, doc.Title, doc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Document{}, fmt.Errorf("sqlite: create document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes the document row; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrDocumentNotFound, id)
	}
	return nil
}

// InsertChunks inserts chunk rows in one transaction. Zero IDs are minted
// as UUIDs; the (possibly minted) ids are returned in input order.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks(id, document_id, library_id, text, embedding, meta, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.LibraryID, c.Text,
			EncodeEmbedding(c.Embedding), meta, c.CreatedAt.UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("sqlite: insert chunk %q: %w", c.ID, err)
		}
		ids = append(ids, c.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateChunk replaces the chunk's text, embedding and metadata.
func (s *Store) UpdateChunk(ctx context.Context, c Chunk) error {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET text = ?, embedding = ?, meta = ? WHERE id = ?`,
		c.Text, EncodeEmbedding(c.Embedding), meta, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrChunkNotFound, c.ID)
	}
	return nil
}

// DeleteChunk removes the chunk row.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrChunkNotFound, id)
	}
	return nil
}

// Chunk returns the chunk row for id.
func (s *Store) Chunk(ctx context.Context, id string) (Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, library_id, text, embedding, meta, created_at FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, fmt.Errorf("%w: %q", ErrChunkNotFound, id)
	}
	return c, err
}

// ForEachChunk streams every chunk of the library to fn in insertion
// order. Iteration stops at the first error from fn.
func (s *Store) ForEachChunk(ctx context.Context, libraryID string, fn func(Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, library_id, text, embedding, meta, created_at FROM chunks WHERE library_id = ? ORDER BY created_at, id`,
		libraryID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountChunks returns the number of chunks stored for the library.
func (s *Store) CountChunks(ctx context.Context, libraryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE library_id = ?`, libraryID,
	).Scan(&n)
	return n, err
}

func scanChunk(scan func(dest ...any) error) (Chunk, error) {
	var (
		c         Chunk
		embedding []byte
		meta      []byte
		createdAt int64
	)
	if err := scan(&c.ID, &c.DocumentID, &c.LibraryID, &c.Text, &embedding, &meta, &createdAt); err != nil {
		return Chunk{}, err
	}
	vec, err := DecodeEmbedding(embedding)
	if err != nil {
		return Chunk{}, err
	}
	doc, err := decodeMetadata(meta)
	if err != nil {
		return Chunk{}, err
	}
	c.Embedding = vec
	c.Metadata = doc
	c.CreatedAt = time.Unix(0, createdAt)
	return c, nil
}
