package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// snapshotVersion is bumped when the snapshot layout changes.
const snapshotVersion = 1

// snapshotHeader opens a snapshot stream: the library row and its
// documents, followed by one JSON-encoded Chunk per record.
type snapshotHeader struct {
	Version   int        `json:"version"`
	Library   Library    `json:"library"`
	Documents []Document `json:"documents"`
}

// ExportLibrary writes a zstd-compressed snapshot of one library — its
// row, documents and chunks — to w. Index structures are never exported;
// an import rebuilds them from the records.
func (s *Store) ExportLibrary(ctx context.Context, libraryID string, w io.Writer) error {
	lib, err := s.Library(ctx, libraryID)
	if err != nil {
		return err
	}
	docs, err := s.documents(ctx, libraryID)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)

	if err := enc.Encode(snapshotHeader{
		Version:   snapshotVersion,
		Library:   lib,
		Documents: docs,
	}); err != nil {
		_ = zw.Close()
		return err
	}

	if err := s.ForEachChunk(ctx, libraryID, func(c Chunk) error {
		return enc.Encode(c)
	}); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// ImportLibrary reads a snapshot produced by ExportLibrary and recreates
// the library, its documents and chunks. The library id is preserved, so
// importing into a store that already holds it fails on the primary key.
// It returns the imported library row and the number of chunks restored.
func (s *Store) ImportLibrary(ctx context.Context, r io.Reader) (Library, int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Library{}, 0, err
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)

	var hdr snapshotHeader
	if err := dec.Decode(&hdr); err != nil {
		return Library{}, 0, fmt.Errorf("sqlite: read snapshot header: %w", err)
	}
	if hdr.Version != snapshotVersion {
		return Library{}, 0, fmt.Errorf("sqlite: unsupported snapshot version %d", hdr.Version)
	}

	lib, err := s.CreateLibrary(ctx, hdr.Library)
	if err != nil {
		return Library{}, 0, err
	}
	for _, doc := range hdr.Documents {
		if _, err := s.CreateDocument(ctx, doc); err != nil {
			return Library{}, 0, err
		}
	}

	count := 0
	batch := make([]Chunk, 0, 256)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := s.InsertChunks(ctx, batch); err != nil {
			return err
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}
	for {
		var c Chunk
		if err := dec.Decode(&c); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Library{}, 0, fmt.Errorf("sqlite: read snapshot chunk: %w", err)
		}
		batch = append(batch, c)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return Library{}, 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return Library{}, 0, err
	}
	return lib, count, nil
}

// documents returns the document rows of a library ordered by creation.
func (s *Store) documents(ctx context.Context, libraryID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, library_id, title, created_at FROM documents WHERE library_id = ? ORDER BY created_at, id`,
		libraryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			doc       Document
			createdAt int64
		)
		if err := rows.Scan(&doc.ID, &doc.LibraryID, &doc.Title, &createdAt); err != nil {
			return nil, err
		}
		doc.CreatedAt = time.Unix(0, createdAt)
		out = append(out, doc)
	}
	return out, rows.Err()
}
