// Package sqlite is the embedded index.Index backend. Embeddings are stored
// as little-endian float32 blobs and searched with an exact cosine scan.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/seanblong/docchat/internal/index"
	"github.com/seanblong/docchat/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  document_id   TEXT NOT NULL,
  document_name TEXT NOT NULL,
  ordinal       INTEGER NOT NULL,
  chunk_count   INTEGER NOT NULL,
  text          TEXT NOT NULL,
  embedding     BLOB NOT NULL,
  created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS chunks_document_id_idx ON chunks (document_id);
`

type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; WAL keeps readers unblocked
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (s *Index) Close() error { return s.db.Close() }

// Insert replaces the batch's documents in one transaction.
func (s *Index) Insert(ctx context.Context, chunks []models.Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Warn().Err(rbErr).Msg("sqlite rollback failed")
			}
		}
	}()

	for _, id := range index.DocumentIDs(chunks) {
		if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("clear document %s: %w", id, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, document_name, ordinal, chunk_count, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			document_id   = excluded.document_id,
			document_name = excluded.document_name,
			ordinal       = excluded.ordinal,
			chunk_count   = excluded.chunk_count,
			text          = excluded.text,
			embedding     = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err = stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.DocumentName, c.Ordinal, c.ChunkCount, c.Text,
			encodeVector(c.Embedding), created.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Query scans every stored embedding. Fine for the document counts a single
// user uploads; use the postgres or qdrant backend beyond that.
func (s *Index) Query(ctx context.Context, vec []float32, k int) ([]models.SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, document_name, ordinal, chunk_count, text, embedding, created_at
		FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var (
			c       models.Chunk
			blob    []byte
			created int64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentName, &c.Ordinal, &c.ChunkCount,
			&c.Text, &blob, &created); err != nil {
			return nil, err
		}
		c.Embedding = decodeVector(blob)
		if err := index.CheckDimension(vec, c.Embedding); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		hits = append(hits, models.SearchHit{Chunk: c, Distance: index.CosineDistance(vec, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if hits == nil {
		return []models.SearchHit{}, nil
	}
	return index.SortHits(hits, k), nil
}

func (s *Index) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Index) Documents(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, MIN(document_name), COUNT(*)
		FROM chunks
		GROUP BY document_id
		ORDER BY MIN(document_name), document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.ChunkCount); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Index) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
