// Package vector stores and searches chunk embeddings in a sqlite-vec
// database. Each tenant gets its own vec0 virtual table, created on first
// insert with that tenant's embedding dimension, so users with different
// embedding providers can coexist in one database file.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrDimensionMismatch is returned when new vectors do not match the
// dimension the tenant's collection was created with. The caller must
// reprocess the tenant's documents with a single embedding provider.
var ErrDimensionMismatch = errors.New("vector: embedding dimension mismatch")

const metaSchema = `
CREATE TABLE IF NOT EXISTS collections (
    user_id INTEGER PRIMARY KEY,
    dim     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_meta (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    handle      TEXT NOT NULL UNIQUE,
    user_id     INTEGER NOT NULL,
    document_id INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    page_number INTEGER,
    token_count INTEGER NOT NULL DEFAULT 0,
    start_char  INTEGER NOT NULL DEFAULT 0,
    end_char    INTEGER NOT NULL DEFAULT 0,
    content     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_meta_user ON chunk_meta(user_id);
CREATE INDEX IF NOT EXISTS idx_chunk_meta_document ON chunk_meta(user_id, document_id);
`

// Store is the embedding database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (or creates) the vector database at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vector db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to vector db: %w", err)
	}
	if _, err := db.Exec(metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &Store{db: db, log: slog.With("component", "vector")}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ChunkRecord is one embedded chunk with its provenance.
type ChunkRecord struct {
	Handle     string
	DocumentID int64
	ChunkIndex int
	PageNumber int // 0 when the source has no pages
	TokenCount int
	StartChar  int
	EndChar    int
	Content    string
}

// Result is one search hit.
type Result struct {
	ChunkRecord
	Similarity float64
}

func vecTable(userID int64) string {
	return fmt.Sprintf("vec_user_%d", userID)
}

// CollectionDim returns the embedding dimension of the tenant's collection,
// or false when the tenant has no vectors yet.
func (s *Store) CollectionDim(ctx context.Context, userID int64) (int, bool, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dim FROM collections WHERE user_id = ?", userID).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// AddChunks stores records and their vectors atomically. The tenant's
// collection is created on first insert with the dimension of this batch;
// later batches must match it.
func (s *Store) AddChunks(ctx context.Context, userID int64, records []ChunkRecord, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return fmt.Errorf("vector: %d records but %d vectors", len(records), len(vectors))
	}
	if len(records) == 0 {
		return nil
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dim %d, batch dim %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, "SELECT dim FROM collections WHERE user_id = ?", userID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])", vecTable(userID), dim)); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO collections (user_id, dim) VALUES (?, ?)", userID, dim); err != nil {
			return err
		}
		s.log.Info("created vector collection", "user_id", userID, "dim", dim)
	case err != nil:
		return err
	case existing != dim:
		return fmt.Errorf("%w: collection has dim %d, batch has %d", ErrDimensionMismatch, existing, dim)
	}

	metaStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_meta
			(handle, user_id, document_id, chunk_index, page_number, token_count, start_char, end_char, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer metaStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (rowid, embedding) VALUES (?, ?)", vecTable(userID)))
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, r := range records {
		var page any
		if r.PageNumber > 0 {
			page = r.PageNumber
		}
		res, err := metaStmt.ExecContext(ctx,
			r.Handle, userID, r.DocumentID, r.ChunkIndex, page,
			r.TokenCount, r.StartChar, r.EndChar, r.Content)
		if err != nil {
			return fmt.Errorf("inserting chunk meta %d: %w", i, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := vecStmt.ExecContext(ctx, rowID, serializeFloat32(vectors[i])); err != nil {
			return fmt.Errorf("inserting vector %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Query returns the k nearest chunks for the tenant. When documentID is
// non-zero, only that document's chunks are returned. A tenant with no
// collection gets an empty result.
func (s *Store) Query(ctx context.Context, userID int64, vector []float32, k int, documentID int64) ([]Result, error) {
	dim, ok, err := s.CollectionDim(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has dim %d, collection has %d", ErrDimensionMismatch, len(vector), dim)
	}

	// Over-fetch when filtering by document, since the KNN runs before the
	// document filter.
	fetch := k
	if documentID != 0 {
		fetch = k * 10
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.handle, m.document_id, m.chunk_index, COALESCE(m.page_number, 0),
			m.token_count, m.start_char, m.end_char, m.content, v.distance
		FROM %s v
		JOIN chunk_meta m ON m.id = v.rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, vecTable(userID)),
		serializeFloat32(vector), fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var distance float64
		if err := rows.Scan(&r.Handle, &r.DocumentID, &r.ChunkIndex, &r.PageNumber,
			&r.TokenCount, &r.StartChar, &r.EndChar, &r.Content, &distance); err != nil {
			return nil, err
		}
		if documentID != 0 && r.DocumentID != documentID {
			continue
		}
		r.Similarity = 1.0 / (1.0 + distance)
		results = append(results, r)
		if len(results) == k {
			break
		}
	}
	return results, rows.Err()
}

// DeleteDocument removes all vectors of one document.
func (s *Store) DeleteDocument(ctx context.Context, userID, documentID int64) error {
	return s.deleteWhere(ctx, userID, "user_id = ? AND document_id = ?", userID, documentID)
}

// DeleteByHandles removes specific chunks, used to roll back a partial
// ingestion.
func (s *Store) DeleteByHandles(ctx context.Context, userID int64, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	args := make([]any, 0, len(handles)+1)
	args = append(args, userID)
	for _, h := range handles {
		args = append(args, h)
	}
	where := "user_id = ? AND handle IN (?" + strings.Repeat(", ?", len(handles)-1) + ")"
	return s.deleteWhere(ctx, userID, where, args...)
}

func (s *Store) deleteWhere(ctx context.Context, userID int64, where string, args ...any) error {
	_, ok, err := s.CollectionDim(ctx, userID)
	if err != nil || !ok {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE rowid IN (SELECT id FROM chunk_meta WHERE %s)", vecTable(userID), where), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_meta WHERE "+where, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats reports whether the tenant has a collection and how many chunks it
// holds.
func (s *Store) Stats(ctx context.Context, userID int64) (exists bool, count int, err error) {
	_, exists, err = s.CollectionDim(ctx, userID)
	if err != nil || !exists {
		return false, 0, err
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunk_meta WHERE user_id = ?", userID).Scan(&count)
	return true, count, err
}

// DropTenant removes the tenant's collection entirely.
func (s *Store) DropTenant(ctx context.Context, userID int64) error {
	_, ok, err := s.CollectionDim(ctx, userID)
	if err != nil || !ok {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+vecTable(userID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunk_meta WHERE user_id = ?", userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE user_id = ?", userID); err != nil {
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
