package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const documentColumns = `id, user_id, original_filename, stored_filename, file_path,
	mime_type, file_size, file_type, status, error_message, chunk_count,
	total_tokens, embedding_model, created_at, updated_at, processed_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var errMsg, embModel sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&d.ID, &d.UserID, &d.OriginalFilename, &d.StoredFilename,
		&d.FilePath, &d.MIMEType, &d.FileSize, &d.FileType, &d.Status, &errMsg,
		&d.ChunkCount, &d.TotalTokens, &embModel, &d.CreatedAt, &d.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	d.ErrorMessage = scanNullStr(errMsg)
	d.EmbeddingModel = scanNullStr(embModel)
	d.ProcessedAt = scanNullTime(processedAt)
	return &d, nil
}

// CreateDocument inserts a new document in pending state and returns its ID.
func (s *Store) CreateDocument(ctx context.Context, d Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (user_id, original_filename, stored_filename, file_path,
			mime_type, file_size, file_type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.UserID, d.OriginalFilename, d.StoredFilename, d.FilePath,
		d.MIMEType, d.FileSize, d.FileType, DocStatusPending)
	if err != nil {
		return 0, fmt.Errorf("creating document: %w", err)
	}
	return res.LastInsertId()
}

// GetDocument returns a document by ID, or nil if not found.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// ListDocuments returns all documents for a user, most recent first.
func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// CountDocuments returns the user's document count, optionally filtered by status.
func (s *Store) CountDocuments(ctx context.Context, userID int64, status string) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE user_id = ?", userID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE user_id = ? AND status = ?", userID, status).Scan(&n)
	}
	return n, err
}

// MarkDocumentProcessing moves a document into the processing state and
// clears any previous error.
func (s *Store) MarkDocumentProcessing(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, DocStatusProcessing, id)
	return err
}

// MarkDocumentReady finalises a successfully processed document.
func (s *Store) MarkDocumentReady(ctx context.Context, id int64, chunkCount, totalTokens int, embeddingModel string, processedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, chunk_count = ?, total_tokens = ?,
			embedding_model = ?, processed_at = ?, error_message = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, DocStatusReady, chunkCount, totalTokens, embeddingModel, processedAt, id)
	return err
}

// MarkDocumentFailed records a processing failure.
func (s *Store) MarkDocumentFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, DocStatusFailed, errMsg, id)
	return err
}

// DeleteDocument removes a document; chunk rows cascade. Callers must
// cascade the on-disk file and the vector store entries.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// --- Document chunks ---

// InsertDocumentChunks inserts all chunk rows for a document in one
// transaction. Any failure leaves no rows behind.
func (s *Store) InsertDocumentChunks(ctx context.Context, chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_chunks (document_id, chunk_index, content,
				token_count, start_char, end_char, page_number, chroma_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			var page any
			if c.PageNumber > 0 {
				page = c.PageNumber
			}
			if _, err := stmt.ExecContext(ctx, c.DocumentID, c.ChunkIndex, c.Content,
				c.TokenCount, c.StartChar, c.EndChar, page, c.ChromaID); err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// ListDocumentChunks returns a document's chunks in ordinal order.
func (s *Store) ListDocumentChunks(ctx context.Context, documentID int64) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, token_count,
			COALESCE(start_char, 0), COALESCE(end_char, 0), COALESCE(page_number, 0), chroma_id
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &c.StartChar, &c.EndChar, &c.PageNumber, &c.ChromaID); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocumentChunks removes all chunk rows for a document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM document_chunks WHERE document_id = ?", documentID)
	return err
}

// CountDocumentChunks returns the number of chunk rows for a document.
func (s *Store) CountDocumentChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_chunks WHERE document_id = ?", documentID).Scan(&n)
	return n, err
}
