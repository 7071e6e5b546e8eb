package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agentrag/internal/models"
)

// SQLStore keeps passages and their embeddings in the passages table and
// scores them in process. It works with both sqlite3 and mysql.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps a migrated database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Upsert(ctx context.Context, clientID, collection string, passages []*models.Passage, vectors [][]float64) error {
	if err := checkUpsert(passages, vectors); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `REPLACE INTO passages
		(id, client_id, collection, content, file_name, file_path, page_number, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, p := range passages {
		meta := "{}"
		if len(p.Metadata) > 0 {
			raw, err := json.Marshal(p.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			meta = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, clientID, collection, p.Content, p.FileName, p.FilePath,
			p.PageNumber, meta, float32SliceToBytes(vectors[i]), now); err != nil {
			return fmt.Errorf("upsert passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Search(ctx context.Context, clientID, collection string, vector []float64, topK int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, file_name, file_path, page_number, metadata, embedding
		FROM passages WHERE client_id = ? AND collection = ? ORDER BY created_at, id`, clientID, collection)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var (
			p    models.Passage
			meta sql.NullString
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.Content, &p.FileName, &p.FilePath, &p.PageNumber, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		if meta.Valid && meta.String != "" && meta.String != "{}" {
			if err := json.Unmarshal([]byte(meta.String), &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", p.ID, err)
			}
		}
		candidates = append(candidates, scored{passage: &p, score: cosine(vector, bytesToFloat64Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topDocuments(candidates, topK), nil
}

func (s *SQLStore) Count(ctx context.Context, clientID, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE client_id = ? AND collection = ?`,
		clientID, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *SQLStore) Close() error {
	return nil
}
