package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists grounding documents in PostgreSQL and ranks
// search hits with full-text search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rag_documents (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			search tsvector GENERATED ALWAYS AS (to_tsvector('simple', title || ' ' || content)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rag_documents_collection ON rag_documents (collection_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_rag_documents_search ON rag_documents USING GIN (search);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rag_documents (id, collection_id, title, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		doc.ID,
		doc.CollectionID,
		doc.Title,
		doc.Content,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query, collectionID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, collection_id, title, content, created_at
		 FROM rag_documents
		 WHERE collection_id=$1 AND search @@ plainto_tsquery('simple', $2)
		 ORDER BY ts_rank(search, plainto_tsquery('simple', $2)) DESC
		 LIMIT $3`,
		collectionID,
		query,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, limit)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.CollectionID, &d.Title, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
