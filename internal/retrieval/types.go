package retrieval

import (
	"context"
	"time"
)

// Document is one grounding item that can be injected into a turn.
type Document struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store indexes and retrieves grounding documents.
type Store interface {
	Add(ctx context.Context, doc Document) error
	Search(ctx context.Context, query, collectionID string, limit int) ([]Document, error)
	Close() error
}
