package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process document store for local/dev use.
// Search scores by naive term overlap.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string][]Document)}
}

func (s *InMemoryStore) Add(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.docs[doc.CollectionID] = append(s.docs[doc.CollectionID], doc)
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, query, collectionID string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   Document
		score int
	}
	var hits []scored
	for _, d := range s.docs[collectionID] {
		text := strings.ToLower(d.Title + " " + d.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
