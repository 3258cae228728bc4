package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/greenfell/hearth/pkg/types"
)

// InMemoryConversationStore is a ConversationStore backed by a mutex-guarded
// map. Documents are kept serialized so reads and writes behave like a real
// keyed store (no aliasing between callers). Used by tests and demo mode.
type InMemoryConversationStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewInMemoryConversationStore creates an empty in-memory store.
func NewInMemoryConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{
		docs: make(map[string][]byte),
	}
}

// GetDocument retrieves a document by key.
func (s *InMemoryConversationStore) GetDocument(ctx context.Context, key string) (*types.ConversationMemory, error) {
	s.mu.RLock()
	data, ok := s.docs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	var doc types.ConversationMemory
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("inmemory: failed to decode document %s: %w", key, err)
	}
	return &doc, nil
}

// PutDocument stores a document under its Key.
func (s *InMemoryConversationStore) PutDocument(ctx context.Context, doc *types.ConversationMemory) error {
	if doc == nil || doc.Key == "" {
		return fmt.Errorf("%w: document key is required", ErrInvalidInput)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("inmemory: failed to encode document %s: %w", doc.Key, err)
	}

	s.mu.Lock()
	s.docs[doc.Key] = data
	s.mu.Unlock()
	return nil
}

// DeleteDocument removes a document. Missing keys are not an error.
func (s *InMemoryConversationStore) DeleteDocument(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

// ExpiredKeys returns up to limit keys whose ttl passed before now.
func (s *InMemoryConversationStore) ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key, data := range s.docs {
		if limit > 0 && len(keys) >= limit {
			break
		}

		var doc types.ConversationMemory
		if err := json.Unmarshal(data, &doc); err != nil {
			// Undecodable documents count as expired so sweeps clear them.
			keys = append(keys, key)
			continue
		}
		if doc.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Close releases nothing; present to satisfy ConversationStore.
func (s *InMemoryConversationStore) Close() error {
	return nil
}

// Len returns the number of stored documents. Test helper.
func (s *InMemoryConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Compile-time assertion.
var _ ConversationStore = (*InMemoryConversationStore)(nil)
