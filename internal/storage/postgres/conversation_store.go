package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// GetDocument retrieves a conversation memory document by key. Expiry is not
// applied here; the memory service decides what an expired document means.
func (s *Store) GetDocument(ctx context.Context, key string) (*types.ConversationMemory, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}

	var docJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM conversation_memories WHERE key = $1`, key,
	).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get document %s: %w", key, err)
	}

	var doc types.ConversationMemory
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("postgres: failed to decode document %s: %w", key, err)
	}
	return &doc, nil
}

// PutDocument stores a document under its Key, replacing any previous
// version. The ttl column mirrors doc.TTL for indexed sweeps.
func (s *Store) PutDocument(ctx context.Context, doc *types.ConversationMemory) error {
	if doc == nil || doc.Key == "" {
		return fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode document %s: %w", doc.Key, err)
	}

	const upsertSQL = `
		INSERT INTO conversation_memories (key, conversation_id, doc, ttl, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			doc = EXCLUDED.doc,
			ttl = EXCLUDED.ttl,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, upsertSQL,
		doc.Key, doc.ConversationID, docJSON, doc.TTL, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to put document %s: %w", doc.Key, err)
	}
	return nil
}

// DeleteDocument removes a document. Missing keys are not an error.
func (s *Store) DeleteDocument(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_memories WHERE key = $1`, key,
	); err != nil {
		return fmt.Errorf("postgres: failed to delete document %s: %w", key, err)
	}
	return nil
}

// ExpiredKeys returns up to limit document keys whose ttl passed before now.
func (s *Store) ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM conversation_memories WHERE ttl <= $1 ORDER BY ttl LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list expired documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan expired key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: expired key iteration: %w", err)
	}
	return keys, nil
}
