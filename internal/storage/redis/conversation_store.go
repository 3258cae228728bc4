// Package redis implements the conversation store on a redis instance.
//
// Each conversation memory document is stored as a JSON string under
// hearth:conv:{id}:memory with a native redis expiry mirroring the ttl
// embedded in the document. Native expiry is a second line of defense; the
// memory service still applies lazy expiry from the embedded ttl so all
// backends behave identically.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

const (
	// keyPattern matches every conversation memory key for SCAN.
	keyPattern = "hearth:conv:*:memory"

	// scanBatchSize is the COUNT hint passed to SCAN.
	scanBatchSize = 100

	// minExpiry keeps already-expired documents visible to one sweep
	// instead of silently vanishing mid-write.
	minExpiry = time.Second
)

// Store is a ConversationStore backed by a redis instance.
type Store struct {
	client *redis.Client
}

// NewStore connects to redis at addr and verifies the connection.
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", addr, err)
	}

	return &Store{client: client}, nil
}

// GetDocument retrieves a conversation memory document by key. Documents
// evicted by native expiry report ErrNotFound like a deleted document.
func (s *Store) GetDocument(ctx context.Context, key string) (*types.ConversationMemory, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}

	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get document %s: %w", key, err)
	}

	var doc types.ConversationMemory
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("redis: failed to decode document %s: %w", key, err)
	}
	return &doc, nil
}

// PutDocument stores a document under its Key with a native expiry matching
// the embedded ttl.
func (s *Store) PutDocument(ctx context.Context, doc *types.ConversationMemory) error {
	if doc == nil || doc.Key == "" {
		return fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: failed to encode document %s: %w", doc.Key, err)
	}

	expiry := time.Until(doc.TTL)
	if expiry < minExpiry {
		expiry = minExpiry
	}

	if err := s.client.Set(ctx, redisKey(doc.Key), data, expiry).Err(); err != nil {
		return fmt.Errorf("redis: failed to put document %s: %w", doc.Key, err)
	}
	return nil
}

// DeleteDocument removes a document. Missing keys are not an error.
func (s *Store) DeleteDocument(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: document key is required", storage.ErrInvalidInput)
	}
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete document %s: %w", key, err)
	}
	return nil
}

// ExpiredKeys scans for documents whose embedded ttl passed before now.
// Native expiry usually beats the sweep to it, so this mostly catches
// documents in the sub-second window before redis evicts them.
func (s *Store) ExpiredKeys(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit < 1 {
		limit = 100
	}

	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: failed to scan documents: %w", err)
		}

		for _, rk := range batch {
			if len(keys) >= limit {
				return keys, nil
			}

			data, err := s.client.Get(ctx, rk).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis: failed to get document %s: %w", rk, err)
			}

			var doc types.ConversationMemory
			if err := json.Unmarshal(data, &doc); err != nil {
				// Undecodable documents count as expired so sweeps clear them.
				keys = append(keys, docKey(rk))
				continue
			}
			if doc.Expired(now) {
				keys = append(keys, doc.Key)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Close closes the redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// redisKey maps a document key (conv_{id}_memory) onto the redis keyspace
// (hearth:conv:{id}:memory). Keys outside that shape pass through under the
// hearth: prefix.
func redisKey(key string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(key, "conv_"), "_memory")
	if id == key || id == "" {
		return "hearth:" + key
	}
	return fmt.Sprintf("hearth:conv:%s:memory", id)
}

// docKey is the inverse of redisKey.
func docKey(redisKey string) string {
	id := strings.TrimSuffix(strings.TrimPrefix(redisKey, "hearth:conv:"), ":memory")
	if id == redisKey || id == "" {
		return strings.TrimPrefix(redisKey, "hearth:")
	}
	return types.MemoryDocKey(id)
}

// Compile-time assertion.
var _ storage.ConversationStore = (*Store)(nil)
