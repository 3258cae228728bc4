package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// Store implements storage.EntityStore, storage.ClusterStore and
// storage.ConversationStore using SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time assertions.
var (
	_ storage.EntityStore       = (*Store)(nil)
	_ storage.ClusterStore      = (*Store)(nil)
	_ storage.ConversationStore = (*Store)(nil)
)

// NewStore opens a SQLite database, configures WAL mode, and applies any
// pending schema migrations. Use ":memory:" as the dsn for an ephemeral
// store.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode lets readers proceed without blocking the
	// writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// vectorSearchMaxCandidates caps how many embeddings are loaded into memory
// during a vector search. Candidates are selected most-recently-updated
// first. A real home rarely exceeds a few thousand entities; for bigger
// populations use the PostgreSQL backend with indexed ANN search.
const vectorSearchMaxCandidates = 10_000

// entitySelectColumns is the canonical SELECT column list for the entities
// table. It must match the scan order in scanEntityRow.
const entitySelectColumns = `
	entity_id, domain, area, friendly_name, description,
	state, unit, available, last_changed,
	embedding, embedding_model, embedding_dimension, updated_at
`

// UpsertEntity creates or updates an entity keyed by entity_id.
func (s *Store) UpsertEntity(ctx context.Context, entity *types.HomeEntity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", storage.ErrInvalidInput)
	}

	if entity.Domain == "" {
		entity.Domain = types.DomainOf(entity.EntityID)
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = time.Now()
	}

	var embeddingBlob []byte
	if len(entity.Embedding) > 0 {
		embeddingBlob = serializeEmbedding(entity.Embedding)
	}

	const upsertSQL = `
		INSERT INTO entities (
			entity_id, domain, area, friendly_name, description,
			state, unit, available, last_changed,
			embedding, embedding_model, embedding_dimension, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			domain = excluded.domain,
			area = excluded.area,
			friendly_name = excluded.friendly_name,
			description = excluded.description,
			state = excluded.state,
			unit = excluded.unit,
			available = excluded.available,
			last_changed = excluded.last_changed,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			embedding_dimension = excluded.embedding_dimension,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, upsertSQL,
		entity.EntityID, entity.Domain, nullString(entity.Area),
		nullString(entity.FriendlyName), nullString(entity.Description),
		nullString(entity.State), nullString(entity.Unit), entity.Available,
		nullTime(entity.LastChanged),
		embeddingBlob, nullString(entity.EmbeddingModel), nullInt(entity.EmbeddingDimension),
		entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert entity %s: %w", entity.EntityID, err)
	}
	return nil
}

// GetEntity retrieves an entity by id, including its embedding.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*types.HomeEntity, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", storage.ErrInvalidInput)
	}

	querySQL := `SELECT ` + entitySelectColumns + ` FROM entities WHERE entity_id = ?`

	row := s.db.QueryRowContext(ctx, querySQL, entityID)
	entity, err := scanEntityRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get entity %s: %w", entityID, err)
	}
	return entity, nil
}

// ListEntities retrieves entities with pagination and filtering.
func (s *Store) ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.HomeEntity], error) {
	opts.Normalize()

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if opts.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, opts.Domain)
	}
	if opts.Area != "" {
		conditions = append(conditions, "area = ?")
		args = append(args, opts.Area)
	}
	if opts.OnlyAvailable {
		conditions = append(conditions, "available = 1")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count entities: %w", err)
	}

	// SortBy/SortOrder are whitelist-validated by Normalize.
	querySQL := `SELECT ` + entitySelectColumns + ` FROM entities` + where +
		fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", opts.SortBy, strings.ToUpper(opts.SortOrder))

	rows, err := s.db.QueryContext(ctx, querySQL, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]types.HomeEntity, 0, opts.Limit)
	for rows.Next() {
		entity, err := scanEntityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entity row: %w", err)
		}
		items = append(items, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: entity row iteration: %w", err)
	}

	return &storage.PaginatedResult[types.HomeEntity]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// SearchEntities performs brute-force cosine similarity search.
// Embeddings are loaded into Go memory and ranked; the candidate pool is
// capped at vectorSearchMaxCandidates (most-recently-updated first).
func (s *Store) SearchEntities(ctx context.Context, vector []float32, opts storage.VectorSearchOptions) ([]storage.EntityMatch, error) {
	opts.Normalize()

	if len(vector) == 0 {
		return []storage.EntityMatch{}, nil
	}

	conditions := []string{"embedding IS NOT NULL"}
	args := make([]interface{}, 0, 4)

	if len(opts.Domains) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Domains)), ", ")
		conditions = append(conditions, "domain IN ("+placeholders+")")
		for _, d := range opts.Domains {
			args = append(args, d)
		}
	}
	if len(opts.Areas) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Areas)), ", ")
		conditions = append(conditions, "area IN ("+placeholders+")")
		for _, a := range opts.Areas {
			args = append(args, a)
		}
	}
	args = append(args, vectorSearchMaxCandidates)

	querySQL := `
		SELECT entity_id, embedding FROM entities
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY updated_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		entityID   string
		similarity float64
	}
	var candidates []scored

	for rows.Next() {
		var entityID string
		var blob []byte
		if err := rows.Scan(&entityID, &blob); err != nil {
			continue
		}
		embedding := deserializeEmbedding(blob)
		if len(embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(vector, embedding)
		if sim < opts.Threshold {
			continue
		}
		candidates = append(candidates, scored{entityID, sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: embedding iteration: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].similarity > candidates[j].similarity
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	matches := make([]storage.EntityMatch, 0, len(candidates))
	for _, c := range candidates {
		entity, err := s.GetEntity(ctx, c.entityID)
		if err != nil {
			continue
		}
		matches = append(matches, storage.EntityMatch{Entity: entity, Similarity: c.similarity})
	}
	return matches, nil
}

// CountEntities returns the total number of stored entities.
func (s *Store) CountEntities(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count entities: %w", err)
	}
	return total, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntityRow scans one row in entitySelectColumns order.
func scanEntityRow(row rowScanner) (*types.HomeEntity, error) {
	var (
		entity                          types.HomeEntity
		area, friendlyName, description sql.NullString
		state, unit, embeddingModel     sql.NullString
		lastChanged                     sql.NullTime
		embeddingBlob                   []byte
		embeddingDimension              sql.NullInt64
	)

	err := row.Scan(
		&entity.EntityID, &entity.Domain, &area, &friendlyName, &description,
		&state, &unit, &entity.Available, &lastChanged,
		&embeddingBlob, &embeddingModel, &embeddingDimension, &entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.Area = area.String
	entity.FriendlyName = friendlyName.String
	entity.Description = description.String
	entity.State = state.String
	entity.Unit = unit.String
	entity.EmbeddingModel = embeddingModel.String
	entity.EmbeddingDimension = int(embeddingDimension.Int64)
	if lastChanged.Valid {
		entity.LastChanged = lastChanged.Time
	}
	if len(embeddingBlob) > 0 {
		entity.Embedding = deserializeEmbedding(embeddingBlob)
	}

	return &entity, nil
}

// serializeEmbedding packs a float32 vector as little-endian bytes.
func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding unpacks a little-endian float32 vector. Returns nil
// for blobs with a truncated tail.
func deserializeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// nullString converts empty strings to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime converts zero times to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// nullInt converts zero ints to SQL NULL.
func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
