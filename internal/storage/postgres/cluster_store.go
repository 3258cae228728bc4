package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/greenfell/hearth/internal/storage"
	"github.com/greenfell/hearth/pkg/types"
)

// clusterSelectColumns is the canonical SELECT column list for the clusters
// table. It must match the scan order in scanClusterRow.
const clusterSelectColumns = `
	key, type, scope, description,
	query_patterns, areas, domains,
	created_at, updated_at
`

// UpsertCluster creates or updates a cluster keyed by cluster key.
func (s *Store) UpsertCluster(ctx context.Context, cluster *types.Cluster) error {
	if cluster == nil {
		return storage.ErrInvalidInput
	}
	if cluster.Key == "" {
		return fmt.Errorf("%w: cluster key is required", storage.ErrInvalidInput)
	}
	if !types.IsValidClusterType(cluster.Type) {
		return fmt.Errorf("%w: invalid cluster type %q", storage.ErrInvalidInput, cluster.Type)
	}

	if cluster.CreatedAt.IsZero() {
		cluster.CreatedAt = time.Now()
	}
	cluster.UpdatedAt = time.Now()

	patternsJSON, err := json.Marshal(cluster.QueryPatterns)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal query patterns: %w", err)
	}
	areasJSON, err := json.Marshal(cluster.Areas)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal areas: %w", err)
	}
	domainsJSON, err := json.Marshal(cluster.Domains)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal domains: %w", err)
	}

	const upsertSQL = `
		INSERT INTO clusters (
			key, type, scope, description,
			query_patterns, areas, domains,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			type = EXCLUDED.type,
			scope = EXCLUDED.scope,
			description = EXCLUDED.description,
			query_patterns = EXCLUDED.query_patterns,
			areas = EXCLUDED.areas,
			domains = EXCLUDED.domains,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, upsertSQL,
		cluster.Key, string(cluster.Type), string(cluster.Scope), cluster.Description,
		patternsJSON, areasJSON, domainsJSON,
		cluster.CreatedAt, cluster.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert cluster %s: %w", cluster.Key, err)
	}

	// Empty embeddings are stored as NULL: the cluster exists but stays
	// invisible to vector search.
	if len(cluster.Embedding) > 0 && s.pgvectorAvailable {
		vec := pgvector.NewVector(cluster.Embedding)
		if _, err := s.db.ExecContext(ctx,
			`UPDATE clusters SET embedding_vec = $1::vector WHERE key = $2`,
			vec, cluster.Key,
		); err != nil {
			return fmt.Errorf("postgres: failed to store cluster embedding for %s: %w", cluster.Key, err)
		}
	}

	return nil
}

// GetCluster retrieves a cluster by key.
func (s *Store) GetCluster(ctx context.Context, key string) (*types.Cluster, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: cluster key is required", storage.ErrInvalidInput)
	}

	querySQL := `SELECT ` + clusterSelectColumns + ` FROM clusters WHERE key = $1`

	row := s.db.QueryRowContext(ctx, querySQL, key)
	cluster, err := scanClusterRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get cluster %s: %w", key, err)
	}
	return cluster, nil
}

// ListClusters returns every stored cluster ordered by key.
func (s *Store) ListClusters(ctx context.Context) ([]*types.Cluster, error) {
	querySQL := `SELECT ` + clusterSelectColumns + ` FROM clusters ORDER BY key`

	rows, err := s.db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	clusters := make([]*types.Cluster, 0)
	for rows.Next() {
		cluster, err := scanClusterRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan cluster row: %w", err)
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cluster row iteration: %w", err)
	}
	return clusters, nil
}

// SearchClusters performs pgvector cosine similarity search over clusters.
// Clusters without embeddings (NULL embedding_vec) never match.
func (s *Store) SearchClusters(ctx context.Context, vector []float32, clusterTypes []types.ClusterType, limit int, threshold float64) ([]types.ClusterMatch, error) {
	if limit < 1 {
		limit = 10
	}
	if len(vector) == 0 || !s.pgvectorAvailable {
		return []types.ClusterMatch{}, nil
	}

	vec := pgvector.NewVector(vector)

	args := []interface{}{vec}
	conditions := []string{"embedding_vec IS NOT NULL"}

	if len(clusterTypes) > 0 {
		placeholders := make([]string, 0, len(clusterTypes))
		for _, t := range clusterTypes {
			args = append(args, string(t))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ", ")+")")
	}

	args = append(args, limit)

	querySQL := `
		SELECT ` + clusterSelectColumns + `, 1 - (embedding_vec <=> $1::vector) AS similarity
		FROM clusters
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY embedding_vec <=> $1::vector
		LIMIT $` + fmt.Sprintf("%d", len(args))

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: cluster search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]types.ClusterMatch, 0, limit)
	for rows.Next() {
		cluster, similarity, err := scanClusterMatchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan cluster search row: %w", err)
		}
		if similarity < threshold {
			continue
		}
		matches = append(matches, types.ClusterMatch{Cluster: cluster, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cluster search iteration: %w", err)
	}
	return matches, nil
}

// AddMembership records one cluster→entity edge (upsert on the pair).
func (s *Store) AddMembership(ctx context.Context, membership *types.ClusterMembership) error {
	if membership == nil {
		return storage.ErrInvalidInput
	}
	if membership.ClusterKey == "" || membership.EntityID == "" {
		return fmt.Errorf("%w: cluster key and entity id are required", storage.ErrInvalidInput)
	}
	if !types.IsValidMembershipRole(membership.Role) {
		return fmt.Errorf("%w: invalid membership role %q", storage.ErrInvalidInput, membership.Role)
	}

	if membership.Label == "" {
		membership.Label = types.EdgeLabelContainsEntity
	}
	if membership.CreatedAt.IsZero() {
		membership.CreatedAt = time.Now()
	}

	const upsertSQL = `
		INSERT INTO cluster_entities (
			cluster_key, entity_id, label, role, weight, context_boost, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cluster_key, entity_id) DO UPDATE SET
			label = EXCLUDED.label,
			role = EXCLUDED.role,
			weight = EXCLUDED.weight,
			context_boost = EXCLUDED.context_boost
	`

	_, err := s.db.ExecContext(ctx, upsertSQL,
		membership.ClusterKey, membership.EntityID, membership.Label,
		string(membership.Role), membership.Weight, membership.ContextBoost,
		membership.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to add membership %s -> %s: %w",
			membership.ClusterKey, membership.EntityID, err)
	}
	return nil
}

// Memberships returns the membership edges of the given clusters joined with
// their entities.
func (s *Store) Memberships(ctx context.Context, clusterKeys []string, role types.MembershipRole) ([]storage.MembershipEntity, error) {
	if len(clusterKeys) == 0 {
		return []storage.MembershipEntity{}, nil
	}

	args := make([]interface{}, 0, len(clusterKeys)+1)
	placeholders := make([]string, 0, len(clusterKeys))
	for _, key := range clusterKeys {
		args = append(args, key)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	querySQL := `
		SELECT
			e.entity_id, e.domain, e.area, e.friendly_name, e.description,
			e.state, e.unit, e.available, e.last_changed,
			e.embedding_model, e.embedding_dimension, e.updated_at,
			ce.cluster_key, ce.label, ce.role, ce.weight, ce.context_boost, ce.created_at
		FROM cluster_entities ce
		JOIN entities e ON e.entity_id = ce.entity_id
		WHERE ce.cluster_key IN (` + strings.Join(placeholders, ", ") + `)`

	if role != "" {
		args = append(args, string(role))
		querySQL += fmt.Sprintf(" AND ce.role = $%d", len(args))
	}
	querySQL += " ORDER BY ce.weight DESC, e.entity_id"

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]storage.MembershipEntity, 0)
	for rows.Next() {
		var (
			entity                          types.HomeEntity
			area, friendlyName, description sql.NullString
			state, unit, embeddingModel     sql.NullString
			lastChanged                     sql.NullTime
			embeddingDimension              sql.NullInt64
			membership                      types.ClusterMembership
			roleStr                         string
		)

		err := rows.Scan(
			&entity.EntityID, &entity.Domain, &area, &friendlyName, &description,
			&state, &unit, &entity.Available, &lastChanged,
			&embeddingModel, &embeddingDimension, &entity.UpdatedAt,
			&membership.ClusterKey, &membership.Label, &roleStr,
			&membership.Weight, &membership.ContextBoost, &membership.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan membership row: %w", err)
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
		membership.EntityID = entity.EntityID
		membership.Role = types.MembershipRole(roleStr)

		results = append(results, storage.MembershipEntity{
			Entity:     &entity,
			Membership: membership,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: membership row iteration: %w", err)
	}
	return results, nil
}

// scanClusterRow scans one row in clusterSelectColumns order.
func scanClusterRow(row rowScanner) (*types.Cluster, error) {
	var (
		cluster                           types.Cluster
		typeStr, scopeStr                 string
		patternsJSON, areasJSON, domsJSON []byte
	)

	err := row.Scan(
		&cluster.Key, &typeStr, &scopeStr, &cluster.Description,
		&patternsJSON, &areasJSON, &domsJSON,
		&cluster.CreatedAt, &cluster.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cluster.Type = types.ClusterType(typeStr)
	cluster.Scope = types.ClusterScope(scopeStr)

	if len(patternsJSON) > 0 {
		if err := json.Unmarshal(patternsJSON, &cluster.QueryPatterns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query patterns: %w", err)
		}
	}
	if len(areasJSON) > 0 {
		if err := json.Unmarshal(areasJSON, &cluster.Areas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal areas: %w", err)
		}
	}
	if len(domsJSON) > 0 {
		if err := json.Unmarshal(domsJSON, &cluster.Domains); err != nil {
			return nil, fmt.Errorf("failed to unmarshal domains: %w", err)
		}
	}

	return &cluster, nil
}

// scanClusterMatchRow scans clusterSelectColumns plus a trailing similarity.
func scanClusterMatchRow(row rowScanner) (*types.Cluster, float64, error) {
	var (
		cluster                           types.Cluster
		typeStr, scopeStr                 string
		patternsJSON, areasJSON, domsJSON []byte
		similarity                        float64
	)

	err := row.Scan(
		&cluster.Key, &typeStr, &scopeStr, &cluster.Description,
		&patternsJSON, &areasJSON, &domsJSON,
		&cluster.CreatedAt, &cluster.UpdatedAt,
		&similarity,
	)
	if err != nil {
		return nil, 0, err
	}

	cluster.Type = types.ClusterType(typeStr)
	cluster.Scope = types.ClusterScope(scopeStr)

	if len(patternsJSON) > 0 {
		if err := json.Unmarshal(patternsJSON, &cluster.QueryPatterns); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal query patterns: %w", err)
		}
	}
	if len(areasJSON) > 0 {
		if err := json.Unmarshal(areasJSON, &cluster.Areas); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal areas: %w", err)
		}
	}
	if len(domsJSON) > 0 {
		if err := json.Unmarshal(domsJSON, &cluster.Domains); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal domains: %w", err)
		}
	}

	return &cluster, similarity, nil
}
