// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent (IF NOT EXISTS) so the schema can
// be applied on every startup. Vector columns are added separately by
// MigrationPgvector because they require the pgvector extension.
const Schema = `
-- Entities table: home entities with their live state snapshot
CREATE TABLE IF NOT EXISTS entities (
    entity_id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    area TEXT,
    friendly_name TEXT,
    description TEXT,

    -- Live state snapshot
    state TEXT,
    unit TEXT,
    available BOOLEAN NOT NULL DEFAULT TRUE,
    last_changed TIMESTAMP,

    -- Embedding bookkeeping (the vector itself lives in embedding_vec)
    embedding_model TEXT,
    embedding_dimension INTEGER,

    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Clusters table: semantic entity groupings searched by vector similarity
CREATE TABLE IF NOT EXISTS clusters (
    key TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    scope TEXT NOT NULL,
    description TEXT NOT NULL,

    -- JSON arrays
    query_patterns JSONB,
    areas JSONB,
    domains JSONB,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Cluster membership edges: cluster -> entity with role and weight
CREATE TABLE IF NOT EXISTS cluster_entities (
    cluster_key TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT 'contains_entity',
    role TEXT NOT NULL DEFAULT 'related',
    weight REAL NOT NULL DEFAULT 1.0,
    context_boost REAL NOT NULL DEFAULT 0.0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

    PRIMARY KEY (cluster_key, entity_id),
    FOREIGN KEY (cluster_key) REFERENCES clusters(key) ON DELETE CASCADE,
    FOREIGN KEY (entity_id) REFERENCES entities(entity_id) ON DELETE CASCADE
);

-- Conversation memory documents: one JSON document per conversation.
-- The ttl column mirrors the deadline embedded in the document so sweeps
-- can find expired rows with an index instead of decoding every document.
CREATE TABLE IF NOT EXISTS conversation_memories (
    key TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    doc JSONB NOT NULL,
    ttl TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance

-- Entity lookups
CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(domain);
CREATE INDEX IF NOT EXISTS idx_entities_area ON entities(area);
CREATE INDEX IF NOT EXISTS idx_entities_available ON entities(available);
CREATE INDEX IF NOT EXISTS idx_entities_updated_at ON entities(updated_at);

-- Cluster lookups
CREATE INDEX IF NOT EXISTS idx_clusters_type ON clusters(type);
CREATE INDEX IF NOT EXISTS idx_clusters_scope ON clusters(scope);

-- Membership edge lookups
CREATE INDEX IF NOT EXISTS idx_cluster_entities_cluster ON cluster_entities(cluster_key);
CREATE INDEX IF NOT EXISTS idx_cluster_entities_entity ON cluster_entities(entity_id);
CREATE INDEX IF NOT EXISTS idx_cluster_entities_role ON cluster_entities(role);

-- Conversation document sweeps
CREATE INDEX IF NOT EXISTS idx_conversation_memories_ttl ON conversation_memories(ttl);
CREATE INDEX IF NOT EXISTS idx_conversation_memories_conversation ON conversation_memories(conversation_id);
`

// MigrationPgvector adds the vector columns and ANN indexes. Only applied
// when the vector extension is available. Safe to run multiple times.
const MigrationPgvector = `
-- Add embedding_vec columns if they don't already exist.
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entities' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE entities ADD COLUMN embedding_vec vector;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'clusters' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE clusters ADD COLUMN embedding_vec vector;
    END IF;
END
$$;

-- Create ivfflat indexes for approximate nearest-neighbor search.
-- Lists = 100 is a good default for up to ~1M vectors.
-- IMPORTANT: ivfflat requires at least one row to exist; we guard with DO blocks.
DO $$
BEGIN
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_entities_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM entities WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_entities_vec_cosine ON entities USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
  IF NOT EXISTS (
    SELECT 1 FROM pg_indexes WHERE indexname = 'idx_clusters_vec_cosine'
  ) THEN
    IF EXISTS (SELECT 1 FROM clusters WHERE embedding_vec IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX idx_clusters_vec_cosine ON clusters USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;
`
