// Package sqlite provides a pure-Go SQLite implementation of the storage
// interfaces, suitable for tests, demos, and small installations. Embeddings
// are stored as little-endian float32 blobs and searched by brute-force
// cosine similarity in Go.
package sqlite

// Schema contains the SQL statements to create the database schema for SQLite.
// All statements are idempotent (IF NOT EXISTS).
const Schema = `
-- Entities table: home entities with their live state snapshot
CREATE TABLE IF NOT EXISTS entities (
    entity_id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    area TEXT,
    friendly_name TEXT,
    description TEXT,

    state TEXT,
    unit TEXT,
    available INTEGER NOT NULL DEFAULT 1,
    last_changed TIMESTAMP,

    embedding BLOB,
    embedding_model TEXT,
    embedding_dimension INTEGER,

    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Clusters table: semantic entity groupings
CREATE TABLE IF NOT EXISTS clusters (
    key TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    scope TEXT NOT NULL,
    description TEXT NOT NULL,

    query_patterns TEXT, -- JSON array
    areas TEXT,          -- JSON array
    domains TEXT,        -- JSON array

    embedding BLOB,

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

-- Conversation memory documents: one JSON document per conversation
CREATE TABLE IF NOT EXISTS conversation_memories (
    key TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    doc TEXT NOT NULL,
    ttl TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_domain ON entities(domain);
CREATE INDEX IF NOT EXISTS idx_entities_area ON entities(area);
CREATE INDEX IF NOT EXISTS idx_entities_updated_at ON entities(updated_at);
CREATE INDEX IF NOT EXISTS idx_clusters_type ON clusters(type);
CREATE INDEX IF NOT EXISTS idx_cluster_entities_cluster ON cluster_entities(cluster_key);
CREATE INDEX IF NOT EXISTS idx_cluster_entities_entity ON cluster_entities(entity_id);
CREATE INDEX IF NOT EXISTS idx_conversation_memories_ttl ON conversation_memories(ttl);
`
