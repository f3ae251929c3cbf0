package store

import (
	"context"
	"fmt"
)

// InitSchema creates all tables and indexes if they do not exist.
// Idempotent - safe to call on every startup.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		display_name TEXT,
		tier TEXT NOT NULL DEFAULT 'free',
		subscription_expires_at TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		messages_sent INTEGER NOT NULL DEFAULT 0,
		messages_remaining INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		owner_id TEXT,  -- NULL/empty for system characters
		name TEXT NOT NULL,
		backstory TEXT,
		traits TEXT,           -- JSON object, trait -> strength
		speech_patterns TEXT,  -- JSON, schema-versioned
		visible INTEGER NOT NULL DEFAULT 1,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		character_id TEXT,
		model_type TEXT,
		title TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		tags TEXT,  -- JSON array
		last_message_at TEXT,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		model TEXT,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		edited INTEGER NOT NULL DEFAULT 0,
		edited_at TEXT,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS character_memories (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (character_id) REFERENCES characters(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS character_learnings (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		feedback TEXT,
		importance REAL NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL,
		server_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (character_id) REFERENCES characters(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_checkpoints (
		entity_type TEXT PRIMARY KEY,
		last_synced_at TEXT NOT NULL
	);

	-- Hard deletes of server-known rows are journaled here and drained on
	-- the next push, so the server stops re-offering them on pull.
	CREATE TABLE IF NOT EXISTS sync_deletions (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		deleted_at TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	-- Push queries select by sync_state ordered by created_at
	CREATE INDEX IF NOT EXISTS idx_characters_sync ON characters(sync_state, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_sync ON conversations(sync_state, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sync ON messages(sync_state, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_sync ON character_memories(sync_state, created_at);
	CREATE INDEX IF NOT EXISTS idx_learnings_sync ON character_learnings(sync_state, created_at);

	-- Ownership scans
	CREATE INDEX IF NOT EXISTS idx_characters_owner ON characters(owner_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

	-- Message timeline per conversation
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	-- Per-character adaptation lookups
	CREATE INDEX IF NOT EXISTS idx_memories_character ON character_memories(character_id);
	CREATE INDEX IF NOT EXISTS idx_learnings_character ON character_learnings(character_id);
	`

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
