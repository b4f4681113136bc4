// Package community implements the community-hosting server: MEK rotation
// and persistence, per-channel message batch history, and the IPC socket
// a local client (or CLI) uses to host/unhost/list/inspect communities this
// process serves. It is the Go counterpart of the community daemon rather
// than a client-side package — it runs as its own binary.
package community

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever serverSchema changes shape.
const schemaVersion = 1

const serverSchema = `
CREATE TABLE IF NOT EXISTS hosted_communities (
	id TEXT PRIMARY KEY,
	dht_record_key TEXT NOT NULL,
	owner_keypair_hex TEXT NOT NULL,
	name TEXT NOT NULL,
	creator_pseudonym_hex TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS server_mek (
	community_id TEXT NOT NULL REFERENCES hosted_communities(id) ON DELETE CASCADE,
	generation INTEGER NOT NULL,
	key_bytes BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (community_id, generation)
);

CREATE TABLE IF NOT EXISTS server_members (
	community_id TEXT NOT NULL REFERENCES hosted_communities(id) ON DELETE CASCADE,
	pseudonym_key_hex TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	joined_at INTEGER NOT NULL,
	route_blob BLOB,
	PRIMARY KEY (community_id, pseudonym_key_hex)
);

CREATE TABLE IF NOT EXISTS server_channels (
	community_id TEXT NOT NULL REFERENCES hosted_communities(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	latest_batch_key TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (community_id, id)
);
`

// OpenDB opens (or creates) the community server's SQLite database at path
// and applies the schema. A fresh pragma pair matches the teacher's
// preference for WAL durability over raw write throughput.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("community: open db: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("community: wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("community: foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, serverSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("community: apply schema: %w", err)
	}
	return db, nil
}
