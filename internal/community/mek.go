package community

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/rekindle-chat/rekindle/internal/groupkey"
)

// CreateInitialMEK generates and persists generation-1 MEK for a community
// that is being hosted for the first time.
func CreateInitialMEK(ctx context.Context, db *sql.DB, log *slog.Logger, communityID string) (groupkey.MEK, error) {
	mek, err := groupkey.Generate(1)
	if err != nil {
		return groupkey.MEK{}, fmt.Errorf("community: generate initial mek: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO server_mek (community_id, generation, key_bytes, created_at) VALUES (?, ?, ?, ?)`,
		communityID, int64(mek.Generation), mek.Key[:], time.Now().Unix(),
	)
	if err != nil {
		log.ErrorContext(ctx, "community: failed to persist initial mek", "error", err, "community_id", communityID)
		return mek, fmt.Errorf("community: persist initial mek: %w", err)
	}
	log.InfoContext(ctx, "community: created initial mek", "community_id", communityID)
	log.DebugContext(ctx, "community: initial mek material", "community_id", communityID, "mek", mek.Key[:])
	return mek, nil
}

// RotateMEK generates a new MEK at newGeneration and persists it. The
// caller is responsible for distributing it to the remaining members and
// republishing whatever pointer to it the DHT exposes — rotation here is
// purely the "mint and store" half.
func RotateMEK(ctx context.Context, db *sql.DB, log *slog.Logger, communityID string, newGeneration uint64) (groupkey.MEK, error) {
	mek, err := groupkey.Generate(newGeneration)
	if err != nil {
		return groupkey.MEK{}, fmt.Errorf("community: generate rotated mek: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO server_mek (community_id, generation, key_bytes, created_at) VALUES (?, ?, ?, ?)`,
		communityID, int64(newGeneration), mek.Key[:], time.Now().Unix(),
	)
	if err != nil {
		log.ErrorContext(ctx, "community: failed to persist rotated mek", "error", err, "community_id", communityID, "generation", newGeneration)
		return mek, fmt.Errorf("community: persist rotated mek: %w", err)
	}
	log.InfoContext(ctx, "community: mek rotated", "community_id", communityID, "generation", newGeneration)
	log.DebugContext(ctx, "community: rotated mek material", "community_id", communityID, "generation", newGeneration, "mek", mek.Key[:])
	return mek, nil
}

// LoadLatestMEK returns the highest-generation MEK persisted for a
// community, or false if none exists yet.
func LoadLatestMEK(ctx context.Context, db *sql.DB, communityID string) (groupkey.MEK, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT generation, key_bytes FROM server_mek WHERE community_id = ? ORDER BY generation DESC LIMIT 1`,
		communityID,
	)
	var generation int64
	var keyBytes []byte
	if err := row.Scan(&generation, &keyBytes); err != nil {
		if err == sql.ErrNoRows {
			return groupkey.MEK{}, false, nil
		}
		return groupkey.MEK{}, false, fmt.Errorf("community: load latest mek: %w", err)
	}
	if len(keyBytes) != 32 {
		return groupkey.MEK{}, false, fmt.Errorf("community: mek key_bytes has wrong length: %d", len(keyBytes))
	}
	var key [32]byte
	copy(key[:], keyBytes)
	return groupkey.FromBytes(key, uint64(generation)), true, nil
}
