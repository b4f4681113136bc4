package community

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndLoadInitialMEK(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := slog.Default()

	mek, err := CreateInitialMEK(ctx, db, log, "community-1")
	if err != nil {
		t.Fatalf("create initial mek: %v", err)
	}
	if mek.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", mek.Generation)
	}

	loaded, ok, err := LoadLatestMEK(ctx, db, "community-1")
	if err != nil {
		t.Fatalf("load latest mek: %v", err)
	}
	if !ok {
		t.Fatal("expected a persisted mek")
	}
	if loaded.Key != mek.Key || loaded.Generation != mek.Generation {
		t.Fatal("loaded mek does not match created mek")
	}
}

func TestLoadLatestMEKMissing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, ok, err := LoadLatestMEK(ctx, db, "nonexistent")
	if err != nil {
		t.Fatalf("load latest mek: %v", err)
	}
	if ok {
		t.Fatal("expected no mek for a community never hosted")
	}
}

func TestRotateMEKIncrementsGeneration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	log := slog.Default()

	first, err := CreateInitialMEK(ctx, db, log, "community-2")
	if err != nil {
		t.Fatalf("create initial mek: %v", err)
	}
	rotated, err := RotateMEK(ctx, db, log, "community-2", first.Generation+1)
	if err != nil {
		t.Fatalf("rotate mek: %v", err)
	}
	if rotated.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", rotated.Generation)
	}
	if rotated.Key == first.Key {
		t.Fatal("rotated key must differ from the initial key")
	}

	loaded, ok, err := LoadLatestMEK(ctx, db, "community-2")
	if err != nil {
		t.Fatalf("load latest mek: %v", err)
	}
	if !ok || loaded.Generation != 2 {
		t.Fatalf("expected latest generation 2, got ok=%v gen=%d", ok, loaded.Generation)
	}
}
