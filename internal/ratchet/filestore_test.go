package ratchet

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreSaveAndGetRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.enc")
	store := NewFileStore(path, "pw")

	state := State{
		ContactID:   "bob",
		SkippedKeys: map[uint64][32]byte{},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := store.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened := NewFileStore(path, "pw")
	got, ok, err := reopened.Get("bob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got.ContactID != "bob" {
		t.Fatalf("expected to find bob's session, got ok=%v state=%+v", ok, got)
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.enc"), "pw")
	all, err := store.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty store, got %d entries", len(all))
	}
}

func TestFileStoreWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.enc")
	store := NewFileStore(path, "right")
	if err := store.Save(State{ContactID: "bob", SkippedKeys: map[uint64][32]byte{}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	wrong := NewFileStore(path, "wrong")
	if _, err := wrong.All(); err == nil {
		t.Fatal("expected decrypt failure with wrong passphrase")
	}
}
