package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestIsStorageConfiguredRequiresBothPathAndSecret(t *testing.T) {
	if IsStorageConfigured("", "secret") {
		t.Fatal("blank path must not count as configured")
	}
	if IsStorageConfigured("/tmp/x", "") {
		t.Fatal("blank secret must not count as configured")
	}
	if !IsStorageConfigured(" /tmp/x ", " secret ") {
		t.Fatal("padded path/secret should still count as configured")
	}
}

func TestNormalizeStorageConfigTrimsWhitespace(t *testing.T) {
	path, secret := NormalizeStorageConfig("  /tmp/devices.enc  ", "  hunter2  ")
	if path != "/tmp/devices.enc" || secret != "hunter2" {
		t.Fatalf("expected trimmed values, got path=%q secret=%q", path, secret)
	}
}

func TestWriteEncryptedJSONThenReadDecryptedFileRoundtrip(t *testing.T) {
	type registry struct {
		NextIndex int      `json:"next_index"`
		Devices   []string `json:"devices"`
	}
	path := filepath.Join(t.TempDir(), "devices.enc")
	want := registry{NextIndex: 2, Devices: []string{"dev1_aaaa", "dev1_bbbb"}}

	if err := WriteEncryptedJSON(path, "pass", want); err != nil {
		t.Fatalf("write encrypted json: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	raw, err := ReadDecryptedFile(path, "pass")
	if err != nil {
		t.Fatalf("read decrypted file: %v", err)
	}
	var got registry
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.NextIndex != want.NextIndex || len(got.Devices) != len(want.Devices) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
	}

	if _, err := ReadDecryptedFile(path, "wrong-pass"); err == nil {
		t.Fatal("expected wrong passphrase to fail decryption")
	}
}
