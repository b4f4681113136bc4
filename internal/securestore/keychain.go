package securestore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Vault and key name constants, mirroring the teacher's keystore layout and
// the vault/key taxonomy this module's keyed secrets are grouped under.
const (
	VaultIdentity   = "identity"
	KeyEd25519      = "ed25519_private"
	KeyX25519       = "x25519_private"
	KeyMnemonic     = "mnemonic"

	VaultSession     = "session"
	KeySessionState  = "session_state"
	KeyPrekeyBatch   = "prekey_batch"
	KeySignedPrekey  = "signed_prekey"

	VaultOverlay     = "overlay"
	KeyProtectedStore = "protected_store_key"

	VaultCommunities = "communities"
)

// MEKKeyName returns the keychain key name a community's MEK is stored
// under within VaultCommunities.
func MEKKeyName(communityID string) string {
	return "mek_" + communityID
}

var ErrKeyNotFound = errors.New("securestore: key not found in vault")

// Keychain abstracts over a secret-storage backend: a vault/key pair maps
// to an opaque byte blob, with every value persisted at rest through the
// same Argon2id/XChaCha20-Poly1305 envelope as other snapshots in this
// package. FileKeychain is the one production implementation; tests may
// substitute their own.
type Keychain interface {
	StoreKey(vault, key string, data []byte) error
	LoadKey(vault, key string) ([]byte, bool, error)
	DeleteKey(vault, key string) error
	KeyExists(vault, key string) (bool, error)
}

// FileKeychain persists each vault/key pair as its own encrypted file under
// baseDir, named by a hex-encoded "vault/key" path so arbitrary key names
// never need filesystem-safe escaping.
type FileKeychain struct {
	baseDir    string
	passphrase string
}

// NewFileKeychain wires a FileKeychain to a base directory and the
// passphrase used to derive its per-file encryption key.
func NewFileKeychain(baseDir, passphrase string) *FileKeychain {
	return &FileKeychain{baseDir: baseDir, passphrase: passphrase}
}

func (k *FileKeychain) pathFor(vault, key string) string {
	name := hex.EncodeToString([]byte(vault + "/" + key))
	return filepath.Join(k.baseDir, name+".enc")
}

func (k *FileKeychain) StoreKey(vault, key string, data []byte) error {
	if err := os.MkdirAll(k.baseDir, 0o700); err != nil {
		return fmt.Errorf("securestore: keychain mkdir: %w", err)
	}
	encrypted, err := Encrypt(k.passphrase, data)
	if err != nil {
		return fmt.Errorf("securestore: keychain encrypt: %w", err)
	}
	return os.WriteFile(k.pathFor(vault, key), encrypted, 0o600)
}

func (k *FileKeychain) LoadKey(vault, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(k.pathFor(vault, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("securestore: keychain read: %w", err)
	}
	plaintext, err := Decrypt(k.passphrase, raw)
	if err != nil {
		return nil, false, fmt.Errorf("securestore: keychain decrypt: %w", err)
	}
	return plaintext, true, nil
}

func (k *FileKeychain) DeleteKey(vault, key string) error {
	err := os.Remove(k.pathFor(vault, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("securestore: keychain delete: %w", err)
	}
	return nil
}

func (k *FileKeychain) KeyExists(vault, key string) (bool, error) {
	_, err := os.Stat(k.pathFor(vault, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("securestore: keychain stat: %w", err)
}
