package keymaterial

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rekindle-chat/rekindle/internal/securestore"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrPasswordRequired  = errors.New("keymaterial: passphrase is required")
	ErrMnemonicRequired  = errors.New("keymaterial: mnemonic is required")
	ErrInvalidMnemonic   = errors.New("keymaterial: invalid mnemonic")
	ErrInvalidPassword   = errors.New("keymaterial: incorrect passphrase")
	ErrSeedNotAvailable  = errors.New("keymaterial: no seed has been stored")
	ErrPassphraseLocked  = errors.New("keymaterial: too many failed attempts, try again later")
)

// Keystore holds a passphrase-encrypted master seed (a BIP-39 mnemonic) and
// applies an exponential lockout backoff after repeated wrong-passphrase
// attempts, so that an attacker cannot brute-force the passphrase offline
// against a live process at unlimited speed.
type Keystore struct {
	mu             sync.RWMutex
	envelope       *securestore.Envelope
	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

func NewKeystore() *Keystore {
	return &Keystore{now: time.Now}
}

// Create generates a fresh 256-bit BIP-39 mnemonic, encrypts it under
// passphrase, and derives the resulting master Identity.
func (k *Keystore) Create(passphrase string) (mnemonic string, identity *Identity, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, fmt.Errorf("keymaterial: generate entropy: %w", err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("keymaterial: generate mnemonic: %w", err)
	}
	return k.Import(mnemonic, passphrase)
}

// Import stores an existing mnemonic under passphrase and derives its
// master Identity.
func (k *Keystore) Import(mnemonic, passphrase string) (normalized string, identity *Identity, err error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return "", nil, ErrMnemonicRequired
	}
	if passphrase == "" {
		return "", nil, ErrPasswordRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	var seed32 [32]byte
	copy(seed32[:], seed)
	id, err := FromSeed(seed32[:])
	if err != nil {
		return "", nil, err
	}

	env, err := securestore.EncryptEnvelope(passphrase, []byte(mnemonic))
	if err != nil {
		return "", nil, fmt.Errorf("keymaterial: encrypt mnemonic: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.envelope = env
	return mnemonic, id, nil
}

// Unlock decrypts the stored mnemonic with passphrase and re-derives the
// master Identity. Wrong passphrases accumulate lockout backoff.
func (k *Keystore) Unlock(passphrase string) (*Identity, error) {
	if passphrase == "" {
		return nil, ErrPasswordRequired
	}

	k.mu.Lock()
	env := k.envelope
	if err := k.ensureUnlockedLocked(); err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.mu.Unlock()
	if env == nil {
		return nil, ErrSeedNotAvailable
	}

	plaintext, err := securestore.DecryptEnvelope(passphrase, env)
	if err != nil {
		k.mu.Lock()
		k.onFailedAttemptLocked()
		k.mu.Unlock()
		return nil, ErrInvalidPassword
	}

	k.mu.Lock()
	k.resetAttemptStateLocked()
	k.mu.Unlock()

	mnemonic := strings.TrimSpace(string(plaintext))
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: corrupted mnemonic", ErrInvalidMnemonic)
	}

	seed := bip39.NewSeed(mnemonic, "")
	var seed32 [32]byte
	copy(seed32[:], seed)
	return FromSeed(seed32[:])
}

// ChangePassphrase re-encrypts the stored mnemonic under a new passphrase.
func (k *Keystore) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	if oldPassphrase == "" || newPassphrase == "" {
		return ErrPasswordRequired
	}

	k.mu.Lock()
	env := k.envelope
	if err := k.ensureUnlockedLocked(); err != nil {
		k.mu.Unlock()
		return err
	}
	k.mu.Unlock()
	if env == nil {
		return ErrSeedNotAvailable
	}

	plaintext, err := securestore.DecryptEnvelope(oldPassphrase, env)
	if err != nil {
		k.mu.Lock()
		k.onFailedAttemptLocked()
		k.mu.Unlock()
		return ErrInvalidPassword
	}

	newEnv, err := securestore.EncryptEnvelope(newPassphrase, plaintext)
	if err != nil {
		return fmt.Errorf("keymaterial: re-encrypt mnemonic: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.envelope = newEnv
	k.resetAttemptStateLocked()
	return nil
}

func (k *Keystore) ensureUnlockedLocked() error {
	if k.lockedUntil.IsZero() {
		return nil
	}
	if k.now().Before(k.lockedUntil) {
		return ErrPassphraseLocked
	}
	return nil
}

func (k *Keystore) onFailedAttemptLocked() {
	k.failedAttempts++
	k.lockedUntil = k.now().Add(failedAttemptBackoff(k.failedAttempts))
}

func (k *Keystore) resetAttemptStateLocked() {
	k.failedAttempts = 0
	k.lockedUntil = time.Time{}
}

// failedAttemptBackoff grows 1s, 2s, 4s... capped at 32s.
func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<uint(shift))
}
