package main

import (
	"fmt"
	"path/filepath"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/securestore"
)

// unlockIdentity loads the mnemonic persisted by `init` and re-derives the
// master identity from it.
func unlockIdentity() (*keymaterial.Identity, error) {
	if flagPassphrase == "" {
		return nil, fmt.Errorf("a keystore passphrase is required (--passphrase or REKINDLE_PASSPHRASE)")
	}
	kc := securestore.NewFileKeychain(filepath.Join(flagDataDir, "keys"), flagPassphrase)
	mnemonic, ok, err := kc.LoadKey(securestore.VaultIdentity, securestore.KeyMnemonic)
	if err != nil {
		return nil, fmt.Errorf("load mnemonic: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no identity found under %s; run `rekindle-node init` first", flagDataDir)
	}

	ks := keymaterial.NewKeystore()
	if _, _, err := ks.Import(string(mnemonic), flagPassphrase); err != nil {
		return nil, fmt.Errorf("import mnemonic: %w", err)
	}
	return ks.Unlock(flagPassphrase)
}
