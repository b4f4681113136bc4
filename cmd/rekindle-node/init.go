package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/securestore"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a new identity and store its mnemonic under --data-dir",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if flagPassphrase == "" {
		return fmt.Errorf("a keystore passphrase is required (--passphrase or REKINDLE_PASSPHRASE)")
	}

	ks := keymaterial.NewKeystore()
	mnemonic, identity, err := ks.Create(flagPassphrase)
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	kc := securestore.NewFileKeychain(filepath.Join(flagDataDir, "keys"), flagPassphrase)
	if err := kc.StoreKey(securestore.VaultIdentity, securestore.KeyMnemonic, []byte(mnemonic)); err != nil {
		return fmt.Errorf("persist mnemonic: %w", err)
	}

	identityID, err := keymaterial.BuildIdentityID(identity.PublicKey())
	if err != nil {
		return fmt.Errorf("build identity id: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"identity_id": identityID,
		"data_dir":    flagDataDir,
	})
}
