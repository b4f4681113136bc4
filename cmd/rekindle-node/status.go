package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print this node's identity id",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	identity, err := unlockIdentity()
	if err != nil {
		return err
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
