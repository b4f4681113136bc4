package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rekindle-chat/rekindle/internal/platform/privacylog"
	"github.com/spf13/cobra"
)

var (
	flagDataDir    string
	flagConfigPath string
	flagPassphrase string
	flagLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rekindle-node",
	Short: "rekindle P2P messaging node",
	Long: `rekindle-node runs one user's encrypted P2P messaging core: identity and
device key management, Signal-style session ratchets, and the DHT overlay
dispatch loop that carries them over the network.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		handler := privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil))
		flagLogger = slog.New(handler)
		return nil
	},
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", ".", "directory for node local state")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().StringVar(&flagPassphrase, "passphrase", os.Getenv("REKINDLE_PASSPHRASE"), "identity keystore passphrase (defaults to REKINDLE_PASSPHRASE)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
