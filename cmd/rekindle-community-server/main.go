package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rekindle-chat/rekindle/internal/platform/privacylog"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	flagDataDir    string
	flagConfigPath string
	flagLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rekindle-community-server",
	Short: "rekindle community hosting daemon",
	Long: `rekindle-community-server hosts one or more communities' MEK rotation and
channel message batches over the DHT overlay, controlled through a local
IPC socket.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		handler := privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil))
		flagLogger = slog.New(handler)
		return nil
	},
}

func main() {
	// A hosted community server runs under whatever CPU quota its
	// container was given; GOMAXPROCS defaults to the host's core count
	// unless this adjusts it to the cgroup limit first.
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "gomaxprocs: "+format+"\n", args...)
	})); err != nil {
		fmt.Fprintf(os.Stderr, "gomaxprocs: failed to adjust: %v\n", err)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", ".", "directory for community-server local state")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to config.yaml (optional)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
