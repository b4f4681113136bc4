package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rekindle-chat/rekindle/internal/community"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/internal/platform/nodeconfig"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the community database and serve the control IPC socket",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := nodeconfig.LoadCommunityServer(flagConfigPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "." {
		cfg.DataDir = flagDataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.DataDir, dbPath)
	}
	db, err := community.OpenDB(ctx, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	var api overlay.API
	if cfg.Waku.Transport == overlay.TransportMock {
		api = overlay.NewMock()
	} else {
		backend, err := overlay.NewWakuBackend(ctx, cfg.Waku, "community-server")
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close(context.Background()) }()
		api = backend
	}

	server := community.NewServer(api, db, flagLogger)

	socketPath := cfg.SocketPath
	if !filepath.IsAbs(socketPath) {
		socketPath = filepath.Join(cfg.DataDir, socketPath)
	}
	ipcServer := community.NewIPCServer(socketPath, server, nil, flagLogger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-ipcServer.Shutdown():
			flagLogger.InfoContext(runCtx, "community-server: shutdown requested")
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	return ipcServer.Run(runCtx)
}
