package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/internal/pipeline"
	"github.com/rekindle-chat/rekindle/internal/platform/nodeconfig"
	"github.com/rekindle-chat/rekindle/internal/routecache"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overlay dispatch loop until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	identity, err := unlockIdentity()
	if err != nil {
		return err
	}
	identityID, err := keymaterial.BuildIdentityID(identity.PublicKey())
	if err != nil {
		return err
	}

	cfg, err := nodeconfig.Load(flagConfigPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var api overlay.API
	if cfg.Waku.Transport == overlay.TransportMock {
		api = overlay.NewMock()
	} else {
		backend, err := overlay.NewWakuBackend(ctx, cfg.Waku, identityID)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close(context.Background()) }()
		api = backend
	}

	routes := routecache.NewRouteCache(api)
	ownRoutes := routecache.NewRouteManager(api)
	if _, err := ownRoutes.Allocate(ctx); err != nil {
		return err
	}

	p := pipeline.NewPipeline(api, routes, ownRoutes, flagLogger)
	flagLogger.InfoContext(ctx, "node serving", "identity_id", identityID, "route_id", ownRoutes.RouteID())

	p.Run(ctx, pipeline.Handlers{
		OnMessage: func(ctx context.Context, fromRouteID string, kind pipeline.PayloadKind, body []byte) {
			flagLogger.InfoContext(ctx, "inbound message", "from_route_id", fromRouteID, "kind", string(rune(kind)), "bytes", len(body))
		},
		OnRouteReallocateNeeded: func(ctx context.Context) {
			flagLogger.WarnContext(ctx, "own route reported dead, reallocating")
			if _, err := ownRoutes.Allocate(ctx); err != nil {
				flagLogger.ErrorContext(ctx, "route reallocation failed", "error", err)
			}
		},
	})

	return ownRoutes.Release(context.Background())
}
