package pulse

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tracely/pulse/pkg/config"
	"github.com/tracely/pulse/pkg/httpserver"
)

// Serve runs the live stream and the view API until the server stops on a
// signal or ctx is cancelled. A stream that gives up reconnecting leaves
// the view API serving the buffered spans.
func Serve(ctx context.Context, cfg *config.Base, logger *slog.Logger) error {
	session, closeSession, err := NewSessionFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	serverCfg := httpserver.DefaultServerConfig(cfg.HTTPPort, cfg.ServiceName)
	serverCfg.ShutdownTimeout = cfg.ShutdownTimeout
	server := httpserver.NewServer(serverCfg, logger)
	NewHandler(session, logger).RegisterRoutes(server.Router())

	logger.Info("starting pulse service",
		"port", cfg.HTTPPort,
		"env", cfg.Environment,
		"project_id", cfg.ProjectID,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := session.Run(gctx); err != nil && !errors.Is(err, ErrStreamAbandoned) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return server.Run(gctx)
	})
	return g.Wait()
}
