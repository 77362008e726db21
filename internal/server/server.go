package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/delivery/http/router"
)

// NewServer binds the listener during start so a taken port fails the fx
// start instead of being logged from a goroutine.
func NewServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	r *router.Router,
	logger *zap.Logger,
) error {
	app := r.Setup()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			addr := fmt.Sprintf(":%d", cfg.App.Port)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}

			logger.Info("Starting HTTP server",
				zap.String("address", ln.Addr().String()),
				zap.String("env", cfg.App.Env),
				zap.String("signing_base_url", cfg.App.BaseURL),
				zap.Uint32("routes", app.HandlersCount()),
			)

			go func() {
				if err := app.Listener(ln); err != nil {
					logger.Error("HTTP server stopped with error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server")
			return app.ShutdownWithContext(ctx)
		},
	})

	return nil
}

var Module = fx.Module("server",
	fx.Invoke(NewServer),
)
