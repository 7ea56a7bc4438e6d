package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dropDatabas3/linkbroker/internal/app"
	httpx "github.com/dropDatabas3/linkbroker/internal/http"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta la página puente, la API /connections y (opcional) el backend de referencia",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, app.Options{Version: version})
			if err != nil {
				return err
			}

			srv := httpx.NewServer(httpx.ServerConfig{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, a.Handler)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, nil) })
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return a.Close(sctx)
			})

			err = g.Wait()
			logger.L().Info("linkbroker stopped")
			return err
		},
	}
}
