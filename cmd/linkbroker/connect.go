package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/app"
	"github.com/dropDatabas3/linkbroker/internal/broker"
	httpx "github.com/dropDatabas3/linkbroker/internal/http"
	httperrors "github.com/dropDatabas3/linkbroker/internal/http/errors"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newConnectCmd(rf *rootFlags) *cobra.Command {
	var (
		timeout time.Duration
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "connect <platform>",
		Short: "Conecta una cuenta desde la terminal usando el browser del sistema como popup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if timeout > 0 {
				cfg.Broker.AwaitTimeout = timeout
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// El listener se abre antes de resolver: el backend in-process y la
			// página puente tienen que estar escuchando cuando llegue el browser.
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}

			a, err := app.Build(ctx, cfg, app.Options{
				Version: version,
				Opener:  systemBrowser{},
				OnTransition: func(s broker.AttemptSnapshot) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", s.Platform, s.Status)
					if s.Status == broker.StatusAwaitingOutcome && s.Authorize != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "if no browser opened, visit:\n  %s\n", s.Authorize.URL)
					}
				},
			})
			if err != nil {
				_ = ln.Close()
				return err
			}

			srv := httpx.NewServer(httpx.ServerConfig{
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, a.Handler)

			var opts []broker.StartOption
			if mode != "" {
				opts = append(opts, broker.WithMode(broker.Mode(mode)))
			}

			var result broker.LinkResult
			g, gctx := errgroup.WithContext(ctx)
			srvCtx, stopSrv := context.WithCancel(gctx)
			defer stopSrv()
			g.Go(func() error { return srv.Run(srvCtx, ln) })
			g.Go(func() error {
				defer stopSrv()
				defer func() {
					cctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
					defer cancel()
					_ = a.Close(cctx)
				}()
				res, err := a.Machine.Connect(gctx, args[0], opts...)
				if err != nil {
					return err
				}
				result = res
				return nil
			})
			if err := g.Wait(); err != nil {
				var be *broker.Error
				if errors.As(err, &be) {
					return fmt.Errorf("%s (%s)", httperrors.Guidance(be.Code, be.Platform), be.Code)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "tiempo máximo esperando el consentimiento (0 = sin límite)")
	cmd.Flags().StringVar(&mode, "mode", "", "popup | redirect (default: broker.mode)")
	return cmd
}
