package http

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
)

// ServerConfig contiene los timeouts del http.Server.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server envuelve http.Server con arranque/apagado atados a un context.
type Server struct {
	srv             *stdhttp.Server
	shutdownTimeout time.Duration
}

func NewServer(cfg ServerConfig, handler stdhttp.Handler) *Server {
	st := cfg.ShutdownTimeout
	if st <= 0 {
		st = 10 * time.Second
	}
	return &Server{
		srv: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		shutdownTimeout: st,
	}
}

// Run sirve en ln (o en Addr si ln es nil) hasta que ctx termina, y después
// hace un shutdown ordenado.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	log := logger.From(ctx).With(logger.Component("http"))

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			log.Info("http server listening", logger.String("addr", ln.Addr().String()))
			err = s.srv.Serve(ln)
		} else {
			log.Info("http server listening", logger.String("addr", s.srv.Addr))
			err = s.srv.ListenAndServe()
		}
		if errors.Is(err, stdhttp.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	log.Info("http server shutting down")
	if err := s.srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
