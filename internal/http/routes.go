package http

import (
	stdhttp "net/http"

	"github.com/dropDatabas3/linkbroker/internal/http/errors"
	mw "github.com/dropDatabas3/linkbroker/internal/http/middlewares"
	"github.com/go-chi/chi/v5"
)

// Registrar es cualquier controller que sabe montar sus rutas.
type Registrar interface {
	Register(r chi.Router)
}

// RouterDeps agrupa lo que necesita NewRouter. Los controllers nil se omiten.
type RouterDeps struct {
	CORSAllowedOrigins []string

	Health      Registrar
	Connections Registrar
	// Backend solo está presente con backend.enabled.
	Backend Registrar
	// Metrics es el handler de /metrics (nil = sin endpoint).
	Metrics stdhttp.Handler
}

// NewRouter arma el chi.Router con la cadena base de middlewares.
// Orden: recover -> request id -> logging -> metrics -> cors -> handler.
func NewRouter(d RouterDeps) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(mw.Stack(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithMetrics(),
	))

	r.NotFound(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		errors.WriteError(w, errors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		errors.WriteError(w, errors.ErrMethodNotAllowed)
	})

	// health y metrics fuera de CORS
	if d.Health != nil {
		d.Health.Register(r)
	}
	if d.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		if len(d.CORSAllowedOrigins) > 0 {
			r.Use(mw.Stack(mw.WithCORS(d.CORSAllowedOrigins)))
		}
		if d.Connections != nil {
			d.Connections.Register(r)
		}
		if d.Backend != nil {
			d.Backend.Register(r)
		}
	})
	return r
}
