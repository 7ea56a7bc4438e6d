// Package connections expone la página puente del popup y la API de intentos
// de conexión que consume el frontend.
package connections

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	mw "github.com/dropDatabas3/linkbroker/internal/http/middlewares"
	"github.com/dropDatabas3/linkbroker/internal/rate"
	"github.com/go-chi/chi/v5"
)

// Attempts es la parte de broker.Machine que usa este controller.
type Attempts interface {
	Start(ctx context.Context, platform string, opts ...broker.StartOption) (*broker.Attempt, error)
	Last(platform string) (*broker.Attempt, bool)
	Cancel(platform string) bool
}

// ClosedMarker recibe el aviso de la página puente cuando el popup se cierra.
type ClosedMarker interface {
	MarkClosed(label string) bool
}

// Deps agrupa las dependencias del controller.
type Deps struct {
	Attempts Attempts
	Bus      *broker.Bus
	// Closed es opcional; sin él /connections/closed responde 204 sin efecto.
	Closed ClosedMarker
	// PageOrigin es el origin con el que se publica en el bus (el de la página puente).
	PageOrigin string
	// AppOrigin es el targetOrigin del postMessage hacia window.opener.
	AppOrigin  string
	CloseDelay time.Duration
	// AuthorizeTimeout acota la espera del authorize URL en POST /connections/{platform}.
	AuthorizeTimeout time.Duration
	// Limiter es opcional; acota los POST que arrancan intentos.
	Limiter rate.Limiter
}

// Controller maneja /connections/*.
type Controller struct {
	d Deps
}

func NewController(d Deps) *Controller {
	if d.AuthorizeTimeout <= 0 {
		d.AuthorizeTimeout = 30 * time.Second
	}
	if d.CloseDelay < 0 {
		d.CloseDelay = 0
	}
	d.PageOrigin = originOf(d.PageOrigin)
	d.AppOrigin = originOf(d.AppOrigin)
	return &Controller{d: d}
}

// Register monta las rutas. La página puente lleva su propio set de headers
// (CSP con nonce); la API usa los de API.
func (c *Controller) Register(r chi.Router) {
	r.Route("/connections", func(r chi.Router) {
		r.With(mw.Stack(mw.WithNoStore(), mw.WithPageSecurityHeaders())).Get("/callback", c.Callback)

		r.Group(func(r chi.Router) {
			r.Use(mw.Stack(mw.WithNoStore(), mw.WithSecurityHeaders()))
			r.Post("/closed", c.Closed)
			r.With(mw.WithRateLimit(c.d.Limiter, mw.AttemptRateKey)).Post("/{platform}", c.Start)
			r.Get("/{platform}", c.Get)
			r.Delete("/{platform}", c.Cancel)
		})
	})
}

// originOf reduce una URL a scheme://host.
func originOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
