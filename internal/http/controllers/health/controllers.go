// Package health contiene el controller de health check.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/http/helpers"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/go-chi/chi/v5"
)

// Pinger es cualquier dependencia que pueda responder un ping (cache, redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check es un componente con nombre que /readyz consulta.
type Check struct {
	Name   string
	Pinger Pinger
	// Optional: si falla, el estado queda "degraded" en vez de "unavailable".
	Optional bool
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Platforms  int               `json:"platforms"`
	Live       int               `json:"live_attempts"`
	Components []componentStatus `json:"components"`
}

// LiveCounter reporta intentos en curso (broker.Machine lo implementa).
type LiveCounter interface {
	LiveCount() int
}

// HealthController maneja las rutas de health check.
type HealthController struct {
	checks    []Check
	version   string
	platforms int
	live      LiveCounter
	timeout   time.Duration
}

// NewHealthController crea el controller. live puede ser nil.
func NewHealthController(version string, platforms int, live LiveCounter, checks ...Check) *HealthController {
	return &HealthController{
		checks:    checks,
		version:   version,
		platforms: platforms,
		live:      live,
		timeout:   2 * time.Second,
	}
}

// Register monta /readyz y /healthz.
func (c *HealthController) Register(r chi.Router) {
	r.Get("/readyz", c.Readyz)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	resp := healthResponse{Status: "ready", Version: c.version, Platforms: c.platforms}
	if c.live != nil {
		resp.Live = c.live.LiveCount()
	}
	for _, chk := range c.checks {
		cs := componentStatus{Name: chk.Name, Status: "ok"}
		if err := chk.Pinger.Ping(ctx); err != nil {
			cs.Status = "down"
			cs.Error = err.Error()
			if chk.Optional {
				if resp.Status == "ready" {
					resp.Status = "degraded"
				}
			} else {
				resp.Status = "unavailable"
			}
			log.Warn("health component down", logger.String("component_name", chk.Name), logger.Err(err))
		}
		resp.Components = append(resp.Components, cs)
	}

	if c.version != "" {
		w.Header().Set("X-Service-Version", c.version)
	}
	statusCode := http.StatusOK
	if resp.Status == "unavailable" {
		statusCode = http.StatusServiceUnavailable
	}

	log.Debug("health check completed",
		logger.String("status", resp.Status),
		logger.Int("components_count", len(resp.Components)),
	)
	helpers.WriteJSON(w, statusCode, resp)
}
