package connections

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/dropDatabas3/linkbroker/internal/http/errors"
	"github.com/dropDatabas3/linkbroker/internal/http/helpers"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/go-chi/chi/v5"
)

type startResponse struct {
	AttemptID        string `json:"attempt_id"`
	Platform         string `json:"platform"`
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	Degraded         bool   `json:"degraded"`
}

type attemptError struct {
	Code     string                    `json:"code"`
	Message  string                    `json:"message"`
	Detail   string                    `json:"detail,omitempty"`
	Attempts []broker.CandidateFailure `json:"attempts,omitempty"`
}

type attemptResponse struct {
	broker.AttemptSnapshot
	Error *attemptError `json:"error,omitempty"`
}

// Start maneja POST /connections/{platform}. Arranca un intento en modo redirect
// y responde con el authorize URL para que el browser navegue.
func (c *Controller) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	platform := broker.NormalizePlatform(chi.URLParam(r, "platform"))
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Connections.Start"), logger.Platform(platform))

	a, err := c.d.Attempts.Start(ctx, platform, broker.WithMode(broker.ModeRedirect))
	if err != nil {
		log.Info("attempt not started", logger.Err(err))
		errors.WriteError(w, err)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, c.d.AuthorizeTimeout)
	defer cancel()
	desc, err := a.Authorized(wctx)
	if err != nil {
		if wctx.Err() != nil {
			// El cliente se fue o el resolver no contestó a tiempo: no dejamos el intento colgado.
			a.Cancel()
			errors.WriteError(w, errors.ErrServiceUnavailable.WithDetail("authorization URL not resolved in time").WithCause(err))
			return
		}
		errors.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusCreated, startResponse{
		AttemptID:        a.ID(),
		Platform:         platform,
		AuthorizationURL: desc.URL,
		State:            desc.State,
		Degraded:         desc.Degraded,
	})
}

// Get maneja GET /connections/{platform}: snapshot del último intento.
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	platform := broker.NormalizePlatform(chi.URLParam(r, "platform"))
	if !broker.IsSupported(platform) {
		errors.WriteError(w, &broker.Error{Code: broker.CodeUnsupportedPlatform, Platform: platform, Message: "unsupported platform"})
		return
	}
	a, ok := c.d.Attempts.Last(platform)
	if !ok {
		errors.WriteError(w, errors.ErrNotFound.WithDetail("no connection attempt for "+platform))
		return
	}

	snap := a.Snapshot()
	if snap.Authorize != nil {
		// La URL lleva el state; quien consulta el estado no lo necesita.
		d := *snap.Authorize
		d.URL, d.State = "", ""
		snap.Authorize = &d
	}
	resp := attemptResponse{AttemptSnapshot: snap}
	if snap.Err != nil {
		ae := errors.FromBrokerError(snap.Err)
		resp.Error = &attemptError{
			Code:     ae.Code,
			Message:  ae.Message,
			Detail:   ae.Detail,
			Attempts: snap.Err.Attempts,
		}
	}
	if !snap.FinishedAt.IsZero() {
		w.Header().Set("Last-Modified", snap.FinishedAt.UTC().Format(http.TimeFormat))
	} else {
		w.Header().Set("Retry-After", "1")
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Cancel maneja DELETE /connections/{platform}.
func (c *Controller) Cancel(w http.ResponseWriter, r *http.Request) {
	platform := broker.NormalizePlatform(chi.URLParam(r, "platform"))
	if !c.d.Attempts.Cancel(platform) {
		errors.WriteError(w, errors.ErrNotFound.WithDetail("no live connection attempt for "+platform))
		return
	}
	logger.From(r.Context()).Info("attempt cancelled by caller", logger.Platform(platform))
	w.WriteHeader(http.StatusNoContent)
}
