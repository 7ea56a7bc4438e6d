// Package backend expone el servicio de autorización de referencia por HTTP.
package backend

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	svc "github.com/dropDatabas3/linkbroker/internal/backend"
	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/dropDatabas3/linkbroker/internal/http/errors"
	"github.com/dropDatabas3/linkbroker/internal/http/helpers"
	mw "github.com/dropDatabas3/linkbroker/internal/http/middlewares"
	"github.com/dropDatabas3/linkbroker/internal/jwt"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/go-chi/chi/v5"
)

// Service es lo que el controller necesita de backend.Service.
type Service interface {
	Initiate(ctx context.Context, platform, state, userID string) (authURL, outState string, err error)
	Callback(ctx context.Context, platform string, q url.Values) string
	CompleteByCodeID(ctx context.Context, platform, codeID, userID string) (svc.Account, error)
	CompleteByState(ctx context.Context, platform, state, rawCode, userID string) (svc.Account, error)
}

// Controller maneja /oauth/* y /social/*.
type Controller struct {
	svc      Service
	sessions *jwt.SessionIssuer
}

func NewController(s Service, sessions *jwt.SessionIssuer) *Controller {
	return &Controller{svc: s, sessions: sessions}
}

// Register monta las rutas del backend de referencia.
func (c *Controller) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Stack(mw.WithNoStore(), mw.WithSecurityHeaders()))

		r.Group(func(r chi.Router) {
			r.Use(mw.Stack(mw.OptionalSession(c.sessions)))
			r.Post("/oauth/initiate", c.InitiateUnified)
			r.Get("/oauth/{platform}/authorize", c.InitiateByPath)
			r.Get("/social/{platform}/connect", c.InitiateByPath)
		})

		r.Get("/oauth/{platform}/callback", c.Callback)

		r.Group(func(r chi.Router) {
			r.Use(mw.Stack(mw.RequireSession(c.sessions)))
			r.Post("/oauth/complete-allauth/{platform}", c.CompleteByCodeID)
			r.Post("/oauth/complete/{platform}", c.CompleteByState)
		})
	})
}

type initiateRequest struct {
	Platform string `json:"platform"`
	State    string `json:"state"`
}

type initiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

type completeRequest struct {
	CodeID string `json:"code_id"`
	State  string `json:"state"`
	Code   string `json:"code"`
}

// InitiateUnified maneja POST /oauth/initiate {platform, state}.
func (c *Controller) InitiateUnified(w http.ResponseWriter, r *http.Request) {
	var in initiateRequest
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Platform) == "" {
		errors.WriteError(w, errors.ErrBadRequest.WithDetail("platform is required"))
		return
	}
	c.initiate(w, r, in.Platform, in.State)
}

// InitiateByPath maneja los aliases GET con la plataforma en el path y state en el query.
func (c *Controller) InitiateByPath(w http.ResponseWriter, r *http.Request) {
	c.initiate(w, r, chi.URLParam(r, "platform"), r.URL.Query().Get("state"))
}

func (c *Controller) initiate(w http.ResponseWriter, r *http.Request, platform, state string) {
	ctx := r.Context()
	platform = broker.NormalizePlatform(platform)
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Backend.Initiate"), logger.Platform(platform))

	authURL, outState, err := c.svc.Initiate(ctx, platform, state, mw.GetUserID(ctx))
	if err != nil {
		log.Info("initiate failed", logger.Err(err))
		errors.WriteError(w, mapError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, initiateResponse{AuthorizationURL: authURL, State: outState})
}

// Callback maneja GET /oauth/{platform}/callback: siempre redirige a la página puente.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	target := c.svc.Callback(r.Context(), chi.URLParam(r, "platform"), r.URL.Query())
	http.Redirect(w, r, target, http.StatusFound)
}

// CompleteByCodeID maneja POST /oauth/complete-allauth/{platform} {code_id}.
func (c *Controller) CompleteByCodeID(w http.ResponseWriter, r *http.Request) {
	var in completeRequest
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.CodeID) == "" {
		errors.WriteError(w, errors.ErrBadRequest.WithDetail("code_id is required"))
		return
	}
	ctx := r.Context()
	acc, err := c.svc.CompleteByCodeID(ctx, chi.URLParam(r, "platform"), in.CodeID, mw.GetUserID(ctx))
	c.writeAccount(w, r, acc, err)
}

// CompleteByState maneja POST /oauth/complete/{platform} {state, code?}.
func (c *Controller) CompleteByState(w http.ResponseWriter, r *http.Request) {
	var in completeRequest
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	ctx := r.Context()
	acc, err := c.svc.CompleteByState(ctx, chi.URLParam(r, "platform"), in.State, in.Code, mw.GetUserID(ctx))
	c.writeAccount(w, r, acc, err)
}

func (c *Controller) writeAccount(w http.ResponseWriter, r *http.Request, acc svc.Account, err error) {
	if err != nil {
		logger.From(r.Context()).Info("deferred completion failed",
			logger.Layer("controller"), logger.Path(r.URL.Path), logger.Err(err))
		errors.WriteError(w, mapError(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, acc)
}

// mapError traduce los errores del servicio a los códigos del contrato.
func mapError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, svc.ErrUnknownPlatform):
		return errors.ErrUnsupportedPlatform.WithCause(err)
	case stderrors.Is(err, svc.ErrProviderNotConfigured):
		return errors.ErrProviderNotConfigured.WithCause(err)
	case stderrors.Is(err, svc.ErrStateMissing):
		return errors.ErrBadRequest.WithDetail(err.Error())
	case stderrors.Is(err, svc.ErrUnauthenticated):
		return errors.ErrUnauthorized.WithCause(err)
	case stderrors.Is(err, svc.ErrCodeNotFound),
		stderrors.Is(err, svc.ErrPendingNotFound),
		stderrors.Is(err, svc.ErrPlatformMismatch):
		return errors.ErrExpiredOrInvalidState.WithDetail(err.Error()).WithCause(err)
	case stderrors.Is(err, svc.ErrExchangeFailed),
		stderrors.Is(err, svc.ErrProfileFailed),
		stderrors.Is(err, svc.ErrPayloadInvalid):
		return errors.ErrCodeExchangeFailed.WithCause(err)
	}
	return errors.ErrInternalServerError.WithCause(err)
}
