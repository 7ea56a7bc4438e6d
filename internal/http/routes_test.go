package http

import (
	"context"
	stderrors "errors"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/linkbroker/internal/http/controllers/health"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type panicky struct{}

func (panicky) Register(r chi.Router) {
	r.Get("/boom", func(stdhttp.ResponseWriter, *stdhttp.Request) { panic("boom") })
}

func TestRouter_BaseBehaviour(t *testing.T) {
	h := NewRouter(RouterDeps{
		CORSAllowedOrigins: []string{"https://app.example.com"},
		Health:             health.NewHealthController("test", 4, nil, health.Check{Name: "cache", Pinger: pinger{}}),
		Connections:        panicky{},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/nope", nil))
	assert.Equal(t, stdhttp.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/boom", nil))
	assert.Equal(t, stdhttp.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/readyz", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
	assert.Equal(t, "test", rec.Header().Get("X-Service-Version"))
}

func TestReadyz_Unavailable(t *testing.T) {
	h := NewRouter(RouterDeps{
		Health: health.NewHealthController("", 4, nil,
			health.Check{Name: "cache", Pinger: pinger{err: stderrors.New("dial tcp: refused")}},
			health.Check{Name: "backend", Pinger: pinger{}, Optional: true},
		),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/readyz", nil))
	assert.Equal(t, stdhttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}
