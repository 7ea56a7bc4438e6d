package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type liveN int

func (n liveN) LiveCount() int { return int(n) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
)

func readyz(t *testing.T, c *HealthController) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	r := chi.NewRouter()
	c.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestReadyz_AllUp(t *testing.T) {
	rec, body := readyz(t, NewHealthController("1.2.3", 7, liveN(2), Check{Name: "cache", Pinger: up}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", rec.Header().Get("X-Service-Version"))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, 7, body.Platforms)
	assert.Equal(t, 2, body.Live)
	require.Len(t, body.Components, 1)
	assert.Equal(t, "ok", body.Components[0].Status)
}

func TestReadyz_OptionalDownIsDegraded(t *testing.T) {
	rec, body := readyz(t, NewHealthController("", 7, nil,
		Check{Name: "cache", Pinger: up},
		Check{Name: "backend", Pinger: down, Optional: true}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Service-Version"))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "dial tcp: refused", body.Components[1].Error)
}

func TestReadyz_RequiredDownIsUnavailable(t *testing.T) {
	rec, body := readyz(t, NewHealthController("", 7, nil,
		Check{Name: "backend", Pinger: down, Optional: true},
		Check{Name: "cache", Pinger: down}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body.Status)
}

func TestHealthz(t *testing.T) {
	r := chi.NewRouter()
	NewHealthController("", 0, nil).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
