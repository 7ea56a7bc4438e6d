package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/cache"
	"github.com/dropDatabas3/linkbroker/internal/config"
	"github.com/dropDatabas3/linkbroker/internal/security/secretbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves a token endpoint and a user-info endpoint.
type fakeProvider struct {
	srv       *httptest.Server
	exchanges atomic.Int32
	failToken atomic.Bool
}

func newFakeProvider(t *testing.T) *fakeProvider {
	fp := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fp.exchanges.Add(1)
		_ = r.ParseForm()
		if fp.failToken.Load() || r.PostForm.Get("code") == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-" + r.PostForm.Get("code"), "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "42", "name": "Acme Co"})
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func newTestService(t *testing.T, fp *fakeProvider) *Service {
	t.Helper()
	reg, err := NewRegistry("https://backend.example.com", map[string]config.ProviderConfig{
		"linkedin": {
			ClientID:     "cid",
			ClientSecret: "secret",
			AuthURL:      fp.srv.URL + "/authorize",
			TokenURL:     fp.srv.URL + "/token",
			UserInfoURL:  fp.srv.URL + "/me",
		},
	})
	require.NoError(t, err)
	box, err := secretbox.NewRandom()
	require.NoError(t, err)
	store := NewStore(cache.NewMemory("", time.Minute), box, time.Minute, time.Minute)
	return NewService(Deps{Providers: reg, Store: store, BridgeURL: "https://app.example.com/connections/callback"})
}

func bridgeQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/connections/callback", u.Path)
	return u.Query()
}

func TestInitiate(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)

	authURL, state, err := s.Initiate(context.Background(), "LinkedIn", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "https://backend.example.com/oauth/linkedin/callback", u.Query().Get("redirect_uri"))

	_, _, err = s.Initiate(context.Background(), "google", "", "")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
	_, _, err = s.Initiate(context.Background(), "orkut", "", "")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestCallback_ParksCodeForAnonymousAndConsumesOnce(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)
	ctx := context.Background()

	_, state, err := s.Initiate(ctx, "linkedin", "st-1", "")
	require.NoError(t, err)

	q := bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"c1"}, "state": {state}}))
	assert.Equal(t, "linkedin", q.Get("platform"))
	assert.Equal(t, "st-1", q.Get("state"))
	codeID := q.Get("code_id")
	require.NotEmpty(t, codeID)
	assert.Empty(t, q.Get("code"), "raw provider code never reaches the browser")
	assert.Zero(t, fp.exchanges.Load())

	_, err = s.CompleteByCodeID(ctx, "linkedin", codeID, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	acc, err := s.CompleteByCodeID(ctx, "linkedin", codeID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "42", acc.AccountID)
	assert.Equal(t, "Acme Co", acc.AccountName)

	_, err = s.CompleteByCodeID(ctx, "linkedin", codeID, "user-1")
	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.Equal(t, int32(1), fp.exchanges.Load())
}

func TestCallback_ExchangesImmediatelyWhenAuthenticated(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)
	ctx := context.Background()

	_, state, err := s.Initiate(ctx, "linkedin", "", "user-1")
	require.NoError(t, err)

	q := bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"c1"}, "state": {state}}))
	assert.Equal(t, "42", q.Get("account_id"))
	assert.Equal(t, "Acme Co", q.Get("account_name"))
	assert.Empty(t, q.Get("code_id"))

	// The pending authorization was single use.
	q = bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"c1"}, "state": {state}}))
	assert.Equal(t, CodeExpiredOrInvalidState, q.Get("error"))
}

func TestCallback_Errors(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)
	ctx := context.Background()

	q := bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"error": {"access_denied"}, "error_description": {"User cancelled"}, "state": {"x"}}))
	assert.Equal(t, "access_denied", q.Get("error"))
	assert.Equal(t, "User cancelled", q.Get("error_description"))

	q = bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"c"}, "state": {"unknown"}}))
	assert.Equal(t, CodeExpiredOrInvalidState, q.Get("error"))

	_, state, err := s.Initiate(ctx, "linkedin", "", "user-1")
	require.NoError(t, err)
	q = bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"bad"}, "state": {state}}))
	assert.Equal(t, CodeExchangeFailed, q.Get("error"))
}

func TestCompleteByState(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)
	ctx := context.Background()

	_, state, err := s.Initiate(ctx, "linkedin", "", "")
	require.NoError(t, err)
	_ = s.Callback(ctx, "linkedin", url.Values{"code": {"c9"}, "state": {state}})

	acc, err := s.CompleteByState(ctx, "linkedin", state, "", "user-2")
	require.NoError(t, err)
	assert.Equal(t, "42", acc.AccountID)

	_, err = s.CompleteByState(ctx, "linkedin", state, "", "user-2")
	assert.ErrorIs(t, err, ErrCodeNotFound)

	acc, err = s.CompleteByState(ctx, "linkedin", "fresh-state", "raw-code", "user-2")
	require.NoError(t, err)
	assert.Equal(t, "42", acc.AccountID)

	_, err = s.CompleteByState(ctx, "linkedin", "", "", "user-2")
	assert.ErrorIs(t, err, ErrStateMissing)
}

func TestCompleteByCodeID_ExchangeFailure(t *testing.T) {
	fp := newFakeProvider(t)
	s := newTestService(t, fp)
	ctx := context.Background()

	_, state, err := s.Initiate(ctx, "linkedin", "", "")
	require.NoError(t, err)
	codeID := bridgeQuery(t, s.Callback(ctx, "linkedin", url.Values{"code": {"c1"}, "state": {state}})).Get("code_id")

	fp.failToken.Store(true)
	_, err = s.CompleteByCodeID(ctx, "linkedin", codeID, "user-1")
	assert.ErrorIs(t, err, ErrExchangeFailed)
}
