package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionCall struct {
	Path string
	Auth string
	Body map[string]string
}

func newCompletionServer(t *testing.T, status int, body any) (*httptest.Server, *[]completionCall) {
	var calls []completionCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b map[string]string
		_ = json.NewDecoder(r.Body).Decode(&b)
		calls = append(calls, completionCall{Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: b})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCompleteViaCodeID_Success(t *testing.T) {
	srv, calls := newCompletionServer(t, http.StatusOK, map[string]any{"account_id": "act_1", "account_name": "Page"})
	c := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL, Tokens: StaticToken("jwt")})

	res, err := c.CompleteViaCodeID(context.Background(), "facebook", "abc123")
	require.NoError(t, err)
	assert.Equal(t, LinkResult{Platform: "facebook", AccountID: "act_1", AccountName: "Page"}, res)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/oauth/complete-allauth/facebook", (*calls)[0].Path)
	assert.Equal(t, "Bearer jwt", (*calls)[0].Auth)
	assert.Equal(t, map[string]string{"code_id": "abc123"}, (*calls)[0].Body)
}

func TestCompleteViaCodeID_ConsumedOrExpired(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"gone", http.StatusGone, map[string]string{"code": "expired_or_invalid_state"}, ErrExpiredOrInvalidState},
		{"not found", http.StatusNotFound, map[string]string{}, ErrExpiredOrInvalidState},
		{"bad request with code", http.StatusBadRequest, map[string]string{"error": "expired_or_invalid_state"}, ErrExpiredOrInvalidState},
		{"upstream failure", http.StatusBadGateway, map[string]string{"code": "code_exchange_failed"}, ErrCodeExchangeFailed},
		{"partial body", http.StatusOK, map[string]string{"account_name": "no id"}, ErrCodeExchangeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newCompletionServer(t, tc.status, tc.body)
			c := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL})

			res, err := c.CompleteViaCodeID(context.Background(), "facebook", "abc123")
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, LinkResult{}, res)
		})
	}
}

func TestCompleteViaCodeID_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}})

	_, err := c.CompleteViaCodeID(context.Background(), "facebook", "abc123")
	require.ErrorIs(t, err, ErrCodeExchangeFailed)
}

func TestCompleteViaState_UsesPersistedState(t *testing.T) {
	srv, calls := newCompletionServer(t, http.StatusOK, map[string]any{"accountId": "u-5", "accountName": "Brand"})
	store := NewCacheStateStore(cache.NewMemory("", time.Minute), 0)
	c := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL, States: store})
	ctx := context.Background()

	require.NoError(t, c.RememberState(ctx, "LinkedIn", "persisted"))
	res, err := c.CompleteViaState(ctx, "linkedin", "from-callback", map[string]string{"code": "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "u-5", res.AccountID)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/oauth/complete/linkedin", (*calls)[0].Path)
	assert.Equal(t, map[string]string{"state": "persisted", "code": "xyz"}, (*calls)[0].Body)

	_, ok, err := store.Load(ctx, "linkedin")
	require.NoError(t, err)
	assert.False(t, ok, "state is cleared after a successful completion")
}

func TestCompleteViaState_MissingState(t *testing.T) {
	srv, calls := newCompletionServer(t, http.StatusOK, map[string]any{"account_id": "1"})
	store := NewCacheStateStore(cache.NewMemory("", time.Minute), 0)

	lenient := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL, States: store})
	_, err := lenient.CompleteViaState(context.Background(), "twitter", "", nil)
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.NotEmpty(t, (*calls)[0].Body["state"])

	strict := NewDeferredCodeClient(DeferredConfig{BackendURL: srv.URL, States: store, StrictState: true})
	_, err = strict.CompleteViaState(context.Background(), "twitter", "", nil)
	require.ErrorIs(t, err, ErrExpiredOrInvalidState)
	assert.Len(t, *calls, 1)
}
