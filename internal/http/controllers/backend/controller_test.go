package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	svc "github.com/dropDatabas3/linkbroker/internal/backend"
	"github.com/dropDatabas3/linkbroker/internal/jwt"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	initiated   []string
	users       []string
	completeErr error
}

func (f *fakeService) Initiate(_ context.Context, platform, state, userID string) (string, string, error) {
	if platform == "myspace" {
		return "", "", svc.ErrUnknownPlatform
	}
	if state == "" {
		state = "generated"
	}
	f.initiated = append(f.initiated, platform+":"+state)
	f.users = append(f.users, userID)
	return "https://provider.example.com/auth?state=" + state, state, nil
}

func (f *fakeService) Callback(_ context.Context, platform string, q url.Values) string {
	return "http://localhost:8080/connections/callback?platform=" + platform + "&state=" + q.Get("state")
}

func (f *fakeService) CompleteByCodeID(_ context.Context, platform, codeID, userID string) (svc.Account, error) {
	if f.completeErr != nil {
		return svc.Account{}, f.completeErr
	}
	return svc.Account{Platform: platform, AccountID: "acc-" + codeID, AccountName: userID}, nil
}

func (f *fakeService) CompleteByState(_ context.Context, platform, state, _, userID string) (svc.Account, error) {
	if f.completeErr != nil {
		return svc.Account{}, f.completeErr
	}
	return svc.Account{Platform: platform, AccountID: "acc-" + state, AccountName: userID}, nil
}

func setup(t *testing.T) (*fakeService, chi.Router, string) {
	t.Helper()
	iss, err := jwt.NewSessionIssuer("secret", "linkbroker")
	require.NoError(t, err)
	tok, err := iss.Sign("user-1", time.Minute)
	require.NoError(t, err)

	f := &fakeService{}
	r := chi.NewRouter()
	NewController(f, iss).Register(r)
	return f, r, tok
}

func do(r http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestInitiate_AllThreeShapes(t *testing.T) {
	f, r, tok := setup(t)

	rec := do(r, http.MethodPost, "/oauth/initiate", `{"platform":"LinkedIn","state":"s1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"authorization_url":"https://provider.example.com/auth?state=s1"`)

	rec = do(r, http.MethodGet, "/oauth/tiktok/authorize?state=s2", "", tok)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/social/twitter/connect", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"generated"`)

	assert.Equal(t, []string{"linkedin:s1", "tiktok:s2", "twitter:generated"}, f.initiated)
	assert.Equal(t, []string{"", "user-1", ""}, f.users)
}

func TestInitiate_Errors(t *testing.T) {
	_, r, _ := setup(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/oauth/initiate", `{}`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/oauth/initiate", `{nope`, "").Code)

	rec := do(r, http.MethodGet, "/oauth/myspace/authorize", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported_platform")
}

func TestCallback_RedirectsToBridge(t *testing.T) {
	_, r, _ := setup(t)
	rec := do(r, http.MethodGet, "/oauth/linkedin/callback?code=c&state=s9", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost:8080/connections/callback?platform=linkedin&state=s9", rec.Header().Get("Location"))
}

func TestComplete_RequiresSession(t *testing.T) {
	_, r, _ := setup(t)
	rec := do(r, http.MethodPost, "/oauth/complete-allauth/linkedin", `{"code_id":"x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestComplete_Success(t *testing.T) {
	_, r, tok := setup(t)

	rec := do(r, http.MethodPost, "/oauth/complete-allauth/linkedin", `{"code_id":"abc"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"account_id":"acc-abc"`)

	rec = do(r, http.MethodPost, "/oauth/complete/facebook", `{"state":"st"}`, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"account_id":"acc-st"`)

	rec = do(r, http.MethodPost, "/oauth/complete-allauth/linkedin", `{}`, tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComplete_ErrorContract(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{svc.ErrCodeNotFound, http.StatusGone, "expired_or_invalid_state"},
		{svc.ErrPlatformMismatch, http.StatusGone, "expired_or_invalid_state"},
		{fmt.Errorf("%w: boom", svc.ErrExchangeFailed), http.StatusBadGateway, "code_exchange_failed"},
		{fmt.Errorf("%w: status 500", svc.ErrProfileFailed), http.StatusBadGateway, "code_exchange_failed"},
		{svc.ErrProviderNotConfigured, http.StatusServiceUnavailable, "provider_not_configured"},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			f, r, tok := setup(t)
			f.completeErr = tc.err
			rec := do(r, http.MethodPost, "/oauth/complete/linkedin", `{"state":"s"}`, tok)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+tc.code+`"`)
		})
	}
}
