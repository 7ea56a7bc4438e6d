package connections

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pageOrigin = "http://localhost:8080"
	appOrigin  = "https://app.example.com"
)

type stubResolver struct {
	fail bool
}

func (s stubResolver) ResolveAuthorizeURL(_ context.Context, platform, state string) (broker.AuthorizeDescriptor, error) {
	if s.fail {
		return broker.AuthorizeDescriptor{}, &broker.Error{
			Code:     broker.CodeEndpointResolutionFailed,
			Platform: platform,
			Attempts: []broker.CandidateFailure{{Candidate: "unified", Status: "http 503"}},
		}
	}
	return broker.AuthorizeDescriptor{
		Platform:  platform,
		URL:       "https://provider.example.com/auth?state=" + url.QueryEscape(state),
		State:     state,
		Candidate: "unified",
	}, nil
}

type recordingMarker struct {
	mu     sync.Mutex
	labels []string
}

func (m *recordingMarker) MarkClosed(label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = append(m.labels, label)
	return true
}

type fixture struct {
	bus     *broker.Bus
	machine *broker.Machine
	marker  *recordingMarker
	router  chi.Router
}

func newFixture(t *testing.T, res stubResolver) *fixture {
	t.Helper()
	bus := broker.NewBus()
	bridge := broker.NewMessageBridge(bus, nil, broker.BridgeConfig{
		PollInterval:   5 * time.Millisecond,
		AllowedOrigins: []string{pageOrigin},
	})
	m := broker.NewMachine(broker.MachineConfig{Resolver: res, Bridge: bridge})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	marker := &recordingMarker{}
	c := NewController(Deps{
		Attempts:   m,
		Bus:        bus,
		Closed:     marker,
		PageOrigin: pageOrigin + "/connections/callback",
		AppOrigin:  appOrigin,
		CloseDelay: 1500 * time.Millisecond,
	})
	r := chi.NewRouter()
	c.Register(r)
	return &fixture{bus: bus, machine: m, marker: marker, router: r}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCallback_PublishesOutcomeAndRendersPage(t *testing.T) {
	f := newFixture(t, stubResolver{})

	var got []broker.Message
	var mu sync.Mutex
	sub := f.bus.Subscribe(func(m broker.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	defer sub.Close()

	rec := f.do(http.MethodGet, "/connections/callback?platform=linkedin&state=s1&account_id=acc-1&account_name=Jane")
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, pageOrigin, got[0].Origin)
	res, ok := broker.ParseMessage(got[0].Data)
	mu.Unlock()
	require.True(t, ok)
	success, ok := res.(*broker.SuccessOutcome)
	require.True(t, ok)
	assert.Equal(t, "acc-1", success.AccountID)

	body := rec.Body.String()
	assert.Contains(t, body, "SOCIAL_CONNECTION_SUCCESS")
	assert.Contains(t, body, `"https://app.example.com"`)
	assert.Contains(t, body, "1500")
	assert.Contains(t, body, broker.PopupLabel("linkedin", "s1"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "nonce-")
}

func TestCallback_WithoutOutcomeDoesNotPublish(t *testing.T) {
	f := newFixture(t, stubResolver{})
	published := false
	sub := f.bus.Subscribe(func(broker.Message) { published = true })
	defer sub.Close()

	rec := f.do(http.MethodGet, "/connections/callback?platform=linkedin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, published)
	assert.Contains(t, rec.Body.String(), "Nothing to report")
}

func TestCallback_StatelessOutcomeIsNotPublished(t *testing.T) {
	f := newFixture(t, stubResolver{})
	var published atomic.Bool
	sub := f.bus.Subscribe(func(broker.Message) { published.Store(true) })
	defer sub.Close()

	rec := f.do(http.MethodGet, "/connections/callback?platform=linkedin&account_id=attacker&account_name=Mallory")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, published.Load())

	body := rec.Body.String()
	assert.Contains(t, body, "missing its authorization state")
	assert.NotContains(t, body, "attacker")
	assert.NotContains(t, body, "/connections/closed")
}

func TestCallback_EscapesHostileParams(t *testing.T) {
	f := newFixture(t, stubResolver{})
	rec := f.do(http.MethodGet, "/connections/callback?platform=twitter&error=x&error_description="+
		url.QueryEscape("</script><script>alert(1)</script>"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)")
}

func TestClosed_MarksLabel(t *testing.T) {
	f := newFixture(t, stubResolver{})
	rec := f.do(http.MethodPost, "/connections/closed?label=oauth_tiktok")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"oauth_tiktok"}, f.marker.labels)
}

func TestStart_RedirectModeThenCallbackConnects(t *testing.T) {
	f := newFixture(t, stubResolver{})

	rec := f.do(http.MethodPost, "/connections/linkedin")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.AttemptID)
	assert.NotEmpty(t, out.State)
	assert.Contains(t, out.AuthorizationURL, "provider.example.com")
	assert.False(t, out.Degraded)

	// La bridge se suscribe apenas el intento entra en awaiting_outcome.
	require.Eventually(t, func() bool { return f.bus.Listeners() == 1 }, time.Second, 5*time.Millisecond)

	cb := f.do(http.MethodGet, "/connections/callback?platform=linkedin&state="+url.QueryEscape(out.State)+"&account_id=acc-9")
	require.Equal(t, http.StatusOK, cb.Code)

	a, ok := f.machine.Last("linkedin")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := a.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc-9", res.AccountID)

	get := f.do(http.MethodGet, "/connections/linkedin")
	require.Equal(t, http.StatusOK, get.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &snap))
	assert.Equal(t, "connected", snap["status"])
	assert.Equal(t, out.AttemptID, snap["attempt_id"])
}

func TestStart_ResolutionFailureMapsTo502(t *testing.T) {
	f := newFixture(t, stubResolver{fail: true})

	rec := f.do(http.MethodPost, "/connections/tiktok")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "EndpointResolutionFailed")
	assert.Contains(t, rec.Body.String(), "couldn't reach")

	get := f.do(http.MethodGet, "/connections/tiktok")
	require.Equal(t, http.StatusOK, get.Code)
	assert.Contains(t, get.Body.String(), `"status":"failed"`)
	assert.Contains(t, get.Body.String(), "http 503")
}

func TestStart_UnsupportedPlatform(t *testing.T) {
	f := newFixture(t, stubResolver{})
	rec := f.do(http.MethodPost, "/connections/myspace")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "UnsupportedPlatform")
}

func TestGet_NoAttempt(t *testing.T) {
	f := newFixture(t, stubResolver{})
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/connections/facebook").Code)
}

func TestCancel_LiveAttempt(t *testing.T) {
	f := newFixture(t, stubResolver{})
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/connections/facebook").Code)

	rec := f.do(http.MethodDelete, "/connections/facebook")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	a, ok := f.machine.Last("facebook")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Wait(ctx)
	assert.ErrorIs(t, err, broker.ErrCancelled)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/connections/facebook").Code)
}

func TestOriginOf(t *testing.T) {
	assert.Equal(t, "https://app.example.com", originOf("https://App.Example.com/path?q=1"))
	assert.Equal(t, "*", originOf("*"))
	assert.Equal(t, "", originOf(" "))
	assert.True(t, strings.HasPrefix(originOf("http://localhost:8080/"), "http://localhost:8080"))
}
