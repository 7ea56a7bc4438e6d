package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/metrics"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
	"golang.org/x/oauth2"
)

// Candidate is one initiation endpoint. URLTemplate may contain {platform}.
// GET candidates receive state as a query parameter; POST candidates receive
// {"platform","state"} as JSON.
type Candidate struct {
	Name        string `yaml:"name"`
	URLTemplate string `yaml:"url"`
	Method      string `yaml:"method"`
}

// DefaultCandidates returns the preferred order: unified endpoint first, then
// legacy per-platform aliases.
func DefaultCandidates(backendURL string) []Candidate {
	base := strings.TrimRight(backendURL, "/")
	return []Candidate{
		{Name: "unified", URLTemplate: base + "/oauth/initiate", Method: http.MethodPost},
		{Name: "legacy", URLTemplate: base + "/oauth/{platform}/authorize", Method: http.MethodGet},
		{Name: "social-alias", URLTemplate: base + "/social/{platform}/connect", Method: http.MethodGet},
	}
}

// ClientConfig is the public client registration used to synthesize a
// degraded authorize URL.
type ClientConfig struct {
	ClientID    string   `yaml:"client_id"`
	RedirectURL string   `yaml:"redirect_url"`
	Scopes      []string `yaml:"scopes"`
}

// ResolverConfig configures an EndpointResolver.
type ResolverConfig struct {
	Candidates []Candidate
	HTTPClient *http.Client
	// Clients is keyed by platform.
	Clients map[string]ClientConfig
	// Tokens, when set, adds the session bearer to candidate requests.
	Tokens TokenSource
}

// EndpointResolver finds the authorize URL for a platform. It keeps no state
// between calls.
type EndpointResolver struct {
	candidates []Candidate
	hc         *http.Client
	clients    map[string]ClientConfig
	tokens     TokenSource
}

func NewEndpointResolver(cfg ResolverConfig) *EndpointResolver {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	clients := make(map[string]ClientConfig, len(cfg.Clients))
	for k, v := range cfg.Clients {
		clients[NormalizePlatform(k)] = v
	}
	return &EndpointResolver{
		candidates: append([]Candidate(nil), cfg.Candidates...),
		hc:         hc,
		clients:    clients,
		tokens:     cfg.Tokens,
	}
}

type initiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	URL              string `json:"url"`
	AuthorizeURL     string `json:"authorize_url"`
	State            string `json:"state"`
}

// ResolveAuthorizeURL tries each candidate in order and returns the first
// usable authorize URL. Later candidates are never contacted once one wins.
// If all fail, a degraded URL is synthesized from the platform's static
// endpoint; if that is impossible the result is EndpointResolutionFailed.
// An empty state is replaced by a random one.
func (r *EndpointResolver) ResolveAuthorizeURL(ctx context.Context, platform, state string) (AuthorizeDescriptor, error) {
	platform = NormalizePlatform(platform)
	if !IsSupported(platform) {
		return AuthorizeDescriptor{}, newError(CodeUnsupportedPlatform, platform, "platform %q is not supported", platform)
	}
	if state == "" {
		s, err := tokens.GenerateOpaqueToken(24)
		if err != nil {
			return AuthorizeDescriptor{}, &Error{Code: CodeEndpointResolutionFailed, Platform: platform, Message: "state generation", Err: err}
		}
		state = s
	}
	log := logger.From(ctx).With(logger.Component("resolver"), logger.Platform(platform))

	var failures []CandidateFailure
	for _, c := range r.candidates {
		if err := ctx.Err(); err != nil {
			return AuthorizeDescriptor{}, &Error{Code: CodeCancelled, Platform: platform, Message: "resolution interrupted", Attempts: failures, Err: err}
		}
		authURL, gotState, status := r.try(ctx, c, platform, state)
		if authURL != "" {
			metrics.ResolverCandidateTotal.WithLabelValues(c.Name, "ok").Inc()
			log.Debug("candidate resolved", logger.Candidate(c.Name))
			if gotState == "" {
				gotState = state
			}
			return AuthorizeDescriptor{Platform: platform, URL: authURL, State: gotState, Candidate: c.Name}, nil
		}
		metrics.ResolverCandidateTotal.WithLabelValues(c.Name, status.result).Inc()
		log.Info("candidate failed", logger.Candidate(c.Name), logger.String("status", status.text))
		failures = append(failures, CandidateFailure{Candidate: c.Name, Status: status.text})
	}

	desc, ok := r.synthesize(platform, state)
	if !ok {
		return AuthorizeDescriptor{}, &Error{
			Code:     CodeEndpointResolutionFailed,
			Platform: platform,
			Message:  "all candidates failed and no client is configured for a synthesized URL",
			Attempts: failures,
		}
	}
	metrics.ResolverCandidateTotal.WithLabelValues("synthesized", "ok").Inc()
	log.Warn("using synthesized authorize URL", logger.Int("failed_candidates", len(failures)))
	return desc, nil
}

type tryStatus struct {
	result string
	text   string
}

func (r *EndpointResolver) try(ctx context.Context, c Candidate, platform, state string) (string, string, tryStatus) {
	target := strings.ReplaceAll(c.URLTemplate, "{platform}", url.PathEscape(platform))
	method := strings.ToUpper(strings.TrimSpace(c.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodGet {
		u, err := url.Parse(target)
		if err != nil {
			return "", "", tryStatus{"transport_error", "invalid url: " + err.Error()}
		}
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
		target = u.String()
	} else {
		raw, _ := json.Marshal(map[string]string{"platform": platform, "state": state})
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return "", "", tryStatus{"transport_error", err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.tokens != nil {
		if tok, err := r.tokens.Token(ctx); err == nil && tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return "", "", tryStatus{"transport_error", err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", "", tryStatus{"http_error", fmt.Sprintf("http %d", resp.StatusCode)}
	}

	var ir initiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ir); err != nil {
		return "", "", tryStatus{"bad_body", "unparsable body"}
	}
	authURL := firstNonEmpty(ir.AuthorizationURL, ir.URL, ir.AuthorizeURL)
	if authURL == "" {
		return "", "", tryStatus{"bad_body", "no authorization url in body"}
	}
	return authURL, strings.TrimSpace(ir.State), tryStatus{}
}

func (r *EndpointResolver) synthesize(platform, state string) (AuthorizeDescriptor, bool) {
	spec, ok := LookupPlatform(platform)
	client := r.clients[platform]
	if !ok || client.ClientID == "" || spec.Endpoint.AuthURL == "" {
		return AuthorizeDescriptor{}, false
	}
	scopes := client.Scopes
	if len(scopes) == 0 {
		scopes = spec.Scopes
	}
	oc := &oauth2.Config{
		ClientID:    client.ClientID,
		Endpoint:    spec.Endpoint,
		RedirectURL: client.RedirectURL,
		Scopes:      scopes,
	}
	return AuthorizeDescriptor{
		Platform:  platform,
		URL:       oc.AuthCodeURL(state, oauth2.AccessTypeOffline),
		State:     state,
		Candidate: "synthesized",
		Degraded:  true,
	}, true
}
