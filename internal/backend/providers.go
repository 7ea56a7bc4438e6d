package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/dropDatabas3/linkbroker/internal/config"
	"golang.org/x/oauth2"
)

// Provider is one configured platform on the backend side.
type Provider struct {
	Platform    string
	OAuth       *oauth2.Config
	UserInfoURL string
}

// Account is the linked-account identity returned to the broker.
type Account struct {
	Platform    string         `json:"platform"`
	AccountID   string         `json:"account_id"`
	AccountName string         `json:"account_name,omitempty"`
	Profile     map[string]any `json:"profile,omitempty"`
}

// Registry maps platforms to providers.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds providers from config. Missing auth/token URLs fall back
// to the platform's static endpoint; the redirect URL is always
// baseURL/oauth/{platform}/callback.
func NewRegistry(baseURL string, cfgs map[string]config.ProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider, len(cfgs))}
	base := strings.TrimRight(baseURL, "/")
	for name, pc := range cfgs {
		platform := broker.NormalizePlatform(name)
		spec, ok := broker.LookupPlatform(platform)
		if !ok {
			return nil, fmt.Errorf("backend: provider %q: %w", name, ErrUnknownPlatform)
		}
		if strings.TrimSpace(pc.ClientID) == "" {
			continue
		}
		ep := spec.Endpoint
		if pc.AuthURL != "" {
			ep.AuthURL = pc.AuthURL
		}
		if pc.TokenURL != "" {
			ep.TokenURL = pc.TokenURL
		}
		scopes := pc.Scopes
		if len(scopes) == 0 {
			scopes = spec.Scopes
		}
		r.providers[platform] = &Provider{
			Platform: platform,
			OAuth: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Endpoint:     ep,
				RedirectURL:  base + "/oauth/" + platform + "/callback",
				Scopes:       scopes,
			},
			UserInfoURL: pc.UserInfoURL,
		}
	}
	return r, nil
}

// Get returns the provider for platform.
func (r *Registry) Get(platform string) (*Provider, error) {
	platform = broker.NormalizePlatform(platform)
	if !broker.IsSupported(platform) {
		return nil, ErrUnknownPlatform
	}
	p, ok := r.providers[platform]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	return p, nil
}

// Platforms returns the configured platform names.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.providers))
	for _, name := range broker.SupportedPlatforms() {
		if _, ok := r.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// AuthCodeURL returns the provider consent URL for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Redeem exchanges code and resolves the account behind the token.
func (p *Provider) Redeem(ctx context.Context, hc *http.Client, code string) (Account, error) {
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	tok, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	acc := Account{Platform: p.Platform}

	if p.UserInfoURL == "" {
		// Algunos providers devuelven la identidad junto al token.
		acc.AccountID = extraString(tok, "user_id", "open_id", "id")
		acc.AccountName = extraString(tok, "name", "username")
	} else {
		profile, err := p.fetchProfile(ctx, tok)
		if err != nil {
			return Account{}, err
		}
		acc.Profile = profile
		acc.AccountID = profileString(profile, "id", "sub", "open_id", "user_id")
		acc.AccountName = profileString(profile, "name", "username", "display_name", "localizedName")
	}
	if acc.AccountID == "" {
		return Account{}, fmt.Errorf("%w: no account id", ErrProfileFailed)
	}
	return acc, nil
}

func (p *Provider) fetchProfile(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	client := p.OAuth.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProfileFailed, resp.StatusCode)
	}

	var profile map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	// Varios providers envuelven la identidad en {"data": {...}}.
	if data, ok := profile["data"].(map[string]any); ok {
		if _, hasID := profile["id"]; !hasID {
			profile = data
		}
	}
	return profile, nil
}

func extraString(tok *oauth2.Token, keys ...string) string {
	for _, k := range keys {
		if v := tok.Extra(k); v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func profileString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
