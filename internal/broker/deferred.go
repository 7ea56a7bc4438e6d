package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/metrics"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
)

// TokenSource returns the bearer token of the authenticated host-app session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// DeferredConfig configures a DeferredCodeClient.
type DeferredConfig struct {
	BackendURL string
	HTTPClient *http.Client
	Tokens     TokenSource
	States     StateStore
	// StrictState fails state-based completion when no state was persisted
	// instead of sending a freshly generated one.
	StrictState bool
}

// DeferredCodeClient finishes token exchanges the backend could not perform
// at consent time.
type DeferredCodeClient struct {
	base   string
	hc     *http.Client
	tokens TokenSource
	states StateStore
	strict bool
}

func NewDeferredCodeClient(cfg DeferredConfig) *DeferredCodeClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &DeferredCodeClient{
		base:   strings.TrimRight(cfg.BackendURL, "/"),
		hc:     hc,
		tokens: cfg.Tokens,
		states: cfg.States,
		strict: cfg.StrictState,
	}
}

// RememberState persists state for platform so a later state-based completion
// can resend it.
func (c *DeferredCodeClient) RememberState(ctx context.Context, platform, state string) error {
	if c.states == nil || state == "" {
		return nil
	}
	return c.states.Save(ctx, platform, state)
}

// CompleteViaCodeID redeems a server-issued code_id.
func (c *DeferredCodeClient) CompleteViaCodeID(ctx context.Context, platform, codeID string) (LinkResult, error) {
	platform = NormalizePlatform(platform)
	if codeID == "" {
		return LinkResult{}, newError(CodeExpiredOrInvalidState, platform, "empty code_id")
	}
	res, err := c.complete(ctx, platform, "/oauth/complete-allauth/"+url.PathEscape(platform), map[string]string{"code_id": codeID})
	recordDeferred("code_id", err)
	return res, err
}

// CompleteViaState completes using the persisted state for platform. The
// state argument is used when nothing was persisted. With neither, a fresh
// state is sent unless StrictState is set.
func (c *DeferredCodeClient) CompleteViaState(ctx context.Context, platform, state string, extra map[string]string) (LinkResult, error) {
	platform = NormalizePlatform(platform)
	log := logger.From(ctx).With(logger.Component("deferred"), logger.Platform(platform))

	sendState := ""
	if c.states != nil {
		persisted, ok, err := c.states.Load(ctx, platform)
		if err != nil {
			log.Warn("persisted state unreadable", logger.Err(err))
		}
		if ok {
			if state != "" && persisted != state {
				log.Warn("callback state differs from persisted state; sending persisted", logger.State(state))
			}
			sendState = persisted
		}
	}
	if sendState == "" {
		sendState = state
	}
	if sendState == "" {
		if c.strict {
			err := newError(CodeExpiredOrInvalidState, platform, "no persisted state")
			recordDeferred("state", err)
			return LinkResult{}, err
		}
		fresh, err := tokens.GenerateOpaqueToken(24)
		if err != nil {
			return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "state generation", Err: err}
		}
		log.Warn("no persisted state; sending a fresh one, backend may reject it")
		sendState = fresh
	}

	body := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["state"] = sendState

	res, err := c.complete(ctx, platform, "/oauth/complete/"+url.PathEscape(platform), body)
	recordDeferred("state", err)
	if err == nil && c.states != nil {
		if cerr := c.states.Clear(ctx, platform); cerr != nil {
			log.Debug("clear persisted state", logger.Err(cerr))
		}
	}
	return res, err
}

type completionResponse struct {
	Platform    string         `json:"platform"`
	AccountID   string         `json:"account_id"`
	AccountIDC  string         `json:"accountId"`
	AccountName string         `json:"account_name"`
	AccountNmC  string         `json:"accountName"`
	Profile     map[string]any `json:"profile"`
}

type backendError struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

const codeExpiredOrInvalidState = "expired_or_invalid_state"

func (c *DeferredCodeClient) complete(ctx context.Context, platform, path string, payload map[string]string) (LinkResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "session token unavailable", Err: err}
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "backend unreachable", Err: err}
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var be backendError
		_ = json.Unmarshal(data, &be)
		code := strings.ToLower(firstNonEmpty(be.Code, be.Error))
		msg := firstNonEmpty(be.Message, http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone || code == codeExpiredOrInvalidState {
			return LinkResult{}, newError(CodeExpiredOrInvalidState, platform, "backend %d: %s", resp.StatusCode, msg)
		}
		return LinkResult{}, newError(CodeCodeExchangeFailed, platform, "backend %d: %s", resp.StatusCode, msg)
	}

	var cr completionResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return LinkResult{}, &Error{Code: CodeCodeExchangeFailed, Platform: platform, Message: "unparsable completion body", Err: err}
	}
	out := LinkResult{
		Platform:    platform,
		AccountID:   firstNonEmpty(cr.AccountID, cr.AccountIDC),
		AccountName: firstNonEmpty(cr.AccountName, cr.AccountNmC),
		Profile:     cr.Profile,
	}
	if out.AccountID == "" {
		return LinkResult{}, newError(CodeCodeExchangeFailed, platform, "completion body has no account id")
	}
	return out, nil
}

func recordDeferred(path string, err error) {
	result := "ok"
	if err != nil {
		result = string(CodeOf(err))
	}
	metrics.DeferredCompletionsTotal.WithLabelValues(path, result).Inc()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
