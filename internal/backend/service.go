package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
)

// Wire error codes understood by the broker's deferred client.
const (
	CodeExpiredOrInvalidState = "expired_or_invalid_state"
	CodeExchangeFailed        = "code_exchange_failed"
)

// Deps contains dependencies for the Service.
type Deps struct {
	Providers *Registry
	Store     *Store
	// BridgeURL is where provider callbacks are redirected with the outcome.
	BridgeURL string
	// HTTPClient is used for provider token and profile calls.
	HTTPClient *http.Client
}

// Service implements the backend flows.
type Service struct {
	providers *Registry
	store     *Store
	bridgeURL string
	hc        *http.Client
}

func NewService(d Deps) *Service {
	hc := d.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{providers: d.Providers, store: d.Store, bridgeURL: d.BridgeURL, hc: hc}
}

// Initiate creates a pending authorization and returns the provider consent
// URL. An empty state is replaced with a random one.
func (s *Service) Initiate(ctx context.Context, platform, state, userID string) (authURL, outState string, err error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("backend"), logger.Op("Initiate"))

	p, err := s.providers.Get(platform)
	if err != nil {
		return "", "", err
	}
	if state = strings.TrimSpace(state); state == "" {
		if state, err = tokens.GenerateOpaqueToken(24); err != nil {
			return "", "", err
		}
	}
	if err := s.store.PutPending(ctx, state, Pending{Platform: p.Platform, UserID: userID, CreatedAt: time.Now().UTC()}); err != nil {
		return "", "", err
	}
	log.Debug("pending authorization created", logger.Platform(p.Platform), logger.State(state), logger.Bool("authenticated", userID != ""))
	return p.AuthCodeURL(state), state, nil
}

// Callback handles the provider redirect and returns the bridge URL the
// browser must be sent to. It never fails: errors become error parameters.
func (s *Service) Callback(ctx context.Context, platform string, q url.Values) string {
	platform = broker.NormalizePlatform(platform)
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("backend"), logger.Op("Callback"), logger.Platform(platform))
	state := strings.TrimSpace(q.Get("state"))

	if e := strings.TrimSpace(q.Get("error")); e != "" {
		log.Info("provider returned an error", logger.String("provider_error", e))
		return s.bridge(url.Values{
			"platform":          {platform},
			"state":             {state},
			"error":             {e},
			"error_description": {q.Get("error_description")},
		})
	}
	fail := func(code, desc string) string {
		return s.bridge(url.Values{"platform": {platform}, "state": {state}, "error": {code}, "error_description": {desc}})
	}

	code := strings.TrimSpace(q.Get("code"))
	if state == "" || code == "" {
		return fail(CodeExpiredOrInvalidState, "missing code or state")
	}
	pending, err := s.store.TakePending(ctx, state)
	if err != nil {
		log.Warn("callback without pending authorization", logger.State(state), logger.Err(err))
		return fail(CodeExpiredOrInvalidState, "authorization expired, start again")
	}
	if pending.Platform != platform {
		return fail(CodeExpiredOrInvalidState, "platform mismatch")
	}
	p, err := s.providers.Get(platform)
	if err != nil {
		return fail(CodeExchangeFailed, err.Error())
	}

	if pending.UserID != "" {
		acc, err := p.Redeem(ctx, s.hc, code)
		if err != nil {
			log.Error("immediate exchange failed", logger.Err(err))
			return fail(CodeExchangeFailed, "could not exchange the authorization code")
		}
		log.Info("account linked at callback", logger.String("account_id", acc.AccountID))
		return s.bridge(url.Values{
			"platform":     {platform},
			"state":        {state},
			"account_id":   {acc.AccountID},
			"account_name": {acc.AccountName},
		})
	}

	parked, err := s.store.ParkCode(ctx, platform, state, code)
	if err != nil {
		log.Error("could not park code", logger.Err(err))
		return fail(CodeExchangeFailed, "could not store the authorization code")
	}
	log.Info("code parked for deferred completion", logger.String("code_id", parked.ID))
	return s.bridge(url.Values{"platform": {platform}, "state": {state}, "code_id": {parked.ID}})
}

// CompleteByCodeID redeems a parked code for an authenticated user.
func (s *Service) CompleteByCodeID(ctx context.Context, platform, codeID, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrUnauthenticated
	}
	p, err := s.providers.Get(platform)
	if err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(codeID) == "" {
		return Account{}, ErrCodeNotFound
	}
	parked, code, err := s.store.TakeCode(ctx, codeID)
	if err != nil {
		return Account{}, err
	}
	if parked.Platform != p.Platform {
		return Account{}, ErrPlatformMismatch
	}
	return s.redeem(ctx, p, code, "CompleteByCodeID")
}

// CompleteByState redeems the code parked for state. When nothing is parked
// but rawCode is given, rawCode is exchanged directly.
func (s *Service) CompleteByState(ctx context.Context, platform, state, rawCode, userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrUnauthenticated
	}
	p, err := s.providers.Get(platform)
	if err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(state) == "" {
		return Account{}, ErrStateMissing
	}
	parked, code, err := s.store.TakeCodeByState(ctx, state)
	switch {
	case err == nil:
		if parked.Platform != p.Platform {
			return Account{}, ErrPlatformMismatch
		}
	case errors.Is(err, ErrCodeNotFound) && rawCode != "":
		code = rawCode
	default:
		return Account{}, err
	}
	return s.redeem(ctx, p, code, "CompleteByState")
}

func (s *Service) redeem(ctx context.Context, p *Provider, code, op string) (Account, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("backend"), logger.Op(op), logger.Platform(p.Platform))
	acc, err := p.Redeem(ctx, s.hc, code)
	if err != nil {
		log.Error("deferred exchange failed", logger.Err(err))
		return Account{}, err
	}
	log.Info("account linked", logger.String("account_id", acc.AccountID))
	return acc, nil
}

func (s *Service) bridge(q url.Values) string {
	for k, v := range q {
		if len(v) == 0 || v[0] == "" {
			delete(q, k)
		}
	}
	sep := "?"
	if strings.Contains(s.bridgeURL, "?") {
		sep = "&"
	}
	return s.bridgeURL + sep + q.Encode()
}
