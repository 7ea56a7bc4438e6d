package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/cache"
	"github.com/dropDatabas3/linkbroker/internal/metrics"
	"github.com/dropDatabas3/linkbroker/internal/security/secretbox"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
	"github.com/google/uuid"
)

const (
	pendingPrefix     = "oauth:pending:"
	codePrefix        = "oauth:code:"
	codeByStatePrefix = "oauth:code_by_state:"
)

// Pending is an authorization that was initiated and awaits its callback.
// UserID is empty when nobody was authenticated at initiation.
type Pending struct {
	Platform  string    `json:"platform"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeferredAuthorizationCode is a provider code parked until an authenticated
// user redeems it. The code itself is stored sealed.
type DeferredAuthorizationCode struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	State      string    `json:"state"`
	SealedCode string    `json:"sealed_code"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store keeps pending authorizations and parked codes in a cache.Client.
// State values are only ever used as keys in hashed form.
type Store struct {
	c          cache.Client
	box        *secretbox.Box
	pendingTTL time.Duration
	codeTTL    time.Duration
}

func NewStore(c cache.Client, box *secretbox.Box, pendingTTL, codeTTL time.Duration) *Store {
	return &Store{c: c, box: box, pendingTTL: pendingTTL, codeTTL: codeTTL}
}

func stateKey(prefix, state string) string { return prefix + tokens.SHA256Base64URL(state) }

// PutPending records a pending authorization for state.
func (s *Store) PutPending(ctx context.Context, state string, p Pending) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.c.Set(ctx, stateKey(pendingPrefix, state), string(b), s.pendingTTL)
}

// TakePending consumes the pending authorization for state.
func (s *Store) TakePending(ctx context.Context, state string) (Pending, error) {
	raw, err := s.c.Take(ctx, stateKey(pendingPrefix, state))
	if cache.IsNotFound(err) {
		return Pending{}, ErrPendingNotFound
	}
	if err != nil {
		return Pending{}, err
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Pending{}, ErrPayloadInvalid
	}
	return p, nil
}

// ParkCode seals code and stores it under a fresh code_id, also indexed by state.
func (s *Store) ParkCode(ctx context.Context, platform, state, code string) (DeferredAuthorizationCode, error) {
	sealed, err := s.box.Seal(code)
	if err != nil {
		return DeferredAuthorizationCode{}, err
	}
	d := DeferredAuthorizationCode{
		ID:         uuid.NewString(),
		Platform:   platform,
		State:      state,
		SealedCode: sealed,
		CreatedAt:  time.Now().UTC(),
	}
	b, err := json.Marshal(d)
	if err != nil {
		return DeferredAuthorizationCode{}, err
	}
	if err := s.c.Set(ctx, codePrefix+d.ID, string(b), s.codeTTL); err != nil {
		return DeferredAuthorizationCode{}, err
	}
	if state != "" {
		if err := s.c.Set(ctx, stateKey(codeByStatePrefix, state), d.ID, s.codeTTL); err != nil {
			return DeferredAuthorizationCode{}, err
		}
	}
	metrics.BackendParkedCodesTotal.WithLabelValues("parked").Inc()
	return d, nil
}

// TakeCode consumes a parked code by id and returns it unsealed. A second
// call for the same id fails with ErrCodeNotFound.
func (s *Store) TakeCode(ctx context.Context, id string) (DeferredAuthorizationCode, string, error) {
	raw, err := s.c.Take(ctx, codePrefix+id)
	if cache.IsNotFound(err) {
		metrics.BackendParkedCodesTotal.WithLabelValues("expired").Inc()
		return DeferredAuthorizationCode{}, "", ErrCodeNotFound
	}
	if err != nil {
		return DeferredAuthorizationCode{}, "", err
	}
	var d DeferredAuthorizationCode
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return DeferredAuthorizationCode{}, "", ErrPayloadInvalid
	}
	if d.State != "" {
		_ = s.c.Delete(ctx, stateKey(codeByStatePrefix, d.State))
	}
	code, err := s.box.Open(d.SealedCode)
	if err != nil {
		return DeferredAuthorizationCode{}, "", ErrPayloadInvalid
	}
	metrics.BackendParkedCodesTotal.WithLabelValues("consumed").Inc()
	return d, code, nil
}

// TakeCodeByState consumes the code parked for state.
func (s *Store) TakeCodeByState(ctx context.Context, state string) (DeferredAuthorizationCode, string, error) {
	id, err := s.c.Take(ctx, stateKey(codeByStatePrefix, state))
	if cache.IsNotFound(err) {
		return DeferredAuthorizationCode{}, "", ErrCodeNotFound
	}
	if err != nil {
		return DeferredAuthorizationCode{}, "", err
	}
	return s.TakeCode(ctx, id)
}
