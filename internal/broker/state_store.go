package broker

import (
	"context"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/cache"
)

// StateStore persists the per-platform state value between initiation and a
// state-based deferred completion.
type StateStore interface {
	Save(ctx context.Context, platform, state string) error
	// Load reports ok=false when nothing is stored for platform.
	Load(ctx context.Context, platform string) (state string, ok bool, err error)
	Clear(ctx context.Context, platform string) error
}

// CacheStateStore keeps states in a cache.Client under oauth_state_<platform>.
type CacheStateStore struct {
	c   cache.Client
	ttl time.Duration
}

// NewCacheStateStore returns a store whose entries expire after ttl (0 = never).
func NewCacheStateStore(c cache.Client, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{c: c, ttl: ttl}
}

func stateKey(platform string) string { return "oauth_state_" + NormalizePlatform(platform) }

func (s *CacheStateStore) Save(ctx context.Context, platform, state string) error {
	return s.c.Set(ctx, stateKey(platform), state, s.ttl)
}

func (s *CacheStateStore) Load(ctx context.Context, platform string) (string, bool, error) {
	v, err := s.c.Get(ctx, stateKey(platform))
	if cache.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

func (s *CacheStateStore) Clear(ctx context.Context, platform string) error {
	return s.c.Delete(ctx, stateKey(platform))
}
