package rate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter es el mismo fixed window sobre go-cache, para un solo proceso.
type MemoryLimiter struct {
	Prefix string
	Max    int64
	Window time.Duration

	c   *gocache.Cache
	now func() time.Time
}

func NewMemoryLimiter(prefix string, max int, window time.Duration) *MemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MemoryLimiter{
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
		c:      gocache.New(window, 2*window),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	k := windowKey(l.Prefix, key, l.Window, l.now())

	// Add falla si la key ya existe; en ese caso el contador ya tiene su expiración.
	_ = l.c.Add(k, int64(0), l.Window)
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		// expiró entre Add e Increment
		l.c.Set(k, int64(1), l.Window)
		hits = 1
	}

	var ttl time.Duration
	if _, exp, ok := l.c.GetWithExpiration(k); ok && !exp.IsZero() {
		ttl = time.Until(exp)
	}
	return decide(hits, l.Max, ttl, l.Window), nil
}
