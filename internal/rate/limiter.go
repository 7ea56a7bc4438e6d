// Package rate limita cuántos intentos de conexión puede arrancar un cliente
// por ventana de tiempo. Fixed window: el contador vive en Redis cuando el
// cache es distribuido y en go-cache cuando corre en un solo proceso.
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config selecciona el backend del contador.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
	Max      int
	Window   time.Duration
}

// New crea el limiter según cfg.Driver. Con redis reusa la misma instancia
// que el cache, con su propio prefijo.
func New(cfg Config) (Limiter, error) {
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("rate: max must be positive, got %d", cfg.Max)
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	switch cfg.Driver {
	case "redis":
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := rdb.NewClient(&rdb.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return NewRedisLimiter(client, cfg.Prefix, cfg.Max, cfg.Window), nil
	default:
		return NewMemoryLimiter(cfg.Prefix, cfg.Max, cfg.Window), nil
	}
}

// RedisLimiter: fixed window sencillo (INCR + EXPIRE)
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := windowKey(l.Prefix, key, l.Window, time.Now())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// set expiry on first hit
	if incr.Val() == 1 {
		_ = l.Client.Expire(ctx, redisKey, l.Window).Err()
		ttl = l.Client.TTL(ctx, redisKey)
	}

	return decide(incr.Val(), l.Max, ttl.Val(), l.Window), nil
}

// Close libera la conexión propia del limiter.
func (l *RedisLimiter) Close() error {
	return l.Client.Close()
}

func windowKey(prefix, key string, window time.Duration, now time.Time) string {
	winStart := now.UTC().Truncate(window)
	return fmt.Sprintf("%s%s:%d", prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

func decide(hits, max int64, ttl, window time.Duration) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= max,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !res.Allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(window.Seconds())) * time.Second
		}
	}
	return res
}
