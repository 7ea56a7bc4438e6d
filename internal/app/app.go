// Package app arma el grafo de dependencias de linkbroker a partir de la
// config: cache, broker, backend de referencia y el handler HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/linkbroker/internal/backend"
	"github.com/dropDatabas3/linkbroker/internal/broker"
	"github.com/dropDatabas3/linkbroker/internal/cache"
	"github.com/dropDatabas3/linkbroker/internal/config"
	httpx "github.com/dropDatabas3/linkbroker/internal/http"
	backendctrl "github.com/dropDatabas3/linkbroker/internal/http/controllers/backend"
	connctrl "github.com/dropDatabas3/linkbroker/internal/http/controllers/connections"
	healthctrl "github.com/dropDatabas3/linkbroker/internal/http/controllers/health"
	mw "github.com/dropDatabas3/linkbroker/internal/http/middlewares"
	"github.com/dropDatabas3/linkbroker/internal/jwt"
	"github.com/dropDatabas3/linkbroker/internal/metrics"
	"github.com/dropDatabas3/linkbroker/internal/observability/logger"
	"github.com/dropDatabas3/linkbroker/internal/rate"
	"github.com/dropDatabas3/linkbroker/internal/security/secretbox"
	tokens "github.com/dropDatabas3/linkbroker/internal/security/token"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options ajusta Build para cada comando.
type Options struct {
	Version string
	// Opener abre los popups en modo popup. nil = ninguno (todo popup queda bloqueado).
	Opener broker.Opener
	// Registry recibe las métricas. nil = registry default de prometheus.
	Registry *prometheus.Registry
	// HTTPClient para resolver, deferred y provider calls.
	HTTPClient *http.Client
	// OnTransition se encadena después del log de transiciones.
	OnTransition func(broker.AttemptSnapshot)
}

// App es la aplicación cableada.
type App struct {
	Config   *config.Config
	Cache    cache.Client
	Bus      *broker.Bus
	Tracked  *broker.TrackedOpener
	Machine  *broker.Machine
	Sessions *jwt.SessionIssuer
	Backend  *backend.Service
	// Limiter es nil si server.rate_limit.max es 0.
	Limiter rate.Limiter
	Handler http.Handler
}

// headlessOpener rechaza todo: en `serve` no hay browser del lado del proceso.
type headlessOpener struct{}

func (headlessOpener) Open(string, string, broker.Geometry) (broker.Window, error) { return nil, nil }

// Build crea la App. Llamar Close al terminar.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.From(ctx).With(logger.Component("app"))

	reg := prometheus.Registerer(prometheus.DefaultRegisterer)
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	metricsHandler, err := mw.RegisterMetrics(reg, gatherer)
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	cc, err := cache.New(cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: cfg.Cache.Memory.DefaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	a := &App{Config: cfg, Cache: cc, Bus: broker.NewBus()}

	if cfg.Server.RateLimit.Max > 0 {
		a.Limiter, err = rate.New(rate.Config{
			Driver:   cfg.Cache.Kind,
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix + ":rl:",
			Max:      cfg.Server.RateLimit.Max,
			Window:   cfg.Server.RateLimit.Window,
		})
		if err != nil {
			_ = cc.Close()
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if cfg.Backend.Enabled {
		if err := a.buildBackend(log, opts); err != nil {
			_ = cc.Close()
			return nil, err
		}
	}

	sessionToken := strings.TrimSpace(cfg.Broker.SessionToken)
	if sessionToken == "" && a.Sessions != nil && !cfg.IsProd() {
		// Dev: el backend in-process acepta un token propio para las completions.
		sessionToken, err = a.Sessions.Sign("linkbroker-dev", 12*time.Hour)
		if err != nil {
			_ = cc.Close()
			return nil, err
		}
		log.Info("minted a development session token for the in-process backend")
	}
	var tokenSource broker.TokenSource
	if sessionToken != "" {
		tokenSource = broker.StaticToken(sessionToken)
	}

	opener := opts.Opener
	if opener == nil {
		opener = headlessOpener{}
	}
	a.Tracked = broker.NewTrackedOpener(opener)
	popups := broker.NewPopupManager(a.Tracked, broker.Viewport{
		Width:  cfg.Broker.Viewport.Width,
		Height: cfg.Broker.Viewport.Height,
	})

	// La página puente propia siempre es un origin válido.
	origins := append([]string{cfg.Server.PublicURL}, cfg.Broker.AllowedOrigins...)
	bridge := broker.NewMessageBridge(a.Bus, popups, broker.BridgeConfig{
		PollInterval:   cfg.Broker.PollInterval,
		AllowedOrigins: origins,
	})

	resolver := broker.NewEndpointResolver(broker.ResolverConfig{
		Candidates: candidates(cfg),
		HTTPClient: opts.HTTPClient,
		Clients:    clients(cfg),
		Tokens:     tokenSource,
	})
	deferred := broker.NewDeferredCodeClient(broker.DeferredConfig{
		BackendURL:  cfg.Broker.BackendURL,
		HTTPClient:  opts.HTTPClient,
		Tokens:      tokenSource,
		States:      broker.NewCacheStateStore(cc, cfg.Broker.StateTTL),
		StrictState: cfg.Broker.StrictState,
	})

	a.Machine = broker.NewMachine(broker.MachineConfig{
		Resolver:     resolver,
		Popups:       popups,
		Bridge:       bridge,
		Deferred:     deferred,
		Mode:         broker.Mode(cfg.Broker.Mode),
		PopupSize:    broker.Size{Width: cfg.Broker.Popup.Width, Height: cfg.Broker.Popup.Height},
		AwaitTimeout: cfg.Broker.AwaitTimeout,
		OnTransition: opts.OnTransition,
	})

	router := httpx.RouterDeps{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Health: healthctrl.NewHealthController(opts.Version, len(broker.SupportedPlatforms()), a.Machine,
			healthctrl.Check{Name: "cache", Pinger: cc}),
		Connections: connctrl.NewController(connctrl.Deps{
			Attempts:   a.Machine,
			Bus:        a.Bus,
			Closed:     a.Tracked,
			PageOrigin: cfg.Server.PublicURL,
			AppOrigin:  cfg.Bridge.AppOrigin,
			CloseDelay: cfg.Bridge.CloseDelay,
			Limiter:    a.Limiter,
		}),
		Metrics: metricsHandler,
	}
	if a.Backend != nil {
		router.Backend = backendctrl.NewController(a.Backend, a.Sessions)
	}
	a.Handler = httpx.NewRouter(router)

	log.Info("application wired",
		logger.String("mode", cfg.Broker.Mode),
		logger.String("backend_url", cfg.Broker.BackendURL),
		logger.Bool("backend_enabled", cfg.Backend.Enabled),
		logger.String("cache", cfg.Cache.Kind),
	)
	return a, nil
}

func (a *App) buildBackend(log *zap.Logger, opts Options) error {
	cfg := a.Config
	secret := cfg.Backend.SessionSecret
	if secret == "" {
		s, err := tokens.GenerateOpaqueToken(32)
		if err != nil {
			return err
		}
		secret = s
		log.Warn("backend.session_secret not set; using an ephemeral secret")
	}
	sessions, err := jwt.NewSessionIssuer(secret, "linkbroker")
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}

	var box *secretbox.Box
	if cfg.Backend.SecretboxKey != "" {
		box, err = secretbox.New(cfg.Backend.SecretboxKey)
	} else {
		log.Warn("backend.secretbox_key not set; parked codes use an ephemeral key")
		box, err = secretbox.NewRandom()
	}
	if err != nil {
		return fmt.Errorf("secretbox: %w", err)
	}

	providers, err := backend.NewRegistry(cfg.Backend.BaseURL, cfg.Backend.Providers)
	if err != nil {
		return fmt.Errorf("backend providers: %w", err)
	}

	a.Sessions = sessions
	a.Backend = backend.NewService(backend.Deps{
		Providers:  providers,
		Store:      backend.NewStore(a.Cache, box, cfg.Backend.PendingTTL, cfg.Backend.CodeTTL),
		BridgeURL:  cfg.Backend.BridgeURL,
		HTTPClient: opts.HTTPClient,
	})
	return nil
}

func candidates(cfg *config.Config) []broker.Candidate {
	resolved := cfg.ResolvedCandidates()
	if len(resolved) == 0 {
		return broker.DefaultCandidates(cfg.Broker.BackendURL)
	}
	out := make([]broker.Candidate, 0, len(resolved))
	for _, c := range resolved {
		out = append(out, broker.Candidate{Name: c.Name, URLTemplate: c.URL, Method: c.Method})
	}
	return out
}

func clients(cfg *config.Config) map[string]broker.ClientConfig {
	out := make(map[string]broker.ClientConfig, len(cfg.Broker.Clients))
	for p, c := range cfg.Broker.Clients {
		out[p] = broker.ClientConfig{ClientID: c.ClientID, RedirectURL: c.RedirectURL, Scopes: c.Scopes}
	}
	return out
}

// Close cancela intentos en curso y libera la cache.
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.Machine.Shutdown(ctx), a.Cache.Close()}
	if c, ok := a.Limiter.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
