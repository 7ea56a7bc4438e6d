package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// PublicURL es la URL base con la que el browser llega a este proceso.
		PublicURL          string        `yaml:"public_url"`
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
		ReadTimeout        time.Duration `yaml:"read_timeout"`
		WriteTimeout       time.Duration `yaml:"write_timeout"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
		// RateLimit acota POST /connections/{platform} por IP y plataforma. Max 0 = sin límite.
		RateLimit struct {
			Max    int           `yaml:"max"`
			Window time.Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL time.Duration `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Broker struct {
		BackendURL string `yaml:"backend_url"`
		// popup | redirect
		Mode           string            `yaml:"mode"`
		Candidates     []CandidateConfig `yaml:"candidates"`
		PollInterval   time.Duration     `yaml:"poll_interval"`
		AwaitTimeout   time.Duration     `yaml:"await_timeout"`
		AllowedOrigins []string          `yaml:"allowed_origins"`
		StrictState    bool              `yaml:"strict_state"`
		StateTTL       time.Duration     `yaml:"state_ttl"`
		// SessionToken es el bearer de la sesión del host-app (solo CLI / dev).
		SessionToken string `yaml:"session_token"`
		Popup        struct {
			Width  int `yaml:"width"`
			Height int `yaml:"height"`
		} `yaml:"popup"`
		Viewport struct {
			Width  int `yaml:"width"`
			Height int `yaml:"height"`
		} `yaml:"viewport"`
		// Clients por plataforma, para sintetizar URLs en modo degradado.
		Clients map[string]ClientConfig `yaml:"clients"`
	} `yaml:"broker"`

	Bridge struct {
		// AppOrigin es el target origin del postMessage de la bridge page.
		AppOrigin  string        `yaml:"app_origin"`
		CloseDelay time.Duration `yaml:"close_delay"`
	} `yaml:"bridge"`

	Backend struct {
		Enabled bool `yaml:"enabled"`
		// BaseURL público del backend (redirect_uri = BaseURL/oauth/{platform}/callback).
		BaseURL string `yaml:"base_url"`
		// BridgeURL es la bridge page a la que vuelve el callback.
		BridgeURL     string                    `yaml:"bridge_url"`
		PendingTTL    time.Duration             `yaml:"pending_ttl"`
		CodeTTL       time.Duration             `yaml:"code_ttl"`
		SessionSecret string                    `yaml:"session_secret"`
		SecretboxKey  string                    `yaml:"secretbox_key"`
		Providers     map[string]ProviderConfig `yaml:"providers"`
	} `yaml:"backend"`
}

// CandidateConfig describe un endpoint de iniciación. URL admite {backend} y {platform}.
type CandidateConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Method string `yaml:"method"`
}

// ClientConfig es el registro público de un client OAuth (sin secret).
type ClientConfig struct {
	ClientID    string   `yaml:"client_id"`
	RedirectURL string   `yaml:"redirect_url"`
	Scopes      []string `yaml:"scopes"`
}

// ProviderConfig es la configuración completa de un provider en el backend de referencia.
// AuthURL/TokenURL vacíos usan los endpoints estáticos de la plataforma.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	Scopes       []string `yaml:"scopes"`
}

// Default retorna una Config con todos los defaults aplicados y sin archivo.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load lee el YAML en path (vacío = sin archivo), aplica defaults,
// overrides por env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicURL == "" {
		if strings.HasPrefix(c.Server.Addr, ":") {
			c.Server.PublicURL = "http://localhost" + c.Server.Addr
		} else {
			c.Server.PublicURL = "http://" + c.Server.Addr
		}
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.Window == 0 {
		c.Server.RateLimit.Window = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "linkbroker"
	}
	if c.Cache.Memory.DefaultTTL == 0 {
		c.Cache.Memory.DefaultTTL = 10 * time.Minute
	}

	// Sin backend externo, el broker habla con el backend de referencia embebido.
	if c.Broker.BackendURL == "" {
		c.Broker.BackendURL = c.Server.PublicURL
	}
	c.Broker.BackendURL = strings.TrimRight(c.Broker.BackendURL, "/")
	if c.Broker.Mode == "" {
		c.Broker.Mode = "popup"
	}
	if c.Broker.PollInterval == 0 {
		c.Broker.PollInterval = 500 * time.Millisecond
	}
	if c.Broker.StateTTL == 0 {
		c.Broker.StateTTL = 30 * time.Minute
	}
	if c.Broker.Popup.Width == 0 {
		c.Broker.Popup.Width = 600
	}
	if c.Broker.Popup.Height == 0 {
		c.Broker.Popup.Height = 700
	}
	if c.Broker.Viewport.Width == 0 {
		c.Broker.Viewport.Width = 1280
	}
	if c.Broker.Viewport.Height == 0 {
		c.Broker.Viewport.Height = 800
	}
	if c.Broker.Clients == nil {
		c.Broker.Clients = map[string]ClientConfig{}
	}

	if c.Bridge.AppOrigin == "" {
		c.Bridge.AppOrigin = c.Server.PublicURL
	}
	if c.Bridge.CloseDelay == 0 {
		c.Bridge.CloseDelay = 2 * time.Second
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = c.Server.PublicURL
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.BridgeURL == "" {
		c.Backend.BridgeURL = c.Server.PublicURL + "/connections/callback"
	}
	if c.Backend.PendingTTL == 0 {
		c.Backend.PendingTTL = 10 * time.Minute
	}
	if c.Backend.CodeTTL == 0 {
		c.Backend.CodeTTL = 5 * time.Minute
	}
	if c.Backend.Providers == nil {
		c.Backend.Providers = map[string]ProviderConfig{}
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP / LOG
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("LINKBROKER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LINKBROKER_PUBLIC_URL"); ok {
		c.Server.PublicURL = v
	}
	if v, ok := getEnvCSV("LINKBROKER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvInt("LINKBROKER_RATE_LIMIT_MAX"); ok {
		c.Server.RateLimit.Max = v
	}
	if v, ok := getEnvDur("LINKBROKER_RATE_LIMIT_WINDOW"); ok {
		c.Server.RateLimit.Window = v
	}

	// CACHE
	if v, ok := getEnvStr("LINKBROKER_CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
		if c.Cache.Kind == "" {
			c.Cache.Kind = "redis"
		}
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// BROKER
	if v, ok := getEnvStr("LINKBROKER_BACKEND_URL"); ok {
		c.Broker.BackendURL = v
	}
	if v, ok := getEnvStr("LINKBROKER_MODE"); ok {
		c.Broker.Mode = strings.ToLower(v)
	}
	if v, ok := getEnvDur("LINKBROKER_POLL_INTERVAL"); ok {
		c.Broker.PollInterval = v
	}
	if v, ok := getEnvDur("LINKBROKER_AWAIT_TIMEOUT"); ok {
		c.Broker.AwaitTimeout = v
	}
	if v, ok := getEnvCSV("LINKBROKER_ALLOWED_ORIGINS"); ok {
		c.Broker.AllowedOrigins = v
	}
	if v, ok := getEnvBool("LINKBROKER_STRICT_STATE"); ok {
		c.Broker.StrictState = v
	}
	if v, ok := getEnvStr("LINKBROKER_SESSION_TOKEN"); ok {
		c.Broker.SessionToken = v
	}

	// BRIDGE
	if v, ok := getEnvStr("LINKBROKER_APP_ORIGIN"); ok {
		c.Bridge.AppOrigin = v
	}
	if v, ok := getEnvDur("LINKBROKER_BRIDGE_CLOSE_DELAY"); ok {
		c.Bridge.CloseDelay = v
	}

	// BACKEND
	if v, ok := getEnvBool("LINKBROKER_BACKEND_ENABLED"); ok {
		c.Backend.Enabled = v
	}
	if v, ok := getEnvStr("LINKBROKER_BACKEND_BASE_URL"); ok {
		c.Backend.BaseURL = v
	}
	if v, ok := getEnvStr("LINKBROKER_SESSION_SECRET"); ok {
		c.Backend.SessionSecret = v
	}
	if v, ok := getEnvStr("LINKBROKER_SECRETBOX_KEY"); ok {
		c.Backend.SecretboxKey = v
	}

	// Clients/providers por plataforma: LINKBROKER_<PLATFORM>_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URL
	for _, p := range knownPlatforms {
		up := strings.ToUpper(p)
		if v, ok := getEnvStr("LINKBROKER_" + up + "_CLIENT_ID"); ok {
			if c.Broker.Clients == nil {
				c.Broker.Clients = map[string]ClientConfig{}
			}
			cl := c.Broker.Clients[p]
			cl.ClientID = v
			c.Broker.Clients[p] = cl

			if c.Backend.Providers == nil {
				c.Backend.Providers = map[string]ProviderConfig{}
			}
			pc := c.Backend.Providers[p]
			pc.ClientID = v
			c.Backend.Providers[p] = pc
		}
		if v, ok := getEnvStr("LINKBROKER_" + up + "_CLIENT_SECRET"); ok {
			if c.Backend.Providers == nil {
				c.Backend.Providers = map[string]ProviderConfig{}
			}
			pc := c.Backend.Providers[p]
			pc.ClientSecret = v
			c.Backend.Providers[p] = pc
		}
		if v, ok := getEnvStr("LINKBROKER_" + up + "_REDIRECT_URL"); ok {
			if c.Broker.Clients == nil {
				c.Broker.Clients = map[string]ClientConfig{}
			}
			cl := c.Broker.Clients[p]
			cl.RedirectURL = v
			c.Broker.Clients[p] = cl
		}
	}
}

// knownPlatforms se mantiene acá (y no en broker) para que config no dependa de nadie.
var knownPlatforms = []string{"facebook", "instagram", "linkedin", "google", "twitter", "tiktok", "pinterest"}

// Validate verifica valores críticos.
func (c *Config) Validate() error {
	var errs []error
	switch c.Broker.Mode {
	case "popup", "redirect":
	default:
		errs = append(errs, fmt.Errorf("broker.mode: %q must be popup or redirect", c.Broker.Mode))
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.kind=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind: %q must be memory or redis", c.Cache.Kind))
	}
	if c.Server.RateLimit.Max < 0 {
		errs = append(errs, errors.New("server.rate_limit.max must not be negative"))
	}
	if c.Broker.AwaitTimeout < 0 {
		errs = append(errs, errors.New("broker.await_timeout must not be negative"))
	}
	for i, cand := range c.Broker.Candidates {
		if strings.TrimSpace(cand.Name) == "" || strings.TrimSpace(cand.URL) == "" {
			errs = append(errs, fmt.Errorf("broker.candidates[%d]: name and url are required", i))
		}
	}
	// En prod el backend de referencia necesita secretos explícitos.
	if c.Backend.Enabled && c.IsProd() {
		if c.Backend.SessionSecret == "" {
			errs = append(errs, errors.New("backend.session_secret is required in prod"))
		}
		if c.Backend.SecretboxKey == "" {
			errs = append(errs, errors.New("backend.secretbox_key is required in prod"))
		}
	}
	return errors.Join(errs...)
}

// IsProd reporta si app_env es prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// ResolvedCandidates expande {backend} en los candidatos configurados.
// Retorna nil si no hay candidatos configurados (el caller usa los defaults).
func (c *Config) ResolvedCandidates() []CandidateConfig {
	if len(c.Broker.Candidates) == 0 {
		return nil
	}
	out := make([]CandidateConfig, 0, len(c.Broker.Candidates))
	for _, cand := range c.Broker.Candidates {
		cand.URL = strings.ReplaceAll(cand.URL, "{backend}", c.Broker.BackendURL)
		out = append(out, cand)
	}
	return out
}
