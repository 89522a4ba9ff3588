package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env         string `yaml:"env"`
		LogLevel    string `yaml:"log_level"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"app"`

	Server struct {
		Addr       string `yaml:"addr"`
		StaticPath string `yaml:"static_path"`
	} `yaml:"server"`

	Steam struct {
		APIKey string `yaml:"api_key"`
		// Realm: URL base pública del sitio, p. ej. http://localhost:3000
		Realm           string        `yaml:"realm"`
		HTTPTimeout     time.Duration `yaml:"http_timeout"`
		NonceWindow     time.Duration `yaml:"nonce_window"`
		ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
	} `yaml:"steam"`

	Session struct {
		// file | memory | redis
		Driver     string        `yaml:"driver"`
		Path       string        `yaml:"path"`
		Secret     string        `yaml:"secret"`
		TTL        time.Duration `yaml:"ttl"`
		CookieName string        `yaml:"cookie_name"`
		Secure     bool          `yaml:"secure"`
		SameSite   string        `yaml:"same_site"`
		Domain     string        `yaml:"domain"`
		// SkipUninitialized: no persistir sesiones anónimas.
		SkipUninitialized bool `yaml:"skip_uninitialized"`
		// ReapInterval: limpieza de sesiones vencidas del driver file. 0 = off.
		ReapInterval time.Duration `yaml:"reap_interval"`
	} `yaml:"session"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Users struct {
		// none | memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"users"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// memory | redis
		Driver string `yaml:"driver"`
		// CIDRs o IPs de proxies cuyo X-Forwarded-For se acepta
		TrustedProxies []string `yaml:"trusted_proxies"`
		Login          struct {
			Limit  int           `yaml:"limit"`
			Window time.Duration `yaml:"window"`
		} `yaml:"login"`
	} `yaml:"rate"`

	Metrics struct {
		Disabled bool `yaml:"disabled"`
	} `yaml:"metrics"`
}

// Default devuelve una config sin archivo, solo defaults.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

// LoadOrDefault es Load, pero un archivo inexistente no es error: se usan defaults + env.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) != "" {
		c, err := Load(path)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	c := &Config{}
	c.applyEnvOverrides()
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.ServiceName == "" {
		c.App.ServiceName = "steamgate"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":80"
	}
	if c.Steam.HTTPTimeout == 0 {
		c.Steam.HTTPTimeout = 10 * time.Second
	}
	if c.Steam.NonceWindow == 0 {
		c.Steam.NonceWindow = 5 * time.Minute
	}
	if c.Steam.ProfileCacheTTL == 0 {
		c.Steam.ProfileCacheTTL = time.Minute
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "file"
	}
	if c.Session.Path == "" {
		c.Session.Path = "./sessions"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = time.Hour
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "lax"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Users.Driver == "" {
		c.Users.Driver = "memory"
	}
	if c.Users.MaxConns == 0 {
		c.Users.MaxConns = 4
	}
	if c.Rate.Driver == "" {
		c.Rate.Driver = "memory"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == 0 {
		c.Rate.Login.Window = time.Minute
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

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("STATIC_PATH"); ok {
		c.Server.StaticPath = v
	}

	// STEAM
	if v, ok := getEnvStr("STEAM_API_KEY"); ok {
		c.Steam.APIKey = v
	}
	if v, ok := getEnvStr("STEAM_REALM"); ok {
		c.Steam.Realm = v
	}
	if v, ok := getEnvDur("STEAM_HTTP_TIMEOUT"); ok {
		c.Steam.HTTPTimeout = v
	}

	// SESSION
	if v, ok := getEnvStr("SESSION_DRIVER"); ok {
		c.Session.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SESSION_PATH"); ok {
		c.Session.Path = v
	}
	if v, ok := getEnvStr("SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvBool("SESSION_COOKIE_SECURE"); ok {
		c.Session.Secure = v
	}

	// REDIS
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}

	// USERS
	if v, ok := getEnvStr("USERS_DRIVER"); ok {
		c.Users.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("USERS_DSN"); ok {
		c.Users.DSN = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_DRIVER"); ok {
		c.Rate.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RATE_TRUSTED_PROXIES"); ok {
		c.Rate.TrustedProxies = splitList(v)
	}
	if v, ok := getEnvInt("RATE_LOGIN_LIMIT"); ok {
		c.Rate.Login.Limit = v
	}
	if v, ok := getEnvDur("RATE_LOGIN_WINDOW"); ok {
		c.Rate.Login.Window = v
	}

	// METRICS
	if v, ok := getEnvBool("METRICS_DISABLED"); ok {
		c.Metrics.Disabled = v
	}
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s (got %q)", field, strings.Join(allowed, ", "), v)
}

// Validate chequea lo necesario para levantar el servidor.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Steam.APIKey) == "" {
		errs = append(errs, errors.New("steam.api_key (STEAM_API_KEY) is required"))
	}
	if strings.TrimSpace(c.Steam.Realm) == "" {
		errs = append(errs, errors.New("steam.realm (STEAM_REALM) is required"))
	} else if !strings.HasPrefix(c.Steam.Realm, "http://") && !strings.HasPrefix(c.Steam.Realm, "https://") {
		errs = append(errs, fmt.Errorf("steam.realm must be an http(s) URL (got %q)", c.Steam.Realm))
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		errs = append(errs, errors.New("session.secret (SESSION_SECRET) is required"))
	}
	if err := oneOf("session.driver", c.Session.Driver, "file", "memory", "redis"); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("users.driver", c.Users.Driver, "none", "memory", "postgres"); err != nil {
		errs = append(errs, err)
	}
	if c.Users.Driver == "postgres" && strings.TrimSpace(c.Users.DSN) == "" {
		errs = append(errs, errors.New("users.dsn (USERS_DSN) is required with the postgres driver"))
	}
	if err := oneOf("rate.driver", c.Rate.Driver, "memory", "redis"); err != nil {
		errs = append(errs, err)
	}
	if c.Rate.Login.Limit < 0 || c.Rate.Login.Window < 0 {
		errs = append(errs, errors.New("rate.login limit and window must be positive"))
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	if c.App.Env == "prod" && !c.Session.Secure {
		errs = append(errs, errors.New("session.secure must be true in prod"))
	}
	return errors.Join(errs...)
}

// TrustedProxies parsea rate.trusted_proxies; una IP suelta vale como /32 o /128.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Rate.TrustedProxies))
	for _, raw := range c.Rate.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("rate.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("rate.trusted_proxies: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
