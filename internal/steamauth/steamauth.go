// Package steamauth wires the Steam sign-in flow onto a chi router.
//
// Install mounts the session middleware and registers two routes:
//
//	GET /__login__      redirect to Steam
//	GET /__postlogin__  verify → profile → normalize → validate → update → bind → OnSuccess
//
// Any failure along the callback lands in OnFail, except a malformed account
// identifier (500) and errors of the session middleware itself.
package steamauth

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/steamgate/internal/http/facade"
	"github.com/dropDatabas3/steamgate/internal/http/middlewares"
	"github.com/dropDatabas3/steamgate/internal/metrics"
	"github.com/dropDatabas3/steamgate/internal/openid"
	"github.com/dropDatabas3/steamgate/internal/rate"
	"github.com/dropDatabas3/steamgate/internal/session"
	"github.com/dropDatabas3/steamgate/internal/steamid"
)

const (
	LoginPath    = facade.LoginPath
	CallbackPath = "/__postlogin__"
)

// ErrIdentityMismatch: el perfil devuelto no corresponde a la cuenta verificada.
var ErrIdentityMismatch = errors.New("steamauth: profile does not match verified account")

// Hook recibe el usuario normalizado; un error aborta el login.
type Hook func(ctx context.Context, u steamid.User) error

// Config is fixed at New and never mutated afterwards.
type Config struct {
	APIKey        string
	Realm         string
	SessionPath   string
	SessionSecret string

	OnSuccess facade.Handler
	OnFail    facade.Handler

	// ValidateIncomingUser corre antes de UpdateIncomingUser. Opcional.
	ValidateIncomingUser Hook
	// UpdateIncomingUser persiste o refresca el perfil. Opcional.
	UpdateIncomingUser Hook

	// Session ajusta cookie y TTL. Secret se toma de SessionSecret.
	Session session.Options
}

// Flow is a configured sign-in flow. Safe for concurrent use once installed.
type Flow struct {
	cfg      Config
	store    session.Store
	manager  *session.Manager
	verifier openid.Verifier
	profiles openid.ProfileFetcher
	metrics  *metrics.Metrics
	limiter  rate.Limiter
	proxies  []netip.Prefix
}

// Option customizes New.
type Option func(*Flow)

// WithStore reemplaza el FileStore en SessionPath.
func WithStore(s session.Store) Option { return func(f *Flow) { f.store = s } }

func WithVerifier(v openid.Verifier) Option { return func(f *Flow) { f.verifier = v } }

func WithProfiles(p openid.ProfileFetcher) Option { return func(f *Flow) { f.profiles = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Flow) { f.metrics = m } }

// WithLimiter limita /__login__ y /__postlogin__ por IP y ruta.
func WithLimiter(l rate.Limiter) Option { return func(f *Flow) { f.limiter = l } }

// WithTrustedProxies hace que el limiter use X-Forwarded-For cuando el peer
// pertenece a alguno de estos rangos.
func WithTrustedProxies(p []netip.Prefix) Option { return func(f *Flow) { f.proxies = p } }

func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.Realm) == "" {
		missing = append(missing, "realm")
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		missing = append(missing, "session secret")
	}
	if c.OnSuccess == nil {
		missing = append(missing, "on_success")
	}
	if c.OnFail == nil {
		missing = append(missing, "on_fail")
	}
	if len(missing) > 0 {
		return fmt.Errorf("steamauth: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ReturnTo es la URL de callback que se registra en Steam.
func (c Config) ReturnTo() string {
	return strings.TrimRight(c.Realm, "/") + CallbackPath
}

// New validates cfg and builds the flow. Defaults: Steam OpenID verifier, Steam Web
// API profiles and a file session store at SessionPath.
func New(cfg Config, opts ...Option) (*Flow, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &Flow{cfg: cfg}
	for _, o := range opts {
		o(f)
	}

	var err error
	if f.store == nil {
		if f.store, err = session.NewFileStore(cfg.SessionPath); err != nil {
			return nil, err
		}
	}
	sopts := cfg.Session
	sopts.Secret = cfg.SessionSecret
	if f.manager, err = session.NewManager(f.store, sopts); err != nil {
		return nil, err
	}
	if f.verifier == nil {
		if f.verifier, err = openid.NewSteamVerifier(openid.SteamOptions{
			Realm:    cfg.Realm,
			ReturnTo: cfg.ReturnTo(),
		}); err != nil {
			return nil, err
		}
	}
	if f.profiles == nil {
		if f.profiles, err = openid.NewSteamProfiles(openid.ProfileOptions{APIKey: cfg.APIKey}); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Sessions devuelve el manager de sesiones del flow.
func (f *Flow) Sessions() *session.Manager { return f.manager }

// Install mounts the session middleware and the sign-in routes on r. It must run
// before any other route is registered on r.
func (f *Flow) Install(r chi.Router) error {
	r.Use(f.manager.Middleware())

	routes := r.With(middlewares.WithNoStore())
	if f.limiter != nil {
		routes = routes.With(middlewares.WithRateLimit(middlewares.RateLimitConfig{
			Limiter: f.limiter,
			KeyFunc: middlewares.ProxiedIPPathRateKey(f.proxies),
		}))
	}
	routes.Get(LoginPath, f.login)
	routes.Get(CallbackPath, f.callback)
	return nil
}

// Plugin adapta Install a la firma de plugin del servidor.
func (f *Flow) Plugin() func(chi.Router) error {
	return f.Install
}
