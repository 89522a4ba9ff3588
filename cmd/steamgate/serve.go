package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/steamgate/internal/config"
	"github.com/dropDatabas3/steamgate/internal/http/facade"
	"github.com/dropDatabas3/steamgate/internal/metrics"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/openid"
	"github.com/dropDatabas3/steamgate/internal/rate"
	"github.com/dropDatabas3/steamgate/internal/server"
	"github.com/dropDatabas3/steamgate/internal/session"
	"github.com/dropDatabas3/steamgate/internal/steamauth"
	"github.com/dropDatabas3/steamgate/internal/users"
)

const failMessage = "Something wrong happened, please try again."

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demo application with Steam sign-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, cleanup, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return srv.Run(ctx)
		},
	}
}

// build arma todas las dependencias. cleanup libera conexiones.
func build(ctx context.Context, cfg *config.Config) (*server.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server.Server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	var redisClient *rdb.Client
	if cfg.Session.Driver == "redis" || (cfg.Rate.Enabled && cfg.Rate.Driver == "redis") {
		redisClient = rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		closers = append(closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
	}

	var store session.Store
	switch cfg.Session.Driver {
	case "memory":
		store = session.NewMemoryStore()
	case "redis":
		store = session.NewRedisStoreFromClient(redisClient, cfg.Redis.Prefix)
	default:
		fs, err := session.NewFileStore(cfg.Session.Path)
		if err != nil {
			return fail(err)
		}
		fs.StartReaper(ctx, cfg.Session.ReapInterval)
		store = fs
	}

	var repo users.Repository
	switch cfg.Users.Driver {
	case "postgres":
		pg, err := users.NewPGRepository(ctx, cfg.Users.DSN, cfg.Users.MaxConns)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pg.Close)
		repo = pg
	case "memory":
		repo = users.NewMemoryRepository()
	}

	var m *metrics.Metrics
	if !cfg.Metrics.Disabled {
		var err error
		if m, err = metrics.New(prometheus.NewRegistry()); err != nil {
			return fail(err)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Steam.HTTPTimeout}
	flowCfg := steamauth.Config{
		APIKey:        cfg.Steam.APIKey,
		Realm:         cfg.Steam.Realm,
		SessionPath:   cfg.Session.Path,
		SessionSecret: cfg.Session.Secret,
		OnSuccess:     handleAuthSuccess,
		OnFail:        handleAuthFail,
		Session: session.Options{
			CookieName:        cfg.Session.CookieName,
			TTL:               cfg.Session.TTL,
			Secure:            cfg.Session.Secure,
			SameSite:          cfg.Session.SameSite,
			Domain:            cfg.Session.Domain,
			SkipUninitialized: cfg.Session.SkipUninitialized,
		},
	}
	if repo != nil {
		flowCfg.UpdateIncomingUser = users.Hook(repo)
	}

	verifier, err := openid.NewSteamVerifier(openid.SteamOptions{
		Realm:       cfg.Steam.Realm,
		ReturnTo:    flowCfg.ReturnTo(),
		HTTPClient:  httpClient,
		NonceWindow: cfg.Steam.NonceWindow,
	})
	if err != nil {
		return fail(err)
	}
	profiles, err := openid.NewSteamProfiles(openid.ProfileOptions{
		APIKey:     cfg.Steam.APIKey,
		HTTPClient: httpClient,
		CacheTTL:   cfg.Steam.ProfileCacheTTL,
	})
	if err != nil {
		return fail(err)
	}

	opts := []steamauth.Option{
		steamauth.WithStore(store),
		steamauth.WithVerifier(verifier),
		steamauth.WithProfiles(profiles),
		steamauth.WithMetrics(m),
	}
	if cfg.Rate.Enabled {
		var l rate.Limiter
		if cfg.Rate.Driver == "redis" {
			l = rate.NewRedisLimiter(redisClient, "rl:login:", cfg.Rate.Login.Limit, cfg.Rate.Login.Window)
		} else {
			l = rate.NewMemoryLimiter(cfg.Rate.Login.Limit, cfg.Rate.Login.Window)
		}
		proxies, err := cfg.TrustedProxies()
		if err != nil {
			return fail(err)
		}
		opts = append(opts, steamauth.WithLimiter(l), steamauth.WithTrustedProxies(proxies))
	}
	flow, err := steamauth.New(flowCfg, opts...)
	if err != nil {
		return fail(err)
	}

	srv, err := server.New(server.Spec{
		Addr:           cfg.Server.Addr,
		StaticPath:     cfg.Server.StaticPath,
		Plugins:        []server.Plugin{flow.Plugin()},
		Routes:         demoRoutes(),
		Metrics:        m,
		DisableMetrics: cfg.Metrics.Disabled,
		OnListen: func(addr string) {
			logger.L().Info("Server is up and running.", logger.String("addr", addr))
		},
	})
	if err != nil {
		return fail(err)
	}
	return srv, cleanup, nil
}

func handleAuthSuccess(_ *facade.Request, res *facade.Response) {
	res.Redirect("/hello")
}

func handleAuthFail(req *facade.Request, res *facade.Response) {
	if req.Err != nil && !errors.Is(req.Err, context.Canceled) {
		logger.From(req.Context()).Debug("auth failure shown to visitor", logger.Err(req.Err))
	}
	_ = res.JSON(http.StatusOK, failMessage)
}

func demoRoutes() []server.Route {
	return []server.Route{
		{
			Method: "get",
			Path:   "/hello",
			Handler: func(req *facade.Request, res *facade.Response) {
				if req.UserID == "" {
					_ = res.JSON(http.StatusOK, "You are not authenticated.")
					return
				}
				_ = res.JSON(http.StatusOK, "Hello, your id is "+req.UserID+".")
			},
		},
		{
			Method: "get",
			Path:   "/logout",
			Handler: func(req *facade.Request, res *facade.Response) {
				if err := req.Logout(); err != nil {
					return
				}
				res.Redirect("/hello")
			},
		},
	}
}
