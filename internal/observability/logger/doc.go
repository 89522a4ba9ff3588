// Package logger holds the process-wide zap logger and its request-scoped variants.
//
// Init is called once from main; handlers and services then use From(ctx), which
// returns the logger injected by the logging middleware (request_id, method, path)
// or the singleton when none is present.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Op("Flow.postLogin"))
//	log.Info("login verified", logger.SteamID(id))
package logger
