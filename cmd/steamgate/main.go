package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/steamgate/internal/config"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
)

var version = "dev"

func main() {
	// .env es opcional; las variables del entorno tienen prioridad
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "steamgate",
		Short:         "Sign in with Steam for HTTP applications",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("STEAMGATE_CONFIG", "config.yaml"),
		"Path to YAML config; missing file means env only (env STEAMGATE_CONFIG)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.App.LogLevel,
			ServiceName: cfg.App.ServiceName,
			Version:     version,
		})
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(loadConfig),
		newSteamIDCmd(),
		newMigrateCmd(loadConfig),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
