package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/steamgate/internal/config"
	"github.com/dropDatabas3/steamgate/internal/observability/logger"
	"github.com/dropDatabas3/steamgate/internal/users"
	migrations "github.com/dropDatabas3/steamgate/migrations/postgres"
)

func newMigrateCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the users table migrations to PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Users.DSN
			}
			if dsn == "" {
				return fmt.Errorf("missing DSN (flag --dsn or env USERS_DSN)")
			}

			ctx := cmd.Context()
			repo, err := users.NewPGRepository(ctx, dsn, 1)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := users.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, repo.Pool())
			if err != nil {
				return err
			}
			logger.L().Info("migrations done",
				logger.Any("applied", res.Applied),
				logger.Any("skipped", res.Skipped),
				logger.Duration(res.Duration))
			fmt.Fprintf(cmd.OutOrStdout(), "applied=%v skipped=%v\n", res.Applied, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default users.dsn / USERS_DSN)")
	return cmd
}
