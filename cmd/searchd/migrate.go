package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"

	"github.com/creatorscout/searchjobs/pkg/store/postgres"
)

func migrateCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL connection string",
			Sources: cli.EnvVars("CS_STORE_DATABASE_URL"),
		},
	}

	run := func(apply func(context.Context, *pgxpool.Pool) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v := cmd.String("database-url"); v != "" {
				cfg.Store.DatabaseURL = v
			}
			if cfg.Store.DatabaseURL == "" {
				return fmt.Errorf("database URL is required (set CS_STORE_DATABASE_URL or --database-url)")
			}

			pool, err := postgres.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConnections)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			return apply(ctx, pool)
		}
	}

	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Flags:  flags,
				Action: run(postgres.Migrate),
			},
			{
				Name:   "down",
				Usage:  "Roll back the last migration",
				Flags:  flags,
				Action: run(postgres.MigrateDown),
			},
		},
	}
}
