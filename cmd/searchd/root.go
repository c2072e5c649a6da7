package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/creatorscout/searchjobs/pkg/config"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "searchd",
		Version: version,
		Usage:   "Asynchronous creator search jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("CS_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides logging.level",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			mcpCmd(),
			tickCmd(),
			tokenCmd(),
		},
	}
}

// loadConfig reads and validates the config, then applies its logging section.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Debug().Str("level", cfg.Level).Msg("log level configured")
}

// withServer builds the components for one-shot commands and closes them after fn.
func withServer(ctx context.Context, cmd *cli.Command, fn func(cfg *config.Config, srv *serverHandle) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	srv, err := newServerHandle(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.close()
	return fn(cfg, srv)
}
