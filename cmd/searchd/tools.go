package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/creatorscout/searchjobs/pkg/api"
	"github.com/creatorscout/searchjobs/pkg/config"
	"github.com/creatorscout/searchjobs/pkg/mcp"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve campaign and job tools over MCP stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Usage:    "User the tools act as unless a call names another",
				Required: true,
				Sources:  cli.EnvVars("CS_MCP_USER"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withServer(ctx, cmd, func(cfg *config.Config, srv *serverHandle) error {
				if err := srv.Start(); err != nil {
					return err
				}
				return mcp.NewMCPServer(srv.Service, cmd.String("user")).Start(ctx)
			})
		},
	}
}

func tickCmd() *cli.Command {
	return &cli.Command{
		Name:      "tick",
		Usage:     "Advance one job by a single tick, ignoring its delivery schedule",
		ArgsUsage: "<job-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("job id is required")
			}
			return withServer(ctx, cmd, func(cfg *config.Config, srv *serverHandle) error {
				res, err := srv.Worker.TickJob(ctx, id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue an API bearer token for a user",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			user := cmd.Args().First()
			if user == "" {
				return fmt.Errorf("user id is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return fmt.Errorf("api.jwt_secret is not configured")
			}
			token, err := api.IssueToken(cfg.API.JWTSecret, cfg.API.JWTIssuer, user, cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
