package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/creatorscout/searchjobs/pkg/api"
	"github.com/creatorscout/searchjobs/pkg/config"
	"github.com/creatorscout/searchjobs/pkg/coordinator"
)

type serverHandle struct {
	*coordinator.Server
}

func newServerHandle(ctx context.Context, cfg *config.Config) (*serverHandle, error) {
	srv, err := coordinator.NewServer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &serverHandle{Server: srv}, nil
}

func (h *serverHandle) close() {
	if err := h.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the task endpoint and the sweeper",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withServer(ctx, cmd, func(cfg *config.Config, srv *serverHandle) error {
				return serve(cfg, srv)
			})
		},
	}
}

func serve(cfg *config.Config, srv *serverHandle) error {
	if cfg.API.JWTSecret == "" {
		log.Warn().Msg("api.jwt_secret is empty; every API request will be rejected")
	}
	if err := srv.Start(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	api.SetupRouter(e, api.RouterConfig{
		Svc:            srv.Service,
		Worker:         srv.Worker,
		JWTSecret:      cfg.API.JWTSecret,
		JWTIssuer:      cfg.API.JWTIssuer,
		TaskPath:       cfg.Server.TaskPath,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		log.Info().Str("addr", addr).Str("transport", cfg.Queue.Transport).Str("store", cfg.Store.Driver).Msg("searchd listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
