// Package api serves the job and campaign HTTP API and mounts the queue
// task endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/coordinator"
	"github.com/creatorscout/searchjobs/pkg/worker"
)

type RouterConfig struct {
	Svc       *coordinator.Service
	Worker    *worker.Worker
	JWTSecret string
	JWTIssuer string
	TaskPath  string
	// RequestTimeout bounds every request, task deliveries included.
	RequestTimeout time.Duration
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{Timeout: cfg.RequestTimeout}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	taskPath := cfg.TaskPath
	if taskPath == "" {
		taskPath = "/tasks/search"
	}
	cfg.Worker.Register(e, taskPath)

	v1 := e.Group("/api/v1")
	config := huma.DefaultConfig("Creator Search API", "1.0.0")
	config.Servers = []*huma.Server{{URL: "/api/v1"}}
	config.Info.Description = "Asynchronous creator search jobs"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"BearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "JWT Bearer token whose subject is the user id",
		},
	}

	api := humaecho.NewWithGroup(e, v1, config)
	authMw := Auth(cfg.JWTSecret, cfg.JWTIssuer)
	security := []map[string][]string{{"BearerAuth": {}}}
	h := NewHandlers(cfg.Svc)

	huma.Register(api, huma.Operation{
		OperationID:   "create-campaign",
		Method:        http.MethodPost,
		Path:          "/campaigns",
		Summary:       "Create a campaign",
		Tags:          []string{"Campaigns"},
		Security:      security,
		Middlewares:   huma.Middlewares{authMw},
		DefaultStatus: http.StatusCreated,
	}, h.CreateCampaign)

	huma.Register(api, huma.Operation{
		OperationID: "get-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/{id}",
		Summary:     "Get campaign progress",
		Tags:        []string{"Campaigns"},
		Security:    security,
		Middlewares: huma.Middlewares{authMw},
	}, h.GetCampaign)

	huma.Register(api, huma.Operation{
		OperationID: "list-campaign-jobs",
		Method:      http.MethodGet,
		Path:        "/campaigns/{id}/jobs",
		Summary:     "List the jobs of a campaign",
		Tags:        []string{"Campaigns"},
		Security:    security,
		Middlewares: huma.Middlewares{authMw},
	}, h.ListCampaignJobs)

	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a search job",
		Tags:          []string{"Jobs"},
		Security:      security,
		Middlewares:   huma.Middlewares{authMw},
		DefaultStatus: http.StatusAccepted,
	}, h.SubmitJob)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
		Security:    security,
		Middlewares: huma.Middlewares{authMw},
	}, h.GetJob)

	huma.Register(api, huma.Operation{
		OperationID: "get-job-results",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/results",
		Summary:     "List the result batches of a job",
		Tags:        []string{"Jobs"},
		Security:    security,
		Middlewares: huma.Middlewares{authMw},
	}, h.GetJobResults)

	huma.Register(api, huma.Operation{
		OperationID: "get-usage",
		Method:      http.MethodGet,
		Path:        "/usage",
		Summary:     "Get the caller's result usage",
		Tags:        []string{"Usage"},
		Security:    security,
		Middlewares: huma.Middlewares{authMw},
	}, h.GetUsage)
}
