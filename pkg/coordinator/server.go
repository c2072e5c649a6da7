// Package coordinator assembles the search engine from configuration and
// exposes the job and campaign operations callers use.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/creatorscout/searchjobs/pkg/config"
	"github.com/creatorscout/searchjobs/pkg/engine"
	"github.com/creatorscout/searchjobs/pkg/event"
	"github.com/creatorscout/searchjobs/pkg/gcp"
	"github.com/creatorscout/searchjobs/pkg/jobstate"
	"github.com/creatorscout/searchjobs/pkg/notify"
	"github.com/creatorscout/searchjobs/pkg/provider"
	"github.com/creatorscout/searchjobs/pkg/queue"
	"github.com/creatorscout/searchjobs/pkg/router"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/store/badgerstore"
	"github.com/creatorscout/searchjobs/pkg/store/fstore"
	"github.com/creatorscout/searchjobs/pkg/store/postgres"
	"github.com/creatorscout/searchjobs/pkg/sweeper"
	"github.com/creatorscout/searchjobs/pkg/timeout"
	"github.com/creatorscout/searchjobs/pkg/watcher"
	"github.com/creatorscout/searchjobs/pkg/worker"
)

// Server owns every long-lived component of a searchd process.
type Server struct {
	Config  *config.Config
	Store   store.Store
	Bus     event.Bus
	Engine  *engine.Engine
	Worker  *worker.Worker
	Watcher *watcher.Watcher
	Sweeper *sweeper.Sweeper
	Service *Service

	gcpClient *gcp.Client
	local     *queue.LocalPublisher
	detach    func()
}

// NewServer builds the components described by cfg. Nothing runs until Start.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{Config: cfg, Bus: event.NewBus()}

	if needsGCP(cfg) {
		var opts []option.ClientOption
		if cfg.GCP.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
		}
		client, err := gcp.NewClient(ctx, cfg.GCP.ProjectID, gcp.Services{
			Firestore: cfg.Store.Driver == "firestore",
			PubSub:    cfg.Queue.Transport == "pubsub",
		}, opts...)
		if err != nil {
			return nil, err
		}
		s.gcpClient = client
	}

	st, err := s.openStore(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Store = st

	publisher, verifier, err := s.openQueue(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	reg := provider.NewBuiltinRegistry(providerClients(cfg.Providers))
	if len(reg.Names()) == 0 {
		log.Warn().Msg("no provider api keys configured, every tick will fail to route")
	}
	rt := router.New(reg)

	s.Engine = engine.New(rt, scheduler.New(scheduler.Config{
		BaseDelay:    cfg.Engine.BaseDelay,
		DelayStep:    cfg.Engine.DelayStep,
		DelayCapRuns: cfg.Engine.DelayCapRuns,
	}),
		engine.WithPolicy(jobstate.Policy{MaxRuns: cfg.Engine.MaxRuns, SufficientFraction: cfg.Engine.SufficientFraction}),
		engine.WithTimeouts(providerTimeouts(cfg.Engine.ProviderTimeout)),
	)

	s.Worker = worker.New(st, s.Engine, publisher, s.Bus,
		worker.WithVerifier(verifier),
		worker.WithTransport(queue.Transport(cfg.Queue.Transport)),
	)
	if s.local != nil {
		s.local.Bind(s.Worker.Deliver)
	}

	s.Watcher = watcher.New(st, newNotifier(cfg.Notify), s.Bus)
	s.Sweeper = sweeper.New(st, s.Worker, publisher, sweeper.Config{
		Schedule:   cfg.Sweeper.Schedule,
		StallAfter: cfg.Sweeper.StallAfter,
		BatchSize:  cfg.Sweeper.BatchSize,
	}).WithCampaignChecker(s.Watcher)
	s.Service = NewService(st, rt, publisher, s.Bus, Limits{
		MaxTarget:  cfg.Engine.MaxTarget,
		JobTimeout: cfg.Engine.JobTimeout,
	})

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("transport", cfg.Queue.Transport).
		Strs("adapters", reg.Names()).
		Msg("search engine assembled")
	return s, nil
}

func needsGCP(cfg *config.Config) bool {
	return cfg.Store.Driver == "firestore" || cfg.Queue.Transport == "pubsub"
}

func (s *Server) openStore(ctx context.Context) (store.Store, error) {
	cfg := s.Config.Store
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxConnections)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.New(pool), nil
	case "firestore":
		return fstore.New(s.gcpClient.FirestoreClient, fstore.WithCollectionPrefix(cfg.CollectionPrefix)), nil
	default:
		return badgerstore.Open(badgerstore.Config{Path: cfg.Path})
	}
}

func (s *Server) openQueue(ctx context.Context) (queue.Publisher, queue.Verifier, error) {
	cfg := s.Config
	switch cfg.Queue.Transport {
	case "pubsub":
		if cfg.GCP.PushEndpoint != "" {
			err := s.gcpClient.EnsurePushSubscription(ctx, gcp.PushConfig{
				Subscription:        cfg.GCP.Subscription,
				Topic:               cfg.GCP.Topic,
				Endpoint:            cfg.GCP.PushEndpoint,
				ServiceAccountEmail: cfg.GCP.ServiceAccount,
				Audience:            cfg.GCP.PushAudience,
				AckDeadline:         cfg.GCP.AckDeadline,
				MinBackoff:          cfg.GCP.MinBackoff,
				MaxBackoff:          cfg.GCP.MaxBackoff,
			})
			if err != nil {
				return nil, nil, err
			}
		}
		var verifier queue.Verifier = queue.NoopVerifier{}
		if cfg.GCP.PushAudience != "" {
			verifier = queue.NewPubSubVerifier(cfg.GCP.PushAudience, cfg.GCP.ServiceAccount)
		} else {
			log.Warn().Msg("gcp.push_audience unset, push deliveries are not authenticated")
		}
		return queue.NewPubSubPublisher(s.gcpClient, cfg.GCP.Topic), verifier, nil

	case "qstash":
		q := cfg.Queue.QStash
		publisher := queue.NewQStashPublisher(queue.QStashConfig{
			BaseURL:  q.URL,
			Token:    q.Token,
			Callback: q.CallbackURL,
			Retries:  q.Retries,
		}, &http.Client{Timeout: 15 * time.Second})
		return publisher, queue.NewQStashVerifier(q.CurrentSigningKey, q.NextSigningKey, q.CallbackURL), nil

	default:
		s.local = queue.NewLocalPublisher()
		return s.local, queue.NoopVerifier{}, nil
	}
}

func providerClients(cfgs map[string]config.ProviderConfig) map[string]*provider.Client {
	clients := make(map[string]*provider.Client)
	for family, pc := range cfgs {
		if pc.APIKey == "" {
			continue
		}
		opts := []provider.ClientOption{provider.WithRateLimit(pc.RateLimit)}
		if pc.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(pc.BaseURL))
		}
		switch {
		case pc.KeyQuery != "":
			opts = append(opts, provider.WithAPIKeyQuery(pc.KeyQuery))
		case pc.KeyHeader != "":
			opts = append(opts, provider.WithAPIKeyHeader(pc.KeyHeader))
		}
		clients[family] = provider.NewClient(family, pc.APIKey, opts...)
	}
	return clients
}

func providerTimeouts(global time.Duration) *timeout.Manager {
	if global <= 0 {
		global = 45 * time.Second
	}
	m := timeout.NewManager(global)
	for name, d := range timeout.OperationTimeouts {
		m.SetOperationTimeout(name, d)
	}
	return m
}

func newNotifier(cfg config.NotifyConfig) notify.Notifier {
	if cfg.Driver == "webhook" {
		return notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookToken, &http.Client{Timeout: 10 * time.Second})
	}
	return notify.LogNotifier{}
}

// Start attaches the completion watcher and starts the sweeper.
func (s *Server) Start() error {
	s.detach = s.Watcher.Attach()
	if s.Config.Sweeper.Enabled {
		if err := s.Sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}
	return nil
}

// Close stops background work and releases every client. Safe on a
// partially built Server.
func (s *Server) Close() error {
	if s.detach != nil {
		s.detach()
	}
	if s.Sweeper != nil && s.Config.Sweeper.Enabled {
		s.Sweeper.Stop()
	}
	if s.local != nil {
		s.local.Close()
	}

	var errs []error
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.gcpClient != nil {
		if err := s.gcpClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing server: %v", errs)
	}
	return nil
}
