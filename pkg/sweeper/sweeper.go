// Package sweeper periodically enforces job deadlines, re-kicks chains
// whose continuation was lost and retries missed campaign notifications.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/creatorscout/searchjobs/pkg/jobstate"
	"github.com/creatorscout/searchjobs/pkg/queue"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/store"
	"github.com/creatorscout/searchjobs/pkg/worker"
)

// Ticker runs one tick for a job. Implemented by *worker.Worker.
type Ticker interface {
	TickJob(ctx context.Context, jobID string) (*worker.Result, error)
}

// CampaignChecker notifies campaigns that completed without a notification.
// Implemented by *watcher.Watcher.
type CampaignChecker interface {
	CheckPending(ctx context.Context) (int, error)
}

// Config controls the sweep.
type Config struct {
	// Schedule is a cron expression with a seconds field.
	Schedule string
	// StallAfter is how long an unfinished job may sit untouched before it
	// gets a fresh continuation.
	StallAfter time.Duration
	// BatchSize caps the jobs acted on per sweep. Zero means no cap.
	BatchSize int
	// RunTimeout bounds one sweep.
	RunTimeout time.Duration
}

var DefaultConfig = Config{
	Schedule:   "*/30 * * * * *",
	StallAfter: 5 * time.Minute,
	BatchSize:  100,
	RunTimeout: 2 * time.Minute,
}

// Stats summarizes one sweep.
type Stats struct {
	Scanned  int
	Expired  int
	Rekicked int
	Notified int
	Errors   int
	Duration time.Duration
}

// Sweeper finds expired and stalled jobs.
type Sweeper struct {
	store     store.Store
	ticker    Ticker
	publisher queue.Publisher
	campaigns CampaignChecker
	cfg       Config
	cron      *cron.Cron
	now       func() time.Time
}

func New(s store.Store, t Ticker, p queue.Publisher, cfg Config) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig.Schedule
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = DefaultConfig.StallAfter
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig.RunTimeout
	}
	return &Sweeper{
		store:     s,
		ticker:    t,
		publisher: p,
		cfg:       cfg,
		cron:      cron.New(cron.WithSeconds()),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// WithCampaignChecker makes each sweep retry pending campaign notifications.
func (s *Sweeper) WithCampaignChecker(c CampaignChecker) *Sweeper {
	s.campaigns = c
	return s
}

// Start begins the scheduled sweeps.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, s.run)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", s.cfg.Schedule).Dur("stall_after", s.cfg.StallAfter).Msg("sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	defer cancel()

	stats, err := s.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
		return
	}
	if stats.Expired > 0 || stats.Rekicked > 0 || stats.Notified > 0 || stats.Errors > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("expired", stats.Expired).
			Int("rekicked", stats.Rekicked).
			Int("notified", stats.Notified).
			Int("errors", stats.Errors).
			Dur("duration", stats.Duration).
			Msg("sweep completed")
	}
}

// Sweep drives expired jobs through a tick, which times them out, and
// republishes a continuation for jobs idle longer than StallAfter. It then
// re-evaluates campaigns whose notification is still pending.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	start := s.now()
	var stats Stats

	jobs, err := s.store.ListUnfinishedJobs(ctx)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(jobs)

	for _, job := range jobs {
		if s.cfg.BatchSize > 0 && stats.Expired+stats.Rekicked >= s.cfg.BatchSize {
			break
		}
		if ctx.Err() != nil {
			break
		}

		now := s.now()
		switch {
		case jobstate.Expired(job, now):
			if _, err := s.ticker.TickJob(ctx, job.ID); err != nil {
				log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to expire job")
				stats.Errors++
				continue
			}
			stats.Expired++

		case now.Sub(job.UpdatedAt) >= s.cfg.StallAfter:
			if err := s.publisher.Publish(ctx, *scheduler.Rekick(job, now)); err != nil {
				log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to re-kick stalled job")
				stats.Errors++
				continue
			}
			log.Info().
				Str("job_id", job.ID).
				Int("run_count", job.RunCount).
				Time("updated_at", job.UpdatedAt).
				Msg("re-kicked stalled job")
			stats.Rekicked++
		}
	}

	if s.campaigns != nil && ctx.Err() == nil {
		notified, err := s.campaigns.CheckPending(ctx)
		stats.Notified = notified
		if err != nil {
			log.Warn().Err(err).Msg("pending campaign check failed")
			stats.Errors++
		}
	}

	stats.Duration = s.now().Sub(start)
	return stats, nil
}
