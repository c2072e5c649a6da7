// Package scheduler decides whether a job gets another tick and when.
package scheduler

import (
	"time"

	"github.com/creatorscout/searchjobs/pkg/retry"
	"github.com/creatorscout/searchjobs/pkg/types"
)

// Continuation is the command to enqueue one more tick for a job.
// RunCount is the job's run count when the command was issued; a delivery
// carrying an older run count is stale.
type Continuation struct {
	JobID     string        `json:"jobId"`
	RunCount  int           `json:"runCount"`
	Delay     time.Duration `json:"delay"`
	NotBefore time.Time     `json:"notBefore"`

	// RekickedAt is set on continuations that replace a lost one.
	RekickedAt time.Time `json:"rekickedAt,omitzero"`
}

// Config holds the delay policy.
type Config struct {
	BaseDelay    time.Duration
	DelayStep    time.Duration
	DelayCapRuns int
}

// DefaultConfig is base 5s plus 2s per run, flat after 10 runs.
var DefaultConfig = Config{
	BaseDelay:    5 * time.Second,
	DelayStep:    2 * time.Second,
	DelayCapRuns: 10,
}

// Scheduler turns job states into continuation commands.
type Scheduler struct {
	backoff retry.Strategy
}

func New(cfg Config) *Scheduler {
	return &Scheduler{
		backoff: &retry.RampBackoff{
			Base:        cfg.BaseDelay,
			Step:        cfg.DelayStep,
			CapAttempts: cfg.DelayCapRuns,
		},
	}
}

// Delay returns the wait before the tick that follows runCount invocations.
func (s *Scheduler) Delay(runCount int) time.Duration {
	return s.backoff.NextDelay(runCount)
}

// Next returns the continuation for job, or nil when the job is terminal.
func (s *Scheduler) Next(job *types.Job, now time.Time) *Continuation {
	if job == nil || job.Status.IsTerminal() {
		return nil
	}
	delay := s.Delay(job.RunCount)
	return &Continuation{
		JobID:     job.ID,
		RunCount:  job.RunCount,
		Delay:     delay,
		NotBefore: now.Add(delay),
	}
}

// Initial is the first tick of a freshly created job, due immediately.
func Initial(job *types.Job, now time.Time) *Continuation {
	return &Continuation{JobID: job.ID, RunCount: job.RunCount, NotBefore: now}
}

// Rekick replaces the lost continuation of a stalled job. It carries the same
// run count as the lost one and is due immediately.
func Rekick(job *types.Job, now time.Time) *Continuation {
	c := Initial(job, now)
	c.RekickedAt = now
	return c
}
